package auth

import (
	"strings"
	"time"
)

// Experience levels a user can self-report.
const (
	LevelBeginner     = "beginner"
	LevelIntermediate = "intermediate"
	LevelExpert       = "expert"
)

// Roles. Admin and test accounts bypass per-country grant checks entirely.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
	RoleTest  = "test"
)

// Access levels carried by a country grant.
const (
	AccessFull     = "full"
	AccessReadonly = "readonly"
)

// User is an account in one tenant of the simulation platform.
// (Email, TenantID) is unique; accounts are deactivated, never deleted.
type User struct {
	ID           string         `json:"id"`
	Username     string         `json:"username"`
	Email        string         `json:"email"`
	PasswordHash string         `json:"-"`
	Level        string         `json:"level"`
	Role         string         `json:"role"`
	HomeCountry  string         `json:"home_country,omitempty"`
	TenantID     string         `json:"tenant_id"`
	Active       bool           `json:"active"`
	CreatedAt    time.Time      `json:"created_at"`
	LastLoginAt  *time.Time     `json:"last_login_at,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// CountryGrant authorizes a user to act on one country's data.
// At most one active grant exists per (user, country); a re-grant
// supersedes the previous one instead of adding a row.
type CountryGrant struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Country   string    `json:"country"`
	Level     string    `json:"level"`
	GrantedBy string    `json:"granted_by,omitempty"`
	GrantedAt time.Time `json:"granted_at"`
	Active    bool      `json:"active"`
}

// ValidRole reports whether role is one of the supported roles.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAdmin, RoleTest:
		return true
	default:
		return false
	}
}

// ValidLevel reports whether level is a supported experience level.
func ValidLevel(level string) bool {
	switch level {
	case LevelBeginner, LevelIntermediate, LevelExpert:
		return true
	default:
		return false
	}
}

// ValidAccessLevel reports whether level is a supported grant access level.
func ValidAccessLevel(level string) bool {
	switch level {
	case AccessFull, AccessReadonly:
		return true
	default:
		return false
	}
}

// BypassesGrants reports whether the role grants access to every country
// without consulting the grants table.
func BypassesGrants(role string) bool {
	switch strings.TrimSpace(strings.ToLower(role)) {
	case RoleAdmin, RoleTest:
		return true
	default:
		return false
	}
}
