package auth

import "context"

// NewUser carries the fields persisted at registration. The password is
// already hashed by the time it reaches a store.
type NewUser struct {
	Username     string
	Email        string
	PasswordHash string
	Level        string
	Role         string
	HomeCountry  string
	TenantID     string
	Metadata     map[string]any
}

// UserUpdate is the mutable field subset for profile updates. Nil fields
// are left untouched.
type UserUpdate struct {
	Username *string
	Level    *string
}

// Store is the storage adapter contract implemented once per backing
// engine. Both engines must behave identically: duplicate emails are
// rejected by the engine's native unique-constraint semantics (never
// check-then-insert), absent rows map to ErrNotFound, and every
// operation is safe under concurrent invocation.
//
// Lookups that take a tenantID treat an empty value as "any tenant";
// the service passes the concrete tenant wherever one is in scope.
type Store interface {
	// Init creates the schema. It is idempotent: re-running it against
	// an initialized store is a no-op, never an error.
	Init(ctx context.Context) error

	CreateUser(ctx context.Context, nu NewUser) (*User, error)
	FindUserByEmail(ctx context.Context, email, tenantID string) (*User, error)
	FindUserByID(ctx context.Context, id, tenantID string) (*User, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate, tenantID string) (*User, error)

	// RecordLogin stamps the last-login time. Callers treat failure as
	// non-fatal.
	RecordLogin(ctx context.Context, id string) error

	// ListCountryGrants returns the user's active grants only.
	ListCountryGrants(ctx context.Context, userID string) ([]CountryGrant, error)

	// UpsertCountryGrant replaces any existing active grant for the same
	// (user, country) pair atomically rather than creating a duplicate.
	UpsertCountryGrant(ctx context.Context, userID, country, level, grantedBy string) (*CountryGrant, error)

	Ping(ctx context.Context) error
	Close() error
}
