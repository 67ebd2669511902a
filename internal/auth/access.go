package auth

import (
	"context"
	"fmt"
	"strings"
)

// AccessReason is the machine-readable reason attached to a country
// access decision.
type AccessReason string

const (
	ReasonAdminAccess    AccessReason = "admin_access"
	ReasonAssignedAccess AccessReason = "assigned_access"
	ReasonNotAssigned    AccessReason = "not_assigned"
	ReasonReadonly       AccessReason = "readonly_violation"
)

// AccessDecision is the outcome of a country access check. Level is
// empty when access is denied.
type AccessDecision struct {
	HasAccess bool         `json:"has_access"`
	Level     string       `json:"access_level,omitempty"`
	Reason    AccessReason `json:"reason"`
}

// CheckCountryAccess decides whether a user may act on a country and at
// what level. The order is load-bearing:
//
//  1. admin/test roles short-circuit to full access before any grant
//     lookup (a deliberate bypass, not a fallback);
//  2. an active grant matching the country wins;
//  3. the legacy single home-country field grants full access only when
//     the user has no active grants at all. Once grants exist they are
//     authoritative, even over a stale matching home country;
//  4. otherwise access is denied.
func (s *Service) CheckCountryAccess(ctx context.Context, userID, country string) (AccessDecision, error) {
	userID = strings.TrimSpace(userID)
	country = strings.TrimSpace(country)
	if userID == "" || country == "" {
		return AccessDecision{}, fmt.Errorf("%w: user id and country are required", ErrInvalidInput)
	}

	userCtx, cancel := s.storeCtx(ctx)
	user, err := s.store.FindUserByID(userCtx, userID, "")
	cancel()
	if err != nil {
		return AccessDecision{}, s.storeErr(err)
	}

	if BypassesGrants(user.Role) {
		return AccessDecision{HasAccess: true, Level: AccessFull, Reason: ReasonAdminAccess}, nil
	}

	grantCtx, cancel := s.storeCtx(ctx)
	grants, err := s.store.ListCountryGrants(grantCtx, userID)
	cancel()
	if err != nil {
		return AccessDecision{}, s.storeErr(err)
	}

	for _, g := range grants {
		if g.Country == country {
			return AccessDecision{HasAccess: true, Level: g.Level, Reason: ReasonAssignedAccess}, nil
		}
	}

	if len(grants) == 0 && user.HomeCountry != "" && user.HomeCountry == country {
		return AccessDecision{HasAccess: true, Level: AccessFull, Reason: ReasonAssignedAccess}, nil
	}

	return AccessDecision{HasAccess: false, Reason: ReasonNotAssigned}, nil
}
