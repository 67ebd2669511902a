package httpapi

import (
	"net/http"
	"strings"

	"econlab.org/internal/auth"
	"econlab.org/internal/obs"
)

// extractBearerToken pulls the token out of an Authorization header.
func extractBearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):]), true
	}
	return "", false
}

// tenantID reads the tenant scope of the request. Empty means the
// service default.
func tenantID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Tenant-Id"))
}

// RequireToken authenticates the bearer token and attaches the user to
// the request context. Missing or bad tokens fail with 401.
func (a *API) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := extractBearerToken(r.Header.Get("Authorization"))
		if !ok {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		ctx := auth.ContextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuth attaches the user when a valid token is present and
// passes the request through anonymously otherwise.
func (a *API) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token, ok := extractBearerToken(r.Header.Get("Authorization")); ok {
			if user, err := a.auth.Authenticate(r.Context(), token); err == nil {
				r = r.WithContext(auth.ContextWithUser(r.Context(), user))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin allows only the admin role. The test role does not pass:
// its grant bypass applies to country checks, not administration.
func (a *API) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.UserFromContext(r.Context())
		if !ok {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if user.Role != auth.RoleAdmin {
			respondError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireCountryAccess resolves the {code} path segment against the
// caller's country grants and attaches the resolved access level.
func (a *API) RequireCountryAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.UserFromContext(r.Context())
		if !ok {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		country := strings.TrimSpace(r.PathValue("code"))
		if country == "" {
			country = strings.TrimSpace(r.URL.Query().Get("country"))
		}
		if country == "" {
			respondError(w, http.StatusBadRequest, "country code is required")
			return
		}
		decision, err := a.auth.CheckCountryAccess(r.Context(), user.ID, country)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		obs.ObserveAccessDecision(string(decision.Reason))
		if !decision.HasAccess {
			respondDenied(w, decision.Reason, "no access to country "+country)
			return
		}
		ctx := auth.ContextWithAccessLevel(r.Context(), decision.Level)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireWriteAccess rejects mutating requests made under a readonly
// grant. Runs after RequireCountryAccess.
func (a *API) RequireWriteAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		level, ok := auth.AccessLevelFromContext(r.Context())
		if !ok {
			respondError(w, http.StatusForbidden, "access level not resolved")
			return
		}
		if level == auth.AccessReadonly {
			obs.ObserveAccessDecision(string(auth.ReasonReadonly))
			respondDenied(w, auth.ReasonReadonly, "write access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
