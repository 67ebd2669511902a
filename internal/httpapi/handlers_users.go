package httpapi

import (
	"net/http"

	"econlab.org/internal/audit"
	"econlab.org/internal/auth"
)

// userScope decides whether the caller may touch the target profile and
// which tenant scope applies. Admins cross tenants; everyone else is
// limited to their own profile within their own tenant.
func userScope(principal *auth.User, targetID string) (tenant string, ok bool) {
	if principal.Role == auth.RoleAdmin {
		return "", true
	}
	if principal.ID == targetID {
		return principal.TenantID, true
	}
	return "", false
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	id := r.PathValue("id")
	tenant, allowed := userScope(principal, id)
	if !allowed {
		respondError(w, http.StatusForbidden, "access denied")
		return
	}
	user, err := a.auth.GetUser(r.Context(), id, tenant)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, user)
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	id := r.PathValue("id")
	tenant, allowed := userScope(principal, id)
	if !allowed {
		respondError(w, http.StatusForbidden, "access denied")
		return
	}
	var fields map[string]any
	if err := decodeJSON(r, &fields); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.auth.UpdateUser(r.Context(), id, fields, tenant)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.user.updated", map[string]any{
		"user_id": user.ID,
	})
	respondData(w, http.StatusOK, user)
}
