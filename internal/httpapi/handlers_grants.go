package httpapi

import (
	"net/http"

	"econlab.org/internal/audit"
	"econlab.org/internal/auth"
)

type assignGrantRequest struct {
	UserID  string `json:"user_id"`
	Country string `json:"country"`
	Level   string `json:"access_level,omitempty"`
}

func (a *API) handleAssignGrant(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	var req assignGrantRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	grant, err := a.auth.AssignCountry(r.Context(), req.UserID, req.Country, req.Level, principal.ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.grant.assigned", map[string]any{
		"user_id": grant.UserID,
		"country": grant.Country,
		"level":   grant.Level,
	})
	respondData(w, http.StatusCreated, grant)
}
