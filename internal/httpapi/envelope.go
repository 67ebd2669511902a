package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"econlab.org/internal/auth"
	"econlab.org/internal/econ"
)

// envelope is the uniform response shape of every endpoint.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondData(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, envelope{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, envelope{Success: false, Error: msg})
}

func respondDenied(w http.ResponseWriter, reason auth.AccessReason, msg string) {
	writeJSON(w, http.StatusForbidden, envelope{Success: false, Error: msg, Reason: string(reason)})
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("malformed request body")
	}
	return nil
}

// respondServiceError maps the service error taxonomy onto status codes.
// Unknown errors collapse to a generic 500 so storage detail never
// reaches a caller.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, auth.ErrNoValidUpdates),
		errors.Is(err, econ.ErrInvalidIndicator):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, auth.ErrInvalidCredentials.Error())
	case errors.Is(err, auth.ErrInvalidToken):
		respondError(w, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrAccessDenied):
		respondError(w, http.StatusForbidden, "access denied")
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, econ.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, auth.ErrDuplicateEmail):
		respondError(w, http.StatusConflict, "email already registered")
	case errors.Is(err, auth.ErrUnavailable):
		respondError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
