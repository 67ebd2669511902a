package httpapi

import (
	"net/http"
	"time"

	"econlab.org/internal/audit"
	"econlab.org/internal/auth"
	"econlab.org/internal/obs"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Level    string `json:"level,omitempty"`
	Role     string `json:"role,omitempty"`
	Country  string `json:"assigned_country,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User      *auth.User `json:"user"`
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := a.auth.Register(r.Context(), auth.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Level:    req.Level,
		Role:     req.Role,
		Country:  req.Country,
		TenantID: tenantID(r),
	})
	if err != nil {
		obs.ObserveAuthAttempt("register", "failure")
		respondServiceError(w, err)
		return
	}
	obs.ObserveAuthAttempt("register", "success")
	_ = audit.LogEvent(r.Context(), "auth.user.registered", map[string]any{
		"user_id": sess.User.ID,
		"email":   sess.User.Email,
		"tenant":  sess.User.TenantID,
	})
	respondData(w, http.StatusCreated, sessionResponse{
		User:      sess.User,
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := a.auth.Login(r.Context(), req.Email, req.Password, tenantID(r))
	if err != nil {
		obs.ObserveAuthAttempt("login", "failure")
		respondServiceError(w, err)
		return
	}
	obs.ObserveAuthAttempt("login", "success")
	_ = audit.LogEvent(r.Context(), "auth.user.login", map[string]any{
		"user_id": sess.User.ID,
		"tenant":  sess.User.TenantID,
	})
	respondData(w, http.StatusOK, sessionResponse{
		User:      sess.User,
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	respondData(w, http.StatusOK, user)
}
