// Package httpapi is the HTTP surface of the service: a uniform JSON
// envelope over the auth service, the request guard middleware, and the
// country-scoped simulation readout.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"econlab.org/internal/auth"
	"econlab.org/internal/econ"
	"econlab.org/internal/obs"
)

// Deps are the collaborators the API drives.
type Deps struct {
	Auth *auth.Service
	Econ econ.Service
	// Probe checks storage readiness for /readyz.
	Probe func(ctx context.Context) error
}

// Options tune the outer middleware.
type Options struct {
	RateBurst  int
	RatePerSec int
	MaxBody    int64
}

// API is the HTTP layer.
type API struct {
	mux     *http.ServeMux
	auth    *auth.Service
	econ    econ.Service
	probe   func(ctx context.Context) error
	version string
	opts    Options
}

// New wires routes onto a fresh mux.
func New(deps Deps, version string, opts Options) *API {
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 10
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = 1 << 20
	}
	a := &API{
		mux:     http.NewServeMux(),
		auth:    deps.Auth,
		econ:    deps.Econ,
		probe:   deps.Probe,
		version: version,
		opts:    opts,
	}

	a.mux.HandleFunc("GET /healthz", a.healthz)
	a.mux.HandleFunc("GET /readyz", a.ready)
	a.mux.Handle("GET /v1/info", a.OptionalAuth(http.HandlerFunc(a.info)))
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("POST /v1/auth/login", a.handleLogin)
	a.mux.Handle("GET /v1/auth/me", a.RequireToken(http.HandlerFunc(a.handleMe)))

	a.mux.Handle("GET /v1/users/{id}", a.RequireToken(http.HandlerFunc(a.handleGetUser)))
	a.mux.Handle("PATCH /v1/users/{id}", a.RequireToken(http.HandlerFunc(a.handleUpdateUser)))

	a.mux.Handle("POST /v1/admin/grants",
		a.RequireToken(a.RequireAdmin(http.HandlerFunc(a.handleAssignGrant))))

	a.mux.Handle("GET /v1/countries/{code}/indicators",
		a.RequireToken(a.RequireCountryAccess(http.HandlerFunc(a.handleListIndicators))))
	a.mux.Handle("POST /v1/countries/{code}/indicators",
		a.RequireToken(a.RequireCountryAccess(a.RequireWriteAccess(http.HandlerFunc(a.handleRecordIndicator)))))

	return a
}

// Handler returns the mux wrapped with the full middleware chain.
func (a *API) Handler() http.Handler {
	h := obs.Instrument(a.mux)
	h = MaxBodyBytes(h, a.opts.MaxBody)
	h = RateLimit(h, a.opts.RateBurst, a.opts.RatePerSec)
	h = RequestID(h)
	h = Logging(h)
	return SecurityHeaders(h)
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "econlab-api",
		"version": a.version,
	})
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	if a.probe != nil {
		if err := a.probe(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, "storage not ready")
			return
		}
	}
	respondData(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) info(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{
		"name":    "econlab-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	}
	if user, ok := auth.UserFromContext(r.Context()); ok {
		data["user_id"] = user.ID
	}
	respondData(w, http.StatusOK, data)
}
