package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"econlab.org/internal/auth"
	"econlab.org/internal/store/sqlite"
)

type testEnv struct {
	handler http.Handler
	svc     *auth.Service
	store   *sqlite.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	tokens, err := auth.NewTokenManager("test-secret-key", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	svc, err := auth.NewService(st, tokens, auth.WithBcryptCost(4))
	if err != nil {
		t.Fatal(err)
	}
	api := New(Deps{Auth: svc, Econ: st, Probe: st.Ping}, "test", Options{RateBurst: 1000, RatePerSec: 1000})
	return &testEnv{handler: api.Handler(), svc: svc, store: st}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: non-envelope response %q", method, path, rec.Body.String())
	}
	return rec, env
}

func (e *testEnv) registerUser(t *testing.T, username, email, role string) (*auth.Session, string) {
	t.Helper()
	sess, err := e.svc.Register(context.Background(), auth.RegisterInput{
		Username: username,
		Email:    email,
		Password: "s3cret-pw",
		Role:     role,
	})
	if err != nil {
		t.Fatal(err)
	}
	return sess, sess.Token
}

func dataAs(t *testing.T, env envelope, v any) {
	t.Helper()
	raw, err := json.Marshal(env.Data)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatal(err)
	}
}

func TestRegisterLoginMe(t *testing.T) {
	e := newTestEnv(t)

	rec, env := e.do(t, http.MethodPost, "/v1/auth/register", map[string]any{
		"username": "ada",
		"email":    "ada@example.edu",
		"password": "s3cret-pw",
	}, "")
	if rec.Code != http.StatusCreated || !env.Success {
		t.Fatalf("register: code=%d env=%+v", rec.Code, env)
	}
	var sess sessionResponse
	dataAs(t, env, &sess)
	if sess.Token == "" || sess.User.Email != "ada@example.edu" {
		t.Fatalf("session = %+v", sess)
	}

	rec, env = e.do(t, http.MethodPost, "/v1/auth/login", map[string]any{
		"email":    "ada@example.edu",
		"password": "s3cret-pw",
	}, "")
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("login: code=%d env=%+v", rec.Code, env)
	}

	rec, env = e.do(t, http.MethodGet, "/v1/auth/me", nil, sess.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: code=%d", rec.Code)
	}
	var me auth.User
	dataAs(t, env, &me)
	if me.ID != sess.User.ID {
		t.Errorf("me resolved %q, want %q", me.ID, sess.User.ID)
	}

	rec, env = e.do(t, http.MethodGet, "/v1/auth/me", nil, "bogus-token")
	if rec.Code != http.StatusUnauthorized || env.Success {
		t.Errorf("bogus token: code=%d env=%+v", rec.Code, env)
	}
	rec, _ = e.do(t, http.MethodGet, "/v1/auth/me", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: code=%d", rec.Code)
	}
}

func TestRegisterRejections(t *testing.T) {
	e := newTestEnv(t)

	rec, env := e.do(t, http.MethodPost, "/v1/auth/register", map[string]any{
		"username": "ada",
		"email":    "not-an-email",
		"password": "s3cret-pw",
	}, "")
	if rec.Code != http.StatusBadRequest || env.Success {
		t.Errorf("bad email: code=%d env=%+v", rec.Code, env)
	}

	body := map[string]any{"username": "ada", "email": "ada@example.edu", "password": "s3cret-pw"}
	if rec, _ := e.do(t, http.MethodPost, "/v1/auth/register", body, ""); rec.Code != http.StatusCreated {
		t.Fatalf("first register: code=%d", rec.Code)
	}
	rec, env = e.do(t, http.MethodPost, "/v1/auth/register", body, "")
	if rec.Code != http.StatusConflict || env.Success {
		t.Errorf("duplicate: code=%d env=%+v", rec.Code, env)
	}
}

func TestLoginFailureIsOpaque(t *testing.T) {
	e := newTestEnv(t)
	e.registerUser(t, "ada", "ada@example.edu", "")

	rec, wrongPw := e.do(t, http.MethodPost, "/v1/auth/login", map[string]any{
		"email": "ada@example.edu", "password": "wrong",
	}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: code=%d", rec.Code)
	}
	rec, unknown := e.do(t, http.MethodPost, "/v1/auth/login", map[string]any{
		"email": "nobody@example.edu", "password": "s3cret-pw",
	}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown email: code=%d", rec.Code)
	}
	if wrongPw.Error != unknown.Error {
		t.Errorf("failure messages differ: %q vs %q", wrongPw.Error, unknown.Error)
	}
}

func TestUserEndpointsOwnership(t *testing.T) {
	e := newTestEnv(t)
	adaSess, adaToken := e.registerUser(t, "ada", "ada@example.edu", "")
	bobSess, bobToken := e.registerUser(t, "bob", "bob@example.edu", "")
	_, adminToken := e.registerUser(t, "root", "root@example.edu", auth.RoleAdmin)

	if rec, _ := e.do(t, http.MethodGet, "/v1/users/"+adaSess.User.ID, nil, adaToken); rec.Code != http.StatusOK {
		t.Errorf("self read: code=%d", rec.Code)
	}
	if rec, _ := e.do(t, http.MethodGet, "/v1/users/"+bobSess.User.ID, nil, adaToken); rec.Code != http.StatusForbidden {
		t.Errorf("cross-user read: code=%d, want 403", rec.Code)
	}
	if rec, _ := e.do(t, http.MethodGet, "/v1/users/"+bobSess.User.ID, nil, adminToken); rec.Code != http.StatusOK {
		t.Errorf("admin read: code=%d", rec.Code)
	}

	rec, env := e.do(t, http.MethodPatch, "/v1/users/"+bobSess.User.ID, map[string]any{"username": "bobby"}, bobToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("self patch: code=%d env=%+v", rec.Code, env)
	}
	var updated auth.User
	dataAs(t, env, &updated)
	if updated.Username != "bobby" {
		t.Errorf("username = %q", updated.Username)
	}

	rec, _ = e.do(t, http.MethodPatch, "/v1/users/"+bobSess.User.ID, map[string]any{"role": "admin"}, bobToken)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("disallowed-only patch: code=%d, want 400", rec.Code)
	}
}

func TestAdminGrantEndpoint(t *testing.T) {
	e := newTestEnv(t)
	adaSess, adaToken := e.registerUser(t, "ada", "ada@example.edu", "")
	_, adminToken := e.registerUser(t, "root", "root@example.edu", auth.RoleAdmin)

	body := map[string]any{"user_id": adaSess.User.ID, "country": "bra", "access_level": "readonly"}
	if rec, _ := e.do(t, http.MethodPost, "/v1/admin/grants", body, adaToken); rec.Code != http.StatusForbidden {
		t.Errorf("non-admin grant: code=%d, want 403", rec.Code)
	}

	rec, env := e.do(t, http.MethodPost, "/v1/admin/grants", body, adminToken)
	if rec.Code != http.StatusCreated {
		t.Fatalf("admin grant: code=%d env=%+v", rec.Code, env)
	}
	var grant auth.CountryGrant
	dataAs(t, env, &grant)
	if grant.Country != "bra" || grant.Level != auth.AccessReadonly {
		t.Errorf("grant = %+v", grant)
	}
}

func TestCountryGuard(t *testing.T) {
	e := newTestEnv(t)
	adaSess, adaToken := e.registerUser(t, "ada", "ada@example.edu", "")
	_, adminToken := e.registerUser(t, "root", "root@example.edu", auth.RoleAdmin)

	if _, err := e.svc.AssignCountry(context.Background(), adaSess.User.ID, "bra", auth.AccessReadonly, ""); err != nil {
		t.Fatal(err)
	}

	if rec, _ := e.do(t, http.MethodGet, "/v1/countries/bra/indicators", nil, adaToken); rec.Code != http.StatusOK {
		t.Errorf("granted read: code=%d", rec.Code)
	}

	rec, env := e.do(t, http.MethodGet, "/v1/countries/jpn/indicators", nil, adaToken)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("ungranted read: code=%d", rec.Code)
	}
	if env.Reason != string(auth.ReasonNotAssigned) {
		t.Errorf("reason = %q, want not_assigned", env.Reason)
	}

	rec, env = e.do(t, http.MethodPost, "/v1/countries/bra/indicators", map[string]any{
		"name": "gdp", "period": "2026-Q1", "value": 1.5,
	}, adaToken)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("readonly write: code=%d", rec.Code)
	}
	if env.Reason != string(auth.ReasonReadonly) {
		t.Errorf("reason = %q, want readonly_violation", env.Reason)
	}

	rec, _ = e.do(t, http.MethodPost, "/v1/countries/bra/indicators", map[string]any{
		"name": "gdp", "period": "2026-Q1", "value": 1.5,
	}, adminToken)
	if rec.Code != http.StatusCreated {
		t.Errorf("admin write: code=%d", rec.Code)
	}

	if rec, _ := e.do(t, http.MethodGet, "/v1/countries/bra/indicators", nil, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous read: code=%d", rec.Code)
	}
}

func TestInfoOptionalAuth(t *testing.T) {
	e := newTestEnv(t)
	adaSess, adaToken := e.registerUser(t, "ada", "ada@example.edu", "")

	rec, env := e.do(t, http.MethodGet, "/v1/info", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("anonymous info: code=%d", rec.Code)
	}
	var anon map[string]any
	dataAs(t, env, &anon)
	if _, ok := anon["user_id"]; ok {
		t.Error("anonymous info carries a user id")
	}

	// An invalid token degrades to anonymous instead of failing.
	if rec, _ := e.do(t, http.MethodGet, "/v1/info", nil, "bogus-token"); rec.Code != http.StatusOK {
		t.Errorf("bogus-token info: code=%d", rec.Code)
	}

	_, env = e.do(t, http.MethodGet, "/v1/info", nil, adaToken)
	var authed map[string]any
	dataAs(t, env, &authed)
	if authed["user_id"] != adaSess.User.ID {
		t.Errorf("user_id = %v, want %q", authed["user_id"], adaSess.User.ID)
	}
}

func TestHealthAndReady(t *testing.T) {
	e := newTestEnv(t)
	if rec, _ := e.do(t, http.MethodGet, "/healthz", nil, ""); rec.Code != http.StatusOK {
		t.Errorf("healthz: code=%d", rec.Code)
	}
	if rec, _ := e.do(t, http.MethodGet, "/readyz", nil, ""); rec.Code != http.StatusOK {
		t.Errorf("readyz: code=%d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	e := newTestEnv(t)
	api := New(Deps{Auth: e.svc, Econ: e.store, Probe: e.store.Ping}, "test", Options{RateBurst: 1, RatePerSec: 1})
	limited := testEnv{handler: api.Handler(), svc: e.svc, store: e.store}

	if rec, _ := limited.do(t, http.MethodGet, "/healthz", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("first request: code=%d", rec.Code)
	}
	if rec, _ := limited.do(t, http.MethodGet, "/healthz", nil, ""); rec.Code != http.StatusTooManyRequests {
		t.Errorf("burst exceeded: code=%d, want 429", rec.Code)
	}
}
