package auth_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"econlab.org/internal/auth"
	"econlab.org/internal/store/sqlite"
)

// newTestService wires the service to a throwaway embedded store so the
// full registration/login path runs against real constraint semantics.
func newTestService(t *testing.T, opts ...auth.ServiceOption) (*auth.Service, *sqlite.Store) {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "auth.db"))
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
	opts = append([]auth.ServiceOption{auth.WithBcryptCost(4)}, opts...)
	svc, err := auth.NewService(st, tokens, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return svc, st
}

func register(t *testing.T, svc *auth.Service, in auth.RegisterInput) *auth.Session {
	t.Helper()
	if in.Password == "" {
		in.Password = "s3cret-pw"
	}
	sess, err := svc.Register(context.Background(), in)
	if err != nil {
		t.Fatalf("Register(%s): %v", in.Email, err)
	}
	return sess
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sess := register(t, svc, auth.RegisterInput{
		Username: "ada",
		Email:    "Ada@Example.EDU",
		Country:  "usa",
	})
	if sess.Token == "" {
		t.Fatal("registration issued no token")
	}
	if sess.User.Email != "ada@example.edu" {
		t.Errorf("email not normalized: %q", sess.User.Email)
	}
	if sess.User.Level != auth.LevelBeginner || sess.User.Role != auth.RoleUser {
		t.Errorf("defaults not applied: level=%q role=%q", sess.User.Level, sess.User.Role)
	}
	if sess.User.TenantID != "default" {
		t.Errorf("tenant = %q, want default", sess.User.TenantID)
	}
	if !sess.User.Active {
		t.Error("new user not active")
	}

	login, err := svc.Login(ctx, "ada@example.edu", "s3cret-pw", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if login.User.ID != sess.User.ID {
		t.Error("login resolved a different user")
	}
	if login.User.LastLoginAt == nil {
		t.Error("last login not stamped")
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   auth.RegisterInput
	}{
		{"missing username", auth.RegisterInput{Email: "a@b.co", Password: "s3cret-pw"}},
		{"missing email", auth.RegisterInput{Username: "ada", Password: "s3cret-pw"}},
		{"malformed email", auth.RegisterInput{Username: "ada", Email: "not-an-email", Password: "s3cret-pw"}},
		{"missing password", auth.RegisterInput{Username: "ada", Email: "a@b.co"}},
		{"short password", auth.RegisterInput{Username: "ada", Email: "a@b.co", Password: "tiny"}},
		{"unknown level", auth.RegisterInput{Username: "ada", Email: "a@b.co", Password: "s3cret-pw", Level: "wizard"}},
		{"unknown role", auth.RegisterInput{Username: "ada", Email: "a@b.co", Password: "s3cret-pw", Role: "root"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Register(ctx, tc.in); !errors.Is(err, auth.ErrInvalidInput) {
				t.Errorf("got %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	register(t, svc, auth.RegisterInput{Username: "ada", Email: "ada@example.edu"})
	_, err := svc.Register(ctx, auth.RegisterInput{
		Username: "imposter",
		Email:    "ADA@example.edu",
		Password: "s3cret-pw",
	})
	if !errors.Is(err, auth.ErrDuplicateEmail) {
		t.Fatalf("got %v, want ErrDuplicateEmail", err)
	}
}

func TestSameEmailDifferentTenants(t *testing.T) {
	svc, _ := newTestService(t)

	a := register(t, svc, auth.RegisterInput{Username: "ada", Email: "ada@example.edu", TenantID: "class-a"})
	b := register(t, svc, auth.RegisterInput{Username: "ada", Email: "ada@example.edu", TenantID: "class-b"})
	if a.User.ID == b.User.ID {
		t.Error("two tenants share one account")
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	sess := register(t, svc, auth.RegisterInput{Username: "ada", Email: "ada@example.edu"})

	_, unknownErr := svc.Login(ctx, "nobody@example.edu", "s3cret-pw", "")
	_, wrongPwErr := svc.Login(ctx, "ada@example.edu", "wrong-password", "")

	if _, err := st.DB().Exec(`update users set active = 0 where id = ?`, sess.User.ID); err != nil {
		t.Fatal(err)
	}
	_, inactiveErr := svc.Login(ctx, "ada@example.edu", "s3cret-pw", "")

	for name, err := range map[string]error{
		"unknown email":       unknownErr,
		"wrong password":      wrongPwErr,
		"deactivated account": inactiveErr,
	} {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			t.Errorf("%s: got %v, want ErrInvalidCredentials", name, err)
		}
		if err.Error() != auth.ErrInvalidCredentials.Error() {
			t.Errorf("%s: message %q leaks the failure mode", name, err.Error())
		}
	}
}

func TestAuthenticate(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	sess := register(t, svc, auth.RegisterInput{Username: "ada", Email: "ada@example.edu"})

	user, err := svc.Authenticate(ctx, sess.Token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user.ID != sess.User.ID {
		t.Error("token resolved a different user")
	}

	if _, err := svc.Authenticate(ctx, "not.a.token"); !errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("garbage token: got %v, want ErrInvalidToken", err)
	}

	if _, err := st.DB().Exec(`update users set active = 0 where id = ?`, sess.User.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Authenticate(ctx, sess.Token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("token for deactivated user: got %v, want ErrInvalidToken", err)
	}
}

func TestUpdateUserAllowList(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sess := register(t, svc, auth.RegisterInput{Username: "ada", Email: "ada@example.edu"})

	updated, err := svc.UpdateUser(ctx, sess.User.ID, map[string]any{
		"username": "ada.l",
		"level":    auth.LevelExpert,
		"role":     auth.RoleAdmin,
		"email":    "new@example.edu",
	}, sess.User.TenantID)
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if updated.Username != "ada.l" || updated.Level != auth.LevelExpert {
		t.Errorf("allowed fields not applied: %q / %q", updated.Username, updated.Level)
	}
	if updated.Role != auth.RoleUser {
		t.Error("role escalated through profile update")
	}
	if updated.Email != "ada@example.edu" {
		t.Error("email changed through profile update")
	}

	if _, err := svc.UpdateUser(ctx, sess.User.ID, map[string]any{"role": auth.RoleAdmin}, ""); !errors.Is(err, auth.ErrNoValidUpdates) {
		t.Errorf("only disallowed fields: got %v, want ErrNoValidUpdates", err)
	}
	if _, err := svc.UpdateUser(ctx, sess.User.ID, map[string]any{"level": "wizard"}, ""); !errors.Is(err, auth.ErrInvalidInput) {
		t.Errorf("bad level: got %v, want ErrInvalidInput", err)
	}
	if _, err := svc.UpdateUser(ctx, "no-such-user", map[string]any{"username": "x"}, ""); !errors.Is(err, auth.ErrNotFound) {
		t.Errorf("unknown user: got %v, want ErrNotFound", err)
	}
}

func TestAssignCountry(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sess := register(t, svc, auth.RegisterInput{Username: "ada", Email: "ada@example.edu"})

	grant, err := svc.AssignCountry(ctx, sess.User.ID, "bra", auth.AccessReadonly, "")
	if err != nil {
		t.Fatalf("AssignCountry: %v", err)
	}
	if grant.Country != "bra" || grant.Level != auth.AccessReadonly || !grant.Active {
		t.Errorf("grant = %+v", grant)
	}

	if _, err := svc.AssignCountry(ctx, sess.User.ID, "bra", "superuser", ""); !errors.Is(err, auth.ErrInvalidInput) {
		t.Errorf("bad access level: got %v, want ErrInvalidInput", err)
	}
	if _, err := svc.AssignCountry(ctx, "", "bra", "", ""); !errors.Is(err, auth.ErrInvalidInput) {
		t.Errorf("missing user: got %v, want ErrInvalidInput", err)
	}
	if _, err := svc.AssignCountry(ctx, "no-such-user", "bra", "", ""); !errors.Is(err, auth.ErrNotFound) {
		t.Errorf("unknown user: got %v, want ErrNotFound", err)
	}
}

func TestStoreTimeoutSurfacesAsUnavailable(t *testing.T) {
	svc, _ := newTestService(t, auth.WithStoreTimeout(time.Nanosecond))
	ctx := context.Background()

	_, err := svc.GetUser(ctx, "any-id", "")
	if !errors.Is(err, auth.ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
}
