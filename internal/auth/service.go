package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"econlab.org/internal/obs"
)

const (
	defaultStoreTimeout = 5 * time.Second
	minPasswordLength   = 6
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Service orchestrates registration, login, profile updates and country
// grants. It holds no storage-engine conditionals: all persistence goes
// through the Store interface, and the backing engine is chosen once at
// process start.
type Service struct {
	store  Store
	tokens *TokenManager

	bcryptCost     int
	defaultTenant  string
	defaultCountry string
	storeTimeout   time.Duration
	now            func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithBcryptCost sets the password hashing work factor.
func WithBcryptCost(cost int) ServiceOption {
	return func(s *Service) {
		if cost > 0 {
			s.bcryptCost = cost
		}
	}
}

// WithDefaultTenant sets the tenant used when a request carries none.
func WithDefaultTenant(tenant string) ServiceOption {
	return func(s *Service) {
		if t := strings.TrimSpace(tenant); t != "" {
			s.defaultTenant = t
		}
	}
}

// WithDefaultCountry sets the home country assigned at registration when
// none is supplied.
func WithDefaultCountry(country string) ServiceOption {
	return func(s *Service) {
		s.defaultCountry = strings.TrimSpace(country)
	}
}

// WithStoreTimeout bounds every outbound storage call.
func WithStoreTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the auth service.
func NewService(store Store, tokens *TokenManager, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token manager is required")
	}
	s := &Service{
		store:         store,
		tokens:        tokens,
		defaultTenant: "default",
		storeTimeout:  defaultStoreTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RegisterInput carries registration request fields.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Level    string
	Role     string
	Country  string
	TenantID string
}

// Session is the result of a successful login or registration.
type Session struct {
	User      *User
	Token     string
	ExpiresAt time.Time
}

// Register validates input, persists the user and issues a session
// token. A convenience grant for the assigned country is created
// best-effort: its failure is logged and registration still succeeds.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if !emailPattern.MatchString(email) {
		return nil, fmt.Errorf("%w: malformed email address", ErrInvalidInput)
	}
	if in.Password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	if len(in.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	level := strings.TrimSpace(strings.ToLower(in.Level))
	if level == "" {
		level = LevelBeginner
	}
	if !ValidLevel(level) {
		return nil, fmt.Errorf("%w: unsupported level %q", ErrInvalidInput, level)
	}
	role := strings.TrimSpace(strings.ToLower(in.Role))
	if role == "" {
		role = RoleUser
	}
	if !ValidRole(role) {
		return nil, fmt.Errorf("%w: unsupported role %q", ErrInvalidInput, role)
	}
	tenant := strings.TrimSpace(in.TenantID)
	if tenant == "" {
		tenant = s.defaultTenant
	}
	country := strings.TrimSpace(in.Country)
	if country == "" {
		country = s.defaultCountry
	}

	hash, err := HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	storeCtx, cancel := s.storeCtx(ctx)
	user, err := s.store.CreateUser(storeCtx, NewUser{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Level:        level,
		Role:         role,
		HomeCountry:  country,
		TenantID:     tenant,
	})
	cancel()
	if err != nil {
		return nil, s.storeErr(err)
	}

	if country != "" {
		grantCtx, cancel := s.storeCtx(ctx)
		_, grantErr := s.store.UpsertCountryGrant(grantCtx, user.ID, country, AccessFull, user.ID)
		cancel()
		if grantErr != nil {
			obs.Event("auth.register.grant_failed", map[string]any{
				"user_id": user.ID,
				"country": country,
				"error":   grantErr.Error(),
			})
		}
	}

	token, expiresAt, err := s.tokens.Issue(user, 0)
	if err != nil {
		return nil, err
	}
	return &Session{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

// Login authenticates credentials and issues a session token. Unknown
// email, deactivated account and wrong password all fail with the same
// ErrInvalidCredentials. The last-login stamp is best-effort.
func (s *Service) Login(ctx context.Context, email, password, tenantID string) (*Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	tenant := strings.TrimSpace(tenantID)
	if tenant == "" {
		tenant = s.defaultTenant
	}

	storeCtx, cancel := s.storeCtx(ctx)
	user, err := s.store.FindUserByEmail(storeCtx, email, tenant)
	cancel()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, s.storeErr(err)
	}
	if !user.Active {
		return nil, ErrInvalidCredentials
	}
	if !VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	loginCtx, cancel := s.storeCtx(ctx)
	if err := s.store.RecordLogin(loginCtx, user.ID); err != nil {
		obs.Event("auth.login.record_failed", map[string]any{
			"user_id": user.ID,
			"error":   err.Error(),
		})
	} else {
		now := s.now().UTC()
		user.LastLoginAt = &now
	}
	cancel()

	token, expiresAt, err := s.tokens.Issue(user, 0)
	if err != nil {
		return nil, err
	}
	return &Session{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

// Authenticate resolves a bearer token to its user. Verification itself
// is pure; the single storage lookup confirms the subject still exists
// and is active.
func (s *Service) Authenticate(ctx context.Context, token string) (*User, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	user, err := s.store.FindUserByID(storeCtx, claims.Subject, claims.TenantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, s.storeErr(err)
	}
	if !user.Active {
		return nil, ErrInvalidToken
	}
	return user, nil
}

// GetUser loads a user profile.
func (s *Service) GetUser(ctx context.Context, id, tenantID string) (*User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	user, err := s.store.FindUserByID(storeCtx, id, strings.TrimSpace(tenantID))
	if err != nil {
		return nil, s.storeErr(err)
	}
	return user, nil
}

// UpdateUser applies a profile update restricted to the allow-list of
// mutable fields (username, level). Unknown fields are silently dropped;
// if nothing survives the filter the update fails with ErrNoValidUpdates.
func (s *Service) UpdateUser(ctx context.Context, id string, fields map[string]any, tenantID string) (*User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	var upd UserUpdate
	if v, ok := fields["username"].(string); ok {
		username := strings.TrimSpace(v)
		if username == "" {
			return nil, fmt.Errorf("%w: username must not be empty", ErrInvalidInput)
		}
		upd.Username = &username
	}
	if v, ok := fields["level"].(string); ok {
		level := strings.TrimSpace(strings.ToLower(v))
		if !ValidLevel(level) {
			return nil, fmt.Errorf("%w: unsupported level %q", ErrInvalidInput, level)
		}
		upd.Level = &level
	}
	if upd.Username == nil && upd.Level == nil {
		return nil, ErrNoValidUpdates
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	user, err := s.store.UpdateUser(storeCtx, id, upd, strings.TrimSpace(tenantID))
	if err != nil {
		return nil, s.storeErr(err)
	}
	return user, nil
}

// AssignCountry grants a user access to a country, superseding any
// previous grant for the same pair. Caller privilege is enforced by the
// request guard, not re-checked here; the service validates shape only.
func (s *Service) AssignCountry(ctx context.Context, userID, country, level, grantedBy string) (*CountryGrant, error) {
	userID = strings.TrimSpace(userID)
	country = strings.TrimSpace(country)
	if userID == "" || country == "" {
		return nil, fmt.Errorf("%w: user id and country are required", ErrInvalidInput)
	}
	level = strings.TrimSpace(strings.ToLower(level))
	if level == "" {
		level = AccessFull
	}
	if !ValidAccessLevel(level) {
		return nil, fmt.Errorf("%w: unsupported access level %q", ErrInvalidInput, level)
	}

	userCtx, cancel := s.storeCtx(ctx)
	user, err := s.store.FindUserByID(userCtx, userID, "")
	cancel()
	if err != nil {
		return nil, s.storeErr(err)
	}
	if !user.Active {
		return nil, fmt.Errorf("%w: user %s is deactivated", ErrInvalidInput, userID)
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	grant, err := s.store.UpsertCountryGrant(storeCtx, userID, country, level, strings.TrimSpace(grantedBy))
	if err != nil {
		return nil, s.storeErr(err)
	}
	return grant, nil
}

// storeCtx bounds an outbound storage call.
func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// storeErr maps storage failures into the service taxonomy. Domain
// sentinels pass through; deadline and cancellation surface as
// ErrUnavailable so guards deny instead of hanging; anything else is
// wrapped so engine detail never reaches a response.
func (s *Service) storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrDuplicateEmail),
		errors.Is(err, ErrInvalidInput):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return fmt.Errorf("auth: storage: %w", err)
	}
}
