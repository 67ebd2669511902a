package auth

import "errors"

var (
	ErrInvalidInput   = errors.New("auth: invalid input")
	ErrDuplicateEmail = errors.New("auth: email already registered")
	ErrInvalidToken   = errors.New("auth: invalid token")
	ErrNotFound       = errors.New("auth: not found")
	ErrAccessDenied   = errors.New("auth: access denied")
	ErrNoValidUpdates = errors.New("auth: no valid fields to update")
	ErrUnavailable    = errors.New("auth: storage unavailable")
	ErrHashing        = errors.New("auth: password hashing failed")

	// ErrInvalidCredentials is deliberately identical for unknown email,
	// deactivated account and wrong password so callers cannot enumerate
	// registered addresses.
	ErrInvalidCredentials = errors.New("invalid email or password")
)
