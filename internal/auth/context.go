package auth

import "context"

type userContextKey struct{}
type accessLevelContextKey struct{}

// ContextWithUser attaches the authenticated user to the context.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	if user == nil {
		return ctx
	}
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext extracts the authenticated user from the context.
func UserFromContext(ctx context.Context) (*User, bool) {
	if ctx == nil {
		return nil, false
	}
	u, ok := ctx.Value(userContextKey{}).(*User)
	if !ok || u == nil {
		return nil, false
	}
	return u, true
}

// ContextWithAccessLevel stores the resolved country access level.
func ContextWithAccessLevel(ctx context.Context, level string) context.Context {
	if level == "" {
		return ctx
	}
	return context.WithValue(ctx, accessLevelContextKey{}, level)
}

// AccessLevelFromContext returns the access level attached by the
// country guard.
func AccessLevelFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(accessLevelContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
