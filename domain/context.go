package domain

import "context"

type contextKey string

const (
	principalContextKey contextKey = "bearer_principal"
	ownerContextKey     contextKey = "resource_owner"
)

// Principal is what a validated bearer token resolves to.
type Principal struct {
	UserID   string
	ClientID string
	Scopes   []string
	Token    *AccessCode
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext retrieves the principal set by the bearer guard.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	return p, ok && p != nil
}

// WithResourceOwner returns a copy of ctx carrying the logged in user id.
func WithResourceOwner(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ownerContextKey, userID)
}

// ResourceOwnerFromContext returns the logged in user id, if any.
func ResourceOwnerFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ownerContextKey).(string)
	return id, ok && id != ""
}
