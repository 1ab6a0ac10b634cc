package user

import "context"

type claimsCtxKey struct{}

// NewContext returns a copy of ctx carrying the caller's claims.
func NewContext(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsCtxKey{}, c)
}

// FromContext returns the caller's claims, or nil for unauthenticated contexts.
func FromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsCtxKey{}).(*Claims)
	return c
}
