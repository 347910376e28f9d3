package identity

import (
	"context"

	"github.com/iliyamo/parking-reservation/internal/utils"
)

type ctxKey struct{}

// WithClaims attaches authenticated claims to ctx.
func WithClaims(ctx context.Context, c utils.Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// ClaimsFrom returns the claims attached by WithClaims.
func ClaimsFrom(ctx context.Context) (utils.Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(utils.Claims)
	return c, ok && c.UserID != ""
}

// CurrentUserID returns the id of the authenticated user of ctx.
func CurrentUserID(ctx context.Context) (string, error) {
	c, ok := ClaimsFrom(ctx)
	if !ok {
		return "", ErrUnauthenticated
	}
	return c.UserID, nil
}
