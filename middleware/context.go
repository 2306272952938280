package middleware

import (
	"context"

	"github.com/upb/tma-auth-gateway/services"
)

// Context key type to avoid collisions
type contextKey string

// PrincipalKey is the context key for the verified mini app user
const PrincipalKey contextKey = "principal"

// GetPrincipalFromContext retrieves the verified user from context
func GetPrincipalFromContext(ctx context.Context) *services.Principal {
	if val := ctx.Value(PrincipalKey); val != nil {
		if principal, ok := val.(*services.Principal); ok {
			return principal
		}
	}
	return nil
}

// WithPrincipal adds the verified user to the context
func WithPrincipal(ctx context.Context, principal *services.Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}
