// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithPrincipal/FromContext for propagating the session user via context

package auth

import (
	"context"

	"github.com/2389/deskgate/internal/store"
)

// Principal is an authenticated user together with the session that proved it.
type Principal struct {
	User    *store.User
	Session Session
}

// IsAdmin uses the snapshot taken when the session was issued.
func (p *Principal) IsAdmin() bool {
	return p.Session.IsAdmin
}

// principalContextKey is the key type for storing Principal in context.Context.
type principalContextKey struct{}

// WithPrincipal returns a new context with the Principal attached.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// FromContext retrieves the Principal from the context, returning nil if not present.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}

// MustFromContext retrieves the Principal from the context, panicking if not present.
func MustFromContext(ctx context.Context) *Principal {
	p := FromContext(ctx)
	if p == nil {
		panic("auth: Principal not found in context")
	}
	return p
}
