package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/herfa-app/herfa-backend/pkg/enums"
)

type contextKey string

const ctxPrincipal contextKey = "principal"

// Principal is the caller resolved from a verified access token.
type Principal struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

func (p Principal) valid() bool {
	return p.UserID != uuid.Nil && p.Role.IsValid()
}

// WithPrincipal stores p for handlers further down the chain.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxPrincipal, p)
}

// PrincipalFrom is false for anonymous requests and malformed principals.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(ctxPrincipal).(Principal)
	return p, ok && p.valid()
}

// Actor returns the authenticated caller. ok is false outside the Auth middleware.
func Actor(ctx context.Context) (uuid.UUID, enums.UserRole, bool) {
	p, ok := PrincipalFrom(ctx)
	return p.UserID, p.Role, ok
}

// callerKey scopes per-user state such as rate limits; empty when anonymous.
func callerKey(ctx context.Context) string {
	if p, ok := PrincipalFrom(ctx); ok {
		return p.UserID.String()
	}
	return ""
}
