package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/gosuda/domus/internal/domain"
)

type contextKey string

const (
	ContextKeyPrincipal contextKey = "principal"
	ContextKeyTenantID  contextKey = "tenant_id"
	ContextKeyUserID    contextKey = "user_id"
)

// WithPrincipal stores p and its tenant and user IDs in ctx.
func WithPrincipal(ctx context.Context, p *domain.Principal) context.Context {
	ctx = context.WithValue(ctx, ContextKeyPrincipal, p)
	ctx = context.WithValue(ctx, ContextKeyTenantID, p.TenantID)
	return context.WithValue(ctx, ContextKeyUserID, p.UserID)
}

func PrincipalFromContext(ctx context.Context) (*domain.Principal, bool) {
	p, ok := ctx.Value(ContextKeyPrincipal).(*domain.Principal)
	return p, ok && p != nil
}

func TenantIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	v, ok := ctx.Value(ContextKeyTenantID).(uuid.UUID)
	return v, ok
}

func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	v, ok := ctx.Value(ContextKeyUserID).(uuid.UUID)
	return v, ok
}
