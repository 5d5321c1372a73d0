// Package tenancy turns a bearer credential into the request Principal.
// Resolution is a pure lookup: the only side effect is filling the tenant
// cache.
package tenancy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/domus/internal/auth"
	"github.com/gosuda/domus/internal/cache"
	"github.com/gosuda/domus/internal/domain"
)

const defaultTenantTTL = time.Minute

// Failure is returned for every rejected credential. TenantID is set when
// the credential verified and named an existing tenant, so the caller can
// attribute an audit event to it.
type Failure struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
	Err      error
}

func (f *Failure) Error() string { return "tenancy: " + f.Err.Error() }

func (f *Failure) Unwrap() error { return f.Err }

// Resolver verifies access tokens and loads the caller's tenant and user.
type Resolver struct {
	secret    string
	tenants   domain.TenantRepository
	users     domain.UserRepository
	cache     cache.Cache[domain.Tenant]
	tenantTTL time.Duration
	grants    func(role string) []string
}

type Option func(*Resolver)

// WithTenantCache overrides the per-resolver in-memory tenant cache.
func WithTenantCache(c cache.Cache[domain.Tenant], ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cache = c
		r.tenantTTL = ttl
	}
}

// WithRoleGrants sets the role to permission expansion.
func WithRoleGrants(grants func(role string) []string) Option {
	return func(r *Resolver) { r.grants = grants }
}

func NewResolver(secret string, tenants domain.TenantRepository, users domain.UserRepository, opts ...Option) *Resolver {
	r := &Resolver{
		secret:    secret,
		tenants:   tenants,
		users:     users,
		cache:     cache.NewMemory[domain.Tenant](),
		tenantTTL: defaultTenantTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the Principal for token. Rejections wrap
// domain.ErrUnauthenticated or domain.ErrInvalidTenant inside a *Failure;
// any other error is an infrastructure failure.
func (r *Resolver) Resolve(ctx context.Context, token string) (*domain.Principal, error) {
	if token == "" {
		return nil, &Failure{Err: domain.ErrUnauthenticated}
	}

	claims, err := auth.ValidateToken(r.secret, token)
	if err != nil || claims.TokenType != auth.TokenTypeAccess {
		return nil, &Failure{Err: domain.ErrUnauthenticated}
	}

	tenantID, userID, err := claims.ParseIDs()
	if err != nil || tenantID == uuid.Nil {
		return nil, &Failure{Err: domain.ErrUnauthenticated}
	}

	tenant, err := r.tenant(ctx, tenantID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, &Failure{Err: domain.ErrInvalidTenant}
	}
	if err != nil {
		return nil, fmt.Errorf("tenancy.Resolve: %w", err)
	}
	if !tenant.Active {
		return nil, &Failure{TenantID: tenant.ID, UserID: userID, Err: domain.ErrInvalidTenant}
	}

	user, err := r.users.GetByID(ctx, tenant.ID, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, &Failure{TenantID: tenant.ID, UserID: userID, Err: domain.ErrUnauthenticated}
	}
	if err != nil {
		return nil, fmt.Errorf("tenancy.Resolve: %w", err)
	}

	return domain.NewPrincipal(user.ID, tenant.ID, user.Roles, user.Permissions, r.grants), nil
}

// Tenant returns the tenant by ID through the cache.
func (r *Resolver) Tenant(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	t, err := r.tenant(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("tenancy.Tenant: %w", err)
	}
	return t, nil
}

func (r *Resolver) tenant(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	key := id.String()
	if t, ok := r.cache.Get(ctx, key); ok {
		return &t, nil
	}

	t, err := r.tenants.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cache.Set(ctx, key, *t, r.tenantTTL)
	return t, nil
}
