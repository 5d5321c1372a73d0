package authz

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/gosuda/domus/internal/domain"
)

// ScopeAccessor returns the tenant scope of the resource with the given ID,
// or an error wrapping domain.ErrNotFound when no such resource exists in
// any tenant.
type ScopeAccessor func(ctx context.Context, id uuid.UUID) (domain.TenantScope, error)

// Registry maps resource types to their scope accessor. A resource type
// must be registered before the guard will ever allow access to it.
type Registry struct {
	mu        sync.RWMutex
	accessors map[ResourceType]ScopeAccessor
}

func NewRegistry() *Registry {
	return &Registry{accessors: make(map[ResourceType]ScopeAccessor)}
}

// Register adds the accessor for a resource type, replacing any previous one.
func (r *Registry) Register(rt ResourceType, accessor ScopeAccessor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accessors[rt] = accessor
}

func (r *Registry) lookup(rt ResourceType) (ScopeAccessor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accessors[rt]
	return a, ok
}

// HouseLookup is implemented by the house repository.
type HouseLookup interface {
	Lookup(ctx context.Context, id uuid.UUID) (*domain.House, error)
}

// CommandLookup is implemented by the command repository. Only the scope
// columns are read, so a command whose prompt cannot be opened stays
// reachable by its owner.
type CommandLookup interface {
	LookupScope(ctx context.Context, id uuid.UUID) (domain.TenantScope, error)
}

func HouseAccessor(repo HouseLookup) ScopeAccessor {
	return func(ctx context.Context, id uuid.UUID) (domain.TenantScope, error) {
		h, err := repo.Lookup(ctx, id)
		if err != nil {
			return domain.TenantScope{}, fmt.Errorf("authz.HouseAccessor: %w", err)
		}
		return h.Scope(), nil
	}
}

func CommandAccessor(repo CommandLookup) ScopeAccessor {
	return func(ctx context.Context, id uuid.UUID) (domain.TenantScope, error) {
		scope, err := repo.LookupScope(ctx, id)
		if err != nil {
			return domain.TenantScope{}, fmt.Errorf("authz.CommandAccessor: %w", err)
		}
		return scope, nil
	}
}
