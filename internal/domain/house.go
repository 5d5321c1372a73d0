package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type House struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	OwnerID   uuid.UUID
	Name      string
	Address   string
	CreatedAt time.Time
}

// Scope returns the tenant scope the house belongs to.
func (h *House) Scope() TenantScope {
	owner := h.OwnerID
	house := h.ID
	return TenantScope{TenantID: h.TenantID, HouseID: &house, OwnerID: &owner}
}

type HouseRepository interface {
	Create(ctx context.Context, h *House) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*House, error)
	// Lookup finds a house by ID across tenants. It exists only to feed the
	// access guard's scope registry and must not back any caller-facing read.
	Lookup(ctx context.Context, id uuid.UUID) (*House, error)
	List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*House, error)
}
