package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Tenant struct {
	ID              uuid.UUID
	Name            string
	Slug            string
	Active          bool
	DefaultLanguage string // BCP 47 tag used when a command declares an unsupported language
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TenantScope is the isolation boundary a resource lives in. TenantID is
// always set; HouseID and OwnerID narrow the scope when the resource has them.
type TenantScope struct {
	TenantID uuid.UUID
	HouseID  *uuid.UUID
	OwnerID  *uuid.UUID
}

type TenantRepository interface {
	Create(ctx context.Context, t *Tenant) error
	GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
	Update(ctx context.Context, t *Tenant) error
}
