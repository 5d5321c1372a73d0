package v1

import (
	"context"

	"github.com/google/uuid"

	"github.com/gosuda/domus/internal/authz"
	"github.com/gosuda/domus/internal/command"
	"github.com/gosuda/domus/internal/domain"
)

// DataStore abstracts the repository accessor pattern for handler testing.
// *postgres.Store satisfies this interface.
type DataStore interface {
	Tenants() domain.TenantRepository
	Houses() domain.HouseRepository
}

// AuthService abstracts authentication operations for handler testing.
// *auth.Service satisfies this interface.
type AuthService interface {
	Register(ctx context.Context, tenantID uuid.UUID, email, password, name string) (*domain.User, error)
	Login(ctx context.Context, tenantID uuid.UUID, email, password string) (accessToken, refreshToken string, err error)
	RefreshToken(ctx context.Context, refreshToken string) (string, error)
}

// Authorizer is the access guard. *authz.Guard satisfies this interface.
type Authorizer interface {
	Authorize(ctx context.Context, p *domain.Principal, ref authz.ResourceRef, op authz.Operation) domain.AccessDecision
	AuthorizeScope(ctx context.Context, p *domain.Principal, rt authz.ResourceType, scope domain.TenantScope, op authz.Operation) domain.AccessDecision
}

// CommandService is the caller-facing command pipeline.
// *command.Intake satisfies this interface.
type CommandService interface {
	Submit(ctx context.Context, p *domain.Principal, req command.SubmitRequest) (*command.Accepted, error)
	Poll(ctx context.Context, p *domain.Principal, commandID uuid.UUID) (*domain.CommandStatus, error)
	Cancel(ctx context.Context, p *domain.Principal, commandID uuid.UUID) (*command.CancelResult, error)
	List(ctx context.Context, p *domain.Principal, houseID uuid.UUID, limit, offset int) ([]*domain.CommandStatus, error)
}

// AuditQuerier reads a tenant's security events. *audit.Service satisfies
// this interface.
type AuditQuerier interface {
	Query(ctx context.Context, p *domain.Principal, q domain.AuditQuery) ([]*domain.SecurityEvent, error)
}
