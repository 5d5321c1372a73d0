package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gosuda/domus/internal/authz"
	"github.com/gosuda/domus/internal/domain"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
	defaultWindow     = 24 * time.Hour
)

// ErrInvalidQuery is returned for a malformed time window.
var ErrInvalidQuery = errors.New("audit: invalid query")

// Authorizer is the slice of the access guard the query path needs.
type Authorizer interface {
	AuthorizeScope(ctx context.Context, p *domain.Principal, rt authz.ResourceType, scope domain.TenantScope, op authz.Operation) domain.AccessDecision
}

// Service answers audit trail queries for one tenant at a time.
type Service struct {
	repo  domain.SecurityEventRepository
	guard Authorizer
	now   func() time.Time
}

func NewService(repo domain.SecurityEventRepository, guard Authorizer) *Service {
	return &Service{repo: repo, guard: guard, now: time.Now}
}

// Query returns the tenant's events ordered by timestamp. The caller must
// hold audit:read inside q.TenantID; a query for another tenant is denied
// exactly like any other cross-tenant access.
func (s *Service) Query(ctx context.Context, p *domain.Principal, q domain.AuditQuery) ([]*domain.SecurityEvent, error) {
	decision := s.guard.AuthorizeScope(ctx, p, authz.ResourceAudit, domain.TenantScope{TenantID: q.TenantID}, authz.OpRead)
	if err := decision.Err(); err != nil {
		return nil, fmt.Errorf("audit.Service.Query: %w", err)
	}

	if q.To.IsZero() {
		q.To = s.now().UTC()
	}
	if q.From.IsZero() {
		q.From = q.To.Add(-defaultWindow)
	}
	if q.To.Before(q.From) {
		return nil, fmt.Errorf("audit.Service.Query: to before from: %w", ErrInvalidQuery)
	}
	if q.Limit <= 0 {
		q.Limit = defaultQueryLimit
	}
	q.Limit = min(q.Limit, maxQueryLimit)

	events, err := s.repo.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("audit.Service.Query: %w", err)
	}

	return events, nil
}
