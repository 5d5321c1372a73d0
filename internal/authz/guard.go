// Package authz is the access guard. Every data access path calls Authorize
// (or AuthorizeScope) and branches on the returned decision.
package authz

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/domus/internal/domain"
	"github.com/gosuda/domus/internal/metrics"
)

// Recorder receives one security event per decision.
type Recorder interface {
	Record(ctx context.Context, e *domain.SecurityEvent)
}

// ResourceRef names a resource the guard resolves through the registry.
type ResourceRef struct {
	Type ResourceType
	ID   uuid.UUID
}

// Guard makes allow/deny decisions. It holds no per-call state and is safe
// for concurrent use.
type Guard struct {
	registry *Registry
	recorder Recorder
	metrics  *metrics.Metrics
}

func NewGuard(registry *Registry, recorder Recorder, m *metrics.Metrics) *Guard {
	return &Guard{registry: registry, recorder: recorder, metrics: m}
}

// Authorize resolves the resource's scope through the registry and decides.
func (g *Guard) Authorize(ctx context.Context, p *domain.Principal, ref ResourceRef, op Operation) domain.AccessDecision {
	var scope *domain.TenantScope
	lookupFailed := false

	if accessor, ok := g.registry.lookup(ref.Type); ok {
		s, err := accessor(ctx, ref.ID)
		switch {
		case err == nil:
			scope = &s
		case errors.Is(err, domain.ErrNotFound):
		default:
			// Fail closed: an unreadable scope is treated as absent.
			lookupFailed = true
			log.Error().Err(err).
				Str("resource_type", string(ref.Type)).
				Str("resource_id", ref.ID.String()).
				Msg("authz.Authorize: scope lookup failed")
		}
	}

	d := decide(p, ref.Type, ref.ID, scope, op)
	g.emit(ctx, p, d, lookupFailed)
	return d
}

// AuthorizeScope decides for a resource whose scope the caller already
// loaded (or, for tenant-level resources, the tenant being addressed).
func (g *Guard) AuthorizeScope(ctx context.Context, p *domain.Principal, rt ResourceType, scope domain.TenantScope, op Operation) domain.AccessDecision {
	d := decide(p, rt, uuid.Nil, &scope, op)
	g.emit(ctx, p, d, false)
	return d
}

// decide applies the rules in order: tenant, existence, permission. The
// tenant check runs first and the admin role never skips it.
func decide(p *domain.Principal, rt ResourceType, id uuid.UUID, scope *domain.TenantScope, op Operation) domain.AccessDecision {
	d := domain.AccessDecision{
		ResourceType: string(rt),
		ResourceID:   id,
		Operation:    string(op),
	}

	switch {
	case p == nil || p.TenantID == uuid.Nil:
		d.Reason = domain.ReasonTenantMismatch
	case scope != nil && scope.TenantID != p.TenantID:
		d.Reason = domain.ReasonTenantMismatch
	case scope == nil:
		d.Reason = domain.ReasonNotFound
	case !p.IsSuperuser() && !p.HasPermission(Permission(rt, op)):
		d.Reason = domain.ReasonMissingPermission
	default:
		d.Allowed = true
		d.Reason = domain.ReasonOK
	}

	return d
}

func (g *Guard) emit(ctx context.Context, p *domain.Principal, d domain.AccessDecision, lookupFailed bool) {
	g.metrics.AuthzDecision(d.ResourceType, string(d.Reason))

	if g.recorder == nil {
		return
	}

	event := &domain.SecurityEvent{
		EventType: domain.EventAccessGranted,
		Severity:  domain.SeverityInfo,
		Details: map[string]any{
			"resource_type": d.ResourceType,
			"operation":     d.Operation,
			"reason":        string(d.Reason),
		},
	}
	if !d.Allowed {
		event.EventType = domain.EventAccessDenied
		event.Severity = domain.SeverityWarning
	}
	if d.ResourceID != uuid.Nil {
		event.Details["resource_id"] = d.ResourceID.String()
	}
	if lookupFailed {
		event.Details["lookup_failed"] = true
	}
	if p != nil {
		event.TenantID = p.TenantID
		event.UserID = p.UserID
	}

	g.recorder.Record(ctx, event)
}
