package v1

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/domus/internal/audit"
	"github.com/gosuda/domus/internal/domain"
)

type ListAuditEventsInput struct {
	TenantID  uuid.UUID `query:"tenant_id" doc:"Tenant to query; defaults to the caller's"`
	From      time.Time `query:"from" doc:"Inclusive lower bound (RFC 3339); defaults to 24h before to"`
	To        time.Time `query:"to" doc:"Inclusive upper bound (RFC 3339); defaults to now"`
	EventType string    `query:"event_type" enum:"access_granted,access_denied,prompt_blocked,decryption_failed,invalid_transition,unauthenticated" doc:"Filter by event type"`
	Limit     int       `query:"limit" minimum:"1" maximum:"1000" default:"100" doc:"Max results"`
}

type AuditEventBody struct {
	ID        uuid.UUID                `json:"id"`
	Timestamp time.Time                `json:"timestamp"`
	EventType domain.SecurityEventType `json:"event_type"`
	TenantID  uuid.UUID                `json:"tenant_id"`
	UserID    uuid.UUID                `json:"user_id"`
	Severity  domain.Severity          `json:"severity"`
	Details   map[string]any           `json:"details,omitempty"`
}

type ListAuditEventsOutput struct {
	Body []AuditEventBody
}

func RegisterAuditRoutes(api huma.API, events AuditQuerier) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit-events",
		Method:      http.MethodGet,
		Path:        "/audit/events",
		Summary:     "Query the tenant's security events in time order",
		Tags:        []string{"Audit"},
	}, func(ctx context.Context, input *ListAuditEventsInput) (*ListAuditEventsOutput, error) {
		p, err := principal(ctx)
		if err != nil {
			return nil, err
		}

		tenantID := input.TenantID
		if tenantID == uuid.Nil {
			tenantID = p.TenantID
		}

		found, err := events.Query(ctx, p, domain.AuditQuery{
			TenantID:  tenantID,
			From:      input.From,
			To:        input.To,
			EventType: domain.SecurityEventType(input.EventType),
			Limit:     input.Limit,
		})
		if err != nil {
			if errors.Is(err, audit.ErrInvalidQuery) {
				return nil, huma.Error400BadRequest("to must not be before from")
			}
			return nil, accessError(err, "tenant", "query audit events")
		}

		body := make([]AuditEventBody, 0, len(found))
		for _, e := range found {
			body = append(body, AuditEventBody{
				ID:        e.ID,
				Timestamp: e.Timestamp,
				EventType: e.EventType,
				TenantID:  e.TenantID,
				UserID:    e.UserID,
				Severity:  e.Severity,
				Details:   e.Details,
			})
		}
		return &ListAuditEventsOutput{Body: body}, nil
	})
}
