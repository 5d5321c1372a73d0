package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/domus/internal/domain"
)

// SecurityEventRepo is append-only: it exposes no update or delete.
type SecurityEventRepo struct {
	pool *pgxpool.Pool
}

func NewSecurityEventRepo(pool *pgxpool.Pool) *SecurityEventRepo {
	return &SecurityEventRepo{pool: pool}
}

func (r *SecurityEventRepo) Append(ctx context.Context, e *domain.SecurityEvent) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("securityEventRepo.Append: marshal details: %w", err)
	}
	if e.Details == nil {
		details = []byte("{}")
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO security_events (tenant_id, id, ts, event_type, user_id, severity, details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.TenantID, e.ID, e.Timestamp, e.EventType, e.UserID, e.Severity, details,
	)
	if err != nil {
		return fmt.Errorf("securityEventRepo.Append: %w", mapError(err))
	}

	return nil
}

// Query always filters on q.TenantID and orders by timestamp ascending.
func (r *SecurityEventRepo) Query(ctx context.Context, q domain.AuditQuery) ([]*domain.SecurityEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT tenant_id, id, ts, event_type, user_id, severity, details
		 FROM security_events
		 WHERE tenant_id = $1 AND ts >= $2 AND ts <= $3 AND ($4 = '' OR event_type = $4)
		 ORDER BY ts, id
		 LIMIT $5`,
		q.TenantID, q.From, q.To, string(q.EventType), q.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("securityEventRepo.Query: %w", err)
	}
	defer rows.Close()

	return scanSecurityEvents(rows)
}

func scanSecurityEvents(rows pgx.Rows) ([]*domain.SecurityEvent, error) {
	var events []*domain.SecurityEvent
	for rows.Next() {
		var e domain.SecurityEvent
		var details []byte

		if err := rows.Scan(&e.TenantID, &e.ID, &e.Timestamp, &e.EventType, &e.UserID, &e.Severity, &details); err != nil {
			return nil, fmt.Errorf("securityEventRepo.Query: scan: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("securityEventRepo.Query: unmarshal details: %w", err)
			}
		}

		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("securityEventRepo.Query: rows: %w", err)
	}

	return events, nil
}
