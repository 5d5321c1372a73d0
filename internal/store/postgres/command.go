package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/domus/internal/domain"
	"github.com/gosuda/domus/internal/secrets"
)

// CommandRepo persists commands and their status rows. Prompts are sealed
// with the vault when one is configured.
type CommandRepo struct {
	pool  *pgxpool.Pool
	vault *secrets.Vault
}

func NewCommandRepo(pool *pgxpool.Pool, vault *secrets.Vault) *CommandRepo {
	return &CommandRepo{pool: pool, vault: vault}
}

const (
	commandColumns = `id, tenant_id, house_id, user_id, kind, prompt, language, audio_ref, correlation_id, submitted_at`
	statusColumns  = `command_id, tenant_id, user_id, state, response_text, speech_ref, error_reason, attempt_count, created_at, updated_at`
)

func (r *CommandRepo) CreateWithStatus(ctx context.Context, c *domain.Command, s *domain.CommandStatus) error {
	prompt := c.Prompt
	if r.vault != nil {
		sealed, err := r.vault.Seal(c.TenantID, c.Prompt)
		if err != nil {
			return fmt.Errorf("commandRepo.CreateWithStatus: %w", err)
		}
		prompt = sealed
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("commandRepo.CreateWithStatus: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx,
		`INSERT INTO commands (`+commandColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.TenantID, c.HouseID, c.UserID, c.Kind, prompt,
		c.Language, c.AudioRef, c.CorrelationID, c.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("commandRepo.CreateWithStatus: command: %w", mapError(err))
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO command_status (`+statusColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.CommandID, s.TenantID, s.UserID, s.State, s.ResponseText, s.SpeechRef,
		s.ErrorReason, s.AttemptCount, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("commandRepo.CreateWithStatus: status: %w", mapError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commandRepo.CreateWithStatus: commit: %w", err)
	}
	return nil
}

func (r *CommandRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Command, error) {
	c, err := r.scanCommand(r.pool.QueryRow(ctx,
		`SELECT `+commandColumns+` FROM commands WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	))
	if err != nil {
		return nil, fmt.Errorf("commandRepo.GetByID: %w", err)
	}
	return c, nil
}

// Lookup reads a command without a tenant filter, for the worker, which
// only knows the queued ID.
func (r *CommandRepo) Lookup(ctx context.Context, id uuid.UUID) (*domain.Command, error) {
	c, err := r.scanCommand(r.pool.QueryRow(ctx,
		`SELECT `+commandColumns+` FROM commands WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("commandRepo.Lookup: %w", err)
	}
	return c, nil
}

// LookupScope reads only the ownership columns of a command, without a
// tenant filter and without touching the sealed prompt.
func (r *CommandRepo) LookupScope(ctx context.Context, id uuid.UUID) (domain.TenantScope, error) {
	var c domain.Command
	err := r.pool.QueryRow(ctx,
		`SELECT tenant_id, house_id, user_id FROM commands WHERE id = $1`, id,
	).Scan(&c.TenantID, &c.HouseID, &c.UserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TenantScope{}, fmt.Errorf("commandRepo.LookupScope: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.TenantScope{}, fmt.Errorf("commandRepo.LookupScope: %w", err)
	}
	return c.Scope(), nil
}

func (r *CommandRepo) GetStatus(ctx context.Context, tenantID, id uuid.UUID) (*domain.CommandStatus, error) {
	s, err := scanStatus(r.pool.QueryRow(ctx,
		`SELECT `+statusColumns+` FROM command_status WHERE tenant_id = $1 AND command_id = $2`,
		tenantID, id,
	))
	if err != nil {
		return nil, fmt.Errorf("commandRepo.GetStatus: %w", err)
	}
	return s, nil
}

// Transition is a compare-and-set on (tenant_id, command_id, state). A miss
// is classified by re-reading the row: gone, already terminal, or moved on.
func (r *CommandRepo) Transition(ctx context.Context, tenantID, id uuid.UUID, from domain.CommandState, u domain.StatusUpdate) (*domain.CommandStatus, error) {
	s, err := scanStatus(r.pool.QueryRow(ctx,
		`UPDATE command_status
		 SET state = $4, response_text = $5, speech_ref = $6, error_reason = $7, updated_at = now()
		 WHERE tenant_id = $1 AND command_id = $2 AND state = $3
		 RETURNING `+statusColumns,
		tenantID, id, from, u.State, u.ResponseText, u.SpeechRef, u.ErrorReason,
	))
	if errors.Is(err, domain.ErrNotFound) {
		var current domain.CommandState
		qerr := r.pool.QueryRow(ctx,
			`SELECT state FROM command_status WHERE tenant_id = $1 AND command_id = $2`,
			tenantID, id,
		).Scan(&current)
		switch {
		case errors.Is(qerr, pgx.ErrNoRows):
			return nil, fmt.Errorf("commandRepo.Transition: %w", domain.ErrNotFound)
		case qerr != nil:
			return nil, fmt.Errorf("commandRepo.Transition: %w", qerr)
		case current.IsTerminal():
			return nil, fmt.Errorf("commandRepo.Transition: stored state %s: %w", current, domain.ErrTerminalState)
		default:
			return nil, fmt.Errorf("commandRepo.Transition: stored state %s: %w", current, domain.ErrStateConflict)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("commandRepo.Transition: %w", mapError(err))
	}
	return s, nil
}

// IncrementAttempts also bumps updated_at so the sweeper measures staleness
// from the last capability call.
func (r *CommandRepo) IncrementAttempts(ctx context.Context, tenantID, id uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`UPDATE command_status SET attempt_count = attempt_count + 1, updated_at = now()
		 WHERE tenant_id = $1 AND command_id = $2
		 RETURNING attempt_count`,
		tenantID, id,
	).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("commandRepo.IncrementAttempts: %w", domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("commandRepo.IncrementAttempts: %w", err)
	}
	return n, nil
}

func (r *CommandRepo) ListByHouse(ctx context.Context, tenantID, houseID uuid.UUID, limit, offset int) ([]*domain.CommandStatus, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.command_id, s.tenant_id, s.user_id, s.state, s.response_text, s.speech_ref,
		        s.error_reason, s.attempt_count, s.created_at, s.updated_at
		 FROM command_status s
		 JOIN commands c ON c.tenant_id = s.tenant_id AND c.id = s.command_id
		 WHERE s.tenant_id = $1 AND c.house_id = $2
		 ORDER BY s.created_at DESC
		 LIMIT $3 OFFSET $4`,
		tenantID, houseID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("commandRepo.ListByHouse: %w", err)
	}
	defer rows.Close()

	return collectStatuses(rows, "commandRepo.ListByHouse")
}

// ListStale spans all tenants; it serves the sweeper only.
func (r *CommandRepo) ListStale(ctx context.Context, state domain.CommandState, before time.Time, limit int) ([]*domain.CommandStatus, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+statusColumns+` FROM command_status
		 WHERE state = $1 AND updated_at < $2
		 ORDER BY updated_at
		 LIMIT $3`,
		state, before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("commandRepo.ListStale: %w", err)
	}
	defer rows.Close()

	return collectStatuses(rows, "commandRepo.ListStale")
}

// ClaimStalePending bumps updated_at on up to limit pending rows last
// touched before the cutoff and returns them. Concurrent sweepers skip rows
// another one has locked, so each stale row is handed out once per sweep
// window.
func (r *CommandRepo) ClaimStalePending(ctx context.Context, before time.Time, limit int) ([]*domain.CommandStatus, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE command_status SET updated_at = now()
		 WHERE command_id IN (
		     SELECT command_id FROM command_status
		     WHERE state = $1 AND updated_at < $2
		     ORDER BY updated_at
		     LIMIT $3
		     FOR UPDATE SKIP LOCKED
		 )
		 AND state = $1 AND updated_at < $2
		 RETURNING `+statusColumns,
		domain.CommandStatePending, before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("commandRepo.ClaimStalePending: %w", err)
	}
	defer rows.Close()

	return collectStatuses(rows, "commandRepo.ClaimStalePending")
}

func (r *CommandRepo) scanCommand(row pgx.Row) (*domain.Command, error) {
	var c domain.Command

	err := row.Scan(&c.ID, &c.TenantID, &c.HouseID, &c.UserID, &c.Kind, &c.Prompt,
		&c.Language, &c.AudioRef, &c.CorrelationID, &c.SubmittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if r.vault != nil {
		plain, err := r.vault.Open(c.TenantID, c.Prompt)
		if err != nil {
			return nil, err
		}
		c.Prompt = plain
	}

	return &c, nil
}

func scanStatus(row pgx.Row) (*domain.CommandStatus, error) {
	var s domain.CommandStatus

	err := row.Scan(&s.CommandID, &s.TenantID, &s.UserID, &s.State, &s.ResponseText, &s.SpeechRef,
		&s.ErrorReason, &s.AttemptCount, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &s, nil
}

func collectStatuses(rows pgx.Rows, caller string) ([]*domain.CommandStatus, error) {
	var out []*domain.CommandStatus
	for rows.Next() {
		s, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", caller, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", caller, err)
	}
	return out, nil
}
