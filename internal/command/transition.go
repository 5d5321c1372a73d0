package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/domus/internal/domain"
	"github.com/gosuda/domus/internal/metrics"
)

// Recorder receives security events.
type Recorder interface {
	Record(ctx context.Context, e *domain.SecurityEvent)
}

// StatusNotifier fans a status change out to live subscribers. Delivery is
// best effort; pollers always read the stored status.
type StatusNotifier interface {
	NotifyStatus(ctx context.Context, s *domain.CommandStatus) error
}

// transitions is the single write path for CommandStatus.state.
type transitions struct {
	repo      domain.CommandRepository
	recorder  Recorder
	metrics   *metrics.Metrics
	notifiers []StatusNotifier
}

// apply moves the command from one state to update.State. The state machine
// is checked before the store is touched; the store then re-checks from
// with a conditional write. A row that moved on returns
// domain.ErrStateConflict; a row that is already terminal returns
// domain.ErrTerminalState and is recorded like any other attempt to leave a
// terminal state.
func (t *transitions) apply(ctx context.Context, tenantID, userID, commandID uuid.UUID, from domain.CommandState, update domain.StatusUpdate) (*domain.CommandStatus, error) {
	if err := from.CheckTransition(update.State); err != nil {
		t.reject(ctx, tenantID, userID, commandID, from, update.State, err)
		return nil, fmt.Errorf("command.transition %s->%s: %w", from, update.State, err)
	}

	status, err := t.repo.Transition(ctx, tenantID, commandID, from, update)
	if errors.Is(err, domain.ErrTerminalState) {
		t.reject(ctx, tenantID, userID, commandID, t.storedState(ctx, tenantID, commandID, from), update.State, err)
	}
	if err != nil {
		return nil, fmt.Errorf("command.transition %s->%s: %w", from, update.State, err)
	}

	log.Info().
		Str("tenant_id", tenantID.String()).
		Str("user_id", userID.String()).
		Str("command_id", commandID.String()).
		Str("from", string(from)).
		Str("to", string(update.State)).
		Str("error_reason", update.ErrorReason).
		Msg("command state changed")

	t.metrics.CommandTransition(string(update.State))
	t.notify(ctx, status)

	return status, nil
}

func (t *transitions) reject(ctx context.Context, tenantID, userID, commandID uuid.UUID, from, to domain.CommandState, err error) {
	evt := log.Warn()
	if errors.Is(err, domain.ErrTerminalState) {
		evt = log.Error()
	}
	evt.Err(err).
		Str("tenant_id", tenantID.String()).
		Str("user_id", userID.String()).
		Str("command_id", commandID.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("command.transition: rejected")

	if !errors.Is(err, domain.ErrTerminalState) || t.recorder == nil {
		return
	}

	t.recorder.Record(ctx, &domain.SecurityEvent{
		EventType: domain.EventInvalidTransition,
		TenantID:  tenantID,
		UserID:    userID,
		Severity:  domain.SeverityError,
		Details: map[string]any{
			"command_id": commandID.String(),
			"from":       string(from),
			"to":         string(to),
		},
	})
}

// lostRace reports whether a conditional write found the command in another
// state, terminal or not.
func lostRace(err error) bool {
	return errors.Is(err, domain.ErrStateConflict) || errors.Is(err, domain.ErrTerminalState)
}

// storedState reads the current state for the event details, falling back
// to the state the caller expected.
func (t *transitions) storedState(ctx context.Context, tenantID, commandID uuid.UUID, fallback domain.CommandState) domain.CommandState {
	st, err := t.repo.GetStatus(ctx, tenantID, commandID)
	if err != nil {
		return fallback
	}
	return st.State
}

func (t *transitions) notify(ctx context.Context, status *domain.CommandStatus) {
	for _, n := range t.notifiers {
		if err := n.NotifyStatus(ctx, status); err != nil {
			log.Warn().Err(err).
				Str("tenant_id", status.TenantID.String()).
				Str("command_id", status.CommandID.String()).
				Msg("command.transition: notify failed")
		}
	}
}
