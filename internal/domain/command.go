package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type CommandState string

const (
	CommandStatePending      CommandState = "pending"
	CommandStateTranscribing CommandState = "transcribing"
	CommandStateAnalyzing    CommandState = "analyzing"
	CommandStateCompleted    CommandState = "completed"
	CommandStateFailed       CommandState = "failed"
	CommandStateCancelled    CommandState = "cancelled"
)

var (
	ErrInvalidTransition = errors.New("command: invalid state transition")
	// ErrTerminalState is returned for any attempt to leave completed,
	// failed or cancelled, whether the state machine or the store catches it.
	ErrTerminalState = errors.New("command: transition out of terminal state")
	// ErrStateConflict is returned when a conditional update loses the race:
	// the stored state no longer matches the expected one.
	ErrStateConflict = errors.New("command: state changed concurrently")
)

// IsTerminal reports whether no further transition is permitted.
func (s CommandState) IsTerminal() bool {
	switch s {
	case CommandStateCompleted, CommandStateFailed, CommandStateCancelled:
		return true
	default:
		return false
	}
}

// ValidTransition checks if a command state transition is allowed.
// Allowed: pending->transcribing, pending->analyzing (text skips transcription),
// pending->cancelled, transcribing->analyzing, analyzing->completed, and any
// non-terminal state->failed.
func (s CommandState) ValidTransition(to CommandState) bool {
	switch s {
	case CommandStatePending:
		return to == CommandStateTranscribing || to == CommandStateAnalyzing ||
			to == CommandStateCancelled || to == CommandStateFailed
	case CommandStateTranscribing:
		return to == CommandStateAnalyzing || to == CommandStateFailed
	case CommandStateAnalyzing:
		return to == CommandStateCompleted || to == CommandStateFailed
	default:
		return false
	}
}

// CheckTransition is ValidTransition with the error kind callers need to
// tell a terminal-state violation from an ordinary illegal move.
func (s CommandState) CheckTransition(to CommandState) error {
	if s.IsTerminal() {
		return ErrTerminalState
	}
	if !s.ValidTransition(to) {
		return ErrInvalidTransition
	}
	return nil
}

type CommandKind string

const (
	CommandKindText  CommandKind = "text"
	CommandKindAudio CommandKind = "audio"
)

// Stable error_reason values. Never a raw error string.
const (
	FailureRetriesExhausted    = "retries_exhausted"
	FailureInvalidRequest      = "invalid_request"
	FailureCapabilityError     = "capability_error"
	FailureSuspiciousPrompt    = "suspicious_prompt"
	FailureTimeout             = "timeout"
	FailureTranscriptionFailed = "transcription_failed"
	FailureEnqueueFailed       = "enqueue_failed"
)

// Command is immutable once created by intake.
type Command struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	HouseID       uuid.UUID
	UserID        uuid.UUID
	Kind          CommandKind
	Prompt        string
	Language      string
	AudioRef      string // object-store key, audio commands only
	CorrelationID string
	SubmittedAt   time.Time
}

// Scope returns the tenant scope the command belongs to.
func (c *Command) Scope() TenantScope {
	house := c.HouseID
	owner := c.UserID
	return TenantScope{TenantID: c.TenantID, HouseID: &house, OwnerID: &owner}
}

// CommandStatus is the mutable lifecycle record, one per Command.
type CommandStatus struct {
	CommandID    uuid.UUID
	TenantID     uuid.UUID
	UserID       uuid.UUID
	State        CommandState
	ResponseText string
	SpeechRef    string // synthesized audio derived from ResponseText
	ErrorReason  string
	AttemptCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StatusUpdate carries the fields written together with a state change.
type StatusUpdate struct {
	State        CommandState
	ResponseText string
	SpeechRef    string
	ErrorReason  string
}

type CommandRepository interface {
	// CreateWithStatus inserts the command and its pending status atomically.
	CreateWithStatus(ctx context.Context, c *Command, s *CommandStatus) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Command, error)
	// Lookup finds a command by ID across tenants for the worker only.
	Lookup(ctx context.Context, id uuid.UUID) (*Command, error)
	// LookupScope returns the ownership scope of a command across tenants
	// for the guard's scope registry. It never reads the prompt.
	LookupScope(ctx context.Context, id uuid.UUID) (TenantScope, error)
	GetStatus(ctx context.Context, tenantID, id uuid.UUID) (*CommandStatus, error)
	// Transition applies update iff the stored state still equals from.
	// Otherwise it returns ErrTerminalState when the stored state is
	// terminal and ErrStateConflict when it is not.
	Transition(ctx context.Context, tenantID, id uuid.UUID, from CommandState, update StatusUpdate) (*CommandStatus, error)
	IncrementAttempts(ctx context.Context, tenantID, id uuid.UUID) (int, error)
	ListByHouse(ctx context.Context, tenantID, houseID uuid.UUID, limit, offset int) ([]*CommandStatus, error)
	ListStale(ctx context.Context, state CommandState, updatedBefore time.Time, limit int) ([]*CommandStatus, error) // no tenant filter - background job
	// ClaimStalePending marks up to limit stale pending rows as seen now and
	// returns them, so a row is requeued once per staleness window.
	ClaimStalePending(ctx context.Context, updatedBefore time.Time, limit int) ([]*CommandStatus, error)
}

// StatusEvent is the wire form of a status change fanned out to
// subscribers.
type StatusEvent struct {
	CommandID    uuid.UUID    `json:"command_id"`
	TenantID     uuid.UUID    `json:"tenant_id"`
	State        CommandState `json:"state"`
	ResponseText string       `json:"response_text,omitempty"`
	SpeechRef    string       `json:"speech_ref,omitempty"`
	ErrorReason  string       `json:"error_reason,omitempty"`
	AttemptCount int          `json:"attempt_count"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

func (s *CommandStatus) Event() StatusEvent {
	return StatusEvent{
		CommandID:    s.CommandID,
		TenantID:     s.TenantID,
		State:        s.State,
		ResponseText: s.ResponseText,
		SpeechRef:    s.SpeechRef,
		ErrorReason:  s.ErrorReason,
		AttemptCount: s.AttemptCount,
		UpdatedAt:    s.UpdatedAt,
	}
}
