// Package command implements command intake, the processing state machine
// writes, and the asynchronous worker that drives the AI capability.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/domus/internal/authz"
	"github.com/gosuda/domus/internal/domain"
	"github.com/gosuda/domus/internal/ids"
	"github.com/gosuda/domus/internal/metrics"
)

// RejectReason is the stable code returned to callers for a refused submit.
type RejectReason string

const (
	RejectUnauthenticated  RejectReason = "unauthenticated"
	RejectTenantMismatch   RejectReason = "tenant_mismatch"
	RejectForbidden        RejectReason = "forbidden"
	RejectTooLong          RejectReason = "too_long"
	RejectEmptyPrompt      RejectReason = "empty_prompt"
	RejectSuspiciousPrompt RejectReason = "suspicious_prompt"
)

// Rejection is a synchronous intake refusal. It is a result, not a fault:
// boundary handlers map Reason onto a transport status.
type Rejection struct {
	Reason RejectReason
}

func (r *Rejection) Error() string { return "command rejected: " + string(r.Reason) }

// AsRejection extracts a *Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

const StatusAccepted = "accepted"

// Authorizer is the slice of the access guard intake needs.
type Authorizer interface {
	Authorize(ctx context.Context, p *domain.Principal, ref authz.ResourceRef, op authz.Operation) domain.AccessDecision
}

// Enqueuer pushes a command ID onto the work queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, id uuid.UUID) error
}

// TenantLookup supplies the tenant's default language for fallback.
type TenantLookup interface {
	Tenant(ctx context.Context, id uuid.UUID) (*domain.Tenant, error)
}

type SubmitRequest struct {
	Prompt   string
	Language string
	HouseID  uuid.UUID
	AudioRef string
}

type Accepted struct {
	CommandID     uuid.UUID
	CorrelationID string
	Status        string
}

// CancelResult reports the state after a cancel request. Applied is false
// when the command had already left pending.
type CancelResult struct {
	Status  *domain.CommandStatus
	Applied bool
}

// Intake validates and persists new commands and serves the caller-facing
// status operations.
type Intake struct {
	repo        domain.CommandRepository
	guard       Authorizer
	queue       Enqueuer
	detector    Detector
	recorder    Recorder
	tenants     TenantLookup
	policy      *Policy
	metrics     *metrics.Metrics
	transitions *transitions
	now         func() time.Time
}

func NewIntake(
	repo domain.CommandRepository,
	guard Authorizer,
	queue Enqueuer,
	detector Detector,
	recorder Recorder,
	tenants TenantLookup,
	policy *Policy,
	m *metrics.Metrics,
	notifiers ...StatusNotifier,
) *Intake {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if detector == nil {
		detector = NewDenyList(policy.DenyList)
	}
	return &Intake{
		repo:     repo,
		guard:    guard,
		queue:    queue,
		detector: detector,
		recorder: recorder,
		tenants:  tenants,
		policy:   policy,
		metrics:  m,
		transitions: &transitions{
			repo:      repo,
			recorder:  recorder,
			metrics:   m,
			notifiers: notifiers,
		},
		now: time.Now,
	}
}

// Submit runs the synchronous checks in order (access, length, language,
// content) and, on success, stores the command as pending and enqueues it.
func (in *Intake) Submit(ctx context.Context, p *domain.Principal, req SubmitRequest) (*Accepted, error) {
	acc, err := in.submit(ctx, p, req)

	outcome := StatusAccepted
	if r, ok := AsRejection(err); ok {
		outcome = string(r.Reason)
	} else if err != nil {
		outcome = "error"
	}
	in.metrics.CommandSubmitted(outcome)

	return acc, err
}

func (in *Intake) submit(ctx context.Context, p *domain.Principal, req SubmitRequest) (*Accepted, error) {
	if p == nil {
		return nil, &Rejection{Reason: RejectUnauthenticated}
	}

	decision := in.guard.Authorize(ctx, p, authz.ResourceRef{Type: authz.ResourceHouse, ID: req.HouseID}, authz.OpCommand)
	if !decision.Allowed {
		if decision.Reason == domain.ReasonMissingPermission {
			return nil, &Rejection{Reason: RejectForbidden}
		}
		return nil, &Rejection{Reason: RejectTenantMismatch}
	}

	prompt := strings.TrimSpace(req.Prompt)
	audioRef := strings.TrimSpace(req.AudioRef)

	if utf8.RuneCountInString(prompt) > in.policy.MaxPromptLength {
		return nil, &Rejection{Reason: RejectTooLong}
	}
	if prompt == "" && audioRef == "" {
		return nil, &Rejection{Reason: RejectEmptyPrompt}
	}

	language := in.resolveLanguage(ctx, p, req.Language)

	if prompt != "" {
		if det := in.detector.Detect(ctx, prompt); det.Blocked {
			in.recordBlocked(ctx, p, req.HouseID, prompt, det)
			return nil, &Rejection{Reason: RejectSuspiciousPrompt}
		}
	}

	now := in.now().UTC()
	cmd := &domain.Command{
		ID:            uuid.New(),
		TenantID:      p.TenantID,
		HouseID:       req.HouseID,
		UserID:        p.UserID,
		Kind:          domain.CommandKindText,
		Prompt:        prompt,
		Language:      language,
		CorrelationID: ids.New(),
		SubmittedAt:   now,
	}
	if audioRef != "" {
		cmd.Kind = domain.CommandKindAudio
		cmd.AudioRef = audioRef
	}

	status := &domain.CommandStatus{
		CommandID: cmd.ID,
		TenantID:  cmd.TenantID,
		UserID:    cmd.UserID,
		State:     domain.CommandStatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := in.repo.CreateWithStatus(ctx, cmd, status); err != nil {
		return nil, fmt.Errorf("command.Intake.Submit: %w", err)
	}

	if err := in.queue.Enqueue(ctx, cmd.ID); err != nil {
		log.Error().Err(err).
			Str("tenant_id", cmd.TenantID.String()).
			Str("user_id", cmd.UserID.String()).
			Str("command_id", cmd.ID.String()).
			Msg("command.Intake.Submit: enqueue failed")

		if !in.abandon(ctx, cmd) {
			// Still pending: the sweeper will deliver it, so a retry by the
			// caller would run the command twice.
			return &Accepted{CommandID: cmd.ID, CorrelationID: cmd.CorrelationID, Status: StatusAccepted}, nil
		}
		return nil, fmt.Errorf("command.Intake.Submit: enqueue: %w", err)
	}

	log.Info().
		Str("tenant_id", cmd.TenantID.String()).
		Str("user_id", cmd.UserID.String()).
		Str("command_id", cmd.ID.String()).
		Str("correlation_id", cmd.CorrelationID).
		Str("kind", string(cmd.Kind)).
		Msg("command accepted")

	return &Accepted{CommandID: cmd.ID, CorrelationID: cmd.CorrelationID, Status: StatusAccepted}, nil
}

// abandon fails a command whose enqueue failed so the sweeper never delivers
// it behind the caller's back. It reports false when the command is no
// longer pending or could not be failed; either way it will still run.
func (in *Intake) abandon(ctx context.Context, cmd *domain.Command) bool {
	_, err := in.transitions.apply(context.WithoutCancel(ctx), cmd.TenantID, cmd.UserID, cmd.ID,
		domain.CommandStatePending,
		domain.StatusUpdate{State: domain.CommandStateFailed, ErrorReason: domain.FailureEnqueueFailed})
	if err != nil {
		log.Warn().Err(err).
			Str("tenant_id", cmd.TenantID.String()).
			Str("command_id", cmd.ID.String()).
			Msg("command.Intake.Submit: could not abandon unqueued command, leaving it to the sweeper")
		return false
	}
	return true
}

// resolveLanguage substitutes the tenant default for an unsupported tag.
// A fallback is a policy decision, not a security event.
func (in *Intake) resolveLanguage(ctx context.Context, p *domain.Principal, declared string) string {
	if declared != "" && in.policy.SupportsLanguage(declared) {
		return normalizeLanguage(declared)
	}

	fallback := in.policy.DefaultLanguage
	if in.tenants != nil {
		t, err := in.tenants.Tenant(ctx, p.TenantID)
		if err == nil && in.policy.SupportsLanguage(t.DefaultLanguage) {
			fallback = normalizeLanguage(t.DefaultLanguage)
		}
	}

	if declared != "" {
		log.Info().
			Str("tenant_id", p.TenantID.String()).
			Str("user_id", p.UserID.String()).
			Str("declared", declared).
			Str("language", fallback).
			Msg("language_fallback")
	}
	return fallback
}

func (in *Intake) recordBlocked(ctx context.Context, p *domain.Principal, houseID uuid.UUID, prompt string, det Detection) {
	log.Warn().
		Str("tenant_id", p.TenantID.String()).
		Str("user_id", p.UserID.String()).
		Str("house_id", houseID.String()).
		Str("match", det.Match).
		Msg("command.Intake.Submit: prompt blocked")

	if in.recorder == nil {
		return
	}
	in.recorder.Record(ctx, &domain.SecurityEvent{
		EventType: domain.EventPromptBlocked,
		TenantID:  p.TenantID,
		UserID:    p.UserID,
		Severity:  domain.SeverityHigh,
		Details: map[string]any{
			"stage":             "intake",
			"house_id":          houseID.String(),
			"match":             det.Match,
			domain.DetailPrompt: prompt,
		},
	})
}

// Poll returns the command's status. A command in another tenant is
// reported exactly like a missing one.
func (in *Intake) Poll(ctx context.Context, p *domain.Principal, commandID uuid.UUID) (*domain.CommandStatus, error) {
	decision := in.guard.Authorize(ctx, p, authz.ResourceRef{Type: authz.ResourceCommand, ID: commandID}, authz.OpRead)
	if err := decision.Err(); err != nil {
		return nil, fmt.Errorf("command.Intake.Poll: %w", err)
	}

	status, err := in.repo.GetStatus(ctx, p.TenantID, commandID)
	if err != nil {
		return nil, fmt.Errorf("command.Intake.Poll: %w", err)
	}
	return status, nil
}

// Cancel moves a pending command to cancelled. Once processing has begun
// the request is accepted without effect.
func (in *Intake) Cancel(ctx context.Context, p *domain.Principal, commandID uuid.UUID) (*CancelResult, error) {
	decision := in.guard.Authorize(ctx, p, authz.ResourceRef{Type: authz.ResourceCommand, ID: commandID}, authz.OpCancel)
	if err := decision.Err(); err != nil {
		return nil, fmt.Errorf("command.Intake.Cancel: %w", err)
	}

	current, err := in.repo.GetStatus(ctx, p.TenantID, commandID)
	if err != nil {
		return nil, fmt.Errorf("command.Intake.Cancel: %w", err)
	}
	if current.State != domain.CommandStatePending {
		return &CancelResult{Status: current}, nil
	}

	status, err := in.transitions.apply(ctx, p.TenantID, p.UserID, commandID, domain.CommandStatePending,
		domain.StatusUpdate{State: domain.CommandStateCancelled})
	if lostRace(err) {
		// A worker picked it up between the read and the write.
		current, err = in.repo.GetStatus(ctx, p.TenantID, commandID)
		if err != nil {
			return nil, fmt.Errorf("command.Intake.Cancel: %w", err)
		}
		return &CancelResult{Status: current}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("command.Intake.Cancel: %w", err)
	}

	return &CancelResult{Status: status, Applied: true}, nil
}

// List returns the statuses of a house's commands, newest first.
func (in *Intake) List(ctx context.Context, p *domain.Principal, houseID uuid.UUID, limit, offset int) ([]*domain.CommandStatus, error) {
	decision := in.guard.Authorize(ctx, p, authz.ResourceRef{Type: authz.ResourceHouse, ID: houseID}, authz.OpRead)
	if err := decision.Err(); err != nil {
		return nil, fmt.Errorf("command.Intake.List: %w", err)
	}

	statuses, err := in.repo.ListByHouse(ctx, p.TenantID, houseID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("command.Intake.List: %w", err)
	}
	return statuses, nil
}
