package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gosuda/domus/internal/assistant"
	"github.com/gosuda/domus/internal/domain"
	"github.com/gosuda/domus/internal/metrics"
	"github.com/gosuda/domus/internal/secrets"
)

var tracer = otel.Tracer("github.com/gosuda/domus/internal/command") //nolint:gochecknoglobals // otel convention

// Queue is the at-least-once work queue. Each consumer owns a processing
// list; a message stays there until acked.
type Queue interface {
	Enqueuer
	// Dequeue blocks up to timeout. ok is false when nothing arrived.
	Dequeue(ctx context.Context, consumer string, timeout time.Duration) (id uuid.UUID, ok bool, err error)
	Ack(ctx context.Context, consumer string, id uuid.UUID) error
	Nack(ctx context.Context, consumer string, id uuid.UUID) error
	// Recover moves a consumer's unacked messages back to pending.
	Recover(ctx context.Context, consumer string) (int, error)
}

// Capabilities groups the AI collaborators. Transcriber is required for
// audio commands; Synthesizer is optional.
type Capabilities struct {
	Transcriber assistant.Transcriber
	Analyzer    assistant.Analyzer
	Synthesizer assistant.Synthesizer
}

type WorkerConfig struct {
	Name           string // consumer name prefix, unique per process
	Concurrency    int
	MaxAttempts    int
	AttemptTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	PollTimeout    time.Duration
}

func (c *WorkerConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "worker"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 30 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 5 * time.Second
	}
}

// Worker consumes the queue and drives commands to a terminal state.
type Worker struct {
	cfg         WorkerConfig
	queue       Queue
	repo        domain.CommandRepository
	ai          Capabilities
	detector    Detector
	recorder    Recorder
	metrics     *metrics.Metrics
	transitions *transitions
	now         func() time.Time
}

func NewWorker(
	cfg WorkerConfig,
	queue Queue,
	repo domain.CommandRepository,
	ai Capabilities,
	detector Detector,
	recorder Recorder,
	m *metrics.Metrics,
	notifiers ...StatusNotifier,
) *Worker {
	cfg.setDefaults()
	if detector == nil {
		detector = NewDenyList(DefaultPolicy().DenyList)
	}
	return &Worker{
		cfg:      cfg,
		queue:    queue,
		repo:     repo,
		ai:       ai,
		detector: detector,
		recorder: recorder,
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

// Run starts Concurrency consumers and blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := range w.cfg.Concurrency {
		consumer := fmt.Sprintf("%s-%d", w.cfg.Name, i)

		if n, err := w.queue.Recover(ctx, consumer); err != nil {
			return fmt.Errorf("command.Worker.Run: recover %s: %w", consumer, err)
		} else if n > 0 {
			log.Info().Str("consumer", consumer).Int("count", n).Msg("worker: requeued unacked commands")
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			w.consume(ctx, consumer)
		}()
	}

	log.Info().Str("name", w.cfg.Name).Int("concurrency", w.cfg.Concurrency).Msg("worker started")
	wg.Wait()
	log.Info().Str("name", w.cfg.Name).Msg("worker stopped")

	return nil
}

func (w *Worker) consume(ctx context.Context, consumer string) {
	for ctx.Err() == nil {
		id, ok, err := w.queue.Dequeue(ctx, consumer, w.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("consumer", consumer).Msg("worker: dequeue failed")
			sleep(ctx, time.Second)
			continue
		}
		if !ok {
			continue
		}

		err = w.Process(ctx, id)
		switch {
		case err == nil:
			if ackErr := w.queue.Ack(ctx, consumer, id); ackErr != nil {
				log.Error().Err(ackErr).Str("command_id", id.String()).Msg("worker: ack failed")
			}
		case ctx.Err() != nil:
			// Left in the processing list; Recover hands it back on restart.
			return
		default:
			log.Error().Err(err).Str("command_id", id.String()).Msg("worker: processing failed, requeueing")
			if nackErr := w.queue.Nack(ctx, consumer, id); nackErr != nil {
				log.Error().Err(nackErr).Str("command_id", id.String()).Msg("worker: nack failed")
			}
		}
	}
}

// Process drives one delivery of a command. It returns nil whenever the
// message can be acked, including redelivery of a command another consumer
// owns or one that is already terminal. A non-nil error means the message
// should be retried.
func (w *Worker) Process(ctx context.Context, id uuid.UUID) error {
	start := w.now()

	cmd, err := w.repo.Lookup(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn().Str("command_id", id.String()).Msg("worker: command vanished, dropping message")
		return nil
	}
	var unreadable *secrets.DecryptionError
	if errors.As(err, &unreadable) {
		return w.failUnreadable(ctx, id, unreadable)
	}
	if err != nil {
		return fmt.Errorf("command.Worker.Process: %w", err)
	}

	ctx, span := tracer.Start(ctx, "command.process",
		trace.WithAttributes(
			attribute.String("tenant_id", cmd.TenantID.String()),
			attribute.String("command_id", cmd.ID.String()),
			attribute.String("correlation_id", cmd.CorrelationID),
			attribute.String("kind", string(cmd.Kind)),
		))
	defer span.End()

	status, err := w.repo.GetStatus(ctx, cmd.TenantID, cmd.ID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("command.Worker.Process: %w", err)
	}

	if status.State.IsTerminal() {
		w.logger(cmd).Debug().Str("state", string(status.State)).Msg("worker: redelivered terminal command, skipping")
		span.SetAttributes(attribute.Bool("skipped", true))
		return nil
	}
	if status.State != domain.CommandStatePending {
		w.logger(cmd).Info().Str("state", string(status.State)).Msg("worker: command owned by another consumer, skipping")
		span.SetAttributes(attribute.Bool("skipped", true))
		return nil
	}

	first := domain.CommandStateAnalyzing
	if cmd.Kind == domain.CommandKindAudio {
		first = domain.CommandStateTranscribing
	}
	if _, err := w.transitions.apply(ctx, cmd.TenantID, cmd.UserID, cmd.ID, domain.CommandStatePending,
		domain.StatusUpdate{State: first}); err != nil {
		if lostRace(err) {
			w.logger(cmd).Info().Msg("worker: lost claim race, skipping")
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("command.Worker.Process: claim: %w", err)
	}

	final, err := w.run(ctx, cmd, first)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			return fmt.Errorf("command.Worker.Process: %w", err)
		}
		// The claim succeeded, so redelivery would be skipped anyway; the
		// sweeper times the command out if nothing else moves it.
		if errors.Is(err, domain.ErrTerminalState) {
			w.logger(cmd).Warn().Err(err).Msg("worker: outcome discarded, command already terminal")
			return nil
		}
		w.logger(cmd).Error().Err(err).Msg("worker: could not record outcome")
		return nil
	}

	span.SetAttributes(attribute.String("state", string(final)))
	w.metrics.ObserveProcessing(w.now().Sub(start))
	return nil
}

// run executes the pipeline after the claim and returns the terminal state
// written. An error means the terminal write itself failed.
func (w *Worker) run(ctx context.Context, cmd *domain.Command, state domain.CommandState) (domain.CommandState, error) {
	prompt := cmd.Prompt

	if cmd.Kind == domain.CommandKindAudio {
		if w.ai.Transcriber == nil {
			return w.fail(ctx, cmd, state, domain.FailureInvalidRequest)
		}

		transcript, err := invoke(ctx, w, cmd, stageTranscribe, func(ctx context.Context) (string, error) {
			return w.ai.Transcriber.Transcribe(ctx, assistant.TranscribeRequest{AudioRef: cmd.AudioRef, Language: cmd.Language})
		})
		if err != nil {
			if ctx.Err() != nil {
				return state, err
			}
			return w.fail(ctx, cmd, state, failureReason(err, domain.FailureTranscriptionFailed))
		}

		if det := w.detector.Detect(ctx, transcript); det.Blocked {
			w.recordBlocked(ctx, cmd, transcript, det)
			return w.fail(ctx, cmd, state, domain.FailureSuspiciousPrompt)
		}

		if _, err := w.transitions.apply(ctx, cmd.TenantID, cmd.UserID, cmd.ID, state,
			domain.StatusUpdate{State: domain.CommandStateAnalyzing}); err != nil {
			return state, err
		}
		state = domain.CommandStateAnalyzing
		prompt = transcript
	}

	resp, err := invoke(ctx, w, cmd, stageAnalyze, func(ctx context.Context) (*assistant.Response, error) {
		return w.ai.Analyzer.Analyze(ctx, assistant.AnalyzeRequest{
			TenantID:      cmd.TenantID,
			HouseID:       cmd.HouseID,
			Prompt:        prompt,
			Language:      cmd.Language,
			CorrelationID: cmd.CorrelationID,
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return state, err
		}
		return w.fail(ctx, cmd, state, failureReason(err, domain.FailureCapabilityError))
	}

	update := domain.StatusUpdate{State: domain.CommandStateCompleted, ResponseText: resp.Text}

	// Speech is rendered from the same canonical text; losing it degrades
	// the command to a text-only answer.
	if w.ai.Synthesizer != nil {
		ref, err := invoke(ctx, w, cmd, stageSynthesize, func(ctx context.Context) (string, error) {
			return w.ai.Synthesizer.Synthesize(ctx, resp.Text, cmd.Language)
		})
		if err != nil {
			w.logger(cmd).Warn().Err(err).Msg("worker: synthesis failed, completing with text only")
		} else {
			update.SpeechRef = ref
		}
	}

	if _, err := w.transitions.apply(ctx, cmd.TenantID, cmd.UserID, cmd.ID, state, update); err != nil {
		return state, err
	}
	return domain.CommandStateCompleted, nil
}

func (w *Worker) fail(ctx context.Context, cmd *domain.Command, from domain.CommandState, reason string) (domain.CommandState, error) {
	// A cancelled caller context must not prevent recording the outcome.
	ctx = context.WithoutCancel(ctx)
	if _, err := w.transitions.apply(ctx, cmd.TenantID, cmd.UserID, cmd.ID, from,
		domain.StatusUpdate{State: domain.CommandStateFailed, ErrorReason: reason}); err != nil {
		return from, err
	}
	return domain.CommandStateFailed, nil
}

// failUnreadable handles a command whose sealed prompt cannot be opened:
// the event is recorded and a still-pending command is failed so the
// sweeper stops requeueing it.
func (w *Worker) failUnreadable(ctx context.Context, id uuid.UUID, de *secrets.DecryptionError) error {
	log.Error().Err(de).Str("tenant_id", de.TenantID.String()).Str("command_id", id.String()).
		Msg("worker: command prompt could not be decrypted")

	if w.recorder != nil {
		w.recorder.Record(ctx, &domain.SecurityEvent{
			EventType: domain.EventDecryptionFailed,
			TenantID:  de.TenantID,
			Severity:  domain.SeverityError,
			Details:   map[string]any{"command_id": id.String(), "field": "prompt"},
		})
	}

	status, err := w.repo.GetStatus(ctx, de.TenantID, id)
	if err != nil {
		return fmt.Errorf("command.Worker.Process: %w", err)
	}
	if status.State != domain.CommandStatePending {
		return nil
	}
	_, err = w.transitions.apply(ctx, status.TenantID, status.UserID, id, domain.CommandStatePending,
		domain.StatusUpdate{State: domain.CommandStateFailed, ErrorReason: domain.FailureInvalidRequest})
	if err != nil && !lostRace(err) {
		return fmt.Errorf("command.Worker.Process: %w", err)
	}
	return nil
}

func (w *Worker) recordBlocked(ctx context.Context, cmd *domain.Command, transcript string, det Detection) {
	w.logger(cmd).Warn().Str("match", det.Match).Msg("worker: transcript blocked")

	if w.recorder == nil {
		return
	}
	w.recorder.Record(ctx, &domain.SecurityEvent{
		EventType: domain.EventPromptBlocked,
		TenantID:  cmd.TenantID,
		UserID:    cmd.UserID,
		Severity:  domain.SeverityHigh,
		Details: map[string]any{
			"stage":             "transcript",
			"command_id":        cmd.ID.String(),
			"house_id":          cmd.HouseID.String(),
			"match":             det.Match,
			domain.DetailPrompt: transcript,
		},
	})
}

// Capability stages, used as metric labels.
const (
	stageTranscribe = "transcribe"
	stageAnalyze    = "analyze"
	stageSynthesize = "synthesize"
)

// errRetriesExhausted wraps the last transient error once MaxAttempts is
// reached.
var errRetriesExhausted = errors.New("retries exhausted") //nolint:gochecknoglobals // sentinel error

// invoke calls fn with a per-attempt timeout, retrying transient failures
// with exponential backoff. Transcription and analysis attempts are counted
// on the status row; speech synthesis is not.
func invoke[T any](ctx context.Context, w *Worker, cmd *domain.Command, stage string, fn func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.InitialBackoff
	b.MaxInterval = w.cfg.MaxBackoff

	attempt := 0
	lastTransient := false

	op := func() (T, error) {
		var zero T
		attempt++

		if stage != stageSynthesize {
			if _, err := w.repo.IncrementAttempts(ctx, cmd.TenantID, cmd.ID); err != nil {
				w.logger(cmd).Warn().Err(err).Msg("worker: could not persist attempt count")
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.AttemptTimeout)
		defer cancel()

		v, err := fn(attemptCtx)
		if err == nil {
			w.metrics.CapabilityCall(stage, "ok")
			w.logger(cmd).Info().Str("stage", stage).Int("attempt", attempt).Msg("worker: capability call succeeded")
			return v, nil
		}

		lastTransient = assistant.IsTransient(err) && ctx.Err() == nil
		result := "permanent"
		if lastTransient {
			result = "transient"
		}
		w.metrics.CapabilityCall(stage, result)
		w.logger(cmd).Warn().Err(err).Str("stage", stage).Int("attempt", attempt).Str("result", result).Msg("worker: capability call failed")

		if !lastTransient {
			return zero, backoff.Permanent(err)
		}
		return zero, err
	}

	v, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(w.cfg.MaxAttempts)), //nolint:gosec // validated positive
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil && lastTransient && attempt >= w.cfg.MaxAttempts {
		return v, fmt.Errorf("%s: %w: %w", stage, errRetriesExhausted, err)
	}
	if err != nil {
		return v, fmt.Errorf("%s: %w", stage, err)
	}
	return v, nil
}

// failureReason maps a capability error onto a stable error_reason.
// fallback is used for permanent failures without a more specific kind.
func failureReason(err error, fallback string) string {
	switch {
	case errors.Is(err, errRetriesExhausted):
		return domain.FailureRetriesExhausted
	case errors.Is(err, assistant.ErrInvalidRequest):
		return domain.FailureInvalidRequest
	case errors.Is(err, context.DeadlineExceeded):
		return domain.FailureTimeout
	default:
		return fallback
	}
}

func (w *Worker) logger(cmd *domain.Command) *zerolog.Logger {
	l := log.With().
		Str("tenant_id", cmd.TenantID.String()).
		Str("user_id", cmd.UserID.String()).
		Str("command_id", cmd.ID.String()).
		Logger()
	return &l
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
