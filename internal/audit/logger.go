// Package audit is the append-only security event sink. Recording never
// fails the caller: persistence errors are logged and counted instead.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/domus/internal/domain"
	"github.com/gosuda/domus/internal/metrics"
)

const defaultWriteTimeout = 5 * time.Second

// Sealer encrypts a value for a tenant. *secrets.Vault satisfies it.
type Sealer interface {
	Seal(tenantID uuid.UUID, plaintext string) (string, error)
}

// Logger records security events to the structured log and the event store.
type Logger struct {
	repo         domain.SecurityEventRepository
	metrics      *metrics.Metrics
	sealer       Sealer
	writeTimeout time.Duration
	now          func() time.Time
}

type Option func(*Logger)

// WithSealer stores prompt details sealed, matching how command prompts are
// kept at rest.
func WithSealer(s Sealer) Option {
	return func(l *Logger) { l.sealer = s }
}

// NewLogger creates a Logger. repo may be nil, in which case events only go
// to the structured log.
func NewLogger(repo domain.SecurityEventRepository, m *metrics.Metrics, opts ...Option) *Logger {
	l := &Logger{
		repo:         repo,
		metrics:      m,
		writeTimeout: defaultWriteTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends a copy of e. The caller's context cancellation does not
// abort the write.
func (l *Logger) Record(ctx context.Context, e *domain.SecurityEvent) {
	if e == nil {
		l.metrics.AuditWriteFailed()
		log.Error().Msg("audit.Record: nil event")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.metrics.AuditWriteFailed()
			log.Error().Interface("panic", r).Str("event_type", string(e.EventType)).Msg("audit.Record: recovered")
		}
	}()

	event := *e
	event.Details = maps.Clone(e.Details)
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}
	if event.Severity == "" {
		event.Severity = domain.SeverityInfo
	}

	logFields := l.protectPrompt(&event)

	log.WithLevel(levelFor(event.Severity)).
		Str("component", "audit").
		Str("event_id", event.ID.String()).
		Str("event_type", string(event.EventType)).
		Str("severity", string(event.Severity)).
		Str("tenant_id", event.TenantID.String()).
		Str("user_id", event.UserID.String()).
		Fields(logFields).
		Msg("security event")

	if l.repo == nil {
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.writeTimeout)
	defer cancel()

	if err := l.repo.Append(writeCtx, &event); err != nil {
		l.metrics.AuditWriteFailed()
		log.Error().Err(err).
			Str("event_id", event.ID.String()).
			Str("event_type", string(event.EventType)).
			Str("tenant_id", event.TenantID.String()).
			Msg("audit.Record: failed to persist security event")
	}
}

// protectPrompt replaces a plaintext prompt in e.Details with its sealed form
// when a sealer is configured, and returns the details to log, which carry
// only the digest.
func (l *Logger) protectPrompt(e *domain.SecurityEvent) map[string]any {
	prompt, ok := e.Details[domain.DetailPrompt].(string)
	if !ok {
		return e.Details
	}

	sum := sha256.Sum256([]byte(prompt))
	digest := hex.EncodeToString(sum[:])
	e.Details[domain.DetailPromptDigest] = digest

	if l.sealer != nil {
		sealed, err := l.sealer.Seal(e.TenantID, prompt)
		if err != nil {
			log.Error().Err(err).Str("tenant_id", e.TenantID.String()).Msg("audit.Record: could not seal prompt, keeping digest only")
			delete(e.Details, domain.DetailPrompt)
		} else {
			e.Details[domain.DetailPrompt] = sealed
			e.Details[domain.DetailPromptSealed] = true
		}
	}

	logFields := maps.Clone(e.Details)
	delete(logFields, domain.DetailPrompt)
	return logFields
}

func levelFor(s domain.Severity) zerolog.Level {
	switch s {
	case domain.SeverityWarning:
		return zerolog.WarnLevel
	case domain.SeverityError, domain.SeverityHigh:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
