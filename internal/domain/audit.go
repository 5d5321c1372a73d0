package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SecurityEventType string

const (
	EventAccessGranted     SecurityEventType = "access_granted"
	EventAccessDenied      SecurityEventType = "access_denied"
	EventPromptBlocked     SecurityEventType = "prompt_blocked"
	EventDecryptionFailed  SecurityEventType = "decryption_failed"
	EventInvalidTransition SecurityEventType = "invalid_transition"
	EventUnauthenticated   SecurityEventType = "unauthenticated"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityHigh    Severity = "high"
)

// SecurityEvent is an immutable audit record of an access or pipeline
// decision, logged against the tenant that generated it.
type SecurityEvent struct {
	ID        uuid.UUID
	Timestamp time.Time
	EventType SecurityEventType
	TenantID  uuid.UUID
	UserID    uuid.UUID // uuid.Nil for system actors
	Severity  Severity
	Details   map[string]any
}

// Detail keys with special handling by the audit logger. A prompt never
// reaches the log in the clear; the log carries its digest instead.
const (
	DetailPrompt       = "prompt"
	DetailPromptDigest = "prompt_sha256"
	DetailPromptSealed = "prompt_sealed"
)

// AuditQuery filters a single tenant's audit trail. TenantID is mandatory.
type AuditQuery struct {
	TenantID  uuid.UUID
	From      time.Time
	To        time.Time
	EventType SecurityEventType // empty matches all
	Limit     int
}

type SecurityEventRepository interface {
	Append(ctx context.Context, e *SecurityEvent) error
	Query(ctx context.Context, q AuditQuery) ([]*SecurityEvent, error)
}
