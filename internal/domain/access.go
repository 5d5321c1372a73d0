package domain

import (
	"fmt"

	"github.com/google/uuid"
)

type DecisionReason string

const (
	ReasonOK                DecisionReason = "ok"
	ReasonNotFound          DecisionReason = "not_found"
	ReasonTenantMismatch    DecisionReason = "tenant_mismatch"
	ReasonMissingPermission DecisionReason = "missing_permission"
)

// AccessDecision is the outcome of one guard evaluation. It is logged, never
// persisted.
type AccessDecision struct {
	Allowed      bool
	Reason       DecisionReason
	ResourceType string
	ResourceID   uuid.UUID
	Operation    string
}

// Err translates a denial into the error a caller may see. Tenant mismatch
// and not found collapse to the same ErrNotFound so another tenant's
// resources cannot be enumerated.
func (d AccessDecision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonMissingPermission:
		return fmt.Errorf("%s %s: %w", d.ResourceType, d.Operation, ErrForbidden)
	default:
		return fmt.Errorf("%s: %w", d.ResourceType, ErrNotFound)
	}
}
