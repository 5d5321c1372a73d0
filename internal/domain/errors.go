package domain

import "errors"

// Sentinel errors for the domain layer.
var (
	ErrNotFound     = errors.New("domain: not found")
	ErrConflict     = errors.New("domain: conflict")
	ErrUnauthorized = errors.New("domain: unauthorized")
	ErrForbidden    = errors.New("domain: forbidden")

	// ErrUnauthenticated means no valid principal could be resolved from the credential.
	ErrUnauthenticated = errors.New("domain: unauthenticated")
	// ErrInvalidTenant means the credential names a tenant that is missing or inactive.
	ErrInvalidTenant = errors.New("domain: invalid tenant")
)
