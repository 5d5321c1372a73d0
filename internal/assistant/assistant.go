// Package assistant defines the AI capability the command worker drives:
// speech-to-text, prompt analysis, and text-to-speech. Models live behind a
// gateway; this package only classifies their failures.
package assistant

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrTransient marks failures worth retrying (timeouts, 5xx, throttling).
	ErrTransient = errors.New("assistant: transient failure")
	// ErrPermanent marks failures that will not succeed on retry.
	ErrPermanent = errors.New("assistant: permanent failure")
	// ErrInvalidRequest is a permanent failure caused by the input itself.
	ErrInvalidRequest = errors.New("assistant: invalid request")
)

// IsTransient reports whether err should be retried. Deadline expiry of a
// single attempt counts as transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

type TranscribeRequest struct {
	AudioRef string
	Language string
}

type Transcriber interface {
	Transcribe(ctx context.Context, req TranscribeRequest) (string, error)
}

type AnalyzeRequest struct {
	TenantID      uuid.UUID
	HouseID       uuid.UUID
	Prompt        string
	Language      string
	CorrelationID string
}

// Response is the canonical answer to a command. Every output channel
// (text, speech) is derived from Text.
type Response struct {
	Text   string `json:"text"`
	Intent string `json:"intent,omitempty"`
}

type Analyzer interface {
	Analyze(ctx context.Context, req AnalyzeRequest) (*Response, error)
}

// Synthesizer renders text to speech and returns a reference to the audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) (string, error)
}
