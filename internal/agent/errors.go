package agent

import (
	"errors"
	"fmt"

	"github.com/relayhq/relay/internal/prompt"
	"github.com/relayhq/relay/pkg/models"
)

// Sentinel errors for orchestration failures.
var (
	// ErrNoProvider indicates no provider is configured.
	ErrNoProvider = errors.New("no provider configured")

	// ErrRateLimited indicates the quota gate rejected a round-trip.
	ErrRateLimited = errors.New("rate limited")

	// ErrToolLoopExceeded indicates the round-trip ceiling was reached
	// while the provider still requested tools.
	ErrToolLoopExceeded = errors.New("tool loop exceeded")
)

// StreamError wraps a transport or provider failure observed while reading
// the response stream.
type StreamError struct {
	// Kind distinguishes connection-level failures from provider-level
	// ones (non-2xx, malformed chunk).
	Kind models.ErrorKind

	// Cause is the underlying error.
	Cause error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream error (%s): %v", e.Kind, e.Cause)
}

func (e *StreamError) Unwrap() error {
	return e.Cause
}

// NewTransportError wraps a connection-level failure (reset, timeout, EOF
// mid-stream).
func NewTransportError(cause error) *StreamError {
	return &StreamError{Kind: models.ErrKindTransport, Cause: cause}
}

// NewProviderError wraps a provider-level failure (non-2xx, malformed chunk).
func NewProviderError(cause error) *StreamError {
	return &StreamError{Kind: models.ErrKindProvider, Cause: cause}
}

// LoopPhase names a phase of the orchestration loop for error context.
type LoopPhase string

const (
	PhaseBuildPrompt LoopPhase = "build_prompt"
	PhaseRateCheck   LoopPhase = "rate_check"
	PhaseStream      LoopPhase = "stream"
	PhaseDispatch    LoopPhase = "dispatch_tools"
)

// LoopError carries the phase and iteration where a turn failed.
type LoopError struct {
	Phase     LoopPhase
	Iteration int
	Cause     error
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("loop error at %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
}

func (e *LoopError) Unwrap() error {
	return e.Cause
}

// errorKind classifies an error for the outbound Error event.
func errorKind(err error) models.ErrorKind {
	var se *StreamError
	switch {
	case errors.As(err, &se):
		return se.Kind
	case errors.Is(err, ErrRateLimited):
		return models.ErrKindRateLimited
	case errors.Is(err, ErrToolLoopExceeded):
		return models.ErrKindLoopExceeded
	case errors.Is(err, prompt.ErrBudgetExceeded):
		return models.ErrKindBudget
	}
	return models.ErrKindProvider
}
