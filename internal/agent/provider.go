// Package agent implements the chat-completion orchestration core: the
// provider contract, the streaming response assembler, the tool catalog and
// dispatcher, and the bounded tool-call loop.
package agent

import (
	"context"

	"github.com/relayhq/relay/pkg/models"
)

// Provider is the upstream language-model backend contract.
//
// Implementations must be safe for concurrent use; each Stream call owns an
// independent response stream.
type Provider interface {
	// Stream sends a completion request and returns the raw chunk stream.
	// The channel is closed when the stream ends; a chunk with Err set is
	// always the last one delivered.
	Stream(ctx context.Context, req *Request) (<-chan *StreamChunk, error)

	// Name returns the provider identifier used for logging and metrics.
	Name() string
}

// Request contains all parameters for one provider round-trip. A system
// message, when present, is the first entry of Messages; providers translate
// it to their native system-prompt mechanism.
type Request struct {
	Model     string           `json:"model"`
	Messages  []models.Message `json:"messages"`
	Tools     []Tool           `json:"-"`
	MaxTokens int              `json:"max_tokens,omitempty"`
}

// StreamChunk is one unit of the provider's streaming response, reduced to
// the minimum shape the assembler requires: an optional text delta, zero or
// more tool-call fragments, and an optional finish signal. Field names on the
// wire are provider-specific; providers map them onto this struct.
type StreamChunk struct {
	// TextDelta is a partial text fragment, possibly empty.
	TextDelta string

	// ToolFragments carries incremental tool-call pieces keyed by Index.
	ToolFragments []ToolFragment

	// FinishReason is non-empty on the terminal chunk of a successful
	// stream (e.g. "stop", "tool_calls").
	FinishReason string

	// Usage carries token counts when the provider reports them,
	// typically on the final chunk.
	Usage *TokenUsage

	// Err reports a transport or provider failure. The stream is dead
	// after a chunk with Err set.
	Err error
}

// ToolFragment is one incremental piece of a streamed tool call. ID and Name
// arrive on the first fragment for an index; later fragments only extend
// Arguments.
type ToolFragment struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// TokenUsage reports tokens consumed by one round-trip.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
}
