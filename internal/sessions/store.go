// Package sessions defines the persistence collaborator boundary. The
// orchestration core reads conversation rows and writes finished turns
// through Store; it never opens its own transactions.
package sessions

import (
	"context"
	"time"
)

// Row is one persisted chat row exactly as the persistence layer supplies it.
// Role is the stored string (possibly legacy), and ToolCallsJSON is the raw
// stored tool-call payload, which may be malformed.
type Row struct {
	ID            string    `json:"id"`
	Role          string    `json:"role"`
	Content       string    `json:"content"`
	ToolCallsJSON []byte    `json:"tool_calls_json,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Turn is the finished tuple handed to the persistence layer once per logical
// turn: the final message, the document chunks that made it into the prompt,
// and the serialized tool calls of the turn.
type Turn struct {
	ConversationID   string
	Role             string
	Content          string
	ToolCallsJSON    []byte
	IncludedChunkIDs []string
}

// Store is the persistence collaborator contract.
type Store interface {
	// History returns the conversation's rows in chronological order.
	History(ctx context.Context, conversationID string) ([]Row, error)

	// AppendTurn persists a finished turn.
	AppendTurn(ctx context.Context, turn *Turn) error
}
