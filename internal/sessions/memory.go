package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxRowsPerConversation limits rows kept per conversation so long-lived
// local runs do not grow without bound. Oldest rows are trimmed first.
const maxRowsPerConversation = 1000

// MemoryStore provides an in-memory Store implementation for local runs and
// tests.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string][]Row
}

// NewMemoryStore creates a new in-memory conversation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[string][]Row{}}
}

func (m *MemoryStore) History(ctx context.Context, conversationID string) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.rows[conversationID]
	out := make([]Row, len(stored))
	copy(out, stored)
	return out, nil
}

func (m *MemoryStore) AppendTurn(ctx context.Context, turn *Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row := Row{
		ID:            uuid.NewString(),
		Role:          turn.Role,
		Content:       turn.Content,
		ToolCallsJSON: turn.ToolCallsJSON,
		CreatedAt:     time.Now(),
	}
	rows := append(m.rows[turn.ConversationID], row)
	if len(rows) > maxRowsPerConversation {
		rows = rows[len(rows)-maxRowsPerConversation:]
	}
	m.rows[turn.ConversationID] = rows
	return nil
}
