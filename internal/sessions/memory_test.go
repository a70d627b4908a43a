package sessions

import (
	"context"
	"fmt"
	"testing"
)

func TestMemoryStoreAppendAndHistory(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.AppendTurn(ctx, &Turn{ConversationID: "conv1", Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if err := store.AppendTurn(ctx, &Turn{ConversationID: "conv1", Role: "assistant", Content: "hello"}); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	rows, err := store.History(ctx, "conv1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Content != "hi" || rows[1].Content != "hello" {
		t.Errorf("rows out of order: %q, %q", rows[0].Content, rows[1].Content)
	}
	if rows[0].ID == "" {
		t.Error("row ID not assigned")
	}

	other, err := store.History(ctx, "conv2")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("unrelated conversation has %d rows", len(other))
	}
}

func TestMemoryStoreTrimsOldRows(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < maxRowsPerConversation+10; i++ {
		turn := &Turn{ConversationID: "conv", Role: "user", Content: fmt.Sprintf("msg %d", i)}
		if err := store.AppendTurn(ctx, turn); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	rows, err := store.History(ctx, "conv")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(rows) != maxRowsPerConversation {
		t.Fatalf("got %d rows, want %d", len(rows), maxRowsPerConversation)
	}
	if rows[0].Content != "msg 10" {
		t.Errorf("oldest kept row = %q, want msg 10", rows[0].Content)
	}
}
