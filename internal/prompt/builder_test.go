package prompt

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/relayhq/relay/pkg/models"
)

func testBuilder() *Builder {
	return NewBuilder(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func userMsg(content string) models.Message {
	return models.Message{Role: models.RoleUser, Content: content}
}

func assistantMsg(content string) models.Message {
	return models.Message{Role: models.RoleAssistant, Content: content}
}

func TestBuildSmallHistoryUnmodified(t *testing.T) {
	history := []models.Message{userMsg("hi")}
	budget := Budget{MaxTokens: 1000, MaxHistoryItems: 50, MaxChunks: 0}

	msgs, ids, err := testBuilder().Build("be helpful", history, nil, "how are you", budget)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("chunk ids = %v", ids)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].Role != models.RoleSystem || msgs[0].Content != "be helpful" {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1].Content != "hi" {
		t.Errorf("msgs[1] = %+v", msgs[1])
	}
	if msgs[2].Role != models.RoleUser || msgs[2].Content != "how are you" {
		t.Errorf("msgs[2] = %+v", msgs[2])
	}
}

func TestBuildEvictsOldestFirst(t *testing.T) {
	history := []models.Message{
		userMsg(strings.Repeat("a", 400)), // ~100 tokens, oldest
		assistantMsg(strings.Repeat("b", 400)),
		userMsg(strings.Repeat("c", 400)), // newest
	}
	// Room for roughly two history messages beside the user message.
	budget := Budget{MaxTokens: 220, MaxHistoryItems: 50}

	msgs, _, err := testBuilder().Build("", history, nil, "q", budget)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var kept []string
	for _, m := range msgs[:len(msgs)-1] {
		kept = append(kept, m.Content[:1])
	}
	// Newest two retained, in conversational order.
	if len(kept) != 2 || kept[0] != "b" || kept[1] != "c" {
		t.Errorf("kept = %v", kept)
	}
}

func TestBuildHonorsMaxHistoryItems(t *testing.T) {
	history := []models.Message{userMsg("1"), userMsg("2"), userMsg("3"), userMsg("4")}
	budget := Budget{MaxTokens: 10000, MaxHistoryItems: 2}

	msgs, _, err := testBuilder().Build("", history, nil, "q", budget)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].Content != "3" || msgs[1].Content != "4" {
		t.Errorf("kept = %q, %q", msgs[0].Content, msgs[1].Content)
	}
}

func TestBuildNeverOverBudget(t *testing.T) {
	counter := HeuristicCounter{}
	history := []models.Message{
		userMsg(strings.Repeat("x", 1000)),
		assistantMsg(strings.Repeat("y", 1000)),
		userMsg(strings.Repeat("z", 1000)),
	}
	chunks := []models.RetrievedChunk{
		{SourceID: "d1", Text: strings.Repeat("c", 800), Score: 0.9},
		{SourceID: "d2", Text: strings.Repeat("c", 800), Score: 0.8},
	}

	for _, maxTokens := range []int{100, 300, 600, 1200, 5000} {
		budget := Budget{MaxTokens: maxTokens, MaxHistoryItems: 50, MaxChunks: 2, TrimRatio: 0.5}
		msgs, _, err := testBuilder().Build("sys", history, chunks, "question", budget)
		if err != nil {
			if errors.Is(err, ErrBudgetExceeded) {
				continue
			}
			t.Fatalf("Build(max=%d): %v", maxTokens, err)
		}
		if got := counter.Count(msgs); got > maxTokens {
			t.Errorf("max=%d: assembled prompt costs %d tokens", maxTokens, got)
		}
	}
}

func TestBuildBudgetExceededNotSilentlyTruncated(t *testing.T) {
	budget := Budget{MaxTokens: 5}
	_, _, err := testBuilder().Build("a long system prompt", nil, nil, strings.Repeat("u", 100), budget)
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("err = %v, want ErrBudgetExceeded", err)
	}
}

func TestBuildChunksRankedByScore(t *testing.T) {
	chunks := []models.RetrievedChunk{
		{SourceID: "low", Text: "low score", Score: 0.1},
		{SourceID: "high", Text: "high score", Score: 0.9},
		{SourceID: "mid", Text: "mid score", Score: 0.5},
	}
	budget := Budget{MaxTokens: 10000, MaxChunks: 2}

	msgs, ids, err := testBuilder().Build("", nil, chunks, "q", budget)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(ids) != 2 || ids[0] != "high" || ids[1] != "mid" {
		t.Errorf("ids = %v", ids)
	}

	// Context block sits between history and the user message.
	block := msgs[len(msgs)-2]
	if !strings.Contains(block.Content, "high score") || strings.Contains(block.Content, "low score") {
		t.Errorf("context block = %q", block.Content)
	}
}

func TestBuildChunkAllowanceShrinksWhenBudgetLow(t *testing.T) {
	chunks := []models.RetrievedChunk{
		{SourceID: "a", Text: "aa", Score: 0.9},
		{SourceID: "b", Text: "bb", Score: 0.8},
		{SourceID: "c", Text: "cc", Score: 0.7},
		{SourceID: "d", Text: "dd", Score: 0.6},
	}
	// History consumes most of the budget, pushing remaining below the
	// TrimRatio floor; allowance drops from 4 to 2.
	history := []models.Message{userMsg(strings.Repeat("h", 280))}
	budget := Budget{MaxTokens: 100, MaxHistoryItems: 50, MaxChunks: 4, TrimRatio: 0.5}

	_, ids, err := testBuilder().Build("", history, chunks, "q", budget)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("included %d chunks (%v), want 2", len(ids), ids)
	}
}

func TestBuildNoSystemPrompt(t *testing.T) {
	msgs, _, err := testBuilder().Build("", nil, nil, "solo", Budget{MaxTokens: 100})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != models.RoleUser {
		t.Errorf("msgs = %+v", msgs)
	}
}

func TestHeuristicCounterCountsToolPayloads(t *testing.T) {
	msg := models.Message{
		Role:    models.RoleAssistant,
		Content: "abcd",
		ToolCalls: []models.ToolCall{
			{Name: "tool", Arguments: strings.Repeat("a", 12)},
		},
		ToolResults: []models.ToolResult{
			{Content: strings.Repeat("r", 8)},
		},
	}
	// (4 + 4 + 12 + 8) / 4 = 7
	if got := (HeuristicCounter{}).Count([]models.Message{msg}); got != 7 {
		t.Errorf("Count = %d, want 7", got)
	}
}
