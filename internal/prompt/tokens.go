// Package prompt assembles bounded provider prompts from conversation
// history and retrieved document chunks under a token budget.
package prompt

import (
	"github.com/relayhq/relay/pkg/models"
)

// CharsPerToken is the approximate character-to-token ratio used by the
// heuristic estimator.
const CharsPerToken = 4

// Counter estimates the token cost of a message list. The production
// deployment plugs in its external tokenizer; HeuristicCounter is the
// default.
type Counter interface {
	Count(msgs []models.Message) int
}

// CounterFunc adapts a plain function to the Counter interface.
type CounterFunc func(msgs []models.Message) int

func (f CounterFunc) Count(msgs []models.Message) int { return f(msgs) }

// HeuristicCounter estimates tokens at ~4 characters per token, counting
// message content, tool-call arguments, and tool-result payloads.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(msgs []models.Message) int {
	total := 0
	for i := range msgs {
		total += estimateMessage(&msgs[i])
	}
	return total
}

func estimateMessage(msg *models.Message) int {
	chars := len(msg.Content)
	for _, tc := range msg.ToolCalls {
		chars += len(tc.Name) + len(tc.Arguments)
	}
	for _, tr := range msg.ToolResults {
		chars += len(tr.Content)
	}
	return (chars + CharsPerToken - 1) / CharsPerToken
}

// EstimateText estimates the token cost of a bare string with the same
// heuristic the counter applies to message content.
func EstimateText(text string) int {
	return (len(text) + CharsPerToken - 1) / CharsPerToken
}
