package prompt

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/relayhq/relay/pkg/models"
)

// ErrBudgetExceeded is returned when the system prompt and the new user
// message alone exceed the token budget. The caller surfaces it instead of
// silently truncating user input.
var ErrBudgetExceeded = errors.New("prompt budget exceeded")

// Budget is the immutable per-request prompt ceiling.
type Budget struct {
	// MaxTokens caps the estimated token count of the assembled prompt.
	MaxTokens int

	// MaxHistoryItems caps retained history messages. Zero or negative
	// means no item limit.
	MaxHistoryItems int

	// MaxChunks caps attached document chunks. Zero disables chunks.
	MaxChunks int

	// TrimRatio (0..1) both sets the low-budget floor (TrimRatio*MaxTokens)
	// and scales the chunk allowance down when the floor is crossed.
	TrimRatio float64
}

// DefaultBudget returns conservative defaults for mid-size context windows.
func DefaultBudget() Budget {
	return Budget{
		MaxTokens:       8000,
		MaxHistoryItems: 50,
		MaxChunks:       5,
		TrimRatio:       0.5,
	}
}

// contextHeader introduces the retrieved-document block in the prompt.
const contextHeader = "Reference documents:"

// Builder assembles the final bounded prompt.
type Builder struct {
	counter Counter
	logger  *slog.Logger
}

// NewBuilder creates a builder. A nil counter selects the heuristic
// estimator; a nil logger falls back to slog.Default.
func NewBuilder(counter Counter, logger *slog.Logger) *Builder {
	if counter == nil {
		counter = HeuristicCounter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{counter: counter, logger: logger}
}

// Build assembles system prompt, retained history, chunk context, and the new
// user message under the budget. The system prompt and user message are never
// trimmed; history is evicted oldest-first, then the chunk count is reduced.
// Returns the ordered messages and the source IDs of included chunks.
func (b *Builder) Build(system string, history []models.Message, chunks []models.RetrievedChunk, userMessage string, budget Budget) ([]models.Message, []string, error) {
	if budget.MaxTokens <= 0 {
		budget = DefaultBudget()
	}

	fixed := make([]models.Message, 0, 2)
	if system != "" {
		fixed = append(fixed, models.Message{Role: models.RoleSystem, Content: system})
	}
	userMsg := models.Message{Role: models.RoleUser, Content: userMessage}
	fixed = append(fixed, userMsg)

	used := b.counter.Count(fixed)
	if used > budget.MaxTokens {
		return nil, nil, fmt.Errorf("%w: system and user message cost %d tokens, budget %d",
			ErrBudgetExceeded, used, budget.MaxTokens)
	}

	// Walk history newest to oldest; stop at the first message that would
	// exceed either limit. Oldest messages are evicted first.
	kept := make([]models.Message, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		if budget.MaxHistoryItems > 0 && len(kept) >= budget.MaxHistoryItems {
			break
		}
		cost := b.counter.Count(history[i : i+1])
		if used+cost > budget.MaxTokens {
			break
		}
		kept = append(kept, history[i])
		used += cost
	}
	slices.Reverse(kept)

	contextBlock, includedIDs := b.buildContext(chunks, budget, used)
	if contextBlock != "" {
		used += EstimateText(contextBlock)
	}

	out := make([]models.Message, 0, len(kept)+3)
	if system != "" {
		out = append(out, models.Message{Role: models.RoleSystem, Content: system})
	}
	out = append(out, kept...)
	if contextBlock != "" {
		out = append(out, models.Message{Role: models.RoleUser, Content: contextBlock})
	}
	out = append(out, userMsg)

	b.logger.Debug("assembled prompt",
		"history_kept", len(kept),
		"history_total", len(history),
		"chunks_included", len(includedIDs),
		"estimated_tokens", used,
		"max_tokens", budget.MaxTokens)

	return out, includedIDs, nil
}

// Estimate returns the counter's token cost for messages assembled outside
// Build, so callers can reserve room for them in the budget.
func (b *Builder) Estimate(msgs []models.Message) int {
	return b.counter.Count(msgs)
}

// buildContext picks up to the budgeted number of chunks, highest score
// first. When the remaining token budget is below the TrimRatio floor the
// chunk allowance shrinks by the same ratio; chunks are only ever dropped
// whole, never truncated.
func (b *Builder) buildContext(chunks []models.RetrievedChunk, budget Budget, used int) (string, []string) {
	if budget.MaxChunks <= 0 || len(chunks) == 0 {
		return "", nil
	}

	ranked := make([]models.RetrievedChunk, len(chunks))
	copy(ranked, chunks)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	allowed := budget.MaxChunks
	remaining := budget.MaxTokens - used
	if budget.TrimRatio > 0 && budget.TrimRatio < 1 {
		floor := int(float64(budget.MaxTokens) * budget.TrimRatio)
		if remaining < floor {
			allowed = int(float64(allowed) * budget.TrimRatio)
			if allowed < 1 {
				allowed = 1
			}
		}
	}

	var sb strings.Builder
	ids := make([]string, 0, allowed)
	headerCost := EstimateText(contextHeader)

	for _, chunk := range ranked {
		if len(ids) >= allowed {
			break
		}
		// +1 covers the joining separator so the rendered block stays
		// within what was accounted here.
		cost := EstimateText(chunk.Text) + 1
		if len(ids) == 0 {
			cost += headerCost
		}
		if used+cost > budget.MaxTokens {
			continue
		}
		if sb.Len() == 0 {
			sb.WriteString(contextHeader)
		}
		sb.WriteString("\n\n")
		sb.WriteString(chunk.Text)
		used += cost
		ids = append(ids, chunk.SourceID)
	}

	return sb.String(), ids
}
