package agent

import (
	"sort"
	"strings"

	"github.com/relayhq/relay/pkg/models"
)

// Assembler reassembles a raw provider chunk stream into discrete application
// events. It accumulates tool-call fragments keyed by index and flushes them
// as completed calls at boundary transitions, since providers do not
// explicitly close tool-call argument streams.
//
// An Assembler serves exactly one stream and is not safe for concurrent use;
// all state is local to the owning request.
type Assembler struct {
	open     map[int]*models.ToolCall
	started  map[int]bool
	complete []models.ToolCall
	text     strings.Builder
	usage    TokenUsage
	finish   string
	terminal bool
}

// NewAssembler returns an assembler ready to consume one stream.
func NewAssembler() *Assembler {
	return &Assembler{
		open:    make(map[int]*models.ToolCall),
		started: make(map[int]bool),
	}
}

// Feed consumes one chunk and returns the events it produced, in order. After
// a terminal event has been emitted, further chunks contribute usage only:
// OpenAI delivers usage on a trailing chunk after the finish reason.
func (a *Assembler) Feed(chunk *StreamChunk) []models.GenerationEvent {
	if chunk == nil {
		return nil
	}

	if chunk.Usage != nil {
		a.usage.PromptTokens += chunk.Usage.PromptTokens
		a.usage.CompletionTokens += chunk.Usage.CompletionTokens
	}

	if a.terminal {
		return nil
	}

	if chunk.Err != nil {
		return a.fail(chunk.Err)
	}

	var events []models.GenerationEvent

	for _, frag := range chunk.ToolFragments {
		events = append(events, a.feedFragment(frag)...)
	}

	if chunk.TextDelta != "" {
		// Non-tool content closes every in-progress call.
		events = append(events, a.flushOpen(-1)...)
		a.text.WriteString(chunk.TextDelta)
		events = append(events, models.GenerationEvent{
			Type:  models.EventText,
			Delta: chunk.TextDelta,
		})
	}

	if chunk.FinishReason != "" {
		a.finish = chunk.FinishReason
		events = append(events, a.end()...)
	}

	return events
}

// Finish signals upstream stream closure without an explicit finish chunk.
// Stream closure is a terminating boundary like a finish reason, so any open
// calls flush and End is emitted. Calling Finish after a terminal event is a
// no-op.
func (a *Assembler) Finish() []models.GenerationEvent {
	if a.terminal {
		return nil
	}
	return a.end()
}

// Fail terminates the stream with a transport or provider error. Partially
// accumulated tool calls are discarded; no partial call is ever surfaced as
// complete.
func (a *Assembler) Fail(err error) []models.GenerationEvent {
	if a.terminal {
		return nil
	}
	return a.fail(err)
}

// ToolCalls returns the completed calls assembled so far, in flush order.
func (a *Assembler) ToolCalls() []models.ToolCall {
	return a.complete
}

// Text returns the concatenated text accumulated so far.
func (a *Assembler) Text() string {
	return a.text.String()
}

// Usage returns the token counts reported by the provider for this stream.
func (a *Assembler) Usage() TokenUsage {
	return a.usage
}

// FinishReason returns the provider's finish reason, or "" when the stream
// ended without one.
func (a *Assembler) FinishReason() string {
	return a.finish
}

func (a *Assembler) feedFragment(frag ToolFragment) []models.GenerationEvent {
	var events []models.GenerationEvent

	call, ok := a.open[frag.Index]
	if !ok {
		// A fragment for a new index closes calls at lower indices:
		// providers stream calls in index order, never interleaved.
		events = append(events, a.flushOpen(frag.Index)...)

		call = &models.ToolCall{Index: frag.Index}
		a.open[frag.Index] = call
	}

	// ID and Name arrive on the first fragment that carries them; later
	// fragments only extend the argument string.
	if frag.ID != "" && call.ID == "" {
		call.ID = frag.ID
	}
	if frag.Name != "" && call.Name == "" {
		call.Name = frag.Name
	}
	call.Arguments += frag.Arguments

	if !a.started[frag.Index] && call.ID != "" && call.Name != "" {
		a.started[frag.Index] = true
		started := *call
		events = append(events, models.GenerationEvent{
			Type:     models.EventToolCallStarted,
			ToolCall: &started,
		})
	}

	return events
}

// flushOpen completes every open call with index below limit, ascending.
// A negative limit flushes all of them.
func (a *Assembler) flushOpen(limit int) []models.GenerationEvent {
	if len(a.open) == 0 {
		return nil
	}

	indices := make([]int, 0, len(a.open))
	for idx := range a.open {
		if limit < 0 || idx < limit {
			indices = append(indices, idx)
		}
	}
	sort.Ints(indices)

	var events []models.GenerationEvent
	for _, idx := range indices {
		call := a.open[idx]
		delete(a.open, idx)
		call.Finalize()
		a.complete = append(a.complete, *call)
		done := *call
		events = append(events, models.GenerationEvent{
			Type:     models.EventToolCallCompleted,
			ToolCall: &done,
		})
	}
	return events
}

func (a *Assembler) end() []models.GenerationEvent {
	events := a.flushOpen(-1)
	a.terminal = true
	events = append(events, models.GenerationEvent{
		Type:     models.EventEnd,
		Snapshot: a.text.String(),
	})
	return events
}

func (a *Assembler) fail(err error) []models.GenerationEvent {
	a.terminal = true
	a.open = make(map[int]*models.ToolCall)
	a.complete = nil
	return []models.GenerationEvent{{
		Type:    models.EventError,
		ErrKind: errorKind(err),
		ErrMsg:  err.Error(),
	}}
}
