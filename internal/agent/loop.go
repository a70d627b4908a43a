package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/relayhq/relay/internal/observability"
	"github.com/relayhq/relay/internal/prompt"
	"github.com/relayhq/relay/internal/sessions"
	"github.com/relayhq/relay/internal/transcript"
	"github.com/relayhq/relay/internal/usage"
	"github.com/relayhq/relay/pkg/models"
)

// Retriever is the retrieval collaborator contract. Ranking happens upstream;
// the orchestrator only consumes scored chunks.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) ([]models.RetrievedChunk, error)
}

// UsageRecorder receives per-round-trip token counts. The rate limiter reads
// usage back through its own window reader.
type UsageRecorder interface {
	Record(userID, modelID string, sent, received int64)
}

// Config tunes the orchestration loop. The zero value is usable; Sanitize
// fills in defaults.
type Config struct {
	// MaxRoundTrips is the hard ceiling on provider round-trips per turn.
	MaxRoundTrips int

	// MaxTokens caps the provider's response length per round-trip.
	MaxTokens int

	// EventBuffer is the outbound channel capacity. A slow consumer
	// backpressures the loop once the buffer fills.
	EventBuffer int

	// RetrievalTimeout bounds the document retrieval call. Retrieval
	// failures degrade to an empty chunk list, never a failed turn.
	RetrievalTimeout time.Duration

	// RetrievalLimit is the number of chunks requested from the retriever.
	RetrievalLimit int

	// ToolTimeout bounds each tool execution.
	ToolTimeout time.Duration

	// Budget is the prompt assembly budget.
	Budget prompt.Budget
}

// Sanitize returns a copy with defaults applied.
func (c Config) Sanitize() Config {
	if c.MaxRoundTrips <= 0 {
		c.MaxRoundTrips = 5
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 32
	}
	if c.RetrievalTimeout <= 0 {
		c.RetrievalTimeout = 3 * time.Second
	}
	if c.RetrievalLimit <= 0 {
		c.RetrievalLimit = 8
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = DefaultToolTimeout
	}
	if c.Budget.MaxTokens <= 0 {
		c.Budget = prompt.DefaultBudget()
	}
	return c
}

// TurnRequest is one user message entering the loop.
type TurnRequest struct {
	ConversationID string
	UserID         string
	Model          string
	SystemPrompt   string
	UserMessage    string
}

// Orchestrator drives one turn through the loop: build prompt, check quota,
// stream from the provider, dispatch requested tools, repeat until the
// provider answers without tool calls or a bound is hit.
type Orchestrator struct {
	provider   Provider
	registry   *Registry
	dispatcher *Dispatcher
	store      sessions.Store
	converter  *transcript.Converter
	builder    *prompt.Builder
	limiter    *usage.Limiter
	retriever  Retriever
	recorder   UsageRecorder
	metrics    *observability.Metrics
	logger     *slog.Logger
	config     Config
}

// Options carries the orchestrator's optional collaborators.
type Options struct {
	// Limiter gates each round-trip. Nil disables quota enforcement.
	Limiter *usage.Limiter

	// Retriever supplies document chunks. Nil disables retrieval.
	Retriever Retriever

	// Recorder receives token usage after each round-trip.
	Recorder UsageRecorder

	// Metrics enables instrumentation.
	Metrics *observability.Metrics

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// NewOrchestrator wires the loop. Provider, registry, and store are required;
// everything in opts is optional.
func NewOrchestrator(provider Provider, registry *Registry, store sessions.Store, config Config, opts Options) *Orchestrator {
	if registry == nil {
		registry = NewRegistry()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	config = config.Sanitize()
	dispatcher := NewDispatcher(registry, logger, opts.Metrics)
	dispatcher.SetTimeout(config.ToolTimeout)
	return &Orchestrator{
		provider:   provider,
		registry:   registry,
		dispatcher: dispatcher,
		store:      store,
		converter:  transcript.NewConverter(logger),
		builder:    prompt.NewBuilder(prompt.HeuristicCounter{}, logger),
		limiter:    opts.Limiter,
		retriever:  opts.Retriever,
		recorder:   opts.Recorder,
		metrics:    opts.Metrics,
		logger:     logger,
		config:     config,
	}
}

// turnState is the per-turn loop state. It lives on one goroutine; nothing
// here is shared across requests.
type turnState struct {
	iteration int
	phase     LoopPhase

	history  []models.Message
	chunks   []models.RetrievedChunk
	chunkIDs []string

	// messages produced inside this turn: assistant tool-call messages and
	// their tool results, appended after the prompt base each iteration.
	turnLocal []models.Message

	// every tool call assembled during the turn, for the final write-back
	toolCalls []models.ToolCall

	snapshot string
}

// Run executes one turn and streams events through the returned channel. The
// channel is closed after the terminal End or Error event. Cancelling ctx
// aborts the provider stream; in-flight tool executions finish but their
// results are discarded with the turn.
func (o *Orchestrator) Run(ctx context.Context, req *TurnRequest) (<-chan models.GenerationEvent, error) {
	if o.provider == nil {
		return nil, ErrNoProvider
	}
	if o.store == nil {
		return nil, errors.New("no session store configured")
	}
	if req == nil || req.UserMessage == "" {
		return nil, errors.New("empty turn request")
	}

	events := make(chan models.GenerationEvent, o.config.EventBuffer)
	go o.run(ctx, req, events)
	return events, nil
}

func (o *Orchestrator) run(ctx context.Context, req *TurnRequest, events chan<- models.GenerationEvent) {
	defer close(events)

	state := &turnState{}

	if err := o.initTurn(ctx, req, state); err != nil {
		o.terminate(ctx, req, events, &LoopError{Phase: state.phase, Iteration: 0, Cause: err})
		return
	}

	for state.iteration = 0; state.iteration < o.config.MaxRoundTrips; state.iteration++ {
		if ctx.Err() != nil {
			o.terminate(ctx, req, events, &LoopError{Phase: state.phase, Iteration: state.iteration, Cause: NewTransportError(ctx.Err())})
			return
		}

		state.phase = PhaseBuildPrompt
		messages, err := o.buildPrompt(req, state)
		if err != nil {
			o.terminate(ctx, req, events, &LoopError{Phase: PhaseBuildPrompt, Iteration: state.iteration, Cause: err})
			return
		}

		// Quota is enforced per round-trip, not per turn: every loop
		// iteration consumes additional tokens.
		state.phase = PhaseRateCheck
		if o.limiter != nil && o.limiter.Check(ctx, req.UserID, req.Model) == usage.Restricted {
			o.terminate(ctx, req, events, &LoopError{Phase: PhaseRateCheck, Iteration: state.iteration, Cause: ErrRateLimited})
			return
		}

		state.phase = PhaseStream
		calls, err := o.streamRound(ctx, req, state, messages, events)
		if err != nil {
			o.terminate(ctx, req, events, &LoopError{Phase: PhaseStream, Iteration: state.iteration, Cause: err})
			return
		}

		if len(calls) == 0 {
			o.finish(ctx, req, state, events)
			return
		}

		state.phase = PhaseDispatch
		if err := o.dispatchRound(ctx, state, calls, events); err != nil {
			o.terminate(ctx, req, events, &LoopError{Phase: PhaseDispatch, Iteration: state.iteration, Cause: err})
			return
		}
	}

	o.terminate(ctx, req, events, &LoopError{Phase: PhaseStream, Iteration: o.config.MaxRoundTrips, Cause: ErrToolLoopExceeded})
}

// initTurn loads history, runs retrieval, and persists the inbound user
// message.
func (o *Orchestrator) initTurn(ctx context.Context, req *TurnRequest, state *turnState) error {
	state.phase = PhaseBuildPrompt

	rows, err := o.store.History(ctx, req.ConversationID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	state.history = o.converter.Convert(rows)
	state.chunks = o.retrieve(ctx, req.UserMessage)

	return o.store.AppendTurn(ctx, &sessions.Turn{
		ConversationID: req.ConversationID,
		Role:           string(models.RoleUser),
		Content:        req.UserMessage,
	})
}

// retrieve asks the retrieval collaborator for context chunks under its own
// timeout. Failures degrade to no chunks; a broken retriever must not break
// the chat.
func (o *Orchestrator) retrieve(ctx context.Context, query string) []models.RetrievedChunk {
	if o.retriever == nil {
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, o.config.RetrievalTimeout)
	defer cancel()

	chunks, err := o.retriever.Retrieve(rctx, query, o.config.RetrievalLimit)
	if err != nil {
		o.logger.Warn("retrieval failed, continuing without document context", "error", err)
		return nil
	}
	return chunks
}

func (o *Orchestrator) buildPrompt(req *TurnRequest, state *turnState) ([]models.Message, error) {
	budget := o.config.Budget
	if len(state.turnLocal) > 0 {
		// The turn-local tail (assistant tool calls and their results)
		// spends the same budget history does; the builder never sees
		// it, so reserve its cost up front.
		reserve := o.builder.Estimate(state.turnLocal)
		if reserve >= budget.MaxTokens {
			return nil, fmt.Errorf("%w: tool activity cost %d tokens, budget %d",
				prompt.ErrBudgetExceeded, reserve, budget.MaxTokens)
		}
		budget.MaxTokens -= reserve
	}
	base, chunkIDs, err := o.builder.Build(req.SystemPrompt, state.history, state.chunks, req.UserMessage, budget)
	if err != nil {
		return nil, err
	}
	state.chunkIDs = chunkIDs
	return append(base, state.turnLocal...), nil
}

// streamRound runs one provider round-trip, forwarding assembled events and
// returning the tool calls the provider requested. The assembler's End event
// is withheld here; the loop emits it only when no tools are pending.
func (o *Orchestrator) streamRound(ctx context.Context, req *TurnRequest, state *turnState, messages []models.Message, events chan<- models.GenerationEvent) ([]models.ToolCall, error) {
	start := time.Now()
	stream, err := o.provider.Stream(ctx, &Request{
		Model:     req.Model,
		Messages:  messages,
		Tools:     o.registry.List(),
		MaxTokens: o.config.MaxTokens,
	})
	if err != nil {
		o.countRoundTrip(req.Model, start, "error")
		return nil, NewTransportError(err)
	}

	asm := NewAssembler()
	var streamErr error

	for chunk := range stream {
		if ctx.Err() != nil {
			streamErr = NewTransportError(ctx.Err())
			break
		}
		for _, ev := range asm.Feed(chunk) {
			switch ev.Type {
			case models.EventEnd:
				// handled after the stream drains
			case models.EventError:
				streamErr = chunk.Err
				if streamErr == nil {
					streamErr = errors.New(ev.ErrMsg)
				}
			default:
				if !o.send(ctx, events, ev) {
					streamErr = NewTransportError(ctx.Err())
				}
			}
		}
		if streamErr != nil {
			break
		}
	}

	if streamErr != nil {
		o.countRoundTrip(req.Model, start, "error")
		return nil, streamErr
	}

	// Closure without a finish chunk is a normal stream end.
	for _, ev := range asm.Finish() {
		if ev.Type != models.EventEnd && !o.send(ctx, events, ev) {
			o.countRoundTrip(req.Model, start, "error")
			return nil, NewTransportError(ctx.Err())
		}
	}

	o.countRoundTrip(req.Model, start, "success")
	o.recordUsage(req, asm.Usage())

	calls := asm.ToolCalls()
	state.snapshot = asm.Text()
	if len(calls) > 0 {
		state.toolCalls = append(state.toolCalls, calls...)
		state.turnLocal = append(state.turnLocal, models.Message{
			Role:      models.RoleAssistant,
			Content:   asm.Text(),
			ToolCalls: calls,
		})
	}
	return calls, nil
}

// dispatchRound executes the requested tools in call order and appends their
// results to the turn-local messages for the next round-trip.
func (o *Orchestrator) dispatchRound(ctx context.Context, state *turnState, calls []models.ToolCall, events chan<- models.GenerationEvent) error {
	for _, call := range calls {
		result := o.dispatcher.Dispatch(ctx, call)
		if !o.send(ctx, events, models.GenerationEvent{
			Type:       models.EventToolResult,
			ToolResult: &result,
		}) {
			return NewTransportError(ctx.Err())
		}
		state.turnLocal = append(state.turnLocal, models.Message{
			Role:        models.RoleTool,
			Content:     result.Content,
			ToolResults: []models.ToolResult{result},
		})
	}
	return nil
}

// finish writes the final assistant message back and emits End.
func (o *Orchestrator) finish(ctx context.Context, req *TurnRequest, state *turnState, events chan<- models.GenerationEvent) {
	o.observeIterations(state.iteration + 1)

	turn := &sessions.Turn{
		ConversationID:   req.ConversationID,
		Role:             string(models.RoleAssistant),
		Content:          state.snapshot,
		IncludedChunkIDs: state.chunkIDs,
	}
	if len(state.toolCalls) > 0 {
		if data, err := json.Marshal(state.toolCalls); err == nil {
			turn.ToolCallsJSON = data
		}
	}
	if err := o.store.AppendTurn(ctx, turn); err != nil {
		o.logger.Error("persist assistant turn failed",
			"conversation_id", req.ConversationID,
			"error", err)
	}

	o.send(ctx, events, models.GenerationEvent{
		Type:     models.EventEnd,
		Snapshot: state.snapshot,
	})
}

// terminate surfaces a terminal failure: one Error event to the caller, one
// assistant-visible row in the transcript, so the failure is never lost in
// logs alone.
func (o *Orchestrator) terminate(ctx context.Context, req *TurnRequest, events chan<- models.GenerationEvent, loopErr *LoopError) {
	kind := errorKind(loopErr.Cause)

	o.logger.Error("turn failed",
		"conversation_id", req.ConversationID,
		"phase", loopErr.Phase,
		"iteration", loopErr.Iteration,
		"kind", kind,
		"error", loopErr.Cause)
	if o.metrics != nil {
		o.metrics.TurnErrors.WithLabelValues(string(kind)).Inc()
	}

	msg := fmt.Sprintf("Generation failed (%s): %v", kind, loopErr.Cause)
	if err := o.store.AppendTurn(context.WithoutCancel(ctx), &sessions.Turn{
		ConversationID: req.ConversationID,
		Role:           string(models.RoleAssistant),
		Content:        msg,
	}); err != nil {
		o.logger.Error("persist error turn failed",
			"conversation_id", req.ConversationID,
			"error", err)
	}

	o.send(ctx, events, models.GenerationEvent{
		Type:    models.EventError,
		ErrKind: kind,
		ErrMsg:  loopErr.Cause.Error(),
	})
}

// send delivers one event, honoring cancellation. Returns false when the
// consumer is gone.
func (o *Orchestrator) send(ctx context.Context, events chan<- models.GenerationEvent, ev models.GenerationEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) countRoundTrip(model string, start time.Time, status string) {
	if o.metrics == nil {
		return
	}
	o.metrics.LLMRequestDuration.WithLabelValues(o.provider.Name(), model).Observe(time.Since(start).Seconds())
	o.metrics.LLMRequestCounter.WithLabelValues(o.provider.Name(), model, status).Inc()
}

func (o *Orchestrator) recordUsage(req *TurnRequest, u TokenUsage) {
	if u.PromptTokens == 0 && u.CompletionTokens == 0 {
		return
	}
	if o.recorder != nil {
		o.recorder.Record(req.UserID, req.Model, int64(u.PromptTokens), int64(u.CompletionTokens))
	}
	if o.metrics != nil {
		o.metrics.LLMTokensUsed.WithLabelValues(o.provider.Name(), req.Model, "prompt").Add(float64(u.PromptTokens))
		o.metrics.LLMTokensUsed.WithLabelValues(o.provider.Name(), req.Model, "completion").Add(float64(u.CompletionTokens))
	}
}

func (o *Orchestrator) observeIterations(n int) {
	if o.metrics != nil {
		o.metrics.LoopIterations.Observe(float64(n))
	}
}
