package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/relayhq/relay/internal/observability"
	"github.com/relayhq/relay/pkg/models"
)

// DefaultToolTimeout bounds a single tool execution.
const DefaultToolTimeout = 30 * time.Second

// Dispatcher resolves assembled tool calls against the registry and executes
// them. Every call is answered by exactly one result message; resolution and
// execution failures become structured error results, never turn failures.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
	metrics  *observability.Metrics
	timeout  time.Duration

	// compiled schema cache, keyed by tool name
	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Schema
}

// NewDispatcher creates a dispatcher over the given registry. A nil logger
// falls back to slog.Default; a nil metrics disables instrumentation.
func NewDispatcher(registry *Registry, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		logger:   logger,
		metrics:  metrics,
		timeout:  DefaultToolTimeout,
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

// SetTimeout overrides the per-execution timeout.
func (d *Dispatcher) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		d.timeout = timeout
	}
}

// Dispatch executes one assembled tool call and returns its result message.
func (d *Dispatcher) Dispatch(ctx context.Context, call models.ToolCall) models.ToolResult {
	if call.ParseErr {
		d.logger.Warn("tool call arguments are not valid JSON",
			"tool", call.Name,
			"call_id", call.ID)
		d.countExecution(call.Name, "error")
		return models.NewErrorResult(call.ID, string(models.ErrKindMalformedArgs),
			fmt.Sprintf("arguments for tool %q are not valid JSON", call.Name))
	}

	tool, ok := d.registry.Get(call.Name)
	if !ok {
		d.logger.Warn("tool not found", "tool", call.Name, "call_id", call.ID)
		d.countExecution(call.Name, "error")
		return models.NewErrorResult(call.ID, string(models.ErrKindToolNotFound),
			fmt.Sprintf("tool %q is not registered", call.Name))
	}

	if err := d.validateArgs(tool, call.Parsed); err != nil {
		d.logger.Warn("tool call arguments failed schema validation",
			"tool", call.Name,
			"call_id", call.ID,
			"error", err)
		d.countExecution(call.Name, "error")
		return models.NewErrorResult(call.ID, string(models.ErrKindMalformedArgs),
			fmt.Sprintf("arguments for tool %q rejected: %v", call.Name, err))
	}

	start := time.Now()
	content, err := d.execute(ctx, tool, call.Parsed)
	elapsed := time.Since(start)

	if d.metrics != nil {
		d.metrics.ToolExecutionDuration.WithLabelValues(call.Name).Observe(elapsed.Seconds())
	}

	if err != nil {
		d.logger.Error("tool execution failed",
			"tool", call.Name,
			"call_id", call.ID,
			"duration", elapsed,
			"error", err)
		d.countExecution(call.Name, "error")
		return models.NewErrorResult(call.ID, string(models.ErrKindToolExecution), err.Error())
	}

	d.logger.Debug("tool executed",
		"tool", call.Name,
		"call_id", call.ID,
		"duration", elapsed)
	d.countExecution(call.Name, "success")
	return models.ToolResult{ToolCallID: call.ID, Content: content}
}

// execute runs the tool body under the configured timeout, converting panics
// into ordinary execution errors so one misbehaving tool cannot take down
// the request.
func (d *Dispatcher) execute(ctx context.Context, tool Tool, args json.RawMessage) (content string, err error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", tool.Name(), r)
		}
	}()

	content, err = tool.Execute(ctx, args)
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("tool %s: %w", tool.Name(), ctx.Err())
	}
	return content, err
}

// validateArgs checks the call arguments against the tool's parameter schema.
// Tools without a schema accept anything.
func (d *Dispatcher) validateArgs(tool Tool, args json.RawMessage) error {
	raw := tool.Schema()
	if len(raw) == 0 {
		return nil
	}

	d.schemaMu.Lock()
	schema, ok := d.schemas[tool.Name()]
	if !ok {
		compiled, err := jsonschema.CompileString(tool.Name()+".json", string(raw))
		if err != nil {
			// A tool shipping a broken schema is a registration bug;
			// skip validation rather than reject every call.
			d.logger.Warn("tool schema does not compile, skipping validation",
				"tool", tool.Name(),
				"error", err)
			d.schemas[tool.Name()] = nil
			d.schemaMu.Unlock()
			return nil
		}
		schema = compiled
		d.schemas[tool.Name()] = schema
	}
	d.schemaMu.Unlock()
	if schema == nil {
		return nil
	}

	var value any
	if err := json.Unmarshal(args, &value); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return schema.Validate(value)
}

func (d *Dispatcher) countExecution(name, status string) {
	if d.metrics != nil {
		d.metrics.ToolExecutionCounter.WithLabelValues(name, status).Inc()
	}
}
