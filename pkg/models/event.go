package models

// EventType discriminates the outbound generation event union.
type EventType string

const (
	// EventText carries an incremental text delta.
	EventText EventType = "text"

	// EventToolCallStarted signals that the provider opened a tool call.
	EventToolCallStarted EventType = "tool_call_started"

	// EventToolCallCompleted carries a fully assembled tool call.
	EventToolCallCompleted EventType = "tool_call_completed"

	// EventToolResult carries the outcome of a dispatched tool call.
	EventToolResult EventType = "tool_result"

	// EventEnd terminates a successful turn with the final text snapshot.
	EventEnd EventType = "end"

	// EventError terminates a failed turn. Terminal like EventEnd; a turn
	// produces exactly one of the two.
	EventError EventType = "error"
)

// ErrorKind classifies terminal and recovered failures for callers.
type ErrorKind string

const (
	ErrKindTransport     ErrorKind = "transport_error"
	ErrKindProvider      ErrorKind = "provider_error"
	ErrKindRateLimited   ErrorKind = "rate_limited"
	ErrKindToolNotFound  ErrorKind = "tool_not_found"
	ErrKindToolExecution ErrorKind = "tool_execution_error"
	ErrKindMalformedArgs ErrorKind = "malformed_tool_arguments"
	ErrKindBudget        ErrorKind = "budget_exceeded"
	ErrKindLoopExceeded  ErrorKind = "tool_loop_exceeded"
)

// GenerationEvent is one frame of the outbound stream to the UI or API
// caller. Text and tool call events may repeat any number of times; exactly
// one End or terminal Error closes a logical turn.
type GenerationEvent struct {
	Type EventType `json:"type"`

	// Delta is the text fragment for EventText.
	Delta string `json:"delta,omitempty"`

	// ToolCall is set for EventToolCallStarted and EventToolCallCompleted.
	ToolCall *ToolCall `json:"tool_call,omitempty"`

	// ToolResult is set for EventToolResult.
	ToolResult *ToolResult `json:"tool_result,omitempty"`

	// Snapshot is the final concatenated assistant text for EventEnd.
	Snapshot string `json:"snapshot,omitempty"`

	// ErrKind and ErrMsg describe the failure for EventError.
	ErrKind ErrorKind `json:"err_kind,omitempty"`
	ErrMsg  string    `json:"err_msg,omitempty"`
}

// Terminal reports whether the event closes the turn.
func (e *GenerationEvent) Terminal() bool {
	return e.Type == EventEnd || e.Type == EventError
}
