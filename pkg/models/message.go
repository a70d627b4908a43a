package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// NormalizeRole maps a stored role string onto the closed provider role set.
// System and legacy "developer" rows collapse to user: chat-completion
// providers accept exactly one system message, which the prompt builder
// supplies separately. The mapping is lossy and deliberate.
func NormalizeRole(stored string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(stored))) {
	case RoleAssistant:
		return RoleAssistant
	case RoleTool:
		return RoleTool
	default:
		return RoleUser
	}
}

// Message is the provider-neutral conversation message. Instances live for a
// single orchestration turn; persistence keeps its own row representation.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	CreatedAt   time.Time    `json:"created_at,omitempty"`
}

// ToolCall represents a provider-requested tool invocation. Arguments arrive
// as streamed fragments and accumulate as a raw string; Parsed carries the
// decoded value once the call is complete, or stays nil with ParseErr set when
// the accumulated string is not valid JSON.
type ToolCall struct {
	ID        string          `json:"id"`
	Index     int             `json:"index"`
	Name      string          `json:"name"`
	Arguments string          `json:"arguments"`
	Parsed    json.RawMessage `json:"parsed,omitempty"`
	ParseErr  bool            `json:"parse_err,omitempty"`
}

// Finalize parses the accumulated argument string. The stream assembler calls
// it once, when the call's terminating boundary is observed.
func (tc *ToolCall) Finalize() {
	trimmed := strings.TrimSpace(tc.Arguments)
	if trimmed == "" {
		trimmed = "{}"
	}
	if json.Valid([]byte(trimmed)) {
		tc.Parsed = json.RawMessage(trimmed)
		tc.ParseErr = false
		return
	}
	tc.Parsed = nil
	tc.ParseErr = true
}

// ToolResult represents the output of a tool execution. Errors are carried in
// Content with IsError set so every tool call is answered by exactly one
// result message even when execution fails.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ErrorPayload is the machine-readable content of an error ToolResult.
type ErrorPayload struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// NewErrorResult builds a ToolResult whose content is a structured error
// object, keeping the conversation protocol valid on execution failure.
func NewErrorResult(callID, kind, msg string) ToolResult {
	payload, err := json.Marshal(ErrorPayload{Error: msg, Kind: kind})
	if err != nil {
		payload = []byte(`{"error":"tool execution failed"}`)
	}
	return ToolResult{ToolCallID: callID, Content: string(payload), IsError: true}
}
