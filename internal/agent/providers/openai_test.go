package providers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/relayhq/relay/internal/agent"
	"github.com/relayhq/relay/pkg/models"
)

type schemaTool struct {
	name   string
	schema string
}

func (t schemaTool) Name() string            { return t.name }
func (t schemaTool) Description() string     { return "desc" }
func (t schemaTool) Schema() json.RawMessage { return json.RawMessage(t.schema) }
func (t schemaTool) Execute(_ context.Context, _ json.RawMessage) (string, error) {
	return "", nil
}

func TestConvertOpenAIMessages(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleSystem, Content: "be brief"},
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "", ToolCalls: []models.ToolCall{
			{ID: "c1", Name: "clock", Arguments: "{}"},
		}},
		{Role: models.RoleTool, ToolResults: []models.ToolResult{
			{ToolCallID: "c1", Content: "noon"},
			{ToolCallID: "c2", Content: "later"},
		}},
	}

	out := convertOpenAIMessages(messages)
	if len(out) != 5 {
		t.Fatalf("messages = %d, want 5 (tool results split)", len(out))
	}
	if out[0].Role != openai.ChatMessageRoleSystem {
		t.Errorf("first role = %q", out[0].Role)
	}
	if len(out[2].ToolCalls) != 1 || out[2].ToolCalls[0].Function.Name != "clock" {
		t.Errorf("assistant tool calls = %+v", out[2].ToolCalls)
	}
	if out[3].Role != openai.ChatMessageRoleTool || out[3].ToolCallID != "c1" {
		t.Errorf("tool result message = %+v", out[3])
	}
	if out[4].ToolCallID != "c2" {
		t.Errorf("second tool result = %+v", out[4])
	}
}

func TestConvertOpenAITools_BadSchemaFallsBack(t *testing.T) {
	tools := convertOpenAITools([]agent.Tool{
		schemaTool{name: "ok", schema: `{"type":"object"}`},
		schemaTool{name: "broken", schema: `{not json`},
	})

	if len(tools) != 2 {
		t.Fatalf("tools = %d, want 2", len(tools))
	}
	params, ok := tools[1].Function.Parameters.(map[string]any)
	if !ok || params["type"] != "object" {
		t.Errorf("broken schema did not fall back to empty object: %+v", tools[1].Function.Parameters)
	}
}

func TestClassifyOpenAIError(t *testing.T) {
	apiErr := &openai.APIError{HTTPStatusCode: 400, Message: "bad request"}
	var se *agent.StreamError
	if !errors.As(classifyOpenAIError(apiErr), &se) || se.Kind != models.ErrKindProvider {
		t.Errorf("API error should classify as provider error")
	}

	if !errors.As(classifyOpenAIError(errors.New("read: connection reset")), &se) || se.Kind != models.ErrKindTransport {
		t.Errorf("plain network error should classify as transport error")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&openai.APIError{HTTPStatusCode: 429}, true},
		{&openai.APIError{HTTPStatusCode: 503}, true},
		{&openai.APIError{HTTPStatusCode: 401}, false},
		{errors.New("dial tcp: timeout"), true},
	}
	for _, tc := range cases {
		if got := isRetryable(tc.err); got != tc.want {
			t.Errorf("isRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
