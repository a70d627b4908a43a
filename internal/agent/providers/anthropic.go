package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"golang.org/x/time/rate"

	"github.com/relayhq/relay/internal/agent"
	"github.com/relayhq/relay/pkg/models"
)

// AnthropicConfig configures the Anthropic backend.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string

	// RequestsPerSecond paces outbound requests. Zero disables pacing.
	RequestsPerSecond float64
}

// Anthropic implements agent.Provider over the Messages streaming API.
// Content-block events map onto tool fragments keyed by block index; the SDK
// carries its own retry handling, so unlike the OpenAI backend there is no
// retry loop here.
type Anthropic struct {
	client anthropic.Client
	pacer  *rate.Limiter
}

// NewAnthropic creates the provider. The API key is required.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key not configured")
	}
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	var pacer *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		pacer = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Anthropic{
		client: anthropic.NewClient(options...),
		pacer:  pacer,
	}, nil
}

func (p *Anthropic) Name() string {
	return "anthropic"
}

// Stream opens one round-trip against the Messages API.
func (p *Anthropic) Stream(ctx context.Context, req *agent.Request) (<-chan *agent.StreamChunk, error) {
	if p.pacer != nil {
		if err := p.pacer.Wait(ctx); err != nil {
			return nil, err
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  convertAnthropicMessages(req.Messages),
	}
	if system := systemPrompt(req.Messages); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	chunks := make(chan *agent.StreamChunk, 8)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

func (p *Anthropic) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *agent.StreamChunk) {
	defer close(chunks)
	defer stream.Close()

	usage := &agent.TokenUsage{}
	stopReason := "stop"

	for stream.Next() {
		event := stream.Current()
		out := &agent.StreamChunk{}

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			usage.PromptTokens = int(start.Message.Usage.InputTokens)
			continue

		case "content_block_start":
			blockStart := event.AsContentBlockStart()
			if blockStart.ContentBlock.Type != "tool_use" {
				continue
			}
			toolUse := blockStart.ContentBlock.AsToolUse()
			out.ToolFragments = []agent.ToolFragment{{
				Index: int(blockStart.Index),
				ID:    toolUse.ID,
				Name:  toolUse.Name,
			}}

		case "content_block_delta":
			blockDelta := event.AsContentBlockDelta()
			switch blockDelta.Delta.Type {
			case "text_delta":
				out.TextDelta = blockDelta.Delta.Text
			case "input_json_delta":
				out.ToolFragments = []agent.ToolFragment{{
					Index:     int(blockDelta.Index),
					Arguments: blockDelta.Delta.PartialJSON,
				}}
			default:
				continue
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				usage.CompletionTokens = int(delta.Usage.OutputTokens)
			}
			if delta.Delta.StopReason != "" {
				stopReason = string(delta.Delta.StopReason)
			}
			continue

		case "message_stop":
			p.send(ctx, chunks, &agent.StreamChunk{
				FinishReason: stopReason,
				Usage:        usage,
			})
			return

		case "error":
			p.send(ctx, chunks, &agent.StreamChunk{
				Err: agent.NewProviderError(errors.New("anthropic: stream error event")),
			})
			return

		default:
			continue
		}

		if out.TextDelta == "" && len(out.ToolFragments) == 0 {
			continue
		}
		if !p.send(ctx, chunks, out) {
			return
		}
	}

	if err := stream.Err(); err != nil {
		p.send(ctx, chunks, &agent.StreamChunk{Err: agent.NewTransportError(err)})
	}
}

func (p *Anthropic) send(ctx context.Context, chunks chan<- *agent.StreamChunk, chunk *agent.StreamChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// systemPrompt extracts the leading system message; the Messages API takes
// the system prompt as a separate parameter.
func systemPrompt(messages []models.Message) string {
	if len(messages) > 0 && messages[0].Role == models.RoleSystem {
		return messages[0].Content
	}
	return ""
}

func convertAnthropicMessages(messages []models.Message) []anthropic.MessageParam {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
				input = map[string]any{}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			// Tool results ride in user messages on this API.
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result
}

func convertAnthropicTools(tools []agent.Tool) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			return nil, fmt.Errorf("anthropic: tool %s schema: %w", tool.Name(), err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name())
		if param.OfTool == nil {
			return nil, fmt.Errorf("anthropic: tool %s: invalid definition", tool.Name())
		}
		param.OfTool.Description = anthropic.String(tool.Description())
		result = append(result, param)
	}
	return result, nil
}
