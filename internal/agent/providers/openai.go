// Package providers contains the upstream backends implementing
// agent.Provider. Each provider maps its SDK's streaming response onto the
// neutral chunk shape the assembler consumes.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/relayhq/relay/internal/agent"
	"github.com/relayhq/relay/pkg/models"
)

// OpenAIConfig configures the OpenAI-compatible backend. BaseURL covers
// OpenAI-compatible gateways as well as the hosted API.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string

	// RequestsPerSecond paces outbound requests. Zero disables pacing.
	RequestsPerSecond float64

	// MaxRetries bounds attempts for retryable request failures.
	// Default: 3
	MaxRetries int

	// RetryDelay is the base delay; actual delay grows linearly with the
	// attempt number. Default: 1s
	RetryDelay time.Duration
}

// OpenAI implements agent.Provider over the chat completions streaming API.
// Safe for concurrent use; each Stream call owns an independent stream.
type OpenAI struct {
	client     *openai.Client
	pacer      *rate.Limiter
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAI creates the provider. The API key is required.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key not configured")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	var pacer *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		pacer = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &OpenAI{
		client:     openai.NewClientWithConfig(clientCfg),
		pacer:      pacer,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

func (p *OpenAI) Name() string {
	return "openai"
}

// Stream opens one round-trip against the chat completions API. Request
// creation failures are returned directly; failures after the stream opens
// arrive as a chunk with Err set.
func (p *OpenAI) Stream(ctx context.Context, req *agent.Request) (<-chan *agent.StreamChunk, error) {
	if p.pacer != nil {
		if err := p.pacer.Wait(ctx); err != nil {
			return nil, err
		}
	}

	chatReq := openai.ChatCompletionRequest{
		Model:         req.Model,
		Messages:      convertOpenAIMessages(req.Messages),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			return nil, fmt.Errorf("openai: %w", lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("openai: retries exhausted: %w", lastErr)
	}

	chunks := make(chan *agent.StreamChunk, 8)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

func (p *OpenAI) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.StreamChunk) {
	defer close(chunks)
	defer stream.Close()

	for {
		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			p.send(ctx, chunks, &agent.StreamChunk{Err: classifyOpenAIError(err)})
			return
		}

		out := &agent.StreamChunk{}
		if response.Usage != nil {
			out.Usage = &agent.TokenUsage{
				PromptTokens:     response.Usage.PromptTokens,
				CompletionTokens: response.Usage.CompletionTokens,
			}
		}

		if len(response.Choices) > 0 {
			choice := response.Choices[0]
			out.TextDelta = choice.Delta.Content
			out.FinishReason = string(choice.FinishReason)

			for _, tc := range choice.Delta.ToolCalls {
				index := 0
				if tc.Index != nil {
					index = *tc.Index
				}
				out.ToolFragments = append(out.ToolFragments, agent.ToolFragment{
					Index:     index,
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}
		}

		if out.TextDelta == "" && len(out.ToolFragments) == 0 && out.FinishReason == "" && out.Usage == nil {
			continue
		}
		if !p.send(ctx, chunks, out) {
			return
		}
	}
}

func (p *OpenAI) send(ctx context.Context, chunks chan<- *agent.StreamChunk, chunk *agent.StreamChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// convertOpenAIMessages maps neutral messages onto the wire format. System
// messages pass through with the system role; tool results each become a
// separate tool-role message linked by call ID.
func convertOpenAIMessages(messages []models.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleTool:
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}

		case models.RoleAssistant:
			out := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			result = append(result, out)

		case models.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})

		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}

	return result
}

func convertOpenAITools(tools []agent.Tool) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			// One bad schema must not break function calling for the
			// rest of the catalog.
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  schema,
			},
		}
	}
	return result
}

// classifyOpenAIError separates provider-level failures (the API answered
// with an error) from transport-level ones (the connection died).
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return agent.NewProviderError(err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return agent.NewProviderError(err)
	}
	return agent.NewTransportError(err)
}

func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}
	// Plain network errors are worth another attempt.
	return true
}
