// Package transcript converts persisted conversation rows into
// provider-neutral messages. Conversion is deterministic and total: malformed
// stored tool-call JSON degrades that row, never the whole conversation.
package transcript

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/relayhq/relay/internal/sessions"
	"github.com/relayhq/relay/pkg/models"
)

// Converter maps stored chat rows onto the provider role set.
type Converter struct {
	logger *slog.Logger
}

// NewConverter creates a converter. A nil logger falls back to slog.Default.
func NewConverter(logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{logger: logger}
}

// storedToolCall is the persisted shape of one tool call on an assistant row.
type storedToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// storedToolResult is the persisted shape of one tool result on a tool row.
type storedToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// Convert maps rows to messages in order. Unknown and legacy roles collapse
// to user; rows whose tool-call JSON fails to parse contribute a message with
// an empty tool-call list; tool results that reference no previously seen
// call are removed so the provider transcript stays protocol-valid, and a
// tool row left with no results keeps its text as a plain user message.
func (c *Converter) Convert(rows []sessions.Row) []models.Message {
	messages := make([]models.Message, 0, len(rows))
	seenCallIDs := make(map[string]bool)

	for _, row := range rows {
		role := models.NormalizeRole(row.Role)

		switch role {
		case models.RoleAssistant:
			messages = append(messages, c.convertAssistant(row))
			for _, tc := range messages[len(messages)-1].ToolCalls {
				if tc.ID != "" {
					seenCallIDs[tc.ID] = true
				}
			}

		case models.RoleTool:
			msg, ok := c.convertTool(row, seenCallIDs)
			if ok {
				messages = append(messages, msg)
			}

		default:
			messages = append(messages, models.Message{
				ID:        row.ID,
				Role:      models.RoleUser,
				Content:   row.Content,
				CreatedAt: row.CreatedAt,
			})
		}
	}

	return messages
}

func (c *Converter) convertAssistant(row sessions.Row) models.Message {
	msg := models.Message{
		ID:        row.ID,
		Role:      models.RoleAssistant,
		Content:   row.Content,
		CreatedAt: row.CreatedAt,
	}

	if len(row.ToolCallsJSON) > 0 {
		var stored []storedToolCall
		if err := json.Unmarshal(row.ToolCallsJSON, &stored); err != nil {
			c.logger.Warn("dropping malformed stored tool calls",
				"row_id", row.ID,
				"error", err)
		} else {
			msg.ToolCalls = make([]models.ToolCall, 0, len(stored))
			for i, sc := range stored {
				tc := models.ToolCall{
					ID:        sc.ID,
					Index:     i,
					Name:      sc.Name,
					Arguments: sc.Arguments,
				}
				tc.Finalize()
				msg.ToolCalls = append(msg.ToolCalls, tc)
			}
		}
	}

	// An assistant turn may legally carry only tool calls; whitespace-only
	// text is omitted in that case.
	if strings.TrimSpace(msg.Content) == "" && len(msg.ToolCalls) > 0 {
		msg.Content = ""
	}

	return msg
}

func (c *Converter) convertTool(row sessions.Row, seenCallIDs map[string]bool) (models.Message, bool) {
	msg := models.Message{
		ID:        row.ID,
		Role:      models.RoleTool,
		Content:   row.Content,
		CreatedAt: row.CreatedAt,
	}

	var stored []storedToolResult
	if len(row.ToolCallsJSON) > 0 {
		if err := json.Unmarshal(row.ToolCallsJSON, &stored); err != nil {
			c.logger.Warn("malformed stored tool results",
				"row_id", row.ID,
				"error", err)
			stored = nil
		}
	}

	for _, sr := range stored {
		if sr.ToolCallID == "" || !seenCallIDs[sr.ToolCallID] {
			// Orphan result: its call never appeared in this history.
			c.logger.Warn("dropping orphan tool result",
				"row_id", row.ID,
				"tool_call_id", sr.ToolCallID)
			continue
		}
		msg.ToolResults = append(msg.ToolResults, models.ToolResult{
			ToolCallID: sr.ToolCallID,
			Content:    sr.Content,
			IsError:    sr.IsError,
		})
	}

	if len(msg.ToolResults) == 0 {
		// A tool message with no results is protocol-invalid, but the
		// row's text still belongs in the transcript. Degrade to a
		// plain user message; drop only rows with nothing to say.
		if strings.TrimSpace(row.Content) == "" {
			return msg, false
		}
		return models.Message{
			ID:        row.ID,
			Role:      models.RoleUser,
			Content:   row.Content,
			CreatedAt: row.CreatedAt,
		}, true
	}
	return msg, true
}
