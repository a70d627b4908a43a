// Package clock provides the current_time builtin tool.
package clock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Tool reports the current time, optionally in a requested IANA timezone.
type Tool struct {
	// now is swapped in tests.
	now func() time.Time
}

// New creates the tool.
func New() *Tool {
	return &Tool{now: time.Now}
}

func (t *Tool) Name() string { return "current_time" }

func (t *Tool) Description() string {
	return "Get the current date and time, optionally in a specific IANA timezone (e.g. 'Europe/Berlin')."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"timezone": {
				"type": "string",
				"description": "IANA timezone name. Defaults to UTC."
			}
		},
		"required": []
	}`)
}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var input struct {
		Timezone string `json:"timezone"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return "", fmt.Errorf("invalid parameters: %w", err)
		}
	}

	loc := time.UTC
	if input.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(input.Timezone)
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q", input.Timezone)
		}
	}

	now := t.now().In(loc)
	payload, err := json.Marshal(map[string]any{
		"time":     now.Format(time.RFC3339),
		"timezone": loc.String(),
		"weekday":  now.Weekday().String(),
		"unix":     now.Unix(),
	})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
