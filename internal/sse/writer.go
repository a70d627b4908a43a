// Package sse streams generation events to HTTP callers as Server-Sent
// Events. Each event is one discrete frame; the final frame is always an end
// or error event.
package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/relayhq/relay/pkg/models"
)

// Writer wraps an http.ResponseWriter for SSE streaming.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter creates the writer and sets the SSE headers.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	return &Writer{w: w, flusher: flusher}, nil
}

// WriteEvent sends one generation event as a frame named after its type.
func (w *Writer) WriteEvent(ev models.GenerationEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return w.write(string(ev.Type), string(payload))
}

// WriteError sends a terminal error frame outside of a generation stream,
// for failures before the loop starts.
func (w *Writer) WriteError(kind models.ErrorKind, message string) error {
	return w.WriteEvent(models.GenerationEvent{
		Type:    models.EventError,
		ErrKind: kind,
		ErrMsg:  message,
	})
}

// write emits one frame. Multi-line data gets a data: prefix per line, as the
// SSE format requires.
func (w *Writer) write(event, data string) error {
	if _, err := fmt.Fprintf(w.w, "event: %s\n", event); err != nil {
		return fmt.Errorf("write event name: %w", err)
	}
	for _, line := range strings.Split(data, "\n") {
		if _, err := fmt.Fprintf(w.w, "data: %s\n", line); err != nil {
			return fmt.Errorf("write data line: %w", err)
		}
	}
	if _, err := io.WriteString(w.w, "\n"); err != nil {
		return fmt.Errorf("write terminator: %w", err)
	}
	w.flusher.Flush()
	return nil
}
