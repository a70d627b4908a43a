package sse

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/relayhq/relay/pkg/models"
)

func TestWriter_WriteEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	if err := w.WriteEvent(models.GenerationEvent{Type: models.EventText, Delta: "hi"}); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	if err := w.WriteEvent(models.GenerationEvent{Type: models.EventEnd, Snapshot: "hi"}); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "event: text\n") {
		t.Errorf("missing text frame:\n%s", body)
	}
	if !strings.Contains(body, "event: end\n") {
		t.Errorf("missing end frame:\n%s", body)
	}
	if !strings.Contains(body, `data: {"type":"text","delta":"hi"}`) {
		t.Errorf("missing event payload:\n%s", body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
}

func TestWriter_MultiLineData(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	if err := w.write("text", "line1\nline2"); err != nil {
		t.Fatalf("write: %v", err)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "data: line1\ndata: line2\n\n") {
		t.Errorf("multi-line framing wrong:\n%s", body)
	}
}

func TestWriter_WriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	if err := w.WriteError(models.ErrKindRateLimited, "quota exhausted"); err != nil {
		t.Fatalf("WriteError: %v", err)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: error\n") || !strings.Contains(body, "rate_limited") {
		t.Errorf("error frame wrong:\n%s", body)
	}
}
