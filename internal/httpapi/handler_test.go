package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/relayhq/relay/internal/agent"
	"github.com/relayhq/relay/internal/sessions"
)

type textProvider struct {
	text string
}

func (p *textProvider) Stream(ctx context.Context, req *agent.Request) (<-chan *agent.StreamChunk, error) {
	ch := make(chan *agent.StreamChunk, 2)
	ch <- &agent.StreamChunk{TextDelta: p.text}
	ch <- &agent.StreamChunk{FinishReason: "stop"}
	close(ch)
	return ch, nil
}

func (p *textProvider) Name() string { return "text-test" }

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orchestrator := agent.NewOrchestrator(
		&textProvider{text: "hello"},
		agent.NewRegistry(),
		sessions.NewMemoryStore(),
		agent.Config{},
		agent.Options{Logger: logger},
	)
	mux := http.NewServeMux()
	NewChatHandler(orchestrator, "gpt-4o-mini", logger).RegisterRoutes(mux)
	return mux
}

func TestChatHandler_StreamsEvents(t *testing.T) {
	mux := newTestMux(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat",
		strings.NewReader(`{"conversation_id":"c1","user_id":"u1","message":"hi"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: text\n") {
		t.Errorf("missing text frame:\n%s", body)
	}
	if !strings.Contains(body, "event: end\n") {
		t.Errorf("missing end frame:\n%s", body)
	}
	if !strings.Contains(body, `"snapshot":"hello"`) {
		t.Errorf("missing snapshot:\n%s", body)
	}
}

func TestChatHandler_RejectsEmptyMessage(t *testing.T) {
	mux := newTestMux(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"message":""}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestChatHandler_RejectsBadJSON(t *testing.T) {
	mux := newTestMux(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	mux := newTestMux(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %q", rec.Body.String())
	}
}
