// Package httpapi exposes the orchestration loop over HTTP: a streaming chat
// endpoint delivering generation events as Server-Sent Events, plus health.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/relayhq/relay/internal/agent"
	"github.com/relayhq/relay/internal/sse"
	"github.com/relayhq/relay/pkg/models"
)

// ChatHandler serves the streaming chat endpoint.
type ChatHandler struct {
	orchestrator *agent.Orchestrator
	defaultModel string
	logger       *slog.Logger
}

// NewChatHandler creates the handler. defaultModel applies when requests do
// not name a model.
func NewChatHandler(orchestrator *agent.Orchestrator, defaultModel string, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{
		orchestrator: orchestrator,
		defaultModel: defaultModel,
		logger:       logger,
	}
}

// RegisterRoutes mounts the chat and health endpoints.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/chat", h.handleChat)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// ChatRequest is the streaming chat request body.
type ChatRequest struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Model          string `json:"model,omitempty"`
	SystemPrompt   string `json:"system_prompt,omitempty"`
	Message        string `json:"message"`
}

// handleChat runs one turn and streams its events as SSE frames. The final
// frame is always an end or error event.
func (h *ChatHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	if req.UserID == "" {
		req.UserID = "anonymous"
	}
	if req.Model == "" {
		req.Model = h.defaultModel
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	events, err := h.orchestrator.Run(r.Context(), &agent.TurnRequest{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Model:          req.Model,
		SystemPrompt:   req.SystemPrompt,
		UserMessage:    req.Message,
	})
	if err != nil {
		h.logger.Error("turn rejected", "conversation_id", req.ConversationID, "error", err)
		writer.WriteError(models.ErrKindProvider, err.Error())
		return
	}

	for ev := range events {
		if err := writer.WriteEvent(ev); err != nil {
			// Client went away; the loop notices via r.Context().
			h.logger.Debug("client disconnected mid-stream",
				"conversation_id", req.ConversationID,
				"error", err)
			return
		}
	}
}

func (h *ChatHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
