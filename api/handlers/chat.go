package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/xpio/chatcore/engine"
	"github.com/xpio/chatcore/operator"
	"github.com/xpio/chatcore/types"
)

// TurnEngine is the engine surface the HTTP layer depends on.
type TurnEngine interface {
	HandleTurn(ctx context.Context, sessionID, visitorText string) (string, <-chan engine.Event, error)
	HandleOperatorMessage(ctx context.Context, msg operator.InboundMessage) error
	EndConversation(sessionID string) error
	History(ctx context.Context, sessionID string) (*types.Conversation, error)
}

// TurnRequest is the body of a streaming chat turn.
type TurnRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// ChatHandler serves visitor turns over SSE and WebSocket.
type ChatHandler struct {
	engine TurnEngine
	logger *zap.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(eng TurnEngine, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{
		engine: eng,
		logger: logger.With(zap.String("handler", "chat")),
	}
}

// HandleTurn runs one visitor turn and streams the engine events as SSE.
// POST /v1/chat
func (h *ChatHandler) HandleTurn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, types.NewError(types.ErrValidation, "method not allowed").
			WithHTTPStatus(http.StatusMethodNotAllowed), h.logger)
		return
	}

	var req TurnRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	sessionID, events, err := h.engine.HandleTurn(r.Context(), req.SessionID, req.Message)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, types.NewError(types.ErrInternal, "streaming unsupported"), h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Debug("SSE stream opened", zap.String("session_id", sessionID))

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error("failed to marshal stream event", zap.Error(err))
			continue
		}
		if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
			// Client went away; the engine keeps running the turn to
			// completion so persistence stays consistent.
			h.logger.Debug("SSE client disconnected",
				zap.String("session_id", sessionID), zap.Error(err))
			go drainEvents(events)
			return
		}
		flusher.Flush()
	}

	_, _ = w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

// drainEvents consumes a turn's remaining events after the client detached.
func drainEvents(events <-chan engine.Event) {
	for range events {
	}
}
