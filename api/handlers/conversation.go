package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/xpio/chatcore/types"
)

// ConversationHandler serves conversation lifecycle and history endpoints.
type ConversationHandler struct {
	engine TurnEngine
	logger *zap.Logger
}

// NewConversationHandler creates a conversation handler.
func NewConversationHandler(eng TurnEngine, logger *zap.Logger) *ConversationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationHandler{
		engine: eng,
		logger: logger.With(zap.String("handler", "conversation")),
	}
}

// HandleEnd ends a conversation explicitly.
// POST /v1/conversations/{id}/end
func (h *ConversationHandler) HandleEnd(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteError(w, types.NewError(types.ErrValidation, "conversation id is required"), h.logger)
		return
	}
	if err := h.engine.EndConversation(id); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"session_id": id, "status": "ended"})
}

// HandleHistory returns the transcript, preferring live state and falling
// back to the persistence gateway for evicted conversations.
// GET /v1/conversations/{id}
func (h *ConversationHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteError(w, types.NewError(types.ErrValidation, "conversation id is required"), h.logger)
		return
	}
	conv, err := h.engine.History(r.Context(), id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, conv)
}
