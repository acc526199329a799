package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xpio/chatcore/operator"
	"github.com/xpio/chatcore/types"
)

// OperatorWebhookRequest is the inbound payload from the operator channel.
// IsBot marks messages from bot or system accounts, e.g. the relay echoing a
// forwarded visitor message back onto the thread.
type OperatorWebhookRequest struct {
	ThreadRef string    `json:"thread_ref"`
	Operator  string    `json:"operator"`
	Text      string    `json:"text"`
	IsBot     bool      `json:"is_bot"`
	Timestamp time.Time `json:"timestamp"`
}

// WebhookHandler receives operator messages pushed by the operator channel.
type WebhookHandler struct {
	engine TurnEngine
	secret string
	logger *zap.Logger
}

// NewWebhookHandler creates a webhook handler. secret may be empty, in which
// case signature checking is skipped.
func NewWebhookHandler(eng TurnEngine, secret string, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{
		engine: eng,
		secret: secret,
		logger: logger.With(zap.String("handler", "webhook")),
	}
}

// HandleOperatorMessage ingests one operator message.
// POST /v1/webhooks/operator
func (h *WebhookHandler) HandleOperatorMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, types.NewError(types.ErrValidation, "method not allowed").
			WithHTTPStatus(http.StatusMethodNotAllowed), h.logger)
		return
	}
	if h.secret != "" && r.Header.Get("X-Webhook-Secret") != h.secret {
		WriteError(w, types.NewError(types.ErrValidation, "invalid webhook secret").
			WithHTTPStatus(http.StatusUnauthorized), h.logger)
		return
	}

	var req OperatorWebhookRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	err := h.engine.HandleOperatorMessage(r.Context(), operator.InboundMessage{
		ThreadRef: req.ThreadRef,
		Operator:  req.Operator,
		Text:      req.Text,
		IsBot:     req.IsBot,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"status": "accepted"})
}
