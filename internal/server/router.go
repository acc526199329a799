package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/xpio/chatcore/api/handlers"
)

// RouterOptions carries the dependencies the route table needs.
type RouterOptions struct {
	Engine        handlers.TurnEngine
	Health        *handlers.HealthHandler
	Metrics       http.Handler
	WebhookSecret string
	Version       string
	BuildTime     string
	GitCommit     string
	Logger        *zap.Logger
}

// NewRouter builds the full route table.
func NewRouter(opts RouterOptions) *http.ServeMux {
	chat := handlers.NewChatHandler(opts.Engine, opts.Logger)
	webhook := handlers.NewWebhookHandler(opts.Engine, opts.WebhookSecret, opts.Logger)
	conv := handlers.NewConversationHandler(opts.Engine, opts.Logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", chat.HandleTurn)
	mux.HandleFunc("GET /v1/chat/ws", chat.HandleWS)
	mux.HandleFunc("POST /v1/webhooks/operator", webhook.HandleOperatorMessage)
	mux.HandleFunc("POST /v1/conversations/{id}/end", conv.HandleEnd)
	mux.HandleFunc("GET /v1/conversations/{id}", conv.HandleHistory)

	if opts.Health != nil {
		mux.HandleFunc("GET /health", opts.Health.HandleHealth)
		mux.HandleFunc("GET /ready", opts.Health.HandleReady)
		mux.HandleFunc("GET /version", opts.Health.HandleVersion(
			opts.Version, opts.BuildTime, opts.GitCommit))
	}
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}
	return mux
}
