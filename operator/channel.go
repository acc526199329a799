// Copyright (c) ChatCore Authors.
// Licensed under the MIT License.

// Package operator connects conversations to the human-operator side channel.
package operator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xpio/chatcore/types"
)

// ThreadRequest opens an operator thread for a conversation. Transcript
// carries recent log entries so the operator has context on arrival.
type ThreadRequest struct {
	ConversationID string          `json:"conversation_id"`
	Reason         string          `json:"reason,omitempty"`
	Transcript     []types.Message `json:"transcript,omitempty"`
}

// InboundMessage is an operator reply delivered on the webhook. IsBot marks
// bot or system senders, whose messages never count as human activity.
type InboundMessage struct {
	ThreadRef string    `json:"thread_ref"`
	Operator  string    `json:"operator"`
	Text      string    `json:"text"`
	IsBot     bool      `json:"is_bot,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Channel is the operator-side transport.
type Channel interface {
	// OpenThread opens an operator thread and returns its ref. Failure means
	// the handoff did not happen.
	OpenThread(ctx context.Context, req ThreadRequest) (string, error)

	// ForwardVisitorMessage relays a visitor message to the thread so the
	// owning operator sees it.
	ForwardVisitorMessage(ctx context.Context, threadRef, text string) error
}

// Config holds HTTP channel settings.
type Config struct {
	WebhookURL string
	Timeout    time.Duration
}

// HTTPChannel talks to the operator system over HTTP webhooks.
type HTTPChannel struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewHTTPChannel creates the webhook-backed channel.
func NewHTTPChannel(cfg Config, logger *zap.Logger) *HTTPChannel {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPChannel{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "operator_channel")),
	}
}

func (c *HTTPChannel) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WebhookURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return types.NewError(types.ErrUpstreamUnavailable,
			"operator channel unreachable").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return types.NewError(types.ErrUpstreamUnavailable,
			fmt.Sprintf("operator channel rejected request: status=%d", resp.StatusCode)).
			WithRetryable(resp.StatusCode >= 500)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return types.NewError(types.ErrUpstreamUnavailable,
				"operator channel returned malformed response").WithCause(err)
		}
	}
	return nil
}

func (c *HTTPChannel) OpenThread(ctx context.Context, req ThreadRequest) (string, error) {
	var result struct {
		ThreadRef string `json:"thread_ref"`
	}
	if err := c.post(ctx, "/threads", req, &result); err != nil {
		return "", err
	}
	if result.ThreadRef == "" {
		return "", types.NewError(types.ErrUpstreamUnavailable,
			"operator channel returned no thread ref")
	}
	c.logger.Info("operator thread opened",
		zap.String("conversation_id", req.ConversationID),
		zap.String("thread_ref", result.ThreadRef))
	return result.ThreadRef, nil
}

func (c *HTTPChannel) ForwardVisitorMessage(ctx context.Context, threadRef, text string) error {
	payload := map[string]string{"thread_ref": threadRef, "text": text}
	return c.post(ctx, "/threads/messages", payload, nil)
}
