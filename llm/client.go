package llm

import (
	"context"

	"go.uber.org/zap"
)

// Completion is the terminal result of one streaming completion call.
type Completion struct {
	Text         string
	ToolCall     *ToolCall // at most one per call; nil when the model answered in text only
	FinishReason string
	Usage        ChatUsage
}

// DeltaFunc receives incremental text as it arrives from the provider.
type DeltaFunc func(text string)

// Client wraps a Provider with the engine's completion semantics: one
// streaming call, deltas forwarded immediately, at most one completed tool
// invocation, exactly one terminal result unless the stream fails.
type Client struct {
	provider Provider
	counter  *TokenCounter
	logger   *zap.Logger
}

// NewClient creates a completion client. counter may be nil to disable the
// usage-estimation fallback.
func NewClient(provider Provider, counter *TokenCounter, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		provider: provider,
		counter:  counter,
		logger:   logger.With(zap.String("component", "completion_client")),
	}
}

// Provider returns the wrapped provider.
func (c *Client) Provider() Provider { return c.provider }

// StreamCompletion runs one streaming call. Text deltas are forwarded to
// onDelta as they arrive, with no buffering beyond chunk boundaries. If the
// stream fails mid-flight the error is returned and no Completion is.
func (c *Client) StreamCompletion(ctx context.Context, req *ChatRequest, onDelta DeltaFunc) (*Completion, error) {
	stream, err := c.provider.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	comp := &Completion{}
	for chunk := range stream {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		if chunk.Delta.Content != "" {
			comp.Text += chunk.Delta.Content
			if onDelta != nil {
				onDelta(chunk.Delta.Content)
			}
		}
		for i := range chunk.Delta.ToolCalls {
			tc := chunk.Delta.ToolCalls[i]
			if comp.ToolCall == nil {
				comp.ToolCall = &tc
				continue
			}
			// Single-tool design: extra invocations in the same call are
			// dropped; the model can chain them on the follow-up call.
			c.logger.Warn("dropping extra tool call in completion",
				zap.String("tool", tc.Name),
				zap.String("kept", comp.ToolCall.Name))
		}
		if chunk.FinishReason != "" {
			comp.FinishReason = chunk.FinishReason
		}
		if chunk.Usage != nil {
			comp.Usage = *chunk.Usage
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, &Error{
			Code:      ErrUpstreamTimeout,
			Message:   "completion cancelled: " + err.Error(),
			Retryable: true,
			Provider:  c.provider.Name(),
		}
	}

	if comp.Usage.TotalTokens == 0 && c.counter != nil {
		comp.Usage = c.counter.Estimate(req, comp.Text)
	}
	return comp, nil
}
