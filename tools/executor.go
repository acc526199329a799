package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Executor runs tool calls with per-tool timeout, rate limiting, and panic
// recovery. Every failure mode collapses into a failed Outcome; the caller
// always gets something to feed back to the model.
type Executor struct {
	registry *Registry
	logger   *zap.Logger
}

// NewExecutor creates an executor over the registry.
func NewExecutor(registry *Registry, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		registry: registry,
		logger:   logger.With(zap.String("component", "tool_executor")),
	}
}

// FailureContent is the error envelope fed back to the model when a tool
// call cannot produce a real result.
func FailureContent(reason string) string {
	data, _ := json.Marshal(map[string]string{"status": "error", "error": reason})
	return string(data)
}

func failedOutcome(inv Invocation, name, reason string, start time.Time) *Outcome {
	return &Outcome{
		CallID:   inv.CallID,
		Name:     name,
		Content:  FailureContent(reason),
		Failed:   true,
		Duration: time.Since(start),
	}
}

// Execute runs one tool call.
func (e *Executor) Execute(ctx context.Context, name string, inv Invocation) *Outcome {
	start := time.Now()

	h, meta, err := e.registry.Get(name)
	if err != nil {
		e.logger.Error("tool not found", zap.String("name", name))
		return failedOutcome(inv, name, "unknown tool: "+name, start)
	}

	if !e.registry.allow(name) {
		e.logger.Warn("tool rate limit exceeded", zap.String("name", name))
		return failedOutcome(inv, name, "rate limit exceeded", start)
	}

	if len(inv.Arguments) > 0 {
		var tmp any
		if err := json.Unmarshal(inv.Arguments, &tmp); err != nil {
			e.logger.Error("invalid tool arguments",
				zap.String("name", name), zap.Error(err))
			return failedOutcome(inv, name, "invalid arguments: "+err.Error(), start)
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, meta.Timeout)
	defer cancel()

	type execResult struct {
		outcome *Outcome
		err     error
	}
	// Buffered so the goroutine never leaks when the timeout fires first.
	done := make(chan execResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("tool panicked",
					zap.String("name", name), zap.Any("panic", r))
				select {
				case done <- execResult{err: fmt.Errorf("tool panicked: %v", r)}:
				default:
				}
			}
		}()
		outcome, err := h.Execute(execCtx, inv)
		select {
		case done <- execResult{outcome: outcome, err: err}:
		case <-execCtx.Done():
		}
	}()

	select {
	case <-execCtx.Done():
		e.logger.Warn("tool timed out",
			zap.String("name", name), zap.Duration("timeout", meta.Timeout))
		return failedOutcome(inv, name, "tool execution timed out", start)
	case res := <-done:
		if res.err != nil {
			e.logger.Warn("tool failed",
				zap.String("name", name),
				zap.String("conversation_id", inv.ConversationID),
				zap.Error(res.err))
			return failedOutcome(inv, name, res.err.Error(), start)
		}
		outcome := res.outcome
		outcome.CallID = inv.CallID
		outcome.Name = name
		outcome.Duration = time.Since(start)
		e.logger.Debug("tool executed",
			zap.String("name", name),
			zap.String("conversation_id", inv.ConversationID),
			zap.Duration("duration", outcome.Duration))
		return outcome
	}
}
