package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xpio/chatcore/llm"
	"github.com/xpio/chatcore/types"
)

// Invocation is one tool call in the context of its conversation. The
// conversation fields are copies; handlers never touch live state directly.
type Invocation struct {
	CallID         string
	ConversationID string
	Arguments      json.RawMessage

	// LeadAlreadyCaptured mirrors the conversation's lead flag.
	LeadAlreadyCaptured bool

	// HandoffEngaged is true when a handoff is already requested or active.
	HandoffEngaged bool

	// Transcript is the conversation log so far, for handoff context.
	Transcript []types.Message
}

// decodeArgs parses a call's argument block. Models omit the block entirely
// for tools whose schema has no required parameters, so empty means {}.
func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// SideEffect describes a durable action a tool performed, for the client
// event stream.
type SideEffect struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Outcome is the result of executing one tool call. Content always holds the
// payload fed back to the model; on failure it is an error envelope and
// Failed is set. Mutate, when non-nil, applies the tool's conversation-state
// change and is run by the engine under the session lock.
type Outcome struct {
	CallID     string
	Name       string
	Content    string
	Failed     bool
	SideEffect *SideEffect
	Mutate     func(conv *types.Conversation)
	Duration   time.Duration
}

// Handler implements one tool.
type Handler interface {
	// Name returns the tool's wire name.
	Name() string

	// Schema declares the tool to the model.
	Schema() llm.ToolSchema

	// Execute runs the tool. Returning an error produces a failed Outcome;
	// handlers should not encode failures into their success payloads.
	Execute(ctx context.Context, inv Invocation) (*Outcome, error)
}

// Metadata tunes execution of a registered handler.
type Metadata struct {
	Timeout time.Duration
	// RateLimit caps calls per second across all conversations; zero means
	// unlimited.
	RateLimit rate.Limit
	Burst     int
}

// Registry holds the registered handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	metadata map[string]Metadata
	limiters map[string]*rate.Limiter
	logger   *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		handlers: make(map[string]Handler),
		metadata: make(map[string]Metadata),
		limiters: make(map[string]*rate.Limiter),
		logger:   logger.With(zap.String("component", "tool_registry")),
	}
}

// Register adds a handler.
func (r *Registry) Register(h Handler, meta Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := h.Name()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	if meta.Timeout == 0 {
		meta.Timeout = 10 * time.Second
	}
	r.handlers[name] = h
	r.metadata[name] = meta
	if meta.RateLimit > 0 {
		burst := meta.Burst
		if burst <= 0 {
			burst = 1
		}
		r.limiters[name] = rate.NewLimiter(meta.RateLimit, burst)
	}
	r.logger.Info("tool registered",
		zap.String("name", name), zap.Duration("timeout", meta.Timeout))
	return nil
}

// Get returns a handler and its metadata.
func (r *Registry) Get(name string) (Handler, Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok {
		return nil, Metadata{}, fmt.Errorf("tool %s not found", name)
	}
	return h, r.metadata[name], nil
}

// Schemas lists all registered tool schemas for the completion request.
func (r *Registry) Schemas() []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]llm.ToolSchema, 0, len(r.handlers))
	for _, h := range r.handlers {
		schemas = append(schemas, h.Schema())
	}
	return schemas
}

func (r *Registry) allow(name string) bool {
	r.mu.RLock()
	limiter, ok := r.limiters[name]
	r.mu.RUnlock()
	if !ok {
		return true
	}
	return limiter.Allow()
}
