package engine

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xpio/chatcore/experiment"
	"github.com/xpio/chatcore/handoff"
	"github.com/xpio/chatcore/llm"
	"github.com/xpio/chatcore/operator"
	"github.com/xpio/chatcore/persistence"
	"github.com/xpio/chatcore/session"
	"github.com/xpio/chatcore/tools"
	"github.com/xpio/chatcore/types"
)

// Config holds turn-handling settings.
type Config struct {
	SystemPrompt string
	Model        string
	MaxTokens    int
	Temperature  float32

	// MaxToolChain bounds tool executions per visitor turn. A tool call
	// requested past the bound is refused and the model is forced to answer
	// in text.
	MaxToolChain int

	TurnTimeout time.Duration

	// EventBuffer sizes each turn's event channel.
	EventBuffer int
}

// maxMessageChars bounds inbound visitor messages.
const maxMessageChars = 5000

// humanAssistNotice is the visitor-facing reply on turns a human owns.
const humanAssistNotice = "A member of our team is handling your conversation and will reply shortly."

// DefaultConfig returns the default engine settings.
func DefaultConfig() Config {
	return Config{
		SystemPrompt: "You are a helpful assistant for website visitors.",
		MaxToolChain: 3,
		TurnTimeout:  2 * time.Minute,
		EventBuffer:  16,
	}
}

// Engine drives visitor turns end to end.
type Engine struct {
	cfg      Config
	sessions *session.Store
	writer   *persistence.Writer
	gateway  persistence.Gateway
	selector *experiment.Selector
	client   *llm.Client
	registry *tools.Registry
	executor *tools.Executor
	arbiter  *handoff.Arbiter
	channel  operator.Channel
	metrics  Metrics
	tracer   oteltrace.Tracer
	logger   *zap.Logger
}

// Options carries the engine's collaborators. selector, gateway, and channel
// may be nil; the corresponding features degrade gracefully.
type Options struct {
	Sessions *session.Store
	Writer   *persistence.Writer
	Gateway  persistence.Gateway
	Selector *experiment.Selector
	Client   *llm.Client
	Registry *tools.Registry
	Executor *tools.Executor
	Arbiter  *handoff.Arbiter
	Channel  operator.Channel
	Metrics  Metrics
	Logger   *zap.Logger
}

// New creates an engine.
func New(cfg Config, opts Options) *Engine {
	if cfg.MaxToolChain <= 0 {
		cfg.MaxToolChain = DefaultConfig().MaxToolChain
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = DefaultConfig().TurnTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultConfig().EventBuffer
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultConfig().SystemPrompt
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	return &Engine{
		cfg:      cfg,
		sessions: opts.Sessions,
		writer:   opts.Writer,
		gateway:  opts.Gateway,
		selector: opts.Selector,
		client:   opts.Client,
		registry: opts.Registry,
		executor: opts.Executor,
		arbiter:  opts.Arbiter,
		channel:  opts.Channel,
		metrics:  opts.Metrics,
		tracer:   otel.Tracer("chatcore/engine"),
		logger:   logger.With(zap.String("component", "engine")),
	}
}

// HandleTurn processes one visitor message. The returned channel carries the
// turn's ordered events and is closed after the terminal event. Validation
// and turn-lock failures return an error instead of a stream.
func (e *Engine) HandleTurn(ctx context.Context, sessionID, visitorText string) (string, <-chan Event, error) {
	visitorText = strings.TrimSpace(visitorText)
	if visitorText == "" {
		e.metrics.RecordTurn("rejected", 0)
		return "", nil, types.NewError(types.ErrValidation, "message must not be empty")
	}
	if utf8.RuneCountInString(visitorText) > maxMessageChars {
		e.metrics.RecordTurn("rejected", 0)
		return "", nil, types.NewError(types.ErrValidation,
			"message must not exceed 5000 characters")
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	conv, created := e.sessions.GetOrCreate(sessionID)
	if created {
		e.assignExperiments(ctx, conv)
		e.logger.Info("conversation started", zap.String("conversation_id", sessionID))
	}

	if err := e.sessions.BeginTurn(sessionID); err != nil {
		e.metrics.RecordTurn("conflict", 0)
		return "", nil, err
	}

	pub := newPublisher(e.cfg.EventBuffer, e.logger)
	go e.runTurn(ctx, sessionID, visitorText, pub)
	return sessionID, pub.events(), nil
}

// assignExperiments draws every configured experiment once for a new
// conversation. Selector failures degrade to control.
func (e *Engine) assignExperiments(ctx context.Context, conv *types.Conversation) {
	if e.selector == nil {
		return
	}
	for _, name := range e.selector.Names() {
		v, err := e.selector.Assign(ctx, name, conv.ID)
		if err != nil {
			e.logger.Warn("experiment assignment failed",
				zap.String("experiment", name), zap.Error(err))
			v = experiment.Control()
		}
		conv.Assignments[name] = v.Name
		e.metrics.RecordExperimentAssignment(name, v.Name)
	}
}

func (e *Engine) runTurn(ctx context.Context, sessionID, visitorText string, pub *publisher) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.cfg.TurnTimeout)
	defer cancel()
	ctx, span := e.tracer.Start(ctx, "visitor_turn",
		oteltrace.WithAttributes(attribute.String("conversation_id", sessionID)))
	defer span.End()
	defer func() {
		status := "completed"
		if pub.terminalType() == EventError {
			status = "error"
		}
		e.metrics.RecordTurn(status, time.Since(start))
		e.metrics.SetActiveSessions(e.sessions.Len())
	}()
	defer e.sessions.EndTurn(sessionID)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("turn panicked",
				zap.String("conversation_id", sessionID), zap.Any("panic", r))
			pub.Error(types.NewError(types.ErrInternal, "internal error"))
		}
	}()

	pub.Open(sessionID)

	e.appendVisitorMessage(sessionID, visitorText)

	// Ownership is decided after staleness resolution; a reverted handoff is
	// mirrored durably right away.
	var owner handoff.Owner
	var forwardRef string
	var phaseBefore, phaseAfter types.HandoffPhase
	_ = e.sessions.Update(sessionID, func(conv *types.Conversation) {
		phaseBefore = conv.Handoff.Phase
		owner = e.arbiter.Resolve(conv)
		phaseAfter = conv.Handoff.Phase
		if e.arbiter.ShouldForward(conv) {
			forwardRef = conv.Handoff.ThreadRef
		}
		if phaseAfter != phaseBefore && e.writer != nil {
			e.writer.EnqueueUpdate(conv)
		}
	})
	if phaseAfter != phaseBefore {
		e.metrics.RecordHandoffTransition(string(phaseBefore), string(phaseAfter))
	}

	if forwardRef != "" && e.channel != nil {
		if err := e.channel.ForwardVisitorMessage(ctx, forwardRef, visitorText); err != nil {
			// The operator misses one relay; the log still has the message.
			e.logger.Warn("failed to forward visitor message",
				zap.String("conversation_id", sessionID), zap.Error(err))
		} else {
			e.metrics.RecordForwardedMessage()
		}
	}

	if owner == handoff.OwnerHuman {
		// The model stays out of a human-owned turn, but the visitor still
		// hears that someone is on it.
		e.appendAndMirror(sessionID, types.NewResponderMessage(humanAssistNotice))
		pub.Text(humanAssistNotice)
		pub.Done(e.leadCaptured(sessionID))
		return
	}

	e.runCompletionChain(ctx, sessionID, pub)
}

// runCompletionChain drives completion calls and tool executions until the
// model answers in text or the chain bound forces it to.
func (e *Engine) runCompletionChain(ctx context.Context, sessionID string, pub *publisher) {
	toolsUsed := 0
	forceText := false

	for {
		req := e.buildRequest(sessionID, forceText)
		callStart := time.Now()
		comp, err := e.client.StreamCompletion(ctx, req, pub.Text)
		if err != nil {
			e.metrics.RecordLLMRequest(req.Model, "error", time.Since(callStart), 0, 0)
			e.logger.Error("completion failed",
				zap.String("conversation_id", sessionID), zap.Error(err))
			pub.Error(err)
			return
		}
		// Usage is accounted per completion call, not per turn.
		e.metrics.RecordLLMRequest(req.Model, "ok", time.Since(callStart),
			comp.Usage.PromptTokens, comp.Usage.CompletionTokens)

		respMsg := types.NewResponderMessage(comp.Text)
		if comp.ToolCall != nil {
			respMsg = respMsg.WithToolCall(&types.ToolCallBlock{
				ID:        comp.ToolCall.ID,
				Name:      comp.ToolCall.Name,
				Arguments: comp.ToolCall.Arguments,
			})
		}
		e.appendAndMirror(sessionID, respMsg)

		if comp.ToolCall == nil || forceText {
			break
		}

		if toolsUsed >= e.cfg.MaxToolChain {
			e.logger.Warn("tool chain bound reached",
				zap.String("conversation_id", sessionID),
				zap.String("tool", comp.ToolCall.Name))
			e.appendAndMirror(sessionID, types.NewToolResultMessage(
				comp.ToolCall.ID, comp.ToolCall.Name,
				tools.FailureContent("tool chain limit reached for this turn")))
			forceText = true
			continue
		}
		toolsUsed++

		toolCtx, toolSpan := e.tracer.Start(ctx, "tool_execution",
			oteltrace.WithAttributes(attribute.String("tool", comp.ToolCall.Name)))
		outcome := e.executor.Execute(toolCtx, comp.ToolCall.Name, e.buildInvocation(sessionID, comp.ToolCall))
		toolSpan.SetAttributes(attribute.Bool("failed", outcome.Failed))
		toolSpan.End()
		e.metrics.RecordToolExecution(comp.ToolCall.Name, outcome.Failed, outcome.Duration)
		e.appendAndMirror(sessionID, types.NewToolResultMessage(
			outcome.CallID, outcome.Name, outcome.Content))

		if !outcome.Failed {
			e.applyOutcome(sessionID, outcome)
			pub.SideEffect(outcome.SideEffect)
		}
	}

	pub.Done(e.leadCaptured(sessionID))
}

// applyOutcome applies a tool's conversation mutation under the session lock
// and mirrors the new snapshot.
func (e *Engine) applyOutcome(sessionID string, outcome *tools.Outcome) {
	if outcome.Mutate == nil {
		return
	}
	var threadRef string
	var phaseBefore, phaseAfter types.HandoffPhase
	_ = e.sessions.Update(sessionID, func(conv *types.Conversation) {
		phaseBefore = conv.Handoff.Phase
		outcome.Mutate(conv)
		phaseAfter = conv.Handoff.Phase
		threadRef = conv.Handoff.ThreadRef
		if e.writer != nil {
			e.writer.EnqueueUpdate(conv)
		}
	})
	if phaseAfter != phaseBefore {
		e.metrics.RecordHandoffTransition(string(phaseBefore), string(phaseAfter))
	}
	if threadRef != "" {
		e.sessions.IndexThreadRef(threadRef, sessionID)
	}
}

func (e *Engine) buildInvocation(sessionID string, call *llm.ToolCall) tools.Invocation {
	inv := tools.Invocation{
		CallID:         call.ID,
		ConversationID: sessionID,
		Arguments:      call.Arguments,
	}
	_ = e.sessions.Update(sessionID, func(conv *types.Conversation) {
		inv.LeadAlreadyCaptured = conv.LeadCaptured
		inv.HandoffEngaged = conv.Handoff.IsHandedOff()
		inv.Transcript = append([]types.Message(nil), conv.Messages...)
	})
	return inv
}

// buildRequest assembles the completion request from the conversation log
// and the conversation's experiment arms.
func (e *Engine) buildRequest(sessionID string, forceText bool) *llm.ChatRequest {
	systemPrompt := e.cfg.SystemPrompt
	model := e.cfg.Model
	temperature := e.cfg.Temperature

	var msgs []llm.Message
	_ = e.sessions.Update(sessionID, func(conv *types.Conversation) {
		if e.selector != nil {
			for _, name := range e.selector.Names() {
				exp, err := e.selector.Experiment(name)
				if err != nil {
					continue
				}
				v, ok := exp.VariantByName(conv.Assignments[name])
				if !ok {
					continue
				}
				if v.SystemPrompt != "" {
					systemPrompt = v.SystemPrompt
				}
				if v.Model != "" {
					model = v.Model
				}
				if v.Temperature != 0 {
					temperature = float32(v.Temperature)
				}
			}
		}
		msgs = toWireMessages(systemPrompt, conv.Messages)
	})

	req := &llm.ChatRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: temperature,
	}
	if e.registry != nil {
		req.Tools = e.registry.Schemas()
	}
	if forceText {
		req.ToolChoice = "none"
	}
	return req
}

func toWireMessages(systemPrompt string, log []types.Message) []llm.Message {
	msgs := make([]llm.Message, 0, len(log)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	for _, m := range log {
		switch m.Role {
		case types.RoleVisitor:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: m.Content})
		case types.RoleResponder:
			wm := llm.Message{Role: llm.RoleAssistant, Content: m.Content}
			if m.ToolCall != nil {
				wm.ToolCalls = []llm.ToolCall{{
					ID:        m.ToolCall.ID,
					Name:      m.ToolCall.Name,
					Arguments: m.ToolCall.Arguments,
				}}
			}
			msgs = append(msgs, wm)
		case types.RoleToolResult:
			msgs = append(msgs, llm.Message{
				Role:       llm.RoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
				Name:       m.ToolName,
			})
		}
	}
	return msgs
}

// appendVisitorMessage appends the turn's inbound message. A conversation's
// first message rides inside the durable create so the row and the message
// land together; later messages mirror as plain appends.
func (e *Engine) appendVisitorMessage(sessionID, text string) {
	msg := types.NewVisitorMessage(text)
	_ = e.sessions.Update(sessionID, func(conv *types.Conversation) {
		first := len(conv.Messages) == 0
		conv.Append(msg)
		if e.writer == nil {
			return
		}
		if first {
			e.writer.EnqueueCreate(conv)
			return
		}
		e.writer.EnqueueAppend(sessionID, len(conv.Messages)-1, msg)
	})
}

// appendAndMirror appends to the live log and enqueues the durable append.
func (e *Engine) appendAndMirror(sessionID string, msg types.Message) {
	_ = e.sessions.Update(sessionID, func(conv *types.Conversation) {
		conv.Append(msg)
		if e.writer != nil {
			e.writer.EnqueueAppend(sessionID, len(conv.Messages)-1, msg)
		}
	})
}

func (e *Engine) leadCaptured(sessionID string) bool {
	var lead bool
	_ = e.sessions.Update(sessionID, func(conv *types.Conversation) {
		lead = conv.LeadCaptured
	})
	return lead
}

// HandleOperatorMessage routes an inbound operator reply to its
// conversation: ownership moves to the human and the reply joins the log.
func (e *Engine) HandleOperatorMessage(_ context.Context, msg operator.InboundMessage) error {
	if msg.ThreadRef == "" || msg.Text == "" {
		return types.NewError(types.ErrValidation, "thread_ref and text are required")
	}
	if msg.IsBot {
		// Echoes from the relay bot and platform notifications are not
		// operator activity; counting them would silence the responder.
		e.logger.Debug("ignoring bot message on operator thread",
			zap.String("thread_ref", msg.ThreadRef))
		return nil
	}
	conversationID := e.sessions.ResolveThreadRef(msg.ThreadRef)
	if conversationID == "" {
		return types.NewError(types.ErrValidation, "unknown thread ref: "+msg.ThreadRef).
			WithHTTPStatus(404)
	}

	at := msg.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	var phaseBefore, phaseAfter types.HandoffPhase
	err := e.sessions.Update(conversationID, func(conv *types.Conversation) {
		phaseBefore = conv.Handoff.Phase
		e.arbiter.NoteHumanMessage(conv, msg.Operator, at)
		phaseAfter = conv.Handoff.Phase
		human := types.NewHumanMessage(msg.Text)
		human.Timestamp = at
		conv.Append(human)
		if e.writer != nil {
			e.writer.EnqueueAppend(conversationID, len(conv.Messages)-1, human)
			e.writer.EnqueueUpdate(conv)
		}
	})
	if err != nil {
		return err
	}
	if phaseAfter != phaseBefore {
		e.metrics.RecordHandoffTransition(string(phaseBefore), string(phaseAfter))
	}
	return nil
}

// EndConversation marks a conversation ended and evicts it from the store.
func (e *Engine) EndConversation(sessionID string) error {
	if e.sessions.Get(sessionID) == nil {
		return types.NewError(types.ErrValidation, "conversation not found: "+sessionID).
			WithHTTPStatus(404)
	}
	e.sessions.End(sessionID)
	return nil
}

// History returns a conversation's full log, from memory when live and from
// durable storage otherwise.
func (e *Engine) History(ctx context.Context, sessionID string) (*types.Conversation, error) {
	if conv := e.sessions.Get(sessionID); conv != nil {
		var snapshot types.Conversation
		_ = e.sessions.Update(sessionID, func(c *types.Conversation) {
			snapshot = *c
			snapshot.Messages = append([]types.Message(nil), c.Messages...)
		})
		return &snapshot, nil
	}
	if e.gateway == nil {
		return nil, types.NewError(types.ErrValidation, "conversation not found: "+sessionID).
			WithHTTPStatus(404)
	}
	return e.gateway.LoadConversation(ctx, sessionID)
}
