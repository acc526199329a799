package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpio/chatcore/experiment"
	"github.com/xpio/chatcore/handoff"
	"github.com/xpio/chatcore/llm"
	"github.com/xpio/chatcore/operator"
	"github.com/xpio/chatcore/persistence"
	"github.com/xpio/chatcore/session"
	"github.com/xpio/chatcore/tools"
	"github.com/xpio/chatcore/types"
)

// scriptedProvider replays a fixed sequence of streams, one per completion
// call, and records the requests it saw.
type scriptedProvider struct {
	mu       sync.Mutex
	scripts  [][]llm.StreamChunk
	requests []*llm.ChatRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Completion(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, fmt.Errorf("not scripted")
}

func (p *scriptedProvider) HealthCheck(context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}

func (p *scriptedProvider) Stream(_ context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	if len(p.scripts) == 0 {
		p.mu.Unlock()
		return nil, &llm.Error{Code: llm.ErrProviderUnavailable, Message: "script exhausted"}
	}
	script := p.scripts[0]
	p.scripts = p.scripts[1:]
	p.mu.Unlock()

	ch := make(chan llm.StreamChunk, len(script))
	for _, c := range script {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func textStream(parts ...string) []llm.StreamChunk {
	var chunks []llm.StreamChunk
	for _, t := range parts {
		chunks = append(chunks, llm.StreamChunk{Delta: llm.Message{Role: llm.RoleAssistant, Content: t}})
	}
	return append(chunks, llm.StreamChunk{FinishReason: "stop"})
}

func toolStream(id, name, args string) []llm.StreamChunk {
	return []llm.StreamChunk{
		{Delta: llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{
			ID: id, Name: name, Arguments: json.RawMessage(args),
		}}}},
		{FinishReason: "tool_calls"},
	}
}

// countingHandler runs a canned outcome and counts executions.
type countingHandler struct {
	name    string
	outcome func(inv tools.Invocation) (*tools.Outcome, error)

	mu    sync.Mutex
	count int
}

func (h *countingHandler) Name() string { return h.name }

func (h *countingHandler) Schema() llm.ToolSchema {
	return llm.ToolSchema{Name: h.name, Parameters: json.RawMessage(`{"type":"object"}`)}
}

func (h *countingHandler) Execute(_ context.Context, inv tools.Invocation) (*tools.Outcome, error) {
	h.mu.Lock()
	h.count++
	h.mu.Unlock()
	return h.outcome(inv)
}

func (h *countingHandler) executions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

type testRig struct {
	engine   *Engine
	provider *scriptedProvider
	sessions *session.Store
	channel  *fakeChannel
	now      *time.Time
}

type fakeChannel struct {
	mu        sync.Mutex
	forwarded []string
	threadRef string
}

func (f *fakeChannel) OpenThread(context.Context, operator.ThreadRequest) (string, error) {
	return f.threadRef, nil
}

func (f *fakeChannel) ForwardVisitorMessage(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	f.forwarded = append(f.forwarded, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) forwardedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.forwarded)
}

func newTestRig(t *testing.T, scripts [][]llm.StreamChunk, handlers ...tools.Handler) *testRig {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rig := &testRig{now: &now}
	clock := func() time.Time { return *rig.now }

	rig.provider = &scriptedProvider{scripts: scripts}
	rig.sessions = session.NewStore(session.Config{IdleTTL: time.Hour, ReapInterval: time.Hour}, clock, nil, nil)
	rig.channel = &fakeChannel{threadRef: "thread-1"}

	registry := tools.NewRegistry(nil)
	for _, h := range handlers {
		require.NoError(t, registry.Register(h, tools.Metadata{Timeout: time.Second}))
	}

	rig.engine = New(Config{
		SystemPrompt: "You help visitors.",
		Model:        "test-model",
		MaxToolChain: 3,
		TurnTimeout:  5 * time.Second,
	}, Options{
		Sessions: rig.sessions,
		Client:   llm.NewClient(rig.provider, nil, nil),
		Registry: registry,
		Executor: tools.NewExecutor(registry, nil),
		Arbiter:  handoff.NewArbiter(2*time.Minute, clock, nil),
		Channel:  rig.channel,
	})
	return rig
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("stream did not terminate; got %d events", len(events))
		}
	}
}

// assertContract checks the stream invariants every turn must satisfy.
func assertContract(t *testing.T, events []Event) {
	t.Helper()
	require.NotEmpty(t, events)
	assert.Equal(t, EventSessionID, events[0].Type, "stream must open with session_id")
	last := events[len(events)-1]
	assert.Contains(t, []EventType{EventDone, EventError}, last.Type, "stream must end with a terminal event")
	terminals := 0
	for _, ev := range events {
		if ev.Type == EventDone || ev.Type == EventError {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals, "exactly one terminal event")
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestPlainTextTurn(t *testing.T) {
	rig := newTestRig(t, [][]llm.StreamChunk{textStream("Hel", "lo!")})

	id, ch, err := rig.engine.HandleTurn(context.Background(), "", "hi there")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	events := collect(t, ch)
	assertContract(t, events)
	assert.Equal(t,
		[]EventType{EventSessionID, EventText, EventText, EventDone},
		eventTypes(events))
	assert.Equal(t, id, events[0].SessionID)
	assert.Equal(t, "Hel", events[1].Text)
	assert.False(t, events[3].Done.LeadCaptured)

	conv := rig.sessions.Get(id)
	require.NotNil(t, conv)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, types.RoleVisitor, conv.Messages[0].Role)
	assert.Equal(t, "Hello!", conv.Messages[1].Content)
	assert.Equal(t, types.AttributionAutomated, conv.Messages[1].Attribution)
}

func TestEmptyMessageRejected(t *testing.T) {
	rig := newTestRig(t, nil)
	_, _, err := rig.engine.HandleTurn(context.Background(), "conv-1", "   ")
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.CodeOf(err))
}

func TestOverlongMessageRejected(t *testing.T) {
	rig := newTestRig(t, [][]llm.StreamChunk{textStream("ok")})

	_, _, err := rig.engine.HandleTurn(context.Background(), "conv-1", strings.Repeat("a", 5001))
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.CodeOf(err))

	// Exactly at the bound still goes through.
	_, ch, err := rig.engine.HandleTurn(context.Background(), "conv-1", strings.Repeat("a", 5000))
	require.NoError(t, err)
	assertContract(t, collect(t, ch))
}

func TestConcurrentTurnConflicts(t *testing.T) {
	rig := newTestRig(t, [][]llm.StreamChunk{textStream("ok")})
	rig.sessions.GetOrCreate("conv-1")
	require.NoError(t, rig.sessions.BeginTurn("conv-1"))

	_, _, err := rig.engine.HandleTurn(context.Background(), "conv-1", "hello")
	require.Error(t, err)
	assert.Equal(t, types.ErrConcurrencyConflict, types.CodeOf(err))
	assert.True(t, types.IsRetryable(err))
}

func TestToolChainWithSideEffects(t *testing.T) {
	lead := &countingHandler{name: "capture_lead", outcome: func(tools.Invocation) (*tools.Outcome, error) {
		return &tools.Outcome{
			Content:    `{"status":"ok","lead_ref":"lead-1"}`,
			SideEffect: &tools.SideEffect{Type: "lead_captured", Data: map[string]any{"lead_ref": "lead-1"}},
			Mutate:     func(conv *types.Conversation) { conv.MarkLeadCaptured("lead-1") },
		}, nil
	}}
	sched := &countingHandler{name: "check_schedule_availability", outcome: func(tools.Invocation) (*tools.Outcome, error) {
		return &tools.Outcome{
			Content:    `{"status":"ok","slots":[]}`,
			SideEffect: &tools.SideEffect{Type: "schedule_checked"},
		}, nil
	}}

	rig := newTestRig(t, [][]llm.StreamChunk{
		toolStream("call_1", "capture_lead", `{"email":"a@b.com"}`),
		toolStream("call_2", "check_schedule_availability", `{}`),
		textStream("All set, Ada!"),
	}, lead, sched)

	id, ch, err := rig.engine.HandleTurn(context.Background(), "", "I'm a@b.com, when can we talk?")
	require.NoError(t, err)

	events := collect(t, ch)
	assertContract(t, events)

	var effects []string
	for _, ev := range events {
		if ev.Type == EventSideEffect {
			effects = append(effects, ev.SideEffect.Type)
		}
	}
	assert.Equal(t, []string{"lead_captured", "schedule_checked"}, effects)

	done := events[len(events)-1]
	require.Equal(t, EventDone, done.Type)
	assert.True(t, done.Done.LeadCaptured)

	assert.Equal(t, 1, lead.executions())
	assert.Equal(t, 1, sched.executions())
	assert.Equal(t, 3, rig.provider.callCount())

	conv := rig.sessions.Get(id)
	require.NotNil(t, conv)
	// visitor, tool-call, tool_result, tool-call, tool_result, final text
	require.Len(t, conv.Messages, 6)
	assert.Equal(t, types.RoleToolResult, conv.Messages[2].Role)
	assert.Equal(t, "call_1", conv.Messages[2].ToolCallID)
	require.NotNil(t, conv.Messages[1].ToolCall)
	assert.Equal(t, "capture_lead", conv.Messages[1].ToolCall.Name)
	assert.True(t, conv.LeadCaptured)
}

func TestToolFailureDegradesAndTurnContinues(t *testing.T) {
	boom := &countingHandler{name: "capture_lead", outcome: func(tools.Invocation) (*tools.Outcome, error) {
		return nil, fmt.Errorf("crm is down")
	}}

	rig := newTestRig(t, [][]llm.StreamChunk{
		toolStream("call_1", "capture_lead", `{"email":"a@b.com"}`),
		textStream("I couldn't save that just now."),
	}, boom)

	id, ch, err := rig.engine.HandleTurn(context.Background(), "", "my email is a@b.com")
	require.NoError(t, err)

	events := collect(t, ch)
	assertContract(t, events)
	for _, ev := range events {
		assert.NotEqual(t, EventSideEffect, ev.Type, "failed tool emits no side effect")
	}
	done := events[len(events)-1]
	require.Equal(t, EventDone, done.Type)
	assert.False(t, done.Done.LeadCaptured)

	conv := rig.sessions.Get(id)
	require.Len(t, conv.Messages, 4)
	assert.Contains(t, conv.Messages[2].Content, "crm is down")
}

func TestToolChainBound(t *testing.T) {
	looping := &countingHandler{name: "check_schedule_availability", outcome: func(tools.Invocation) (*tools.Outcome, error) {
		return &tools.Outcome{Content: `{"status":"ok","slots":[]}`}, nil
	}}

	rig := newTestRig(t, [][]llm.StreamChunk{
		toolStream("call_1", "check_schedule_availability", `{}`),
		toolStream("call_2", "check_schedule_availability", `{}`),
		toolStream("call_3", "check_schedule_availability", `{}`),
		toolStream("call_4", "check_schedule_availability", `{}`),
		textStream("Here's what I found."),
	}, looping)

	id, ch, err := rig.engine.HandleTurn(context.Background(), "", "keep checking")
	require.NoError(t, err)

	events := collect(t, ch)
	assertContract(t, events)
	assert.Equal(t, EventDone, events[len(events)-1].Type)

	// Three executions, then the fourth request is refused.
	assert.Equal(t, 3, looping.executions())
	assert.Equal(t, 5, rig.provider.callCount())

	rig.provider.mu.Lock()
	lastReq := rig.provider.requests[len(rig.provider.requests)-1]
	rig.provider.mu.Unlock()
	assert.Equal(t, "none", lastReq.ToolChoice, "final call forces a text answer")

	conv := rig.sessions.Get(id)
	var limitResults int
	for _, m := range conv.Messages {
		if m.Role == types.RoleToolResult && m.ToolCallID == "call_4" {
			assert.Contains(t, m.Content, "limit")
			limitResults++
		}
	}
	assert.Equal(t, 1, limitResults)
}

func TestHumanActiveTurnSkipsModel(t *testing.T) {
	rig := newTestRig(t, nil)

	id := "conv-1"
	rig.sessions.GetOrCreate(id)
	require.NoError(t, rig.sessions.Update(id, func(conv *types.Conversation) {
		conv.Handoff = types.HandoffState{
			Phase:             types.PhaseHumanActive,
			ThreadRef:         "thread-1",
			HandedOffTo:       "sam",
			LastHumanActivity: *rig.now,
		}
	}))
	rig.sessions.IndexThreadRef("thread-1", id)

	*rig.now = rig.now.Add(time.Minute) // within threshold

	_, ch, err := rig.engine.HandleTurn(context.Background(), id, "are you there?")
	require.NoError(t, err)

	events := collect(t, ch)
	assertContract(t, events)
	assert.Equal(t, []EventType{EventSessionID, EventText, EventDone}, eventTypes(events))
	assert.NotEmpty(t, events[1].Text, "visitor hears a human is assisting")
	assert.Equal(t, 0, rig.provider.callCount(), "model must stay silent")
	assert.Equal(t, 1, rig.channel.forwardedCount(), "visitor message relayed to operator")

	conv := rig.sessions.Get(id)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, types.RoleResponder, conv.Messages[1].Role)
	assert.Equal(t, events[1].Text, conv.Messages[1].Content, "notice joins the log")
}

func TestStaleHandoffRevertsToModel(t *testing.T) {
	rig := newTestRig(t, [][]llm.StreamChunk{textStream("I'm back with you.")})

	id := "conv-1"
	rig.sessions.GetOrCreate(id)
	require.NoError(t, rig.sessions.Update(id, func(conv *types.Conversation) {
		conv.Handoff = types.HandoffState{
			Phase:             types.PhaseHumanActive,
			ThreadRef:         "thread-1",
			HandedOffTo:       "sam",
			LastHumanActivity: *rig.now,
		}
	}))

	*rig.now = rig.now.Add(3 * time.Minute) // strictly past threshold

	_, ch, err := rig.engine.HandleTurn(context.Background(), id, "hello?")
	require.NoError(t, err)

	events := collect(t, ch)
	assertContract(t, events)
	assert.Equal(t, 1, rig.provider.callCount())
	assert.Equal(t, EventDone, events[len(events)-1].Type)

	conv := rig.sessions.Get(id)
	assert.Equal(t, types.PhaseAIOwned, conv.Handoff.Phase)
	assert.Equal(t, "thread-1", conv.Handoff.ThreadRef, "audit trail survives")
}

func TestCompletionFailureTerminatesTurn(t *testing.T) {
	rig := newTestRig(t, [][]llm.StreamChunk{{
		{Delta: llm.Message{Role: llm.RoleAssistant, Content: "par"}},
		{Err: &llm.Error{Code: llm.ErrModelOverloaded, Message: "overloaded", Retryable: true}},
	}})

	_, ch, err := rig.engine.HandleTurn(context.Background(), "", "hi")
	require.NoError(t, err)

	events := collect(t, ch)
	assertContract(t, events)
	last := events[len(events)-1]
	require.Equal(t, EventError, last.Type)
	assert.Equal(t, string(types.ErrUpstreamUnavailable), last.Error.Code)
	assert.True(t, last.Error.Retryable)
}

func TestOperatorMessageRouting(t *testing.T) {
	rig := newTestRig(t, nil)

	rig.sessions.GetOrCreate("conv-1")
	require.NoError(t, rig.sessions.Update("conv-1", func(conv *types.Conversation) {
		conv.Handoff.Phase = types.PhaseHandoffRequested
		conv.Handoff.ThreadRef = "thread-1"
	}))
	rig.sessions.IndexThreadRef("thread-1", "conv-1")

	err := rig.engine.HandleOperatorMessage(context.Background(), operator.InboundMessage{
		ThreadRef: "thread-1",
		Operator:  "sam",
		Text:      "Hi, Sam here — happy to help.",
		Timestamp: *rig.now,
	})
	require.NoError(t, err)

	conv := rig.sessions.Get("conv-1")
	assert.Equal(t, types.PhaseHumanActive, conv.Handoff.Phase)
	assert.Equal(t, "sam", conv.Handoff.HandedOffTo)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, types.RoleResponder, conv.Messages[0].Role)
	assert.Equal(t, types.AttributionHuman, conv.Messages[0].Attribution)

	err = rig.engine.HandleOperatorMessage(context.Background(), operator.InboundMessage{
		ThreadRef: "unknown", Operator: "sam", Text: "hello",
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.CodeOf(err))
}

func TestBotThreadMessageDoesNotClaimOwnership(t *testing.T) {
	rig := newTestRig(t, nil)

	rig.sessions.GetOrCreate("conv-1")
	require.NoError(t, rig.sessions.Update("conv-1", func(conv *types.Conversation) {
		conv.Handoff.Phase = types.PhaseHandoffRequested
		conv.Handoff.ThreadRef = "thread-1"
	}))
	rig.sessions.IndexThreadRef("thread-1", "conv-1")

	// The relay echoing a forwarded visitor message back onto the thread.
	err := rig.engine.HandleOperatorMessage(context.Background(), operator.InboundMessage{
		ThreadRef: "thread-1",
		Operator:  "relay-bot",
		Text:      "visitor said: hello?",
		IsBot:     true,
		Timestamp: *rig.now,
	})
	require.NoError(t, err)

	conv := rig.sessions.Get("conv-1")
	assert.Equal(t, types.PhaseHandoffRequested, conv.Handoff.Phase,
		"only a human reply moves ownership")
	assert.Empty(t, conv.Handoff.HandedOffTo)
	assert.Empty(t, conv.Messages, "bot echoes stay out of the log")
}

type recordingMetrics struct {
	noopMetrics
	mu  sync.Mutex
	llm []llmCall
}

type llmCall struct {
	model, status      string
	prompt, completion int
}

func (m *recordingMetrics) RecordLLMRequest(model, status string, _ time.Duration, prompt, completion int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.llm = append(m.llm, llmCall{model, status, prompt, completion})
}

func (m *recordingMetrics) calls() []llmCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llmCall(nil), m.llm...)
}

func TestUsageRecordedPerCompletionCall(t *testing.T) {
	echo := &countingHandler{name: "check_schedule_availability", outcome: func(tools.Invocation) (*tools.Outcome, error) {
		return &tools.Outcome{Content: `{"status":"ok","slots":[]}`}, nil
	}}

	withUsage := func(chunks []llm.StreamChunk, prompt, completion int) []llm.StreamChunk {
		return append(chunks, llm.StreamChunk{
			Usage: &llm.ChatUsage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion},
		})
	}
	rig := newTestRig(t, [][]llm.StreamChunk{
		withUsage(toolStream("call_1", "check_schedule_availability", `{}`), 40, 8),
		withUsage(textStream("Tuesday works."), 55, 4),
	}, echo)
	rec := &recordingMetrics{}
	rig.engine.metrics = rec

	_, ch, err := rig.engine.HandleTurn(context.Background(), "", "when are you free?")
	require.NoError(t, err)
	assertContract(t, collect(t, ch))

	calls := rec.calls()
	require.Len(t, calls, 2, "one record per completion call")
	assert.Equal(t, llmCall{"test-model", "ok", 40, 8}, calls[0])
	assert.Equal(t, llmCall{"test-model", "ok", 55, 4}, calls[1])
}

func TestFirstMessageRidesInCreate(t *testing.T) {
	gw := &journalGateway{}
	w := persistence.NewWriter(gw, persistence.Config{
		MaxRetries: 2, RetryBackoff: time.Millisecond, QueueSize: 16, WriteTimeout: time.Second,
	}, nil)

	rig := newTestRig(t, [][]llm.StreamChunk{textStream("hello!")})
	rig.engine.writer = w

	id, ch, err := rig.engine.HandleTurn(context.Background(), "", "hi")
	require.NoError(t, err)
	collect(t, ch)
	w.Close()

	require.Len(t, gw.creates, 1)
	require.Len(t, gw.creates[0].Messages, 1, "create bundles the first message")
	assert.Equal(t, "hi", gw.creates[0].Messages[0].Content)

	// Only the responder reply arrives as a separate append, behind the create.
	require.Len(t, gw.appends, 1)
	assert.Equal(t, appendEntry{conversationID: id, seq: 1, content: "hello!"}, gw.appends[0])
}

type appendEntry struct {
	conversationID string
	seq            int
	content        string
}

// journalGateway records creates and appends in arrival order.
type journalGateway struct {
	mu      sync.Mutex
	creates []*types.Conversation
	appends []appendEntry
}

func (j *journalGateway) CreateConversation(_ context.Context, conv *types.Conversation) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.creates = append(j.creates, conv)
	return nil
}

func (j *journalGateway) AppendMessage(_ context.Context, conversationID string, seq int, msg types.Message) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.appends = append(j.appends, appendEntry{conversationID, seq, msg.Content})
	return nil
}

func (j *journalGateway) UpdateConversation(context.Context, *types.Conversation) error { return nil }
func (j *journalGateway) SaveLead(context.Context, *persistence.Lead) error             { return nil }
func (j *journalGateway) LeadEmailExists(context.Context, string) (bool, error)         { return false, nil }
func (j *journalGateway) LoadConversation(context.Context, string) (*types.Conversation, error) {
	return nil, nil
}
func (j *journalGateway) Ping(context.Context) error { return nil }

func TestExperimentAssignmentIsRecordedOnce(t *testing.T) {
	exp := &experiment.Experiment{
		Name:     "greeting_tone",
		Variants: []experiment.Variant{{Name: "friendly", Weight: 100, SystemPrompt: "Be warm."}},
	}
	sel, err := experiment.NewSelector([]*experiment.Experiment{exp},
		experiment.NewMemoryAssignmentStore(), func() float64 { return 10 }, nil)
	require.NoError(t, err)

	rig := newTestRig(t, [][]llm.StreamChunk{textStream("hey!"), textStream("again!")})
	rig.engine.selector = sel

	id, ch, err := rig.engine.HandleTurn(context.Background(), "", "hi")
	require.NoError(t, err)
	collect(t, ch)

	conv := rig.sessions.Get(id)
	assert.Equal(t, "friendly", conv.Assignments["greeting_tone"])

	// The variant's prompt override reaches the request, on every turn.
	_, ch, err = rig.engine.HandleTurn(context.Background(), id, "hello again")
	require.NoError(t, err)
	collect(t, ch)

	rig.provider.mu.Lock()
	defer rig.provider.mu.Unlock()
	for _, req := range rig.provider.requests {
		require.NotEmpty(t, req.Messages)
		assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
		assert.Equal(t, "Be warm.", req.Messages[0].Content)
	}
}
