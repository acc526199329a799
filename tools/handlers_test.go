package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/xpio/chatcore/operator"
	"github.com/xpio/chatcore/persistence"
	"github.com/xpio/chatcore/schedule"
	"github.com/xpio/chatcore/types"
)

func newLeadDeps(t *testing.T) (*persistence.Writer, *persistence.GormGateway) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	gw, err := persistence.NewGormGateway(db, nil)
	require.NoError(t, err)
	require.NoError(t, gw.AutoMigrate())

	w := persistence.NewWriter(gw, persistence.Config{
		MaxRetries: 2, RetryBackoff: time.Millisecond, QueueSize: 16, WriteTimeout: time.Second,
	}, nil)
	t.Cleanup(w.Close)
	return w, gw
}

func TestCaptureLead(t *testing.T) {
	w, gw := newLeadDeps(t)
	h := NewCaptureLead(w, gw, nil)

	out, err := h.Execute(context.Background(), Invocation{
		CallID:         "call_1",
		ConversationID: "conv-1",
		Arguments:      json.RawMessage(`{"name":"Ada","email":"ada@example.com","notes":"pricing"}`),
	})
	require.NoError(t, err)
	assert.False(t, out.Failed)

	var payload struct {
		Status    string `json:"status"`
		LeadRef   string `json:"lead_ref"`
		Duplicate bool   `json:"duplicate"`
	}
	require.NoError(t, json.Unmarshal([]byte(out.Content), &payload))
	assert.Equal(t, "ok", payload.Status)
	assert.NotEmpty(t, payload.LeadRef)
	assert.False(t, payload.Duplicate)

	require.NotNil(t, out.SideEffect)
	assert.Equal(t, "lead_captured", out.SideEffect.Type)
	assert.Equal(t, payload.LeadRef, out.SideEffect.Data["lead_ref"])

	conv := types.NewConversation("conv-1", time.Now())
	out.Mutate(conv)
	assert.True(t, conv.LeadCaptured)
	assert.Equal(t, payload.LeadRef, conv.LeadRef)

	// Flag stays monotonic across later captures.
	out2, err := h.Execute(context.Background(), Invocation{
		ConversationID:      "conv-1",
		LeadAlreadyCaptured: true,
		Arguments:           json.RawMessage(`{"email":"other@example.com"}`),
	})
	require.NoError(t, err)
	out2.Mutate(conv)
	assert.Equal(t, payload.LeadRef, conv.LeadRef)
}

func TestCaptureLeadDuplicateAdvisory(t *testing.T) {
	w, gw := newLeadDeps(t)
	require.NoError(t, gw.SaveLead(context.Background(), &persistence.Lead{
		ID: "lead-0", Email: "ada@example.com", CreatedAt: time.Now(),
	}))

	h := NewCaptureLead(w, gw, nil)
	out, err := h.Execute(context.Background(), Invocation{
		ConversationID: "conv-1",
		Arguments:      json.RawMessage(`{"email":"ada@example.com"}`),
	})
	require.NoError(t, err)

	var payload struct {
		Duplicate bool `json:"duplicate"`
	}
	require.NoError(t, json.Unmarshal([]byte(out.Content), &payload))
	assert.True(t, payload.Duplicate, "duplicate is advisory, not an error")
}

func TestCaptureLeadValidation(t *testing.T) {
	w, gw := newLeadDeps(t)
	h := NewCaptureLead(w, gw, nil)

	_, err := h.Execute(context.Background(), Invocation{
		Arguments: json.RawMessage(`{"name":"Ada"}`),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email is required")

	_, err = h.Execute(context.Background(), Invocation{
		Arguments: json.RawMessage(`{"email":"not-an-email"}`),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid")

	// Missing arguments read as an empty object, not a decode error.
	_, err = h.Execute(context.Background(), Invocation{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email is required")
}

func TestCheckSchedule(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2026-03-02", r.URL.Query().Get("date"))
		_, _ = w.Write([]byte(`{"slots":[{"start":"2026-03-02T10:00:00Z","end":"2026-03-02T10:30:00Z"}]}`))
	}))
	defer srv.Close()

	h := NewCheckSchedule(schedule.NewClient(schedule.Config{BaseURL: srv.URL}, nil))
	out, err := h.Execute(context.Background(), Invocation{
		Arguments: json.RawMessage(`{"date":"2026-03-02"}`),
	})
	require.NoError(t, err)
	require.NotNil(t, out.SideEffect)
	assert.Equal(t, "schedule_checked", out.SideEffect.Type)
	assert.Equal(t, 1, out.SideEffect.Data["slot_count"])
	assert.Nil(t, out.Mutate)

	_, err = h.Execute(context.Background(), Invocation{
		Arguments: json.RawMessage(`{"date":"tomorrow"}`),
	})
	require.Error(t, err)
}

type fakeChannel struct {
	threadRef string
	openErr   error
	requests  []operator.ThreadRequest
	forwarded []string
}

func (f *fakeChannel) OpenThread(_ context.Context, req operator.ThreadRequest) (string, error) {
	f.requests = append(f.requests, req)
	if f.openErr != nil {
		return "", f.openErr
	}
	return f.threadRef, nil
}

func (f *fakeChannel) ForwardVisitorMessage(_ context.Context, _ string, text string) error {
	f.forwarded = append(f.forwarded, text)
	return nil
}

func TestRequestHandoff(t *testing.T) {
	ch := &fakeChannel{threadRef: "thread-7"}
	h := NewRequestHandoff(ch)

	transcript := []types.Message{
		types.NewVisitorMessage("I want to talk to a person"),
	}
	out, err := h.Execute(context.Background(), Invocation{
		ConversationID: "conv-1",
		Arguments:      json.RawMessage(`{"reason":"explicit request"}`),
		Transcript:     transcript,
	})
	require.NoError(t, err)
	require.NotNil(t, out.SideEffect)
	assert.Equal(t, "handoff_requested", out.SideEffect.Type)
	assert.Equal(t, "thread-7", out.SideEffect.Data["thread_ref"])

	conv := types.NewConversation("conv-1", time.Now())
	out.Mutate(conv)
	assert.Equal(t, types.PhaseHandoffRequested, conv.Handoff.Phase)
	assert.Equal(t, "thread-7", conv.Handoff.ThreadRef)

	require.Len(t, ch.requests, 1)
	assert.Equal(t, "explicit request", ch.requests[0].Reason)
	assert.Len(t, ch.requests[0].Transcript, 1)
}

func TestRequestHandoffWithoutArguments(t *testing.T) {
	// The schema has no required parameters, so the model may omit the
	// argument block entirely.
	ch := &fakeChannel{threadRef: "thread-7"}
	h := NewRequestHandoff(ch)

	out, err := h.Execute(context.Background(), Invocation{ConversationID: "conv-1"})
	require.NoError(t, err)
	require.NotNil(t, out.SideEffect)
	assert.Equal(t, "thread-7", out.SideEffect.Data["thread_ref"])
	require.Len(t, ch.requests, 1)
	assert.Empty(t, ch.requests[0].Reason)
}

func TestRequestHandoffAlreadyEngaged(t *testing.T) {
	ch := &fakeChannel{threadRef: "thread-7"}
	h := NewRequestHandoff(ch)

	out, err := h.Execute(context.Background(), Invocation{
		ConversationID: "conv-1",
		Arguments:      json.RawMessage(`{}`),
		HandoffEngaged: true,
	})
	require.NoError(t, err)
	assert.Nil(t, out.SideEffect)
	assert.Nil(t, out.Mutate)
	assert.Contains(t, out.Content, "already in progress")
	assert.Empty(t, ch.requests, "no second thread is opened")
}

func TestRequestHandoffChannelFailureDegrades(t *testing.T) {
	ch := &fakeChannel{openErr: fmt.Errorf("operator system down")}
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(NewRequestHandoff(ch), Metadata{}))
	e := NewExecutor(reg, nil)

	out := e.Execute(context.Background(), "request_operator_handoff", Invocation{
		CallID:    "call_1",
		Arguments: json.RawMessage(`{}`),
	})
	assert.True(t, out.Failed)
	assert.Contains(t, out.Content, "operator system down")
}
