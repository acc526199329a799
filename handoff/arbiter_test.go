package handoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xpio/chatcore/types"
)

func newArbiterAt(t0 time.Time, threshold time.Duration) (*Arbiter, *time.Time) {
	current := t0
	a := NewArbiter(threshold, func() time.Time { return current }, nil)
	return a, &current
}

func handedOffConv(lastHuman time.Time) *types.Conversation {
	conv := types.NewConversation("conv-1", lastHuman.Add(-time.Hour))
	conv.Handoff = types.HandoffState{
		Phase:             types.PhaseHumanActive,
		ThreadRef:         "thread-1",
		HandedOffTo:       "sam",
		LastHumanActivity: lastHuman,
	}
	return conv
}

func TestResolveAIOwnedByDefault(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a, _ := newArbiterAt(t0, 2*time.Minute)
	conv := types.NewConversation("conv-1", t0)
	assert.Equal(t, OwnerAI, a.Resolve(conv))
}

func TestResolveHandoffRequestedStaysWithAI(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a, _ := newArbiterAt(t0, 2*time.Minute)
	conv := types.NewConversation("conv-1", t0)
	conv.Handoff.Phase = types.PhaseHandoffRequested
	conv.Handoff.ThreadRef = "thread-1"

	assert.Equal(t, OwnerAI, a.Resolve(conv))
	assert.Equal(t, types.PhaseHandoffRequested, conv.Handoff.Phase)
}

func TestResolveHumanOwnsWhileFresh(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a, now := newArbiterAt(t0, 2*time.Minute)
	conv := handedOffConv(t0)

	*now = t0.Add(90 * time.Second)
	assert.Equal(t, OwnerHuman, a.Resolve(conv))
	assert.Equal(t, types.PhaseHumanActive, conv.Handoff.Phase)
}

func TestResolveThresholdBoundary(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	threshold := 2 * time.Minute

	// At exactly the threshold the human still owns.
	a, now := newArbiterAt(t0, threshold)
	conv := handedOffConv(t0)
	*now = t0.Add(threshold)
	assert.Equal(t, OwnerHuman, a.Resolve(conv))

	// One instant past it, ownership reverts.
	*now = t0.Add(threshold + time.Nanosecond)
	assert.Equal(t, OwnerAI, a.Resolve(conv))
	assert.Equal(t, types.PhaseAIOwned, conv.Handoff.Phase)
	// Audit fields survive the revert.
	assert.Equal(t, "thread-1", conv.Handoff.ThreadRef)
	assert.Equal(t, "sam", conv.Handoff.HandedOffTo)
}

func TestVisitorActivityDoesNotExtendHandoff(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a, now := newArbiterAt(t0, 2*time.Minute)
	conv := handedOffConv(t0)

	// Visitor messages bump LastActivity but not the handoff clock.
	*now = t0.Add(90 * time.Second)
	msg := types.NewVisitorMessage("hello?")
	msg.Timestamp = *now
	conv.Append(msg)

	*now = t0.Add(3 * time.Minute)
	assert.Equal(t, OwnerAI, a.Resolve(conv))
}

func TestNoteHumanMessagePromotesAndResets(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a, now := newArbiterAt(t0, 2*time.Minute)

	conv := types.NewConversation("conv-1", t0)
	conv.Handoff.Phase = types.PhaseHandoffRequested
	conv.Handoff.ThreadRef = "thread-1"

	a.NoteHumanMessage(conv, "sam", t0.Add(30*time.Second))
	assert.Equal(t, types.PhaseHumanActive, conv.Handoff.Phase)
	assert.Equal(t, "sam", conv.Handoff.HandedOffTo)
	assert.Equal(t, OwnerHuman, a.Resolve(conv))

	// Another reply later keeps the clock moving forward.
	*now = t0.Add(3 * time.Minute)
	a.NoteHumanMessage(conv, "sam", *now)
	*now = now.Add(time.Minute)
	assert.Equal(t, OwnerHuman, a.Resolve(conv))
}

func TestNoteHumanMessageReengagesAfterRevert(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a, now := newArbiterAt(t0, 2*time.Minute)
	conv := handedOffConv(t0)

	*now = t0.Add(5 * time.Minute)
	assert.Equal(t, OwnerAI, a.Resolve(conv))

	// The thread is still open; a late reply re-engages.
	a.NoteHumanMessage(conv, "sam", *now)
	assert.Equal(t, OwnerHuman, a.Resolve(conv))
}

func TestNoteHumanMessageWithoutThreadIsIgnored(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a, _ := newArbiterAt(t0, 2*time.Minute)
	conv := types.NewConversation("conv-1", t0)

	a.NoteHumanMessage(conv, "sam", t0)
	assert.Equal(t, types.PhaseAIOwned, conv.Handoff.Phase)
}

func TestShouldForward(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a, _ := newArbiterAt(t0, 2*time.Minute)

	conv := types.NewConversation("conv-1", t0)
	assert.False(t, a.ShouldForward(conv))

	conv.Handoff.Phase = types.PhaseHandoffRequested
	conv.Handoff.ThreadRef = "thread-1"
	assert.True(t, a.ShouldForward(conv))

	conv.Handoff.Phase = types.PhaseHumanActive
	assert.True(t, a.ShouldForward(conv))

	conv.Handoff.Phase = types.PhaseAIOwned
	assert.False(t, a.ShouldForward(conv), "reverted handoff stops forwarding")
}
