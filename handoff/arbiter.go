// Copyright (c) ChatCore Authors.
// Licensed under the MIT License.

/*
Package handoff decides who answers the visitor: the automated responder or a
human operator.

Ownership walks ai_owned -> handoff_requested -> human_active -> ai_owned.
A successful handoff tool call opens the operator thread and moves to
handoff_requested; the automated responder keeps answering until a human
actually replies on the thread, which moves to human_active. From there the
human owns every visitor turn until they go quiet past the inactivity
threshold, at which point ownership reverts. The thread ref survives the
revert for audit.
*/
package handoff

import (
	"time"

	"go.uber.org/zap"

	"github.com/xpio/chatcore/types"
)

// Owner says who answers the current visitor turn.
type Owner string

const (
	OwnerAI    Owner = "ai"
	OwnerHuman Owner = "human"
)

// Arbiter applies the ownership rules. Its methods expect the caller to hold
// the conversation's lock; the arbiter itself keeps no per-conversation
// state.
type Arbiter struct {
	threshold time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewArbiter creates an arbiter. now may be nil for the wall clock.
func NewArbiter(threshold time.Duration, now func() time.Time, logger *zap.Logger) *Arbiter {
	if threshold <= 0 {
		threshold = 2 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Arbiter{
		threshold: threshold,
		now:       now,
		logger:    logger.With(zap.String("component", "handoff_arbiter")),
	}
}

// Resolve applies staleness before answering who owns the turn. A human who
// has been silent strictly longer than the threshold loses ownership; at
// exactly the threshold they still hold it. Only human messages feed the
// staleness clock — visitor activity never keeps a handoff alive.
func (a *Arbiter) Resolve(conv *types.Conversation) Owner {
	if conv.Handoff.Phase == types.PhaseHumanActive {
		idle := a.now().Sub(conv.Handoff.LastHumanActivity)
		if idle > a.threshold {
			conv.Handoff.Phase = types.PhaseAIOwned
			// ThreadRef and HandedOffTo stay for audit.
			a.logger.Info("handoff reverted after operator inactivity",
				zap.String("conversation_id", conv.ID),
				zap.Duration("idle", idle),
				zap.String("operator", conv.Handoff.HandedOffTo))
		}
	}

	if conv.Handoff.Phase == types.PhaseHumanActive {
		return OwnerHuman
	}
	// handoff_requested keeps the automated responder answering: the visitor
	// should not sit in silence while no human has picked up the thread.
	return OwnerAI
}

// NoteHumanMessage records an operator reply: the conversation moves to
// human_active and the staleness clock resets.
func (a *Arbiter) NoteHumanMessage(conv *types.Conversation, operatorName string, at time.Time) {
	if conv.Handoff.Phase == types.PhaseAIOwned && conv.Handoff.ThreadRef == "" {
		// An operator message with no thread open is a routing bug upstream;
		// record it but do not invent a handoff.
		a.logger.Warn("operator message for conversation with no handoff",
			zap.String("conversation_id", conv.ID),
			zap.String("operator", operatorName))
		return
	}
	conv.Handoff.Phase = types.PhaseHumanActive
	conv.Handoff.HandedOffTo = operatorName
	if at.After(conv.Handoff.LastHumanActivity) {
		conv.Handoff.LastHumanActivity = at
	}
}

// ShouldForward reports whether visitor messages should be relayed to the
// operator thread. True whenever a handoff is engaged, including
// handoff_requested, so the operator arrives with full context.
func (a *Arbiter) ShouldForward(conv *types.Conversation) bool {
	return conv.Handoff.IsHandedOff() && conv.Handoff.ThreadRef != ""
}
