package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xpio/chatcore/llm"
	"github.com/xpio/chatcore/operator"
	"github.com/xpio/chatcore/types"
)

// transcriptTail bounds how much context an operator thread opens with.
const transcriptTail = 20

// RequestHandoff opens a human-operator thread for the conversation.
type RequestHandoff struct {
	channel operator.Channel
}

// NewRequestHandoff creates the request_operator_handoff handler.
func NewRequestHandoff(channel operator.Channel) *RequestHandoff {
	return &RequestHandoff{channel: channel}
}

func (r *RequestHandoff) Name() string { return "request_operator_handoff" }

func (r *RequestHandoff) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        r.Name(),
		Description: "Bring a human operator into the conversation. Use when the visitor asks for a human or the question is beyond you.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"reason": {"type": "string", "description": "Why the visitor needs a human"}
			}
		}`),
	}
}

type requestHandoffArgs struct {
	Reason string `json:"reason"`
}

func (r *RequestHandoff) Execute(ctx context.Context, inv Invocation) (*Outcome, error) {
	var args requestHandoffArgs
	if err := decodeArgs(inv.Arguments, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	// Repeat requests while a handoff is engaged are a harmless no-op; the
	// model just learns one is already underway.
	if inv.HandoffEngaged {
		content, _ := json.Marshal(map[string]string{
			"status": "ok",
			"note":   "a handoff is already in progress",
		})
		return &Outcome{Content: string(content)}, nil
	}

	transcript := inv.Transcript
	if len(transcript) > transcriptTail {
		transcript = transcript[len(transcript)-transcriptTail:]
	}

	threadRef, err := r.channel.OpenThread(ctx, operator.ThreadRequest{
		ConversationID: inv.ConversationID,
		Reason:         args.Reason,
		Transcript:     transcript,
	})
	if err != nil {
		return nil, err
	}

	content, _ := json.Marshal(map[string]string{
		"status":     "ok",
		"thread_ref": threadRef,
	})
	return &Outcome{
		Content: string(content),
		SideEffect: &SideEffect{
			Type: "handoff_requested",
			Data: map[string]any{"thread_ref": threadRef},
		},
		Mutate: func(conv *types.Conversation) {
			conv.Handoff.Phase = types.PhaseHandoffRequested
			conv.Handoff.ThreadRef = threadRef
		},
	}, nil
}
