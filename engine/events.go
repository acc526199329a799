package engine

import (
	"errors"

	"github.com/xpio/chatcore/llm"
	"github.com/xpio/chatcore/tools"
	"github.com/xpio/chatcore/types"
)

// EventType discriminates stream events.
type EventType string

const (
	// EventSessionID is always the first event of a turn.
	EventSessionID EventType = "session_id"

	// EventText carries one incremental chunk of responder text.
	EventText EventType = "text"

	// EventSideEffect announces a durable action a tool performed.
	EventSideEffect EventType = "side_effect"

	// EventDone terminates a successful turn. Always the last event.
	EventDone EventType = "done"

	// EventError terminates a failed turn. Always the last event.
	EventError EventType = "error"
)

// DonePayload summarizes the finished turn.
type DonePayload struct {
	LeadCaptured bool `json:"lead_captured"`
}

// ErrorPayload describes a terminal failure.
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Event is one entry in a turn's output stream.
type Event struct {
	Type       EventType         `json:"type"`
	SessionID  string            `json:"session_id,omitempty"`
	Text       string            `json:"text,omitempty"`
	SideEffect *tools.SideEffect `json:"side_effect,omitempty"`
	Done       *DonePayload      `json:"done,omitempty"`
	Error      *ErrorPayload     `json:"error,omitempty"`
}

// ErrorFor converts an error into the payload a terminal error event carries.
func ErrorFor(err error) *ErrorPayload {
	return errorPayload(err)
}

func errorPayload(err error) *ErrorPayload {
	var domainErr *types.Error
	if errors.As(err, &domainErr) {
		return &ErrorPayload{
			Code:      string(domainErr.Code),
			Message:   domainErr.Message,
			Retryable: domainErr.Retryable,
		}
	}
	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		// Provider failures surface as upstream unavailability.
		return &ErrorPayload{
			Code:      string(types.ErrUpstreamUnavailable),
			Message:   llmErr.Message,
			Retryable: llmErr.Retryable,
		}
	}
	return &ErrorPayload{
		Code:    string(types.ErrInternal),
		Message: err.Error(),
	}
}
