package types

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a conversation log entry.
type Role string

const (
	RoleVisitor    Role = "visitor"
	RoleResponder  Role = "responder"
	RoleToolResult Role = "tool_result"
)

// Attribution records whether a responder message came from the automated
// responder or from a human operator.
type Attribution string

const (
	AttributionAutomated Attribution = "automated"
	AttributionHuman     Attribution = "human"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
	StatusAbandoned Status = "abandoned"
)

// ToolCallBlock is the raw tool invocation a responder message carried.
// It is preserved on the message so the log replays exactly what the model
// requested.
type ToolCallBlock struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is one entry in a conversation log. Messages are immutable once
// appended; the log is append-only and never reordered.
type Message struct {
	Role        Role           `json:"role"`
	Content     string         `json:"content,omitempty"`
	Attribution Attribution    `json:"attribution,omitempty"`
	ToolCall    *ToolCallBlock `json:"tool_call,omitempty"`
	ToolCallID  string         `json:"tool_call_id,omitempty"`
	ToolName    string         `json:"tool_name,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// NewVisitorMessage creates a visitor message stamped now.
func NewVisitorMessage(content string) Message {
	return Message{Role: RoleVisitor, Content: content, Timestamp: time.Now()}
}

// NewResponderMessage creates an automated responder message stamped now.
func NewResponderMessage(content string) Message {
	return Message{
		Role:        RoleResponder,
		Content:     content,
		Attribution: AttributionAutomated,
		Timestamp:   time.Now(),
	}
}

// NewHumanMessage creates a responder message attributed to a human operator.
func NewHumanMessage(content string) Message {
	return Message{
		Role:        RoleResponder,
		Content:     content,
		Attribution: AttributionHuman,
		Timestamp:   time.Now(),
	}
}

// NewToolResultMessage creates a tool_result message for the given call.
func NewToolResultMessage(callID, toolName, content string) Message {
	return Message{
		Role:       RoleToolResult,
		Content:    content,
		ToolCallID: callID,
		ToolName:   toolName,
		Timestamp:  time.Now(),
	}
}

// WithToolCall attaches the raw tool-call block to the message.
func (m Message) WithToolCall(block *ToolCallBlock) Message {
	m.ToolCall = block
	return m
}

// HandoffPhase is the ownership state of a conversation.
type HandoffPhase string

const (
	// PhaseAIOwned is the initial state: the automated responder owns turns.
	PhaseAIOwned HandoffPhase = "ai_owned"
	// PhaseHandoffRequested means the handoff tool succeeded and an operator
	// thread is open, but no human has replied on it yet.
	PhaseHandoffRequested HandoffPhase = "handoff_requested"
	// PhaseHumanActive means a human operator replied on the thread and owns
	// visitor turns until they go inactive.
	PhaseHumanActive HandoffPhase = "human_active"
)

// HandoffState tracks human-operator ownership of a conversation.
// ThreadRef is retained for audit even after ownership reverts.
type HandoffState struct {
	Phase             HandoffPhase `json:"phase"`
	ThreadRef         string       `json:"thread_ref,omitempty"`
	HandedOffTo       string       `json:"handed_off_to,omitempty"`
	LastHumanActivity time.Time    `json:"last_human_activity,omitempty"`
}

// IsHandedOff reports whether a handoff is currently engaged.
func (h HandoffState) IsHandedOff() bool {
	return h.Phase == PhaseHandoffRequested || h.Phase == PhaseHumanActive
}

// Conversation is the in-memory state for one chat session. It is owned
// exclusively by the orchestrator while resident; the persistence gateway
// mirrors it durably.
type Conversation struct {
	ID           string            `json:"id"`
	Messages     []Message         `json:"messages"`
	Status       Status            `json:"status"`
	LeadCaptured bool              `json:"lead_captured"`
	LeadRef      string            `json:"lead_ref,omitempty"`
	Handoff      HandoffState      `json:"handoff"`
	Assignments  map[string]string `json:"assignments,omitempty"` // experiment name -> variant name
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
}

// NewConversation creates an active, empty conversation stamped at now.
func NewConversation(id string, now time.Time) *Conversation {
	return &Conversation{
		ID:           id,
		Status:       StatusActive,
		Handoff:      HandoffState{Phase: PhaseAIOwned},
		Assignments:  make(map[string]string),
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Append adds a message to the log. The log is strictly append-only:
// existing entries are never modified or reordered.
func (c *Conversation) Append(msg Message) {
	c.Messages = append(c.Messages, msg)
	if msg.Timestamp.After(c.LastActivity) {
		c.LastActivity = msg.Timestamp
	}
}

// MarkLeadCaptured sets the lead flag. The flag is monotonic: once true it
// never transitions back, regardless of later tool outcomes.
func (c *Conversation) MarkLeadCaptured(ref string) {
	if c.LeadCaptured {
		return
	}
	c.LeadCaptured = true
	c.LeadRef = ref
}
