package persistence

import (
	"context"
	"time"

	"github.com/xpio/chatcore/types"
)

// Lead is a captured sales lead.
type Lead struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Gateway is the durable store behind the engine. Implementations must be
// safe for concurrent use.
type Gateway interface {
	// CreateConversation records a new conversation along with any messages
	// already in its log, atomically.
	CreateConversation(ctx context.Context, conv *types.Conversation) error

	// AppendMessage records one log entry. seq is the message's position in
	// the conversation log, starting at 0.
	AppendMessage(ctx context.Context, conversationID string, seq int, msg types.Message) error

	// UpdateConversation overwrites the conversation's mutable snapshot:
	// status, lead flag, handoff state, assignments.
	UpdateConversation(ctx context.Context, conv *types.Conversation) error

	// SaveLead records a captured lead.
	SaveLead(ctx context.Context, lead *Lead) error

	// LeadEmailExists reports whether a lead with this email was already
	// captured. Advisory only; duplicates are not an error.
	LeadEmailExists(ctx context.Context, email string) (bool, error)

	// LoadConversation reads a conversation back with its full log.
	LoadConversation(ctx context.Context, id string) (*types.Conversation, error)

	// Ping checks the store is reachable.
	Ping(ctx context.Context) error
}
