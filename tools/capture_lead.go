package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xpio/chatcore/llm"
	"github.com/xpio/chatcore/persistence"
	"github.com/xpio/chatcore/types"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// CaptureLead records visitor contact details as a sales lead.
type CaptureLead struct {
	writer  *persistence.Writer
	gateway persistence.Gateway
	logger  *zap.Logger
}

// NewCaptureLead creates the capture_lead handler. gateway may be nil to
// skip the duplicate-email check.
func NewCaptureLead(writer *persistence.Writer, gateway persistence.Gateway, logger *zap.Logger) *CaptureLead {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CaptureLead{writer: writer, gateway: gateway, logger: logger}
}

func (c *CaptureLead) Name() string { return "capture_lead" }

func (c *CaptureLead) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        c.Name(),
		Description: "Record the visitor's contact details as a sales lead. Use when the visitor shares an email address and shows interest.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name":  {"type": "string", "description": "Visitor's name"},
				"email": {"type": "string", "description": "Visitor's email address"},
				"phone": {"type": "string", "description": "Visitor's phone number"},
				"notes": {"type": "string", "description": "What the visitor is interested in"}
			},
			"required": ["email"]
		}`),
	}
}

type captureLeadArgs struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Notes string `json:"notes"`
}

func (c *CaptureLead) Execute(ctx context.Context, inv Invocation) (*Outcome, error) {
	var args captureLeadArgs
	if err := decodeArgs(inv.Arguments, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	args.Email = strings.TrimSpace(args.Email)
	if args.Email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if !emailPattern.MatchString(args.Email) {
		return nil, fmt.Errorf("email %q is not valid", args.Email)
	}

	// Advisory only: a duplicate lead is recorded anyway, the model just
	// gets told so it can phrase its reply accordingly.
	duplicate := false
	if c.gateway != nil {
		exists, err := c.gateway.LeadEmailExists(ctx, args.Email)
		if err != nil {
			c.logger.Warn("duplicate-email check failed", zap.Error(err))
		} else {
			duplicate = exists
		}
	}

	lead := &persistence.Lead{
		ID:             uuid.NewString(),
		ConversationID: inv.ConversationID,
		Name:           args.Name,
		Email:          args.Email,
		Phone:          args.Phone,
		Notes:          args.Notes,
		CreatedAt:      time.Now(),
	}
	c.writer.EnqueueLead(lead)

	content, _ := json.Marshal(map[string]any{
		"status":    "ok",
		"lead_ref":  lead.ID,
		"duplicate": duplicate,
	})
	return &Outcome{
		Content: string(content),
		SideEffect: &SideEffect{
			Type: "lead_captured",
			Data: map[string]any{"lead_ref": lead.ID, "email": args.Email},
		},
		Mutate: func(conv *types.Conversation) {
			conv.MarkLeadCaptured(lead.ID)
		},
	}, nil
}
