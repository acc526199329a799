package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xpio/chatcore/llm"
	"github.com/xpio/chatcore/schedule"
)

// CheckSchedule answers availability questions through the scheduling
// service.
type CheckSchedule struct {
	client *schedule.Client
}

// NewCheckSchedule creates the check_schedule_availability handler.
func NewCheckSchedule(client *schedule.Client) *CheckSchedule {
	return &CheckSchedule{client: client}
}

func (c *CheckSchedule) Name() string { return "check_schedule_availability" }

func (c *CheckSchedule) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        c.Name(),
		Description: "Check open appointment slots. Use when the visitor asks about availability, booking, or scheduling a call.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"date":    {"type": "string", "description": "Desired date, YYYY-MM-DD"},
				"service": {"type": "string", "description": "Service or meeting type"}
			}
		}`),
	}
}

type checkScheduleArgs struct {
	Date    string `json:"date"`
	Service string `json:"service"`
}

func (c *CheckSchedule) Execute(ctx context.Context, inv Invocation) (*Outcome, error) {
	var args checkScheduleArgs
	if err := decodeArgs(inv.Arguments, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args.Date != "" {
		if _, err := time.Parse("2006-01-02", args.Date); err != nil {
			return nil, fmt.Errorf("date %q is not valid, expected YYYY-MM-DD", args.Date)
		}
	}

	avail, err := c.client.CheckAvailability(ctx, schedule.AvailabilityRequest{
		Date:    args.Date,
		Service: args.Service,
	})
	if err != nil {
		return nil, err
	}

	content, _ := json.Marshal(map[string]any{
		"status": "ok",
		"slots":  avail.Slots,
	})
	effectData := map[string]any{"slot_count": len(avail.Slots)}
	if args.Date != "" {
		effectData["date"] = args.Date
	}
	return &Outcome{
		Content:    string(content),
		SideEffect: &SideEffect{Type: "schedule_checked", Data: effectData},
	}, nil
}
