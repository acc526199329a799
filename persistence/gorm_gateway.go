package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xpio/chatcore/types"
)

// GormGateway implements Gateway on a relational database via GORM.
type GormGateway struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormGateway wraps an open GORM handle.
func NewGormGateway(db *gorm.DB, logger *zap.Logger) (*GormGateway, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormGateway{
		db:     db,
		logger: logger.With(zap.String("component", "persistence_gateway")),
	}, nil
}

// AutoMigrate creates the schema. Used for sqlite and tests; postgres
// deployments run versioned migrations instead.
func (g *GormGateway) AutoMigrate() error {
	return g.db.AutoMigrate(&conversationRecord{}, &messageRecord{}, &leadRecord{})
}

func toConversationRecord(conv *types.Conversation) (*conversationRecord, error) {
	assignments, err := json.Marshal(conv.Assignments)
	if err != nil {
		return nil, fmt.Errorf("failed to encode assignments: %w", err)
	}
	return &conversationRecord{
		ID:           conv.ID,
		Status:       string(conv.Status),
		LeadCaptured: conv.LeadCaptured,
		LeadRef:      conv.LeadRef,
		HandoffPhase: string(conv.Handoff.Phase),
		ThreadRef:    conv.Handoff.ThreadRef,
		HandedOffTo:  conv.Handoff.HandedOffTo,
		LastHumanAt:  conv.Handoff.LastHumanActivity,
		Assignments:  string(assignments),
		CreatedAt:    conv.CreatedAt,
		LastActivity: conv.LastActivity,
	}, nil
}

func toMessageRecord(conversationID string, seq int, msg types.Message) (*messageRecord, error) {
	rec := &messageRecord{
		ConversationID: conversationID,
		Seq:            seq,
		Role:           string(msg.Role),
		Content:        msg.Content,
		Attribution:    string(msg.Attribution),
		ToolCallID:     msg.ToolCallID,
		ToolName:       msg.ToolName,
		Timestamp:      msg.Timestamp,
	}
	if msg.ToolCall != nil {
		data, err := json.Marshal(msg.ToolCall)
		if err != nil {
			return nil, fmt.Errorf("failed to encode tool call: %w", err)
		}
		rec.ToolCallJSON = string(data)
	}
	return rec, nil
}

// CreateConversation inserts the conversation row and any bundled messages in
// one transaction, so the first message can never land before the row exists.
func (g *GormGateway) CreateConversation(ctx context.Context, conv *types.Conversation) error {
	rec, err := toConversationRecord(conv)
	if err != nil {
		return err
	}
	mrecs := make([]*messageRecord, 0, len(conv.Messages))
	for seq, msg := range conv.Messages {
		mrec, err := toMessageRecord(conv.ID, seq, msg)
		if err != nil {
			return err
		}
		mrecs = append(mrecs, mrec)
	}
	err = g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Idempotent: a replayed create is a no-op.
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(rec).Error; err != nil {
			return err
		}
		for _, mrec := range mrecs {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(mrec).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func (g *GormGateway) AppendMessage(ctx context.Context, conversationID string, seq int, msg types.Message) error {
	rec, err := toMessageRecord(conversationID, seq, msg)
	if err != nil {
		return err
	}
	// Idempotent on (conversation, seq).
	err = g.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (g *GormGateway) UpdateConversation(ctx context.Context, conv *types.Conversation) error {
	rec, err := toConversationRecord(conv)
	if err != nil {
		return err
	}
	err = g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	return nil
}

func (g *GormGateway) SaveLead(ctx context.Context, lead *Lead) error {
	rec := &leadRecord{
		ID:             lead.ID,
		ConversationID: lead.ConversationID,
		Name:           lead.Name,
		Email:          lead.Email,
		Phone:          lead.Phone,
		Notes:          lead.Notes,
		CreatedAt:      lead.CreatedAt,
	}
	err := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to save lead: %w", err)
	}
	return nil
}

func (g *GormGateway) LeadEmailExists(ctx context.Context, email string) (bool, error) {
	var count int64
	err := g.db.WithContext(ctx).
		Model(&leadRecord{}).
		Where("email = ?", email).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check lead email: %w", err)
	}
	return count > 0, nil
}

func (g *GormGateway) LoadConversation(ctx context.Context, id string) (*types.Conversation, error) {
	var rec conversationRecord
	err := g.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrValidation, "conversation not found: "+id).
			WithHTTPStatus(404)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	conv := &types.Conversation{
		ID:           rec.ID,
		Status:       types.Status(rec.Status),
		LeadCaptured: rec.LeadCaptured,
		LeadRef:      rec.LeadRef,
		Handoff: types.HandoffState{
			Phase:             types.HandoffPhase(rec.HandoffPhase),
			ThreadRef:         rec.ThreadRef,
			HandedOffTo:       rec.HandedOffTo,
			LastHumanActivity: rec.LastHumanAt,
		},
		Assignments:  make(map[string]string),
		CreatedAt:    rec.CreatedAt,
		LastActivity: rec.LastActivity,
	}
	if rec.Assignments != "" {
		if err := json.Unmarshal([]byte(rec.Assignments), &conv.Assignments); err != nil {
			g.logger.Warn("failed to decode assignments",
				zap.String("conversation_id", id), zap.Error(err))
		}
	}

	var msgs []messageRecord
	err = g.db.WithContext(ctx).
		Where("conversation_id = ?", id).
		Order("seq ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	for _, m := range msgs {
		msg := types.Message{
			Role:        types.Role(m.Role),
			Content:     m.Content,
			Attribution: types.Attribution(m.Attribution),
			ToolCallID:  m.ToolCallID,
			ToolName:    m.ToolName,
			Timestamp:   m.Timestamp,
		}
		if m.ToolCallJSON != "" {
			var block types.ToolCallBlock
			if err := json.Unmarshal([]byte(m.ToolCallJSON), &block); err == nil {
				msg.ToolCall = &block
			}
		}
		conv.Messages = append(conv.Messages, msg)
	}
	return conv, nil
}

func (g *GormGateway) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
