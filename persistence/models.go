package persistence

import (
	"time"
)

// conversationRecord is the conversations table row.
type conversationRecord struct {
	ID           string    `gorm:"primaryKey;size:64"`
	Status       string    `gorm:"size:16;index"`
	LeadCaptured bool      `gorm:"not null;default:false"`
	LeadRef      string    `gorm:"size:64"`
	HandoffPhase string    `gorm:"size:32"`
	ThreadRef    string    `gorm:"size:128;index"`
	HandedOffTo  string    `gorm:"size:128"`
	LastHumanAt  time.Time ``
	Assignments  string    `gorm:"type:text"` // experiment -> variant, JSON
	CreatedAt    time.Time `gorm:"not null"`
	LastActivity time.Time `gorm:"not null;index"`
}

func (conversationRecord) TableName() string { return "conversations" }

// messageRecord is the conversation_messages table row. (ConversationID, Seq)
// is unique so replayed writes are idempotent.
type messageRecord struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	ConversationID string    `gorm:"size:64;index;uniqueIndex:idx_conv_seq,priority:1;not null"`
	Seq            int       `gorm:"uniqueIndex:idx_conv_seq,priority:2;not null"`
	Role           string    `gorm:"size:16;not null"`
	Content        string    `gorm:"type:text"`
	Attribution    string    `gorm:"size:16"`
	ToolCallJSON   string    `gorm:"type:text"`
	ToolCallID     string    `gorm:"size:64"`
	ToolName       string    `gorm:"size:64"`
	Timestamp      time.Time `gorm:"not null"`
}

func (messageRecord) TableName() string { return "conversation_messages" }

// leadRecord is the leads table row.
type leadRecord struct {
	ID             string    `gorm:"primaryKey;size:64"`
	ConversationID string    `gorm:"size:64;index"`
	Name           string    `gorm:"size:256"`
	Email          string    `gorm:"size:256;index"`
	Phone          string    `gorm:"size:64"`
	Notes          string    `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (leadRecord) TableName() string { return "leads" }
