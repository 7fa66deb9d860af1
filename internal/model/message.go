package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one transcript entry. Rows are append-only and ordered by Seq
// within a session; CreatedAt is informational, not the persistence order.
// ThinkingSteps and Documents are frozen onto the row when the assistant
// message is finalized.
type Message struct {
	ID        uint          `gorm:"primaryKey" json:"id"`
	SessionID uint          `gorm:"not null;index" json:"session_id"`
	Seq       int           `gorm:"not null;index" json:"seq"`
	Role      string        `gorm:"size:16;not null" json:"role"`
	Content   string        `gorm:"type:text;not null" json:"content"`
	Thinking  ThinkingSteps `gorm:"type:json" json:"thinking_steps,omitempty"`
	Documents DocumentRefs  `gorm:"type:json" json:"documents,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// NewUserMessage builds an unpersisted user transcript entry.
func NewUserMessage(content string) Message {
	return Message{
		Role:      RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewAssistantMessage builds an unpersisted assistant entry carrying the
// frozen thinking-step snapshot and any cited documents.
func NewAssistantMessage(content string, steps []ThinkingStep, docs []DocumentRef) Message {
	return Message{
		Role:      RoleAssistant,
		Content:   content,
		Thinking:  steps,
		Documents: docs,
		CreatedAt: time.Now(),
	}
}
