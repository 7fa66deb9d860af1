package model

import "time"

const (
	// TitleMaxLen is the longest auto-derived session title.
	TitleMaxLen = 50
	// SortByCreatedAt and SortByUpdatedAt are the only accepted list sort keys.
	SortByCreatedAt = "created_at"
	SortByUpdatedAt = "updated_at"
)

// ChatSession is one persisted conversation transcript. ConversationID is the
// stable external key shared with the agent backend and never changes after
// the first save. Version backs the optimistic concurrency check on saves.
type ChatSession struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID string    `gorm:"size:64;not null;uniqueIndex" json:"conversation_id"`
	UserID         uint      `gorm:"not null;index" json:"user_id"`
	Title          string    `gorm:"size:128;not null" json:"title"`
	ContextSummary string    `gorm:"type:text" json:"context_summary"`
	Version        int       `gorm:"not null;default:1" json:"version"`
	IsActive       bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Messages []Message `gorm:"-" json:"messages,omitempty"`
}

// SessionSummary is the listing projection: no transcript payload.
type SessionSummary struct {
	ID             uint      `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SessionFilter narrows and orders List results. Search matches the title
// case-insensitively; zero values fall back to updated_at DESC.
type SessionFilter struct {
	Search    string
	SortBy    string
	SortOrder string
}

// DeriveTitle returns the default session title for the first user message:
// the content itself when it fits, otherwise the first 47 characters plus
// "...". Length counts runes, not bytes, so multi-byte text never gets cut
// mid-character.
func DeriveTitle(firstUserContent string) string {
	runes := []rune(firstUserContent)
	if len(runes) <= TitleMaxLen {
		return firstUserContent
	}
	return string(runes[:TitleMaxLen-3]) + "..."
}

// DefaultTitle is the title for a session saved without an explicit one,
// derived from the first user message in the transcript.
func DefaultTitle(messages []Message) string {
	for _, msg := range messages {
		if msg.Role == RoleUser {
			return DeriveTitle(msg.Content)
		}
	}
	return "New Chat"
}
