package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"kevin-chat/internal/model"
)

type ChatSessionRepository struct {
	db *gorm.DB
}

func NewChatSessionRepository(db *gorm.DB) *ChatSessionRepository {
	return &ChatSessionRepository{db: db}
}

// Save upserts the full transcript snapshot keyed by conversation id. A new
// conversation creates the session row and all messages; an existing one goes
// through a version-guarded update and appends only the message tail beyond
// what is already stored (messages are append-only, never rewritten). A stale
// version surfaces as ErrConflict. An empty snapshot title leaves the stored
// title alone, so untitled auto-saves never undo a rename; the default title
// is derived only on first insert.
func (r *ChatSessionRepository) Save(ctx context.Context, snapshot *model.ChatSession) error {
	if snapshot.ConversationID == "" {
		return fmt.Errorf("save session: empty conversation id")
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.ChatSession
		err := tx.Where("conversation_id = ? AND user_id = ?", snapshot.ConversationID, snapshot.UserID).
			First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return r.insertNew(tx, snapshot)
		case err != nil:
			return fmt.Errorf("load session for save failed: %w", err)
		}

		updates := map[string]interface{}{
			"context_summary": snapshot.ContextSummary,
			"version":         existing.Version + 1,
			"updated_at":      time.Now(),
		}
		if title := strings.TrimSpace(snapshot.Title); title != "" {
			updates["title"] = title
		}
		res := tx.Model(&model.ChatSession{}).
			Where("id = ? AND version = ?", existing.ID, existing.Version).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("update session failed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}

		var stored int64
		if err := tx.Model(&model.Message{}).Where("session_id = ?", existing.ID).Count(&stored).Error; err != nil {
			return fmt.Errorf("count stored messages failed: %w", err)
		}
		return r.appendTail(tx, existing.ID, int(stored), snapshot.Messages)
	})
}

func (r *ChatSessionRepository) insertNew(tx *gorm.DB, snapshot *model.ChatSession) error {
	title := strings.TrimSpace(snapshot.Title)
	if title == "" {
		title = model.DefaultTitle(snapshot.Messages)
	}
	session := model.ChatSession{
		ConversationID: snapshot.ConversationID,
		UserID:         snapshot.UserID,
		Title:          title,
		ContextSummary: snapshot.ContextSummary,
		Version:        1,
		IsActive:       true,
	}
	if err := tx.Create(&session).Error; err != nil {
		return fmt.Errorf("create session failed: %w", err)
	}
	return r.appendTail(tx, session.ID, 0, snapshot.Messages)
}

func (r *ChatSessionRepository) appendTail(tx *gorm.DB, sessionID uint, stored int, messages []model.Message) error {
	if stored >= len(messages) {
		return nil
	}
	for i := stored; i < len(messages); i++ {
		row := messages[i]
		row.ID = 0
		row.SessionID = sessionID
		row.Seq = i
		if row.CreatedAt.IsZero() {
			row.CreatedAt = time.Now()
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("append message %d failed: %w", i, err)
		}
	}
	return nil
}

// Get returns the session with its ordered transcript, or nil when no session
// exists for the id. Soft-deleted sessions are still returned here; only List
// filters them out.
func (r *ChatSessionRepository) Get(ctx context.Context, conversationID string, userID uint) (*model.ChatSession, error) {
	var session model.ChatSession
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session failed: %w", err)
	}

	var messages []model.Message
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", session.ID).
		Order("seq ASC").
		Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("load session messages failed: %w", err)
	}
	session.Messages = messages
	normalizeDates(&session)
	return &session, nil
}

// List returns summaries of the user's active sessions, newest first by the
// requested sort key. Search is a case-insensitive substring match on title.
func (r *ChatSessionRepository) List(ctx context.Context, userID uint, filter model.SessionFilter) ([]model.SessionSummary, error) {
	query := r.db.WithContext(ctx).
		Model(&model.ChatSession{}).
		Where("user_id = ? AND is_active = ?", userID, true)

	if search := strings.TrimSpace(filter.Search); search != "" {
		query = query.Where("LOWER(title) LIKE ?", "%"+strings.ToLower(search)+"%")
	}
	query = query.Order(sortClause(filter))

	var sessions []model.ChatSession
	if err := query.Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list sessions failed: %w", err)
	}

	summaries := make([]model.SessionSummary, 0, len(sessions))
	for i := range sessions {
		normalizeDates(&sessions[i])
		summaries = append(summaries, model.SessionSummary{
			ID:             sessions[i].ID,
			ConversationID: sessions[i].ConversationID,
			Title:          sessions[i].Title,
			CreatedAt:      sessions[i].CreatedAt,
			UpdatedAt:      sessions[i].UpdatedAt,
		})
	}
	return summaries, nil
}

// Rename updates only the title. Missing or foreign rows report ErrNotFound.
func (r *ChatSessionRepository) Rename(ctx context.Context, conversationID string, userID uint, title string) error {
	res := r.db.WithContext(ctx).
		Model(&model.ChatSession{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Updates(map[string]interface{}{"title": title, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("rename session failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete marks the session inactive. The row and its messages stay in
// place; List stops returning it, Get still does.
func (r *ChatSessionRepository) SoftDelete(ctx context.Context, conversationID string, userID uint) error {
	res := r.db.WithContext(ctx).
		Model(&model.ChatSession{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Updates(map[string]interface{}{"is_active": false, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("soft delete session failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func sortClause(filter model.SessionFilter) string {
	column := model.SortByUpdatedAt
	if filter.SortBy == model.SortByCreatedAt {
		column = model.SortByCreatedAt
	}
	direction := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		direction = "ASC"
	}
	return column + " " + direction
}

// normalizeDates substitutes the current time for garbled zero timestamps so
// a bad row never fails a whole read.
func normalizeDates(session *model.ChatSession) {
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = now
	}
	for i := range session.Messages {
		if session.Messages[i].CreatedAt.IsZero() {
			session.Messages[i].CreatedAt = now
		}
	}
}
