package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"kevin-chat/internal/model"
	"kevin-chat/internal/repository"
)

var (
	ErrMessageEmpty  = errors.New("message content is empty")
	ErrStreamBusy    = errors.New("a response is already streaming")
	ErrNoSession     = errors.New("no conversation to operate on")
	ErrEmptySnapshot = errors.New("refusing to save an empty transcript")
)

const (
	saveMaxAttempts = 3
	saveBackoffStep = 500 * time.Millisecond

	readMaxAttempts = 3
	readBackoffBase = 200 * time.Millisecond
)

// SessionStore is the persistence contract the service depends on. The gorm
// repository implements it in production; tests use an in-memory fake.
type SessionStore interface {
	Save(ctx context.Context, snapshot *model.ChatSession) error
	Get(ctx context.Context, conversationID string, userID uint) (*model.ChatSession, error)
	List(ctx context.Context, userID uint, filter model.SessionFilter) ([]model.SessionSummary, error)
	Rename(ctx context.Context, conversationID string, userID uint, title string) error
	SoftDelete(ctx context.Context, conversationID string, userID uint) error
}

// TranscriptCache holds recently read transcripts keyed by conversation id.
type TranscriptCache interface {
	GetTranscript(ctx context.Context, conversationID string) (*model.ChatSession, bool, error)
	SetTranscript(ctx context.Context, session *model.ChatSession) error
	DeleteTranscript(ctx context.Context, conversationID string) error
	MarkDirty(ctx context.Context, conversationID string) error
	IsDirty(ctx context.Context, conversationID string) (bool, error)
}

// ChatService owns session persistence semantics: the conflict-retried save,
// cache-aside history reads, and the boolean-style absorption of repository
// failures the web layer relies on. Repository errors never escape as
// panics or raw 500s; they degrade to false/nil results.
type ChatService struct {
	store  SessionStore
	cache  TranscriptCache
	logger *slog.Logger

	// sleep is swapped out in tests to observe backoff without waiting.
	sleep func(time.Duration)
}

func NewChatService(store SessionStore, cache TranscriptCache, logger *slog.Logger) *ChatService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		store:  store,
		cache:  cache,
		logger: logger,
		sleep:  time.Sleep,
	}
}

// SaveSessionInput is one full transcript snapshot to upsert.
type SaveSessionInput struct {
	UserID         uint
	ConversationID string
	Title          string
	ContextSummary string
	Messages       []model.Message
}

// SaveSession upserts the snapshot, retrying version conflicts up to three
// attempts with linearly growing backoff (500ms x attempt number). Returns
// whether the snapshot is durable. Only conflicts are retried here; anything
// else fails straight away. An empty Title means "no opinion": the repository
// keeps whatever title is stored (renames survive untitled auto-saves) and
// derives the default only on first insert.
func (s *ChatService) SaveSession(ctx context.Context, input SaveSessionInput) bool {
	if input.ConversationID == "" || len(input.Messages) == 0 {
		return false
	}

	snapshot := &model.ChatSession{
		ConversationID: input.ConversationID,
		UserID:         input.UserID,
		Title:          strings.TrimSpace(input.Title),
		ContextSummary: input.ContextSummary,
		Messages:       input.Messages,
	}

	if s.cache != nil {
		_ = s.cache.MarkDirty(ctx, input.ConversationID)
		_ = s.cache.DeleteTranscript(ctx, input.ConversationID)
	}

	for attempt := 1; attempt <= saveMaxAttempts; attempt++ {
		err := s.store.Save(ctx, snapshot)
		if err == nil {
			return true
		}
		if !errors.Is(err, repository.ErrConflict) {
			s.logger.Error("save session failed", "conversation_id", input.ConversationID, "error", err)
			return false
		}
		if attempt < saveMaxAttempts {
			s.logger.Warn("save conflict, retrying",
				"conversation_id", input.ConversationID,
				"attempt", attempt,
			)
			s.sleep(saveBackoffStep * time.Duration(attempt))
		}
	}

	s.logger.Error("save session gave up after conflicts",
		"conversation_id", input.ConversationID,
		"attempts", saveMaxAttempts,
	)
	return false
}

// GetHistory returns the stored transcript, nil when the conversation has
// never been saved. Reads go through the cache unless a save marked it dirty.
func (s *ChatService) GetHistory(ctx context.Context, userID uint, conversationID string) (*model.ChatSession, error) {
	if conversationID == "" {
		return nil, ErrNoSession
	}

	if s.cache != nil {
		dirty, err := s.cache.IsDirty(ctx, conversationID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.cache.GetTranscript(ctx, conversationID); cacheErr == nil && hit && cached.UserID == userID {
				return cached, nil
			}
		}
	}

	var session *model.ChatSession
	err := s.withReadRetry(ctx, "get history", func() error {
		var getErr error
		session, getErr = s.store.Get(ctx, conversationID, userID)
		return getErr
	})
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}

	if s.cache != nil {
		if dirty, dirtyErr := s.cache.IsDirty(ctx, conversationID); dirtyErr == nil && !dirty {
			_ = s.cache.SetTranscript(ctx, session)
		}
	}
	return session, nil
}

// ListSessions returns the user's active sessions. Failures degrade to an
// empty listing after the transient retries are exhausted.
func (s *ChatService) ListSessions(ctx context.Context, userID uint, filter model.SessionFilter) []model.SessionSummary {
	var summaries []model.SessionSummary
	err := s.withReadRetry(ctx, "list sessions", func() error {
		var listErr error
		summaries, listErr = s.store.List(ctx, userID, filter)
		return listErr
	})
	if err != nil {
		s.logger.Error("list sessions failed", "user_id", userID, "error", err)
		return []model.SessionSummary{}
	}
	if summaries == nil {
		summaries = []model.SessionSummary{}
	}
	return summaries
}

// RenameSession updates the title, reporting success.
func (s *ChatService) RenameSession(ctx context.Context, userID uint, conversationID, title string) bool {
	title = strings.TrimSpace(title)
	if conversationID == "" || title == "" {
		return false
	}
	err := s.withReadRetry(ctx, "rename session", func() error {
		return s.store.Rename(ctx, conversationID, userID, title)
	})
	if err != nil {
		s.logger.Error("rename session failed", "conversation_id", conversationID, "error", err)
		return false
	}
	if s.cache != nil {
		_ = s.cache.DeleteTranscript(ctx, conversationID)
	}
	return true
}

// DeleteSession soft-deletes: the session drops out of listings but the row
// and transcript remain.
func (s *ChatService) DeleteSession(ctx context.Context, userID uint, conversationID string) bool {
	if conversationID == "" {
		return false
	}
	err := s.withReadRetry(ctx, "soft delete session", func() error {
		return s.store.SoftDelete(ctx, conversationID, userID)
	})
	if err != nil {
		s.logger.Error("soft delete failed", "conversation_id", conversationID, "error", err)
		return false
	}
	if s.cache != nil {
		_ = s.cache.DeleteTranscript(ctx, conversationID)
	}
	return true
}

// withReadRetry runs op up to three attempts, backing off exponentially on
// transient failures only. Conflicts and not-found pass through untouched.
func (s *ChatService) withReadRetry(ctx context.Context, what string, op func() error) error {
	var err error
	for attempt := 1; attempt <= readMaxAttempts; attempt++ {
		err = op()
		if err == nil || !repository.IsTransient(err) {
			return err
		}
		if attempt < readMaxAttempts {
			delay := readBackoffBase << (attempt - 1)
			s.logger.Warn("transient failure, retrying", "op", what, "attempt", attempt, "delay", delay)
			s.sleep(delay)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}
