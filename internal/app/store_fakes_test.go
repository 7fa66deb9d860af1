package app

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"kevin-chat/internal/model"
	"kevin-chat/internal/repository"
)

// memStore is an in-memory SessionStore mirroring the gorm repository's
// contract: nil on missing Get, ErrNotFound on missing rename/delete, typed
// ErrConflict, soft-deleted rows hidden from List but visible to Get.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*model.ChatSession

	// saveErrs is consumed one per Save call before the real write happens.
	saveErrs  []error
	saveCalls int
	listErrs  []error
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*model.ChatSession)}
}

func (s *memStore) Save(ctx context.Context, snapshot *model.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	if len(s.saveErrs) > 0 {
		err := s.saveErrs[0]
		s.saveErrs = s.saveErrs[1:]
		if err != nil {
			return err
		}
	}

	stored, exists := s.sessions[snapshot.ConversationID]
	if !exists {
		copied := *snapshot
		if copied.Title == "" {
			copied.Title = model.DefaultTitle(copied.Messages)
		}
		copied.Version = 1
		copied.IsActive = true
		copied.CreatedAt = time.Now()
		copied.UpdatedAt = copied.CreatedAt
		s.sessions[snapshot.ConversationID] = &copied
		return nil
	}
	// An untitled snapshot keeps the stored title, like the gorm update.
	if snapshot.Title != "" {
		stored.Title = snapshot.Title
	}
	stored.ContextSummary = snapshot.ContextSummary
	stored.Version++
	stored.UpdatedAt = time.Now()
	if len(snapshot.Messages) > len(stored.Messages) {
		stored.Messages = append(stored.Messages, snapshot.Messages[len(stored.Messages):]...)
	}
	return nil
}

func (s *memStore) Get(ctx context.Context, conversationID string, userID uint) (*model.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[conversationID]
	if !ok || stored.UserID != userID {
		return nil, nil
	}
	copied := *stored
	return &copied, nil
}

func (s *memStore) List(ctx context.Context, userID uint, filter model.SessionFilter) ([]model.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listErrs) > 0 {
		err := s.listErrs[0]
		s.listErrs = s.listErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	var out []model.SessionSummary
	for _, stored := range s.sessions {
		if stored.UserID != userID || !stored.IsActive {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(stored.Title), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, model.SessionSummary{
			ID:             stored.ID,
			ConversationID: stored.ConversationID,
			Title:          stored.Title,
			CreatedAt:      stored.CreatedAt,
			UpdatedAt:      stored.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if filter.SortBy == model.SortByCreatedAt {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *memStore) Rename(ctx context.Context, conversationID string, userID uint, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[conversationID]
	if !ok || stored.UserID != userID {
		return repository.ErrNotFound
	}
	stored.Title = title
	stored.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) SoftDelete(ctx context.Context, conversationID string, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[conversationID]
	if !ok || stored.UserID != userID {
		return repository.ErrNotFound
	}
	stored.IsActive = false
	stored.UpdatedAt = time.Now()
	return nil
}
