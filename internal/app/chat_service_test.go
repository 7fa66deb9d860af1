package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kevin-chat/internal/model"
	"kevin-chat/internal/repository"
)

func newTestService(store *memStore) (*ChatService, *[]time.Duration) {
	svc := NewChatService(store, nil, nil)
	var sleeps []time.Duration
	svc.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return svc, &sleeps
}

func transcript(userText, assistantText string) []model.Message {
	return []model.Message{
		model.NewUserMessage(userText),
		model.NewAssistantMessage(assistantText, nil, nil),
	}
}

func TestSaveSessionPersistsSnapshot(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)

	ok := svc.SaveSession(context.Background(), SaveSessionInput{
		UserID:         1,
		ConversationID: "abc",
		Messages:       transcript("Hello", "Hi! How can I help?"),
	})
	require.True(t, ok)

	session, err := svc.GetHistory(context.Background(), 1, "abc")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "Hello", session.Title)
	require.Len(t, session.Messages, 2)
	assert.Equal(t, model.RoleUser, session.Messages[0].Role)
	assert.Equal(t, model.RoleAssistant, session.Messages[1].Role)
}

func TestSaveSessionConflictRetryBound(t *testing.T) {
	store := newMemStore()
	store.saveErrs = []error{repository.ErrConflict, repository.ErrConflict, repository.ErrConflict}
	svc, sleeps := newTestService(store)

	ok := svc.SaveSession(context.Background(), SaveSessionInput{
		UserID:         1,
		ConversationID: "abc",
		Messages:       transcript("Hello", "Hi"),
	})

	assert.False(t, ok)
	assert.Equal(t, 3, store.saveCalls)
	// Linear backoff between attempts, strictly increasing.
	require.Equal(t, []time.Duration{500 * time.Millisecond, 1000 * time.Millisecond}, *sleeps)
}

func TestSaveSessionRecoversFromSingleConflict(t *testing.T) {
	store := newMemStore()
	store.saveErrs = []error{repository.ErrConflict}
	svc, sleeps := newTestService(store)

	ok := svc.SaveSession(context.Background(), SaveSessionInput{
		UserID:         1,
		ConversationID: "abc",
		Messages:       transcript("Hello", "Hi"),
	})

	assert.True(t, ok)
	assert.Equal(t, 2, store.saveCalls)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, *sleeps)
}

func TestSaveSessionNonConflictErrorIsNotRetried(t *testing.T) {
	store := newMemStore()
	store.saveErrs = []error{context.Canceled}
	svc, sleeps := newTestService(store)

	ok := svc.SaveSession(context.Background(), SaveSessionInput{
		UserID:         1,
		ConversationID: "abc",
		Messages:       transcript("Hello", "Hi"),
	})

	assert.False(t, ok)
	assert.Equal(t, 1, store.saveCalls)
	assert.Empty(t, *sleeps)
}

func TestTitleDefaultsToFiftyCharPrefix(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)

	long := "What are UBC's requirements for international students and how do I apply this fall"
	ok := svc.SaveSession(context.Background(), SaveSessionInput{
		UserID:         1,
		ConversationID: "abc",
		Messages:       transcript(long, "Here is how you apply."),
	})
	require.True(t, ok)

	session, err := svc.GetHistory(context.Background(), 1, "abc")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "What are UBC's requirements for international s...", session.Title)
	assert.Len(t, session.Title, 50)
}

func TestTitleShortContentKeptVerbatim(t *testing.T) {
	assert.Equal(t, "Hello Kevin", model.DeriveTitle("Hello Kevin"))
}

func TestExplicitTitleWins(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)

	ok := svc.SaveSession(context.Background(), SaveSessionInput{
		UserID:         1,
		ConversationID: "abc",
		Title:          "Admissions questions",
		Messages:       transcript("Hello", "Hi"),
	})
	require.True(t, ok)

	session, err := svc.GetHistory(context.Background(), 1, "abc")
	require.NoError(t, err)
	assert.Equal(t, "Admissions questions", session.Title)
}

func TestUntitledSaveKeepsRenamedTitle(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)
	ctx := context.Background()

	require.True(t, svc.SaveSession(ctx, SaveSessionInput{
		UserID: 1, ConversationID: "abc", Messages: transcript("Hello", "Hi"),
	}))
	require.True(t, svc.RenameSession(ctx, 1, "abc", "Admissions questions"))

	// The next turn's auto-save carries no explicit title.
	followUp := append(transcript("Hello", "Hi"), transcript("What about housing?", "Residences fill up fast.")...)
	require.True(t, svc.SaveSession(ctx, SaveSessionInput{
		UserID: 1, ConversationID: "abc", Messages: followUp,
	}))

	session, err := svc.GetHistory(ctx, 1, "abc")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "Admissions questions", session.Title)
	require.Len(t, session.Messages, 4)
}

func TestSoftDeleteExcludesFromListButKeepsRecord(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)
	ctx := context.Background()

	require.True(t, svc.SaveSession(ctx, SaveSessionInput{
		UserID: 1, ConversationID: "abc", Messages: transcript("Hello", "Hi"),
	}))
	require.True(t, svc.SaveSession(ctx, SaveSessionInput{
		UserID: 1, ConversationID: "def", Messages: transcript("Other", "Sure"),
	}))

	require.True(t, svc.DeleteSession(ctx, 1, "abc"))

	summaries := svc.ListSessions(ctx, 1, model.SessionFilter{})
	require.Len(t, summaries, 1)
	assert.Equal(t, "def", summaries[0].ConversationID)

	// The record is soft-deleted, not gone.
	session, err := svc.GetHistory(ctx, 1, "abc")
	require.NoError(t, err)
	require.NotNil(t, session)
	require.Len(t, session.Messages, 2)
}

func TestListSessionsSearchFilter(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)
	ctx := context.Background()

	require.True(t, svc.SaveSession(ctx, SaveSessionInput{
		UserID: 1, ConversationID: "abc", Title: "Housing options", Messages: transcript("a", "b"),
	}))
	require.True(t, svc.SaveSession(ctx, SaveSessionInput{
		UserID: 1, ConversationID: "def", Title: "Tuition deadlines", Messages: transcript("c", "d"),
	}))

	summaries := svc.ListSessions(ctx, 1, model.SessionFilter{Search: "HOUSING"})
	require.Len(t, summaries, 1)
	assert.Equal(t, "abc", summaries[0].ConversationID)
}

func TestListSessionsRetriesTransientThenDegrades(t *testing.T) {
	store := newMemStore()
	svc, sleeps := newTestService(store)
	ctx := context.Background()

	require.True(t, svc.SaveSession(ctx, SaveSessionInput{
		UserID: 1, ConversationID: "abc", Messages: transcript("Hello", "Hi"),
	}))

	// Two transient failures, then the read lands.
	store.listErrs = []error{context.DeadlineExceeded, context.DeadlineExceeded}
	summaries := svc.ListSessions(ctx, 1, model.SessionFilter{})
	require.Len(t, summaries, 1)
	assert.Len(t, *sleeps, 2)

	// Persistent transient failure degrades to an empty listing.
	store.listErrs = []error{context.DeadlineExceeded, context.DeadlineExceeded, context.DeadlineExceeded}
	summaries = svc.ListSessions(ctx, 1, model.SessionFilter{})
	assert.Empty(t, summaries)
}

func TestRenameMissingSessionReportsFalse(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)

	assert.False(t, svc.RenameSession(context.Background(), 1, "nope", "New title"))
}

func TestGetHistoryMissingIsNilNotError(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)

	session, err := svc.GetHistory(context.Background(), 1, "never-saved")
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestOwnershipEnforcedAcrossUsers(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)
	ctx := context.Background()

	require.True(t, svc.SaveSession(ctx, SaveSessionInput{
		UserID: 1, ConversationID: "abc", Messages: transcript("Hello", "Hi"),
	}))

	session, err := svc.GetHistory(ctx, 2, "abc")
	require.NoError(t, err)
	assert.Nil(t, session)
	assert.False(t, svc.DeleteSession(ctx, 2, "abc"))
	assert.Empty(t, svc.ListSessions(ctx, 2, model.SessionFilter{}))
}
