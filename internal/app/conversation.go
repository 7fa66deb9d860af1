package app

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"kevin-chat/internal/agent"
	"kevin-chat/internal/model"
)

// streamErrorText is the synthetic assistant reply shown when a stream dies.
// It lives only in local state and is never persisted.
const streamErrorText = "Sorry, there was an error answering your question. Please try again."

// StreamOpener opens one event channel per query; the agent client is the
// production implementation.
type StreamOpener interface {
	StreamQuery(ctx context.Context, req agent.QueryRequest) (<-chan agent.Event, error)
}

// AsyncSessionPublisher hands a finished snapshot to the save queue. Publish
// failures are logged and swallowed; the transcript already reached the user.
type AsyncSessionPublisher interface {
	Publish(ctx context.Context, session model.ChatSession) error
}

// Conversation is the orchestration state for one live chat: the transcript,
// the in-flight stream, and the loading/thinking flags the presentation layer
// renders from. All state is guarded by one mutex, so readers always get a
// coherent snapshot and finalize-plus-clear happens in a single step with no
// intermediate frame.
//
// At most one stream is open per Conversation: SendMessage rejects re-entry
// while loading, and StartNewChat cancels whatever is still running.
type Conversation struct {
	mu sync.Mutex

	userID         uint
	gen            uint64
	provisionalID  string
	conversationID string
	contextSummary string
	messages       []model.Message
	provisional    bool
	isLoading      bool
	acc            *agent.Accumulator
	cancelStream   context.CancelFunc

	stream    StreamOpener
	service   *ChatService
	publisher AsyncSessionPublisher
	logger    *slog.Logger
}

func NewConversation(userID uint, stream StreamOpener, service *ChatService, publisher AsyncSessionPublisher, logger *slog.Logger) *Conversation {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conversation{
		userID:        userID,
		provisionalID: uuid.NewString(),
		stream:        stream,
		service:       service,
		publisher:     publisher,
		logger:        logger,
	}
}

// Snapshot is a point-in-time copy of the observable state.
type Snapshot struct {
	ConversationID   string
	Messages         []model.Message
	IsLoading        bool
	IsThinking       bool
	StreamingMessage string
	ThinkingSteps    []model.ThinkingStep

	// ProvisionalUser is true between the optimistic user-message append and
	// stream completion (the two-phase append).
	ProvisionalUser bool
}

func (c *Conversation) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		ConversationID:  c.conversationID,
		Messages:        make([]model.Message, len(c.messages)),
		IsLoading:       c.isLoading,
		ProvisionalUser: c.provisional,
	}
	copy(snap.Messages, c.messages)
	if c.acc != nil {
		snap.IsThinking = c.acc.Thinking()
		snap.StreamingMessage = c.acc.StreamingText()
		snap.ThinkingSteps = c.acc.Steps()
	}
	return snap
}

// SendMessage appends the user message optimistically, opens the stream, and
// consumes it to completion. onEvent, when non-nil, sees every event as it
// arrives (the SSE relay handler forwards them downstream). Stream failures
// do not come back as an error: they end as a synthetic assistant error
// message in local state, per the orchestration contract. The only errors
// returned are ErrStreamBusy and ErrMessageEmpty.
func (c *Conversation) SendMessage(ctx context.Context, text string, onEvent func(agent.Event)) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrMessageEmpty
	}

	c.mu.Lock()
	if c.isLoading {
		c.mu.Unlock()
		return ErrStreamBusy
	}
	streamCtx, cancel := context.WithCancel(ctx)
	gen := c.gen
	provisionalID := c.provisionalID
	c.cancelStream = cancel
	c.isLoading = true
	c.provisional = true
	c.acc = agent.NewAccumulator()
	c.messages = append(c.messages, model.NewUserMessage(text))
	req := agent.QueryRequest{
		Query:          text,
		ConversationID: c.conversationID,
		ContextSummary: c.contextSummary,
	}
	c.mu.Unlock()

	events, err := c.stream.StreamQuery(streamCtx, req)
	if err != nil {
		c.logger.Error("open stream failed", "provisional_id", provisionalID, "error", err)
		cancel()
		c.failStream(gen)
		return nil
	}

	terminal := false
	for ev := range events {
		if onEvent != nil {
			onEvent(ev)
		}
		c.applyEvent(streamCtx, gen, provisionalID, ev)
		if ev.Terminal() {
			terminal = true
			break
		}
	}
	// Drain in case the producer is still emitting after a terminal event.
	cancel()
	for range events {
	}
	if !terminal {
		// Channel closed underneath us without done or error.
		c.failStream(gen)
	}
	return nil
}

func (c *Conversation) applyEvent(ctx context.Context, gen uint64, provisionalID string, ev agent.Event) {
	if ev.Type == agent.EventError {
		c.logger.Warn("stream ended with error", "provisional_id", provisionalID, "error", ev.Err)
		c.failStream(gen)
		return
	}

	c.mu.Lock()
	if c.gen != gen {
		// StartNewChat tore this stream down; drop the stale event.
		c.mu.Unlock()
		return
	}
	c.acc.Apply(ev)
	if ev.Type != agent.EventDone {
		c.mu.Unlock()
		return
	}

	// Terminal done: adopt the server-assigned id, freeze the assistant
	// message, and clear the streaming buffers in the same critical section.
	if c.conversationID == "" && c.acc.ConversationID() != "" {
		c.conversationID = c.acc.ConversationID()
	}
	final, ok := c.acc.Finalize()
	if ok {
		c.messages = append(c.messages, final)
	}
	c.provisional = false
	c.isLoading = false
	c.acc = nil
	c.cancelStream = nil
	snapshot := c.persistSnapshotLocked()
	c.mu.Unlock()

	if ok && snapshot != nil {
		c.autoSave(ctx, *snapshot)
	}
}

// failStream clears the loading state and appends the local-only error reply.
// A stale generation means StartNewChat already reset the state.
func (c *Conversation) failStream(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.isLoading = false
	c.provisional = false
	c.acc = nil
	c.cancelStream = nil
	c.messages = append(c.messages, model.NewAssistantMessage(streamErrorText, nil, nil))
}

// persistSnapshotLocked builds the save payload; nil when there is nothing to
// persist yet (no server-assigned id or empty transcript).
func (c *Conversation) persistSnapshotLocked() *model.ChatSession {
	if c.conversationID == "" || len(c.messages) == 0 {
		return nil
	}
	messages := make([]model.Message, len(c.messages))
	copy(messages, c.messages)
	return &model.ChatSession{
		ConversationID: c.conversationID,
		UserID:         c.userID,
		ContextSummary: c.contextSummary,
		Messages:       messages,
	}
}

// autoSave is fire-and-forget: the message is already on screen, so a failed
// save is logged, never surfaced.
func (c *Conversation) autoSave(ctx context.Context, snapshot model.ChatSession) {
	if c.publisher != nil {
		if err := c.publisher.Publish(ctx, snapshot); err != nil {
			c.logger.Error("enqueue session save failed", "conversation_id", snapshot.ConversationID, "error", err)
		}
		return
	}
	if c.service != nil {
		if !c.service.SaveSession(ctx, SaveSessionInput{
			UserID:         snapshot.UserID,
			ConversationID: snapshot.ConversationID,
			ContextSummary: snapshot.ContextSummary,
			Messages:       snapshot.Messages,
		}) {
			c.logger.Error("auto-save failed", "conversation_id", snapshot.ConversationID)
		}
	}
}

// Restore seeds the conversation from a persisted session so a follow-up
// turn continues the same transcript. No-op while a stream is running.
func (c *Conversation) Restore(session *model.ChatSession) {
	if session == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isLoading {
		return
	}
	c.conversationID = session.ConversationID
	c.contextSummary = session.ContextSummary
	c.messages = make([]model.Message, len(session.Messages))
	copy(c.messages, session.Messages)
}

// StartNewChat cancels any open stream and clears all local state. The prior
// session stays in the repository untouched.
func (c *Conversation) StartNewChat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelStream != nil {
		c.cancelStream()
		c.cancelStream = nil
	}
	c.gen++
	c.provisionalID = uuid.NewString()
	c.conversationID = ""
	c.contextSummary = ""
	c.messages = nil
	c.provisional = false
	c.isLoading = false
	c.acc = nil
}

// UpdateTitle renames the persisted session.
func (c *Conversation) UpdateTitle(ctx context.Context, title string) bool {
	c.mu.Lock()
	conversationID := c.conversationID
	c.mu.Unlock()
	if conversationID == "" || c.service == nil {
		return false
	}
	return c.service.RenameSession(ctx, c.userID, conversationID, title)
}

// SaveSession persists the current transcript synchronously, deriving the
// default title when none is given.
func (c *Conversation) SaveSession(ctx context.Context, title string) bool {
	c.mu.Lock()
	snapshot := c.persistSnapshotLocked()
	c.mu.Unlock()
	if snapshot == nil || c.service == nil {
		return false
	}
	return c.service.SaveSession(ctx, SaveSessionInput{
		UserID:         snapshot.UserID,
		ConversationID: snapshot.ConversationID,
		Title:          title,
		ContextSummary: snapshot.ContextSummary,
		Messages:       snapshot.Messages,
	})
}
