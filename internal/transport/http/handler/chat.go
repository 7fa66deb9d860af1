package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"kevin-chat/internal/agent"
	"kevin-chat/internal/app"
	"kevin-chat/internal/model"
	"kevin-chat/internal/transport/http/middleware"
	"kevin-chat/internal/transport/http/response"
)

type ChatHandler struct {
	chatService *app.ChatService
	agentClient *agent.Client
	publisher   app.AsyncSessionPublisher
	logger      *slog.Logger
}

func NewChatHandler(chatService *app.ChatService, agentClient *agent.Client, publisher app.AsyncSessionPublisher, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{
		chatService: chatService,
		agentClient: agentClient,
		publisher:   publisher,
		logger:      logger,
	}
}

type RenameSessionRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	Title          string `json:"title" binding:"required,max=128"`
}

type SaveSessionRequest struct {
	ConversationID string          `json:"conversation_id" binding:"required"`
	Title          string          `json:"title"`
	ContextSummary string          `json:"context_summary"`
	Messages       []model.Message `json:"messages" binding:"required"`
}

type QueryRequest struct {
	Query          string `json:"query" binding:"required"`
	ConversationID string `json:"conversation_id"`
	ContextSummary string `json:"context_summary"`
}

// ListSessions returns the caller's active sessions. A repository failure
// degrades to an empty listing; the sidebar renders empty instead of erroring.
func (h *ChatHandler) ListSessions(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	filter := model.SessionFilter{
		Search:    c.Query("search"),
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
	}
	sessions := h.chatService.ListSessions(c.Request.Context(), userID, filter)
	response.OK(c, gin.H{"sessions": sessions})
}

func (h *ChatHandler) RenameSession(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req RenameSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	if !h.chatService.RenameSession(c.Request.Context(), userID, req.ConversationID, req.Title) {
		response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, "session not found")
		return
	}
	response.OK(c, gin.H{"conversation_id": req.ConversationID, "title": req.Title})
}

func (h *ChatHandler) DeleteSession(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	conversationID := c.Query("id")
	if conversationID == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing session id")
		return
	}

	if !h.chatService.DeleteSession(c.Request.Context(), userID, conversationID) {
		response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, "session not found")
		return
	}
	response.OK(c, gin.H{"deleted_conversation_id": conversationID})
}

// GetHistory returns the stored transcript, or null data when the
// conversation was never saved: the client treats that as a fresh chat, not
// an error.
func (h *ChatHandler) GetHistory(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	conversationID := c.Query("conversation_id")
	if conversationID == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing conversation_id")
		return
	}

	session, err := h.chatService.GetHistory(c.Request.Context(), userID, conversationID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get history failed")
		return
	}
	if session == nil {
		response.OK(c, nil)
		return
	}
	response.OK(c, session)
}

// SaveSession is the explicit synchronous save; the boolean outcome mirrors
// the conflict-retried write.
func (h *ChatHandler) SaveSession(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req SaveSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	saved := h.chatService.SaveSession(c.Request.Context(), app.SaveSessionInput{
		UserID:         userID,
		ConversationID: req.ConversationID,
		Title:          req.Title,
		ContextSummary: req.ContextSummary,
		Messages:       req.Messages,
	})
	if !saved {
		response.Error(c, http.StatusConflict, response.CodeSaveConflict, "save failed")
		return
	}
	response.OK(c, gin.H{"conversation_id": req.ConversationID, "saved": true})
}

// Query is the non-streaming path: one request, one full answer, transcript
// persisted through the async save queue.
func (h *ChatHandler) Query(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.agentClient.Query(c.Request.Context(), agent.QueryRequest{
		Query:          req.Query,
		ConversationID: req.ConversationID,
		ContextSummary: req.ContextSummary,
	})
	if err != nil {
		h.logger.Error("agent query failed", "error", err)
		response.Error(c, http.StatusBadGateway, response.CodeInternalServer, "agent query failed")
		return
	}

	h.persistTurn(c, userID, req, result)
	response.OK(c, result)
}

func (h *ChatHandler) persistTurn(c *gin.Context, userID uint, req QueryRequest, result *agent.QueryResponse) {
	if h.publisher == nil || result.ConversationID == "" {
		return
	}

	var messages []model.Message
	if existing, err := h.chatService.GetHistory(c.Request.Context(), userID, result.ConversationID); err == nil && existing != nil {
		messages = existing.Messages
	}
	messages = append(messages, model.NewUserMessage(req.Query))
	messages = append(messages, model.NewAssistantMessage(result.Answer, result.ThinkingSteps, result.Documents))

	if err := h.publisher.Publish(c.Request.Context(), model.ChatSession{
		ConversationID: result.ConversationID,
		UserID:         userID,
		ContextSummary: req.ContextSummary,
		Messages:       messages,
	}); err != nil {
		h.logger.Error("enqueue session save failed", "conversation_id", result.ConversationID, "error", err)
	}
}

// StreamQuery relays the agent's SSE stream to the browser. A Conversation
// drives the turn so the transcript, flags, and auto-save behave exactly as
// in the non-relay path; every agent event is forwarded downstream as it
// arrives.
func (h *ChatHandler) StreamQuery(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	query := c.Query("query")
	if query == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing query")
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return
	}

	conv := app.NewConversation(userID, h.agentClient, h.chatService, h.publisher, h.logger)
	if conversationID := c.Query("conversation_id"); conversationID != "" {
		if session, err := h.chatService.GetHistory(c.Request.Context(), userID, conversationID); err == nil && session != nil {
			conv.Restore(session)
		}
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	start := time.Now()
	err := conv.SendMessage(c.Request.Context(), query, func(ev agent.Event) {
		if _, writeErr := c.Writer.Write([]byte("event: " + ev.Type.String() + "\ndata: " + string(ev.WireData()) + "\n\n")); writeErr != nil {
			return
		}
		flusher.Flush()
	})
	if err != nil {
		// Only bad input reaches here; stream failures already went
		// downstream as an error event.
		h.logger.Warn("stream query rejected", "error", err)
		return
	}
	h.logger.Info("stream query finished",
		"conversation_id", conv.Snapshot().ConversationID,
		"duration", time.Since(start),
	)
}

func getUserIDFromContext(c *gin.Context) (uint, bool) {
	userIDAny, exists := c.Get(middleware.ContextUserIDKey)
	if !exists {
		return 0, false
	}
	userID, ok := userIDAny.(uint)
	return userID, ok
}
