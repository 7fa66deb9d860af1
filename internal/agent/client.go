package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"kevin-chat/internal/model"
)

const defaultQueryTimeout = 30 * time.Second

// Config holds API settings for the RAG agent backend.
type Config struct {
	BaseURL      string
	QueryTimeout time.Duration
	UseWebSearch bool
	DebugMode    bool
}

// Client talks to the agent backend: a non-streaming query endpoint and the
// SSE stream in stream.go. The streaming connection gets its own http.Client
// without a deadline; an open stream may legitimately outlive any fixed
// request timeout.
type Client struct {
	cfg          Config
	queryClient  *http.Client
	streamClient *http.Client
	logger       *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:          cfg,
		queryClient:  &http.Client{Timeout: cfg.QueryTimeout},
		streamClient: &http.Client{},
		logger:       logger,
	}
}

// QueryRequest carries one question to the agent. ConversationID is empty on
// the first turn; the server assigns one and returns it.
type QueryRequest struct {
	Query          string
	ConversationID string
	ContextSummary string
}

// QueryResponse is the non-streaming answer payload.
type QueryResponse struct {
	Answer          string               `json:"answer"`
	ConversationID  string               `json:"conversation_id"`
	ThinkingSteps   []model.ThinkingStep `json:"thinking_steps"`
	Documents       []model.DocumentRef  `json:"documents"`
	DurationSeconds float64              `json:"duration_seconds"`
}

// Query asks the agent without streaming.
func (c *Client) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	body := map[string]interface{}{
		"query":           req.Query,
		"use_web_search":  c.cfg.UseWebSearch,
		"context_summary": req.ContextSummary,
		"stream":          false,
	}
	if req.ConversationID != "" {
		body["conversation_id"] = req.ConversationID
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal query request failed: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/query"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build query request failed: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.queryClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("query request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read query response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("query response status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed QueryResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse query response failed: %w", err)
	}
	return &parsed, nil
}
