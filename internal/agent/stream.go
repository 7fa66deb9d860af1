package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"kevin-chat/internal/model"
)

// ErrStreamTransport marks a connection-level stream failure. Single
// malformed events never produce it; they are dropped and the stream keeps
// going.
var ErrStreamTransport = errors.New("agent stream transport failure")

// StreamQuery opens one SSE connection for the query and returns a channel of
// demultiplexed events. The channel always ends with a terminal event (done
// or error) and is then closed; cancelling ctx tears the connection down,
// which is the only cancellation signal the backend gets.
func (c *Client) StreamQuery(ctx context.Context, req QueryRequest) (<-chan Event, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/query/stream"
	params := url.Values{}
	params.Set("query", req.Query)
	if req.ConversationID != "" {
		params.Set("conversation_id", req.ConversationID)
	}
	if req.ContextSummary != "" {
		params.Set("context_summary", req.ContextSummary)
	}
	params.Set("use_web_search", strconv.FormatBool(c.cfg.UseWebSearch))
	params.Set("debug_mode", strconv.FormatBool(c.cfg.DebugMode))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build stream request failed: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStreamTransport, err)
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrStreamTransport, resp.StatusCode)
	}

	events := make(chan Event, 16)
	go c.readStream(ctx, resp, events)
	return events, nil
}

func (c *Client) readStream(ctx context.Context, resp *http.Response, events chan<- Event) {
	defer close(events)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	var eventName, data string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case line == "":
			if data != "" {
				if ev, ok := c.decodeEvent(eventName, data); ok {
					if !emit(ctx, events, ev) || ev.Terminal() {
						return
					}
				}
			}
			eventName, data = "", ""
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		emit(ctx, events, Event{
			Type: EventError,
			Err:  fmt.Errorf("%w: %v", ErrStreamTransport, err),
		})
		return
	}
	// EOF without a done frame: the server hung up mid-answer.
	emit(ctx, events, Event{
		Type: EventError,
		Err:  fmt.Errorf("%w: connection closed before done", ErrStreamTransport),
	})
}

func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// decodeEvent maps one named SSE frame onto the Event union. A frame with
// malformed JSON or an unknown name is dropped with a warning; only
// connection-level failures terminate the stream.
func (c *Client) decodeEvent(name, data string) (Event, bool) {
	kind, known := eventNames[name]
	if !known {
		c.logger.Warn("dropping unknown stream event", "event", name)
		return Event{}, false
	}

	switch kind {
	case EventThinkingStart, EventThinkingUpdate, EventThinkingEnd:
		var payload struct {
			Kind        string `json:"kind"`
			Description string `json:"description"`
			DurationMs  int64  `json:"duration_ms"`
		}
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			c.logger.Warn("dropping malformed thinking event", "event", name, "error", err)
			return Event{}, false
		}
		return Event{
			Type: kind,
			Step: model.ThinkingStep{
				Kind:        payload.Kind,
				Description: payload.Description,
				Timestamp:   time.Now(),
				DurationMs:  payload.DurationMs,
			},
		}, true

	case EventAnswerStart:
		return Event{Type: kind}, true

	case EventAnswerChunk:
		var payload struct {
			Chunk string `json:"chunk"`
		}
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			c.logger.Warn("dropping malformed answer chunk", "error", err)
			return Event{}, false
		}
		return Event{Type: kind, Chunk: payload.Chunk}, true

	case EventAnswer:
		var payload struct {
			Answer         string `json:"answer"`
			ConversationID string `json:"conversation_id"`
		}
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			c.logger.Warn("dropping malformed answer event", "error", err)
			return Event{}, false
		}
		return Event{Type: kind, Answer: payload.Answer, ConversationID: payload.ConversationID}, true

	case EventDocument:
		var doc model.DocumentRef
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			c.logger.Warn("dropping malformed document event", "error", err)
			return Event{}, false
		}
		return Event{Type: kind, Document: doc}, true

	case EventDone:
		var payload struct {
			ConversationID string `json:"conversation_id"`
		}
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			c.logger.Warn("malformed done payload, finishing without conversation id", "error", err)
		}
		return Event{Type: kind, ConversationID: payload.ConversationID}, true

	case EventError:
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &payload); err != nil || payload.Error == "" {
			payload.Error = "agent reported an unspecified error"
		}
		return Event{Type: kind, Err: errors.New(payload.Error)}, true
	}

	return Event{}, false
}
