package agent

import (
	"encoding/json"

	"kevin-chat/internal/model"
)

// EventType names one kind of frame on the agent's event stream.
type EventType int

const (
	EventThinkingStart EventType = iota
	EventThinkingUpdate
	EventThinkingEnd
	EventAnswerStart
	EventAnswerChunk
	EventAnswer
	EventDocument
	EventDone
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventThinkingStart:
		return "thinking_start"
	case EventThinkingUpdate:
		return "thinking_update"
	case EventThinkingEnd:
		return "thinking_end"
	case EventAnswerStart:
		return "answer_start"
	case EventAnswerChunk:
		return "answer_chunk"
	case EventAnswer:
		return "answer"
	case EventDocument:
		return "document"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is the tagged union delivered on a streaming channel. Type selects
// which payload fields are meaningful; consumers switch exhaustively on it.
type Event struct {
	Type EventType

	// Thinking* events.
	Step model.ThinkingStep

	// EventAnswerChunk carries one incremental fragment; EventAnswer carries
	// the full authoritative answer that supersedes accumulated chunks.
	Chunk  string
	Answer string

	// EventDocument.
	Document model.DocumentRef

	// EventAnswer and EventDone carry the server-assigned conversation id
	// (set on the first turn).
	ConversationID string

	// EventError is terminal: the channel closes right after it.
	Err error
}

// Terminal reports whether no further events follow on the channel.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// WireData re-encodes the event payload in the backend's wire format, used by
// the SSE relay to forward frames downstream unchanged in shape.
func (e Event) WireData() []byte {
	var payload interface{}
	switch e.Type {
	case EventThinkingStart, EventThinkingUpdate, EventThinkingEnd:
		payload = map[string]interface{}{
			"kind":        e.Step.Kind,
			"description": e.Step.Description,
			"duration_ms": e.Step.DurationMs,
		}
	case EventAnswerStart:
		payload = map[string]interface{}{}
	case EventAnswerChunk:
		payload = map[string]string{"chunk": e.Chunk}
	case EventAnswer:
		payload = map[string]string{"answer": e.Answer, "conversation_id": e.ConversationID}
	case EventDocument:
		payload = e.Document
	case EventDone:
		payload = map[string]string{"conversation_id": e.ConversationID}
	case EventError:
		msg := "stream failed"
		if e.Err != nil {
			msg = e.Err.Error()
		}
		payload = map[string]string{"error": msg}
	default:
		payload = map[string]interface{}{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return []byte("{}")
	}
	return raw
}

var eventNames = map[string]EventType{
	"thinking_start":  EventThinkingStart,
	"thinking_update": EventThinkingUpdate,
	"thinking_end":    EventThinkingEnd,
	"answer_start":    EventAnswerStart,
	"answer_chunk":    EventAnswerChunk,
	"answer":          EventAnswer,
	"document":        EventDocument,
	"done":            EventDone,
	"error":           EventError,
}
