package agent

import (
	"strings"

	"kevin-chat/internal/model"
)

// Accumulator folds stream events into the pending assistant message. Chunks
// concatenate; a full answer event is authoritative and supersedes whatever
// the chunks built up, even when both arrive. Not safe for concurrent use;
// the owning conversation serializes access.
type Accumulator struct {
	chunks         strings.Builder
	fullAnswer     string
	hasFullAnswer  bool
	steps          []model.ThinkingStep
	documents      []model.DocumentRef
	conversationID string
	thinking       bool
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Apply folds one event. Terminal events only record state; the caller
// decides when to Finalize.
func (a *Accumulator) Apply(ev Event) {
	switch ev.Type {
	case EventThinkingStart:
		a.thinking = true
		a.steps = append(a.steps, ev.Step)
	case EventThinkingUpdate:
		a.steps = append(a.steps, ev.Step)
	case EventThinkingEnd:
		a.thinking = false
		if ev.Step.Description != "" {
			a.steps = append(a.steps, ev.Step)
		}
	case EventAnswerStart:
		a.thinking = false
	case EventAnswerChunk:
		a.chunks.WriteString(ev.Chunk)
	case EventAnswer:
		a.fullAnswer = ev.Answer
		a.hasFullAnswer = true
		if ev.ConversationID != "" {
			a.conversationID = ev.ConversationID
		}
	case EventDocument:
		a.documents = append(a.documents, ev.Document)
	case EventDone:
		a.thinking = false
		if ev.ConversationID != "" {
			a.conversationID = ev.ConversationID
		}
	case EventError:
		a.thinking = false
	}
}

// StreamingText is the best text so far: the authoritative full answer once
// one arrived, otherwise the concatenated chunks.
func (a *Accumulator) StreamingText() string {
	if a.hasFullAnswer {
		return a.fullAnswer
	}
	return a.chunks.String()
}

// Thinking reports whether the agent is inside a thinking phase.
func (a *Accumulator) Thinking() bool {
	return a.thinking
}

// Steps returns a copy of the thinking steps collected so far.
func (a *Accumulator) Steps() []model.ThinkingStep {
	if len(a.steps) == 0 {
		return nil
	}
	out := make([]model.ThinkingStep, len(a.steps))
	copy(out, a.steps)
	return out
}

// ConversationID is the server-assigned id, empty until the answer or done
// event carried one.
func (a *Accumulator) ConversationID() string {
	return a.conversationID
}

// Finalize freezes the buffered content into one assistant message. It
// reports false when nothing was accumulated, in which case no message should
// be committed.
func (a *Accumulator) Finalize() (model.Message, bool) {
	text := a.StreamingText()
	if text == "" {
		return model.Message{}, false
	}
	return model.NewAssistantMessage(text, a.Steps(), a.documents), true
}
