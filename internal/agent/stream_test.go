package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{BaseURL: server.URL}, nil)
}

func sseHandler(frames []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frame := range frames {
			_, _ = w.Write([]byte(frame))
			flusher.Flush()
		}
	}
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out waiting for stream events")
		}
	}
}

func TestStreamQueryDemultiplexesNamedEvents(t *testing.T) {
	client := newTestClient(t, sseHandler([]string{
		"event: thinking_start\ndata: {\"kind\":\"retrieval\",\"description\":\"Searching UBC admissions pages\"}\n\n",
		"event: thinking_end\ndata: {\"kind\":\"retrieval\",\"description\":\"Found 3 sources\",\"duration_ms\":420}\n\n",
		"event: answer_start\ndata: {}\n\n",
		"event: answer_chunk\ndata: {\"chunk\":\"Hello\"}\n\n",
		"event: answer_chunk\ndata: {\"chunk\":\" world\"}\n\n",
		"event: document\ndata: {\"title\":\"Admission Requirements\",\"url\":\"https://you.ubc.ca\",\"score\":0.91}\n\n",
		"event: done\ndata: {\"conversation_id\":\"abc\"}\n\n",
	}))

	events, err := client.StreamQuery(context.Background(), QueryRequest{Query: "how do I apply"})
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 7)
	assert.Equal(t, EventThinkingStart, got[0].Type)
	assert.Equal(t, "retrieval", got[0].Step.Kind)
	assert.Equal(t, EventThinkingEnd, got[1].Type)
	assert.EqualValues(t, 420, got[1].Step.DurationMs)
	assert.Equal(t, EventAnswerStart, got[2].Type)
	assert.Equal(t, "Hello", got[3].Chunk)
	assert.Equal(t, " world", got[4].Chunk)
	assert.Equal(t, EventDocument, got[5].Type)
	assert.Equal(t, "Admission Requirements", got[5].Document.Title)
	assert.Equal(t, EventDone, got[6].Type)
	assert.Equal(t, "abc", got[6].ConversationID)
}

func TestStreamQueryRequestEncoding(t *testing.T) {
	var gotPath string
	var gotQuery map[string][]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		sseHandler([]string{"event: done\ndata: {\"conversation_id\":\"abc\"}\n\n"})(w, r)
	})

	events, err := client.StreamQuery(context.Background(), QueryRequest{
		Query:          "deadlines?",
		ConversationID: "abc",
		ContextSummary: "asked about admissions",
	})
	require.NoError(t, err)
	collect(t, events)

	assert.Equal(t, "/chat/query/stream", gotPath)
	assert.Equal(t, []string{"deadlines?"}, gotQuery["query"])
	assert.Equal(t, []string{"abc"}, gotQuery["conversation_id"])
	assert.Equal(t, []string{"asked about admissions"}, gotQuery["context_summary"])
	assert.Equal(t, []string{"false"}, gotQuery["use_web_search"])
}

func TestStreamQueryDropsMalformedAndUnknownEvents(t *testing.T) {
	client := newTestClient(t, sseHandler([]string{
		"event: answer_chunk\ndata: {not json at all\n\n",
		"event: mystery_event\ndata: {\"x\":1}\n\n",
		"event: answer_chunk\ndata: {\"chunk\":\"still fine\"}\n\n",
		"event: done\ndata: {\"conversation_id\":\"abc\"}\n\n",
	}))

	events, err := client.StreamQuery(context.Background(), QueryRequest{Query: "q"})
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 2)
	assert.Equal(t, "still fine", got[0].Chunk)
	assert.Equal(t, EventDone, got[1].Type)
}

func TestStreamQueryFullAnswerEvent(t *testing.T) {
	client := newTestClient(t, sseHandler([]string{
		"event: answer_chunk\ndata: {\"chunk\":\"partial\"}\n\n",
		"event: answer\ndata: {\"answer\":\"the full authoritative answer\",\"conversation_id\":\"abc\"}\n\n",
		"event: done\ndata: {\"conversation_id\":\"abc\"}\n\n",
	}))

	events, err := client.StreamQuery(context.Background(), QueryRequest{Query: "q"})
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 3)
	assert.Equal(t, EventAnswer, got[1].Type)
	assert.Equal(t, "the full authoritative answer", got[1].Answer)
}

func TestStreamQueryServerErrorEvent(t *testing.T) {
	client := newTestClient(t, sseHandler([]string{
		"event: error\ndata: {\"error\":\"agent exploded\"}\n\n",
	}))

	events, err := client.StreamQuery(context.Background(), QueryRequest{Query: "q"})
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, EventError, got[0].Type)
	assert.EqualError(t, got[0].Err, "agent exploded")
}

func TestStreamQueryConnectionDropIsTransportError(t *testing.T) {
	client := newTestClient(t, sseHandler([]string{
		"event: answer_chunk\ndata: {\"chunk\":\"Hel\"}\n\n",
		// Connection closes with no done frame.
	}))

	events, err := client.StreamQuery(context.Background(), QueryRequest{Query: "q"})
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 2)
	assert.Equal(t, EventError, got[1].Type)
	assert.ErrorIs(t, got[1].Err, ErrStreamTransport)
}

func TestStreamQueryNon200Status(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	})

	_, err := client.StreamQuery(context.Background(), QueryRequest{Query: "q"})
	require.ErrorIs(t, err, ErrStreamTransport)
}
