package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ThinkingStep is one progress annotation emitted by the agent while it
// composes an answer. Steps are transient on a streaming message and frozen
// once the message is finalized.
type ThinkingStep struct {
	Kind        string    `json:"kind"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	DurationMs  int64     `json:"duration_ms,omitempty"`
}

// DocumentRef points at a source document the agent cited.
type DocumentRef struct {
	Title   string  `json:"title"`
	URL     string  `json:"url,omitempty"`
	Source  string  `json:"source,omitempty"`
	Snippet string  `json:"snippet,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// ThinkingSteps and DocumentRefs persist as JSON columns.
type (
	ThinkingSteps []ThinkingStep
	DocumentRefs  []DocumentRef
)

func (s ThinkingSteps) Value() (driver.Value, error) {
	if len(s) == 0 {
		return nil, nil
	}
	return json.Marshal(s)
}

func (s *ThinkingSteps) Scan(value interface{}) error {
	return scanJSON(value, s)
}

func (d DocumentRefs) Value() (driver.Value, error) {
	if len(d) == 0 {
		return nil, nil
	}
	return json.Marshal(d)
}

func (d *DocumentRefs) Scan(value interface{}) error {
	return scanJSON(value, d)
}

func scanJSON(value interface{}, dest interface{}) error {
	if value == nil {
		return nil
	}
	switch raw := value.(type) {
	case []byte:
		return json.Unmarshal(raw, dest)
	case string:
		return json.Unmarshal([]byte(raw), dest)
	default:
		return fmt.Errorf("unsupported json column type %T", value)
	}
}
