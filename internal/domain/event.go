package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// Event is one analytics occurrence delivered by the host pipeline.
// Properties is kept raw so that deployment specific field paths can be resolved lazily.
type Event struct {
	Name       string          `json:"event"`
	Timestamp  json.RawMessage `json:"timestamp,omitempty"`
	DistinctID string          `json:"distinct_id"`
	Properties json.RawMessage `json:"properties,omitempty"`
}

// HasProperties reports whether the event carries a non-null properties value.
func (e *Event) HasProperties() bool {
	p := bytes.TrimSpace(e.Properties)
	return len(p) > 0 && !bytes.Equal(p, []byte("null"))
}

// Size returns the encoded size of the event in bytes.
func (e *Event) Size() int {
	b, err := json.Marshal(e)
	if err != nil {
		return 0
	}
	return len(b)
}

type FeedbackRecord struct {
	Comment      string `json:"Comment"`
	FeedbackType string `json:"FeedbackType"`
	ItemID       string `json:"ItemId"`
	Timestamp    string `json:"Timestamp"`
	UserID       string `json:"UserId"`
}

type EventBatch struct {
	ID        string    `json:"id"`
	Reason    string    `json:"reason"`
	Size      int       `json:"size"`
	FlushedAt time.Time `json:"flushed_at"`
	Events    []Event   `json:"events"`
}

// FailedBatch is a batch whose delivery did not succeed.
type FailedBatch struct {
	Batch      EventBatch `json:"batch"`
	Reason     string     `json:"reason"`
	StatusCode int        `json:"status_code"`
	FailedAt   time.Time  `json:"failed_at"`
}
