// Package feedback turns host events into feedback records for the recommendation engine.
package feedback

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/leshachaplin/feedbackhook/internal/domain"
)

const defaultItemIDPath = "item_id"

// FieldMapping holds gjson paths into Event.Properties.
// Empty UserID and Timestamp fall back to the top level distinct id and timestamp.
type FieldMapping struct {
	ItemID    string `yaml:"item_id"`
	UserID    string `yaml:"user_id"`
	Timestamp string `yaml:"timestamp"`
}

type Builder struct {
	mapping FieldMapping
}

func NewBuilder(mapping FieldMapping) *Builder {
	if mapping.ItemID == "" {
		mapping.ItemID = defaultItemIDPath
	}
	return &Builder{mapping: mapping}
}

// Build never fails: every missing source becomes an empty string.
func (b *Builder) Build(event *domain.Event) domain.FeedbackRecord {
	record := domain.FeedbackRecord{
		FeedbackType: event.Name,
		ItemID:       b.property(event, b.mapping.ItemID),
		UserID:       event.DistinctID,
		Timestamp:    rawString(event.Timestamp),
	}
	if b.mapping.UserID != "" {
		record.UserID = b.property(event, b.mapping.UserID)
	}
	if b.mapping.Timestamp != "" {
		record.Timestamp = b.property(event, b.mapping.Timestamp)
	}
	return record
}

func (b *Builder) BuildBatch(events []domain.Event) []domain.FeedbackRecord {
	records := make([]domain.FeedbackRecord, len(events))
	for i := range events {
		records[i] = b.Build(&events[i])
	}
	return records
}

func (b *Builder) property(event *domain.Event, path string) string {
	if !event.HasProperties() {
		return ""
	}
	res := gjson.GetBytes(event.Properties, path)
	if !res.Exists() || res.Type == gjson.Null {
		return ""
	}
	return res.String()
}

// rawString normalizes a JSON string or number into its string form.
func rawString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return ""
	}
	if _, err := strconv.ParseFloat(string(raw), 64); err == nil {
		return string(raw)
	}
	return gjson.ParseBytes(raw).String()
}
