package clickhouse

import (
	"time"

	"github.com/leshachaplin/feedbackhook/internal/domain"
)

// deadLetter is one event of a failed batch, flattened for storage.
type deadLetter struct {
	BatchID    string    `ch:"batch_id"`
	Position   uint32    `ch:"position"`
	FailedAt   time.Time `ch:"failed_at"`
	FlushedAt  time.Time `ch:"flushed_at"`
	Reason     string    `ch:"reason"`
	StatusCode int32     `ch:"status_code"`
	EventType  string    `ch:"event_type"`
	DistinctID string    `ch:"distinct_id"`
	Timestamp  string    `ch:"timestamp"`
	Properties string    `ch:"properties"`
}

func deadLettersFromFailure(failed domain.FailedBatch) []deadLetter {
	events := failed.Batch.Events
	rows := make([]deadLetter, len(events))
	for i := 0; i < len(events); i++ {
		rows[i] = deadLetter{
			BatchID:    failed.Batch.ID,
			Position:   uint32(i),
			FailedAt:   failed.FailedAt,
			FlushedAt:  failed.Batch.FlushedAt,
			Reason:     failed.Reason,
			StatusCode: int32(failed.StatusCode),
			EventType:  events[i].Name,
			DistinctID: events[i].DistinctID,
			Timestamp:  string(events[i].Timestamp),
			Properties: string(events[i].Properties),
		}
	}
	return rows
}

func failureFromDeadLetters(rows []deadLetter) domain.FailedBatch {
	if len(rows) == 0 {
		return domain.FailedBatch{}
	}
	failed := domain.FailedBatch{
		Batch: domain.EventBatch{
			ID:        rows[0].BatchID,
			FlushedAt: rows[0].FlushedAt,
			Events:    make([]domain.Event, len(rows)),
		},
		Reason:     rows[0].Reason,
		StatusCode: int(rows[0].StatusCode),
		FailedAt:   rows[0].FailedAt,
	}
	for i, row := range rows {
		failed.Batch.Events[i] = domain.Event{
			Name:       row.EventType,
			DistinctID: row.DistinctID,
		}
		if row.Timestamp != "" {
			failed.Batch.Events[i].Timestamp = []byte(row.Timestamp)
		}
		if row.Properties != "" {
			failed.Batch.Events[i].Properties = []byte(row.Properties)
		}
	}
	return failed
}
