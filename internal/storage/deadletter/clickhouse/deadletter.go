package clickhouse

import (
	"context"
	"fmt"

	"github.com/leshachaplin/feedbackhook/internal/domain"
)

func (c *Clickhouse) StoreFailure(ctx context.Context, failed domain.FailedBatch) error {
	rows := deadLettersFromFailure(failed)
	if len(rows) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, `INSERT INTO feedback_dead_letters`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for i := 0; i < len(rows); i++ {
		if errAppend := batch.AppendStruct(&rows[i]); errAppend != nil {
			return fmt.Errorf("append dead letter: %w", errAppend)
		}
	}
	return batch.Send()
}

// LoadFailure reads an archived batch back in its original event order, for replay.
func (c *Clickhouse) LoadFailure(ctx context.Context, batchID string) (domain.FailedBatch, error) {
	var rows []deadLetter
	if err := c.conn.Select(ctx, &rows, `SELECT * FROM feedback_dead_letters WHERE batch_id = ? ORDER BY position`, batchID); err != nil {
		return domain.FailedBatch{}, fmt.Errorf("select dead letters: %w", err)
	}
	return failureFromDeadLetters(rows), nil
}
