package worker

import (
	"context"

	"github.com/leshachaplin/feedbackhook/internal/domain"
)

// FailureSink receives batches whose delivery failed.
type FailureSink interface {
	StoreFailure(ctx context.Context, failed domain.FailedBatch) error
}

type Publisher interface {
	Publish(ctx context.Context, key string, msg any) error
}

// PublishFailureSink forwards failed batches to an error topic.
type PublishFailureSink struct {
	publisher Publisher
}

func NewPublishFailureSink(publisher Publisher) *PublishFailureSink {
	return &PublishFailureSink{publisher: publisher}
}

func (p *PublishFailureSink) StoreFailure(ctx context.Context, failed domain.FailedBatch) error {
	return p.publisher.Publish(ctx, failed.Batch.ID, failed)
}
