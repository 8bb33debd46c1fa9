package worker

import (
	"context"

	"github.com/leshachaplin/feedbackhook/internal/domain"
	"github.com/leshachaplin/feedbackhook/internal/worker/redpanda/consumer"
	"github.com/leshachaplin/feedbackhook/internal/worker/redpanda/producer"
)

// Queue carries flushed batches from the buffer to the delivery workers.
// Consume forwards batches until done is closed or ctx is canceled.
type Queue interface {
	Publish(ctx context.Context, key string, batch domain.EventBatch) error
	Consume(ctx context.Context, taskPayload chan<- domain.EventBatch, done <-chan struct{})
}

type RedpandaQueue struct {
	producer *producer.Producer
	consumer *consumer.Consumer
}

func NewRedpandaQueue(producer *producer.Producer, consumer *consumer.Consumer) *RedpandaQueue {
	return &RedpandaQueue{
		producer: producer,
		consumer: consumer,
	}
}

func (r *RedpandaQueue) Publish(ctx context.Context, key string, batch domain.EventBatch) error {
	if err := r.producer.Publish(ctx, key, batch); err != nil {
		return err
	}
	return nil
}

func (r *RedpandaQueue) Consume(ctx context.Context, taskPayload chan<- domain.EventBatch, done <-chan struct{}) {
	r.consumer.Consume(ctx, taskPayload, done)
}

// MemoryQueue is an in-process queue. Batches published before done is closed are
// still forwarded, so a graceful stop drains it completely.
type MemoryQueue struct {
	ch chan domain.EventBatch
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &MemoryQueue{ch: make(chan domain.EventBatch, capacity)}
}

func (m *MemoryQueue) Publish(ctx context.Context, _ string, batch domain.EventBatch) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case m.ch <- batch:
		return nil
	}
}

func (m *MemoryQueue) Consume(ctx context.Context, taskPayload chan<- domain.EventBatch, done <-chan struct{}) {
	forward := func(batch domain.EventBatch) bool {
		select {
		case <-ctx.Done():
			return false
		case taskPayload <- batch:
			return true
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-m.ch:
			if !forward(batch) {
				return
			}
		case <-done:
			for {
				select {
				case batch := <-m.ch:
					if !forward(batch) {
						return
					}
				default:
					return
				}
			}
		}
	}
}
