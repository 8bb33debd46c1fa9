package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/leshachaplin/feedbackhook/internal/delivery"
	"github.com/leshachaplin/feedbackhook/internal/domain"
)

var ErrPoolStopped = errors.New("worker pool stopped")

// orderingKey is shared by every batch so that a partitioned topic keeps them in one partition.
const orderingKey = "feedback"

type ExecuteFn func(ctx context.Context, batch domain.EventBatch) error

type WorkerPool interface {
	Start(executeFn ExecuteFn)
	GracefulStop(ctx context.Context) error
	Process(batch domain.EventBatch)
	Execute(ctx context.Context, executeFn ExecuteFn, batch domain.EventBatch) error
}

// Pool delivers batches taken from a queue. With a single worker batches are executed
// strictly one after another in queue order.
type Pool struct {
	numWorkers  int
	taskPayload chan domain.EventBatch
	queue       Queue
	sinks       []FailureSink
	start       sync.Once
	stop        sync.Once
	doneChan    chan struct{}
	ctx         context.Context
	cancelFn    context.CancelFunc
	wg          *sync.WaitGroup
	logger      zerolog.Logger

	stateMu  sync.RWMutex
	stopping bool

	failMu    sync.Mutex
	drainErrs []error
}

func New(ctx context.Context, cfg Config, queue Queue, logger zerolog.Logger, sinks ...FailureSink) *Pool {
	cfg = cfg.withDefaults()
	c, cancelFn := context.WithCancel(ctx)
	return &Pool{
		numWorkers:  cfg.NumWorkers,
		taskPayload: make(chan domain.EventBatch, cfg.NumWorkers),
		doneChan:    make(chan struct{}),
		queue:       queue,
		sinks:       sinks,
		ctx:         c,
		cancelFn:    cancelFn,
		wg:          &sync.WaitGroup{},
		logger:      logger,
	}
}

func (w *Pool) Start(executeFn ExecuteFn) {
	w.start.Do(func() {
		for i := 0; i < w.numWorkers; i++ {
			w.wg.Add(1)
			l := w.logger.With().Interface("worker", i).Logger()
			go w.work(w.ctx, l, executeFn)
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer close(w.taskPayload)
			w.queue.Consume(w.ctx, w.taskPayload, w.doneChan)
		}()
	})
}

// GracefulStop rejects new batches, waits until queued batches are delivered and returns
// the delivery errors seen while draining. When ctx expires first the remaining work is
// abandoned and ctx.Err() is part of the result.
func (w *Pool) GracefulStop(ctx context.Context) error {
	var err error
	w.stop.Do(func() {
		w.stateMu.Lock()
		w.stopping = true
		w.stateMu.Unlock()
		close(w.doneChan)

		drained := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(drained)
		}()

		select {
		case <-drained:
		case <-ctx.Done():
			w.cancelFn()
			<-drained
			err = ctx.Err()
		}
		w.cancelFn()

		w.failMu.Lock()
		err = errors.Join(append(w.drainErrs, err)...)
		w.failMu.Unlock()
	})
	return err
}

func (w *Pool) Process(batch domain.EventBatch) {
	if err := w.publish(batch); err != nil {
		w.onFailure(batch, err)
	}
}

// Execute runs executeFn for batch in the calling goroutine, bypassing the queue.
// Failures go to the failure sinks and are returned.
func (w *Pool) Execute(ctx context.Context, executeFn ExecuteFn, batch domain.EventBatch) error {
	if err := executeFn(ctx, batch); err != nil {
		w.onFailure(batch, err)
		return err
	}
	return nil
}

func (w *Pool) publish(batch domain.EventBatch) error {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()

	if w.stopping {
		return ErrPoolStopped
	}
	if err := w.queue.Publish(w.ctx, orderingKey, batch); err != nil {
		return fmt.Errorf("publish batch: %w", err)
	}
	return nil
}

func (w *Pool) onFailure(batch domain.EventBatch, err error) {
	w.stateMu.RLock()
	stopping := w.stopping
	w.stateMu.RUnlock()
	if stopping {
		w.failMu.Lock()
		w.drainErrs = append(w.drainErrs, err)
		w.failMu.Unlock()
	}

	failed := domain.FailedBatch{
		Batch:      undelivered(batch, err),
		Reason:     err.Error(),
		StatusCode: delivery.StatusCode(err),
		FailedAt:   time.Now().UTC(),
	}

	stored := false
	for _, sink := range w.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errStore := sink.StoreFailure(ctx, failed)
		cancel()
		if errStore != nil {
			w.logger.Warn().Err(errStore).Str("BATCH_ID", batch.ID).Msg("failed to store failed batch")
			continue
		}
		stored = true
	}
	if !stored {
		w.logger.Err(err).Str("BATCH_ID", batch.ID).Int("events", len(failed.Batch.Events)).Msg("failed to process events")
	}
}

// undelivered narrows batch to the events that were not delivered.
func undelivered(batch domain.EventBatch, err error) domain.EventBatch {
	var bErr *delivery.BatchError
	if !errors.As(err, &bErr) || len(bErr.Failed) == 0 {
		return batch
	}

	events := make([]domain.Event, 0, len(bErr.Failed))
	for _, i := range bErr.Failed {
		if i < 0 || i >= len(batch.Events) {
			return batch
		}
		events = append(events, batch.Events[i])
	}

	batch.Events = events
	batch.Size = 0
	for i := range events {
		batch.Size += events[i].Size()
	}
	return batch
}

func (w *Pool) work(
	ctx context.Context,
	logger zerolog.Logger,
	executeFn ExecuteFn,
) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case pld, ok := <-w.taskPayload:
			if !ok {
				return
			}

			logger.Debug().Str("BATCH_ID", pld.ID).Int("EVENTS", len(pld.Events)).Msg("start processing events")
			if err := executeFn(ctx, pld); err != nil {
				w.onFailure(pld, err)
			}
			logger.Debug().Str("BATCH_ID", pld.ID).Msg("end processing events")
		}
	}
}
