// Package buffer accumulates accepted events and flushes them by size or age.
package buffer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/leshachaplin/feedbackhook/internal/domain"
)

// Flush reasons.
const (
	ReasonSize     = "size"
	ReasonInterval = "interval"
	ReasonExplicit = "explicit"
	ReasonTeardown = "teardown"
)

// FlushFunc receives every non-empty batch. It may hand the batch off asynchronously;
// calls are never concurrent and arrive in acceptance order.
type FlushFunc func(batch domain.EventBatch)

type Buffer struct {
	sizeLimit int
	timeLimit time.Duration
	onFlush   FlushFunc
	observe   func(reason string)
	logger    zerolog.Logger

	// handoff serializes snapshot+onFlush so batches reach onFlush in order.
	handoff sync.Mutex

	mu     sync.Mutex
	events []domain.Event
	size   int

	start    sync.Once
	stop     sync.Once
	doneChan chan struct{}
	wg       sync.WaitGroup
}

func New(cfg Config, onFlush FlushFunc, logger zerolog.Logger) *Buffer {
	cfg = cfg.withDefaults()
	return &Buffer{
		sizeLimit: cfg.SizeLimit,
		timeLimit: cfg.TimeLimit,
		onFlush:   onFlush,
		observe:   func(string) {},
		logger:    logger,
		doneChan:  make(chan struct{}),
	}
}

// OnFlushed registers a callback invoked with the reason of every non-empty flush.
func (b *Buffer) OnFlushed(fn func(reason string)) {
	b.observe = fn
}

// Start launches the interval flush loop. It stops when ctx is done or Stop is called.
func (b *Buffer) Start(ctx context.Context) {
	b.start.Do(func() {
		b.wg.Add(1)
		go b.flushLoop(ctx)
	})
}

// Stop ends the interval loop. Buffered events stay until the next Flush or FlushWith.
func (b *Buffer) Stop() {
	b.stop.Do(func() {
		close(b.doneChan)
		b.wg.Wait()
	})
}

// Add appends the event and flushes the whole batch once the accumulated size reaches the limit.
func (b *Buffer) Add(event domain.Event, sizeBytes int) {
	b.mu.Lock()
	b.events = append(b.events, event)
	b.size += sizeBytes
	full := b.size >= b.sizeLimit
	b.mu.Unlock()

	if full {
		b.flush(ReasonSize, b.onFlush)
	}
}

// Flush hands the current batch to the flush callback. It is a no-op on an empty buffer.
func (b *Buffer) Flush() {
	b.flush(ReasonExplicit, b.onFlush)
}

// FlushWith hands the current batch to fn instead of the flush callback.
// Used at teardown to deliver the last batch synchronously.
func (b *Buffer) FlushWith(reason string, fn FlushFunc) {
	b.flush(reason, fn)
}

// Size returns the accumulated size in bytes.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func (b *Buffer) flush(reason string, fn FlushFunc) {
	b.handoff.Lock()
	defer b.handoff.Unlock()

	batch, ok := b.drain()
	if !ok {
		return
	}
	batch.Reason = reason

	b.logger.Debug().
		Str("BATCH_ID", batch.ID).
		Str("reason", reason).
		Int("events", len(batch.Events)).
		Int("bytes", batch.Size).
		Msg("flush")

	b.observe(reason)
	fn(batch)
}

// drain atomically swaps out the current batch and resets the accumulator.
func (b *Buffer) drain() (domain.EventBatch, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) == 0 {
		return domain.EventBatch{}, false
	}

	batch := domain.EventBatch{
		ID:        uuid.NewString(),
		Size:      b.size,
		FlushedAt: time.Now().UTC(),
		Events:    b.events,
	}
	b.events = nil
	b.size = 0
	return batch, true
}

func (b *Buffer) flushLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.timeLimit)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.doneChan:
			return
		case <-ticker.C:
			b.flush(ReasonInterval, b.onFlush)
		}
	}
}
