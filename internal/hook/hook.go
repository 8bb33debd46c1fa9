// Package hook wires the forwarding pipeline: filter, buffer, sequential delivery.
package hook

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/leshachaplin/feedbackhook/internal/buffer"
	"github.com/leshachaplin/feedbackhook/internal/config"
	"github.com/leshachaplin/feedbackhook/internal/delivery"
	"github.com/leshachaplin/feedbackhook/internal/domain"
	"github.com/leshachaplin/feedbackhook/internal/feedback"
	"github.com/leshachaplin/feedbackhook/internal/metrics"
	"github.com/leshachaplin/feedbackhook/internal/policy"
	"github.com/leshachaplin/feedbackhook/internal/worker"
)

type Option func(*options)

type options struct {
	registry prometheus.Registerer
	counters *metrics.Counters
	queue    worker.Queue
	tokens   delivery.TokenSource
	sinks    []worker.FailureSink
}

// WithRegistry registers the hook counters in registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(o *options) {
		o.registry = registry
	}
}

// WithCounters replaces the prometheus counters.
func WithCounters(counters *metrics.Counters) Option {
	return func(o *options) {
		o.counters = counters
	}
}

// WithQueue sets the queue between the buffer and the delivery worker.
func WithQueue(queue worker.Queue) Option {
	return func(o *options) {
		o.queue = queue
	}
}

// WithTokenSource overrides the token source built from the delivery auth config.
func WithTokenSource(tokens delivery.TokenSource) Option {
	return func(o *options) {
		o.tokens = tokens
	}
}

// WithFailureSinks adds sinks for batches whose delivery failed.
func WithFailureSinks(sinks ...worker.FailureSink) Option {
	return func(o *options) {
		o.sinks = append(o.sinks, sinks...)
	}
}

type Hook struct {
	allow    policy.AllowList
	builder  *feedback.Builder
	client   *delivery.Client
	buffer   *buffer.Buffer
	pool     *worker.Pool
	counters *metrics.Counters
	logger   zerolog.Logger

	// lifecycle is held shared by OnEvent and exclusively by Teardown,
	// so no event reaches the buffer after the teardown flush.
	lifecycle sync.RWMutex
	closed    bool
	teardown  sync.Once
	err      error
}

// Setup validates cfg and starts the buffer and the delivery worker.
// A configuration problem is returned as *config.Error and nothing is started.
func Setup(cfg config.Config, logger zerolog.Logger, opts ...Option) (*Hook, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.counters == nil {
		if o.registry == nil {
			o.registry = prometheus.NewRegistry()
		}
		o.counters = metrics.NewCounters(o.registry)
	}
	if o.tokens == nil {
		o.tokens = delivery.NewTokenSource(cfg.Delivery.Auth)
	}
	if o.queue == nil {
		o.queue = worker.NewMemoryQueue(cfg.BatchWorker.QueueCapacity)
	}

	builder := feedback.NewBuilder(cfg.FieldMapping)
	client := delivery.NewClient(
		cfg.Delivery,
		builder,
		o.tokens,
		o.counters,
		logger.With().Str("component", "delivery").Logger(),
	)

	pool := worker.New(
		context.Background(),
		cfg.BatchWorker,
		o.queue,
		logger.With().Str("WORKER", "FEEDBACK").Logger(),
		o.sinks...,
	)
	pool.Start(client.DeliverBatch)

	buf := buffer.New(cfg.Buffer, pool.Process, logger.With().Str("component", "buffer").Logger())
	buf.OnFlushed(o.counters.Flushed)
	buf.Start(context.Background())

	logger.Info().
		Str("events", cfg.Hook.EventsToInclude).
		Str("url", cfg.Delivery.RequestURL).
		Msg("feedback hook is set up")

	return &Hook{
		allow:    policy.ParseAllowList(cfg.Hook.EventsToInclude),
		builder:  builder,
		client:   client,
		buffer:   buf,
		pool:     pool,
		counters: o.counters,
		logger:   logger,
	}, nil
}

// OnEvent buffers the event when it passes the allow list. It reports whether the event was accepted.
func (h *Hook) OnEvent(event domain.Event) bool {
	h.lifecycle.RLock()
	defer h.lifecycle.RUnlock()

	if h.closed {
		h.logger.Warn().Str("event", event.Name).Msg("event after teardown is dropped")
		return false
	}
	if !h.allow.ShouldForward(&event) {
		return false
	}

	if record := h.builder.Build(&event); record.ItemID == "" {
		h.counters.MalformedEvents.Increment(1)
		h.logger.Warn().
			Str("event", event.Name).
			Str("distinct_id", event.DistinctID).
			Msg("forwarded event has no item id")
	}

	h.buffer.Add(event, event.Size())
	return true
}

// Flush hands the buffered events to the delivery worker.
func (h *Hook) Flush() {
	h.buffer.Flush()
}

// Teardown stops accepting events, waits for queued batches and delivers the remaining
// events synchronously. It returns every delivery error seen on the way.
func (h *Hook) Teardown(ctx context.Context) error {
	h.teardown.Do(func() {
		h.lifecycle.Lock()
		h.closed = true
		h.lifecycle.Unlock()

		h.buffer.Stop()

		errs := []error{h.pool.GracefulStop(ctx)}
		h.buffer.FlushWith(buffer.ReasonTeardown, func(batch domain.EventBatch) {
			errs = append(errs, h.pool.Execute(ctx, h.client.DeliverBatch, batch))
		})

		h.err = errors.Join(errs...)
		if h.err != nil {
			h.logger.Err(h.err).Msg("feedback hook teardown")
			return
		}
		h.logger.Info().Msg("feedback hook is torn down")
	})
	return h.err
}
