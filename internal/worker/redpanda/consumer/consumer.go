package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/leshachaplin/feedbackhook/internal/domain"
)

const (
	defaultPollFetchesTimeout = 15 * time.Second
	defaultRetryCount         = 10
)

var errConsumerDone = errors.New("consumer done")

type Config struct {
	Brokers            []string      `yaml:"brokers"`
	ConsumerGroup      string        `yaml:"consumer_group"`
	Topics             []string      `yaml:"topics"`
	RetryCount         int           `yaml:"retry_count"`
	PollFetchesTimeout time.Duration `yaml:"poll_fetches_timeout"`
}

type Consumer struct {
	client             *kgo.Client
	retryCount         int
	pollFetchesTimeout time.Duration
	errChan            chan<- error
}

func NewConsumer(cfg Config, errChan chan<- error) (*Consumer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.DisableAutoCommit(),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kgo new client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*15)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping brokers: %w", err)
	}

	consumer := &Consumer{
		client:  client,
		errChan: errChan,
	}

	if cfg.PollFetchesTimeout == 0 {
		consumer.pollFetchesTimeout = defaultPollFetchesTimeout
	} else {
		consumer.pollFetchesTimeout = cfg.PollFetchesTimeout
	}

	if cfg.RetryCount == 0 {
		consumer.retryCount = defaultRetryCount
	} else {
		consumer.retryCount = cfg.RetryCount
	}

	return consumer, nil
}

func (c *Consumer) Close() error {
	c.client.Close()
	return nil
}

// Consume forwards flushed batches in topic order. A record is committed as soon as it has been
// handed to the workers, before it is delivered: a batch still waiting in the workers when the
// process dies is lost. Records not yet handed over stay in the topic across restarts.
func (c *Consumer) Consume(ctx context.Context, batchChan chan<- domain.EventBatch, done <-chan struct{}) {
	c.consume(ctx, done, func(fetches kgo.Fetches) error {
		for iter := fetches.RecordIter(); !iter.Done(); {
			record := iter.Next()

			var batch domain.EventBatch
			if err := json.Unmarshal(record.Value, &batch); err != nil {
				log.Error().Str("record", string(record.Value)).Err(err).Msg("Consume: Unmarshal batch value.")

				if commitErr := c.client.CommitRecords(ctx, record); commitErr != nil {
					return fmt.Errorf("commit record: %w", commitErr)
				}
				return err
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-done:
				return errConsumerDone
			case batchChan <- batch:
			}

			if commitErr := c.client.CommitRecords(ctx, record); commitErr != nil {
				return fmt.Errorf("commit record: %w", commitErr)
			}
		}
		return nil
	})
}

func (c *Consumer) consume(ctx context.Context, done <-chan struct{}, fn func(fetches kgo.Fetches) error) {
	pollCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-done:
			stop()
		case <-pollCtx.Done():
		}
	}()

	failures := 0
	for {
		select {
		case <-pollCtx.Done():
			return
		default:
			fetchCtx, cancel := context.WithTimeout(pollCtx, c.pollFetchesTimeout)
			fetches := c.client.PollFetches(fetchCtx)
			cancel()

			if fetches.IsClientClosed() {
				c.report(errors.New("client closed"))
				return
			}

			if err := fetches.Err(); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}

				if errors.Is(err, context.DeadlineExceeded) {
					continue
				}

				failures++
				c.report(fmt.Errorf("stream poll fetches: %w", err))
				if failures >= c.retryCount {
					c.report(fmt.Errorf("giving up after %d failed polls", failures))
					return
				}
				continue
			}
			failures = 0

			if err := fn(fetches); err != nil {
				if errors.Is(err, errConsumerDone) || errors.Is(err, context.Canceled) {
					return
				}
				continue
			}
		}
	}
}

// report never blocks the poll loop on a slow error reader.
func (c *Consumer) report(err error) {
	select {
	case c.errChan <- err:
	default:
		log.Warn().Err(err).Msg("consumer error dropped")
	}
}
