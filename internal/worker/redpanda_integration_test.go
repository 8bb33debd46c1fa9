//go:build integration

package worker

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/goleak"

	"github.com/leshachaplin/feedbackhook/internal/domain"
	"github.com/leshachaplin/feedbackhook/internal/testingh"
	"github.com/leshachaplin/feedbackhook/internal/worker/redpanda/consumer"
	"github.com/leshachaplin/feedbackhook/internal/worker/redpanda/producer"
)

const (
	topic = "topic"
)

var (
	defaultTopics = []string{topic}
)

type IntegrationTestSuite struct {
	ctx      context.Context
	cancelFn context.CancelFunc

	kafkaCLi  *kadm.Client
	container *testingh.Container
	broker    string

	consumerCfg consumer.Config
	producerCfg producer.Config

	suite.Suite
}

func (i *IntegrationTestSuite) SetupSuite() {
	var err error
	ctx, cnsl := context.WithTimeout(context.Background(), time.Minute*2)
	i.ctx = ctx
	i.cancelFn = cnsl

	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	i.container, err = testingh.NewContainer(testingh.Redpanda(), func(connURL string) error {
		i.broker = connURL
		pandaCLi, err := kgo.NewClient(kgo.SeedBrokers(connURL))
		if err != nil {
			return err
		}

		if pingErr := pandaCLi.Ping(ctx); pingErr != nil {
			pandaCLi.Close()
			return pingErr
		}

		i.kafkaCLi = kadm.NewClient(pandaCLi)
		return nil
	})
	i.Require().NoError(err)

	createTopicResponses, err := i.kafkaCLi.CreateTopics(ctx, 1, 1, map[string]*string{}, defaultTopics...)
	i.Require().NoError(err)
	i.kafkaCLi.Close()

	for _, response := range createTopicResponses {
		i.Require().NoError(response.Err)
	}

	i.consumerCfg = consumer.Config{
		Brokers:            []string{i.broker},
		ConsumerGroup:      "topic-cg",
		Topics:             []string{topic},
		RetryCount:         5,
		PollFetchesTimeout: time.Second,
	}
	i.producerCfg = producer.Config{
		RetryAttempts: 5,
		RetryDelay:    time.Second,
		Brokers:       []string{i.broker},
		Topic:         topic,
	}
}

func (i *IntegrationTestSuite) TearDownSuite() {
	i.cancelFn()
	i.Assert().NoError(i.container.Purge())
}

func TestIntegrationTestSuite(t *testing.T) {
	suite.Run(t, new(IntegrationTestSuite))
}

func (i *IntegrationTestSuite) TestWorker_RedpandaQueue() {
	cases := map[string]struct {
		batches int
	}{
		"ok": {
			batches: 10,
		},
		"ok - many batches": {
			batches: 200,
		},
	}

	for name, tc := range cases {
		i.Run(name, func() {
			defer goleak.VerifyNone(i.T(), goleak.IgnoreCurrent())

			consumerErrorChan := make(chan error, 16)
			c, err := consumer.NewConsumer(i.consumerCfg, consumerErrorChan)
			i.Require().NoError(err)
			defer c.Close()

			p, err := producer.NewProducer(i.ctx, i.producerCfg, log.With().Str("producer", "Publish").Logger())
			i.Require().NoError(err)
			defer p.Close()

			prefix := name + "-"
			var (
				mu  sync.Mutex
				got []string
			)
			execFn := func(ctx context.Context, b domain.EventBatch) error {
				// the consumer group is shared between cases
				if !strings.HasPrefix(b.ID, prefix) {
					return nil
				}
				mu.Lock()
				defer mu.Unlock()
				got = append(got, b.ID)
				return nil
			}

			l := log.With().Str("WORKER", "PROCESS").Logger()
			pool := New(context.Background(), Config{}, NewRedpandaQueue(p, c), l)
			pool.Start(execFn)

			for k := 0; k < tc.batches; k++ {
				i.Require().NoError(p.Publish(i.ctx, orderingKey, domain.EventBatch{
					ID:     prefix + strconv.Itoa(k),
					Events: []domain.Event{{Name: "item_viewed"}},
				}))
			}

			i.Eventually(func() bool {
				mu.Lock()
				defer mu.Unlock()
				return len(got) >= tc.batches
			}, time.Minute, 100*time.Millisecond)

			i.NoError(pool.GracefulStop(context.Background()))

			mu.Lock()
			defer mu.Unlock()
			for k := 0; k < tc.batches; k++ {
				i.Equal(prefix+strconv.Itoa(k), got[k])
			}
		})
	}
}
