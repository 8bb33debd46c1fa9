package app

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/leshachaplin/feedbackhook/app/waiter"
	"github.com/leshachaplin/feedbackhook/internal/config"
	"github.com/leshachaplin/feedbackhook/internal/hook"
	appServer "github.com/leshachaplin/feedbackhook/internal/server/http"
	"github.com/leshachaplin/feedbackhook/internal/service"
	"github.com/leshachaplin/feedbackhook/internal/storage/deadletter/clickhouse"
	"github.com/leshachaplin/feedbackhook/internal/worker"
	"github.com/leshachaplin/feedbackhook/internal/worker/redpanda/consumer"
	"github.com/leshachaplin/feedbackhook/internal/worker/redpanda/producer"
)

const (
	defaultAddr     = ":8080"
	shutdownTimeout = time.Minute
)

type LoadConfigFn func() (config.Config, error)

type App struct {
	cfg      config.Config
	logger   zerolog.Logger
	registry *prometheus.Registry
	server   *appServer.Server
	hook     *hook.Hook
	waiter   waiter.Waiter
	ctx      context.Context
	cancelFn context.CancelFunc

	serverDone chan struct{}
}

func New(loadConfigFn LoadConfigFn) *App {
	ctx, cancelFn := context.WithCancel(context.Background())
	cfg, err := loadConfigFn()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.ServerAddr == "" {
		cfg.ServerAddr = defaultAddr
	}

	logger := NewZeroLogger(Level(cfg.LogLevel))

	w := waiter.NewWaiter(ctx, cancelFn)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &App{
		cfg:        cfg,
		logger:     logger,
		registry:   registry,
		waiter:     w,
		ctx:        ctx,
		cancelFn:   cancelFn,
		serverDone: make(chan struct{}),
	}
}

func (a *App) Start() {
	defer a.cancelFn()

	opts := []hook.Option{hook.WithRegistry(a.registry)}

	if a.cfg.BatchWorker.Queue == worker.QueueRedpanda {
		consumerErrorChan := make(chan error, 16)
		batchConsumer, err := consumer.NewConsumer(a.cfg.BatchConsumer, consumerErrorChan)
		if err != nil {
			a.logger.Fatal().Err(err).Msg("Could not setup batch consumer.")
		}
		defer batchConsumer.Close()

		batchProducer, err := producer.NewProducer(
			a.ctx,
			a.cfg.BatchProducer,
			a.logger.With().Str("batch producer", "Publish").Logger(),
		)
		if err != nil {
			a.logger.Fatal().Err(err).Msg("Could not setup batch producer.")
		}
		defer batchProducer.Close()

		opts = append(opts, hook.WithQueue(worker.NewRedpandaQueue(batchProducer, batchConsumer)))
		a.waitForConsumerErrors(consumerErrorChan)
	}

	if a.cfg.DeadLetters.Enabled() {
		deadLetters, err := clickhouse.New(a.ctx, a.cfg.DeadLetters, a.logger.With().Str("storage", "dead letters").Logger())
		if err != nil {
			a.logger.Fatal().Err(err).Msg("Could not setup dead letter storage.")
		}
		defer deadLetters.Close()

		if err = deadLetters.Migrate(a.ctx); err != nil {
			a.logger.Fatal().Err(err).Msg("Could not migrate dead letter storage.")
		}
		opts = append(opts, hook.WithFailureSinks(deadLetters))
	}

	if a.cfg.ErrorProducer.Topic != "" {
		errorProducer, err := producer.NewProducer(
			a.ctx,
			a.cfg.ErrorProducer,
			a.logger.With().Str("error producer", "Publish").Logger(),
		)
		if err != nil {
			a.logger.Fatal().Err(err).Msg("Could not setup error producer.")
		}
		defer errorProducer.Close()

		opts = append(opts, hook.WithFailureSinks(worker.NewPublishFailureSink(errorProducer)))
	}

	feedbackHook, err := hook.Setup(a.cfg, a.logger, opts...)
	if err != nil {
		a.logger.Fatal().Err(err).Msg("Could not setup feedback hook.")
	}
	a.hook = feedbackHook

	eventProcessor := service.New(feedbackHook, a.logger)
	handler := appServer.NewHandler(eventProcessor, a.logger)

	a.server = appServer.New(handler, a.registry)

	a.waitForServer()
	a.waitForHook()

	if err = a.waiter.Wait(); err != nil {
		a.logger.Error().Err(err).Msg("App stopped with error.")
	}
}

func (a *App) Stop() {
	a.cancelFn()
}

func (a *App) waitForServer() {
	a.waiter.Add(func(ctx context.Context) error {
		defer close(a.serverDone)
		defer a.logger.Debug().Msg("server has been shutdown")

		group, gCtx := errgroup.WithContext(ctx)
		group.Go(func() error {
			defer a.logger.Debug().Msg("public server exited")
			a.logger.Info().Str("starting server at: ", a.cfg.ServerAddr).Send()
			err := a.server.ServePublic(a.cfg.ServerAddr)
			if err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})

		group.Go(func() error {
			<-gCtx.Done()
			a.logger.Debug().Msg("shutting down the server")
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := a.server.ShutdownPublic(ctx); err != nil {
				a.logger.Warn().Err(err).Msg("error while shutting down the server")
			}
			return nil
		})

		return group.Wait()
	})
}

// waitForHook tears the hook down once the server no longer accepts events.
func (a *App) waitForHook() {
	a.waiter.Add(func(ctx context.Context) error {
		<-ctx.Done()
		<-a.serverDone

		tctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.hook.Teardown(tctx); err != nil {
			a.logger.Warn().Err(err).Msg("undelivered feedback on shutdown")
		}
		return nil
	})
}

func (a *App) waitForConsumerErrors(errChan <-chan error) {
	a.waiter.Add(func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-errChan:
				a.logger.Error().Err(err).Msg("batch consumer")
			}
		}
	})
}
