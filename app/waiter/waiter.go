package waiter

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

type WaitFunc func(ctx context.Context) error

// Waiter runs WaitFuncs until one of them fails, the parent context is done or a signal arrives.
type Waiter interface {
	Add(fns ...WaitFunc)
	Wait() error
}

type waiter struct {
	ctx      context.Context
	cancelFn context.CancelFunc
	fns      []WaitFunc
}

func NewWaiter(ctx context.Context, cancelFn context.CancelFunc, opts ...Option) Waiter {
	cfg := &waiterCfg{
		signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	w := &waiter{
		fns: []WaitFunc{},
	}
	w.ctx, w.cancelFn = context.WithCancel(ctx)
	if len(cfg.signals) > 0 {
		var stop context.CancelFunc
		w.ctx, stop = signal.NotifyContext(w.ctx, cfg.signals...)
		cancel := w.cancelFn
		w.cancelFn = func() {
			stop()
			cancel()
		}
	}
	if cancelFn != nil {
		cancel := w.cancelFn
		w.cancelFn = func() {
			cancel()
			cancelFn()
		}
	}

	return w
}

func (w *waiter) Add(fns ...WaitFunc) {
	w.fns = append(w.fns, fns...)
}

// Wait blocks until every WaitFunc has returned. The first error cancels the others.
func (w *waiter) Wait() error {
	defer w.cancelFn()

	group, ctx := errgroup.WithContext(w.ctx)
	group.Go(func() error {
		<-ctx.Done()
		w.cancelFn()
		return nil
	})

	for _, fn := range w.fns {
		fn := fn
		group.Go(func() error {
			return fn(ctx)
		})
	}

	return group.Wait()
}
