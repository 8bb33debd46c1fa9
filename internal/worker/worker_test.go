package worker

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/leshachaplin/feedbackhook/internal/delivery"
	"github.com/leshachaplin/feedbackhook/internal/domain"
)

type memorySink struct {
	mu     sync.Mutex
	failed []domain.FailedBatch
	err    error
}

func (m *memorySink) StoreFailure(_ context.Context, failed domain.FailedBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.failed = append(m.failed, failed)
	return nil
}

func (m *memorySink) snapshot() []domain.FailedBatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.FailedBatch(nil), m.failed...)
}

func batch(id string) domain.EventBatch {
	return domain.EventBatch{ID: id, Events: []domain.Event{{Name: "item_viewed"}}}
}

func TestPool_DeliversInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	cases := map[string]struct {
		capacity int
		batches  int
	}{
		"ok": {
			capacity: 16,
			batches:  100,
		},
		"ok - batches more than queue capacity": {
			capacity: 1,
			batches:  500,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var (
				mu  sync.Mutex
				got []string
			)
			execFn := func(ctx context.Context, b domain.EventBatch) error {
				mu.Lock()
				defer mu.Unlock()
				got = append(got, b.ID)
				return nil
			}

			pool := New(context.Background(), Config{QueueCapacity: tc.capacity}, NewMemoryQueue(tc.capacity), zerolog.Nop())
			pool.Start(execFn)

			for k := 0; k < tc.batches; k++ {
				pool.Process(batch(strconv.Itoa(k)))
			}
			require.NoError(t, pool.GracefulStop(context.Background()))

			require.Len(t, got, tc.batches)
			for k := range got {
				require.Equal(t, strconv.Itoa(k), got[k])
			}
		})
	}
}

func TestPool_NoConcurrentExecution(t *testing.T) {
	defer goleak.VerifyNone(t)

	var (
		inFlight int
		maxSeen  int
		mu       sync.Mutex
	)
	execFn := func(ctx context.Context, b domain.EventBatch) error {
		mu.Lock()
		inFlight++
		if inFlight > maxSeen {
			maxSeen = inFlight
		}
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}

	pool := New(context.Background(), Config{}, NewMemoryQueue(8), zerolog.Nop())
	pool.Start(execFn)

	wg := &sync.WaitGroup{}
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for k := 0; k < 20; k++ {
				pool.Process(batch(strconv.Itoa(p) + "-" + strconv.Itoa(k)))
			}
		}(p)
	}
	wg.Wait()
	require.NoError(t, pool.GracefulStop(context.Background()))
	require.Equal(t, 1, maxSeen)
}

func TestPool_FailuresGoToSinks(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &memorySink{}
	broken := &memorySink{err: errors.New("archive down")}
	execFn := func(ctx context.Context, b domain.EventBatch) error {
		if b.ID == "bad" {
			return &delivery.Error{URL: "http://svc/api/feedback", Method: "PUT", StatusCode: 503}
		}
		return nil
	}

	pool := New(context.Background(), Config{}, NewMemoryQueue(4), zerolog.Nop(), broken, sink)
	pool.Start(execFn)

	pool.Process(batch("good"))
	pool.Process(batch("bad"))
	err := pool.GracefulStop(context.Background())

	failed := sink.snapshot()
	require.Len(t, failed, 1)
	require.Equal(t, "bad", failed[0].Batch.ID)
	require.Equal(t, 503, failed[0].StatusCode)
	require.Contains(t, failed[0].Reason, "503")

	// the failure may land before or after GracefulStop marks the pool as stopping
	if err != nil {
		require.Equal(t, 503, delivery.StatusCode(err))
	}
}

func TestPool_ProcessAfterStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &memorySink{}
	pool := New(context.Background(), Config{}, NewMemoryQueue(4), zerolog.Nop(), sink)
	pool.Start(func(ctx context.Context, b domain.EventBatch) error { return nil })
	require.NoError(t, pool.GracefulStop(context.Background()))

	pool.Process(batch("late"))

	failed := sink.snapshot()
	require.Len(t, failed, 1)
	require.Equal(t, ErrPoolStopped.Error(), failed[0].Reason)
}

func TestPool_Execute(t *testing.T) {
	sink := &memorySink{}
	pool := New(context.Background(), Config{}, NewMemoryQueue(1), zerolog.Nop(), sink)

	boom := errors.New("boom")
	err := pool.Execute(context.Background(), func(ctx context.Context, b domain.EventBatch) error {
		return boom
	}, batch("final"))

	require.ErrorIs(t, err, boom)
	require.Len(t, sink.snapshot(), 1)

	require.NoError(t, pool.Execute(context.Background(), func(ctx context.Context, b domain.EventBatch) error {
		return nil
	}, batch("final-ok")))
	require.Len(t, sink.snapshot(), 1)
}

func TestPool_GracefulStopTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	execFn := func(ctx context.Context, b domain.EventBatch) error {
		<-ctx.Done()
		return ctx.Err()
	}

	pool := New(context.Background(), Config{}, NewMemoryQueue(4), zerolog.Nop())
	pool.Start(execFn)
	pool.Process(batch("stuck"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := pool.GracefulStop(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_PartialFailureKeepsOnlyUndelivered(t *testing.T) {
	sink := &memorySink{}
	pool := New(context.Background(), Config{}, NewMemoryQueue(1), zerolog.Nop(), sink)

	b := domain.EventBatch{ID: "partial", Events: []domain.Event{
		{Name: "item_viewed", DistinctID: "u1"},
		{Name: "item_viewed", DistinctID: "u2"},
		{Name: "item_viewed", DistinctID: "u3"},
	}}
	partial := &delivery.BatchError{
		Failed: []int{1},
		Err:    &delivery.Error{URL: "http://svc/api/feedback", Method: "PUT", StatusCode: 500},
	}

	err := pool.Execute(context.Background(), func(ctx context.Context, b domain.EventBatch) error {
		return partial
	}, b)
	require.ErrorIs(t, err, partial)

	failed := sink.snapshot()
	require.Len(t, failed, 1)
	require.Equal(t, "partial", failed[0].Batch.ID)
	require.Equal(t, []domain.Event{{Name: "item_viewed", DistinctID: "u2"}}, failed[0].Batch.Events)
	require.Equal(t, 500, failed[0].StatusCode)
}

func TestUndelivered(t *testing.T) {
	b := domain.EventBatch{ID: "b", Size: 30, Events: []domain.Event{{Name: "a"}, {Name: "b"}}}

	cases := map[string]struct {
		err      error
		expected []domain.Event
	}{
		"whole batch failed": {
			err:      &delivery.Error{StatusCode: 503},
			expected: b.Events,
		},
		"one record failed": {
			err:      &delivery.BatchError{Failed: []int{0}, Err: errors.New("boom")},
			expected: []domain.Event{{Name: "a"}},
		},
		"index out of range keeps batch": {
			err:      &delivery.BatchError{Failed: []int{5}, Err: errors.New("boom")},
			expected: b.Events,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.expected, undelivered(b, tc.err).Events)
		})
	}
}
