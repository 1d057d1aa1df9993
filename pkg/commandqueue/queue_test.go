package commandqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandQueue_BasicEnqueue(t *testing.T) {
	cq := New()
	defer cq.Close()

	executed := false
	result, err := cq.Enqueue("test", func(ctx context.Context) (interface{}, error) {
		executed = true
		return "result", nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "result", result)
	assert.True(t, executed)
}

func TestCommandQueue_TaskError(t *testing.T) {
	cq := New()
	defer cq.Close()

	expectedErr := errors.New("task failed")
	result, err := cq.Enqueue("test", func(ctx context.Context) (interface{}, error) {
		return nil, expectedErr
	})

	assert.Equal(t, expectedErr, err)
	assert.Nil(t, result)
}

func TestCommandQueue_SerialExecution(t *testing.T) {
	cq := New()
	defer cq.Close()

	var (
		mu      sync.Mutex
		order   []int
		running atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cq.Enqueue("session:a", func(ctx context.Context) (interface{}, error) {
				if running.Add(1) > 1 {
					overlap.Store(true)
				}
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				running.Add(-1)
				return nil, nil
			})
		}()
		// stagger so enqueue order is deterministic
		time.Sleep(time.Millisecond)
	}
	wg.Wait()

	assert.False(t, overlap.Load())
	assert.Len(t, order, 5)
}

func TestCommandQueue_FIFO(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go cq.Enqueue("fifo", func(ctx context.Context) (interface{}, error) {
		close(started)
		<-release
		return nil, nil
	})
	<-started

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cq.Enqueue("fifo", func(ctx context.Context) (interface{}, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			})
		}()
		require.Eventually(t, func() bool { return cq.QueueSize("fifo") == i+1 }, time.Second, time.Millisecond)
	}

	close(release)
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestCommandQueue_ConcurrentLanes(t *testing.T) {
	cq := New()
	defer cq.Close()

	var wg sync.WaitGroup
	inA := make(chan struct{})
	inB := make(chan struct{})

	for lane, mine := range map[string]chan struct{}{"a": inA, "b": inB} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cq.Enqueue(lane, func(ctx context.Context) (interface{}, error) {
				close(mine)
				select {
				case <-inA:
				case <-time.After(time.Second):
				}
				select {
				case <-inB:
				case <-time.After(time.Second):
				}
				return nil, nil
			})
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("lanes did not run concurrently")
	}
}

func TestCommandQueue_ContextCancelWhileQueued(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go cq.Enqueue("lane", func(ctx context.Context) (interface{}, error) {
		close(started)
		<-release
		return nil, nil
	})
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	errCh := make(chan error, 1)
	go func() {
		_, err := cq.EnqueueWithContext(ctx, "lane", func(ctx context.Context) (interface{}, error) {
			ran.Store(true)
			return nil, nil
		})
		errCh <- err
	}()

	require.Eventually(t, func() bool { return cq.QueueSize("lane") == 1 }, time.Second, time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, 0, cq.QueueSize("lane"))

	close(release)
	assert.True(t, cq.WaitForActive(time.Second))
	assert.False(t, ran.Load())
}

func TestCommandQueue_ContextCancelWhileRunning(t *testing.T) {
	cq := New()
	defer cq.Close()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	finished := atomic.Bool{}
	errCh := make(chan error, 1)

	go func() {
		_, err := cq.EnqueueWithContext(ctx, "lane", func(taskCtx context.Context) (interface{}, error) {
			close(started)
			<-taskCtx.Done()
			time.Sleep(10 * time.Millisecond)
			finished.Store(true)
			return nil, taskCtx.Err()
		})
		errCh <- err
	}()

	<-started
	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.True(t, finished.Load(), "started task must be awaited")
}

func TestCommandQueue_ClearLane(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go cq.Enqueue("lane", func(ctx context.Context) (interface{}, error) {
		close(started)
		<-release
		return nil, nil
	})
	<-started

	errCh := make(chan error, 1)
	go func() {
		_, err := cq.Enqueue("lane", func(ctx context.Context) (interface{}, error) { return nil, nil })
		errCh <- err
	}()
	require.Eventually(t, func() bool { return cq.QueueSize("lane") == 1 }, time.Second, time.Millisecond)

	assert.Equal(t, 1, cq.ClearLane("lane"))
	assert.ErrorIs(t, <-errCh, ErrLaneCleared)
	assert.Equal(t, LaneStats{Queued: 0, Running: 1, Concurrency: 1}, cq.Stats()["lane"])

	close(release)
	assert.True(t, cq.WaitForActive(time.Second))
	assert.Equal(t, 0, cq.ClearLane("missing"))
}

func TestCommandQueue_Close(t *testing.T) {
	cq := New()

	started := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		_, err := cq.Enqueue("lane", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})
		errCh <- err
	}()
	<-started

	require.NoError(t, cq.Close())
	assert.ErrorIs(t, <-errCh, context.Canceled)

	_, err := cq.Enqueue("lane", func(ctx context.Context) (interface{}, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.NoError(t, cq.Close())
}
