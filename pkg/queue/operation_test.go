package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBoundedQueueRunsSubmittedOperations(t *testing.T) {
	q := NewBoundedQueue(DefaultConfig(2))
	defer q.Stop()

	var ran int32
	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		op := NewOperation(func(ctx context.Context, finish func()) {
			atomic.AddInt32(&ran, 1)
			wg.Done()
			finish()
		})
		q.Submit(op)
	}

	wg.Wait()
	assert.EqualValues(t, 5, atomic.LoadInt32(&ran))
}

func TestBoundedQueueRespectsConcurrencyCap(t *testing.T) {
	q := NewBoundedQueue(DefaultConfig(2))
	defer q.Stop()

	release := make(chan struct{})
	started := make(chan struct{}, 3)

	for i := 0; i < 3; i++ {
		op := NewOperation(func(ctx context.Context, finish func()) {
			started <- struct{}{}
			<-release
			finish()
		})
		q.Submit(op)
	}

	assert.Eventually(t, func() bool {
		return q.InFlight() == 2
	}, time.Second, 5*time.Millisecond, "only 2 operations should run concurrently")

	// Drain the two "started" signals for the running operations so the
	// channel doesn't block the third once it is admitted.
	<-started
	<-started

	close(release)

	assert.Eventually(t, func() bool {
		return q.InFlight() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestBoundedQueuePrioritizesHighOverLow(t *testing.T) {
	q := NewBoundedQueue(DefaultConfig(1))
	defer q.Stop()

	blockerStarted := make(chan struct{})
	release := make(chan struct{})
	blocker := NewOperation(func(ctx context.Context, finish func()) {
		close(blockerStarted)
		<-release
		finish()
	})
	q.Submit(blocker)
	<-blockerStarted

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	wg.Add(2)

	low := &Operation{
		Priority: 0,
		Start: func(ctx context.Context, finish func()) {
			mu.Lock()
			order = append(order, "low")
			mu.Unlock()
			wg.Done()
			finish()
		},
	}
	high := &Operation{
		Priority: 3,
		Start: func(ctx context.Context, finish func()) {
			mu.Lock()
			order = append(order, "high")
			mu.Unlock()
			wg.Done()
			finish()
		},
	}

	q.Submit(low)
	q.Submit(high)
	close(release)

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"high", "low"}, order)
}

func TestBoundedQueueSkipsCancelledOperation(t *testing.T) {
	q := NewBoundedQueue(DefaultConfig(1))
	defer q.Stop()

	var ran int32
	op := NewOperation(func(ctx context.Context, finish func()) {
		atomic.AddInt32(&ran, 1)
		finish()
	})
	op.Cancel()
	q.Submit(op)

	// Give the worker a chance to pull and discard the cancelled operation,
	// then confirm the queue is still healthy by running a normal operation.
	done := make(chan struct{})
	q.Submit(NewOperation(func(ctx context.Context, finish func()) {
		close(done)
		finish()
	}))
	<-done

	assert.EqualValues(t, 0, atomic.LoadInt32(&ran))
}

func TestBoundedQueueStopWaitsForInFlight(t *testing.T) {
	q := NewBoundedQueue(DefaultConfig(1))

	started := make(chan struct{})
	var finished int32
	q.Submit(NewOperation(func(ctx context.Context, finish func()) {
		close(started)
		time.Sleep(20 * time.Millisecond)
		atomic.StoreInt32(&finished, 1)
		finish()
	}))

	<-started
	q.Stop()
	assert.EqualValues(t, 1, atomic.LoadInt32(&finished))
}

func TestOperationOnCancelHookRunsImmediatelyIfAlreadyCancelled(t *testing.T) {
	op := NewOperation(func(ctx context.Context, finish func()) { finish() })
	op.Cancel()

	var called int32
	op.OnCancel(func() { atomic.AddInt32(&called, 1) })
	assert.EqualValues(t, 1, atomic.LoadInt32(&called))
}

func TestOperationCancelInvokesRegisteredHooksOnce(t *testing.T) {
	op := NewOperation(func(ctx context.Context, finish func()) { finish() })

	var called int32
	op.OnCancel(func() { atomic.AddInt32(&called, 1) })
	op.Cancel()
	op.Cancel()

	assert.EqualValues(t, 1, atomic.LoadInt32(&called))
	assert.True(t, op.IsCancelled())
}
