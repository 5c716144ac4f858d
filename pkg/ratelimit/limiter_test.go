package ratelimit

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterExecuteAdmitsWithinBurst(t *testing.T) {
	l := New(Config{Rate: 10, Burst: 3})

	var ran int32
	for i := 0; i < 3; i++ {
		l.Execute(func() { atomic.AddInt32(&ran, 1) }, nil)
	}

	assert.EqualValues(t, 3, atomic.LoadInt32(&ran))
	assert.Equal(t, 0, l.Pending())
}

func TestLimiterQueuesBeyondBurstThenDrains(t *testing.T) {
	l := New(Config{Rate: 100, Burst: 1})

	var ran int32
	l.Execute(func() { atomic.AddInt32(&ran, 1) }, nil)
	l.Execute(func() { atomic.AddInt32(&ran, 1) }, nil)

	assert.EqualValues(t, 1, atomic.LoadInt32(&ran), "second call should queue rather than run immediately")

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&ran) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestLimiterSkipsCancelledPendingWork(t *testing.T) {
	l := New(Config{Rate: 100, Burst: 1})

	var ran int32
	l.Execute(func() { atomic.AddInt32(&ran, 1) }, nil) // consumes the only burst token

	cancelled := true
	l.Execute(func() { atomic.AddInt32(&ran, 1) }, func() bool { return cancelled })

	// Give the drain timer a chance to fire; the cancelled item must never run.
	time.Sleep(150 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&ran))
	assert.Equal(t, 0, l.Pending())
}

func TestLimiterPendingReflectsQueueDepth(t *testing.T) {
	l := New(Config{Rate: 1, Burst: 1})
	l.Execute(func() {}, nil)

	l.Execute(func() {}, nil)
	assert.Equal(t, 1, l.Pending())
}
