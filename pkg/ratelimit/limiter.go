// Package ratelimit implements the token-bucket admission gate that sits in
// front of network dispatch (spec.md §4.5).
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRate  = 80.0 // requests/sec
	defaultBurst = 25

	minDrainDelay = 15 * time.Millisecond
	maxDrainDelay = 100 * time.Millisecond
)

// Config configures a Limiter. Zero values fall back to the spec defaults.
type Config struct {
	Rate  float64
	Burst int
}

type pendingWork struct {
	work      func()
	cancelled func() bool
}

// Limiter is a token-bucket gate with a FIFO pending queue and a
// deferred-drain timer, matching spec.md §4.5 exactly: bucket math is
// delegated to golang.org/x/time/rate (lazy linear refill on every
// attempt), and the pending-queue/drain-reschedule behavior the spec
// requires — which rate.Limiter alone does not provide — is layered on
// top.
type Limiter struct {
	limiter *rate.Limiter
	rate    float64

	mu      sync.Mutex
	pending []pendingWork
	timer   *time.Timer
}

// New constructs a Limiter. cfg.Rate/cfg.Burst default to 80 req/s and 25
// (spec.md §4.5).
func New(cfg Config) *Limiter {
	r := cfg.Rate
	if r <= 0 {
		r = defaultRate
	}
	b := cfg.Burst
	if b <= 0 {
		b = defaultBurst
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(r), b),
		rate:    r,
	}
}

// Execute attempts to admit work immediately. On success it runs work on
// the calling goroutine's behalf via a synchronous call (callers needing
// async dispatch should wrap work in a goroutine themselves, matching the
// reference's "work" being an already-async closure). On failure, work is
// queued and a deferred drain is scheduled.
//
// cancelled, if non-nil, is polled at drain time; a cancelled pending item
// is discarded without consuming a token (spec.md §4.5).
func (l *Limiter) Execute(work func(), cancelled func() bool) {
	if l.limiter.Allow() {
		work()
		return
	}
	l.mu.Lock()
	l.pending = append(l.pending, pendingWork{work: work, cancelled: cancelled})
	l.scheduleDrainLocked()
	l.mu.Unlock()
}

// delay is ≈ 2.1 × (1000/rate) ms, bounded to [15,100]ms (spec.md §4.5).
func (l *Limiter) delay() time.Duration {
	ms := 2.1 * (1000.0 / l.rate)
	d := time.Duration(ms * float64(time.Millisecond))
	if d < minDrainDelay {
		return minDrainDelay
	}
	if d > maxDrainDelay {
		return maxDrainDelay
	}
	return d
}

// scheduleDrainLocked must be called with l.mu held.
func (l *Limiter) scheduleDrainLocked() {
	if l.timer != nil {
		return
	}
	l.timer = time.AfterFunc(l.delay(), l.drain)
}

// drain pops pending items in FIFO order while the bucket admits them,
// stopping as soon as the bucket is empty; if items remain it reschedules
// itself (spec.md §4.5).
func (l *Limiter) drain() {
	l.mu.Lock()
	l.timer = nil

	for len(l.pending) > 0 {
		item := l.pending[0]
		if item.cancelled != nil && item.cancelled() {
			l.pending = l.pending[1:]
			continue
		}
		if !l.limiter.Allow() {
			break
		}
		l.pending = l.pending[1:]
		work := item.work
		l.mu.Unlock()
		work()
		l.mu.Lock()
	}

	if len(l.pending) > 0 {
		l.scheduleDrainLocked()
	}
	l.mu.Unlock()
}

// Pending returns the current queue depth, for observability.
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}
