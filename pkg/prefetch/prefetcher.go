// Package prefetch implements the low-priority, cache-only background
// loader of spec.md §4.9: warm the memory/disk caches for URLs the caller
// expects to need soon, without handing back pixels to anyone.
package prefetch

import (
	"context"
	"sync"

	"github.com/khryptorgraphics/imagepipe/pkg/pipeline"
	"github.com/khryptorgraphics/imagepipe/pkg/queue"
)

// DefaultConcurrency is spec.md §4.9's bounded-prefetch-queue default.
const DefaultConcurrency = 2

// Loader is the narrow pipeline capability a Prefetcher needs — just
// enough to start and cancel a load, without depending on pipeline.Pipeline
// directly so tests can substitute a fake.
type Loader interface {
	LoadImage(req pipeline.ImageRequest, h pipeline.ImageHandlers) *pipeline.ImageTask
	CachedImage(req pipeline.ImageRequest) (pipeline.ImageContainer, bool)
}

// prefetchEntry tracks one outstanding prefetch request through the
// bounded queue: it may be sitting in a lane waiting for a worker slot, or
// actually dispatched to the loader, and StopPrefetching must be able to
// cancel it either way.
type prefetchEntry struct {
	mu     sync.Mutex
	op     *queue.Operation
	task   *pipeline.ImageTask
	finish func()
	done   bool
}

func (e *prefetchEntry) markDone() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return
	}
	e.done = true
	if e.finish != nil {
		e.finish()
	}
}

// cancel stops the entry whether it's still queued (Cancel alone keeps
// the queue worker from ever dispatching it) or already running a load
// (Cancel on the ImageTask plus releasing the queue slot, since the
// pipeline never calls OnComplete/OnError for a cancelled task).
func (e *prefetchEntry) cancel() {
	e.op.Cancel()
	e.mu.Lock()
	task := e.task
	e.mu.Unlock()
	if task != nil {
		task.Cancel()
	}
	e.markDone()
}

// Prefetcher tracks in-flight prefetch requests by their final load key, so
// starting the same URL twice is a no-op and a real LoadImage call for an
// already-prefetching URL can raise its priority instead of double-loading
// it (spec.md §4.9). Requests are admitted through a bounded queue
// (default concurrency 2) rather than fired unboundedly.
type Prefetcher struct {
	loader   Loader
	priority pipeline.Priority
	queue    *queue.BoundedQueue

	mu      sync.Mutex
	entries map[string]*prefetchEntry
}

// New constructs a Prefetcher driving loader at the given background
// priority (spec.md §4.9 default: PriorityLow) through a bounded queue.
// concurrency <= 0 falls back to DefaultConcurrency.
func New(loader Loader, priority pipeline.Priority, concurrency int) *Prefetcher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Prefetcher{
		loader:   loader,
		priority: priority,
		queue:    queue.NewBoundedQueue(queue.DefaultConfig(concurrency)),
		entries:  make(map[string]*prefetchEntry),
	}
}

// StartPrefetching submits a bounded-queue slot request for every given
// request not already cached or already prefetching (spec.md §4.9); only
// as many loads as the configured concurrency run at once, the rest wait
// in the queue.
func (pf *Prefetcher) StartPrefetching(requests []pipeline.ImageRequest) {
	for _, req := range requests {
		req = req.WithPriority(pf.priority)
		key := req.FinalImageMemoryCacheKey()

		if _, ok := pf.loader.CachedImage(req); ok {
			continue
		}

		pf.mu.Lock()
		_, inFlight := pf.entries[key]
		pf.mu.Unlock()
		if inFlight {
			continue
		}

		entry := &prefetchEntry{}
		var op *queue.Operation
		op = queue.NewOperation(func(ctx context.Context, finish func()) {
			entry.mu.Lock()
			if entry.done {
				entry.mu.Unlock()
				finish()
				return
			}
			entry.finish = finish
			task := pf.loader.LoadImage(req, pipeline.ImageHandlers{
				OnComplete: func(pipeline.ImageResponse) { entry.markDone(); pf.finish(key) },
				OnError:    func(error) { entry.markDone(); pf.finish(key) },
			})
			entry.task = task
			entry.mu.Unlock()
		})
		op.Priority = queue.Priority(req.Priority)
		entry.op = op

		pf.mu.Lock()
		pf.entries[key] = entry
		pf.mu.Unlock()

		pf.queue.Submit(op)
	}
}

// StopPrefetching cancels any in-flight or still-queued prefetch for the
// given requests that a subsequent StartPrefetching call hasn't already
// completed (spec.md §4.9 — e.g. a scrolled-away collection view row).
func (pf *Prefetcher) StopPrefetching(requests []pipeline.ImageRequest) {
	for _, req := range requests {
		key := req.FinalImageMemoryCacheKey()
		pf.mu.Lock()
		entry, ok := pf.entries[key]
		if ok {
			delete(pf.entries, key)
		}
		pf.mu.Unlock()
		if ok {
			entry.cancel()
		}
	}
}

func (pf *Prefetcher) finish(key string) {
	pf.mu.Lock()
	delete(pf.entries, key)
	pf.mu.Unlock()
}

// InFlight reports the number of prefetch requests currently outstanding
// (queued or dispatched), for tests and observability.
func (pf *Prefetcher) InFlight() int {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	return len(pf.entries)
}
