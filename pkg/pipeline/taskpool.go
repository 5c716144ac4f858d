package pipeline

import "sync"

// TaskPool coalesces equivalent tasks by key, so N concurrent callers for
// the same logical work share one Task (spec.md §4.2).
type TaskPool[T any] struct {
	mu           sync.Mutex
	dedupEnabled bool
	tasks        map[string]*Task[T]
}

// NewTaskPool constructs a pool. When dedupEnabled is false, every lookup
// returns a fresh, un-pooled Task (spec.md §4.2, and the
// isDeduplicationEnabled option of spec.md §6).
func NewTaskPool[T any](dedupEnabled bool) *TaskPool[T] {
	return &TaskPool[T]{
		dedupEnabled: dedupEnabled,
		tasks:        make(map[string]*Task[T]),
	}
}

// GetOrCreate returns the live task for key, or creates one via makeTask
// and registers it for dedup (spec.md §4.2). makeTask must not itself call
// back into the pool, for any key (it would deadlock on mu); task
// construction only needs to return a not-yet-started Task.
func (p *TaskPool[T]) GetOrCreate(key string, makeTask func() *Task[T]) *Task[T] {
	if !p.dedupEnabled {
		return makeTask()
	}

	p.mu.Lock()
	if existing, ok := p.tasks[key]; ok {
		p.mu.Unlock()
		return existing
	}
	task := makeTask()
	p.tasks[key] = task
	p.mu.Unlock()

	// Guard against replacement races: only remove the map entry if it
	// still points at this exact task (spec.md §4.2).
	task.OnDisposed(func() {
		p.mu.Lock()
		if p.tasks[key] == task {
			delete(p.tasks, key)
		}
		p.mu.Unlock()
	})
	return task
}

// Len reports the number of live, deduplicated tasks — for tests and
// observability.
func (p *TaskPool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}
