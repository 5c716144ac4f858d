package pipeline

import "sync"

// Observer receives the event stream a Task emits. Observers may hop to any
// queue of their choice; the Task itself only guarantees delivery order
// (spec.md §4.1).
type Observer[T any] func(Event[T])

// DependencySubscription is the narrow interface a Task needs from its
// upstream dependency: enough to unsubscribe and to forward priority
// changes, without the dependent Task needing to know the dependency's
// value type (spec.md §3, Task.dependency).
type DependencySubscription interface {
	Unsubscribe()
	SetPriority(Priority)
}

type subscriber[T any] struct {
	id       uint64
	priority Priority
	observer Observer[T]
}

// Task represents a single in-flight logical work unit emitting a stream of
// events to any number of subscribers (spec.md §4.1). Each Task is
// logically confined to its owning Pipeline's single serial queue — all
// mutating methods are additionally mutex-guarded here as defense in depth,
// matching the teacher's pervasive use of mutexes even around
// single-writer state.
type Task[T any] struct {
	mu sync.Mutex

	subscribers map[uint64]*subscriber[T]
	nextSubID   uint64
	priority    Priority

	dependency DependencySubscription

	operation interface {
		SetQueuePriority(Priority)
		Cancel()
	}

	disposed bool

	starter       func(*Task[T])
	starterCalled bool

	onDisposed  func()
	onCancelled func()
}

// NewTask constructs a Task with the given starter, invoked exactly once on
// the first subscribe (spec.md §4.1).
func NewTask[T any](starter func(*Task[T])) *Task[T] {
	return &Task[T]{
		subscribers: make(map[uint64]*subscriber[T]),
		priority:    PriorityNormal,
		starter:     starter,
	}
}

// SetDependency wires this task's upstream subscription so that
// unsubscribe/priority-forwarding cascades (spec.md §4.1, §5).
func (t *Task[T]) SetDependency(dep DependencySubscription) {
	t.mu.Lock()
	t.dependency = dep
	t.mu.Unlock()
}

// SetOperation binds the CPU/IO operation this task's cancellation should
// cancel and whose queue priority tracks this task's aggregate priority.
func (t *Task[T]) SetOperation(op interface {
	SetQueuePriority(Priority)
	Cancel()
}) {
	t.mu.Lock()
	t.operation = op
	t.mu.Unlock()
}

// OnDisposed registers a hook run once, after the task transitions to
// disposed (used by TaskPool to remove the dedup entry).
func (t *Task[T]) OnDisposed(fn func()) {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		fn()
		return
	}
	t.onDisposed = fn
	t.mu.Unlock()
}

// OnCancelled registers a hook run when the task is cancelled specifically
// (before onDisposed, per spec.md §4.1's cancellation sequence).
func (t *Task[T]) OnCancelled(fn func()) {
	t.mu.Lock()
	t.onCancelled = fn
	t.mu.Unlock()
}

// Subscribe registers observer at priority, returning a live Subscription,
// or nil if the task is already disposed (spec.md §4.1). On the first
// subscribe, starter is invoked exactly once and then dropped. If starter
// synchronously terminates the task, Subscribe still returns nil even
// though the observer already received the terminal event via Send.
func (t *Task[T]) Subscribe(priority Priority, observer Observer[T]) *Subscription[T] {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return nil
	}
	id := t.nextSubID
	t.nextSubID++
	t.subscribers[id] = &subscriber[T]{id: id, priority: priority, observer: observer}
	t.recomputePriorityLocked()

	callStarter := !t.starterCalled && t.starter != nil
	if callStarter {
		t.starterCalled = true
	}
	starter := t.starter
	t.starter = nil
	t.mu.Unlock()

	if callStarter && starter != nil {
		starter(t)
	}

	t.mu.Lock()
	disposedNow := t.disposed
	t.mu.Unlock()
	if disposedNow {
		return nil
	}
	return &Subscription[T]{task: t, id: id}
}

// recomputePriorityLocked sets t.priority to the max over live subscribers
// and forwards it to the operation and dependency (spec.md §4.1's
// "priority equals the maximum subscription priority" invariant). Caller
// must hold t.mu.
func (t *Task[T]) recomputePriorityLocked() {
	max := PriorityVeryLow
	for _, s := range t.subscribers {
		max = maxPriority(max, s.priority)
	}
	t.priority = max
	if t.operation != nil {
		t.operation.SetQueuePriority(max)
	}
	if t.dependency != nil {
		t.dependency.SetPriority(max)
	}
}

// Priority returns the task's current aggregate priority.
func (t *Task[T]) Priority() Priority {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.priority
}

// IsDisposed reports whether the task has finished, errored, or been
// cancelled.
func (t *Task[T]) IsDisposed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disposed
}

// Send delivers event to all current subscribers in insertion order,
// ignored once disposed (spec.md §4.1). A terminal event disposes the task
// after delivery.
func (t *Task[T]) Send(event Event[T]) {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	obs := make([]Observer[T], 0, len(t.subscribers))
	ids := make([]uint64, 0, len(t.subscribers))
	for id, s := range t.subscribers {
		ids = append(ids, id)
		obs = append(obs, s.observer)
	}
	terminal := event.IsTerminal()
	t.mu.Unlock()

	// Insertion order: subscriber ids are monotonically increasing, so
	// sort by id to deliver in subscribe order regardless of map
	// iteration order.
	sortSubscriberOrder(ids, obs)
	for _, o := range obs {
		o(event)
	}

	if terminal {
		t.disposeLocked(false)
	}
}

// sortSubscriberOrder is a tiny insertion sort — subscriber counts per task
// are small (a handful of concurrent callers), so O(n^2) is fine and avoids
// pulling in sort for a few elements.
func sortSubscriberOrder[T any](ids []uint64, obs []Observer[T]) {
	for i := 1; i < len(ids); i++ {
		j := i
		for j > 0 && ids[j-1] > ids[j] {
			ids[j-1], ids[j] = ids[j], ids[j-1]
			obs[j-1], obs[j] = obs[j], obs[j-1]
			j--
		}
	}
}

// unsubscribe removes subscriber id; if no subscribers remain, the task is
// cancelled (spec.md §4.1).
func (t *Task[T]) unsubscribe(id uint64) {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	delete(t.subscribers, id)
	empty := len(t.subscribers) == 0
	if !empty {
		t.recomputePriorityLocked()
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	if empty {
		t.disposeLocked(true)
	}
}

func (t *Task[T]) setSubscriberPriority(id uint64, p Priority) {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	if s, ok := t.subscribers[id]; ok {
		s.priority = p
	}
	t.recomputePriorityLocked()
	t.mu.Unlock()
}

// Cancel terminates the task with reason cancelled: cancels the bound
// operation, unsubscribes from the dependency, invokes onCancelled then
// onDisposed. Idempotent (spec.md §4.1, §8 property 10).
func (t *Task[T]) Cancel() {
	t.disposeLocked(true)
}

func (t *Task[T]) disposeLocked(cancelled bool) {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	t.disposed = true
	t.subscribers = make(map[uint64]*subscriber[T])
	op := t.operation
	dep := t.dependency
	onCancelled := t.onCancelled
	onDisposed := t.onDisposed
	t.mu.Unlock()

	if cancelled {
		if op != nil {
			op.Cancel()
		}
		if dep != nil {
			dep.Unsubscribe()
		}
		if onCancelled != nil {
			onCancelled()
		}
	}
	if onDisposed != nil {
		onDisposed()
	}
}

// Subscription is the handle returned by Task.Subscribe (spec.md §4.1).
type Subscription[T any] struct {
	task *Task[T]
	id   uint64
}

// Unsubscribe removes this observer; if it was the last one, the task is
// cancelled.
func (s *Subscription[T]) Unsubscribe() {
	s.task.unsubscribe(s.id)
}

// SetPriority updates this subscriber's priority; the task recomputes its
// aggregate and forwards it to the operation and dependency.
func (s *Subscription[T]) SetPriority(p Priority) {
	s.task.setSubscriberPriority(s.id, p)
}
