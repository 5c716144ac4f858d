package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeOperation struct {
	priority  Priority
	cancelled bool
}

func (f *fakeOperation) SetQueuePriority(p Priority) { f.priority = p }
func (f *fakeOperation) Cancel()                     { f.cancelled = true }

type fakeDependency struct {
	priority     Priority
	unsubscribed bool
}

func (f *fakeDependency) Unsubscribe()          { f.unsubscribed = true }
func (f *fakeDependency) SetPriority(p Priority) { f.priority = p }

func TestTaskStarterCalledOnceOnFirstSubscribe(t *testing.T) {
	var calls int
	task := NewTask[int](func(tk *Task[int]) {
		calls++
	})

	sub1 := task.Subscribe(PriorityNormal, func(Event[int]) {})
	sub2 := task.Subscribe(PriorityNormal, func(Event[int]) {})

	assert.NotNil(t, sub1)
	assert.NotNil(t, sub2)
	assert.Equal(t, 1, calls)
}

func TestTaskSendDeliversInSubscribeOrder(t *testing.T) {
	task := NewTask[int](nil)

	var order []string
	task.Subscribe(PriorityNormal, func(Event[int]) { order = append(order, "a") })
	task.Subscribe(PriorityNormal, func(Event[int]) { order = append(order, "b") })
	task.Subscribe(PriorityNormal, func(Event[int]) { order = append(order, "c") })

	task.Send(ProgressEvent[int](1, 2))
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestTaskTerminalValueEventDisposesTask(t *testing.T) {
	task := NewTask[int](nil)

	var received []Event[int]
	task.Subscribe(PriorityNormal, func(e Event[int]) { received = append(received, e) })

	task.Send(ValueEvent(1, true))
	assert.True(t, task.IsDisposed())
	assert.Len(t, received, 1)

	// Sends after disposal are dropped.
	task.Send(ValueEvent(2, true))
	assert.Len(t, received, 1)

	// Subscribing to a disposed task returns nil.
	assert.Nil(t, task.Subscribe(PriorityNormal, func(Event[int]) {}))
}

func TestTaskErrorEventDisposesTask(t *testing.T) {
	task := NewTask[int](nil)
	task.Subscribe(PriorityNormal, func(Event[int]) {})

	task.Send(ErrorEvent[int](errors.New("boom")))
	assert.True(t, task.IsDisposed())
}

func TestTaskPriorityIsMaxOverSubscribers(t *testing.T) {
	task := NewTask[int](nil)
	op := &fakeOperation{}
	task.SetOperation(op)

	subLow := task.Subscribe(PriorityLow, func(Event[int]) {})
	assert.Equal(t, PriorityLow, task.Priority())
	assert.Equal(t, PriorityLow, op.priority)

	subHigh := task.Subscribe(PriorityVeryHigh, func(Event[int]) {})
	assert.Equal(t, PriorityVeryHigh, task.Priority())
	assert.Equal(t, PriorityVeryHigh, op.priority)

	subHigh.Unsubscribe()
	assert.Equal(t, PriorityLow, task.Priority())
	assert.Equal(t, PriorityLow, op.priority)

	subLow.Unsubscribe()
	assert.True(t, task.IsDisposed())
}

func TestTaskUnsubscribeLastCancelsTask(t *testing.T) {
	task := NewTask[int](nil)
	op := &fakeOperation{}
	dep := &fakeDependency{}
	task.SetOperation(op)
	task.SetDependency(dep)

	var cancelledCalled, disposedCalled bool
	task.OnCancelled(func() { cancelledCalled = true })
	task.OnDisposed(func() { disposedCalled = true })

	sub := task.Subscribe(PriorityNormal, func(Event[int]) {})
	sub.Unsubscribe()

	assert.True(t, task.IsDisposed())
	assert.True(t, op.cancelled)
	assert.True(t, dep.unsubscribed)
	assert.True(t, cancelledCalled)
	assert.True(t, disposedCalled)
}

func TestTaskCancelIsIdempotent(t *testing.T) {
	task := NewTask[int](nil)
	op := &fakeOperation{}
	task.SetOperation(op)

	var disposedCount int
	task.OnDisposed(func() { disposedCount++ })

	task.Cancel()
	task.Cancel()

	assert.Equal(t, 1, disposedCount)
	assert.True(t, op.cancelled)
}

func TestTaskOnDisposedRunsImmediatelyIfAlreadyDisposed(t *testing.T) {
	task := NewTask[int](nil)
	task.Cancel()

	var called bool
	task.OnDisposed(func() { called = true })
	assert.True(t, called)
}

func TestTaskSetPriorityViaSubscriptionRecomputesAggregate(t *testing.T) {
	task := NewTask[int](nil)
	op := &fakeOperation{}
	task.SetOperation(op)

	sub := task.Subscribe(PriorityLow, func(Event[int]) {})
	sub.SetPriority(PriorityHigh)

	assert.Equal(t, PriorityHigh, task.Priority())
	assert.Equal(t, PriorityHigh, op.priority)
}
