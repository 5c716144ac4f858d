package pipeline

import (
	"context"
	"sync"

	"github.com/khryptorgraphics/imagepipe/pkg/queue"
)

// opAdapter lets a *queue.Operation satisfy the narrow operation interface
// Task.SetOperation expects, translating between pipeline.Priority and
// queue.Priority so pkg/queue stays independent of pkg/pipeline.
type opAdapter struct{ op *queue.Operation }

func (a opAdapter) SetQueuePriority(p Priority) { a.op.SetQueuePriority(queue.Priority(p)) }
func (a opAdapter) Cancel()                     { a.op.Cancel() }

// submit builds an Operation around start, submits it to q at priority, and
// returns it wrapped for binding to a Task via SetOperation. Used by the
// CPU stages (decode/process/decompress) which have no external
// CancellableHandle to propagate cancellation to — ctx.Done() is enough.
func submit(q *queue.BoundedQueue, priority Priority, start func(ctx context.Context, finish func())) opAdapter {
	op := queue.NewOperation(start)
	op.Priority = queue.Priority(priority)
	q.Submit(op)
	return opAdapter{op: op}
}

// queueOperationHandle is the stage-4 (data loading) flavor of operation:
// it additionally gates dispatch through the rate limiter (spec.md §4.5)
// and, once the DataLoader hands back a CancellableHandle, forwards
// cancellation to it.
type queueOperationHandle struct {
	p  *Pipeline
	op *queue.Operation

	mu          sync.Mutex
	cancellable CancellableHandle
}

// newQueueOperationHandle submits start to q, wrapped so that it only runs
// once the rate limiter admits it (or immediately, if disabled).
func newQueueOperationHandle(p *Pipeline, q *queue.BoundedQueue, priority Priority, start func(ctx context.Context, finish func())) *queueOperationHandle {
	h := &queueOperationHandle{p: p}
	wrapped := func(ctx context.Context, finish func()) {
		if p.cfg.IsRateLimiterEnabled && p.rateLimiter != nil {
			p.rateLimiter.Execute(func() { start(ctx, finish) }, func() bool { return h.op.IsCancelled() })
		} else {
			start(ctx, finish)
		}
	}
	op := queue.NewOperation(wrapped)
	op.Priority = queue.Priority(priority)
	h.op = op
	q.Submit(op)
	return h
}

// bindCancellable records the handle the DataLoader returned once dispatch
// actually started, so a cancel arriving afterwards reaches the transport.
// If the operation was already cancelled by the time dispatch started (a
// race between Cancel and the rate limiter admitting the work), the handle
// is cancelled immediately.
func (h *queueOperationHandle) bindCancellable(c CancellableHandle) {
	h.mu.Lock()
	h.cancellable = c
	alreadyCancelled := h.op.IsCancelled()
	h.mu.Unlock()
	if alreadyCancelled && c != nil {
		c.Cancel()
	}
}

func (h *queueOperationHandle) onCancel(fn func()) { h.op.OnCancel(fn) }

func (h *queueOperationHandle) SetQueuePriority(p Priority) { h.op.SetQueuePriority(queue.Priority(p)) }

func (h *queueOperationHandle) Cancel() {
	h.op.Cancel()
	h.mu.Lock()
	c := h.cancellable
	h.mu.Unlock()
	if c != nil {
		c.Cancel()
	}
}

// stageController is the Task operation for stages 1-3, which resubmit a
// fresh CPU operation to their stage queue on every progressive frame
// rather than holding a single long-lived one. It tracks the operation
// currently in flight (for priority propagation) and a sticky cancelled
// flag (so a stage doesn't start new work after the task was cancelled
// while nothing was in flight).
type stageController struct {
	mu        sync.Mutex
	cancelled bool
	current   *queue.Operation
}

func (c *stageController) setCurrent(op *queue.Operation) {
	c.mu.Lock()
	c.current = op
	c.mu.Unlock()
}

func (c *stageController) IsCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

func (c *stageController) SetQueuePriority(p Priority) {
	c.mu.Lock()
	op := c.current
	c.mu.Unlock()
	if op != nil {
		op.SetQueuePriority(queue.Priority(p))
	}
}

func (c *stageController) Cancel() {
	c.mu.Lock()
	c.cancelled = true
	op := c.current
	c.mu.Unlock()
	if op != nil {
		op.Cancel()
	}
}

// progressiveFrameGate implements the progressive-frame back-pressure rule
// shared by stage 1 (decompression) and stage 2 (processing): while a
// non-final frame's CPU operation is in flight, further non-final frames
// are dropped outright; a final frame cancels the in-flight operation and
// supersedes it (spec.md §4.8.2/§4.8.3).
type progressiveFrameGate struct {
	mu      sync.Mutex
	current *queue.Operation
}

// admit reports whether the caller should proceed with this frame. A
// final frame always proceeds, cancelling and replacing any in-flight
// operation; a non-final frame only proceeds if nothing is in flight.
func (g *progressiveFrameGate) admit(completed bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return true
	}
	if !completed {
		return false
	}
	g.current.Cancel()
	g.current = nil
	return true
}

// start records op as the operation in flight for the frame just admitted.
func (g *progressiveFrameGate) start(op *queue.Operation) {
	g.mu.Lock()
	g.current = op
	g.mu.Unlock()
}

// finish clears the in-flight marker left by start, unless a later frame
// has already replaced it.
func (g *progressiveFrameGate) finish(op *queue.Operation) {
	g.mu.Lock()
	if g.current == op {
		g.current = nil
	}
	g.mu.Unlock()
}

// superseded reports whether op was cancelled out from under an in-flight
// CPU pass by a later final frame — its result must be discarded rather
// than delivered.
func (g *progressiveFrameGate) superseded(op *queue.Operation) bool {
	return op.IsCancelled()
}
