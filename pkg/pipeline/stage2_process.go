package pipeline

import (
	"context"

	"github.com/khryptorgraphics/imagepipe/pkg/queue"
)

// processedTask returns the (possibly shared) stage-2 task applying req's
// processor chain (spec.md §4.8.3). When req has processors, the task
// recursively depends on the task for req with its last processor popped
// (deduplicating the shared prefix across requests that share the same
// leading processors), bottoming out on the stage-3 decode task once the
// chain is empty.
func (p *Pipeline) processedTask(req ImageRequest) *Task[ImageResponse] {
	key := req.ProcessedLoadKey()
	return p.processedPool.GetOrCreate(key, func() *Task[ImageResponse] {
		return NewTask[ImageResponse](func(t *Task[ImageResponse]) {
			p.startProcessing(t, req)
		})
	})
}

func (p *Pipeline) startProcessing(t *Task[ImageResponse], req ImageRequest) {
	if p.tryFinalImageDiskCache(t, req) {
		return
	}
	p.startProcessingFromOrigin(t, req)
}

// tryFinalImageDiskCache is the stage-2 disk-cache check of spec.md
// §4.8.3: the processed image (keyed by URL+processor chain) may already
// be on disk even when nothing is in the memory cache. A decode failure or
// missing decoder falls back to the normal origin path rather than
// failing the request outright.
func (p *Pipeline) tryFinalImageDiskCache(t *Task[ImageResponse], req ImageRequest) bool {
	if p.finalImageCache == nil || req.Options.CachePolicy == CachePolicyReload {
		return false
	}
	if !req.Options.stores(DataCacheFinalImage) {
		return false
	}
	data, ok := p.finalImageCache.Get(req.FinalImageDataCacheKey())
	if !ok {
		return false
	}
	decoder := p.decoders.Decoder(DecoderContext{Request: &req, Data: data, IsCompleted: true})
	if decoder == nil {
		return false
	}

	ctrl := &stageController{}
	t.SetOperation(ctrl)
	op := queue.NewOperation(func(ctx context.Context, finish func()) {
		defer finish()
		result, err := decoder.Decode(data, nil, true)
		p.run(func() {
			if err != nil || result == nil {
				p.startProcessingFromOrigin(t, req)
				return
			}
			result.Container.Data = data
			t.Send(ValueEvent(*result, true))
		})
	})
	op.Priority = queue.Priority(req.Priority)
	ctrl.setCurrent(op)
	p.queues.Decoding.Submit(op)
	return true
}

func (p *Pipeline) startProcessingFromOrigin(t *Task[ImageResponse], req ImageRequest) {
	if len(req.Processors) == 0 {
		p.bridgeTo(t, p.originalDecodedTask(req), req.Priority)
		return
	}

	ctrl := &stageController{}
	t.SetOperation(ctrl)
	gate := &progressiveFrameGate{}

	base, last := req.withoutLastProcessor()
	upstream := p.processedTask(base)

	sub := upstream.Subscribe(req.Priority, func(ev Event[ImageResponse]) {
		p.run(func() {
			switch ev.Kind {
			case EventProgress:
				t.Send(ProgressEvent[ImageResponse](ev.Completed, ev.Total))
			case EventError:
				t.Send(ErrorEvent[ImageResponse](ev.Err))
			case EventValue:
				if !gate.admit(ev.IsCompleted) {
					return
				}
				p.runProcessor(t, ctrl, gate, req, last, ev.Value, ev.IsCompleted)
			}
		})
	})
	if sub != nil {
		t.SetDependency(sub)
	}
}

// runProcessor submits one processor application to the processing queue.
// A nil result on a final (completed) frame is a processingFailed error
// (spec.md §4.8.3, §7); on a progressive frame it is silently dropped.
// gate enforces that at most one processing op for this task is ever in
// flight: a final frame cancels and replaces whatever non-final op was
// running, and further non-final frames are dropped while one runs.
func (p *Pipeline) runProcessor(t *Task[ImageResponse], ctrl *stageController, gate *progressiveFrameGate, req ImageRequest, proc Processor, input ImageResponse, completed bool) {
	if ctrl.IsCancelled() {
		return
	}
	var op *queue.Operation
	op = queue.NewOperation(func(ctx context.Context, finish func()) {
		defer finish()
		pctx := ProcessingContext{Request: &req, IsFinal: completed, IsPreview: input.Container.IsPreview}
		out, err := proc.Process(ctx, input.Container, pctx)

		p.run(func() {
			gate.finish(op)
			if gate.superseded(op) {
				return
			}
			if err != nil {
				t.Send(ErrorEvent[ImageResponse](newStageError(KindProcessingFailed, proc.Identifier(), err)))
				return
			}
			if out == nil {
				if completed {
					t.Send(ErrorEvent[ImageResponse](newStageError(KindProcessingFailed, proc.Identifier(), nil)))
				}
				return
			}
			t.Send(ValueEvent(ImageResponse{Container: *out, URLResponse: input.URLResponse}, completed))
		})
	})
	op.Priority = queue.Priority(req.Priority)
	gate.start(op)
	ctrl.setCurrent(op)
	p.queues.Processing.Submit(op)
}

// bridgeTo subscribes t to upstream and forwards every event verbatim,
// used where a stage has no transformation of its own to apply (stage 2
// with an empty processor chain just is stage 3).
func (p *Pipeline) bridgeTo(t *Task[ImageResponse], upstream *Task[ImageResponse], priority Priority) {
	sub := upstream.Subscribe(priority, func(ev Event[ImageResponse]) {
		p.run(func() { t.Send(ev) })
	})
	if sub != nil {
		t.SetDependency(sub)
	}
}
