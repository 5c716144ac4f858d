package pipeline

import (
	"context"

	"github.com/khryptorgraphics/imagepipe/pkg/queue"
)

// decompressedTask is the top-level stage-1 task: a memory-cache check in
// front of stage 2, plus an optional decompression pass and final-image
// disk-cache write behind it (spec.md §4.8.2).
func (p *Pipeline) decompressedTask(req ImageRequest) *Task[ImageResponse] {
	key := req.ProcessedLoadKey()
	return p.decompressedPool.GetOrCreate(key, func() *Task[ImageResponse] {
		return NewTask[ImageResponse](func(t *Task[ImageResponse]) {
			p.startFinalStage(t, req)
		})
	})
}

func (p *Pipeline) startFinalStage(t *Task[ImageResponse], req ImageRequest) {
	if req.Options.MemoryCacheRead && req.Options.CachePolicy != CachePolicyReload {
		if cached, ok := p.memCache.Get(req.FinalImageMemoryCacheKey()); ok {
			t.Send(ValueEvent(ImageResponse{Container: cached}, true))
			return
		}
	}

	ctrl := &stageController{}
	t.SetOperation(ctrl)
	gate := &progressiveFrameGate{}

	upstream := p.processedTask(req)
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
				p.finishFrame(t, ctrl, gate, req, ev.Value, ev.IsCompleted)
			}
		})
	})
	if sub != nil {
		t.SetDependency(sub)
	}
}

// finishFrame runs the optional decompression pass on a frame, then (for a
// completed, non-preview frame) persists it to the memory cache and the
// final-image disk-cache layer (spec.md §4.8.2). gate enforces that at
// most one decompression op for this task is ever in flight: a final
// frame cancels and replaces whatever non-final op was running.
func (p *Pipeline) finishFrame(t *Task[ImageResponse], ctrl *stageController, gate *progressiveFrameGate, req ImageRequest, resp ImageResponse, completed bool) {
	if ctrl.IsCancelled() {
		return
	}
	needsDecompress := p.cfg.IsDecompressionEnabled && p.decompress != nil && resp.Container.NeedsDecompression
	if !needsDecompress {
		p.deliverFinal(t, req, resp, completed)
		return
	}

	var op *queue.Operation
	op = queue.NewOperation(func(ctx context.Context, finish func()) {
		defer finish()
		out, err := p.decompress.Decompress(resp.Container)
		p.run(func() {
			gate.finish(op)
			if gate.superseded(op) {
				return
			}
			if err != nil {
				t.Send(ErrorEvent[ImageResponse](err))
				return
			}
			out.NeedsDecompression = false
			p.deliverFinal(t, req, ImageResponse{Container: out, URLResponse: resp.URLResponse}, completed)
		})
	})
	op.Priority = queue.Priority(req.Priority)
	gate.start(op)
	ctrl.setCurrent(op)
	p.queues.Decompression.Submit(op)
}

func (p *Pipeline) deliverFinal(t *Task[ImageResponse], req ImageRequest, resp ImageResponse, completed bool) {
	t.Send(ValueEvent(resp, completed))
	if !completed || resp.Container.IsPreview {
		return
	}

	if req.Options.MemoryCacheWrite {
		p.memCache.Put(req.FinalImageMemoryCacheKey(), resp.Container, resp.Container.Image.Cost())
	}
	if p.finalImageCache != nil && p.encoder != nil && req.Options.stores(DataCacheFinalImage) {
		p.cacheFinalImage(req, resp.Container)
	}
}

// cacheFinalImage encodes the processed image on the encoding queue, then
// writes it to the final-image disk-cache layer on the data-caching queue
// — two separate stage queues per spec.md §4.6, keeping both the CPU
// encode and the cache write off the pipeline's serial queue.
func (p *Pipeline) cacheFinalImage(req ImageRequest, container ImageContainer) {
	encodeOp := queue.NewOperation(func(ctx context.Context, finish func()) {
		defer finish()
		data, err := p.encoder.Encode(container, EncodingContext{Request: &req})
		if err != nil || data == nil {
			return
		}
		writeOp := queue.NewOperation(func(ctx context.Context, finish func()) {
			defer finish()
			p.finalImageCache.Put(req.FinalImageDataCacheKey(), data)
			if p.remoteCache != nil {
				_ = p.remoteCache.Put(context.Background(), req.FinalImageDataCacheKey(), data)
			}
		})
		writeOp.Priority = queue.Priority(req.Priority)
		p.queues.DataCaching.Submit(writeOp)
	})
	encodeOp.Priority = queue.Priority(req.Priority)
	p.queues.Encoding.Submit(encodeOp)
}
