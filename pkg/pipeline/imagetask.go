package pipeline

import "context"

// ImageTask is the per-caller handle returned by LoadImage (spec.md §4.8.1,
// §6). Multiple ImageTasks for equivalent requests may share a single
// underlying Task via the dedup pools; each ImageTask only owns its own
// Subscription.
type ImageTask struct {
	p    *Pipeline
	sub  *Subscription[ImageResponse]
	task *Task[ImageResponse]
}

// ImageHandlers bundles the callbacks LoadImage invokes, all on the
// pipeline's own goroutine: any number of OnPreview/OnProgress calls, then
// exactly one of OnComplete or OnError (spec.md §4.1, §6). Every field is
// optional.
type ImageHandlers struct {
	OnPreview  func(ImageResponse)
	OnProgress func(completed, total int64)
	OnComplete func(ImageResponse)
	OnError    func(error)
}

// LoadImage starts (or joins) the four-stage graph for req and returns a
// handle the caller uses to cancel or reprioritize it.
func (p *Pipeline) LoadImage(req ImageRequest, h ImageHandlers) *ImageTask {
	if len(req.Processors) == 0 && len(p.cfg.DefaultProcessors) > 0 {
		req = req.WithProcessors(p.cfg.DefaultProcessors)
	}
	handle := &ImageTask{p: p}
	p.runSync(func() {
		task := p.decompressedTask(req)
		handle.task = task
		sub := task.Subscribe(req.Priority, func(ev Event[ImageResponse]) {
			switch ev.Kind {
			case EventProgress:
				if h.OnProgress != nil {
					h.OnProgress(ev.Completed, ev.Total)
				}
			case EventValue:
				if ev.IsCompleted {
					if h.OnComplete != nil {
						h.OnComplete(ev.Value)
					}
				} else if h.OnPreview != nil {
					h.OnPreview(ev.Value)
				}
			case EventError:
				if h.OnError != nil {
					h.OnError(ev.Err)
				}
			}
		})
		handle.sub = sub
	})
	return handle
}

// LoadData starts (or joins) the stage-4-only graph for req — the raw
// origin bytes without decoding (spec.md §6's data-only load path).
func (p *Pipeline) LoadData(req ImageRequest, onProgress func(completed, total int64), onComplete func(DataResult), onError func(error)) *DataTask {
	handle := &DataTask{p: p}
	p.runSync(func() {
		task := p.originalDataTask(req)
		handle.task = task
		sub := task.Subscribe(req.Priority, func(ev Event[DataResult]) {
			switch ev.Kind {
			case EventProgress:
				if onProgress != nil {
					onProgress(ev.Completed, ev.Total)
				}
			case EventValue:
				// stage 4 now emits non-terminal value events for in-flight
				// chunks so stage 3 can decode progressively; a raw data
				// caller only cares about the final, complete byte slice.
				if ev.IsCompleted && onComplete != nil {
					onComplete(ev.Value)
				}
			case EventError:
				if onError != nil {
					onError(ev.Err)
				}
			}
		})
		handle.sub = sub
	})
	return handle
}

// Cancel unsubscribes this caller from the task; if it was the task's last
// subscriber, the whole chain is cancelled (spec.md §4.1).
func (it *ImageTask) Cancel() {
	if it.sub == nil {
		return
	}
	it.p.run(func() { it.sub.Unsubscribe() })
}

// SetPriority updates this caller's subscription priority; the task's
// aggregate priority (and everything it depends on) is recomputed as the
// max across all live subscribers (spec.md §4.1).
func (it *ImageTask) SetPriority(p Priority) {
	if it.sub == nil {
		return
	}
	it.p.run(func() { it.sub.SetPriority(p) })
}

// DataTask is the LoadData counterpart of ImageTask.
type DataTask struct {
	p    *Pipeline
	sub  *Subscription[DataResult]
	task *Task[DataResult]
}

func (dt *DataTask) Cancel() {
	if dt.sub == nil {
		return
	}
	dt.p.run(func() { dt.sub.Unsubscribe() })
}

func (dt *DataTask) SetPriority(p Priority) {
	if dt.sub == nil {
		return
	}
	dt.p.run(func() { dt.sub.SetPriority(p) })
}

// CachedImage returns the in-memory cached container for req, if any,
// without starting a load (spec.md §6's synchronous cache-only accessor).
func (p *Pipeline) CachedImage(req ImageRequest) (ImageContainer, bool) {
	return p.memCache.Get(req.FinalImageMemoryCacheKey())
}

// RemoveCachedImage purges req's entry from every cache layer — the
// memory cache, both disk-cache keys, and the remote cache — so a caller
// that believes it invalidated a URL can't still get a stale hit on the
// next load (spec.md §6).
func (p *Pipeline) RemoveCachedImage(req ImageRequest) {
	p.memCache.Remove(req.FinalImageMemoryCacheKey())
	if p.finalImageCache != nil {
		p.finalImageCache.Remove(req.FinalImageDataCacheKey())
	}
	if p.originalDataCache != nil {
		p.originalDataCache.Remove(req.OriginalImageDataCacheKey())
	}
	if p.remoteCache != nil {
		_ = p.remoteCache.Remove(context.Background(), req.FinalImageDataCacheKey())
		_ = p.remoteCache.Remove(context.Background(), req.OriginalImageDataCacheKey())
	}
}
