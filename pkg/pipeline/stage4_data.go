package pipeline

import (
	"context"
	"net/http"

	"github.com/khryptorgraphics/imagepipe/pkg/cache"
)

// originalDataTask returns the (possibly shared) stage-4 task producing the
// raw origin bytes for req (spec.md §4.8.5). Callers must invoke this on
// the pipeline's serial queue.
func (p *Pipeline) originalDataTask(req ImageRequest) *Task[DataResult] {
	key := req.OriginalLoadKey()
	return p.originalDataPool.GetOrCreate(key, func() *Task[DataResult] {
		return NewTask[DataResult](func(t *Task[DataResult]) {
			p.startOriginalDataLoad(t, req)
		})
	})
}

// startOriginalDataLoad implements spec.md §4.8.5: disk/remote cache
// check (unless policy is reload), resumable-data request-header
// injection, rate-limited dispatch to the DataLoader, and resumable-data
// storage on cancel/failure.
func (p *Pipeline) startOriginalDataLoad(t *Task[DataResult], req ImageRequest) {
	cacheKey := req.OriginalImageDataCacheKey()
	checkCache := req.Options.stores(DataCacheOriginalImageData) && req.Options.CachePolicy != CachePolicyReload

	if checkCache {
		if p.originalDataCache != nil {
			if data, ok := p.originalDataCache.Get(cacheKey); ok {
				t.Send(ValueEvent(DataResult{Data: data}, true))
				return
			}
		}
		if p.remoteCache != nil {
			if data, ok := p.remoteCache.Get(context.Background(), cacheKey); ok {
				if p.originalDataCache != nil {
					p.originalDataCache.Put(cacheKey, data)
				}
				t.Send(ValueEvent(DataResult{Data: data}, true))
				return
			}
		}
	}

	header := make(http.Header, len(req.Resource.Header))
	for k, v := range req.Resource.Header {
		header[k] = append([]string(nil), v...)
	}
	var resumed cache.ResumableData
	resuming := false
	if p.cfg.IsResumableDataEnabled && p.resumable != nil {
		if rd, ok := p.resumable.ApplyRequestHeaders(req.preferredURL(), header); ok {
			resumed = rd
			resuming = true
		}
	}
	reqCopy := req
	reqCopy.Resource.Header = header

	var buf []byte
	var baseline int64
	firstChunk := true
	resumeAccepted := false
	var lastResp *http.Response

	var op *queueOperationHandle
	op = newQueueOperationHandle(p, p.queues.DataLoading, req.Priority, func(ctx context.Context, finish func()) {
		handle := p.dataLoader.LoadData(&reqCopy, func(chunk DataChunk) {
			p.run(func() {
				if firstChunk {
					firstChunk = false
					// Only splice the stored partial body in once the
					// server's response confirms it honored the Range/
					// If-Range request; a plain 200 means it sent the full
					// body, and the stored prefix must be discarded rather
					// than corrupted into it.
					if resuming && chunk.Response != nil && chunk.Response.StatusCode == http.StatusPartialContent {
						resumeAccepted = true
						buf = append(buf, resumed.Bytes...)
						baseline = int64(len(resumed.Bytes))
					}
				}
				buf = append(buf, chunk.Data...)
				lastResp = chunk.Response
				total := baseline
				knownTotal := false
				if chunk.Response != nil && chunk.Response.ContentLength > 0 {
					total = chunk.Response.ContentLength
					if resumeAccepted && p.cfg.ProgressTotalIncludesResumed {
						total += baseline
					}
					knownTotal = true
				}
				t.Send(ProgressEvent[DataResult](int64(len(buf)), total))
				// Forward the chunk as a non-terminal value only while more
				// data is still expected, so stage 3 can decode it
				// progressively (spec.md §4.8.5 step 3). With no usable
				// Content-Length there is no expected total to compare
				// against, so nothing is forwarded until onFinish's
				// terminal value — matching NSURLResponse's
				// expectedContentLength == -1 ("unknown") convention.
				if knownTotal && int64(len(buf)) < total {
					t.Send(ValueEvent(DataResult{Data: buf, URLResponse: chunk.Response}, false))
				}
			})
		}, func(err error) {
			p.run(func() {
				defer finish()
				if err != nil {
					if p.cfg.IsResumableDataEnabled && p.resumable != nil && len(buf) > 0 && lastResp != nil {
						p.resumable.Store(req.preferredURL(), buf, lastResp)
					}
					t.Send(ErrorEvent[DataResult](newStageError(KindDataLoadingFailed, req.preferredURL(), err)))
					return
				}
				if p.resumable != nil {
					p.resumable.Remove(req.preferredURL())
				}
				if req.Options.stores(DataCacheOriginalImageData) {
					if p.originalDataCache != nil {
						p.originalDataCache.Put(cacheKey, buf)
					}
					if p.remoteCache != nil {
						_ = p.remoteCache.Put(context.Background(), cacheKey, buf)
					}
				}
				t.Send(ValueEvent(DataResult{Data: buf, URLResponse: lastResp}, true))
			})
		})
		op.bindCancellable(handle)
	})
	op.onCancel(func() {
		if p.cfg.IsResumableDataEnabled && p.resumable != nil && len(buf) > 0 && lastResp != nil {
			p.resumable.Store(req.preferredURL(), buf, lastResp)
		}
	})
	t.SetOperation(op)
}
