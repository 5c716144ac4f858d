package pipeline

import (
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/imagepipe/pkg/cache"
)

type fakeCancellable struct{ cancelled int32 }

func (f *fakeCancellable) Cancel() { atomic.StoreInt32(&f.cancelled, 1) }

type fakeDataLoader struct {
	calls int32
	data  []byte
}

func (f *fakeDataLoader) LoadData(req *ImageRequest, onData func(DataChunk), onFinish func(error)) CancellableHandle {
	atomic.AddInt32(&f.calls, 1)
	go func() {
		onData(DataChunk{Data: f.data, Response: &http.Response{StatusCode: 200}})
		onFinish(nil)
	}()
	return &fakeCancellable{}
}

type fakeDecoder struct{ calls int32 }

func (f *fakeDecoder) Decode(data []byte, resp *http.Response, isCompleted bool) (*ImageResponse, error) {
	atomic.AddInt32(&f.calls, 1)
	if !isCompleted {
		return nil, nil
	}
	return &ImageResponse{
		Container: ImageContainer{
			Image: &Image{Width: 2, Height: 2, BytesPerRow: 8},
			Data:  data,
		},
	}, nil
}

type fakeEncoder struct{}

func (fakeEncoder) Encode(container ImageContainer, ectx EncodingContext) ([]byte, error) {
	return container.Data, nil
}

func newTestPipeline(t *testing.T, loader DataLoader, decoder Decoder) *Pipeline {
	t.Helper()
	registry := NewDecoderRegistry()
	if decoder != nil {
		registry.Register(func(DecoderContext) (Decoder, bool) { return decoder, true })
	}

	finalCache, err := cache.NewDiskCache(t.TempDir(), cache.DiskLimits{SizeLimit: 1 << 20, CountLimit: 1000, TrimRatio: 0.7, SweepInterval: time.Hour})
	require.NoError(t, err)
	originalCache, err := cache.NewDiskCache(t.TempDir(), cache.DiskLimits{SizeLimit: 1 << 20, CountLimit: 1000, TrimRatio: 0.7, SweepInterval: time.Hour})
	require.NoError(t, err)

	p := New(Options{
		Config:            DefaultConfig(),
		MemoryCache:       cache.NewMemoryCache[ImageContainer](cache.MemoryLimits{CostLimit: 1 << 20}),
		FinalImageCache:   finalCache,
		OriginalDataCache: originalCache,
		Resumable:         cache.NewResumableStore(0),
		Queues:            DefaultQueues(),
		DataLoader:        loader,
		Decoders:          registry,
		Encoder:           fakeEncoder{},
	})
	t.Cleanup(func() {
		p.Close()
		finalCache.Close()
		originalCache.Close()
	})
	return p
}

func TestPipelineLoadImageHappyPath(t *testing.T) {
	loader := &fakeDataLoader{data: []byte("jpegbytes")}
	decoder := &fakeDecoder{}
	p := newTestPipeline(t, loader, decoder)

	done := make(chan ImageResponse, 1)
	errs := make(chan error, 1)
	p.LoadImage(NewImageRequest("https://example.com/a.jpg"), ImageHandlers{
		OnComplete: func(r ImageResponse) { done <- r },
		OnError:    func(err error) { errs <- err },
	})

	select {
	case r := <-done:
		assert.Equal(t, 2, r.Container.Image.Width)
		assert.Equal(t, []byte("jpegbytes"), r.Container.Data)
	case err := <-errs:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
}

func TestPipelineLoadImageServesFromMemoryCacheOnSecondCall(t *testing.T) {
	loader := &fakeDataLoader{data: []byte("jpegbytes")}
	decoder := &fakeDecoder{}
	p := newTestPipeline(t, loader, decoder)

	req := NewImageRequest("https://example.com/a.jpg")

	first := make(chan struct{})
	p.LoadImage(req, ImageHandlers{OnComplete: func(ImageResponse) { close(first) }})
	select {
	case <-first:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first load")
	}

	second := make(chan ImageResponse, 1)
	p.LoadImage(req, ImageHandlers{OnComplete: func(r ImageResponse) { second <- r }})

	select {
	case r := <-second:
		assert.Equal(t, []byte("jpegbytes"), r.Container.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second load")
	}

	assert.EqualValues(t, 1, atomic.LoadInt32(&loader.calls), "second load should be served from the memory cache without a new fetch")
}

func TestPipelineLoadDataOnlyPath(t *testing.T) {
	loader := &fakeDataLoader{data: []byte("raw-bytes")}
	p := newTestPipeline(t, loader, nil)

	done := make(chan DataResult, 1)
	p.LoadData(NewImageRequest("https://example.com/a.jpg"), nil, func(r DataResult) { done <- r }, nil)

	select {
	case r := <-done:
		assert.Equal(t, []byte("raw-bytes"), r.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for data load")
	}
}

func TestPipelineDecoderNotRegisteredProducesError(t *testing.T) {
	loader := &fakeDataLoader{data: []byte("raw-bytes")}
	p := newTestPipeline(t, loader, nil)

	errs := make(chan error, 1)
	p.LoadImage(NewImageRequest("https://example.com/a.jpg"), ImageHandlers{
		OnError: func(err error) { errs <- err },
	})

	select {
	case err := <-errs:
		var stageErr *StageError
		require.ErrorAs(t, err, &stageErr)
		assert.Equal(t, KindDecoderNotRegistered, stageErr.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error")
	}
}

func TestPipelineCachedImageReturnsMemoryCacheEntry(t *testing.T) {
	loader := &fakeDataLoader{data: []byte("jpegbytes")}
	decoder := &fakeDecoder{}
	p := newTestPipeline(t, loader, decoder)

	req := NewImageRequest("https://example.com/a.jpg")
	_, ok := p.CachedImage(req)
	assert.False(t, ok)

	done := make(chan struct{})
	p.LoadImage(req, ImageHandlers{OnComplete: func(ImageResponse) { close(done) }})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for load")
	}

	container, ok := p.CachedImage(req)
	assert.True(t, ok)
	assert.Equal(t, []byte("jpegbytes"), container.Data)

	p.RemoveCachedImage(req)
	_, ok = p.CachedImage(req)
	assert.False(t, ok)
}

// multiChunkDataLoader delivers its chunks one at a time on their own
// goroutine, each carrying the full expected ContentLength so stage 4 can
// tell when more data is still expected.
type multiChunkDataLoader struct {
	chunks        [][]byte
	contentLength int64
	status        int
}

func (f *multiChunkDataLoader) LoadData(req *ImageRequest, onData func(DataChunk), onFinish func(error)) CancellableHandle {
	go func() {
		for _, c := range f.chunks {
			onData(DataChunk{Data: c, Response: &http.Response{StatusCode: f.status, ContentLength: f.contentLength}})
		}
		onFinish(nil)
	}()
	return &fakeCancellable{}
}

// progressiveDecoder decodes both non-terminal and terminal calls, marking
// non-terminal results as previews, so tests can tell the two apart.
type progressiveDecoder struct {
	partialCalls int32
	finalCalls   int32
}

func (d *progressiveDecoder) Decode(data []byte, resp *http.Response, isCompleted bool) (*ImageResponse, error) {
	if !isCompleted {
		atomic.AddInt32(&d.partialCalls, 1)
		return &ImageResponse{Container: ImageContainer{
			Image:     &Image{Width: 1, Height: 1, BytesPerRow: 4},
			Data:      data,
			IsPreview: true,
		}}, nil
	}
	atomic.AddInt32(&d.finalCalls, 1)
	return &ImageResponse{Container: ImageContainer{
		Image: &Image{Width: 2, Height: 2, BytesPerRow: 8},
		Data:  data,
	}}, nil
}

func TestPipelineProgressiveChunksDecodeBeforeCompletion(t *testing.T) {
	loader := &multiChunkDataLoader{
		chunks:        [][]byte{[]byte("01234567"), []byte("89ABCDEFGHIJ")},
		contentLength: 20,
		status:        http.StatusOK,
	}
	decoder := &progressiveDecoder{}
	p := newTestPipeline(t, loader, decoder)

	previews := make(chan ImageResponse, 4)
	done := make(chan ImageResponse, 1)
	p.LoadImage(NewImageRequest("https://example.com/progressive.jpg"), ImageHandlers{
		OnPreview:  func(r ImageResponse) { previews <- r },
		OnComplete: func(r ImageResponse) { done <- r },
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	assert.Greater(t, atomic.LoadInt32(&decoder.partialCalls), int32(0), "the first chunk should have been decoded progressively, not just buffered")
	assert.EqualValues(t, 1, atomic.LoadInt32(&decoder.finalCalls))
	select {
	case <-previews:
	default:
		t.Fatal("expected at least one OnPreview callback from a progressive decode")
	}
}

func TestPipelineResumableBytesDiscardedOnNon206(t *testing.T) {
	url := "https://example.com/resume.jpg"
	resumable := cache.NewResumableStore(0)
	resumable.Store(url, []byte("STALE-PREFIX-"), &http.Response{
		Header: http.Header{"Accept-Ranges": []string{"bytes"}, "ETag": []string{`"v1"`}},
	})

	loader := &fakeDataLoader{data: []byte("FRESH-FULL-BODY")}
	p := New(Options{
		Config:      DefaultConfig(),
		MemoryCache: cache.NewMemoryCache[ImageContainer](cache.MemoryLimits{CostLimit: 1 << 20}),
		Resumable:   resumable,
		Queues:      DefaultQueues(),
		DataLoader:  loader,
		Decoders:    NewDecoderRegistry(),
	})
	t.Cleanup(p.Close)

	done := make(chan DataResult, 1)
	p.LoadData(NewImageRequest(url), nil, func(r DataResult) { done <- r }, nil)

	select {
	case r := <-done:
		assert.Equal(t, []byte("FRESH-FULL-BODY"), r.Data, "a plain 200 means the server ignored Range; the stale resumed prefix must be discarded")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for data load")
	}
}

// resuming206DataLoader always answers with 206 Partial Content, as a
// server honoring a Range/If-Range resume request would.
type resuming206DataLoader struct{ data []byte }

func (f *resuming206DataLoader) LoadData(req *ImageRequest, onData func(DataChunk), onFinish func(error)) CancellableHandle {
	go func() {
		onData(DataChunk{Data: f.data, Response: &http.Response{StatusCode: http.StatusPartialContent}})
		onFinish(nil)
	}()
	return &fakeCancellable{}
}

func TestPipelineResumableBytesAppendedOn206(t *testing.T) {
	url := "https://example.com/resume2.jpg"
	resumable := cache.NewResumableStore(0)
	resumable.Store(url, []byte("STALE-PREFIX-"), &http.Response{
		Header: http.Header{"Accept-Ranges": []string{"bytes"}, "ETag": []string{`"v1"`}},
	})

	loader := &resuming206DataLoader{data: []byte("TAIL-BYTES")}
	p := New(Options{
		Config:      DefaultConfig(),
		MemoryCache: cache.NewMemoryCache[ImageContainer](cache.MemoryLimits{CostLimit: 1 << 20}),
		Resumable:   resumable,
		Queues:      DefaultQueues(),
		DataLoader:  loader,
		Decoders:    NewDecoderRegistry(),
	})
	t.Cleanup(p.Close)

	done := make(chan DataResult, 1)
	p.LoadData(NewImageRequest(url), nil, func(r DataResult) { done <- r }, nil)

	select {
	case r := <-done:
		assert.Equal(t, []byte("STALE-PREFIX-TAIL-BYTES"), r.Data, "a 206 response means the stored prefix is still valid and should be spliced in")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for data load")
	}
}

func TestPipelineCacheStatsReflectsMemoryCache(t *testing.T) {
	loader := &fakeDataLoader{data: []byte("jpegbytes")}
	decoder := &fakeDecoder{}
	p := newTestPipeline(t, loader, decoder)

	before := p.CacheStats()
	assert.Equal(t, 0, before.MemoryEntryCount)

	done := make(chan struct{})
	p.LoadImage(NewImageRequest("https://example.com/a.jpg"), ImageHandlers{OnComplete: func(ImageResponse) { close(done) }})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for load")
	}

	after := p.CacheStats()
	assert.Equal(t, 1, after.MemoryEntryCount)
	assert.Greater(t, after.MemoryTotalCost, 0)
}
