// Package pipeline implements the four-stage dependency graph of spec.md
// §4.8 (decompressed image → processed image → original decoded image →
// original image data), wired through TaskPool at each stage, plus the
// Task/TaskPool primitives of spec.md §4.1/§4.2.
package pipeline

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/khryptorgraphics/imagepipe/pkg/cache"
	"github.com/khryptorgraphics/imagepipe/pkg/queue"
	"github.com/khryptorgraphics/imagepipe/pkg/ratelimit"
)

// DataResult is the value stage 4 (original image data) produces.
type DataResult struct {
	Data        []byte
	URLResponse *http.Response
}

// Decompressor performs the platform image-decompression step of
// spec.md §4.8.2. The core ships no concrete implementation (spec.md §1
// Non-goals); if nil, the decompression stage is skipped entirely,
// equivalent to isDecompressionEnabled=false.
type Decompressor interface {
	Decompress(ImageContainer) (ImageContainer, error)
}

// Queues groups the per-stage bounded queues of spec.md §4.6. Callers
// construct these with the concurrency defaults from that table (data
// loading 6, data caching 2, decoding 1, encoding 1, processing 2,
// decompression 2) or override per deployment.
type Queues struct {
	DataLoading    *queue.BoundedQueue
	DataCaching    *queue.BoundedQueue
	Decoding       *queue.BoundedQueue
	Encoding       *queue.BoundedQueue
	Processing     *queue.BoundedQueue
	Decompression  *queue.BoundedQueue
}

// DefaultQueues builds the per-stage queues at the spec.md §4.6 defaults.
func DefaultQueues() *Queues {
	return &Queues{
		DataLoading:   queue.NewBoundedQueue(queue.DefaultConfig(6)),
		DataCaching:   queue.NewBoundedQueue(queue.DefaultConfig(2)),
		Decoding:      queue.NewBoundedQueue(queue.DefaultConfig(1)),
		Encoding:      queue.NewBoundedQueue(queue.DefaultConfig(1)),
		Processing:    queue.NewBoundedQueue(queue.DefaultConfig(2)),
		Decompression: queue.NewBoundedQueue(queue.DefaultConfig(2)),
	}
}

// Stop drains and stops every stage queue.
func (q *Queues) Stop() {
	q.DataLoading.Stop()
	q.DataCaching.Stop()
	q.Decoding.Stop()
	q.Encoding.Stop()
	q.Processing.Stop()
	q.Decompression.Stop()
}

// Pipeline orchestrates the four-stage graph plus cache reads/writes
// (spec.md §4.8). All state is confined to a single serial goroutine (the
// "pipeline queue") per spec.md §5; callers dispatch into it via run/runSync.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	memCache        *cache.MemoryCache[ImageContainer]
	finalImageCache *cache.DiskCache
	originalDataCache *cache.DiskCache
	remoteCache     *cache.RemoteCache
	resumable       *cache.ResumableStore

	rateLimiter *ratelimit.Limiter
	queues      *Queues

	dataLoader DataLoader
	decoders   *DecoderRegistry
	encoder    Encoder
	decompress Decompressor

	decompressedPool *TaskPool[ImageResponse]
	processedPool    *TaskPool[ImageResponse]
	originalDecPool  *TaskPool[ImageResponse]
	originalDataPool *TaskPool[DataResult]

	jobs chan func()
	wg   sync.WaitGroup
	stop chan struct{}
}

// Options bundles the external collaborators and caches a Pipeline needs;
// every field is optional except DataLoader (spec.md §6's required
// external collaborator — without it stage 4 can never produce bytes).
type Options struct {
	Config Config
	Logger *slog.Logger

	MemoryCache       *cache.MemoryCache[ImageContainer]
	FinalImageCache   *cache.DiskCache
	OriginalDataCache *cache.DiskCache
	RemoteCache       *cache.RemoteCache
	Resumable         *cache.ResumableStore

	RateLimiter *ratelimit.Limiter
	Queues      *Queues

	DataLoader DataLoader
	Decoders   *DecoderRegistry
	Encoder    Encoder
	Decompress Decompressor
}

// New constructs a Pipeline and starts its serial queue goroutine.
func New(opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MemoryCache == nil {
		opts.MemoryCache = cache.NewMemoryCache[ImageContainer](cache.MemoryLimits{})
	}
	if opts.Queues == nil {
		opts.Queues = DefaultQueues()
	}
	if opts.Resumable == nil {
		opts.Resumable = cache.NewResumableStore(0)
	}
	if opts.Decoders == nil {
		opts.Decoders = NewDecoderRegistry()
	}

	p := &Pipeline{
		cfg:               opts.Config,
		logger:            opts.Logger,
		memCache:          opts.MemoryCache,
		finalImageCache:   opts.FinalImageCache,
		originalDataCache: opts.OriginalDataCache,
		remoteCache:       opts.RemoteCache,
		resumable:         opts.Resumable,
		rateLimiter:       opts.RateLimiter,
		queues:            opts.Queues,
		dataLoader:        opts.DataLoader,
		decoders:          opts.Decoders,
		encoder:           opts.Encoder,
		decompress:        opts.Decompress,
		decompressedPool:  NewTaskPool[ImageResponse](opts.Config.IsDeduplicationEnabled),
		processedPool:     NewTaskPool[ImageResponse](opts.Config.IsDeduplicationEnabled),
		originalDecPool:   NewTaskPool[ImageResponse](opts.Config.IsDeduplicationEnabled),
		originalDataPool:  NewTaskPool[DataResult](opts.Config.IsDeduplicationEnabled),
		jobs:              make(chan func(), 1024),
		stop:              make(chan struct{}),
	}
	p.wg.Add(1)
	go p.runQueue()
	return p
}

// CacheStats summarizes the pipeline's cache layers for observability
// endpoints (SPEC_FULL.md §4's cache-inspection surface). Disk-cache fields
// are zero-valued when that layer wasn't configured.
type CacheStats struct {
	MemoryEntryCount int
	MemoryTotalCost  int

	FinalImageCache   cache.DiskStats
	OriginalDataCache cache.DiskStats
}

// CacheStats reports a point-in-time snapshot of every configured cache
// layer.
func (p *Pipeline) CacheStats() CacheStats {
	stats := CacheStats{
		MemoryEntryCount: p.memCache.TotalCount(),
		MemoryTotalCost:  p.memCache.TotalCost(),
	}
	if p.finalImageCache != nil {
		stats.FinalImageCache = p.finalImageCache.Stats()
	}
	if p.originalDataCache != nil {
		stats.OriginalDataCache = p.originalDataCache.Stats()
	}
	return stats
}

// Close stops the pipeline queue and the stage queues. In-flight CPU work
// is allowed to finish; its result is discarded (spec.md §5).
func (p *Pipeline) Close() {
	close(p.stop)
	p.wg.Wait()
	p.queues.Stop()
}

func (p *Pipeline) runQueue() {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.jobs:
			job()
		case <-p.stop:
			p.drainRemaining()
			return
		}
	}
}

func (p *Pipeline) drainRemaining() {
	for {
		select {
		case job := <-p.jobs:
			job()
		default:
			return
		}
	}
}

// run enqueues fn onto the pipeline's serial queue (spec.md §5: all Task
// graph mutations happen there) and returns immediately.
func (p *Pipeline) run(fn func()) {
	select {
	case p.jobs <- fn:
	case <-p.stop:
	}
}

// runSync enqueues fn and blocks until it has executed, for call sites that
// need the resulting Task/Subscription handle back (e.g. loadImage).
func (p *Pipeline) runSync(fn func()) {
	done := make(chan struct{})
	p.run(func() {
		fn()
		close(done)
	})
	<-done
}

