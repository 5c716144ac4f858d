package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/khryptorgraphics/imagepipe/internal/config"
	"github.com/khryptorgraphics/imagepipe/pkg/cache"
	"github.com/khryptorgraphics/imagepipe/pkg/pipeline"
	"github.com/khryptorgraphics/imagepipe/pkg/queue"
	"github.com/khryptorgraphics/imagepipe/pkg/ratelimit"
)

const shutdownTimeout = 15 * time.Second

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(configFile)
}

// buildPipeline wires a Pipeline from cfg using the net/http DataLoader,
// exactly what both "serve" and "prefetch" need; "cache stats"/"cache
// purge" build the disk caches directly without a full Pipeline.
func buildPipeline(cfg *config.Config, logger *slog.Logger) (*pipeline.Pipeline, error) {
	finalImageCache, err := cache.NewDiskCache(cfg.DiskCache.Directory+"/final", cache.DiskLimits{
		SizeLimit:     cfg.DiskCache.SizeLimit,
		CountLimit:    cfg.DiskCache.CountLimit,
		TrimRatio:     cfg.DiskCache.TrimRatio,
		SweepInterval: cfg.DiskCache.SweepInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open final image disk cache: %w", err)
	}

	originalDataCache, err := cache.NewDiskCache(cfg.DiskCache.Directory+"/original", cache.DiskLimits{
		SizeLimit:     cfg.DiskCache.SizeLimit,
		CountLimit:    cfg.DiskCache.CountLimit,
		TrimRatio:     cfg.DiskCache.TrimRatio,
		SweepInterval: cfg.DiskCache.SweepInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open original data disk cache: %w", err)
	}

	memLimits := cache.MemoryLimits{CostLimit: cfg.MemoryCache.CostLimit, CountLimit: cfg.MemoryCache.CountLimit}

	var limiter *ratelimit.Limiter
	if cfg.Pipeline.IsRateLimiterEnabled {
		limiter = ratelimit.New(ratelimit.Config{Rate: cfg.RateLimit.RequestsPerSecond, Burst: cfg.RateLimit.Burst})
	}

	queues := &pipeline.Queues{
		DataLoading:   queue.NewBoundedQueue(queue.DefaultConfig(cfg.Queue.DataLoading)),
		DataCaching:   queue.NewBoundedQueue(queue.DefaultConfig(cfg.Queue.DataCaching)),
		Decoding:      queue.NewBoundedQueue(queue.DefaultConfig(cfg.Queue.Decoding)),
		Encoding:      queue.NewBoundedQueue(queue.DefaultConfig(cfg.Queue.Encoding)),
		Processing:    queue.NewBoundedQueue(queue.DefaultConfig(cfg.Queue.Processing)),
		Decompression: queue.NewBoundedQueue(queue.DefaultConfig(cfg.Queue.Decompression)),
	}

	pl := pipeline.New(pipeline.Options{
		Config: pipeline.Config{
			IsDeduplicationEnabled:         cfg.Pipeline.IsDeduplicationEnabled,
			IsRateLimiterEnabled:           cfg.Pipeline.IsRateLimiterEnabled,
			IsProgressiveDecodingEnabled:   cfg.Pipeline.IsProgressiveDecodingEnabled,
			IsResumableDataEnabled:         cfg.Pipeline.IsResumableDataEnabled,
			IsDecompressionEnabled:         cfg.Pipeline.IsDecompressionEnabled,
			IsStoringPreviewsInMemoryCache: cfg.Pipeline.IsStoringPreviewsInMemoryCache,
			ProgressTotalIncludesResumed:   true,
		},
		Logger:            logger,
		MemoryCache:       cache.NewMemoryCache[pipeline.ImageContainer](memLimits),
		FinalImageCache:   finalImageCache,
		OriginalDataCache: originalDataCache,
		Resumable:         cache.NewResumableStore(0),
		RateLimiter:       limiter,
		Queues:            queues,
		DataLoader:        newHTTPDataLoader(),
	})

	return pl, nil
}
