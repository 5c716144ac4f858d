package pipeline

// Config is the set of options recognized by the pipeline (spec.md §6).
type Config struct {
	IsDeduplicationEnabled          bool
	IsRateLimiterEnabled            bool
	IsProgressiveDecodingEnabled    bool
	IsResumableDataEnabled          bool
	IsDecompressionEnabled          bool
	IsStoringPreviewsInMemoryCache  bool

	// ProgressTotalIncludesResumed resolves spec.md §9's first open
	// question: whether progress.total counts resumed bytes. Default true
	// (DESIGN.md open-question decision 1).
	ProgressTotalIncludesResumed bool

	// DefaultProcessors are applied when a request carries none
	// (spec.md §6).
	DefaultProcessors []Processor
}

// DefaultConfig turns every feature toggle on except
// IsStoringPreviewsInMemoryCache, and counts resumed bytes in progress totals.
func DefaultConfig() Config {
	return Config{
		IsDeduplicationEnabled:         true,
		IsRateLimiterEnabled:           true,
		IsProgressiveDecodingEnabled:   true,
		IsResumableDataEnabled:         true,
		IsDecompressionEnabled:         true,
		IsStoringPreviewsInMemoryCache: false,
		ProgressTotalIncludesResumed:   true,
	}
}
