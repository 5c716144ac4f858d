package pipeline

import (
	"net/http"
)

// CachePolicy controls whether stage 2/4 disk-cache reads are consulted.
type CachePolicy int

const (
	CachePolicyDefault CachePolicy = iota
	// CachePolicyReload bypasses disk-cache reads entirely (spec.md §4.8.2
	// step 2, §4.8.5 step 2: "policy isn't reload").
	CachePolicyReload
)

// DataCacheItem names a disk-cache layer a request may read/write.
type DataCacheItem string

const (
	DataCacheOriginalImageData DataCacheItem = "originalImageData"
	DataCacheFinalImage        DataCacheItem = "finalImage"
)

// Resource is either a plain URL or a full HTTP request envelope
// (spec.md §3).
type Resource struct {
	URL                 string
	Method              string
	Header              http.Header
	AllowsCellularAccess bool
}

func (r Resource) absoluteURL() string {
	return r.URL
}

// Options holds the per-request knobs from spec.md §3 and §6.
type Options struct {
	MemoryCacheRead  bool
	MemoryCacheWrite bool
	FilteredURL      string
	CacheKeyOverride string
	LoadKeyOverride  string
	CachePolicy      CachePolicy
	UserInfo         map[string]any

	DataCacheStoredItems map[DataCacheItem]bool
}

// DefaultOptions returns the spec's implicit defaults: both memory-cache
// directions enabled, no overrides, default cache policy, both disk-cache
// layers active.
func DefaultOptions() Options {
	return Options{
		MemoryCacheRead:  true,
		MemoryCacheWrite: true,
		DataCacheStoredItems: map[DataCacheItem]bool{
			DataCacheOriginalImageData: true,
			DataCacheFinalImage:        true,
		},
	}
}

func (o Options) stores(item DataCacheItem) bool {
	if o.DataCacheStoredItems == nil {
		return false
	}
	return o.DataCacheStoredItems[item]
}

// ImageRequest is an immutable value (copy-on-write at the Go level: callers
// get a new value from WithProcessors/WithPriority rather than mutating
// shared state) describing what to fetch and how to transform it
// (spec.md §3).
type ImageRequest struct {
	Resource   Resource
	Processors []Processor
	Priority   Priority
	Options    Options
}

// NewImageRequest builds a request for a bare URL with default options and
// normal priority.
func NewImageRequest(url string) ImageRequest {
	return ImageRequest{
		Resource: Resource{URL: url, Method: http.MethodGet},
		Priority: PriorityNormal,
		Options:  DefaultOptions(),
	}
}

// WithProcessors returns a copy of the request with the given processor
// list, leaving the receiver untouched.
func (r ImageRequest) WithProcessors(processors []Processor) ImageRequest {
	r.Processors = processors
	return r
}

// WithPriority returns a copy with a different priority.
func (r ImageRequest) WithPriority(p Priority) ImageRequest {
	r.Priority = p
	return r
}

// preferredURL is options.filteredURL ?? url-absolute-string (spec.md §3).
func (r ImageRequest) preferredURL() string {
	if r.Options.FilteredURL != "" {
		return r.Options.FilteredURL
	}
	return r.Resource.absoluteURL()
}

// FinalImageMemoryCacheKey is (preferredURL, processor-identifiers) or the
// user override (spec.md §3).
func (r ImageRequest) FinalImageMemoryCacheKey() string {
	if r.Options.CacheKeyOverride != "" {
		return r.Options.CacheKeyOverride
	}
	return r.preferredURL() + "|" + composeIdentifiers(r.Processors)
}

// FinalImageDataCacheKey is preferredURL + composed-processor-identifier
// (spec.md §3). Unlike the memory-cache key it never honors the user
// cache-key override: it must remain derivable from the URL+processors pair
// alone so that stage-2 recursive dedup (spec.md §4.8.3) can compute the
// sub-request's key without access to the original override.
func (r ImageRequest) FinalImageDataCacheKey() string {
	return r.preferredURL() + composeIdentifiers(r.Processors)
}

// OriginalImageDataCacheKey is preferredURL alone (spec.md §3). Spec.md §9
// mandates this stays URL-only — never derived from the full request — so
// that two requests differing only in processors still share the original
// bytes on disk.
func (r ImageRequest) OriginalImageDataCacheKey() string {
	return r.preferredURL()
}

// ProcessedLoadKey is (finalImageCacheKey, originalLoadKey) or the user
// override (spec.md §3). Used to dedup stages 1 and 2.
func (r ImageRequest) ProcessedLoadKey() string {
	if r.Options.LoadKeyOverride != "" {
		return r.Options.LoadKeyOverride
	}
	return r.FinalImageMemoryCacheKey() + "|" + r.OriginalLoadKey()
}

// OriginalLoadKey is (url, cachePolicy, allowsCellularAccess) or the user
// override (spec.md §3). Used to dedup stages 3 and 4.
func (r ImageRequest) OriginalLoadKey() string {
	if r.Options.LoadKeyOverride != "" {
		return r.Options.LoadKeyOverride
	}
	cellular := "0"
	if r.Resource.AllowsCellularAccess {
		cellular = "1"
	}
	policy := "default"
	if r.Options.CachePolicy == CachePolicyReload {
		policy = "reload"
	}
	return r.preferredURL() + "|" + policy + "|" + cellular
}

// withoutLastProcessor returns a copy of the request with its processor
// list shortened by one (the recursive-dedup step of spec.md §4.8.3), and
// the popped processor.
func (r ImageRequest) withoutLastProcessor() (ImageRequest, Processor) {
	if len(r.Processors) == 0 {
		return r, nil
	}
	last := r.Processors[len(r.Processors)-1]
	r.Processors = r.Processors[:len(r.Processors)-1]
	return r, last
}
