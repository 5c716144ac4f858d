package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubProcessor struct {
	id string
}

func (s stubProcessor) Process(ctx context.Context, input ImageContainer, pctx ProcessingContext) (*ImageContainer, error) {
	return &input, nil
}
func (s stubProcessor) Identifier() string         { return s.id }
func (s stubProcessor) HashableIdentifier() string { return s.id }

func TestNewImageRequestDefaults(t *testing.T) {
	r := NewImageRequest("https://example.com/a.jpg")
	assert.Equal(t, "https://example.com/a.jpg", r.Resource.URL)
	assert.Equal(t, "GET", r.Resource.Method)
	assert.Equal(t, PriorityNormal, r.Priority)
	assert.True(t, r.Options.MemoryCacheRead)
	assert.True(t, r.Options.MemoryCacheWrite)
	assert.True(t, r.Options.stores(DataCacheOriginalImageData))
	assert.True(t, r.Options.stores(DataCacheFinalImage))
}

func TestWithProcessorsAndWithPriorityDoNotMutateReceiver(t *testing.T) {
	base := NewImageRequest("https://example.com/a.jpg")
	withProc := base.WithProcessors([]Processor{stubProcessor{id: "resize"}})
	withPrio := base.WithPriority(PriorityHigh)

	assert.Empty(t, base.Processors)
	assert.Equal(t, PriorityNormal, base.Priority)
	assert.Len(t, withProc.Processors, 1)
	assert.Equal(t, PriorityHigh, withPrio.Priority)
}

func TestFinalImageMemoryCacheKeyHonorsOverride(t *testing.T) {
	r := NewImageRequest("https://example.com/a.jpg")
	r.Options.CacheKeyOverride = "custom-key"
	assert.Equal(t, "custom-key", r.FinalImageMemoryCacheKey())
}

func TestFinalImageMemoryCacheKeyComposesProcessors(t *testing.T) {
	r := NewImageRequest("https://example.com/a.jpg").WithProcessors([]Processor{
		stubProcessor{id: "resize"},
		stubProcessor{id: "blur"},
	})
	assert.Equal(t, "https://example.com/a.jpg|resize,blur", r.FinalImageMemoryCacheKey())
}

func TestFinalImageDataCacheKeyIgnoresCacheKeyOverride(t *testing.T) {
	r := NewImageRequest("https://example.com/a.jpg").WithProcessors([]Processor{stubProcessor{id: "resize"}})
	r.Options.CacheKeyOverride = "custom-key"
	assert.Equal(t, "https://example.com/a.jpgresize", r.FinalImageDataCacheKey())
}

func TestOriginalImageDataCacheKeyIsURLOnly(t *testing.T) {
	withProc := NewImageRequest("https://example.com/a.jpg").WithProcessors([]Processor{stubProcessor{id: "resize"}})
	withoutProc := NewImageRequest("https://example.com/a.jpg")
	assert.Equal(t, withoutProc.OriginalImageDataCacheKey(), withProc.OriginalImageDataCacheKey())
	assert.Equal(t, "https://example.com/a.jpg", withProc.OriginalImageDataCacheKey())
}

func TestOriginalLoadKeyVariesWithCachePolicyAndCellular(t *testing.T) {
	base := NewImageRequest("https://example.com/a.jpg")
	reload := base
	reload.Options.CachePolicy = CachePolicyReload

	assert.NotEqual(t, base.OriginalLoadKey(), reload.OriginalLoadKey())

	cellular := base
	cellular.Resource.AllowsCellularAccess = true
	assert.NotEqual(t, base.OriginalLoadKey(), cellular.OriginalLoadKey())
}

func TestLoadKeyOverrideAppliesToBothLoadKeys(t *testing.T) {
	r := NewImageRequest("https://example.com/a.jpg")
	r.Options.LoadKeyOverride = "shared-key"
	assert.Equal(t, "shared-key", r.ProcessedLoadKey())
	assert.Equal(t, "shared-key", r.OriginalLoadKey())
}

func TestWithoutLastProcessorPopsTail(t *testing.T) {
	r := NewImageRequest("https://example.com/a.jpg").WithProcessors([]Processor{
		stubProcessor{id: "resize"},
		stubProcessor{id: "blur"},
	})

	shortened, popped := r.withoutLastProcessor()
	assert.Equal(t, "blur", popped.Identifier())
	assert.Len(t, shortened.Processors, 1)
	assert.Equal(t, "resize", shortened.Processors[0].Identifier())

	empty := NewImageRequest("https://example.com/a.jpg")
	shortened, popped = empty.withoutLastProcessor()
	assert.Nil(t, popped)
	assert.Empty(t, shortened.Processors)
}

func TestPreferredURLHonorsFilteredURL(t *testing.T) {
	r := NewImageRequest("https://example.com/a.jpg")
	r.Options.FilteredURL = "https://example.com/a.jpg?token=abc"
	assert.Equal(t, "https://example.com/a.jpg?token=abc", r.preferredURL())
}
