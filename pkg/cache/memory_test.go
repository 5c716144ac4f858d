package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryCacheGetPutRemove(t *testing.T) {
	c := NewMemoryCache[string](MemoryLimits{CostLimit: 100})

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Put("a", "value-a", 10)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "value-a", v)
	assert.Equal(t, 10, c.TotalCost())
	assert.Equal(t, 1, c.TotalCount())

	c.Remove("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.TotalCost())
}

func TestMemoryCachePutReplacesCost(t *testing.T) {
	c := NewMemoryCache[string](MemoryLimits{CostLimit: 100})
	c.Put("a", "v1", 10)
	c.Put("a", "v2", 20)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "v2", v)
	assert.Equal(t, 20, c.TotalCost())
	assert.Equal(t, 1, c.TotalCount())
}

func TestMemoryCacheEvictsLRUOnCostLimit(t *testing.T) {
	c := NewMemoryCache[string](MemoryLimits{CostLimit: 20})
	c.Put("a", "va", 10)
	c.Put("b", "vb", 10)
	// Touch "a" so "b" becomes the LRU entry.
	c.Get("a")
	c.Put("c", "vc", 10)

	_, ok := c.Get("b")
	assert.False(t, ok, "b should have been evicted as least-recently-used")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestMemoryCacheEvictsOnCountLimit(t *testing.T) {
	c := NewMemoryCache[string](MemoryLimits{CostLimit: 1000, CountLimit: 2})
	c.Put("a", "va", 1)
	c.Put("b", "vb", 1)
	c.Put("c", "vc", 1)

	assert.Equal(t, 2, c.TotalCount())
	_, ok := c.Get("a")
	assert.False(t, ok, "a should have been evicted once the count limit was exceeded")
}

func TestMemoryCacheRemoveAll(t *testing.T) {
	c := NewMemoryCache[string](MemoryLimits{CostLimit: 1000})
	c.Put("a", "va", 5)
	c.Put("b", "vb", 5)

	c.RemoveAll()
	assert.Equal(t, 0, c.TotalCount())
	assert.Equal(t, 0, c.TotalCost())
}

func TestMemoryCacheTrimToCostAndCount(t *testing.T) {
	c := NewMemoryCache[string](MemoryLimits{CostLimit: 1000})
	c.Put("a", "va", 10)
	c.Put("b", "vb", 10)
	c.Put("c", "vc", 10)

	c.TrimToCost(10)
	assert.LessOrEqual(t, c.TotalCost(), 10)

	c.Put("d", "vd", 10)
	c.Put("e", "ve", 10)
	c.TrimToCount(1)
	assert.Equal(t, 1, c.TotalCount())
}

func TestMemoryCacheOnLowMemory(t *testing.T) {
	c := NewMemoryCache[string](MemoryLimits{CostLimit: 1000})
	c.Put("a", "va", 5)
	c.OnLowMemory()
	assert.Equal(t, 0, c.TotalCount())
}

func TestMemoryCacheOnBackgroundTrimsToTenPercent(t *testing.T) {
	c := NewMemoryCache[string](MemoryLimits{CostLimit: 100, CountLimit: 10})
	for i := 0; i < 10; i++ {
		c.Put(string(rune('a'+i)), "v", 10)
	}
	assert.Equal(t, 10, c.TotalCount())

	c.OnBackground()
	assert.LessOrEqual(t, c.TotalCost(), 10)
	assert.LessOrEqual(t, c.TotalCount(), 1)
}

func TestDefaultCostLimitScalesByPhysicalMemory(t *testing.T) {
	small := DefaultCostLimit(256 * 1024 * 1024)
	assert.Equal(t, int(float64(256*1024*1024)*smallMemoryRatio), small)

	large := DefaultCostLimit(1024 * 1024 * 1024)
	assert.Equal(t, int(float64(1024*1024*1024)*largeMemoryRatio), large)
}

func TestMemoryCacheNegativeCostClampedToZero(t *testing.T) {
	c := NewMemoryCache[string](MemoryLimits{CostLimit: 100})
	c.Put("a", "va", -5)
	assert.Equal(t, 0, c.TotalCost())
}
