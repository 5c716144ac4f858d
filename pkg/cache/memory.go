package cache

import (
	"runtime"
	"sync"
)

const (
	smallPhysicalMemory = 512 * 1024 * 1024 // 512 MiB
	smallMemoryRatio    = 0.1
	largeMemoryRatio    = 0.2

	maxInt = int(^uint(0) >> 1)
)

// MemoryLimits is the pair of caps MemoryCache enforces (spec.md §4.3).
type MemoryLimits struct {
	CostLimit  int
	CountLimit int // 0 means unbounded, the spec default
}

// DefaultCostLimit implements spec.md §4.3's default:
// min(physicalMemory × ratio, INT_MAX), ratio 0.1 below 512MiB else 0.2.
// physicalMemory, when <= 0, is read from runtime.MemStats.Sys as the best
// stdlib-only proxy available (no third-party memory-introspection library
// appears anywhere in the pack).
func DefaultCostLimit(physicalMemory uint64) int {
	if physicalMemory == 0 {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		physicalMemory = ms.Sys
	}
	ratio := largeMemoryRatio
	if physicalMemory <= smallPhysicalMemory {
		ratio = smallMemoryRatio
	}
	limit := float64(physicalMemory) * ratio
	if limit > float64(maxInt) {
		return maxInt
	}
	return int(limit)
}

// MemoryCache is an LRU map with cost and count caps, keyed by request
// fingerprint (spec.md §4.3). Generic over the container type so this
// package has no dependency on pkg/pipeline.
type MemoryCache[T any] struct {
	mu      sync.Mutex
	limits  MemoryLimits
	nodes   map[string]*lruNode[T]
	list    lruList[T]
	total   int
}

// NewMemoryCache constructs a cache with the given limits. A zero
// CountLimit means unbounded, per spec.md §4.3's stated default.
func NewMemoryCache[T any](limits MemoryLimits) *MemoryCache[T] {
	if limits.CostLimit <= 0 {
		limits.CostLimit = DefaultCostLimit(0)
	}
	return &MemoryCache[T]{
		limits: limits,
		nodes:  make(map[string]*lruNode[T]),
	}
}

// Get returns the entry for key, moving it to MRU. The zero value and
// false are returned on a miss.
func (c *MemoryCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[key]
	if !ok {
		var zero T
		return zero, false
	}
	c.list.moveToFront(n)
	return n.value, true
}

// Put inserts value under key with the given cost, replacing any existing
// entry for that key, then trims to the configured limits (spec.md §4.3).
func (c *MemoryCache[T]) Put(key string, value T, cost int) {
	if cost < 0 {
		cost = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.nodes[key]; ok {
		c.total -= existing.cost
		c.list.remove(existing)
		delete(c.nodes, key)
	}
	n := &lruNode[T]{key: key, value: value, cost: cost}
	c.nodes[key] = n
	c.list.pushFront(n)
	c.total += cost
	c.trimLocked()
}

// Remove evicts key, if present.
func (c *MemoryCache[T]) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[key]
	if !ok {
		return
	}
	c.total -= n.cost
	c.list.remove(n)
	delete(c.nodes, key)
}

// RemoveAll drops every entry (e.g. on a low-memory signal, spec.md §4.3).
func (c *MemoryCache[T]) RemoveAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes = make(map[string]*lruNode[T])
	c.list = lruList[T]{}
	c.total = 0
}

// TrimToCost evicts LRU entries until total cost is <= toCost.
func (c *MemoryCache[T]) TrimToCost(toCost int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.total > toCost && c.list.tail != nil {
		c.evictTailLocked()
	}
}

// TrimToCount evicts LRU entries until the entry count is <= toCount.
func (c *MemoryCache[T]) TrimToCount(toCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.nodes) > toCount && c.list.tail != nil {
		c.evictTailLocked()
	}
}

// TotalCost reports the current summed cost.
func (c *MemoryCache[T]) TotalCost() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// TotalCount reports the current live entry count.
func (c *MemoryCache[T]) TotalCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.nodes)
}

// trimLocked enforces both limits after a Put; c.mu must be held.
func (c *MemoryCache[T]) trimLocked() {
	for c.total > c.limits.CostLimit && c.list.tail != nil {
		c.evictTailLocked()
	}
	if c.limits.CountLimit > 0 {
		for len(c.nodes) > c.limits.CountLimit && c.list.tail != nil {
			c.evictTailLocked()
		}
	}
}

func (c *MemoryCache[T]) evictTailLocked() {
	tail := c.list.tail
	c.total -= tail.cost
	c.list.remove(tail)
	delete(c.nodes, tail.key)
}

// OnLowMemory is the low-memory pressure hook (spec.md §4.3): removes
// everything.
func (c *MemoryCache[T]) OnLowMemory() {
	c.RemoveAll()
}

// OnBackground is the background/idle pressure hook (spec.md §4.3): trims
// to 10% of each configured limit.
func (c *MemoryCache[T]) OnBackground() {
	c.mu.Lock()
	costTarget := c.limits.CostLimit / 10
	countTarget := -1
	if c.limits.CountLimit > 0 {
		countTarget = c.limits.CountLimit / 10
	}
	c.mu.Unlock()

	c.TrimToCost(costTarget)
	if countTarget >= 0 {
		c.TrimToCount(countTarget)
	}
}
