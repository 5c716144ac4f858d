package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DiskLimits configures the periodic sweep (spec.md §4.4).
type DiskLimits struct {
	SizeLimit     int64 // bytes, default 100 MiB
	CountLimit    int   // default 1000
	TrimRatio     float64
	SweepInterval time.Duration // default 30s
}

// DefaultDiskLimits returns spec.md §4.4's defaults.
func DefaultDiskLimits() DiskLimits {
	return DiskLimits{
		SizeLimit:     100 * 1024 * 1024,
		CountLimit:    1000,
		TrimRatio:     0.7,
		SweepInterval: 30 * time.Second,
	}
}

type changeKind int

const (
	changeAdd changeKind = iota
	changeRemove
)

type stagedChange struct {
	id   uint64
	kind changeKind
	data []byte
}

// FilenameFunc generates the on-disk filename for a key. The default is
// sha1(key).hex (spec.md §4.4/§6); callers may inject a different
// generator.
type FilenameFunc func(key string) string

func defaultFilename(key string) string {
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}

// DiskCache is an asynchronous write-back, synchronous-read key→bytes
// store with a staging overlay (spec.md §4.4).
type DiskCache struct {
	dir      string
	filename FilenameFunc
	limits   DiskLimits

	// stagingMu guards staging + removeAll; rwMu is the shared lock
	// between the single write goroutine and readers, preventing torn
	// reads of a file that's mid-write (spec.md §4.4).
	stagingMu sync.Mutex
	staging   map[string]stagedChange
	removeAll uint64 // change id of the last removeAll, 0 = none active

	rwMu sync.RWMutex

	nextChangeID uint64

	writeCh chan func()
	wg      sync.WaitGroup
	closed  chan struct{}

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// NewDiskCache creates the cache directory (if missing) and starts the
// single-writer goroutine and periodic sweep (spec.md §4.4).
func NewDiskCache(dir string, limits DiskLimits) (*DiskCache, error) {
	def := DefaultDiskLimits()
	if limits.SizeLimit <= 0 {
		limits.SizeLimit = def.SizeLimit
	}
	if limits.CountLimit <= 0 {
		limits.CountLimit = def.CountLimit
	}
	if limits.TrimRatio <= 0 {
		limits.TrimRatio = def.TrimRatio
	}
	if limits.SweepInterval <= 0 {
		limits.SweepInterval = def.SweepInterval
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	c := &DiskCache{
		dir:       dir,
		filename:  defaultFilename,
		limits:    limits,
		staging:   make(map[string]stagedChange),
		writeCh:   make(chan func(), 256),
		closed:    make(chan struct{}),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	c.wg.Add(1)
	go c.writeLoop()
	go c.sweepLoop()
	return c, nil
}

// SetFilenameFunc overrides the default sha1-hex filename generator.
func (c *DiskCache) SetFilenameFunc(f FilenameFunc) { c.filename = f }

func (c *DiskCache) writeLoop() {
	defer c.wg.Done()
	for job := range c.writeCh {
		job()
	}
}

func (c *DiskCache) path(key string) string {
	return filepath.Join(c.dir, c.filename(key))
}

// Get consults staging first, then the on-disk file, per spec.md §4.4's
// ordered rules: add(bytes) wins, remove wins (returns miss), else a live
// removeAllChangeId means miss, else fall through to disk.
func (c *DiskCache) Get(key string) ([]byte, bool) {
	c.stagingMu.Lock()
	if ch, ok := c.staging[key]; ok {
		c.stagingMu.Unlock()
		if ch.kind == changeAdd {
			return ch.data, true
		}
		return nil, false
	}
	removeAllActive := c.removeAll != 0
	c.stagingMu.Unlock()
	if removeAllActive {
		return nil, false
	}

	c.rwMu.RLock()
	defer c.rwMu.RUnlock()
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	touchAccessTime(c.path(key))
	return data, true
}

// Put registers an immediate staging add, then asynchronously persists the
// file and clears the staging entry — but only if no newer change has
// superseded it (spec.md §4.4).
func (c *DiskCache) Put(key string, data []byte) {
	id := atomic.AddUint64(&c.nextChangeID, 1)
	c.stagingMu.Lock()
	c.staging[key] = stagedChange{id: id, kind: changeAdd, data: data}
	c.stagingMu.Unlock()

	c.writeCh <- func() {
		c.rwMu.Lock()
		_ = os.WriteFile(c.path(key), data, 0o644)
		c.rwMu.Unlock()

		c.stagingMu.Lock()
		if cur, ok := c.staging[key]; ok && cur.id == id {
			delete(c.staging, key)
		}
		c.stagingMu.Unlock()
	}
}

// Remove registers an immediate staging remove, then asynchronously
// deletes the file, symmetric with Put (spec.md §4.4).
func (c *DiskCache) Remove(key string) {
	id := atomic.AddUint64(&c.nextChangeID, 1)
	c.stagingMu.Lock()
	c.staging[key] = stagedChange{id: id, kind: changeRemove}
	c.stagingMu.Unlock()

	c.writeCh <- func() {
		c.rwMu.Lock()
		_ = os.Remove(c.path(key))
		c.rwMu.Unlock()

		c.stagingMu.Lock()
		if cur, ok := c.staging[key]; ok && cur.id == id {
			delete(c.staging, key)
		}
		c.stagingMu.Unlock()
	}
}

// RemoveAll registers a removeAllChangeId, then asynchronously clears the
// directory (spec.md §4.4).
func (c *DiskCache) RemoveAll() {
	id := atomic.AddUint64(&c.nextChangeID, 1)
	c.stagingMu.Lock()
	c.removeAll = id
	c.staging = make(map[string]stagedChange)
	c.stagingMu.Unlock()

	c.writeCh <- func() {
		c.rwMu.Lock()
		entries, _ := os.ReadDir(c.dir)
		for _, e := range entries {
			_ = os.Remove(filepath.Join(c.dir, e.Name()))
		}
		c.rwMu.Unlock()

		c.stagingMu.Lock()
		if c.removeAll == id {
			c.removeAll = 0
		}
		c.stagingMu.Unlock()
	}
}

// Flush blocks until all outstanding writes complete, implemented as a
// barrier job on the write queue (spec.md §4.4).
func (c *DiskCache) Flush() {
	done := make(chan struct{})
	c.writeCh <- func() { close(done) }
	<-done
}

// Close stops the sweep loop and the write goroutine once the queue
// drains.
func (c *DiskCache) Close() {
	close(c.sweepStop)
	<-c.sweepDone
	close(c.writeCh)
	c.wg.Wait()
}

// DiskStats summarizes the on-disk footprint for observability endpoints.
type DiskStats struct {
	Directory  string
	EntryCount int
	TotalBytes int64
}

// Stats scans the cache directory for a point-in-time size/count snapshot.
// It does not consult the staging overlay, so a just-written entry may be
// briefly absent from the count.
func (c *DiskCache) Stats() DiskStats {
	c.rwMu.RLock()
	defer c.rwMu.RUnlock()
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return DiskStats{Directory: c.dir}
	}
	stats := DiskStats{Directory: c.dir, EntryCount: len(entries)}
	for _, e := range entries {
		if info, err := e.Info(); err == nil {
			stats.TotalBytes += info.Size()
		}
	}
	return stats
}

type direntInfo struct {
	name       string
	size       int64
	accessTime time.Time
}

func (c *DiskCache) sweepLoop() {
	defer close(c.sweepDone)
	c.sweepOnce()
	ticker := time.NewTicker(c.limits.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.sweepStop:
			return
		case <-ticker.C:
			c.sweepOnce()
		}
	}
}

// sweepOnce implements spec.md §4.4's sweep policy: enumerate entries with
// {last-access-time, allocated-size}, and only if size or count exceeds
// limit×trimRatio, delete from the LRU end until both limits hold again.
func (c *DiskCache) sweepOnce() {
	c.rwMu.RLock()
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.rwMu.RUnlock()
		return
	}
	var items []direntInfo
	var total int64
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		items = append(items, direntInfo{
			name:       e.Name(),
			size:       info.Size(),
			accessTime: accessTime(info),
		})
		total += info.Size()
	}
	c.rwMu.RUnlock()

	sizeThreshold := float64(c.limits.SizeLimit) * c.limits.TrimRatio
	countThreshold := float64(c.limits.CountLimit) * c.limits.TrimRatio
	if float64(total) <= sizeThreshold && float64(len(items)) <= countThreshold {
		return
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].accessTime.Before(items[j].accessTime)
	})

	sizeLimit := int64(sizeThreshold)
	countLimit := int(countThreshold)
	c.rwMu.Lock()
	defer c.rwMu.Unlock()
	i := 0
	for (total > sizeLimit || len(items)-i > countLimit) && i < len(items) {
		_ = os.Remove(filepath.Join(c.dir, items[i].name))
		total -= items[i].size
		i++
	}
}
