package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDiskCache(t *testing.T) *DiskCache {
	t.Helper()
	c, err := NewDiskCache(t.TempDir(), DiskLimits{
		SizeLimit:     1 << 20,
		CountLimit:    1000,
		TrimRatio:     0.7,
		SweepInterval: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestDiskCachePutGetRemove(t *testing.T) {
	c := newTestDiskCache(t)

	c.Put("a", []byte("hello"))
	data, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, []byte("hello"), data)

	c.Flush()
	data, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, []byte("hello"), data)

	c.Remove("a")
	_, ok = c.Get("a")
	assert.False(t, ok)

	c.Flush()
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestDiskCacheGetMiss(t *testing.T) {
	c := newTestDiskCache(t)
	_, ok := c.Get("missing")
	assert.False(t, ok)
}

func TestDiskCacheRemoveAll(t *testing.T) {
	c := newTestDiskCache(t)
	c.Put("a", []byte("1"))
	c.Put("b", []byte("2"))
	c.Flush()

	c.RemoveAll()
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)

	c.Flush()
	stats := c.Stats()
	assert.Equal(t, 0, stats.EntryCount)
}

func TestDiskCacheStagingOverridesDisk(t *testing.T) {
	c := newTestDiskCache(t)
	c.Put("a", []byte("v1"))
	c.Flush()

	c.Put("a", []byte("v2"))
	data, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, []byte("v2"), data, "a concurrent staging add must win over the on-disk value")
}

func TestDiskCacheStats(t *testing.T) {
	c := newTestDiskCache(t)
	c.Put("a", []byte("hello"))
	c.Put("b", []byte("world!"))
	c.Flush()

	stats := c.Stats()
	assert.Equal(t, 2, stats.EntryCount)
	assert.Equal(t, int64(len("hello")+len("world!")), stats.TotalBytes)
}

func TestDiskCacheCustomFilenameFunc(t *testing.T) {
	c := newTestDiskCache(t)
	c.SetFilenameFunc(func(key string) string { return "fixed-name" })

	c.Put("a", []byte("v1"))
	c.Flush()
	c.Put("b", []byte("v2"))
	c.Flush()

	// Both keys hash to the same filename, so the second Put overwrites the
	// first on disk even though the in-memory keys differ.
	data, ok := c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, []byte("v2"), data)
}
