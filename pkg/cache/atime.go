package cache

import (
	"os"
	"syscall"
	"time"
)

// accessTime extracts the filesystem access time used as the LRU signal
// for the disk-cache sweep (spec.md §4.4: "file mtime/access-time are the
// LRU signal"). Falls back to ModTime when the platform's Sys() doesn't
// expose atime.
func accessTime(fi os.FileInfo) time.Time {
	if stat, ok := fi.Sys().(*syscall.Stat_t); ok {
		return time.Unix(stat.Atim.Sec, stat.Atim.Nsec)
	}
	return fi.ModTime()
}

// touchAccessTime bumps a file's access time to now after a cache read, so
// the next sweep sees it as recently used. Best-effort: errors are ignored
// since a missed touch only affects sweep ordering, not correctness.
func touchAccessTime(path string) {
	now := time.Now()
	_ = os.Chtimes(path, now, now)
}
