// Package fuseops implements the VFS contract (getattr, readdir, open,
// read, write, release, ...) atop internal/backend, internal/cachefs,
// internal/chunked, internal/manifest, and internal/pathlock. Writes
// never propagate to the object store: this mount is read-mostly, with
// local-only writes against the cache tree.
package fuseops

import (
	"sync"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"

	"github.com/ffbox/ffbox/internal/backend"
	"github.com/ffbox/ffbox/internal/cachefs"
	"github.com/ffbox/ffbox/internal/chunked"
	"github.com/ffbox/ffbox/internal/metrics"
	"github.com/ffbox/ffbox/internal/pathlock"
)

// DefaultDownloadThreshold is the largest file size fetched as a
// single whole-object download rather than through a chunked.Reader.
const DefaultDownloadThreshold = 1 << 20 // 1 MiB

// Config holds the mount-time knobs this package needs from
// internal/config.Configuration.
type Config struct {
	ChunkSize         int64
	MaxWorkers        int
	DownloadThreshold int64
	ReadOnly          bool

	DefaultUID  uint32
	DefaultGID  uint32
	DefaultMode uint32
}

// DefaultConfig returns the spec.md §4.D defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:         chunked.DefaultChunkSize,
		MaxWorkers:        chunked.DefaultMaxWorkers,
		DownloadThreshold: DefaultDownloadThreshold,
		ReadOnly:          true,
		DefaultMode:       0o644,
	}
}

// Stats tracks filesystem operation counters, adapted from the
// teacher's internal/fuse.Stats and read through FileSystem.Stats. The
// counters are not fed to internal/metrics; see SetMetrics for that.
type Stats struct {
	mu sync.RWMutex

	Lookups int64
	Opens   int64
	Reads   int64
	Writes  int64
	Creates int64
	Deletes int64

	BytesRead    int64
	BytesWritten int64

	CacheHits   int64
	CacheMisses int64
	Errors      int64

	AvgReadTime   time.Duration
	AvgWriteTime  time.Duration
	AvgLookupTime time.Duration
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := *s
	cp.mu = sync.RWMutex{}
	return cp
}

func (s *Stats) recordLookup(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Lookups++
	s.AvgLookupTime = ema(s.AvgLookupTime, d, s.Lookups)
}

func (s *Stats) recordRead(d time.Duration, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reads++
	s.BytesRead += int64(n)
	s.AvgReadTime = ema(s.AvgReadTime, d, s.Reads)
}

func (s *Stats) recordWrite(d time.Duration, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Writes++
	s.BytesWritten += int64(n)
	s.AvgWriteTime = ema(s.AvgWriteTime, d, s.Writes)
}

func (s *Stats) incr(field *int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*field++
}

func ema(avg, sample time.Duration, count int64) time.Duration {
	if count <= 1 {
		return sample
	}
	return time.Duration((int64(avg)*9 + int64(sample)) / 10)
}

// FileSystem is the root of the mounted tree.
type FileSystem struct {
	fs.Inode

	be           backend.Backend
	cache        *cachefs.Store
	locks        *pathlock.Table
	readers      *chunked.Registry
	config       Config
	manifestMode bool

	stats   *Stats
	metrics *metrics.Collector
}

// New builds a FileSystem over be, rooted at cache. manifestMode
// selects whether directories are materialized from
// .ffbox_dir_meta.json (true) or from LIST (false); determine it once
// per mount via manifest.Probe before calling New.
func New(be backend.Backend, cache *cachefs.Store, manifestMode bool, config Config) *FileSystem {
	return &FileSystem{
		be:           be,
		cache:        cache,
		locks:        pathlock.New(),
		readers:      chunked.NewRegistry(),
		config:       config,
		manifestMode: manifestMode,
		stats:        &Stats{},
	}
}

// SetMetrics attaches a metrics.Collector alongside the plain Stats
// counters. Lookup, Readdir, Read, Write, Mkdir, Create, Rmdir, Unlink,
// Rename and Symlink report operations to it, and Open reports cache
// hits and misses; Getattr, Setattr, Readlink, Flush, Fsync and Release
// report nothing. Safe to call once, before serving begins; nil
// disables reporting (the default).
func (f *FileSystem) SetMetrics(c *metrics.Collector) {
	f.metrics = c
}

func (f *FileSystem) recordMetric(op string, d time.Duration, size int64, success bool) {
	if f.metrics == nil {
		return
	}
	f.metrics.RecordOperation(op, d, size, success)
}

func (f *FileSystem) recordCacheHit(key string) {
	if f.metrics == nil {
		return
	}
	f.metrics.RecordCacheHit(key, 0)
}

func (f *FileSystem) recordCacheMiss(key string) {
	if f.metrics == nil {
		return
	}
	f.metrics.RecordCacheMiss(key, 0)
}

// Root returns the root directory inode, satisfying go-fuse's
// RootInode provider contract for fs.Mount.
func (f *FileSystem) Root() fs.InodeEmbedder {
	return &DirectoryNode{fsys: f, path: ""}
}

// Stats returns this mount's operation counters.
func (f *FileSystem) Stats() *Stats {
	return f.stats
}
