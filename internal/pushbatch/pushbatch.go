// Package pushbatch batches object and manifest PUTs against a
// backend.Backend, adapted from the teacher's internal/buffer write
// coalescer: instead of coalescing local writes before they hit disk,
// this batches remote PUTs before they hit the network. `ffbox push`
// does not use it; push issues its PUTs directly from
// internal/manifest.Walk's worker pool.
package pushbatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ffbox/ffbox/internal/backend"
)

// Config mirrors the teacher's WriteBufferConfig, trimmed to the knobs
// that matter for batching remote PUTs: size/count thresholds and a
// flush interval, with compression/verify/retry-delay knobs dropped
// since backend.Backend.Put already retries internally
// (s3backend wraps calls with pkg/retry).
type Config struct {
	MaxBatchBytes int64
	MaxBatchItems int
	FlushInterval time.Duration
}

// DefaultConfig mirrors the teacher's WriteBuffer defaults, scaled down
// from local-write sizes (tens of MiB) to push-batch sizes (a push
// batch is manifests and small objects, not large file writes).
func DefaultConfig() Config {
	return Config{
		MaxBatchBytes: 8 * 1024 * 1024,
		MaxBatchItems: 50,
		FlushInterval: 2 * time.Second,
	}
}

// Stats tracks batcher throughput, mirroring the teacher's
// WriteBufferStats shape.
type Stats struct {
	mu sync.Mutex

	TotalPuts    uint64
	TotalFlushes uint64
	TotalBytes   int64
	Errors       uint64
	LastFlush    time.Time
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s
	cp.mu = sync.Mutex{}
	return cp
}

type item struct {
	key  string
	data []byte
}

// Batcher queues PUTs and flushes them as batches against a
// backend.Backend, either when a size/count threshold is crossed or
// on a timer, mirroring the teacher's flushLoop pattern.
type Batcher struct {
	be     backend.Backend
	config Config
	stats  Stats

	mu      sync.Mutex
	pending []item
	pendBytes int64

	flushErrs chan error
	stopCh    chan struct{}
	stopped   chan struct{}
}

// New constructs a Batcher over be. Call Close to flush any remaining
// items and stop the background flush timer.
func New(be backend.Backend, config Config) *Batcher {
	if config.MaxBatchItems <= 0 {
		config.MaxBatchItems = DefaultConfig().MaxBatchItems
	}
	if config.MaxBatchBytes <= 0 {
		config.MaxBatchBytes = DefaultConfig().MaxBatchBytes
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = DefaultConfig().FlushInterval
	}

	b := &Batcher{
		be:        be,
		config:    config,
		flushErrs: make(chan error, 64),
		stopCh:    make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go b.flushLoop()
	return b
}

// Put queues key/data for a future flush, triggering an immediate
// flush if either threshold is crossed.
func (b *Batcher) Put(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	b.pending = append(b.pending, item{key: key, data: data})
	b.pendBytes += int64(len(data))
	b.stats.mu.Lock()
	b.stats.TotalPuts++
	b.stats.mu.Unlock()

	shouldFlush := len(b.pending) >= b.config.MaxBatchItems || b.pendBytes >= b.config.MaxBatchBytes
	b.mu.Unlock()

	if shouldFlush {
		return b.Flush(ctx)
	}
	return nil
}

// Flush pushes every pending item to the backend immediately and
// returns the first error encountered, while still attempting every
// remaining item. Only the background timer flush sends its errors to
// flushErrs (surfaced via Errors()).
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.pendBytes = 0
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var firstErr error
	for _, it := range batch {
		if err := b.be.Put(ctx, it.key, it.data); err != nil {
			b.stats.mu.Lock()
			b.stats.Errors++
			b.stats.mu.Unlock()
			if firstErr == nil {
				firstErr = fmt.Errorf("pushbatch: put %q: %w", it.key, err)
			}
			continue
		}
	}

	b.stats.mu.Lock()
	b.stats.TotalFlushes++
	b.stats.LastFlush = time.Now()
	b.stats.mu.Unlock()

	return firstErr
}

func (b *Batcher) flushLoop() {
	defer close(b.stopped)
	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.Flush(context.Background()); err != nil {
				select {
				case b.flushErrs <- err:
				default:
				}
			}
		case <-b.stopCh:
			return
		}
	}
}

// Errors returns a channel of errors observed during background
// (timer-driven) flushes. Errors from explicit Flush/Put calls are
// returned directly to the caller instead.
func (b *Batcher) Errors() <-chan error {
	return b.flushErrs
}

// Stats returns a snapshot of the batcher's counters.
func (b *Batcher) Stats() Stats {
	return b.stats.Snapshot()
}

// Close stops the background flush loop and flushes any remaining
// items.
func (b *Batcher) Close(ctx context.Context) error {
	close(b.stopCh)
	<-b.stopped
	return b.Flush(ctx)
}
