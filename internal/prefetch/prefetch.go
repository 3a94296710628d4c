// Package prefetch warms a freshly mounted ffbox tree by replaying a
// previously recorded read order (internal/traceorder's output)
// through the mount itself, so the first real access of each path is
// already satisfied from cache.
package prefetch

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ffbox/ffbox/internal/backend"
	"github.com/ffbox/ffbox/internal/metrics"
	"github.com/ffbox/ffbox/pkg/ferrors"
)

// DefaultWorkers is the default prefetch worker-pool size, sized large
// because each worker blocks on network I/O rather than CPU.
const DefaultWorkers = 200

// LogKey is the object key, relative to the mount's source prefix,
// where internal/traceorder's recorder publishes its trace.
const LogKey = ".ffbox/read_order.log"

// Prefetcher replays a read-order trace against a mounted tree.
type Prefetcher struct {
	be         backend.Backend
	mountPoint string
	workers    int
	collector  *metrics.Collector
}

// New returns a Prefetcher that will open paths under mountPoint,
// using be to fetch the trace log itself.
func New(be backend.Backend, mountPoint string, workers int) *Prefetcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Prefetcher{be: be, mountPoint: mountPoint, workers: workers}
}

// SetMetrics attaches a metrics.Collector that each replayed entry
// reports through as a "prefetch" operation. Nil disables reporting.
func (p *Prefetcher) SetMetrics(c *metrics.Collector) {
	p.collector = c
}

// entry is one parsed read-order line.
type entry struct {
	op      string
	relPath string
	isDir   bool
}

// Run fetches the read-order log (a no-op, not an error, if absent)
// and replays each entry against the mount through a bounded worker
// pool. Per-entry errors are logged and swallowed, and unparseable
// lines are skipped; Run itself only fails if fetching the trace log
// fails for a reason other than not-found.
func (p *Prefetcher) Run(ctx context.Context) error {
	data, err := p.be.Get(ctx, LogKey)
	if err != nil {
		if ferrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("prefetch: fetch %q: %w", LogKey, err)
	}

	entries := parseLog(data)
	if len(entries) == 0 {
		return nil
	}

	jobs := make(chan entry)
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go p.worker(&wg, jobs)
	}
	for _, e := range entries {
		jobs <- e
	}
	close(jobs)
	wg.Wait()
	return nil
}

func (p *Prefetcher) worker(wg *sync.WaitGroup, jobs <-chan entry) {
	defer wg.Done()
	for e := range jobs {
		p.replayOne(e)
	}
}

func (p *Prefetcher) replayOne(e entry) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("prefetch: recovered panic replaying entry", "path", e.relPath, "panic", r)
		}
	}()

	start := time.Now()
	full := filepath.Join(p.mountPoint, e.relPath)

	switch e.op {
	case "openat", "open":
		f, err := os.Open(full)
		if err != nil {
			slog.Warn("prefetch: open failed", "path", e.relPath, "error", err)
			p.recordMetric(time.Since(start), false)
			return
		}
		f.Close()
		p.recordMetric(time.Since(start), true)
	case "stat", "lstat", "newfstatat":
		if _, err := os.Lstat(full); err != nil {
			slog.Warn("prefetch: stat failed", "path", e.relPath, "error", err)
			p.recordMetric(time.Since(start), false)
			return
		}
		p.recordMetric(time.Since(start), true)
	}
}

func (p *Prefetcher) recordMetric(d time.Duration, success bool) {
	if p.collector == nil {
		return
	}
	p.collector.RecordOperation("prefetch", d, 0, success)
}

// parseLog parses the wire format written by internal/traceorder.Record:
// LF-separated "<op> <relpath>" lines, op one of openat, open, stat,
// lstat, newfstatat; a trailing "/" on relpath marks a directory entry.
func parseLog(data []byte) []entry {
	var out []entry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		op, rel, ok := strings.Cut(line, " ")
		if !ok || op == "" || rel == "" {
			slog.Warn("prefetch: skipping malformed read-order line", "line", line)
			continue
		}
		isDir := strings.HasSuffix(rel, "/")
		rel = strings.TrimSuffix(rel, "/")
		out = append(out, entry{op: op, relPath: rel, isDir: isDir})
	}
	return out
}
