// Package chunked implements the parallel range-GET download engine:
// one Reader per open file that is not yet fully cached, downloading
// fixed-size chunks concurrently into an mmap'd local file and
// unblocking reads as soon as their needed chunks land.
package chunked

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/ffbox/ffbox/internal/backend"
	"github.com/ffbox/ffbox/pkg/ferrors"
)

// DefaultChunkSize and DefaultMaxWorkers mirror spec.md §4.D's defaults.
const (
	DefaultChunkSize = 5 * 1024 * 1024
	DefaultMaxWorkers = 10
)

// Reader coordinates parallel range-GETs for one open, not-yet-complete
// file into an mmap'd local file, and serves reads that block on the
// specific chunks they need.
type Reader struct {
	key       string
	localPath string
	size      int64
	chunkSize int64
	numChunks int

	be backend.Backend

	downloaded  []atomic.Bool
	fullyCached atomic.Bool
	failed      atomic.Bool

	mu   sync.Mutex
	cond *sync.Cond

	file *os.File
	mmap []byte

	next atomic.Int64 // cursor for the "next undone chunk" worker pool
}

// New constructs a Reader for key, sized to size, backed by localPath
// (a sparse local file already sized to size). The file is opened
// read-write and mmap'd for the reader's lifetime.
func New(be backend.Backend, key, localPath string, size, chunkSize int64, maxWorkers int) (*Reader, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}

	r := &Reader{
		key:       key,
		localPath: localPath,
		size:      size,
		chunkSize: chunkSize,
		be:        be,
	}
	r.cond = sync.NewCond(&r.mu)

	if size == 0 {
		// Empty files are fully cached from construction: no mmap, no
		// chunks, no workers.
		r.fullyCached.Store(true)
		return r, nil
	}

	r.numChunks = int((size + chunkSize - 1) / chunkSize)
	r.downloaded = make([]atomic.Bool, r.numChunks)

	f, err := os.OpenFile(localPath, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("chunked: open %q: %w", localPath, err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("chunked: mmap %q: %w", localPath, err)
	}

	r.file = f
	r.mmap = mem

	r.startWorkers(maxWorkers)
	return r, nil
}

func (r *Reader) startWorkers(maxWorkers int) {
	workers := maxWorkers
	if workers > r.numChunks {
		workers = r.numChunks
	}
	for i := 0; i < workers; i++ {
		go r.worker()
	}
}

func (r *Reader) worker() {
	for {
		idx := int(r.next.Add(1)) - 1
		if idx >= r.numChunks {
			return
		}
		if r.failed.Load() {
			return
		}
		r.downloadChunk(idx)
	}
}

func (r *Reader) chunkBounds(idx int) (start, endInclusive int64) {
	start = int64(idx) * r.chunkSize
	endInclusive = start + r.chunkSize - 1
	if endInclusive > r.size-1 {
		endInclusive = r.size - 1
	}
	return start, endInclusive
}

func (r *Reader) downloadChunk(idx int) {
	start, endInclusive := r.chunkBounds(idx)
	data, err := r.be.GetRange(context.Background(), r.key, start, endInclusive)
	if err != nil {
		r.markFailed()
		return
	}
	copy(r.mmap[start:start+int64(len(data))], data)

	r.mu.Lock()
	r.downloaded[idx].Store(true)
	if r.allDownloaded() {
		r.fullyCached.Store(true)
	}
	r.cond.Broadcast()
	r.mu.Unlock()
}

func (r *Reader) allDownloaded() bool {
	for i := range r.downloaded {
		if !r.downloaded[i].Load() {
			return false
		}
	}
	return true
}

func (r *Reader) markFailed() {
	r.mu.Lock()
	r.failed.Store(true)
	r.cond.Broadcast()
	r.mu.Unlock()
}

// IsFullyCached reports whether every chunk has landed.
func (r *Reader) IsFullyCached() bool {
	return r.fullyCached.Load()
}

// Failed reports whether a chunk exhausted its retries.
func (r *Reader) Failed() bool {
	return r.failed.Load()
}

// Read returns the bytes in [offset, offset+length), clamped to the
// file size, blocking until every chunk the range touches has
// downloaded. An empty slice is returned when offset is at or past the
// end of the file.
func (r *Reader) Read(offset, length int64) ([]byte, error) {
	if offset >= r.size {
		return []byte{}, nil
	}
	if offset+length > r.size {
		length = r.size - offset
	}
	if length <= 0 {
		return []byte{}, nil
	}

	if r.fullyCached.Load() {
		out := make([]byte, length)
		copy(out, r.mmap[offset:offset+length])
		return out, nil
	}

	first := int(offset / r.chunkSize)
	last := int((offset + length - 1) / r.chunkSize)

	r.mu.Lock()
	for {
		if r.failed.Load() {
			r.mu.Unlock()
			return nil, ferrors.New(ferrors.ErrCodeChunkIncomplete, "chunk download failed").
				WithComponent("chunked").WithOperation("Read").WithPath(r.key)
		}
		if r.chunksReady(first, last) {
			break
		}
		r.cond.Wait()
	}
	r.mu.Unlock()

	out := make([]byte, length)
	copy(out, r.mmap[offset:offset+length])
	return out, nil
}

func (r *Reader) chunksReady(first, last int) bool {
	for i := first; i <= last; i++ {
		if !r.downloaded[i].Load() {
			return false
		}
	}
	return true
}

// Close unmaps and closes the local file. Safe to call once the reader
// is either fully cached or abandoned after failure.
func (r *Reader) Close() error {
	if r.mmap != nil {
		if err := unix.Munmap(r.mmap); err != nil {
			return fmt.Errorf("chunked: munmap %q: %w", r.localPath, err)
		}
		r.mmap = nil
	}
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Discard closes the reader and unlinks its partially downloaded local
// file, used after a failure so the next open starts fresh.
func (r *Reader) Discard() error {
	if err := r.Close(); err != nil {
		return err
	}
	if err := os.Remove(r.localPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("chunked: remove %q: %w", r.localPath, err)
	}
	return nil
}
