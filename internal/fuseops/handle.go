package fuseops

import (
	"context"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/ffbox/ffbox/internal/chunked"
	"github.com/ffbox/ffbox/pkg/ferrors"
)

// FileHandle backs one open file descriptor. Exactly one of localFile
// or reader is set: localFile for already-materialized or freshly
// created files, reader for a file still being fetched through
// internal/chunked.
type FileHandle struct {
	fsys *FileSystem
	path string

	localFile *os.File
	reader    *chunked.Reader
}

var _ fs.FileHandle = (*FileHandle)(nil)
var _ fs.FileReader = (*FileHandle)(nil)
var _ fs.FileWriter = (*FileHandle)(nil)
var _ fs.FileFlusher = (*FileHandle)(nil)
var _ fs.FileFsyncer = (*FileHandle)(nil)
var _ fs.FileReleaser = (*FileHandle)(nil)

func (h *FileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	start := time.Now()
	if h.reader != nil {
		data, err := h.reader.Read(off, int64(len(dest)))
		if err != nil {
			h.fsys.stats.incr(&h.fsys.stats.Errors)
			h.fsys.recordMetric("read", time.Since(start), 0, false)
			h.discardFailedReader()
			return nil, ferrors.ToErrno(err)
		}
		if h.reader.IsFullyCached() {
			_ = h.fsys.cache.MarkComplete(h.path)
		}
		n := copy(dest, data)
		h.fsys.stats.recordRead(time.Since(start), n)
		h.fsys.recordMetric("read", time.Since(start), int64(n), true)
		return fuse.ReadResultData(dest[:n]), 0
	}

	n, err := h.localFile.ReadAt(dest, off)
	if err != nil && n == 0 {
		h.fsys.stats.incr(&h.fsys.stats.Errors)
		h.fsys.recordMetric("read", time.Since(start), 0, false)
		return nil, syscall.EIO
	}
	h.fsys.stats.recordRead(time.Since(start), n)
	h.fsys.recordMetric("read", time.Since(start), int64(n), true)
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *FileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	start := time.Now()
	if h.fsys.config.ReadOnly {
		return 0, syscall.EROFS
	}
	if h.localFile == nil {
		return 0, syscall.EROFS
	}
	n, err := h.localFile.WriteAt(data, off)
	if err != nil {
		h.fsys.stats.incr(&h.fsys.stats.Errors)
		h.fsys.recordMetric("write", time.Since(start), 0, false)
		return 0, syscall.EIO
	}
	_ = h.fsys.cache.MarkComplete(h.path)
	h.fsys.stats.recordWrite(time.Since(start), n)
	h.fsys.recordMetric("write", time.Since(start), int64(n), true)
	return uint32(n), 0
}

func (h *FileHandle) Flush(ctx context.Context) syscall.Errno {
	if h.localFile == nil {
		return 0
	}
	if err := h.localFile.Sync(); err != nil {
		return syscall.EIO
	}
	return 0
}

func (h *FileHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	if h.localFile == nil {
		return 0
	}
	if err := h.localFile.Sync(); err != nil {
		return syscall.EIO
	}
	return 0
}

// discardFailedReader unlinks the partially downloaded local file and
// drops the reader from the registry so the next Open starts a fresh
// chunked.Reader instead of handing back the same permanently-failed
// one.
func (h *FileHandle) discardFailedReader() {
	if h.reader == nil {
		return
	}
	if err := h.reader.Discard(); err != nil {
		slog.Warn("fuseops: discard failed reader", "path", h.path, "error", err)
	}
	h.fsys.readers.Delete(h.path)
	if err := h.fsys.cache.Remove(h.path); err != nil {
		slog.Warn("fuseops: remove partial cache entry", "path", h.path, "error", err)
	}
}

func (h *FileHandle) Release(ctx context.Context) syscall.Errno {
	if h.reader != nil && h.reader.IsFullyCached() {
		h.reader.Close()
		h.fsys.readers.Delete(h.path)
	}
	if h.localFile != nil {
		h.localFile.Close()
	}
	return 0
}
