package fuseops

import (
	"context"
	"log/slog"
	"syscall"

	"github.com/ffbox/ffbox/internal/manifest"
	"github.com/ffbox/ffbox/pkg/ferrors"
)

// ensureMaterialized populates dirPath's children on disk, either from
// its manifest or from a LIST, and marks it complete. A no-op if the
// directory is already complete. Serialized per directory via
// fs.locks so that two concurrent Readdir/Lookup/Getattr calls never
// race to populate the same directory twice.
func (f *FileSystem) ensureMaterialized(ctx context.Context, dirPath string) syscall.Errno {
	if f.cache.IsComplete(dirPath) {
		return 0
	}

	lock := f.locks.Get(dirPath)
	lock.Lock()
	defer lock.Unlock()

	if f.cache.IsComplete(dirPath) {
		return 0
	}

	if err := f.cache.CreatePlaceholderDir(dirPath, ""); err != nil {
		return ferrors.ToErrno(err)
	}

	var err error
	if f.manifestMode {
		err = f.materializeFromManifest(ctx, dirPath)
	} else {
		err = f.materializeFromListing(ctx, dirPath)
	}
	if err != nil {
		return ferrors.ToErrno(err)
	}

	if err := f.cache.MarkComplete(dirPath); err != nil {
		return ferrors.ToErrno(err)
	}
	return 0
}

func (f *FileSystem) materializeFromManifest(ctx context.Context, dirPath string) error {
	key := joinPath(dirPath, manifest.FileName)
	if dirPath == "" {
		key = manifest.FileName
	}

	data, err := f.be.Get(ctx, key)
	if err != nil {
		if ferrors.IsNotFound(err) {
			// No manifest at this level: treat as an empty directory.
			return nil
		}
		return err
	}

	m, err := manifest.Decode(data)
	if err != nil {
		return ferrors.New(ferrors.ErrCodeManifestCorrupt, "corrupt manifest at "+key).
			WithComponent("fuseops").WithOperation("materializeFromManifest").WithPath(key).WithCause(err)
	}

	for name, entry := range m {
		if manifest.IsReservedName(name) {
			continue
		}
		childPath := joinPath(dirPath, name)
		if entry.IsDir() {
			if err := f.cache.CreatePlaceholderDir(childPath, entry.URL); err != nil {
				return err
			}
			continue
		}
		mtime := timeFromUnixFloat(entry.MTime)
		if err := f.cache.CreatePlaceholderFile(childPath, *entry.Size, mtime, entry.URL); err != nil {
			return err
		}
	}
	return nil
}

func (f *FileSystem) materializeFromListing(ctx context.Context, dirPath string) error {
	result, err := f.be.List(ctx, listPrefix(dirPath), "/")
	if err != nil {
		return err
	}

	for _, prefix := range result.CommonPrefixes {
		name := baseName(prefix)
		childPath := joinPath(dirPath, name)
		if err := f.cache.CreatePlaceholderDir(childPath, ""); err != nil {
			return err
		}
	}

	for _, obj := range result.Keys {
		name := baseName(obj.Key)
		if name == "" || manifest.IsReservedName(name) {
			continue
		}
		childPath := joinPath(dirPath, name)
		if err := f.cache.CreatePlaceholderFile(childPath, obj.Size, obj.LastModified, ""); err != nil {
			return err
		}
	}

	if result.IsTruncated {
		slog.Warn("directory listing truncated, showing partial results", "path", dirPath)
	}
	return nil
}
