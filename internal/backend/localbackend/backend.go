// Package localbackend implements backend.Backend over a plain local
// directory tree, used by `deploy` (which writes manifests alongside files
// instead of uploading them) and by mounts whose source is a filesystem
// path rather than an s3:// URL.
package localbackend

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ffbox/ffbox/internal/backend"
	"github.com/ffbox/ffbox/pkg/ferrors"
)

// Backend roots every key under Root.
type Backend struct {
	Root string
}

var _ backend.Backend = (*Backend)(nil)

// New returns a Backend rooted at root.
func New(root string) *Backend {
	return &Backend{Root: root}
}

func (b *Backend) path(key string) string {
	return filepath.Join(b.Root, filepath.FromSlash(strings.TrimPrefix(key, "/")))
}

// Head stats the local file at key.
func (b *Backend) Head(ctx context.Context, key string) (*backend.ObjectInfo, error) {
	fi, err := os.Stat(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ferrors.New(ferrors.ErrCodeObjectNotFound, "object not found: "+key).
				WithComponent("localbackend").WithOperation("Head").WithPath(key).WithCause(err)
		}
		return nil, err
	}
	return &backend.ObjectInfo{
		Key:          key,
		Size:         fi.Size(),
		LastModified: fi.ModTime(),
	}, nil
}

// List enumerates entries directly under prefix. Any non-empty delimiter
// is treated as "/"; an empty delimiter lists the subtree recursively.
func (b *Backend) List(ctx context.Context, prefix, delimiter string) (*backend.ListResult, error) {
	dir := b.path(prefix)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ferrors.New(ferrors.ErrCodeObjectNotFound, "directory not found: "+prefix).
				WithComponent("localbackend").WithOperation("List").WithPath(prefix).WithCause(err)
		}
		return nil, err
	}

	result := &backend.ListResult{}
	for _, e := range entries {
		relKey := strings.TrimPrefix(prefix, "/")
		if relKey != "" {
			relKey += "/"
		}
		relKey += e.Name()

		if e.IsDir() {
			if delimiter != "" {
				result.CommonPrefixes = append(result.CommonPrefixes, relKey+"/")
				continue
			}
			sub, err := b.List(ctx, relKey, delimiter)
			if err != nil {
				return nil, err
			}
			result.Keys = append(result.Keys, sub.Keys...)
			continue
		}

		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		result.Keys = append(result.Keys, backend.ObjectInfo{
			Key:          relKey,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
	}
	return result, nil
}

// Get reads the whole local file.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ferrors.New(ferrors.ErrCodeObjectNotFound, "object not found: "+key).
				WithComponent("localbackend").WithOperation("Get").WithPath(key).WithCause(err)
		}
		return nil, err
	}
	return data, nil
}

// GetRange reads an inclusive byte range via pread.
func (b *Backend) GetRange(ctx context.Context, key string, start, endInclusive int64) ([]byte, error) {
	f, err := os.Open(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ferrors.New(ferrors.ErrCodeObjectNotFound, "object not found: "+key).
				WithComponent("localbackend").WithOperation("GetRange").WithPath(key).WithCause(err)
		}
		return nil, err
	}
	defer f.Close()

	length := endInclusive - start + 1
	buf := make([]byte, length)
	n, err := f.ReadAt(buf, start)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

// Put writes data at key, creating parent directories as needed.
func (b *Backend) Put(ctx context.Context, key string, data []byte) error {
	p := b.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

// Download copies the local source file to localPath.
func (b *Backend) Download(ctx context.Context, key, localPath string) error {
	src, err := os.Open(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return ferrors.New(ferrors.ErrCodeObjectNotFound, "object not found: "+key).
				WithComponent("localbackend").WithOperation("Download").WithPath(key).WithCause(err)
		}
		return err
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}
