// Package cachefs implements the on-disk local cache tree: sparse
// placeholder files and directories, their completion state recorded
// via extended attributes, and a process-local fast-path set that
// shadows the xattr check.
package cachefs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/xattr"
)

const (
	// AttrComplete marks a file's bytes or a directory's children as
	// fully materialized from the remote object store.
	AttrComplete = "user.is_complete"
	// AttrURL carries the remote locator for manifest-mode entries.
	AttrURL = "user.url"

	completeValue = "1"
)

// Store maps mount-relative paths onto root + path on the local disk.
type Store struct {
	root string

	// complete shadows the user.is_complete xattr check: once a path is
	// observed complete, later lookups skip the syscall. Remove is the
	// only operation that deletes a path from the set.
	complete sync.Map // map[string]struct{}
}

// New returns a Store rooted at root, the local cache directory.
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the cache directory this Store is rooted at.
func (s *Store) Root() string {
	return s.root
}

// FullPath resolves a mount-relative path to its on-disk location.
func (s *Store) FullPath(p string) string {
	if p == "" || p == "/" || p == "." {
		return s.root
	}
	return filepath.Join(s.root, p)
}

// Exists reports whether a cache entry for p exists on disk at all,
// complete or not.
func (s *Store) Exists(p string) bool {
	_, err := os.Lstat(s.FullPath(p))
	return err == nil
}

// IsComplete reports whether p is marked complete, consulting the
// fast-path set before falling back to the xattr.
func (s *Store) IsComplete(p string) bool {
	if _, ok := s.complete.Load(p); ok {
		return true
	}
	v, err := xattr.Get(s.FullPath(p), AttrComplete)
	if err != nil {
		return false
	}
	if string(v) != completeValue {
		return false
	}
	s.complete.Store(p, struct{}{})
	return true
}

// MarkComplete sets user.is_complete="1" on p and records it in the
// fast-path set.
func (s *Store) MarkComplete(p string) error {
	if err := xattr.Set(s.FullPath(p), AttrComplete, []byte(completeValue)); err != nil {
		return fmt.Errorf("cachefs: mark complete %q: %w", p, err)
	}
	s.complete.Store(p, struct{}{})
	return nil
}

// SetURL records the remote locator for p (manifest mode).
func (s *Store) SetURL(p, url string) error {
	if url == "" {
		return nil
	}
	if err := xattr.Set(s.FullPath(p), AttrURL, []byte(url)); err != nil {
		return fmt.Errorf("cachefs: set url %q: %w", p, err)
	}
	return nil
}

// URL returns the remote locator recorded for p, if any.
func (s *Store) URL(p string) (string, bool) {
	v, err := xattr.Get(s.FullPath(p), AttrURL)
	if err != nil {
		return "", false
	}
	return string(v), true
}

// CreatePlaceholderFile creates (or truncates) a sparse local file
// sized to size, sets its mtime when non-zero, and records url when
// non-empty. It never marks the file complete.
func (s *Store) CreatePlaceholderFile(p string, size int64, mtime time.Time, url string) error {
	full := s.FullPath(p)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("cachefs: mkdir parent of %q: %w", p, err)
	}

	f, err := os.OpenFile(full, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("cachefs: create placeholder %q: %w", p, err)
	}
	defer f.Close()

	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("cachefs: size placeholder %q: %w", p, err)
	}

	if !mtime.IsZero() {
		if err := os.Chtimes(full, mtime, mtime); err != nil {
			return fmt.Errorf("cachefs: set mtime on %q: %w", p, err)
		}
	}

	return s.SetURL(p, url)
}

// CreatePlaceholderDir creates an empty local directory for p and
// records url when non-empty. It never marks the directory complete.
func (s *Store) CreatePlaceholderDir(p string, url string) error {
	full := s.FullPath(p)
	if err := os.MkdirAll(full, 0o755); err != nil {
		return fmt.Errorf("cachefs: mkdir %q: %w", p, err)
	}
	return s.SetURL(p, url)
}

// Remove deletes the local entry for p (used to discard a partially
// downloaded file after exhausted retries) and clears it from the
// fast-path set.
func (s *Store) Remove(p string) error {
	s.complete.Delete(p)
	if err := os.Remove(s.FullPath(p)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cachefs: remove %q: %w", p, err)
	}
	return nil
}
