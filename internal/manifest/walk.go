package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// URLFunc computes the locator recorded for a child given its
// directory-relative path (joined with "/", never OS-specific
// separators) and whether it is a subdirectory.
type URLFunc func(relPath string, isDir bool) string

// PutFunc publishes one directory's manifest. relDir is "" for the
// tree root, otherwise a slash-joined path relative to localDir.
type PutFunc func(relDir string, m Manifest) error

// defaultWorkers is the worker-pool size used when Walk is called with
// workers <= 0.
const defaultWorkers = 20

// Walk builds and publishes one manifest per directory under localDir,
// using up to workers concurrent goroutines. exclude holds glob
// patterns (matched via path/filepath.Match against each child's
// slash-joined relative path and against its base name) that are
// skipped entirely: neither
// recorded in the manifest nor descended into when the match is a
// directory.
func Walk(localDir string, workers int, exclude []string, urlFor URLFunc, put PutFunc) error {
	if workers <= 0 {
		workers = defaultWorkers
	}

	dirs, err := discoverDirs(localDir, exclude)
	if err != nil {
		return err
	}

	g := new(errgroup.Group)
	g.SetLimit(workers)
	for _, rel := range dirs {
		rel := rel
		g.Go(func() error {
			m, err := buildOne(localDir, rel, exclude, urlFor)
			if err != nil {
				return err
			}
			return put(rel, m)
		})
	}
	return g.Wait()
}

// discoverDirs returns every directory under root, as slash-joined
// paths relative to root ("" for root itself), skipping subtrees whose
// relative path matches an exclude pattern.
func discoverDirs(root string, exclude []string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(root, p)
		if rerr != nil {
			return rerr
		}
		if rel == "." {
			rel = ""
		} else {
			rel = filepath.ToSlash(rel)
		}
		if rel != "" && matchesAny(exclude, rel) {
			return filepath.SkipDir
		}
		dirs = append(dirs, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("manifest: walk %q: %w", root, err)
	}
	return dirs, nil
}

func matchesAny(patterns []string, relPath string) bool {
	for _, pat := range patterns {
		if ok, _ := filepath.Match(pat, relPath); ok {
			return true
		}
		if ok, _ := filepath.Match(pat, filepath.Base(relPath)); ok {
			return true
		}
	}
	return false
}

func joinRel(rel, name string) string {
	if rel == "" {
		return name
	}
	return rel + "/" + name
}

// buildOne constructs the manifest for the single directory rel
// (relative to root), covering its immediate children only.
func buildOne(root, rel string, exclude []string, urlFor URLFunc) (Manifest, error) {
	dirPath := filepath.Join(root, filepath.FromSlash(rel))
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("manifest: read dir %q: %w", dirPath, err)
	}

	m := make(Manifest, len(entries))
	for _, e := range entries {
		name := e.Name()
		if IsReservedName(name) {
			return nil, fmt.Errorf("manifest: %q uses the reserved manifest file name", joinRel(rel, name))
		}

		childRel := joinRel(rel, name)
		if matchesAny(exclude, childRel) {
			continue
		}

		if e.IsDir() {
			m[name] = Entry{URL: urlFor(childRel, true)}
			continue
		}

		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("manifest: stat %q: %w", childRel, err)
		}
		if !info.Mode().IsRegular() {
			// Symlinks and other special files: spec.md's non-goals
			// exclude symlink semantics across the fake/real boundary.
			continue
		}

		size := info.Size()
		mtime, ctime := statTimes(info)
		m[name] = Entry{Size: &size, MTime: mtime, CTime: ctime, URL: urlFor(childRel, false)}
	}
	return m, nil
}

func statTimes(info os.FileInfo) (mtime, ctime float64) {
	mtime = float64(info.ModTime().UnixNano()) / 1e9
	ctime = mtime
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		ctime = float64(st.Ctim.Sec) + float64(st.Ctim.Nsec)/1e9
	}
	return mtime, ctime
}
