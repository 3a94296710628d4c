package manifest

import (
	"fmt"
	"os"
	"path/filepath"
)

// Deploy writes .ffbox_dir_meta.json into every directory of localDir
// without uploading anything, recording each child's url as its
// absolute local path (deploy mode, per spec.md §9: a url starting
// with "/" denotes a local absolute path).
func Deploy(localDir string, workers int, exclude []string) error {
	absRoot, err := filepath.Abs(localDir)
	if err != nil {
		return fmt.Errorf("manifest: resolve %q: %w", localDir, err)
	}

	urlFor := func(rel string, _ bool) string {
		return filepath.Join(absRoot, filepath.FromSlash(rel))
	}

	put := func(relDir string, m Manifest) error {
		data, err := Encode(m)
		if err != nil {
			return err
		}
		dirPath := filepath.Join(localDir, filepath.FromSlash(relDir))
		dest := filepath.Join(dirPath, FileName)
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return fmt.Errorf("manifest: write %q: %w", dest, err)
		}
		return nil
	}

	return Walk(localDir, workers, exclude, urlFor, put)
}
