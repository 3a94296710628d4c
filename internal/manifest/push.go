package manifest

import (
	"context"
	"fmt"
	"strings"

	"github.com/ffbox/ffbox/internal/backend"
	"github.com/ffbox/ffbox/pkg/ferrors"
)

// Push walks localDir and writes one manifest object per directory to
// <baseURL>/<rel>/.ffbox_dir_meta.json via be, recording each child's
// url as its fully qualified <baseURL>/<rel>/<name> locator.
func Push(ctx context.Context, be backend.Backend, localDir, baseURL string, workers int, exclude []string) error {
	base := strings.TrimRight(baseURL, "/")

	urlFor := func(rel string, isDir bool) string {
		u := base + "/" + rel
		if isDir {
			u += "/"
		}
		return u
	}

	put := func(relDir string, m Manifest) error {
		data, err := Encode(m)
		if err != nil {
			return err
		}
		key := relDir + "/" + FileName
		if relDir == "" {
			key = FileName
		}
		if err := be.Put(ctx, key, data); err != nil {
			return fmt.Errorf("manifest: publish %q: %w", key, err)
		}
		return nil
	}

	return Walk(localDir, workers, exclude, urlFor, put)
}

// Probe reports whether prefix is served in manifest mode: a mount
// selects manifest mode when <prefix>/.ffbox_dir_meta.json exists,
// listing mode otherwise.
func Probe(ctx context.Context, be backend.Backend, prefix string) (bool, error) {
	key := strings.TrimRight(prefix, "/") + "/" + FileName
	if prefix == "" {
		key = FileName
	}
	_, err := be.Head(ctx, key)
	if err != nil {
		if ferrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
