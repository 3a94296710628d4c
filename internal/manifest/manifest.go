// Package manifest implements the per-directory manifest codec used by
// deploy and push: a JSON mapping from child name to size/mtime/ctime/
// url, written as .ffbox_dir_meta.json so that directory listings and
// stat calls can be answered without enumerating the object store.
package manifest

import (
	"encoding/json"
	"fmt"
)

// FileName is the reserved manifest file name. It must never appear as
// a user file in a deployed or pushed tree.
const FileName = ".ffbox_dir_meta.json"

// Entry describes one child of a directory. A nil Size marks a
// subdirectory; a non-nil Size marks a regular file.
type Entry struct {
	Size  *int64  `json:"size,omitempty"`
	MTime float64 `json:"mtime,omitempty"`
	CTime float64 `json:"ctime,omitempty"`
	URL   string  `json:"url"`
}

// IsDir reports whether this entry describes a subdirectory.
func (e Entry) IsDir() bool {
	return e.Size == nil
}

// Manifest is the full mapping for one directory, keyed by child name.
type Manifest map[string]Entry

// IsReservedName reports whether name collides with the manifest file
// name, in which case it must never be accepted as a user file.
func IsReservedName(name string) bool {
	return name == FileName
}

// Encode serializes a Manifest to its on-disk/on-object JSON form.
func Encode(m Manifest) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("manifest: encode: %w", err)
	}
	return data, nil
}

// Decode parses a manifest's JSON form.
func Decode(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: decode: %w", err)
	}
	return m, nil
}
