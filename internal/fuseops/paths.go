package fuseops

import (
	"math"
	"strings"
	"time"
)

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func baseName(p string) string {
	p = strings.TrimSuffix(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// listPrefix returns the LIST prefix for a mount-relative directory
// path: "" at the root, "<path>/" otherwise.
func listPrefix(dirPath string) string {
	if dirPath == "" {
		return ""
	}
	return dirPath + "/"
}

func timeFromUnixFloat(v float64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9))
}

func safeInt64ToUint64(i int64) uint64 {
	if i < 0 {
		return 0
	}
	return uint64(i)
}

func safeIntToUint32(i int) uint32 {
	if i < 0 {
		return 0
	}
	if i > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(i)
}

// isLocalURL reports whether url denotes a local absolute path (deploy
// mode) rather than an object-store locator, per spec.md §9's manifest
// URL semantics: a url starting with "/" is local.
func isLocalURL(url string) bool {
	return strings.HasPrefix(url, "/")
}
