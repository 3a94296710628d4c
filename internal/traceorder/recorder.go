// Package traceorder records the order a command reads files under a
// directory, using a process tracer (strace by default) as an external
// collaborator: this package owns parsing and deduplicating the
// tracer's output, not the tracer itself.
package traceorder

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// LogFileName is the path, relative to a push directory's .ffbox
// directory, that Record writes.
const LogFileName = "read_order.log"

// Tracer produces raw tracer output lines for cmd, run with cwd as its
// working directory. The default implementation shells out to strace;
// tests substitute a canned line source.
type Tracer interface {
	Trace(cmd, cwd string) ([]string, error)
}

// StraceTracer runs `strace -f -e trace=...` against cmd via bash -c,
// mirroring the original tool's log_file_read_order helper.
type StraceTracer struct{}

var traceSyscalls = "open,openat,stat,lstat,newfstatat"

// Trace shells out to strace, capturing its stderr (where ptrace
// output lands) since the traced command's own stdout/stderr pass
// through untouched.
func (StraceTracer) Trace(cmd, cwd string) ([]string, error) {
	sh := exec.Command("strace", "-f", "-e", "trace="+traceSyscalls, "bash", "-c", cmd)
	sh.Dir = cwd
	var stderr bytes.Buffer
	sh.Stderr = &stderr
	sh.Stdout = os.Stdout

	// strace exits with the traced command's exit code, which is often
	// non-zero for the short inference smoke-runs this wraps; the trace
	// output collected so far is still useful, so a run error here is
	// not fatal.
	_ = sh.Run()

	var lines []string
	scanner := bufio.NewScanner(&stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// quotedPath extracts the first double-quoted argument from an strace
// line, e.g. `openat(AT_FDCWD, "/path/to/file", O_RDONLY) = 3`.
var quotedPath = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)

type entry struct {
	op      string
	relPath string
	isDir   bool
}

// Record runs tracer against cmd (rooted at pushDir), parses the
// resulting lines, and writes the deduplicated, push-dir-relative
// read order to <pushDir>/.ffbox/read_order.log. Lines outside pushDir
// are discarded; (op, relpath) pairs are deduplicated keeping the
// first occurrence; directory entries get a trailing "/".
func Record(tracer Tracer, cmd, pushDir string) error {
	absPushDir, err := filepath.Abs(pushDir)
	if err != nil {
		return fmt.Errorf("traceorder: resolve push dir %q: %w", pushDir, err)
	}

	lines, err := tracer.Trace(cmd, absPushDir)
	if err != nil {
		return fmt.Errorf("traceorder: trace %q: %w", cmd, err)
	}

	entries := parseEntries(lines, absPushDir)

	ffboxDir := filepath.Join(absPushDir, ".ffbox")
	if err := os.MkdirAll(ffboxDir, 0o755); err != nil {
		return fmt.Errorf("traceorder: mkdir %q: %w", ffboxDir, err)
	}

	logPath := filepath.Join(ffboxDir, LogFileName)
	f, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("traceorder: create %q: %w", logPath, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, e := range entries {
		relPath := e.relPath
		if e.isDir {
			relPath += "/"
		}
		if _, err := fmt.Fprintln(w, e.op+" "+relPath); err != nil {
			return fmt.Errorf("traceorder: write %q: %w", logPath, err)
		}
	}
	return w.Flush()
}

func parseEntries(lines []string, pushDir string) []entry {
	seen := make(map[string]struct{})
	var out []entry

	for _, line := range lines {
		op := syscallName(line)
		if op == "" {
			continue
		}
		match := quotedPath.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		path := match[1]
		if !filepath.IsAbs(path) {
			continue
		}
		if !strings.HasPrefix(path, pushDir+string(filepath.Separator)) && path != pushDir {
			continue
		}

		rel, err := filepath.Rel(pushDir, path)
		if err != nil || rel == "." {
			continue
		}

		key := op + "\x00" + rel
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		isDir := isKnownDir(path)
		out = append(out, entry{op: op, relPath: rel, isDir: isDir})
	}
	return out
}

func syscallName(line string) string {
	for _, name := range []string{"openat", "open", "newfstatat", "lstat", "stat"} {
		if strings.Contains(line, name+"(") {
			return name
		}
	}
	return ""
}

func isKnownDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
