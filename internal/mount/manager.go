// Package mount orchestrates a single ffbox mount: constructing the
// object-store backend, the local cache store, the fuseops.FileSystem,
// and the FUSE server, then tying their lifecycles together. Adapted
// from the teacher's internal/fuse.MountManager (mount/unmount/stats)
// and internal/adapter.Adapter (component wiring order, start/stop).
package mount

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/ffbox/ffbox/internal/backend"
	"github.com/ffbox/ffbox/internal/backend/localbackend"
	"github.com/ffbox/ffbox/internal/backend/s3backend"
	"github.com/ffbox/ffbox/internal/cachefs"
	"github.com/ffbox/ffbox/internal/config"
	"github.com/ffbox/ffbox/internal/fuseops"
	"github.com/ffbox/ffbox/internal/manifest"
	"github.com/ffbox/ffbox/internal/metrics"
	"github.com/ffbox/ffbox/internal/prefetch"
)

// Options configures one mount.
type Options struct {
	// Source is either an s3://bucket/prefix URL or an absolute local
	// directory path.
	Source string
	// MountPoint is where the tree is mounted.
	MountPoint string
	// CacheDir is the local on-disk cache root; a temp dir under
	// os.TempDir() is used when empty.
	CacheDir string

	Config config.Configuration
}

// Manager owns one mount's lifecycle: Mount builds every component and
// starts serving; Unmount tears them down in reverse order.
type Manager struct {
	opts Options

	be        backend.Backend
	cache     *cachefs.Store
	fsys      *fuseops.FileSystem
	server    *fuse.Server
	collector *metrics.Collector
	mounted   bool
}

// New returns a Manager for opts. Call Mount to actually start serving.
func New(opts Options) *Manager {
	return &Manager{opts: opts}
}

// Mount builds the backend, cache store, and FUSE node tree for this
// mount, probes for manifest-mode, and starts the FUSE server in the
// background. If cfg.Prefetch.Enabled, a prefetch.Prefetcher replays
// the source's recorded read order against the mount once serving
// starts.
func (m *Manager) Mount(ctx context.Context) error {
	if m.mounted {
		return fmt.Errorf("mount: already mounted at %s", m.opts.MountPoint)
	}

	if err := m.validateMountPoint(); err != nil {
		return fmt.Errorf("mount: invalid mount point: %w", err)
	}

	be, err := ResolveBackend(ctx, m.opts.Source, m.opts.Config.Backend)
	if err != nil {
		return fmt.Errorf("mount: resolve backend for %q: %w", m.opts.Source, err)
	}
	m.be = be

	cacheDir := m.opts.CacheDir
	if cacheDir == "" {
		cacheDir, err = os.MkdirTemp("", "ffbox-cache-*")
		if err != nil {
			return fmt.Errorf("mount: create cache dir: %w", err)
		}
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("mount: mkdir cache dir %q: %w", cacheDir, err)
	}
	m.cache = cachefs.New(cacheDir)

	manifestMode, err := manifest.Probe(ctx, be, "")
	if err != nil {
		slog.Warn("mount: manifest probe failed, falling back to listing mode", "error", err)
		manifestMode = false
	}

	fsConfig := fuseops.DefaultConfig()
	fsConfig.ChunkSize = config.ParseChunkSize(m.opts.Config.Mount.ChunkSize)
	fsConfig.MaxWorkers = m.opts.Config.Mount.MaxWorkers
	fsConfig.ReadOnly = m.opts.Config.Mount.ReadOnly

	m.fsys = fuseops.New(be, m.cache, manifestMode, fsConfig)

	if m.opts.Config.Monitoring.Metrics.Enabled {
		collector, err := metrics.NewCollector(&metrics.Config{
			Enabled:    true,
			Port:       m.opts.Config.Global.MetricsPort,
			Path:       "/metrics",
			Namespace:  "ffbox",
			Labels:     m.opts.Config.Monitoring.Metrics.CustomLabels,
			UpdateInterval: 30 * time.Second,
		})
		if err != nil {
			slog.Warn("mount: metrics collector init failed, continuing without it", "error", err)
		} else {
			if err := collector.Start(context.Background()); err != nil {
				slog.Warn("mount: metrics server start failed", "error", err)
			}
			m.collector = collector
			m.fsys.SetMetrics(collector)
		}
	}

	server, err := fs.Mount(m.opts.MountPoint, m.fsys.Root(), buildFUSEOptions(m.opts.Config.Mount))
	if err != nil {
		return fmt.Errorf("mount: fuse mount %q: %w", m.opts.MountPoint, err)
	}
	m.server = server
	m.mounted = true

	if err := waitUntilMounted(m.opts.MountPoint, 5*time.Second); err != nil {
		m.mounted = false
		_ = server.Unmount()
		m.server = nil
		return fmt.Errorf("mount: %q never became visible in /proc/mounts: %w", m.opts.MountPoint, err)
	}

	slog.Info("ffbox mounted", "source", m.opts.Source, "mountpoint", m.opts.MountPoint, "manifest_mode", manifestMode)

	go func() {
		m.server.Wait()
		m.mounted = false
		slog.Info("ffbox fuse server stopped", "mountpoint", m.opts.MountPoint)
	}()

	if m.opts.Config.Prefetch.Enabled {
		workers := m.opts.Config.Prefetch.Workers
		collector := m.collector
		go func() {
			p := prefetch.New(be, m.opts.MountPoint, workers)
			if collector != nil {
				p.SetMetrics(collector)
			}
			if err := p.Run(context.Background()); err != nil {
				slog.Warn("mount: prefetch run failed", "error", err)
			}
		}()
	}

	return nil
}

// Unmount stops serving and unmounts the filesystem, forcing a lazy
// unmount if the normal path fails.
func (m *Manager) Unmount() error {
	if !m.mounted || m.server == nil {
		return fmt.Errorf("mount: not mounted")
	}

	if err := m.server.Unmount(); err != nil {
		slog.Warn("mount: normal unmount failed, forcing", "error", err)
		if forceErr := syscall.Unmount(m.opts.MountPoint, syscall.MNT_DETACH); forceErr != nil {
			return fmt.Errorf("mount: unmount failed: %w (force also failed: %v)", err, forceErr)
		}
	}

	m.mounted = false
	m.server = nil

	if m.collector != nil {
		if err := m.collector.Stop(context.Background()); err != nil {
			slog.Warn("mount: metrics server stop failed", "error", err)
		}
		m.collector = nil
	}

	return nil
}

// Wait blocks until the FUSE server stops serving.
func (m *Manager) Wait() {
	if m.server != nil {
		m.server.Wait()
	}
}

// IsMounted reports whether the filesystem is currently mounted.
func (m *Manager) IsMounted() bool {
	return m.mounted
}

// Stats returns the underlying filesystem's operation counters.
func (m *Manager) Stats() fuseops.Stats {
	return m.fsys.Stats().Snapshot()
}

func (m *Manager) validateMountPoint() error {
	if m.opts.MountPoint == "" {
		return fmt.Errorf("mount point cannot be empty")
	}
	info, err := os.Stat(m.opts.MountPoint)
	if err != nil {
		return fmt.Errorf("mount point %q: %w", m.opts.MountPoint, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mount point %q is not a directory", m.opts.MountPoint)
	}
	return nil
}

// waitUntilMounted polls /proc/mounts for mountPoint until it appears or
// timeout elapses. fs.Mount returns once the kernel handshake completes,
// but the mount doesn't become visible to other processes (and to
// os.path.ismount-style checks) until the mount table is updated; this
// closes that gap the way the original CLI's post-mount poll loop did.
func waitUntilMounted(mountPoint string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if isMounted(mountPoint) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out after %s", timeout)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func isMounted(mountPoint string) bool {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return false
	}
	clean := filepath.Clean(mountPoint)
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == clean {
			return true
		}
	}
	return false
}

func buildFUSEOptions(mc config.MountConfig) *fs.Options {
	attrTimeout := time.Second
	entryTimeout := time.Second
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:        "ffbox",
			FsName:      "ffbox",
			DirectMount: true,
			AllowOther:  mc.AllowOther,
		},
		AttrTimeout:  &attrTimeout,
		EntryTimeout: &entryTimeout,
	}
	if mc.ReadOnly {
		opts.Options = append(opts.Options, "ro")
	}
	return opts
}

// ResolveBackend dispatches on source's scheme: s3:// builds an
// s3backend.Backend, anything else is treated as a local directory
// path backed by localbackend.Backend.
func ResolveBackend(ctx context.Context, source string, cfg config.BackendConfig) (backend.Backend, error) {
	if strings.HasPrefix(source, "s3://") {
		rest := strings.TrimPrefix(source, "s3://")
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, fmt.Errorf("s3 source %q: bucket name cannot be empty", source)
		}
		return s3backend.New(ctx, bucket, prefix, s3backend.Config{
			Region:           cfg.Region,
			Endpoint:         cfg.Endpoint,
			ForcePathStyle:   cfg.ForcePathStyle,
			Anonymous:        cfg.Anonymous,
			MaxRetries:       cfg.MaxRetries,
			RequestTimeout:   cfg.RequestTimeout,
			PoolSize:         cfg.PoolSize,
			EnableCargoShip:  cfg.EnableCargoShip,
			TargetThroughput: float64(cfg.TargetThroughput),
		})
	}

	abs, err := filepath.Abs(source)
	if err != nil {
		return nil, fmt.Errorf("local source %q: %w", source, err)
	}
	return localbackend.New(abs), nil
}
