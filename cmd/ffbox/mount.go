package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ffbox/ffbox/internal/mount"
)

var (
	mountCacheDir string
	mountClean    bool
	mountWritable bool
)

var mountCmd = &cobra.Command{
	Use:   "mount <source> <mountpoint>",
	Short: "Mount an s3:// bucket or local directory as a lazily-materialized FUSE tree",
	Args:  cobra.ExactArgs(2),
	RunE:  runMount,
}

func init() {
	mountCmd.Flags().StringVar(&mountCacheDir, "cache-dir", "", "local cache directory (default: a temp directory)")
	mountCmd.Flags().BoolVar(&mountClean, "clean", false, "remove any existing cache directory contents before mounting")
	mountCmd.Flags().BoolVar(&mountWritable, "writable", false, "allow local writes (mkdir/create/write) against the cache; writes never propagate to the backend")
}

func runMount(cmd *cobra.Command, args []string) error {
	source, mountPoint := args[0], args[1]

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg)

	if mountWritable {
		cfg.Mount.ReadOnly = false
	}

	if mountClean && mountCacheDir != "" {
		if err := os.RemoveAll(mountCacheDir); err != nil {
			return fmt.Errorf("clean cache dir %q: %w", mountCacheDir, err)
		}
	}

	mgr := mount.New(mount.Options{
		Source:     source,
		MountPoint: mountPoint,
		CacheDir:   mountCacheDir,
		Config:     *cfg,
	})

	ctx := cmd.Context()
	if err := mgr.Mount(ctx); err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		mgr.Wait()
		close(done)
	}()

	select {
	case <-sigCh:
		return mgr.Unmount()
	case <-done:
		return nil
	}
}
