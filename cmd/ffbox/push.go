package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ffbox/ffbox/internal/manifest"
	"github.com/ffbox/ffbox/internal/mount"
	"github.com/ffbox/ffbox/internal/traceorder"
)

var pushWorkers int

var pushCmd = &cobra.Command{
	Use:   "push <local_dir> <s3_url>",
	Short: "Publish a local directory's manifest and objects to a bucket",
	Args:  cobra.ExactArgs(2),
	RunE:  runPush,
}

func init() {
	pushCmd.Flags().IntVar(&pushWorkers, "workers", 16, "concurrent upload workers")
}

func runPush(cmd *cobra.Command, args []string) error {
	localDir, baseURL := args[0], args[1]

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg)

	absDir, err := filepath.Abs(localDir)
	if err != nil {
		return fmt.Errorf("resolve local dir %q: %w", localDir, err)
	}

	if err := cfg.LoadPushConfig(absDir); err != nil {
		return fmt.Errorf("load push config for %q: %w", absDir, err)
	}

	runCmd := cfg.Push.Scripts.ExampleRun
	if runCmd == "" {
		runCmd = cfg.Push.Scripts.Run
	}
	if runCmd != "" {
		if err := traceorder.Record(traceorder.StraceTracer{}, runCmd, absDir); err != nil {
			return fmt.Errorf("record read order: %w", err)
		}
	}

	ctx := cmd.Context()
	be, err := mount.ResolveBackend(ctx, baseURL, cfg.Backend)
	if err != nil {
		return fmt.Errorf("resolve backend for %q: %w", baseURL, err)
	}

	if err := manifest.Push(ctx, be, absDir, baseURL, pushWorkers, cfg.Push.Exclude); err != nil {
		return fmt.Errorf("push %q to %q: %w", absDir, baseURL, err)
	}
	return nil
}
