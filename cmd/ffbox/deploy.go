package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ffbox/ffbox/internal/manifest"
)

var deployWorkers int

var deployCmd = &cobra.Command{
	Use:   "deploy <local_dir>",
	Short: "Write manifests pointing back at a local directory, without uploading objects",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeploy,
}

func init() {
	deployCmd.Flags().IntVar(&deployWorkers, "workers", 16, "concurrent manifest-writer workers")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	localDir := args[0]

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

	if err := manifest.Deploy(absDir, deployWorkers, cfg.Push.Exclude); err != nil {
		return fmt.Errorf("deploy %q: %w", absDir, err)
	}
	return nil
}
