package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ffbox/ffbox/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ffbox",
	Short: "Mount, push, and deploy ffbox object trees",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "path to a YAML configuration file")
	rootCmd.AddCommand(mountCmd, pushCmd, deployCmd)
}

// loadConfig reads cfgFile if set, applies FFBOX_* environment
// overrides, and validates the result, mirroring the teacher's
// config.Configuration.LoadFromFile/LoadFromEnv/Validate sequence.
func loadConfig() (*config.Configuration, error) {
	cfg := config.NewDefault()
	if cfgFile != "" {
		if err := cfg.LoadFromFile(cfgFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(cfg *config.Configuration) {
	level := slog.LevelInfo
	switch cfg.Global.LogLevel {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Monitoring.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}
