package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("Expected LogLevel to be INFO, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsPort != 8080 {
		t.Errorf("Expected MetricsPort to be 8080, got %d", cfg.Global.MetricsPort)
	}
	if cfg.Global.HealthPort != 8081 {
		t.Errorf("Expected HealthPort to be 8081, got %d", cfg.Global.HealthPort)
	}

	if cfg.Mount.ChunkSize != "5MB" {
		t.Errorf("Expected ChunkSize to be 5MB, got %s", cfg.Mount.ChunkSize)
	}
	if cfg.Mount.MaxWorkers != 10 {
		t.Errorf("Expected MaxWorkers to be 10, got %d", cfg.Mount.MaxWorkers)
	}
	if !cfg.Mount.ReadOnly {
		t.Error("Expected mount to default to read-only")
	}

	if cfg.Backend.PoolSize != 8 {
		t.Errorf("Expected PoolSize to be 8, got %d", cfg.Backend.PoolSize)
	}
	if cfg.Backend.MaxRetries != 3 {
		t.Errorf("Expected MaxRetries to be 3, got %d", cfg.Backend.MaxRetries)
	}
	if !cfg.Backend.EnableCargoShip {
		t.Error("Expected EnableCargoShip to be true")
	}

	if cfg.Prefetch.Workers != 200 {
		t.Errorf("Expected 200 prefetch workers, got %d", cfg.Prefetch.Workers)
	}
	if !cfg.Prefetch.Enabled {
		t.Error("Expected prefetch to be enabled by default")
	}

	if cfg.Network.Retry.MaxAttempts != 3 {
		t.Errorf("Expected retry MaxAttempts to be 3, got %d", cfg.Network.Retry.MaxAttempts)
	}
	if !cfg.Network.CircuitBreaker.Enabled {
		t.Error("Expected circuit breaker to be enabled by default")
	}

	if !cfg.Monitoring.Metrics.Enabled {
		t.Error("Expected metrics to be enabled by default")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
global:
  log_level: DEBUG
  metrics_port: 9090
  health_port: 9091
mount:
  chunk_size: "10MB"
  max_workers: 20
backend:
  region: "us-west-2"
  pool_size: 16
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Global.LogLevel != "DEBUG" {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", cfg.Global.LogLevel)
	}
	if cfg.Mount.ChunkSize != "10MB" {
		t.Errorf("Expected ChunkSize to be 10MB, got %s", cfg.Mount.ChunkSize)
	}
	if cfg.Backend.Region != "us-west-2" {
		t.Errorf("Expected Region to be us-west-2, got %s", cfg.Backend.Region)
	}
	if cfg.Backend.PoolSize != 16 {
		t.Errorf("Expected PoolSize to be 16, got %d", cfg.Backend.PoolSize)
	}
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.LoadFromFile("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FFBOX_LOG_LEVEL", "WARN")
	t.Setenv("FFBOX_CHUNK_SIZE", "1MB")
	t.Setenv("FFBOX_MAX_WORKERS", "42")
	t.Setenv("FFBOX_REGION", "eu-central-1")
	t.Setenv("FFBOX_POOL_SIZE", "4")
	t.Setenv("FFBOX_PREFETCH_WORKERS", "50")
	t.Setenv("FFBOX_PREFETCH_ENABLED", "false")

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}

	if cfg.Global.LogLevel != "WARN" {
		t.Errorf("Expected LogLevel to be WARN, got %s", cfg.Global.LogLevel)
	}
	if cfg.Mount.ChunkSize != "1MB" {
		t.Errorf("Expected ChunkSize to be 1MB, got %s", cfg.Mount.ChunkSize)
	}
	if cfg.Mount.MaxWorkers != 42 {
		t.Errorf("Expected MaxWorkers to be 42, got %d", cfg.Mount.MaxWorkers)
	}
	if cfg.Backend.Region != "eu-central-1" {
		t.Errorf("Expected Region to be eu-central-1, got %s", cfg.Backend.Region)
	}
	if cfg.Backend.PoolSize != 4 {
		t.Errorf("Expected PoolSize to be 4, got %d", cfg.Backend.PoolSize)
	}
	if cfg.Prefetch.Workers != 50 {
		t.Errorf("Expected Workers to be 50, got %d", cfg.Prefetch.Workers)
	}
	if cfg.Prefetch.Enabled {
		t.Error("Expected prefetch to be disabled")
	}
}

func TestSaveToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.yaml")

	cfg := NewDefault()
	cfg.Global.LogLevel = "DEBUG"

	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	loaded := NewDefault()
	if err := loaded.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile after save failed: %v", err)
	}
	if loaded.Global.LogLevel != "DEBUG" {
		t.Errorf("Expected LogLevel to round-trip as DEBUG, got %s", loaded.Global.LogLevel)
	}
}

func TestValidate(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got: %v", err)
	}
}

func TestValidate_InvalidMaxWorkers(t *testing.T) {
	cfg := NewDefault()
	cfg.Mount.MaxWorkers = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for zero max_workers")
	}
}

func TestValidate_InvalidPoolSize(t *testing.T) {
	cfg := NewDefault()
	cfg.Backend.PoolSize = -1
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for negative pool_size")
	}
}

func TestValidate_SamePorts(t *testing.T) {
	cfg := NewDefault()
	cfg.Global.HealthPort = cfg.Global.MetricsPort
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for identical metrics/health ports")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := NewDefault()
	cfg.Global.LogLevel = "VERBOSE"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for invalid log level")
	}
}

func TestLoadPushConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".ffbox"), 0755); err != nil {
		t.Fatal(err)
	}
	content := `{"exclude": ["*.tmp", ".git/**"], "scripts": {"run": "python train.py"}}`
	if err := os.WriteFile(filepath.Join(dir, ".ffbox", "config.json"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefault()
	if err := cfg.LoadPushConfig(dir); err != nil {
		t.Fatalf("LoadPushConfig failed: %v", err)
	}

	if len(cfg.Push.Exclude) != 2 || cfg.Push.Exclude[0] != "*.tmp" {
		t.Errorf("Expected exclude patterns to be loaded, got %v", cfg.Push.Exclude)
	}
	if cfg.Push.Scripts.Run != "python train.py" {
		t.Errorf("Expected scripts.run to be loaded, got %q", cfg.Push.Scripts.Run)
	}
}

func TestLoadPushConfig_Missing(t *testing.T) {
	dir := t.TempDir()
	cfg := NewDefault()
	if err := cfg.LoadPushConfig(dir); err != nil {
		t.Errorf("Expected no error for missing push config, got: %v", err)
	}
	if cfg.Push.Exclude != nil {
		t.Error("Expected Exclude to remain nil when push config is missing")
	}
}

func TestNetworkDefaults(t *testing.T) {
	cfg := NewDefault()
	if cfg.Network.Timeouts.Connect != 10*time.Second {
		t.Errorf("Expected connect timeout of 10s, got %v", cfg.Network.Timeouts.Connect)
	}
	if cfg.Network.CircuitBreaker.FailureThreshold != 5 {
		t.Errorf("Expected failure threshold of 5, got %d", cfg.Network.CircuitBreaker.FailureThreshold)
	}
}

func TestParseChunkSize(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"5MB", 5 * 1024 * 1024},
		{"512KB", 512 * 1024},
		{"1GB", 1024 * 1024 * 1024},
		{"100B", 100},
		{"garbage", 5 * 1024 * 1024},
		{"", 5 * 1024 * 1024},
	}
	for _, c := range cases {
		if got := ParseChunkSize(c.in); got != c.want {
			t.Errorf("ParseChunkSize(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}
