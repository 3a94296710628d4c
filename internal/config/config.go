package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete mount/push/deploy configuration.
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Mount      MountConfig      `yaml:"mount"`
	Backend    BackendConfig    `yaml:"backend"`
	Cache      CacheConfig      `yaml:"cache"`
	Prefetch   PrefetchConfig   `yaml:"prefetch"`
	Network    NetworkConfig    `yaml:"network"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Push       PushConfig       `yaml:"push"`
}

// GlobalConfig represents global application settings.
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	MetricsPort int    `yaml:"metrics_port"`
	HealthPort  int    `yaml:"health_port"`
	ProfilePort int    `yaml:"profile_port"`
}

// MountConfig represents the FUSE mount's chunking and worker settings.
type MountConfig struct {
	ChunkSize    string `yaml:"chunk_size"`
	MaxWorkers   int    `yaml:"max_workers"`
	AllowOther   bool   `yaml:"allow_other"`
	ReadOnly     bool   `yaml:"read_only"`
	WaitForMount bool   `yaml:"wait_for_mount"`
}

// BackendConfig represents the object-store backend's connection settings.
type BackendConfig struct {
	Region           string `yaml:"region"`
	Endpoint         string `yaml:"endpoint"`
	ForcePathStyle   bool   `yaml:"force_path_style"`
	Anonymous        bool   `yaml:"anonymous"`
	MaxRetries       int    `yaml:"max_retries"`
	RequestTimeout   time.Duration
	PoolSize         int  `yaml:"pool_size"`
	EnableCargoShip  bool `yaml:"enable_cargoship"`
	TargetThroughput int  `yaml:"target_throughput_mbps"`
}

// CacheConfig represents the local on-disk cache's directory and
// sparse-file completion tracking.
type CacheConfig struct {
	Directory       string `yaml:"directory"`
	PersistentIndex bool   `yaml:"persistent_index"`
}

// PrefetchConfig represents the trace-replay prefetcher's pool size.
type PrefetchConfig struct {
	Enabled    bool `yaml:"enabled"`
	Workers    int  `yaml:"workers"`
	TraceOrder bool `yaml:"trace_order"`
}

// NetworkConfig represents network configuration shared by the backend.
type NetworkConfig struct {
	Timeouts       TimeoutConfig        `yaml:"timeouts"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// TimeoutConfig represents timeout settings.
type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect"`
	Read    time.Duration `yaml:"read"`
	Write   time.Duration `yaml:"write"`
}

// RetryConfig represents retry settings.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig represents circuit breaker settings.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// MonitoringConfig represents monitoring settings.
type MonitoringConfig struct {
	Metrics      MetricsConfig      `yaml:"metrics"`
	HealthChecks HealthChecksConfig `yaml:"health_checks"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// MetricsConfig represents metrics settings.
type MetricsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Prometheus   bool              `yaml:"prometheus"`
	CustomLabels map[string]string `yaml:"custom_labels"`
}

// HealthChecksConfig represents health check settings.
type HealthChecksConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LoggingConfig represents logging settings.
type LoggingConfig struct {
	Structured bool   `yaml:"structured"`
	Format     string `yaml:"format"`
}

// PushConfig mirrors the per-tree `.ffbox/config.json` that `push` reads:
// exclude glob patterns passed through to the upload walk, and the
// scripts `push` runs to record the order in which files are read.
type PushConfig struct {
	Exclude []string      `yaml:"exclude"`
	Scripts ScriptsConfig `yaml:"scripts"`
}

// ScriptsConfig names the commands `push` runs under the read-order
// recorder before uploading. ExampleRun takes precedence over Run when
// both are set.
type ScriptsConfig struct {
	Run        string `yaml:"run"`
	ExampleRun string `yaml:"example_run"`
}

// NewDefault returns a configuration with sensible defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			LogFile:     "",
			MetricsPort: 8080,
			HealthPort:  8081,
			ProfilePort: 6060,
		},
		Mount: MountConfig{
			ChunkSize:    "5MB",
			MaxWorkers:   10,
			AllowOther:   false,
			ReadOnly:     true,
			WaitForMount: true,
		},
		Backend: BackendConfig{
			Region:           "us-east-1",
			ForcePathStyle:   false,
			Anonymous:        false,
			MaxRetries:       3,
			RequestTimeout:   30 * time.Second,
			PoolSize:         8,
			EnableCargoShip:  true,
			TargetThroughput: 0,
		},
		Cache: CacheConfig{
			Directory:       "",
			PersistentIndex: true,
		},
		Prefetch: PrefetchConfig{
			Enabled:    true,
			Workers:    200,
			TraceOrder: true,
		},
		Network: NetworkConfig{
			Timeouts: TimeoutConfig{
				Connect: 10 * time.Second,
				Read:    30 * time.Second,
				Write:   300 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   1 * time.Second,
				MaxDelay:    30 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          60 * time.Second,
			},
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:    true,
				Prometheus: true,
				CustomLabels: map[string]string{
					"service": "ffbox",
				},
			},
			HealthChecks: HealthChecksConfig{
				Enabled:  true,
				Interval: 30 * time.Second,
				Timeout:  5 * time.Second,
			},
			Logging: LoggingConfig{
				Structured: true,
				Format:     "json",
			},
		},
		Push: PushConfig{
			Exclude: nil,
			Scripts: ScriptsConfig{},
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration overrides from FFBOX_* environment
// variables.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("FFBOX_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("FFBOX_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("FFBOX_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.MetricsPort = port
		}
	}

	if val := os.Getenv("FFBOX_CHUNK_SIZE"); val != "" {
		c.Mount.ChunkSize = val
	}
	if val := os.Getenv("FFBOX_MAX_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil {
			c.Mount.MaxWorkers = workers
		}
	}

	if val := os.Getenv("FFBOX_REGION"); val != "" {
		c.Backend.Region = val
	}
	if val := os.Getenv("FFBOX_ENDPOINT"); val != "" {
		c.Backend.Endpoint = val
	}
	if val := os.Getenv("FFBOX_ANONYMOUS"); val != "" {
		c.Backend.Anonymous = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("FFBOX_POOL_SIZE"); val != "" {
		if poolSize, err := strconv.Atoi(val); err == nil {
			c.Backend.PoolSize = poolSize
		}
	}

	if val := os.Getenv("FFBOX_CACHE_DIR"); val != "" {
		c.Cache.Directory = val
	}

	if val := os.Getenv("FFBOX_PREFETCH_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil {
			c.Prefetch.Workers = workers
		}
	}
	if val := os.Getenv("FFBOX_PREFETCH_ENABLED"); val != "" {
		c.Prefetch.Enabled = strings.ToLower(val) == "true"
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Configuration) Validate() error {
	if c.Mount.MaxWorkers <= 0 {
		return fmt.Errorf("max_workers must be greater than 0")
	}

	if c.Backend.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be greater than 0")
	}

	if c.Prefetch.Workers <= 0 {
		return fmt.Errorf("prefetch workers must be greater than 0")
	}

	if c.Global.MetricsPort == c.Global.HealthPort {
		return fmt.Errorf("metrics_port and health_port cannot be the same")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}

// ParseChunkSize parses a human-readable size string (e.g. "5MB",
// "512KB") into bytes, falling back to 5MB for anything it can't parse.
func ParseChunkSize(sizeStr string) int64 {
	sizeStr = strings.ToUpper(strings.TrimSpace(sizeStr))

	var multiplier int64 = 1
	var numStr string
	switch {
	case strings.HasSuffix(sizeStr, "GB"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(sizeStr, "GB")
	case strings.HasSuffix(sizeStr, "MB"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(sizeStr, "MB")
	case strings.HasSuffix(sizeStr, "KB"):
		multiplier = 1024
		numStr = strings.TrimSuffix(sizeStr, "KB")
	case strings.HasSuffix(sizeStr, "B"):
		numStr = strings.TrimSuffix(sizeStr, "B")
	default:
		numStr = sizeStr
	}

	const defaultChunkSize = 5 * 1024 * 1024
	if numStr == "" {
		return defaultChunkSize
	}
	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return defaultChunkSize
	}
	return num * multiplier
}

// LoadPushConfig reads `.ffbox/config.json`-equivalent push settings
// (exclude patterns, run scripts) from the given tree root, merging them
// into c.Push. Returns nil without error if no such file exists — push
// configuration is optional.
func (c *Configuration) LoadPushConfig(treeRoot string) error {
	path := filepath.Join(treeRoot, ".ffbox", "config.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read push config: %w", err)
	}
	return decodePushConfigJSON(data, &c.Push)
}
