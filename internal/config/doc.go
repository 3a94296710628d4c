/*
Package config provides configuration management for ffbox's mount,
push, and deploy commands.

# Configuration Architecture

Multi-source hierarchy with precedence:

	Runtime overrides (CLI flags)
	    │
	Environment variables (FFBOX_*)
	    │
	Configuration file (YAML)
	    │
	Compiled-in defaults

# Configuration Structure

Global: log level/file, metrics/health/profile ports.

Mount: chunk size and worker count for the chunked range-read engine,
allow_other, read_only, and whether `mount` blocks until the FUSE
handshake completes.

Backend: S3 region/endpoint/path-style, anonymous credentials, retry
count, connection pool size, and CargoShip transport tuning.

Cache: the on-disk cache directory and whether the sparse-file
completion index persists across restarts.

Prefetch: whether the trace-replay prefetcher runs, and its worker
pool size.

Network: shared timeout, retry, and circuit breaker settings used by
the backend.

Monitoring: Prometheus metrics, health checks, structured logging.

Push: exclude glob patterns and the scripts.run / scripts.example_run
entries read from a pushed tree's .ffbox/config.json — see
LoadPushConfig.

# Usage

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("/etc/ffbox/config.yaml"); err != nil {
		log.Fatal(err)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

Configuration file format:

	global:
	  log_level: INFO
	  metrics_port: 8080
	  health_port: 8081

	mount:
	  chunk_size: "5MB"
	  max_workers: 10

	backend:
	  region: "us-west-2"
	  pool_size: 8
	  enable_cargoship: true

	cache:
	  directory: "/var/cache/ffbox"
	  persistent_index: true

	prefetch:
	  enabled: true
	  workers: 200

Environment variable overrides follow the same shape, e.g.
FFBOX_LOG_LEVEL, FFBOX_CHUNK_SIZE, FFBOX_REGION, FFBOX_POOL_SIZE,
FFBOX_PREFETCH_WORKERS.

# Push configuration

A pushed tree may carry a `.ffbox/config.json` (JSON, not YAML, to
match what a consumer unfamiliar with the rest of this module's
config format would write by hand):

	{
	  "exclude": ["*.tmp", ".git/**"],
	  "scripts": {
	    "run": "python train.py"
	  }
	}

LoadPushConfig reads this file relative to a tree root and merges it
into Configuration.Push; a missing file is not an error, since push
configuration is optional.
*/
package config
