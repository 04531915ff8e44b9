/*
Package config provides comprehensive configuration management for CloudPaste with multi-source support.

This package implements a hierarchical configuration system that supports YAML files, environment
variables, and runtime overrides. It provides validation and type safety for all
CloudPaste components; configuration is read once and is not reloaded while running.

# Configuration Architecture

Multi-source configuration hierarchy with precedence:

	┌─────────────────────────────────────────────┐
	│          Runtime Overrides                 │ ← Highest Priority
	│        (CLI args, API calls)               │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        Environment Variables                │
	│           (CLOUDPASTE_*)                     │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration Files                 │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	│        (Compiled-in defaults)              │
	└─────────────────────────────────────────────┘

# Configuration Structure

Comprehensive configuration sections:

Global Settings:
- Logging configuration (level, file, format)
- Service ports (metrics, health, profiling)
- Runtime behavior settings

Performance Settings:
- Cache sizes and policies
- Concurrency limits
- Buffer configurations
- Compression settings

Network Configuration:
- Timeout settings
- Retry policies
- Circuit breaker parameters
- Connection pool settings

Security Configuration:
- TLS settings
- Encryption parameters
- Authentication configuration
- Access control settings

Monitoring Configuration:
- Metrics collection settings
- Health check parameters
- Logging configuration
- Alert thresholds

Feature Flags:
- Experimental feature toggles
- Performance optimization flags
- Compatibility settings
- Debug features

# Usage Examples

Loading configuration:

	// Create with defaults
	config := config.NewDefault()

	// Load from file
	if err := config.LoadFromFile("/etc/cloudpaste/config.yaml"); err != nil {
		log.Fatal(err)
	}

	// Load environment variables
	if err := config.LoadFromEnv(); err != nil {
		log.Fatal(err)
	}

	// Apply command-line overrides
	config.Performance.CacheSize = "4GB"
	config.Global.LogLevel = "DEBUG"

	// Validate final configuration
	if err := config.Validate(); err != nil {
		log.Fatal(err)
	}

Configuration file format:

	# CloudPaste Configuration
	global:
	  log_level: INFO
	  log_file: "/var/log/cloudpaste.log"
	  metrics_port: 8080
	  health_port: 8081
	  profile_port: 6060

	performance:
	  cache_size: "2GB"
	  write_buffer_size: "16MB"
	  max_concurrency: 150
	  read_ahead_size: "64MB"
	  compression_enabled: true
	  connection_pool_size: 8

	cache:
	  ttl: 5m
	  max_entries: 100000
	  eviction_policy: "weighted_lru"
	  persistent_cache:
	    enabled: false
	    directory: "/var/cache/cloudpaste"
	    max_size: "10GB"

Environment variable mapping:

	# Global settings
	CLOUDPASTE_LOG_LEVEL="DEBUG"
	CLOUDPASTE_LOG_FILE="/var/log/cloudpaste.log"
	CLOUDPASTE_METRICS_PORT="9090"

	# Performance settings
	CLOUDPASTE_CACHE_SIZE="4GB"
	CLOUDPASTE_MAX_CONCURRENCY="200"
	CLOUDPASTE_COMPRESSION_ENABLED="true"

	# Feature flags
	CLOUDPASTE_PREFETCHING="true"
	CLOUDPASTE_BATCH_OPERATIONS="true"
	CLOUDPASTE_OFFLINE_MODE="false"

# Validation System

Validate checks, in order, and returns the first failure:
- performance.max_concurrency is greater than 0
- performance.connection_pool_size is greater than 0
- global.metrics_port and global.health_port differ
- global.log_level is one of DEBUG, INFO, WARN, ERROR

No other field is validated: size strings, durations, the database,
mount, storage, search, jobs, quota and proxy sections are accepted as
loaded.

# Reloading

There is no file watcher. A Configuration is built once (NewDefault,
then LoadFromFile, then LoadFromEnv, then Validate) and changes to the
file take effect only when the process loads it again.

# Default Configuration

NewDefault returns one set of defaults, including:

	Global: {
		LogLevel:    "INFO",
		MetricsPort: 8080,
		HealthPort:  8081,
	},
	Performance: {
		CacheSize:         "2GB",
		MaxConcurrency:    150,
		CompressionEnabled: true,
		ConnectionPoolSize: 8,
	},
	Cache: {
		TTL:            5 * time.Minute,
		EvictionPolicy: "weighted_lru",
	}

# Security Considerations

Storage secrets are not written in the YAML file: a storage dial names
environment variables in secret_env, and the proxy HMAC secret is read
from the variable named by proxy.secret_env. SaveToFile writes the file
with mode 0600 and creates its directory with mode 0750. LoadFromFile
does not check file permissions, and nothing in this package masks
values in logs or validates paths.

# Performance Tuning Examples

Example performance settings (these are not built in; set them in the
YAML file):

Low Latency Profile:

	performance:
	  cache_size: "1GB"
	  max_concurrency: 100
	  read_ahead_size: "32MB"
	  connection_pool_size: 4

High Throughput Profile:

	performance:
	  cache_size: "8GB"
	  max_concurrency: 300
	  read_ahead_size: "256MB"
	  connection_pool_size: 16

High Latency/Satellite Profile:

	performance:
	  cache_size: "16GB"
	  max_concurrency: 25
	  read_ahead_size: "1GB"
	  connection_pool_size: 2
	write_buffer:
	  flush_interval: 300s
	  max_memory: "1GB"

# Configuration Best Practices

Recommended configuration practices:

File Organization:
- Use versioned configuration files
- Separate environment-specific configs
- Document all custom settings
- Use configuration validation in CI/CD

Environment Variables:
- Prefer environment variables for secrets
- Use consistent naming conventions
- Document all supported variables
- Validate environment variable formats

Performance Tuning:
- Start with default settings
- Monitor resource usage
- Adjust based on workload characteristics
- Test configuration changes in staging

Security:
- Use restrictive file permissions (0600)
- Rotate credentials regularly
- Audit configuration changes
- Use encrypted storage for sensitive configs

This package provides the foundation for flexible, secure, and maintainable
configuration management across all CloudPaste deployments.
*/
package config
