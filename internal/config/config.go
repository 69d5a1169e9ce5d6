// Package config provides configuration management for relayq.
package config

import (
	"time"
)

// Config is the root configuration structure for relayq.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Retention RetentionConfig `mapstructure:"retention"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP API server settings.
type ServerConfig struct {
	// Host to bind the server to
	Host string `mapstructure:"host"`

	// Port to listen on
	Port int `mapstructure:"port"`

	// Request timeouts
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	// Maximum request body size in bytes
	MaxBodySize int64 `mapstructure:"max_body_size"`
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string `mapstructure:"path"`

	// Enable WAL mode (recommended)
	WALMode bool `mapstructure:"wal_mode"`

	// Cache size in KB (negative for KB, positive for pages)
	CacheSize int `mapstructure:"cache_size"`

	// Busy timeout
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	// Enable foreign keys
	ForeignKeys bool `mapstructure:"foreign_keys"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	// Retry policy for transient storage errors (busy/locked),
	// separate from the webhook delivery retry policy.
	Retry StorageRetryConfig `mapstructure:"retry"`
}

// StorageRetryConfig holds the retry policy applied to storage I/O.
type StorageRetryConfig struct {
	// Maximum retries after the initial attempt
	MaxRetries int `mapstructure:"max_retries"`

	// Delay before the first retry
	BaseDelay time.Duration `mapstructure:"base_delay"`

	// Multiplier applied to the delay after each retry
	Multiplier float64 `mapstructure:"multiplier"`
}

// DeliveryConfig holds webhook delivery engine settings.
type DeliveryConfig struct {
	// Per-request HTTP timeout
	Timeout time.Duration `mapstructure:"timeout"`

	// Maximum delivery attempts per (webhook, event) chain
	MaxAttempts int `mapstructure:"max_attempts"`

	// Number of concurrent delivery workers
	Workers int `mapstructure:"workers"`

	// Exponential backoff between attempts
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
	BackoffCap    time.Duration `mapstructure:"backoff_cap"`

	// Upper bound on random jitter added to backoff (fraction of the delay)
	BackoffJitter float64 `mapstructure:"backoff_jitter"`

	// How often the dispatcher polls for unprocessed events
	DispatchInterval time.Duration `mapstructure:"dispatch_interval"`

	// Batch size for the dispatch poll
	DispatchBatch int `mapstructure:"dispatch_batch"`

	// How often the retry sweeper reclaims due deliveries
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// Batch size for the retry sweep
	SweepBatch int `mapstructure:"sweep_batch"`

	// Age after which an in-flight claim is considered abandoned
	ClaimTimeout time.Duration `mapstructure:"claim_timeout"`

	// Fixed delay applied when a send is deferred by rate limiting
	RateLimitDeferral time.Duration `mapstructure:"rate_limit_deferral"`

	// Maximum bytes of request/response body kept in delivery snapshots
	SnapshotMaxBytes int `mapstructure:"snapshot_max_bytes"`
}

// RetentionConfig holds settings for the retention janitor.
type RetentionConfig struct {
	// Enable periodic cleanup of old events and terminal deliveries
	Enabled bool `mapstructure:"enabled"`

	// Cron expression for the cleanup schedule
	Schedule string `mapstructure:"schedule"`

	// Age after which processed events and terminal deliveries are deleted
	MaxAge time.Duration `mapstructure:"max_age"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level: debug, info, warn, error
	Level string `mapstructure:"level"`

	// Output format: console or json
	Format string `mapstructure:"format"`

	// Include caller information
	Caller bool `mapstructure:"caller"`

	// Include timestamps
	Timestamp bool `mapstructure:"timestamp"`
}
