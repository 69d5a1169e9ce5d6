package config

import "time"

// Default configuration values.
const (
	// Server defaults.
	DefaultHost         = "localhost"
	DefaultPort         = 8090
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 30 * time.Second
	DefaultIdleTimeout  = 120 * time.Second
	DefaultMaxBodySize  = 1 * 1024 * 1024 // 1MB

	// Database defaults.
	DefaultDBPath       = "relayq.db"
	DefaultCacheSize    = -64000 // 64MB
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 1 // SQLite works best with single writer
	DefaultMaxIdleConns = 1

	// Storage retry defaults.
	DefaultStorageMaxRetries = 3
	DefaultStorageBaseDelay  = 50 * time.Millisecond
	DefaultStorageMultiplier = 2.0

	// Delivery defaults.
	DefaultDeliveryTimeout   = 10 * time.Second
	DefaultMaxAttempts       = 5
	DefaultWorkers           = 32
	DefaultBackoffBase       = 30 * time.Second
	DefaultBackoffFactor     = 2.0
	DefaultBackoffCap        = time.Hour
	DefaultBackoffJitter     = 0.2
	DefaultDispatchInterval  = 2 * time.Second
	DefaultDispatchBatch     = 100
	DefaultSweepInterval     = 30 * time.Second
	DefaultSweepBatch        = 100
	DefaultClaimTimeout      = 5 * time.Minute
	DefaultRateLimitDeferral = 15 * time.Second
	DefaultSnapshotMaxBytes  = 64 * 1024

	// Retention defaults.
	DefaultRetentionSchedule = "0 * * * *" // hourly
	DefaultRetentionMaxAge   = 30 * 24 * time.Hour

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
			MaxBodySize:  DefaultMaxBodySize,
		},
		Database: DatabaseConfig{
			Path:            DefaultDBPath,
			WALMode:         true,
			CacheSize:       DefaultCacheSize,
			BusyTimeout:     DefaultBusyTimeout,
			ForeignKeys:     true,
			MaxOpenConns:    DefaultMaxOpenConns,
			MaxIdleConns:    DefaultMaxIdleConns,
			ConnMaxLifetime: 0, // No limit
			Retry: StorageRetryConfig{
				MaxRetries: DefaultStorageMaxRetries,
				BaseDelay:  DefaultStorageBaseDelay,
				Multiplier: DefaultStorageMultiplier,
			},
		},
		Delivery: DeliveryConfig{
			Timeout:           DefaultDeliveryTimeout,
			MaxAttempts:       DefaultMaxAttempts,
			Workers:           DefaultWorkers,
			BackoffBase:       DefaultBackoffBase,
			BackoffFactor:     DefaultBackoffFactor,
			BackoffCap:        DefaultBackoffCap,
			BackoffJitter:     DefaultBackoffJitter,
			DispatchInterval:  DefaultDispatchInterval,
			DispatchBatch:     DefaultDispatchBatch,
			SweepInterval:     DefaultSweepInterval,
			SweepBatch:        DefaultSweepBatch,
			ClaimTimeout:      DefaultClaimTimeout,
			RateLimitDeferral: DefaultRateLimitDeferral,
			SnapshotMaxBytes:  DefaultSnapshotMaxBytes,
		},
		Retention: RetentionConfig{
			Enabled:  true,
			Schedule: DefaultRetentionSchedule,
			MaxAge:   DefaultRetentionMaxAge,
		},
		Logging: LoggingConfig{
			Level:     DefaultLogLevel,
			Format:    DefaultLogFormat,
			Caller:    false,
			Timestamp: true,
		},
	}
}
