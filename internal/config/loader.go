package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	ErrConfigNotFound = errors.New("config file not found")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

type LoadOptions struct {
	ConfigFile string
	EnvPrefix  string
	Defaults   *Config
}

func Load(opts LoadOptions) (*Config, error) {
	v := newViper(opts)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	expandEnvInConfig(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func LoadFromFile(path string) (*Config, error) {
	return Load(LoadOptions{ConfigFile: path})
}

// Watch loads the configuration and re-loads it whenever the config file
// changes on disk, invoking onChange with each valid new snapshot. Invalid
// snapshots are reported through onError and the previous config stays live.
func Watch(opts LoadOptions, onChange func(*Config), onError func(error)) (*Config, error) {
	v := newViper(opts)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Nothing to watch without a file; fall back to a one-shot load.
		return Load(opts)
	}

	expandEnvInConfig(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		next := &Config{}
		if err := v.Unmarshal(next); err != nil {
			onError(fmt.Errorf("unmarshaling config: %w", err))
			return
		}
		if err := Validate(next); err != nil {
			onError(err)
			return
		}
		onChange(next)
	})
	v.WatchConfig()

	return cfg, nil
}

func newViper(opts LoadOptions) *viper.Viper {
	v := viper.New()

	defaults := opts.Defaults
	if defaults == nil {
		defaults = Default()
	}
	setViperDefaults(v, defaults)

	if opts.EnvPrefix == "" {
		opts.EnvPrefix = "RELAYQ"
	}
	v.SetEnvPrefix(opts.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("relayq")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/relayq")
		v.AddConfigPath("/etc/relayq")
	}

	return v
}

func setViperDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", cfg.Server.IdleTimeout)
	v.SetDefault("server.max_body_size", cfg.Server.MaxBodySize)

	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.wal_mode", cfg.Database.WALMode)
	v.SetDefault("database.cache_size", cfg.Database.CacheSize)
	v.SetDefault("database.busy_timeout", cfg.Database.BusyTimeout)
	v.SetDefault("database.foreign_keys", cfg.Database.ForeignKeys)
	v.SetDefault("database.max_open_conns", cfg.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", cfg.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", cfg.Database.ConnMaxLifetime)
	v.SetDefault("database.retry.max_retries", cfg.Database.Retry.MaxRetries)
	v.SetDefault("database.retry.base_delay", cfg.Database.Retry.BaseDelay)
	v.SetDefault("database.retry.multiplier", cfg.Database.Retry.Multiplier)

	v.SetDefault("delivery.timeout", cfg.Delivery.Timeout)
	v.SetDefault("delivery.max_attempts", cfg.Delivery.MaxAttempts)
	v.SetDefault("delivery.workers", cfg.Delivery.Workers)
	v.SetDefault("delivery.backoff_base", cfg.Delivery.BackoffBase)
	v.SetDefault("delivery.backoff_factor", cfg.Delivery.BackoffFactor)
	v.SetDefault("delivery.backoff_cap", cfg.Delivery.BackoffCap)
	v.SetDefault("delivery.backoff_jitter", cfg.Delivery.BackoffJitter)
	v.SetDefault("delivery.dispatch_interval", cfg.Delivery.DispatchInterval)
	v.SetDefault("delivery.dispatch_batch", cfg.Delivery.DispatchBatch)
	v.SetDefault("delivery.sweep_interval", cfg.Delivery.SweepInterval)
	v.SetDefault("delivery.sweep_batch", cfg.Delivery.SweepBatch)
	v.SetDefault("delivery.claim_timeout", cfg.Delivery.ClaimTimeout)
	v.SetDefault("delivery.rate_limit_deferral", cfg.Delivery.RateLimitDeferral)
	v.SetDefault("delivery.snapshot_max_bytes", cfg.Delivery.SnapshotMaxBytes)

	v.SetDefault("retention.enabled", cfg.Retention.Enabled)
	v.SetDefault("retention.schedule", cfg.Retention.Schedule)
	v.SetDefault("retention.max_age", cfg.Retention.MaxAge)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.caller", cfg.Logging.Caller)
	v.SetDefault("logging.timestamp", cfg.Logging.Timestamp)
}

func expandEnvInConfig(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envVar := val[2 : len(val)-1]
			if envVal := os.Getenv(envVar); envVal != "" {
				v.Set(key, envVal)
			}
		}
	}
}

func ConfigFilePath(customPath string) (string, error) {
	if customPath != "" {
		absPath, err := filepath.Abs(customPath)
		if err != nil {
			return "", fmt.Errorf("resolving config path: %w", err)
		}
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", absPath)
		}
		return absPath, nil
	}

	searchPaths := []string{
		"relayq.yaml",
		"relayq.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "relayq", "relayq.yaml"),
		"/etc/relayq/relayq.yaml",
	}

	for _, p := range searchPaths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Abs(p)
		}
	}

	return "", ErrConfigNotFound
}
