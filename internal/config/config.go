package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/roach88/outpost/internal/fusion"
	"github.com/roach88/outpost/internal/ir"
	"github.com/roach88/outpost/internal/remote"
	"github.com/roach88/outpost/internal/syncer"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "OUTPOST"

// Config is outpost's runtime configuration.
type Config struct {
	Node      NodeConfig      `mapstructure:"node"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Fusion    FusionConfig    `mapstructure:"fusion"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// NodeConfig identifies the local node and its event store.
type NodeConfig struct {
	ID string `mapstructure:"id"`
	DB string `mapstructure:"db"`
}

// SyncConfig holds sync coordinator tunables.
type SyncConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	MaxRetries    int           `mapstructure:"max_retries"`
	Interval      time.Duration `mapstructure:"interval"`
	RemoteTimeout time.Duration `mapstructure:"remote_timeout"`
	RateLimit     float64       `mapstructure:"rate_limit"` // Remote calls per second, 0 = unlimited
	RateBurst     int           `mapstructure:"rate_burst"`
}

// RemoteConfig locates the remote authority.
type RemoteConfig struct {
	RedisURL  string `mapstructure:"redis_url"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ReconcileConfig points at an optional CUE policy file. Without one the
// built-in policy applies.
type ReconcileConfig struct {
	PolicyFile string `mapstructure:"policy_file"`
}

// FusionConfig holds fusion thresholds.
type FusionConfig struct {
	SpatialThresholdKm        float64       `mapstructure:"spatial_threshold_km"`
	TemporalThreshold         time.Duration `mapstructure:"temporal_threshold"`
	MinSourcesForConfirmation int           `mapstructure:"min_sources_for_confirmation"`
	Authoritative             []string      `mapstructure:"authoritative"`
}

// MetricsConfig configures the Prometheus endpoint served by `outpost sync`.
// An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug | info | warn | error
	Format string `mapstructure:"format"` // text | json
}

// Load reads configuration from path and the environment. An empty path looks
// for outpost.yaml in the working directory and tolerates its absence; an
// explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("outpost")
		v.AddConfigPath(".")
	}
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node.id", "")
	v.SetDefault("node.db", "outpost.db")

	d := syncer.DefaultOptions()
	v.SetDefault("sync.batch_size", d.BatchSize)
	v.SetDefault("sync.max_retries", d.MaxRetries)
	v.SetDefault("sync.interval", d.Interval)
	v.SetDefault("sync.remote_timeout", d.RemoteTimeout)
	v.SetDefault("sync.rate_limit", 0.0)
	v.SetDefault("sync.rate_burst", d.RateBurst)

	v.SetDefault("remote.redis_url", "")
	v.SetDefault("remote.key_prefix", remote.DefaultKeyPrefix)

	v.SetDefault("reconcile.policy_file", "")

	f := fusion.DefaultConfig()
	authoritative := make([]string, len(f.Authoritative))
	for i, k := range f.Authoritative {
		authoritative[i] = string(k)
	}
	v.SetDefault("fusion.spatial_threshold_km", f.SpatialThresholdKm)
	v.SetDefault("fusion.temporal_threshold", f.TemporalThreshold)
	v.SetDefault("fusion.min_sources_for_confirmation", f.MinSourcesForConfirmation)
	v.SetDefault("fusion.authoritative", authoritative)

	v.SetDefault("metrics.addr", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks values that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("config: sync.batch_size must be at least 1, got %d", c.Sync.BatchSize)
	}
	if c.Sync.MaxRetries < 1 {
		return fmt.Errorf("config: sync.max_retries must be at least 1, got %d", c.Sync.MaxRetries)
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("config: sync.interval must be positive, got %v", c.Sync.Interval)
	}
	if c.Sync.RemoteTimeout <= 0 {
		return fmt.Errorf("config: sync.remote_timeout must be positive, got %v", c.Sync.RemoteTimeout)
	}
	if c.Sync.RateLimit < 0 {
		return fmt.Errorf("config: sync.rate_limit must not be negative, got %v", c.Sync.RateLimit)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: logging.format must be text or json, got %q", c.Logging.Format)
	}
	if err := c.FusionConfig().Validate(); err != nil {
		return fmt.Errorf("config: fusion: %w", err)
	}
	return nil
}

// SyncOptions converts the sync section into coordinator options.
func (c *Config) SyncOptions() syncer.Options {
	return syncer.Options{
		BatchSize:     c.Sync.BatchSize,
		MaxRetries:    c.Sync.MaxRetries,
		Interval:      c.Sync.Interval,
		RemoteTimeout: c.Sync.RemoteTimeout,
		RateLimit:     c.Sync.RateLimit,
		RateBurst:     c.Sync.RateBurst,
	}
}

// FusionConfig converts the fusion section into an engine configuration.
func (c *Config) FusionConfig() fusion.Config {
	authoritative := make([]ir.SourceKind, len(c.Fusion.Authoritative))
	for i, k := range c.Fusion.Authoritative {
		authoritative[i] = ir.SourceKind(k)
	}
	return fusion.Config{
		SpatialThresholdKm:        c.Fusion.SpatialThresholdKm,
		TemporalThreshold:         c.Fusion.TemporalThreshold,
		MinSourcesForConfirmation: c.Fusion.MinSourcesForConfirmation,
		Authoritative:             authoritative,
	}
}
