package fusion

import (
	"fmt"
	"time"

	"github.com/roach88/outpost/internal/ir"
)

// Default configuration values.
const (
	DefaultSpatialThresholdKm        = 5.0
	DefaultTemporalThreshold         = 24 * time.Hour
	DefaultMinSourcesForConfirmation = 2
)

// DefaultAuthoritative lists source kinds preferred when resolving location
// and secondary observation, most authoritative first.
var DefaultAuthoritative = []ir.SourceKind{ir.SourceClinicalRecord, ir.SourceLaboratory}

// Config holds the engine's tunables.
type Config struct {
	SpatialThresholdKm        float64         `json:"spatial_threshold_km"`
	TemporalThreshold         time.Duration   `json:"temporal_threshold"`
	MinSourcesForConfirmation int             `json:"min_sources_for_confirmation"`
	Authoritative             []ir.SourceKind `json:"authoritative"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		SpatialThresholdKm:        DefaultSpatialThresholdKm,
		TemporalThreshold:         DefaultTemporalThreshold,
		MinSourcesForConfirmation: DefaultMinSourcesForConfirmation,
		Authoritative:             append([]ir.SourceKind(nil), DefaultAuthoritative...),
	}
}

// Validate checks that every threshold is usable.
func (c Config) Validate() error {
	if !(c.SpatialThresholdKm > 0) {
		return &ValidationError{Index: -1, Field: "spatial_threshold_km", Reason: fmt.Sprintf("must be positive, got %v", c.SpatialThresholdKm)}
	}
	if c.TemporalThreshold <= 0 {
		return &ValidationError{Index: -1, Field: "temporal_threshold", Reason: fmt.Sprintf("must be positive, got %v", c.TemporalThreshold)}
	}
	if c.MinSourcesForConfirmation < 1 {
		return &ValidationError{Index: -1, Field: "min_sources_for_confirmation", Reason: fmt.Sprintf("must be at least 1, got %d", c.MinSourcesForConfirmation)}
	}
	for _, k := range c.Authoritative {
		if !ir.ValidSourceKinds[k] {
			return &ValidationError{Index: -1, Field: "authoritative", Reason: fmt.Sprintf("unknown source kind %q", k)}
		}
	}
	return nil
}

// Option overrides part of the default configuration.
type Option func(*Config)

// WithSpatialThreshold sets the distance in km beyond which signals are not
// considered spatially in agreement.
func WithSpatialThreshold(km float64) Option {
	return func(c *Config) {
		c.SpatialThresholdKm = km
	}
}

// WithTemporalThreshold sets the time window beyond which signals are not
// considered temporally in agreement.
func WithTemporalThreshold(d time.Duration) Option {
	return func(c *Config) {
		c.TemporalThreshold = d
	}
}

// WithMinSourcesForConfirmation sets how many distinct source kinds earn the
// confirmation bonus.
func WithMinSourcesForConfirmation(n int) Option {
	return func(c *Config) {
		c.MinSourcesForConfirmation = n
	}
}

// WithAuthoritative replaces the authoritative source ranking.
func WithAuthoritative(kinds ...ir.SourceKind) Option {
	return func(c *Config) {
		c.Authoritative = append([]ir.SourceKind(nil), kinds...)
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
		c.Authoritative = append([]ir.SourceKind(nil), cfg.Authoritative...)
	}
}
