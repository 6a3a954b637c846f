package syncer

import (
	"log/slog"
	"time"
)

// Options are the coordinator's tunables.
type Options struct {
	BatchSize     int           // Events fetched per batch
	MaxRetries    int           // Failed remote attempts before an event is marked failed
	Interval      time.Duration // Pause between batches in Run
	RemoteTimeout time.Duration // Bound on every individual remote call
	RateLimit     float64       // Remote calls per second; 0 means unlimited
	RateBurst     int
}

// DefaultOptions returns the default tunables.
func DefaultOptions() Options {
	return Options{
		BatchSize:     50,
		MaxRetries:    5,
		Interval:      30 * time.Second,
		RemoteTimeout: 10 * time.Second,
		RateBurst:     1,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.Interval <= 0 {
		o.Interval = d.Interval
	}
	if o.RemoteTimeout <= 0 {
		o.RemoteTimeout = d.RemoteTimeout
	}
	if o.RateBurst <= 0 {
		o.RateBurst = d.RateBurst
	}
	return o
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithOptions sets the coordinator's tunables. Zero fields take defaults.
func WithOptions(o Options) Option {
	return func(c *Coordinator) {
		c.opts = o.withDefaults()
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithNow sets the clock used for attempt timestamps. A clock that does not
// advance is tolerated: each attempt on an event is stamped just past the
// previous one, since the store treats a repeated attempt time as a replay.
func WithNow(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithMetrics sets the collectors the coordinator reports to.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}
