package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the coordinator's Prometheus collectors.
type Metrics struct {
	EventsTotal   *prometheus.CounterVec
	BatchDuration prometheus.Histogram
	BatchesTotal  prometheus.Counter
	RemoteErrors  *prometheus.CounterVec
}

// NewMetrics registers the coordinator's collectors with reg. A nil reg
// creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outpost_sync_events_total",
				Help: "Total number of events processed by outcome",
			},
			[]string{"outcome"},
		),
		BatchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "outpost_sync_batch_duration_seconds",
				Help:    "Duration of sync batches in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		BatchesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "outpost_sync_batches_total",
				Help: "Total number of sync batches run",
			},
		),
		RemoteErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outpost_sync_remote_errors_total",
				Help: "Total number of failed remote calls",
			},
			[]string{"op"},
		),
	}
}
