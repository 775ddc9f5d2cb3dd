package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notifyhub/notify-core/internal/domain"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	NotificationsSent   *prometheus.CounterVec
	NotificationsFailed *prometheus.CounterVec
	NotificationLatency *prometheus.HistogramVec
	QueueDepthHigh      prometheus.Gauge
	QueueDepthNormal    prometheus.Gauge
	// BusLag and LeasedInFlight are registered but nothing in this tree
	// sets them, so they always report 0.
	BusLag         prometheus.Gauge
	LeasedInFlight prometheus.Gauge
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of successfully delivered notifications.",
		}, []string{"provider_code"}),

		NotificationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_failed_total",
			Help: "Total number of permanently failed notifications (retries exhausted).",
		}, []string{"provider_code"}),

		NotificationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "notification_processing_seconds",
			Help:    "End-to-end processing latency from provider dispatch to ack.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider_code"}),

		QueueDepthHigh: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "local_queue_depth_high",
			Help: "Current number of items in the high-priority local dispatch queue.",
		}),
		QueueDepthNormal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "local_queue_depth_normal",
			Help: "Current number of items in the normal-priority local dispatch queue.",
		}),
		BusLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bus_consumer_group_lag",
			Help: "Number of pending entries in the dispatch consumer group awaiting ack.",
		}),
		LeasedInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leased_notifications_in_flight",
			Help: "Current number of notifications claimed (FORWARDED) but not yet terminal.",
		}),
	}

	reg.MustRegister(
		m.NotificationsSent,
		m.NotificationsFailed,
		m.NotificationLatency,
		m.QueueDepthHigh,
		m.QueueDepthNormal,
		m.BusLag,
		m.LeasedInFlight,
	)

	return m
}

// WorkerHooks returns the metric callback functions expected by worker.MetricHooks.
// Centralises the prometheus observation calls so worker.go stays import-free.
func (m *Metrics) WorkerHooks() (
	onSent func(domain.ProviderCode, time.Duration),
	onFailed func(domain.ProviderCode),
) {
	onSent = func(code domain.ProviderCode, latency time.Duration) {
		m.NotificationsSent.WithLabelValues(string(code)).Inc()
		m.NotificationLatency.WithLabelValues(string(code)).Observe(latency.Seconds())
	}
	onFailed = func(code domain.ProviderCode) {
		m.NotificationsFailed.WithLabelValues(string(code)).Inc()
	}
	return
}

// ObserveQueueDepths snapshots the local dispatch queue depths into the
// gauges. Called periodically by main rather than on every enqueue/dequeue,
// since gauge scraping tolerates brief staleness.
func (m *Metrics) ObserveQueueDepths(high, normal int) {
	m.QueueDepthHigh.Set(float64(high))
	m.QueueDepthNormal.Set(float64(normal))
}
