// Package metrics holds the process-wide Prometheus collectors every
// other package increments: bus dispatch counts, HTTP engine request/retry
// counts, and monitor poll counts. Collectors are package-level vars,
// registered once in init, so any package can import metrics and record
// against them without threading a registry reference through every
// constructor.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// BusPublished counts records published to the bus, by direction.
	BusPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waymark_bus_published_total",
			Help: "Total number of records published to the bus, by direction",
		},
		[]string{"direction"},
	)

	// BusDeliveryFailures counts callback panics the bus recovered from.
	BusDeliveryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waymark_bus_delivery_failures_total",
			Help: "Total number of subscriber callbacks that panicked during delivery",
		},
		[]string{"actor", "entity"},
	)

	// HTTPRequestsTotal counts outgoing requests made through the HTTP
	// engine, by host and final status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waymark_http_requests_total",
			Help: "Total number of outgoing HTTP requests, by host and status",
		},
		[]string{"host", "status"},
	)

	// HTTPRetriesTotal counts retry attempts issued by httpkit's retrying
	// transport after transient connection errors, by host.
	HTTPRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waymark_http_retries_total",
			Help: "Total number of retried outgoing HTTP requests, by host",
		},
		[]string{"host"},
	)

	// HTTPRequestDuration observes outgoing request latency, by host.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "waymark_http_request_duration_seconds",
			Help:    "Outgoing HTTP request duration in seconds, by host",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host"},
	)

	// MonitorPollsTotal counts monitor poll cycles, by actor and outcome
	// ("ok", "error").
	MonitorPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waymark_monitor_polls_total",
			Help: "Total number of monitor poll cycles, by actor and outcome",
		},
		[]string{"actor", "outcome"},
	)

	// MonitorRecordsEmitted counts records a monitor judged new or updated
	// and emitted onto the bus, by actor.
	MonitorRecordsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waymark_monitor_records_emitted_total",
			Help: "Total number of records emitted by a monitor, by actor",
		},
		[]string{"actor"},
	)
)

func init() {
	prometheus.MustRegister(
		BusPublished,
		BusDeliveryFailures,
		HTTPRequestsTotal,
		HTTPRetriesTotal,
		HTTPRequestDuration,
		MonitorPollsTotal,
		MonitorRecordsEmitted,
	)
}

// Timer times an operation and reports its duration to a histogram once
// done, mirroring the pack's NewTimer/ObserveDuration helper pattern.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() Timer {
	return Timer{start: time.Now()}
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t Timer) ObserveDurationVec(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
