// Package metrics holds the Prometheus collectors of the report queue.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fsoi"

// Metrics holds the counters, histograms and gauges for report runs.
type Metrics struct {
	RunsStarted  prometheus.Counter
	RunsFinished *prometheus.CounterVec // labels: status={SUCCESS,FAIL}
	RunDuration  prometheus.Histogram
	RunNotices   *prometheus.CounterVec // labels: severity={warning,error}, code

	// Object store fan-out.
	StoreUnits      *prometheus.CounterVec // labels: operation, outcome={success,error}
	DownloadedBytes prometheus.Counter

	// Push notifications.
	Notifications *prometheus.CounterVec // labels: outcome={delivered,failed,pruned}

	// Queue servicing.
	QueueDepth    prometheus.Gauge
	RunsInFlight  prometheus.Gauge
	RunnerRunning prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		RunsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Report runs started.",
		}),
		RunsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Report runs that reached a terminal status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a report run from PENDING to the end of the terminal broadcast.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		}),
		RunNotices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_notices_total",
			Help:      "Warnings and errors recorded by report runs.",
		}, []string{"severity", "code"}),
		StoreUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_units_total",
			Help:      "Pooled object store operations by outcome.",
		}, []string{"operation", "outcome"}),
		DownloadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloaded_bytes_total",
			Help:      "Bytes of bulk data loaded into run workspaces.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Push delivery attempts by outcome.",
		}, []string{"outcome"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Requests waiting in the queue.",
		}),
		RunsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Report runs currently executing.",
		}),
		RunnerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runner_running",
			Help:      "1 when the queue is being serviced, 0 when stopped.",
		}),
	}
}

// NewMetrics creates and registers every collector with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RunsStarted,
		m.RunsFinished,
		m.RunDuration,
		m.RunNotices,
		m.StoreUnits,
		m.DownloadedBytes,
		m.Notifications,
		m.QueueDepth,
		m.RunsInFlight,
		m.RunnerRunning,
	)
	return m
}

// NewMetricsForTesting creates unregistered collectors so tests can build as many as they need.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
