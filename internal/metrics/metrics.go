// Package metrics exposes Prometheus collectors for the queue daemon.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal             *prometheus.CounterVec
	activeWorkers         prometheus.Gauge
	dispatchPassesTotal   prometheus.Counter
	workerDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than
// once.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchd_jobs_total",
				Help: "Total number of jobs reaching a terminal status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fetchd_active_workers",
				Help: "Number of worker processes currently running.",
			},
		)

		dispatchPassesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fetchd_dispatch_passes_total",
				Help: "Total number of dispatcher scheduling passes.",
			},
		)

		workerDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fetchd_worker_duration_seconds",
				Help:    "Histogram of worker process run durations, labeled by site.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"site"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob increments the terminal-status counter.
func ObserveJob(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

// ObserveDispatchPass counts one dispatcher pass.
func ObserveDispatchPass() {
	dispatchPassesTotal.Inc()
}

// IncActiveWorkers increments the running worker gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the running worker gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveWorkerDuration records how long a worker process ran.
func ObserveWorkerDuration(site string, d time.Duration) {
	workerDurationSeconds.WithLabelValues(site).Observe(d.Seconds())
}
