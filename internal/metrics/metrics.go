package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the agent's Prometheus collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	// Counters
	runsStarted    *prometheus.CounterVec
	runsFinished   *prometheus.CounterVec
	pollErrors     prometheus.Counter
	recalibrations prometheus.Counter
	spoofInstalls  prometheus.Counter
	spoofRestores  prometheus.Counter

	// Gauges
	runsInFlight   prometheus.Gauge
	monitoredTasks prometheus.Gauge

	// Histograms
	runDuration *prometheus.HistogramVec
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "questdeck_runs_started_total",
				Help: "Total number of quest runs started",
			},
			[]string{"kind"},
		),
		runsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "questdeck_runs_finished_total",
				Help: "Total number of quest runs finished",
			},
			[]string{"kind", "status"},
		),
		pollErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "questdeck_poll_errors_total",
				Help: "Ground-truth polls that failed",
			},
		),
		recalibrations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "questdeck_recalibrations_total",
				Help: "Start time recalibrations after progress jumps",
			},
		),
		spoofInstalls: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "questdeck_spoof_installs_total",
				Help: "Spoofed activities installed",
			},
		),
		spoofRestores: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "questdeck_spoof_restores_total",
				Help: "Spoofed activities restored",
			},
		),
		runsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "questdeck_runs_in_flight",
				Help: "1 while a run holds the run-lock",
			},
		),
		monitoredTasks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "questdeck_monitored_tasks",
				Help: "Tasks currently being polled",
			},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "questdeck_run_duration_seconds",
				Help:    "Quest run duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 30, 60, 300, 600, 900, 1800},
			},
			[]string{"kind"},
		),
	}

	m.registry.MustRegister(
		m.runsStarted,
		m.runsFinished,
		m.pollErrors,
		m.recalibrations,
		m.spoofInstalls,
		m.spoofRestores,
		m.runsInFlight,
		m.monitoredTasks,
		m.runDuration,
	)

	return m
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RunStarted counts a run of the given kind
func (m *Metrics) RunStarted(kind string) {
	m.runsStarted.WithLabelValues(kind).Inc()
}

// RunFinished counts a terminal run and observes its duration
func (m *Metrics) RunFinished(kind, status string, d time.Duration) {
	m.runsFinished.WithLabelValues(kind, status).Inc()
	m.runDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// InFlight marks whether the run-lock is held
func (m *Metrics) InFlight(held bool) {
	if held {
		m.runsInFlight.Set(1)
		return
	}
	m.runsInFlight.Set(0)
}

// SpoofInstalled counts an installed spoof
func (m *Metrics) SpoofInstalled() {
	m.spoofInstalls.Inc()
}

// SpoofRestored counts a restored spoof
func (m *Metrics) SpoofRestored() {
	m.spoofRestores.Inc()
}

// PollError counts a failed ground-truth poll
func (m *Metrics) PollError() {
	m.pollErrors.Inc()
}

// Recalibrated counts a start time recalibration
func (m *Metrics) Recalibrated() {
	m.recalibrations.Inc()
}

// Monitored sets the number of monitored tasks
func (m *Metrics) Monitored(n int) {
	m.monitoredTasks.Set(float64(n))
}
