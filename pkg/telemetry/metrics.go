package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for miller.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Artifact lookup metrics
	lookups        *prometheus.CounterVec
	lookupDuration *prometheus.HistogramVec

	// Planning metrics
	targetsExamined  *prometheus.CounterVec
	targetsDirty     *prometheus.CounterVec
	batchesEmitted   *prometheus.CounterVec
	tarballCandidate prometheus.Gauge

	// Error metrics
	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of completed invocations",
			},
			[]string{"command", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of an invocation in seconds",
				Buckets:   buckets,
			},
			[]string{"command", "status"},
		),

		lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifact_lookups_total",
				Help:      "Total number of artifact lookups by target kind and result",
			},
			[]string{"kind", "result"},
		),
		lookupDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "artifact_lookup_duration_seconds",
				Help:      "Duration of artifact lookups in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),

		targetsExamined: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "targets_examined_total",
				Help:      "Total number of targets in the computed build order",
			},
			[]string{"command"},
		),
		targetsDirty: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "targets_dirty_total",
				Help:      "Total number of targets scheduled for building",
			},
			[]string{"command"},
		),
		batchesEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_emitted_total",
				Help:      "Total number of build batches emitted",
			},
			[]string{"command"},
		),
		tarballCandidate: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tarball_candidates",
				Help:      "Number of candidate tarballs listed in the software bucket",
			},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of fatal errors by class and code",
			},
			[]string{"class", "code"},
		),
	}

	registry.MustRegister(
		m.runsCompleted,
		m.runDuration,
		m.lookups,
		m.lookupDuration,
		m.targetsExamined,
		m.targetsDirty,
		m.batchesEmitted,
		m.tarballCandidate,
		m.errorsByClass,
	)

	return m, nil
}

// Run Metrics

// RecordRunCompleted records a completed invocation with its status and duration.
func (m *Metrics) RecordRunCompleted(command, status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(command, status).Inc()
	m.runDuration.WithLabelValues(command, status).Observe(duration.Seconds())
}

// Lookup Metrics

// Lookup results.
const (
	LookupFound    = "found"
	LookupNotFound = "not_found"
	LookupError    = "error"
)

// RecordLookup records one artifact lookup.
func (m *Metrics) RecordLookup(kind, result string, duration time.Duration) {
	if m.lookups == nil {
		return
	}
	m.lookups.WithLabelValues(kind, result).Inc()
	m.lookupDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// SetTarballCandidates records the size of the tarball candidate list.
func (m *Metrics) SetTarballCandidates(count int) {
	if m.tarballCandidate == nil {
		return
	}
	m.tarballCandidate.Set(float64(count))
}

// Planning Metrics

// RecordPlan records the outcome of build or gather construction.
func (m *Metrics) RecordPlan(command string, examined, dirty, batches int) {
	if m.targetsExamined == nil {
		return
	}
	m.targetsExamined.WithLabelValues(command).Add(float64(examined))
	m.targetsDirty.WithLabelValues(command).Add(float64(dirty))
	m.batchesEmitted.WithLabelValues(command).Add(float64(batches))
}

// Error Metrics

// RecordError records an error by class and code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass, errorCode).Inc()
}

// Registry returns the registry holding all metrics, or nil if metrics
// are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics to path in the Prometheus text format.
// The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m.registry == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
