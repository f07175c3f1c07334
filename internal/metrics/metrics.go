// Package metrics holds the Prometheus collectors for the bridge.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "turbox"

// Metrics implements dispatch.Recorder.
type Metrics struct {
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	CacheMisses      prometheus.Counter
	InstancesCreated prometheus.Counter
	InstanceFailures prometheus.Counter
	WorkersAlive     prometheus.Gauge

	registry *prometheus.Registry
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		DispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "total",
				Help:      "Dispatched requests by terminal pipeline state",
			},
			[]string{"state"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "duration_seconds",
				Help:      "Time spent in the dispatch pipeline in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"state"},
		),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "function_cache",
			Name:      "misses_total",
			Help:      "Function cache cold-path resolutions",
		}),
		InstancesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "instances",
			Name:      "created_total",
			Help:      "Runtime instances created",
		}),
		InstanceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "instance",
			Name:      "failures_total",
			Help:      "Runtime instance creations that failed",
		}),
		WorkersAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "workers",
			Name:      "alive",
			Help:      "Worker goroutines currently serving",
		}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.DispatchTotal,
		m.DispatchDuration,
		m.CacheMisses,
		m.InstancesCreated,
		m.InstanceFailures,
		m.WorkersAlive,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveDispatch(state string, d time.Duration) {
	m.DispatchTotal.WithLabelValues(state).Inc()
	m.DispatchDuration.WithLabelValues(state).Observe(d.Seconds())
}

func (m *Metrics) CacheMiss()       { m.CacheMisses.Inc() }
func (m *Metrics) InstanceCreated() { m.InstancesCreated.Inc() }
func (m *Metrics) InstanceFailed()  { m.InstanceFailures.Inc() }
func (m *Metrics) WorkerStarted()   { m.WorkersAlive.Inc() }
func (m *Metrics) WorkerStopped()   { m.WorkersAlive.Dec() }
