// Package metrics exports controller outcomes to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures a Recorder.
type Config struct {
	// Namespace prefixes every metric name. Default: "crudkit".
	Namespace string

	// Subsystem follows the namespace. Default: "controller".
	Subsystem string

	// Buckets are the histogram buckets for operation duration in seconds.
	Buckets []float64

	// Registry receives the collectors. Default: a new registry that also
	// carries the Go runtime and process collectors.
	Registry *prometheus.Registry
}

// DefaultConfig returns the default configuration with a fresh registry.
func DefaultConfig() *Config {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Config{
		Namespace: "crudkit",
		Subsystem: "controller",
		Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		Registry:  reg,
	}
}

// Recorder counts controller operations by entity, operation and status
// code, and observes their duration. It implements controller.Recorder.
type Recorder struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// New creates a Recorder and registers its collectors. A nil config uses
// DefaultConfig.
func New(config *Config) (*Recorder, error) {
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	if config.Namespace == "" {
		config.Namespace = def.Namespace
	}
	if config.Subsystem == "" {
		config.Subsystem = def.Subsystem
	}
	if len(config.Buckets) == 0 {
		config.Buckets = def.Buckets
	}
	if config.Registry == nil {
		config.Registry = def.Registry
	}

	r := &Recorder{
		registry: config.Registry,
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "operations_total",
				Help:      "Controller operations by entity, operation and HTTP status code",
			},
			[]string{"entity", "op", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "operation_duration_seconds",
				Help:      "Duration of controller operations in seconds",
				Buckets:   config.Buckets,
			},
			[]string{"entity", "op"},
		),
	}
	for _, c := range []prometheus.Collector{r.operations, r.duration} {
		if err := r.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Observe records one completed operation.
func (r *Recorder) Observe(entity, op string, status int, elapsed time.Duration) {
	r.operations.WithLabelValues(entity, op, strconv.Itoa(status)).Inc()
	r.duration.WithLabelValues(entity, op).Observe(elapsed.Seconds())
}

// Registry returns the registry the collectors were registered with.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
