package contentstore

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus collectors for store and locking operations.
// A nil *Metrics records nothing.
type Metrics struct {
	operations *prometheus.CounterVec   // By operation, backend and result
	latency    *prometheus.HistogramVec // By operation and backend
	bytes      *prometheus.CounterVec   // By backend
	conflicts  *prometheus.CounterVec   // By entity
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contentstore",
			Name:      "operations_total",
			Help:      "Total number of content operations",
		}, []string{"operation", "backend", "result"}),

		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "contentstore",
			Name:      "operation_duration_seconds",
			Help:      "Content operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "backend"}),

		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contentstore",
			Name:      "stored_bytes_total",
			Help:      "Total number of bytes written to backends",
		}, []string{"backend"}),

		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contentstore",
			Subsystem: "locking",
			Name:      "conflicts_total",
			Help:      "Total number of optimistic lock conflicts",
		}, []string{"entity"}),
	}

	var err error
	if m.operations, err = register(reg, m.operations); err != nil {
		return nil, err
	}
	if m.latency, err = register(reg, m.latency); err != nil {
		return nil, err
	}
	if m.bytes, err = register(reg, m.bytes); err != nil {
		return nil, err
	}
	if m.conflicts, err = register(reg, m.conflicts); err != nil {
		return nil, err
	}
	return m, nil
}

// register reuses an identical collector registered by another store.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) observe(op, backend string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrConflict):
		result = "conflict"
	case errors.Is(err, ErrConfiguration):
		result = "config_error"
	default:
		result = "error"
	}
	m.operations.WithLabelValues(op, backend, result).Inc()
	m.latency.WithLabelValues(op, backend).Observe(time.Since(start).Seconds())
}

func (m *Metrics) addBytes(backend string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytes.WithLabelValues(backend).Add(float64(n))
}

func (m *Metrics) conflict(entity string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(entity).Inc()
}
