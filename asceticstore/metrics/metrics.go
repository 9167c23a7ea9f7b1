// Package metrics exports prometheus metrics of contexts and the
// coordinator. A nil *Metrics records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "asceticstore"

type Metrics struct {
	operations      *prometheus.CounterVec
	operationErrors *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	merges          *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	commitFailures  *prometheus.CounterVec
	pendingJobs     *prometheus.GaugeVec
}

// New registers the metrics with reg, prometheus.DefaultRegisterer when
// nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "context",
			Name:      "operations_total",
			Help:      "Operations executed by a context",
		}, []string{"context", "operation"}),
		operationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "context",
			Name:      "operation_errors_total",
			Help:      "Operations of a context that failed",
		}, []string{"context", "operation"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "context",
			Name:      "operation_duration_seconds",
			Help:      "Time an operation spent on the context queue and running",
			Buckets:   prometheus.DefBuckets,
		}, []string{"context", "operation"}),
		merges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "context",
			Name:      "merges_total",
			Help:      "Save events merged into a context",
		}, []string{"context", "origin"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "context",
			Name:      "batch_delete_fallbacks_total",
			Help:      "Batch deletes that fetched and deleted records one by one",
		}, []string{"context", "entity"}),
		commitFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "commit_failures_total",
			Help:      "Coordinator commits that failed, by phase",
		}, []string{"phase"}),
		pendingJobs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "context",
			Name:      "pending_jobs",
			Help:      "Jobs waiting on a context queue",
		}, []string{"context"}),
	}
}

// Observe counts one operation and its duration.
func (m *Metrics) Observe(context, operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(context, operation).Inc()
	if err != nil {
		m.operationErrors.WithLabelValues(context, operation).Inc()
	}
	m.duration.WithLabelValues(context, operation).Observe(time.Since(started).Seconds())
}

func (m *Metrics) Merged(context, origin string) {
	if m == nil {
		return
	}
	m.merges.WithLabelValues(context, origin).Inc()
}

func (m *Metrics) BatchDeleteFallback(context, entity string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(context, entity).Inc()
}

func (m *Metrics) CommitFailed(phase string) {
	if m == nil {
		return
	}
	m.commitFailures.WithLabelValues(phase).Inc()
}

func (m *Metrics) SetPending(context string, n int) {
	if m == nil {
		return
	}
	m.pendingJobs.WithLabelValues(context).Set(float64(n))
}
