// Package metrics defines the prometheus collectors for the storage core.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors for rumormill metrics.
var (
	OpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rumormill_storage_ops_total",
		Help: "Cumulative number of storage operations by kind and status.",
	}, []string{"kind", "status"})
	OpDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "rumormill_storage_op_duration_seconds",
		Help: "Time from dequeue to result delivery.",
	}, []string{"kind"})
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rumormill_serializer_queue_depth",
		Help: "Operations currently waiting in the serializer queue.",
	})
	PoolInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rumormill_pool_connections_in_use",
		Help: "Pooled connections currently borrowed.",
	})
	PoolOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rumormill_pool_connections_open",
		Help: "Pooled connections currently open (borrowed plus idle).",
	})
	RetryAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rumormill_retry_attempts_total",
		Help: "Cumulative number of transient failures that were retried.",
	})
	ReservationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rumormill_reservations_total",
		Help: "Cumulative reservation attempts by outcome.",
	}, []string{"outcome"})
	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "rumormill_http_request_duration_seconds",
		Help: "Facade request latency by route and status code.",
	}, []string{"route", "code"})
)

// Collectors lists every collector for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		OpsTotal,
		OpDurationSeconds,
		QueueDepth,
		PoolInUse,
		PoolOpen,
		RetryAttempts,
		ReservationsTotal,
		HTTPRequestDurationSeconds,
	}
}

var registerOnce sync.Once

// Register installs the collectors into the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(Collectors()...)
	})
}
