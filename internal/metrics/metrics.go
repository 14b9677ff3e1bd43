// Package metrics exposes the process's own Prometheus counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hostwatch"

type Metrics struct {
	registry *prometheus.Registry

	// ProbesTotal counts health probes by checker and outcome.
	ProbesTotal *prometheus.CounterVec
	// AlertsTotal counts dispatcher outcomes by result.
	AlertsTotal *prometheus.CounterVec
	// StorageFailures counts dropped writes by data kind.
	StorageFailures *prometheus.CounterVec
	RollupRows      *prometheus.CounterVec
	RollupDuration  *prometheus.HistogramVec
	CollectorErrors *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ProbesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Service probes by checker and result",
		}, []string{"checker", "result"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alert dispatch outcomes",
		}, []string{"result"}),
		StorageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_failures_total",
			Help:      "Persistence failures by data kind",
		}, []string{"kind"}),
		RollupRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollup_rows_total",
			Help:      "Rows folded and deleted by rollup passes",
		}, []string{"type", "op"}),
		RollupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rollup_duration_seconds",
			Help:      "Rollup pass duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		CollectorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_errors_total",
			Help:      "Collector passes that fell back to stale or zero data",
		}, []string{"collector"}),
	}
	m.registry.MustRegister(
		m.ProbesTotal,
		m.AlertsTotal,
		m.StorageFailures,
		m.RollupRows,
		m.RollupDuration,
		m.CollectorErrors,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
