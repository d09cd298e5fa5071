// Package metrics exposes task run counters and timings to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "saasloader"

// Collector owns a private registry so tests and multiple runners do not
// collide on the global one.
type Collector struct {
	registry *prometheus.Registry

	TaskRuns     *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec
	RowsWritten  *prometheus.CounterVec
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		TaskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_total",
			Help:      "Task runs by final status",
		}, []string{"task", "operator", "status"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall time of task runs in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}, []string{"task"}),
		RowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows written per destination table",
		}, []string{"table"}),
	}
	reg.MustRegister(c.TaskRuns, c.TaskDuration, c.RowsWritten)
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordRun observes one finished run. A nil Collector is a no-op.
func (c *Collector) RecordRun(task, operator, status string, d time.Duration, tables map[string]int) {
	if c == nil {
		return
	}
	c.TaskRuns.WithLabelValues(task, operator, status).Inc()
	c.TaskDuration.WithLabelValues(task).Observe(d.Seconds())
	for table, n := range tables {
		c.RowsWritten.WithLabelValues(table).Add(float64(n))
	}
}
