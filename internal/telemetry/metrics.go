package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shaiso/flowgraph/internal/domain"
	"github.com/shaiso/flowgraph/internal/engine"
)

const namespace = "flowgraph"

// Статусы запусков в метках.
const (
	runStatusSucceeded = "succeeded"
	runStatusPartial   = "partial"
	runStatusFailed    = "failed"
)

// Metrics — Prometheus метрики выполнения workflow.
//
// Реализует engine.Observer и подключается к движку через
// engine.WithObserver.
type Metrics struct {
	nodeExecutions *prometheus.CounterVec
	nodeRetries    *prometheus.CounterVec
	nodeDuration   *prometheus.HistogramVec
	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
}

var _ engine.Observer = (*Metrics)(nil)

// NewMetrics регистрирует метрики в reg.
// Если reg == nil, используется prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		nodeExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_executions_total",
				Help:      "Total number of finished node executions",
			},
			[]string{"type", "status"},
		),
		nodeRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_retries_total",
				Help:      "Total number of node attempt retries",
			},
			[]string{"type"},
		),
		nodeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_duration_seconds",
				Help:      "Node execution duration in seconds, retries included",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of finished workflow runs",
			},
			[]string{"status"},
		),
		runDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Workflow run duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
		),
	}
}

// NodeStarted ничего не записывает.
func (m *Metrics) NodeStarted(context.Context, *domain.NodeRun) {}

// NodeRetrying увеличивает счётчик повторов.
func (m *Metrics) NodeRetrying(_ context.Context, run *domain.NodeRun, _ error) {
	m.nodeRetries.WithLabelValues(run.Type).Inc()
}

// NodeFinished записывает итог выполнения узла.
func (m *Metrics) NodeFinished(_ context.Context, run *domain.NodeRun) {
	m.nodeExecutions.WithLabelValues(run.Type, string(run.Status)).Inc()
	m.nodeDuration.WithLabelValues(run.Type).Observe(run.Duration().Seconds())
}

// RunFinished записывает итог запуска.
func (m *Metrics) RunFinished(_ context.Context, res *engine.Result) {
	status := runStatusSucceeded
	switch {
	case !res.Success:
		status = runStatusFailed
	case res.Partial():
		status = runStatusPartial
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(res.Duration().Seconds())
}
