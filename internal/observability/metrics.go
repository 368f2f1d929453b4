package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	PlansCreated         *prometheus.CounterVec
	PlanEvents           *prometheus.CounterVec
	QueueOutcomes        *prometheus.CounterVec
	QueueDepth           prometheus.Gauge
	ExecutionLatency     prometheus.Histogram
	NotificationOutcomes *prometheus.CounterVec
	LedgerReplays        prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the instruments on an explicit registerer.
// Tests use this with a fresh registry per case.
func NewMetricsWith(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PlansCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_created_total",
			Help:      "Plans created by intent kind and source.",
		}, []string{"kind", "source"}),
		PlanEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_events_total",
			Help:      "Plan lifecycle events by type.",
		}, []string{"event"}),
		QueueOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_outcomes_total",
			Help:      "Execution queue item outcomes by kind and result.",
		}, []string{"kind", "outcome"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Items currently claimable by the worker sweep.",
		}),
		ExecutionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_latency_ms",
			Help:      "Provider execution latency in milliseconds.",
			Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 15000},
		}),
		NotificationOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_outcomes_total",
			Help:      "Notification dispatch outcomes by reason.",
		}, []string{"outcome"}),
		LedgerReplays: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_replays_total",
			Help:      "Duplicate executions answered from the idempotency ledger.",
		}),
	}
}

func (m *Metrics) ObserveExecutionLatency(d time.Duration) {
	m.ExecutionLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
