package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors exposed by the coordinator's
// /metrics endpoint .
type Metrics struct {
	ConnectedClients  prometheus.Gauge
	ActiveDocuments   prometheus.Gauge
	OperationsApplied *prometheus.CounterVec
	OperationsFailed  *prometheus.CounterVec
	TransformDuration prometheus.Histogram
	BroadcastDuration prometheus.Histogram
	MessagesTotal     *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// Get returns the singleton Metrics instance, registering collectors on
// first use.
func Get() *Metrics {
	metricsOnce.Do(func() {
		metrics = newMetrics()
	})
	return metrics
}

func newMetrics() *Metrics {
	m := &Metrics{}

	m.ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "collab",
		Subsystem: "coordinator",
		Name:      "connected_clients",
		Help:      "Current number of connected WebSocket clients.",
	})

	m.ActiveDocuments = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "collab",
		Subsystem: "coordinator",
		Name:      "active_documents",
		Help:      "Current number of resident document authorities.",
	})

	m.OperationsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab",
		Subsystem: "authority",
		Name:      "operations_applied_total",
		Help:      "Total number of operations successfully applied, by type.",
	}, []string{"type"})

	m.OperationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab",
		Subsystem: "authority",
		Name:      "operations_failed_total",
		Help:      "Total number of operations rejected, by reason.",
	}, []string{"reason"})

	m.TransformDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "collab",
		Subsystem: "authority",
		Name:      "transform_duration_seconds",
		Help:      "Time spent transforming an inbound operation against recent history.",
		Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025},
	})

	m.BroadcastDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "collab",
		Subsystem: "authority",
		Name:      "broadcast_duration_seconds",
		Help:      "Time spent broadcasting an applied operation to peers.",
		Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
	})

	m.MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab",
		Subsystem: "coordinator",
		Name:      "messages_total",
		Help:      "Total number of wire messages, by type and direction.",
	}, []string{"type", "direction"})

	return m
}

// RecordApply records a successfully applied operation's type and the
// time spent transforming it against recent history.
func (m *Metrics) RecordApply(opType string, transformElapsed time.Duration) {
	m.OperationsApplied.WithLabelValues(opType).Inc()
	m.TransformDuration.Observe(transformElapsed.Seconds())
}

// RecordRejected records an operation rejected for the given reason
// (e.g. "invalid_operation", "document_not_found").
func (m *Metrics) RecordRejected(reason string) {
	m.OperationsFailed.WithLabelValues(reason).Inc()
}

// RecordMessage records an inbound or outbound wire message.
func (m *Metrics) RecordMessage(msgType, direction string) {
	m.MessagesTotal.WithLabelValues(msgType, direction).Inc()
}
