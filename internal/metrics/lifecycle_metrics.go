// Package metrics содержит Prometheus-метрики жизненного цикла заказов.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты приёма заказа с витрины.
const (
	IngestCreated   = "created"
	IngestDuplicate = "duplicate"
	IngestRejected  = "rejected"
	IngestFailed    = "failed"
)

// Результаты синхронизации статуса.
const (
	SyncSuccess = "success"
	SyncFailure = "failure"
	SyncSkipped = "skipped"
)

// LifecycleMetrics содержит метрики переходов заказа, шины событий, импорта и синхронизации.
type LifecycleMetrics struct {
	transitions      *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec
	versionConflicts prometheus.Counter
	handlerFailures  *prometheus.CounterVec
	ingested         *prometheus.CounterVec
	syncAttempts     *prometheus.CounterVec
	syncInFlight     prometheus.Gauge
}

// NewLifecycleMetrics создаёт метрики в DefaultRegisterer.
func NewLifecycleMetrics() *LifecycleMetrics {
	return NewLifecycleMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewLifecycleMetricsWithRegisterer создаёт метрики в указанном реестре.
func NewLifecycleMetricsWithRegisterer(registerer prometheus.Registerer) *LifecycleMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &LifecycleMetrics{
		transitions: reuse(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderflow_order_transitions_total",
			Help: "Order lifecycle transitions by emitted event",
		}, []string{"event"})),
		operationLatency: reuse(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orderflow_order_operation_duration_seconds",
			Help:    "Duration of order lifecycle operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation", "result"})),
		versionConflicts: reuse(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderflow_order_version_conflicts_total",
			Help: "Order mutations that gave up after repeated version conflicts",
		})),
		handlerFailures: reuse(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderflow_event_handler_failures_total",
			Help: "Event bus subscriber failures (errors and panics)",
		}, []string{"event", "subscriber"})),
		ingested: reuse(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderflow_ingested_orders_total",
			Help: "Storefront orders processed by the ingestion gateway",
		}, []string{"result"})),
		syncAttempts: reuse(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderflow_status_sync_attempts_total",
			Help: "Status sync pushes to storefronts by result",
		}, []string{"result"})),
		syncInFlight: reuse(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orderflow_status_sync_in_flight",
			Help: "Number of status sync pushes currently running",
		})),
	}
}

// RecordTransition учитывает переход, завершившийся публикацией события.
func (m *LifecycleMetrics) RecordTransition(event string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(event).Inc()
}

// ObserveOperation записывает длительность операции над заказом.
func (m *LifecycleMetrics) ObserveOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operationLatency.WithLabelValues(operation, result).Observe(duration.Seconds())
}

// RecordVersionConflict учитывает мутацию, не пробившуюся через optimistic locking.
func (m *LifecycleMetrics) RecordVersionConflict() {
	if m == nil {
		return
	}
	m.versionConflicts.Inc()
}

// RecordHandlerFailure реализует events.FailureObserver.
func (m *LifecycleMetrics) RecordHandlerFailure(event, subscriber string) {
	if m == nil {
		return
	}
	m.handlerFailures.WithLabelValues(event, subscriber).Inc()
}

// RecordIngest учитывает результат приёма заказа.
func (m *LifecycleMetrics) RecordIngest(result string) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(result).Inc()
}

// RecordSync учитывает результат синхронизации.
func (m *LifecycleMetrics) RecordSync(result string) {
	if m == nil {
		return
	}
	m.syncAttempts.WithLabelValues(result).Inc()
}

// SyncStarted и SyncFinished отслеживают число активных синхронизаций.
func (m *LifecycleMetrics) SyncStarted() {
	if m == nil {
		return
	}
	m.syncInFlight.Inc()
}

func (m *LifecycleMetrics) SyncFinished() {
	if m == nil {
		return
	}
	m.syncInFlight.Dec()
}
