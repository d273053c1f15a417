package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты операций для меток.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// SalesMetrics содержит метрики workflow продаж и корректировок остатков.
type SalesMetrics struct {
	// Операции над продажами
	workflows        *prometheus.CounterVec
	workflowDuration *prometheus.HistogramVec
	activeWorkflows  prometheus.Gauge

	// Остатки
	stockAdjustments *prometheus.CounterVec
	stockConflicts   prometheus.Counter
	restoreFailures  prometheus.Counter
	compensations    *prometheus.CounterVec

	// События
	timelineEvents  prometheus.Counter
	publishedEvents *prometheus.CounterVec

	// Outbox
	outboxPublishes *prometheus.CounterVec
	outboxPending   prometheus.Gauge
	outboxOldestAge prometheus.Gauge

	// Идемпотентность
	idempotencyClaims   *prometheus.CounterVec
	idempotencyCleanups *prometheus.CounterVec
	idempotencyDeleted  prometheus.Counter
}

// NewSalesMetrics создаёт метрики и регистрирует их в DefaultRegisterer.
func NewSalesMetrics() *SalesMetrics {
	return NewSalesMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSalesMetricsWithRegisterer создаёт метрики в указанном registerer (в тестах отдельный registry).
func NewSalesMetricsWithRegisterer(registerer prometheus.Registerer) *SalesMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SalesMetrics{
		workflows: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "sales_workflow_total",
			Help: "Total number of sale workflows grouped by operation and result",
		}, []string{"operation", "result"}),
		workflowDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "sales_workflow_duration_seconds",
			Help:    "Duration of sale workflows in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		activeWorkflows: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "sales_active_workflows",
			Help: "Number of sale workflows currently in progress",
		}),
		stockAdjustments: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "sales_stock_adjustments_total",
			Help: "Total number of product stock adjustments grouped by direction and result",
		}, []string{"direction", "result"}),
		stockConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "sales_stock_conflicts_total",
			Help: "Total number of stock compare-and-set conflicts",
		}),
		restoreFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "sales_stock_restore_failures_total",
			Help: "Total number of best-effort stock restorations that failed",
		}),
		compensations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "sales_stock_compensations_total",
			Help: "Total number of stock compensations after failed workflows",
		}, []string{"result"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "sales_timeline_events_total",
			Help: "Total number of sale history events recorded",
		}),
		publishedEvents: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "sales_events_total",
			Help: "Total number of sale events handed to the event sink",
		}, []string{"event"}),
		outboxPublishes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "sales_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result",
		}, []string{"result"}),
		outboxPending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "sales_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox",
		}),
		outboxOldestAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "sales_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record",
		}),
		idempotencyClaims: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "sales_idempotency_claims_total",
			Help: "Total number of idempotency key claims grouped by outcome",
		}, []string{"outcome"}),
		idempotencyCleanups: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "sales_idempotency_cleanup_runs_total",
			Help: "Total number of idempotency key cleanup runs grouped by result",
		}, []string{"result"}),
		idempotencyDeleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "sales_idempotency_cleanup_deleted_total",
			Help: "Total number of expired idempotency keys removed",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// WorkflowStarted увеличивает количество выполняющихся workflow.
func (m *SalesMetrics) WorkflowStarted() {
	m.activeWorkflows.Inc()
}

// WorkflowFinished фиксирует результат и длительность workflow.
func (m *SalesMetrics) WorkflowFinished(operation string, err error, duration time.Duration) {
	m.activeWorkflows.Dec()
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.workflows.WithLabelValues(operation, result).Inc()
	m.workflowDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordStockAdjustment считает корректировку остатка; direction: reserve или release.
func (m *SalesMetrics) RecordStockAdjustment(direction string, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.stockAdjustments.WithLabelValues(direction, result).Inc()
}

// RecordStockConflict увеличивает счётчик конфликтов версий остатка.
func (m *SalesMetrics) RecordStockConflict() {
	m.stockConflicts.Inc()
}

// RecordRestoreFailure увеличивает счётчик неудачных возвратов остатка.
func (m *SalesMetrics) RecordRestoreFailure() {
	m.restoreFailures.Inc()
}

// RecordCompensation фиксирует результат компенсирующей корректировки.
func (m *SalesMetrics) RecordCompensation(err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.compensations.WithLabelValues(result).Inc()
}

// RecordTimelineEvent увеличивает счётчик событий истории.
func (m *SalesMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

// RecordEvent увеличивает счётчик событий, переданных в sink.
func (m *SalesMetrics) RecordEvent(eventName string) {
	m.publishedEvents.WithLabelValues(eventName).Inc()
}

// RecordOutboxPublish считает попытку публикации из outbox.
func (m *SalesMetrics) RecordOutboxPublish(result string) {
	m.outboxPublishes.WithLabelValues(result).Inc()
}

// SetOutboxBacklog обновляет размер и возраст очереди outbox.
func (m *SalesMetrics) SetOutboxBacklog(pending int, oldest time.Duration) {
	if oldest < 0 {
		oldest = 0
	}
	m.outboxPending.Set(float64(pending))
	m.outboxOldestAge.Set(oldest.Seconds())
}

// RecordIdempotencyClaim считает исход claim: claimed, replayed, in_flight, mismatch или error.
func (m *SalesMetrics) RecordIdempotencyClaim(outcome string) {
	m.idempotencyClaims.WithLabelValues(outcome).Inc()
}

// RecordIdempotencyCleanup фиксирует проход очистки и число удалённых ключей.
func (m *SalesMetrics) RecordIdempotencyCleanup(deleted int, err error) {
	if err != nil {
		m.idempotencyCleanups.WithLabelValues(ResultFailure).Inc()
	} else {
		m.idempotencyCleanups.WithLabelValues(ResultSuccess).Inc()
	}
	if deleted > 0 {
		m.idempotencyDeleted.Add(float64(deleted))
	}
}
