package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := g.Write(metric); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	return metric.Gauge.GetValue()
}

func TestNewSalesMetricsWithRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSalesMetricsWithRegisterer(reg)

	if m.workflows == nil || m.workflowDuration == nil || m.activeWorkflows == nil {
		t.Fatal("workflow collectors should not be nil")
	}
	if m.stockAdjustments == nil || m.stockConflicts == nil || m.restoreFailures == nil || m.compensations == nil {
		t.Fatal("stock collectors should not be nil")
	}
	if m.timelineEvents == nil || m.publishedEvents == nil {
		t.Fatal("event collectors should not be nil")
	}
}

func TestNewSalesMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewSalesMetricsWithRegisterer(reg)
	second := NewSalesMetricsWithRegisterer(reg)

	first.RecordStockConflict()
	second.RecordStockConflict()

	if got := counterValue(t, first.stockConflicts); got != 2 {
		t.Fatalf("expected shared counter value 2, got %f", got)
	}
}

func TestWorkflowLifecycle(t *testing.T) {
	m := NewSalesMetricsWithRegisterer(prometheus.NewRegistry())

	m.WorkflowStarted()
	m.WorkflowStarted()
	if got := gaugeValue(t, m.activeWorkflows); got != 2 {
		t.Fatalf("expected 2 active workflows, got %f", got)
	}

	m.WorkflowFinished("create", nil, 10*time.Millisecond)
	m.WorkflowFinished("create", errors.New("boom"), 5*time.Millisecond)

	if got := gaugeValue(t, m.activeWorkflows); got != 0 {
		t.Fatalf("expected 0 active workflows, got %f", got)
	}
	if got := counterValue(t, m.workflows.WithLabelValues("create", ResultSuccess)); got != 1 {
		t.Fatalf("expected 1 success, got %f", got)
	}
	if got := counterValue(t, m.workflows.WithLabelValues("create", ResultFailure)); got != 1 {
		t.Fatalf("expected 1 failure, got %f", got)
	}
}

func TestStockCounters(t *testing.T) {
	m := NewSalesMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordStockAdjustment("reserve", nil)
	m.RecordStockAdjustment("release", errors.New("down"))
	m.RecordRestoreFailure()
	m.RecordCompensation(nil)
	m.RecordTimelineEvent()
	m.RecordEvent("SaleCreated")

	if got := counterValue(t, m.stockAdjustments.WithLabelValues("reserve", ResultSuccess)); got != 1 {
		t.Fatalf("unexpected reserve counter: %f", got)
	}
	if got := counterValue(t, m.stockAdjustments.WithLabelValues("release", ResultFailure)); got != 1 {
		t.Fatalf("unexpected release counter: %f", got)
	}
	if got := counterValue(t, m.restoreFailures); got != 1 {
		t.Fatalf("unexpected restore failures: %f", got)
	}
	if got := counterValue(t, m.compensations.WithLabelValues(ResultSuccess)); got != 1 {
		t.Fatalf("unexpected compensations: %f", got)
	}
	if got := counterValue(t, m.timelineEvents); got != 1 {
		t.Fatalf("unexpected timeline events: %f", got)
	}
	if got := counterValue(t, m.publishedEvents.WithLabelValues("SaleCreated")); got != 1 {
		t.Fatalf("unexpected events: %f", got)
	}
}
