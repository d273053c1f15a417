package sales_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
	"github.com/vladislavdragonenkov/sales/internal/service/sales"
)

func TestStockWrite_RetriesOnVersionConflict(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t, sales.WithMetrics(metrics.NewSalesMetricsWithRegisterer(reg)))
	f.products.injectConflicts("p-a", 3)

	sale := f.create(t, line("p-a", 2, "10"))

	require.NotEmpty(t, sale.ID())
	require.Equal(t, int64(98), f.stock(t, "p-a"))
	require.Equal(t, 4, f.products.calls())
	require.Equal(t, float64(3), metricValue(t, reg, "sales_stock_conflicts_total", nil))
}

func TestStockWrite_GivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, sales.WithRetryConfig(sales.RetryConfig{MaxAttempts: 3}))
	f.products.injectConflicts("p-a", 10)

	_, err := f.svc.CreateSale(context.Background(), sales.CreateSaleInput{
		CustomerID: "customer-1",
		BranchID:   "branch-1",
		Items:      []sales.LineInput{line("p-a", 2, "10")},
	})

	require.ErrorIs(t, err, domain.ErrStockVersionConflict)
	require.True(t, domain.IsVersionConflict(err))
	require.Equal(t, 3, f.products.calls())
	require.Equal(t, int64(100), f.stock(t, "p-a"))
}

func TestStockWrite_StopsWhenContextCancelled(t *testing.T) {
	f := newFixture(t, sales.WithRetryConfig(sales.RetryConfig{
		MaxAttempts:  10,
		InitialDelay: time.Second,
		MaxDelay:     time.Second,
	}))
	f.products.injectConflicts("p-a", 10)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.svc.CreateSale(ctx, sales.CreateSaleInput{
		CustomerID: "customer-1",
		BranchID:   "branch-1",
		Items:      []sales.LineInput{line("p-a", 2, "10")},
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, f.products.calls())
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := sales.DefaultRetryConfig()
	require.Equal(t, 5, cfg.MaxAttempts)
	require.Equal(t, 10*time.Millisecond, cfg.InitialDelay)
	require.Equal(t, 500*time.Millisecond, cfg.MaxDelay)
	require.InDelta(t, 2.0, cfg.BackoffFactor, 0.0001)
}

func TestWorkflowMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t, sales.WithMetrics(metrics.NewSalesMetricsWithRegisterer(reg)))

	sale := f.create(t, line("p-a", 2, "10"))
	_, err := f.svc.CancelSale(context.Background(), sale.ID())
	require.NoError(t, err)
	_, err = f.svc.CancelSale(context.Background(), sale.ID())
	require.Error(t, err)

	workflow := func(operation, result string) float64 {
		return metricValue(t, reg, "sales_workflow_total", map[string]string{"operation": operation, "result": result})
	}
	require.Equal(t, float64(1), workflow("create", metrics.ResultSuccess))
	require.Equal(t, float64(1), workflow("cancel", metrics.ResultSuccess))
	require.Equal(t, float64(1), workflow("cancel", metrics.ResultFailure))
	require.Equal(t, float64(0), metricValue(t, reg, "sales_active_workflows", nil))
	require.Equal(t, float64(1), metricValue(t, reg, "sales_events_total", map[string]string{"event": domain.EventSaleCreated}))
}

// metricValue достаёт значение счётчика или gauge из registry по имени и меткам.
func metricValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metricLoop:
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want != pair.GetValue() {
					continue metricLoop
				}
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("metric %s %v not found", name, labels)
	return 0
}
