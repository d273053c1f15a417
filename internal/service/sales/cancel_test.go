package sales_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

func TestCancelSale_SecondCancelDoesNotTouchStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.create(t, line("p-a", 4, "10"))

	_, err := f.svc.CancelSale(ctx, sale.ID())
	require.NoError(t, err)
	require.Equal(t, int64(100), f.stock(t, "p-a"))
	calls := f.products.calls()

	_, err = f.svc.CancelSale(ctx, sale.ID())
	require.ErrorIs(t, err, domain.ErrAlreadyCancelled)
	require.Equal(t, domain.KindDomainRule, domain.KindOf(err))
	require.Equal(t, calls, f.products.calls())
	require.Equal(t, int64(100), f.stock(t, "p-a"))
}

func TestCancelSale_SkipsAlreadyCancelledItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.create(t, line("p-a", 4, "10"), line("p-b", 3, "10"))

	_, err := f.svc.CancelSaleItem(ctx, sale.ID(), "p-a")
	require.NoError(t, err)
	require.Equal(t, int64(100), f.stock(t, "p-a"))

	report, err := f.svc.CancelSale(ctx, sale.ID())
	require.NoError(t, err)
	require.Len(t, report.Restorations, 1)
	require.Equal(t, "p-b", report.Restorations[0].ProductID)
	require.Equal(t, int64(100), f.stock(t, "p-a"))
	require.Equal(t, int64(100), f.stock(t, "p-b"))
}

func TestCancelSale_ReportsFailedRestorations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.create(t, line("p-a", 4, "10"), line("p-b", 3, "10"))
	f.products.failSetStock("p-a", errInjected)

	report, err := f.svc.CancelSale(ctx, sale.ID())
	require.NoError(t, err)
	require.True(t, report.Sale.IsCancelled())

	failed := report.FailedRestorations()
	require.Len(t, failed, 1)
	require.Equal(t, "p-a", failed[0].ProductID)
	require.ErrorIs(t, failed[0].Err, errInjected)
	require.Equal(t, int64(96), f.stock(t, "p-a"))
	require.Equal(t, int64(100), f.stock(t, "p-b"))

	event := f.sink.last()
	require.Equal(t, domain.EventSaleCancelled, event.name)
	require.Len(t, event.payload.Restorations, 2)
	require.False(t, event.payload.Restorations[0].Restored)
	require.NotEmpty(t, event.payload.Restorations[0].Error)
	require.True(t, event.payload.Restorations[1].Restored)

	stored, err := f.svc.GetSale(ctx, sale.ID())
	require.NoError(t, err)
	require.True(t, stored.IsCancelled())
}

func TestCancelSale_PersistFailureKeepsStock(t *testing.T) {
	f := newFixture(t)
	sale := f.create(t, line("p-a", 4, "10"))
	f.repo.saveErr = errInjected

	_, err := f.svc.CancelSale(context.Background(), sale.ID())
	require.ErrorIs(t, err, errInjected)
	require.Equal(t, domain.KindInfrastructure, domain.KindOf(err))
	require.Equal(t, int64(96), f.stock(t, "p-a"))
}

func TestCancelSale_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CancelSale(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrSaleNotFound)

	_, err = f.svc.CancelSale(context.Background(), " ")
	require.ErrorIs(t, err, domain.ErrSaleIDRequired)
}

func TestCancelSaleItem_RestoresStockAndKeepsLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.create(t, line("p-a", 4, "10"), line("p-b", 3, "10"))

	report, err := f.svc.CancelSaleItem(ctx, sale.ID(), "p-a")
	require.NoError(t, err)
	require.False(t, report.Sale.IsCancelled())
	require.Len(t, report.Sale.Items(), 2)
	require.True(t, report.Sale.Total().Equal(dec("30")), "total = %s", report.Sale.Total())
	require.Len(t, report.Restorations, 1)
	require.True(t, report.Restorations[0].Restored())
	require.Equal(t, int64(100), f.stock(t, "p-a"))

	event := f.sink.last()
	require.Equal(t, domain.EventSaleItemCancelled, event.name)
	require.Equal(t, "p-a", event.payload.ProductID)

	_, err = f.svc.CancelSaleItem(ctx, sale.ID(), "p-a")
	require.ErrorIs(t, err, domain.ErrItemAlreadyCancelled)
	require.Equal(t, int64(100), f.stock(t, "p-a"))
}

func TestCancelSaleItem_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.create(t, line("p-a", 4, "10"))

	_, err := f.svc.CancelSaleItem(ctx, sale.ID(), "")
	require.ErrorIs(t, err, domain.ErrProductIDRequired)

	_, err = f.svc.CancelSaleItem(ctx, sale.ID(), "ghost")
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	_, err = f.svc.CancelSaleItem(ctx, sale.ID(), "p-b")
	require.ErrorIs(t, err, domain.ErrItemNotFound)

	_, err = f.svc.CancelSaleItem(ctx, "missing", "p-a")
	require.ErrorIs(t, err, domain.ErrSaleNotFound)

	_, err = f.svc.CancelSale(ctx, sale.ID())
	require.NoError(t, err)
	_, err = f.svc.CancelSaleItem(ctx, sale.ID(), "p-a")
	require.ErrorIs(t, err, domain.ErrSaleCancelled)
	require.Equal(t, int64(100), f.stock(t, "p-a"))
}

func TestCancelSale_RequestCancelledAfterCommit(t *testing.T) {
	f := newFixture(t)
	sale := f.create(t, line("p-a", 5, "10"), line("p-b", 3, "10"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.repo.committed = cancel

	report, err := f.svc.CancelSale(ctx, sale.ID())
	require.NoError(t, err)
	require.ErrorIs(t, ctx.Err(), context.Canceled)
	require.Empty(t, report.FailedRestorations())
	require.Equal(t, int64(100), f.stock(t, "p-a"))
	require.Equal(t, int64(100), f.stock(t, "p-b"))

	event := f.sink.last()
	require.Equal(t, domain.EventSaleCancelled, event.name)
	require.NoError(t, event.ctxErr)

	history, err := f.svc.SaleHistory(context.Background(), sale.ID())
	require.NoError(t, err)
	require.Equal(t, domain.EventSaleCancelled, history[len(history)-1].Type)
}

func TestCancelSaleItem_RequestCancelledAfterCommit(t *testing.T) {
	f := newFixture(t)
	sale := f.create(t, line("p-a", 5, "10"), line("p-b", 3, "10"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.repo.committed = cancel

	report, err := f.svc.CancelSaleItem(ctx, sale.ID(), "p-a")
	require.NoError(t, err)
	require.Empty(t, report.FailedRestorations())
	require.Equal(t, int64(100), f.stock(t, "p-a"))
	require.Equal(t, int64(97), f.stock(t, "p-b"))

	event := f.sink.last()
	require.Equal(t, domain.EventSaleItemCancelled, event.name)
	require.NoError(t, event.ctxErr)
}
