package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
)

const compensationTimeout = 5 * time.Second

// StockAdjustment — изменение остатка товара со знаком: минус резервирует, плюс возвращает.
type StockAdjustment struct {
	ProductID string
	Delta     int64
}

func (a StockAdjustment) direction() string {
	if a.Delta < 0 {
		return "reserve"
	}
	return "release"
}

// StockRestoration — результат одного возврата остатка при отмене.
type StockRestoration struct {
	ProductID string
	Quantity  int64
	Err       error
}

// Restored сообщает, что остаток вернулся.
func (r StockRestoration) Restored() bool { return r.Err == nil }

// stockAdjuster применяет дельты через чтение, проверку stock+delta >= 0 и запись с версией.
type stockAdjuster struct {
	stock   domain.StockService
	retry   RetryConfig
	metrics *metrics.SalesMetrics
	logger  *log.Entry
}

func newStockAdjuster(stock domain.StockService, retry RetryConfig, m *metrics.SalesMetrics, logger *log.Entry) *stockAdjuster {
	return &stockAdjuster{
		stock:   stock,
		retry:   retry.normalized(),
		metrics: m,
		logger:  logger,
	}
}

// adjust применяет одну дельту, повторяя запись при конфликте версий.
func (a *stockAdjuster) adjust(ctx context.Context, adj StockAdjustment) error {
	if adj.Delta == 0 {
		return nil
	}
	err := a.adjustWithRetry(ctx, adj)
	if a.metrics != nil {
		a.metrics.RecordStockAdjustment(adj.direction(), err)
	}
	return err
}

func (a *stockAdjuster) adjustWithRetry(ctx context.Context, adj StockAdjustment) error {
	delay := a.retry.InitialDelay

	for attempt := 1; attempt <= a.retry.MaxAttempts; attempt++ {
		product, err := a.stock.GetProduct(ctx, adj.ProductID)
		if err != nil {
			return fmt.Errorf("load product %s: %w", adj.ProductID, err)
		}

		newStock := product.Stock + adj.Delta
		if newStock < 0 {
			return &domain.InsufficientStockError{
				ProductID: adj.ProductID,
				Requested: -adj.Delta,
				Available: product.Stock,
			}
		}

		err = a.stock.SetStock(ctx, adj.ProductID, newStock, product.Version)
		if err == nil {
			if attempt > 1 {
				a.logger.WithFields(log.Fields{
					"product_id": adj.ProductID,
					"delta":      adj.Delta,
					"attempt":    attempt,
				}).Debug("stock adjusted after retry")
			}
			return nil
		}
		if !errors.Is(err, domain.ErrStockVersionConflict) {
			return fmt.Errorf("set stock for product %s: %w", adj.ProductID, err)
		}
		if a.metrics != nil {
			a.metrics.RecordStockConflict()
		}

		if attempt < a.retry.MaxAttempts && delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = a.retry.next(delay)
		}
	}

	return fmt.Errorf("set stock for product %s after %d attempts: %w", adj.ProductID, a.retry.MaxAttempts, domain.ErrStockVersionConflict)
}

// applyAll применяет дельты по порядку. При ошибке уже применённые откатываются
// в обратном порядке, возвращается исходная ошибка.
func (a *stockAdjuster) applyAll(ctx context.Context, adjustments []StockAdjustment) ([]StockAdjustment, error) {
	applied := make([]StockAdjustment, 0, len(adjustments))
	for _, adj := range adjustments {
		if err := a.adjust(ctx, adj); err != nil {
			a.compensate(ctx, applied)
			return nil, err
		}
		if adj.Delta != 0 {
			applied = append(applied, adj)
		}
	}
	return applied, nil
}

// compensate откатывает применённые дельты. Ошибки только логируются.
// Работает и при отменённом ctx запроса: откат ограничен собственным таймаутом.
func (a *stockAdjuster) compensate(ctx context.Context, applied []StockAdjustment) {
	if len(applied) == 0 {
		return
	}
	ctx, cancel := detach(ctx)
	defer cancel()

	for i := len(applied) - 1; i >= 0; i-- {
		reverse := StockAdjustment{ProductID: applied[i].ProductID, Delta: -applied[i].Delta}
		err := a.adjust(ctx, reverse)
		if a.metrics != nil {
			a.metrics.RecordCompensation(err)
		}
		if err != nil {
			a.logger.WithError(err).WithFields(log.Fields{
				"product_id": reverse.ProductID,
				"delta":      reverse.Delta,
			}).Warn("stock compensation failed")
		}
	}
}

// detach отвязывает ctx от отмены запроса и ограничивает его compensationTimeout.
// Так выполняются откаты и все шаги после сохранения продажи.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
}

// restore возвращает остаток по каждой позиции независимо и собирает результаты.
func (a *stockAdjuster) restore(ctx context.Context, saleID string, items []domain.SaleItem) []StockRestoration {
	restorations := make([]StockRestoration, 0, len(items))
	for _, item := range items {
		qty := int64(item.Quantity())
		err := a.adjust(ctx, StockAdjustment{ProductID: item.ProductID(), Delta: qty})
		if err != nil {
			if a.metrics != nil {
				a.metrics.RecordRestoreFailure()
			}
			a.logger.WithError(err).WithFields(log.Fields{
				"sale_id":    saleID,
				"product_id": item.ProductID(),
				"quantity":   qty,
			}).Warn("failed to restore stock, skipping")
		}
		restorations = append(restorations, StockRestoration{ProductID: item.ProductID(), Quantity: qty, Err: err})
	}
	return restorations
}
