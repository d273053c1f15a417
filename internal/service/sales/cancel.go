package sales

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// CancellationReport — отменённая продажа и результаты возврата остатков по позициям.
type CancellationReport struct {
	Sale         *domain.Sale
	Restorations []StockRestoration
}

// FailedRestorations возвращает позиции, по которым остаток вернуть не удалось.
func (r CancellationReport) FailedRestorations() []StockRestoration {
	var failed []StockRestoration
	for _, restoration := range r.Restorations {
		if restoration.Err != nil {
			failed = append(failed, restoration)
		}
	}
	return failed
}

// CancelSale отменяет продажу целиком. Остатки возвращаются после сохранения по каждой
// позиции независимо: сбой возврата попадает в отчёт и не отменяет саму отмену.
func (s *Service) CancelSale(ctx context.Context, saleID string) (report CancellationReport, err error) {
	done := s.track("cancel")
	defer func() { done(err) }()

	sale, err := s.loadSale(ctx, saleID)
	if err != nil {
		return CancellationReport{}, err
	}

	released := sale.ActiveItems()
	working := sale.Clone()
	if err := working.Cancel(); err != nil {
		return CancellationReport{}, fmt.Errorf("sale %s: %w", sale.ID(), err)
	}

	saved, err := s.sales.Save(ctx, working)
	if err != nil {
		return CancellationReport{}, fmt.Errorf("persist sale %s: %w", sale.ID(), err)
	}

	// продажа уже сохранена отменённой, возврат остатков не зависит от отмены запроса
	ctx, cancel := detach(ctx)
	defer cancel()

	restorations := s.stock.restore(ctx, saved.ID(), released)
	report = CancellationReport{Sale: saved, Restorations: restorations}

	s.logger.WithFields(log.Fields{
		"sale_id":  saved.ID(),
		"items":    len(released),
		"failures": len(report.FailedRestorations()),
	}).Info("sale cancelled")

	payload := newSaleEventPayload(saved)
	payload.Restorations = restorationPayloads(restorations)
	s.emit(ctx, domain.EventSaleCancelled, payload, describeRestorations(restorations))

	return report, nil
}

// CancelSaleItem отменяет одну позицию и возвращает её количество на склад.
func (s *Service) CancelSaleItem(ctx context.Context, saleID, productID string) (report CancellationReport, err error) {
	done := s.track("cancel_item")
	defer func() { done(err) }()

	productID = strings.TrimSpace(productID)
	if productID == "" {
		return CancellationReport{}, domain.ErrProductIDRequired
	}

	sale, err := s.loadSale(ctx, saleID)
	if err != nil {
		return CancellationReport{}, err
	}
	if _, err := s.products.GetProduct(ctx, productID); err != nil {
		return CancellationReport{}, fmt.Errorf("lookup product %s: %w", productID, err)
	}

	item, ok := sale.Item(productID)
	if !ok {
		return CancellationReport{}, fmt.Errorf("%w: %s", domain.ErrItemNotFound, productID)
	}
	working := sale.Clone()
	if err := working.CancelItem(productID); err != nil {
		return CancellationReport{}, err
	}

	saved, err := s.sales.Save(ctx, working)
	if err != nil {
		return CancellationReport{}, fmt.Errorf("persist sale %s: %w", sale.ID(), err)
	}

	ctx, cancel := detach(ctx)
	defer cancel()

	restorations := s.stock.restore(ctx, saved.ID(), []domain.SaleItem{item})
	report = CancellationReport{Sale: saved, Restorations: restorations}

	s.logger.WithFields(log.Fields{
		"sale_id":    saved.ID(),
		"product_id": productID,
		"quantity":   item.Quantity(),
	}).Info("sale item cancelled")

	payload := newSaleEventPayload(saved)
	payload.ProductID = productID
	payload.Restorations = restorationPayloads(restorations)
	s.emit(ctx, domain.EventSaleItemCancelled, payload, "item "+productID+" cancelled, "+describeRestorations(restorations))

	return report, nil
}
