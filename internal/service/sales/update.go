package sales

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// UpdateSaleInput — желаемое конечное состояние продажи (не дельта).
type UpdateSaleInput struct {
	SaleID     string
	Date       time.Time
	CustomerID string
	BranchID   string
	Items      []LineInput
}

// UpdateSaleResult — сохранённая продажа и применённый план сверки.
type UpdateSaleResult struct {
	Sale *domain.Sale
	Plan ReconciliationPlan
}

// UpdateSale сверяет позиции продажи с запрошенными, применяет дельты остатков
// в порядке removed, matched, added и сохраняет продажу.
// Наличие проверяется до первой записи остатка. Если запись остатка или сохранение
// продажи не удались, применённые дельты откатываются.
func (s *Service) UpdateSale(ctx context.Context, in UpdateSaleInput) (result UpdateSaleResult, err error) {
	done := s.track("update")
	defer func() { done(err) }()

	lines, err := normalizeLines(in.Items)
	if err != nil {
		return UpdateSaleResult{}, err
	}

	sale, err := s.loadSale(ctx, in.SaleID)
	if err != nil {
		return UpdateSaleResult{}, err
	}
	if sale.IsCancelled() {
		return UpdateSaleResult{}, fmt.Errorf("sale %s: %w", sale.ID(), domain.ErrSaleCancelled)
	}

	customer, branch, err := s.lookupParties(ctx, in.CustomerID, in.BranchID)
	if err != nil {
		return UpdateSaleResult{}, err
	}

	plan := PlanReconciliation(sale, lines)
	if err := s.checkAvailability(ctx, &plan); err != nil {
		return UpdateSaleResult{}, err
	}

	working := sale.Clone()
	if err := applyPlan(working, plan); err != nil {
		return UpdateSaleResult{}, err
	}
	if err := working.UpdateDetails(in.Date, customer.ID, customer.Name, branch.ID, branch.Name); err != nil {
		return UpdateSaleResult{}, err
	}

	applied, err := s.stock.applyAll(ctx, plan.StockAdjustments())
	if err != nil {
		return UpdateSaleResult{}, err
	}

	saved, err := s.sales.Save(ctx, working)
	if err != nil {
		s.logger.WithError(err).WithField("sale_id", sale.ID()).Warn("failed to persist sale update, reverting stock")
		s.stock.compensate(ctx, applied)
		return UpdateSaleResult{}, fmt.Errorf("persist sale %s: %w", sale.ID(), err)
	}

	s.logger.WithFields(log.Fields{
		"sale_id": saved.ID(),
		"removed": len(plan.Removed),
		"matched": len(plan.Matched),
		"added":   len(plan.Added),
		"total":   saved.Total().String(),
	}).Info("sale updated")
	s.emit(ctx, domain.EventSaleUpdated, newSaleEventPayload(saved),
		fmt.Sprintf("removed %d, changed %d, added %d items", len(plan.Removed), len(plan.Matched), len(plan.Added)))

	return UpdateSaleResult{Sale: saved, Plan: plan}, nil
}

// checkAvailability проверяет наличие для дополнительных списаний и дополняет новые позиции
// данными каталога. Остатки не изменяет.
func (s *Service) checkAvailability(ctx context.Context, plan *ReconciliationPlan) error {
	for _, change := range plan.Matched {
		if change.Delta() <= 0 {
			continue
		}
		product, err := s.products.GetProduct(ctx, change.ProductID)
		if err != nil {
			return fmt.Errorf("lookup product %s: %w", change.ProductID, err)
		}
		if product.Stock < change.Delta() {
			return &domain.InsufficientStockError{ProductID: change.ProductID, Requested: change.Delta(), Available: product.Stock}
		}
	}

	for i, line := range plan.Added {
		product, err := s.products.GetProduct(ctx, line.ProductID)
		if err != nil {
			return fmt.Errorf("lookup product %s: %w", line.ProductID, err)
		}
		if product.Stock < int64(line.Quantity) {
			return &domain.InsufficientStockError{ProductID: line.ProductID, Requested: int64(line.Quantity), Available: product.Stock}
		}
		plan.Added[i] = resolveLine(line, product)
	}
	return nil
}

func applyPlan(sale *domain.Sale, plan ReconciliationPlan) error {
	for _, change := range plan.Removed {
		if err := sale.RemoveItem(change.ProductID); err != nil {
			return err
		}
	}
	for _, change := range plan.Matched {
		if err := sale.UpdateItem(change.ProductID, change.NewQty); err != nil {
			return err
		}
	}
	for _, line := range plan.Added {
		if err := sale.AddItem(line.ProductID, line.ProductName, line.Quantity, line.UnitPrice); err != nil {
			return fmt.Errorf("product %s: %w", line.ProductID, err)
		}
	}
	return nil
}
