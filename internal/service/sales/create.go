package sales

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// CreateSaleInput — реквизиты новой продажи и её позиции.
type CreateSaleInput struct {
	Number     string
	Date       time.Time
	CustomerID string
	BranchID   string
	Items      []LineInput
}

// CreateSale проверяет клиента, филиал и наличие товаров, резервирует остатки и сохраняет продажу.
// Если резервирование или сохранение не удалось, уже списанные остатки возвращаются.
func (s *Service) CreateSale(ctx context.Context, in CreateSaleInput) (result *domain.Sale, err error) {
	done := s.track("create")
	defer func() { done(err) }()

	lines, err := normalizeLines(in.Items)
	if err != nil {
		return nil, err
	}
	customer, branch, err := s.lookupParties(ctx, in.CustomerID, in.BranchID)
	if err != nil {
		return nil, err
	}

	reservations := make([]StockAdjustment, 0, len(lines))
	for i, line := range lines {
		product, err := s.products.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, fmt.Errorf("lookup product %s: %w", line.ProductID, err)
		}
		if product.Stock < int64(line.Quantity) {
			return nil, &domain.InsufficientStockError{
				ProductID: line.ProductID,
				Requested: int64(line.Quantity),
				Available: product.Stock,
			}
		}
		lines[i] = resolveLine(line, product)
		reservations = append(reservations, StockAdjustment{ProductID: line.ProductID, Delta: -int64(line.Quantity)})
	}

	sale, err := domain.NewSale(domain.SaleHeader{
		Number:       in.Number,
		Date:         in.Date,
		CustomerID:   customer.ID,
		CustomerName: customer.Name,
		BranchID:     branch.ID,
		BranchName:   branch.Name,
	})
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		if err := sale.AddItem(line.ProductID, line.ProductName, line.Quantity, line.UnitPrice); err != nil {
			return nil, fmt.Errorf("product %s: %w", line.ProductID, err)
		}
	}

	applied, err := s.stock.applyAll(ctx, reservations)
	if err != nil {
		return nil, err
	}

	created, err := s.sales.Create(ctx, sale)
	if err != nil {
		s.logger.WithError(err).WithField("sale_id", sale.ID()).Warn("failed to persist sale, releasing reserved stock")
		s.stock.compensate(ctx, applied)
		return nil, fmt.Errorf("persist sale %s: %w", sale.ID(), err)
	}

	s.logger.WithFields(log.Fields{
		"sale_id": created.ID(),
		"number":  created.Number(),
		"items":   len(lines),
		"total":   created.Total().String(),
	}).Info("sale created")
	s.emit(ctx, domain.EventSaleCreated, newSaleEventPayload(created), "sale created")

	return created, nil
}
