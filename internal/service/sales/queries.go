package sales

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// SalePage — страница списка продаж.
type SalePage struct {
	Items      []*domain.Sale
	Page       int
	PageSize   int
	TotalCount int
}

// GetSale возвращает продажу по идентификатору.
func (s *Service) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	return s.loadSale(ctx, saleID)
}

// ListSales возвращает страницу продаж. Нулевые параметры заменяются значениями по умолчанию.
func (s *Service) ListSales(ctx context.Context, page, pageSize int) (SalePage, error) {
	if page == 0 {
		page = 1
	}
	if pageSize == 0 {
		pageSize = defaultPageSize
	}
	if page < 1 || pageSize < 1 || pageSize > maxPageSize {
		return SalePage{}, domain.ErrInvalidPage
	}

	items, total, err := s.sales.List(ctx, page, pageSize)
	if err != nil {
		return SalePage{}, fmt.Errorf("list sales: %w", err)
	}
	return SalePage{Items: items, Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// DeleteSale удаляет продажу. Остатки не меняются.
func (s *Service) DeleteSale(ctx context.Context, saleID string) (bool, error) {
	if saleID == "" {
		return false, domain.ErrSaleIDRequired
	}
	deleted, err := s.sales.Delete(ctx, saleID)
	if err != nil {
		return false, fmt.Errorf("delete sale %s: %w", saleID, err)
	}
	if deleted {
		s.logger.WithField("sale_id", saleID).Info("sale deleted")
	}
	return deleted, nil
}

// SaleHistory возвращает историю продажи в хронологическом порядке.
func (s *Service) SaleHistory(ctx context.Context, saleID string) ([]domain.TimelineEvent, error) {
	if _, err := s.loadSale(ctx, saleID); err != nil {
		return nil, err
	}
	if s.timeline == nil {
		return nil, nil
	}
	events, err := s.timeline.List(ctx, saleID)
	if err != nil {
		return nil, fmt.Errorf("list timeline %s: %w", saleID, err)
	}
	return events, nil
}
