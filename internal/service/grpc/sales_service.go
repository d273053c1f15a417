package grpcsvc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	salesv1 "github.com/vladislavdragonenkov/sales/api/sales/v1"
	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
	"github.com/vladislavdragonenkov/sales/internal/service/sales"
)

// SalesService реализует gRPC API поверх workflow продаж.
type SalesService struct {
	salesv1.UnimplementedSalesServiceServer

	sales    *sales.Service
	idemRepo domain.IdempotencyRepository
	idemTTL  time.Duration
	metrics  *metrics.SalesMetrics
	logger   *log.Entry
}

const (
	dateLayout = "2006-01-02"

	defaultIdempotencyTTL = 24 * time.Hour
)

// NewSalesService конструирует gRPC-сервис. idemRepo может быть nil: тогда
// idempotency-key игнорируется.
func NewSalesService(svc *sales.Service, idemRepo domain.IdempotencyRepository, idemTTL time.Duration, logger *log.Entry) *SalesService {
	if logger == nil {
		logger = log.New().WithField("component", "sales-grpc")
	}
	if idemTTL <= 0 {
		idemTTL = defaultIdempotencyTTL
	}
	return &SalesService{
		sales:    svc,
		idemRepo: idemRepo,
		idemTTL:  idemTTL,
		metrics:  metrics.NewSalesMetrics(),
		logger:   logger,
	}
}

// CreateSale создаёт продажу и резервирует остатки.
func (s *SalesService) CreateSale(ctx context.Context, req *salesv1.CreateSaleRequest) (*salesv1.CreateSaleResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	return withIdempotency(s, ctx, salesv1.SalesService_CreateSale_FullMethodName, req,
		func(ctx context.Context) (*salesv1.CreateSaleResponse, error) {
			date, err := parseDate(req.Date)
			if err != nil {
				return nil, err
			}
			lines, err := toLineInputs(req.Items)
			if err != nil {
				return nil, err
			}

			sale, err := s.sales.CreateSale(ctx, sales.CreateSaleInput{
				Number:     req.Number,
				Date:       date,
				CustomerID: req.CustomerId,
				BranchID:   req.BranchId,
				Items:      lines,
			})
			if err != nil {
				return nil, s.statusFromError(err, "CreateSale")
			}
			return &salesv1.CreateSaleResponse{Sale: toAPISale(sale)}, nil
		})
}

// GetSale возвращает продажу.
func (s *SalesService) GetSale(ctx context.Context, req *salesv1.GetSaleRequest) (*salesv1.GetSaleResponse, error) {
	if req.GetSaleId() == "" {
		return nil, status.Error(codes.InvalidArgument, "sale_id is required")
	}

	sale, err := s.sales.GetSale(ctx, req.SaleId)
	if err != nil {
		return nil, s.statusFromError(err, "GetSale")
	}
	return &salesv1.GetSaleResponse{Sale: toAPISale(sale)}, nil
}

// ListSales возвращает страницу продаж, новые первыми.
func (s *SalesService) ListSales(ctx context.Context, req *salesv1.ListSalesRequest) (*salesv1.ListSalesResponse, error) {
	if req == nil {
		req = &salesv1.ListSalesRequest{}
	}

	page, err := s.sales.ListSales(ctx, int(req.Page), int(req.PageSize))
	if err != nil {
		return nil, s.statusFromError(err, "ListSales")
	}

	result := make([]*salesv1.Sale, 0, len(page.Items))
	for _, sale := range page.Items {
		result = append(result, toAPISale(sale))
	}
	return &salesv1.ListSalesResponse{
		Sales:      result,
		Page:       int32(page.Page),     //nolint:gosec // ограничено валидацией страницы
		PageSize:   int32(page.PageSize), //nolint:gosec // не больше 100
		TotalCount: int32(page.TotalCount),
	}, nil
}

// UpdateSale заменяет позиции и реквизиты продажи.
func (s *SalesService) UpdateSale(ctx context.Context, req *salesv1.UpdateSaleRequest) (*salesv1.UpdateSaleResponse, error) {
	if req.GetSaleId() == "" {
		return nil, status.Error(codes.InvalidArgument, "sale_id is required")
	}

	return withIdempotency(s, ctx, salesv1.SalesService_UpdateSale_FullMethodName, req,
		func(ctx context.Context) (*salesv1.UpdateSaleResponse, error) {
			date, err := parseDate(req.Date)
			if err != nil {
				return nil, err
			}
			lines, err := toLineInputs(req.Items)
			if err != nil {
				return nil, err
			}

			result, err := s.sales.UpdateSale(ctx, sales.UpdateSaleInput{
				SaleID:     req.SaleId,
				Date:       date,
				CustomerID: req.CustomerId,
				BranchID:   req.BranchId,
				Items:      lines,
			})
			if err != nil {
				return nil, s.statusFromError(err, "UpdateSale")
			}
			return &salesv1.UpdateSaleResponse{
				Sale:         toAPISale(result.Sale),
				RemovedItems: int32(len(result.Plan.Removed)), //nolint:gosec // число позиций
				ChangedItems: int32(len(result.Plan.Matched)), //nolint:gosec // число позиций
				AddedItems:   int32(len(result.Plan.Added)),   //nolint:gosec // число позиций
			}, nil
		})
}

// CancelSale отменяет продажу и возвращает остатки.
func (s *SalesService) CancelSale(ctx context.Context, req *salesv1.CancelSaleRequest) (*salesv1.CancelSaleResponse, error) {
	if req.GetSaleId() == "" {
		return nil, status.Error(codes.InvalidArgument, "sale_id is required")
	}

	return withIdempotency(s, ctx, salesv1.SalesService_CancelSale_FullMethodName, req,
		func(ctx context.Context) (*salesv1.CancelSaleResponse, error) {
			report, err := s.sales.CancelSale(ctx, req.SaleId)
			if err != nil {
				return nil, s.statusFromError(err, "CancelSale")
			}
			return &salesv1.CancelSaleResponse{
				Sale:         toAPISale(report.Sale),
				Restorations: toAPIRestorations(report.Restorations),
			}, nil
		})
}

// CancelSaleItem отменяет одну позицию продажи.
func (s *SalesService) CancelSaleItem(ctx context.Context, req *salesv1.CancelSaleItemRequest) (*salesv1.CancelSaleItemResponse, error) {
	if req.GetSaleId() == "" {
		return nil, status.Error(codes.InvalidArgument, "sale_id is required")
	}
	if strings.TrimSpace(req.ProductId) == "" {
		return nil, status.Error(codes.InvalidArgument, "product_id is required")
	}

	return withIdempotency(s, ctx, salesv1.SalesService_CancelSaleItem_FullMethodName, req,
		func(ctx context.Context) (*salesv1.CancelSaleItemResponse, error) {
			report, err := s.sales.CancelSaleItem(ctx, req.SaleId, req.ProductId)
			if err != nil {
				return nil, s.statusFromError(err, "CancelSaleItem")
			}
			return &salesv1.CancelSaleItemResponse{
				Sale:         toAPISale(report.Sale),
				Restorations: toAPIRestorations(report.Restorations),
			}, nil
		})
}

// DeleteSale удаляет продажу без изменения остатков.
func (s *SalesService) DeleteSale(ctx context.Context, req *salesv1.DeleteSaleRequest) (*salesv1.DeleteSaleResponse, error) {
	if req.GetSaleId() == "" {
		return nil, status.Error(codes.InvalidArgument, "sale_id is required")
	}

	return withIdempotency(s, ctx, salesv1.SalesService_DeleteSale_FullMethodName, req,
		func(ctx context.Context) (*salesv1.DeleteSaleResponse, error) {
			deleted, err := s.sales.DeleteSale(ctx, req.SaleId)
			if err != nil {
				return nil, s.statusFromError(err, "DeleteSale")
			}
			return &salesv1.DeleteSaleResponse{Deleted: deleted}, nil
		})
}

// GetSaleHistory возвращает историю продажи.
func (s *SalesService) GetSaleHistory(ctx context.Context, req *salesv1.GetSaleHistoryRequest) (*salesv1.GetSaleHistoryResponse, error) {
	if req.GetSaleId() == "" {
		return nil, status.Error(codes.InvalidArgument, "sale_id is required")
	}

	events, err := s.sales.SaleHistory(ctx, req.SaleId)
	if err != nil {
		return nil, s.statusFromError(err, "GetSaleHistory")
	}

	result := make([]*salesv1.TimelineEvent, 0, len(events))
	for _, event := range events {
		result = append(result, &salesv1.TimelineEvent{
			Type:       event.Type,
			Reason:     event.Reason,
			OccurredAt: event.Occurred.UTC().Format(time.RFC3339Nano),
		})
	}
	return &salesv1.GetSaleHistoryResponse{Events: result}, nil
}

func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed.UTC(), nil
	}
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, status.Errorf(codes.InvalidArgument, "date must be RFC3339 or YYYY-MM-DD, got %q", value)
	}
	return parsed, nil
}

func toLineInputs(items []*salesv1.LineItem) ([]sales.LineInput, error) {
	lines := make([]sales.LineInput, 0, len(items))
	for idx, item := range items {
		if item == nil {
			return nil, status.Errorf(codes.InvalidArgument, "items[%d] is nil", idx)
		}
		price := decimal.Zero
		if strings.TrimSpace(item.UnitPrice) != "" {
			parsed, err := decimal.NewFromString(item.UnitPrice)
			if err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "items[%d].unit_price is not a decimal: %q", idx, item.UnitPrice)
			}
			price = parsed
		}
		lines = append(lines, sales.LineInput{
			ProductID:   item.ProductId,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   price,
		})
	}
	return lines, nil
}

func toAPISale(sale *domain.Sale) *salesv1.Sale {
	if sale == nil {
		return nil
	}

	items := make([]*salesv1.SaleItem, 0, len(sale.Items()))
	for _, item := range sale.Items() {
		items = append(items, &salesv1.SaleItem{
			Id:          item.ID(),
			ProductId:   item.ProductID(),
			ProductName: item.ProductName(),
			Quantity:    item.Quantity(),
			UnitPrice:   item.UnitPrice().StringFixed(2),
			Discount:    item.Discount().StringFixed(2),
			Total:       item.Total().StringFixed(2),
			Cancelled:   item.Cancelled(),
		})
	}

	return &salesv1.Sale{
		Id:           sale.ID(),
		Number:       sale.Number(),
		Date:         sale.Date().Format(time.RFC3339),
		CustomerId:   sale.CustomerID(),
		CustomerName: sale.CustomerName(),
		BranchId:     sale.BranchID(),
		BranchName:   sale.BranchName(),
		Status:       toAPIStatus(sale.Status()),
		TotalAmount:  sale.Total().StringFixed(2),
		Items:        items,
		Version:      sale.Version(),
		CreatedAt:    sale.CreatedAt().Format(time.RFC3339Nano),
		UpdatedAt:    sale.UpdatedAt().Format(time.RFC3339Nano),
	}
}

func toAPIStatus(st domain.SaleStatus) salesv1.SaleStatus {
	if st == domain.SaleStatusCancelled {
		return salesv1.SaleStatusCancelled
	}
	return salesv1.SaleStatusActive
}

func toAPIRestorations(restorations []sales.StockRestoration) []*salesv1.StockRestoration {
	result := make([]*salesv1.StockRestoration, 0, len(restorations))
	for _, r := range restorations {
		item := &salesv1.StockRestoration{
			ProductId: r.ProductID,
			Quantity:  r.Quantity,
			Restored:  r.Restored(),
		}
		if r.Err != nil {
			item.Error = fmt.Sprintf("stock for product %s was not restored", r.ProductID)
		}
		result = append(result, item)
	}
	return result
}
