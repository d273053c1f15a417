// Package sales реализует workflow продаж: создание, сверку позиций при обновлении и отмену
// с согласованием остатков товаров.
package sales

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// LineInput — запрошенная позиция продажи. Пустые имя и нулевая цена берутся из каталога.
type LineInput struct {
	ProductID   string
	ProductName string
	Quantity    int32
	UnitPrice   decimal.Decimal
}

// Service выполняет workflow продаж поверх внешних хранилищ и сервиса остатков.
// При recordTimeline=false историю пишет projector, сервис её только читает.
type Service struct {
	sales          domain.SaleRepository
	stock          *stockAdjuster
	products       domain.StockService
	customers      domain.CustomerDirectory
	branches       domain.BranchDirectory
	events         domain.EventSink
	timeline       domain.TimelineRepository
	recordTimeline bool
	metrics        *metrics.SalesMetrics
	logger         *log.Entry
}

type options struct {
	timeline       domain.TimelineRepository
	recordTimeline bool
	metrics        *metrics.SalesMetrics
	retry          RetryConfig
}

// Option настраивает Service.
type Option func(*options)

// WithTimeline включает запись истории продажи.
func WithTimeline(repo domain.TimelineRepository) Option {
	return func(o *options) {
		o.timeline = repo
		o.recordTimeline = true
	}
}

// WithProjectedTimeline подключает историю только на чтение: события в неё
// добавляет history.Projector из брокера.
func WithProjectedTimeline(repo domain.TimelineRepository) Option {
	return func(o *options) {
		o.timeline = repo
		o.recordTimeline = false
	}
}

// WithMetrics задаёт метрики workflow.
func WithMetrics(m *metrics.SalesMetrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithRetryConfig задаёт политику повторов при конфликте версий остатка.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(o *options) {
		o.retry = cfg
	}
}

// NewService создаёт сервис продаж.
func NewService(
	sales domain.SaleRepository,
	products domain.StockService,
	customers domain.CustomerDirectory,
	branches domain.BranchDirectory,
	events domain.EventSink,
	logger *log.Entry,
	opts ...Option,
) *Service {
	cfg := options{retry: DefaultRetryConfig()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if logger == nil {
		logger = log.WithField("component", "sales-service")
	}
	if events == nil {
		events = noopSink{}
	}

	return &Service{
		sales:     sales,
		stock:     newStockAdjuster(products, cfg.retry, cfg.metrics, logger.WithField("layer", "stock")),
		products:  products,
		customers: customers,
		branches:  branches,
		events:    events,
		timeline:  cfg.timeline,
		metrics:   cfg.metrics,
		logger:    logger,

		recordTimeline: cfg.recordTimeline,
	}
}

// track оборачивает workflow метриками.
func (s *Service) track(operation string) func(err error) {
	if s.metrics == nil {
		return func(error) {}
	}
	started := time.Now()
	s.metrics.WorkflowStarted()
	return func(err error) {
		s.metrics.WorkflowFinished(operation, err, time.Since(started))
	}
}

func (s *Service) loadSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	if strings.TrimSpace(saleID) == "" {
		return nil, domain.ErrSaleIDRequired
	}
	sale, err := s.sales.Get(ctx, saleID)
	if err != nil {
		return nil, fmt.Errorf("load sale %s: %w", saleID, err)
	}
	return sale, nil
}

func (s *Service) lookupParties(ctx context.Context, customerID, branchID string) (domain.Customer, domain.Branch, error) {
	if strings.TrimSpace(customerID) == "" {
		return domain.Customer{}, domain.Branch{}, domain.ErrCustomerRequired
	}
	if strings.TrimSpace(branchID) == "" {
		return domain.Customer{}, domain.Branch{}, domain.ErrBranchRequired
	}

	customer, err := s.customers.GetCustomer(ctx, customerID)
	if err != nil {
		return domain.Customer{}, domain.Branch{}, fmt.Errorf("lookup customer %s: %w", customerID, err)
	}
	branch, err := s.branches.GetBranch(ctx, branchID)
	if err != nil {
		return domain.Customer{}, domain.Branch{}, fmt.Errorf("lookup branch %s: %w", branchID, err)
	}
	return customer, branch, nil
}

// normalizeLines убирает повторы товара (побеждает первое вхождение) и проверяет количество.
func normalizeLines(lines []LineInput) ([]LineInput, error) {
	if len(lines) == 0 {
		return nil, domain.ErrItemsRequired
	}

	seen := make(map[string]struct{}, len(lines))
	result := make([]LineInput, 0, len(lines))
	for _, line := range lines {
		line.ProductID = strings.TrimSpace(line.ProductID)
		if line.ProductID == "" {
			return nil, domain.ErrProductIDRequired
		}
		if _, dup := seen[line.ProductID]; dup {
			continue
		}
		seen[line.ProductID] = struct{}{}

		if err := domain.ValidateQuantity(line.Quantity); err != nil {
			return nil, fmt.Errorf("product %s quantity %d: %w", line.ProductID, line.Quantity, err)
		}
		if line.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("product %s: %w", line.ProductID, domain.ErrInvalidUnitPrice)
		}
		result = append(result, line)
	}
	return result, nil
}

// resolveLine дополняет позицию именем и ценой из каталога.
func resolveLine(line LineInput, product domain.Product) LineInput {
	if strings.TrimSpace(line.ProductName) == "" {
		line.ProductName = product.Name
	}
	if line.UnitPrice.IsZero() {
		line.UnitPrice = product.Price
	}
	return line
}

type noopSink struct{}

func (noopSink) Publish(context.Context, string, any) {}
