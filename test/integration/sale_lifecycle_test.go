package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	salesv1 "github.com/vladislavdragonenkov/sales/api/sales/v1"
	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/messaging"
	grpcsvc "github.com/vladislavdragonenkov/sales/internal/service/grpc"
	"github.com/vladislavdragonenkov/sales/internal/service/history"
	"github.com/vladislavdragonenkov/sales/internal/service/outbox"
	"github.com/vladislavdragonenkov/sales/internal/service/sales"
	"github.com/vladislavdragonenkov/sales/internal/storage/memory"
)

// projectingPublisher заменяет брокер: опубликованное событие сразу попадает в projector истории.
type projectingPublisher struct {
	mu        sync.Mutex
	projector *history.Projector
	published []domain.OutboxMessage
}

func (p *projectingPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	p.mu.Lock()
	p.published = append(p.published, event)
	p.mu.Unlock()

	envelope := messaging.NewEnvelope(event)
	return p.projector.Handle(ctx, &envelope)
}

func (p *projectingPublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.published))
	for _, event := range p.published {
		types = append(types, event.EventType)
	}
	return types
}

// SaleLifecycleTestSuite прогоняет продажу через gRPC-слой, outbox и projector истории.
type SaleLifecycleTestSuite struct {
	suite.Suite
	service   *grpcsvc.SalesService
	products  *memory.ProductStore
	outbox    *memory.OutboxRepository
	worker    *outbox.Worker
	publisher *projectingPublisher
}

func (suite *SaleLifecycleTestSuite) SetupTest() {
	ctx := context.Background()
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel) // Уменьшаем шум в тестах
	logger := baseLogger.WithField("component", "integration-test")

	suite.products = memory.NewProductStore()
	for _, p := range []domain.Product{
		{ID: "laptop", Name: "Laptop Pro", Price: decimal.RequireFromString("1999.00"), Stock: 30},
		{ID: "mouse", Name: "Wireless mouse", Price: decimal.RequireFromString("49.99"), Stock: 100},
		{ID: "dock", Name: "USB-C dock", Price: decimal.RequireFromString("120.00"), Stock: 5},
	} {
		_, err := suite.products.Upsert(ctx, p)
		suite.Require().NoError(err)
	}
	dir := memory.NewDirectory()
	suite.Require().NoError(dir.PutCustomer(ctx, domain.Customer{ID: "customer-123", Name: "Jane Roe"}))
	suite.Require().NoError(dir.PutBranch(ctx, domain.Branch{ID: "branch-1", Name: "Downtown"}))

	timeline := memory.NewTimelineRepository()
	suite.outbox = memory.NewOutboxRepository()
	suite.publisher = &projectingPublisher{projector: history.NewProjector(timeline, logger)}
	suite.worker = outbox.NewWorker(suite.outbox, suite.publisher, outbox.WithLogger(logger), outbox.WithMaxAttempts(1))

	// историю пишет только projector, как при включённом consumer
	svc := sales.NewService(memory.NewSaleRepository(), suite.products, dir, dir,
		outbox.NewSink(suite.outbox, logger), logger, sales.WithProjectedTimeline(timeline))
	suite.service = grpcsvc.NewSalesService(svc, memory.NewIdempotencyRepository(), time.Hour, logger)
}

func (suite *SaleLifecycleTestSuite) stock(id string) int64 {
	product, err := suite.products.GetProduct(context.Background(), id)
	suite.Require().NoError(err)
	return product.Stock
}

func (suite *SaleLifecycleTestSuite) drainOutbox() {
	suite.worker.ProcessOnce(context.Background())
	suite.Require().Empty(suite.outbox.Messages(domain.OutboxStatusPending))
}

func (suite *SaleLifecycleTestSuite) TestSuccessfulSaleLifecycle() {
	ctx := context.Background()
	t := suite.T()

	// 1. Создаём продажу: 1 ноутбук без скидки, 4 мыши со скидкой 10%
	createResp, err := suite.service.CreateSale(ctx, &salesv1.CreateSaleRequest{
		Number:     "S-1001",
		Date:       "2026-03-01",
		CustomerId: "customer-123",
		BranchId:   "branch-1",
		Items: []*salesv1.LineItem{
			{ProductId: "laptop", Quantity: 1},
			{ProductId: "mouse", Quantity: 4},
		},
	})
	require.NoError(t, err)
	sale := createResp.Sale
	require.Equal(t, salesv1.SaleStatusActive, sale.Status)
	require.Equal(t, "Jane Roe", sale.CustomerName)
	require.Equal(t, "2178.96", sale.TotalAmount) // 1999 + 4*49.99*0.9
	require.Equal(t, int64(29), suite.stock("laptop"))
	require.Equal(t, int64(96), suite.stock("mouse"))

	// 2. Меняем позиции: ноутбук убираем, мышей 10 (скидка 20%), добавляем док
	updateResp, err := suite.service.UpdateSale(ctx, &salesv1.UpdateSaleRequest{
		SaleId:     sale.Id,
		CustomerId: "customer-123",
		BranchId:   "branch-1",
		Items: []*salesv1.LineItem{
			{ProductId: "mouse", Quantity: 10},
			{ProductId: "dock", Quantity: 2},
		},
	})
	require.NoError(t, err)
	require.Equal(t, int32(1), updateResp.RemovedItems)
	require.Equal(t, int32(1), updateResp.ChangedItems)
	require.Equal(t, int32(1), updateResp.AddedItems)
	require.Equal(t, "639.92", updateResp.Sale.TotalAmount) // 10*49.99*0.8 + 2*120
	require.Equal(t, int64(30), suite.stock("laptop"))
	require.Equal(t, int64(90), suite.stock("mouse"))
	require.Equal(t, int64(3), suite.stock("dock"))

	// 3. Отменяем позицию дока
	itemResp, err := suite.service.CancelSaleItem(ctx, &salesv1.CancelSaleItemRequest{SaleId: sale.Id, ProductId: "dock"})
	require.NoError(t, err)
	require.Len(t, itemResp.Restorations, 1)
	require.True(t, itemResp.Restorations[0].Restored)
	require.Equal(t, int64(5), suite.stock("dock"))
	require.Equal(t, "399.92", itemResp.Sale.TotalAmount)

	// 4. Отменяем продажу целиком: возвращаются только активные позиции
	cancelResp, err := suite.service.CancelSale(ctx, &salesv1.CancelSaleRequest{SaleId: sale.Id})
	require.NoError(t, err)
	require.Equal(t, salesv1.SaleStatusCancelled, cancelResp.Sale.Status)
	require.Len(t, cancelResp.Restorations, 1)
	require.Equal(t, "mouse", cancelResp.Restorations[0].ProductId)
	require.Equal(t, int64(100), suite.stock("mouse"))

	// 5. События уходят через outbox и превращаются в историю
	suite.drainOutbox()
	require.Equal(t, []string{
		domain.EventSaleCreated,
		domain.EventSaleUpdated,
		domain.EventSaleItemCancelled,
		domain.EventSaleCancelled,
	}, suite.publisher.eventTypes())

	historyResp, err := suite.service.GetSaleHistory(ctx, &salesv1.GetSaleHistoryRequest{SaleId: sale.Id})
	require.NoError(t, err)
	require.Len(t, historyResp.Events, 4)
	require.Equal(t, "item dock cancelled", historyResp.Events[2].Reason)
	require.Equal(t, "sale cancelled, stock restored for 1 of 1 items", historyResp.Events[3].Reason)

	// 6. Повторная отмена запрещена
	_, err = suite.service.CancelSale(ctx, &salesv1.CancelSaleRequest{SaleId: sale.Id})
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func (suite *SaleLifecycleTestSuite) TestInsufficientStockLeavesNoTrace() {
	ctx := context.Background()
	t := suite.T()

	_, err := suite.service.CreateSale(ctx, &salesv1.CreateSaleRequest{
		CustomerId: "customer-123",
		BranchId:   "branch-1",
		Items: []*salesv1.LineItem{
			{ProductId: "mouse", Quantity: 3},
			{ProductId: "dock", Quantity: 6},
		},
	})
	require.Equal(t, codes.FailedPrecondition, status.Code(err))

	// проверка остатков идёт до списания
	require.Equal(t, int64(100), suite.stock("mouse"))
	require.Equal(t, int64(5), suite.stock("dock"))
	require.Empty(t, suite.outbox.Messages(domain.OutboxStatusPending))

	listResp, err := suite.service.ListSales(ctx, &salesv1.ListSalesRequest{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Zero(t, listResp.TotalCount)
}

func (suite *SaleLifecycleTestSuite) TestConcurrentSalesNeverOversell() {
	ctx := context.Background()
	t := suite.T()

	const buyers = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := suite.service.CreateSale(ctx, &salesv1.CreateSaleRequest{
				CustomerId: "customer-123",
				BranchId:   "branch-1",
				Items:      []*salesv1.LineItem{{ProductId: "dock", Quantity: 1}},
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, succeeded, 5)
	require.Equal(t, int64(5-succeeded), suite.stock("dock"))

	listResp, err := suite.service.ListSales(ctx, &salesv1.ListSalesRequest{Page: 1, PageSize: 100})
	require.NoError(t, err)
	require.Equal(t, int32(succeeded), listResp.TotalCount)
}

func (suite *SaleLifecycleTestSuite) TestDeleteSaleKeepsStock() {
	ctx := context.Background()
	t := suite.T()

	createResp, err := suite.service.CreateSale(ctx, &salesv1.CreateSaleRequest{
		CustomerId: "customer-123",
		BranchId:   "branch-1",
		Items:      []*salesv1.LineItem{{ProductId: "laptop", Quantity: 2}},
	})
	require.NoError(t, err)

	deleteResp, err := suite.service.DeleteSale(ctx, &salesv1.DeleteSaleRequest{SaleId: createResp.Sale.Id})
	require.NoError(t, err)
	require.True(t, deleteResp.Deleted)
	require.Equal(t, int64(28), suite.stock("laptop"))

	_, err = suite.service.GetSale(ctx, &salesv1.GetSaleRequest{SaleId: createResp.Sale.Id})
	require.Equal(t, codes.NotFound, status.Code(err))
}

func TestSaleLifecycleSuite(t *testing.T) {
	suite.Run(t, new(SaleLifecycleTestSuite))
}
