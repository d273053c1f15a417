package sales_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/service/sales"
	"github.com/vladislavdragonenkov/sales/internal/storage/memory"
)

var errInjected = errors.New("injected failure")

type fixture struct {
	svc      *sales.Service
	repo     *flakySaleRepo
	products *flakyStock
	dir      *memory.Directory
	sink     *recordingSink
	timeline domain.TimelineRepository
}

func loggerForTests() *log.Entry {
	logger := log.New()
	logger.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	logger.SetLevel(log.WarnLevel)
	return logger.WithField("component", "test")
}

func newFixture(t *testing.T, opts ...sales.Option) *fixture {
	t.Helper()
	ctx := context.Background()

	store := memory.NewProductStore()
	dir := memory.NewDirectory()
	if err := dir.PutCustomer(ctx, domain.Customer{ID: "customer-1", Name: "Alice"}); err != nil {
		t.Fatalf("put customer: %v", err)
	}
	if err := dir.PutCustomer(ctx, domain.Customer{ID: "customer-2", Name: "Bob"}); err != nil {
		t.Fatalf("put customer: %v", err)
	}
	if err := dir.PutBranch(ctx, domain.Branch{ID: "branch-1", Name: "Downtown"}); err != nil {
		t.Fatalf("put branch: %v", err)
	}

	f := &fixture{
		repo:     &flakySaleRepo{SaleRepository: memory.NewSaleRepository()},
		products: &flakyStock{ProductStore: store},
		dir:      dir,
		sink:     &recordingSink{},
		timeline: memory.NewTimelineRepository(),
	}
	f.addProduct(t, "p-a", "10.00", 100)
	f.addProduct(t, "p-b", "10.00", 100)
	f.addProduct(t, "p-c", "2.50", 3)

	all := append([]sales.Option{
		sales.WithTimeline(f.timeline),
		sales.WithRetryConfig(sales.RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}),
	}, opts...)
	f.svc = sales.NewService(f.repo, f.products, dir, dir, f.sink, loggerForTests(), all...)
	return f
}

func (f *fixture) addProduct(t *testing.T, id, price string, stock int64) {
	t.Helper()
	_, err := f.products.Upsert(context.Background(), domain.Product{
		ID:    id,
		Name:  "Product " + id,
		Price: decimal.RequireFromString(price),
		Stock: stock,
	})
	if err != nil {
		t.Fatalf("upsert product: %v", err)
	}
}

func (f *fixture) stock(t *testing.T, id string) int64 {
	t.Helper()
	product, err := f.products.ProductStore.GetProduct(context.Background(), id)
	if err != nil {
		t.Fatalf("get product %s: %v", id, err)
	}
	return product.Stock
}

func (f *fixture) create(t *testing.T, lines ...sales.LineInput) *domain.Sale {
	t.Helper()
	sale, err := f.svc.CreateSale(context.Background(), sales.CreateSaleInput{
		CustomerID: "customer-1",
		BranchID:   "branch-1",
		Items:      lines,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	return sale
}

func line(productID string, qty int32, price string) sales.LineInput {
	return sales.LineInput{
		ProductID:   productID,
		ProductName: "Item " + productID,
		Quantity:    qty,
		UnitPrice:   decimal.RequireFromString(price),
	}
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// flakySaleRepo позволяет подменить ошибки Create/Save и выполнить hook после успешной записи.
type flakySaleRepo struct {
	domain.SaleRepository
	mu        sync.Mutex
	createErr error
	saveErr   error
	committed func()
}

func (r *flakySaleRepo) afterCommit() {
	r.mu.Lock()
	hook := r.committed
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (r *flakySaleRepo) Create(ctx context.Context, sale *domain.Sale) (*domain.Sale, error) {
	r.mu.Lock()
	err := r.createErr
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	created, err := r.SaleRepository.Create(ctx, sale)
	if err == nil {
		r.afterCommit()
	}
	return created, err
}

func (r *flakySaleRepo) Save(ctx context.Context, sale *domain.Sale) (*domain.Sale, error) {
	r.mu.Lock()
	err := r.saveErr
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	saved, err := r.SaleRepository.Save(ctx, sale)
	if err == nil {
		r.afterCommit()
	}
	return saved, err
}

// flakyStock добавляет к in-memory складу сбои записи и искусственные конфликты версий.
type flakyStock struct {
	*memory.ProductStore
	mu        sync.Mutex
	failSet   map[string]error
	conflicts map[string]int
	setCalls  int
}

func (s *flakyStock) failSetStock(productID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSet == nil {
		s.failSet = make(map[string]error)
	}
	s.failSet[productID] = err
}

func (s *flakyStock) injectConflicts(productID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflicts == nil {
		s.conflicts = make(map[string]int)
	}
	s.conflicts[productID] = n
}

func (s *flakyStock) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setCalls
}

func (s *flakyStock) SetStock(ctx context.Context, productID string, newStock, expectedVersion int64) error {
	s.mu.Lock()
	s.setCalls++
	if err, ok := s.failSet[productID]; ok {
		s.mu.Unlock()
		return err
	}
	if s.conflicts[productID] > 0 {
		s.conflicts[productID]--
		s.mu.Unlock()
		return domain.ErrStockVersionConflict
	}
	s.mu.Unlock()
	return s.ProductStore.SetStock(ctx, productID, newStock, expectedVersion)
}

type publishedEvent struct {
	name    string
	payload sales.SaleEventPayload
	ctxErr  error
}

type recordingSink struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (s *recordingSink) Publish(ctx context.Context, eventName string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, _ := payload.(sales.SaleEventPayload)
	s.events = append(s.events, publishedEvent{name: eventName, payload: p, ctxErr: ctx.Err()})
}

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.events))
	for _, e := range s.events {
		names = append(names, e.name)
	}
	return names
}

func (s *recordingSink) last() publishedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return publishedEvent{}
	}
	return s.events[len(s.events)-1]
}

func mustDate(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse date %q: %v", value, err)
	}
	return parsed
}
