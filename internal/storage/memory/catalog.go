package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// ProductStore — in-memory сервис товаров и остатков с compare-and-set по версии.
type ProductStore struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

// NewProductStore создаёт пустое хранилище товаров.
func NewProductStore() *ProductStore {
	return &ProductStore{products: make(map[string]domain.Product)}
}

// Upsert добавляет или заменяет товар. Версия увеличивается.
func (s *ProductStore) Upsert(_ context.Context, product domain.Product) (domain.Product, error) {
	if product.ID == "" {
		return domain.Product{}, domain.ErrProductIDRequired
	}
	if product.Stock < 0 {
		return domain.Product{}, domain.ErrInvalidStock
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product.Version = s.products[product.ID].Version + 1
	s.products[product.ID] = product
	return product, nil
}

// GetProduct возвращает товар или ErrProductNotFound.
func (s *ProductStore) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[productID]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// SetStock записывает остаток, если версия совпадает.
func (s *ProductStore) SetStock(ctx context.Context, productID string, newStock, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if newStock < 0 {
		return domain.ErrInvalidStock
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	if product.Version != expectedVersion {
		return domain.ErrStockVersionConflict
	}
	product.Stock = newStock
	product.Version++
	s.products[productID] = product
	return nil
}

// Ping всегда успешен; нужен для health-check.
func (s *ProductStore) Ping(context.Context) error { return nil }

// Directory — in-memory справочник клиентов и филиалов.
type Directory struct {
	mu        sync.RWMutex
	customers map[string]domain.Customer
	branches  map[string]domain.Branch
}

// NewDirectory создаёт пустой справочник.
func NewDirectory() *Directory {
	return &Directory{
		customers: make(map[string]domain.Customer),
		branches:  make(map[string]domain.Branch),
	}
}

// PutCustomer добавляет или заменяет клиента.
func (d *Directory) PutCustomer(_ context.Context, customer domain.Customer) error {
	if customer.ID == "" {
		return domain.ErrCustomerRequired
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.customers[customer.ID] = customer
	return nil
}

// PutBranch добавляет или заменяет филиал.
func (d *Directory) PutBranch(_ context.Context, branch domain.Branch) error {
	if branch.ID == "" {
		return domain.ErrBranchRequired
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.branches[branch.ID] = branch
	return nil
}

// GetCustomer возвращает клиента или ErrCustomerNotFound.
func (d *Directory) GetCustomer(_ context.Context, id string) (domain.Customer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	customer, ok := d.customers[id]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return customer, nil
}

// GetBranch возвращает филиал или ErrBranchNotFound.
func (d *Directory) GetBranch(_ context.Context, id string) (domain.Branch, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	branch, ok := d.branches[id]
	if !ok {
		return domain.Branch{}, domain.ErrBranchNotFound
	}
	return branch, nil
}

var (
	_ domain.StockService      = (*ProductStore)(nil)
	_ domain.CustomerDirectory = (*Directory)(nil)
	_ domain.BranchDirectory   = (*Directory)(nil)
)
