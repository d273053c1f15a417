package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// saleRepositoryInMemory — in-memory реализация SaleRepository. Хранит снимки, а не указатели,
// чтобы изменения агрегата вне репозитория не попадали в хранилище.
type saleRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.SaleState
}

// NewSaleRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewSaleRepository() domain.SaleRepository {
	return &saleRepositoryInMemory{
		items: make(map[string]domain.SaleState),
	}
}

// Create сохраняет новую продажу, если ID ещё не занят.
func (r *saleRepositoryInMemory) Create(ctx context.Context, sale *domain.Sale) (*domain.Sale, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[sale.ID()]; exists {
		return nil, domain.ErrSaleAlreadyExists
	}
	state := sale.State()
	state.Version = 1
	r.items[state.ID] = state
	return domain.RestoreSale(state)
}

// Get возвращает продажу или ErrSaleNotFound.
func (r *saleRepositoryInMemory) Get(ctx context.Context, id string) (*domain.Sale, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.items[id]
	if !ok {
		return nil, domain.ErrSaleNotFound
	}
	return domain.RestoreSale(state)
}

// Save перезаписывает продажу, проверяя версию (optimistic locking).
func (r *saleRepositoryInMemory) Save(ctx context.Context, sale *domain.Sale) (*domain.Sale, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[sale.ID()]
	if !ok {
		return nil, domain.ErrSaleNotFound
	}
	if current.Version != sale.Version() {
		return nil, domain.ErrSaleVersionConflict
	}
	state := sale.State()
	state.Version++
	r.items[state.ID] = state
	return domain.RestoreSale(state)
}

// List возвращает страницу продаж, новые первыми.
func (r *saleRepositoryInMemory) List(ctx context.Context, page, pageSize int) ([]*domain.Sale, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	r.mu.RLock()
	states := make([]domain.SaleState, 0, len(r.items))
	for _, state := range r.items {
		states = append(states, state)
	}
	r.mu.RUnlock()

	sort.Slice(states, func(i, j int) bool {
		if !states[i].CreatedAt.Equal(states[j].CreatedAt) {
			return states[i].CreatedAt.After(states[j].CreatedAt)
		}
		return states[i].ID > states[j].ID
	})

	total := len(states)
	from, to := pageBounds(page, pageSize, total)
	result := make([]*domain.Sale, 0, to-from)
	for _, state := range states[from:to] {
		sale, err := domain.RestoreSale(state)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, sale)
	}
	return result, total, nil
}

// Delete удаляет продажу.
func (r *saleRepositoryInMemory) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return false, nil
	}
	delete(r.items, id)
	return true, nil
}

func pageBounds(page, pageSize, total int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		return 0, 0
	}
	from := (page - 1) * pageSize
	if from > total {
		from = total
	}
	to := from + pageSize
	if to > total {
		to = total
	}
	return from, to
}

var _ domain.SaleRepository = (*saleRepositoryInMemory)(nil)
