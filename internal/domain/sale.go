package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SaleStatus описывает состояние продажи.
type SaleStatus string

const (
	// SaleStatusActive — продажа активна и может изменяться.
	SaleStatusActive SaleStatus = "active"
	// SaleStatusCancelled — терминальное состояние, изменения запрещены.
	SaleStatusCancelled SaleStatus = "cancelled"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s SaleStatus) Valid() bool {
	return s == SaleStatusActive || s == SaleStatusCancelled
}

// SaleHeader — реквизиты продажи без позиций.
type SaleHeader struct {
	ID           string
	Number       string
	Date         time.Time
	CustomerID   string
	CustomerName string
	BranchID     string
	BranchName   string
}

// Sale — агрегат продажи. Владеет позициями; итоговая сумма всегда вычисляется из них.
type Sale struct {
	id           string
	number       string
	date         time.Time
	customerID   string
	customerName string
	branchID     string
	branchName   string
	items        []SaleItem
	status       SaleStatus
	version      int64
	createdAt    time.Time
	updatedAt    time.Time
}

// SaleState — снимок агрегата для хранилищ, событий и транспорта.
type SaleState struct {
	ID           string
	Number       string
	Date         time.Time
	CustomerID   string
	CustomerName string
	BranchID     string
	BranchName   string
	Items        []SaleItemState
	Status       SaleStatus
	TotalAmount  decimal.Decimal
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewSale создаёт активную продажу без позиций.
func NewSale(header SaleHeader) (*Sale, error) {
	if strings.TrimSpace(header.CustomerID) == "" {
		return nil, ErrCustomerRequired
	}
	if strings.TrimSpace(header.BranchID) == "" {
		return nil, ErrBranchRequired
	}

	now := time.Now().UTC()
	if header.ID == "" {
		header.ID = uuid.NewString()
	}
	if header.Date.IsZero() {
		header.Date = now
	}
	if strings.TrimSpace(header.Number) == "" {
		header.Number = NewSaleNumber(header.Date)
	}

	return &Sale{
		id:           header.ID,
		number:       header.Number,
		date:         header.Date.UTC(),
		customerID:   header.CustomerID,
		customerName: header.CustomerName,
		branchID:     header.BranchID,
		branchName:   header.BranchName,
		status:       SaleStatusActive,
		createdAt:    now,
		updatedAt:    now,
	}, nil
}

// NewSaleNumber генерирует бизнес-номер вида SALE-20240131-1A2B3C4D.
func NewSaleNumber(date time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("SALE-%s-%s", date.UTC().Format("20060102"), suffix)
}

// RestoreSale собирает агрегат из сохранённого снимка. Скидки пересчитываются,
// у отменённой продажи все позиции считаются отменёнными.
func RestoreSale(state SaleState) (*Sale, error) {
	if state.ID == "" {
		return nil, ErrSaleIDRequired
	}
	if !state.Status.Valid() {
		return nil, fmt.Errorf("restore sale %s: unknown status %q", state.ID, state.Status)
	}

	items := make([]SaleItem, 0, len(state.Items))
	for _, itemState := range state.Items {
		item, err := restoreSaleItem(itemState)
		if err != nil {
			return nil, fmt.Errorf("restore sale %s item %s: %w", state.ID, itemState.ProductID, err)
		}
		if state.Status == SaleStatusCancelled {
			item.cancelled = true
		}
		items = append(items, item)
	}

	return &Sale{
		id:           state.ID,
		number:       state.Number,
		date:         state.Date.UTC(),
		customerID:   state.CustomerID,
		customerName: state.CustomerName,
		branchID:     state.BranchID,
		branchName:   state.BranchName,
		items:        items,
		status:       state.Status,
		version:      state.Version,
		createdAt:    state.CreatedAt.UTC(),
		updatedAt:    state.UpdatedAt.UTC(),
	}, nil
}

func (s *Sale) ID() string           { return s.id }
func (s *Sale) Number() string       { return s.number }
func (s *Sale) Date() time.Time      { return s.date }
func (s *Sale) CustomerID() string   { return s.customerID }
func (s *Sale) CustomerName() string { return s.customerName }
func (s *Sale) BranchID() string     { return s.branchID }
func (s *Sale) BranchName() string   { return s.branchName }
func (s *Sale) Status() SaleStatus   { return s.status }
func (s *Sale) Version() int64       { return s.version }
func (s *Sale) CreatedAt() time.Time { return s.createdAt }
func (s *Sale) UpdatedAt() time.Time { return s.updatedAt }

// IsCancelled сообщает, что продажа в терминальном состоянии.
func (s *Sale) IsCancelled() bool { return s.status == SaleStatusCancelled }

// Items возвращает копию всех позиций, включая отменённые.
func (s *Sale) Items() []SaleItem {
	result := make([]SaleItem, len(s.items))
	copy(result, s.items)
	return result
}

// ActiveItems возвращает неотменённые позиции в порядке добавления.
func (s *Sale) ActiveItems() []SaleItem {
	result := make([]SaleItem, 0, len(s.items))
	for _, item := range s.items {
		if !item.cancelled {
			result = append(result, item)
		}
	}
	return result
}

// Item ищет позицию по товару: сначала активную, затем отменённую.
func (s *Sale) Item(productID string) (SaleItem, bool) {
	if idx := s.activeIndex(productID); idx >= 0 {
		return s.items[idx], true
	}
	if idx := s.anyIndex(productID); idx >= 0 {
		return s.items[idx], true
	}
	return SaleItem{}, false
}

// Total — сумма неотменённых позиций.
func (s *Sale) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range s.items {
		total = total.Add(item.Total())
	}
	return total
}

// AddItem добавляет позицию. Вторая активная позиция с тем же товаром запрещена.
func (s *Sale) AddItem(productID, productName string, quantity int32, unitPrice decimal.Decimal) error {
	if err := s.ensureActive(); err != nil {
		return err
	}
	if s.activeIndex(productID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateProduct, productID)
	}

	item, err := NewSaleItem(productID, productName, quantity, unitPrice)
	if err != nil {
		return err
	}
	s.items = append(s.items, item)
	s.touch()
	return nil
}

// UpdateItem меняет количество активной позиции.
func (s *Sale) UpdateItem(productID string, quantity int32) error {
	if err := s.ensureActive(); err != nil {
		return err
	}
	idx := s.activeIndex(productID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, productID)
	}
	if err := s.items[idx].UpdateQuantity(quantity); err != nil {
		return err
	}
	s.touch()
	return nil
}

// RemoveItem физически удаляет строку товара (активную, а при её отсутствии отменённую).
// Используется только при сверке позиций во время обновления продажи.
func (s *Sale) RemoveItem(productID string) error {
	if err := s.ensureActive(); err != nil {
		return err
	}
	idx := s.activeIndex(productID)
	if idx < 0 {
		idx = s.anyIndex(productID)
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, productID)
	}
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	s.touch()
	return nil
}

// CancelItem отменяет одну позицию; строка остаётся с нулевой суммой.
func (s *Sale) CancelItem(productID string) error {
	if err := s.ensureActive(); err != nil {
		return err
	}
	idx := s.activeIndex(productID)
	if idx < 0 {
		if s.anyIndex(productID) >= 0 {
			return fmt.Errorf("%w: %s", ErrItemAlreadyCancelled, productID)
		}
		return fmt.Errorf("%w: %s", ErrItemNotFound, productID)
	}
	if err := s.items[idx].Cancel(); err != nil {
		return err
	}
	s.touch()
	return nil
}

// Cancel переводит продажу в Cancelled и отменяет все активные позиции.
func (s *Sale) Cancel() error {
	if s.status == SaleStatusCancelled {
		return ErrAlreadyCancelled
	}
	for i := range s.items {
		if !s.items[i].cancelled {
			s.items[i].cancelled = true
		}
	}
	s.status = SaleStatusCancelled
	s.touch()
	return nil
}

// UpdateDetails заменяет реквизиты продажи. На остатки не влияет.
func (s *Sale) UpdateDetails(date time.Time, customerID, customerName, branchID, branchName string) error {
	if err := s.ensureActive(); err != nil {
		return err
	}
	if strings.TrimSpace(customerID) == "" {
		return ErrCustomerRequired
	}
	if strings.TrimSpace(branchID) == "" {
		return ErrBranchRequired
	}
	if !date.IsZero() {
		s.date = date.UTC()
	}
	s.customerID = customerID
	s.customerName = customerName
	s.branchID = branchID
	s.branchName = branchName
	s.touch()
	return nil
}

// Clone возвращает независимую копию агрегата.
func (s *Sale) Clone() *Sale {
	clone := *s
	clone.items = s.Items()
	return &clone
}

// State возвращает снимок агрегата.
func (s *Sale) State() SaleState {
	items := make([]SaleItemState, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item.State())
	}
	return SaleState{
		ID:           s.id,
		Number:       s.number,
		Date:         s.date,
		CustomerID:   s.customerID,
		CustomerName: s.customerName,
		BranchID:     s.branchID,
		BranchName:   s.branchName,
		Items:        items,
		Status:       s.status,
		TotalAmount:  s.Total(),
		Version:      s.version,
		CreatedAt:    s.createdAt,
		UpdatedAt:    s.updatedAt,
	}
}

func (s *Sale) ensureActive() error {
	if s.status == SaleStatusCancelled {
		return ErrSaleCancelled
	}
	return nil
}

func (s *Sale) activeIndex(productID string) int {
	for i, item := range s.items {
		if item.productID == productID && !item.cancelled {
			return i
		}
	}
	return -1
}

func (s *Sale) anyIndex(productID string) int {
	for i, item := range s.items {
		if item.productID == productID {
			return i
		}
	}
	return -1
}

func (s *Sale) touch() {
	s.updatedAt = time.Now().UTC()
}
