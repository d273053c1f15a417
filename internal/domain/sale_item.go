package domain

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SaleItem — позиция продажи. Скидка и сумма всегда производные от количества и цены.
type SaleItem struct {
	id          string
	productID   string
	productName string
	quantity    int32
	unitPrice   decimal.Decimal
	discount    decimal.Decimal
	cancelled   bool
}

// SaleItemState — снимок позиции для хранилищ и транспорта.
type SaleItemState struct {
	ID          string
	ProductID   string
	ProductName string
	Quantity    int32
	UnitPrice   decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
	Cancelled   bool
}

// NewSaleItem создаёт активную позицию и рассчитывает скидку.
func NewSaleItem(productID, productName string, quantity int32, unitPrice decimal.Decimal) (SaleItem, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return SaleItem{}, ErrProductIDRequired
	}
	if !unitPrice.IsPositive() {
		return SaleItem{}, ErrInvalidUnitPrice
	}
	discount, err := ComputeDiscount(quantity, unitPrice)
	if err != nil {
		return SaleItem{}, err
	}

	return SaleItem{
		id:          uuid.NewString(),
		productID:   productID,
		productName: productName,
		quantity:    quantity,
		unitPrice:   unitPrice,
		discount:    discount,
	}, nil
}

func restoreSaleItem(state SaleItemState) (SaleItem, error) {
	item, err := NewSaleItem(state.ProductID, state.ProductName, state.Quantity, state.UnitPrice)
	if err != nil {
		return SaleItem{}, err
	}
	if state.ID != "" {
		item.id = state.ID
	}
	item.cancelled = state.Cancelled
	return item, nil
}

func (i SaleItem) ID() string                 { return i.id }
func (i SaleItem) ProductID() string          { return i.productID }
func (i SaleItem) ProductName() string        { return i.productName }
func (i SaleItem) Quantity() int32            { return i.quantity }
func (i SaleItem) UnitPrice() decimal.Decimal { return i.unitPrice }
func (i SaleItem) Discount() decimal.Decimal  { return i.discount }
func (i SaleItem) Cancelled() bool            { return i.cancelled }

// Total возвращает quantity*unitPrice - discount, либо ноль для отменённой позиции.
func (i SaleItem) Total() decimal.Decimal {
	if i.cancelled {
		return decimal.Zero
	}
	return i.unitPrice.Mul(decimal.NewFromInt32(i.quantity)).Sub(i.discount)
}

// UpdateQuantity меняет количество и пересчитывает скидку. Флаг отмены не трогает.
func (i *SaleItem) UpdateQuantity(quantity int32) error {
	discount, err := ComputeDiscount(quantity, i.unitPrice)
	if err != nil {
		return err
	}
	i.quantity = quantity
	i.discount = discount
	return nil
}

// Cancel помечает позицию отменённой.
func (i *SaleItem) Cancel() error {
	if i.cancelled {
		return ErrItemAlreadyCancelled
	}
	i.cancelled = true
	return nil
}

// State возвращает снимок позиции.
func (i SaleItem) State() SaleItemState {
	return SaleItemState{
		ID:          i.id,
		ProductID:   i.productID,
		ProductName: i.productName,
		Quantity:    i.quantity,
		UnitPrice:   i.unitPrice,
		Discount:    i.discount,
		Total:       i.Total(),
		Cancelled:   i.cancelled,
	}
}
