package domain

import "github.com/shopspring/decimal"

const (
	// MinItemQuantity — минимальное количество товара в позиции.
	MinItemQuantity = 1
	// MaxItemQuantity — максимальное количество товара в позиции.
	MaxItemQuantity = 20
)

var (
	tenPercent    = decimal.NewFromFloat(0.10)
	twentyPercent = decimal.NewFromFloat(0.20)
)

// ValidateQuantity проверяет, что количество лежит в диапазоне 1..20.
func ValidateQuantity(quantity int32) error {
	if quantity < MinItemQuantity || quantity > MaxItemQuantity {
		return ErrInvalidQuantity
	}
	return nil
}

// ComputeDiscount возвращает скидку по ступенчатой шкале количества:
// 1-3 без скидки, 4-9 десять процентов, 10-20 двадцать процентов.
// Нижняя граница ступени включительная.
func ComputeDiscount(quantity int32, unitPrice decimal.Decimal) (decimal.Decimal, error) {
	if err := ValidateQuantity(quantity); err != nil {
		return decimal.Zero, err
	}

	gross := unitPrice.Mul(decimal.NewFromInt32(quantity))
	switch {
	case quantity >= 10:
		return gross.Mul(twentyPercent), nil
	case quantity >= 4:
		return gross.Mul(tenPercent), nil
	default:
		return decimal.Zero, nil
	}
}
