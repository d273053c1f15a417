package domain

import (
	"errors"
	"fmt"
)

// Kind классифицирует ошибки домена для транспорта и логов.
type Kind string

const (
	// KindNotFound — сущность (продажа, клиент, филиал, товар) не найдена.
	KindNotFound Kind = "not_found"
	// KindValidation — структурно некорректный ввод.
	KindValidation Kind = "validation"
	// KindDomainRule — нарушение бизнес-правила.
	KindDomainRule Kind = "domain_rule"
	// KindInfrastructure — сбой хранилища или внешнего сервиса.
	KindInfrastructure Kind = "infrastructure"
)

var (
	// ErrSaleNotFound возвращается, если продажа не найдена в хранилище.
	ErrSaleNotFound = errors.New("sale not found")
	// ErrCustomerNotFound возвращается, если клиент не найден.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrBranchNotFound возвращается, если филиал не найден.
	ErrBranchNotFound = errors.New("branch not found")
	// ErrProductNotFound возвращается, если товар не найден в сервисе остатков.
	ErrProductNotFound = errors.New("product not found")
	// ErrItemNotFound — в продаже нет позиции с таким товаром.
	ErrItemNotFound = errors.New("sale item not found")

	// ErrInvalidQuantity — количество вне диапазона 1..20.
	ErrInvalidQuantity = errors.New("quantity must be between 1 and 20")
	// ErrInvalidUnitPrice — цена за единицу должна быть больше нуля.
	ErrInvalidUnitPrice = errors.New("unit price must be greater than zero")
	// ErrItemsRequired — продажа без позиций.
	ErrItemsRequired = errors.New("sale must contain at least one item")
	// ErrSaleIDRequired — пустой идентификатор продажи.
	ErrSaleIDRequired = errors.New("sale_id is required")
	// ErrProductIDRequired — пустой идентификатор товара.
	ErrProductIDRequired = errors.New("product_id is required")
	// ErrCustomerRequired — пустой идентификатор клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// ErrBranchRequired — пустой идентификатор филиала.
	ErrBranchRequired = errors.New("branch_id is required")
	// ErrInvalidPage — некорректные параметры пагинации.
	ErrInvalidPage = errors.New("page must be >= 1 and page_size between 1 and 100")
	// ErrInvalidStock — остаток не может быть отрицательным.
	ErrInvalidStock = errors.New("stock must be non-negative")

	// ErrDuplicateProduct — активная позиция с этим товаром уже есть в продаже.
	ErrDuplicateProduct = errors.New("product already present in sale")
	// ErrAlreadyCancelled — продажа уже отменена.
	ErrAlreadyCancelled = errors.New("sale already cancelled")
	// ErrItemAlreadyCancelled — позиция уже отменена.
	ErrItemAlreadyCancelled = errors.New("sale item already cancelled")
	// ErrSaleCancelled — изменение отменённой продажи запрещено.
	ErrSaleCancelled = errors.New("cannot update a cancelled sale")
	// ErrInsufficientStock — остатка товара недостаточно.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrSaleAlreadyExists — продажа с таким идентификатором уже сохранена.
	ErrSaleAlreadyExists = errors.New("sale already exists")
	// ErrSaleVersionConflict сигнализирует о конфликте версий при сохранении продажи.
	ErrSaleVersionConflict = errors.New("sale version conflict")
	// ErrStockVersionConflict — остаток изменился между чтением и записью.
	ErrStockVersionConflict = errors.New("stock version conflict")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
	ErrIdempotencyOutcomeInvalid      = errors.New("idempotency outcome must be done or failed")
)

var kinds = []struct {
	kind Kind
	errs []error
}{
	{KindNotFound, []error{ErrSaleNotFound, ErrCustomerNotFound, ErrBranchNotFound, ErrProductNotFound, ErrItemNotFound}},
	{KindValidation, []error{
		ErrInvalidQuantity, ErrInvalidUnitPrice, ErrItemsRequired, ErrSaleIDRequired,
		ErrProductIDRequired, ErrCustomerRequired, ErrBranchRequired, ErrInvalidPage, ErrInvalidStock,
	}},
	{KindDomainRule, []error{
		ErrDuplicateProduct, ErrAlreadyCancelled, ErrItemAlreadyCancelled, ErrSaleCancelled,
		ErrInsufficientStock, ErrSaleAlreadyExists, ErrSaleVersionConflict, ErrStockVersionConflict,
	}},
}

// KindOf определяет класс ошибки. Всё, что не распознано, считается инфраструктурным сбоем.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, group := range kinds {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.kind
			}
		}
	}
	return KindInfrastructure
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий продажи или остатка.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrSaleVersionConflict) || errors.Is(err, ErrStockVersionConflict)
}

// InsufficientStockError описывает нехватку остатка по конкретному товару.
type InsufficientStockError struct {
	ProductID string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}
