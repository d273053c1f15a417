package domain

// AggregateTypeSale — тип агрегата в outbox.
const AggregateTypeSale = "sale"

// Имена событий продажи.
const (
	EventSaleCreated       = "SaleCreated"
	EventSaleUpdated       = "SaleUpdated"
	EventSaleCancelled     = "SaleCancelled"
	EventSaleItemCancelled = "SaleItemCancelled"
)
