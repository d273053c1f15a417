// Package salesv1 описывает gRPC API сервиса продаж: сообщения, дескриптор сервиса и клиент.
// Сообщения передаются в JSON через зарегистрированный кодек "json".
package salesv1

// SaleStatus — статус продажи в API.
type SaleStatus string

const (
	SaleStatusActive    SaleStatus = "ACTIVE"
	SaleStatusCancelled SaleStatus = "CANCELLED"
)

// LineItem — запрошенная позиция. Денежные суммы передаются строками с десятичной точкой.
type LineItem struct {
	ProductId   string `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	Quantity    int32  `json:"quantity"`
	UnitPrice   string `json:"unit_price,omitempty"`
}

// SaleItem — позиция продажи.
type SaleItem struct {
	Id          string `json:"id"`
	ProductId   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int32  `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Discount    string `json:"discount"`
	Total       string `json:"total"`
	Cancelled   bool   `json:"cancelled"`
}

// Sale — продажа.
type Sale struct {
	Id           string      `json:"id"`
	Number       string      `json:"number"`
	Date         string      `json:"date"`
	CustomerId   string      `json:"customer_id"`
	CustomerName string      `json:"customer_name"`
	BranchId     string      `json:"branch_id"`
	BranchName   string      `json:"branch_name"`
	Status       SaleStatus  `json:"status"`
	TotalAmount  string      `json:"total_amount"`
	Items        []*SaleItem `json:"items"`
	Version      int64       `json:"version"`
	CreatedAt    string      `json:"created_at"`
	UpdatedAt    string      `json:"updated_at"`
}

func (s *Sale) GetId() string {
	if s == nil {
		return ""
	}
	return s.Id
}

// StockRestoration — результат возврата остатка по позиции.
type StockRestoration struct {
	ProductId string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	Restored  bool   `json:"restored"`
	Error     string `json:"error,omitempty"`
}

// TimelineEvent — событие истории продажи.
type TimelineEvent struct {
	Type       string `json:"type"`
	Reason     string `json:"reason"`
	OccurredAt string `json:"occurred_at"`
}

type CreateSaleRequest struct {
	Number     string      `json:"number,omitempty"`
	Date       string      `json:"date,omitempty"`
	CustomerId string      `json:"customer_id"`
	BranchId   string      `json:"branch_id"`
	Items      []*LineItem `json:"items"`
}

func (r *CreateSaleRequest) GetCustomerId() string {
	if r == nil {
		return ""
	}
	return r.CustomerId
}

type CreateSaleResponse struct {
	Sale *Sale `json:"sale"`
}

func (r *CreateSaleResponse) GetSale() *Sale {
	if r == nil {
		return nil
	}
	return r.Sale
}

type GetSaleRequest struct {
	SaleId string `json:"sale_id"`
}

func (r *GetSaleRequest) GetSaleId() string {
	if r == nil {
		return ""
	}
	return r.SaleId
}

type GetSaleResponse struct {
	Sale *Sale `json:"sale"`
}

type ListSalesRequest struct {
	Page     int32 `json:"page,omitempty"`
	PageSize int32 `json:"page_size,omitempty"`
}

type ListSalesResponse struct {
	Sales      []*Sale `json:"sales"`
	Page       int32   `json:"page"`
	PageSize   int32   `json:"page_size"`
	TotalCount int32   `json:"total_count"`
}

// UpdateSaleRequest задаёт желаемое конечное состояние продажи.
type UpdateSaleRequest struct {
	SaleId     string      `json:"sale_id"`
	Date       string      `json:"date,omitempty"`
	CustomerId string      `json:"customer_id"`
	BranchId   string      `json:"branch_id"`
	Items      []*LineItem `json:"items"`
}

func (r *UpdateSaleRequest) GetSaleId() string {
	if r == nil {
		return ""
	}
	return r.SaleId
}

type UpdateSaleResponse struct {
	Sale         *Sale `json:"sale"`
	RemovedItems int32 `json:"removed_items"`
	ChangedItems int32 `json:"changed_items"`
	AddedItems   int32 `json:"added_items"`
}

type CancelSaleRequest struct {
	SaleId string `json:"sale_id"`
}

func (r *CancelSaleRequest) GetSaleId() string {
	if r == nil {
		return ""
	}
	return r.SaleId
}

type CancelSaleResponse struct {
	Sale         *Sale               `json:"sale"`
	Restorations []*StockRestoration `json:"restorations"`
}

type CancelSaleItemRequest struct {
	SaleId    string `json:"sale_id"`
	ProductId string `json:"product_id"`
}

func (r *CancelSaleItemRequest) GetSaleId() string {
	if r == nil {
		return ""
	}
	return r.SaleId
}

type CancelSaleItemResponse struct {
	Sale         *Sale               `json:"sale"`
	Restorations []*StockRestoration `json:"restorations"`
}

type DeleteSaleRequest struct {
	SaleId string `json:"sale_id"`
}

func (r *DeleteSaleRequest) GetSaleId() string {
	if r == nil {
		return ""
	}
	return r.SaleId
}

type DeleteSaleResponse struct {
	Deleted bool `json:"deleted"`
}

type GetSaleHistoryRequest struct {
	SaleId string `json:"sale_id"`
}

func (r *GetSaleHistoryRequest) GetSaleId() string {
	if r == nil {
		return ""
	}
	return r.SaleId
}

type GetSaleHistoryResponse struct {
	Events []*TimelineEvent `json:"events"`
}
