package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// SaleItemPayload — позиция в событии продажи.
type SaleItemPayload struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int32  `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Discount    string `json:"discount"`
	Total       string `json:"total"`
	Cancelled   bool   `json:"cancelled"`
}

// RestorationPayload — результат возврата остатка в событии отмены.
type RestorationPayload struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	Restored  bool   `json:"restored"`
	Error     string `json:"error,omitempty"`
}

// SaleEventPayload — тело событий SaleCreated/SaleUpdated/SaleCancelled/SaleItemCancelled.
type SaleEventPayload struct {
	SaleID       string               `json:"sale_id"`
	Number       string               `json:"number"`
	CustomerID   string               `json:"customer_id"`
	BranchID     string               `json:"branch_id"`
	Status       string               `json:"status"`
	TotalAmount  string               `json:"total_amount"`
	Items        []SaleItemPayload    `json:"items"`
	ProductID    string               `json:"product_id,omitempty"`
	Restorations []RestorationPayload `json:"restorations,omitempty"`
	OccurredAt   time.Time            `json:"occurred_at"`
}

func newSaleEventPayload(sale *domain.Sale) SaleEventPayload {
	items := make([]SaleItemPayload, 0, len(sale.Items()))
	for _, item := range sale.Items() {
		items = append(items, SaleItemPayload{
			ProductID:   item.ProductID(),
			ProductName: item.ProductName(),
			Quantity:    item.Quantity(),
			UnitPrice:   item.UnitPrice().String(),
			Discount:    item.Discount().String(),
			Total:       item.Total().String(),
			Cancelled:   item.Cancelled(),
		})
	}
	return SaleEventPayload{
		SaleID:      sale.ID(),
		Number:      sale.Number(),
		CustomerID:  sale.CustomerID(),
		BranchID:    sale.BranchID(),
		Status:      string(sale.Status()),
		TotalAmount: sale.Total().String(),
		Items:       items,
		OccurredAt:  time.Now().UTC(),
	}
}

func restorationPayloads(restorations []StockRestoration) []RestorationPayload {
	result := make([]RestorationPayload, 0, len(restorations))
	for _, r := range restorations {
		p := RestorationPayload{ProductID: r.ProductID, Quantity: r.Quantity, Restored: r.Restored()}
		if r.Err != nil {
			p.Error = r.Err.Error()
		}
		result = append(result, p)
	}
	return result
}

// emit отправляет событие в sink и пишет историю. Сбой истории не влияет на результат workflow.
// Вызывается после сохранения продажи, поэтому отмена ctx запроса событие не теряет.
func (s *Service) emit(ctx context.Context, eventName string, payload SaleEventPayload, reason string) {
	ctx, cancel := detach(ctx)
	defer cancel()

	s.events.Publish(ctx, eventName, payload)
	if s.metrics != nil {
		s.metrics.RecordEvent(eventName)
	}

	if s.timeline == nil || !s.recordTimeline {
		return
	}
	event := domain.TimelineEvent{
		SaleID:   payload.SaleID,
		Type:     eventName,
		Reason:   reason,
		Occurred: payload.OccurredAt,
	}
	if err := s.timeline.Append(ctx, event); err != nil {
		s.logger.WithError(err).WithField("sale_id", payload.SaleID).Warn("failed to append timeline event")
		return
	}
	if s.metrics != nil {
		s.metrics.RecordTimelineEvent()
	}
}

func describeRestorations(restorations []StockRestoration) string {
	failed := 0
	for _, r := range restorations {
		if r.Err != nil {
			failed++
		}
	}
	return fmt.Sprintf("stock restored for %d of %d items", len(restorations)-failed, len(restorations))
}

// AggregateKey возвращает идентификатор продажи для outbox.
func (p SaleEventPayload) AggregateKey() string { return p.SaleID }
