// Package messaging содержит общий формат событий продаж для брокеров.
package messaging

import (
	"encoding/json"
	"strings"
	"time"
	"unicode"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// Envelope — конверт события outbox в брокере.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope оборачивает outbox-сообщение.
func NewEnvelope(event domain.OutboxMessage) Envelope {
	payload := json.RawMessage(event.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return Envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		PublishedAt:   time.Now().UTC(),
	}
}

// Key возвращает ключ партиционирования: события одной продажи идут по порядку.
func (e Envelope) Key() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID
}

// RoutingKey строит ключ маршрутизации вида sale.item_cancelled из SaleItemCancelled.
func RoutingKey(aggregateType, eventType string) string {
	name := strings.TrimPrefix(eventType, "Sale")
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	if aggregateType == "" {
		aggregateType = domain.AggregateTypeSale
	}
	if b.Len() == 0 {
		return aggregateType
	}
	return aggregateType + "." + b.String()
}
