// Package history строит историю продаж из событий брокера.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/messaging"
)

// Projector добавляет событие в историю продажи для каждого полученного конверта.
type Projector struct {
	timeline domain.TimelineRepository
	logger   *log.Entry
}

// NewProjector создаёт projector поверх репозитория истории.
func NewProjector(timeline domain.TimelineRepository, logger *log.Entry) *Projector {
	if logger == nil {
		logger = log.WithField("component", "history-projector")
	}
	return &Projector{timeline: timeline, logger: logger}
}

type projectedPayload struct {
	ProductID    string    `json:"product_id"`
	TotalAmount  string    `json:"total_amount"`
	OccurredAt   time.Time `json:"occurred_at"`
	Restorations []struct {
		Restored bool `json:"restored"`
	} `json:"restorations"`
}

// Handle сохраняет событие. Конверты других агрегатов пропускаются.
func (p *Projector) Handle(ctx context.Context, envelope *messaging.Envelope) error {
	if envelope.AggregateType != "" && envelope.AggregateType != domain.AggregateTypeSale {
		return nil
	}

	var payload projectedPayload
	if len(envelope.Payload) > 0 {
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			p.logger.WithError(err).WithField("message_id", envelope.ID).Warn("payload is not a sale event, storing without details")
		}
	}

	occurred := payload.OccurredAt
	if occurred.IsZero() {
		occurred = envelope.PublishedAt
	}
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	event := domain.TimelineEvent{
		EventID:  envelope.ID,
		SaleID:   envelope.AggregateID,
		Type:     envelope.EventType,
		Reason:   describe(envelope.EventType, payload),
		Occurred: occurred,
	}
	if err := p.timeline.Append(ctx, event); err != nil {
		return fmt.Errorf("append timeline event for sale %s: %w", envelope.AggregateID, err)
	}
	return nil
}

func describe(eventType string, payload projectedPayload) string {
	switch eventType {
	case domain.EventSaleItemCancelled:
		return "item " + payload.ProductID + " cancelled"
	case domain.EventSaleCancelled:
		restored := 0
		for _, r := range payload.Restorations {
			if r.Restored {
				restored++
			}
		}
		return fmt.Sprintf("sale cancelled, stock restored for %d of %d items", restored, len(payload.Restorations))
	default:
		if payload.TotalAmount != "" {
			return "total " + payload.TotalAmount
		}
		return eventType
	}
}
