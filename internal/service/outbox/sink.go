package outbox

import (
	"context"
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// Keyed — payload, знающий свой агрегат.
type Keyed interface {
	AggregateKey() string
}

// Sink реализует domain.EventSink поверх outbox: событие сохраняется, публикует его Worker.
// Ошибки записи логируются и не возвращаются вызывающему.
type Sink struct {
	repo          domain.OutboxRepository
	aggregateType string
	logger        *log.Entry
}

// NewSink создаёт sink для агрегата продажи.
func NewSink(repo domain.OutboxRepository, logger *log.Entry) *Sink {
	if logger == nil {
		logger = log.WithField("component", "outbox-sink")
	}
	return &Sink{repo: repo, aggregateType: domain.AggregateTypeSale, logger: logger}
}

// Publish кладёт событие в outbox.
func (s *Sink) Publish(ctx context.Context, eventName string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).WithField("event_type", eventName).Error("failed to marshal event payload")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: s.aggregateType,
		EventType:     eventName,
		Payload:       body,
	}
	if keyed, ok := payload.(Keyed); ok {
		msg.AggregateID = keyed.AggregateKey()
	}

	saved, err := s.repo.Enqueue(ctx, msg)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"event_type":   eventName,
			"aggregate_id": msg.AggregateID,
		}).Warn("failed to enqueue event")
		return
	}

	s.logger.WithFields(log.Fields{
		"outbox_id":  saved.ID,
		"event_type": eventName,
	}).Debug("event enqueued")
}

var _ domain.EventSink = (*Sink)(nil)
