package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/messaging"
)

var errPublisherNotReady = errors.New("kafka outbox publisher is not initialized")

// OutboxPublisher доставляет события продаж из outbox в topic.
type OutboxPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт publisher; пустой topic означает TopicSaleEvents.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxPublisher {
	if topic == "" {
		topic = TopicSaleEvents
	}
	return &OutboxPublisher{producer: producer, topic: topic}
}

// Publish отправляет событие в конверте с ключом по id продажи.
func (p *OutboxPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotReady
	}

	envelope := messaging.NewEnvelope(event)
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal sale event %s: %w", event.ID, err)
	}

	return p.producer.Send(ctx, Message{
		Topic: p.topic,
		Key:   envelope.Key(),
		Value: body,
		Headers: map[string]string{
			HeaderEventType: event.EventType,
			HeaderOutboxID:  event.ID,
		},
	})
}

var _ domain.OutboxPublisher = (*OutboxPublisher)(nil)
