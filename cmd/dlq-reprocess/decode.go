package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/messaging"
	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/sales/internal/service/outbox"
)

// errNotReplayable — сообщение DLQ неизвестного формата.
var errNotReplayable = errors.New("dlq message is not replayable")

type replayMessage struct {
	topic     string
	key       string
	eventType string
	value     []byte
	// attempts — сколько раз consumer уже не смог обработать событие; 0 для outbox.
	attempts int
}

// decodeDeadLetter восстанавливает исходное событие из DLQ. Поддерживаются два формата:
// DeadLetter consumer'а истории и конверт outbox worker'а.
func decodeDeadLetter(msg *sarama.ConsumerMessage, targetTopic string) (replayMessage, error) {
	if letter, err := kafka.ParseDeadLetter(msg); err == nil && letter.OriginalValue != "" {
		return fromConsumerLetter(letter, targetTopic), nil
	}

	var envelope messaging.Envelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return replayMessage{}, errNotReplayable
	}

	var failure outbox.Failure
	if err := json.Unmarshal(envelope.Payload, &failure); err != nil {
		return replayMessage{}, fmt.Errorf("decode outbox failure: %w", err)
	}
	if len(failure.Payload) == 0 {
		return replayMessage{}, errors.New("outbox failure does not contain the original payload")
	}

	original := messaging.NewEnvelope(domain.OutboxMessage{
		ID:            firstNonEmpty(failure.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(failure.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(failure.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(failure.EventType, envelope.EventType),
		Payload:       failure.Payload,
	})
	body, err := json.Marshal(original)
	if err != nil {
		return replayMessage{}, fmt.Errorf("encode replay envelope: %w", err)
	}

	return replayMessage{
		topic:     targetTopic,
		key:       original.Key(),
		eventType: original.EventType,
		value:     body,
	}, nil
}

func fromConsumerLetter(letter *kafka.DeadLetter, targetTopic string) replayMessage {
	topic := strings.TrimSpace(letter.OriginalTopic)
	if topic == "" {
		topic = targetTopic
	}

	replay := replayMessage{
		topic:    topic,
		key:      letter.OriginalKey,
		value:    []byte(letter.OriginalValue),
		attempts: letter.RetryCount + 1,
	}
	var envelope messaging.Envelope
	if err := json.Unmarshal(replay.value, &envelope); err == nil {
		replay.eventType = envelope.EventType
	}
	return replay
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
