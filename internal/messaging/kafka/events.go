package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/sales/internal/messaging"
)

// Topics для Kafka
const (
	TopicSaleEvents      = "sales.events"
	TopicDeadLetterQueue = "sales.events.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers
const (
	// HeaderRetryCount — сколько попыток обработки уже было до повторной публикации.
	HeaderRetryCount = "x-retry-count"
	HeaderEventType  = "x-event-type"
	HeaderOutboxID   = "x-outbox-id"
)

// DeadLetter — сообщение, которое не удалось обработать, с контекстом исходного topic.
type DeadLetter struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	ErrorMessage      string    `json:"error_message"`
	FailedAt          time.Time `json:"failed_at"`
	RetryCount        int       `json:"retry_count"`
}

// ParseEnvelope парсит конверт события продажи из сообщения.
func ParseEnvelope(message *sarama.ConsumerMessage) (*messaging.Envelope, error) {
	var envelope messaging.Envelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sale event envelope: %w", err)
	}
	if envelope.EventType == "" || envelope.AggregateID == "" {
		return nil, fmt.Errorf("sale event envelope without event type or aggregate id")
	}
	return &envelope, nil
}

// ParseDeadLetter парсит сообщение из DLQ.
func ParseDeadLetter(message *sarama.ConsumerMessage) (*DeadLetter, error) {
	var letter DeadLetter
	if err := json.Unmarshal(message.Value, &letter); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
	}
	return &letter, nil
}
