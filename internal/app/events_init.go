package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/sales/internal/health"
	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/sales/internal/messaging/rabbitmq"
)

// eventRuntime — паблишеры outbox worker и ресурсы брокера.
type eventRuntime struct {
	publisher    domain.OutboxPublisher
	dlqPublisher domain.OutboxPublisher
	producer     *kafka.Producer
	probe        healthcheck.Pinger // необязательная проверка брокера для /healthz
	closers      []func() error
}

func (e *eventRuntime) close(logger *log.Entry) {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			logger.WithError(err).Warn("failed to close event broker")
		}
	}
	e.closers = nil
}

// initEventRuntime подключает брокер из cfg.EventBroker. Без брокера события
// из outbox только логируются.
func initEventRuntime(ctx context.Context, cfg Config, logger *log.Entry) (*eventRuntime, error) {
	switch cfg.EventBroker {
	case EventBrokerKafka:
		producer, err := initKafkaProducer(cfg.kafkaBrokerList(), logger)
		if err != nil {
			return nil, err
		}
		return &eventRuntime{
			publisher:    kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
			dlqPublisher: kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue),
			producer:     producer,
			closers:      []func() error{producer.Close},
		}, nil
	case EventBrokerRabbitMQ:
		publisher, err := rabbitmq.Dial(ctx, cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq publisher: %w", err)
		}
		runtime := &eventRuntime{publisher: publisher, probe: publisher, closers: []func() error{publisher.Close}}
		dlq, err := rabbitmq.Dial(ctx, cfg.RabbitMQURL, cfg.RabbitMQExchange+".dlq")
		if err != nil {
			runtime.close(logger)
			return nil, fmt.Errorf("rabbitmq dlq publisher: %w", err)
		}
		runtime.dlqPublisher = dlq
		runtime.closers = append(runtime.closers, dlq.Close)
		logger.WithField("exchange", cfg.RabbitMQExchange).Info("rabbitmq publisher initialized")
		return runtime, nil
	default:
		return &eventRuntime{publisher: logPublisher{logger: logger.WithField("component", "event-log")}}, nil
	}
}

// initKafkaProducer создаёт producer для списка брокеров.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are not configured")
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// logPublisher подтверждает события записью в лог, чтобы outbox не копился без брокера.
type logPublisher struct {
	logger *log.Entry
}

func (p logPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
		"outbox_id":    event.ID,
	}).Debug("event published to log")
	return nil
}
