// Package rabbitmq публикует события продаж в topic exchange RabbitMQ.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/messaging"
)

const (
	// DefaultExchange — exchange событий продаж по умолчанию.
	DefaultExchange = "sales.events"
	exchangeKind    = "topic"
	dialAttempts    = 5
	dialBackoff     = 2 * time.Second
)

// Channel — часть *amqp.Channel, нужная паблишеру.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// ErrChannelClosed возвращает Ping, когда канал или соединение закрыты брокером.
var ErrChannelClosed = errors.New("rabbitmq channel is closed")

// Publisher отправляет outbox-сообщения в exchange с ключом sale.<event>.
type Publisher struct {
	conn     *amqp.Connection
	ch       Channel
	exchange string
	logger   *log.Entry
}

// Dial подключается к брокеру, открывает канал и объявляет exchange.
func Dial(ctx context.Context, url, exchange string) (*Publisher, error) {
	var (
		conn *amqp.Connection
		err  error
	)
	logger := log.WithField("component", "rabbitmq-publisher")

	for attempt := 1; attempt <= dialAttempts; attempt++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		logger.WithError(err).WithField("attempt", attempt).Warn("failed to connect to rabbitmq")
		if attempt == dialAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dialBackoff):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("could not connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not open channel: %w", err)
	}

	publisher, err := NewPublisher(ch, exchange)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	publisher.conn = conn
	return publisher, nil
}

// NewPublisher объявляет durable topic exchange на готовом канале.
func NewPublisher(ch Channel, exchange string) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	err := ch.ExchangeDeclare(
		exchange,
		exchangeKind,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("could not declare exchange %s: %w", exchange, err)
	}

	return &Publisher{
		ch:       ch,
		exchange: exchange,
		logger:   log.WithField("component", "rabbitmq-publisher"),
	}, nil
}

// Publish отправляет сообщение в конверте, persistent delivery.
func (p *Publisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	envelope := messaging.NewEnvelope(event)
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("could not marshal envelope: %w", err)
	}

	routingKey := messaging.RoutingKey(event.AggregateType, event.EventType)
	err = p.ch.PublishWithContext(ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID,
			Type:         event.EventType,
			Timestamp:    envelope.PublishedAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", routingKey, p.exchange, err)
	}

	p.logger.WithFields(log.Fields{
		"exchange":    p.exchange,
		"routing_key": routingKey,
		"message_id":  event.ID,
	}).Debug("message sent to rabbitmq")
	return nil
}

// Ping проверяет, что публиковать ещё есть куда. Переподключения нет: закрытый канал
// виден в /healthz как degraded.
func (p *Publisher) Ping(context.Context) error {
	if p.ch.IsClosed() || (p.conn != nil && p.conn.IsClosed()) {
		return fmt.Errorf("%w: exchange %s", ErrChannelClosed, p.exchange)
	}
	return nil
}

// Close закрывает канал и соединение.
func (p *Publisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

var _ domain.OutboxPublisher = (*Publisher)(nil)
