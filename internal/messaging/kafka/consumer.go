package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/messaging"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 100 * time.Millisecond
)

// ErrInvalidMessage помечает сообщения, которые бессмысленно повторять: они сразу уходят в DLQ.
var ErrInvalidMessage = errors.New("invalid sale event message")

// EnvelopeHandler обрабатывает декодированное событие продажи.
type EnvelopeHandler func(ctx context.Context, envelope *messaging.Envelope) error

// ConsumerOption настраивает SaleEventConsumer.
type ConsumerOption func(*SaleEventConsumer)

// WithDeadLetters включает отправку необработанных сообщений в TopicDeadLetterQueue.
func WithDeadLetters(producer *Producer) ConsumerOption {
	return func(c *SaleEventConsumer) { c.dlq = producer }
}

// WithMaxRetries задаёт общий бюджет попыток с учётом x-retry-count.
func WithMaxRetries(n int) ConsumerOption {
	return func(c *SaleEventConsumer) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryDelay задаёт паузу между попытками.
func WithRetryDelay(delay time.Duration) ConsumerOption {
	return func(c *SaleEventConsumer) {
		if delay >= 0 {
			c.retryDelay = delay
		}
	}
}

// WithConsumerLogger задаёт logger.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(c *SaleEventConsumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// SaleEventConsumer читает события продаж в consumer group и передаёт их handler.
type SaleEventConsumer struct {
	group      sarama.ConsumerGroup
	topics     []string
	handler    EnvelopeHandler
	dlq        *Producer
	maxRetries int
	retryDelay time.Duration
	logger     *log.Entry
	now        func() time.Time
	wg         sync.WaitGroup
}

// NewSaleEventConsumer подключается к группе groupID; пустой topic означает TopicSaleEvents.
func NewSaleEventConsumer(brokers []string, groupID, topic string, handler EnvelopeHandler, opts ...ConsumerOption) (*SaleEventConsumer, error) {
	group, err := sarama.NewConsumerGroup(brokers, groupID, consumerConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group %s: %w", groupID, err)
	}
	return newSaleEventConsumer(group, topic, handler, opts...), nil
}

func newSaleEventConsumer(group sarama.ConsumerGroup, topic string, handler EnvelopeHandler, opts ...ConsumerOption) *SaleEventConsumer {
	if topic == "" {
		topic = TopicSaleEvents
	}
	c := &SaleEventConsumer{
		group:      group,
		topics:     []string{topic},
		handler:    handler,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		logger:     log.WithField("component", "sale-event-consumer"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func consumerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = true
	return cfg
}

// Start запускает чтение в фоне и сразу возвращается.
func (c *SaleEventConsumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		// Consume возвращается на каждом rebalance
		for ctx.Err() == nil {
			err := c.group.Consume(ctx, c.topics, c)
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			if err != nil {
				c.logger.WithError(err).Error("consume sale events")
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Error("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("sale event consumer started")
	return nil
}

// Stop закрывает группу и ждёт фоновые горутины.
func (c *SaleEventConsumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("sale event consumer stopped")
	return nil
}

// Setup реализует sarama.ConsumerGroupHandler.
func (c *SaleEventConsumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup реализует sarama.ConsumerGroupHandler.
func (c *SaleEventConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает partition по порядку. Offset сдвигается, только когда сообщение
// обработано или сохранено в DLQ.
func (c *SaleEventConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok || msg == nil {
				return nil
			}
			if err := c.process(ctx, msg); err != nil {
				c.logger.WithError(err).WithFields(messageFields(msg)).Error("sale event left unacknowledged")
				continue
			}
			session.MarkMessage(msg, "")
		}
	}
}

// process декодирует и обрабатывает сообщение, при неудаче отправляет его в DLQ.
// Ошибка означает, что сообщение нужно перечитать.
func (c *SaleEventConsumer) process(ctx context.Context, msg *sarama.ConsumerMessage) error {
	envelope, err := ParseEnvelope(msg)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	} else {
		err = c.handleWithRetry(ctx, msg, envelope)
	}
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || c.dlq == nil {
		return err
	}

	if dlqErr := c.deadLetter(ctx, msg, err); dlqErr != nil {
		return fmt.Errorf("dead letter after %v: %w", err, dlqErr)
	}
	c.logger.WithError(err).WithFields(messageFields(msg)).Warn("sale event moved to DLQ")
	return nil
}

func (c *SaleEventConsumer) handleWithRetry(ctx context.Context, msg *sarama.ConsumerMessage, envelope *messaging.Envelope) error {
	previous := retryCount(msg)
	attempts := max(c.maxRetries-previous, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = c.handler(ctx, envelope); err == nil || errors.Is(err, ErrInvalidMessage) {
			return err
		}
		if attempt == attempts {
			break
		}

		c.logger.WithError(err).WithFields(log.Fields{
			"sale_id":     envelope.AggregateID,
			"event_type":  envelope.EventType,
			"attempt":     attempt,
			"retry_count": previous,
		}).Warn("sale event handler failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
	return err
}

func (c *SaleEventConsumer) deadLetter(ctx context.Context, msg *sarama.ConsumerMessage, cause error) error {
	letter := DeadLetter{
		OriginalTopic:     msg.Topic,
		OriginalPartition: msg.Partition,
		OriginalOffset:    msg.Offset,
		OriginalKey:       string(msg.Key),
		OriginalValue:     string(msg.Value),
		ErrorMessage:      cause.Error(),
		FailedAt:          c.now().UTC(),
		RetryCount:        retryCount(msg),
	}
	// сессия может закрыться на rebalance, запись в DLQ всё равно доводим до конца
	return c.dlq.SendJSON(context.WithoutCancel(ctx), TopicDeadLetterQueue, letter.OriginalKey, letter)
}

// retryCount читает x-retry-count, который ставит dlq-reprocess при повторной публикации.
func retryCount(msg *sarama.ConsumerMessage) int {
	for _, header := range msg.Headers {
		if header == nil || string(header.Key) != HeaderRetryCount {
			continue
		}
		if n, err := strconv.Atoi(string(header.Value)); err == nil && n >= 0 {
			return n
		}
	}
	return 0
}

func messageFields(msg *sarama.ConsumerMessage) log.Fields {
	return log.Fields{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	}
}
