package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 5 * time.Second
)

// Результаты публикации для метрик.
const (
	resultSent       = "sent"
	resultRetryError = "retry_error"
	resultFailed     = "failed"
	resultDLQ        = "dlq"
	resultDLQFailed  = "dlq_failed"
)

// Failure — тело DLQ-сообщения для события продажи, которое не удалось доставить.
type Failure struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	Attempts      int             `json:"attempts"`
	FailedAt      time.Time       `json:"dlq_published_at"`
}

func newFailure(msg domain.OutboxMessage, attempts int, err error, at time.Time) Failure {
	return Failure{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishError:  err.Error(),
		Attempts:      attempts,
		FailedAt:      at.UTC(),
	}
}

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithDLQPublisher задаёт publisher для событий, исчерпавших попытки.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlqPublisher = publisher }
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) { w.pollInterval = interval }
}

// WithBatchSize задаёт размер выборки pending-событий.
func WithBatchSize(batchSize int) Option {
	return func(w *Worker) { w.batchSize = batchSize }
}

// WithMaxAttempts задаёт число попыток публикации одного события.
func WithMaxAttempts(maxAttempts int) Option {
	return func(w *Worker) { w.retry.attempts = maxAttempts }
}

// WithRetryBaseDelay задаёт первую паузу между попытками; дальше она удваивается до maxRetryDelay.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) { w.retry.base = delay }
}

// WithMetrics включает метрики публикации и backlog.
func WithMetrics(m *metrics.SalesMetrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// Worker доставляет события продаж из outbox в брокер.
type Worker struct {
	repo         domain.OutboxRepository
	publisher    domain.OutboxPublisher
	dlqPublisher domain.OutboxPublisher
	metrics      *metrics.SalesMetrics
	logger       *log.Entry
	pollInterval time.Duration
	batchSize    int
	retry        retryPolicy
	now          func() time.Time
}

// NewWorker создаёт outbox worker; неположительные настройки заменяются значениями по умолчанию.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	w := &Worker{
		repo:      repo,
		publisher: publisher,
		retry:     retryPolicy{maxDelay: maxRetryDelay},
		now:       time.Now,
	}
	for _, option := range options {
		option(w)
	}

	w.pollInterval = orDefault(w.pollInterval, defaultPollInterval)
	w.batchSize = orDefault(w.batchSize, defaultBatchSize)
	w.retry.attempts = orDefault(w.retry.attempts, defaultMaxAttempts)
	w.retry.base = max(w.retry.base, 0)
	if w.logger == nil {
		w.logger = log.WithField("component", "outbox-worker")
	}
	return w
}

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce забирает одну пачку pending-событий и доставляет их по порядку.
func (w *Worker) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	defer w.observeBacklog(ctx)

	batch, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return
	}
	for _, msg := range batch {
		if ctx.Err() != nil {
			return
		}
		w.deliver(ctx, msg)
	}
}

// deliver переводит событие в sent или, исчерпав попытки, в failed с копией в DLQ.
// При отмене ctx событие остаётся pending.
func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) {
	logger := w.logger.WithFields(log.Fields{
		"outbox_id":  msg.ID,
		"sale_id":    msg.AggregateID,
		"event_type": msg.EventType,
	})

	attempts, err := w.retry.do(ctx, func() error {
		err := w.publisher.Publish(ctx, msg)
		w.record(resultOf(err))
		return err
	})
	switch {
	case err == nil:
		if err := w.repo.MarkSent(ctx, msg.ID); err != nil {
			logger.WithError(err).Warn("failed to mark outbox as sent")
		}
		return
	case ctx.Err() != nil:
		return
	}

	logger.WithError(err).WithField("attempts", attempts).Error("outbox publish failed after retries")
	w.record(resultFailed)
	if w.dlqPublisher != nil {
		if dlqErr := w.publishToDLQ(ctx, newFailure(msg, attempts, err, w.now())); dlqErr != nil {
			logger.WithError(dlqErr).Warn("failed to publish to DLQ")
			w.record(resultDLQFailed)
		}
	}
	if err := w.repo.MarkFailed(ctx, msg.ID); err != nil {
		logger.WithError(err).Warn("failed to mark outbox as failed")
	}
}

func resultOf(err error) string {
	if err != nil {
		return resultRetryError
	}
	return resultSent
}

func (w *Worker) publishToDLQ(ctx context.Context, f Failure) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}
	dead := domain.OutboxMessage{
		ID:            f.OutboxID,
		AggregateType: f.AggregateType,
		AggregateID:   f.AggregateID,
		EventType:     f.EventType,
		Payload:       payload,
		CreatedAt:     f.FailedAt,
	}
	if err := w.dlqPublisher.Publish(ctx, dead); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	w.record(resultDLQ)
	return nil
}

func (w *Worker) observeBacklog(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = w.now().Sub(stats.OldestPendingAt)
	}
	w.metrics.SetOutboxBacklog(stats.PendingCount, age)
}

func (w *Worker) record(result string) {
	if w.metrics != nil {
		w.metrics.RecordOutboxPublish(result)
	}
}

// retryPolicy повторяет вызов attempts раз, удваивая паузу от base до maxDelay.
type retryPolicy struct {
	attempts int
	base     time.Duration
	maxDelay time.Duration
}

// do возвращает число сделанных попыток и последнюю ошибку, а при отмене ctx во время паузы ctx.Err().
func (p retryPolicy) do(ctx context.Context, fn func() error) (int, error) {
	delay := p.base
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return attempt, nil
		}
		if attempt >= p.attempts {
			return attempt, fmt.Errorf("publish failed after %d attempts: %w", attempt, err)
		}
		if delay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, p.maxDelay)
	}
}
