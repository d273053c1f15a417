package domain

import (
	"context"
	"time"
)

// SaleRepository описывает требования к хранилищу продаж.
type SaleRepository interface {
	// Create сохраняет новую продажу. Возвращает ErrSaleAlreadyExists, если ID занят.
	Create(ctx context.Context, sale *Sale) (*Sale, error)
	// Get возвращает продажу по идентификатору или ErrSaleNotFound.
	Get(ctx context.Context, id string) (*Sale, error)
	// Save сохраняет изменения с учётом optimistic locking и возвращает продажу с новой версией.
	Save(ctx context.Context, sale *Sale) (*Sale, error)
	// List возвращает страницу продаж (page с единицы) и общее количество.
	List(ctx context.Context, page, pageSize int) ([]*Sale, int, error)
	// Delete удаляет продажу; false, если её не было.
	Delete(ctx context.Context, id string) (bool, error)
}

// StockService — внешний сервис товаров и остатков.
type StockService interface {
	// GetProduct возвращает товар с текущим остатком или ErrProductNotFound.
	GetProduct(ctx context.Context, productID string) (Product, error)
	// SetStock записывает новый абсолютный остаток, если версия товара не изменилась.
	// Иначе возвращает ErrStockVersionConflict.
	SetStock(ctx context.Context, productID string, newStock, expectedVersion int64) error
}

// CustomerDirectory ищет клиентов.
type CustomerDirectory interface {
	GetCustomer(ctx context.Context, id string) (Customer, error)
}

// BranchDirectory ищет филиалы.
type BranchDirectory interface {
	GetBranch(ctx context.Context, id string) (Branch, error)
}

// EventSink принимает уведомления о продажах. Результат публикации бизнес-логику не блокирует.
type EventSink interface {
	Publish(ctx context.Context, eventName string, payload any)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	// MarkSent и MarkFailed закрывают pending-запись; для неизвестной или уже
	// закрытой записи возвращают ErrOutboxPublish.
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит историю продажи.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, saleID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит результаты мутирующих вызовов по idempotency-key.
type IdempotencyRepository interface {
	// Claim занимает ключ под запрос. Если ключ занят и не истёк, возвращает
	// существующую запись вместе с ошибкой из IdempotencyRecord.Resolve.
	Claim(ctx context.Context, claim IdempotencyClaim) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	Complete(ctx context.Context, key string, outcome IdempotencyOutcome) error
	// DeleteExpired удаляет до limit самых старых истёкших записей; limit <= 0 снимает ограничение.
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStatus — состояние записи outbox. Из pending запись переходит
// ровно один раз: в sent или в failed.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
	OutboxStatusFailed  OutboxStatus = "failed"
)

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
