package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

const defaultOutboxBatch = 100

type outboxEntry struct {
	msg    domain.OutboxMessage
	status domain.OutboxStatus
}

// OutboxRepository — in-memory outbox событий продаж.
type OutboxRepository struct {
	mu      sync.Mutex
	entries map[string]*outboxEntry
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{entries: make(map[string]*outboxEntry)}
}

// Enqueue сохраняет событие в статусе pending. Повторная запись с тем же id ничего не меняет.
func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.Payload = append([]byte(nil), msg.Payload...)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[msg.ID]; !ok {
		r.entries[msg.ID] = &outboxEntry{msg: msg, status: domain.OutboxStatusPending}
	}
	return msg, nil
}

func (r *OutboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}
	pending := r.Messages(domain.OutboxStatusPending)
	return pending[:min(limit, len(pending))], nil
}

func (r *OutboxRepository) Stats(context.Context) (domain.OutboxStats, error) {
	pending := r.Messages(domain.OutboxStatusPending)
	stats := domain.OutboxStats{PendingCount: len(pending)}
	if len(pending) > 0 {
		stats.OldestPendingAt = pending[0].CreatedAt
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.settle(id, domain.OutboxStatusSent)
}

func (r *OutboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.settle(id, domain.OutboxStatusFailed)
}

// Messages возвращает копии сообщений в статусе status в порядке записи.
func (r *OutboxRepository) Messages(status domain.OutboxStatus) []domain.OutboxMessage {
	r.mu.Lock()
	var result []domain.OutboxMessage
	for _, entry := range r.entries {
		if entry.status == status {
			msg := entry.msg
			msg.Payload = append([]byte(nil), msg.Payload...)
			result = append(result, msg)
		}
	}
	r.mu.Unlock()

	slices.SortFunc(result, func(a, b domain.OutboxMessage) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return result
}

func (r *OutboxRepository) settle(id string, status domain.OutboxStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok || entry.status != domain.OutboxStatusPending {
		return fmt.Errorf("%w: outbox message %s is not pending", domain.ErrOutboxPublish, id)
	}
	entry.status = status
	return nil
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
