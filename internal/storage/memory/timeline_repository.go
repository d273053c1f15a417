package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

type timelineRepositoryInMemory struct {
	mu     sync.Mutex
	bySale map[string][]domain.TimelineEvent
	seen   map[string]struct{}
}

// NewTimelineRepository создаёт in-memory историю продаж.
func NewTimelineRepository() domain.TimelineRepository {
	return &timelineRepositoryInMemory{
		bySale: make(map[string][]domain.TimelineEvent),
		seen:   make(map[string]struct{}),
	}
}

// Append вставляет событие по времени; события с равным временем сохраняют порядок записи.
// Повтор EventID игнорируется.
func (r *timelineRepositoryInMemory) Append(_ context.Context, event domain.TimelineEvent) error {
	event, err := event.Normalize(time.Now().UTC())
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if event.EventID != "" {
		if _, dup := r.seen[event.EventID]; dup {
			return nil
		}
		r.seen[event.EventID] = struct{}{}
	}

	history := r.bySale[event.SaleID]
	at := sort.Search(len(history), func(i int) bool {
		return history[i].Occurred.After(event.Occurred)
	})
	history = append(history, domain.TimelineEvent{})
	copy(history[at+1:], history[at:])
	history[at] = event
	r.bySale[event.SaleID] = history
	return nil
}

func (r *timelineRepositoryInMemory) List(_ context.Context, saleID string) ([]domain.TimelineEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]domain.TimelineEvent(nil), r.bySale[saleID]...), nil
}

var _ domain.TimelineRepository = (*timelineRepositoryInMemory)(nil)
