package domain

import (
	"strings"
	"time"
)

// TimelineEvent — запись в истории продажи. EventID приходит из outbox и
// позволяет не записывать одно событие дважды при повторной доставке.
type TimelineEvent struct {
	EventID  string
	SaleID   string
	Type     string
	Reason   string
	Occurred time.Time
}

// Normalize проверяет событие и проставляет время, если его нет.
func (e TimelineEvent) Normalize(now time.Time) (TimelineEvent, error) {
	e.SaleID = strings.TrimSpace(e.SaleID)
	e.EventID = strings.TrimSpace(e.EventID)
	if e.SaleID == "" {
		return TimelineEvent{}, ErrSaleIDRequired
	}
	if e.Occurred.IsZero() {
		e.Occurred = now
	}
	e.Occurred = e.Occurred.UTC()
	return e, nil
}
