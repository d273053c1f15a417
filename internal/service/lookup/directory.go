// Package lookup кэширует справочники клиентов и филиалов перед обращением к хранилищу.
package lookup

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

const defaultTTL = time.Minute

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// ttlCache — cache-aside с TTL: одновременные промахи по одному ключу схлопываются в один запрос.
type ttlCache[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]
	group singleflight.Group
	ttl   time.Duration
	now   func() time.Time
}

func newTTLCache[V any](ttl time.Duration, now func() time.Time) *ttlCache[V] {
	return &ttlCache[V]{items: make(map[string]entry[V]), ttl: ttl, now: now}
}

func (c *ttlCache[V]) get(key string) (V, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().After(item.expiresAt) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		var zero V
		return zero, false
	}
	return item.value, true
}

func (c *ttlCache[V]) set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}

func (c *ttlCache[V]) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// load возвращает значение из кэша или из fetch. Ошибки не кэшируются.
func (c *ttlCache[V]) load(ctx context.Context, key string, fetch func(context.Context) (V, error)) (V, error) {
	if value, ok := c.get(key); ok {
		return value, nil
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		if value, ok := c.get(key); ok {
			return value, nil
		}
		fresh, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.set(key, fresh)
		return fresh, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return result.(V), nil
}

// Source — справочник, который кэшируется.
type Source interface {
	domain.CustomerDirectory
	domain.BranchDirectory
}

// Option настраивает Directory.
type Option func(*Directory)

// WithTTL задаёт время жизни записи.
func WithTTL(ttl time.Duration) Option {
	return func(d *Directory) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(d *Directory) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Directory кэширует клиентов и филиалы из Source.
type Directory struct {
	source    Source
	ttl       time.Duration
	now       func() time.Time
	logger    *log.Entry
	customers *ttlCache[domain.Customer]
	branches  *ttlCache[domain.Branch]
}

// NewDirectory оборачивает source кэшем.
func NewDirectory(source Source, opts ...Option) *Directory {
	d := &Directory{
		source: source,
		ttl:    defaultTTL,
		now:    time.Now,
		logger: log.WithField("component", "lookup-cache"),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.customers = newTTLCache[domain.Customer](d.ttl, d.now)
	d.branches = newTTLCache[domain.Branch](d.ttl, d.now)
	return d
}

// GetCustomer возвращает клиента из кэша или источника.
func (d *Directory) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	return d.customers.load(ctx, id, func(ctx context.Context) (domain.Customer, error) {
		d.logger.WithField("customer_id", id).Debug("customer cache miss")
		return d.source.GetCustomer(ctx, id)
	})
}

// GetBranch возвращает филиал из кэша или источника.
func (d *Directory) GetBranch(ctx context.Context, id string) (domain.Branch, error) {
	return d.branches.load(ctx, id, func(ctx context.Context) (domain.Branch, error) {
		d.logger.WithField("branch_id", id).Debug("branch cache miss")
		return d.source.GetBranch(ctx, id)
	})
}

// InvalidateCustomer удаляет клиента из кэша.
func (d *Directory) InvalidateCustomer(id string) {
	d.customers.invalidate(id)
}

// InvalidateBranch удаляет филиал из кэша.
func (d *Directory) InvalidateBranch(id string) {
	d.branches.invalidate(id)
}

var (
	_ domain.CustomerDirectory = (*Directory)(nil)
	_ domain.BranchDirectory   = (*Directory)(nil)
)
