package app

import (
	"context"
	"errors"
	"fmt"

	gcpfirestore "cloud.google.com/go/firestore"
	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/sales/internal/health"
	"github.com/vladislavdragonenkov/sales/internal/service/lookup"
	"github.com/vladislavdragonenkov/sales/internal/storage/firestore"
	"github.com/vladislavdragonenkov/sales/internal/storage/memory"
	"github.com/vladislavdragonenkov/sales/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/sales/internal/storage/redis"
	"github.com/vladislavdragonenkov/sales/internal/storage/sqlite"
)

// productStore — сервис остатков, который умеет заводить товары (для демо-данных).
type productStore interface {
	domain.StockService
	Upsert(ctx context.Context, product domain.Product) (domain.Product, error)
}

// partyStore — справочник клиентов и филиалов с записью.
type partyStore interface {
	lookup.Source
	PutCustomer(ctx context.Context, customer domain.Customer) error
	PutBranch(ctx context.Context, branch domain.Branch) error
}

// runtimeDeps — инфраструктура, собранная по Config.
type runtimeDeps struct {
	sales           domain.SaleRepository
	products        productStore
	parties         partyStore
	directory       *lookup.Directory
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository
	probes          map[string]healthcheck.Pinger
	closers         []func() error
}

func (d *runtimeDeps) addCloser(fn func() error) {
	d.closers = append(d.closers, fn)
}

// addProbe регистрирует хранилище для /healthz; без него сервис не готов.
func (d *runtimeDeps) addProbe(name string, pinger healthcheck.Pinger) {
	if d.probes == nil {
		d.probes = make(map[string]healthcheck.Pinger)
	}
	d.probes[name] = pinger
}

// close освобождает ресурсы в обратном порядке.
func (d *runtimeDeps) close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// initRuntimeDependencies создаёт хранилища: основное (memory или postgres) и,
// при необходимости, отдельные хранилища продаж и остатков.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (deps *runtimeDeps, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	deps = &runtimeDeps{}
	defer func() {
		if err != nil {
			_ = deps.close()
		}
	}()

	switch cfg.StorageDriver {
	case StorageDriverMemory:
		products := memory.NewProductStore()
		deps.sales = memory.NewSaleRepository()
		deps.products = products
		deps.parties = memory.NewDirectory()
		deps.outboxRepo = memory.NewOutboxRepository()
		deps.timelineRepo = memory.NewTimelineRepository()
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
		deps.addProbe("storage", products)
	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithMaxConns(cfg.PostgresMaxConns))
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		deps.addCloser(store.Close)
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		deps.sales = postgres.NewSaleRepository(store)
		deps.products = postgres.NewProductStore(store)
		deps.parties = postgres.NewDirectory(store)
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.timelineRepo = postgres.NewTimelineRepository(store)
		deps.idempotencyRepo = postgres.NewIdempotencyRepository(store)
		deps.addProbe("storage", store)
		logger.WithField("auto_migrate", cfg.PostgresAutoMigrate).Info("postgres storage initialized")
	}

	var fsClient *gcpfirestore.Client
	firestoreClient := func() (*gcpfirestore.Client, error) {
		if fsClient != nil {
			return fsClient, nil
		}
		client, err := gcpfirestore.NewClient(ctx, cfg.FirestoreProject)
		if err != nil {
			return nil, fmt.Errorf("firestore client (project=%s): %w", cfg.FirestoreProject, err)
		}
		fsClient = client
		deps.addCloser(client.Close)
		return client, nil
	}

	switch cfg.SaleStore {
	case SaleStoreSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		deps.addCloser(store.Close)
		deps.sales = sqlite.NewSaleRepository(store)
		deps.addProbe("sale-store", store)
		logger.WithField("path", cfg.SQLitePath).Info("sqlite sale store initialized")
	case SaleStoreFirestore:
		client, err := firestoreClient()
		if err != nil {
			return nil, err
		}
		deps.sales = firestore.NewSaleRepository(client)
		logger.WithField("project", cfg.FirestoreProject).Info("firestore sale store initialized")
	}

	switch cfg.StockStore {
	case StockStoreRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		deps.addCloser(client.Close)
		stock := redisstore.NewStockService(client)
		deps.products = stock
		deps.addProbe("stock-store", stock)
		logger.WithField("addr", cfg.RedisAddr).Info("redis stock store initialized")
	case StockStoreFirestore:
		client, err := firestoreClient()
		if err != nil {
			return nil, err
		}
		deps.products = firestore.NewStockService(client)
		logger.WithField("project", cfg.FirestoreProject).Info("firestore stock store initialized")
	}

	deps.directory = lookup.NewDirectory(deps.parties,
		lookup.WithTTL(cfg.LookupCacheTTL),
		lookup.WithLogger(logger.WithField("component", "lookup-cache")),
	)
	return deps, nil
}
