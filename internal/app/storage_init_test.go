package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"

	redisstore "github.com/vladislavdragonenkov/sales/internal/storage/redis"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), DefaultConfig(), log.WithField("test", "memory-storage"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies(memory) failed: %v", err)
	}
	defer func() { _ = deps.close() }()

	if deps.sales == nil || deps.products == nil || deps.parties == nil || deps.directory == nil {
		t.Fatalf("domain stores should be initialized: %+v", deps)
	}
	if deps.outboxRepo == nil || deps.timelineRepo == nil || deps.idempotencyRepo == nil {
		t.Fatalf("supporting repositories should be initialized: %+v", deps)
	}

	probe, ok := deps.probes["storage"]
	if !ok {
		t.Fatal("expected storage probe")
	}
	if err := probe.Ping(context.Background()); err != nil {
		t.Fatalf("expected reachable memory storage, got %v", err)
	}
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres

	_, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "postgres-missing-dsn"))
	if err == nil {
		t.Fatal("expected error when postgres driver is selected without DSN")
	}
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.StorageDriver = "sqlite"

	_, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "unsupported-driver"))
	if err == nil {
		t.Fatal("expected error for unsupported storage driver")
	}
}

func TestInitRuntimeDependencies_SQLiteSaleStore(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SaleStore = SaleStoreSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "sales.db")

	deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "sqlite-sale-store"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies(sqlite) failed: %v", err)
	}
	defer func() { _ = deps.close() }()

	probe, ok := deps.probes["sale-store"]
	if !ok {
		t.Fatal("expected sale-store probe")
	}
	if err := probe.Ping(context.Background()); err != nil {
		t.Fatalf("expected reachable sqlite store, got %v", err)
	}

	_, total, err := deps.sales.List(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("list on fresh sqlite store failed: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected empty store, got total=%d", total)
	}
}

func TestInitRuntimeDependencies_RedisStockStore(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.StockStore = StockStoreRedis
	cfg.RedisAddr = "127.0.0.1:1"

	deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "redis-stock-store"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies(redis) failed: %v", err)
	}
	defer func() { _ = deps.close() }()

	if _, ok := deps.products.(*redisstore.StockService); !ok {
		t.Fatalf("expected redis stock service, got %T", deps.products)
	}
	if _, ok := deps.probes["stock-store"]; !ok {
		t.Fatal("expected stock-store probe")
	}
}

func TestRuntimeDeps_CloseReverseOrder(t *testing.T) {
	t.Parallel()

	var order []int
	errFirst := errors.New("first")
	deps := &runtimeDeps{}
	deps.addCloser(func() error { order = append(order, 1); return errFirst })
	deps.addCloser(func() error { order = append(order, 2); return nil })

	err := deps.close()
	if !errors.Is(err, errFirst) {
		t.Fatalf("expected joined close error, got %v", err)
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("expected reverse close order, got %v", order)
	}
	if err := deps.close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}

func TestSeedDemoData(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	deps, err := initRuntimeDependencies(ctx, DefaultConfig(), log.WithField("test", "seed"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies failed: %v", err)
	}
	defer func() { _ = deps.close() }()

	if err := seedDemoData(ctx, deps.products, deps.parties, log.WithField("test", "seed")); err != nil {
		t.Fatalf("seedDemoData failed: %v", err)
	}

	product, err := deps.products.GetProduct(ctx, "prod-coffee")
	if err != nil {
		t.Fatalf("seeded product not found: %v", err)
	}
	if product.Stock != 500 || product.Price.String() != "18.5" {
		t.Fatalf("unexpected seeded product: %+v", product)
	}

	customer, err := deps.directory.GetCustomer(ctx, "cust-alice")
	if err != nil || customer.Name != "Alice Martin" {
		t.Fatalf("unexpected seeded customer: %+v, err=%v", customer, err)
	}
	branch, err := deps.directory.GetBranch(ctx, "branch-airport")
	if err != nil || branch.Name != "Airport" {
		t.Fatalf("unexpected seeded branch: %+v, err=%v", branch, err)
	}
}
