package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// Интеграционные тесты идут только при заданном SALES_TEST_POSTGRES_DSN.
const testDSNEnv = "SALES_TEST_POSTGRES_DSN"

// testTables очищаются перед каждым тестом; порядок не важен благодаря CASCADE.
var testTables = []string{
	"idempotency_keys",
	"outbox_messages",
	"timeline_events",
	"sale_items",
	"sales",
	"products",
	"customers",
	"branches",
}

// rawStore подключается без миграций; тест пропускается, если базы нет.
func rawStore(t *testing.T) *Store {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv(testDSNEnv))
	if dsn == "" {
		t.Skipf("%s is not set", testDSNEnv)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := Open(ctx, dsn, WithMaxConns(4), WithConnLifetime(time.Minute, 10*time.Second))
	if err != nil {
		t.Skipf("postgres is unreachable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// migratedStore возвращает store с актуальной схемой и пустыми таблицами.
func migratedStore(t *testing.T) *Store {
	t.Helper()

	store := rawStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	query := "TRUNCATE TABLE " + strings.Join(testTables, ", ") + " RESTART IDENTITY CASCADE"
	if _, err := store.DB().ExecContext(ctx, query); err != nil {
		t.Fatalf("truncate %v: %v", testTables, err)
	}
	return store
}
