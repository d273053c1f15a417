package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/sales/internal/app"
)

const (
	envGRPCAddr                    = "SALES_GRPC_ADDR"
	envMetricsAddr                 = "SALES_METRICS_ADDR"
	envStorageDriver               = "SALES_STORAGE_DRIVER"
	envPostgresDSN                 = "SALES_POSTGRES_DSN"
	envPostgresAutoMigrate         = "SALES_POSTGRES_AUTO_MIGRATE"
	envPostgresMaxConns            = "SALES_POSTGRES_MAX_CONNS"
	envSaleStore                   = "SALES_SALE_STORE"
	envSQLitePath                  = "SALES_SQLITE_PATH"
	envFirestoreProject            = "SALES_FIRESTORE_PROJECT"
	envStockStore                  = "SALES_STOCK_STORE"
	envRedisAddr                   = "SALES_REDIS_ADDR"
	envEventBroker                 = "SALES_EVENT_BROKER"
	envKafkaBrokers                = "SALES_KAFKA_BROKERS"
	envKafkaTopic                  = "SALES_KAFKA_TOPIC"
	envKafkaConsumeEvents          = "SALES_KAFKA_CONSUME_EVENTS"
	envKafkaConsumerGroup          = "SALES_KAFKA_CONSUMER_GROUP"
	envRabbitMQURL                 = "SALES_RABBITMQ_URL"
	envRabbitMQExchange            = "SALES_RABBITMQ_EXCHANGE"
	envOutboxPollInterval          = "SALES_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "SALES_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "SALES_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "SALES_OUTBOX_RETRY_DELAY"
	envIdempotencyTTL              = "SALES_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "SALES_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "SALES_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envLookupCacheTTL              = "SALES_LOOKUP_CACHE_TTL"
	envStockMaxRetries             = "SALES_STOCK_MAX_RETRIES"
	envSeedDemoData                = "SALES_SEED_DEMO_DATA"
)

type envLookup func(key string) (string, bool)

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения не применяются и возвращаются как предупреждения.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	r := envReader{lookup: lookup}

	r.str(envGRPCAddr, &cfg.GRPCAddr)
	r.str(envMetricsAddr, &cfg.MetricsAddr)
	r.lower(envStorageDriver, &cfg.StorageDriver)
	r.str(envPostgresDSN, &cfg.PostgresDSN)
	r.boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	r.integer(envPostgresMaxConns, &cfg.PostgresMaxConns, positiveInt, "must be > 0")

	r.lower(envSaleStore, &cfg.SaleStore)
	r.str(envSQLitePath, &cfg.SQLitePath)
	r.str(envFirestoreProject, &cfg.FirestoreProject)
	r.lower(envStockStore, &cfg.StockStore)
	r.str(envRedisAddr, &cfg.RedisAddr)

	r.lower(envEventBroker, &cfg.EventBroker)
	r.str(envKafkaBrokers, &cfg.KafkaBrokers)
	r.str(envKafkaTopic, &cfg.KafkaTopic)
	r.boolean(envKafkaConsumeEvents, &cfg.KafkaConsumeEvents)
	r.str(envKafkaConsumerGroup, &cfg.KafkaConsumerGroup)
	r.str(envRabbitMQURL, &cfg.RabbitMQURL)
	r.str(envRabbitMQExchange, &cfg.RabbitMQExchange)

	r.duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	r.integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positiveInt, "must be > 0")
	r.integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positiveInt, "must be > 0")
	r.duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")

	r.duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")
	r.duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	r.integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positiveInt, "must be > 0")

	r.duration(envLookupCacheTTL, &cfg.LookupCacheTTL, nonNegativeDuration, "must be >= 0")
	r.integer(envStockMaxRetries, &cfg.StockMaxRetries, positiveInt, "must be > 0")
	r.boolean(envSeedDemoData, &cfg.SeedDemoData)

	return cfg, r.warnings
}

type envReader struct {
	lookup   envLookup
	warnings []string
}

func (r *envReader) value(key string) (string, bool) {
	raw, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

func (r *envReader) warn(key, raw string, err error) {
	r.warnings = append(r.warnings, fmt.Sprintf("%s=%q ignored: %v", key, raw, err))
}

func (r *envReader) str(key string, dst *string) {
	if raw, ok := r.value(key); ok {
		*dst = raw
	}
}

func (r *envReader) lower(key string, dst *string) {
	if raw, ok := r.value(key); ok {
		*dst = strings.ToLower(raw)
	}
}

func (r *envReader) boolean(key string, dst *bool) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	parsed, err := parseBool(raw)
	if err != nil {
		r.warn(key, raw, err)
		return
	}
	*dst = parsed
}

func (r *envReader) integer(key string, dst *int, valid func(int) bool, rule string) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	parsed, err := parseInt(raw, valid, rule)
	if err != nil {
		r.warn(key, raw, err)
		return
	}
	*dst = parsed
}

func (r *envReader) duration(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	parsed, err := parseDuration(raw, valid, rule)
	if err != nil {
		r.warn(key, raw, err)
		return
	}
	*dst = parsed
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("%d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("%s %s", value, rule)
	}
	return value, nil
}

func positiveInt(v int) bool                   { return v > 0 }
func positiveDuration(v time.Duration) bool    { return v > 0 }
func nonNegativeDuration(v time.Duration) bool { return v >= 0 }
