package app

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Драйверы основного хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Альтернативные хранилища продаж. Default означает основное хранилище.
const (
	SaleStoreDefault   = "default"
	SaleStoreSQLite    = "sqlite"
	SaleStoreFirestore = "firestore"
)

// Альтернативные сервисы остатков.
const (
	StockStoreDefault   = "default"
	StockStoreRedis     = "redis"
	StockStoreFirestore = "firestore"
)

// Брокеры, в которые outbox worker публикует события.
const (
	EventBrokerNone     = "none"
	EventBrokerKafka    = "kafka"
	EventBrokerRabbitMQ = "rabbitmq"
)

// Config описывает настройки запуска приложения.
type Config struct {
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	PostgresMaxConns    int

	SaleStore        string
	SQLitePath       string
	FirestoreProject string
	StockStore       string
	RedisAddr        string

	EventBroker        string
	KafkaBrokers       string
	KafkaTopic         string
	KafkaConsumeEvents bool
	KafkaConsumerGroup string
	RabbitMQURL        string
	RabbitMQExchange   string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	LookupCacheTTL  time.Duration
	StockMaxRetries int
	SeedDemoData    bool
}

// DefaultConfig возвращает конфигурацию для локального запуска в памяти.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:                    ":50051",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		PostgresMaxConns:            25,
		SaleStore:                   SaleStoreDefault,
		SQLitePath:                  "sales.db",
		StockStore:                  StockStoreDefault,
		RedisAddr:                   "localhost:6379",
		EventBroker:                 EventBrokerNone,
		KafkaTopic:                  "sales.events",
		KafkaConsumerGroup:          "sales-history",
		RabbitMQExchange:            "sales.events",
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            50 * time.Millisecond,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
		LookupCacheTTL:              time.Minute,
		StockMaxRetries:             5,
		SeedDemoData:                true,
	}
}

// Validate проверяет сочетания параметров, которые нельзя исправить значением по умолчанию.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres storage requires SALES_POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch c.SaleStore {
	case "", SaleStoreDefault:
	case SaleStoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			errs = append(errs, errors.New("sqlite sale store requires SALES_SQLITE_PATH"))
		}
	case SaleStoreFirestore:
		if strings.TrimSpace(c.FirestoreProject) == "" {
			errs = append(errs, errors.New("firestore sale store requires SALES_FIRESTORE_PROJECT"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported sale store %q", c.SaleStore))
	}

	switch c.StockStore {
	case "", StockStoreDefault:
	case StockStoreRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, errors.New("redis stock store requires SALES_REDIS_ADDR"))
		}
	case StockStoreFirestore:
		if strings.TrimSpace(c.FirestoreProject) == "" {
			errs = append(errs, errors.New("firestore stock store requires SALES_FIRESTORE_PROJECT"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported stock store %q", c.StockStore))
	}

	switch c.EventBroker {
	case "", EventBrokerNone:
		if c.KafkaConsumeEvents {
			errs = append(errs, errors.New("kafka consumer requires SALES_EVENT_BROKER=kafka"))
		}
	case EventBrokerKafka:
		if len(c.kafkaBrokerList()) == 0 {
			errs = append(errs, errors.New("kafka broker requires SALES_KAFKA_BROKERS"))
		}
	case EventBrokerRabbitMQ:
		if strings.TrimSpace(c.RabbitMQURL) == "" {
			errs = append(errs, errors.New("rabbitmq broker requires SALES_RABBITMQ_URL"))
		}
		if c.KafkaConsumeEvents {
			errs = append(errs, errors.New("kafka consumer requires SALES_EVENT_BROKER=kafka"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported event broker %q", c.EventBroker))
	}

	return errors.Join(errs...)
}

func (c Config) kafkaBrokerList() []string {
	var brokers []string
	for _, broker := range strings.Split(c.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}
