package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	envKafkaBrokers    = "SALES_KAFKA_BROKERS"
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
	// eventTypes — фильтр -event-type; nil пропускает всё
	eventTypes map[string]bool
}

func (c config) accepts(eventType string) bool {
	return len(c.eventTypes) == 0 || c.eventTypes[eventType]
}

// parseConfig разбирает флаги; брокеры без -brokers берутся из SALES_KAFKA_BROKERS.
func parseConfig(args []string, getenv func(string) string) (config, error) {
	cfg := config{
		sourceTopic: kafka.TopicDeadLetterQueue,
		targetTopic: kafka.TopicSaleEvents,
		limit:       defaultReplayLimit,
		idleTimeout: defaultIdleTimeout,
	}

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Func("brokers", "comma-separated Kafka brokers (default $"+envKafkaBrokers+")", func(v string) error {
		cfg.brokers = splitList(v)
		return nil
	})
	fs.StringVar(&cfg.sourceTopic, "source-topic", cfg.sourceTopic, "dead letter topic to read")
	fs.StringVar(&cfg.targetTopic, "target-topic", cfg.targetTopic, "topic to publish replayed events to")
	fs.IntVar(&cfg.limit, "limit", cfg.limit, "max messages to scan")
	fs.BoolVar(&cfg.execute, "execute", false, "publish; without it the run is a dry run")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan the newest messages of each partition")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", cfg.idleTimeout, "stop a partition after this long without messages")
	fs.Func("event-type", "replay only these event types, comma-separated (e.g. SaleCancelled)", func(v string) error {
		cfg.eventTypes = make(map[string]bool)
		for _, eventType := range splitList(v) {
			cfg.eventTypes[eventType] = true
		}
		return nil
	})
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if cfg.brokers == nil {
		cfg.brokers = splitList(getenv(envKafkaBrokers))
	}
	cfg.sourceTopic = strings.TrimSpace(cfg.sourceTopic)
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)
	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}
	check(len(c.brokers) > 0, fmt.Sprintf("kafka brokers are required (-brokers or %s)", envKafkaBrokers))
	check(c.sourceTopic != "", "source-topic is required")
	check(c.targetTopic != "", "target-topic is required")
	check(c.limit > 0, "limit must be > 0")
	check(c.idleTimeout > 0, "idle-timeout must be > 0")
	return errors.Join(errs...)
}

func splitList(raw string) []string {
	var items []string
	for _, chunk := range strings.Split(raw, ",") {
		if item := strings.TrimSpace(chunk); item != "" {
			items = append(items, item)
		}
	}
	return items
}
