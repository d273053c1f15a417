// Command dlq-reprocess перечитывает dead letter topic и публикует события продаж обратно.
// По умолчанию работает в режиме dry run.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fail("invalid arguments: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := run(ctx, cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func run(ctx context.Context, cfg config) (replayStats, error) {
	log.WithFields(log.Fields{
		"brokers":      cfg.brokers,
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
		"from_newest":  cfg.fromNewest,
	}).Info("starting dlq replay")

	deps, err := connect(cfg)
	if err != nil {
		return replayStats{}, err
	}
	defer func() {
		if err := deps.close(); err != nil {
			log.WithError(err).Warn("close kafka connections")
		}
	}()

	return replay(ctx, cfg, deps)
}

func fail(format string, args ...any) {
	log.Errorf(format, args...)
	os.Exit(1)
}
