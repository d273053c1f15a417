package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
)

const replayedFromHeader = "x-replayed-from"

type replayStats struct {
	scanned  int
	replayed int
	skipped  int
	filtered int
}

func (s *replayStats) add(other replayStats) {
	s.scanned += other.scanned
	s.replayed += other.replayed
	s.skipped += other.skipped
	s.filtered += other.filtered
}

// replay обходит партиции DLQ по возрастанию номера, пока не просмотрит cfg.limit сообщений.
func replay(ctx context.Context, cfg config, deps replayDeps) (replayStats, error) {
	var total replayStats
	if deps.client == nil || deps.source == nil {
		return total, errors.New("kafka client and consumer are required")
	}
	if cfg.execute && deps.producer == nil {
		return total, errors.New("producer is required in execute mode")
	}

	partitions, err := deps.client.Partitions(cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", cfg.sourceTopic).Warn("source topic has no partitions")
		return total, nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		remaining := cfg.limit - total.scanned
		if remaining <= 0 {
			break
		}
		stats, err := replayPartition(ctx, cfg, deps, partition, remaining)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":     mode,
		"scanned":  total.scanned,
		"replayed": total.replayed,
		"skipped":  total.skipped,
		"filtered": total.filtered,
	}).Info("dlq replay finished")
	return total, nil
}

// replayPartition читает партицию от начала (или последние limit сообщений при -from-newest)
// до high watermark на момент запуска.
func replayPartition(ctx context.Context, cfg config, deps replayDeps, partition int32, limit int) (replayStats, error) {
	var stats replayStats

	oldest, err := deps.client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := deps.client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	start := oldest
	if cfg.fromNewest {
		start = max(newest-int64(limit), oldest)
	}

	pc, err := deps.source.ConsumePartition(cfg.sourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	logger := log.WithFields(log.Fields{"topic": cfg.sourceTopic, "partition": partition})
	idle := time.NewTimer(cfg.idleTimeout)
	defer idle.Stop()

	for stats.scanned < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			logger.Debug("partition idle, moving on")
			return stats, nil
		case consumerErr := <-pc.Errors():
			if consumerErr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, consumerErr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(cfg.idleTimeout)

			stats.scanned++
			if err := handleMessage(ctx, cfg, deps.producer, msg, &stats, logger); err != nil {
				return stats, err
			}
			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}
	return stats, nil
}

func handleMessage(ctx context.Context, cfg config, producer replayProducer, msg *sarama.ConsumerMessage, stats *replayStats, logger *log.Entry) error {
	fields := log.Fields{"offset": msg.Offset}

	candidate, err := decodeDeadLetter(msg, cfg.targetTopic)
	if err != nil {
		stats.skipped++
		logger.WithError(err).WithFields(fields).Warn("skip unsupported dlq message")
		return nil
	}
	if !cfg.accepts(candidate.eventType) {
		stats.filtered++
		return nil
	}

	fields["target_topic"] = candidate.topic
	fields["key"] = candidate.key
	fields["event_type"] = candidate.eventType
	if !cfg.execute {
		stats.replayed++
		logger.WithFields(fields).Info("dlq replay candidate")
		return nil
	}

	headers := map[string]string{replayedFromHeader: fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)}
	if candidate.eventType != "" {
		headers[kafka.HeaderEventType] = candidate.eventType
	}
	if candidate.attempts > 0 {
		headers[kafka.HeaderRetryCount] = strconv.Itoa(candidate.attempts)
	}
	err = producer.Send(ctx, kafka.Message{
		Topic:   candidate.topic,
		Key:     candidate.key,
		Value:   candidate.value,
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("publish replay message: %w", err)
	}
	stats.replayed++
	logger.WithFields(fields).Info("dlq message replayed")
	return nil
}
