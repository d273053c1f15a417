package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
)

// Узкие интерфейсы над sarama, чтобы replay проверялся без брокера.
type (
	offsetClient interface {
		GetOffset(topic string, partition int32, time int64) (int64, error)
		Partitions(topic string) ([]int32, error)
		Close() error
	}

	partitionConsumer interface {
		Messages() <-chan *sarama.ConsumerMessage
		Errors() <-chan *sarama.ConsumerError
		Close() error
	}

	partitionSource interface {
		ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
		Close() error
	}

	replayProducer interface {
		Send(ctx context.Context, msg kafka.Message) error
		Close() error
	}
)

// consumerSource приводит sarama.Consumer к partitionSource.
type consumerSource struct {
	sarama.Consumer
}

func (s consumerSource) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	return s.Consumer.ConsumePartition(topic, partition, offset)
}

type replayDeps struct {
	client   offsetClient
	source   partitionSource
	producer replayProducer
}

// close закрывает в обратном порядке: producer, consumer, client.
func (d replayDeps) close() error {
	var errs []error
	if d.producer != nil {
		errs = append(errs, d.producer.Close())
	}
	if d.source != nil {
		errs = append(errs, d.source.Close())
	}
	if d.client != nil {
		errs = append(errs, d.client.Close())
	}
	return errors.Join(errs...)
}

// connect подключается к брокерам; producer нужен только с -execute.
var connect = func(cfg config) (replayDeps, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, saramaCfg)
	if err != nil {
		return replayDeps{}, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return replayDeps{}, fmt.Errorf("create kafka consumer: %w", err)
	}

	deps := replayDeps{client: client, source: consumerSource{consumer}}
	if cfg.execute {
		if deps.producer, err = kafka.NewProducer(cfg.brokers); err != nil {
			_ = deps.close()
			return replayDeps{}, fmt.Errorf("create kafka producer: %w", err)
		}
	}
	return deps, nil
}
