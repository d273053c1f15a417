// Command loadtest нагружает SalesService сценариями продаж и печатает сводку
// по сценариям и методам.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	salesv1 "github.com/vladislavdragonenkov/sales/api/sales/v1"
)

var errScenariosFailed = errors.New("scenarios failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
	case errors.Is(err, errScenariosFailed):
		os.Exit(1)
	default:
		log.WithError(err).Error("loadtest failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := parseConfig(args, stderr)
	if err != nil {
		return err
	}

	clients := make([]salesv1.SalesServiceClient, 0, cfg.connections)
	for range cfg.connections {
		conn, err := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("dial %s: %w", cfg.addr, err)
		}
		defer conn.Close()
		clients = append(clients, salesv1.NewSalesServiceClient(conn))
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	rec := newRecorder()
	runWorkers(ctx, clients, cfg, runID, rec)

	result := rec.report(startedAt, time.Since(startedAt))
	writeText(stdout, result, cfg)
	if cfg.output != "" {
		if err := writeJSON(cfg.output, result); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	if result.FailedScenarios > 0 {
		return fmt.Errorf("%w: %d of %d", errScenariosFailed, result.FailedScenarios, result.TotalScenarios)
	}
	return nil
}

// runWorkers держит в работе до cfg.concurrency сценариев и возвращает число неудачных.
// Новые сценарии перестают запускаться по истечении duration или отмене ctx, начатые
// доводятся до конца.
func runWorkers(ctx context.Context, clients []salesv1.SalesServiceClient, cfg config, runID string, rec *recorder) int64 {
	dispatch := ctx
	limit := cfg.total
	if cfg.duration > 0 {
		var cancel context.CancelFunc
		dispatch, cancel = context.WithTimeout(ctx, cfg.duration)
		defer cancel()
		if !cfg.totalSet {
			limit = math.MaxInt
		}
	}

	var (
		failed atomic.Int64
		group  errgroup.Group
	)
	group.SetLimit(cfg.concurrency)
	for i := 0; i < limit && dispatch.Err() == nil; i++ {
		client := clients[i%len(clients)]
		group.Go(func() error {
			if err := runScenario(context.WithoutCancel(ctx), client, cfg, runID, i, rec); err != nil {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = group.Wait()
	return failed.Load()
}
