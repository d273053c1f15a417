package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	salesv1 "github.com/vladislavdragonenkov/sales/api/sales/v1"
	healthcheck "github.com/vladislavdragonenkov/sales/internal/health"
	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/sales/internal/service/grpc"
	"github.com/vladislavdragonenkov/sales/internal/service/history"
	"github.com/vladislavdragonenkov/sales/internal/service/idempotency"
	"github.com/vladislavdragonenkov/sales/internal/service/outbox"
	"github.com/vladislavdragonenkov/sales/internal/service/sales"
	"github.com/vladislavdragonenkov/sales/internal/version"
)

const gracefulStopTimeout = 5 * time.Second

// Run поднимает хранилища, брокер, gRPC и HTTP-серверы и фоновые воркеры.
// Возвращает ctx.Err() после штатной остановки.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	if cfg.SeedDemoData {
		if err := seedDemoData(ctx, deps.products, deps.parties, logger); err != nil {
			return err
		}
	}

	events, err := initEventRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer events.close(logger)

	salesService := newSalesService(cfg, deps, logger)
	rpcService := grpcsvc.NewSalesService(salesService, deps.idempotencyRepo, cfg.IdempotencyTTL, logger.WithField("layer", "grpc"))

	grpcServer, grpcMetrics := newGRPCServer(logger)
	salesv1.RegisterSalesServiceServer(grpcServer, rpcService)
	grpcMetrics.InitializeMetrics(grpcServer)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(salesv1.SalesService_ServiceDesc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	healthHandler := healthcheck.NewHandler(version.Version())
	for name, pinger := range deps.probes {
		healthHandler.Register(name, pinger)
	}
	if events.probe != nil {
		healthHandler.RegisterOptional("event-broker", events.probe)
	}

	var consumer *kafka.SaleEventConsumer
	if cfg.KafkaConsumeEvents {
		projector := history.NewProjector(deps.timelineRepo, logger.WithField("component", "history-projector"))
		consumer, err = kafka.NewSaleEventConsumer(cfg.kafkaBrokerList(), cfg.KafkaConsumerGroup, cfg.KafkaTopic, projector.Handle,
			kafka.WithDeadLetters(events.producer),
			kafka.WithConsumerLogger(logger.WithField("component", "sale-event-consumer")),
		)
		if err != nil {
			return err
		}
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	metricsSrv := startMetricsServer(groupCtx, cfg.MetricsAddr, logger, healthHandler)

	group.Go(func() error {
		logger.Infof("gRPC сервер слушает %s", lis.Addr())
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("получен сигнал остановки, останавливаем gRPC сервер")
		healthServer.Shutdown()
		stopGRPCServer(grpcServer, logger)
		shutdownHTTP(metricsSrv, logger)
		return nil
	})

	worker := outbox.NewWorker(deps.outboxRepo, events.publisher,
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithMetrics(metrics.NewSalesMetrics()),
		outbox.WithDLQPublisher(events.dlqPublisher),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
	group.Go(func() error {
		worker.Run(groupCtx)
		return nil
	})

	cleanup := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		idempotency.WithMetrics(metrics.NewSalesMetrics()),
	)
	group.Go(func() error {
		cleanup.Run(groupCtx)
		return nil
	})

	if consumer != nil {
		group.Go(func() error {
			if err := consumer.Start(groupCtx); err != nil {
				return err
			}
			<-groupCtx.Done()
			return consumer.Stop()
		})
	}

	logger.WithFields(version.Fields()).Info("sales service started")
	err = group.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// newSalesService собирает workflow продаж. При включённом consumer историю пишет
// projector из событий брокера, сервис её только читает.
func newSalesService(cfg Config, deps *runtimeDeps, logger *log.Entry) *sales.Service {
	retry := sales.DefaultRetryConfig()
	retry.MaxAttempts = cfg.StockMaxRetries

	opts := []sales.Option{
		sales.WithMetrics(metrics.NewSalesMetrics()),
		sales.WithRetryConfig(retry),
	}
	if cfg.KafkaConsumeEvents {
		opts = append(opts, sales.WithProjectedTimeline(deps.timelineRepo))
	} else {
		opts = append(opts, sales.WithTimeline(deps.timelineRepo))
	}

	return sales.NewService(
		deps.sales,
		deps.products,
		deps.directory,
		deps.directory,
		outbox.NewSink(deps.outboxRepo, logger.WithField("component", "outbox-sink")),
		logger.WithField("component", "sales-service"),
		opts...,
	)
}

// newGRPCServer создаёт сервер с JSON-кодеком по умолчанию и интерсепторами метрик.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *promgrpc.ServerMetrics) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	return server, grpcMetrics
}

// stopGRPCServer ждёт завершения активных вызовов не дольше gracefulStopTimeout.
func stopGRPCServer(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(gracefulStopTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// startMetricsServer запускает HTTP-обработчики /metrics, /healthz, /readyz и /livez.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.Ready)
	mux.HandleFunc("/livez", healthcheck.Live)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
