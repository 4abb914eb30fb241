package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stock-service/config"
	"stock-service/internal/cleanup"
	"stock-service/internal/events"
	"stock-service/internal/notifier"
	"stock-service/internal/pkg/database"
	"stock-service/internal/pkg/logger"
	"stock-service/internal/pkg/tracing"
	"stock-service/internal/repository"
	"stock-service/internal/service"
	gtransport "stock-service/internal/transport/grpc"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"gorm.io/gorm"
)

func main() {
	_ = godotenv.Load()
	isDev := os.Getenv("ENV") == "development"
	if err := logger.Init(isDev); err != nil {
		panic(err)
	}

	defer logger.Sync()

	log := logger.L()

	cfg := config.Load(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{Endpoint: cfg.Otel.Endpoint, Insecure: cfg.Otel.Insecure}, log)
	if err != nil {
		log.Error("failed to set up tracing", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	db := database.ConnectDB(&cfg.DB.Config, log)
	defer database.CloseDB(db, log)

	repos, err := newRepository(db, cfg, log)
	if err != nil {
		log.Fatal("invalid database settings", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	thresholds, closeNotifiers := newThresholdNotifier(ctx, cfg, log)
	defer closeNotifiers()

	svc := service.NewStockService(repos, service.Options{
		ReservationTTL:    cfg.Stock.ReservationTTL,
		CriticalThreshold: cfg.Stock.CriticalThreshold,
		MaxAttempts:       cfg.Stock.TxAttempts,
		AllowUnlocked:     cfg.Stock.AllowUnlocked,
	}, log,
		service.WithNotifier(thresholds),
		service.WithEventSink(events.Fanout{events.NewZapSink(log), events.NewMetricsSink(reg)}),
	)

	lis, err := net.Listen("tcp", cfg.Port)
	if err != nil {
		log.Fatal("failed to listen", zap.Error(err))
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			gtransport.NewLoggingUnaryServerInterceptor(log),
			gtransport.NewActorUnaryServerInterceptor(),
		),
	)

	// Health server
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(grpcServer, healthSrv)

	if isDev {
		reflection.Register(grpcServer)
	}

	gtransport.RegisterStockServiceServer(grpcServer, gtransport.NewHandler(svc))

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var scheduler *cleanup.Scheduler
	if cfg.Cleanup.Enabled {
		sweeper := cleanup.NewReservationCleanup(repos, cfg.Cleanup.BatchSize, log)
		if err := sweeper.Register(reg); err != nil {
			log.Warn("failed to register sweeper metrics", zap.Error(err))
		}
		scheduler = cleanup.NewScheduler(sweeper, cfg.Cleanup.Interval, log)
		scheduler.Start(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Starting Stock gRPC server", zap.String("addr", cfg.Port))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		log.Info("Starting metrics server", zap.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down Stock gRPC server...")
		healthSrv.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		if scheduler != nil {
			scheduler.Stop()
		}
		grpcServer.GracefulStop()

		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", zap.Error(err))
		return
	}
	log.Info("Stock gRPC server stopped gracefully")
}

func newRepository(db *gorm.DB, cfg *config.Config, log *zap.Logger) (*repository.Repository, error) {
	isolation, err := repository.ParseIsolation(cfg.DB.Isolation)
	if err != nil {
		return nil, err
	}
	return repository.NewWithOptions(db, repository.Options{
		Isolation: isolation,
		Locker:    repository.LockerFor(db.Dialector.Name(), cfg.DB.RowLock, log),
	}), nil
}

// newThresholdNotifier: лог всегда, Kafka при заданных брокерах, окно подавления повторов в Redis.
func newThresholdNotifier(ctx context.Context, cfg *config.Config, log *zap.Logger) (notifier.ThresholdNotifier, func()) {
	var closers []func()
	chain := notifier.Multi{notifier.NewLogNotifier(log)}

	if len(cfg.Kafka.Brokers) > 0 {
		kn := notifier.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.TopicLowStock)
		chain = append(chain, kn)
		closers = append(closers, func() {
			if err := kn.Close(); err != nil {
				log.Warn("kafka writer close", zap.Error(err))
			}
		})
		log.Info("low-stock alerts go to kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.TopicLowStock))
	}

	var out notifier.ThresholdNotifier = chain
	if cfg.Redis.Enabled {
		rdb, err := notifier.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			log.Warn("redis unavailable, low-stock alerts are not deduplicated", zap.Error(err))
		} else {
			out = notifier.NewDedupNotifier(chain, rdb, cfg.Redis.DedupWindow, log)
			closers = append(closers, func() { _ = rdb.Close() })
		}
	}

	return out, func() {
		for _, c := range closers {
			c()
		}
	}
}
