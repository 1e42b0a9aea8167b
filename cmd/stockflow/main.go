package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stockflow/internal/app"
	"github.com/odyssey-erp/stockflow/internal/event"
	"github.com/odyssey-erp/stockflow/internal/ingest"
	"github.com/odyssey-erp/stockflow/internal/inventory"
	"github.com/odyssey-erp/stockflow/internal/observability"
	"github.com/odyssey-erp/stockflow/internal/platform/cache"
	"github.com/odyssey-erp/stockflow/internal/platform/db"
	"github.com/odyssey-erp/stockflow/internal/platform/kafka"
	"github.com/odyssey-erp/stockflow/internal/platform/tracing"
	"github.com/odyssey-erp/stockflow/internal/stock"
	"github.com/odyssey-erp/stockflow/jobs"
)

// version is set at build time.
var version = "dev"

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		ServiceName:    "stockflow",
		ServiceVersion: version,
		Endpoint:       cfg.OTELEndpoint,
		URLPath:        cfg.OTELURLPath,
		Insecure:       cfg.OTELInsecure,
		SampleRatio:    cfg.OTELSampleRatio,
	})
	if err != nil {
		logger.Error("setup tracing", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown", slog.Any("error", err))
		}
	}()

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.DBMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if cfg.DBAutoMigrate {
		if err := db.Migrate(ctx, dbpool); err != nil {
			logger.Error("migrate schema", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("schema migrated")
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	stockCache := stock.NewCache(redisClient, cfg.StockCacheTTL)
	repo := inventory.NewRepository(dbpool)
	decoder := event.NewDecoder(cfg.Schema())
	engine := inventory.NewEngine(repo, decoder, stockCache, logger, inventory.EngineConfig{
		EventTimeout: cfg.EngineEventTimeout,
	})

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		InventoryHandler: inventory.NewHandler(logger, repo, stockCache),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
		Ready: func(r *http.Request) error {
			return dbpool.Ping(r.Context())
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.IngestEnabled {
		reader, err := kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
			MaxWait: cfg.KafkaMaxWait,
		})
		if err != nil {
			logger.Error("kafka reader", slog.Any("error", err))
			os.Exit(1)
		}
		loop := ingest.NewLoop(reader, engine, decoder.KeyOf, metrics, logger, ingest.Config{
			BatchSize:       cfg.IngestBatchSize,
			BatchWait:       cfg.IngestBatchWait,
			Lanes:           cfg.IngestLanes,
			RetryInitial:    cfg.IngestRetryInitial,
			RetryMax:        cfg.IngestRetryMax,
			RetryMaxElapsed: cfg.IngestRetryMaxElapsed,
		})
		group.Go(func() error {
			defer func() {
				if err := loop.Close(); err != nil {
					logger.Warn("kafka reader close", slog.Any("error", err))
				}
			}()
			err := loop.Run(groupCtx)
			stats := loop.Stats().Snapshot()
			logger.Info("ingestion stopped",
				slog.Int64("received", stats.Received),
				slog.Int64("applied", stats.Applied),
				slog.Int64("initialized", stats.Initialized),
				slog.Int64("skipped", stats.Skipped),
				slog.Int64("rejected", stats.Rejected),
				slog.Int64("failed", stats.Failed))
			return err
		})
	}

	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("stockflow stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
