package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockflow/internal/app"
	"github.com/odyssey-erp/stockflow/internal/event"
	"github.com/odyssey-erp/stockflow/internal/importer"
	"github.com/odyssey-erp/stockflow/internal/observability"
	"github.com/odyssey-erp/stockflow/internal/platform/kafka"
	"github.com/odyssey-erp/stockflow/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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
	metrics := observability.NewMetrics()

	writer, err := kafka.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		logger.Error("kafka writer", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Warn("kafka writer close", slog.Any("error", err))
		}
	}()

	imp := importer.New(event.NewDecoder(cfg.FileSchema()), writer, metrics, logger, importer.Config{
		InputDir:     cfg.ImportInputDir,
		FileSuffix:   cfg.ImportFileSuffix,
		Delimiter:    cfg.Delimiter(),
		PublishBatch: cfg.ImportPublishBatch,
		WireSchema:   cfg.Schema(),
	})

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	client, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	importJob := jobs.NewStockImportJob(imp, client, logger, metrics.Jobs())

	scanTask, err := jobs.NewImportScanTask(cfg.ImportInputDir)
	if err != nil {
		logger.Error("build scan task", slog.Any("error", err))
		os.Exit(1)
	}
	var cron []jobs.CronRegistration
	if cfg.ImportScanCron != "" {
		cron = append(cron, jobs.CronRegistration{Spec: cfg.ImportScanCron, Task: scanTask})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskStockImportFile, Handler: importJob.HandleFile},
			{Type: jobs.TaskStockImportScan, Handler: importJob.HandleScan},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
