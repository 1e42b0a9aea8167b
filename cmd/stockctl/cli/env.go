package cli

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockflow/internal/app"
	"github.com/odyssey-erp/stockflow/internal/event"
	"github.com/odyssey-erp/stockflow/internal/importer"
	"github.com/odyssey-erp/stockflow/internal/inventory"
	"github.com/odyssey-erp/stockflow/internal/ledger"
	"github.com/odyssey-erp/stockflow/internal/platform/db"
	"github.com/odyssey-erp/stockflow/internal/platform/kafka"
	"github.com/odyssey-erp/stockflow/internal/stock"
	"github.com/odyssey-erp/stockflow/jobs"
)

// Importer runs file imports in-process.
type Importer interface {
	ImportFile(ctx context.Context, name string) (importer.Report, error)
	ImportDir(ctx context.Context, dir string) ([]importer.Report, error)
}

// Enqueuer hands imports to the worker.
type Enqueuer interface {
	EnqueueImportFile(ctx context.Context, path string) (*asynq.TaskInfo, error)
	EnqueueImportScan(ctx context.Context, dir string) (*asynq.TaskInfo, error)
}

// Reader answers stock and ledger queries.
type Reader interface {
	GetStock(ctx context.Context, key event.Key) (stock.Record, error)
	ListStock(ctx context.Context, filter stock.Filter) ([]stock.Record, error)
	GetEntry(ctx context.Context, id uuid.UUID) (ledger.Entry, error)
}

// Env opens the dependencies a command needs. Each opener returns a release
// func that must be called when the command is done.
type Env struct {
	Migrate  func(ctx context.Context) error
	Importer func(ctx context.Context) (Importer, func(), error)
	Enqueuer func(ctx context.Context) (Enqueuer, func(), error)
	Reader   func(ctx context.Context) (Reader, func(), error)
}

// DefaultEnv wires the commands against the configured infrastructure.
func DefaultEnv() *Env {
	return &Env{
		Migrate: func(ctx context.Context) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()
			return db.Migrate(ctx, pool)
		},
		Importer: func(ctx context.Context) (Importer, func(), error) {
			cfg, err := app.LoadConfig()
			if err != nil {
				return nil, nil, err
			}
			writer, err := kafka.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
			if err != nil {
				return nil, nil, err
			}
			logger := app.NewLogger(cfg)
			imp := importer.New(event.NewDecoder(cfg.FileSchema()), writer, nil, logger, importer.Config{
				InputDir:     cfg.ImportInputDir,
				FileSuffix:   cfg.ImportFileSuffix,
				Delimiter:    cfg.Delimiter(),
				PublishBatch: cfg.ImportPublishBatch,
				WireSchema:   cfg.Schema(),
			})
			return imp, func() {
				if err := writer.Close(); err != nil {
					logger.Warn("kafka writer close", slog.Any("error", err))
				}
			}, nil
		},
		Enqueuer: func(ctx context.Context) (Enqueuer, func(), error) {
			cfg, err := app.LoadConfig()
			if err != nil {
				return nil, nil, err
			}
			client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
			if err != nil {
				return nil, nil, err
			}
			return client, func() { _ = client.Close() }, nil
		},
		Reader: func(ctx context.Context) (Reader, func(), error) {
			cfg, err := app.LoadConfig()
			if err != nil {
				return nil, nil, err
			}
			pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
			if err != nil {
				return nil, nil, err
			}
			return inventory.NewRepository(pool), pool.Close, nil
		},
	}
}
