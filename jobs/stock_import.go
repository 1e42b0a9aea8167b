package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockflow/internal/importer"
	jobmetrics "github.com/odyssey-erp/stockflow/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// FileImporter is the slice of *importer.Importer the jobs rely on.
type FileImporter interface {
	ImportFile(ctx context.Context, name string) (importer.Report, error)
	ListFiles(dir string) ([]string, error)
}

// Enqueuer submits tasks. *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// StockImportJob runs file imports and directory scans.
type StockImportJob struct {
	Importer FileImporter
	Enqueuer Enqueuer
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewStockImportJob wires dependencies for the import handlers.
func NewStockImportJob(imp FileImporter, enqueuer Enqueuer, logger *slog.Logger, metrics *jobmetrics.Metrics) *StockImportJob {
	return &StockImportJob{Importer: imp, Enqueuer: enqueuer, Logger: logger, Metrics: metrics}
}

// HandleFile processes TaskStockImportFile tasks. Missing or unreadable
// files are not retried; publish failures are.
func (j *StockImportJob) HandleFile(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Importer == nil {
		return errors.New("stock import: handler not configured")
	}
	var payload ImportFilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || strings.TrimSpace(payload.Path) == "" {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskStockImportFile)
	logger := j.logger(TaskStockImportFile).With(slog.String("path", payload.Path))

	report, err := j.Importer.ImportFile(ctx, payload.Path)
	if err != nil {
		logger.Error("import file", slog.Int("published", report.Published), slog.Any("error", err))
		err = tracker.End(err)
		if errors.Is(err, importer.ErrFileNotFound) || errors.Is(err, importer.ErrUnreadableFile) {
			return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
		}
		return err
	}
	logger.Info("imported file",
		slog.Int("published", report.Published),
		slog.Int("rejected", len(report.Rejected)))
	return tracker.End(nil)
}

// HandleScan processes TaskStockImportScan tasks.
func (j *StockImportJob) HandleScan(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Importer == nil || j.Enqueuer == nil {
		return errors.New("stock import scan: handler not configured")
	}
	var payload ImportScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(TaskStockImportScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger(TaskStockImportScan).With(slog.String("dir", payload.Dir))
	files, err := j.Importer.ListFiles(payload.Dir)
	if err != nil {
		resultErr = err
		logger.Error("list import files", slog.Any("error", err))
		return resultErr
	}

	enqueued := 0
	for _, file := range files {
		task, err := NewImportFileTask(file)
		if err != nil {
			resultErr = err
			return resultErr
		}
		if _, err := j.Enqueuer.EnqueueContext(ctx, task); err != nil {
			if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
				logger.Debug("import already queued", slog.String("file", file))
				continue
			}
			resultErr = err
			logger.Error("enqueue import", slog.String("file", file), slog.Any("error", err))
			j.metrics().AddEnqueued(TaskStockImportScan, enqueued)
			return resultErr
		}
		enqueued++
	}
	j.metrics().AddEnqueued(TaskStockImportScan, enqueued)
	logger.Info("scan complete", slog.Int("files", len(files)), slog.Int("enqueued", enqueued))
	return resultErr
}

func (j *StockImportJob) logger(job string) *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}

func (j *StockImportJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
