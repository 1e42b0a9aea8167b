package jobs

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStockImportFile imports one CSV movement file onto the bus.
	TaskStockImportFile = "stock:import_file"
	// TaskStockImportScan enqueues an import task per file in a directory.
	TaskStockImportScan = "stock:import_scan"
)

var errEmptyPath = errors.New("jobs: import path is empty")

// ImportFilePayload names the file to import.
type ImportFilePayload struct {
	Path string `json:"path"`
}

// ImportScanPayload names the directory to scan. Empty means the configured input dir.
type ImportScanPayload struct {
	Dir string `json:"dir,omitempty"`
}

// NewImportFileTask constructs an Asynq task for a single file. The task id
// is derived from the path so a file is queued at most once at a time.
func NewImportFileTask(path string) (*asynq.Task, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errEmptyPath
	}
	body, err := json.Marshal(ImportFilePayload{Path: path})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockImportFile, body,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(5),
		asynq.TaskID(TaskStockImportFile+":"+path),
	), nil
}

// NewImportScanTask constructs an Asynq task that scans dir.
func NewImportScanTask(dir string) (*asynq.Task, error) {
	body, err := json.Marshal(ImportScanPayload{Dir: strings.TrimSpace(dir)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockImportScan, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}
