// Package importer turns CSV movement files into events on the bus, using
// the same validation rules as the live consumer.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/odyssey-erp/stockflow/internal/event"
	"github.com/odyssey-erp/stockflow/internal/platform/kafka"
)

var (
	// ErrFileNotFound indicates the import path does not name a regular file.
	ErrFileNotFound = errors.New("importer: file not found")
	// ErrUnreadableFile indicates the file is not valid UTF-8 CSV.
	ErrUnreadableFile = errors.New("importer: cannot process file")
	// ErrPublish indicates the bus rejected a write; the file was aborted.
	ErrPublish = errors.New("importer: publish failed")
)

// Publisher writes messages to the bus. *kafka.Writer satisfies it.
type Publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// Recorder receives per-file row counts. *observability.Metrics satisfies it.
type Recorder interface {
	ObserveImport(published, rejected int)
}

// Config controls where files are read from and how they are parsed.
type Config struct {
	InputDir     string
	FileSuffix   string
	Delimiter    rune
	PublishBatch int
	// WireSchema is the schema messages are published in. Zero means the
	// schema of the files.
	WireSchema event.Schema
}

// RowError describes one rejected CSV row.
type RowError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Report summarises one imported file.
type Report struct {
	File      string     `json:"file"`
	Processed int        `json:"processed"`
	Validated int        `json:"validated"`
	Published int        `json:"published"`
	Rejected  []RowError `json:"rejected,omitempty"`
}

// Importer validates rows and publishes them as canonical event messages.
type Importer struct {
	decoder   *event.Decoder
	encoder   *event.Decoder
	publisher Publisher
	metrics   Recorder
	logger    *slog.Logger
	cfg       Config
}

// New builds an Importer. metrics may be nil.
func New(decoder *event.Decoder, publisher Publisher, metrics Recorder, logger *slog.Logger, cfg Config) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FileSuffix == "" {
		cfg.FileSuffix = ".csv"
	}
	if cfg.Delimiter == 0 {
		cfg.Delimiter = ','
	}
	if cfg.PublishBatch <= 0 {
		cfg.PublishBatch = 100
	}
	encoder := decoder
	if len(cfg.WireSchema.Fields) > 0 {
		encoder = event.NewDecoder(cfg.WireSchema)
	}
	return &Importer{decoder: decoder, encoder: encoder, publisher: publisher, metrics: metrics, logger: logger, cfg: cfg}
}

// Resolve maps a bare file name onto the input directory.
func (i *Importer) Resolve(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: file name is not set", ErrFileNotFound)
	}
	path := name
	if !filepath.IsAbs(path) && i.cfg.InputDir != "" && filepath.Dir(path) == "." {
		path = filepath.Join(i.cfg.InputDir, name)
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	return path, nil
}

// ListFiles returns the importable files of dir, sorted by name.
func (i *Importer) ListFiles(dir string) ([]string, error) {
	if dir == "" {
		dir = i.cfg.InputDir
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("importer: list %s: %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), i.cfg.FileSuffix) {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// ImportFile validates every row of name and publishes the valid ones.
// Invalid rows are reported without stopping; a publish failure or an
// unreadable file aborts with the partial report.
func (i *Importer) ImportFile(ctx context.Context, name string) (Report, error) {
	path, err := i.Resolve(name)
	if err != nil {
		return Report{File: name}, err
	}
	report := Report{File: path}
	f, err := os.Open(path)
	if err != nil {
		return report, fmt.Errorf("importer: open %s: %w", path, err)
	}
	defer f.Close()

	log := i.logger.With(slog.String("file", path))
	log.Info("import started")

	err = i.process(ctx, f, &report, log)
	if i.metrics != nil {
		i.metrics.ObserveImport(report.Published, len(report.Rejected))
	}
	if err != nil {
		log.Error("import aborted", slog.Int("processed", report.Processed), slog.Any("error", err))
		return report, err
	}
	log.Info("import finished",
		slog.Int("processed", report.Processed),
		slog.Int("validated", report.Validated),
		slog.Int("published", report.Published),
		slog.Int("rejected", len(report.Rejected)))
	return report, nil
}

// ImportDir imports every matching file of dir. A failing file does not
// stop the others; the joined errors are returned.
func (i *Importer) ImportDir(ctx context.Context, dir string) ([]Report, error) {
	files, err := i.ListFiles(dir)
	if err != nil {
		return nil, err
	}
	reports := make([]Report, 0, len(files))
	var errs []error
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		report, err := i.ImportFile(ctx, file)
		reports = append(reports, report)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return reports, errors.Join(errs...)
}

func (i *Importer) process(ctx context.Context, r io.Reader, report *Report, log *slog.Logger) error {
	reader := csv.NewReader(r)
	reader.Comma = i.cfg.Delimiter
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: header: %v", ErrUnreadableFile, err)
	}
	if err := checkUTF8(header); err != nil {
		return err
	}
	for idx := range header {
		header[idx] = strings.TrimSpace(strings.TrimPrefix(header[idx], "\ufeff"))
	}

	pending := make([]kafkago.Message, 0, i.cfg.PublishBatch)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := i.publisher.WriteMessages(ctx, pending...); err != nil {
			return fmt.Errorf("%w: %w", ErrPublish, err)
		}
		report.Published += len(pending)
		pending = pending[:0]
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		report.Processed++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				report.reject(perr.Line, perr.Err.Error())
				continue
			}
			return fmt.Errorf("%w: %v", ErrUnreadableFile, err)
		}
		line, _ := reader.FieldPos(0)
		if err := checkUTF8(record); err != nil {
			return err
		}
		if len(record) != len(header) {
			report.reject(line, fmt.Sprintf("expected %d fields, got %d", len(header), len(record)))
			continue
		}
		row := make(map[string]string, len(header))
		for idx, name := range header {
			row[name] = strings.TrimSpace(record[idx])
		}
		ev, err := i.decoder.ValidateRecord(row)
		if err != nil {
			report.reject(line, err.Error())
			log.Debug("row rejected", slog.Int("line", line), slog.Any("error", err))
			continue
		}
		report.Validated++
		payload, err := i.encoder.Encode(ev)
		if err != nil {
			report.reject(line, err.Error())
			continue
		}
		pending = append(pending, kafkago.Message{
			Key:     []byte(ev.Key().String()),
			Value:   payload,
			Headers: kafka.Inject(ctx, nil),
		})
		if len(pending) >= i.cfg.PublishBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (r *Report) reject(line int, reason string) {
	r.Rejected = append(r.Rejected, RowError{Line: line, Reason: reason})
}

func checkUTF8(fields []string) error {
	for _, f := range fields {
		if !utf8.ValidString(f) {
			return fmt.Errorf("%w: invalid UTF-8", ErrUnreadableFile)
		}
	}
	return nil
}
