// Package ingest pulls stock events from Kafka, feeds them to the engine and
// commits offsets once every message of a batch reached an acknowledgeable
// outcome.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stockflow/internal/event"
	"github.com/odyssey-erp/stockflow/internal/inventory"
	"github.com/odyssey-erp/stockflow/internal/platform/kafka"
)

// Consumer is the subset of *kafka.Reader the loop needs.
type Consumer interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Processor applies one raw payload.
type Processor interface {
	Process(ctx context.Context, payload []byte) (inventory.Result, error)
}

// Recorder receives ingestion metrics. *observability.Metrics satisfies it.
type Recorder interface {
	ObserveOutcome(outcome string)
	ObserveRetry()
	ObserveBatch(size int, elapsed time.Duration)
}

// KeyFunc extracts the stock key used for lane routing.
type KeyFunc func(payload []byte) (event.Key, bool)

// Config tunes batching, parallelism and retry.
type Config struct {
	BatchSize int
	BatchWait time.Duration
	Lanes     int
	// RetryInitial and RetryMax bound the backoff between attempts.
	RetryInitial time.Duration
	RetryMax     time.Duration
	// RetryMaxElapsed gives up on a failing message after this long. Zero
	// retries until the context is cancelled.
	RetryMaxElapsed time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Lanes <= 0 {
		c.Lanes = 1
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 200 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 30 * time.Second
	}
	return c
}

// Loop is the consumer side of the pipeline.
type Loop struct {
	consumer Consumer
	engine   Processor
	keyOf    KeyFunc
	metrics  Recorder
	logger   *slog.Logger
	tracer   trace.Tracer
	cfg      Config
	stats    Stats
}

// NewLoop builds Loop. keyOf and metrics may be nil.
func NewLoop(consumer Consumer, engine Processor, keyOf KeyFunc, metrics Recorder, logger *slog.Logger, cfg Config) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		consumer: consumer,
		engine:   engine,
		keyOf:    keyOf,
		metrics:  metrics,
		logger:   logger,
		tracer:   otel.Tracer("github.com/odyssey-erp/stockflow/internal/ingest"),
		cfg:      cfg.withDefaults(),
	}
}

// Stats exposes the live counters.
func (l *Loop) Stats() *Stats {
	return &l.stats
}

// Run consumes until ctx is cancelled, which is a clean stop. Any batch not
// yet committed is left for redelivery.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("ingestion loop started",
		slog.Int("batch_size", l.cfg.BatchSize),
		slog.Int("lanes", l.cfg.Lanes))
	defer func() {
		l.logger.Info("ingestion loop stopped", slog.Any("stats", l.stats.Snapshot()))
	}()
	for {
		batch, err := l.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ingest: fetch: %w", err)
		}
		if err := l.processBatch(ctx, batch); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Close releases the consumer.
func (l *Loop) Close() error {
	return l.consumer.Close()
}

// fetch blocks for the first message, then collects more until the batch
// is full or BatchWait elapses.
func (l *Loop) fetch(ctx context.Context) ([]kafkago.Message, error) {
	first, err := l.consumer.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	batch := []kafkago.Message{first}
	if l.cfg.BatchSize == 1 || l.cfg.BatchWait <= 0 {
		return batch, nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, l.cfg.BatchWait)
	defer cancel()
	for len(batch) < l.cfg.BatchSize {
		msg, err := l.consumer.FetchMessage(waitCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			break
		}
		batch = append(batch, msg)
	}
	return batch, nil
}

func (l *Loop) processBatch(ctx context.Context, batch []kafkago.Message) error {
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for _, lane := range l.partition(batch) {
		if len(lane) == 0 {
			continue
		}
		g.Go(func() error {
			for _, msg := range lane {
				if err := l.handle(gctx, msg); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := l.consumer.CommitMessages(ctx, batch...); err != nil {
		return fmt.Errorf("ingest: commit: %w", err)
	}
	if l.metrics != nil {
		l.metrics.ObserveBatch(len(batch), time.Since(start))
	}
	l.logger.Debug("batch committed", slog.Int("size", len(batch)), slog.Any("stats", l.stats.Snapshot()))
	return nil
}

// partition keeps arrival order within a lane; all messages of one stock
// key share a lane.
func (l *Loop) partition(batch []kafkago.Message) [][]kafkago.Message {
	lanes := make([][]kafkago.Message, l.cfg.Lanes)
	for _, msg := range batch {
		idx := l.laneOf(msg)
		lanes[idx] = append(lanes[idx], msg)
	}
	return lanes
}

func (l *Loop) laneOf(msg kafkago.Message) int {
	if l.cfg.Lanes == 1 {
		return 0
	}
	h := fnv.New32a()
	if key, ok := l.routingKey(msg); ok {
		_, _ = h.Write([]byte(key.String()))
	} else {
		_, _ = h.Write(msg.Key)
	}
	return int(h.Sum32() % uint32(l.cfg.Lanes))
}

func (l *Loop) routingKey(msg kafkago.Message) (event.Key, bool) {
	if l.keyOf == nil {
		return event.Key{}, false
	}
	return l.keyOf(msg.Value)
}

func (l *Loop) handle(ctx context.Context, msg kafkago.Message) error {
	l.stats.Received.Add(1)
	ctx, span := l.tracer.Start(kafka.Extract(ctx, msg.Headers), "ingest.message",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.Int("messaging.kafka.partition", msg.Partition),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		))
	defer span.End()

	op := func() error {
		res, err := l.engine.Process(ctx, msg.Value)
		if res.Outcome.Retryable() {
			l.stats.Failed.Add(1)
			if err == nil {
				err = errors.New("ingest: retryable outcome without error")
			}
			return err
		}
		l.record(res)
		return nil
	}
	notify := func(err error, wait time.Duration) {
		if l.metrics != nil {
			l.metrics.ObserveRetry()
		}
		l.logger.Warn("retrying event",
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.Duration("backoff", wait),
			slog.Any("error", err))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(l.newBackOff(), ctx), notify); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "not acknowledged")
		return fmt.Errorf("ingest: partition %d offset %d: %w", msg.Partition, msg.Offset, err)
	}
	return nil
}

func (l *Loop) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.cfg.RetryInitial
	b.MaxInterval = l.cfg.RetryMax
	b.MaxElapsedTime = l.cfg.RetryMaxElapsed
	return b
}

func (l *Loop) record(res inventory.Result) {
	if l.metrics != nil {
		l.metrics.ObserveOutcome(res.Outcome.String())
	}
	if res.Outcome == inventory.RejectedMalformed {
		l.stats.Rejected.Add(1)
		return
	}
	l.stats.Validated.Add(1)
	switch res.Outcome {
	case inventory.Applied:
		l.stats.Applied.Add(1)
	case inventory.Initialized:
		l.stats.Initialized.Add(1)
	case inventory.Skipped:
		l.stats.Skipped.Add(1)
	default:
		l.stats.Rejected.Add(1)
	}
}
