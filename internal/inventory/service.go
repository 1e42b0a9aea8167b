package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odyssey-erp/stockflow/internal/event"
	"github.com/odyssey-erp/stockflow/internal/ledger"
	"github.com/odyssey-erp/stockflow/internal/stock"
)

const tracerName = "github.com/odyssey-erp/stockflow/internal/inventory"

// RepositoryPort abstracts transactional persistence for the engine.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// CacheInvalidator drops cached stock reads after a committed mutation.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, key event.Key) error
}

// EngineConfig groups optional settings.
type EngineConfig struct {
	// EventTimeout bounds the storage work for one event. Zero disables it.
	EventTimeout time.Duration
}

// Engine decides and applies the state transition for each event.
type Engine struct {
	repo    RepositoryPort
	decoder *event.Decoder
	cache   CacheInvalidator
	logger  *slog.Logger
	tracer  trace.Tracer
	timeout time.Duration
}

// NewEngine builds Engine. cache may be nil.
func NewEngine(repo RepositoryPort, decoder *event.Decoder, cache CacheInvalidator, logger *slog.Logger, cfg EngineConfig) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if decoder == nil {
		decoder = event.NewDecoder(event.StandardSchema())
	}
	return &Engine{
		repo:    repo,
		decoder: decoder,
		cache:   cache,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
		timeout: cfg.EventTimeout,
	}
}

// Process decodes payload and applies the event. Malformed payloads yield
// RejectedMalformed without an error and never touch storage.
func (e *Engine) Process(ctx context.Context, payload []byte) (Result, error) {
	ev, err := e.decoder.Decode(payload)
	if err != nil {
		e.logger.Warn("event rejected",
			slog.String("outcome", RejectedMalformed.String()),
			slog.Any("error", err))
		return Result{Outcome: RejectedMalformed}, nil
	}
	return e.Apply(ctx, ev)
}

// Apply runs one event through ledger, causal check and stock update inside
// a single transaction. Business rejections commit so the ledger keeps the
// transaction as seen; infrastructure failures and invariant violations
// roll back and return an error.
func (e *Engine) Apply(ctx context.Context, ev event.Event) (Result, error) {
	ev.OccurredAt = ev.OccurredAt.UTC().Truncate(event.Precision)
	res := Result{Event: ev}
	if err := e.decoder.Validate(ev); err != nil {
		e.logger.Warn("event rejected",
			slog.String("outcome", RejectedMalformed.String()),
			slog.Any("error", err))
		res.Outcome = RejectedMalformed
		return res, nil
	}

	ctx, span := e.tracer.Start(ctx, "inventory.apply", trace.WithAttributes(
		attribute.String("stock.transaction_id", ev.TransactionID.String()),
		attribute.String("stock.event_type", string(ev.Type)),
		attribute.String("stock.key", ev.Key().String()),
	))
	defer span.End()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	started := false
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		started = true
		return e.transition(ctx, tx, &res)
	})
	if err != nil {
		err = classify(&res, started, err)
	}
	span.SetAttributes(attribute.String("stock.outcome", res.Outcome.String()))

	log := e.logger.With(
		slog.String("transaction_id", ev.TransactionID.String()),
		slog.String("key", ev.Key().String()),
		slog.String("outcome", res.Outcome.String()),
	)
	switch {
	case res.Outcome == RejectedInvariant:
		span.RecordError(err)
		span.SetStatus(codes.Error, "invariant violation")
		log.Error("stock invariant violated", slog.Any("error", err))
		return res, err
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, res.Outcome.String())
		log.Warn("event not applied", slog.Any("error", err))
		return res, err
	case res.Reason() != nil:
		log.Info("event rejected", slog.Any("reason", res.Reason()))
	default:
		log.Debug("event processed")
	}

	if res.Outcome.Mutated() && e.cache != nil {
		if err := e.cache.Invalidate(ctx, ev.Key()); err != nil {
			log.Warn("stock cache invalidation failed", slog.Any("error", err))
		}
	}
	return res, nil
}

func (e *Engine) transition(ctx context.Context, tx TxRepository, res *Result) error {
	ev := res.Event
	key := ev.Key()

	appended, err := tx.AppendLedger(ctx, ev)
	switch appended {
	case ledger.AlreadyProcessed:
		res.Outcome = Skipped
		return nil
	case ledger.Accepted:
	default:
		res.Outcome = RejectedLedgerFailure
		if err == nil {
			err = ledger.ErrWriteFailure
		}
		return err
	}

	rec, err := tx.LookupForUpdate(ctx, key)
	switch {
	case errors.Is(err, stock.ErrNotFound):
		if ev.Type == event.TypeSale {
			res.Outcome = RejectedInsufficientStock
			return nil
		}
		created, err := tx.Initialize(ctx, key, ev.Quantity, ev.OccurredAt)
		if err != nil {
			return storeFailure(res, err)
		}
		if created == stock.Created {
			res.Outcome = Initialized
			res.Record = stock.Record{
				ItemNumber:   key.ItemNumber,
				StoreNumber:  key.StoreNumber,
				CurrentValue: ev.Quantity,
				LastUpdate:   ev.OccurredAt.UTC(),
			}
			return nil
		}
		// Lost the creation race; continue against the winner's row.
		rec, err = tx.LookupForUpdate(ctx, key)
		if err != nil {
			return storeFailure(res, err)
		}
	case err != nil:
		return storeFailure(res, err)
	}

	res.Record = rec
	if ev.OccurredAt.Before(rec.LastUpdate) {
		res.Outcome = RejectedStale
		return nil
	}

	newQty := rec.CurrentValue
	switch ev.Type {
	case event.TypeIncoming:
		if newQty > math.MaxInt64-ev.Quantity {
			res.Outcome = RejectedOverflow
			return nil
		}
		newQty += ev.Quantity
	case event.TypeSale:
		newQty -= ev.Quantity
		if newQty < 0 {
			res.Outcome = RejectedInsufficientStock
			return nil
		}
	}

	if err := tx.Apply(ctx, key, newQty, ev.OccurredAt); err != nil {
		return storeFailure(res, err)
	}
	res.Outcome = Applied
	res.Record = stock.Record{
		ItemNumber:   key.ItemNumber,
		StoreNumber:  key.StoreNumber,
		CurrentValue: newQty,
		LastUpdate:   ev.OccurredAt.UTC(),
	}
	return nil
}

func storeFailure(res *Result, err error) error {
	if errors.Is(err, stock.ErrInvariantViolation) {
		res.Outcome = RejectedInvariant
		return err
	}
	res.Outcome = RejectedStoreFailure
	if !errors.Is(err, stock.ErrWriteFailure) {
		err = fmt.Errorf("%w: %w", stock.ErrWriteFailure, err)
	}
	return err
}

// classify settles the outcome when the transaction itself failed: a begin
// failure means the ledger was never reached, a commit failure means nothing
// the transition did is durable.
func classify(res *Result, started bool, err error) error {
	switch {
	case !started:
		res.Outcome = RejectedLedgerFailure
		if !errors.Is(err, ledger.ErrWriteFailure) {
			err = fmt.Errorf("%w: %w", ledger.ErrWriteFailure, err)
		}
	case res.Outcome.Retryable() || res.Outcome == RejectedInvariant:
	default:
		res.Outcome = RejectedStoreFailure
		if !errors.Is(err, stock.ErrWriteFailure) {
			err = fmt.Errorf("%w: %w", stock.ErrWriteFailure, err)
		}
	}
	res.Record = stock.Record{}
	return err
}
