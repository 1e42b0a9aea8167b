// Package ledger records every accepted transaction id. It is the source of
// truth for "has this transaction been seen" and is never updated or pruned.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/stockflow/internal/event"
	"github.com/odyssey-erp/stockflow/internal/platform/db"
)

// Outcome is the result of an append attempt.
type Outcome int

const (
	// Rejected means the entry could not be persisted.
	Rejected Outcome = iota
	// Accepted means the transaction id was new and is now recorded.
	Accepted
	// AlreadyProcessed means the transaction id was recorded before.
	AlreadyProcessed
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case AlreadyProcessed:
		return "already_processed"
	default:
		return "rejected"
	}
}

var (
	// ErrAlreadyProcessed indicates a duplicate transaction id.
	ErrAlreadyProcessed = errors.New("ledger: transaction already processed")
	// ErrWriteFailure wraps any other persistence failure.
	ErrWriteFailure = errors.New("ledger: write failure")
	// ErrNotFound indicates no entry for the transaction id.
	ErrNotFound = errors.New("ledger: entry not found")
)

// Entry is one recorded transaction with its full payload for audit.
type Entry struct {
	TransactionID uuid.UUID  `json:"transaction_id"`
	Type          event.Type `json:"event_type"`
	OccurredAt    time.Time  `json:"occurred_at"`
	StoreNumber   int64      `json:"store_number"`
	ItemNumber    int64      `json:"item_number"`
	Quantity      int64      `json:"quantity"`
	RecordedAt    time.Time  `json:"recorded_at"`
}

// Filter narrows Recent listings. Nil numbers do not filter.
type Filter struct {
	ItemNumber  *int64
	StoreNumber *int64
	Limit       int
}

// Ledger persists entries in the stock_events table.
type Ledger struct {
	db db.Executor
}

// New binds a Ledger to a pool or an open transaction.
func New(exec db.Executor) *Ledger {
	return &Ledger{db: exec}
}

// Append records ev. A duplicate id yields AlreadyProcessed with
// ErrAlreadyProcessed; other failures yield Rejected with ErrWriteFailure.
// Conflicts are absorbed by ON CONFLICT so an enclosing transaction stays
// usable; a raw unique violation maps to the same outcome.
func (l *Ledger) Append(ctx context.Context, ev event.Event) (Outcome, error) {
	if l == nil || l.db == nil {
		return Rejected, fmt.Errorf("%w: ledger not initialised", ErrWriteFailure)
	}
	tag, err := l.db.Exec(ctx, `INSERT INTO stock_events (transaction_id, event_type, occurred_at, store_number, item_number, quantity, recorded_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
ON CONFLICT (transaction_id) DO NOTHING`, ev.TransactionID, string(ev.Type), ev.OccurredAt.UTC(), ev.StoreNumber, ev.ItemNumber, ev.Quantity)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return AlreadyProcessed, ErrAlreadyProcessed
		}
		return Rejected, fmt.Errorf("%w: %w", ErrWriteFailure, err)
	}
	if tag.RowsAffected() == 0 {
		return AlreadyProcessed, ErrAlreadyProcessed
	}
	return Accepted, nil
}

// Get loads a single entry.
func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (Entry, error) {
	var e Entry
	var typ string
	err := l.db.QueryRow(ctx, `SELECT transaction_id, event_type, occurred_at, store_number, item_number, quantity, recorded_at
FROM stock_events WHERE transaction_id=$1`, id).
		Scan(&e.TransactionID, &typ, &e.OccurredAt, &e.StoreNumber, &e.ItemNumber, &e.Quantity, &e.RecordedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("ledger: get: %w", err)
	}
	e.Type = event.Type(typ)
	return e, nil
}

// Recent lists entries newest first, optionally for one stock key.
func (l *Ledger) Recent(ctx context.Context, filter Filter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := l.db.Query(ctx, `SELECT transaction_id, event_type, occurred_at, store_number, item_number, quantity, recorded_at
FROM stock_events
WHERE ($1::bigint IS NULL OR item_number = $1) AND ($2::bigint IS NULL OR store_number = $2)
ORDER BY recorded_at DESC, transaction_id
LIMIT $3`, filter.ItemNumber, filter.StoreNumber, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: recent: %w", err)
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var typ string
		if err := rows.Scan(&e.TransactionID, &typ, &e.OccurredAt, &e.StoreNumber, &e.ItemNumber, &e.Quantity, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("ledger: recent: %w", err)
		}
		e.Type = event.Type(typ)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: recent: %w", err)
	}
	return entries, nil
}
