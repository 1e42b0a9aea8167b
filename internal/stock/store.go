// Package stock persists the running quantity per (item, store) key.
package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/stockflow/internal/event"
	"github.com/odyssey-erp/stockflow/internal/platform/db"
)

var (
	// ErrNotFound indicates the key has no stock record yet.
	ErrNotFound = errors.New("stock: record not found")
	// ErrWriteFailure wraps any persistence failure of the stock table.
	ErrWriteFailure = errors.New("stock: write failure")
	// ErrInvariantViolation is returned for writes that would make stock negative.
	ErrInvariantViolation = errors.New("stock: invariant violation")
)

// InitOutcome reports whether Initialize created the row.
type InitOutcome int

const (
	// Created means the row did not exist and was inserted.
	Created InitOutcome = iota
	// AlreadyExists means a concurrent writer created the row first.
	AlreadyExists
)

func (o InitOutcome) String() string {
	if o == AlreadyExists {
		return "already_exists"
	}
	return "created"
}

// Record is the current state of one key.
type Record struct {
	ItemNumber   int64     `json:"item_number"`
	StoreNumber  int64     `json:"store_number"`
	CurrentValue int64     `json:"current_value"`
	LastUpdate   time.Time `json:"last_update"`
}

// Key returns the stock key of the record.
func (r Record) Key() event.Key {
	return event.Key{ItemNumber: r.ItemNumber, StoreNumber: r.StoreNumber}
}

// Filter narrows List results. A nil StoreNumber lists every store.
type Filter struct {
	StoreNumber *int64
	Limit       int
}

// Store reads and writes the stock table through a pool or transaction.
type Store struct {
	db db.Executor
}

// New binds a Store to exec.
func New(exec db.Executor) *Store {
	return &Store{db: exec}
}

const selectRecord = `SELECT item_number, store_number, current_value, last_update FROM stock
WHERE item_number=$1 AND store_number=$2`

// Lookup returns the record for key without locking it.
func (s *Store) Lookup(ctx context.Context, key event.Key) (Record, error) {
	return s.lookup(ctx, selectRecord, key)
}

// LookupForUpdate returns the record and holds a row lock until the
// surrounding transaction ends.
func (s *Store) LookupForUpdate(ctx context.Context, key event.Key) (Record, error) {
	return s.lookup(ctx, selectRecord+" FOR UPDATE", key)
}

func (s *Store) lookup(ctx context.Context, query string, key event.Key) (Record, error) {
	var rec Record
	err := s.db.QueryRow(ctx, query, key.ItemNumber, key.StoreNumber).
		Scan(&rec.ItemNumber, &rec.StoreNumber, &rec.CurrentValue, &rec.LastUpdate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("%w: lookup %s: %w", ErrWriteFailure, key, err)
	}
	rec.LastUpdate = rec.LastUpdate.UTC()
	return rec, nil
}

// Initialize creates the record for key. Losing a creation race is
// reported as AlreadyExists, not as an error.
func (s *Store) Initialize(ctx context.Context, key event.Key, qty int64, at time.Time) (InitOutcome, error) {
	if qty < 0 {
		return Created, fmt.Errorf("%w: initialize %s with %d", ErrInvariantViolation, key, qty)
	}
	tag, err := s.db.Exec(ctx, `INSERT INTO stock (item_number, store_number, current_value, last_update)
VALUES ($1,$2,$3,$4)
ON CONFLICT (item_number, store_number) DO NOTHING`, key.ItemNumber, key.StoreNumber, qty, at.UTC())
	if err != nil {
		return Created, fmt.Errorf("%w: initialize %s: %w", ErrWriteFailure, key, err)
	}
	if tag.RowsAffected() == 0 {
		return AlreadyExists, nil
	}
	return Created, nil
}

// Apply sets quantity and last update of an existing record in one statement.
func (s *Store) Apply(ctx context.Context, key event.Key, newQty int64, at time.Time) error {
	if newQty < 0 {
		return fmt.Errorf("%w: apply %s with %d", ErrInvariantViolation, key, newQty)
	}
	tag, err := s.db.Exec(ctx, `UPDATE stock SET current_value=$3, last_update=$4
WHERE item_number=$1 AND store_number=$2`, key.ItemNumber, key.StoreNumber, newQty, at.UTC())
	if err != nil {
		return fmt.Errorf("%w: apply %s: %w", ErrWriteFailure, key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns records ordered by key, optionally for one store.
func (s *Store) List(ctx context.Context, filter Filter) ([]Record, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	rows, err := s.db.Query(ctx, `SELECT item_number, store_number, current_value, last_update FROM stock
WHERE ($1::bigint IS NULL OR store_number = $1)
ORDER BY store_number, item_number
LIMIT $2`, filter.StoreNumber, limit)
	if err != nil {
		return nil, fmt.Errorf("stock: list: %w", err)
	}
	defer rows.Close()
	records := []Record{}
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ItemNumber, &rec.StoreNumber, &rec.CurrentValue, &rec.LastUpdate); err != nil {
			return nil, fmt.Errorf("stock: list: %w", err)
		}
		rec.LastUpdate = rec.LastUpdate.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stock: list: %w", err)
	}
	return records, nil
}
