package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockflow/internal/event"
	"github.com/odyssey-erp/stockflow/internal/ledger"
	"github.com/odyssey-erp/stockflow/internal/platform/db"
	"github.com/odyssey-erp/stockflow/internal/stock"
)

// TxRepository exposes the writes the engine performs for one event.
type TxRepository interface {
	AppendLedger(ctx context.Context, ev event.Event) (ledger.Outcome, error)
	LookupForUpdate(ctx context.Context, key event.Key) (stock.Record, error)
	Initialize(ctx context.Context, key event.Key, qty int64, at time.Time) (stock.InitOutcome, error)
	Apply(ctx context.Context, key event.Key, newQty int64, at time.Time) error
}

// Repository persists events and stock in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	ledger *ledger.Ledger
	stock  *stock.Store
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, ledger: ledger.New(pool), stock: stock.New(pool)}
}

type txRepo struct {
	ledger *ledger.Ledger
	stock  *stock.Store
}

// WithTx runs fn in a ReadCommitted transaction. Same-key writers serialize
// on the stock row lock, and a re-read after a lost insert race sees the
// winner's row.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxIso(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{ledger: ledger.New(tx), stock: stock.New(tx)})
	})
}

// GetStock reads one record outside any transaction.
func (r *Repository) GetStock(ctx context.Context, key event.Key) (stock.Record, error) {
	return r.stock.Lookup(ctx, key)
}

// ListStock lists records for the read API.
func (r *Repository) ListStock(ctx context.Context, filter stock.Filter) ([]stock.Record, error) {
	return r.stock.List(ctx, filter)
}

// GetEntry loads one ledger entry.
func (r *Repository) GetEntry(ctx context.Context, id uuid.UUID) (ledger.Entry, error) {
	return r.ledger.Get(ctx, id)
}

// RecentEntries lists ledger entries newest first.
func (r *Repository) RecentEntries(ctx context.Context, filter ledger.Filter) ([]ledger.Entry, error) {
	return r.ledger.Recent(ctx, filter)
}

func (r *txRepo) AppendLedger(ctx context.Context, ev event.Event) (ledger.Outcome, error) {
	return r.ledger.Append(ctx, ev)
}

func (r *txRepo) LookupForUpdate(ctx context.Context, key event.Key) (stock.Record, error) {
	return r.stock.LookupForUpdate(ctx, key)
}

func (r *txRepo) Initialize(ctx context.Context, key event.Key, qty int64, at time.Time) (stock.InitOutcome, error) {
	return r.stock.Initialize(ctx, key, qty, at)
}

func (r *txRepo) Apply(ctx context.Context, key event.Key, newQty int64, at time.Time) error {
	return r.stock.Apply(ctx, key, newQty, at)
}
