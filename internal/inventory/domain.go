// Package inventory applies decoded stock events to the ledger and the
// stock store, one database transaction per event.
package inventory

import (
	"errors"

	"github.com/odyssey-erp/stockflow/internal/event"
	"github.com/odyssey-erp/stockflow/internal/stock"
)

// Outcome is the terminal state of one processed event.
type Outcome int

const (
	// Skipped means the transaction id was already processed.
	Skipped Outcome = iota
	// Initialized means the event created the stock record.
	Initialized
	// Applied means the event updated an existing record.
	Applied
	// RejectedStale means the event is older than the last applied update.
	RejectedStale
	// RejectedInsufficientStock means a sale would make stock negative or
	// targeted a key that holds no stock.
	RejectedInsufficientStock
	// RejectedMalformed means the payload failed decoding.
	RejectedMalformed
	// RejectedLedgerFailure means the ledger could not record the event.
	RejectedLedgerFailure
	// RejectedStoreFailure means the stock store failed mid-transition.
	RejectedStoreFailure
	// RejectedInvariant means a defensive store check tripped.
	RejectedInvariant
	// RejectedOverflow means an incoming quantity would exceed the
	// representable stock level.
	RejectedOverflow
)

var outcomeNames = map[Outcome]string{
	Skipped:                   "skipped",
	Initialized:               "initialized",
	Applied:                   "applied",
	RejectedStale:             "rejected_stale",
	RejectedInsufficientStock: "rejected_insufficient_stock",
	RejectedMalformed:         "rejected_malformed",
	RejectedLedgerFailure:     "rejected_ledger_failure",
	RejectedStoreFailure:      "rejected_store_failure",
	RejectedInvariant:         "rejected_invariant",
	RejectedOverflow:          "rejected_overflow",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "unknown"
}

// Acknowledge reports whether the message carrying the event may be marked
// consumed. Only infrastructure failures leave it for redelivery.
func (o Outcome) Acknowledge() bool {
	return !o.Retryable()
}

// Retryable reports whether the event left no durable trace and should be
// delivered again.
func (o Outcome) Retryable() bool {
	return o == RejectedLedgerFailure || o == RejectedStoreFailure
}

// Mutated reports whether the stock record changed.
func (o Outcome) Mutated() bool {
	return o == Initialized || o == Applied
}

// Result describes what happened to one event.
type Result struct {
	Outcome Outcome
	Event   event.Event
	// Record is the state after the event for Initialized and Applied, and
	// the untouched current state for business rejections.
	Record stock.Record
}

var (
	// ErrStaleEvent marks an event older than the key's last update.
	ErrStaleEvent = errors.New("inventory: stale event")
	// ErrInsufficientStock marks a sale larger than the available stock.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrQuantityOverflow marks an incoming event the stock level cannot hold.
	ErrQuantityOverflow = errors.New("inventory: quantity overflow")
)

// Reason returns the sentinel describing a business rejection, or nil.
func (r Result) Reason() error {
	switch r.Outcome {
	case RejectedStale:
		return ErrStaleEvent
	case RejectedInsufficientStock:
		return ErrInsufficientStock
	case RejectedOverflow:
		return ErrQuantityOverflow
	case RejectedMalformed:
		return event.ErrMalformedPayload
	default:
		return nil
	}
}
