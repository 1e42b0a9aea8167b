// Package event decodes and validates inventory movement messages.
package event

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type enumerates supported stock movements.
type Type string

const (
	// TypeIncoming adds stock to a key.
	TypeIncoming Type = "incoming"
	// TypeSale removes stock from a key.
	TypeSale Type = "sale"
)

// Types lists every accepted movement type.
var Types = []Type{TypeIncoming, TypeSale}

// Key identifies one inventory counter.
type Key struct {
	ItemNumber  int64
	StoreNumber int64
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.ItemNumber, k.StoreNumber)
}

// Event is a decoded stock movement. It is immutable once decoded.
type Event struct {
	TransactionID uuid.UUID `validate:"required"`
	Type          Type      `validate:"required,oneof=incoming sale"`
	OccurredAt    time.Time `validate:"required"`
	StoreNumber   int64
	ItemNumber    int64
	Quantity      int64 `validate:"min=0"`
}

// Key returns the stock key the event applies to.
func (e Event) Key() Key {
	return Key{ItemNumber: e.ItemNumber, StoreNumber: e.StoreNumber}
}

// ErrMalformedPayload marks payloads that fail structural or type validation.
var ErrMalformedPayload = errors.New("event: malformed payload")

// malformed wraps a reason with ErrMalformedPayload.
func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, fmt.Sprintf(format, args...))
}
