package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Decoder turns raw payloads into Events according to a Schema.
type Decoder struct {
	schema   Schema
	validate *validator.Validate
}

// NewDecoder builds a Decoder for schema.
func NewDecoder(schema Schema) *Decoder {
	return &Decoder{schema: schema, validate: validator.New()}
}

// Schema returns the schema the decoder enforces.
func (d *Decoder) Schema() Schema {
	return d.schema
}

// Decode parses a JSON message. Every failure wraps ErrMalformedPayload.
func (d *Decoder) Decode(payload []byte) (Event, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Event{}, malformed("not a JSON object: %v", err)
	}
	if fields == nil {
		return Event{}, malformed("not a JSON object")
	}
	return d.build(fields)
}

// ValidateRecord applies the message rules to a flat record such as a CSV row.
func (d *Decoder) ValidateRecord(record map[string]string) (Event, error) {
	fields := make(map[string]json.RawMessage, len(record))
	for name, value := range record {
		raw, err := json.Marshal(value)
		if err != nil {
			return Event{}, malformed("%s: %v", name, err)
		}
		fields[name] = raw
	}
	return d.build(fields)
}

func (d *Decoder) build(fields map[string]json.RawMessage) (Event, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	missing, extra := d.schema.diff(keys)
	if len(missing) > 0 || len(extra) > 0 {
		return Event{}, malformed("field set mismatch: missing=%v extra=%v", missing, extra)
	}

	var ev Event
	for _, spec := range d.schema.Fields {
		if err := d.apply(&ev, spec, fields[spec.Name]); err != nil {
			return Event{}, err
		}
	}

	if err := d.Validate(ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Validate checks the struct constraints of an already assembled Event.
func (d *Decoder) Validate(ev Event) error {
	err := d.validate.Struct(ev)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		parts := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
		return malformed("%s", strings.Join(parts, ", "))
	}
	return malformed("%v", err)
}

func (d *Decoder) apply(ev *Event, spec FieldSpec, raw json.RawMessage) error {
	switch spec.Rule {
	case RuleUUIDv4:
		id, err := checkUUIDv4(spec.Name, raw)
		if err != nil {
			return err
		}
		if spec.Field != FieldTransactionID {
			return malformed("%s: uuid rule bound to non-id field", spec.Name)
		}
		ev.TransactionID = id
	case RuleEnum:
		t, err := checkEnum(spec.Name, raw)
		if err != nil {
			return err
		}
		if spec.Field != FieldEventType {
			return malformed("%s: enum rule bound to non-type field", spec.Name)
		}
		ev.Type = t
	case RuleTimestamp:
		ts, err := checkTimestamp(spec.Name, raw)
		if err != nil {
			return err
		}
		if spec.Field != FieldOccurredAt {
			return malformed("%s: timestamp rule bound to non-time field", spec.Name)
		}
		ev.OccurredAt = ts
	case RuleInteger:
		v, err := checkInteger(spec.Name, raw)
		if err != nil {
			return err
		}
		switch spec.Field {
		case FieldStoreNumber:
			ev.StoreNumber = v
		case FieldItemNumber:
			ev.ItemNumber = v
		case FieldQuantity:
			ev.Quantity = v
		default:
			return malformed("%s: integer rule bound to non-numeric field", spec.Name)
		}
	default:
		return malformed("%s: unknown rule %s", spec.Name, spec.Rule)
	}
	return nil
}

// Encode renders ev as a message in the decoder's schema.
func (d *Decoder) Encode(ev Event) ([]byte, error) {
	out := make(map[string]any, len(d.schema.Fields))
	for _, spec := range d.schema.Fields {
		switch spec.Field {
		case FieldTransactionID:
			out[spec.Name] = ev.TransactionID.String()
		case FieldEventType:
			out[spec.Name] = string(ev.Type)
		case FieldOccurredAt:
			out[spec.Name] = ev.OccurredAt.UTC().Format(time.RFC3339Nano)
		case FieldStoreNumber:
			out[spec.Name] = ev.StoreNumber
		case FieldItemNumber:
			out[spec.Name] = ev.ItemNumber
		case FieldQuantity:
			out[spec.Name] = ev.Quantity
		}
	}
	return json.Marshal(out)
}

// KeyOf extracts the stock key from a payload without full validation.
// It is used for routing only; ok is false when the key cannot be read.
func (d *Decoder) KeyOf(payload []byte) (Key, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Key{}, false
	}
	itemName := d.schema.nameOf(FieldItemNumber)
	storeName := d.schema.nameOf(FieldStoreNumber)
	item, err := checkInteger(itemName, fields[itemName])
	if err != nil {
		return Key{}, false
	}
	store, err := checkInteger(storeName, fields[storeName])
	if err != nil {
		return Key{}, false
	}
	return Key{ItemNumber: item, StoreNumber: store}, true
}
