package event

import (
	"sort"
	"strings"
)

// Field names an Event attribute independent of its wire name.
type Field int

const (
	FieldTransactionID Field = iota
	FieldEventType
	FieldOccurredAt
	FieldStoreNumber
	FieldItemNumber
	FieldQuantity
)

// Rule is the closed set of field checks.
type Rule int

const (
	RuleUUIDv4 Rule = iota + 1
	RuleTimestamp
	RuleInteger
	RuleEnum
)

func (r Rule) String() string {
	switch r {
	case RuleUUIDv4:
		return "uuid_v4"
	case RuleTimestamp:
		return "timestamp"
	case RuleInteger:
		return "integer"
	case RuleEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// FieldSpec binds a wire name to a field and the rule that checks it.
type FieldSpec struct {
	Field Field
	Name  string
	Rule  Rule
}

// Schema is the exact field set a message must carry.
type Schema struct {
	Name   string
	Fields []FieldSpec
}

// StandardSchema uses the field names of the event model.
func StandardSchema() Schema {
	return Schema{
		Name: "standard",
		Fields: []FieldSpec{
			{Field: FieldTransactionID, Name: "transaction_id", Rule: RuleUUIDv4},
			{Field: FieldEventType, Name: "event_type", Rule: RuleEnum},
			{Field: FieldOccurredAt, Name: "occurred_at", Rule: RuleTimestamp},
			{Field: FieldStoreNumber, Name: "store_number", Rule: RuleInteger},
			{Field: FieldItemNumber, Name: "item_number", Rule: RuleInteger},
			{Field: FieldQuantity, Name: "quantity", Rule: RuleInteger},
		},
	}
}

// LegacySchema matches the CSV exports produced by store systems
// (date/value instead of occurred_at/quantity).
func LegacySchema() Schema {
	return Schema{
		Name: "legacy",
		Fields: []FieldSpec{
			{Field: FieldTransactionID, Name: "transaction_id", Rule: RuleUUIDv4},
			{Field: FieldEventType, Name: "event_type", Rule: RuleEnum},
			{Field: FieldOccurredAt, Name: "date", Rule: RuleTimestamp},
			{Field: FieldStoreNumber, Name: "store_number", Rule: RuleInteger},
			{Field: FieldItemNumber, Name: "item_number", Rule: RuleInteger},
			{Field: FieldQuantity, Name: "value", Rule: RuleInteger},
		},
	}
}

// SchemaByName resolves a configured schema name.
func SchemaByName(name string) (Schema, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "standard":
		return StandardSchema(), true
	case "legacy":
		return LegacySchema(), true
	default:
		return Schema{}, false
	}
}

// Names returns the wire names in schema order.
func (s Schema) Names() []string {
	names := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		names = append(names, f.Name)
	}
	return names
}

// nameOf returns the wire name bound to field.
func (s Schema) nameOf(field Field) string {
	for _, f := range s.Fields {
		if f.Field == field {
			return f.Name
		}
	}
	return ""
}

// diff reports which schema names are missing from keys and which keys are unknown.
func (s Schema) diff(keys []string) (missing, extra []string) {
	want := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		want[f.Name] = struct{}{}
	}
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		seen[k] = struct{}{}
		if _, ok := want[k]; !ok {
			extra = append(extra, k)
		}
	}
	for _, f := range s.Fields {
		if _, ok := seen[f.Name]; !ok {
			missing = append(missing, f.Name)
		}
	}
	sort.Strings(extra)
	return missing, extra
}
