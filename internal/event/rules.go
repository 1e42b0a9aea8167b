package event

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// Precision is the timestamp resolution kept by storage. Decoded timestamps
// are truncated to it so stored and incoming values compare exactly.
const Precision = time.Microsecond

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

var fold = cases.Fold()

// rawString unquotes a JSON string value. Non-string values are rejected.
func rawString(name string, raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", malformed("%s: expected string", name)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", malformed("%s: %v", name, err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", malformed("%s: empty value", name)
	}
	return s, nil
}

func checkUUIDv4(name string, raw json.RawMessage) (uuid.UUID, error) {
	s, err := rawString(name, raw)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, malformed("%s: not a valid UUID %q", name, s)
	}
	if id.Version() != 4 || id.Variant() != uuid.RFC4122 {
		return uuid.Nil, malformed("%s: %q is not a version 4 UUID", name, s)
	}
	return id, nil
}

func checkTimestamp(name string, raw json.RawMessage) (time.Time, error) {
	s, err := rawString(name, raw)
	if err != nil {
		return time.Time{}, err
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts.UTC().Truncate(Precision), nil
		}
	}
	return time.Time{}, malformed("%s: not a valid timestamp %q", name, s)
}

// checkInteger accepts JSON integers and decimal strings.
func checkInteger(name string, raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, malformed("%s: empty value", name)
	}
	var text string
	if raw[0] == '"' {
		s, err := rawString(name, raw)
		if err != nil {
			return 0, err
		}
		text = s
	} else {
		text = string(raw)
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, malformed("%s: not a valid integer %q", name, text)
	}
	return v, nil
}

func checkEnum(name string, raw json.RawMessage) (Type, error) {
	s, err := rawString(name, raw)
	if err != nil {
		return "", err
	}
	folded := fold.String(s)
	for _, t := range Types {
		if folded == string(t) {
			return t, nil
		}
	}
	return "", malformed("%s: %q is not one of %v", name, s, Types)
}
