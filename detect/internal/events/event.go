// Package events provides typed access to normalized security event records.
//
// An Event is the decoded JSON document produced by the event source. Field
// access never panics: every accessor reports whether the field was present
// and well-formed so callers can skip malformed records explicitly.
package events

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Well-known Windows Security log fields.
const (
	FieldEventID       = "EventID"
	FieldTimestamp     = "@timestamp"
	FieldTimeGenerated = "TimeGenerated"
	FieldIPAddress     = "IpAddress"
	FieldTargetUser    = "TargetUserName"
	FieldSubjectUser   = "SubjectUserName"
	FieldProcessName   = "NewProcessName"
	FieldRecordID      = "EventRecordID"
	FieldComputer      = "Computer"

	// FieldTable holds the Log Analytics table a row was flattened from.
	FieldTable = "_table"
)

// Windows Security event IDs the detection rules understand.
const (
	KindLogonSuccess            = 4624
	KindLogonFailure            = 4625
	KindProcessCreated          = 4688
	KindMemberAddedGlobalGroup  = 4728
	KindMemberAddedLocalGroup   = 4732
	KindMemberAddedUniversalGrp = 4756
)

// Event is a single normalized security event.
type Event map[string]any

// Lookup returns the raw value at path. Dotted paths descend into nested
// objects; an exact top-level key always wins over a dotted interpretation.
func (e Event) Lookup(path string) (any, bool) {
	if e == nil {
		return nil, false
	}
	if v, ok := e[path]; ok {
		return v, v != nil
	}
	if !strings.Contains(path, ".") {
		return nil, false
	}

	var current any = map[string]any(e)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok || current == nil {
			return nil, false
		}
	}
	return current, true
}

// String returns the non-empty string value at path. Numbers are formatted
// in their integer form when they have no fractional part.
func (e Event) String(path string) (string, bool) {
	v, ok := e.Lookup(path)
	if !ok {
		return "", false
	}
	var s string
	switch val := v.(type) {
	case string:
		s = strings.TrimSpace(val)
	case json.Number:
		s = val.String()
	case float64:
		if val == math.Trunc(val) {
			s = strconv.FormatInt(int64(val), 10)
		} else {
			s = strconv.FormatFloat(val, 'f', -1, 64)
		}
	case int:
		s = strconv.Itoa(val)
	case int64:
		s = strconv.FormatInt(val, 10)
	default:
		return "", false
	}
	return s, s != ""
}

// StringOr returns the string at path or fallback when it is absent.
func (e Event) StringOr(path, fallback string) string {
	if s, ok := e.String(path); ok {
		return s
	}
	return fallback
}

// Int returns the integer value at path. Digit-only strings are accepted.
func (e Event) Int(path string) (int, bool) {
	v, ok := e.Lookup(path)
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case float64:
		if val != math.Trunc(val) {
			return 0, false
		}
		return int(val), true
	case int:
		return val, true
	case int64:
		return int(val), true
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// Kind returns the event ID identifying what happened.
func (e Event) Kind() (int, bool) {
	return e.Int(FieldEventID)
}

// Is reports whether the event's kind is one of kinds.
func (e Event) Is(kinds ...int) bool {
	k, ok := e.Kind()
	if !ok {
		return false
	}
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

// Timestamp returns when the event occurred, preferring @timestamp and
// falling back to TimeGenerated. The result is always in UTC.
func (e Event) Timestamp() (time.Time, bool) {
	for _, field := range []string{FieldTimestamp, FieldTimeGenerated} {
		if v, ok := e.Lookup(field); ok {
			if t, ok := ParseTime(v); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// RecordID returns the event record identifier or "" if the event has none.
func (e Event) RecordID() string {
	return e.StringOr(FieldRecordID, "")
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTime interprets v as an ISO-8601 timestamp. Timestamps without a zone
// are treated as UTC.
func ParseTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val.UTC(), !val.IsZero()
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Event:
		return m, true
	}
	return nil, false
}
