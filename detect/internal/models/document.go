package models

import (
	"fmt"
	"time"

	"github.com/telhawk-systems/secops-alerts/detect/internal/events"
)

// Alert document field names, shared by the store and API.
const (
	DocID            = "id"
	DocTitle         = "title"
	DocDescription   = "description"
	DocSeverity      = "severity"
	DocStatus        = "status"
	DocSource        = "source"
	DocTimestamp     = "timestamp"
	DocEventCount    = "event_count"
	DocAffectedUsers = "affected_users"
	DocSourceIPs     = "source_ips"
	DocEventIDs      = "event_ids"
	DocRawEvents     = "raw_events"
	DocCreatedAt     = "created_at"
	DocUpdatedAt     = "updated_at"
)

// ToDocument flattens the alert into its persisted form. Severity and status
// become their string values and timestamps become RFC 3339 strings in UTC.
func (a Alert) ToDocument() map[string]any {
	raw := make([]any, 0, len(a.RawEvents))
	for _, e := range a.RawEvents {
		raw = append(raw, map[string]any(e))
	}
	doc := map[string]any{
		DocID:            a.ID,
		DocTitle:         a.Title,
		DocDescription:   a.Description,
		DocSeverity:      string(a.Severity),
		DocStatus:        string(a.Status),
		DocSource:        a.Source,
		DocTimestamp:     formatTime(a.Timestamp),
		DocEventCount:    a.EventCount,
		DocAffectedUsers: nonNil(a.AffectedUsers),
		DocSourceIPs:     nonNil(a.SourceIPs),
		DocEventIDs:      nonNil(a.EventIDs),
		DocRawEvents:     raw,
	}
	if a.CreatedAt != nil {
		doc[DocCreatedAt] = formatTime(*a.CreatedAt)
	}
	if a.UpdatedAt != nil {
		doc[DocUpdatedAt] = formatTime(*a.UpdatedAt)
	}
	return doc
}

// FromDocument rebuilds an alert from its persisted form. Numbers decoded by
// encoding/json as float64 are accepted for event_count.
func FromDocument(doc map[string]any) (Alert, error) {
	var a Alert
	var err error

	if a.ID, err = requireString(doc, DocID); err != nil {
		return Alert{}, err
	}
	a.Title = optString(doc, DocTitle)
	a.Description = optString(doc, DocDescription)
	a.Source = optString(doc, DocSource)

	if a.Severity, err = ParseSeverity(optString(doc, DocSeverity)); err != nil {
		return Alert{}, fmt.Errorf("alert %s: %w", a.ID, err)
	}
	if a.Status, err = ParseStatus(optString(doc, DocStatus)); err != nil {
		return Alert{}, fmt.Errorf("alert %s: %w", a.ID, err)
	}

	ts, ok := events.ParseTime(doc[DocTimestamp])
	if !ok {
		return Alert{}, fmt.Errorf("alert %s: invalid timestamp %v", a.ID, doc[DocTimestamp])
	}
	a.Timestamp = ts

	if n, ok := events.Event(doc).Int(DocEventCount); ok {
		a.EventCount = n
	}
	a.AffectedUsers = stringList(doc[DocAffectedUsers])
	a.SourceIPs = stringList(doc[DocSourceIPs])
	a.EventIDs = stringList(doc[DocEventIDs])

	if list, ok := doc[DocRawEvents].([]any); ok {
		a.RawEvents = make([]events.Event, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				a.RawEvents = append(a.RawEvents, events.Event(m))
			}
		}
	} else if list, ok := doc[DocRawEvents].([]events.Event); ok {
		a.RawEvents = list
	}
	if a.RawEvents == nil {
		a.RawEvents = []events.Event{}
	}

	if t, ok := events.ParseTime(doc[DocCreatedAt]); ok {
		a.CreatedAt = &t
	}
	if t, ok := events.ParseTime(doc[DocUpdatedAt]); ok {
		a.UpdatedAt = &t
	}
	return a, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func requireString(doc map[string]any, key string) (string, error) {
	s, ok := doc[key].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("alert document missing %q", key)
	}
	return s, nil
}

func optString(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return s
}

func stringList(v any) []string {
	out := []string{}
	switch list := v.(type) {
	case []string:
		out = append(out, list...)
	case []any:
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}
