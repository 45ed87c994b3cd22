package logging

import (
	"log/slog"
	"time"
)

// Common field names for consistent logging across packages.
const (
	FieldService   = "service"
	FieldRequestID = "request_id"
	FieldRule      = "rule"
	FieldAlertID   = "alert_id"
	FieldCount     = "count"
	FieldIndex     = "index"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Rule returns a slog attribute for a detection rule name.
func Rule(name string) slog.Attr {
	return slog.String(FieldRule, name)
}

// AlertID returns a slog attribute for an alert identifier.
func AlertID(id string) slog.Attr {
	return slog.String(FieldAlertID, id)
}

// Count returns a slog attribute for a result count.
func Count(n int) slog.Attr {
	return slog.Int(FieldCount, n)
}

// Index returns a slog attribute for an OpenSearch index or index pattern.
func Index(name string) slog.Attr {
	return slog.String(FieldIndex, name)
}

// Duration returns a slog attribute for an elapsed duration in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Int64(FieldDuration, d.Milliseconds())
}

// Error returns a slog attribute for an error. A nil error is logged as an empty string.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
