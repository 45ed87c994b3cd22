// Package models defines the alert record and its document representation.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/telhawk-systems/secops-alerts/detect/internal/events"
)

var (
	ErrInvalidSeverity = errors.New("invalid alert severity")
	ErrInvalidStatus   = errors.New("invalid alert status")
)

// Severity ranks an alert for display and sorting.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists every severity from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// ParseSeverity converts a case-insensitive string into a Severity.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if !sev.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSeverity, s)
	}
	return sev, nil
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank orders severities; higher is more severe. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Status is the triage state of an alert. Any status may move to any other;
// new alerts always start OPEN.
type Status string

const (
	StatusOpen          Status = "open"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
	StatusFalsePositive Status = "false_positive"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusOpen, StatusInvestigating, StatusResolved, StatusFalsePositive}

// ParseStatus converts a case-insensitive string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInvestigating, StatusResolved, StatusFalsePositive:
		return true
	}
	return false
}

// SourceSecurityEvents labels alerts derived from the Windows Security log.
const SourceSecurityEvents = "Security Events"

// Alert is a materialized detection result.
//
// EventCount always equals len(RawEvents). ID is derived from the rule, its
// grouping key and the window start, so re-running detection over unchanged
// data yields the same ID.
type Alert struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Severity      Severity       `json:"severity"`
	Status        Status         `json:"status"`
	Source        string         `json:"source"`
	Timestamp     time.Time      `json:"timestamp"`
	EventCount    int            `json:"event_count"`
	AffectedUsers []string       `json:"affected_users"`
	SourceIPs     []string       `json:"source_ips"`
	EventIDs      []string       `json:"event_ids"`
	RawEvents     []events.Event `json:"raw_events"`
	CreatedAt     *time.Time     `json:"created_at,omitempty"`
	UpdatedAt     *time.Time     `json:"updated_at,omitempty"`
}

// AlertID builds a deterministic identifier of the form "<prefix>_<hash>",
// where hash covers the rule name, grouping key parts and window start.
func AlertID(prefix, rule string, windowStart time.Time, keyParts ...string) string {
	h := sha256.New()
	h.Write([]byte(rule))
	for _, p := range keyParts {
		h.Write([]byte{0x1f})
		h.Write([]byte(p))
	}
	h.Write([]byte{0x1f})
	h.Write([]byte(windowStart.UTC().Format(time.RFC3339Nano)))
	return prefix + "_" + hex.EncodeToString(h.Sum(nil))[:16]
}
