// Package rules holds the detection rules evaluated on every pass and the
// registry that orders them.
package rules

import (
	"time"

	"github.com/telhawk-systems/secops-alerts/detect/internal/events"
	"github.com/telhawk-systems/secops-alerts/detect/internal/models"
)

// Rule is a self-contained detection algorithm.
//
// Evaluate receives the whole event batch of a pass and does its own
// filtering. It must not modify the events and must skip, not fail on,
// events missing the fields it needs.
type Rule interface {
	Name() string
	Severity() models.Severity
	Evaluate(evts []events.Event) []models.Alert
}

// Registry is an ordered, immutable list of rules.
type Registry struct {
	rules []Rule
}

// NewRegistry creates a registry evaluating rules in the given order.
func NewRegistry(rules ...Rule) *Registry {
	r := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		if rule != nil {
			r = append(r, rule)
		}
	}
	return &Registry{rules: r}
}

// Rules returns the registered rules in evaluation order.
func (r *Registry) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Len returns the number of registered rules.
func (r *Registry) Len() int {
	return len(r.rules)
}

// Config tunes the built-in rules.
type Config struct {
	FailedLoginThreshold int
	FailedLoginWindow    time.Duration
	DedupTolerance       time.Duration
	PrivilegeEventIDs    []int
	SuspiciousProcesses  []string
}

// DefaultConfig returns the stock rule configuration.
func DefaultConfig() Config {
	return Config{
		FailedLoginThreshold: DefaultFailedLoginThreshold,
		FailedLoginWindow:    DefaultFailedLoginWindow,
		DedupTolerance:       DefaultDedupTolerance,
		PrivilegeEventIDs:    DefaultPrivilegeEventIDs(),
		SuspiciousProcesses:  DefaultSuspiciousProcesses(),
	}
}

// DefaultRegistry builds the built-in rules from cfg.
func DefaultRegistry(cfg Config) *Registry {
	return NewRegistry(
		NewFailedLoginBurst(cfg.FailedLoginThreshold, cfg.FailedLoginWindow, cfg.DedupTolerance),
		NewPrivilegeEscalation(cfg.PrivilegeEventIDs),
		NewSuspiciousProcess(cfg.SuspiciousProcesses),
	)
}

func newAlert(rule Rule, id, title, description string, ts time.Time, raw []events.Event) models.Alert {
	return models.Alert{
		ID:          id,
		Title:       title,
		Description: description,
		Severity:    rule.Severity(),
		Status:      models.StatusOpen,
		Source:      models.SourceSecurityEvents,
		Timestamp:   ts.UTC(),
		EventCount:  len(raw),
		RawEvents:   raw,
	}
}
