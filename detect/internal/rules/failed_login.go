package rules

import (
	"fmt"
	"time"

	"github.com/telhawk-systems/secops-alerts/detect/internal/correlation"
	"github.com/telhawk-systems/secops-alerts/detect/internal/events"
	"github.com/telhawk-systems/secops-alerts/detect/internal/models"
)

const (
	DefaultFailedLoginThreshold = 5
	DefaultFailedLoginWindow    = 10 * time.Minute
	DefaultDedupTolerance       = 5 * time.Minute

	unknownIdentity = "Unknown"
)

// FailedLoginBurst alerts when one source address fails to log on as one
// target account at least Threshold times within Window.
type FailedLoginBurst struct {
	Threshold      int
	Window         time.Duration
	DedupTolerance time.Duration
}

// NewFailedLoginBurst creates the rule, substituting defaults for
// non-positive settings.
func NewFailedLoginBurst(threshold int, window, dedupTolerance time.Duration) *FailedLoginBurst {
	if threshold <= 0 {
		threshold = DefaultFailedLoginThreshold
	}
	if window <= 0 {
		window = DefaultFailedLoginWindow
	}
	if dedupTolerance < 0 {
		dedupTolerance = DefaultDedupTolerance
	}
	return &FailedLoginBurst{Threshold: threshold, Window: window, DedupTolerance: dedupTolerance}
}

func (r *FailedLoginBurst) Name() string              { return "Multiple Failed Logins" }
func (r *FailedLoginBurst) Severity() models.Severity { return models.SeverityHigh }

// Evaluate emits at most one alert per (source address, target account).
func (r *FailedLoginBurst) Evaluate(evts []events.Event) []models.Alert {
	groups := correlation.GroupBy(evts, isLogonFailure, sourceAndTarget)
	dedup := correlation.NewDeduper(r.DedupTolerance)

	alerts := []models.Alert{}
	for _, g := range groups {
		w, ok := correlation.FirstBurst(g.Events, r.Window, r.Threshold)
		if !ok {
			continue
		}
		if !dedup.Observe(g.Key, w.Start()) {
			continue
		}

		sourceIP, target := g.Key[0], g.Key[1]
		description := fmt.Sprintf(
			"Detected %d failed login attempts for user '%s' from IP %s within %.1f minutes (window %d minutes)",
			len(w.Events), target, sourceIP, w.Span().Minutes(), int(r.Window.Minutes()),
		)

		alert := newAlert(r,
			models.AlertID("failed_logins", r.Name(), w.Start(), sourceIP, target),
			"Multiple Failed Login Attempts",
			description,
			w.Trigger,
			w.Raw(),
		)
		alert.AffectedUsers = []string{target}
		alert.SourceIPs = []string{sourceIP}
		alert.EventIDs = correlation.RecordIDs(w.Events)
		alerts = append(alerts, alert)
	}
	return alerts
}

func isLogonFailure(e events.Event) bool {
	return e.Is(events.KindLogonFailure)
}

func sourceAndTarget(e events.Event) []string {
	return []string{
		e.StringOr(events.FieldIPAddress, unknownIdentity),
		e.StringOr(events.FieldTargetUser, unknownIdentity),
	}
}
