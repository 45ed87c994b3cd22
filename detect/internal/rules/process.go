package rules

import (
	"fmt"
	"strings"

	"github.com/telhawk-systems/secops-alerts/detect/internal/correlation"
	"github.com/telhawk-systems/secops-alerts/detect/internal/events"
	"github.com/telhawk-systems/secops-alerts/detect/internal/models"
)

// DefaultSuspiciousProcesses lists interpreters and admin binaries commonly
// abused for living-off-the-land execution.
func DefaultSuspiciousProcesses() []string {
	return []string{
		"powershell.exe", "cmd.exe", "wscript.exe", "cscript.exe",
		"rundll32.exe", "regsvr32.exe", "mshta.exe", "certutil.exe",
	}
}

// SuspiciousProcess raises one alert per pass covering every process
// creation whose image name contains a denylisted binary.
type SuspiciousProcess struct {
	Denylist []string
}

// NewSuspiciousProcess creates the rule; an empty list selects the defaults.
// Names are matched case-insensitively.
func NewSuspiciousProcess(denylist []string) *SuspiciousProcess {
	if len(denylist) == 0 {
		denylist = DefaultSuspiciousProcesses()
	}
	lowered := make([]string, 0, len(denylist))
	for _, name := range denylist {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			lowered = append(lowered, name)
		}
	}
	return &SuspiciousProcess{Denylist: lowered}
}

func (r *SuspiciousProcess) Name() string              { return "Suspicious Process" }
func (r *SuspiciousProcess) Severity() models.Severity { return models.SeverityMedium }

func (r *SuspiciousProcess) Evaluate(evts []events.Event) []models.Alert {
	agg, ok := correlation.Collect(evts, r.matches)
	if !ok {
		return []models.Alert{}
	}

	users := correlation.Values(agg.Events, events.FieldSubjectUser, unknownIdentity)
	alert := newAlert(r,
		models.AlertID("suspicious_process", r.Name(), agg.First),
		"Suspicious Process Activity Detected",
		fmt.Sprintf("Detected %d suspicious process executions by users: %s", len(agg.Events), strings.Join(users, ", ")),
		agg.Last,
		agg.Raw(),
	)
	alert.AffectedUsers = users
	alert.SourceIPs = correlation.Values(agg.Events, events.FieldIPAddress, "")
	alert.EventIDs = correlation.RecordIDs(agg.Events)
	return []models.Alert{alert}
}

func (r *SuspiciousProcess) matches(e events.Event) bool {
	if !e.Is(events.KindProcessCreated) {
		return false
	}
	name, ok := e.String(events.FieldProcessName)
	if !ok {
		return false
	}
	name = strings.ToLower(name)
	for _, bad := range r.Denylist {
		if strings.Contains(name, bad) {
			return true
		}
	}
	return false
}
