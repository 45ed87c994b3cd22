package rules

import (
	"fmt"
	"strings"

	"github.com/telhawk-systems/secops-alerts/detect/internal/correlation"
	"github.com/telhawk-systems/secops-alerts/detect/internal/events"
	"github.com/telhawk-systems/secops-alerts/detect/internal/models"
)

// DefaultPrivilegeEventIDs are the "member added to security-enabled group"
// events for global, local and universal groups.
func DefaultPrivilegeEventIDs() []int {
	return []int{
		events.KindMemberAddedGlobalGroup,
		events.KindMemberAddedLocalGroup,
		events.KindMemberAddedUniversalGrp,
	}
}

// PrivilegeEscalation raises one alert per pass covering every privileged
// group membership change.
type PrivilegeEscalation struct {
	EventIDs []int
}

// NewPrivilegeEscalation creates the rule; an empty list selects the defaults.
func NewPrivilegeEscalation(eventIDs []int) *PrivilegeEscalation {
	if len(eventIDs) == 0 {
		eventIDs = DefaultPrivilegeEventIDs()
	}
	return &PrivilegeEscalation{EventIDs: eventIDs}
}

func (r *PrivilegeEscalation) Name() string              { return "Privilege Escalation" }
func (r *PrivilegeEscalation) Severity() models.Severity { return models.SeverityCritical }

func (r *PrivilegeEscalation) Evaluate(evts []events.Event) []models.Alert {
	agg, ok := correlation.Collect(evts, func(e events.Event) bool {
		return e.Is(r.EventIDs...)
	})
	if !ok {
		return []models.Alert{}
	}

	users := correlation.Values(agg.Events, events.FieldTargetUser, unknownIdentity)
	alert := newAlert(r,
		models.AlertID("privilege_escalation", r.Name(), agg.First),
		"Potential Privilege Escalation Detected",
		fmt.Sprintf("Detected %d privilege escalation events affecting users: %s", len(agg.Events), strings.Join(users, ", ")),
		agg.Last,
		agg.Raw(),
	)
	alert.AffectedUsers = users
	alert.SourceIPs = correlation.Values(agg.Events, events.FieldIPAddress, "")
	alert.EventIDs = correlation.RecordIDs(agg.Events)
	return []models.Alert{alert}
}
