package correlation

import (
	"time"

	"github.com/telhawk-systems/secops-alerts/detect/internal/events"
)

// Window is a run of time-sorted events that cleared a threshold.
type Window struct {
	Events []TimedEvent
	// Trigger is the time of the event that brought the count to threshold.
	Trigger time.Time
}

// Start returns the time of the first event in the window.
func (w Window) Start() time.Time {
	return w.Events[0].Time
}

// End returns the time of the last event in the window.
func (w Window) End() time.Time {
	return w.Events[len(w.Events)-1].Time
}

// Span is the time between the first and last event.
func (w Window) Span() time.Duration {
	return w.End().Sub(w.Start())
}

// Raw returns the underlying events in time order.
func (w Window) Raw() []events.Event {
	out := make([]events.Event, len(w.Events))
	for i, te := range w.Events {
		out[i] = te.Event
	}
	return out
}

// FirstBurst slides a window of width over evts, which must be sorted by
// time ascending. For each start index it scans forward until the first
// event more than width after the start, and returns the first window that
// holds at least threshold events. Only one window is returned per call so
// overlapping windows never produce duplicates.
func FirstBurst(evts []TimedEvent, width time.Duration, threshold int) (Window, bool) {
	if threshold <= 0 || len(evts) < threshold {
		return Window{}, false
	}

	for i := range evts {
		// Not enough events left to reach threshold from here.
		if len(evts)-i < threshold {
			break
		}

		limit := evts[i].Time.Add(width)
		j := i
		for j < len(evts) && !evts[j].Time.After(limit) {
			j++
		}

		if j-i >= threshold {
			captured := make([]TimedEvent, j-i)
			copy(captured, evts[i:j])
			return Window{
				Events:  captured,
				Trigger: evts[i+threshold-1].Time,
			}, true
		}
	}
	return Window{}, false
}
