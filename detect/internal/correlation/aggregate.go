package correlation

import (
	"time"

	"github.com/telhawk-systems/secops-alerts/detect/internal/events"
)

// Aggregate is every matching event of a pass, summarized for a single alert.
type Aggregate struct {
	Events []TimedEvent
	First  time.Time
	Last   time.Time
}

// Collect gathers every event accepted by match into one aggregate, keeping
// input order. It reports false when nothing matched.
func Collect(evts []events.Event, match Match) (Aggregate, bool) {
	timed := Timed(evts, match)
	if len(timed) == 0 {
		return Aggregate{}, false
	}

	agg := Aggregate{Events: timed, First: timed[0].Time, Last: timed[0].Time}
	for _, te := range timed[1:] {
		if te.Time.Before(agg.First) {
			agg.First = te.Time
		}
		if te.Time.After(agg.Last) {
			agg.Last = te.Time
		}
	}
	return agg, true
}

// Raw returns the aggregated events in input order.
func (a Aggregate) Raw() []events.Event {
	out := make([]events.Event, len(a.Events))
	for i, te := range a.Events {
		out[i] = te.Event
	}
	return out
}

// Values collects the distinct values of field across evts
// in first-seen order. Missing values are replaced by fallback unless
// fallback is empty, in which case they are skipped.
func Values(evts []TimedEvent, field, fallback string) []string {
	set := NewOrderedSet()
	for _, te := range evts {
		v, ok := te.Event.String(field)
		if !ok {
			v = fallback
		}
		set.Add(v)
	}
	return set.Items()
}

// RecordIDs returns the non-empty record IDs of evts in order.
func RecordIDs(evts []TimedEvent) []string {
	ids := make([]string, 0, len(evts))
	for _, te := range evts {
		if id := te.Event.RecordID(); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// OrderedSet is a string set that remembers insertion order.
type OrderedSet struct {
	seen  map[string]struct{}
	items []string
}

// NewOrderedSet creates an empty OrderedSet.
func NewOrderedSet() *OrderedSet {
	return &OrderedSet{seen: make(map[string]struct{})}
}

// Add inserts v unless it is empty or already present.
func (s *OrderedSet) Add(v string) {
	if v == "" {
		return
	}
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}

// Items returns the values in insertion order.
func (s *OrderedSet) Items() []string {
	out := make([]string, len(s.items))
	copy(out, s.items)
	return out
}
