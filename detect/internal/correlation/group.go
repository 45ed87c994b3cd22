// Package correlation implements the time-window algorithms shared by
// detection rules: grouping by key, sliding-window burst detection, in-pass
// deduplication and whole-pass aggregation.
package correlation

import (
	"sort"
	"strings"
	"time"

	"github.com/telhawk-systems/secops-alerts/detect/internal/events"
)

// TimedEvent pairs an event with its parsed timestamp.
type TimedEvent struct {
	Event events.Event
	Time  time.Time
}

// Group is the set of timed events sharing one grouping key.
type Group struct {
	Key    []string
	Events []TimedEvent
}

// KeyString joins the key parts into a single map key.
func (g Group) KeyString() string {
	return joinKey(g.Key)
}

// Match reports whether an event participates in a rule.
type Match func(events.Event) bool

// KeyFunc extracts the grouping key parts of an event.
type KeyFunc func(events.Event) []string

// Timed filters evts with match and attaches timestamps. Events without a
// parseable timestamp are dropped. Input order is preserved.
func Timed(evts []events.Event, match Match) []TimedEvent {
	out := make([]TimedEvent, 0)
	for _, e := range evts {
		if len(e) == 0 || !match(e) {
			continue
		}
		ts, ok := e.Timestamp()
		if !ok {
			continue
		}
		out = append(out, TimedEvent{Event: e, Time: ts})
	}
	return out
}

// GroupBy filters evts with match and partitions them by key. Groups are
// returned in order of first appearance and each group is sorted by time
// ascending. Events without a parseable timestamp are dropped.
func GroupBy(evts []events.Event, match Match, key KeyFunc) []Group {
	index := make(map[string]int)
	groups := []Group{}

	for _, te := range Timed(evts, match) {
		parts := key(te.Event)
		k := joinKey(parts)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, Group{Key: parts})
		}
		groups[i].Events = append(groups[i].Events, te)
	}

	for i := range groups {
		SortByTime(groups[i].Events)
	}
	return groups
}

// SortByTime orders events by timestamp ascending, keeping input order for ties.
func SortByTime(evts []TimedEvent) {
	sort.SliceStable(evts, func(i, j int) bool {
		return evts[i].Time.Before(evts[j].Time)
	})
}

func joinKey(parts []string) string {
	return strings.Join(parts, "\x1f")
}
