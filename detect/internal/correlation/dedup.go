package correlation

import "time"

// Deduper suppresses windows for the same key whose starts fall within a
// tolerance of one already emitted in the current pass. It is not safe for
// concurrent use; create one per pass.
type Deduper struct {
	tolerance time.Duration
	seen      map[string][]time.Time
}

// NewDeduper creates a Deduper with the given tolerance.
func NewDeduper(tolerance time.Duration) *Deduper {
	return &Deduper{
		tolerance: tolerance,
		seen:      make(map[string][]time.Time),
	}
}

// Observe records a window start for key. It returns false when a start
// within the tolerance was already recorded, in which case nothing is stored.
func (d *Deduper) Observe(key []string, start time.Time) bool {
	k := joinKey(key)
	for _, prev := range d.seen[k] {
		diff := start.Sub(prev)
		if diff < 0 {
			diff = -diff
		}
		if diff <= d.tolerance {
			return false
		}
	}
	d.seen[k] = append(d.seen[k], start)
	return true
}
