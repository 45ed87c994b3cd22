// Package seeder generates synthetic Windows Security events that exercise
// the detection rules, and writes them as NDJSON or into OpenSearch.
package seeder

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

// Event is one generated Security log record.
type Event map[string]interface{}

// Time returns the event's @timestamp.
func (e Event) Time() time.Time {
	s, _ := e["@timestamp"].(string)
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// Params tunes a scenario. Zero values pick the scenario's defaults.
type Params struct {
	Now        time.Time
	Count      int
	TargetUser string
	SourceIP   string
	Host       string
}

// Scenario produces a batch of related events.
type Scenario interface {
	Name() string
	Description() string
	DefaultCount() int
	Generate(g *Generator, p Params) []Event
}

var registry = map[string]Scenario{}

func register(s Scenario) {
	registry[s.Name()] = s
}

// Get retrieves a scenario by name.
func Get(name string) (Scenario, bool) {
	s, ok := registry[name]
	return s, ok
}

// List returns all scenarios sorted by name.
func List() []Scenario {
	out := make([]Scenario, 0, len(registry))
	for _, s := range registry {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Generator owns the random source and the record counter shared by all
// scenarios of one run.
type Generator struct {
	faker  *gofakeit.Faker
	rnd    *rand.Rand
	record int64
}

// NewGenerator creates a generator. The same seed yields the same events.
func NewGenerator(seed int64) *Generator {
	return &Generator{
		faker:  gofakeit.New(seed),
		rnd:    rand.New(rand.NewSource(seed)),
		record: 1000 + seed%1000,
	}
}

// Run generates every named scenario and returns the events oldest first.
func (g *Generator) Run(names []string, p Params) ([]Event, error) {
	if p.Now.IsZero() {
		p.Now = time.Now().UTC()
	}
	var out []Event
	for _, name := range names {
		s, ok := Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown scenario %q", name)
		}
		sp := p
		if sp.Count <= 0 {
			sp.Count = s.DefaultCount()
		}
		out = append(out, s.Generate(g, sp)...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time().Before(out[j].Time()) })
	return out, nil
}

func (g *Generator) host(p Params) string {
	if p.Host != "" {
		return p.Host
	}
	return fmt.Sprintf("WS-%s.corp.local", g.faker.LetterN(6))
}

func (g *Generator) user(p Params) string {
	if p.TargetUser != "" {
		return p.TargetUser
	}
	return g.faker.Username()
}

func (g *Generator) ip(p Params) string {
	if p.SourceIP != "" {
		return p.SourceIP
	}
	return g.faker.IPv4Address()
}

func (g *Generator) event(kind int, host string, at time.Time) Event {
	g.record++
	ts := at.UTC().Format(time.RFC3339Nano)
	return Event{
		"EventID":       kind,
		"@timestamp":    ts,
		"TimeGenerated": ts,
		"Computer":      host,
		"Channel":       "Security",
		"EventRecordID": strconv.FormatInt(g.record, 10),
	}
}

// jitter returns a random duration in [0, max).
func (g *Generator) jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(g.rnd.Int63n(int64(max)))
}
