package eventsource

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/secops-alerts/detect/internal/events"
	"github.com/telhawk-systems/secops-alerts/detect/internal/storage"
)

type fakeRows struct {
	rows  []events.Event
	err   error
	after []time.Time
}

func (f *fakeRows) After(_ context.Context, wm time.Time) ([]events.Event, error) {
	f.after = append(f.after, wm)
	return f.rows, f.err
}

type fakeSink struct {
	indexFn func(evts []events.Event) (storage.BulkResult, error)
	got     []events.Event
}

func (f *fakeSink) Index(_ context.Context, evts []events.Event) (storage.BulkResult, error) {
	f.got = append(f.got, evts...)
	if f.indexFn != nil {
		return f.indexFn(evts)
	}
	return storage.BulkResult{Indexed: len(evts)}, nil
}

func TestSyncer_Sync(t *testing.T) {
	t0 := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	rows := &fakeRows{rows: []events.Event{
		{"TimeGenerated": "2024-01-15T10:05:00Z", "EventID": 4625},
		{"TimeGenerated": "2024-01-15T10:07:00Z", "EventID": 4625},
		{"EventID": 4688},
	}}
	sink := &fakeSink{}
	wm := &MemoryWatermarkStore{}
	_, _ = wm.Advance(context.Background(), t0)

	s := NewSyncer(rows, sink, wm, nil)
	res, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Fetched)
	assert.Equal(t, 2, res.Indexed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, t0.Add(7*time.Minute), res.Watermark)
	assert.Equal(t, []time.Time{t0}, rows.after)

	require.Len(t, sink.got, 2)
	assert.Equal(t, "2024-01-15T10:05:00Z", sink.got[0][events.FieldTimestamp], "@timestamp filled from TimeGenerated")

	got, _ := wm.Get(context.Background())
	assert.Equal(t, t0.Add(7*time.Minute), got)
}

func TestSyncer_WatermarkFollowsTimeGenerated(t *testing.T) {
	rows := &fakeRows{rows: []events.Event{
		{"TimeGenerated": "2024-01-15T10:05:00Z", "@timestamp": "2024-01-15T11:30:00Z"},
		{"@timestamp": "2024-01-15T10:02:00Z"},
	}}
	sink := &fakeSink{}
	wm := &MemoryWatermarkStore{}

	res, err := NewSyncer(rows, sink, wm, nil).Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Indexed)

	want := time.Date(2024, 1, 15, 10, 5, 0, 0, time.UTC)
	assert.Equal(t, want, res.Watermark)
	got, _ := wm.Get(context.Background())
	assert.Equal(t, want, got)
	assert.Equal(t, "2024-01-15T11:30:00Z", sink.got[0][events.FieldTimestamp], "existing @timestamp kept")
}

func TestSyncer_NothingNew(t *testing.T) {
	sink := &fakeSink{}
	s := NewSyncer(&fakeRows{}, sink, nil, nil)

	res, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Fetched)
	assert.Empty(t, sink.got)
}

func TestSyncer_PartialFailureHoldsWatermark(t *testing.T) {
	rows := &fakeRows{rows: []events.Event{
		{"TimeGenerated": "2024-01-15T10:05:00Z"},
		{"TimeGenerated": "2024-01-15T10:06:00Z"},
	}}
	sink := &fakeSink{indexFn: func(evts []events.Event) (storage.BulkResult, error) {
		return storage.BulkResult{Indexed: 1, Failed: 1, Errors: []string{"mapper_parsing_exception"}}, nil
	}}
	wm := &MemoryWatermarkStore{}

	_, err := NewSyncer(rows, sink, wm, nil).Sync(context.Background())
	require.Error(t, err)

	got, _ := wm.Get(context.Background())
	assert.True(t, got.IsZero())
}

func TestSyncer_SourceError(t *testing.T) {
	s := NewSyncer(&fakeRows{err: errors.New("timeout")}, &fakeSink{}, nil, nil)
	_, err := s.Sync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}
