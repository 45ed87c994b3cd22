package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/secops-alerts/detect/internal/events"
)

func sampleAlert() Alert {
	created := time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC)
	return Alert{
		ID:            "failed_logins_0123456789abcdef",
		Title:         "Multiple Failed Login Attempts",
		Description:   "Detected 5 failed login attempts",
		Severity:      SeverityHigh,
		Status:        StatusOpen,
		Source:        SourceSecurityEvents,
		Timestamp:     time.Date(2024, 1, 15, 10, 34, 0, 0, time.UTC),
		EventCount:    2,
		AffectedUsers: []string{"test@example.com"},
		SourceIPs:     []string{"192.168.1.100"},
		EventIDs:      []string{"1", "2"},
		RawEvents: []events.Event{
			{"EventID": float64(4625), "EventRecordID": "1"},
			{"EventID": float64(4625), "EventRecordID": "2"},
		},
		CreatedAt: &created,
		UpdatedAt: &created,
	}
}

func TestParseSeverity(t *testing.T) {
	for _, s := range Severities {
		got, err := ParseSeverity(strings.ToUpper(string(s)))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	_, err := ParseSeverity("urgent")
	assert.True(t, errors.Is(err, ErrInvalidSeverity))
	_, err = ParseSeverity("")
	assert.True(t, errors.Is(err, ErrInvalidSeverity))
}

func TestParseStatus(t *testing.T) {
	for _, s := range Statuses {
		got, err := ParseStatus(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	_, err := ParseStatus("closed")
	assert.True(t, errors.Is(err, ErrInvalidStatus))
}

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.Equal(t, 0, Severity("bogus").Rank())
}

func TestAlertID(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	id := AlertID("failed_logins", "Multiple Failed Logins", start, "10.0.0.1", "alice")
	assert.True(t, strings.HasPrefix(id, "failed_logins_"))
	assert.Len(t, strings.TrimPrefix(id, "failed_logins_"), 16)

	t.Run("stable", func(t *testing.T) {
		again := AlertID("failed_logins", "Multiple Failed Logins", start.In(time.FixedZone("x", 3600)), "10.0.0.1", "alice")
		assert.Equal(t, id, again)
	})

	t.Run("sub-second window starts differ", func(t *testing.T) {
		other := AlertID("failed_logins", "Multiple Failed Logins", start.Add(500*time.Millisecond), "10.0.0.1", "alice")
		assert.NotEqual(t, id, other)
	})

	t.Run("key boundaries matter", func(t *testing.T) {
		a := AlertID("p", "r", start, "ab", "c")
		b := AlertID("p", "r", start, "a", "bc")
		assert.NotEqual(t, a, b)
	})

	t.Run("rule matters", func(t *testing.T) {
		assert.NotEqual(t, id, AlertID("failed_logins", "Other Rule", start, "10.0.0.1", "alice"))
	})
}

func TestDocumentRoundTrip(t *testing.T) {
	a := sampleAlert()

	doc := a.ToDocument()
	assert.Equal(t, "high", doc[DocSeverity])
	assert.Equal(t, "open", doc[DocStatus])
	assert.Equal(t, "2024-01-15T10:34:00Z", doc[DocTimestamp])

	back, err := FromDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, a.ID, back.ID)
	assert.Equal(t, a.Severity, back.Severity)
	assert.Equal(t, a.Status, back.Status)
	assert.True(t, a.Timestamp.Equal(back.Timestamp))
	assert.Equal(t, a.EventCount, back.EventCount)
	assert.Equal(t, a.AffectedUsers, back.AffectedUsers)
	assert.Equal(t, a.SourceIPs, back.SourceIPs)
	assert.Equal(t, a.EventIDs, back.EventIDs)
	assert.Equal(t, a.RawEvents, back.RawEvents)
	require.NotNil(t, back.CreatedAt)
	assert.True(t, a.CreatedAt.Equal(*back.CreatedAt))
}

func TestDocumentRoundTripThroughJSON(t *testing.T) {
	a := sampleAlert()

	data, err := json.Marshal(a.ToDocument())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))

	back, err := FromDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, 2, back.EventCount)
	assert.Equal(t, []string{"192.168.1.100"}, back.SourceIPs)
	require.Len(t, back.RawEvents, 2)
	assert.Equal(t, "2", back.RawEvents[1].RecordID())
	assert.True(t, a.Timestamp.Equal(back.Timestamp))
}

func TestFromDocumentErrors(t *testing.T) {
	valid := sampleAlert().ToDocument()

	tests := []struct {
		name   string
		mutate func(map[string]any)
		target error
	}{
		{"missing id", func(d map[string]any) { delete(d, DocID) }, nil},
		{"bad severity", func(d map[string]any) { d[DocSeverity] = "urgent" }, ErrInvalidSeverity},
		{"bad status", func(d map[string]any) { d[DocStatus] = "closed" }, ErrInvalidStatus},
		{"bad timestamp", func(d map[string]any) { d[DocTimestamp] = "soon" }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := make(map[string]any, len(valid))
			for k, v := range valid {
				doc[k] = v
			}
			tt.mutate(doc)

			_, err := FromDocument(doc)
			require.Error(t, err)
			if tt.target != nil {
				assert.True(t, errors.Is(err, tt.target))
			}
		})
	}
}

func TestAlertJSONShape(t *testing.T) {
	data, err := json.Marshal(sampleAlert())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	for _, key := range []string{DocID, DocTitle, DocDescription, DocSeverity, DocStatus, DocSource,
		DocTimestamp, DocEventCount, DocAffectedUsers, DocSourceIPs, DocEventIDs, DocRawEvents,
		DocCreatedAt, DocUpdatedAt} {
		assert.Contains(t, doc, key)
	}
}
