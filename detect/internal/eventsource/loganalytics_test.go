package eventsource

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/secops-alerts/detect/internal/events"
)

type staticTokens struct {
	mu          sync.Mutex
	tokens      []string
	invalidated int
}

func (s *staticTokens) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[s.invalidated%len(s.tokens)], nil
}

func (s *staticTokens) Invalidate() {
	s.mu.Lock()
	s.invalidated++
	s.mu.Unlock()
}

const sampleResponse = `{"tables":[{"name":"PrimaryResult",
	"columns":[{"name":"TimeGenerated","type":"datetime"},{"name":"EventID","type":"int"},{"name":"TargetUserName","type":"string"}],
	"rows":[["2024-01-15T10:00:00.123Z",4625,"alice"],["2024-01-15T10:01:00Z",4625]]}]}`

func TestFlatten(t *testing.T) {
	var resp QueryResponse
	require.NoError(t, json.Unmarshal([]byte(sampleResponse), &resp))
	resp.Tables = append(resp.Tables, Table{Columns: []Column{{Name: "x"}}, Rows: [][]any{{1.0}}})

	evts := Flatten(resp)
	require.Len(t, evts, 3)
	assert.Equal(t, "alice", evts[0]["TargetUserName"])
	assert.Equal(t, "PrimaryResult", evts[0][events.FieldTable])
	assert.NotContains(t, evts[1], "TargetUserName", "short rows keep only present columns")
	assert.Equal(t, "unknown", evts[2][events.FieldTable])

	ts, ok := evts[0].Timestamp()
	require.True(t, ok, "TimeGenerated serves as the timestamp")
	assert.Equal(t, 123*time.Millisecond, time.Duration(ts.Nanosecond()))
	assert.True(t, evts[0].Is(events.KindLogonFailure))

	assert.Empty(t, Flatten(QueryResponse{}))
}

func newLogAnalyticsServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, query string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/workspaces/ws-1/query", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Query string `json:"query"`
		}
		assert.NoError(t, json.Unmarshal(body, &req))
		handler(w, r, req.Query)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLogAnalyticsQuery(t *testing.T) {
	var gotAuth, gotQuery string
	srv := newLogAnalyticsServer(t, func(w http.ResponseWriter, r *http.Request, query string) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = query
		w.Write([]byte(sampleResponse))
	})

	la, err := NewLogAnalytics(LogAnalyticsConfig{Endpoint: srv.URL + "/", WorkspaceID: "ws-1", MaxRows: 500}, &staticTokens{tokens: []string{"t1"}}, nil)
	require.NoError(t, err)

	until := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	evts, err := la.Recent(context.Background(), until.Add(-24*time.Hour), until)
	require.NoError(t, err)
	assert.Len(t, evts, 2)
	assert.Equal(t, "Bearer t1", gotAuth)
	assert.Equal(t, "SecurityEvent | where TimeGenerated between (datetime(2024-01-14T12:00:00Z) .. datetime(2024-01-15T12:00:00Z)) | sort by TimeGenerated desc | take 500", gotQuery)

	_, err = la.All(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, "SecurityEvent | where TimeGenerated >= ago(720h) | sort by TimeGenerated desc | take 10", gotQuery)

	_, err = la.After(context.Background(), until)
	require.NoError(t, err)
	assert.Equal(t, "SecurityEvent | where TimeGenerated > datetime(2024-01-15T12:00:00Z) | sort by TimeGenerated asc | take 500", gotQuery)

	_, err = la.After(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "SecurityEvent | where TimeGenerated >= ago(720h) | sort by TimeGenerated asc | take 500", gotQuery)
}

func TestLogAnalyticsRetriesOnceOnUnauthorized(t *testing.T) {
	calls := 0
	srv := newLogAnalyticsServer(t, func(w http.ResponseWriter, r *http.Request, query string) {
		calls++
		if r.Header.Get("Authorization") == "Bearer stale" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(sampleResponse))
	})

	tokens := &staticTokens{tokens: []string{"stale", "fresh"}}
	la, err := NewLogAnalytics(LogAnalyticsConfig{Endpoint: srv.URL, WorkspaceID: "ws-1"}, tokens, nil)
	require.NoError(t, err)

	evts, err := la.Query(context.Background(), "SecurityEvent | take 1")
	require.NoError(t, err)
	assert.Len(t, evts, 2)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, tokens.invalidated)
}

func TestLogAnalyticsErrors(t *testing.T) {
	srv := newLogAnalyticsServer(t, func(w http.ResponseWriter, r *http.Request, query string) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"BadArgumentError"}}`))
	})

	la, err := NewLogAnalytics(LogAnalyticsConfig{Endpoint: srv.URL, WorkspaceID: "ws-1"}, &staticTokens{tokens: []string{"t"}}, nil)
	require.NoError(t, err)

	_, err = la.Query(context.Background(), "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BadArgumentError")

	_, err = NewLogAnalytics(LogAnalyticsConfig{}, &staticTokens{tokens: []string{"t"}}, nil)
	assert.True(t, errors.Is(err, ErrNotConfigured))
}
