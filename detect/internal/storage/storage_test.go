package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/secops-alerts/detect/internal/events"
	"github.com/telhawk-systems/secops-alerts/detect/internal/models"
)

type recorded struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// fakeOpenSearch answers requests by "METHOD path" and records every call.
type fakeOpenSearch struct {
	mu       sync.Mutex
	calls    []recorded
	handlers map[string]http.HandlerFunc
}

func newFakeOpenSearch(t *testing.T) (*fakeOpenSearch, *opensearch.Client) {
	t.Helper()
	f := &fakeOpenSearch{handlers: map[string]http.HandlerFunc{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.calls = append(f.calls, recorded{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(body)})
		h, ok := f.handlers[r.Method+" "+r.URL.Path]
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"no handler"}`))
			return
		}
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := opensearch.NewClient(opensearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return f, client
}

func (f *fakeOpenSearch) on(method, path string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method+" "+path] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}
}

func (f *fakeOpenSearch) called(method, path string) []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recorded
	for _, c := range f.calls {
		if c.Method == method && c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

func TestNewClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"name":"test-node","cluster_name":"test-cluster","version":{"number":"2.11.0"}}`))
		}
	}))
	defer srv.Close()

	client, err := NewClient(Config{URL: srv.URL, Username: "admin", Password: "admin", Insecure: true})
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestNewClient_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{URL: srv.URL})
	assert.Error(t, err)
	assert.Nil(t, client)
}

func TestNewClient_StalledNodeTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	done := make(chan error, 1)
	go func() {
		_, err := NewClient(Config{URL: srv.URL, RequestTimeout: 200 * time.Millisecond})
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to ping opensearch")
	case <-time.After(3 * time.Second):
		t.Fatal("NewClient did not honour RequestTimeout")
	}
}

func TestEnsureIndex(t *testing.T) {
	t.Run("creates missing index", func(t *testing.T) {
		f, client := newFakeOpenSearch(t)
		f.on(http.MethodHead, "/security-alerts", http.StatusNotFound, ``)
		f.on(http.MethodPut, "/security-alerts", http.StatusOK, `{"acknowledged":true}`)

		store := NewAlertStore(client, "", time.Second, nil)
		require.NoError(t, store.EnsureIndex(context.Background()))

		puts := f.called(http.MethodPut, "/security-alerts")
		require.Len(t, puts, 1)
		var body map[string]any
		require.NoError(t, json.Unmarshal([]byte(puts[0].Body), &body))
		props := body["mappings"].(map[string]any)["properties"].(map[string]any)
		assert.Equal(t, "keyword", props["severity"].(map[string]any)["type"])
		assert.Equal(t, "ip", props["source_ips"].(map[string]any)["type"])
		assert.Equal(t, "date", props["timestamp"].(map[string]any)["type"])
	})

	t.Run("existing index untouched", func(t *testing.T) {
		f, client := newFakeOpenSearch(t)
		f.on(http.MethodHead, "/security-alerts", http.StatusOK, ``)

		store := NewAlertStore(client, "", time.Second, nil)
		require.NoError(t, store.EnsureIndex(context.Background()))
		assert.Empty(t, f.called(http.MethodPut, "/security-alerts"))
	})
}

func TestAlertStoreSearch(t *testing.T) {
	f, client := newFakeOpenSearch(t)
	f.on(http.MethodPost, "/security-alerts/_search", http.StatusOK, `{
		"hits": {"hits": [
			{"_id": "a1", "_source": {"id": "a1", "title": "t", "severity": "high", "status": "open",
				"source": "Security Events", "timestamp": "2024-01-15T10:04:00Z", "event_count": 1,
				"affected_users": ["alice"], "source_ips": ["10.0.0.1"], "event_ids": ["7"],
				"raw_events": [{"EventID": 4625}]}},
			{"_id": "bad", "_source": {"id": "bad", "severity": "weird", "status": "open", "timestamp": "2024-01-15T10:00:00Z"}}
		]}
	}`)

	store := NewAlertStore(client, "", time.Second, nil)
	alerts, err := store.Search(context.Background(), AlertQuery{Status: models.StatusOpen, Severity: models.SeverityHigh, Limit: 5})
	require.NoError(t, err)
	require.Len(t, alerts, 1, "malformed documents are skipped")
	assert.Equal(t, "a1", alerts[0].ID)
	assert.Equal(t, []string{"alice"}, alerts[0].AffectedUsers)

	calls := f.called(http.MethodPost, "/security-alerts/_search")
	require.Len(t, calls, 1)
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(calls[0].Body), &body))
	assert.Equal(t, float64(5), body["size"])
	must := body["query"].(map[string]any)["bool"].(map[string]any)["must"].([]any)
	assert.Len(t, must, 2)
	assert.Contains(t, calls[0].Body, `"timestamp":{"order":"desc"}`)
}

func TestAlertStoreSearch_Error(t *testing.T) {
	f, client := newFakeOpenSearch(t)
	f.on(http.MethodPost, "/security-alerts/_search", http.StatusBadRequest, `{"error":"bad query"}`)

	store := NewAlertStore(client, "", time.Second, nil)
	_, err := store.Search(context.Background(), AlertQuery{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad query")
}

func TestExistingIDs(t *testing.T) {
	f, client := newFakeOpenSearch(t)
	f.on(http.MethodPost, "/security-alerts/_search", http.StatusOK, `{"hits":{"hits":[{"_id":"a2"}]}}`)

	store := NewAlertStore(client, "", time.Second, nil)
	found, err := store.ExistingIDs(context.Background(), []string{"a1", "a2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a2": true}, found)

	calls := f.called(http.MethodPost, "/security-alerts/_search")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Body, `"ids":{"values":["a1","a2"]}`)

	empty, err := store.ExistingIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.Len(t, f.called(http.MethodPost, "/security-alerts/_search"), 1, "no request for empty input")
}

func TestUpsert(t *testing.T) {
	f, client := newFakeOpenSearch(t)
	f.on(http.MethodPost, "/security-alerts/_update/a1", http.StatusOK, `{"result":"created"}`)

	store := NewAlertStore(client, "", time.Second, nil)
	fixed := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	alert := models.Alert{
		ID: "a1", Title: "t", Severity: models.SeverityHigh, Status: models.StatusOpen,
		Timestamp: fixed.Add(-time.Hour), EventCount: 1,
		RawEvents: []events.Event{{"EventID": float64(4625)}},
	}
	require.NoError(t, store.Upsert(context.Background(), alert))

	calls := f.called(http.MethodPost, "/security-alerts/_update/a1")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Query, "retry_on_conflict=3")

	var body struct {
		Doc    map[string]any `json:"doc"`
		Upsert map[string]any `json:"upsert"`
	}
	require.NoError(t, json.Unmarshal([]byte(calls[0].Body), &body))
	assert.NotContains(t, body.Doc, "status", "existing triage state is preserved")
	assert.NotContains(t, body.Doc, "created_at")
	assert.Equal(t, "2024-01-15T12:00:00Z", body.Doc["updated_at"], "re-detection refreshes updated_at")
	assert.Equal(t, "open", body.Upsert["status"])
	assert.Equal(t, "2024-01-15T12:00:00Z", body.Upsert["created_at"])
	assert.Equal(t, "2024-01-15T12:00:00Z", body.Upsert["updated_at"])
}

func TestUpsert_Error(t *testing.T) {
	f, client := newFakeOpenSearch(t)
	f.on(http.MethodPost, "/security-alerts/_update/a1", http.StatusBadRequest, `{"error":"mapper_parsing_exception"}`)

	store := NewAlertStore(client, "", time.Second, nil)
	err := store.Upsert(context.Background(), models.Alert{ID: "a1", Severity: models.SeverityLow, Status: models.StatusOpen})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
}

func TestUpdateStatus(t *testing.T) {
	t.Run("missing alert is not written", func(t *testing.T) {
		f, client := newFakeOpenSearch(t)
		f.on(http.MethodHead, "/security-alerts/_doc/nope", http.StatusNotFound, ``)

		store := NewAlertStore(client, "", time.Second, nil)
		err := store.UpdateStatus(context.Background(), "nope", models.StatusResolved)
		assert.True(t, errors.Is(err, ErrAlertNotFound))
		assert.Empty(t, f.called(http.MethodPost, "/security-alerts/_update/nope"))
	})

	t.Run("existing alert updated", func(t *testing.T) {
		f, client := newFakeOpenSearch(t)
		f.on(http.MethodHead, "/security-alerts/_doc/a1", http.StatusOK, ``)
		f.on(http.MethodPost, "/security-alerts/_update/a1", http.StatusOK, `{"result":"updated"}`)

		store := NewAlertStore(client, "", time.Second, nil)
		store.now = func() time.Time { return time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC) }
		require.NoError(t, store.UpdateStatus(context.Background(), "a1", models.StatusInvestigating))

		calls := f.called(http.MethodPost, "/security-alerts/_update/a1")
		require.Len(t, calls, 1)
		assert.JSONEq(t, `{"doc":{"status":"investigating","updated_at":"2024-01-15T12:00:00Z"}}`, calls[0].Body)
	})

	t.Run("store failure surfaces", func(t *testing.T) {
		f, client := newFakeOpenSearch(t)
		f.on(http.MethodHead, "/security-alerts/_doc/a1", http.StatusForbidden, ``)

		store := NewAlertStore(client, "", time.Second, nil)
		err := store.UpdateStatus(context.Background(), "a1", models.StatusResolved)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrAlertNotFound))
	})
}

func TestEventStoreRecent(t *testing.T) {
	f, client := newFakeOpenSearch(t)
	f.on(http.MethodPost, "/security-events-*/_search", http.StatusOK, `{"hits":{"hits":[
		{"_id":"e1","_source":{"EventID":4625,"@timestamp":"2024-01-15T10:00:00Z","EventRecordID":9007199254740993}}
	]}}`)

	store := NewEventStore(client, "", time.Second, 50, nil)
	until := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	evts, err := store.Recent(context.Background(), until.Add(-24*time.Hour), until)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.True(t, evts[0].Is(events.KindLogonFailure))
	assert.Equal(t, "9007199254740993", evts[0].RecordID(), "large numbers keep precision")

	calls := f.called(http.MethodPost, "/security-events-*/_search")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Body, `"gte":"2024-01-14T12:00:00Z"`)
	assert.Contains(t, calls[0].Body, `"lte":"2024-01-15T12:00:00Z"`)
	assert.Contains(t, calls[0].Body, `"size":50`)
	assert.Contains(t, calls[0].Query, "ignore_unavailable=true")
}

func TestEventStoreAll(t *testing.T) {
	f, client := newFakeOpenSearch(t)
	f.on(http.MethodPost, "/security-events-*/_search", http.StatusOK, `{"hits":{"hits":[]}}`)

	store := NewEventStore(client, "", time.Second, 100, nil)
	evts, err := store.All(context.Background(), 1000)
	require.NoError(t, err)
	assert.Empty(t, evts)

	calls := f.called(http.MethodPost, "/security-events-*/_search")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Body, `"match_all":{}`)
	assert.Contains(t, calls[0].Body, `"size":100`, "capped at max events")
}

func TestEventStoreIndex(t *testing.T) {
	f, client := newFakeOpenSearch(t)
	f.handlers["POST /_bulk"] = func(w http.ResponseWriter, r *http.Request) {
		// Answer one item result per action line.
		var items []string
		sc := bufio.NewScanner(r.Body)
		sc.Buffer(make([]byte, 1024*1024), 1024*1024)
		line := 0
		for sc.Scan() {
			if line%2 == 0 {
				items = append(items, `{"index":{"_index":"x","_id":"1","status":201}}`)
			}
			line++
		}
		w.Write([]byte(`{"took":1,"errors":false,"items":[` + strings.Join(items, ",") + `]}`))
	}

	store := NewEventStore(client, "", time.Second, 0, nil)
	res, err := store.Index(context.Background(), []events.Event{
		{"EventID": 4625, "TimeGenerated": "2024-01-15T10:00:00Z", "Computer": "dc01", "EventRecordID": "42"},
		{"EventID": 4688, "@timestamp": "2024-01-16T00:00:01Z"},
		{"EventID": 4688},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Indexed)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, res.Errors, 1)

	calls := f.called(http.MethodPost, "/_bulk")
	require.NotEmpty(t, calls)
	all := ""
	for _, c := range calls {
		all += c.Body
	}
	assert.Contains(t, all, `"_index":"security-events-2024.01.15"`)
	assert.Contains(t, all, `"_id":"dc01:42"`)
	assert.Contains(t, all, `"_index":"security-events-2024.01.16"`)
}

func TestEventStoreEnsureTemplate(t *testing.T) {
	f, client := newFakeOpenSearch(t)
	f.on(http.MethodPut, "/_index_template/security-events-template", http.StatusOK, `{"acknowledged":true}`)

	store := NewEventStore(client, "", time.Second, 0, nil)
	require.NoError(t, store.EnsureTemplate(context.Background()))

	calls := f.called(http.MethodPut, "/_index_template/security-events-template")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Body, `"index_patterns":["security-events-*"]`)
}

func TestNewClient_BadCACert(t *testing.T) {
	path := t.TempDir() + "/ca.pem"
	require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0o600))

	client, err := NewClient(Config{URL: "http://127.0.0.1:1", CACertPath: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no certificates found")
	assert.Nil(t, client)
}
