package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDetectClient(t *testing.T) {
	client := NewDetectClient("http://localhost:8000/")

	assert.Equal(t, "http://localhost:8000", client.baseURL)
	assert.Equal(t, 60*time.Second, client.client.Timeout)
}

func TestListAlerts_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/alerts/", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "open", r.URL.Query().Get("status"))
		assert.Equal(t, "high", r.URL.Query().Get("severity"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"failed_logins_1","title":"Multiple Failed Login Attempts","severity":"high","status":"open","timestamp":"2024-01-15T10:04:00Z","event_count":5,"affected_users":["alice"],"source_ips":["10.0.0.5"],"event_ids":["1"]}]`))
	}))
	defer server.Close()

	alerts, err := NewDetectClient(server.URL).ListAlerts(context.Background(), "open", "high", 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "failed_logins_1", alerts[0].ID)
	assert.Equal(t, 5, alerts[0].EventCount)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 4, 0, 0, time.UTC), alerts[0].Timestamp)
}

func TestListAlerts_NoFilters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	alerts, err := NewDetectClient(server.URL).ListAlerts(context.Background(), "", "", 0)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestListAlerts_ValidationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"validation_error","detail":"invalid limit \"0\": must be between 1 and 1000"}`))
	}))
	defer server.Close()

	_, err := NewDetectClient(server.URL).ListAlerts(context.Background(), "", "", 0)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "validation_error", apiErr.Code)
	assert.Contains(t, apiErr.Detail, "between 1 and 1000")
}

func TestStats(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/alerts/stats", r.URL.Path)
		w.Write([]byte(`{"total_alerts":2,"by_severity":{"critical":1,"high":1,"medium":0,"low":0},"by_status":{"open":2},"recent_activity":[{"time":"2024-01-15T11:00:00Z","label":"11:00","total":1,"critical":1,"high":0,"medium":0,"low":0}]}`))
	}))
	defer server.Close()

	stats, err := NewDetectClient(server.URL).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalAlerts)
	assert.Equal(t, 1, stats.BySeverity.Critical)
	assert.Equal(t, 2, stats.ByStatus["open"])
	require.Len(t, stats.RecentActivity, 1)
	assert.Equal(t, "11:00", stats.RecentActivity[0].Label)
	assert.Equal(t, 1, stats.RecentActivity[0].Critical)
}

func TestGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/alerts/generate", r.URL.Path)
		w.Write([]byte(`{"message":"Generated 3 alerts","alert_count":3,"new_alert_count":1}`))
	}))
	defer server.Close()

	res, err := NewDetectClient(server.URL).Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.AlertCount)
	assert.Equal(t, 1, res.NewAlertCount)
}

func TestUpdateStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/alerts/a1/status", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		assert.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "resolved", req["status"])

		w.Write([]byte(`{"message":"Alert status updated","id":"a1","status":"resolved"}`))
	}))
	defer server.Close()

	res, err := NewDetectClient(server.URL).UpdateStatus(context.Background(), "a1", "resolved")
	require.NoError(t, err)
	assert.Equal(t, "resolved", res.Status)
}

func TestUpdateStatus_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not_found","detail":"alert missing not found"}`))
	}))
	defer server.Close()

	_, err := NewDetectClient(server.URL).UpdateStatus(context.Background(), "missing", "resolved")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestRecentEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/alerts/events", r.URL.Path)
		assert.Equal(t, "6", r.URL.Query().Get("hours"))
		w.Write([]byte(`[{"EventID":4625,"IpAddress":"10.0.0.5"}]`))
	}))
	defer server.Close()

	evts, err := NewDetectClient(server.URL).RecentEvents(context.Background(), 6)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "10.0.0.5", evts[0]["IpAddress"])
}

func TestNonJSONError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream timeout", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewDetectClient(server.URL).Stats(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Bad Gateway", apiErr.Code)
	assert.Equal(t, "upstream timeout", apiErr.Detail)
}
