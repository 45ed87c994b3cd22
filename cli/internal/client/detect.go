// Package client is an HTTP client for the detect alert API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Alert mirrors the alert document returned by the API.
type Alert struct {
	ID            string                   `json:"id"`
	Title         string                   `json:"title"`
	Description   string                   `json:"description"`
	Severity      string                   `json:"severity"`
	Status        string                   `json:"status"`
	Source        string                   `json:"source"`
	Timestamp     time.Time                `json:"timestamp"`
	EventCount    int                      `json:"event_count"`
	AffectedUsers []string                 `json:"affected_users"`
	SourceIPs     []string                 `json:"source_ips"`
	EventIDs      []string                 `json:"event_ids"`
	RawEvents     []map[string]interface{} `json:"raw_events,omitempty"`
	CreatedAt     *time.Time               `json:"created_at,omitempty"`
	UpdatedAt     *time.Time               `json:"updated_at,omitempty"`
}

type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

type ActivityBucket struct {
	Time  time.Time `json:"time"`
	Label string    `json:"label"`
	Total int       `json:"total"`
	SeverityCounts
}

type Stats struct {
	TotalAlerts    int              `json:"total_alerts"`
	BySeverity     SeverityCounts   `json:"by_severity"`
	ByStatus       map[string]int   `json:"by_status"`
	RecentActivity []ActivityBucket `json:"recent_activity"`
}

type GenerateResult struct {
	Message       string `json:"message"`
	AlertCount    int    `json:"alert_count"`
	NewAlertCount int    `json:"new_alert_count"`
}

type StatusResult struct {
	Message string `json:"message"`
	ID      string `json:"id"`
	Status  string `json:"status"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s (%d)", e.Code, e.StatusCode)
}

type DetectClient struct {
	baseURL string
	client  *http.Client
}

func NewDetectClient(baseURL string) *DetectClient {
	return &DetectClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *DetectClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		bodyBytes, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(bodyBytes, apiErr) != nil || apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
			apiErr.Detail = strings.TrimSpace(string(bodyBytes))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// ListAlerts calls GET /alerts/. Empty filters are omitted.
func (c *DetectClient) ListAlerts(ctx context.Context, status, severity string, limit int) ([]Alert, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if severity != "" {
		q.Set("severity", severity)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	path := "/alerts/"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var alerts []Alert
	if err := c.do(ctx, http.MethodGet, path, nil, &alerts); err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}

func (c *DetectClient) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.do(ctx, http.MethodGet, "/alerts/stats", nil, &stats); err != nil {
		return nil, fmt.Errorf("failed to get alert stats: %w", err)
	}
	return &stats, nil
}

func (c *DetectClient) Generate(ctx context.Context) (*GenerateResult, error) {
	var res GenerateResult
	if err := c.do(ctx, http.MethodPost, "/alerts/generate", nil, &res); err != nil {
		return nil, fmt.Errorf("failed to generate alerts: %w", err)
	}
	return &res, nil
}

func (c *DetectClient) UpdateStatus(ctx context.Context, id, status string) (*StatusResult, error) {
	var res StatusResult
	path := "/alerts/" + url.PathEscape(id) + "/status"
	if err := c.do(ctx, http.MethodPatch, path, map[string]string{"status": status}, &res); err != nil {
		return nil, fmt.Errorf("failed to update alert %s: %w", id, err)
	}
	return &res, nil
}

// RecentEvents calls GET /alerts/events?hours=.
func (c *DetectClient) RecentEvents(ctx context.Context, hours int) ([]map[string]interface{}, error) {
	path := "/alerts/events"
	if hours > 0 {
		path += "?hours=" + strconv.Itoa(hours)
	}
	var evts []map[string]interface{}
	if err := c.do(ctx, http.MethodGet, path, nil, &evts); err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	return evts, nil
}
