package eventsource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/telhawk-systems/secops-alerts/common/logging"
	"github.com/telhawk-systems/secops-alerts/detect/internal/events"
)

const (
	DefaultEndpoint     = "https://api.loganalytics.io"
	DefaultTable        = "SecurityEvent"
	DefaultQueryTimeout = 60 * time.Second
	DefaultLookback     = 30 * 24 * time.Hour
	DefaultMaxRows      = 10000
)

// AccessTokens supplies bearer tokens for Log Analytics requests.
type AccessTokens interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// LogAnalyticsConfig locates the workspace and bounds queries.
type LogAnalyticsConfig struct {
	Endpoint     string
	WorkspaceID  string
	Table        string
	QueryTimeout time.Duration
	Lookback     time.Duration
	MaxRows      int
}

// LogAnalytics queries an Azure Log Analytics workspace with KQL.
type LogAnalytics struct {
	cfg    LogAnalyticsConfig
	tokens AccessTokens
	client *http.Client
	logger *slog.Logger
}

// NewLogAnalytics creates a connector. It returns ErrNotConfigured when no
// workspace is set.
func NewLogAnalytics(cfg LogAnalyticsConfig, tokens AccessTokens, logger *slog.Logger) (*LogAnalytics, error) {
	if cfg.WorkspaceID == "" || tokens == nil {
		return nil, ErrNotConfigured
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultMaxRows
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAnalytics{
		cfg:    cfg,
		tokens: tokens,
		client: &http.Client{Timeout: cfg.QueryTimeout},
		logger: logger,
	}, nil
}

// Column describes one column of a query result table.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Table is one named result table.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// QueryResponse is the body returned by the query API.
type QueryResponse struct {
	Tables []Table `json:"tables"`
}

// Flatten turns every row of every table into an event keyed by column
// name and tagged with the table name under events.FieldTable. Rows shorter
// than the column list keep only the columns they have.
func Flatten(resp QueryResponse) []events.Event {
	out := []events.Event{}
	for _, table := range resp.Tables {
		name := table.Name
		if name == "" {
			name = "unknown"
		}
		for _, row := range table.Rows {
			e := make(events.Event, len(table.Columns)+1)
			for i, col := range table.Columns {
				if i >= len(row) {
					break
				}
				e[col.Name] = row[i]
			}
			e[events.FieldTable] = name
			out = append(out, e)
		}
	}
	return out
}

// Query runs kql against the workspace and returns the flattened rows. A
// 401 drops the cached token and retries once.
func (c *LogAnalytics) Query(ctx context.Context, kql string) ([]events.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()

	resp, err := c.doQuery(ctx, kql)
	if err == errUnauthorized {
		c.tokens.Invalidate()
		resp, err = c.doQuery(ctx, kql)
	}
	if err != nil {
		return nil, err
	}

	evts := Flatten(resp)
	c.logger.Debug("log analytics query complete", logging.Count(len(evts)))
	return evts, nil
}

var errUnauthorized = fmt.Errorf("log analytics rejected the access token")

func (c *LogAnalytics) doQuery(ctx context.Context, kql string) (QueryResponse, error) {
	var out QueryResponse

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return out, err
	}

	body, err := json.Marshal(map[string]string{"query": kql})
	if err != nil {
		return out, fmt.Errorf("failed to marshal query: %w", err)
	}

	url := fmt.Sprintf("%s/v1/workspaces/%s/query", c.cfg.Endpoint, c.cfg.WorkspaceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return out, fmt.Errorf("log analytics request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusUnauthorized {
		return out, errUnauthorized
	}
	if res.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return out, fmt.Errorf("log analytics returned %s: %s", res.Status, strings.TrimSpace(string(b)))
	}

	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("failed to decode log analytics response: %w", err)
	}
	return out, nil
}

// Recent returns rows with TimeGenerated in [since, until], newest first.
func (c *LogAnalytics) Recent(ctx context.Context, since, until time.Time) ([]events.Event, error) {
	kql := fmt.Sprintf("%s | where TimeGenerated between (datetime(%s) .. datetime(%s)) | sort by TimeGenerated desc | take %d",
		c.cfg.Table, kqlTime(since), kqlTime(until), c.cfg.MaxRows)
	return c.Query(ctx, kql)
}

// All returns up to limit rows from the configured lookback, newest first.
func (c *LogAnalytics) All(ctx context.Context, limit int) ([]events.Event, error) {
	if limit <= 0 || limit > c.cfg.MaxRows {
		limit = c.cfg.MaxRows
	}
	kql := fmt.Sprintf("%s | where TimeGenerated >= ago(%s) | sort by TimeGenerated desc | take %d",
		c.cfg.Table, kqlTimespan(c.cfg.Lookback), limit)
	return c.Query(ctx, kql)
}

// After returns rows strictly newer than watermark, oldest first, so a
// caller can advance its watermark as it goes. A zero watermark starts at
// the configured lookback.
func (c *LogAnalytics) After(ctx context.Context, watermark time.Time) ([]events.Event, error) {
	var where string
	if watermark.IsZero() {
		where = fmt.Sprintf("TimeGenerated >= ago(%s)", kqlTimespan(c.cfg.Lookback))
	} else {
		where = fmt.Sprintf("TimeGenerated > datetime(%s)", kqlTime(watermark))
	}
	kql := fmt.Sprintf("%s | where %s | sort by TimeGenerated asc | take %d", c.cfg.Table, where, c.cfg.MaxRows)
	return c.Query(ctx, kql)
}

func kqlTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// kqlTimespan renders d in whole hours, e.g. "720h".
func kqlTimespan(d time.Duration) string {
	hours := int(d / time.Hour)
	if hours < 1 {
		hours = 1
	}
	return fmt.Sprintf("%dh", hours)
}
