package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"

	"github.com/telhawk-systems/secops-alerts/common/logging"
	"github.com/telhawk-systems/secops-alerts/detect/internal/models"
)

// ErrAlertNotFound is returned when an alert ID does not exist in the index.
var ErrAlertNotFound = errors.New("alert not found")

// DefaultAlertsIndex is the index holding alert documents.
const DefaultAlertsIndex = "security-alerts"

// AlertQuery filters a stored alert search. Zero values match everything.
type AlertQuery struct {
	Status   models.Status
	Severity models.Severity
	Limit    int
}

// AlertStore reads and writes alert documents in a single OpenSearch index.
type AlertStore struct {
	client  *opensearch.Client
	index   string
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewAlertStore creates a store over index. A zero timeout means 30 seconds.
func NewAlertStore(client *opensearch.Client, index string, timeout time.Duration, logger *slog.Logger) *AlertStore {
	if index == "" {
		index = DefaultAlertsIndex
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertStore{
		client:  client,
		index:   index,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// alertsMapping mirrors the document produced by models.Alert.ToDocument.
func alertsMapping() map[string]interface{} {
	keyword := map[string]string{"type": "keyword"}
	text := map[string]string{"type": "text"}
	date := map[string]string{"type": "date"}
	return map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				models.DocID:            keyword,
				models.DocTitle:         text,
				models.DocDescription:   text,
				models.DocSeverity:      keyword,
				models.DocStatus:        keyword,
				models.DocSource:        keyword,
				models.DocTimestamp:     date,
				models.DocEventCount:    map[string]string{"type": "integer"},
				models.DocAffectedUsers: keyword,
				models.DocSourceIPs:     map[string]interface{}{"type": "ip", "ignore_malformed": true},
				models.DocEventIDs:      keyword,
				models.DocRawEvents:     map[string]interface{}{"type": "object", "enabled": false},
				models.DocCreatedAt:     date,
				models.DocUpdatedAt:     date,
			},
		},
	}
}

// EnsureIndex creates the alerts index with its mapping if it is missing.
func (s *AlertStore) EnsureIndex(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.client.Indices.Exists([]string{s.index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index %s: %w", s.index, err)
	}
	res.Body.Close()

	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("failed to check index %s: %s", s.index, res.Status())
	}

	body, err := json.Marshal(alertsMapping())
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}

	res, err = s.client.Indices.Create(
		s.index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", s.index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError("create index", res.Status(), res.Body)
	}

	s.logger.Info("created alerts index", logging.Index(s.index))
	return nil
}

// Ping reports whether the cluster is reachable.
func (s *AlertStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.client.Ping(s.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to ping opensearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("opensearch ping returned %s", res.Status())
	}
	return nil
}

// Search returns stored alerts matching q, newest first.
func (s *AlertStore) Search(ctx context.Context, q AlertQuery) ([]models.Alert, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	filters := []map[string]interface{}{}
	if q.Status != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{models.DocStatus: string(q.Status)}})
	}
	if q.Severity != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{models.DocSeverity: string(q.Severity)}})
	}

	query := map[string]interface{}{"match_all": map[string]interface{}{}}
	if len(filters) > 0 {
		query = map[string]interface{}{"bool": map[string]interface{}{"must": filters}}
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	searchBody := map[string]interface{}{
		"query": query,
		"size":  limit,
		"sort": []map[string]interface{}{
			{models.DocTimestamp: map[string]string{"order": "desc"}},
		},
	}

	hits, err := s.search(ctx, searchBody)
	if err != nil {
		return nil, err
	}

	alerts := make([]models.Alert, 0, len(hits))
	for _, hit := range hits {
		var doc map[string]interface{}
		if err := json.Unmarshal(hit.Source, &doc); err != nil {
			s.logger.Warn("skipping undecodable alert", logging.AlertID(hit.ID), logging.Error(err))
			continue
		}
		alert, err := models.FromDocument(doc)
		if err != nil {
			s.logger.Warn("skipping malformed alert", logging.AlertID(hit.ID), logging.Error(err))
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

// ExistingIDs reports which of ids are already stored.
func (s *AlertStore) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	searchBody := map[string]interface{}{
		"query":   map[string]interface{}{"ids": map[string]interface{}{"values": ids}},
		"_source": false,
		"size":    len(ids),
	}

	hits, err := s.search(ctx, searchBody)
	if err != nil {
		return nil, err
	}
	for _, hit := range hits {
		found[hit.ID] = true
	}
	return found, nil
}

// Upsert writes alert under its ID. A new document is created with
// created_at and updated_at set. An existing document keeps its status and
// created_at; the detection fields and updated_at are refreshed.
func (s *AlertStore) Upsert(ctx context.Context, alert models.Alert) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.now().UTC()
	full := alert
	full.CreatedAt = &now
	full.UpdatedAt = &now
	if full.Status == "" {
		full.Status = models.StatusOpen
	}

	upsert := full.ToDocument()
	doc := alert.ToDocument()
	delete(doc, models.DocStatus)
	delete(doc, models.DocCreatedAt)
	doc[models.DocUpdatedAt] = upsert[models.DocUpdatedAt]

	body, err := json.Marshal(map[string]interface{}{
		"doc":    doc,
		"upsert": upsert,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal alert %s: %w", alert.ID, err)
	}

	res, err := s.client.Update(
		s.index,
		alert.ID,
		bytes.NewReader(body),
		s.client.Update.WithContext(ctx),
		s.client.Update.WithRetryOnConflict(3),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert alert %s: %w", alert.ID, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError("upsert alert", res.Status(), res.Body)
	}
	return nil
}

// UpdateStatus sets the status and updated_at of an existing alert. It
// returns ErrAlertNotFound, without writing, when id is not stored.
func (s *AlertStore) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.client.Exists(s.index, id, s.client.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check alert %s: %w", id, err)
	}
	res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return ErrAlertNotFound
	default:
		return fmt.Errorf("failed to check alert %s: %s", id, res.Status())
	}

	body, err := json.Marshal(map[string]interface{}{
		"doc": map[string]interface{}{
			models.DocStatus:    string(status),
			models.DocUpdatedAt: s.now().UTC().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal status update: %w", err)
	}

	res, err = s.client.Update(
		s.index,
		id,
		bytes.NewReader(body),
		s.client.Update.WithContext(ctx),
		s.client.Update.WithRefresh("wait_for"),
	)
	if err != nil {
		return fmt.Errorf("failed to update alert %s: %w", id, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return ErrAlertNotFound
	}
	if res.IsError() {
		return responseError("update alert", res.Status(), res.Body)
	}
	return nil
}

type searchHit struct {
	ID     string          `json:"_id"`
	Index  string          `json:"_index"`
	Source json.RawMessage `json:"_source"`
}

func (s *AlertStore) search(ctx context.Context, searchBody map[string]interface{}) ([]searchHit, error) {
	return searchIndex(ctx, s.client, s.index, searchBody)
}

func searchIndex(ctx context.Context, client *opensearch.Client, index string, searchBody map[string]interface{}) ([]searchHit, error) {
	bodyBytes, err := json.Marshal(searchBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search body: %w", err)
	}

	res, err := client.Search(
		client.Search.WithContext(ctx),
		client.Search.WithIndex(index),
		client.Search.WithBody(bytes.NewReader(bodyBytes)),
		client.Search.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, responseError("search "+index, res.Status(), res.Body)
	}

	var searchResult struct {
		Hits struct {
			Hits []searchHit `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&searchResult); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return searchResult.Hits.Hits, nil
}

func responseError(op, status string, body io.Reader) error {
	b, _ := io.ReadAll(body)
	return fmt.Errorf("%s: opensearch error: %s - %s", op, status, string(b))
}
