package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchutil"

	"github.com/telhawk-systems/secops-alerts/common/logging"
	"github.com/telhawk-systems/secops-alerts/detect/internal/events"
)

const (
	DefaultEventsIndexPrefix = "security-events"
	DefaultMaxEvents         = 10000
)

// EventStore reads and writes security events in daily indices named
// "<prefix>-YYYY.MM.DD".
type EventStore struct {
	client    *opensearch.Client
	prefix    string
	timeout   time.Duration
	maxEvents int
	logger    *slog.Logger
}

// NewEventStore creates an event store. maxEvents caps how many events a
// time-range query returns.
func NewEventStore(client *opensearch.Client, prefix string, timeout time.Duration, maxEvents int, logger *slog.Logger) *EventStore {
	if prefix == "" {
		prefix = DefaultEventsIndexPrefix
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventStore{client: client, prefix: prefix, timeout: timeout, maxEvents: maxEvents, logger: logger}
}

// Pattern is the index pattern covering every daily index.
func (s *EventStore) Pattern() string {
	return s.prefix + "-*"
}

// IndexFor returns the daily index an event timestamp belongs to.
func (s *EventStore) IndexFor(ts time.Time) string {
	return s.prefix + "-" + ts.UTC().Format("2006.01.02")
}

// Recent returns events with @timestamp in [since, until], newest first.
func (s *EventStore) Recent(ctx context.Context, since, until time.Time) ([]events.Event, error) {
	return s.query(ctx, map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": []map[string]interface{}{
					{"range": map[string]interface{}{
						events.FieldTimestamp: map[string]string{
							"gte": since.UTC().Format(time.RFC3339Nano),
							"lte": until.UTC().Format(time.RFC3339Nano),
						},
					}},
				},
			},
		},
		"sort": timestampDesc(),
		"size": s.maxEvents,
	})
}

// All returns up to limit events regardless of time, newest first.
func (s *EventStore) All(ctx context.Context, limit int) ([]events.Event, error) {
	if limit <= 0 || limit > s.maxEvents {
		limit = s.maxEvents
	}
	return s.query(ctx, map[string]interface{}{
		"query": map[string]interface{}{"match_all": map[string]interface{}{}},
		"sort":  timestampDesc(),
		"size":  limit,
	})
}

func (s *EventStore) query(ctx context.Context, body map[string]interface{}) ([]events.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	hits, err := searchIndex(ctx, s.client, s.Pattern(), body)
	if err != nil {
		return nil, err
	}

	out := make([]events.Event, 0, len(hits))
	for _, hit := range hits {
		var e events.Event
		dec := json.NewDecoder(bytes.NewReader(hit.Source))
		dec.UseNumber()
		if err := dec.Decode(&e); err != nil {
			s.logger.Warn("skipping undecodable event", slog.String("id", hit.ID), logging.Error(err))
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func timestampDesc() []map[string]interface{} {
	return []map[string]interface{}{
		{events.FieldTimestamp: map[string]string{"order": "desc", "unmapped_type": "date"}},
	}
}

// EnsureTemplate installs an index template so every daily index maps the
// fields the detection rules query.
func (s *EventStore) EnsureTemplate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	template := map[string]interface{}{
		"index_patterns": []string{s.Pattern()},
		"template": map[string]interface{}{
			"mappings": map[string]interface{}{
				"dynamic": true,
				"properties": map[string]interface{}{
					events.FieldTimestamp:     map[string]string{"type": "date"},
					events.FieldTimeGenerated: map[string]string{"type": "date"},
					events.FieldEventID:       map[string]string{"type": "integer"},
					events.FieldIPAddress:     map[string]string{"type": "keyword"},
					events.FieldTargetUser:    map[string]string{"type": "keyword"},
					events.FieldSubjectUser:   map[string]string{"type": "keyword"},
					events.FieldProcessName:   map[string]string{"type": "keyword"},
					events.FieldRecordID:      map[string]string{"type": "keyword"},
					events.FieldComputer:      map[string]string{"type": "keyword"},
					events.FieldTable:         map[string]string{"type": "keyword"},
				},
			},
		},
		"priority": 100,
	}

	body, err := json.Marshal(template)
	if err != nil {
		return fmt.Errorf("failed to marshal index template: %w", err)
	}

	res, err := s.client.Indices.PutIndexTemplate(
		s.prefix+"-template",
		bytes.NewReader(body),
		s.client.Indices.PutIndexTemplate.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to put index template: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError("put index template", res.Status(), res.Body)
	}
	return nil
}

// BulkResult summarizes a bulk index call.
type BulkResult struct {
	Indexed int
	Failed  int
	Errors  []string
}

// Index bulk-writes evts into their daily indices. Events carrying a
// Computer and EventRecordID get a deterministic document ID so re-indexing
// the same rows overwrites rather than duplicates. Events without a
// timestamp are counted as failed.
func (s *EventStore) Index(ctx context.Context, evts []events.Event) (BulkResult, error) {
	var result BulkResult
	if len(evts) == 0 {
		return result, nil
	}

	bi, err := opensearchutil.NewBulkIndexer(opensearchutil.BulkIndexerConfig{
		Client:     s.client,
		NumWorkers: 1,
		Timeout:    s.timeout,
	})
	if err != nil {
		return result, fmt.Errorf("failed to create bulk indexer: %w", err)
	}

	var indexed, failed atomic.Int64
	errs := make(chan string, len(evts))

	for _, e := range evts {
		ts, ok := e.Timestamp()
		if !ok {
			failed.Add(1)
			errs <- "event without timestamp"
			continue
		}

		data, err := json.Marshal(e)
		if err != nil {
			failed.Add(1)
			errs <- fmt.Sprintf("failed to marshal event: %v", err)
			continue
		}

		item := opensearchutil.BulkIndexerItem{
			Action: "index",
			Index:  s.IndexFor(ts),
			Body:   bytes.NewReader(data),
			OnSuccess: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem) {
				indexed.Add(1)
			},
			OnFailure: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem, err error) {
				failed.Add(1)
				if err != nil {
					errs <- err.Error()
				} else {
					errs <- fmt.Sprintf("%s: %s", res.Error.Type, res.Error.Reason)
				}
			},
		}
		if id := documentID(e); id != "" {
			item.DocumentID = id
		}

		if err := bi.Add(ctx, item); err != nil {
			failed.Add(1)
			errs <- fmt.Sprintf("failed to add to bulk indexer: %v", err)
		}
	}

	if err := bi.Close(ctx); err != nil {
		return result, fmt.Errorf("bulk indexer close: %w", err)
	}
	close(errs)

	result.Indexed = int(indexed.Load())
	result.Failed = int(failed.Load())
	for msg := range errs {
		result.Errors = append(result.Errors, msg)
	}
	return result, nil
}

func documentID(e events.Event) string {
	computer, ok := e.String(events.FieldComputer)
	if !ok {
		return ""
	}
	record := e.RecordID()
	if record == "" {
		return ""
	}
	return computer + ":" + record
}
