package seeder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchutil"
)

// Sink receives generated events.
type Sink interface {
	Write(ctx context.Context, evts []Event) (int, error)
}

// NDJSONSink writes one JSON document per line.
type NDJSONSink struct {
	W io.Writer
}

func (s NDJSONSink) Write(_ context.Context, evts []Event) (int, error) {
	enc := json.NewEncoder(s.W)
	for i, e := range evts {
		if err := enc.Encode(e); err != nil {
			return i, fmt.Errorf("failed to write event: %w", err)
		}
	}
	return len(evts), nil
}

// OpenSearchSink bulk-indexes events into daily "<prefix>-YYYY.MM.DD"
// indices, the layout the detect service queries.
type OpenSearchSink struct {
	Client      *opensearch.Client
	IndexPrefix string
	Timeout     time.Duration
}

func (s OpenSearchSink) index(e Event) string {
	prefix := s.IndexPrefix
	if prefix == "" {
		prefix = "security-events"
	}
	return prefix + "-" + e.Time().UTC().Format("2006.01.02")
}

// Write indexes evts. Documents are keyed by Computer and EventRecordID.
// The error reports the number of failed items.
func (s OpenSearchSink) Write(ctx context.Context, evts []Event) (int, error) {
	if len(evts) == 0 {
		return 0, nil
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	bi, err := opensearchutil.NewBulkIndexer(opensearchutil.BulkIndexerConfig{
		Client:     s.Client,
		NumWorkers: 2,
		Timeout:    timeout,
		Refresh:    "true",
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create bulk indexer: %w", err)
	}

	var indexed, failed atomic.Int64
	var firstErr atomic.Value

	for _, e := range evts {
		data, err := json.Marshal(e)
		if err != nil {
			failed.Add(1)
			continue
		}
		err = bi.Add(ctx, opensearchutil.BulkIndexerItem{
			Action:     "index",
			Index:      s.index(e),
			DocumentID: fmt.Sprintf("%v:%v", e["Computer"], e["EventRecordID"]),
			Body:       bytes.NewReader(data),
			OnSuccess: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem) {
				indexed.Add(1)
			},
			OnFailure: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem, err error) {
				failed.Add(1)
				if err == nil {
					err = fmt.Errorf("%s: %s", res.Error.Type, res.Error.Reason)
				}
				firstErr.CompareAndSwap(nil, err.Error())
			},
		})
		if err != nil {
			failed.Add(1)
		}
	}

	if err := bi.Close(ctx); err != nil {
		return int(indexed.Load()), fmt.Errorf("bulk indexer close: %w", err)
	}

	if n := failed.Load(); n > 0 {
		msg, _ := firstErr.Load().(string)
		return int(indexed.Load()), fmt.Errorf("%d events failed to index: %s", n, msg)
	}
	return int(indexed.Load()), nil
}
