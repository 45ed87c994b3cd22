package eventsource

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/telhawk-systems/secops-alerts/common/logging"
	"github.com/telhawk-systems/secops-alerts/detect/internal/events"
	"github.com/telhawk-systems/secops-alerts/detect/internal/metrics"
	"github.com/telhawk-systems/secops-alerts/detect/internal/storage"
)

// RowSource returns events newer than a watermark, oldest first.
type RowSource interface {
	After(ctx context.Context, watermark time.Time) ([]events.Event, error)
}

// EventSink bulk-writes events.
type EventSink interface {
	Index(ctx context.Context, evts []events.Event) (storage.BulkResult, error)
}

// SyncResult summarizes one sync run.
type SyncResult struct {
	Fetched   int       `json:"fetched"`
	Indexed   int       `json:"indexed"`
	Skipped   int       `json:"skipped"`
	Watermark time.Time `json:"watermark"`
}

// Syncer copies new Log Analytics rows into the OpenSearch event indices
// and advances the watermark past them.
type Syncer struct {
	source    RowSource
	sink      EventSink
	watermark WatermarkStore
	logger    *slog.Logger
}

// NewSyncer creates a syncer. A nil watermark store keeps state in memory.
func NewSyncer(source RowSource, sink EventSink, watermark WatermarkStore, logger *slog.Logger) *Syncer {
	if watermark == nil {
		watermark = &MemoryWatermarkStore{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{source: source, sink: sink, watermark: watermark, logger: logger}
}

// Sync runs once. Rows without a usable TimeGenerated are skipped. The
// watermark only advances when every row was indexed, so a partial failure
// is retried on the next run; deterministic document IDs keep the retry
// from duplicating rows.
func (s *Syncer) Sync(ctx context.Context) (SyncResult, error) {
	var result SyncResult

	wm, err := s.watermark.Get(ctx)
	if err != nil {
		metrics.SyncErrors.Inc()
		return result, err
	}
	result.Watermark = wm

	rows, err := s.source.After(ctx, wm)
	if err != nil {
		metrics.SyncErrors.Inc()
		return result, fmt.Errorf("failed to fetch rows: %w", err)
	}
	result.Fetched = len(rows)
	if len(rows) == 0 {
		return result, nil
	}

	batch := make([]events.Event, 0, len(rows))
	newest := wm
	for _, row := range rows {
		ts, ok := generatedAt(row)
		if !ok {
			result.Skipped++
			continue
		}
		if _, has := row[events.FieldTimestamp]; !has {
			row[events.FieldTimestamp] = ts.Format(time.RFC3339Nano)
		}
		if ts.After(newest) {
			newest = ts
		}
		batch = append(batch, row)
	}

	res, err := s.sink.Index(ctx, batch)
	if err != nil {
		metrics.SyncErrors.Inc()
		return result, fmt.Errorf("failed to index events: %w", err)
	}
	result.Indexed = res.Indexed
	metrics.EventsSynced.Add(float64(res.Indexed))

	if res.Failed > 0 {
		metrics.SyncErrors.Inc()
		s.logger.Warn("event sync partially failed; watermark held",
			logging.Count(res.Failed), slog.Any("errors", firstN(res.Errors, 5)))
		return result, fmt.Errorf("%d of %d events failed to index", res.Failed, len(batch))
	}

	if _, err := s.watermark.Advance(ctx, newest); err != nil {
		metrics.SyncErrors.Inc()
		return result, err
	}
	result.Watermark = newest

	s.logger.Info("synced security events",
		logging.Count(result.Indexed),
		slog.Int("skipped", result.Skipped),
		slog.Time("watermark", newest))
	return result, nil
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// generatedAt reads the row's TimeGenerated, the column the After query
// filters on, falling back to @timestamp.
func generatedAt(row events.Event) (time.Time, bool) {
	if v, ok := row.Lookup(events.FieldTimeGenerated); ok {
		if t, ok := events.ParseTime(v); ok {
			return t, true
		}
	}
	return row.Timestamp()
}
