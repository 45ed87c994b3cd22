// Package service coordinates a detection pass: event retrieval, rule
// execution, persistence of alerts, status transitions and statistics.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/telhawk-systems/secops-alerts/common/logging"
	"github.com/telhawk-systems/secops-alerts/detect/internal/events"
	"github.com/telhawk-systems/secops-alerts/detect/internal/metrics"
	"github.com/telhawk-systems/secops-alerts/detect/internal/models"
	"github.com/telhawk-systems/secops-alerts/detect/internal/rules"
	"github.com/telhawk-systems/secops-alerts/detect/internal/storage"
)

// ErrStoreUnavailable is returned when an operation needs the alert store
// and none is configured.
var ErrStoreUnavailable = errors.New("alert store unavailable")

const (
	DefaultRecentHours   = 24
	DefaultFallbackLimit = 10000
	DefaultAlertLimit    = 100
)

// EventSource fetches normalized security events.
type EventSource interface {
	Recent(ctx context.Context, since, until time.Time) ([]events.Event, error)
	All(ctx context.Context, limit int) ([]events.Event, error)
}

// AlertStore persists alerts. *storage.AlertStore satisfies it.
type AlertStore interface {
	Search(ctx context.Context, q storage.AlertQuery) ([]models.Alert, error)
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
	Upsert(ctx context.Context, alert models.Alert) error
	UpdateStatus(ctx context.Context, id string, status models.Status) error
	Ping(ctx context.Context) error
}

// Notifier announces alert lifecycle changes.
type Notifier interface {
	AlertsCreated(ctx context.Context, alerts []models.Alert) error
	AlertStatusChanged(ctx context.Context, id string, status models.Status) error
}

// Options tunes event retrieval.
type Options struct {
	RecentHours   int
	FallbackLimit int
}

// AlertFilter narrows GetAlerts. Zero values match everything.
type AlertFilter struct {
	Status   models.Status
	Severity models.Severity
	Limit    int
}

// PassResult summarizes one detection pass.
type PassResult struct {
	Alerts    []models.Alert
	NewAlerts []models.Alert
}

// Service is the alert orchestrator.
type Service struct {
	source   EventSource
	store    AlertStore
	registry *rules.Registry
	notifier Notifier
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a Service. A nil store runs the service in degraded
// mode: alerts are generated on demand but never persisted.
func NewService(source EventSource, store AlertStore, registry *rules.Registry, opts Options, logger *slog.Logger) *Service {
	if opts.RecentHours <= 0 {
		opts.RecentHours = DefaultRecentHours
	}
	if opts.FallbackLimit <= 0 {
		opts.FallbackLimit = DefaultFallbackLimit
	}
	if registry == nil {
		registry = rules.DefaultRegistry(rules.DefaultConfig())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		source:   source,
		store:    store,
		registry: registry,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// WithNotifier sets the notifier used for new alerts and status changes.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// HasStore reports whether alerts are persisted.
func (s *Service) HasStore() bool {
	return s.store != nil
}

// Ready checks the alert store.
func (s *Service) Ready(ctx context.Context) error {
	if s.store == nil {
		return ErrStoreUnavailable
	}
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("alert store: %w", err)
	}
	return nil
}

// =============================================================================
// Events
// =============================================================================

// GetRecentEvents returns events within [now-hours, now]. Source failures
// yield an empty result.
func (s *Service) GetRecentEvents(ctx context.Context, hours int) []events.Event {
	if s.source == nil {
		return nil
	}
	if hours <= 0 {
		hours = s.opts.RecentHours
	}
	now := s.now().UTC()
	evts, err := s.source.Recent(ctx, now.Add(-time.Duration(hours)*time.Hour), now)
	if err != nil {
		metrics.EventSourceErrors.WithLabelValues("recent").Inc()
		s.logger.Error("failed to fetch recent events", slog.Int("hours", hours), logging.Error(err))
		return nil
	}
	metrics.EventsFetched.WithLabelValues("recent").Add(float64(len(evts)))
	return evts
}

// GetAllEvents returns up to limit events regardless of age. Source failures
// yield an empty result.
func (s *Service) GetAllEvents(ctx context.Context, limit int) []events.Event {
	if s.source == nil {
		return nil
	}
	if limit <= 0 {
		limit = s.opts.FallbackLimit
	}
	evts, err := s.source.All(ctx, limit)
	if err != nil {
		metrics.EventSourceErrors.WithLabelValues("fallback").Inc()
		s.logger.Error("failed to fetch events", slog.Int("limit", limit), logging.Error(err))
		return nil
	}
	metrics.EventsFetched.WithLabelValues("fallback").Add(float64(len(evts)))
	return evts
}

// =============================================================================
// Detection
// =============================================================================

// GenerateAlerts runs every registered rule over evts. A nil evts fetches
// the recent window, falling back once to an all-time fetch when it is empty.
func (s *Service) GenerateAlerts(ctx context.Context, evts []events.Event) []models.Alert {
	if evts == nil {
		evts = s.GetRecentEvents(ctx, s.opts.RecentHours)
		if len(evts) == 0 {
			metrics.FallbackFetches.Inc()
			s.logger.Info("no recent events, falling back to all events", slog.Int("limit", s.opts.FallbackLimit))
			evts = s.GetAllEvents(ctx, s.opts.FallbackLimit)
		}
	}

	var alerts []models.Alert
	for _, rule := range s.registry.Rules() {
		out, err := s.evaluate(rule, evts)
		if err != nil {
			metrics.RuleFailures.WithLabelValues(rule.Name()).Inc()
			s.logger.Error("rule evaluation failed", logging.Rule(rule.Name()), logging.Error(err))
			continue
		}
		metrics.AlertsGenerated.WithLabelValues(rule.Name()).Add(float64(len(out)))
		alerts = append(alerts, out...)
	}

	s.logger.Debug("generated alerts", logging.Count(len(alerts)), slog.Int("events", len(evts)))
	return alerts
}

func (s *Service) evaluate(rule rules.Rule, evts []events.Event) (out []models.Alert, err error) {
	start := time.Now()
	defer func() {
		metrics.RuleDuration.WithLabelValues(rule.Name()).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return rule.Evaluate(evts), nil
}

// RunPass generates alerts, persists them and notifies about the ones that
// were not stored before. Without a store nothing is new.
func (s *Service) RunPass(ctx context.Context, trigger string) PassResult {
	metrics.PassesTotal.WithLabelValues(trigger).Inc()

	alerts := s.GenerateAlerts(ctx, nil)
	result := PassResult{Alerts: alerts}
	if s.store == nil || len(alerts) == 0 {
		return result
	}

	ids := make([]string, len(alerts))
	for i, a := range alerts {
		ids[i] = a.ID
	}
	existing, err := s.store.ExistingIDs(ctx, ids)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("exists").Inc()
		s.logger.Warn("failed to look up stored alerts", logging.Error(err))
		existing = map[string]bool{}
	}

	for _, a := range alerts {
		if !s.StoreAlert(ctx, a) {
			continue
		}
		if !existing[a.ID] {
			result.NewAlerts = append(result.NewAlerts, a)
		}
	}
	metrics.NewAlerts.Add(float64(len(result.NewAlerts)))

	if s.notifier != nil && len(result.NewAlerts) > 0 {
		if err := s.notifier.AlertsCreated(ctx, result.NewAlerts); err != nil {
			s.logger.Warn("failed to publish new alerts", logging.Error(err))
		}
	}

	s.logger.Info("detection pass complete",
		slog.String("trigger", trigger),
		logging.Count(len(alerts)),
		slog.Int("new", len(result.NewAlerts)),
	)
	return result
}

// =============================================================================
// Alerts
// =============================================================================

// GetAlerts returns stored alerts matching f. When none are stored it
// generates a fresh set, stores it and filters it in memory. The result is
// sorted newest first and holds at most f.Limit alerts.
func (s *Service) GetAlerts(ctx context.Context, f AlertFilter) []models.Alert {
	if f.Limit <= 0 {
		f.Limit = DefaultAlertLimit
	}

	if s.store != nil {
		stored, err := s.store.Search(ctx, storage.AlertQuery{Status: f.Status, Severity: f.Severity, Limit: f.Limit})
		if err != nil {
			metrics.StoreErrors.WithLabelValues("search").Inc()
			s.logger.Warn("failed to search stored alerts", logging.Error(err))
		}
		if len(stored) > 0 {
			return sortAndLimit(stored, f.Limit)
		}
	}

	generated := s.GenerateAlerts(ctx, nil)
	for _, a := range generated {
		s.StoreAlert(ctx, a)
	}

	filtered := make([]models.Alert, 0, len(generated))
	for _, a := range generated {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		filtered = append(filtered, a)
	}
	return sortAndLimit(filtered, f.Limit)
}

func sortAndLimit(alerts []models.Alert, limit int) []models.Alert {
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Timestamp.After(alerts[j].Timestamp)
	})
	if len(alerts) > limit {
		alerts = alerts[:limit]
	}
	return alerts
}

// StoreAlert upserts alert by ID. It reports false on any failure.
func (s *Service) StoreAlert(ctx context.Context, alert models.Alert) bool {
	if s.store == nil {
		s.logger.Warn("alert store not available, cannot store alert", logging.AlertID(alert.ID))
		return false
	}
	if err := s.store.Upsert(ctx, alert); err != nil {
		metrics.StoreErrors.WithLabelValues("upsert").Inc()
		s.logger.Error("failed to store alert", logging.AlertID(alert.ID), logging.Error(err))
		return false
	}
	return true
}

// UpdateAlertStatus sets the status of a stored alert. It returns
// storage.ErrAlertNotFound for unknown IDs and ErrStoreUnavailable without a
// store.
func (s *Service) UpdateAlertStatus(ctx context.Context, id string, status models.Status) error {
	if !status.Valid() {
		return models.ErrInvalidStatus
	}
	if s.store == nil {
		return ErrStoreUnavailable
	}
	if err := s.store.UpdateStatus(ctx, id, status); err != nil {
		if !errors.Is(err, storage.ErrAlertNotFound) {
			metrics.StoreErrors.WithLabelValues("update_status").Inc()
			s.logger.Error("failed to update alert status", logging.AlertID(id), logging.Error(err))
		}
		return err
	}

	s.logger.Info("alert status updated", logging.AlertID(id), slog.String("status", string(status)))
	if s.notifier != nil {
		if err := s.notifier.AlertStatusChanged(ctx, id, status); err != nil {
			s.logger.Warn("failed to publish status change", logging.AlertID(id), logging.Error(err))
		}
	}
	return nil
}

// GetAlertStats computes statistics over a freshly generated alert set.
func (s *Service) GetAlertStats(ctx context.Context) models.Stats {
	return models.ComputeStats(s.GenerateAlerts(ctx, nil), s.now())
}
