// Package notify publishes alert lifecycle notifications over NATS.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/telhawk-systems/secops-alerts/common/logging"
	"github.com/telhawk-systems/secops-alerts/detect/internal/metrics"
	"github.com/telhawk-systems/secops-alerts/detect/internal/models"
)

const (
	DefaultCreatedSubject = "alerts.created"
	DefaultUpdatedSubject = "alerts.updated"
)

// Config holds NATS connection settings.
type Config struct {
	URL            string
	Name           string
	CreatedSubject string
	UpdatedSubject string
	MaxReconnects  int
	ReconnectWait  time.Duration
	Timeout        time.Duration
	Username       string
	Password       string
	Token          string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:            nats.DefaultURL,
		Name:           "telhawk-detect",
		CreatedSubject: DefaultCreatedSubject,
		UpdatedSubject: DefaultUpdatedSubject,
		MaxReconnects:  -1,
		ReconnectWait:  2 * time.Second,
		Timeout:        5 * time.Second,
	}
}

// Connect dials NATS, logging disconnects and reconnects through logger.
func Connect(cfg Config, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", logging.Error(err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
	}

	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// Publisher sends raw messages. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// AlertCreated is published once for every newly stored alert.
type AlertCreated struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Severity      models.Severity `json:"severity"`
	Status        models.Status   `json:"status"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	EventCount    int             `json:"event_count"`
	AffectedUsers []string        `json:"affected_users"`
	SourceIPs     []string        `json:"source_ips"`
}

// AlertStatusChanged is published after a successful status update.
type AlertStatusChanged struct {
	ID        string        `json:"id"`
	Status    models.Status `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// NATSNotifier publishes alert notifications as JSON.
type NATSNotifier struct {
	pub            Publisher
	createdSubject string
	updatedSubject string
	logger         *slog.Logger
	now            func() time.Time
}

// NewNATSNotifier creates a notifier; empty subjects use the defaults.
func NewNATSNotifier(pub Publisher, createdSubject, updatedSubject string, logger *slog.Logger) *NATSNotifier {
	if createdSubject == "" {
		createdSubject = DefaultCreatedSubject
	}
	if updatedSubject == "" {
		updatedSubject = DefaultUpdatedSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSNotifier{
		pub:            pub,
		createdSubject: createdSubject,
		updatedSubject: updatedSubject,
		logger:         logger,
		now:            time.Now,
	}
}

// AlertsCreated publishes one message per alert. Every alert is attempted;
// the first error is returned.
func (n *NATSNotifier) AlertsCreated(ctx context.Context, alerts []models.Alert) error {
	var firstErr error
	for _, a := range alerts {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := AlertCreated{
			ID:            a.ID,
			Title:         a.Title,
			Severity:      a.Severity,
			Status:        a.Status,
			Source:        a.Source,
			Timestamp:     a.Timestamp,
			EventCount:    a.EventCount,
			AffectedUsers: a.AffectedUsers,
			SourceIPs:     a.SourceIPs,
		}
		if err := n.publish(n.createdSubject, msg); err != nil {
			n.logger.Warn("failed to publish alert notification", logging.AlertID(a.ID), logging.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// AlertStatusChanged publishes a status change.
func (n *NATSNotifier) AlertStatusChanged(ctx context.Context, id string, status models.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.publish(n.updatedSubject, AlertStatusChanged{ID: id, Status: status, UpdatedAt: n.now().UTC()})
}

func (n *NATSNotifier) publish(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		metrics.NotificationsPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := n.pub.Publish(subject, data); err != nil {
		metrics.NotificationsPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	metrics.NotificationsPublished.WithLabelValues("success").Inc()
	return nil
}

// Nop discards notifications. It is used when NATS is disabled.
type Nop struct{}

func (Nop) AlertsCreated(context.Context, []models.Alert) error             { return nil }
func (Nop) AlertStatusChanged(context.Context, string, models.Status) error { return nil }
