package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/secops-alerts/common/logging"
	"github.com/telhawk-systems/secops-alerts/common/middleware"
	"github.com/telhawk-systems/secops-alerts/detect/internal/config"
	"github.com/telhawk-systems/secops-alerts/detect/internal/eventsource"
	"github.com/telhawk-systems/secops-alerts/detect/internal/handlers"
	"github.com/telhawk-systems/secops-alerts/detect/internal/notify"
	"github.com/telhawk-systems/secops-alerts/detect/internal/rules"
	"github.com/telhawk-systems/secops-alerts/detect/internal/scheduler"
	"github.com/telhawk-systems/secops-alerts/detect/internal/server"
	"github.com/telhawk-systems/secops-alerts/detect/internal/service"
	"github.com/telhawk-systems/secops-alerts/detect/internal/storage"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format).With(logging.Service("detect"))
	logging.SetDefault(logger)
	log := logger.Logger

	// OpenSearch is optional: without it alerts are generated on demand
	// and never persisted.
	var (
		alertStore service.AlertStore
		eventStore *storage.EventStore
	)
	osClient, err := storage.NewClient(storage.Config{
		URL:            cfg.OpenSearch.URL,
		Username:       cfg.OpenSearch.Username,
		Password:       cfg.OpenSearch.Password,
		Insecure:       cfg.OpenSearch.Insecure,
		CACertPath:     cfg.OpenSearch.CACert,
		RequestTimeout: cfg.OpenSearch.RequestTimeout,
	})
	if err != nil {
		log.Warn("OpenSearch unavailable, running in degraded mode", logging.Error(err))
	} else {
		alertStore, eventStore = setupStorage(osClient, cfg, log)
	}

	source, laClient := setupEventSource(cfg, eventStore, log)

	// Notifications
	var notifier service.Notifier = notify.Nop{}
	if cfg.NATS.Enabled {
		natsCfg := notify.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.MaxReconnects = cfg.NATS.MaxReconnects
		natsCfg.ReconnectWait = cfg.NATS.ReconnectWait
		natsCfg.Name = cfg.NATS.Name
		natsCfg.Username = cfg.NATS.Username
		natsCfg.Password = cfg.NATS.Password
		natsCfg.Token = cfg.NATS.Token
		conn, err := notify.Connect(natsCfg, log)
		if err != nil {
			log.Warn("NATS unavailable, alert notifications disabled", logging.Error(err))
		} else {
			defer closeNATS(conn, log)
			notifier = notify.NewNATSNotifier(conn, cfg.NATS.CreatedSubject, cfg.NATS.UpdatedSubject, log)
			log.Info("NATS notifications enabled", slog.String("url", cfg.NATS.URL))
		}
	}

	registry := rules.DefaultRegistry(cfg.Rules.RuleConfig())
	svc := service.NewService(source, alertStore, registry, service.Options{
		RecentHours:   cfg.Events.RecentHours,
		FallbackLimit: cfg.Events.FallbackLimit,
	}, log).WithNotifier(notifier)

	// Periodic jobs
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.NewScheduler(log)
	sched.Add("detect", cfg.Scheduler.DetectInterval, func(ctx context.Context) {
		svc.RunPass(ctx, "scheduler")
	})
	if laClient != nil && eventStore != nil {
		syncer := eventsource.NewSyncer(laClient, eventStore, setupWatermark(cfg, log), log)
		sched.Add("sync", cfg.Scheduler.SyncInterval, func(ctx context.Context) {
			if _, err := syncer.Sync(ctx); err != nil {
				log.Error("event sync failed", logging.Error(err))
			}
		})
	}
	sched.Start(ctx)

	// HTTP server
	handler := handlers.NewHandler(svc, logger)
	router := server.NewRouter(handler, middleware.DefaultCORSConfig(), log)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Detect service listening", slog.String("addr", srv.Addr), slog.Int("rules", registry.Len()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logging.Error(err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logging.Error(err))
	}

	log.Info("Server stopped gracefully")
}

func setupStorage(client *opensearch.Client, cfg *config.Config, log *slog.Logger) (service.AlertStore, *storage.EventStore) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.OpenSearch.RequestTimeout)
	defer cancel()

	alerts := storage.NewAlertStore(client, cfg.OpenSearch.AlertsIndex, cfg.OpenSearch.RequestTimeout, log)
	if err := alerts.EnsureIndex(ctx); err != nil {
		log.Warn("failed to ensure alerts index", logging.Index(cfg.OpenSearch.AlertsIndex), logging.Error(err))
	}

	evts := storage.NewEventStore(client, cfg.OpenSearch.EventsIndex, cfg.OpenSearch.RequestTimeout, cfg.Events.MaxEvents, log)
	if err := evts.EnsureTemplate(ctx); err != nil {
		log.Warn("failed to ensure events template", logging.Index(evts.Pattern()), logging.Error(err))
	}
	return alerts, evts
}

// setupEventSource picks the event source used by detection passes. The Log
// Analytics client is returned separately since it also feeds the syncer.
func setupEventSource(cfg *config.Config, eventStore *storage.EventStore, log *slog.Logger) (service.EventSource, *eventsource.LogAnalytics) {
	var la *eventsource.LogAnalytics
	if cfg.LogAnalytics.Enabled() {
		tokens, err := eventsource.NewTokenProvider(eventsource.Credentials{
			TenantID:     cfg.LogAnalytics.TenantID,
			ClientID:     cfg.LogAnalytics.ClientID,
			ClientSecret: cfg.LogAnalytics.ClientSecret,
			Authority:    cfg.LogAnalytics.Authority,
			Scope:        cfg.LogAnalytics.Scope,
		}, log)
		if err == nil {
			la, err = eventsource.NewLogAnalytics(eventsource.LogAnalyticsConfig{
				Endpoint:     cfg.LogAnalytics.Endpoint,
				WorkspaceID:  cfg.LogAnalytics.WorkspaceID,
				Table:        cfg.LogAnalytics.Table,
				QueryTimeout: cfg.LogAnalytics.QueryTimeout,
				Lookback:     cfg.LogAnalytics.Lookback,
				MaxRows:      cfg.Events.MaxEvents,
			}, tokens, log)
		}
		if err != nil {
			log.Warn("Log Analytics connector disabled", logging.Error(err))
			la = nil
		}
	}

	switch {
	case cfg.Events.Backend == config.BackendLogAnalytics && la != nil:
		return la, la
	case eventStore != nil:
		return eventStore, la
	default:
		log.Warn("no event source available, detection passes will see no events")
		return nil, la
	}
}

func setupWatermark(cfg *config.Config, log *slog.Logger) eventsource.WatermarkStore {
	if !cfg.Redis.Enabled {
		return &eventsource.MemoryWatermarkStore{}
	}
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Warn("invalid redis url, keeping sync watermark in memory", logging.Error(err))
		return &eventsource.MemoryWatermarkStore{}
	}
	return eventsource.NewRedisWatermarkStore(redis.NewClient(opts), cfg.Redis.WatermarkKey)
}

func closeNATS(conn *nats.Conn, log *slog.Logger) {
	if err := conn.FlushTimeout(5 * time.Second); err != nil {
		log.Warn("NATS flush failed", logging.Error(err))
	}
	conn.Close()
}
