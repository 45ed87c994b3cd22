// Package config provides configuration loading for the detect service.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/telhawk-systems/secops-alerts/detect/internal/rules"
)

const (
	BackendOpenSearch   = "opensearch"
	BackendLogAnalytics = "loganalytics"
)

// Config holds all configuration for the detect service
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	OpenSearch   OpenSearchConfig   `mapstructure:"opensearch"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Events       EventsConfig       `mapstructure:"events"`
	LogAnalytics LogAnalyticsConfig `mapstructure:"loganalytics"`
	Rules        RulesConfig        `mapstructure:"rules"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	NATS         NATSConfig         `mapstructure:"nats"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// OpenSearchConfig holds the alert and event index settings
type OpenSearchConfig struct {
	URL            string        `mapstructure:"url" validate:"required,url"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Insecure       bool          `mapstructure:"insecure"`
	CACert         string        `mapstructure:"ca_cert"`
	AlertsIndex    string        `mapstructure:"alerts_index" validate:"required"`
	EventsIndex    string        `mapstructure:"events_index" validate:"required"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
}

// RedisConfig holds Redis configuration for the sync watermark
type RedisConfig struct {
	URL          string `mapstructure:"url"`
	Enabled      bool   `mapstructure:"enabled"`
	WatermarkKey string `mapstructure:"watermark_key"`
}

// EventsConfig selects and bounds the event source
type EventsConfig struct {
	Backend       string `mapstructure:"backend" validate:"oneof=opensearch loganalytics"`
	RecentHours   int    `mapstructure:"recent_hours" validate:"min=1,max=168"`
	FallbackLimit int    `mapstructure:"fallback_limit" validate:"gt=0"`
	MaxEvents     int    `mapstructure:"max_events" validate:"gt=0"`
}

// LogAnalyticsConfig holds the Azure Log Analytics connector settings
type LogAnalyticsConfig struct {
	TenantID     string        `mapstructure:"tenant_id"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	WorkspaceID  string        `mapstructure:"workspace_id"`
	Endpoint     string        `mapstructure:"endpoint" validate:"omitempty,url"`
	Authority    string        `mapstructure:"authority" validate:"omitempty,url"`
	Scope        string        `mapstructure:"scope"`
	Table        string        `mapstructure:"table"`
	QueryTimeout time.Duration `mapstructure:"query_timeout" validate:"gt=0"`
	Lookback     time.Duration `mapstructure:"lookback" validate:"gt=0"`
}

// Enabled reports whether workspace and credentials are all set.
func (c LogAnalyticsConfig) Enabled() bool {
	return c.WorkspaceID != "" && c.TenantID != "" && c.ClientID != "" && c.ClientSecret != ""
}

// RulesConfig tunes the built-in detection rules
type RulesConfig struct {
	FailedLogin         FailedLoginConfig `mapstructure:"failed_login"`
	PrivilegeEventIDs   []int             `mapstructure:"privilege_event_ids" validate:"min=1,dive,gt=0"`
	SuspiciousProcesses []string          `mapstructure:"suspicious_processes" validate:"min=1,dive,required"`
}

// FailedLoginConfig tunes the failed login burst rule
type FailedLoginConfig struct {
	Threshold      int           `mapstructure:"threshold" validate:"gt=0"`
	WindowMinutes  int           `mapstructure:"window_minutes" validate:"gt=0"`
	DedupTolerance time.Duration `mapstructure:"dedup_tolerance" validate:"gte=0"`
}

// Window returns the sliding window width.
func (c FailedLoginConfig) Window() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

// RuleConfig converts the section into the rule package configuration.
func (c RulesConfig) RuleConfig() rules.Config {
	return rules.Config{
		FailedLoginThreshold: c.FailedLogin.Threshold,
		FailedLoginWindow:    c.FailedLogin.Window(),
		DedupTolerance:       c.FailedLogin.DedupTolerance,
		PrivilegeEventIDs:    c.PrivilegeEventIDs,
		SuspiciousProcesses:  c.SuspiciousProcesses,
	}
}

// SchedulerConfig holds periodic job intervals. Zero disables a job.
type SchedulerConfig struct {
	DetectInterval time.Duration `mapstructure:"detect_interval" validate:"gte=0"`
	SyncInterval   time.Duration `mapstructure:"sync_interval" validate:"gte=0"`
}

// NATSConfig holds NATS message broker configuration
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	Enabled        bool          `mapstructure:"enabled"`
	CreatedSubject string        `mapstructure:"created_subject"`
	UpdatedSubject string        `mapstructure:"updated_subject"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	Name           string        `mapstructure:"name"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Token          string        `mapstructure:"token"`
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/telhawk/detect")
	}

	// Environment variables override (DETECT_SERVER_PORT, etc.)
	v.SetEnvPrefix("DETECT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		// Only fail if a specific config path was given
		if configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and cross-section requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Events.Backend == BackendLogAnalytics && !c.LogAnalytics.Enabled() {
		return errors.New("invalid config: events.backend loganalytics requires loganalytics tenant_id, client_id, client_secret and workspace_id")
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		return errors.New("invalid config: redis.url is required when redis is enabled")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("invalid config: nats.url is required when nats is enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("opensearch.url", "https://localhost:9200")
	v.SetDefault("opensearch.username", "admin")
	v.SetDefault("opensearch.password", "")
	v.SetDefault("opensearch.insecure", true)
	v.SetDefault("opensearch.ca_cert", "")
	v.SetDefault("opensearch.alerts_index", "security-alerts")
	v.SetDefault("opensearch.events_index", "security-events")
	v.SetDefault("opensearch.request_timeout", "30s")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.watermark_key", "detect:loganalytics:last_fetch")

	v.SetDefault("events.backend", BackendOpenSearch)
	v.SetDefault("events.recent_hours", 24)
	v.SetDefault("events.fallback_limit", 10000)
	v.SetDefault("events.max_events", 10000)

	v.SetDefault("loganalytics.tenant_id", "")
	v.SetDefault("loganalytics.client_id", "")
	v.SetDefault("loganalytics.client_secret", "")
	v.SetDefault("loganalytics.workspace_id", "")
	v.SetDefault("loganalytics.endpoint", "https://api.loganalytics.io")
	v.SetDefault("loganalytics.authority", "https://login.microsoftonline.com")
	v.SetDefault("loganalytics.scope", "https://api.loganalytics.io/.default")
	v.SetDefault("loganalytics.table", "SecurityEvent")
	v.SetDefault("loganalytics.query_timeout", "60s")
	v.SetDefault("loganalytics.lookback", "720h")

	v.SetDefault("rules.failed_login.threshold", 5)
	v.SetDefault("rules.failed_login.window_minutes", 10)
	v.SetDefault("rules.failed_login.dedup_tolerance", "5m")
	v.SetDefault("rules.privilege_event_ids", rules.DefaultPrivilegeEventIDs())
	v.SetDefault("rules.suspicious_processes", rules.DefaultSuspiciousProcesses())

	v.SetDefault("scheduler.detect_interval", "5m")
	v.SetDefault("scheduler.sync_interval", "0s")

	v.SetDefault("nats.url", "nats://nats:4222")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.created_subject", "alerts.created")
	v.SetDefault("nats.updated_subject", "alerts.updated")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.name", "telhawk-detect")
	v.SetDefault("nats.username", "")
	v.SetDefault("nats.password", "")
	v.SetDefault("nats.token", "")
}
