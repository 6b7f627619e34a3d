// Package config loads and validates the membership service configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the MBR_ prefix (e.g., MBR_DATABASE_HOST
// overrides database.host in the YAML). A local .env file, when present, is loaded
// into the process environment by cmd/server before Load runs.
//
// Secrets (database password, JWT secret, SMTP password, Kratos admin token) may be
// written as ${VAR} references and are expanded after unmarshalling.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Identity      IdentityConfig      `mapstructure:"identity"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Locking       LockingConfig       `mapstructure:"locking"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Billing       BillingConfig       `mapstructure:"billing"`
	Security      SecurityConfig      `mapstructure:"security"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Audit         AuditConfig         `mapstructure:"audit"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Events        EventsConfig        `mapstructure:"events"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// IdentityConfig selects and configures the identity provider backend.
type IdentityConfig struct {
	// Backend is "kratos" (production) or "memory" (development and tests)
	Backend string       `mapstructure:"backend"`
	Kratos  KratosConfig `mapstructure:"kratos"`
	// InitialCredentialLength is the length of the generated first-login password
	InitialCredentialLength int `mapstructure:"initial_credential_length"`
}

// KratosConfig holds the Ory Kratos admin API settings
type KratosConfig struct {
	AdminURL   string        `mapstructure:"admin_url"`
	AdminToken string        `mapstructure:"admin_token"`
	SchemaID   string        `mapstructure:"schema_id"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// RedisConfig holds the optional Redis connection used for locks and rate limiting.
// An empty Addr disables Redis and the in-process fallbacks are used.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a Redis address is configured
func (r *RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// LockingConfig controls the per-email advisory lock around membership mutations
type LockingConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
	Wait    time.Duration `mapstructure:"wait"`
	Prefix  string        `mapstructure:"prefix"`
}

// AuthConfig holds caller authentication configuration
type AuthConfig struct {
	JWT JWTConfig `mapstructure:"jwt"`
}

// JWTConfig holds bearer token verification settings
type JWTConfig struct {
	Secret   string `mapstructure:"secret"`
	Issuer   string `mapstructure:"issuer"`
	Audience string `mapstructure:"audience"`
}

// BillingConfig controls consultation of tenant seat limits
type BillingConfig struct {
	EnforceSeatLimits bool `mapstructure:"enforce_seat_limits"`
	// DefaultSeatLimit applies to tenants without a plan row; 0 means unlimited
	DefaultSeatLimit int `mapstructure:"default_seat_limit"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// AuditConfig holds audit logging configuration
type AuditConfig struct {
	// Enabled determines if audit logging is active
	Enabled bool `mapstructure:"enabled"`
	// LogFailedRequests determines if rejected mutations (4xx/5xx) are also recorded
	LogFailedRequests bool `mapstructure:"log_failed_requests"`
	// Shippers configures external log shipping
	Shippers []AuditShipperConfig `mapstructure:"shippers"`
}

// AuditShipperConfig holds configuration for a single audit shipper
type AuditShipperConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Type is the shipper type (webhook, file, s3)
	Type    string              `mapstructure:"type"`
	Webhook *AuditWebhookConfig `mapstructure:"webhook"`
	File    *AuditFileConfig    `mapstructure:"file"`
	S3      *AuditS3Config      `mapstructure:"s3"`
}

// AuditWebhookConfig holds webhook shipper configuration
type AuditWebhookConfig struct {
	URL         string            `mapstructure:"url"`
	Headers     map[string]string `mapstructure:"headers"`
	TimeoutSecs int               `mapstructure:"timeout_secs"`
}

// AuditFileConfig holds file shipper configuration
type AuditFileConfig struct {
	Path string `mapstructure:"path"`
}

// AuditS3Config holds the archive shipper settings. Entries are buffered and
// written as one NDJSON object per flush.
type AuditS3Config struct {
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Prefix   string `mapstructure:"prefix"`
	Endpoint string `mapstructure:"endpoint"`
	// BatchSize is the number of entries that triggers a flush
	BatchSize int `mapstructure:"batch_size"`
}

// NotificationsConfig holds settings for outbound invitation emails
type NotificationsConfig struct {
	// Enabled globally toggles all outbound emails. Requires SMTP to be configured.
	Enabled bool       `mapstructure:"enabled"`
	SMTP    SMTPConfig `mapstructure:"smtp"`
	// LoginURL is linked from invitation emails
	LoginURL string `mapstructure:"login_url"`
}

// SMTPConfig holds outbound mail server configuration
type SMTPConfig struct {
	// Host is the SMTP server hostname (e.g. smtp.sendgrid.net)
	Host string `mapstructure:"host"`
	// Port is the SMTP server port (587 for STARTTLS, 465 for SMTPS, 25 for plain)
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	// UseTLS enables STARTTLS (port 587) or implicit TLS (port 465); false = plain SMTP
	UseTLS bool `mapstructure:"use_tls"`
}

// EventsConfig holds the membership lifecycle event publisher settings
type EventsConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		// Identity
		"identity.backend",
		"identity.kratos.admin_url",
		"identity.kratos.admin_token",
		"identity.kratos.schema_id",
		"identity.kratos.timeout",
		"identity.initial_credential_length",

		// Redis / locking
		"redis.addr",
		"redis.password",
		"redis.db",
		"locking.enabled",
		"locking.ttl",
		"locking.wait",
		"locking.prefix",

		// Auth
		"auth.jwt.secret",
		"auth.jwt.issuer",
		"auth.jwt.audience",

		// Billing
		"billing.enforce_seat_limits",
		"billing.default_seat_limit",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",

		// Audit
		"audit.enabled",
		"audit.log_failed_requests",

		// Notifications / SMTP
		"notifications.enabled",
		"notifications.login_url",
		"notifications.smtp.host",
		"notifications.smtp.port",
		"notifications.smtp.username",
		"notifications.smtp.password",
		"notifications.smtp.from",
		"notifications.smtp.use_tls",

		// Events
		"events.enabled",
		"events.brokers",
		"events.topic",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/membership-service")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("MBR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Slice-valued env vars arrive as a single comma separated string
	if len(cfg.Events.Brokers) == 1 && strings.Contains(cfg.Events.Brokers[0], ",") {
		cfg.Events.Brokers = splitList(cfg.Events.Brokers[0])
	}

	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Identity.Kratos.AdminToken = expandEnv(cfg.Identity.Kratos.AdminToken)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Auth.JWT.Secret = expandEnv(cfg.Auth.JWT.Secret)
	cfg.Notifications.SMTP.Password = expandEnv(cfg.Notifications.SMTP.Password)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "membership")
	v.SetDefault("database.user", "membership")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Identity defaults
	v.SetDefault("identity.backend", "kratos")
	v.SetDefault("identity.kratos.admin_url", "http://localhost:4434")
	v.SetDefault("identity.kratos.schema_id", "default")
	v.SetDefault("identity.kratos.timeout", "10s")
	v.SetDefault("identity.initial_credential_length", 16)

	// Redis / locking defaults
	v.SetDefault("redis.db", 0)
	v.SetDefault("locking.enabled", true)
	v.SetDefault("locking.ttl", "30s")
	v.SetDefault("locking.wait", "5s")
	v.SetDefault("locking.prefix", "membership:email-lock:")

	// Auth defaults
	v.SetDefault("auth.jwt.issuer", "")
	v.SetDefault("auth.jwt.audience", "")

	// Billing defaults
	v.SetDefault("billing.enforce_seat_limits", true)
	v.SetDefault("billing.default_seat_limit", 0)

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 60)
	v.SetDefault("security.rate_limiting.burst", 10)
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "membership-service")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	// Audit defaults
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.log_failed_requests", true)

	// Notifications defaults
	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.smtp.port", 587)
	v.SetDefault("notifications.smtp.use_tls", true)

	// Events defaults
	v.SetDefault("events.enabled", false)
	v.SetDefault("events.topic", "membership.lifecycle")
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	switch c.Identity.Backend {
	case "kratos":
		if c.Identity.Kratos.AdminURL == "" {
			return fmt.Errorf("identity.kratos.admin_url is required when using the kratos backend")
		}
		if c.Identity.Kratos.SchemaID == "" {
			return fmt.Errorf("identity.kratos.schema_id is required when using the kratos backend")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid identity backend: %s (must be kratos or memory)", c.Identity.Backend)
	}
	if c.Identity.InitialCredentialLength < 12 {
		return fmt.Errorf("identity.initial_credential_length must be at least 12")
	}

	if c.Auth.JWT.Secret == "" {
		return fmt.Errorf("auth.jwt.secret is required")
	}

	if c.Locking.Enabled && c.Locking.TTL <= 0 {
		return fmt.Errorf("locking.ttl must be positive when locking is enabled")
	}

	if c.Billing.DefaultSeatLimit < 0 {
		return fmt.Errorf("billing.default_seat_limit must not be negative")
	}

	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	if c.Notifications.Enabled {
		if c.Notifications.SMTP.Host == "" {
			return fmt.Errorf("notifications.smtp.host is required when notifications are enabled")
		}
		if c.Notifications.SMTP.From == "" {
			return fmt.Errorf("notifications.smtp.from is required when notifications are enabled")
		}
	}

	if c.Events.Enabled {
		if len(c.Events.Brokers) == 0 {
			return fmt.Errorf("events.brokers is required when events are enabled")
		}
		if c.Events.Topic == "" {
			return fmt.Errorf("events.topic is required when events are enabled")
		}
	}

	for i, s := range c.Audit.Shippers {
		if !s.Enabled {
			continue
		}
		switch s.Type {
		case "webhook":
			if s.Webhook == nil || s.Webhook.URL == "" {
				return fmt.Errorf("audit.shippers[%d]: webhook.url is required", i)
			}
		case "file":
			if s.File == nil || s.File.Path == "" {
				return fmt.Errorf("audit.shippers[%d]: file.path is required", i)
			}
		case "s3":
			if s.S3 == nil || s.S3.Bucket == "" {
				return fmt.Errorf("audit.shippers[%d]: s3.bucket is required", i)
			}
		default:
			return fmt.Errorf("audit.shippers[%d]: unknown type %q (must be webhook, file, or s3)", i, s.Type)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
