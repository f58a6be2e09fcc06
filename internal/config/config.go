package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Log         LogConfig         `mapstructure:"log"`
	Security    SecurityConfig    `mapstructure:"security"`
	Quota       QuotaConfig       `mapstructure:"quota"`
	Compose     ComposeConfig     `mapstructure:"compose"`
	Attachments AttachmentsConfig `mapstructure:"attachments"`
	Delivery    DeliveryConfig    `mapstructure:"delivery"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Usage       UsageConfig       `mapstructure:"usage"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// AllowedOrigins lists the origins the CORS middleware accepts
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	// ServiceToken authenticates the billing and contacts services on the
	// admin routes. Admin routes are disabled while it is empty.
	ServiceToken string `mapstructure:"service_token"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	SendLimit  int           `mapstructure:"send_limit"`
	SendWindow time.Duration `mapstructure:"send_window"`
}

// QuotaConfig holds quota ledger configuration
type QuotaConfig struct {
	// Backend selects the ledger implementation: "redis" or "memory"
	Backend     string     `mapstructure:"backend"`
	DefaultPlan PlanConfig `mapstructure:"default_plan"`
	// ReservationTTL is the age after which an unsettled reservation is swept
	ReservationTTL time.Duration `mapstructure:"reservation_ttl"`
	// SweepInterval is how often the janitor sweeps stale reservations
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// SettledRetention is how long settled reservations are remembered so that
	// repeated commit/release calls stay no-ops
	SettledRetention time.Duration `mapstructure:"settled_retention"`
}

// PlanConfig holds plan limits for accounts the ledger has not seen before
type PlanConfig struct {
	MonthlyMessages int64 `mapstructure:"monthly_messages"`
	StorageBytes    int64 `mapstructure:"storage_bytes"`
	Contacts        int64 `mapstructure:"contacts"`
}

// ComposeConfig holds compose session configuration
type ComposeConfig struct {
	// MaxAttempts is the default number of dispatch attempts per session
	MaxAttempts int `mapstructure:"max_attempts"`
	// SessionRetention is how long terminal sessions stay pollable
	SessionRetention time.Duration `mapstructure:"session_retention"`
	// DraftRetention is how long an untouched draft lives before it is discarded
	DraftRetention time.Duration `mapstructure:"draft_retention"`
}

// AttachmentsConfig holds attachment validation limits
type AttachmentsConfig struct {
	MaxTotalBytes int64 `mapstructure:"max_total_bytes"`
	// AllowedTypes is a list of MIME types; "type/*" matches a whole family
	AllowedTypes []string `mapstructure:"allowed_types"`
}

// DeliveryConfig holds outbound delivery configuration
type DeliveryConfig struct {
	// Transport selects the delivery transport: "log" or "gmail"
	Transport     string        `mapstructure:"transport"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	FromAddress   string        `mapstructure:"from_address"`
	FromName      string        `mapstructure:"from_name"`
	Gmail         GmailConfig   `mapstructure:"gmail"`
}

// GmailConfig holds Gmail API configuration
type GmailConfig struct {
	// CredentialsJSON is the service account credentials JSON content
	CredentialsJSON string `mapstructure:"credentials_json"`
	// ClientID for OAuth2 token-based auth (alternative to service account)
	ClientID string `mapstructure:"client_id"`
	// ClientSecret for OAuth2 token-based auth
	ClientSecret string `mapstructure:"client_secret"`
	// RefreshToken for OAuth2 token-based auth
	RefreshToken string `mapstructure:"refresh_token"`
}

// StorageConfig holds attachment content storage configuration
type StorageConfig struct {
	// Provider selects the content store: "memory" or "s3"
	Provider string   `mapstructure:"provider"`
	S3       S3Config `mapstructure:"s3"`
}

// S3Config holds S3-compatible object storage settings
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
}

// UsageConfig holds usage aggregation configuration
type UsageConfig struct {
	// Timezone is the IANA zone used for month and hour bucketing
	Timezone      string `mapstructure:"timezone"`
	TopRecipients int    `mapstructure:"top_recipients"`
}

// Location resolves the configured timezone
func (c UsageConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	// Set config file name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/ezmail")

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables
	v.SetEnvPrefix("EZMAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks values that would otherwise fail at first use
func (c *Config) Validate() error {
	var errs []error

	switch c.Quota.Backend {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("quota.backend must be redis or memory, got %q", c.Quota.Backend))
	}
	if c.Quota.DefaultPlan.MonthlyMessages < 0 || c.Quota.DefaultPlan.StorageBytes < 0 || c.Quota.DefaultPlan.Contacts < 0 {
		errs = append(errs, errors.New("quota.default_plan limits must not be negative"))
	}
	if c.Quota.ReservationTTL <= 0 {
		errs = append(errs, errors.New("quota.reservation_ttl must be positive"))
	}
	if c.Quota.ReservationTTL > 0 && c.Quota.ReservationTTL <= c.Delivery.Timeout {
		errs = append(errs, fmt.Errorf("quota.reservation_ttl (%s) must be longer than delivery.timeout (%s)",
			c.Quota.ReservationTTL, c.Delivery.Timeout))
	}
	if c.Quota.SweepInterval <= 0 {
		errs = append(errs, errors.New("quota.sweep_interval must be positive"))
	}
	if c.Compose.MaxAttempts <= 0 {
		errs = append(errs, errors.New("compose.max_attempts must be positive"))
	}
	if c.Compose.DraftRetention <= 0 {
		errs = append(errs, errors.New("compose.draft_retention must be positive"))
	}
	if c.Attachments.MaxTotalBytes <= 0 {
		errs = append(errs, errors.New("attachments.max_total_bytes must be positive"))
	}
	if c.Delivery.Timeout <= 0 {
		errs = append(errs, errors.New("delivery.timeout must be positive"))
	}
	switch c.Delivery.Transport {
	case "log", "gmail":
	default:
		errs = append(errs, fmt.Errorf("delivery.transport must be log or gmail, got %q", c.Delivery.Transport))
	}
	switch c.Storage.Provider {
	case "memory", "s3":
	default:
		errs = append(errs, fmt.Errorf("storage.provider must be memory or s3, got %q", c.Storage.Provider))
	}
	if _, err := c.Usage.Location(); err != nil {
		errs = append(errs, fmt.Errorf("usage.timezone: %w", err))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "ezmail")
	v.SetDefault("database.user", "ezmail")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.send_limit", 30)
	v.SetDefault("security.rate_limiting.send_window", "1m")
	v.SetDefault("security.service_token", "")

	// Quota defaults
	v.SetDefault("quota.backend", "redis")
	v.SetDefault("quota.default_plan.monthly_messages", 1000)
	v.SetDefault("quota.default_plan.storage_bytes", int64(10)*1024*1024*1024)
	v.SetDefault("quota.default_plan.contacts", 500)
	v.SetDefault("quota.reservation_ttl", "15m")
	v.SetDefault("quota.sweep_interval", "1m")
	v.SetDefault("quota.settled_retention", "24h")

	// Compose defaults
	v.SetDefault("compose.max_attempts", 3)
	v.SetDefault("compose.session_retention", "1h")
	v.SetDefault("compose.draft_retention", "168h")

	// Attachment defaults
	v.SetDefault("attachments.max_total_bytes", 20*1024*1024)
	v.SetDefault("attachments.allowed_types", []string{
		"image/*",
		"audio/*",
		"application/pdf",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.template",
		"application/vnd.ms-word.document.macroenabled.12",
		"application/vnd.ms-word.template.macroenabled.12",
	})

	// Delivery defaults
	v.SetDefault("delivery.transport", "log")
	v.SetDefault("delivery.timeout", "30s")
	v.SetDefault("delivery.rate_per_second", 10)
	v.SetDefault("delivery.burst", 20)
	v.SetDefault("delivery.from_address", "no-reply@ezmail.local")
	v.SetDefault("delivery.from_name", "ezmail")
	v.SetDefault("delivery.gmail.credentials_json", "")
	v.SetDefault("delivery.gmail.client_id", "")
	v.SetDefault("delivery.gmail.client_secret", "")
	v.SetDefault("delivery.gmail.refresh_token", "")

	// Storage defaults
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.bucket", "ezmail-attachments")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("storage.s3.region", "auto")

	// Usage defaults
	v.SetDefault("usage.timezone", "UTC")
	v.SetDefault("usage.top_recipients", 5)
}
