// Package config loads and validates the overseer-lite configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the OVERSEER_ prefix (for example
// OVERSEER_STORE_BACKEND overrides store.backend in the YAML), so the same binary
// runs with a config.yaml locally and with plain environment variables in a
// container.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Store         StoreConfig         `mapstructure:"store"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Plex          PlexConfig          `mapstructure:"plex"`
	TVDB          TVDBConfig          `mapstructure:"tvdb"`
	TMDB          TMDBConfig          `mapstructure:"tmdb"`
	Feeds         FeedsConfig         `mapstructure:"feeds"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Jobs          JobsConfig          `mapstructure:"jobs"`
	Security      SecurityConfig      `mapstructure:"security"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
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

// StoreConfig selects the request/library store backend
type StoreConfig struct {
	// Backend is "postgres" or "badger"
	Backend string            `mapstructure:"backend"`
	Badger  BadgerStoreConfig `mapstructure:"badger"`
}

// BadgerStoreConfig holds embedded key-value store configuration
type BadgerStoreConfig struct {
	Path     string `mapstructure:"path"`
	InMemory bool   `mapstructure:"in_memory"`
}

// RedisConfig enables a shared Redis for rate-limit counters, the Plex
// identifier cache and HTTP throttling across replicas.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// AuthConfig holds the shared-password login settings
type AuthConfig struct {
	// PresharedPassword is the single password every user proves knowledge of
	PresharedPassword string `mapstructure:"preshared_password"`
	// SecretKey signs session tokens
	SecretKey string `mapstructure:"secret_key"`
	// Iterations is the PBKDF2 iteration count published to clients
	Iterations int `mapstructure:"iterations"`
	// ChallengeWindow bounds the accepted clock skew of a login proof
	ChallengeWindow time.Duration `mapstructure:"challenge_window"`
	// SessionDuration is how long an issued token stays valid
	SessionDuration time.Duration  `mapstructure:"session_duration"`
	RateLimit       LoginRateLimit `mapstructure:"rate_limit"`
}

// LoginRateLimit configures failed-login throttling per client address
type LoginRateLimit struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Window      time.Duration `mapstructure:"window"`
}

// PlexConfig holds Plex webhook configuration
type PlexConfig struct {
	// WebhookToken must be supplied as ?token= on webhook and sync calls
	WebhookToken string `mapstructure:"webhook_token"`
	// ServerName, when set, ignores events from other Plex servers
	ServerName string `mapstructure:"server_name"`
}

// TVDBConfig holds the optional TVDB v4 credentials used for episode lookups
type TVDBConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// TMDBConfig holds The Movie Database API settings
type TMDBConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	ImageBase string        `mapstructure:"image_base"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// FeedsConfig holds the Radarr/Sonarr list settings
type FeedsConfig struct {
	// Token, when set, must be supplied as ?token= on list and RSS endpoints
	Token string `mapstructure:"token"`
}

// NotificationsConfig selects where fulfilment notifications are sent
type NotificationsConfig struct {
	Enabled bool                `mapstructure:"enabled"`
	Webhook WebhookNotifyConfig `mapstructure:"webhook"`
	NATS    NATSNotifyConfig    `mapstructure:"nats"`
}

// WebhookNotifyConfig posts a JSON document to an HTTP endpoint
type WebhookNotifyConfig struct {
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

// NATSNotifyConfig publishes notifications to a NATS subject
type NATSNotifyConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// StorageConfig holds the blob backend used for the trending cache
type StorageConfig struct {
	DefaultBackend string             `mapstructure:"default_backend"`
	Azure          AzureStorageConfig `mapstructure:"azure"`
	S3             S3StorageConfig    `mapstructure:"s3"`
	GCS            GCSStorageConfig   `mapstructure:"gcs"`
	Local          LocalStorageConfig `mapstructure:"local"`
}

// AzureStorageConfig holds Azure Blob Storage configuration
type AzureStorageConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
}

// S3StorageConfig holds S3-compatible storage configuration
type S3StorageConfig struct {
	// Endpoint is optional, for MinIO and other S3-compatible services
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`
	// AccessKeyID and SecretAccessKey are optional; the default AWS credential
	// chain is used when they are empty.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// GCSStorageConfig holds Google Cloud Storage configuration
type GCSStorageConfig struct {
	Bucket          string `mapstructure:"bucket"`
	CredentialsFile string `mapstructure:"credentials_file"`
	Endpoint        string `mapstructure:"endpoint"`
}

// LocalStorageConfig holds local filesystem storage configuration
type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// JobsConfig holds background job settings
type JobsConfig struct {
	TrendingWarmer TrendingWarmerConfig `mapstructure:"trending_warmer"`
}

// TrendingWarmerConfig controls the periodic trending cache refresh
type TrendingWarmerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Locales  []string      `mapstructure:"locales"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
	// TrustedProxies lists the IPs or CIDRs whose X-Forwarded-For is believed.
	// Empty means the socket peer is the client.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateLimitingConfig holds general HTTP throttling configuration
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
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// AutomaticEnv() alone does not populate nested structs during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Store
		"store.backend",
		"store.badger.path",
		"store.badger.in_memory",

		// Redis
		"redis.enabled",
		"redis.addr",
		"redis.username",
		"redis.password",
		"redis.db",
		"redis.prefix",

		// Auth
		"auth.preshared_password",
		"auth.secret_key",
		"auth.iterations",
		"auth.challenge_window",
		"auth.session_duration",
		"auth.rate_limit.enabled",
		"auth.rate_limit.max_attempts",
		"auth.rate_limit.window",

		// Upstreams
		"plex.webhook_token",
		"plex.server_name",
		"tvdb.api_key",
		"tvdb.base_url",
		"tvdb.timeout",
		"tmdb.api_key",
		"tmdb.base_url",
		"tmdb.image_base",
		"tmdb.timeout",

		// Feeds
		"feeds.token",

		// Notifications
		"notifications.enabled",
		"notifications.webhook.url",
		"notifications.webhook.timeout",
		"notifications.nats.url",
		"notifications.nats.subject",

		// Storage
		"storage.default_backend",
		"storage.azure.account_name",
		"storage.azure.account_key",
		"storage.azure.container_name",
		"storage.s3.endpoint",
		"storage.s3.region",
		"storage.s3.bucket",
		"storage.s3.access_key_id",
		"storage.s3.secret_access_key",
		"storage.gcs.bucket",
		"storage.gcs.credentials_file",
		"storage.gcs.endpoint",
		"storage.local.base_path",

		// Jobs
		"jobs.trending_warmer.enabled",
		"jobs.trending_warmer.interval",
		"jobs.trending_warmer.locales",

		// Security
		"security.cors.allowed_origins",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",
		"security.trusted_proxies",

		// Logging / telemetry
		"logging.level",
		"logging.format",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
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
		v.AddConfigPath("/etc/overseer-lite")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("OVERSEER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Secrets may reference other variables, e.g. "${PLEX_TOKEN}"
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Auth.PresharedPassword = expandEnv(cfg.Auth.PresharedPassword)
	cfg.Auth.SecretKey = expandEnv(cfg.Auth.SecretKey)
	cfg.Plex.WebhookToken = expandEnv(cfg.Plex.WebhookToken)
	cfg.TVDB.APIKey = expandEnv(cfg.TVDB.APIKey)
	cfg.TMDB.APIKey = expandEnv(cfg.TMDB.APIKey)
	cfg.Feeds.Token = expandEnv(cfg.Feeds.Token)
	cfg.Storage.Azure.AccountKey = expandEnv(cfg.Storage.Azure.AccountKey)
	cfg.Storage.S3.AccessKeyID = expandEnv(cfg.Storage.S3.AccessKeyID)
	cfg.Storage.S3.SecretAccessKey = expandEnv(cfg.Storage.S3.SecretAccessKey)

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
	v.SetDefault("database.name", "overseer")
	v.SetDefault("database.user", "overseer")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.min_idle_connections", 2)

	// Store defaults
	v.SetDefault("store.backend", "postgres")
	v.SetDefault("store.badger.path", "./data/badger")
	v.SetDefault("store.badger.in_memory", false)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "overseer:")

	// Auth defaults
	v.SetDefault("auth.iterations", 100000)
	v.SetDefault("auth.challenge_window", "5m")
	v.SetDefault("auth.session_duration", "720h")
	v.SetDefault("auth.rate_limit.enabled", true)
	v.SetDefault("auth.rate_limit.max_attempts", 5)
	v.SetDefault("auth.rate_limit.window", "15m")

	// Upstream defaults
	v.SetDefault("tvdb.base_url", "https://api4.thetvdb.com/v4")
	v.SetDefault("tvdb.timeout", "10s")
	v.SetDefault("tmdb.base_url", "https://api.themoviedb.org/3")
	v.SetDefault("tmdb.image_base", "https://image.tmdb.org/t/p")
	v.SetDefault("tmdb.timeout", "10s")

	// Notifications defaults
	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.webhook.timeout", "10s")
	v.SetDefault("notifications.nats.subject", "overseer.requests.fulfilled")

	// Storage defaults
	v.SetDefault("storage.default_backend", "local")
	v.SetDefault("storage.local.base_path", "./storage")

	// Jobs defaults
	v.SetDefault("jobs.trending_warmer.enabled", false)
	v.SetDefault("jobs.trending_warmer.interval", "6h")
	v.SetDefault("jobs.trending_warmer.locales", []string{"en"})

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 120)
	v.SetDefault("security.rate_limiting.burst", 30)
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	if c.Auth.PresharedPassword == "" {
		return fmt.Errorf("auth.preshared_password is required")
	}
	if c.Auth.SecretKey == "" {
		return fmt.Errorf("auth.secret_key is required")
	}
	if c.Auth.Iterations < 100000 {
		return fmt.Errorf("auth.iterations must be at least 100000, got %d", c.Auth.Iterations)
	}
	if c.Auth.ChallengeWindow <= 0 {
		return fmt.Errorf("auth.challenge_window must be positive")
	}
	if c.Auth.RateLimit.Enabled {
		if c.Auth.RateLimit.MaxAttempts < 1 {
			return fmt.Errorf("auth.rate_limit.max_attempts must be at least 1")
		}
		if c.Auth.RateLimit.Window <= 0 {
			return fmt.Errorf("auth.rate_limit.window must be positive")
		}
	}

	switch c.Store.Backend {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required when using the postgres store")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database.name is required when using the postgres store")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required when using the postgres store")
		}
	case "badger":
		if !c.Store.Badger.InMemory && c.Store.Badger.Path == "" {
			return fmt.Errorf("store.badger.path is required unless store.badger.in_memory is set")
		}
	default:
		return fmt.Errorf("invalid store backend: %s (must be postgres or badger)", c.Store.Backend)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	validBackends := map[string]bool{"azure": true, "s3": true, "gcs": true, "local": true}
	if !validBackends[c.Storage.DefaultBackend] {
		return fmt.Errorf("invalid storage backend: %s (must be azure, s3, gcs, or local)", c.Storage.DefaultBackend)
	}
	switch c.Storage.DefaultBackend {
	case "azure":
		if c.Storage.Azure.AccountName == "" || c.Storage.Azure.AccountKey == "" || c.Storage.Azure.ContainerName == "" {
			return fmt.Errorf("storage.azure.account_name, account_key and container_name are required when using Azure backend")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when using S3 backend")
		}
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when using S3 backend")
		}
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required when using GCS backend")
		}
	case "local":
		if c.Storage.Local.BasePath == "" {
			return fmt.Errorf("storage.local.base_path is required when using local backend")
		}
	}

	if c.Notifications.Enabled && c.Notifications.Webhook.URL == "" && c.Notifications.NATS.URL == "" {
		return fmt.Errorf("notifications.enabled requires notifications.webhook.url or notifications.nats.url")
	}

	if c.Jobs.TrendingWarmer.Enabled {
		if c.TMDB.APIKey == "" {
			return fmt.Errorf("tmdb.api_key is required when the trending warmer is enabled")
		}
		if c.Jobs.TrendingWarmer.Interval < time.Minute {
			return fmt.Errorf("jobs.trending_warmer.interval must be at least 1m")
		}
	}

	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	for _, proxy := range c.Security.TrustedProxies {
		if net.ParseIP(proxy) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(proxy); err != nil {
			return fmt.Errorf("security.trusted_proxies: %q is not an IP or CIDR", proxy)
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

// TVDBEnabled reports whether episode lookups against TVDB are configured
func (c *Config) TVDBEnabled() bool {
	return c.TVDB.APIKey != ""
}
