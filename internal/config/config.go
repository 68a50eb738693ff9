// Package config provides configuration management for the video importer.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Vendor    VendorConfig
	Breaker   BreakerConfig
	YouTube   YouTubeConfig
	Queue     QueueConfig
	Feed      FeedConfig
	Editorial EditorialConfig
	Storage   StorageConfig
	Auth      AuthConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestsPerSec  int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres       PostgresConfig
	Redis          RedisConfig
	MigrationsPath string
	AutoMigrate    bool
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns the connection URL used by the migration runner.
func (p PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		p.User, p.Password, p.Host, p.Port, p.Database)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// VendorConfig holds the remote vendor API configuration
type VendorConfig struct {
	ServerURL      string
	Namespace      string
	LicenseKey     string
	SiteURL        string
	SiteName       string
	MaxRetries     int
	RetryBaseDelay time.Duration
	CacheTTL       time.Duration
}

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	Threshold int
	Cooldown  time.Duration
	Shared    bool // keep breaker state in Redis
}

// YouTubeConfig holds direct YouTube Data API configuration
type YouTubeConfig struct {
	APIKey   string
	BaseURL  string
	CacheTTL time.Duration

	// DailyQuota and ReservedQuota are Data API units per Pacific day.
	// Reserved units are kept for the processor and refresher; channel
	// imports draw from the remainder. DailyQuota 0 disables tracking.
	DailyQuota    int
	ReservedQuota int
}

// QueueConfig holds import queue configuration
type QueueConfig struct {
	TickInterval    time.Duration
	BatchSize       int
	MinDuration     time.Duration
	ManualWakeDelay time.Duration
	StaleAfter      time.Duration
	ReapInterval    time.Duration
	RefreshInterval time.Duration
}

// FeedConfig holds the channel RSS import settings. No URLs disables polling.
type FeedConfig struct {
	URLs         []string
	PollInterval time.Duration
	ImportLimit  int
	Timeout      time.Duration
	UserAgent    string
}

// Enabled reports whether at least one feed is configured
func (c FeedConfig) Enabled() bool {
	return len(c.URLs) > 0
}

// EditorialConfig holds transcript and description settings
type EditorialConfig struct {
	TranscriptMode string
	TranscriptLang string
	GoldenPrompt   string
}

// StorageConfig holds S3-compatible asset storage configuration
type StorageConfig struct {
	Endpoint        string
	Region          string
	AccessKey       string
	SecretKey       string
	ThumbnailBucket string
	PublicBaseURL   string
}

// Enabled reports whether thumbnail uploads are configured.
func (s StorageConfig) Enabled() bool {
	return s.ThumbnailBucket != ""
}

// AuthConfig holds admin API authentication configuration
type AuthConfig struct {
	JWTSecret string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	config := &Config{
		Server: ServerConfig{
			Port:            v.GetString("SERVER_PORT"),
			Host:            v.GetString("SERVER_HOST"),
			ReadTimeout:     v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout:    v.GetDuration("SERVER_WRITE_TIMEOUT"),
			ShutdownTimeout: v.GetDuration("SERVER_SHUTDOWN_TIMEOUT"),
			RequestsPerSec:  v.GetInt("SERVER_REQUESTS_PER_SEC"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           v.GetString("POSTGRES_HOST"),
				Port:           v.GetString("POSTGRES_PORT"),
				Database:       v.GetString("POSTGRES_DB"),
				User:           v.GetString("POSTGRES_USER"),
				Password:       v.GetString("POSTGRES_PASSWORD"),
				MaxConnections: v.GetInt("POSTGRES_MAX_CONNECTIONS"),
			},
			Redis: RedisConfig{
				Host:           v.GetString("REDIS_HOST"),
				Port:           v.GetString("REDIS_PORT"),
				Password:       v.GetString("REDIS_PASSWORD"),
				DB:             v.GetInt("REDIS_DB"),
				MaxConnections: v.GetInt("REDIS_MAX_CONNECTIONS"),
			},
			MigrationsPath: v.GetString("MIGRATIONS_PATH"),
			AutoMigrate:    v.GetBool("AUTO_MIGRATE"),
		},
		Vendor: VendorConfig{
			ServerURL:      strings.TrimRight(v.GetString("VENDOR_SERVER_URL"), "/"),
			Namespace:      strings.Trim(v.GetString("VENDOR_API_NAMESPACE"), "/"),
			LicenseKey:     v.GetString("VENDOR_LICENSE_KEY"),
			SiteURL:        v.GetString("VENDOR_SITE_URL"),
			SiteName:       v.GetString("VENDOR_SITE_NAME"),
			MaxRetries:     v.GetInt("VENDOR_MAX_RETRIES"),
			RetryBaseDelay: v.GetDuration("VENDOR_RETRY_BASE_DELAY"),
			CacheTTL:       v.GetDuration("VENDOR_CACHE_TTL"),
		},
		Breaker: BreakerConfig{
			Threshold: v.GetInt("BREAKER_THRESHOLD"),
			Cooldown:  v.GetDuration("BREAKER_COOLDOWN"),
			Shared:    v.GetBool("BREAKER_SHARED"),
		},
		YouTube: YouTubeConfig{
			APIKey:   v.GetString("YOUTUBE_API_KEY"),
			BaseURL:  strings.TrimRight(v.GetString("YOUTUBE_API_URL"), "/"),
			CacheTTL: v.GetDuration("YOUTUBE_CACHE_TTL"),

			DailyQuota:    v.GetInt("YOUTUBE_DAILY_QUOTA"),
			ReservedQuota: v.GetInt("YOUTUBE_RESERVED_QUOTA"),
		},
		Queue: QueueConfig{
			TickInterval:    v.GetDuration("QUEUE_TICK_INTERVAL"),
			BatchSize:       v.GetInt("QUEUE_BATCH_SIZE"),
			MinDuration:     v.GetDuration("QUEUE_MIN_DURATION"),
			ManualWakeDelay: v.GetDuration("QUEUE_MANUAL_WAKE_DELAY"),
			StaleAfter:      v.GetDuration("QUEUE_STALE_AFTER"),
			ReapInterval:    v.GetDuration("QUEUE_REAP_INTERVAL"),
			RefreshInterval: v.GetDuration("QUEUE_REFRESH_INTERVAL"),
		},
		Feed: FeedConfig{
			URLs:         splitList(v.GetString("RSS_FEED_URLS")),
			PollInterval: v.GetDuration("RSS_POLL_INTERVAL"),
			ImportLimit:  v.GetInt("RSS_IMPORT_LIMIT"),
			Timeout:      v.GetDuration("RSS_FETCH_TIMEOUT"),
			UserAgent:    v.GetString("RSS_USER_AGENT"),
		},
		Editorial: EditorialConfig{
			TranscriptMode: v.GetString("TRANSCRIPT_MODE"),
			TranscriptLang: v.GetString("TRANSCRIPT_LANG"),
			GoldenPrompt:   v.GetString("GOLDEN_PROMPT"),
		},
		Storage: StorageConfig{
			Endpoint:        v.GetString("S3_ENDPOINT"),
			Region:          v.GetString("S3_REGION"),
			AccessKey:       v.GetString("S3_ACCESS_KEY"),
			SecretKey:       v.GetString("S3_SECRET_KEY"),
			ThumbnailBucket: v.GetString("S3_THUMBNAIL_BUCKET"),
			PublicBaseURL:   strings.TrimRight(v.GetString("S3_PUBLIC_BASE_URL"), "/"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("ADMIN_JWT_SECRET"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_READ_TIMEOUT", 15*time.Second)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER_REQUESTS_PER_SEC", 20)

	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", "5432")
	v.SetDefault("POSTGRES_DB", "video_importer")
	v.SetDefault("POSTGRES_USER", "importer")
	v.SetDefault("POSTGRES_PASSWORD", "")
	v.SetDefault("POSTGRES_MAX_CONNECTIONS", 20)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_MAX_CONNECTIONS", 20)

	v.SetDefault("MIGRATIONS_PATH", "migrations/postgres")
	v.SetDefault("AUTO_MIGRATE", false)

	v.SetDefault("VENDOR_SERVER_URL", "https://aiedintorni.it")
	v.SetDefault("VENDOR_API_NAMESPACE", "wp-json/ipv-vendor/v1")
	v.SetDefault("VENDOR_SITE_URL", "http://localhost:8080")
	v.SetDefault("VENDOR_SITE_NAME", "video-importer")
	v.SetDefault("VENDOR_MAX_RETRIES", 3)
	v.SetDefault("VENDOR_RETRY_BASE_DELAY", time.Second)
	v.SetDefault("VENDOR_CACHE_TTL", time.Hour)

	v.SetDefault("BREAKER_THRESHOLD", 5)
	v.SetDefault("BREAKER_COOLDOWN", 5*time.Minute)
	v.SetDefault("BREAKER_SHARED", false)

	v.SetDefault("YOUTUBE_API_URL", "https://www.googleapis.com/youtube/v3")
	v.SetDefault("YOUTUBE_CACHE_TTL", time.Hour)
	v.SetDefault("YOUTUBE_DAILY_QUOTA", 10000)
	v.SetDefault("YOUTUBE_RESERVED_QUOTA", 6000)

	v.SetDefault("QUEUE_TICK_INTERVAL", time.Minute)
	v.SetDefault("QUEUE_BATCH_SIZE", 3)
	v.SetDefault("QUEUE_MIN_DURATION", 5*time.Minute)
	v.SetDefault("QUEUE_MANUAL_WAKE_DELAY", 5*time.Second)
	v.SetDefault("QUEUE_STALE_AFTER", 30*time.Minute)
	v.SetDefault("QUEUE_REAP_INTERVAL", 5*time.Minute)
	v.SetDefault("QUEUE_REFRESH_INTERVAL", time.Hour)

	v.SetDefault("RSS_POLL_INTERVAL", time.Hour)
	v.SetDefault("RSS_IMPORT_LIMIT", 10)
	v.SetDefault("RSS_FETCH_TIMEOUT", 30*time.Second)
	v.SetDefault("RSS_USER_AGENT", "video-importer/1.0")

	v.SetDefault("TRANSCRIPT_MODE", "auto")
	v.SetDefault("TRANSCRIPT_LANG", "auto")

	v.SetDefault("S3_REGION", "us-east-1")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

// Validate checks the values that would make the service misbehave silently.
func (c *Config) Validate() error {
	if c.Queue.BatchSize <= 0 {
		return fmt.Errorf("QUEUE_BATCH_SIZE must be positive, got %d", c.Queue.BatchSize)
	}
	if c.Queue.TickInterval <= 0 {
		return fmt.Errorf("QUEUE_TICK_INTERVAL must be positive, got %s", c.Queue.TickInterval)
	}
	if c.Feed.Enabled() && c.Feed.PollInterval <= 0 {
		return fmt.Errorf("RSS_POLL_INTERVAL must be positive, got %s", c.Feed.PollInterval)
	}
	if c.Feed.ImportLimit <= 0 {
		return fmt.Errorf("RSS_IMPORT_LIMIT must be positive, got %d", c.Feed.ImportLimit)
	}
	if c.Vendor.MaxRetries < 0 {
		return fmt.Errorf("VENDOR_MAX_RETRIES must not be negative, got %d", c.Vendor.MaxRetries)
	}
	if c.Breaker.Threshold <= 0 {
		return fmt.Errorf("BREAKER_THRESHOLD must be positive, got %d", c.Breaker.Threshold)
	}
	if c.YouTube.ReservedQuota > c.YouTube.DailyQuota && c.YouTube.DailyQuota > 0 {
		return fmt.Errorf("YOUTUBE_RESERVED_QUOTA (%d) exceeds YOUTUBE_DAILY_QUOTA (%d)", c.YouTube.ReservedQuota, c.YouTube.DailyQuota)
	}
	if c.Database.Postgres.MaxConnections <= 0 {
		return fmt.Errorf("POSTGRES_MAX_CONNECTIONS must be positive, got %d", c.Database.Postgres.MaxConnections)
	}
	return nil
}

// splitList splits a comma separated value, dropping blanks
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
