// Package config provides configuration management for the application.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig
	Upstream UpstreamConfig
	History  HistoryConfig
	Storage  StorageConfig
	Metrics  MetricsConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	// Port the HTTP server listens on
	Port string

	// APIKey is the bearer credential required on protected routes.
	// When empty, the server runs without authentication.
	APIKey string

	// AvailableModels is the list of model identifiers advertised on /v1/models
	AvailableModels []string

	// BodySizeLimit is the maximum request body size in bytes
	BodySizeLimit int64
}

// UpstreamConfig holds configuration for the completion provider backend
type UpstreamConfig struct {
	// BaseURL is the OpenAI-compatible API base URL (e.g. https://api.openai.com/v1)
	BaseURL string

	// APIKey authenticates against the upstream provider
	APIKey string
}

// HistoryConfig holds exchange recording configuration
type HistoryConfig struct {
	// Enabled controls whether exchanges are recorded and searchable
	Enabled bool

	// BufferSize is the number of exchanges buffered before new ones are dropped
	BufferSize int

	// FlushInterval is how often buffered exchanges are flushed to the store
	FlushInterval time.Duration
}

// StorageConfig holds storage backend configuration
type StorageConfig struct {
	// Type selects the backend: "sqlite", "postgresql", or "mongodb"
	Type string

	// SQLitePath is the database file path for the sqlite backend
	SQLitePath string

	// PostgresURL is the connection string for the postgresql backend
	PostgresURL string

	// PostgresMaxConns bounds the postgresql connection pool
	PostgresMaxConns int

	// MongoURL is the connection string for the mongodb backend
	MongoURL string

	// MongoDatabase is the mongodb database name
	MongoDatabase string
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled  bool
	Endpoint string
}

// LogConfig holds application log configuration
type LogConfig struct {
	// Format is "json" (default) or "pretty"
	Format string
}

// DefaultBodySizeLimit is the default maximum request body size (10MB)
const DefaultBodySizeLimit int64 = 10 * 1024 * 1024

// Load reads configuration from a .env file and the environment
func Load() (*Config, error) {
	// Load .env file using Viper (optional, won't fail if not found)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if .env file doesn't exist

	// Set defaults
	viper.SetDefault("PORT", "8000")
	viper.SetDefault("STORAGE_TYPE", "sqlite")
	viper.SetDefault("SQLITE_PATH", "data/promptkeeper.db")
	viper.SetDefault("POSTGRES_MAX_CONNS", 10)
	viper.SetDefault("MONGODB_DATABASE", "promptkeeper")
	viper.SetDefault("HISTORY_ENABLED", true)
	viper.SetDefault("HISTORY_BUFFER_SIZE", 1000)
	viper.SetDefault("HISTORY_FLUSH_INTERVAL", "5s")
	viper.SetDefault("METRICS_ENDPOINT", "/metrics")
	viper.SetDefault("UPSTREAM_BASE_URL", "https://api.openai.com/v1")
	viper.SetDefault("LOG_FORMAT", "json")
	viper.SetDefault("BODY_SIZE_LIMIT", DefaultBodySizeLimit)

	// Enable automatic environment variable reading
	viper.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port:            viper.GetString("PORT"),
			APIKey:          viper.GetString("API_KEY"),
			AvailableModels: splitModels(viper.GetString("AVAILABLE_MODELS")),
			BodySizeLimit:   viper.GetInt64("BODY_SIZE_LIMIT"),
		},
		Upstream: UpstreamConfig{
			BaseURL: viper.GetString("UPSTREAM_BASE_URL"),
			APIKey:  viper.GetString("UPSTREAM_API_KEY"),
		},
		History: HistoryConfig{
			Enabled:       viper.GetBool("HISTORY_ENABLED"),
			BufferSize:    viper.GetInt("HISTORY_BUFFER_SIZE"),
			FlushInterval: viper.GetDuration("HISTORY_FLUSH_INTERVAL"),
		},
		Storage: StorageConfig{
			Type:             viper.GetString("STORAGE_TYPE"),
			SQLitePath:       viper.GetString("SQLITE_PATH"),
			PostgresURL:      viper.GetString("POSTGRES_URL"),
			PostgresMaxConns: viper.GetInt("POSTGRES_MAX_CONNS"),
			MongoURL:         viper.GetString("MONGODB_URL"),
			MongoDatabase:    viper.GetString("MONGODB_DATABASE"),
		},
		Metrics: MetricsConfig{
			Enabled:  viper.GetBool("METRICS_ENABLED"),
			Endpoint: viper.GetString("METRICS_ENDPOINT"),
		},
		Log: LogConfig{
			Format: viper.GetString("LOG_FORMAT"),
		},
	}

	return cfg, nil
}

// splitModels parses a comma-separated model list, trimming whitespace
// and dropping empty entries.
func splitModels(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	models := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			models = append(models, p)
		}
	}
	return models
}
