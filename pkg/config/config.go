// Package config loads application configuration from the environment.
// Values come from the process environment; main loads .env first via godotenv.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	AI            AIConfig
	Import        ImportConfig
	Observability ObservabilityConfig
	Profiling     ProfilingConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host               string
	Port               int
	RateLimitPerSecond int
	RateLimitBurst     int
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// AuthConfig configures bearer-token verification.
type AuthConfig struct {
	JWTSecret string
}

// AIConfig configures the classification fallback provider.
type AIConfig struct {
	APIKey            string
	Model             string
	BatchSize         int
	RequestsPerMinute int
	MaxTokens         int
}

// ImportConfig tunes the import pipeline.
type ImportConfig struct {
	Workers        int
	QueueSize      int
	StallTimeout   time.Duration
	MaxUploadBytes int64
}

// ObservabilityConfig toggles metrics exposure.
type ObservabilityConfig struct {
	MetricsEnabled bool
}

// ProfilingConfig toggles the pprof server.
type ProfilingConfig struct {
	Enabled bool
	Port    int
}

// Load reads configuration from environment variables, applying defaults
// suitable for local development.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:               getEnv("SERVER_HOST", "0.0.0.0"),
			Port:               getEnvInt("SERVER_PORT", 8080),
			RateLimitPerSecond: getEnvInt("RATE_LIMIT_PER_SECOND", 50),
			RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 100),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "finly"),
			Password: getEnv("DB_PASSWORD", "finly"),
			Name:     getEnv("DB_NAME", "finly"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
		},
		AI: AIConfig{
			APIKey:            os.Getenv("ANTHROPIC_API_KEY"),
			Model:             getEnv("AI_MODEL", "claude-sonnet-4-5-20250929"),
			BatchSize:         getEnvInt("AI_BATCH_SIZE", 20),
			RequestsPerMinute: getEnvInt("AI_REQUESTS_PER_MINUTE", 30),
			MaxTokens:         getEnvInt("AI_MAX_TOKENS", 4096),
		},
		Import: ImportConfig{
			Workers:        getEnvInt("IMPORT_WORKERS", 4),
			QueueSize:      getEnvInt("IMPORT_QUEUE_SIZE", 64),
			StallTimeout:   getEnvDuration("IMPORT_STALL_TIMEOUT", 15*time.Minute),
			MaxUploadBytes: int64(getEnvInt("IMPORT_MAX_UPLOAD_BYTES", 10<<20)),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
		},
		Profiling: ProfilingConfig{
			Enabled: getEnvBool("PPROF_ENABLED", false),
			Port:    getEnvInt("PPROF_PORT", 6060),
		},
	}

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
