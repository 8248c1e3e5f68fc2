// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// DefaultCounselEndpoint is the hosted counselling service used when COUNSEL_ENDPOINT is unset.
const DefaultCounselEndpoint = "https://careerflow-counselor.onrender.com/api/counsel"

// Config holds all application configuration.
type Config struct {
	Env            string   `envconfig:"APP_ENV" default:"development"`
	Port           string   `envconfig:"PORT" default:"8080"`
	FrontendURL    string   `envconfig:"FRONTEND_URL"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"*"`
	DBPath         string   `envconfig:"DB_PATH" default:"./data/careerflow.db"`
	LogLevel       string   `envconfig:"LOG_LEVEL" default:"info"`
	RedisURL       string   `envconfig:"REDIS_URL"`

	Counsel   CounselConfig   `envconfig:"COUNSEL"`
	Search    SearchConfig    `envconfig:"SEARCH"`
	RateLimit RateLimitConfig `envconfig:"RATE_LIMIT"`
	Session   SessionConfig
}

// CounselConfig configures the outbound counselling stream.
type CounselConfig struct {
	Endpoint   string        `envconfig:"ENDPOINT" default:"https://careerflow-counselor.onrender.com/api/counsel"`
	Timeout    time.Duration `envconfig:"TIMEOUT" default:"60s"`
	Streaming  bool          `envconfig:"STREAMING" default:"true"`
	ReadBuffer int           `envconfig:"READ_BUFFER" default:"4096"`
}

// SearchConfig configures the job, course, scholarship and resume collaborators.
// An empty URL disables that collaborator.
type SearchConfig struct {
	JobsURL         string        `envconfig:"JOBS_URL"`
	CoursesURL      string        `envconfig:"COURSES_URL"`
	ScholarshipsURL string        `envconfig:"SCHOLARSHIPS_URL"`
	ResumeURL       string        `envconfig:"RESUME_ANALYZE_URL"`
	Timeout         time.Duration `envconfig:"TIMEOUT" default:"15s"`
	CacheTTL        time.Duration `envconfig:"CACHE_TTL" default:"10m"`
}

// RateLimitConfig bounds how often one anonymous user may start turns or searches.
type RateLimitConfig struct {
	PerMinute int `envconfig:"PER_MINUTE" default:"20"`
	Burst     int `envconfig:"BURST" default:"5"`
}

// SessionConfig controls in-memory session eviction and turn log retention.
type SessionConfig struct {
	IdleTTL       time.Duration `envconfig:"SESSION_IDLE_TTL" default:"60m"`
	TurnRetention time.Duration `envconfig:"TURN_LOG_RETENTION" default:"168h"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.Counsel.Endpoint = strings.TrimSpace(cfg.Counsel.Endpoint)
	if cfg.Counsel.Endpoint == "" {
		cfg.Counsel.Endpoint = DefaultCounselEndpoint
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if _, err := url.ParseRequestURI(c.Counsel.Endpoint); err != nil {
		return fmt.Errorf("COUNSEL_ENDPOINT is not a valid URL: %w", err)
	}
	if c.Counsel.Timeout <= 0 {
		return fmt.Errorf("COUNSEL_TIMEOUT must be > 0")
	}
	if c.Counsel.ReadBuffer <= 0 {
		return fmt.Errorf("COUNSEL_READ_BUFFER must be > 0")
	}
	if c.Search.Timeout <= 0 {
		return fmt.Errorf("SEARCH_TIMEOUT must be > 0")
	}
	if c.RateLimit.PerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be > 0")
	}
	if c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be > 0")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if c.Env == "production" {
		return false
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
