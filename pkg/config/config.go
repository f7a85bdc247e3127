// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/mlin-dev/dailybrief/pkg/schedule"
)

// Config holds every runtime setting.
type Config struct {
	// DatabasePath is the SQLite database file.
	DatabasePath string
	// HTTPAddr is the listen address of the admin API.
	HTTPAddr string

	// OpenAIAPIKey authenticates summarizer calls.
	OpenAIAPIKey string
	// OpenAIModel selects the chat model.
	OpenAIModel string

	// StaleThreshold is how long a running job may live before it can be
	// reclaimed.
	StaleThreshold time.Duration
	// PollInterval is the worker's queue polling cadence.
	PollInterval time.Duration
	// WindowDays is the trailing document window length.
	WindowDays int
	// CallTimeout bounds each summarizer call.
	CallTimeout time.Duration
	// ScheduleSpec is a five-field cron line for the daily trigger.
	// Empty disables the built-in scheduler.
	ScheduleSpec string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string
}

// Load reads configuration from the environment. When envFile is non-empty
// it is loaded first; a missing file is not an error so production
// deployments can rely on real environment variables alone.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{
		DatabasePath:   getEnv("DAILYBRIEF_DB", "dailybrief.db"),
		HTTPAddr:       getEnv("DAILYBRIEF_HTTP_ADDR", ":8080"),
		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		StaleThreshold: 45 * time.Minute,
		PollInterval:   5 * time.Second,
		WindowDays:     7,
		CallTimeout:    3 * time.Minute,
		ScheduleSpec:   os.Getenv("DAILYBRIEF_SCHEDULE"),
		LogLevel:       getEnv("DAILYBRIEF_LOG_LEVEL", "info"),
	}

	var err error
	if cfg.StaleThreshold, err = getDuration("DAILYBRIEF_STALE_THRESHOLD", cfg.StaleThreshold); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = getDuration("DAILYBRIEF_POLL_INTERVAL", cfg.PollInterval); err != nil {
		return nil, err
	}
	if cfg.CallTimeout, err = getDuration("DAILYBRIEF_CALL_TIMEOUT", cfg.CallTimeout); err != nil {
		return nil, err
	}
	if cfg.WindowDays, err = getInt("DAILYBRIEF_WINDOW_DAYS", cfg.WindowDays); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.WindowDays < 1 {
		return fmt.Errorf("DAILYBRIEF_WINDOW_DAYS must be at least 1, got %d", c.WindowDays)
	}
	if c.StaleThreshold <= 0 {
		return fmt.Errorf("DAILYBRIEF_STALE_THRESHOLD must be positive, got %s", c.StaleThreshold)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("DAILYBRIEF_POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.ScheduleSpec != "" {
		if _, err := schedule.ParseCron(c.ScheduleSpec); err != nil {
			return fmt.Errorf("DAILYBRIEF_SCHEDULE %q: %w", c.ScheduleSpec, err)
		}
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("DAILYBRIEF_LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", key, v, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", key, v, err)
	}
	return n, nil
}
