/*
config.go - Process configuration

PURPOSE:
  Collects server settings from the environment. A .env file in the working
  directory is loaded first when present; real environment variables win
  over it. Command-line flags in cmd/server override both.

ENVIRONMENT:
  PORT            HTTP port (default 8080)
  DB_PATH         SQLite database path (default accounting.db, ":memory:" allowed)
  LOG_LEVEL       debug | info | warn | error (default info)
  SWEEP_ENABLED   run the periodic cancellation sweep (default true)
  SWEEP_INTERVAL  Go duration between sweeps (default 1h)
  SWEEP_WORKERS   policies evaluated concurrently per sweep (default 4)
  CORS_ORIGINS    comma-separated allowed origins
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           int
	DBPath         string
	LogLevel       string
	SweepEnabled   bool
	SweepInterval  time.Duration
	SweepWorkers   int
	AllowedOrigins []string
}

// Load reads .env (if any) and the environment.
func Load() (*Config, error) {
	// Missing .env is fine; variables may come from the real environment.
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function, defaulting unset keys.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}

	port, err := strconv.Atoi(get("PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("PORT: %w", err)
	}
	sweepEnabled, err := strconv.ParseBool(get("SWEEP_ENABLED", "true"))
	if err != nil {
		return nil, fmt.Errorf("SWEEP_ENABLED: %w", err)
	}
	interval, err := time.ParseDuration(get("SWEEP_INTERVAL", "1h"))
	if err != nil {
		return nil, fmt.Errorf("SWEEP_INTERVAL: %w", err)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", interval)
	}
	workers, err := strconv.Atoi(get("SWEEP_WORKERS", "4"))
	if err != nil {
		return nil, fmt.Errorf("SWEEP_WORKERS: %w", err)
	}
	if workers < 1 {
		workers = 1
	}

	var origins []string
	for _, o := range strings.Split(get("CORS_ORIGINS", "http://localhost:5173,http://localhost:8080"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return &Config{
		Port:           port,
		DBPath:         get("DB_PATH", "accounting.db"),
		LogLevel:       get("LOG_LEVEL", "info"),
		SweepEnabled:   sweepEnabled,
		SweepInterval:  interval,
		SweepWorkers:   workers,
		AllowedOrigins: origins,
	}, nil
}
