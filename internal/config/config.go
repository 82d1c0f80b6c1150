package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Hostname is the public hostname of the site this receiver accepts
	// webmention targets for.
	Hostname string

	// Port is the HTTP server port.
	Port int

	// DatabasePath is the SQLite database file path.
	DatabasePath string

	// FetchTimeout bounds each outbound fetch (metadata and verification).
	FetchTimeout time.Duration

	// PurgeInterval is how often deleted mentions are purged.
	PurgeInterval time.Duration

	// PurgeMaxAge is how long a deleted mention is kept before purging.
	PurgeMaxAge time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	hostname := os.Getenv("MENTIONS_HOSTNAME")
	if hostname == "" {
		return nil, fmt.Errorf("MENTIONS_HOSTNAME is required")
	}

	port := 3000
	if p := os.Getenv("PORT"); p != "" {
		var err error
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
	}

	dbPath := os.Getenv("MENTIONS_DATABASE_PATH")
	if dbPath == "" {
		dbPath = "webmentions.db"
	}

	fetchTimeout, err := durationEnv("MENTIONS_FETCH_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	purgeInterval, err := durationEnv("MENTIONS_PURGE_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}

	purgeMaxAge, err := durationEnv("MENTIONS_PURGE_MAX_AGE", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}

	return &Config{
		Hostname:      hostname,
		Port:          port,
		DatabasePath:  dbPath,
		FetchTimeout:  fetchTimeout,
		PurgeInterval: purgeInterval,
		PurgeMaxAge:   purgeMaxAge,
	}, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
