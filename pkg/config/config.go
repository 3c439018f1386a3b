// Package config loads the agent configuration from the environment, with
// an optional .env file for development setups.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultCheckInterval = 5 * time.Minute
	defaultFetchTimeout  = 60 * time.Second
	defaultConcurrency   = 4
	defaultServerAddr    = ":8080"
)

// ErrInvalidConfig is returned when a required setting is missing or
// malformed.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds everything the agent needs to locate, verify and launch
// updates.
type Config struct {
	// ScopeKey isolates this app's updates from others sharing the store.
	ScopeKey string

	// RuntimeVersion is the compatibility tag of the running binary.
	RuntimeVersion string

	// CompatibleRuntimeVersions is the set of runtime versions this binary
	// can launch. Always includes RuntimeVersion.
	CompatibleRuntimeVersions []string

	// UpdateURL is the remote manifest endpoint. Empty disables remote
	// checks.
	UpdateURL string

	// AssetBaseURL resolves relative asset names from legacy manifests.
	AssetBaseURL string

	// Filters are server-declared predicates over update metadata.
	Filters map[string]any

	UpdatesDir   string
	EmbeddedDir  string
	DatabasePath string

	CheckInterval time.Duration
	FetchTimeout  time.Duration
	Concurrency   int
	ServerAddr    string
}

// Load reads configuration from the environment. envFile, when non-empty
// and present, is loaded first without overriding variables already set.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: failed to load %s: %w", ErrInvalidConfig, envFile, err)
		}
	}

	cfg := &Config{
		ScopeKey:       os.Getenv("OTA_SCOPE_KEY"),
		RuntimeVersion: os.Getenv("OTA_RUNTIME_VERSION"),
		UpdateURL:      os.Getenv("OTA_UPDATE_URL"),
		AssetBaseURL:   os.Getenv("OTA_ASSET_BASE_URL"),
		UpdatesDir:     envOr("OTA_UPDATES_DIR", "build/updates"),
		EmbeddedDir:    envOr("OTA_EMBEDDED_DIR", "embedded"),
		ServerAddr:     envOr("OTA_SERVER_ADDR", defaultServerAddr),
		CheckInterval:  defaultCheckInterval,
		FetchTimeout:   defaultFetchTimeout,
		Concurrency:    defaultConcurrency,
	}
	cfg.DatabasePath = envOr("OTA_DATABASE_PATH", filepath.Join(cfg.UpdatesDir, "updates.db"))

	if cfg.ScopeKey == "" {
		return nil, fmt.Errorf("%w: OTA_SCOPE_KEY is required", ErrInvalidConfig)
	}
	if cfg.RuntimeVersion == "" {
		return nil, fmt.Errorf("%w: OTA_RUNTIME_VERSION is required", ErrInvalidConfig)
	}

	cfg.CompatibleRuntimeVersions = splitList(envOr("OTA_COMPATIBLE_RUNTIME_VERSIONS", ""))
	if !contains(cfg.CompatibleRuntimeVersions, cfg.RuntimeVersion) {
		cfg.CompatibleRuntimeVersions = append(cfg.CompatibleRuntimeVersions, cfg.RuntimeVersion)
	}

	if raw := os.Getenv("OTA_CHECK_INTERVAL"); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: OTA_CHECK_INTERVAL: %w", ErrInvalidConfig, err)
		}
		cfg.CheckInterval = interval
	}
	if raw := os.Getenv("OTA_FETCH_TIMEOUT"); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: OTA_FETCH_TIMEOUT: %w", ErrInvalidConfig, err)
		}
		cfg.FetchTimeout = timeout
	}
	if raw := os.Getenv("OTA_CONCURRENCY"); raw != "" {
		concurrency, err := strconv.Atoi(raw)
		if err != nil || concurrency <= 0 {
			return nil, fmt.Errorf("%w: OTA_CONCURRENCY must be a positive integer", ErrInvalidConfig)
		}
		cfg.Concurrency = concurrency
	}
	if raw := os.Getenv("OTA_FILTERS"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.Filters); err != nil {
			return nil, fmt.Errorf("%w: OTA_FILTERS must be a JSON object: %w", ErrInvalidConfig, err)
		}
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
