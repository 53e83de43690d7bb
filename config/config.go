// ABOUTME: Client configuration loaded from a YAML file and PARLEY_* environment variables.
// ABOUTME: Environment values override file values; validation refuses unusable endpoint settings.

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration validation errors.
var (
	ErrMissingBaseURL = errors.New(
		"no backend base URL configured; set base_url in the config file or PARLEY_BASE_URL",
	)
	ErrInvalidBaseURL = errors.New(
		"PARLEY_BASE_URL must be an absolute http or https URL",
	)
)

// Config holds everything the client needs to reach its backend.
type Config struct {
	BaseURL        string        `yaml:"base_url"`        // backend endpoint (PARLEY_BASE_URL)
	AuthToken      string        `yaml:"auth_token"`      // bearer token, optional (PARLEY_AUTH_TOKEN)
	EnableThinking bool          `yaml:"enable_thinking"` // stream reasoning deltas (PARLEY_ENABLE_THINKING)
	HTTPTimeout    time.Duration `yaml:"http_timeout"`    // request/response timeout (PARLEY_HTTP_TIMEOUT, default 30s)
	HistoryPage    int           `yaml:"history_page"`    // messages per history page (PARLEY_HISTORY_PAGE, default 50)
}

// DefaultPath returns the conventional config file location, honoring
// PARLEY_CONFIG when set.
func DefaultPath() string {
	if p := os.Getenv("PARLEY_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}
	return filepath.Join(home, ".parley", "config.yaml")
}

// Load reads the config file at path (missing files are not an error), then
// applies PARLEY_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{
		HTTPTimeout: 30 * time.Second,
		HistoryPage: 50,
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Environment-only configuration is fine.
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)

	if cfg.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, cfg.BaseURL)
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.HistoryPage <= 0 {
		cfg.HistoryPage = 50
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PARLEY_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("PARLEY_AUTH_TOKEN"); v != "" {
		cfg.AuthToken = v
	}
	if v := os.Getenv("PARLEY_ENABLE_THINKING"); v == "true" || v == "1" || v == "yes" {
		cfg.EnableThinking = true
	}
	if v := os.Getenv("PARLEY_HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.HTTPTimeout = d
		}
	}
	if v := os.Getenv("PARLEY_HISTORY_PAGE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HistoryPage = n
		}
	}
}
