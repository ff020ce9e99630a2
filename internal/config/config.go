// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/expertdesk/internal/model"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete expertdesk configuration.
type Config struct {
	Backend BackendConfig `toml:"backend"`
	HTTP    HTTPConfig    `toml:"http"`
	Cache   CacheConfig   `toml:"cache"`
	Chat    ChatConfig    `toml:"chat"`
	Logging LoggingConfig `toml:"logging"`
}

// BackendConfig locates the backend API.
type BackendConfig struct {
	// BaseURL is the API root, including the /api prefix.
	BaseURL string `toml:"base_url"`
	// Language is sent with conversation and message payloads.
	Language string `toml:"language"`
	// UserID is an optional stable user identifier forwarded to the
	// backend; empty means the backend derives one from the session.
	UserID string `toml:"user_id"`
}

// HTTPConfig tunes the request gateway.
type HTTPConfig struct {
	// MaxRetries is the per-request retry budget (total attempts is
	// max_retries + 1).
	MaxRetries int `toml:"max_retries"`
	// BaseDelayMS is the backoff base delay in milliseconds.
	BaseDelayMS int `toml:"base_delay_ms"`
	// TimeoutSecs is the per-attempt HTTP timeout.
	TimeoutSecs int `toml:"timeout_secs"`
	// DedupeGraceMS is how long a settled request stays eligible for
	// coalescing with near-simultaneous duplicates.
	DedupeGraceMS int `toml:"dedupe_grace_ms"`
}

// CacheConfig controls the durable local cache.
type CacheConfig struct {
	// Enabled toggles persistence entirely.
	Enabled bool `toml:"enabled"`
	// Path is the SQLite database location (empty = default under the
	// config directory).
	Path string `toml:"path"`
}

// ChatConfig holds chat defaults.
type ChatConfig struct {
	// DefaultService is the service used when none is named.
	DefaultService string `toml:"default_service"`
	// PollIntervalMS is the minimum spacing between delivery status
	// polls.
	PollIntervalMS int `toml:"poll_interval_ms"`
	// MaxPolls caps status checks per send before giving up.
	MaxPolls int `toml:"max_polls"`
	// UseRAG requests retrieval augmentation on new conversations.
	UseRAG bool `toml:"use_rag"`
	// UseDeepseekReasoning requests the reasoning model variant.
	UseDeepseekReasoning bool `toml:"use_deepseek_reasoning"`
}

// LoggingConfig controls diagnostic output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level"`
	// File receives the log stream; empty logs to stderr.
	File string `toml:"file"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:  "http://127.0.0.1:8000/api",
			Language: "es",
		},
		HTTP: HTTPConfig{
			MaxRetries:    1,
			BaseDelayMS:   500,
			TimeoutSecs:   30,
			DedupeGraceMS: 1000,
		},
		Cache: CacheConfig{
			Enabled: true,
		},
		Chat: ChatConfig{
			DefaultService: string(model.DefaultService),
			PollIntervalMS: 1500,
			MaxPolls:       40,
			UseRAG:         true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns ~/.expertdesk.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".expertdesk"), nil
}

// EnsureConfigDir creates ~/.expertdesk if it does not exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o700)
}

// ConfigPath returns the TOML config file location.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// CachePath resolves the cache database location, honoring an explicit
// override in the config.
func (c *Config) CachePath() (string, error) {
	if c.Cache.Path != "" {
		return c.Cache.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cache.db"), nil
}

// SessionStatePath is the JSON state file mirroring the session token.
func SessionStatePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "session.json"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load resolves configuration from defaults, the config file, and
// environment overrides, then validates it.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads from an explicit file path. A missing file is not
// an error; defaults apply.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as TOML.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies EXPERTDESK_* environment variables:
//
//   - EXPERTDESK_BASE_URL: overrides backend.base_url
//   - EXPERTDESK_LANGUAGE: overrides backend.language
//   - EXPERTDESK_USER_ID: overrides backend.user_id
//   - EXPERTDESK_SERVICE: overrides chat.default_service
//   - EXPERTDESK_CACHE: "0"/"false" disables the cache
//   - EXPERTDESK_CACHE_PATH: overrides cache.path
//   - EXPERTDESK_LOG_LEVEL: overrides logging.level
//   - EXPERTDESK_MAX_RETRIES: overrides http.max_retries
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("EXPERTDESK_BASE_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("EXPERTDESK_LANGUAGE"); v != "" {
		c.Backend.Language = v
	}
	if v := os.Getenv("EXPERTDESK_USER_ID"); v != "" {
		c.Backend.UserID = v
	}
	if v := os.Getenv("EXPERTDESK_SERVICE"); v != "" {
		c.Chat.DefaultService = v
	}
	if v := os.Getenv("EXPERTDESK_CACHE"); v != "" {
		c.Cache.Enabled = v != "0" && !strings.EqualFold(v, "false")
	}
	if v := os.Getenv("EXPERTDESK_CACHE_PATH"); v != "" {
		c.Cache.Path = v
	}
	if v := os.Getenv("EXPERTDESK_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("EXPERTDESK_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.HTTP.MaxRetries = n
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Validate checks field-level constraints.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ValidationError{Field: "backend.base_url",
			Message: fmt.Sprintf("not an absolute URL: %q", c.Backend.BaseURL)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ValidationError{Field: "backend.base_url",
			Message: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	if c.HTTP.MaxRetries < 0 {
		return ValidationError{Field: "http.max_retries", Message: "must be >= 0"}
	}
	if c.HTTP.TimeoutSecs <= 0 {
		return ValidationError{Field: "http.timeout_secs", Message: "must be positive"}
	}
	if c.Chat.PollIntervalMS <= 0 {
		return ValidationError{Field: "chat.poll_interval_ms", Message: "must be positive"}
	}
	if c.Chat.MaxPolls <= 0 {
		return ValidationError{Field: "chat.max_polls", Message: "must be positive"}
	}
	if !model.ServiceID(c.Chat.DefaultService).Valid() {
		return ValidationError{Field: "chat.default_service",
			Message: fmt.Sprintf("unknown service %q", c.Chat.DefaultService)}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return ValidationError{Field: "logging.level",
			Message: fmt.Sprintf("unknown level %q", c.Logging.Level)}
	}
	return nil
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// BaseDelay returns the gateway backoff base delay.
func (c *Config) BaseDelay() time.Duration {
	return time.Duration(c.HTTP.BaseDelayMS) * time.Millisecond
}

// HTTPTimeout returns the per-attempt timeout.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSecs) * time.Second
}

// DedupeGrace returns the request coalescing grace period.
func (c *Config) DedupeGrace() time.Duration {
	return time.Duration(c.HTTP.DedupeGraceMS) * time.Millisecond
}

// PollInterval returns the delivery status poll spacing.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Chat.PollIntervalMS) * time.Millisecond
}
