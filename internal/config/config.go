package config

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. Environment variables prefixed with ICSIMPORT_ override
// values read from the file.

const (
	EnvPrefix = "ICSIMPORT_"

	DefaultRefreshIntervalSeconds = 43200
	DefaultWindowBeforeDays       = 15
	DefaultWindowAfterDays        = 366
	DefaultFetchRetries           = 2
	DefaultTimezone               = "Europe/Berlin"
	DefaultRefreshCron            = "*/5 * * * *"
	DefaultListen                 = "127.0.0.1:8080"
	DefaultDatabase               = "/var/lib/icsimport/icsimport.db"
	DefaultCacheDir               = "/var/lib/icsimport/ics-cache"
	DefaultUserAgent              = "icsimport/0.1.0"
)

// FeedConfig describes the ICS subscription and its import window.
type FeedConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url" env:"URL, overwrite"`

	// RefreshIntervalSeconds is the lease duration between two imports.
	RefreshIntervalSeconds int `yaml:"refresh_interval_seconds" json:"refresh_interval_seconds" env:"REFRESH_INTERVAL_SECONDS, overwrite"`

	// WindowBeforeDays / WindowAfterDays bound the active window around now.
	WindowBeforeDays int `yaml:"window_before_days" json:"window_before_days" env:"WINDOW_BEFORE_DAYS, overwrite"`
	WindowAfterDays  int `yaml:"window_after_days" json:"window_after_days" env:"WINDOW_AFTER_DAYS, overwrite"`

	// MaxInstancesPerSeries caps the imported occurrences of one recurring
	// UID per run. Zero means no cap.
	MaxInstancesPerSeries int `yaml:"max_instances_per_series" json:"max_instances_per_series" env:"MAX_INSTANCES_PER_SERIES, overwrite"`

	// FetchRetries is the number of additional attempts on transient
	// network or 5xx failures.
	FetchRetries int `yaml:"fetch_retries" json:"fetch_retries" env:"FETCH_RETRIES, overwrite"`

	UserAgent string `yaml:"user_agent" json:"user_agent" env:"USER_AGENT, overwrite"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the HTTP API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username" env:"USERNAME, overwrite"`
	Password string `yaml:"password" json:"-" env:"PASSWORD, overwrite"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen" env:"LISTEN, overwrite"`

	// Timezone is the IANA timezone assigned to every imported event and
	// used for floating ICS times.
	Timezone string `yaml:"timezone" json:"timezone" env:"TIMEZONE, overwrite"`

	// RefreshCron is how often the scheduler checks whether an import is
	// due. The lease decides whether a check actually imports.
	RefreshCron string `yaml:"refresh" json:"refresh" env:"REFRESH, overwrite"`

	// Database is the SQLite file path.
	Database string `yaml:"database" json:"database" env:"DATABASE, overwrite"`

	// CacheDir holds the ETag/Last-Modified cache of the feed.
	CacheDir string `yaml:"cache_dir" json:"cache_dir" env:"CACHE_DIR, overwrite"`

	LogLevel  string `yaml:"log_level" json:"log_level" env:"LOG_LEVEL, overwrite"`
	LogFormat string `yaml:"log_format" json:"log_format" env:"LOG_FORMAT, overwrite"`

	Feed FeedConfig `yaml:"feed" json:"feed" env:", prefix=FEED_"`

	// BasicAuth enables HTTP Basic Authentication on all endpoints except
	// /health when both fields are set.
	BasicAuth BasicAuthConfig `yaml:"basic_auth" json:"basic_auth" env:", prefix=BASIC_AUTH_"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      DefaultListen,
		Timezone:    DefaultTimezone,
		RefreshCron: DefaultRefreshCron,
		Database:    DefaultDatabase,
		CacheDir:    DefaultCacheDir,
		LogLevel:    "info",
		LogFormat:   "text",
		Feed: FeedConfig{
			RefreshIntervalSeconds: DefaultRefreshIntervalSeconds,
			WindowBeforeDays:       DefaultWindowBeforeDays,
			WindowAfterDays:        DefaultWindowAfterDays,
			FetchRetries:           DefaultFetchRetries,
			UserAgent:              DefaultUserAgent,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = DefaultRefreshCron
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.Feed.RefreshIntervalSeconds <= 0 {
		c.Feed.RefreshIntervalSeconds = DefaultRefreshIntervalSeconds
	}
	// Zero windows are treated as unset.
	if c.Feed.WindowBeforeDays <= 0 {
		c.Feed.WindowBeforeDays = DefaultWindowBeforeDays
	}
	if c.Feed.WindowAfterDays <= 0 {
		c.Feed.WindowAfterDays = DefaultWindowAfterDays
	}
	if c.Feed.MaxInstancesPerSeries < 0 {
		c.Feed.MaxInstancesPerSeries = 0
	}
	if c.Feed.FetchRetries < 0 {
		c.Feed.FetchRetries = 0
	}
	if c.Feed.UserAgent == "" {
		c.Feed.UserAgent = DefaultUserAgent
	}
}

// RefreshInterval is the lease TTL.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Feed.RefreshIntervalSeconds) * time.Second
}

// Location resolves Timezone, falling back to UTC when it is unknown.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC, err
	}
	return loc, nil
}

// Load loads configuration from the given YAML path and applies
// environment overrides from the process environment.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - apply ICSIMPORT_* environment overrides
//   - normalize defaults
func Load(ctx context.Context, path string) (*Config, error) {
	return LoadWith(ctx, path, envconfig.OsLookuper())
}

// LoadWith is Load with an explicit environment source.
func LoadWith(ctx context.Context, path string, lookuper envconfig.Lookuper) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	var cfg *Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// First run: create default config file.
		cfg = DefaultConfig()
		if err := Save(path, cfg); err != nil {
			// Even if save fails, return cfg with error so caller can decide.
			return cfg, err
		}
	case err != nil:
		return nil, err
	default:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: envconfig.PrefixLookuper(EnvPrefix, lookuper),
	}); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".icsimport-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
