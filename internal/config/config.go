package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// API configuration
	API APIConfig `json:"api"`

	// Local store
	Store StoreConfig `json:"store"`

	// Sync queue behavior
	Sync SyncConfig `json:"sync"`

	// Logging
	Log LogConfig `json:"log"`
}

// APIConfig for backend communication.
type APIConfig struct {
	BaseURL    string        `json:"base_url"`
	Token      string        `json:"token,omitempty"`
	TokenFile  string        `json:"token_file,omitempty"`
	Timeout    time.Duration `json:"timeout"`
	UserAgent  string        `json:"user_agent"`
	HealthPath string        `json:"health_path"` // probed by the connectivity monitor
}

// StoreConfig for local persistence.
type StoreConfig struct {
	Backend string `json:"backend"` // "json" or "sqlite"
	DataDir string `json:"data_dir"`
	DBFile  string `json:"db_file"` // sqlite backend only
	StoreID string `json:"store_id,omitempty"`
}

// SyncConfig for queue retry and connectivity behavior.
type SyncConfig struct {
	MaxRetries    int           `json:"max_retries"`
	BaseBackoff   time.Duration `json:"base_backoff"`
	MaxBackoff    time.Duration `json:"max_backoff"`
	InitialDelay  time.Duration `json:"initial_delay"` // first pass after startup when online
	ProbeInterval time.Duration `json:"probe_interval"`
	ProbeTimeout  time.Duration `json:"probe_timeout"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
	File   string `json:"file"`   // log file path (empty = stderr)
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".dukasync"

	return &Config{
		API: APIConfig{
			BaseURL:    "https://api.dukaanware.com",
			Timeout:    30 * time.Second,
			UserAgent:  "dukasync/1.0",
			HealthPath: "/health",
		},
		Store: StoreConfig{
			Backend: "json",
			DataDir: dataDir,
			DBFile:  filepath.Join(dataDir, "dukasync.db"),
		},
		Sync: SyncConfig{
			MaxRetries:    5,
			BaseBackoff:   2 * time.Second,
			MaxBackoff:    5 * time.Minute,
			InitialDelay:  2 * time.Second,
			ProbeInterval: 15 * time.Second,
			ProbeTimeout:  5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}

	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}

	if c.Store.Backend != "json" && c.Store.Backend != "sqlite" {
		return fmt.Errorf("invalid store backend: %s", c.Store.Backend)
	}

	if c.Store.DataDir == "" {
		return errors.New("store.data_dir is required")
	}

	if c.Store.Backend == "sqlite" && c.Store.DBFile == "" {
		return errors.New("store.db_file is required for sqlite backend")
	}

	if c.Sync.MaxRetries <= 0 {
		return errors.New("sync.max_retries must be positive")
	}

	if c.Sync.BaseBackoff <= 0 || c.Sync.MaxBackoff < c.Sync.BaseBackoff {
		return errors.New("sync backoff bounds are invalid")
	}

	if c.Sync.ProbeInterval <= 0 {
		return errors.New("sync.probe_interval must be positive")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Store.DataDir}

	if c.Store.Backend == "sqlite" {
		dirs = append(dirs, filepath.Dir(c.Store.DBFile))
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
