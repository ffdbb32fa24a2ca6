package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader creates a config loader.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envPrefix:  "DUKASYNC_",
	}
}

// Load reads configuration from file and environment.
func (l *Loader) Load() (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Load from file if exists
	if l.configPath != "" {
		if err := l.loadFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	} else {
		// Try default locations
		for _, path := range l.defaultPaths() {
			if _, err := os.Stat(path); err == nil {
				l.configPath = path
				if err := l.loadFile(cfg); err != nil {
					return nil, fmt.Errorf("load config file %s: %w", path, err)
				}
				break
			}
		}
	}

	// Override with environment variables
	if err := l.loadEnv(cfg); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	// Token file beats inline token when both are set. The "token"
	// command writes the default location.
	tokenFile := cfg.API.TokenFile
	if tokenFile == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			tokenFile = filepath.Join(homeDir, ".config", "dukasync", "token")
		}
	}
	if tokenFile != "" {
		if data, err := os.ReadFile(tokenFile); err == nil {
			cfg.API.Token = strings.TrimSpace(string(data))
		}
	}

	// Validate final config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// defaultPaths returns default config file locations.
func (l *Loader) defaultPaths() []string {
	paths := []string{
		"dukasync.json",
		".dukasync.json",
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(homeDir, ".config", "dukasync", "config.json"),
			filepath.Join(homeDir, ".dukasync", "config.json"),
		)
	}

	return paths
}

// loadFile reads config from JSON file.
func (l *Loader) loadFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse JSON: %w", err)
	}

	return nil
}

// loadEnv overrides config from environment variables.
func (l *Loader) loadEnv(cfg *Config) error {
	// API settings
	if v := os.Getenv(l.envPrefix + "API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}

	if v := os.Getenv(l.envPrefix + "API_TOKEN"); v != "" {
		cfg.API.Token = v
	}

	if v := os.Getenv(l.envPrefix + "API_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse API_TIMEOUT: %w", err)
		}
		cfg.API.Timeout = d
	}

	// Store settings
	if v := os.Getenv(l.envPrefix + "STORE_BACKEND"); v != "" {
		cfg.Store.Backend = strings.ToLower(v)
	}

	if v := os.Getenv(l.envPrefix + "DATA_DIR"); v != "" {
		cfg.Store.DataDir = v
		cfg.Store.DBFile = filepath.Join(v, "dukasync.db")
	}

	if v := os.Getenv(l.envPrefix + "STORE_ID"); v != "" {
		cfg.Store.StoreID = v
	}

	// Sync settings
	if v := os.Getenv(l.envPrefix + "SYNC_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse SYNC_MAX_RETRIES: %w", err)
		}
		cfg.Sync.MaxRetries = n
	}

	if v := os.Getenv(l.envPrefix + "SYNC_BASE_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse SYNC_BASE_BACKOFF: %w", err)
		}
		cfg.Sync.BaseBackoff = d
	}

	if v := os.Getenv(l.envPrefix + "SYNC_MAX_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse SYNC_MAX_BACKOFF: %w", err)
		}
		cfg.Sync.MaxBackoff = d
	}

	if v := os.Getenv(l.envPrefix + "PROBE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse PROBE_INTERVAL: %w", err)
		}
		cfg.Sync.ProbeInterval = d
	}

	// Log settings
	if v := os.Getenv(l.envPrefix + "LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}

	if v := os.Getenv(l.envPrefix + "LOG_FORMAT"); v != "" {
		cfg.Log.Format = strings.ToLower(v)
	}

	if v := os.Getenv(l.envPrefix + "LOG_FILE"); v != "" {
		cfg.Log.File = v
	}

	return nil
}
