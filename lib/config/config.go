// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for a Threadline client.
type Config struct {
	// Environment identifies the deployment type (development,
	// staging, production).
	Environment Environment `yaml:"environment"`

	// Server configures the remote conversation service.
	Server ServerConfig `yaml:"server"`

	// Storage configures the local SQLite database.
	Storage StorageConfig `yaml:"storage"`

	// Session configures per-conversation sync session behavior.
	Session SessionConfig `yaml:"session"`

	// EnvironmentOverrides contains per-environment overrides, applied
	// after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per
// environment.
type ConfigOverrides struct {
	Server  *ServerConfig  `yaml:"server,omitempty"`
	Storage *StorageConfig `yaml:"storage,omitempty"`
	Session *SessionConfig `yaml:"session,omitempty"`
}

// ServerConfig configures the remote conversation service endpoints.
type ServerConfig struct {
	// BaseURL is the base URL of the REST API
	// (e.g., "https://api.example.net").
	BaseURL string `yaml:"base_url"`

	// StreamAddress is the host:port of the realtime stream endpoint.
	// One framed connection is dialed per active conversation.
	StreamAddress string `yaml:"stream_address"`

	// AuthToken is the static bearer token attached to REST requests.
	// Empty disables the Authorization header (development servers).
	AuthToken string `yaml:"auth_token"`
}

// StorageConfig configures the local SQLite database backing the
// outbox and the history cache.
type StorageConfig struct {
	// DatabasePath is the SQLite file holding the outbox and history
	// tables. The parent directory must exist.
	DatabasePath string `yaml:"database_path"`

	// PoolSize is the SQLite connection pool size. Zero uses the
	// pool's default.
	PoolSize int `yaml:"pool_size"`
}

// SessionConfig configures sync session timing.
type SessionConfig struct {
	// BackoffInitial is the first reconnection delay after a transport
	// loss. Default: 1s.
	BackoffInitial time.Duration `yaml:"backoff_initial"`

	// BackoffCeiling caps the doubling reconnection delay.
	// Default: 30s.
	BackoffCeiling time.Duration `yaml:"backoff_ceiling"`

	// AckTimeout is how long the queue flush waits for a stanza's
	// acknowledgment before moving on (the stanza stays queued).
	// Default: 10s.
	AckTimeout time.Duration `yaml:"ack_timeout"`
}

// Default returns the default configuration. These defaults ensure all
// fields have sensible zero-values before the config file is merged in
// but the config file itself is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultState := filepath.Join(homeDir, ".local", "share", "threadline")

	return &Config{
		Environment: Development,
		Server: ServerConfig{
			BaseURL:       "http://localhost:8080",
			StreamAddress: "localhost:8443",
		},
		Storage: StorageConfig{
			DatabasePath: filepath.Join(defaultState, "threadline.db"),
		},
		Session: SessionConfig{
			BackoffInitial: time.Second,
			BackoffCeiling: 30 * time.Second,
			AckTimeout:     10 * time.Second,
		},
	}
}

// Load loads configuration from the THREADLINE_CONFIG environment
// variable. There are no fallbacks: if THREADLINE_CONFIG is not set,
// this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("THREADLINE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("config: THREADLINE_CONFIG environment variable not set; " +
			"set it to the path of your threadline.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. The config
// file is the single source of truth: environment variables do not
// override config values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnvironmentOverrides applies the section matching
// c.Environment on top of the base values.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if overrides.Server != nil {
		if overrides.Server.BaseURL != "" {
			c.Server.BaseURL = overrides.Server.BaseURL
		}
		if overrides.Server.StreamAddress != "" {
			c.Server.StreamAddress = overrides.Server.StreamAddress
		}
		if overrides.Server.AuthToken != "" {
			c.Server.AuthToken = overrides.Server.AuthToken
		}
	}

	if overrides.Storage != nil {
		if overrides.Storage.DatabasePath != "" {
			c.Storage.DatabasePath = overrides.Storage.DatabasePath
		}
		if overrides.Storage.PoolSize != 0 {
			c.Storage.PoolSize = overrides.Storage.PoolSize
		}
	}

	if overrides.Session != nil {
		if overrides.Session.BackoffInitial != 0 {
			c.Session.BackoffInitial = overrides.Session.BackoffInitial
		}
		if overrides.Session.BackoffCeiling != 0 {
			c.Session.BackoffCeiling = overrides.Session.BackoffCeiling
		}
		if overrides.Session.AckTimeout != 0 {
			c.Session.AckTimeout = overrides.Session.AckTimeout
		}
	}
}

func (c *Config) validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if c.Server.StreamAddress == "" {
		return fmt.Errorf("server.stream_address is required")
	}
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage.database_path is required")
	}
	if c.Session.BackoffInitial <= 0 || c.Session.BackoffCeiling < c.Session.BackoffInitial {
		return fmt.Errorf("session backoff bounds are invalid (initial %v, ceiling %v)",
			c.Session.BackoffInitial, c.Session.BackoffCeiling)
	}
	return nil
}
