package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Config is the top-level configuration structure.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	NATS     NATSConfig     `json:"nats"`
	Storage  StorageConfig  `json:"storage"`
	Policy   PolicyConfig   `json:"policy"`
	Analyzer AnalyzerConfig `json:"analyzer"`
	Alerts   AlertsConfig   `json:"alerts"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	// Addr is host:port. Empty disables Redis and falls back to the
	// in-process policy cache.
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
}

type NATSConfig struct {
	// URL is the NATS server address. Empty runs jobs on the in-process
	// queue instead.
	URL string `json:"url"`
}

type StorageConfig struct {
	// Root holds uploaded package archives.
	Root string `json:"root"`
	// WorkspaceRoot holds per-agent skill workspaces.
	WorkspaceRoot string `json:"workspace_root"`
}

type PolicyConfig struct {
	CacheTTLSeconds int `json:"cache_ttl_seconds"`
}

type AnalyzerConfig struct {
	DryRunTimeoutSeconds int `json:"dry_run_timeout_seconds"`
}

type AlertsConfig struct {
	SlackWebhookURL string `json:"slack_webhook_url"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// ListenAddr is the HTTP bind address derived from the server port.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Storage.Root == "" {
		c.Storage.Root = "data/packages"
	}
	if c.Storage.WorkspaceRoot == "" {
		c.Storage.WorkspaceRoot = "data/workspaces"
	}
	if c.Policy.CacheTTLSeconds == 0 {
		c.Policy.CacheTTLSeconds = 300
	}
	if c.Analyzer.DryRunTimeoutSeconds == 0 {
		c.Analyzer.DryRunTimeoutSeconds = 5
	}
}
