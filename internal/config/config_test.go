package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Server.LogLevel != "info" {
		t.Fatalf("server defaults: %+v", cfg.Server)
	}
	if cfg.Policy.CacheTTLSeconds != 300 || cfg.Analyzer.DryRunTimeoutSeconds != 5 {
		t.Fatalf("defaults: %+v", cfg)
	}
}

func TestLoadEnvSubstitution(t *testing.T) {
	t.Setenv("SKILLDOCK_TEST_DSN", "postgres://real")
	cfg, err := Load(writeConfig(t, `{
		"database": {"postgres": {"dsn": "${SKILLDOCK_TEST_DSN}"}},
		"nats": {"url": "${SKILLDOCK_TEST_NATS:nats://fallback:4222}"}
	}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Postgres.DSN != "postgres://real" {
		t.Fatalf("env not substituted: %q", cfg.Database.Postgres.DSN)
	}
	if cfg.NATS.URL != "nats://fallback:4222" {
		t.Fatalf("default not applied: %q", cfg.NATS.URL)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("missing file accepted")
	}
	if _, err := Load(writeConfig(t, `{not json`)); err == nil {
		t.Fatal("malformed config accepted")
	}
}
