package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Storage.Driver != "pebble" {
		t.Fatalf("default driver: %q", cfg.Storage.Driver)
	}
	if cfg.Storage.Fsync != "always" {
		t.Fatalf("default fsync: %q", cfg.Storage.Fsync)
	}
	if cfg.Storage.Breaker.FailureThreshold != 5 {
		t.Fatalf("breaker threshold default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadNoFile(t *testing.T) {
	t.Setenv(PathEnvVar, "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.HTTPAddr != Default().Server.HTTPAddr {
		t.Fatalf("expected default http addr, got %q", cfg.Server.HTTPAddr)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "evstore.json")
	data := []byte(`{"data_dir":"/srv/ev","storage":{"driver":"sqlite","max_open_conns":2},"tenancy":{"allowed_tenants":["acme","globex"]}}`)
	if err := os.WriteFile(file, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "/srv/ev" {
		t.Fatalf("data dir: %q", cfg.DataDir)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.MaxOpenConns != 2 {
		t.Fatalf("storage: %+v", cfg.Storage)
	}
	if len(cfg.Tenancy.AllowedTenants) != 2 {
		t.Fatalf("allowed tenants: %v", cfg.Tenancy.AllowedTenants)
	}
	// untouched keys keep defaults
	if cfg.Log.Level != "info" {
		t.Fatalf("log level: %q", cfg.Log.Level)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "evstore.yaml")
	data := []byte(`
storage:
  fsync: interval
  fsync_interval: 20ms
archive:
  verify_enabled: true
  verify_schedule: "*/15 * * * *"
server:
  shutdown_timeout: 3s
`)
	if err := os.WriteFile(file, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Fsync != "interval" || cfg.Storage.FsyncInterval != 20*time.Millisecond {
		t.Fatalf("fsync: %+v", cfg.Storage)
	}
	if !cfg.Archive.VerifyEnabled || cfg.Archive.VerifySchedule != "*/15 * * * *" {
		t.Fatalf("archive: %+v", cfg.Archive)
	}
	if cfg.Server.ShutdownTimeout != 3*time.Second {
		t.Fatalf("shutdown timeout: %v", cfg.Server.ShutdownTimeout)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "evstore.yaml")
	if err := os.WriteFile(file, []byte("log:\n  level: debug\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("EVSTORE_LOG_LEVEL", "warn")
	t.Setenv("EVSTORE_DATA_DIR", "/tmp/evdata")
	t.Setenv("EVSTORE_STORAGE_BREAKER_FAILURE_THRESHOLD", "9")
	t.Setenv("EVSTORE_TENANCY_ALLOWED_TENANTS", "acme, globex ,")
	t.Setenv("EVSTORE_SERVER_SHUTDOWN_TIMEOUT", "2s")
	t.Setenv("EVSTORE_UNKNOWN_THING", "x")

	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("env should win over file, got %q", cfg.Log.Level)
	}
	if cfg.DataDir != "/tmp/evdata" {
		t.Fatalf("data dir: %q", cfg.DataDir)
	}
	if cfg.Storage.Breaker.FailureThreshold != 9 {
		t.Fatalf("breaker threshold: %d", cfg.Storage.Breaker.FailureThreshold)
	}
	if got := cfg.Tenancy.AllowedTenants; len(got) != 2 || got[0] != "acme" || got[1] != "globex" {
		t.Fatalf("allowed tenants: %v", got)
	}
	if cfg.Server.ShutdownTimeout != 2*time.Second {
		t.Fatalf("shutdown timeout: %v", cfg.Server.ShutdownTimeout)
	}
}

func TestLoadConfigPathFromEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "c.yaml")
	if err := os.WriteFile(file, []byte("notify:\n  topic_prefix: x.\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv(PathEnvVar, file)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Notify.TopicPrefix != "x." {
		t.Fatalf("topic prefix: %q", cfg.Notify.TopicPrefix)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad driver", func(c *Config) { c.Storage.Driver = "mysql" }},
		{"bad fsync", func(c *Config) { c.Storage.Fsync = "sometimes" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }},
		{"bad regex", func(c *Config) { c.Tenancy.NameRegex = "([" }},
		{"bad schedule", func(c *Config) { c.Archive.VerifyEnabled = true; c.Archive.VerifySchedule = "every day" }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"zero breaker threshold", func(c *Config) { c.Storage.Breaker.FailureThreshold = 0 }},
		{"bad http addr", func(c *Config) { c.Server.HTTPAddr = "no-port" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}

	cfg := Default()
	cfg.Storage.Driver = "postgres"
	cfg.Storage.DSN = "postgres://u:p@localhost/db"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("postgres with dsn: %v", err)
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"EVSTORE_DATA_DIR":                "data_dir",
		"EVSTORE_STORAGE_FSYNC_INTERVAL":  "storage.fsync_interval",
		"EVSTORE_STORAGE_BREAKER_TIMEOUT": "storage.breaker.timeout",
		"EVSTORE_ARCHIVE_VERIFY_SCHEDULE": "archive.verify_schedule",
		"EVSTORE_SERVER_HTTP_ADDR":        "server.http_addr",
		"EVSTORE_CONFIG":                  "",
		"EVSTORE_LOG_":                    "",
	}
	for in, want := range tests {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}
