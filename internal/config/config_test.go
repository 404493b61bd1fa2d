package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("TIMEGATE_DB_DSN", "file::memory:?cache=shared")
	t.Setenv("TIMEGATE_DB_BACKEND", "sqlite")
	t.Setenv("TIMEGATE_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("TIMEGATE_ENV", "development")
	t.Setenv("TIMEGATE_CONFIG_FILE", "")
	t.Setenv("TIMEGATE_PAYMENT_RETURN_SECRET", "")
}

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBBackend != DatabaseSQLite {
		t.Fatalf("unexpected backend: %q", cfg.DBBackend)
	}
	if cfg.JWTSigningKey != "supersecret" {
		t.Fatalf("unexpected jwt signing key: %q", cfg.JWTSigningKey)
	}
	if cfg.PublishInterval != time.Minute {
		t.Fatalf("default publish interval = %v, want 1m", cfg.PublishInterval)
	}
	if cfg.ExcerptLength != 150 {
		t.Fatalf("default excerpt length = %d, want 150", cfg.ExcerptLength)
	}
	if cfg.SlotRemovalPolicy != RemovalReject {
		t.Fatalf("default removal policy = %q, want reject", cfg.SlotRemovalPolicy)
	}
	if cfg.Location == nil {
		t.Fatal("expected location to be resolved")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "missing dsn", key: "TIMEGATE_DB_DSN", val: ""},
		{name: "missing jwt key", key: "TIMEGATE_JWT_SIGNING_KEY", val: ""},
		{name: "unknown backend", key: "TIMEGATE_DB_BACKEND", val: "oracle"},
		{name: "bad timezone", key: "TIMEGATE_TIMEZONE", val: "Mars/Olympus"},
		{name: "zero publish interval", key: "TIMEGATE_PUBLISH_INTERVAL", val: "0s"},
		{name: "negative ttl", key: "TIMEGATE_PENDING_BOOKING_TTL", val: "-5m"},
		{name: "unknown removal policy", key: "TIMEGATE_SLOT_REMOVAL_POLICY", val: "ignore"},
		{name: "short production key", key: "TIMEGATE_ENV", val: "production"},
		{name: "return secret reuses jwt key", key: "TIMEGATE_PAYMENT_RETURN_SECRET", val: "supersecret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected Load to fail with %s=%q", tt.key, tt.val)
			}
		})
	}
}

func TestLoadDurationsAcceptSeconds(t *testing.T) {
	setRequired(t)
	t.Setenv("TIMEGATE_PUBLISH_INTERVAL", "30")
	t.Setenv("TIMEGATE_PENDING_BOOKING_TTL", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.PublishInterval != 30*time.Second {
		t.Fatalf("publish interval = %v, want 30s", cfg.PublishInterval)
	}
	if cfg.PendingBookingTTL != 0 {
		t.Fatalf("pending ttl = %v, want disabled", cfg.PendingBookingTTL)
	}
}

func TestLoadLayersEnvOverFile(t *testing.T) {
	setRequired(t)

	path := filepath.Join(t.TempDir(), "timegate.yaml")
	body := []byte("timezone: America/New_York\npublish_interval: 15s\nexcerpt_length: 80\nslot_removal_policy: cascade\ncache_enabled: true\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("TIMEGATE_CONFIG_FILE", path)
	t.Setenv("TIMEGATE_EXCERPT_LENGTH", "200")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Location.String() != "America/New_York" {
		t.Fatalf("timezone = %q, want America/New_York", cfg.Location)
	}
	if cfg.PublishInterval != 15*time.Second {
		t.Fatalf("publish interval = %v, want 15s from file", cfg.PublishInterval)
	}
	if cfg.ExcerptLength != 200 {
		t.Fatalf("excerpt length = %d, env should win over file", cfg.ExcerptLength)
	}
	if cfg.SlotRemovalPolicy != RemovalCascade {
		t.Fatalf("removal policy = %q, want cascade", cfg.SlotRemovalPolicy)
	}
	if !cfg.CacheEnabled {
		t.Fatal("expected cache_enabled from file")
	}
}

func TestLoadRejectsUnreadableFile(t *testing.T) {
	setRequired(t)
	t.Setenv("TIMEGATE_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	setRequired(t)
	t.Setenv("JWT_SIGNING_KEY", "legacy")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
}
