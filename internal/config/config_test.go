package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pathlight/contextd/internal/engine"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contextd.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Engine.TotalTokens != 4000 {
		t.Errorf("total tokens = %d, want 4000", cfg.Engine.TotalTokens)
	}

	budget, err := cfg.Budget()
	if err != nil {
		t.Fatalf("Budget: %v", err)
	}
	if budget.LayerShare[engine.LayerJourney] != 0.5 {
		t.Errorf("journey share = %f, want 0.5", budget.LayerShare[engine.LayerJourney])
	}
}

func TestLoadSubstitutesEnvVars(t *testing.T) {
	t.Setenv("TEST_PG_DSN", "postgres://env-host/db")

	cfg, err := Load(writeConfig(t, `{
		"database": {
			"postgres": {"dsn": "${TEST_PG_DSN}"},
			"redis": {"url": "${TEST_UNSET_VAR:redis://fallback:6379}"}
		}
	}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.Postgres.DSN != "postgres://env-host/db" {
		t.Errorf("dsn = %q", cfg.Database.Postgres.DSN)
	}
	if cfg.Database.Redis.URL != "redis://fallback:6379" {
		t.Errorf("redis url = %q, want default applied", cfg.Database.Redis.URL)
	}
}

func TestLoadRejectsBadShares(t *testing.T) {
	_, err := Load(writeConfig(t, `{
		"engine": {
			"layer_shares": {"session": 0.5, "journey": 0.9, "knowledge": 0.3}
		}
	}`))
	if err == nil {
		t.Fatal("shares summing to 1.7 accepted")
	}
	if !engine.IsConfigError(err) {
		t.Errorf("err = %T, want ConfigError", err)
	}
}

func TestLoadRejectsUnknownLayer(t *testing.T) {
	_, err := Load(writeConfig(t, `{
		"engine": {
			"layer_shares": {"session": 0.2, "journey": 0.5, "mystery": 0.3}
		}
	}`))
	if err == nil {
		t.Fatal("unknown layer accepted")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
		"engine": {"fanout_deadline_ms": 2500, "cache_ttl_seconds": 60},
		"session": {"ttl_minutes": 30}
	}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.FanoutDeadline().Milliseconds(); got != 2500 {
		t.Errorf("deadline = %dms", got)
	}
	if got := cfg.CacheTTL().Seconds(); got != 60 {
		t.Errorf("cache ttl = %fs", got)
	}
	if got := cfg.SessionTTL().Minutes(); got != 30 {
		t.Errorf("session ttl = %fm", got)
	}
}
