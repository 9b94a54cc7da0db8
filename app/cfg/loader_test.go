package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetVersion(t *testing.T) {
	if GetVersion() == "" {
		t.Error("GetVersion should never return empty string")
	}
}

func TestParseDefaults(t *testing.T) {
	t.Setenv("SAMWATCH_DATA_DIR", "/tmp/samwatch-data")

	cfg, err := Parse([]string{})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.APIBaseURL != "https://api.sam.gov/opportunities/v2" {
		t.Errorf("Expected default base URL, got '%s'", cfg.APIBaseURL)
	}
	if cfg.SearchLimit != 100 {
		t.Errorf("Expected search limit 100, got %d", cfg.SearchLimit)
	}
	if cfg.HourlyCap != 1000 {
		t.Errorf("Expected hourly cap 1000, got %d", cfg.HourlyCap)
	}
	if cfg.DailyCap != 0 {
		t.Errorf("Expected daily cap disabled, got %d", cfg.DailyCap)
	}
	if cfg.HotFrequency != 15*time.Minute {
		t.Errorf("Expected hot frequency 15m, got %v", cfg.HotFrequency)
	}
	if cfg.ColdFrequency != 12*time.Hour {
		t.Errorf("Expected cold frequency 12h, got %v", cfg.ColdFrequency)
	}
	if cfg.SQLitePath != filepath.Join("/tmp/samwatch-data", "samwatch.db") {
		t.Errorf("Expected sqlite path under data dir, got '%s'", cfg.SQLitePath)
	}
	if cfg.FilesDir != filepath.Join("/tmp/samwatch-data", "files") {
		t.Errorf("Expected files dir under data dir, got '%s'", cfg.FilesDir)
	}
	if Get() != cfg {
		t.Error("Expected Get to return the parsed configuration")
	}
}

func TestParseEnvironmentOverrides(t *testing.T) {
	t.Setenv("SAM_API_KEY", "secret")
	t.Setenv("SAMWATCH_SEARCH_LIMIT", "5000")
	t.Setenv("SAMWATCH_DAILY_CAP", "20000")
	t.Setenv("SAMWATCH_HOT_FREQUENCY", "5m")
	t.Setenv("SAMWATCH_SQLITE_PATH", "/var/lib/samwatch/db.sqlite")

	cfg, err := Parse([]string{"--port", "9090"})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.APIKey != "secret" {
		t.Errorf("Expected API key 'secret', got '%s'", cfg.APIKey)
	}
	if cfg.SearchLimit != 1000 {
		t.Errorf("Expected search limit clamped to 1000, got %d", cfg.SearchLimit)
	}
	if cfg.DailyCap != 20000 {
		t.Errorf("Expected daily cap 20000, got %d", cfg.DailyCap)
	}
	if cfg.HotFrequency != 5*time.Minute {
		t.Errorf("Expected hot frequency 5m, got %v", cfg.HotFrequency)
	}
	if cfg.SQLitePath != "/var/lib/samwatch/db.sqlite" {
		t.Errorf("Expected explicit sqlite path, got '%s'", cfg.SQLitePath)
	}
	if cfg.Port != "9090" {
		t.Errorf("Expected port '9090', got '%s'", cfg.Port)
	}
	if err := cfg.RequireAPIKey(); err != nil {
		t.Errorf("Expected API key to be accepted, got %v", err)
	}
}

func TestParseRejectsInvalidBackfillDays(t *testing.T) {
	t.Setenv("SAMWATCH_BACKFILL_DAYS", "400")

	if _, err := Parse([]string{}); err == nil {
		t.Error("Expected error for backfill window over 365 days")
	}
}

func TestRequireAPIKey(t *testing.T) {
	cfg := &Cfg{}
	if err := cfg.RequireAPIKey(); err == nil {
		t.Error("Expected error when API key is missing")
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := &Cfg{
		DataDir:    filepath.Join(dir, "data"),
		FilesDir:   filepath.Join(dir, "data", "files"),
		SQLitePath: filepath.Join(dir, "db", "samwatch.db"),
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, d := range []string{cfg.DataDir, cfg.FilesDir, filepath.Join(dir, "db")} {
		if info, err := os.Stat(d); err != nil || !info.IsDir() {
			t.Errorf("Expected directory %s to exist", d)
		}
	}
}
