package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const baseConfig = `
port: "8080"
databaseURL: "sqlite:journal.db"
jwtSecret: "0123456789abcdef0123"
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RestDBCollection != "journalentries" {
		t.Fatalf("restdbCollection = %q", cfg.RestDBCollection)
	}
	if Duration(cfg.SyncTimeout) != 10*time.Second {
		t.Fatalf("syncTimeout = %q", cfg.SyncTimeout)
	}
	if Duration(cfg.SessionTTL) != 7*24*time.Hour {
		t.Fatalf("sessionTTL = %q", cfg.SessionTTL)
	}
	if cfg.AudioStorage != "file" || cfg.MaxUploadMB != 25 {
		t.Fatalf("unexpected upload defaults: %+v", cfg)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RESTDB_BASE_URL", "https://journal-1234.restdb.io")
	t.Setenv("RESTDB_API_KEY", "api-key")
	t.Setenv("JOURNAL_SYNC_CONCURRENCY", "3")
	t.Setenv("JOURNAL_TIMEZONE", "America/New_York")
	t.Setenv("JOURNAL_CORS_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("OPEN_AI_KEY", "sk-test")

	cfg, err := Load(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RestDBBaseURL != "https://journal-1234.restdb.io" || cfg.RestDBAPIKey != "api-key" {
		t.Fatalf("restdb overrides not applied: %+v", cfg)
	}
	if cfg.SyncConcurrency != 3 {
		t.Fatalf("syncConcurrency = %d, want 3", cfg.SyncConcurrency)
	}
	if cfg.Location().String() != "America/New_York" {
		t.Fatalf("location = %s", cfg.Location())
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example.com" {
		t.Fatalf("corsOrigins = %v", cfg.CORSOrigins)
	}
	if cfg.OpenAIKey != "sk-test" {
		t.Fatalf("openAIKey = %q", cfg.OpenAIKey)
	}
}

func TestValidateConfigRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"short secret":   "port: \"8080\"\ndatabaseURL: \"sqlite:x.db\"\njwtSecret: \"short\"\n",
		"bad duration":   baseConfig + "syncTimeout: \"soon\"\n",
		"minio endpoint": baseConfig + "audioStorage: \"minio\"\n",
		"bad timezone":   baseConfig + "journalTimezone: \"Mars/Olympus\"\n",
		"external key":   baseConfig + "externalIssuer: \"https://id.example.com\"\n",
	}
	for name, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil || !strings.HasPrefix(err.Error(), "config:") {
			t.Fatalf("%s: expected config error, got %v", name, err)
		}
	}
}
