package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"journalease/services/journal/internal/config"
)

func testConfig(t *testing.T) config.FileConfig {
	t.Helper()
	dir := t.TempDir()
	return config.FileConfig{
		Port:           "0",
		DatabaseURL:    "sqlite:" + filepath.Join(dir, "journal.db"),
		JWTSecret:      "bootstrap-secret-0123456789",
		SessionTTL:     "1h",
		SyncTimeout:    "2s",
		AudioStorage:   "file",
		AudioDir:       filepath.Join(dir, "data"),
		AuthRateLimit:  5,
		AuthRateWindow: "1m",
		ResetTokenTTL:  "1h",
	}
}

func TestBuildWithoutRedis(t *testing.T) {
	deps, err := Build(testConfig(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = deps.Close() })

	if deps.Mirror.Configured() {
		t.Fatalf("mirror must be unconfigured without restdb settings")
	}
	srv, err := deps.NewServer()
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rec.Code)
	}

	session, err := deps.App.SignUp(context.Background(), "a@example.com", "secret1", "A")
	if err != nil {
		t.Fatalf("signup against sqlite: %v", err)
	}
	if _, err := deps.Verifier.Verify(context.Background(), session.Token); err != nil {
		t.Fatalf("verify issued token: %v", err)
	}
}

func TestBuildWithRedis(t *testing.T) {
	redis := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.RedisAddr = redis.Addr()

	deps, err := Build(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = deps.Close() })
	if _, err := deps.NewServer(); err != nil {
		t.Fatalf("new server with limiters: %v", err)
	}

	ctx := context.Background()
	session, err := deps.App.SignUp(ctx, "a@example.com", "secret1", "A")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if err := deps.Verifier.Revoke(ctx, session.Token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if len(redis.Keys()) == 0 {
		t.Fatalf("expected revocation to be stored in redis")
	}
}
