package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"journalease/internal/ratelimit"
	"journalease/internal/usertoken"
	"journalease/pkg/domain"
	"journalease/pkg/storage"
	"journalease/pkg/store"
	"journalease/pkg/transcribe"
	"journalease/services/journal/internal/app"
	"journalease/services/journal/internal/security"
)

const (
	testSecret         = "server-test-secret-0123"
	testExternalIssuer = "https://id.example.com/auth/v1"
	testExternalSecret = "external-test-secret-0123"
	testSubject        = "2f1b6a52-7d36-4c55-9b0e-3f7f4b1c9a10"
)

type testEnv struct {
	srv   *httptest.Server
	store *store.MemoryStore
}

type stubTranscriber struct{}

func (stubTranscriber) Transcribe(_ context.Context, _, _ string, audio io.Reader) (transcribe.Result, error) {
	raw, _ := io.ReadAll(audio)
	return transcribe.Result{Text: fmt.Sprintf("heard %d bytes", len(raw))}, nil
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, store.NewMemoryStore(), mutate)
}

func newTestEnvWithStore(t *testing.T, st store.Store, mutate func(*Config)) *testEnv {
	t.Helper()
	signer, err := usertoken.NewSigner(usertoken.SignerOptions{Secret: testSecret})
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	verifier, err := usertoken.NewVerifier(usertoken.Config{
		LocalSecret:    testSecret,
		ExternalIssuer: testExternalIssuer,
		ExternalSecret: testExternalSecret,
		Revoker:        store.NewMemoryTokenRevoker(),
	})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	audio, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("audio store: %v", err)
	}
	a, err := app.New(app.Config{
		Store:       st,
		Signer:      signer,
		Audio:       audio,
		Transcriber: stubTranscriber{},
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	cfg := Config{App: a, Verifier: verifier}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	env := &testEnv{srv: srv}
	env.store, _ = st.(*store.MemoryStore)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (e *testEnv) signup(t *testing.T, email string) (string, int64) {
	t.Helper()
	status, body := e.do(t, http.MethodPost, APIPrefix+"/auth/signup", "", map[string]string{
		"email": email, "password": "secret1", "name": "Tester",
	})
	if status != http.StatusCreated {
		t.Fatalf("signup status %d: %v", status, body)
	}
	data := body["data"].(map[string]any)
	user := data["user"].(map[string]any)
	return data["token"].(string), int64(user["id"].(float64))
}

func externalToken(t *testing.T, email string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   testSubject,
		"iss":   testExternalIssuer,
		"email": email,
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Minute).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testExternalSecret))
	if err != nil {
		t.Fatalf("sign external: %v", err)
	}
	return signed
}

func dataField(t *testing.T, body map[string]any, key string) map[string]any {
	t.Helper()
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("missing data in %v", body)
	}
	v, ok := data[key].(map[string]any)
	if !ok {
		t.Fatalf("missing data.%s in %v", key, body)
	}
	return v
}

func TestEntryLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.signup(t, "a@example.com")

	status, body := env.do(t, http.MethodPost, APIPrefix+"/entries", token, map[string]any{
		"transcript": "hello world", "journal_date": "2024-01-05", "duration_ms": 1200,
	})
	if status != http.StatusCreated {
		t.Fatalf("create status %d: %v", status, body)
	}
	entry := dataField(t, body, "entry")
	if entry["journal_date"] != "2024-01-05" || entry["drive_sync_enabled"] != false {
		t.Fatalf("unexpected entry: %v", entry)
	}
	id := int64(entry["id"].(float64))
	entryPath := fmt.Sprintf("%s/entries/%d", APIPrefix, id)

	status, body = env.do(t, http.MethodGet, APIPrefix+"/entries", token, nil)
	if status != http.StatusOK || body["results"].(float64) != 1 {
		t.Fatalf("list status %d: %v", status, body)
	}

	status, body = env.do(t, http.MethodGet, APIPrefix+"/entries/date/2024-01-05", token, nil)
	if status != http.StatusOK || body["results"].(float64) != 1 {
		t.Fatalf("list by date status %d: %v", status, body)
	}
	status, body = env.do(t, http.MethodGet, APIPrefix+"/entries/date/yesterday", token, nil)
	if status != http.StatusBadRequest || body["code"] != "invalid_input" {
		t.Fatalf("bad date status %d: %v", status, body)
	}

	status, body = env.do(t, http.MethodPatch, entryPath, token, map[string]any{})
	if status != http.StatusBadRequest || body["code"] != "no_fields_provided" || body["status"] != "fail" {
		t.Fatalf("empty patch status %d: %v", status, body)
	}

	status, body = env.do(t, http.MethodPatch, entryPath, token, map[string]any{"transcript": "edited"})
	if status != http.StatusOK || dataField(t, body, "entry")["transcript"] != "edited" {
		t.Fatalf("patch status %d: %v", status, body)
	}

	if status, body = env.do(t, http.MethodDelete, entryPath, token, nil); status != http.StatusNoContent {
		t.Fatalf("delete status %d: %v", status, body)
	}
	status, body = env.do(t, http.MethodGet, entryPath, token, nil)
	if status != http.StatusNotFound || body["message"] != "Entry not found" {
		t.Fatalf("get deleted status %d: %v", status, body)
	}
}

func TestEntriesRequireAuthentication(t *testing.T) {
	env := newTestEnv(t, nil)
	status, body := env.do(t, http.MethodGet, APIPrefix+"/entries", "", nil)
	if status != http.StatusUnauthorized || body["status"] != "fail" || body["request_id"] == "" {
		t.Fatalf("expected 401 envelope, got %d: %v", status, body)
	}
	status, _ = env.do(t, http.MethodGet, APIPrefix+"/entries", "not-a-jwt", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", status)
	}
}

func TestForeignEntriesLookMissing(t *testing.T) {
	env := newTestEnv(t, nil)
	ownerToken, ownerID := env.signup(t, "owner@example.com")
	otherToken, otherID := env.signup(t, "other@example.com")

	_, body := env.do(t, http.MethodPost, APIPrefix+"/entries", ownerToken, map[string]any{"transcript": "private"})
	id := int64(dataField(t, body, "entry")["id"].(float64))
	path := fmt.Sprintf("%s/entries/%d", APIPrefix, id)

	if status, _ := env.do(t, http.MethodGet, path, otherToken, nil); status != http.StatusNotFound {
		t.Fatalf("foreign get: expected 404, got %d", status)
	}
	if status, _ := env.do(t, http.MethodDelete, path, otherToken, nil); status != http.StatusNotFound {
		t.Fatalf("foreign delete: expected 404, got %d", status)
	}
	if _, ok, _ := env.store.GetEntry(context.Background(), ownerID, id); !ok {
		t.Fatalf("owner row must survive a foreign delete")
	}

	legacy := fmt.Sprintf("%s/users/%d/entries", APIPrefix, ownerID)
	if status, _ := env.do(t, http.MethodGet, legacy, otherToken, nil); status != http.StatusNotFound {
		t.Fatalf("foreign legacy path: expected 404, got %d", status)
	}
	own := fmt.Sprintf("%s/users/%d/entries", APIPrefix, otherID)
	status, body := env.do(t, http.MethodGet, own, otherToken, nil)
	if status != http.StatusOK || body["results"].(float64) != 0 {
		t.Fatalf("own legacy path: %d %v", status, body)
	}
}

func TestDaySyncSettings(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.signup(t, "a@example.com")
	for i := 0; i < 2; i++ {
		env.do(t, http.MethodPost, APIPrefix+"/entries", token, map[string]any{"journal_date": "2024-01-05"})
	}
	path := APIPrefix + "/days/2024-01-05/sync-settings"

	status, body := env.do(t, http.MethodPatch, path, token, map[string]any{})
	if status != http.StatusBadRequest || body["code"] != "missing_parameter" {
		t.Fatalf("missing flag: %d %v", status, body)
	}

	status, body = env.do(t, http.MethodPatch, path, token, map[string]any{"drive_sync_enabled": true})
	if status != http.StatusOK {
		t.Fatalf("enable: %d %v", status, body)
	}
	data := body["data"].(map[string]any)
	if data["updatedCount"].(float64) != 2 {
		t.Fatalf("expected two updated rows, got %v", data)
	}
	for _, raw := range data["entries"].([]any) {
		e := raw.(map[string]any)
		if e["sync_status"] != "pending" || e["drive_sync_enabled"] != true {
			t.Fatalf("expected pending entries in response, got %v", e)
		}
	}

	status, body = env.do(t, http.MethodPatch, path, token, map[string]any{"drive_sync_enabled": false})
	if status != http.StatusOK {
		t.Fatalf("disable: %d %v", status, body)
	}
	for _, raw := range body["data"].(map[string]any)["entries"].([]any) {
		if raw.(map[string]any)["sync_status"] != "sync_disabled" {
			t.Fatalf("expected sync_disabled, got %v", raw)
		}
	}
}

func TestExternalPrincipalMustLink(t *testing.T) {
	env := newTestEnv(t, nil)
	token := externalToken(t, "Person@Example.com")

	status, body := env.do(t, http.MethodGet, APIPrefix+"/entries", token, nil)
	if status != http.StatusForbidden || body["code"] != "unlinked_external_account" {
		t.Fatalf("expected unlinked 403, got %d %v", status, body)
	}

	status, body = env.do(t, http.MethodPost, APIPrefix+"/auth/external/link", token, nil)
	if status != http.StatusCreated {
		t.Fatalf("link: %d %v", status, body)
	}
	first := dataField(t, body, "user")["id"]

	status, body = env.do(t, http.MethodPost, APIPrefix+"/auth/external/link", token, map[string]string{"name": "P"})
	if status != http.StatusOK || dataField(t, body, "user")["id"] != first {
		t.Fatalf("relink: %d %v", status, body)
	}

	if status, body = env.do(t, http.MethodGet, APIPrefix+"/entries", token, nil); status != http.StatusOK {
		t.Fatalf("entries after link: %d %v", status, body)
	}
	status, body = env.do(t, http.MethodGet, APIPrefix+"/users/me", token, nil)
	if status != http.StatusOK || dataField(t, body, "user")["email"] != "person@example.com" {
		t.Fatalf("me after link: %d %v", status, body)
	}

	local, _ := env.signup(t, "local@example.com")
	if status, _ := env.do(t, http.MethodPost, APIPrefix+"/auth/external/link", local, nil); status != http.StatusBadRequest {
		t.Fatalf("local token link: expected 400, got %d", status)
	}
}

func TestLoginRateLimit(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(redis.Addr(), "", "journal:test:login", 1, time.Minute)
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	t.Cleanup(func() { _ = limiter.Close() })
	env := newTestEnv(t, func(cfg *Config) { cfg.LoginLimiter = limiter })
	env.signup(t, "a@example.com")

	creds := map[string]string{"email": "a@example.com", "password": "secret1"}
	if status, body := env.do(t, http.MethodPost, APIPrefix+"/auth/login", "", creds); status != http.StatusOK {
		t.Fatalf("first login: %d %v", status, body)
	}
	status, body := env.do(t, http.MethodPost, APIPrefix+"/auth/login", "", creds)
	if status != http.StatusTooManyRequests || body["code"] != "rate_limited" {
		t.Fatalf("second login: %d %v", status, body)
	}
}

func TestLoginFailureIsGeneric(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signup(t, "a@example.com")
	for _, creds := range []map[string]string{
		{"email": "a@example.com", "password": "wrong-pass"},
		{"email": "nobody@example.com", "password": "secret1"},
	} {
		status, body := env.do(t, http.MethodPost, APIPrefix+"/auth/login", "", creds)
		if status != http.StatusUnauthorized || body["message"] != "Invalid email or password" {
			t.Fatalf("expected generic 401, got %d %v", status, body)
		}
	}
}

func TestFailedLoginsFeedAlerter(t *testing.T) {
	mr := miniredis.RunT(t)
	alerter := security.NewAlerter(mr.Addr(), "", "journal:test:alerts")
	t.Cleanup(func() { _ = alerter.Close() })
	env := newTestEnv(t, func(cfg *Config) { cfg.Alerter = alerter })
	env.signup(t, "a@example.com")

	for i := 0; i < 3; i++ {
		env.do(t, http.MethodPost, APIPrefix+"/auth/login", "", map[string]string{
			"email": "a@example.com", "password": "wrong-pass",
		})
	}
	keys := mr.Keys()
	if len(keys) != 1 {
		t.Fatalf("expected one alert counter, got %v", keys)
	}
	if got, err := mr.Get(keys[0]); err != nil || got != "3" {
		t.Fatalf("counter %s = %q (%v), want 3", keys[0], got, err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.ExposeResetTokens = true })
	env.signup(t, "a@example.com")

	status, unknown := env.do(t, http.MethodPost, APIPrefix+"/auth/forgot-password", "", map[string]string{"email": "nobody@example.com"})
	if status != http.StatusOK || unknown["message"] != forgotPasswordMessage || unknown["resetToken"] != nil {
		t.Fatalf("unknown email: %d %v", status, unknown)
	}
	status, known := env.do(t, http.MethodPost, APIPrefix+"/auth/forgot-password", "", map[string]string{"email": "a@example.com"})
	if status != http.StatusOK || known["message"] != forgotPasswordMessage {
		t.Fatalf("known email: %d %v", status, known)
	}
	token, _ := known["resetToken"].(string)
	if token == "" {
		t.Fatalf("expected exposed reset token, got %v", known)
	}

	status, body := env.do(t, http.MethodPost, APIPrefix+"/auth/reset-password", "", map[string]string{"token": token, "password": "brand-new"})
	if status != http.StatusOK {
		t.Fatalf("reset: %d %v", status, body)
	}
	status, body = env.do(t, http.MethodPost, APIPrefix+"/auth/reset-password", "", map[string]string{"token": token, "password": "brand-new2"})
	if status != http.StatusBadRequest || body["message"] != "Invalid or expired reset token" {
		t.Fatalf("reused token: %d %v", status, body)
	}
	if status, body = env.do(t, http.MethodPost, APIPrefix+"/auth/login", "", map[string]string{"email": "a@example.com", "password": "brand-new"}); status != http.StatusOK {
		t.Fatalf("login with new password: %d %v", status, body)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.signup(t, "a@example.com")

	if status, _ := env.do(t, http.MethodGet, APIPrefix+"/users/me", token, nil); status != http.StatusOK {
		t.Fatalf("me before logout: %d", status)
	}
	if status, body := env.do(t, http.MethodPost, APIPrefix+"/auth/logout", token, nil); status != http.StatusNoContent {
		t.Fatalf("logout: %d %v", status, body)
	}
	if status, _ := env.do(t, http.MethodGet, APIPrefix+"/users/me", token, nil); status != http.StatusUnauthorized {
		t.Fatalf("me after logout: expected 401, got %d", status)
	}
}

func TestDeleteAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	token, userID := env.signup(t, "a@example.com")
	otherToken, otherID := env.signup(t, "b@example.com")
	env.do(t, http.MethodPost, APIPrefix+"/entries", token, map[string]any{"transcript": "mine"})
	env.do(t, http.MethodPost, APIPrefix+"/entries", otherToken, map[string]any{"transcript": "theirs"})

	foreign := fmt.Sprintf("%s/users/%d", APIPrefix, otherID)
	if status, body := env.do(t, http.MethodDelete, foreign, token, nil); status != http.StatusNotFound {
		t.Fatalf("foreign delete: expected 404, got %d %v", status, body)
	}

	own := fmt.Sprintf("%s/users/%d", APIPrefix, userID)
	if status, body := env.do(t, http.MethodDelete, own, token, nil); status != http.StatusNoContent {
		t.Fatalf("delete: %d %v", status, body)
	}
	if _, ok, _ := env.store.GetUserByID(context.Background(), userID); ok {
		t.Fatalf("user row must be gone")
	}
	if entries, _ := env.store.ListEntries(context.Background(), userID); len(entries) != 0 {
		t.Fatalf("expected entries removed, got %d", len(entries))
	}
	if status, _ := env.do(t, http.MethodGet, APIPrefix+"/users/me", token, nil); status != http.StatusUnauthorized {
		t.Fatalf("me after delete: expected 401, got %d", status)
	}
	status, _ := env.do(t, http.MethodPost, APIPrefix+"/auth/login", "", map[string]string{"email": "a@example.com", "password": "secret1"})
	if status != http.StatusUnauthorized {
		t.Fatalf("login after delete: expected 401, got %d", status)
	}

	status, body := env.do(t, http.MethodGet, APIPrefix+"/entries", otherToken, nil)
	if status != http.StatusOK || body["results"].(float64) != 1 {
		t.Fatalf("other user's entries: %d %v", status, body)
	}
}

func TestDeleteAccountWithExternalToken(t *testing.T) {
	env := newTestEnv(t, nil)
	token := externalToken(t, "person@example.com")
	if status, body := env.do(t, http.MethodPost, APIPrefix+"/auth/external/link", token, nil); status != http.StatusCreated {
		t.Fatalf("link: %d %v", status, body)
	}
	if status, body := env.do(t, http.MethodDelete, APIPrefix+"/users/me", token, nil); status != http.StatusNoContent {
		t.Fatalf("delete: %d %v", status, body)
	}
	status, body := env.do(t, http.MethodGet, APIPrefix+"/entries", token, nil)
	if status != http.StatusForbidden || body["code"] != "unlinked_external_account" {
		t.Fatalf("expected unlinked after delete, got %d %v", status, body)
	}
	if status, body := env.do(t, http.MethodDelete, APIPrefix+"/users/me", token, nil); status != http.StatusForbidden {
		t.Fatalf("second delete: expected 403, got %d %v", status, body)
	}
}

func TestShadowAccountEmailChangeRefused(t *testing.T) {
	env := newTestEnv(t, nil)
	token := externalToken(t, "person@example.com")
	env.do(t, http.MethodPost, APIPrefix+"/auth/external/link", token, nil)

	status, body := env.do(t, http.MethodPatch, APIPrefix+"/users/me", token, map[string]string{"email": "new@example.com"})
	if status != http.StatusBadRequest || body["code"] != "email_managed_externally" {
		t.Fatalf("expected email_managed_externally, got %d %v", status, body)
	}
	status, body = env.do(t, http.MethodPatch, APIPrefix+"/users/me", token, map[string]string{"name": "Renamed"})
	if status != http.StatusOK || dataField(t, body, "user")["name"] != "Renamed" {
		t.Fatalf("rename: %d %v", status, body)
	}
}

// failingListStore loses its database connection on entry listing.
type failingListStore struct {
	*store.MemoryStore
}

func (failingListStore) ListEntries(context.Context, int64) ([]domain.Entry, error) {
	return nil, errors.New("dial tcp 127.0.0.1:5432: connection refused")
}

func TestStoreFailureIsInternalError(t *testing.T) {
	env := newTestEnvWithStore(t, failingListStore{store.NewMemoryStore()}, nil)
	token, _ := env.signup(t, "a@example.com")

	status, body := env.do(t, http.MethodGet, APIPrefix+"/entries", token, nil)
	if status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d %v", status, body)
	}
	if body["status"] != "error" || body["code"] != "internal_error" || body["request_id"] == "" {
		t.Fatalf("unexpected error envelope: %v", body)
	}
	if msg, _ := body["message"].(string); strings.Contains(msg, "5432") {
		t.Fatalf("driver error leaked to client: %q", msg)
	}
}

func TestTranscriptEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.signup(t, "a@example.com")

	status, body := env.do(t, http.MethodPost, APIPrefix+"/transcripts", token, map[string]any{"recording_id": 1})
	if status != http.StatusBadRequest || body["message"] != "recording_id and text are required" {
		t.Fatalf("missing text: %d %v", status, body)
	}
	status, body = env.do(t, http.MethodPost, APIPrefix+"/transcripts", token, map[string]any{"recording_id": 999, "text": "x"})
	if status != http.StatusNotFound || body["message"] != "Recording not found" {
		t.Fatalf("unknown recording: %d %v", status, body)
	}

	_, body = env.do(t, http.MethodPost, APIPrefix+"/entries", token, map[string]any{"local_path": "audio_files/a.webm"})
	id := int64(dataField(t, body, "entry")["id"].(float64))

	status, body = env.do(t, http.MethodGet, fmt.Sprintf("%s/recordings/%d/transcript", APIPrefix, id), token, nil)
	if status != http.StatusNotFound || body["message"] != "Transcript not found" {
		t.Fatalf("no transcript: %d %v", status, body)
	}
	status, body = env.do(t, http.MethodPost, APIPrefix+"/transcripts", token, map[string]any{"recording_id": id, "text": "final"})
	if status != http.StatusCreated {
		t.Fatalf("create transcript: %d %v", status, body)
	}
	status, body = env.do(t, http.MethodGet, fmt.Sprintf("%s/recordings/%d/transcript", APIPrefix, id), token, nil)
	if status != http.StatusOK || dataField(t, body, "transcript")["text"] != "final" {
		t.Fatalf("latest transcript: %d %v", status, body)
	}
	status, body = env.do(t, http.MethodPost, fmt.Sprintf("%s/recordings/%d/retry-transcription", APIPrefix, id), token, nil)
	if status != http.StatusOK || body["data"].(map[string]any)["local_path"] != "audio_files/a.webm" {
		t.Fatalf("retry: %d %v", status, body)
	}
}

func TestTranscribeUpload(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.signup(t, "a@example.com")

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("audio", "clip.webm")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = part.Write([]byte("0123456789"))
	_ = form.Close()

	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+APIPrefix+"/transcribe", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transcribe status %d: %v", resp.StatusCode, body)
	}
	data := body["data"].(map[string]any)
	if data["transcript"] != "heard 10 bytes" || data["file_size"].(float64) != 10 || data["local_path"] == "" {
		t.Fatalf("unexpected transcription: %v", data)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	if status, body := env.do(t, http.MethodGet, "/healthz", "", nil); status != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz: %d %v", status, body)
	}
	resp, err := http.Get(env.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !bytes.Contains(raw, []byte("journal_http_requests_total")) {
		t.Fatalf("expected journal metrics in scrape output")
	}
}
