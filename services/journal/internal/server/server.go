package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"journalease/internal/metrics"
	"journalease/internal/ratelimit"
	"journalease/internal/usertoken"
	"journalease/internal/util"
	"journalease/pkg/auth"
	"journalease/pkg/domain"
	"journalease/services/journal/internal/app"
	"journalease/services/journal/internal/security"
)

// APIPrefix is the mount point of every journal endpoint.
const APIPrefix = "/api/journal-ease"

const forgotPasswordMessage = "If an account with that email exists, a password reset link has been sent."

// Config wires required dependencies for the HTTP server.
type Config struct {
	App      *app.App
	Verifier *usertoken.Verifier

	// Nil limiters disable rate limiting for that route group.
	SignupLimiter   ratelimit.Limiter
	LoginLimiter    ratelimit.Limiter
	PasswordLimiter ratelimit.Limiter
	// Alerter may be nil.
	Alerter *security.Alerter

	TrustedProxies    *util.TrustedProxies
	CORSOrigins       []string
	MaxUploadBytes    int64
	ExposeResetTokens bool
}

// Server exposes the journal HTTP API.
type Server struct {
	app               *app.App
	verifier          *usertoken.Verifier
	mux               *http.ServeMux
	signupLimiter     ratelimit.Limiter
	loginLimiter      ratelimit.Limiter
	passwordLimiter   ratelimit.Limiter
	alerter           *security.Alerter
	trusted           *util.TrustedProxies
	corsOrigins       []string
	maxUploadBytes    int64
	exposeResetTokens bool
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("token verifier is required")
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 25 << 20
	}
	s := &Server{
		app:               cfg.App,
		verifier:          cfg.Verifier,
		mux:               http.NewServeMux(),
		signupLimiter:     cfg.SignupLimiter,
		loginLimiter:      cfg.LoginLimiter,
		passwordLimiter:   cfg.PasswordLimiter,
		alerter:           cfg.Alerter,
		trusted:           cfg.TrustedProxies,
		corsOrigins:       cfg.CORSOrigins,
		maxUploadBytes:    maxUpload,
		exposeResetTokens: cfg.ExposeResetTokens,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog("journal", metrics.ObserveHTTP,
			util.WithSecurityHeaders(s.trusted,
				util.WithCORS(s.corsOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", metrics.Handler())

	// auth
	s.mux.HandleFunc(APIPrefix+"/auth/signup", s.handleSignup)
	s.mux.HandleFunc(APIPrefix+"/auth/login", s.handleLogin)
	s.mux.HandleFunc(APIPrefix+"/auth/logout", s.handleLogout)
	s.mux.HandleFunc(APIPrefix+"/auth/forgot-password", s.handleForgotPassword)
	s.mux.HandleFunc(APIPrefix+"/auth/reset-password", s.handleResetPassword)
	s.mux.HandleFunc(APIPrefix+"/auth/external/link", s.handleExternalLink)

	// journal (auth required)
	s.mux.Handle(APIPrefix+"/entries", s.authenticated(s.handleEntries))
	s.mux.Handle(APIPrefix+"/entries/", s.authenticated(s.handleEntryPath))
	s.mux.Handle(APIPrefix+"/days/", s.authenticated(s.handleDayPath))
	s.mux.Handle(APIPrefix+"/users/", s.authenticated(s.handleUserPath))
	s.mux.Handle(APIPrefix+"/transcripts", s.authenticated(s.handleCreateTranscript))
	s.mux.Handle(APIPrefix+"/recordings/", s.authenticated(s.handleRecordingPath))
	s.mux.Handle(APIPrefix+"/transcribe", s.authenticated(s.handleTranscribe))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, int64)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := s.principal(w, r)
		if !ok {
			return
		}
		userID, err := s.app.ResolveUserID(r.Context(), p)
		if err != nil {
			s.audit(r, "journal.identity.resolve", "fail", "kind", p.Kind, "reason", err.Error())
			writeAppError(w, r, err)
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", userID))
		next(w, r.WithContext(ctx), userID)
	})
}

// principal verifies the bearer token and writes 401 on failure.
func (s *Server) principal(w http.ResponseWriter, r *http.Request) (domain.Principal, bool) {
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "journal.token.verify", "fail", "reason", "missing_token")
		writeFail(w, r, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return domain.Principal{}, false
	}
	p, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		s.audit(r, "journal.token.verify", "fail", "reason", err.Error())
		writeFail(w, r, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
		return domain.Principal{}, false
	}
	return p, true
}

// auth handlers
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "Too many signup attempts") {
		s.audit(r, "journal.signup", "rate_limited")
		return
	}
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := s.app.SignUp(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		s.audit(r, "journal.signup", "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "journal.signup", "success", "user_id", session.User.ID)
	writeData(w, http.StatusCreated, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "Too many login attempts") {
		s.audit(r, "journal.login", "rate_limited")
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeFail(w, r, http.StatusBadRequest, "missing_parameter", "Email and password are required")
		return
	}
	session, err := s.app.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r, "journal.login", "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "journal.login", "success", "user_id", session.User.ID)
	writeData(w, http.StatusOK, session)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	// Identity provider sessions end at the provider.
	if !p.External() {
		token, _ := bearerToken(r)
		if err := s.verifier.Revoke(r.Context(), token); err != nil {
			s.audit(r, "journal.logout", "fail", "reason", err.Error())
			writeAppError(w, r, err)
			return
		}
	}
	s.audit(r, "journal.logout", "success", "kind", p.Kind)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if !s.allowRate(w, r, s.passwordLimiter, "Too many password reset attempts") {
		s.audit(r, "journal.password.forgot", "rate_limited")
		return
	}
	var req forgotPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	token, err := s.app.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "journal.password.forgot", "success")
	resp := map[string]any{"status": "success", "message": forgotPasswordMessage}
	if s.exposeResetTokens && token != "" {
		resp["resetToken"] = token
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if !s.allowRate(w, r, s.passwordLimiter, "Too many password reset attempts") {
		s.audit(r, "journal.password.reset", "rate_limited")
		return
	}
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		s.audit(r, "journal.password.reset", "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "journal.password.reset", "success")
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Password has been reset successfully"})
}

func (s *Server) handleExternalLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	if !p.External() {
		writeFail(w, r, http.StatusBadRequest, "invalid_identity", "Only identity provider tokens can be linked")
		return
	}
	var req linkRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeFail(w, r, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return
	}
	user, created, err := s.app.SyncExternalUser(r.Context(), p, req.Name)
	if err != nil {
		s.audit(r, "journal.external.link", "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "journal.external.link", "success", "user_id", user.ID, "created", created)
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeData(w, status, map[string]any{"user": user, "created": created})
}

// /users/{me|id}[/...]
func (s *Server) handleUserPath(w http.ResponseWriter, r *http.Request, userID int64) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, APIPrefix+"/users/"), "/")
	parts := strings.SplitN(rest, "/", 2)
	if !ownsPathUser(parts[0], userID) {
		writeAppError(w, r, app.ErrNotFound)
		return
	}
	if len(parts) == 1 {
		s.handleMe(w, r, userID)
		return
	}
	// Legacy clients address journal routes under /users/{id}/.
	sub := "/" + parts[1]
	switch {
	case sub == "/entries":
		s.handleEntries(w, r, userID)
	case strings.HasPrefix(sub, "/entries/"):
		s.routeEntryPath(w, r, userID, strings.TrimPrefix(sub, "/entries/"))
	case strings.HasPrefix(sub, "/days/"):
		s.routeDayPath(w, r, userID, strings.TrimPrefix(sub, "/days/"))
	default:
		writeAppError(w, r, app.ErrNotFound)
	}
}

func ownsPathUser(segment string, userID int64) bool {
	if segment == "me" {
		return true
	}
	id, err := strconv.ParseInt(segment, 10, 64)
	return err == nil && id == userID
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, userID int64) {
	switch r.Method {
	case http.MethodGet:
		user, err := s.app.GetMe(r.Context(), userID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"user": user})
	case http.MethodPatch:
		var req updateMeRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		user, err := s.app.UpdateMe(r.Context(), userID, app.UserPatch{Email: req.Email, Name: req.Name})
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"user": user})
	case http.MethodDelete:
		if err := s.app.DeleteMe(r.Context(), userID); err != nil {
			s.audit(r, "journal.account.delete", "fail", "user_id", userID, "reason", err.Error())
			writeAppError(w, r, err)
			return
		}
		s.revokeLocalSession(r)
		s.audit(r, "journal.account.delete", "success", "user_id", userID)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r)
	}
}

// revokeLocalSession ends the caller's local session, if it is one.
func (s *Server) revokeLocalSession(r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		return
	}
	p, err := s.verifier.Verify(r.Context(), token)
	if err != nil || p.External() {
		return
	}
	if err := s.verifier.Revoke(r.Context(), token); err != nil {
		util.LoggerFromContext(r.Context()).Warn("revoke session failed", "err", err)
	}
}

// /entries
func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request, userID int64) {
	switch r.Method {
	case http.MethodGet:
		entries, err := s.app.ListEntries(r.Context(), userID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeList(w, "entries", entries)
	case http.MethodPost:
		var req createEntryRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		e, err := s.app.CreateEntry(r.Context(), userID, app.NewEntry{
			Transcript:  req.Transcript,
			DurationMs:  req.DurationMs,
			LocalPath:   req.LocalPath,
			JournalDate: nonEmpty(req.JournalDate),
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeData(w, http.StatusCreated, map[string]any{"entry": e})
	default:
		methodNotAllowed(w, r)
	}
}

// /entries/{id}, /entries/{id}/sync-attempts, /entries/date/{date}
func (s *Server) handleEntryPath(w http.ResponseWriter, r *http.Request, userID int64) {
	s.routeEntryPath(w, r, userID, strings.TrimPrefix(r.URL.Path, APIPrefix+"/entries/"))
}

func (s *Server) routeEntryPath(w http.ResponseWriter, r *http.Request, userID int64, rest string) {
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 2 && parts[0] == "date" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r)
			return
		}
		entries, err := s.app.ListEntriesByDate(r.Context(), userID, parts[1])
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeList(w, "entries", entries)
		return
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		writeAppError(w, r, app.ErrNotFound)
		return
	}
	switch {
	case len(parts) == 1:
		s.handleEntry(w, r, userID, id)
	case len(parts) == 2 && parts[1] == "sync-attempts":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		attempts, err := s.app.ListSyncAttempts(r.Context(), userID, id, limit)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeList(w, "attempts", attempts)
	default:
		writeAppError(w, r, app.ErrNotFound)
	}
}

func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request, userID, id int64) {
	switch r.Method {
	case http.MethodGet:
		e, err := s.app.GetEntry(r.Context(), userID, id)
		if err != nil {
			writeEntryError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"entry": e})
	case http.MethodPatch:
		var req updateEntryRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		e, err := s.app.UpdateEntry(r.Context(), userID, id, app.EntryPatch{
			Transcript:  req.Transcript,
			JournalDate: req.JournalDate,
		})
		if err != nil {
			writeEntryError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"entry": e})
	case http.MethodDelete:
		if err := s.app.DeleteEntry(r.Context(), userID, id); err != nil {
			writeEntryError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r)
	}
}

// /days/{date}/sync-settings
func (s *Server) handleDayPath(w http.ResponseWriter, r *http.Request, userID int64) {
	s.routeDayPath(w, r, userID, strings.TrimPrefix(r.URL.Path, APIPrefix+"/days/"))
}

func (s *Server) routeDayPath(w http.ResponseWriter, r *http.Request, userID int64, rest string) {
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[1] != "sync-settings" {
		writeAppError(w, r, app.ErrNotFound)
		return
	}
	if r.Method != http.MethodPatch && r.Method != http.MethodPut {
		methodNotAllowed(w, r)
		return
	}
	var req daySyncRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.app.SetDaySync(r.Context(), userID, parts[0], req.DriveSyncEnabled)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"results": len(res.Entries),
		"data": map[string]any{
			"date":         res.Date,
			"updatedCount": res.Updated,
			"entries":      res.Entries,
		},
	})
}

// /transcripts
func (s *Server) handleCreateTranscript(w http.ResponseWriter, r *http.Request, userID int64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var req createTranscriptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := s.app.CreateTranscript(r.Context(), userID, app.NewTranscript{
		RecordingID: req.RecordingID,
		Text:        req.Text,
		Language:    req.Language,
		Confidence:  req.Confidence,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, map[string]any{"transcript": t})
}

// /recordings/{id}/transcript, /recordings/{id}/retry-transcription
func (s *Server) handleRecordingPath(w http.ResponseWriter, r *http.Request, userID int64) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, APIPrefix+"/recordings/"), "/"), "/")
	if len(parts) != 2 {
		writeAppError(w, r, app.ErrNotFound)
		return
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		writeAppError(w, r, app.ErrRecordingNotFound)
		return
	}
	switch parts[1] {
	case "transcript":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r)
			return
		}
		t, err := s.app.LatestTranscript(r.Context(), userID, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"transcript": t})
	case "retry-transcription":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r)
			return
		}
		path, err := s.app.RetryPath(r.Context(), userID, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "success",
			"message": "Use the local_path to retry transcription via /transcribe endpoint",
			"data":    map[string]any{"recording_id": id, "local_path": path},
		})
	default:
		writeAppError(w, r, app.ErrNotFound)
	}
}

// /transcribe
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request, userID int64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeFail(w, r, http.StatusRequestEntityTooLarge, "file_too_large", "Audio file is too large")
			return
		}
		writeFail(w, r, http.StatusBadRequest, "invalid_form", "Invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	file, header, err := formFile(r, "audio", "file")
	if err != nil {
		writeAppError(w, r, app.ErrAudioRequired)
		return
	}
	defer file.Close()

	res, err := s.app.Transcribe(r.Context(), app.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	})
	if err != nil {
		var terr *app.TranscriptionError
		if errors.As(err, &terr) {
			util.LoggerFromContext(r.Context()).Warn("transcription failed", "user_id", userID, "err", terr.Err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"status":     "error",
				"message":    app.ErrTranscriptionFailed.Error(),
				"code":       "transcription_failed",
				"error":      terr.Err.Error(),
				"local_path": terr.LocalPath,
				"request_id": util.RequestIDFromContext(r.Context()),
			})
			return
		}
		writeAppError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func formFile(r *http.Request, names ...string) (multipart.File, *multipart.FileHeader, error) {
	var lastErr error
	for _, name := range names {
		file, header, err := r.FormFile(name)
		if err == nil {
			return file, header, nil
		}
		lastErr = err
	}
	return nil, nil, lastErr
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := util.ClientIP(r, s.trusted)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)

	alert, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security_alert_observe_failed", "event", event, "err", err)
		return
	}
	if alert.Triggered {
		metrics.SecurityAlertsTotal.WithLabelValues(event, outcome).Inc()
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", alert.Count,
			"threshold", alert.Threshold,
			"window", alert.Window.String(),
		)
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter ratelimit.Limiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
	if limiter.Allow(r.Context(), key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeFail(w, r, http.StatusTooManyRequests, "rate_limited", msg)
	return false
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		writeFail(w, r, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return false
	}
	return true
}

func nonEmpty(v *string) *string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil
	}
	return v
}

// writeEntryError names the entity in not-found answers.
func writeEntryError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, app.ErrNotFound) {
		writeFail(w, r, http.StatusNotFound, "not_found", "Entry not found")
		return
	}
	writeAppError(w, r, err)
}

// writeAppError maps application errors onto HTTP answers. Storage and
// unexpected failures are logged and hidden behind a generic message.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrRecordingNotFound), errors.Is(err, app.ErrTranscriptNotFound):
		writeFail(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, app.ErrNotFound):
		writeFail(w, r, http.StatusNotFound, "not_found", "Not found")
	case errors.Is(err, app.ErrUnlinkedExternalAccount):
		writeFail(w, r, http.StatusForbidden, "unlinked_external_account", app.ErrUnlinkedExternalAccount.Error())
	case errors.Is(err, app.ErrInvalidIdentity):
		writeFail(w, r, http.StatusUnauthorized, "invalid_identity", "Invalid user identity")
	case errors.Is(err, app.ErrInvalidCredentials):
		writeFail(w, r, http.StatusUnauthorized, "invalid_credentials", err.Error())
	case errors.Is(err, app.ErrNoFieldsProvided):
		writeFail(w, r, http.StatusBadRequest, "no_fields_provided", "No fields to update")
	case errors.Is(err, app.ErrMissingParameter):
		writeFail(w, r, http.StatusBadRequest, "missing_parameter", "Missing required parameter")
	case errors.Is(err, app.ErrInvalidDate), errors.Is(err, app.ErrInvalidDuration):
		writeFail(w, r, http.StatusBadRequest, "invalid_input", rootMessage(err))
	case errors.Is(err, app.ErrEmailAndPasswordRequired),
		errors.Is(err, app.ErrEmailRequired),
		errors.Is(err, app.ErrTranscriptFields),
		errors.Is(err, app.ErrAudioRequired),
		errors.Is(err, app.ErrNoAudioFile):
		writeFail(w, r, http.StatusBadRequest, "missing_parameter", err.Error())
	case errors.Is(err, auth.ErrPasswordTooShort), errors.Is(err, auth.ErrPasswordTooLong):
		writeFail(w, r, http.StatusBadRequest, "invalid_password", err.Error())
	case errors.Is(err, app.ErrExternalEmail):
		writeFail(w, r, http.StatusBadRequest, "email_managed_externally", err.Error())
	case errors.Is(err, app.ErrEmailAlreadyExists):
		writeFail(w, r, http.StatusBadRequest, "email_exists", err.Error())
	case errors.Is(err, app.ErrInvalidResetToken):
		writeFail(w, r, http.StatusBadRequest, "invalid_reset_token", err.Error())
	case errors.Is(err, app.ErrTranscriptionOffline):
		writeFault(w, r, http.StatusServiceUnavailable, "transcription_unavailable", "Transcription is not available", err)
	case errors.Is(err, context.Canceled):
		writeFault(w, r, http.StatusServiceUnavailable, "canceled", "Request canceled", err)
	default:
		writeFault(w, r, http.StatusInternalServerError, "internal_error", "Internal server error", err)
	}
}

// rootMessage strips wrapping context such as the offending value.
func rootMessage(err error) string {
	switch {
	case errors.Is(err, app.ErrInvalidDate):
		return app.ErrInvalidDate.Error()
	case errors.Is(err, app.ErrInvalidDuration):
		return app.ErrInvalidDuration.Error()
	}
	return err.Error()
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeFail(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"status": "success", "data": data})
}

func writeList[T any](w http.ResponseWriter, key string, items []T) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"results": len(items),
		"data":    map[string]any{key: items},
	})
}

// writeFail answers a client error.
func writeFail(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorBody{
		Status:    "fail",
		Message:   msg,
		Code:      code,
		RequestID: util.RequestIDFromContext(r.Context()),
	})
}

// writeFault answers a server error and logs the cause.
func writeFault(w http.ResponseWriter, r *http.Request, status int, code, msg string, err error) {
	util.LoggerFromContext(r.Context()).Error("request failed", "code", code, "err", err)
	writeJSON(w, status, errorBody{
		Status:    "error",
		Message:   msg,
		Code:      code,
		RequestID: util.RequestIDFromContext(r.Context()),
	})
}
