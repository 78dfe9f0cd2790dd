// Package bootstrap builds the journal service's dependency graph from config.
// The HTTP server and the admin CLI share it.
package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"journalease/internal/ratelimit"
	"journalease/internal/usertoken"
	"journalease/internal/util"
	"journalease/pkg/mirror"
	"journalease/pkg/storage"
	"journalease/pkg/store"
	"journalease/pkg/transcribe"
	"journalease/services/journal/internal/app"
	"journalease/services/journal/internal/config"
	"journalease/services/journal/internal/security"
	"journalease/services/journal/internal/server"
)

// Deps is the constructed service. Close releases every connection it owns.
type Deps struct {
	Config   config.FileConfig
	Store    *store.GormStore
	App      *app.App
	Verifier *usertoken.Verifier
	Mirror   *mirror.RestDBClient

	closers []io.Closer
}

// Build opens storage and wires the application core.
func Build(cfg config.FileConfig, logger *slog.Logger) (*Deps, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Deps{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = d.Close()
		}
	}()

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	d.Store = st
	d.closers = append(d.closers, st)

	var (
		resetTokens store.ResetTokenStore
		revoker     store.TokenRevoker
	)
	if cfg.RedisAddr != "" {
		redisResets := store.NewRedisResetTokenStore(cfg.RedisAddr, cfg.RedisPassword)
		redisRevoker := store.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword)
		d.closers = append(d.closers, redisResets, redisRevoker)
		resetTokens, revoker = redisResets, redisRevoker
	} else {
		logger.Warn("redisAddr not set; reset tokens and logouts are kept in memory and rate limiting is off")
		resetTokens, revoker = store.NewMemoryResetTokenStore(), store.NewMemoryTokenRevoker()
	}

	signer, err := usertoken.NewSigner(usertoken.SignerOptions{
		Secret: cfg.JWTSecret,
		Issuer: cfg.JWTIssuer,
		TTL:    config.Duration(cfg.SessionTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("init session signer: %w", err)
	}
	verifier, err := usertoken.NewVerifier(usertoken.Config{
		LocalSecret:      cfg.JWTSecret,
		LocalIssuer:      cfg.JWTIssuer,
		ExternalIssuer:   cfg.ExternalIssuer,
		ExternalSecret:   cfg.ExternalJWTSecret,
		ExternalJWKSURL:  cfg.ExternalJWKSURL,
		ExternalAudience: cfg.ExternalAudience,
		Revoker:          revoker,
	})
	if err != nil {
		return nil, fmt.Errorf("init token verifier: %w", err)
	}
	d.Verifier = verifier
	if !verifier.ExternalEnabled() {
		logger.Info("external identity provider not configured; only local sessions are accepted")
	}

	d.Mirror = mirror.NewRestDBClient(mirror.Config{
		BaseURL:    cfg.RestDBBaseURL,
		APIKey:     cfg.RestDBAPIKey,
		Collection: cfg.RestDBCollection,
		Timeout:    config.Duration(cfg.SyncTimeout),
	})
	if !d.Mirror.Configured() {
		logger.Warn("mirror store not configured; enabling sync marks entries sync_disabled")
	}

	audio, err := newAudioStore(cfg)
	if err != nil {
		return nil, err
	}
	var transcriber transcribe.Transcriber
	if cfg.OpenAIKey != "" {
		transcriber = transcribe.NewWhisperClient(cfg.OpenAIBaseURL, cfg.OpenAIKey, cfg.TranscriptionModel)
	} else {
		logger.Warn("openAIKey not set; /transcribe keeps audio but cannot transcribe")
	}

	core, err := app.New(app.Config{
		Store:           st,
		ResetTokens:     resetTokens,
		Signer:          signer,
		Mirror:          d.Mirror,
		Audio:           audio,
		Transcriber:     transcriber,
		Location:        cfg.Location(),
		SyncTimeout:     config.Duration(cfg.SyncTimeout),
		SyncConcurrency: cfg.SyncConcurrency,
		ResetTokenTTL:   config.Duration(cfg.ResetTokenTTL),
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init app: %w", err)
	}
	d.App = core
	ok = true
	return d, nil
}

// NewServer builds the HTTP surface, including the Redis rate limiters and
// the failed-auth alerter.
func (d *Deps) NewServer() (*server.Server, error) {
	cfg := d.Config
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	srvCfg := server.Config{
		App:               d.App,
		Verifier:          d.Verifier,
		TrustedProxies:    trusted,
		CORSOrigins:       cfg.CORSOrigins,
		MaxUploadBytes:    int64(cfg.MaxUploadMB) << 20,
		ExposeResetTokens: cfg.ExposeResetTokens,
	}
	if cfg.RedisAddr != "" {
		window := config.Duration(cfg.AuthRateWindow)
		newLimiter := func(name string) (*ratelimit.FixedWindowLimiter, error) {
			limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword,
				"journal:ratelimit:"+name, cfg.AuthRateLimit, window)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			d.closers = append(d.closers, limiter)
			return limiter, nil
		}
		if srvCfg.SignupLimiter, err = newLimiter("signup"); err != nil {
			return nil, err
		}
		if srvCfg.LoginLimiter, err = newLimiter("login"); err != nil {
			return nil, err
		}
		if srvCfg.PasswordLimiter, err = newLimiter("password"); err != nil {
			return nil, err
		}
		alerter := security.NewAlerter(cfg.RedisAddr, cfg.RedisPassword, "journal:alerts")
		d.closers = append(d.closers, alerter)
		srvCfg.Alerter = alerter
	}
	return server.New(srvCfg)
}

// Close releases connections in reverse order of creation.
func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

func newAudioStore(cfg config.FileConfig) (storage.AudioStore, error) {
	switch cfg.AudioStorage {
	case "minio":
		s, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, fmt.Errorf("init minio audio store: %w", err)
		}
		return s, nil
	default:
		s, err := storage.NewFileStore(cfg.AudioDir)
		if err != nil {
			return nil, fmt.Errorf("init file audio store: %w", err)
		}
		return s, nil
	}
}
