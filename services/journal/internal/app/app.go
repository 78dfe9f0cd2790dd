package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"journalease/internal/usertoken"
	"journalease/pkg/mirror"
	"journalease/pkg/storage"
	"journalease/pkg/store"
	"journalease/pkg/transcribe"
)

// Config holds runtime dependencies for the core application.
type Config struct {
	Store       store.Store
	ResetTokens store.ResetTokenStore
	Signer      *usertoken.Signer
	Mirror      mirror.Mirror
	Audio       storage.AudioStore
	Transcriber transcribe.Transcriber

	// Location decides which calendar day "today" is for new entries.
	Location        *time.Location
	SyncTimeout     time.Duration
	SyncConcurrency int
	ResetTokenTTL   time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// App wires storage, identity, entries and the sync pipeline together.
type App struct {
	store       store.Store
	resetTokens store.ResetTokenStore
	signer      *usertoken.Signer
	audio       storage.AudioStore
	transcriber transcribe.Transcriber
	dispatcher  *Dispatcher

	location      *time.Location
	resetTokenTTL time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Signer == nil {
		return nil, errors.New("session signer is required")
	}
	if cfg.ResetTokens == nil {
		cfg.ResetTokens = store.NewMemoryResetTokenStore()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.ResetTokenTTL <= 0 {
		cfg.ResetTokenTTL = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	dispatcher := NewDispatcher(DispatcherConfig{
		Store:       cfg.Store,
		Mirror:      cfg.Mirror,
		Timeout:     cfg.SyncTimeout,
		Concurrency: cfg.SyncConcurrency,
		Logger:      cfg.Logger,
		Now:         cfg.Now,
	})
	return &App{
		store:         cfg.Store,
		resetTokens:   cfg.ResetTokens,
		signer:        cfg.Signer,
		audio:         cfg.Audio,
		transcriber:   cfg.Transcriber,
		dispatcher:    dispatcher,
		location:      cfg.Location,
		resetTokenTTL: cfg.ResetTokenTTL,
		logger:        cfg.Logger,
		now:           cfg.Now,
	}, nil
}

// Shutdown waits for in-flight sync dispatches.
func (a *App) Shutdown(ctx context.Context) error {
	if err := a.dispatcher.Shutdown(ctx); err != nil {
		return fmt.Errorf("drain dispatcher: %w", err)
	}
	return nil
}

// today returns the current calendar date in the journal timezone.
func (a *App) today() string {
	return a.now().In(a.location).Format(dateLayout)
}
