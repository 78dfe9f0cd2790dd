package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"journalease/internal/util"
	"journalease/services/journal/internal/bootstrap"
	"journalease/services/journal/internal/config"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	deps, err := bootstrap.Build(cfg, logger)
	if err != nil {
		log.Fatalf("failed to init journal service: %v", err)
	}
	defer deps.Close()

	httpServer, err := deps.NewServer()
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("journal server listening", "addr", addr, "mirror_configured", deps.Mirror.Configured())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "err", err)
	}
	// Dispatches still running past the deadline are cancelled and recorded
	// as sync_failed; a hard kill leaves them pending.
	if err := deps.App.Shutdown(shutdownCtx); err != nil {
		logger.Warn("sync dispatcher drain incomplete", "err", err)
	}
}
