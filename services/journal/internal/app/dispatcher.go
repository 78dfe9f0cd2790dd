package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"journalease/internal/metrics"
	"journalease/pkg/domain"
	"journalease/pkg/mirror"
	"journalease/pkg/store"
)

const (
	defaultSyncTimeout     = mirror.DefaultTimeout
	defaultSyncConcurrency = 8
)

// DispatcherConfig configures the mirror dispatcher.
type DispatcherConfig struct {
	Store       store.Store
	Mirror      mirror.Mirror
	Timeout     time.Duration
	Concurrency int
	Logger      *slog.Logger
	Now         func() time.Time
}

// Outcome is the terminal state one dispatch wrote back onto its entry.
type Outcome struct {
	EntryID    int64
	Status     domain.SyncStatus
	Error      string
	DocumentID string
	// Applied is false when sync was disabled underneath the dispatch and
	// no status was written.
	Applied bool
}

// Dispatcher mirrors entry snapshots to the external document store.
// Every dispatch makes exactly one mirror call and always records a
// terminal status, unless sync was disabled for the entry in the meantime.
type Dispatcher struct {
	store   store.Store
	mirror  mirror.Mirror
	timeout time.Duration
	slots   *semaphore.Weighted
	logger  *slog.Logger
	now     func() time.Time

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher builds a dispatcher. A nil mirror behaves as unconfigured.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSyncTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultSyncConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:   cfg.Store,
		mirror:  cfg.Mirror,
		timeout: cfg.Timeout,
		slots:   semaphore.NewWeighted(int64(cfg.Concurrency)),
		logger:  cfg.Logger.With("component", "sync_dispatcher"),
		now:     cfg.Now,
		base:    base,
		cancel:  cancel,
	}
}

// Dispatch starts a detached sync of the entry snapshot and returns at once.
// The outcome is only observable by reading the entry afterwards.
func (d *Dispatcher) Dispatch(userID int64, e domain.Entry) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		started := d.now().UTC()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("sync dispatch panicked", "entry_id", e.ID, "panic", fmt.Sprint(r))
				d.recordPanic(userID, e, started, r)
			}
		}()
		d.Sync(d.base, userID, e)
	}()
}

// Sync runs one dispatch inline. It never returns an error: every failure
// becomes sync_failed on the entry.
func (d *Dispatcher) Sync(ctx context.Context, userID int64, e domain.Entry) Outcome {
	out := Outcome{EntryID: e.ID}
	started := d.now().UTC()
	doc := domain.NewMirrorDocument(userID, e)

	if d.mirror == nil || !d.mirror.Configured() {
		msg := ErrMirrorUnconfigured.Error()
		out.Status, out.Error = domain.SyncDisabled, msg
		out.Applied = d.writeStatus(ctx, e.ID, domain.SyncDisabled, &msg)
		d.finish(ctx, userID, doc, out, started)
		return out
	}

	applied, err := d.store.SetSyncStatus(ctx, e.ID, domain.SyncPending, nil)
	if err != nil {
		d.logger.Error("mark entry pending failed", "entry_id", e.ID, "err", err)
	}
	if err == nil && !applied {
		d.logger.Info("sync skipped; disabled or deleted", "entry_id", e.ID)
		return out
	}

	docID, pushErr := d.push(ctx, doc)

	// The status write must land even when shutdown cancelled the call.
	writeCtx := context.WithoutCancel(ctx)
	if pushErr != nil {
		msg := mirrorErrorMessage(pushErr)
		out.Status, out.Error = domain.SyncFailed, msg
		out.Applied = d.writeStatus(writeCtx, e.ID, domain.SyncFailed, &msg)
	} else {
		out.Status, out.DocumentID = domain.SyncSynced, docID
		out.Applied = d.writeStatus(writeCtx, e.ID, domain.SyncSynced, nil)
	}
	d.finish(writeCtx, userID, doc, out, started)
	return out
}

// Shutdown waits for in-flight dispatches. When ctx expires first the
// remaining mirror calls are cancelled and recorded as failed.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// push makes the single mirror call of a dispatch, bounded by the
// concurrency slots and the per-call timeout.
func (d *Dispatcher) push(ctx context.Context, doc domain.MirrorDocument) (string, error) {
	if err := d.slots.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMirrorCallFailed, err)
	}
	defer d.slots.Release(1)
	metrics.SyncInFlight.Inc()
	defer metrics.SyncInFlight.Dec()
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SyncDuration)

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.mirror.Push(callCtx, doc)
}

func (d *Dispatcher) writeStatus(ctx context.Context, entryID int64, status domain.SyncStatus, msg *string) bool {
	applied, err := d.store.SetSyncStatus(ctx, entryID, status, msg)
	if err != nil {
		d.logger.Error("write sync status failed", "entry_id", entryID, "status", status, "err", err)
		return false
	}
	return applied
}

func (d *Dispatcher) finish(ctx context.Context, userID int64, doc domain.MirrorDocument, out Outcome, started time.Time) {
	metrics.SyncDispatchesTotal.WithLabelValues(string(out.Status)).Inc()
	if err := d.store.AppendSyncAttempt(ctx, domain.SyncAttempt{
		EntryID:    out.EntryID,
		UserID:     userID,
		Status:     out.Status,
		Error:      out.Error,
		Payload:    doc,
		StartedAt:  started,
		FinishedAt: d.now().UTC(),
	}); err != nil {
		d.logger.Warn("record sync attempt failed", "entry_id", out.EntryID, "err", err)
	}
	attrs := []any{"entry_id", out.EntryID, "user_id", userID, "status", out.Status, "applied", out.Applied}
	switch out.Status {
	case domain.SyncFailed:
		d.logger.Warn("entry sync failed", append(attrs, "err", out.Error)...)
	default:
		d.logger.Info("entry sync finished", attrs...)
	}
}

func (d *Dispatcher) recordPanic(userID int64, e domain.Entry, started time.Time, recovered any) {
	msg := fmt.Sprintf("%s: internal error: %v", ErrMirrorCallFailed, recovered)
	out := Outcome{EntryID: e.ID, Status: domain.SyncFailed, Error: msg}
	out.Applied = d.writeStatus(context.Background(), e.ID, domain.SyncFailed, &msg)
	d.finish(context.Background(), userID, domain.NewMirrorDocument(userID, e), out, started)
}

// mirrorErrorMessage picks the most useful human-readable cause.
func mirrorErrorMessage(err error) string {
	var apiErr *mirror.APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Message
	case errors.Is(err, context.DeadlineExceeded):
		return "mirror request timed out"
	case errors.Is(err, mirror.ErrNotConfigured):
		return ErrMirrorUnconfigured.Error()
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return ErrMirrorCallFailed.Error()
	}
	return msg
}
