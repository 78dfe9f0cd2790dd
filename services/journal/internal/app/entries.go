package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"journalease/pkg/domain"
	"journalease/pkg/store"
)

const dateLayout = domain.DateLayout

// NewEntry holds the caller-supplied fields of a new entry.
type NewEntry struct {
	Transcript  *string
	DurationMs  *int64
	LocalPath   *string
	JournalDate *string
}

// EntryPatch holds the optional fields of a partial entry update.
type EntryPatch struct {
	Transcript  *string
	JournalDate *string
}

// CreateEntry stores a new entry. The journal date defaults to today in the
// journal timezone; sync starts disabled.
func (a *App) CreateEntry(ctx context.Context, userID int64, in NewEntry) (domain.Entry, error) {
	date := a.today()
	if in.JournalDate != nil {
		d, err := parseDate(*in.JournalDate)
		if err != nil {
			return domain.Entry{}, err
		}
		date = d
	}
	if in.DurationMs != nil && *in.DurationMs < 0 {
		return domain.Entry{}, ErrInvalidDuration
	}
	now := a.now().UTC()
	e, err := a.store.CreateEntry(ctx, domain.Entry{
		UserID:      userID,
		Transcript:  in.Transcript,
		DurationMs:  in.DurationMs,
		LocalPath:   in.LocalPath,
		JournalDate: date,
		SyncStatus:  domain.SyncDisabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.Entry{}, storageErr("create entry", err)
	}
	return e, nil
}

// GetEntry returns an entry owned by userID. Foreign and missing entries
// both yield ErrNotFound.
func (a *App) GetEntry(ctx context.Context, userID, id int64) (domain.Entry, error) {
	e, ok, err := a.store.GetEntry(ctx, userID, id)
	if err != nil {
		return domain.Entry{}, storageErr("get entry", err)
	}
	if !ok {
		return domain.Entry{}, ErrNotFound
	}
	return e, nil
}

// ListEntries returns the user's entries, newest first.
func (a *App) ListEntries(ctx context.Context, userID int64) ([]domain.Entry, error) {
	entries, err := a.store.ListEntries(ctx, userID)
	if err != nil {
		return nil, storageErr("list entries", err)
	}
	return entries, nil
}

// ListEntriesByDate returns the user's entries for one journal date.
func (a *App) ListEntriesByDate(ctx context.Context, userID int64, date string) ([]domain.Entry, error) {
	d, err := parseDate(date)
	if err != nil {
		return nil, err
	}
	entries, err := a.store.ListEntriesByDate(ctx, userID, d)
	if err != nil {
		return nil, storageErr("list entries by date", err)
	}
	return entries, nil
}

// UpdateEntry applies a partial update and, when the entry has sync enabled,
// dispatches the fresh snapshot in the background.
func (a *App) UpdateEntry(ctx context.Context, userID, id int64, patch EntryPatch) (domain.Entry, error) {
	update := store.EntryUpdate{Transcript: patch.Transcript, JournalDate: patch.JournalDate}
	if update.Empty() {
		return domain.Entry{}, ErrNoFieldsProvided
	}
	if patch.JournalDate != nil {
		d, err := parseDate(*patch.JournalDate)
		if err != nil {
			return domain.Entry{}, err
		}
		update.JournalDate = &d
	}
	update.UpdatedAt = a.now().UTC()
	ok, err := a.store.UpdateEntry(ctx, userID, id, update)
	if err != nil {
		return domain.Entry{}, storageErr("update entry", err)
	}
	if !ok {
		return domain.Entry{}, ErrNotFound
	}
	e, err := a.GetEntry(ctx, userID, id)
	if err != nil {
		return domain.Entry{}, err
	}
	if e.DriveSyncEnabled {
		a.dispatcher.Dispatch(userID, e)
	}
	return e, nil
}

// DeleteEntry hard-deletes an entry. Transcripts pointing at it are kept.
func (a *App) DeleteEntry(ctx context.Context, userID, id int64) error {
	ok, err := a.store.DeleteEntry(ctx, userID, id)
	if err != nil {
		return storageErr("delete entry", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// ListSyncAttempts returns the dispatch history of an owned entry.
func (a *App) ListSyncAttempts(ctx context.Context, userID, id int64, limit int) ([]domain.SyncAttempt, error) {
	if _, err := a.GetEntry(ctx, userID, id); err != nil {
		return nil, err
	}
	attempts, err := a.store.ListSyncAttempts(ctx, id, limit)
	if err != nil {
		return nil, storageErr("list sync attempts", err)
	}
	return attempts, nil
}

func parseDate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return t.Format(dateLayout), nil
}
