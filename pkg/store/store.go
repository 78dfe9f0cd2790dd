package store

import (
	"context"
	"errors"
	"time"

	"journalease/pkg/domain"
)

// ErrUserExists is returned when an insert collides with an existing email.
var ErrUserExists = errors.New("user already exists")

// Store defines persistence operations for users, entries, transcripts and sync history.
// Entry operations are always scoped by owner: a row owned by another user
// behaves exactly like a missing row.
type Store interface {
	// users
	CreateUser(ctx context.Context, u domain.User) (domain.User, error)
	CreateUserIfAbsent(ctx context.Context, u domain.User) (domain.User, bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id int64) (domain.User, bool, error)
	UpdateUser(ctx context.Context, id int64, update UserUpdate) (domain.User, bool, error)
	SetPasswordHash(ctx context.Context, id int64, hash string) error
	// DeleteUser removes the user with their entries and sync history in one
	// transaction and returns the removed entries. Transcripts are kept.
	DeleteUser(ctx context.Context, id int64) ([]domain.Entry, bool, error)

	// entries
	CreateEntry(ctx context.Context, e domain.Entry) (domain.Entry, error)
	GetEntry(ctx context.Context, userID, id int64) (domain.Entry, bool, error)
	ListEntries(ctx context.Context, userID int64) ([]domain.Entry, error)
	ListEntriesByDate(ctx context.Context, userID int64, date string) ([]domain.Entry, error)
	UpdateEntry(ctx context.Context, userID, id int64, update EntryUpdate) (bool, error)
	DeleteEntry(ctx context.Context, userID, id int64) (bool, error)

	// sync state
	SetDaySync(ctx context.Context, userID int64, date string, enabled bool, at time.Time) (int64, error)
	SetSyncStatus(ctx context.Context, entryID int64, status domain.SyncStatus, lastErr *string) (bool, error)
	AppendSyncAttempt(ctx context.Context, a domain.SyncAttempt) error
	ListSyncAttempts(ctx context.Context, entryID int64, limit int) ([]domain.SyncAttempt, error)

	// transcripts
	CreateTranscript(ctx context.Context, t domain.Transcript) (domain.Transcript, error)
	LatestTranscript(ctx context.Context, recordingID int64) (domain.Transcript, bool, error)
}

// EntryUpdate carries the optional fields of a partial entry update.
// A nil field is left untouched.
type EntryUpdate struct {
	Transcript  *string
	JournalDate *string
	UpdatedAt   time.Time
}

// Empty reports whether no field was supplied.
func (u EntryUpdate) Empty() bool {
	return u.Transcript == nil && u.JournalDate == nil
}

// UserUpdate carries the optional fields of a partial profile update.
type UserUpdate struct {
	Email     *string
	Name      *string
	UpdatedAt time.Time
}

// ResetTokenStore persists single-use password reset tokens.
type ResetTokenStore interface {
	NewToken(ctx context.Context, userID int64, ttl time.Duration) (string, error)
	ConsumeToken(ctx context.Context, token string) (int64, bool, error)
}
