package domain

import "time"

// DateLayout is the wire and storage format of a journal date.
const DateLayout = "2006-01-02"

type SyncStatus string

const (
	SyncUnset    SyncStatus = ""
	SyncPending  SyncStatus = "pending"
	SyncSynced   SyncStatus = "synced"
	SyncFailed   SyncStatus = "sync_failed"
	SyncDisabled SyncStatus = "sync_disabled"
)

type PrincipalKind string

const (
	PrincipalLocal    PrincipalKind = "local"
	PrincipalExternal PrincipalKind = "external"
)

// Principal is the authenticated caller as described by a verified token.
// Local principals carry an integer subject; external principals carry the
// identity provider's UUID subject and must be linked by email.
type Principal struct {
	Kind    PrincipalKind
	Subject string
	Email   string
}

// External reports whether the principal was issued by the external identity provider.
func (p Principal) External() bool {
	return p.Kind == PrincipalExternal
}

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Entry struct {
	ID               int64      `json:"id"`
	UserID           int64      `json:"user_id"`
	Transcript       *string    `json:"transcript"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	DurationMs       *int64     `json:"duration_ms"`
	LocalPath        *string    `json:"local_path"`
	TranscriptID     *int64     `json:"transcript_id"`
	JournalDate      string     `json:"journal_date"`
	DriveSyncEnabled bool       `json:"drive_sync_enabled"`
	SyncStatus       SyncStatus `json:"sync_status"`
	LastSyncError    *string    `json:"last_sync_error"`
}

// EffectiveJournalDate returns the journal date, falling back to the date
// portion of CreatedAt for rows that predate the journal_date column.
func (e Entry) EffectiveJournalDate() string {
	if e.JournalDate != "" {
		return e.JournalDate
	}
	if e.CreatedAt.IsZero() {
		return ""
	}
	return e.CreatedAt.Format(DateLayout)
}

type Transcript struct {
	ID          int64     `json:"id"`
	RecordingID int64     `json:"recording_id"`
	Text        string    `json:"text"`
	Language    *string   `json:"language"`
	Confidence  *float64  `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
}

// SyncAttempt records the outcome of one dispatch to the mirror store.
type SyncAttempt struct {
	ID         int64          `json:"id"`
	EntryID    int64          `json:"entry_id"`
	UserID     int64          `json:"user_id"`
	Status     SyncStatus     `json:"status"`
	Error      string         `json:"error,omitempty"`
	Payload    MirrorDocument `json:"payload"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// MirrorDocument is the denormalized projection of an entry sent to the mirror store.
type MirrorDocument struct {
	UserID         int64     `json:"user_id"`
	EntryID        int64     `json:"entry_id"`
	JournalDate    string    `json:"journal_date"`
	Transcript     string    `json:"transcript"`
	AudioLocalPath *string   `json:"audio_local_path"`
	DurationMs     *int64    `json:"duration_ms"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewMirrorDocument projects an entry snapshot for the given owner.
func NewMirrorDocument(userID int64, e Entry) MirrorDocument {
	transcript := ""
	if e.Transcript != nil {
		transcript = *e.Transcript
	}
	return MirrorDocument{
		UserID:         userID,
		EntryID:        e.ID,
		JournalDate:    e.EffectiveJournalDate(),
		Transcript:     transcript,
		AudioLocalPath: e.LocalPath,
		DurationMs:     e.DurationMs,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}
