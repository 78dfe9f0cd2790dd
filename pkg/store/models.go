package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Email        string `gorm:"uniqueIndex;not null"`
	Name         string `gorm:"not null"`
	PasswordHash string
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

func (UserModel) TableName() string { return "users" }

type EntryModel struct {
	ID               int64 `gorm:"primaryKey;autoIncrement"`
	UserID           int64 `gorm:"not null;index:idx_entries_user_date,priority:1"`
	Transcript       *string
	CreatedAt        time.Time `gorm:"not null;index"`
	UpdatedAt        time.Time `gorm:"not null"`
	DurationMs       *int64
	LocalPath        *string
	TranscriptID     *int64
	JournalDate      string `gorm:"type:varchar(10);not null;index:idx_entries_user_date,priority:2"`
	DriveSyncEnabled bool   `gorm:"not null;default:false"`
	SyncStatus       string
	LastSyncError    *string
}

func (EntryModel) TableName() string { return "entries" }

type TranscriptModel struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	RecordingID int64  `gorm:"not null;index"`
	Text        string `gorm:"type:text;not null"`
	Language    *string
	Confidence  *float64
	CreatedAt   time.Time `gorm:"not null;index"`
}

func (TranscriptModel) TableName() string { return "transcripts" }

type SyncAttemptModel struct {
	ID         int64          `gorm:"primaryKey;autoIncrement"`
	EntryID    int64          `gorm:"not null;index"`
	UserID     int64          `gorm:"not null;index"`
	Status     string         `gorm:"not null"`
	Error      string
	Payload    datatypes.JSON
	StartedAt  time.Time `gorm:"not null"`
	FinishedAt time.Time `gorm:"not null"`
}

func (SyncAttemptModel) TableName() string { return "sync_attempts" }
