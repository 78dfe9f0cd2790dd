package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/ncruces/go-sqlite3/gormlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"journalease/pkg/domain"
)

const migrateLockID int64 = 51170907

const sqlitePrefix = "sqlite:"

// GormStore implements Store using GORM + Postgres (or SQLite for local runs).
type GormStore struct {
	db       *gorm.DB
	postgres bool
}

// NewGormStore opens the DB and runs auto-migrations.
// A DSN of the form "sqlite:<path>" opens an embedded SQLite database;
// anything else is treated as a Postgres connection string.
func NewGormStore(dsn string) (*GormStore, error) {
	dialector, isPostgres := OpenDialector(dsn)
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if !isPostgres {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		// SQLite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	}
	s := &GormStore{db: db, postgres: isPostgres}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenDialector picks the GORM dialector for a DSN and reports whether it is Postgres.
func OpenDialector(dsn string) (gorm.Dialector, bool) {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(dsn, sqlitePrefix) {
		path := strings.TrimPrefix(dsn, sqlitePrefix)
		if !strings.HasPrefix(path, "file:") {
			path = "file:" + path
		}
		return gormlite.Open(path), false
	}
	return postgres.Open(dsn), true
}

func (s *GormStore) migrate() error {
	run := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &EntryModel{}, &TranscriptModel{}, &SyncAttemptModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		// Rows created before journal_date existed take their creation day.
		if err := tx.Exec(`UPDATE entries SET journal_date = substr(CAST(created_at AS TEXT), 1, 10) WHERE journal_date IS NULL OR journal_date = ''`).Error; err != nil {
			return fmt.Errorf("backfill journal_date: %w", err)
		}
		return nil
	}
	if !s.postgres {
		return run(s.db)
	}
	return withMigrationLock(s.db, run)
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateUser inserts a new user and returns it with its generated id.
func (s *GormStore) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	model := userToModel(u)
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return domain.User{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.User{}, ErrUserExists
	}
	return userFromModel(model), nil
}

// CreateUserIfAbsent inserts u unless its email is taken, in which case the
// existing row is returned unchanged.
func (s *GormStore) CreateUserIfAbsent(ctx context.Context, u domain.User) (domain.User, bool, error) {
	created, err := s.CreateUser(ctx, u)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, ErrUserExists) {
		return domain.User{}, false, err
	}
	existing, ok, err := s.GetUserByEmail(ctx, u.Email)
	if err != nil {
		return domain.User{}, false, err
	}
	if !ok {
		return domain.User{}, false, fmt.Errorf("user %q vanished after conflict", u.Email)
	}
	return existing, false, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id int64) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// UpdateUser applies a partial profile update.
func (s *GormStore) UpdateUser(ctx context.Context, id int64, update UserUpdate) (domain.User, bool, error) {
	updates := map[string]any{"updated_at": update.UpdatedAt.UTC()}
	if update.Email != nil {
		var taken int64
		if err := s.db.WithContext(ctx).Model(&UserModel{}).
			Where("email = ? AND id <> ?", *update.Email, id).
			Count(&taken).Error; err != nil {
			return domain.User{}, false, err
		}
		if taken > 0 {
			return domain.User{}, false, ErrUserExists
		}
		updates["email"] = *update.Email
	}
	if update.Name != nil {
		updates["name"] = *update.Name
	}
	res := s.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return domain.User{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.User{}, false, nil
	}
	return s.GetUserByID(ctx, id)
}

// SetPasswordHash replaces the stored credential.
func (s *GormStore) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	return s.db.WithContext(ctx).Model(&UserModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"password_hash": hash,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// DeleteUser hard-deletes a user, their entries and their sync attempts.
func (s *GormStore) DeleteUser(ctx context.Context, id int64) ([]domain.Entry, bool, error) {
	var models []EntryModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Order("id asc").Find(&models).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&SyncAttemptModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&EntryModel{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&UserModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Roll back: entries without their user stay untouched.
			return errNoUser
		}
		return nil
	})
	if errors.Is(err, errNoUser) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	entries := make([]domain.Entry, 0, len(models))
	for _, m := range models {
		entries = append(entries, entryFromModel(m))
	}
	return entries, true, nil
}

var errNoUser = errors.New("user not found")

// CreateEntry stores a new entry and returns the persisted row.
func (s *GormStore) CreateEntry(ctx context.Context, e domain.Entry) (domain.Entry, error) {
	model := entryToModel(e)
	model.ID = 0
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Entry{}, err
	}
	return entryFromModel(model), nil
}

// GetEntry retrieves an entry owned by userID.
func (s *GormStore) GetEntry(ctx context.Context, userID, id int64) (domain.Entry, bool, error) {
	var model EntryModel
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Entry{}, false, nil
		}
		return domain.Entry{}, false, err
	}
	return entryFromModel(model), true, nil
}

// ListEntries returns a user's entries, newest first.
func (s *GormStore) ListEntries(ctx context.Context, userID int64) ([]domain.Entry, error) {
	return s.listEntries(ctx, "created_at DESC, id DESC", "user_id = ?", userID)
}

// ListEntriesByDate returns a user's entries for one journal date.
func (s *GormStore) ListEntriesByDate(ctx context.Context, userID int64, date string) ([]domain.Entry, error) {
	return s.listEntries(ctx, "created_at ASC, id ASC", "user_id = ? AND journal_date = ?", userID, date)
}

func (s *GormStore) listEntries(ctx context.Context, order string, conds ...any) ([]domain.Entry, error) {
	var models []EntryModel
	tx := s.db.WithContext(ctx).Order(order)
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Entry, 0, len(models))
	for _, m := range models {
		res = append(res, entryFromModel(m))
	}
	return res, nil
}

// UpdateEntry applies a partial update; false means no row matched.
func (s *GormStore) UpdateEntry(ctx context.Context, userID, id int64, update EntryUpdate) (bool, error) {
	updates := map[string]any{"updated_at": update.UpdatedAt.UTC()}
	if update.Transcript != nil {
		updates["transcript"] = *update.Transcript
	}
	if update.JournalDate != nil {
		updates["journal_date"] = *update.JournalDate
	}
	res := s.db.WithContext(ctx).Model(&EntryModel{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DeleteEntry hard-deletes an entry; transcripts keep their recording_id.
func (s *GormStore) DeleteEntry(ctx context.Context, userID, id int64) (bool, error) {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&EntryModel{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SetDaySync flips sync enablement for every entry of a user on date.
// Enabling marks rows pending; disabling marks them sync_disabled. Both clear last_sync_error.
func (s *GormStore) SetDaySync(ctx context.Context, userID int64, date string, enabled bool, at time.Time) (int64, error) {
	status := domain.SyncDisabled
	if enabled {
		status = domain.SyncPending
	}
	res := s.db.WithContext(ctx).Model(&EntryModel{}).
		Where("user_id = ? AND journal_date = ?", userID, date).
		Updates(map[string]any{
			"drive_sync_enabled": enabled,
			"sync_status":        string(status),
			"last_sync_error":    nil,
			"updated_at":         at.UTC(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// SetSyncStatus records a dispatcher outcome. The write only applies while
// sync is still enabled on the entry, so a concurrent disable is never undone.
func (s *GormStore) SetSyncStatus(ctx context.Context, entryID int64, status domain.SyncStatus, lastErr *string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&EntryModel{}).
		Where("id = ? AND drive_sync_enabled = ?", entryID, true).
		Updates(map[string]any{
			"sync_status":     string(status),
			"last_sync_error": lastErr,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// AppendSyncAttempt records one dispatcher outcome in the history table.
func (s *GormStore) AppendSyncAttempt(ctx context.Context, a domain.SyncAttempt) error {
	model, err := syncAttemptToModel(a)
	if err != nil {
		return err
	}
	model.ID = 0
	return s.db.WithContext(ctx).Create(&model).Error
}

// ListSyncAttempts returns the latest attempts for an entry, newest first.
func (s *GormStore) ListSyncAttempts(ctx context.Context, entryID int64, limit int) ([]domain.SyncAttempt, error) {
	if limit <= 0 {
		limit = 20
	}
	var models []SyncAttemptModel
	if err := s.db.WithContext(ctx).Where("entry_id = ?", entryID).
		Order("id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.SyncAttempt, 0, len(models))
	for _, m := range models {
		items = append(items, syncAttemptFromModel(m))
	}
	return items, nil
}

// CreateTranscript inserts a transcript and caches its text on the entry.
func (s *GormStore) CreateTranscript(ctx context.Context, t domain.Transcript) (domain.Transcript, error) {
	model := transcriptToModel(t)
	model.ID = 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return tx.Model(&EntryModel{}).
			Where("id = ?", model.RecordingID).
			Updates(map[string]any{
				"transcript_id": model.ID,
				"transcript":    model.Text,
			}).Error
	})
	if err != nil {
		return domain.Transcript{}, err
	}
	return transcriptFromModel(model), nil
}

// LatestTranscript returns the newest transcript of a recording.
func (s *GormStore) LatestTranscript(ctx context.Context, recordingID int64) (domain.Transcript, bool, error) {
	var model TranscriptModel
	if err := s.db.WithContext(ctx).Where("recording_id = ?", recordingID).
		Order("created_at DESC, id DESC").
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Transcript{}, false, nil
		}
		return domain.Transcript{}, false, err
	}
	return transcriptFromModel(model), true, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt.UTC(),
		UpdatedAt:    u.UpdatedAt.UTC(),
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		Name:         m.Name,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func entryToModel(e domain.Entry) EntryModel {
	return EntryModel{
		ID:               e.ID,
		UserID:           e.UserID,
		Transcript:       e.Transcript,
		CreatedAt:        e.CreatedAt.UTC(),
		UpdatedAt:        e.UpdatedAt.UTC(),
		DurationMs:       e.DurationMs,
		LocalPath:        e.LocalPath,
		TranscriptID:     e.TranscriptID,
		JournalDate:      e.JournalDate,
		DriveSyncEnabled: e.DriveSyncEnabled,
		SyncStatus:       string(e.SyncStatus),
		LastSyncError:    e.LastSyncError,
	}
}

func entryFromModel(m EntryModel) domain.Entry {
	return domain.Entry{
		ID:               m.ID,
		UserID:           m.UserID,
		Transcript:       m.Transcript,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
		DurationMs:       m.DurationMs,
		LocalPath:        m.LocalPath,
		TranscriptID:     m.TranscriptID,
		JournalDate:      m.JournalDate,
		DriveSyncEnabled: m.DriveSyncEnabled,
		SyncStatus:       domain.SyncStatus(m.SyncStatus),
		LastSyncError:    m.LastSyncError,
	}
}

func transcriptToModel(t domain.Transcript) TranscriptModel {
	return TranscriptModel{
		ID:          t.ID,
		RecordingID: t.RecordingID,
		Text:        t.Text,
		Language:    t.Language,
		Confidence:  t.Confidence,
		CreatedAt:   t.CreatedAt.UTC(),
	}
}

func transcriptFromModel(m TranscriptModel) domain.Transcript {
	return domain.Transcript{
		ID:          m.ID,
		RecordingID: m.RecordingID,
		Text:        m.Text,
		Language:    m.Language,
		Confidence:  m.Confidence,
		CreatedAt:   m.CreatedAt,
	}
}

func syncAttemptToModel(a domain.SyncAttempt) (SyncAttemptModel, error) {
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return SyncAttemptModel{}, fmt.Errorf("marshal sync payload: %w", err)
	}
	return SyncAttemptModel{
		ID:         a.ID,
		EntryID:    a.EntryID,
		UserID:     a.UserID,
		Status:     string(a.Status),
		Error:      a.Error,
		Payload:    payload,
		StartedAt:  a.StartedAt.UTC(),
		FinishedAt: a.FinishedAt.UTC(),
	}, nil
}

func syncAttemptFromModel(m SyncAttemptModel) domain.SyncAttempt {
	var payload domain.MirrorDocument
	if len(m.Payload) > 0 {
		_ = json.Unmarshal(m.Payload, &payload)
	}
	return domain.SyncAttempt{
		ID:         m.ID,
		EntryID:    m.EntryID,
		UserID:     m.UserID,
		Status:     domain.SyncStatus(m.Status),
		Error:      m.Error,
		Payload:    payload,
		StartedAt:  m.StartedAt,
		FinishedAt: m.FinishedAt,
	}
}
