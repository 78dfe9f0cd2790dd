package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"journalease/pkg/domain"
)

// MemoryStore keeps everything in-process. Used by tests and local runs
// without a database.
type MemoryStore struct {
	mu          sync.RWMutex
	nextID      int64
	users       map[int64]domain.User
	email       map[string]int64 // email -> user ID
	entries     map[int64]domain.Entry
	transcripts map[int64]domain.Transcript
	attempts    []domain.SyncAttempt
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[int64]domain.User),
		email:       make(map[string]int64),
		entries:     make(map[int64]domain.Entry),
		transcripts: make(map[int64]domain.Transcript),
	}
}

func (m *MemoryStore) newIDLocked() int64 {
	m.nextID++
	return m.nextID
}

// CreateUser inserts a user, failing with ErrUserExists on a taken email.
func (m *MemoryStore) CreateUser(_ context.Context, u domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.email[u.Email]; ok {
		return domain.User{}, ErrUserExists
	}
	u.ID = m.newIDLocked()
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return u, nil
}

// CreateUserIfAbsent returns the existing user for u.Email or inserts u.
func (m *MemoryStore) CreateUserIfAbsent(_ context.Context, u domain.User) (domain.User, bool, error) {
	m.mu.Lock()
	if id, ok := m.email[u.Email]; ok {
		existing := m.users[id]
		m.mu.Unlock()
		return existing, false, nil
	}
	u.ID = m.newIDLocked()
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	m.mu.Unlock()
	return u, true, nil
}

// GetUserByEmail finds a user by email.
func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByID fetches a user by ID.
func (m *MemoryStore) GetUserByID(_ context.Context, id int64) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// UpdateUser applies a partial profile update.
func (m *MemoryStore) UpdateUser(_ context.Context, id int64, update UserUpdate) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, false, nil
	}
	if update.Email != nil && *update.Email != u.Email {
		if _, taken := m.email[*update.Email]; taken {
			return domain.User{}, false, ErrUserExists
		}
		delete(m.email, u.Email)
		u.Email = *update.Email
		m.email[u.Email] = u.ID
	}
	if update.Name != nil {
		u.Name = *update.Name
	}
	u.UpdatedAt = update.UpdatedAt.UTC()
	m.users[id] = u
	return u, true, nil
}

// SetPasswordHash replaces the stored credential.
func (m *MemoryStore) SetPasswordHash(_ context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil
	}
	u.PasswordHash = hash
	u.UpdatedAt = time.Now().UTC()
	m.users[id] = u
	return nil
}

// DeleteUser removes a user with their entries and sync attempts.
func (m *MemoryStore) DeleteUser(_ context.Context, id int64) ([]domain.Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, false, nil
	}
	delete(m.users, id)
	delete(m.email, u.Email)
	removed := make([]domain.Entry, 0)
	for entryID, e := range m.entries {
		if e.UserID == id {
			removed = append(removed, e)
			delete(m.entries, entryID)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	kept := m.attempts[:0]
	for _, a := range m.attempts {
		if a.UserID != id {
			kept = append(kept, a)
		}
	}
	m.attempts = kept
	return removed, true, nil
}

// CreateEntry stores a new entry with a generated id.
func (m *MemoryStore) CreateEntry(_ context.Context, e domain.Entry) (domain.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = m.newIDLocked()
	m.entries[e.ID] = e
	return e, nil
}

// GetEntry returns an entry owned by userID.
func (m *MemoryStore) GetEntry(_ context.Context, userID, id int64) (domain.Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok || e.UserID != userID {
		return domain.Entry{}, false, nil
	}
	return e, true, nil
}

// ListEntries returns a user's entries, newest first.
func (m *MemoryStore) ListEntries(_ context.Context, userID int64) ([]domain.Entry, error) {
	res := m.filterEntries(func(e domain.Entry) bool { return e.UserID == userID })
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID > res[j].ID
	})
	return res, nil
}

// ListEntriesByDate returns a user's entries on one journal date, oldest first.
func (m *MemoryStore) ListEntriesByDate(_ context.Context, userID int64, date string) ([]domain.Entry, error) {
	res := m.filterEntries(func(e domain.Entry) bool {
		return e.UserID == userID && e.JournalDate == date
	})
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

func (m *MemoryStore) filterEntries(keep func(domain.Entry) bool) []domain.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Entry, 0)
	for _, e := range m.entries {
		if keep(e) {
			res = append(res, e)
		}
	}
	return res
}

// UpdateEntry applies a partial update.
func (m *MemoryStore) UpdateEntry(_ context.Context, userID, id int64, update EntryUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.UserID != userID {
		return false, nil
	}
	if update.Transcript != nil {
		text := *update.Transcript
		e.Transcript = &text
	}
	if update.JournalDate != nil {
		e.JournalDate = *update.JournalDate
	}
	e.UpdatedAt = update.UpdatedAt.UTC()
	m.entries[id] = e
	return true, nil
}

// DeleteEntry removes an entry; transcripts are left alone.
func (m *MemoryStore) DeleteEntry(_ context.Context, userID, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.UserID != userID {
		return false, nil
	}
	delete(m.entries, id)
	return true, nil
}

// SetDaySync flips sync enablement for a user's entries on date.
func (m *MemoryStore) SetDaySync(_ context.Context, userID int64, date string, enabled bool, at time.Time) (int64, error) {
	status := domain.SyncDisabled
	if enabled {
		status = domain.SyncPending
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.entries {
		if e.UserID != userID || e.JournalDate != date {
			continue
		}
		e.DriveSyncEnabled = enabled
		e.SyncStatus = status
		e.LastSyncError = nil
		e.UpdatedAt = at.UTC()
		m.entries[id] = e
		n++
	}
	return n, nil
}

// SetSyncStatus writes a dispatcher outcome while sync is still enabled.
func (m *MemoryStore) SetSyncStatus(_ context.Context, entryID int64, status domain.SyncStatus, lastErr *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID]
	if !ok || !e.DriveSyncEnabled {
		return false, nil
	}
	e.SyncStatus = status
	if lastErr != nil {
		msg := *lastErr
		e.LastSyncError = &msg
	} else {
		e.LastSyncError = nil
	}
	m.entries[entryID] = e
	return true, nil
}

// AppendSyncAttempt records a dispatcher outcome.
func (m *MemoryStore) AppendSyncAttempt(_ context.Context, a domain.SyncAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = m.newIDLocked()
	m.attempts = append(m.attempts, a)
	return nil
}

// ListSyncAttempts returns the latest attempts for an entry, newest first.
func (m *MemoryStore) ListSyncAttempts(_ context.Context, entryID int64, limit int) ([]domain.SyncAttempt, error) {
	if limit <= 0 {
		limit = 20
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.SyncAttempt, 0)
	for i := len(m.attempts) - 1; i >= 0 && len(res) < limit; i-- {
		if m.attempts[i].EntryID == entryID {
			res = append(res, m.attempts[i])
		}
	}
	return res, nil
}

// CreateTranscript stores a transcript and caches its text on the entry.
func (m *MemoryStore) CreateTranscript(_ context.Context, t domain.Transcript) (domain.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = m.newIDLocked()
	m.transcripts[t.ID] = t
	if e, ok := m.entries[t.RecordingID]; ok {
		text := t.Text
		id := t.ID
		e.Transcript = &text
		e.TranscriptID = &id
		m.entries[e.ID] = e
	}
	return t, nil
}

// LatestTranscript returns the newest transcript of a recording.
func (m *MemoryStore) LatestTranscript(_ context.Context, recordingID int64) (domain.Transcript, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		latest domain.Transcript
		found  bool
	)
	for _, t := range m.transcripts {
		if t.RecordingID != recordingID {
			continue
		}
		if !found || t.CreatedAt.After(latest.CreatedAt) ||
			(t.CreatedAt.Equal(latest.CreatedAt) && t.ID > latest.ID) {
			latest = t
			found = true
		}
	}
	return latest, found, nil
}
