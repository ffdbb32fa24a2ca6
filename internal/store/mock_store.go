package store

import (
	"sync"

	"github.com/dukaanware/dukasync/internal/models"
)

// MockStore provides an in-memory implementation for testing.
type MockStore struct {
	mu sync.RWMutex

	collections map[models.Entity][]models.Record
	flags       map[string]bool
	storeID     string
	queue       []models.SyncQueueItem
	dead        []models.DeadItem
	status      *models.MigrationStatus
	backups     map[string]*models.BackupSnapshot

	// Error injection
	FailWrites error
}

// NewMockStore creates an in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{
		collections: make(map[models.Entity][]models.Record),
		flags:       make(map[string]bool),
		backups:     make(map[string]*models.BackupSnapshot),
	}
}

func cloneRecords(recs []models.Record) []models.Record {
	out := make([]models.Record, len(recs))
	for i, r := range recs {
		out[i] = r.Clone()
	}
	return out
}

// ListRecords returns a copy of the collection.
func (m *MockStore) ListRecords(entity models.Entity) ([]models.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return cloneRecords(m.collections[entity]), nil
}

// SaveRecords stores a copy of the collection.
func (m *MockStore) SaveRecords(entity models.Entity, recs []models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.collections[entity] = cloneRecords(recs)
	return nil
}

// UpdateRecords applies fn under the write lock.
func (m *MockStore) UpdateRecords(entity models.Entity, fn func(recs []models.Record) ([]models.Record, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	updated, err := fn(cloneRecords(m.collections[entity]))
	if err != nil {
		return err
	}
	if updated == nil {
		return nil
	}
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.collections[entity] = cloneRecords(updated)
	return nil
}

// Flag returns a scalar flag.
func (m *MockStore) Flag(name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flags[name], nil
}

// SetFlag sets a scalar flag.
func (m *MockStore) SetFlag(name string, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[name] = value
	return nil
}

// StoreID returns the store identifier.
func (m *MockStore) StoreID() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.storeID, nil
}

// SetStoreID sets the store identifier.
func (m *MockStore) SetStoreID(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeID = id
	return nil
}

// Queue returns a copy of the queue.
func (m *MockStore) Queue() ([]models.SyncQueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.SyncQueueItem, len(m.queue))
	copy(out, m.queue)
	return out, nil
}

// SaveQueue stores a copy of the queue.
func (m *MockStore) SaveQueue(items []models.SyncQueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.queue = make([]models.SyncQueueItem, len(items))
	copy(m.queue, items)
	return nil
}

// DeadLetters returns a copy of the dead-letter list.
func (m *MockStore) DeadLetters() ([]models.DeadItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.DeadItem, len(m.dead))
	copy(out, m.dead)
	return out, nil
}

// SaveDeadLetters stores a copy of the dead-letter list.
func (m *MockStore) SaveDeadLetters(items []models.DeadItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dead = make([]models.DeadItem, len(items))
	copy(m.dead, items)
	return nil
}

// MigrationStatus returns the stored status.
func (m *MockStore) MigrationStatus() (*models.MigrationStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.status == nil {
		return nil, models.ErrStatusNotFound
	}
	st := *m.status
	return &st, nil
}

// SaveMigrationStatus stores the status.
func (m *MockStore) SaveMigrationStatus(st *models.MigrationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *st
	m.status = &cp
	return nil
}

// ClearMigrationStatus removes the status.
func (m *MockStore) ClearMigrationStatus() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.status = nil
	return nil
}

// SaveBackup stores a snapshot.
func (m *MockStore) SaveBackup(snap *models.BackupSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *snap
	m.backups[snap.Key] = &cp
	return nil
}

// LoadBackup retrieves a snapshot.
func (m *MockStore) LoadBackup(key string) (*models.BackupSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.backups[key]
	if !ok {
		return nil, models.ErrBackupNotFound
	}
	cp := *snap
	return &cp, nil
}

// ListBackups returns all snapshot keys.
func (m *MockStore) ListBackups() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for key := range m.backups {
		keys = append(keys, key)
	}
	return keys, nil
}

// ClearAll removes everything except backups.
func (m *MockStore) ClearAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.collections = make(map[models.Entity][]models.Record)
	m.flags = make(map[string]bool)
	m.storeID = ""
	m.queue = nil
	m.dead = nil
	m.status = nil
	return nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
