package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dukaanware/dukasync/internal/events"
	"github.com/dukaanware/dukasync/internal/models"
)

// JSONStore implements file-based record storage. Each key lives in its own
// file under baseDir; collection files carry a checksum wrapper and a
// .backup copy that is consulted when the primary is corrupt.
type JSONStore struct {
	baseDir string
	logger  *events.Logger

	mu sync.RWMutex
}

// collectionWrapper adds integrity metadata around a persisted collection.
type collectionWrapper struct {
	SchemaVersion int             `json:"schema_version"`
	CreatedAt     time.Time       `json:"created_at"`
	Records       json.RawMessage `json:"records"`
	Checksum      string          `json:"checksum,omitempty"`
}

// NewJSONStore creates a JSON-file-based store.
func NewJSONStore(baseDir string, logger *events.Logger) (*JSONStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	return &JSONStore{
		baseDir: baseDir,
		logger:  logger.WithComponent("json_store"),
	}, nil
}

// ListRecords returns the persisted collection, empty if absent.
func (s *JSONStore) ListRecords(entity models.Entity) ([]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.readRecords(entity)
}

// SaveRecords overwrites the persisted collection.
func (s *JSONStore) SaveRecords(entity models.Entity, recs []models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeRecords(entity, recs)
}

// UpdateRecords applies fn under the write lock.
func (s *JSONStore) UpdateRecords(entity models.Entity, fn func(recs []models.Record) ([]models.Record, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.readRecords(entity)
	if err != nil {
		return err
	}

	updated, err := fn(recs)
	if err != nil {
		return err
	}
	if updated == nil {
		return nil
	}

	return s.writeRecords(entity, updated)
}

func (s *JSONStore) readRecords(entity models.Entity) ([]models.Record, error) {
	path := s.collectionPath(entity)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return []models.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read collection %s: %w", entity, err)
	}

	raw, err := s.unwrapCollection(entity, data)
	if err != nil {
		return nil, err
	}

	return models.DecodeRecords(entity, raw)
}

// unwrapCollection verifies the checksum wrapper, falling back to the
// .backup copy on corruption.
func (s *JSONStore) unwrapCollection(entity models.Entity, data []byte) (json.RawMessage, error) {
	var wrapper collectionWrapper
	if err := json.Unmarshal(data, &wrapper); err == nil && wrapper.Records != nil {
		if wrapper.Checksum == "" || wrapper.Checksum == checksumOf(wrapper) {
			return wrapper.Records, nil
		}
		s.logger.WithField("entity", string(entity)).Error("Collection checksum mismatch")
	}

	backup, err := os.ReadFile(s.collectionPath(entity) + ".backup")
	if err != nil {
		return nil, models.ErrStoreCorrupt
	}

	var backupWrapper collectionWrapper
	if err := json.Unmarshal(backup, &backupWrapper); err != nil || backupWrapper.Records == nil {
		return nil, models.ErrStoreCorrupt
	}

	s.logger.WithField("entity", string(entity)).Warn("Loaded collection from backup due to corruption")
	return backupWrapper.Records, nil
}

func (s *JSONStore) writeRecords(entity models.Entity, recs []models.Record) error {
	raw, err := models.EncodeRecords(recs)
	if err != nil {
		return err
	}

	wrapper := collectionWrapper{
		SchemaVersion: CurrentSchemaVersion,
		CreatedAt:     time.Now().UTC(),
		Records:       raw,
	}
	wrapper.Checksum = checksumOf(wrapper)

	data, err := json.MarshalIndent(wrapper, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal collection %s: %w", entity, err)
	}

	path := s.collectionPath(entity)

	// Keep the last good copy around for corruption recovery.
	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, path+".backup"); err != nil {
			s.logger.WithError(err).Warn("Failed to write collection backup")
		}
	}

	return writeAtomic(path, data)
}

func checksumOf(w collectionWrapper) string {
	w.Checksum = ""
	data, _ := json.Marshal(w)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Flag returns a scalar flag, false if absent.
func (s *JSONStore) Flag(name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	flags, err := s.readFlags()
	if err != nil {
		return false, err
	}
	return flags[name], nil
}

// SetFlag persists a scalar flag.
func (s *JSONStore) SetFlag(name string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flags, err := s.readFlags()
	if err != nil {
		return err
	}
	flags[name] = value

	return s.writeJSON(s.path("flags.json"), flags)
}

func (s *JSONStore) readFlags() (map[string]bool, error) {
	flags := make(map[string]bool)
	if err := s.readJSON(s.path("flags.json"), &flags); err != nil {
		return nil, err
	}
	return flags, nil
}

// StoreID returns the backend store identifier, "" if unset.
func (s *JSONStore) StoreID() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings, err := s.readSettings()
	if err != nil {
		return "", err
	}
	return settings["store_id"], nil
}

// SetStoreID persists the backend store identifier.
func (s *JSONStore) SetStoreID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.readSettings()
	if err != nil {
		return err
	}
	settings["store_id"] = id

	return s.writeJSON(s.path("settings.json"), settings)
}

func (s *JSONStore) readSettings() (map[string]string, error) {
	settings := make(map[string]string)
	if err := s.readJSON(s.path("settings.json"), &settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// Queue returns the persisted sync queue in enqueue order.
func (s *JSONStore) Queue() ([]models.SyncQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := []models.SyncQueueItem{}
	if err := s.readJSON(s.path("queue.json"), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// SaveQueue overwrites the persisted sync queue.
func (s *JSONStore) SaveQueue(items []models.SyncQueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if items == nil {
		items = []models.SyncQueueItem{}
	}
	return s.writeJSON(s.path("queue.json"), items)
}

// DeadLetters returns exhausted queue items.
func (s *JSONStore) DeadLetters() ([]models.DeadItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := []models.DeadItem{}
	if err := s.readJSON(s.path("dead_letters.json"), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// SaveDeadLetters overwrites the dead-letter list.
func (s *JSONStore) SaveDeadLetters(items []models.DeadItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if items == nil {
		items = []models.DeadItem{}
	}
	return s.writeJSON(s.path("dead_letters.json"), items)
}

// MigrationStatus returns the persisted migration gate.
func (s *JSONStore) MigrationStatus() (*models.MigrationStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.path("migration_status.json")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, models.ErrStatusNotFound
	}

	var st models.MigrationStatus
	if err := s.readJSON(path, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// SaveMigrationStatus persists the migration gate.
func (s *JSONStore) SaveMigrationStatus(st *models.MigrationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeJSON(s.path("migration_status.json"), st)
}

// ClearMigrationStatus removes the migration gate.
func (s *JSONStore) ClearMigrationStatus() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path("migration_status.json"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear migration status: %w", err)
	}
	return nil
}

// SaveBackup persists a snapshot under its key.
func (s *JSONStore) SaveBackup(snap *models.BackupSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeJSON(s.backupPath(snap.Key), snap)
}

// LoadBackup retrieves a snapshot by key.
func (s *JSONStore) LoadBackup(key string) (*models.BackupSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.backupPath(key)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, models.ErrBackupNotFound
	}

	var snap models.BackupSnapshot
	if err := s.readJSON(path, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ListBackups returns all snapshot keys, oldest first.
func (s *JSONStore) ListBackups() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read store directory: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "backup_") && strings.HasSuffix(name, ".json") {
			keys = append(keys, strings.TrimSuffix(strings.TrimPrefix(name, "backup_"), ".json"))
		}
	}
	sort.Strings(keys)

	return keys, nil
}

// ClearAll removes every known key except backup snapshots.
func (s *JSONStore) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("Clearing local store")

	for _, entity := range models.Entities() {
		path := s.collectionPath(entity)
		_ = os.Remove(path)
		_ = os.Remove(path + ".backup")
	}
	for _, name := range []string{"flags.json", "settings.json", "queue.json", "dead_letters.json", "migration_status.json"} {
		_ = os.Remove(s.path(name))
	}

	return nil
}

// Close releases resources.
func (s *JSONStore) Close() error {
	return nil
}

// Helper methods

func (s *JSONStore) path(name string) string {
	return filepath.Join(s.baseDir, name)
}

func (s *JSONStore) collectionPath(entity models.Entity) string {
	return s.path("records_" + string(entity) + ".json")
}

func (s *JSONStore) backupPath(key string) string {
	return s.path("backup_" + key + ".json")
}

// readJSON decodes a file into v; a missing file leaves v untouched.
func (s *JSONStore) readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (s *JSONStore) writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return writeAtomic(path, data)
}

// writeAtomic writes via a temp file and rename.
func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if file, err := os.Open(tmpPath); err == nil {
		_ = file.Sync()
		file.Close()
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
