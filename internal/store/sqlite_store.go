package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dukaanware/dukasync/internal/events"
	"github.com/dukaanware/dukasync/internal/models"
)

// SQLiteStore implements SQLite-based record storage.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger

	mu sync.RWMutex
}

// NewSQLiteStore creates a SQLite store.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger.WithComponent("sqlite_store"),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return store, nil
}

// initialize creates tables and indexes.
func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS records (
        entity TEXT NOT NULL,
        position INTEGER NOT NULL,
        id TEXT NOT NULL,
        payload BLOB NOT NULL,
        PRIMARY KEY (entity, position)
    );

    CREATE INDEX IF NOT EXISTS idx_records_entity_id ON records(entity, id);

    CREATE TABLE IF NOT EXISTS flags (
        name TEXT PRIMARY KEY,
        value INTEGER NOT NULL
    );

    CREATE TABLE IF NOT EXISTS settings (
        name TEXT PRIMARY KEY,
        value TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS sync_queue (
        position INTEGER PRIMARY KEY AUTOINCREMENT,
        payload BLOB NOT NULL
    );

    CREATE TABLE IF NOT EXISTS dead_letters (
        position INTEGER PRIMARY KEY AUTOINCREMENT,
        payload BLOB NOT NULL
    );

    CREATE TABLE IF NOT EXISTS migration_status (
        id INTEGER PRIMARY KEY CHECK (id = 1),
        payload BLOB NOT NULL
    );

    CREATE TABLE IF NOT EXISTS backups (
        key TEXT PRIMARY KEY,
        payload BLOB NOT NULL,
        created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS schema_info (
        version INTEGER PRIMARY KEY
    );

    INSERT OR IGNORE INTO schema_info (version) VALUES (?);
    `

	if _, err := s.db.Exec(schema, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

// ListRecords returns the persisted collection, empty if absent.
func (s *SQLiteStore) ListRecords(entity models.Entity) ([]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.readRecords(s.db, entity)
}

type querier interface {
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

func (s *SQLiteStore) readRecords(q querier, entity models.Entity) ([]models.Record, error) {
	rows, err := q.Query(`
        SELECT payload FROM records
        WHERE entity = ?
        ORDER BY position
    `, string(entity))
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	recs := []models.Record{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}

		rec, err := models.DecodeRecord(entity, payload)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	return recs, rows.Err()
}

// SaveRecords overwrites the persisted collection in one transaction.
func (s *SQLiteStore) SaveRecords(entity models.Entity, recs []models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.writeRecords(tx, entity, recs); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStore) writeRecords(tx *sql.Tx, entity models.Entity, recs []models.Record) error {
	if _, err := tx.Exec(`DELETE FROM records WHERE entity = ?`, string(entity)); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}

	stmt, err := tx.Prepare(`
        INSERT INTO records (entity, position, id, payload)
        VALUES (?, ?, ?, ?)
    `)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range recs {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := stmt.Exec(string(entity), i, rec.RecordID(), payload); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
	}

	return nil
}

// UpdateRecords applies fn inside a transaction under the write lock.
func (s *SQLiteStore) UpdateRecords(entity models.Entity, fn func(recs []models.Record) ([]models.Record, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	recs, err := s.readRecords(tx, entity)
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

	if err := s.writeRecords(tx, entity, updated); err != nil {
		return err
	}

	return tx.Commit()
}

// Flag returns a scalar flag, false if absent.
func (s *SQLiteStore) Flag(name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value int
	err := s.db.QueryRow(`SELECT value FROM flags WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query flag: %w", err)
	}
	return value != 0, nil
}

// SetFlag persists a scalar flag.
func (s *SQLiteStore) SetFlag(name string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := 0
	if value {
		v = 1
	}
	_, err := s.db.Exec(`
        INSERT INTO flags (name, value) VALUES (?, ?)
        ON CONFLICT(name) DO UPDATE SET value = excluded.value
    `, name, v)
	if err != nil {
		return fmt.Errorf("set flag: %w", err)
	}
	return nil
}

// StoreID returns the backend store identifier, "" if unset.
func (s *SQLiteStore) StoreID() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var id string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE name = 'store_id'`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query store id: %w", err)
	}
	return id, nil
}

// SetStoreID persists the backend store identifier.
func (s *SQLiteStore) SetStoreID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
        INSERT INTO settings (name, value) VALUES ('store_id', ?)
        ON CONFLICT(name) DO UPDATE SET value = excluded.value
    `, id)
	if err != nil {
		return fmt.Errorf("set store id: %w", err)
	}
	return nil
}

// Queue returns the persisted sync queue in enqueue order.
func (s *SQLiteStore) Queue() ([]models.SyncQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT payload FROM sync_queue ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	items := []models.SyncQueueItem{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}

		var item models.SyncQueueItem
		if err := json.Unmarshal(payload, &item); err != nil {
			return nil, fmt.Errorf("parse queue item: %w", err)
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

// SaveQueue overwrites the persisted sync queue.
func (s *SQLiteStore) SaveQueue(items []models.SyncQueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.replaceList("sync_queue", len(items), func(i int) (interface{}, error) {
		return items[i], nil
	})
}

// DeadLetters returns exhausted queue items.
func (s *SQLiteStore) DeadLetters() ([]models.DeadItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT payload FROM dead_letters ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	items := []models.DeadItem{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}

		var item models.DeadItem
		if err := json.Unmarshal(payload, &item); err != nil {
			return nil, fmt.Errorf("parse dead letter: %w", err)
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

// SaveDeadLetters overwrites the dead-letter list.
func (s *SQLiteStore) SaveDeadLetters(items []models.DeadItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.replaceList("dead_letters", len(items), func(i int) (interface{}, error) {
		return items[i], nil
	})
}

// replaceList rewrites an ordered payload table in one transaction.
func (s *SQLiteStore) replaceList(table string, n int, itemAt func(int) (interface{}, error)) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}

	stmt, err := tx.Prepare(`INSERT INTO ` + table + ` (payload) VALUES (?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		item, err := itemAt(i)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshal %s item: %w", table, err)
		}
		if _, err := stmt.Exec(payload); err != nil {
			return fmt.Errorf("insert %s item: %w", table, err)
		}
	}

	return tx.Commit()
}

// MigrationStatus returns the persisted migration gate.
func (s *SQLiteStore) MigrationStatus() (*models.MigrationStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload []byte
	err := s.db.QueryRow(`SELECT payload FROM migration_status WHERE id = 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, models.ErrStatusNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query migration status: %w", err)
	}

	var st models.MigrationStatus
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, fmt.Errorf("parse migration status: %w", err)
	}
	return &st, nil
}

// SaveMigrationStatus persists the migration gate.
func (s *SQLiteStore) SaveMigrationStatus(st *models.MigrationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal migration status: %w", err)
	}

	_, err = s.db.Exec(`
        INSERT INTO migration_status (id, payload) VALUES (1, ?)
        ON CONFLICT(id) DO UPDATE SET payload = excluded.payload
    `, payload)
	if err != nil {
		return fmt.Errorf("save migration status: %w", err)
	}
	return nil
}

// ClearMigrationStatus removes the migration gate.
func (s *SQLiteStore) ClearMigrationStatus() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM migration_status`); err != nil {
		return fmt.Errorf("clear migration status: %w", err)
	}
	return nil
}

// SaveBackup persists a snapshot under its key.
func (s *SQLiteStore) SaveBackup(snap *models.BackupSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal backup: %w", err)
	}

	_, err = s.db.Exec(`
        INSERT INTO backups (key, payload, created_at) VALUES (?, ?, ?)
        ON CONFLICT(key) DO UPDATE SET payload = excluded.payload
    `, snap.Key, payload, snap.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save backup: %w", err)
	}
	return nil
}

// LoadBackup retrieves a snapshot by key.
func (s *SQLiteStore) LoadBackup(key string) (*models.BackupSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload []byte
	err := s.db.QueryRow(`SELECT payload FROM backups WHERE key = ?`, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, models.ErrBackupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query backup: %w", err)
	}

	var snap models.BackupSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("parse backup: %w", err)
	}
	return &snap, nil
}

// ListBackups returns all snapshot keys, oldest first.
func (s *SQLiteStore) ListBackups() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT key FROM backups ORDER BY created_at, key`)
	if err != nil {
		return nil, fmt.Errorf("query backups: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan backup key: %w", err)
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// ClearAll removes everything except backup snapshots.
func (s *SQLiteStore) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("Clearing local store")

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"records", "flags", "settings", "sync_queue", "dead_letters", "migration_status"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	return tx.Commit()
}

// Close releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
