package store

import (
	"github.com/dukaanware/dukasync/internal/models"
)

// Store is the Local Record Store: durable key-value persistence for each
// entity collection, scalar application flags, the sync queue, the
// migration status gate, and backup snapshots.
//
// Missing state reads return empty defaults, never errors; callers must
// tolerate a store that has never been written to.
type Store interface {
	// ListRecords returns the persisted collection, empty if absent.
	ListRecords(entity models.Entity) ([]models.Record, error)

	// SaveRecords overwrites the persisted collection atomically.
	SaveRecords(entity models.Entity, recs []models.Record) error

	// UpdateRecords applies fn to the collection under the store's write
	// lock, so read-mutate-write cannot interleave with another mutation.
	// A nil slice or error from fn leaves the collection untouched.
	UpdateRecords(entity models.Entity, fn func(recs []models.Record) ([]models.Record, error)) error

	// Scalar application flags (onboarding done, logged in, ...).
	Flag(name string) (bool, error)
	SetFlag(name string, value bool) error

	// StoreID is the backend store identifier, "" until assigned.
	StoreID() (string, error)
	SetStoreID(id string) error

	// Sync queue persistence.
	Queue() ([]models.SyncQueueItem, error)
	SaveQueue(items []models.SyncQueueItem) error

	// Dead-letter persistence for mutations that exhausted retries.
	DeadLetters() ([]models.DeadItem, error)
	SaveDeadLetters(items []models.DeadItem) error

	// Migration status gate. MigrationStatus returns
	// models.ErrStatusNotFound when no run has been recorded.
	MigrationStatus() (*models.MigrationStatus, error)
	SaveMigrationStatus(st *models.MigrationStatus) error
	ClearMigrationStatus() error

	// Backup snapshots, keyed uniquely, never auto-deleted.
	SaveBackup(snap *models.BackupSnapshot) error
	LoadBackup(key string) (*models.BackupSnapshot, error)
	ListBackups() ([]string, error)

	// ClearAll removes everything except backup snapshots.
	ClearAll() error

	// Close releases resources.
	Close() error
}

// Well-known flag names.
const (
	FlagOnboardingDone = "onboarding_done"
	FlagLoggedIn       = "logged_in"
)

// CurrentSchemaVersion for store migrations.
const CurrentSchemaVersion = 1
