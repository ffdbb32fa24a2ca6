package models

import (
	"encoding/json"
	"time"
)

// MigrationStatus is the persisted gate for the one-time bulk upload.
// Absent means never migrated; once Completed is true the orchestrator
// refuses to run again until explicitly reset.
type MigrationStatus struct {
	InProgress  bool       `json:"in_progress"`
	Completed   bool       `json:"completed"`
	Failed      bool       `json:"failed"`
	CurrentStep string     `json:"current_step,omitempty"`
	Progress    int        `json:"progress"` // 0..100
	Errors      []string   `json:"errors,omitempty"`
	MigratedAt  *time.Time `json:"migrated_at,omitempty"`
}

// MigrationProgress is one step-wise progress notification.
type MigrationProgress struct {
	Step     string `json:"step"`
	Progress int    `json:"progress"` // 0..100
}

// MigrationResult summarizes a completed migration run. Success means zero
// per-record errors across all steps.
type MigrationResult struct {
	Success           bool          `json:"success"`
	ProductsCount     int           `json:"products_count"`
	CustomersCount    int           `json:"customers_count"`
	BillsCount        int           `json:"bills_count"`
	StoreInfoMigrated bool          `json:"store_info_migrated"`
	Errors            []string      `json:"errors,omitempty"`
	Duration          time.Duration `json:"duration"`
}

// BackupSnapshot is an immutable point-in-time copy of every local
// collection, stored under a unique key for manual rollback. Snapshots are
// never auto-deleted.
type BackupSnapshot struct {
	Key         string                     `json:"key"`
	CreatedAt   time.Time                  `json:"created_at"`
	Collections map[Entity]json.RawMessage `json:"collections"`
}
