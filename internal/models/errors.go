package models

import (
	"errors"
	"fmt"
)

// Error codes for structured error handling.
const (
	ErrCodeNetwork     = "NETWORK_ERROR"
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodeValidation  = "VALIDATION_ERROR"
	ErrCodeRateLimit   = "RATE_LIMIT"
	ErrCodeServerError = "SERVER_ERROR"
	ErrCodeStore       = "STORE_ERROR"
)

// Sentinel errors
var (
	ErrStoreIDMissing     = errors.New("store id not set")
	ErrSyncInProgress     = errors.New("sync already in progress")
	ErrOffline            = errors.New("device is offline")
	ErrRecordNotFound     = errors.New("record not found")
	ErrUnknownEntity      = errors.New("unknown entity type")
	ErrStatusNotFound     = errors.New("migration status not found")
	ErrMigrationRunning   = errors.New("migration already in progress")
	ErrMigrationCompleted = errors.New("migration already completed")
	ErrBackupNotFound     = errors.New("backup not found")
	ErrStoreCorrupt       = errors.New("local store file is corrupt")
)

// APIError represents an error response from the backend.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	RequestID  string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// MigrationError describes a single failed record during migration. These
// are collected, not thrown; the batch keeps going.
type MigrationError struct {
	Step     string
	RecordID string
	Err      error
}

func (e *MigrationError) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("migrate %s: record %s: %v", e.Step, e.RecordID, e.Err)
	}
	return fmt.Sprintf("migrate %s: %v", e.Step, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// SyncError provides detailed queue failure information.
type SyncError struct {
	Action Action
	Entity Entity
	ID     string
	Err    error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s %s %s: %v", e.Action, e.Entity, e.ID, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
