package models

import (
	"encoding/json"
	"time"
)

// Action is the kind of pending mutation.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// SyncQueueItem is one pending mutation awaiting confirmed application to
// the backend. At most one item exists per (ID, Entity) pair; re-enqueuing
// replaces the prior item and resets the retry bookkeeping.
type SyncQueueItem struct {
	ID            string          `json:"id"`
	Entity        Entity          `json:"entity"`
	Action        Action          `json:"action"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	RetryCount    int             `json:"retry_count"`
	NextAttemptAt time.Time       `json:"next_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
}

// Key identifies the queue slot the item occupies.
func (i SyncQueueItem) Key() QueueKey {
	return QueueKey{ID: i.ID, Entity: i.Entity}
}

// Due reports whether the item may be attempted at the given time.
func (i SyncQueueItem) Due(now time.Time) bool {
	return !i.NextAttemptAt.After(now)
}

// QueueKey is the (id, entity) pair a queue item is keyed by.
type QueueKey struct {
	ID     string `json:"id"`
	Entity Entity `json:"entity"`
}

// DeadItem is a mutation that exhausted its retries. It stays in the store
// until requeued or cleared so the give-up is observable, not silent.
type DeadItem struct {
	SyncQueueItem
	FailedAt time.Time `json:"failed_at"`
}

// QueueStatus is a read-only snapshot for status indicators.
type QueueStatus struct {
	PendingCount   int             `json:"pending_count"`
	DeadCount      int             `json:"dead_count"`
	Items          []SyncQueueItem `json:"items"`
	IsOnline       bool            `json:"is_online"`
	SyncInProgress bool            `json:"sync_in_progress"`
}

// SyncResult summarizes one queue-processing pass.
type SyncResult struct {
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
}
