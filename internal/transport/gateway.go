package transport

import (
	"context"

	"github.com/dukaanware/dukasync/internal/models"
)

// Gateway is the Remote Record Gateway: a thin typed HTTP client performing
// CRUD against the backend, scoped by a store identifier.
//
// The gateway performs no retries and no queueing; retry policy lives in
// the sync queue. Any non-success status or network failure is returned as
// an error, as a *models.APIError when the backend sent a structured body.
type Gateway interface {
	// CreateRecord posts a record and returns the server's version of it,
	// carrying the server-assigned identifier.
	CreateRecord(ctx context.Context, storeID string, rec models.Record) (models.Record, error)

	// ListRecords fetches the full remote collection.
	ListRecords(ctx context.Context, storeID string, entity models.Entity) ([]models.Record, error)

	// UpdateRecord replaces the remote record identified by rec's id.
	UpdateRecord(ctx context.Context, rec models.Record) error

	// DeleteRecord removes the remote record by id.
	DeleteRecord(ctx context.Context, entity models.Entity, id string) error

	// Authentication
	SetToken(token string)
	GetToken() string

	// Lifecycle
	Close() error
}
