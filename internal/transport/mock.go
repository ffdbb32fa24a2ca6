package transport

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/dukaanware/dukasync/internal/models"
)

// MockGateway provides a mock implementation for testing. It keeps an
// in-memory copy of each remote collection and assigns numeric server ids.
type MockGateway struct {
	mu sync.Mutex

	token       string
	nextID      int
	collections map[models.Entity][]models.Record

	// Error injection: per-call errors keyed by "<action> <entity>", and a
	// blanket error applied to every call when set.
	CallErrors map[string]error
	FailAll    error

	// CreateHook, when set, runs at the start of every CreateRecord, before
	// the gateway lock is taken. Tests use it to interleave work mid-call.
	CreateHook func()

	// Call recording
	Calls []string
}

// NewMockGateway creates a mock gateway.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		nextID:      1,
		collections: make(map[models.Entity][]models.Record),
		CallErrors:  make(map[string]error),
	}
}

func (m *MockGateway) errFor(action string, entity models.Entity) error {
	if m.FailAll != nil {
		return m.FailAll
	}
	return m.CallErrors[fmt.Sprintf("%s %s", action, entity)]
}

// CreateRecord assigns a server id and stores the record.
func (m *MockGateway) CreateRecord(ctx context.Context, storeID string, rec models.Record) (models.Record, error) {
	if m.CreateHook != nil {
		m.CreateHook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, fmt.Sprintf("create %s %s", rec.Entity(), rec.RecordID()))
	if err := m.errFor("create", rec.Entity()); err != nil {
		return nil, err
	}
	if storeID == "" {
		return nil, models.ErrStoreIDMissing
	}

	created := rec.Clone()
	created.SetRecordID(strconv.Itoa(m.nextID))
	m.nextID++

	m.collections[rec.Entity()] = append(m.collections[rec.Entity()], created.Clone())
	return created, nil
}

// ListRecords returns the stored collection.
func (m *MockGateway) ListRecords(ctx context.Context, storeID string, entity models.Entity) ([]models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, fmt.Sprintf("list %s", entity))
	if err := m.errFor("list", entity); err != nil {
		return nil, err
	}
	if storeID == "" {
		return nil, models.ErrStoreIDMissing
	}

	recs := m.collections[entity]
	out := make([]models.Record, len(recs))
	for i, r := range recs {
		out[i] = r.Clone()
	}
	return out, nil
}

// UpdateRecord replaces a stored record by id.
func (m *MockGateway) UpdateRecord(ctx context.Context, rec models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, fmt.Sprintf("update %s %s", rec.Entity(), rec.RecordID()))
	if err := m.errFor("update", rec.Entity()); err != nil {
		return err
	}

	recs := m.collections[rec.Entity()]
	for i, r := range recs {
		if r.RecordID() == rec.RecordID() {
			recs[i] = rec.Clone()
			return nil
		}
	}
	return &models.APIError{StatusCode: 404, Code: models.ErrCodeNotFound, Message: "record not found"}
}

// DeleteRecord removes a stored record by id.
func (m *MockGateway) DeleteRecord(ctx context.Context, entity models.Entity, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, fmt.Sprintf("delete %s %s", entity, id))
	if err := m.errFor("delete", entity); err != nil {
		return err
	}

	recs := m.collections[entity]
	for i, r := range recs {
		if r.RecordID() == id {
			m.collections[entity] = append(recs[:i], recs[i+1:]...)
			return nil
		}
	}
	return nil
}

// SetToken sets the auth token.
func (m *MockGateway) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// GetToken returns the auth token.
func (m *MockGateway) GetToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Close is a no-op.
func (m *MockGateway) Close() error {
	return nil
}

// Helper methods for test setup

// SeedRecords replaces a remote collection directly.
func (m *MockGateway) SeedRecords(entity models.Entity, recs []models.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Record, len(recs))
	for i, r := range recs {
		out[i] = r.Clone()
	}
	m.collections[entity] = out
}

// Records returns a copy of a remote collection.
func (m *MockGateway) Records(entity models.Entity) []models.Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := m.collections[entity]
	out := make([]models.Record, len(recs))
	for i, r := range recs {
		out[i] = r.Clone()
	}
	return out
}

// SetNextID overrides the next server id to assign.
func (m *MockGateway) SetNextID(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID = n
}
