// Package cache implements the local-first record cache. Reads always come
// from the local store; writes land locally first and reconcile with the
// API opportunistically, falling back to the sync queue whenever a remote
// attempt fails or cannot be made.
package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dukaanware/dukasync/internal/events"
	"github.com/dukaanware/dukasync/internal/models"
	"github.com/dukaanware/dukasync/internal/store"
	"github.com/dukaanware/dukasync/internal/transport"
)

// Enqueuer is the slice of the sync queue the cache needs: handing off
// mutations that could not be applied remotely, and withdrawing pending
// creates for records deleted before they ever reached the server.
type Enqueuer interface {
	Enqueue(item models.SyncQueueItem) error
	Dequeue(id string, entity models.Entity) error
}

// Service is the reconciling cache.
type Service struct {
	store   store.Store
	gateway transport.Gateway
	queue   Enqueuer
	logger  *events.Logger
}

// NewService creates a cache service.
func NewService(st store.Store, gw transport.Gateway, q Enqueuer, logger *events.Logger) *Service {
	return &Service{
		store:   st,
		gateway: gw,
		queue:   q,
		logger:  logger.WithComponent("cache"),
	}
}

// Add persists a record locally under a fresh local id, then tries the
// remote create. On success the local copy is replaced in place by the
// server's version; otherwise the create is parked on the sync queue. The
// caller always gets a usable record back, never the remote error.
//
// Bills are kept newest-first; every other collection appends.
func (s *Service) Add(ctx context.Context, rec models.Record) (models.Record, error) {
	if rec.RecordID() == "" {
		rec.SetRecordID(models.NewLocalID())
	}
	entity := rec.Entity()

	err := s.store.UpdateRecords(entity, func(recs []models.Record) ([]models.Record, error) {
		if entity == models.EntityBill {
			return append([]models.Record{rec}, recs...), nil
		}
		return append(recs, rec), nil
	})
	if err != nil {
		return nil, err
	}

	storeID, err := s.store.StoreID()
	if err != nil {
		return nil, err
	}

	if storeID != "" {
		created, remoteErr := s.gateway.CreateRecord(ctx, storeID, rec)
		if remoteErr == nil {
			if err := s.replace(entity, rec.RecordID(), created); err != nil {
				return nil, err
			}
			return created, nil
		}
		s.logger.WithError(remoteErr).WithFields(map[string]interface{}{
			"entity": string(entity),
			"id":     rec.RecordID(),
		}).Debug("Inline create failed, deferring to sync queue")
	}

	if err := s.enqueue(models.ActionCreate, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update merges fields into the locally cached record. Local-id records
// refresh their pending create; server-id records attempt a remote update
// and enqueue it on failure. Returns ErrRecordNotFound when no cached
// record carries the id.
func (s *Service) Update(ctx context.Context, entity models.Entity, id string, fields map[string]interface{}) (models.Record, error) {
	var updated models.Record
	err := s.store.UpdateRecords(entity, func(recs []models.Record) ([]models.Record, error) {
		for i, rec := range recs {
			if rec.RecordID() != id {
				continue
			}
			merged, err := mergeFields(rec, fields)
			if err != nil {
				return nil, err
			}
			merged.SetRecordID(id)
			recs[i] = merged
			updated = merged
			return recs, nil
		}
		return nil, models.ErrRecordNotFound
	})
	if err != nil {
		return nil, err
	}

	if models.IsLocalID(id) {
		// Not on the server yet; fold the edit into the pending create.
		if err := s.enqueue(models.ActionCreate, updated); err != nil {
			return nil, err
		}
		return updated, nil
	}

	if remoteErr := s.gateway.UpdateRecord(ctx, updated); remoteErr != nil {
		s.logger.WithError(remoteErr).WithFields(map[string]interface{}{
			"entity": string(entity),
			"id":     id,
		}).Debug("Inline update failed, deferring to sync queue")
		if err := s.enqueue(models.ActionUpdate, updated); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

// Delete removes the record locally. A local-id record has never reached
// the server, so its pending create is simply withdrawn; a server-id
// record attempts a remote delete and enqueues it on failure.
func (s *Service) Delete(ctx context.Context, entity models.Entity, id string) error {
	err := s.store.UpdateRecords(entity, func(recs []models.Record) ([]models.Record, error) {
		kept := recs[:0]
		for _, rec := range recs {
			if rec.RecordID() != id {
				kept = append(kept, rec)
			}
		}
		return kept, nil
	})
	if err != nil {
		return err
	}

	if models.IsLocalID(id) {
		return s.queue.Dequeue(id, entity)
	}

	if remoteErr := s.gateway.DeleteRecord(ctx, entity, id); remoteErr != nil {
		s.logger.WithError(remoteErr).WithFields(map[string]interface{}{
			"entity": string(entity),
			"id":     id,
		}).Debug("Inline delete failed, deferring to sync queue")
		return s.queue.Enqueue(models.SyncQueueItem{
			ID:     id,
			Entity: entity,
			Action: models.ActionDelete,
		})
	}
	return nil
}

// List returns the locally cached records for an entity.
func (s *Service) List(entity models.Entity) ([]models.Record, error) {
	return s.store.ListRecords(entity)
}

// Fetch refreshes a collection from the API and merges it with local-only
// records. Records still waiting for their server id survive the merge;
// on id collision the server copy wins. Without a store id the local cache
// is returned untouched.
func (s *Service) Fetch(ctx context.Context, entity models.Entity) ([]models.Record, error) {
	storeID, err := s.store.StoreID()
	if err != nil {
		return nil, err
	}
	if storeID == "" {
		return s.store.ListRecords(entity)
	}

	remote, err := s.gateway.ListRecords(ctx, storeID, entity)
	if err != nil {
		return nil, err
	}

	var merged []models.Record
	err = s.store.UpdateRecords(entity, func(local []models.Record) ([]models.Record, error) {
		merged = mergeCollections(local, remote)
		return merged, nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// replace swaps the record with oldID for its server-assigned version,
// preserving collection order.
func (s *Service) replace(entity models.Entity, oldID string, created models.Record) error {
	return s.store.UpdateRecords(entity, func(recs []models.Record) ([]models.Record, error) {
		for i, rec := range recs {
			if rec.RecordID() == oldID {
				recs[i] = created
				return recs, nil
			}
		}
		return nil, nil
	})
}

func (s *Service) enqueue(action models.Action, rec models.Record) error {
	payload, err := models.EncodeRecord(rec)
	if err != nil {
		return err
	}
	return s.queue.Enqueue(models.SyncQueueItem{
		ID:      rec.RecordID(),
		Entity:  rec.Entity(),
		Action:  action,
		Payload: payload,
	})
}

// mergeFields overlays a partial field map onto an existing record through
// its JSON form, yielding a fresh record of the same entity.
func mergeFields(rec models.Record, fields map[string]interface{}) (models.Record, error) {
	base, err := models.EncodeRecord(rec)
	if err != nil {
		return nil, err
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, fmt.Errorf("merge %s: %w", rec.Entity(), err)
	}
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("merge field %q: %w", k, err)
		}
		m[k] = raw
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("merge %s: %w", rec.Entity(), err)
	}
	return models.DecodeRecord(rec.Entity(), data)
}

// fieldMap flattens a record into an update-field map, dropping the id so
// it cannot be clobbered by a merge.
func fieldMap(rec models.Record) (map[string]interface{}, error) {
	data, err := models.EncodeRecord(rec)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("flatten %s: %w", rec.Entity(), err)
	}
	delete(m, "id")
	return m, nil
}

// mergeCollections combines a fresh server listing with local records.
// Local records that are still local-only are kept; everything else defers
// to the server copy. Duplicate ids collapse, server side winning.
func mergeCollections(local, remote []models.Record) []models.Record {
	seen := make(map[string]bool, len(remote))
	merged := make([]models.Record, 0, len(remote)+len(local))

	for _, rec := range remote {
		if seen[rec.RecordID()] {
			continue
		}
		seen[rec.RecordID()] = true
		merged = append(merged, rec)
	}
	for _, rec := range local {
		if models.IsLocalID(rec.RecordID()) && !seen[rec.RecordID()] {
			seen[rec.RecordID()] = true
			merged = append(merged, rec)
		}
	}
	return merged
}
