// Package queue implements the durable write-behind sync queue: every
// mutation that could not be applied remotely is retried here until it
// succeeds or exhausts its retry budget.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/dukaanware/dukasync/internal/events"
	"github.com/dukaanware/dukasync/internal/models"
	"github.com/dukaanware/dukasync/internal/netmon"
	"github.com/dukaanware/dukasync/internal/store"
	"github.com/dukaanware/dukasync/internal/transport"
)

// Config controls retry and scheduling behavior.
type Config struct {
	MaxRetries   int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	InitialDelay time.Duration
}

// DefaultConfig returns the standard queue configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   5,
		BaseBackoff:  2 * time.Second,
		MaxBackoff:   5 * time.Minute,
		InitialDelay: 2 * time.Second,
	}
}

// Service is the sync queue. A single in-memory guard keeps passes
// single-flight; overlapping calls are skipped, not queued.
type Service struct {
	store   store.Store
	gateway transport.Gateway
	monitor netmon.Monitor
	cfg     Config
	logger  *events.Logger

	mu      sync.Mutex
	syncing bool
	started bool
	stop    chan struct{}
	wg      sync.WaitGroup

	// queueMu serializes read-modify-write cycles on the persisted queue
	// and dead-letter list. Enqueue runs on caller goroutines while passes
	// run in the background, and the store only makes individual
	// reads/writes atomic.
	queueMu sync.Mutex

	eventsMu     sync.Mutex
	events       chan models.SyncResult
	eventsClosed bool
}

// NewService creates a sync queue service.
func NewService(st store.Store, gw transport.Gateway, mon netmon.Monitor, cfg Config, logger *events.Logger) *Service {
	if cfg.MaxRetries <= 0 {
		cfg = DefaultConfig()
	}
	return &Service{
		store:   st,
		gateway: gw,
		monitor: mon,
		cfg:     cfg,
		logger:  logger.WithComponent("sync_queue"),
		stop:    make(chan struct{}),
		events:  make(chan models.SyncResult, 16),
	}
}

// Events returns the completion event channel. One result is emitted per
// finished queue-processing pass; slow consumers miss events rather than
// block the queue.
func (s *Service) Events() <-chan models.SyncResult {
	return s.events
}

// Start registers the connectivity listener for the service lifetime and,
// when already online, schedules one delayed initial pass. Calling Start
// again is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	transitions := s.monitor.Subscribe()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			case online, ok := <-transitions:
				if !ok {
					return
				}
				if online {
					if _, err := s.ProcessQueue(ctx); err != nil {
						s.logger.WithError(err).Warn("Queue pass after reconnect failed")
					}
				}
			}
		}
	}()

	if s.monitor.Online() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			select {
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.InitialDelay):
				if _, err := s.ProcessQueue(ctx); err != nil {
					s.logger.WithError(err).Warn("Initial queue pass failed")
				}
			}
		}()
	}
}

// Stop tears the service down and closes the event channel.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()

	s.eventsMu.Lock()
	if !s.eventsClosed {
		close(s.events)
		s.eventsClosed = true
	}
	s.eventsMu.Unlock()
}

// Enqueue upserts a pending mutation keyed by (id, entity). A prior entry
// for the same key is replaced and its retry bookkeeping reset, so rapid
// edits debounce to the latest intent. When online, a processing pass is
// triggered in the background.
func (s *Service) Enqueue(item models.SyncQueueItem) error {
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now().UTC()
	}
	item.RetryCount = 0
	item.NextAttemptAt = time.Time{}
	item.LastError = ""

	s.queueMu.Lock()
	queue, err := s.store.Queue()
	if err != nil {
		s.queueMu.Unlock()
		return err
	}

	replaced := false
	for i := range queue {
		if queue[i].Key() == item.Key() {
			queue[i] = item
			replaced = true
			break
		}
	}
	if !replaced {
		queue = append(queue, item)
	}

	if err := s.store.SaveQueue(queue); err != nil {
		s.queueMu.Unlock()
		return err
	}
	s.queueMu.Unlock()

	s.logger.WithFields(map[string]interface{}{
		"entity":   string(item.Entity),
		"id":       item.ID,
		"action":   string(item.Action),
		"replaced": replaced,
	}).Debug("Enqueued mutation")

	if s.monitor.Online() {
		go func() {
			if _, err := s.ProcessQueue(context.Background()); err != nil {
				s.logger.WithError(err).Warn("Background queue pass failed")
			}
		}()
	}

	return nil
}

// Dequeue removes a specific pending entry.
func (s *Service) Dequeue(id string, entity models.Entity) error {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	queue, err := s.store.Queue()
	if err != nil {
		return err
	}

	key := models.QueueKey{ID: id, Entity: entity}
	kept := queue[:0]
	for _, item := range queue {
		if item.Key() != key {
			kept = append(kept, item)
		}
	}
	if len(kept) == len(queue) {
		return nil
	}

	return s.store.SaveQueue(kept)
}

// Status returns a read-only snapshot for UI indicators.
func (s *Service) Status() (models.QueueStatus, error) {
	items, err := s.store.Queue()
	if err != nil {
		return models.QueueStatus{}, err
	}

	dead, err := s.store.DeadLetters()
	if err != nil {
		return models.QueueStatus{}, err
	}

	s.mu.Lock()
	syncing := s.syncing
	s.mu.Unlock()

	return models.QueueStatus{
		PendingCount:   len(items),
		DeadCount:      len(dead),
		Items:          items,
		IsOnline:       s.monitor.Online(),
		SyncInProgress: syncing,
	}, nil
}

// itemState tracks an item's disposition within a single pass.
type itemState int

const (
	itemSynced itemState = iota
	itemRetained
	itemDead
	itemSkipped
)

type disposition struct {
	state      itemState
	enqueuedAt time.Time
	updated    models.SyncQueueItem
}

// ProcessQueue runs one pass over a snapshot of the queue, in enqueue
// order. It returns a zero result immediately when a pass is already
// running, the device is offline, or no store id has been assigned; the
// request itself is not queued.
func (s *Service) ProcessQueue(ctx context.Context) (models.SyncResult, error) {
	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		return models.SyncResult{}, nil
	}
	s.syncing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	if !s.monitor.Online() {
		return models.SyncResult{}, nil
	}

	storeID, err := s.store.StoreID()
	if err != nil {
		return models.SyncResult{}, err
	}
	if storeID == "" {
		return models.SyncResult{}, nil
	}

	snapshot, err := s.store.Queue()
	if err != nil {
		return models.SyncResult{}, err
	}
	if len(snapshot) == 0 {
		return models.SyncResult{}, nil
	}

	s.logger.WithField("pending", len(snapshot)).Info("Processing sync queue")

	var result models.SyncResult
	var newDead []models.DeadItem
	remaps := make(map[string]string) // local id -> server id
	dispositions := make(map[models.QueueKey]disposition)
	now := time.Now().UTC()

	for _, item := range snapshot {
		if !item.Due(now) {
			dispositions[item.Key()] = disposition{state: itemSkipped, enqueuedAt: item.EnqueuedAt}
			continue
		}

		// Earlier creates in this pass may have renamed ids this item
		// references.
		if len(remaps) > 0 {
			item = remapQueueItem(item, remaps)
		}

		serverID, err := s.dispatch(ctx, storeID, item)
		if err == nil {
			if item.Action == models.ActionCreate && serverID != "" && serverID != item.ID {
				if err := s.remapIdentifier(item.Entity, item.ID, serverID); err != nil {
					s.logger.WithError(err).Error("Identifier remap failed")
				} else {
					remaps[item.ID] = serverID
				}
			}
			result.Synced++
			dispositions[item.Key()] = disposition{state: itemSynced, enqueuedAt: item.EnqueuedAt}
			continue
		}

		item.RetryCount++
		item.LastError = err.Error()

		if item.RetryCount >= s.cfg.MaxRetries {
			s.logger.WithFields(map[string]interface{}{
				"entity":  string(item.Entity),
				"id":      item.ID,
				"action":  string(item.Action),
				"retries": item.RetryCount,
			}).Error("Mutation exhausted retries, moving to dead letters")

			newDead = append(newDead, models.DeadItem{SyncQueueItem: item, FailedAt: now})
			result.Failed++
			dispositions[item.Key()] = disposition{state: itemDead, enqueuedAt: item.EnqueuedAt}
			continue
		}

		item.NextAttemptAt = now.Add(backoff(item.RetryCount, s.cfg.BaseBackoff, s.cfg.MaxBackoff))
		dispositions[item.Key()] = disposition{state: itemRetained, enqueuedAt: item.EnqueuedAt, updated: item}

		s.logger.WithFields(map[string]interface{}{
			"entity":       string(item.Entity),
			"id":           item.ID,
			"retry_count":  item.RetryCount,
			"next_attempt": item.NextAttemptAt,
			"error":        err.Error(),
		}).Warn("Mutation failed, will retry")
	}

	retained, err := s.reconcileQueue(dispositions, remaps)
	if err != nil {
		return result, err
	}
	result.Pending = len(retained)

	if len(newDead) > 0 {
		s.queueMu.Lock()
		dead, err := s.store.DeadLetters()
		if err != nil {
			s.queueMu.Unlock()
			return result, err
		}
		if err := s.store.SaveDeadLetters(append(dead, newDead...)); err != nil {
			s.queueMu.Unlock()
			return result, err
		}
		s.queueMu.Unlock()
	}

	s.logger.WithFields(map[string]interface{}{
		"synced":  result.Synced,
		"failed":  result.Failed,
		"pending": result.Pending,
	}).Info("Sync queue pass complete")

	s.emit(result)
	return result, nil
}

// dispatch applies one item against the gateway, returning the assigned
// server id for creates.
func (s *Service) dispatch(ctx context.Context, storeID string, item models.SyncQueueItem) (string, error) {
	switch item.Action {
	case models.ActionCreate:
		rec, err := models.DecodeRecord(item.Entity, item.Payload)
		if err != nil {
			return "", err
		}
		created, err := s.gateway.CreateRecord(ctx, storeID, rec)
		if err != nil {
			return "", &models.SyncError{Action: item.Action, Entity: item.Entity, ID: item.ID, Err: err}
		}
		return created.RecordID(), nil

	case models.ActionUpdate:
		rec, err := models.DecodeRecord(item.Entity, item.Payload)
		if err != nil {
			return "", err
		}
		if err := s.gateway.UpdateRecord(ctx, rec); err != nil {
			return "", &models.SyncError{Action: item.Action, Entity: item.Entity, ID: item.ID, Err: err}
		}
		return "", nil

	case models.ActionDelete:
		if err := s.gateway.DeleteRecord(ctx, item.Entity, item.ID); err != nil {
			return "", &models.SyncError{Action: item.Action, Entity: item.Entity, ID: item.ID, Err: err}
		}
		return "", nil

	default:
		return "", &models.SyncError{Action: item.Action, Entity: item.Entity, ID: item.ID, Err: models.ErrUnknownEntity}
	}
}

// remapIdentifier rewrites every cached occurrence of a local id to the
// server id: the record's own collection plus reference fields in every
// other collection. Duplicate ids left behind by an interrupted earlier
// rewrite collapse to a single record.
func (s *Service) remapIdentifier(entity models.Entity, localID, serverID string) error {
	for _, e := range models.Entities() {
		err := s.store.UpdateRecords(e, func(recs []models.Record) ([]models.Record, error) {
			changed := false
			for _, rec := range recs {
				if models.RewriteRefs(rec, localID, serverID) {
					changed = true
				}
			}
			if !changed {
				return nil, nil
			}

			seen := make(map[string]bool, len(recs))
			deduped := recs[:0]
			for _, rec := range recs {
				if seen[rec.RecordID()] {
					continue
				}
				seen[rec.RecordID()] = true
				deduped = append(deduped, rec)
			}
			return deduped, nil
		})
		if err != nil {
			return err
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"entity":    string(entity),
		"local_id":  localID,
		"server_id": serverID,
	}).Debug("Remapped local identifier")

	return nil
}

// reconcileQueue merges the pass outcome with items enqueued mid-pass and
// applies identifier remaps to what remains.
func (s *Service) reconcileQueue(dispositions map[models.QueueKey]disposition, remaps map[string]string) ([]models.SyncQueueItem, error) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	current, err := s.store.Queue()
	if err != nil {
		return nil, err
	}

	final := make([]models.SyncQueueItem, 0, len(current))
	for _, item := range current {
		d, inSnapshot := dispositions[item.Key()]
		switch {
		case !inSnapshot:
			// Enqueued mid-pass; picked up next pass.
			final = append(final, item)
		case !item.EnqueuedAt.Equal(d.enqueuedAt):
			// Re-enqueued mid-pass with fresh intent.
			final = append(final, item)
		case d.state == itemRetained:
			final = append(final, d.updated)
		case d.state == itemSkipped:
			final = append(final, item)
			// synced and dead items drop out of the queue
		}
	}

	if len(remaps) > 0 {
		for i := range final {
			final[i] = remapQueueItem(final[i], remaps)
		}
	}

	if err := s.store.SaveQueue(final); err != nil {
		return nil, err
	}
	return final, nil
}

// remapQueueItem rewrites remapped ids inside a still-pending item.
func remapQueueItem(item models.SyncQueueItem, remaps map[string]string) models.SyncQueueItem {
	if serverID, ok := remaps[item.ID]; ok {
		item.ID = serverID
	}

	if len(item.Payload) == 0 {
		return item
	}
	rec, err := models.DecodeRecord(item.Entity, item.Payload)
	if err != nil {
		return item
	}

	changed := false
	for localID, serverID := range remaps {
		if models.RewriteRefs(rec, localID, serverID) {
			changed = true
		}
	}
	if !changed {
		return item
	}

	if payload, err := models.EncodeRecord(rec); err == nil {
		item.Payload = payload
	}
	return item
}

// RequeueDead moves one dead-letter item back into the queue.
func (s *Service) RequeueDead(id string, entity models.Entity) error {
	key := models.QueueKey{ID: id, Entity: entity}

	s.queueMu.Lock()
	dead, err := s.store.DeadLetters()
	if err != nil {
		s.queueMu.Unlock()
		return err
	}

	// Copy the match by value before filtering; kept reuses the backing
	// array and would otherwise overwrite it.
	var item models.SyncQueueItem
	found := false
	kept := dead[:0]
	for _, d := range dead {
		if d.Key() == key && !found {
			item = d.SyncQueueItem
			found = true
			continue
		}
		kept = append(kept, d)
	}
	if !found {
		s.queueMu.Unlock()
		return models.ErrRecordNotFound
	}

	if err := s.store.SaveDeadLetters(kept); err != nil {
		s.queueMu.Unlock()
		return err
	}
	s.queueMu.Unlock()

	return s.Enqueue(item)
}

// RequeueAllDead replays every dead-letter item.
func (s *Service) RequeueAllDead() (int, error) {
	s.queueMu.Lock()
	dead, err := s.store.DeadLetters()
	if err != nil {
		s.queueMu.Unlock()
		return 0, err
	}
	if len(dead) == 0 {
		s.queueMu.Unlock()
		return 0, nil
	}

	if err := s.store.SaveDeadLetters(nil); err != nil {
		s.queueMu.Unlock()
		return 0, err
	}
	s.queueMu.Unlock()

	for _, item := range dead {
		if err := s.Enqueue(item.SyncQueueItem); err != nil {
			return 0, err
		}
	}
	return len(dead), nil
}

func (s *Service) emit(result models.SyncResult) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()

	if s.eventsClosed {
		return
	}
	select {
	case s.events <- result:
	default:
		s.logger.Debug("Event channel full, dropping event")
	}
}
