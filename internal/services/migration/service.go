// Package migration implements the one-time bulk upload of pre-existing
// local data to a freshly assigned backend store: profile, products,
// customers and bills in dependency order, with stepwise progress and
// per-record error collection.
package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dukaanware/dukasync/internal/events"
	"github.com/dukaanware/dukasync/internal/models"
	"github.com/dukaanware/dukasync/internal/store"
	"github.com/dukaanware/dukasync/internal/transport"
)

// Progress milestones per step. Record uploads within a step advance
// linearly between its bounds.
const (
	progressProfile        = 5
	progressProductsStart  = 15
	progressProductsEnd    = 45
	progressCustomersStart = 45
	progressCustomersEnd   = 70
	progressBillsStart     = 70
	progressBillsEnd       = 95
	progressDone           = 100
)

// Service is the migration orchestrator.
type Service struct {
	store   store.Store
	gateway transport.Gateway
	logger  *events.Logger

	mu      sync.Mutex
	running bool
}

// NewService creates a migration service.
func NewService(st store.Store, gw transport.Gateway, logger *events.Logger) *Service {
	return &Service{
		store:   st,
		gateway: gw,
		logger:  logger.WithComponent("migration"),
	}
}

// NeedsMigration reports whether a run is still due: no completed status
// on record, and at least some local data worth uploading.
func (s *Service) NeedsMigration() (bool, error) {
	status, err := s.store.MigrationStatus()
	if err != nil && !errors.Is(err, models.ErrStatusNotFound) {
		return false, err
	}
	if status != nil && status.Completed {
		return false, nil
	}

	for _, entity := range models.Entities() {
		recs, err := s.store.ListRecords(entity)
		if err != nil {
			return false, err
		}
		if len(recs) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// Migrate uploads local data in dependency order: profile first, then
// products, customers and bills. Per-record failures are collected and do
// not abort the run; cross-record references follow each record's
// server-assigned id as it lands. onProgress may be nil.
//
// A second call after a completed run returns ErrMigrationCompleted
// without touching the network.
func (s *Service) Migrate(ctx context.Context, onProgress func(models.MigrationProgress)) (result *models.MigrationResult, err error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, models.ErrMigrationRunning
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	status, statusErr := s.store.MigrationStatus()
	if statusErr != nil && !errors.Is(statusErr, models.ErrStatusNotFound) {
		return nil, statusErr
	}
	if status != nil && status.Completed {
		return nil, models.ErrMigrationCompleted
	}

	run := &migrationRun{
		service:    s,
		onProgress: onProgress,
		started:    time.Now(),
	}

	defer func() {
		if err != nil {
			failed := &models.MigrationStatus{
				Failed:      true,
				CurrentStep: run.step,
				Progress:    run.progress,
				Errors:      append(run.errors, err.Error()),
			}
			if saveErr := s.store.SaveMigrationStatus(failed); saveErr != nil {
				s.logger.WithError(saveErr).Error("Failed to record migration failure")
			}
		}
	}()

	storeID, err := s.store.StoreID()
	if err != nil {
		return nil, err
	}
	if storeID == "" {
		return nil, models.ErrStoreIDMissing
	}
	run.storeID = storeID

	s.logger.WithField("store_id", storeID).Info("Starting migration")

	if err := run.report("store_profile", progressProfile); err != nil {
		return nil, err
	}
	profileMigrated, err := run.migrateProfile(ctx)
	if err != nil {
		return nil, err
	}

	products, err := run.migrateStep(ctx, models.EntityProduct, progressProductsStart, progressProductsEnd)
	if err != nil {
		return nil, err
	}
	customers, err := run.migrateStep(ctx, models.EntityCustomer, progressCustomersStart, progressCustomersEnd)
	if err != nil {
		return nil, err
	}
	bills, err := run.migrateStep(ctx, models.EntityBill, progressBillsStart, progressBillsEnd)
	if err != nil {
		return nil, err
	}

	if err := run.report("finalize", progressDone); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	completed := &models.MigrationStatus{
		Completed:  true,
		Failed:     len(run.errors) > 0,
		Progress:   progressDone,
		Errors:     run.errors,
		MigratedAt: &now,
	}
	if err := s.store.SaveMigrationStatus(completed); err != nil {
		return nil, err
	}

	result = &models.MigrationResult{
		Success:           len(run.errors) == 0,
		ProductsCount:     products,
		CustomersCount:    customers,
		BillsCount:        bills,
		StoreInfoMigrated: profileMigrated,
		Errors:            run.errors,
		Duration:          time.Since(run.started),
	}

	s.logger.WithFields(map[string]interface{}{
		"products":  products,
		"customers": customers,
		"bills":     bills,
		"errors":    len(run.errors),
		"duration":  result.Duration.String(),
	}).Info("Migration finished")

	return result, nil
}

// migrationRun carries the mutable state of one Migrate call.
type migrationRun struct {
	service    *Service
	storeID    string
	onProgress func(models.MigrationProgress)
	started    time.Time
	step       string
	progress   int
	errors     []string
}

// report persists the in-progress status and notifies the caller.
func (r *migrationRun) report(step string, progress int) error {
	r.step = step
	r.progress = progress

	err := r.service.store.SaveMigrationStatus(&models.MigrationStatus{
		InProgress:  true,
		CurrentStep: step,
		Progress:    progress,
		Errors:      r.errors,
	})
	if err != nil {
		return err
	}

	if r.onProgress != nil {
		r.onProgress(models.MigrationProgress{Step: step, Progress: progress})
	}
	return nil
}

// migrateProfile uploads the store profile, if one exists.
func (r *migrationRun) migrateProfile(ctx context.Context) (bool, error) {
	profiles, err := r.service.store.ListRecords(models.EntityStoreProfile)
	if err != nil {
		return false, err
	}
	if len(profiles) == 0 {
		return false, nil
	}

	if err := r.upload(ctx, profiles[0]); err != nil {
		r.record("store_profile", profiles[0].RecordID(), err)
		return false, nil
	}
	return true, nil
}

// migrateStep uploads one collection, advancing progress linearly between
// the step's milestone bounds. Returns the number of records uploaded.
func (r *migrationRun) migrateStep(ctx context.Context, entity models.Entity, start, end int) (int, error) {
	recs, err := r.service.store.ListRecords(entity)
	if err != nil {
		return 0, err
	}
	if err := r.report(string(entity), start); err != nil {
		return 0, err
	}

	uploaded := 0
	for i, rec := range recs {
		select {
		case <-ctx.Done():
			return uploaded, ctx.Err()
		default:
		}

		if err := r.upload(ctx, rec); err != nil {
			r.record(string(entity), rec.RecordID(), err)
			continue
		}
		uploaded++

		progress := start + (end-start)*(i+1)/len(recs)
		if err := r.report(string(entity), progress); err != nil {
			return uploaded, err
		}
	}
	return uploaded, nil
}

// upload creates one record remotely and rewrites its local id to the
// server-assigned id across every collection.
func (r *migrationRun) upload(ctx context.Context, rec models.Record) error {
	created, err := r.service.gateway.CreateRecord(ctx, r.storeID, rec)
	if err != nil {
		return err
	}

	oldID := rec.RecordID()
	newID := created.RecordID()
	if newID == "" || newID == oldID {
		return nil
	}

	for _, entity := range models.Entities() {
		err := r.service.store.UpdateRecords(entity, func(recs []models.Record) ([]models.Record, error) {
			changed := false
			for _, other := range recs {
				if models.RewriteRefs(other, oldID, newID) {
					changed = true
				}
			}
			if !changed {
				return nil, nil
			}
			return recs, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// record collects a per-record failure without aborting the run.
func (r *migrationRun) record(step, id string, err error) {
	merr := &models.MigrationError{Step: step, RecordID: id, Err: err}
	r.errors = append(r.errors, merr.Error())
	r.service.logger.WithError(err).WithFields(map[string]interface{}{
		"step": step,
		"id":   id,
	}).Warn("Record migration failed")
}

// Reset clears the migration status so a run can be attempted again.
func (s *Service) Reset() error {
	return s.store.ClearMigrationStatus()
}

// Status returns the recorded migration status, nil when none exists.
func (s *Service) Status() (*models.MigrationStatus, error) {
	status, err := s.store.MigrationStatus()
	if errors.Is(err, models.ErrStatusNotFound) {
		return nil, nil
	}
	return status, err
}

// CreateBackup snapshots every collection under a timestamped key.
func (s *Service) CreateBackup() (string, error) {
	key := fmt.Sprintf("pre_migration_%s", time.Now().UTC().Format("20060102_150405"))

	collections := make(map[models.Entity]json.RawMessage, len(models.Entities()))
	for _, entity := range models.Entities() {
		recs, err := s.store.ListRecords(entity)
		if err != nil {
			return "", err
		}
		data, err := models.EncodeRecords(recs)
		if err != nil {
			return "", err
		}
		collections[entity] = data
	}

	snap := &models.BackupSnapshot{
		Key:         key,
		CreatedAt:   time.Now().UTC(),
		Collections: collections,
	}
	if err := s.store.SaveBackup(snap); err != nil {
		return "", err
	}

	s.logger.WithField("key", key).Info("Created backup")
	return key, nil
}

// RestoreBackup replaces every collection with the snapshot's contents.
// Returns false when no snapshot exists under the key.
func (s *Service) RestoreBackup(key string) (bool, error) {
	snap, err := s.store.LoadBackup(key)
	if errors.Is(err, models.ErrBackupNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	for _, entity := range models.Entities() {
		recs, err := models.DecodeRecords(entity, orEmptyList(snap.Collections[entity]))
		if err != nil {
			return false, err
		}
		if err := s.store.SaveRecords(entity, recs); err != nil {
			return false, err
		}
	}

	s.logger.WithField("key", key).Info("Restored backup")
	return true, nil
}

// ListBackups returns the stored snapshot keys.
func (s *Service) ListBackups() ([]string, error) {
	return s.store.ListBackups()
}

// Verify compares local and remote record counts per collection and
// reports mismatches as advisory strings. Unreachable collections are
// reported rather than returned as an error.
func (s *Service) Verify(ctx context.Context) ([]string, error) {
	storeID, err := s.store.StoreID()
	if err != nil {
		return nil, err
	}
	if storeID == "" {
		return nil, models.ErrStoreIDMissing
	}

	var mismatches []string
	for _, entity := range models.Entities() {
		local, err := s.store.ListRecords(entity)
		if err != nil {
			return nil, err
		}

		remote, err := s.gateway.ListRecords(ctx, storeID, entity)
		if err != nil {
			mismatches = append(mismatches, fmt.Sprintf("%s: remote listing failed: %v", entity, err))
			continue
		}
		if len(local) != len(remote) {
			mismatches = append(mismatches, fmt.Sprintf("%s: %d local vs %d remote", entity, len(local), len(remote)))
		}
	}
	return mismatches, nil
}

func orEmptyList(data json.RawMessage) []byte {
	if len(data) == 0 {
		return []byte("[]")
	}
	return data
}
