package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukaanware/dukasync/internal/events"
	"github.com/dukaanware/dukasync/internal/models"
)

// storeSuite runs the full contract against every backend.
func storeSuite(t *testing.T, open func(t *testing.T) Store) {
	t.Run("records", func(t *testing.T) {
		st := open(t)
		defer st.Close()

		recs, err := st.ListRecords(models.EntityProduct)
		require.NoError(t, err)
		assert.Empty(t, recs)

		products := []models.Record{
			&models.Product{ID: "p1", Name: "Parle-G", Price: decimal.NewFromInt(10)},
			&models.Product{ID: "p2", Name: "Soap", Price: decimal.NewFromFloat(32.5)},
		}
		require.NoError(t, st.SaveRecords(models.EntityProduct, products))

		recs, err = st.ListRecords(models.EntityProduct)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "p1", recs[0].RecordID())
		assert.Equal(t, "p2", recs[1].RecordID())

		p, ok := recs[1].(*models.Product)
		require.True(t, ok)
		assert.True(t, p.Price.Equal(decimal.NewFromFloat(32.5)))

		// Collections are independent.
		others, err := st.ListRecords(models.EntityCustomer)
		require.NoError(t, err)
		assert.Empty(t, others)
	})

	t.Run("update records mutates under lock", func(t *testing.T) {
		st := open(t)
		defer st.Close()

		require.NoError(t, st.SaveRecords(models.EntityCustomer, []models.Record{
			&models.Customer{ID: "c1", Name: "Ravi"},
		}))

		err := st.UpdateRecords(models.EntityCustomer, func(recs []models.Record) ([]models.Record, error) {
			require.Len(t, recs, 1)
			recs[0].(*models.Customer).Name = "Ravi Kumar"
			return append(recs, &models.Customer{ID: "c2", Name: "Meena"}), nil
		})
		require.NoError(t, err)

		recs, err := st.ListRecords(models.EntityCustomer)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "Ravi Kumar", recs[0].(*models.Customer).Name)
	})

	t.Run("update records nil result leaves collection untouched", func(t *testing.T) {
		st := open(t)
		defer st.Close()

		require.NoError(t, st.SaveRecords(models.EntityParty, []models.Record{
			&models.Party{ID: "s1", Name: "Mehta Wholesale"},
		}))

		err := st.UpdateRecords(models.EntityParty, func(recs []models.Record) ([]models.Record, error) {
			return nil, nil
		})
		require.NoError(t, err)

		recs, err := st.ListRecords(models.EntityParty)
		require.NoError(t, err)
		assert.Len(t, recs, 1)
	})

	t.Run("flags", func(t *testing.T) {
		st := open(t)
		defer st.Close()

		v, err := st.Flag(FlagOnboardingDone)
		require.NoError(t, err)
		assert.False(t, v)

		require.NoError(t, st.SetFlag(FlagOnboardingDone, true))
		require.NoError(t, st.SetFlag(FlagLoggedIn, true))
		require.NoError(t, st.SetFlag(FlagLoggedIn, false))

		v, err = st.Flag(FlagOnboardingDone)
		require.NoError(t, err)
		assert.True(t, v)

		v, err = st.Flag(FlagLoggedIn)
		require.NoError(t, err)
		assert.False(t, v)
	})

	t.Run("store id", func(t *testing.T) {
		st := open(t)
		defer st.Close()

		id, err := st.StoreID()
		require.NoError(t, err)
		assert.Empty(t, id)

		require.NoError(t, st.SetStoreID("store-77"))

		id, err = st.StoreID()
		require.NoError(t, err)
		assert.Equal(t, "store-77", id)
	})

	t.Run("queue order survives persistence", func(t *testing.T) {
		st := open(t)
		defer st.Close()

		items := []models.SyncQueueItem{
			{ID: "a", Entity: models.EntityProduct, Action: models.ActionCreate, EnqueuedAt: time.Now().UTC()},
			{ID: "b", Entity: models.EntityBill, Action: models.ActionDelete, EnqueuedAt: time.Now().UTC()},
			{ID: "c", Entity: models.EntityProduct, Action: models.ActionUpdate, EnqueuedAt: time.Now().UTC(), RetryCount: 2, LastError: "boom"},
		}
		require.NoError(t, st.SaveQueue(items))

		got, err := st.Queue()
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "a", got[0].ID)
		assert.Equal(t, "b", got[1].ID)
		assert.Equal(t, "c", got[2].ID)
		assert.Equal(t, 2, got[2].RetryCount)
		assert.Equal(t, "boom", got[2].LastError)
	})

	t.Run("dead letters", func(t *testing.T) {
		st := open(t)
		defer st.Close()

		dead, err := st.DeadLetters()
		require.NoError(t, err)
		assert.Empty(t, dead)

		failedAt := time.Now().UTC().Truncate(time.Second)
		require.NoError(t, st.SaveDeadLetters([]models.DeadItem{
			{
				SyncQueueItem: models.SyncQueueItem{ID: "x", Entity: models.EntityExpense, Action: models.ActionCreate, RetryCount: 5},
				FailedAt:      failedAt,
			},
		}))

		dead, err = st.DeadLetters()
		require.NoError(t, err)
		require.Len(t, dead, 1)
		assert.Equal(t, "x", dead[0].ID)
		assert.Equal(t, 5, dead[0].RetryCount)
	})

	t.Run("migration status", func(t *testing.T) {
		st := open(t)
		defer st.Close()

		_, err := st.MigrationStatus()
		assert.ErrorIs(t, err, models.ErrStatusNotFound)

		now := time.Now().UTC().Truncate(time.Second)
		require.NoError(t, st.SaveMigrationStatus(&models.MigrationStatus{
			Completed:  true,
			Progress:   100,
			MigratedAt: &now,
		}))

		status, err := st.MigrationStatus()
		require.NoError(t, err)
		assert.True(t, status.Completed)
		assert.Equal(t, 100, status.Progress)
		require.NotNil(t, status.MigratedAt)

		require.NoError(t, st.ClearMigrationStatus())
		_, err = st.MigrationStatus()
		assert.ErrorIs(t, err, models.ErrStatusNotFound)
	})

	t.Run("backups", func(t *testing.T) {
		st := open(t)
		defer st.Close()

		_, err := st.LoadBackup("missing")
		assert.ErrorIs(t, err, models.ErrBackupNotFound)

		snap := &models.BackupSnapshot{
			Key:       "pre_migration_20260101_120000",
			CreatedAt: time.Now().UTC(),
			Collections: map[models.Entity]json.RawMessage{
				models.EntityProduct: json.RawMessage(`[{"id":"p1","name":"Parle-G","price":"10"}]`),
			},
		}
		require.NoError(t, st.SaveBackup(snap))

		loaded, err := st.LoadBackup(snap.Key)
		require.NoError(t, err)
		assert.Equal(t, snap.Key, loaded.Key)
		assert.JSONEq(t, string(snap.Collections[models.EntityProduct]), string(loaded.Collections[models.EntityProduct]))

		keys, err := st.ListBackups()
		require.NoError(t, err)
		assert.Contains(t, keys, snap.Key)
	})

	t.Run("clear all keeps backups", func(t *testing.T) {
		st := open(t)
		defer st.Close()

		require.NoError(t, st.SaveRecords(models.EntityProduct, []models.Record{
			&models.Product{ID: "p1", Name: "Parle-G"},
		}))
		require.NoError(t, st.SetStoreID("store-1"))
		require.NoError(t, st.SetFlag(FlagLoggedIn, true))
		require.NoError(t, st.SaveQueue([]models.SyncQueueItem{{ID: "q1", Entity: models.EntityProduct, Action: models.ActionCreate}}))
		require.NoError(t, st.SaveBackup(&models.BackupSnapshot{Key: "keepme", CreatedAt: time.Now().UTC()}))

		require.NoError(t, st.ClearAll())

		recs, err := st.ListRecords(models.EntityProduct)
		require.NoError(t, err)
		assert.Empty(t, recs)

		id, err := st.StoreID()
		require.NoError(t, err)
		assert.Empty(t, id)

		flag, err := st.Flag(FlagLoggedIn)
		require.NoError(t, err)
		assert.False(t, flag)

		queue, err := st.Queue()
		require.NoError(t, err)
		assert.Empty(t, queue)

		keys, err := st.ListBackups()
		require.NoError(t, err)
		assert.Contains(t, keys, "keepme")
	})
}

func testLogger() *events.Logger {
	return events.NewTestLogger(events.ErrorLevel, "text", os.Stderr)
}

func TestJSONStore(t *testing.T) {
	storeSuite(t, func(t *testing.T) Store {
		st, err := NewJSONStore(t.TempDir(), testLogger())
		require.NoError(t, err)
		return st
	})
}

func TestSQLiteStore(t *testing.T) {
	storeSuite(t, func(t *testing.T) Store {
		st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "dukasync.db"), testLogger())
		require.NoError(t, err)
		return st
	})
}

func TestJSONStoreReopenKeepsData(t *testing.T) {
	dir := t.TempDir()

	st, err := NewJSONStore(dir, testLogger())
	require.NoError(t, err)
	require.NoError(t, st.SaveRecords(models.EntityBill, []models.Record{
		&models.Bill{ID: "b1", Total: decimal.NewFromInt(150)},
	}))
	require.NoError(t, st.Close())

	st, err = NewJSONStore(dir, testLogger())
	require.NoError(t, err)
	defer st.Close()

	recs, err := st.ListRecords(models.EntityBill)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "b1", recs[0].RecordID())
}
