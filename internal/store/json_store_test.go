package store

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukaanware/dukasync/internal/models"
)

func TestJSONStoreChecksumRecovery(t *testing.T) {
	dir := t.TempDir()

	st, err := NewJSONStore(dir, testLogger())
	require.NoError(t, err)
	defer st.Close()

	// First write creates the primary, second write creates the .backup.
	require.NoError(t, st.SaveRecords(models.EntityProduct, []models.Record{
		&models.Product{ID: "p1", Name: "Parle-G"},
	}))
	require.NoError(t, st.SaveRecords(models.EntityProduct, []models.Record{
		&models.Product{ID: "p1", Name: "Parle-G"},
		&models.Product{ID: "p2", Name: "Soap"},
	}))

	path := filepath.Join(dir, "records_product.json")

	t.Run("bit flip falls back to backup copy", func(t *testing.T) {
		data, err := os.ReadFile(path)
		require.NoError(t, err)

		// Corrupt the payload without breaking the JSON structure.
		idx := bytes.Index(data, []byte("Soap"))
		require.GreaterOrEqual(t, idx, 0)
		corrupted := append([]byte(nil), data...)
		corrupted[idx] = 'X'
		require.NoError(t, os.WriteFile(path, corrupted, 0600))

		recs, err := st.ListRecords(models.EntityProduct)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "p1", recs[0].RecordID())
	})

	t.Run("corrupt primary and backup reports store corruption", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("not json"), 0600))
		require.NoError(t, os.WriteFile(path+".backup", []byte("also not json"), 0600))

		_, err := st.ListRecords(models.EntityProduct)
		assert.ErrorIs(t, err, models.ErrStoreCorrupt)
	})
}

func TestWriteAtomicLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")

	require.NoError(t, writeAtomic(path, []byte(`{"ok":true}`)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "out.json", entries[0].Name())
}
