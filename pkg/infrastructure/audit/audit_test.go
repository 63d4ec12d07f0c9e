package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() Record {
	return Record{
		Name:    "data-pipeline",
		Type:    "release",
		Release: time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC),
		Context: map[string]any{
			"params": map[string]any{"source": "orders"},
			"status": "SUCCESS",
		},
		RunID:     "20260102030000000000T1a2b3c4d5",
		UpdatedAt: time.Date(2026, 1, 2, 3, 5, 0, 0, time.UTC),
	}
}

func TestFileStoreSave(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	defer store.Close()

	rec := sampleRecord()
	require.NoError(t, store.Save(context.Background(), rec))

	path := filepath.Join(dir, rec.Name+"."+rec.RunID+".json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got Record
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, rec.Name, got.Name)
	assert.Equal(t, rec.RunID, got.RunID)
	assert.Equal(t, "SUCCESS", got.Context["status"])
}

func TestSQLiteStoreSaveIsUpsert(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer store.Close()

	rec := sampleRecord()
	require.NoError(t, store.Save(context.Background(), rec))

	rec.Context["status"] = "FAILED"
	require.NoError(t, store.Save(context.Background(), rec), "same run id overwrites")

	got, err := store.Find(context.Background(), rec.Name)
	require.NoError(t, err)
	assert.Equal(t, rec.RunID, got.RunID)
	assert.Equal(t, "FAILED", got.Context["status"])
}

func TestSQLiteStoreFindMostRecent(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer store.Close()

	old := sampleRecord()
	old.RunID = "run-old"
	require.NoError(t, store.Save(context.Background(), old))

	recent := sampleRecord()
	recent.RunID = "run-new"
	recent.Release = old.Release.Add(time.Hour)
	require.NoError(t, store.Save(context.Background(), recent))

	got, err := store.Find(context.Background(), recent.Name)
	require.NoError(t, err)
	assert.Equal(t, "run-new", got.RunID)
}

func TestFromURL(t *testing.T) {
	store, err := FromURL("")
	require.NoError(t, err)
	assert.IsType(t, Nop{}, store)

	dir := t.TempDir()
	store, err = FromURL("file://" + dir)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)

	store, err = FromURL("sqlite://" + filepath.Join(dir, "audit.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, store)
	require.NoError(t, store.Close())

	_, err = FromURL("redis://localhost")
	assert.Error(t, err)
}
