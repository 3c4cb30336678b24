package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltStoreRecordRoundTrip(t *testing.T) {
	store, err := NewBoltStore(Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.PutRecord(1, []byte(`{"id":1}`)))

	data, ok, err := store.GetRecord(1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"id":1}`, string(data))

	_, ok, err = store.GetRecord(2)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.DeleteRecord(1))
	_, ok, err = store.GetRecord(1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBoltStoreForEachRecord(t *testing.T) {
	store, err := NewBoltStore(Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.PutRecord(1, []byte(`{"id":1}`)))
	require.NoError(t, store.PutRecord(2, []byte(`{"id":2}`)))

	seen := map[int64]bool{}
	err = store.ForEachRecord(func(id int64, data []byte) error {
		seen[id] = true
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 2)
}

func TestBoltStoreBlob(t *testing.T) {
	store, err := NewBoltStore(Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	defer store.Close()

	_, ok, err := store.GetBlob("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.PutBlob("filter:age", []byte("deadbeef")))
	data, ok, err := store.GetBlob("filter:age")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("deadbeef"), data)
}

func TestBoltStoreFreshTruncates(t *testing.T) {
	dir := t.TempDir()

	store, err := NewBoltStore(Config{DataDir: dir})
	require.NoError(t, err)
	require.NoError(t, store.PutRecord(1, []byte(`{"id":1}`)))
	require.NoError(t, store.Close())

	store, err = NewBoltStore(Config{DataDir: dir, Fresh: true})
	require.NoError(t, err)
	defer store.Close()

	_, ok, err := store.GetRecord(1)
	require.NoError(t, err)
	assert.False(t, ok)
}
