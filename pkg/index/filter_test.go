package index

import (
	"testing"

	"github.com/cuemby/vdb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBlobStore struct {
	blobs map[string][]byte
}

func newMemBlobStore() *memBlobStore { return &memBlobStore{blobs: make(map[string][]byte)} }

func (m *memBlobStore) PutBlob(key string, data []byte) error {
	m.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (m *memBlobStore) GetBlob(key string) ([]byte, bool, error) {
	v, ok := m.blobs[key]
	return v, ok, nil
}

func TestFilterIndexEqualAndNotEqual(t *testing.T) {
	f := NewFilterIndex()
	f.AddField("age", 30, 1)
	f.AddField("age", 30, 2)
	f.AddField("age", 40, 3)

	eq := f.Bitmap("age", types.FilterEqual, 30)
	assert.True(t, eq.Contains(1))
	assert.True(t, eq.Contains(2))
	assert.False(t, eq.Contains(3))

	ne := f.Bitmap("age", types.FilterNotEqual, 30)
	assert.False(t, ne.Contains(1))
	assert.True(t, ne.Contains(3))
}

func TestFilterIndexUpdateMovesMembership(t *testing.T) {
	f := NewFilterIndex()
	f.AddField("age", 30, 1)

	old := int64(30)
	f.UpdateField("age", &old, 40, 1)

	assert.False(t, f.Bitmap("age", types.FilterEqual, 30).Contains(1))
	assert.True(t, f.Bitmap("age", types.FilterEqual, 40).Contains(1))
}

func TestFilterIndexSaveLoadRoundTrip(t *testing.T) {
	f := NewFilterIndex()
	f.AddField("age", 30, 1)
	f.AddField("age", 40, 2)
	f.AddField("score", 7, 3)

	store := newMemBlobStore()
	require.NoError(t, f.Save(store, "filter_index"))

	f2 := NewFilterIndex()
	require.NoError(t, f2.Load(store, "filter_index"))

	assert.True(t, f2.Bitmap("age", types.FilterEqual, 30).Contains(1))
	assert.True(t, f2.Bitmap("age", types.FilterEqual, 40).Contains(2))
	assert.True(t, f2.Bitmap("score", types.FilterEqual, 7).Contains(3))
}

func TestFilterIndexLoadMissingKeyIsEmpty(t *testing.T) {
	f := NewFilterIndex()
	store := newMemBlobStore()
	require.NoError(t, f.Load(store, "absent"))
	assert.True(t, f.Bitmap("age", types.FilterEqual, 1).IsEmpty())
}
