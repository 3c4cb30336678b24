package vectordb

import (
	"path/filepath"
	"testing"

	"github.com/cuemby/vdb/pkg/index"
	"github.com/cuemby/vdb/pkg/storage"
	"github.com/cuemby/vdb/pkg/types"
	"github.com/cuemby/vdb/pkg/wal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testFactory builds an index.Factory backed only by HNSW, so these
// tests do not require the FAISS CGO library to be present.
func newTestDB(t *testing.T) *VectorDatabase {
	t.Helper()

	scalars, err := storage.NewBoltStore(storage.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { scalars.Close() })

	w, err := wal.Open(wal.Config{Path: filepath.Join(t.TempDir(), "test.wal")})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	f, err := newHnswOnlyFactory(2)
	require.NoError(t, err)

	return New(f, scalars, w)
}

// newHnswOnlyFactory mirrors index.New but skips constructing the FLAT
// (FAISS) index, since unit tests in this package run without CGO.
func newHnswOnlyFactory(dim int) (*index.Factory, error) {
	return index.NewHnswOnlyFactory(dim, types.MetricL2, index.DefaultHnswParams())
}

func TestUpsertQueryRoundTrip(t *testing.T) {
	db := newTestDB(t)

	err := db.Upsert([]byte(`{"id":1,"vectors":[1,2],"indexType":"hnsw","age":30}`))
	require.NoError(t, err)

	data, ok, err := db.Query(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":1,"vectors":[1,2],"indexType":"hnsw","age":30}`, string(data))
}

func TestUpsertReplacesVectorAndFilterMembership(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.Upsert([]byte(`{"id":1,"vectors":[1,2],"indexType":"hnsw","age":30}`)))
	require.NoError(t, db.Upsert([]byte(`{"id":1,"vectors":[9,9],"indexType":"hnsw","age":40}`)))

	eq30 := db.indexes.Filter().Bitmap("age", types.FilterEqual, 30)
	assert.False(t, eq30.Contains(1))

	eq40 := db.indexes.Filter().Bitmap("age", types.FilterEqual, 40)
	assert.True(t, eq40.Contains(1))
}

func TestSearchWithFilter(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.Upsert([]byte(`{"id":1,"vectors":[0,0],"indexType":"hnsw","age":30}`)))
	require.NoError(t, db.Upsert([]byte(`{"id":2,"vectors":[0.1,0.1],"indexType":"hnsw","age":40}`)))

	results, err := db.Search(SearchRequest{
		Vectors:   []float32{0, 0},
		K:         2,
		IndexType: "hnsw",
		Filter: &struct {
			FieldName string `json:"fieldName"`
			Op        string `json:"op"`
			Value     int64  `json:"value"`
		}{FieldName: "age", Op: "=", Value: 40},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(2), results[0].ID)
}

func TestReloadReplaysWAL(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "test.wal")

	scalars, err := storage.NewBoltStore(storage.Config{DataDir: dir})
	require.NoError(t, err)
	defer scalars.Close()

	w, err := wal.Open(wal.Config{Path: walPath})
	require.NoError(t, err)

	factory, err := newHnswOnlyFactory(2)
	require.NoError(t, err)
	db := New(factory, scalars, w)

	require.NoError(t, db.Upsert([]byte(`{"id":1,"vectors":[1,1],"indexType":"hnsw"}`)))
	require.NoError(t, w.Close())

	w2, err := wal.Open(wal.Config{Path: walPath})
	require.NoError(t, err)
	defer w2.Close()

	factory2, err := newHnswOnlyFactory(2)
	require.NoError(t, err)
	db2 := New(factory2, scalars, w2)
	require.NoError(t, db2.Reload())

	results, err := db2.Search(SearchRequest{Vectors: []float32{1, 1}, K: 1, IndexType: "hnsw"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].ID)
}
