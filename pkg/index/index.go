// Package index implements the vector database's pluggable ANN backends
// (FLAT, HNSW) and the FilterIndex scalar-predicate postings, behind a
// common VectorIndexer interface and a Factory that owns one of each.
package index

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/cuemby/vdb/pkg/types"
)

// SearchResult is one hit returned by a vector search.
type SearchResult struct {
	ID       int64
	Distance float32
}

// VectorIndexer is implemented by FlatIndex and HnswIndex.
type VectorIndexer interface {
	// Insert adds vector under id. id must not already be present.
	Insert(id int64, vector []float32) error
	// Remove deletes id from the index, if present.
	Remove(id int64) error
	// Search returns the k nearest neighbors to query. If filter is
	// non-nil, only ids present in filter are eligible results.
	Search(query []float32, k int, filter *roaring.Bitmap) ([]SearchResult, error)
	// Save persists the index's contents to path.
	Save(path string) error
	// Load replaces the index's contents with what is stored at path.
	Load(path string) error
	// Kind reports which IndexKind this indexer implements.
	Kind() types.IndexKind
	// Len reports how many vectors the index currently holds.
	Len() int
}
