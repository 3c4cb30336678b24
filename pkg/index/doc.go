// Package index implements the storage node's pluggable index backends:
// an exact FLAT index (faiss), an approximate HNSW index (coder/hnsw),
// and a FilterIndex of integer-field postings (RoaringBitmap), all behind
// a common VectorIndexer interface and a Factory that owns one of each.
package index
