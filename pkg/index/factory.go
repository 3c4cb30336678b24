package index

import (
	"fmt"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/cuemby/vdb/pkg/log"
	"github.com/cuemby/vdb/pkg/types"
)

var logger = log.WithComponent("index")

// ordinal fixes the on-disk file naming and save/load iteration order for
// each index kind, matching the original implementation's
// "<folder>/<ordinal>.index" layout.
var ordinal = map[types.IndexKind]int{
	types.IndexFlat:   0,
	types.IndexHNSW:   1,
	types.IndexFilter: 2,
}

// Factory owns one vector index per kind plus the shared FilterIndex, and
// is the only place VectorIndex implementations are constructed.
type Factory struct {
	mu       sync.RWMutex
	vectors  map[types.IndexKind]VectorIndexer
	filter   *FilterIndex
	dim      int
	metric   types.Metric
	hnswOpts HnswParams
}

// New builds a Factory with a FLAT index, an HNSW index, and a
// FilterIndex, all sized for the given vector dimension and metric.
func New(dim int, metric types.Metric, hnswOpts HnswParams) (*Factory, error) {
	flat, err := NewFlatIndex(dim, metric)
	if err != nil {
		return nil, fmt.Errorf("create flat index: %w", err)
	}
	hnswIdx := NewHnswIndex(dim, metric, hnswOpts)

	return &Factory{
		vectors: map[types.IndexKind]VectorIndexer{
			types.IndexFlat: flat,
			types.IndexHNSW: hnswIdx,
		},
		filter:   NewFilterIndex(),
		dim:      dim,
		metric:   metric,
		hnswOpts: hnswOpts,
	}, nil
}

// NewHnswOnlyFactory builds a Factory with only an HNSW index registered
// under types.IndexHNSW (no FLAT index). It exists so code paths that
// only ever index with HNSW — and tests — do not need the FAISS CGO
// library available at build time.
func NewHnswOnlyFactory(dim int, metric types.Metric, hnswOpts HnswParams) (*Factory, error) {
	return &Factory{
		vectors: map[types.IndexKind]VectorIndexer{
			types.IndexHNSW: NewHnswIndex(dim, metric, hnswOpts),
		},
		filter:   NewFilterIndex(),
		dim:      dim,
		metric:   metric,
		hnswOpts: hnswOpts,
	}, nil
}

// Get returns the vector index for kind, or ok=false if kind is not a
// vector index kind (e.g. IndexFilter).
func (f *Factory) Get(kind types.IndexKind) (VectorIndexer, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	idx, ok := f.vectors[kind]
	return idx, ok
}

// Filter returns the shared FilterIndex.
func (f *Factory) Filter() *FilterIndex {
	return f.filter
}

// Sizes returns the current vector count for every registered index kind,
// for metrics reporting.
func (f *Factory) Sizes() map[types.IndexKind]int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	sizes := make(map[types.IndexKind]int, len(f.vectors))
	for kind, idx := range f.vectors {
		sizes[kind] = idx.Len()
	}
	return sizes
}

// SaveAll persists every index kind into folder, one file per kind
// named by its fixed ordinal, plus the FilterIndex's postings as a blob
// in store under the key "filter_index".
func (f *Factory) SaveAll(folder string, store BlobStore) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, kind := range []types.IndexKind{types.IndexFlat, types.IndexHNSW} {
		idx, ok := f.vectors[kind]
		if !ok {
			continue
		}
		path := indexPath(folder, kind)
		if err := idx.Save(path); err != nil {
			return fmt.Errorf("save %s index: %w", kind, err)
		}
	}
	if err := f.filter.Save(store, "filter_index"); err != nil {
		return fmt.Errorf("save filter index: %w", err)
	}
	logger.Info().Str("folder", folder).Msg("saved all indexes")
	return nil
}

// LoadAll restores every index kind from folder and the FilterIndex from
// store. A missing vector index file leaves that index empty rather than
// failing, since a freshly bootstrapped node has none yet.
func (f *Factory) LoadAll(folder string, store BlobStore) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, kind := range []types.IndexKind{types.IndexFlat, types.IndexHNSW} {
		idx, ok := f.vectors[kind]
		if !ok {
			continue
		}
		path := indexPath(folder, kind)
		if err := idx.Load(path); err != nil {
			logger.Debug().Str("path", path).Err(err).Msg("no existing index file, starting empty")
			continue
		}
	}
	if err := f.filter.Load(store, "filter_index"); err != nil {
		return fmt.Errorf("load filter index: %w", err)
	}
	return nil
}

func indexPath(folder string, kind types.IndexKind) string {
	return filepath.Join(folder, strconv.Itoa(ordinal[kind])+".index")
}
