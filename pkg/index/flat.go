package index

import (
	"fmt"

	faiss "github.com/DataIntelligenceCrew/go-faiss"
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/cuemby/vdb/pkg/types"
)

// oversampleFactor widens the k passed to the underlying FAISS search
// when a filter is present: FAISS has no selector-callback search, so we
// over-fetch and filter client-side, then truncate back to k.
const oversampleFactor = 8

// FlatIndex performs exact nearest-neighbor search over a faiss
// IndexIDMap,Flat index.
type FlatIndex struct {
	idx   faiss.Index
	dim   int
	count int
}

// NewFlatIndex builds an empty FLAT index for vectors of the given
// dimension and metric.
func NewFlatIndex(dim int, metric types.Metric) (*FlatIndex, error) {
	m := faiss.MetricL2
	if metric == types.MetricInnerProduct {
		m = faiss.MetricInnerProduct
	}
	idx, err := faiss.IndexFactory(dim, "IDMap,Flat", m)
	if err != nil {
		return nil, fmt.Errorf("create flat index: %w", err)
	}
	return &FlatIndex{idx: idx, dim: dim}, nil
}

func (f *FlatIndex) Kind() types.IndexKind { return types.IndexFlat }

func (f *FlatIndex) Len() int { return f.count }

func (f *FlatIndex) Insert(id int64, vector []float32) error {
	if len(vector) != f.dim {
		return fmt.Errorf("vector has dimension %d, index expects %d", len(vector), f.dim)
	}
	if err := f.idx.AddWithIDs(vector, []int64{id}); err != nil {
		return fmt.Errorf("insert into flat index: %w", err)
	}
	f.count++
	return nil
}

func (f *FlatIndex) Remove(id int64) error {
	sel, err := faiss.NewIDSelectorBatch([]int64{id})
	if err != nil {
		return fmt.Errorf("build id selector: %w", err)
	}
	removed, err := f.idx.RemoveIDs(sel)
	if err != nil {
		return fmt.Errorf("remove from flat index: %w", err)
	}
	f.count -= removed
	if f.count < 0 {
		f.count = 0
	}
	return nil
}

func (f *FlatIndex) Search(query []float32, k int, filter *roaring.Bitmap) ([]SearchResult, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("query has dimension %d, index expects %d", len(query), f.dim)
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}

	fetch := k
	if filter != nil {
		fetch = k * oversampleFactor
	}
	if f.count > 0 && fetch > f.count {
		fetch = f.count
	}
	if fetch <= 0 {
		return nil, nil
	}

	dists, labels, err := f.idx.Search(query, int64(fetch))
	if err != nil {
		return nil, fmt.Errorf("search flat index: %w", err)
	}

	results := make([]SearchResult, 0, k)
	for i, id := range labels {
		if id < 0 {
			continue
		}
		if filter != nil && !filter.Contains(uint32(id)) {
			continue
		}
		results = append(results, SearchResult{ID: id, Distance: dists[i]})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

func (f *FlatIndex) Save(path string) error {
	if err := faiss.WriteIndex(f.idx, path); err != nil {
		return fmt.Errorf("save flat index: %w", err)
	}
	return nil
}

func (f *FlatIndex) Load(path string) error {
	idx, err := faiss.ReadIndex(path, 0)
	if err != nil {
		return fmt.Errorf("load flat index: %w", err)
	}
	f.idx = idx
	f.count = int(idx.Ntotal())
	return nil
}

// Close releases the underlying FAISS resources. Must be called when the
// index is no longer needed.
func (f *FlatIndex) Close() {
	f.idx.Delete()
}
