package index

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/coder/hnsw"
	"github.com/cuemby/vdb/pkg/types"
)

// HnswParams tunes the graph construction and search quality/speed
// tradeoff. Defaults mirror the values the original implementation used
// for its hnswlib-backed index (M=16, EfConstruction=200). Only M and
// EfSearch are applied to the graph; EfConstruction is carried in the
// config but newGraph does not pass it to coder/hnsw.
type HnswParams struct {
	M              int
	EfConstruction int
	EfSearch       int
}

// DefaultHnswParams returns the construction parameters the original
// server used.
func DefaultHnswParams() HnswParams {
	return HnswParams{M: 16, EfConstruction: 200, EfSearch: 64}
}

// HnswIndex performs approximate nearest-neighbor search over a
// github.com/coder/hnsw graph keyed by record id.
//
// Unlike the original implementation's hnswlib wrapper (whose Remove is a
// documented no-op), this backend supports real deletion, so invariant
// I1 — a removed id never appears in a later search result — holds for
// HNSW as well as FLAT.
type HnswIndex struct {
	graph  *hnsw.Graph[int64]
	dim    int
	metric types.Metric
	params HnswParams

	// vectors tracks every inserted (id, vector) pair so Save/Load can
	// round-trip the logical index content without depending on the
	// graph library's own binary export format staying stable across
	// versions.
	vectors map[int64][]float32
}

// newGraph builds a coder/hnsw graph configured for metric and params, the
// single place that translates our tuning knobs into the library's own
// fields so NewHnswIndex and Load can never drift apart.
func newGraph(metric types.Metric, params HnswParams) *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = params.M
	g.EfSearch = params.EfSearch
	if metric == types.MetricInnerProduct {
		g.Distance = hnsw.CosineDistance
	} else {
		g.Distance = hnsw.EuclideanDistance
	}
	return g
}

// NewHnswIndex builds an empty HNSW index.
func NewHnswIndex(dim int, metric types.Metric, params HnswParams) *HnswIndex {
	return &HnswIndex{
		graph:   newGraph(metric, params),
		dim:     dim,
		metric:  metric,
		params:  params,
		vectors: make(map[int64][]float32),
	}
}

func (h *HnswIndex) Kind() types.IndexKind { return types.IndexHNSW }

func (h *HnswIndex) Len() int { return len(h.vectors) }

func (h *HnswIndex) Insert(id int64, vector []float32) error {
	if len(vector) != h.dim {
		return fmt.Errorf("vector has dimension %d, index expects %d", len(vector), h.dim)
	}
	h.graph.Add(hnsw.MakeNode(id, vector))
	h.vectors[id] = append([]float32(nil), vector...)
	return nil
}

func (h *HnswIndex) Remove(id int64) error {
	h.graph.Delete(id)
	delete(h.vectors, id)
	return nil
}

func (h *HnswIndex) Search(query []float32, k int, filter *roaring.Bitmap) ([]SearchResult, error) {
	if len(query) != h.dim {
		return nil, fmt.Errorf("query has dimension %d, index expects %d", len(query), h.dim)
	}
	h.graph.EfSearch = h.params.EfSearch

	fetch := k
	if filter != nil {
		fetch = k * oversampleFactor
		if fetch > h.graph.Len() {
			fetch = h.graph.Len()
		}
	}
	if fetch <= 0 {
		return nil, nil
	}

	neighbors, err := h.graph.Search(query, fetch)
	if err != nil {
		return nil, fmt.Errorf("search hnsw index: %w", err)
	}

	results := make([]SearchResult, 0, k)
	for _, n := range neighbors {
		if filter != nil && !filter.Contains(uint32(n.Key)) {
			continue
		}
		results = append(results, SearchResult{ID: n.Key, Distance: h.graph.Distance(query, n.Value)})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// gobVector is the on-disk representation of one (id, vector) pair.
type gobVector struct {
	ID     int64
	Vector []float32
}

func (h *HnswIndex) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create hnsw index file: %w", err)
	}
	defer f.Close()

	enc := gob.NewEncoder(f)
	entries := make([]gobVector, 0, len(h.vectors))
	for id, v := range h.vectors {
		entries = append(entries, gobVector{ID: id, Vector: v})
	}
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("encode hnsw index: %w", err)
	}
	return nil
}

func (h *HnswIndex) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open hnsw index file: %w", err)
	}
	defer f.Close()

	var entries []gobVector
	if err := gob.NewDecoder(f).Decode(&entries); err != nil {
		return fmt.Errorf("decode hnsw index: %w", err)
	}

	h.graph = newGraph(h.metric, h.params)
	h.vectors = make(map[int64][]float32, len(entries))
	for _, e := range entries {
		h.graph.Add(hnsw.MakeNode(e.ID, e.Vector))
		h.vectors[e.ID] = e.Vector
	}
	return nil
}
