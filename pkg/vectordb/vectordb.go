// Package vectordb implements the storage node's core record lifecycle:
// upsert, point lookup, and filtered nearest-neighbor search over the
// index.Factory, durable across restarts via the write-ahead log and
// scalar storage.
package vectordb

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/vdb/pkg/index"
	"github.com/cuemby/vdb/pkg/log"
	"github.com/cuemby/vdb/pkg/metrics"
	"github.com/cuemby/vdb/pkg/storage"
	"github.com/cuemby/vdb/pkg/types"
	"github.com/cuemby/vdb/pkg/wal"
)

var logger = log.WithComponent("vectordb")

// upsertRequest is the decoded shape of an upsert request body and of a
// replayed WAL payload.
type upsertRequest struct {
	ID        int64           `json:"id"`
	Vectors   []float32       `json:"vectors"`
	IndexType string          `json:"indexType"`
	Raw       json.RawMessage `json:"-"`
}

// VectorDatabase is the single authoritative point through which records
// are written and read on a storage node. It is the apply target of the
// consensus state machine (pkg/consensus) as well as the direct backend
// for the HTTP API's /query and /search endpoints.
type VectorDatabase struct {
	indexes *index.Factory
	scalars storage.Store
	log     *wal.WAL
}

// Indexes returns the underlying index factory, for callers (the HTTP
// layer's /insert handler) that need direct, non-WAL-logged index
// access.
func (db *VectorDatabase) Indexes() *index.Factory {
	return db.indexes
}

// New constructs a VectorDatabase over the given index factory, scalar
// store, and write-ahead log. It does not itself open or close any of
// them.
func New(indexes *index.Factory, scalars storage.Store, w *wal.WAL) *VectorDatabase {
	return &VectorDatabase{indexes: indexes, scalars: scalars, log: w}
}

// Reload replays the write-ahead log from the beginning, re-applying
// every "upsert" entry. Other WAL ops are ignored, matching the original
// replay loop. It is called once at startup after the index factory and
// scalar store have been loaded from their own persisted state.
func (db *VectorDatabase) Reload() error {
	logger.Info().Msg("reloading database from write-ahead log")
	return db.log.Replay(func(entry types.WALEntry) error {
		if entry.Op != types.WALOpUpsert {
			return nil
		}
		var req upsertRequest
		if err := json.Unmarshal(entry.Payload, &req); err != nil {
			return fmt.Errorf("decode replayed wal entry %d: %w", entry.LogID, err)
		}
		kind, ok := types.ParseIndexKind(req.IndexType)
		if !ok {
			kind = types.IndexFlat
		}
		return db.applyUpsert(req.ID, entry.Payload, req.Vectors, kind)
	})
}

// Upsert writes requestBody to the write-ahead log, then applies it: the
// record's previous vector (if any) is removed from its index, the new
// vector is inserted, every integer scalar field updates the
// FilterIndex, and the full payload replaces the scalar record.
func (db *VectorDatabase) Upsert(requestBody []byte) error {
	timer := metrics.NewTimer()

	var req upsertRequest
	if err := json.Unmarshal(requestBody, &req); err != nil {
		return fmt.Errorf("decode upsert request: %w", err)
	}
	kind, ok := types.ParseIndexKind(req.IndexType)
	if !ok {
		return fmt.Errorf("unknown index type %q", req.IndexType)
	}

	if _, err := db.log.Append(types.WALOpUpsert, requestBody); err != nil {
		return fmt.Errorf("append wal entry: %w", err)
	}

	if err := db.applyUpsert(req.ID, requestBody, req.Vectors, kind); err != nil {
		return err
	}

	metrics.UpsertsTotal.Inc()
	timer.ObserveDuration(metrics.UpsertDuration)
	return nil
}

func (db *VectorDatabase) applyUpsert(id int64, payload []byte, vector []float32, kind types.IndexKind) error {
	idx, ok := db.indexes.Get(kind)
	if !ok {
		return fmt.Errorf("no vector index registered for kind %s", kind)
	}

	existing, hasExisting, err := db.scalars.GetRecord(id)
	if err != nil {
		return fmt.Errorf("read existing record %d: %w", id, err)
	}

	if hasExisting {
		if err := idx.Remove(id); err != nil {
			return fmt.Errorf("remove previous vector for %d: %w", id, err)
		}
	}

	if err := idx.Insert(id, vector); err != nil {
		return fmt.Errorf("insert vector for %d: %w", id, err)
	}

	if err := db.updateFilterFields(id, payload, existing, hasExisting); err != nil {
		return fmt.Errorf("update filter index for %d: %w", id, err)
	}

	if err := db.scalars.PutRecord(id, payload); err != nil {
		return fmt.Errorf("store record %d: %w", id, err)
	}
	return nil
}

// updateFilterFields walks every integer-valued top-level field of the
// new payload (skipping "id") and updates the FilterIndex's postings for
// it, clearing the record's old value for that field first if there was
// a previous record.
func (db *VectorDatabase) updateFilterFields(id int64, payload, existing []byte, hasExisting bool) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return fmt.Errorf("decode payload fields: %w", err)
	}

	var oldFields map[string]json.RawMessage
	if hasExisting {
		if err := json.Unmarshal(existing, &oldFields); err != nil {
			return fmt.Errorf("decode existing record fields: %w", err)
		}
	}

	filter := db.indexes.Filter()
	for name, raw := range fields {
		if name == "id" {
			continue
		}
		var value int64
		if err := json.Unmarshal(raw, &value); err != nil {
			continue // not an integer field; filters only index integers
		}

		var oldValue *int64
		if hasExisting {
			if oldRaw, ok := oldFields[name]; ok {
				var v int64
				if err := json.Unmarshal(oldRaw, &v); err == nil {
					oldValue = &v
				}
			}
		}

		filter.UpdateField(name, oldValue, value, id)
	}
	return nil
}

// IndexSizes returns the current vector count for every registered index
// kind, for metrics reporting.
func (db *VectorDatabase) IndexSizes() map[types.IndexKind]int {
	return db.indexes.Sizes()
}

// FilterFieldCount returns the number of distinct scalar fields tracked
// by the filter index, for metrics reporting.
func (db *VectorDatabase) FilterFieldCount() int {
	return db.indexes.Filter().FieldCount()
}

// RecordCount returns the number of records currently in the scalar
// store, for metrics reporting.
func (db *VectorDatabase) RecordCount() (int, error) {
	n := 0
	err := db.scalars.ForEachRecord(func(int64, []byte) error {
		n++
		return nil
	})
	return n, err
}

// Query returns the raw JSON payload stored for id.
func (db *VectorDatabase) Query(id int64) (json.RawMessage, bool, error) {
	data, ok, err := db.scalars.GetRecord(id)
	return data, ok, err
}

// SearchRequest is the decoded shape of a /search request body.
type SearchRequest struct {
	Vectors   []float32 `json:"vectors"`
	K         int       `json:"k"`
	IndexType string    `json:"indexType"`
	Filter    *struct {
		FieldName string `json:"fieldName"`
		Op        string `json:"op"`
		Value     int64  `json:"value"`
	} `json:"filter"`
}

// Search returns the k nearest neighbors to req.Vectors under req's named
// index kind, narrowed by req.Filter if present.
func (db *VectorDatabase) Search(req SearchRequest) ([]index.SearchResult, error) {
	kind, ok := types.ParseIndexKind(req.IndexType)
	if !ok {
		metrics.SearchesTotal.WithLabelValues(req.IndexType, "error").Inc()
		return nil, fmt.Errorf("unknown index type %q", req.IndexType)
	}
	idx, ok := db.indexes.Get(kind)
	if !ok {
		metrics.SearchesTotal.WithLabelValues(kind.String(), "error").Inc()
		return nil, fmt.Errorf("no vector index registered for kind %s", kind)
	}

	timer := metrics.NewTimer()
	var results []index.SearchResult
	var err error
	if req.Filter != nil {
		op := types.ParseFilterOp(req.Filter.Op)
		bm := db.indexes.Filter().Bitmap(req.Filter.FieldName, op, req.Filter.Value)
		results, err = idx.Search(req.Vectors, req.K, bm)
	} else {
		results, err = idx.Search(req.Vectors, req.K, nil)
	}
	timer.ObserveDurationVec(metrics.SearchDuration, kind.String())

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.SearchesTotal.WithLabelValues(kind.String(), status).Inc()
	return results, err
}

// TakeSnapshot persists every index and the scalar store's current
// contents, then rotates the write-ahead log so replay after a restart
// only has to walk entries committed since this point.
func (db *VectorDatabase) TakeSnapshot(indexFolder string) error {
	timer := metrics.NewTimer()
	if err := db.indexes.SaveAll(indexFolder, db.scalars); err != nil {
		return fmt.Errorf("save indexes: %w", err)
	}
	logID := db.log.NextLogID() - 1
	if err := db.log.Rotate(logID); err != nil {
		return fmt.Errorf("rotate wal: %w", err)
	}
	metrics.SnapshotsTotal.Inc()
	timer.ObserveDuration(metrics.SnapshotDuration)
	logger.Info().Uint64("log_id", logID).Msg("took snapshot")
	return nil
}

// StartIndexID returns the log id the next WAL append will be assigned,
// used by callers (the consensus harness) that need to know where
// replication should resume.
func (db *VectorDatabase) StartIndexID() uint64 {
	return db.log.NextLogID()
}

// LastSnapshotLogID returns the log id of the most recent snapshot, for
// admin/status reporting (getNode/listNode's last-snapshot-idx field).
func (db *VectorDatabase) LastSnapshotLogID() uint64 {
	return db.log.LastSnapshotLogID()
}
