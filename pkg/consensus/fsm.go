package consensus

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/cuemby/vdb/pkg/log"
	"github.com/cuemby/vdb/pkg/metrics"
	"github.com/cuemby/vdb/pkg/vectordb"
	"github.com/hashicorp/raft"
)

var logger = log.WithComponent("consensus")

// Command is the single kind of entry this FSM ever applies: an upsert
// request body, already validated by the HTTP layer before it was
// proposed to Raft.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const opUpsert = "upsert"

// FSM adapts VectorDatabase to raft.FSM. VectorDatabase is the single
// authoritative apply point for storage-node state; the FSM itself holds
// no state of its own beyond a reference to it and the index folder its
// snapshots are written into.
type FSM struct {
	db          *vectordb.VectorDatabase
	indexFolder string
}

// New returns an FSM that applies committed commands to db, persisting
// snapshots under indexFolder.
func New(db *vectordb.VectorDatabase, indexFolder string) *FSM {
	return &FSM{db: db, indexFolder: indexFolder}
}

// Apply is called by Raft once a log entry is committed to a majority of
// the cluster. It decodes the command and applies it to the
// VectorDatabase, returning the index of the log entry it applied so
// synchronous callers (Harness.Propose) can confirm their own write
// landed.
func (f *FSM) Apply(l *raft.Log) interface{} {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftApplyDuration)

	var cmd Command
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		return fmt.Errorf("decode raft command: %w", err)
	}

	switch cmd.Op {
	case opUpsert:
		if err := f.db.Upsert(cmd.Data); err != nil {
			return fmt.Errorf("apply upsert: %w", err)
		}
		return l.Index
	default:
		return fmt.Errorf("unknown command op %q", cmd.Op)
	}
}

// Snapshot triggers VectorDatabase to persist its indexes and scalar
// store to disk, then returns a tiny FSMSnapshot that records the WAL's
// next log id (VectorDatabase.StartIndexID) as of the snapshot. The bulk
// of the snapshot's bytes live in the index files and the BoltDB file,
// not in what Raft copies to followers via the returned FSMSnapshot;
// nothing in this package transfers those files to other nodes.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	if err := f.db.TakeSnapshot(f.indexFolder); err != nil {
		return nil, fmt.Errorf("take vector database snapshot: %w", err)
	}
	return &snapshot{logID: f.db.StartIndexID()}, nil
}

// Restore is called when a node starts up from an existing Raft
// snapshot. It reloads the VectorDatabase from its own persisted index
// files and write-ahead log rather than from rc's bytes, since those
// files are this FSM's actual state; rc only carries the log id marker
// written by Persist.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var marker struct {
		LogID uint64 `json:"logId"`
	}
	if err := json.NewDecoder(rc).Decode(&marker); err != nil {
		return fmt.Errorf("decode snapshot marker: %w", err)
	}

	logger.Info().Uint64("log_id", marker.LogID).Msg("restoring from snapshot marker")
	return f.db.Reload()
}

// snapshot is the FSMSnapshot Raft hands to its snapshot store. It
// carries no data beyond the log id since VectorDatabase.TakeSnapshot
// already wrote the durable state to disk.
type snapshot struct {
	logID uint64
}

func (s *snapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		return json.NewEncoder(sink).Encode(struct {
			LogID uint64 `json:"logId"`
		}{LogID: s.logID})
	}()
	if err != nil {
		sink.Cancel()
		return fmt.Errorf("persist snapshot marker: %w", err)
	}
	return sink.Close()
}

func (s *snapshot) Release() {}
