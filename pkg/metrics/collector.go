package metrics

import (
	"time"

	"github.com/cuemby/vdb/pkg/types"
)

// DB is the subset of *vectordb.VectorDatabase the Collector samples. It
// is kept as an interface, rather than importing pkg/vectordb directly,
// because pkg/vectordb (and pkg/consensus, which wraps it) need to import
// this package for their own counters; importing vectordb back here would
// cycle.
type DB interface {
	RecordCount() (int, error)
	IndexSizes() map[types.IndexKind]int
	FilterFieldCount() int
}

// RaftStats is the subset of *consensus.Harness the Collector samples,
// kept as an interface for the same reason as DB.
type RaftStats interface {
	IsLeader() bool
	Stats() map[string]interface{}
}

// Collector periodically samples a storage node's VectorDatabase and, if
// present, its Raft harness, and publishes the results as gauges.
type Collector struct {
	db     DB
	raft   RaftStats
	stopCh chan struct{}
}

// NewCollector returns a Collector for db. raft should be left nil (not a
// typed-nil pointer boxed into the interface) on a single-node deployment
// with no consensus harness.
func NewCollector(db DB, raft RaftStats) *Collector {
	return &Collector{
		db:     db,
		raft:   raft,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15 second interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectRecordMetrics()
	c.collectIndexMetrics()
	c.collectRaftMetrics()
}

func (c *Collector) collectRecordMetrics() {
	n, err := c.db.RecordCount()
	if err != nil {
		return
	}
	RecordsTotal.Set(float64(n))
}

func (c *Collector) collectIndexMetrics() {
	for kind, size := range c.db.IndexSizes() {
		IndexSize.WithLabelValues(kind.String()).Set(float64(size))
	}
	FilterFieldsTotal.Set(float64(c.db.FilterFieldCount()))
}

func (c *Collector) collectRaftMetrics() {
	if c.raft == nil {
		return
	}

	if c.raft.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}

	stats := c.raft.Stats()
	if stats == nil {
		return
	}
	if lastIndex, ok := stats["last_log_index"].(uint64); ok {
		RaftLogIndex.Set(float64(lastIndex))
	}
	if appliedIndex, ok := stats["applied_index"].(uint64); ok {
		RaftAppliedIndex.Set(float64(appliedIndex))
	}
	if peers, ok := stats["peers"].(uint64); ok {
		RaftPeers.Set(float64(peers))
	}
}
