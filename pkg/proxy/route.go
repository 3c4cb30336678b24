package proxy

import (
	"encoding/json"
	"errors"

	"github.com/cespare/xxhash/v2"
)

// ErrNoRoute is returned when no active node can serve a partition.
var ErrNoRoute = errors.New("no suitable node for partition")

// partitionValue extracts the raw JSON value of the partition key field
// from a request body, if present.
func partitionValue(body []byte, key string) (json.RawMessage, bool) {
	if key == "" {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, false
	}
	v, ok := fields[key]
	if !ok || string(v) == "null" {
		return nil, false
	}
	return v, true
}

// stableHash hashes a raw JSON value to a partition id, modulo the
// given partition count. xxhash is the corpus's existing fast,
// non-cryptographic hash of choice (spec leaves the hash function
// unspecified).
func stableHash(value json.RawMessage, numberOfPartitions int) int {
	if numberOfPartitions <= 0 {
		return 0
	}
	sum := xxhash.Sum64(value)
	return int(sum % uint64(numberOfPartitions))
}

// selectNode picks a target node for partitionID from the active
// roster. forceMaster is set for write paths (/upsert) and whenever the
// caller passes forceMaster=true; otherwise candidates are selected
// round-robin using a process-wide per-partition counter.
func (r *Router) selectNode(partitionID int, forceMaster bool) (NodeInfo, error) {
	cfg := r.ActivePartitionConfig()
	nodeIDs := cfg.Partitions[partitionID]
	if len(nodeIDs) == 0 {
		return NodeInfo{}, ErrNoRoute
	}

	byID := r.ActiveRoster().byID()
	candidates := make([]NodeInfo, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		if n, ok := byID[id]; ok {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		return NodeInfo{}, ErrNoRoute
	}

	if forceMaster {
		for _, n := range candidates {
			if n.Role == RoleMaster {
				return n, nil
			}
		}
		return NodeInfo{}, ErrNoRoute
	}

	return r.roundRobin(partitionID, candidates), nil
}

func (r *Router) roundRobin(key int, candidates []NodeInfo) NodeInfo {
	r.rrMu.Lock()
	idx := r.rrCounters[key]
	r.rrCounters[key] = idx + 1
	r.rrMu.Unlock()
	return candidates[int(idx%uint64(len(candidates)))]
}

// broadcastTargets selects exactly one node per partition for an
// unkeyed query, round-robining within each partition the same way
// selectNode does for keyed reads.
func (r *Router) broadcastTargets() []NodeInfo {
	cfg := r.ActivePartitionConfig()
	targets := make([]NodeInfo, 0, cfg.NumberOfPartitions)
	for partitionID := range cfg.Partitions {
		if n, err := r.selectNode(partitionID, false); err == nil {
			targets = append(targets, n)
		}
	}
	return targets
}
