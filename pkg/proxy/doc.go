// Package proxy implements the stateless routing tier in front of the
// storage-node cluster: a topology cache refreshed from the Master
// Coordinator, partition-key hashing, master/round-robin node
// selection, and scatter-gather broadcast for unkeyed searches.
package proxy
