// Package types defines the core data structures shared by the storage
// node: index kinds, distance metrics, filter operators, and WAL entries.
// The proxy's node/partition descriptions live in pkg/proxy.
package types
