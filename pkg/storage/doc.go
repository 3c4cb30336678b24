// Package storage provides BoltDB-backed scalar key/value persistence for
// record payloads and index blobs. It implements the Store interface that
// ScalarStorage (pkg/vectordb) and the FilterIndex (pkg/index) both build
// on.
package storage
