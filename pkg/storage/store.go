package storage

// Store defines the scalar key/value storage contract the vector database
// relies on for record payloads and opaque index blobs (FilterIndex
// postings). BoltStore is the only implementation.
type Store interface {
	// PutRecord upserts the raw JSON payload for id.
	PutRecord(id int64, data []byte) error
	// GetRecord returns the raw JSON payload for id, or ok=false if absent.
	GetRecord(id int64) (data []byte, ok bool, err error)
	// DeleteRecord removes id's payload, if present.
	DeleteRecord(id int64) error
	// ForEachRecord iterates every stored record in key order.
	ForEachRecord(fn func(id int64, data []byte) error) error

	// PutBlob stores an opaque named blob (filter postings) outside the
	// record bucket.
	PutBlob(key string, data []byte) error
	// GetBlob returns a previously stored blob, or ok=false if absent.
	GetBlob(key string) (data []byte, ok bool, err error)

	Close() error
}
