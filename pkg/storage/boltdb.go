package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketRecords = []byte("records")
	bucketBlobs   = []byte("blobs")
)

// BoltStore implements Store on top of go.etcd.io/bbolt. It is the
// backing store for both record payloads (ScalarStorage's JSON documents)
// and opaque blobs the index layer persists (FilterIndex postings).
type BoltStore struct {
	db *bolt.DB
}

// Config controls how BoltStore opens its database file.
type Config struct {
	// DataDir is the directory the database file lives in.
	DataDir string
	// Fresh, when true, removes any existing database file before
	// opening a new, empty one. Defaults to false: open-or-create.
	// Resolves the destructive-open design question by gating the
	// truncate-and-recreate behavior behind an explicit flag.
	Fresh bool
}

// NewBoltStore opens (or creates) the scalar database under cfg.DataDir.
func NewBoltStore(cfg Config) (*BoltStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(cfg.DataDir, "vdb.db")

	if cfg.Fresh {
		if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove existing database: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketRecords, bucketBlobs} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func idKey(id int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

func (s *BoltStore) PutRecord(id int64, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).Put(idKey(id), data)
	})
}

func (s *BoltStore) GetRecord(id int64) ([]byte, bool, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRecords).Get(idKey(id))
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	return data, data != nil, err
}

func (s *BoltStore) DeleteRecord(id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).Delete(idKey(id))
	})
}

func (s *BoltStore) ForEachRecord(fn func(id int64, data []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(k, v []byte) error {
			return fn(int64(binary.BigEndian.Uint64(k)), v)
		})
	})
}

func (s *BoltStore) PutBlob(key string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlobs).Put([]byte(key), data)
	})
}

func (s *BoltStore) GetBlob(key string) ([]byte, bool, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlobs).Get([]byte(key))
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	return data, data != nil, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
