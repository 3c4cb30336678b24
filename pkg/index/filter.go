package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/cuemby/vdb/pkg/types"
)

// FilterIndex maintains, per scalar integer field, a map from field value
// to the set of record ids holding that value. It answers equality and
// not-equality predicates by OR-ing the relevant per-value bitmaps.
type FilterIndex struct {
	mu     sync.RWMutex
	fields map[string]map[int64]*roaring.Bitmap
}

// NewFilterIndex returns an empty FilterIndex.
func NewFilterIndex() *FilterIndex {
	return &FilterIndex{fields: make(map[string]map[int64]*roaring.Bitmap)}
}

// AddField adds id to the postings for fieldName=value, creating the
// field's value map if this is the first time it is seen.
func (f *FilterIndex) AddField(fieldName string, value int64, id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addFieldLocked(fieldName, value, id)
}

func (f *FilterIndex) addFieldLocked(fieldName string, value int64, id int64) {
	values, ok := f.fields[fieldName]
	if !ok {
		values = make(map[int64]*roaring.Bitmap)
		f.fields[fieldName] = values
	}
	bm, ok := values[value]
	if !ok {
		bm = roaring.New()
		values[value] = bm
	}
	bm.Add(uint32(id))
}

// UpdateField clears id from fieldName=oldValue (if oldValue is non-nil)
// and adds it to fieldName=newValue. Used when an upsert replaces a
// record that already carried a value for this field.
func (f *FilterIndex) UpdateField(fieldName string, oldValue *int64, newValue int64, id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if oldValue != nil {
		if values, ok := f.fields[fieldName]; ok {
			if bm, ok := values[*oldValue]; ok {
				bm.Remove(uint32(id))
			}
		}
	}
	f.addFieldLocked(fieldName, newValue, id)
}

// FieldCount returns the number of distinct scalar fields tracked.
func (f *FilterIndex) FieldCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.fields)
}

// Bitmap returns the set of ids matching fieldName op value. The caller
// owns the returned bitmap. Equality ORs in the single exact-value
// bitmap; not-equal ORs in every other value's bitmap for the field.
func (f *FilterIndex) Bitmap(fieldName string, op types.FilterOp, value int64) *roaring.Bitmap {
	f.mu.RLock()
	defer f.mu.RUnlock()

	result := roaring.New()
	values, ok := f.fields[fieldName]
	if !ok {
		return result
	}

	switch op {
	case types.FilterEqual:
		if bm, ok := values[value]; ok {
			result.Or(bm)
		}
	case types.FilterNotEqual:
		for v, bm := range values {
			if v == value {
				continue
			}
			result.Or(bm)
		}
	}
	return result
}

// Save persists every field's postings to store under key, using an
// 8-byte little-endian length prefix per (field, value, bitmap) triple so
// that field and value names containing arbitrary bytes never collide
// with the framing, unlike the original's pipe/newline-delimited format.
func (f *FilterIndex) Save(store BlobStore, key string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var buf bytes.Buffer
	for fieldName, values := range f.fields {
		for value, bm := range values {
			bmBytes, err := bm.ToBytes()
			if err != nil {
				return fmt.Errorf("serialize bitmap for %s=%d: %w", fieldName, value, err)
			}
			if err := writeFramedTriple(&buf, fieldName, value, bmBytes); err != nil {
				return err
			}
		}
	}
	return store.PutBlob(key, buf.Bytes())
}

// Load replaces the index's contents with the postings persisted under
// key. A missing key leaves the index empty.
func (f *FilterIndex) Load(store BlobStore, key string) error {
	data, ok, err := store.GetBlob(key)
	if err != nil {
		return fmt.Errorf("read filter index blob: %w", err)
	}
	if !ok {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.fields = make(map[string]map[int64]*roaring.Bitmap)

	r := bytes.NewReader(data)
	for {
		fieldName, value, bmBytes, err := readFramedTriple(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("parse filter index blob: %w", err)
		}
		bm := roaring.New()
		if err := bm.UnmarshalBinary(bmBytes); err != nil {
			return fmt.Errorf("unmarshal bitmap for %s=%d: %w", fieldName, value, err)
		}
		values, ok := f.fields[fieldName]
		if !ok {
			values = make(map[int64]*roaring.Bitmap)
			f.fields[fieldName] = values
		}
		values[value] = bm
	}
	return nil
}

// BlobStore is the subset of storage.Store the index layer persists
// opaque blobs through.
type BlobStore interface {
	PutBlob(key string, data []byte) error
	GetBlob(key string) (data []byte, ok bool, err error)
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) error {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(b)))
	if _, err := buf.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := buf.Write(b)
	return err
}

func writeFramedTriple(buf *bytes.Buffer, fieldName string, value int64, bmBytes []byte) error {
	if err := writeLenPrefixed(buf, []byte(fieldName)); err != nil {
		return err
	}
	var valBuf [8]byte
	binary.LittleEndian.PutUint64(valBuf[:], uint64(value))
	if _, err := buf.Write(valBuf[:]); err != nil {
		return err
	}
	return writeLenPrefixed(buf, bmBytes)
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint64(lenBuf[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readFramedTriple(r io.Reader) (fieldName string, value int64, bmBytes []byte, err error) {
	nameBytes, err := readLenPrefixed(r)
	if err != nil {
		return "", 0, nil, err
	}
	var valBuf [8]byte
	if _, err := io.ReadFull(r, valBuf[:]); err != nil {
		return "", 0, nil, err
	}
	value = int64(binary.LittleEndian.Uint64(valBuf[:]))
	bmBytes, err = readLenPrefixed(r)
	if err != nil {
		return "", 0, nil, err
	}
	return string(nameBytes), value, bmBytes, nil
}
