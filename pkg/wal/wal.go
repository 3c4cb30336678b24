// Package wal implements the storage node's write-ahead log and snapshot
// bookkeeping: every mutating request is framed and appended before it is
// applied, and replayed in order on restart.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/cuemby/vdb/pkg/log"
	"github.com/cuemby/vdb/pkg/metrics"
	"github.com/cuemby/vdb/pkg/types"
)

const currentVersion = "1"

var logger = log.WithComponent("wal")

// WAL is an append-only log of mutating operations, framed as an 8-byte
// little-endian length prefix followed by
// "<log_id>|<version>|<op>|<payload_json>\n".
type WAL struct {
	mu                sync.Mutex
	path              string
	file              *os.File
	needFlush         bool
	nextLogID         uint64
	lastSnapshotLogID uint64
}

// Config controls how a WAL is opened.
type Config struct {
	// Path is the WAL file location.
	Path string
	// FlushOnWrite, when true, fsyncs after every append. Defaults to
	// false for throughput; set true for stricter durability.
	FlushOnWrite bool
}

// Open opens (creating if necessary) the WAL file at cfg.Path for
// append and random-access read. The log id counter is seeded from the
// snapshot marker file (if one exists) so a restart with no writes since
// the last snapshot does not reissue an id already consumed before
// rotation; Replay then advances it further past whatever entries the
// current segment holds.
func Open(cfg Config) (*WAL, error) {
	f, err := os.OpenFile(cfg.Path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open wal file %s: %w", cfg.Path, err)
	}
	nextLogID, err := readSnapshotMarker(cfg.Path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &WAL{
		path:              cfg.Path,
		file:              f,
		needFlush:         cfg.FlushOnWrite,
		nextLogID:         nextLogID,
		lastSnapshotLogID: nextLogID,
	}, nil
}

// Close closes the underlying file, fsyncing first.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		logger.Warn().Err(err).Msg("fsync on close failed")
	}
	return w.file.Close()
}

// Append allocates the next log id, frames op+payload, and appends the
// frame to the end of the WAL file. The log id is allocated before the
// write completes, so a write failure still advances NextLogID; replay is
// idempotent across restarts so a skipped id is harmless, but the caller
// must surface the error (it must not claim success to the client).
func (w *WAL) Append(op types.WALOp, payload []byte) (logID uint64, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextLogID++
	logID = w.nextLogID

	line := fmt.Sprintf("%d|%s|%s|%s\n", logID, currentVersion, op, payload)

	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		metrics.WALWriteFailuresTotal.Inc()
		return logID, fmt.Errorf("seek to end of wal: %w", err)
	}

	size := uint64(len(line))
	sizeBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(sizeBuf, size)

	if _, err := w.file.Write(sizeBuf); err != nil {
		metrics.WALWriteFailuresTotal.Inc()
		return logID, fmt.Errorf("write wal length prefix: %w", err)
	}
	if _, err := w.file.Write([]byte(line)); err != nil {
		metrics.WALWriteFailuresTotal.Inc()
		return logID, fmt.Errorf("write wal entry: %w", err)
	}

	if w.needFlush {
		if err := w.file.Sync(); err != nil {
			metrics.WALWriteFailuresTotal.Inc()
			return logID, fmt.Errorf("fsync wal entry: %w", err)
		}
	}

	if pos, err := w.file.Seek(0, io.SeekCurrent); err == nil {
		metrics.WALSizeBytes.Set(float64(pos))
	}
	metrics.WALAppendsTotal.Inc()

	logger.Debug().Uint64("log_id", logID).Str("op", string(op)).Msg("appended wal entry")
	return logID, nil
}

// Replay reads every entry from the beginning of the WAL file in order,
// invoking fn for each one. It advances the WAL's internal log id counter
// past the highest id it observes, so subsequent Append calls continue
// the sequence correctly after a restart.
func (w *WAL) Replay(fn func(types.WALEntry) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek to start of wal: %w", err)
	}
	r := bufio.NewReader(w.file)

	for {
		sizeBuf := make([]byte, 8)
		if _, err := io.ReadFull(r, sizeBuf); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("read wal length prefix: %w", err)
		}
		size := binary.LittleEndian.Uint64(sizeBuf)

		line := make([]byte, size)
		if _, err := io.ReadFull(r, line); err != nil {
			return fmt.Errorf("read wal entry: %w", err)
		}

		entry, err := parseEntry(line)
		if err != nil {
			return fmt.Errorf("parse wal entry: %w", err)
		}
		if entry.LogID > w.nextLogID {
			w.nextLogID = entry.LogID
		}

		if err := fn(entry); err != nil {
			return err
		}
	}

	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek to end of wal: %w", err)
	}
	return nil
}

func parseEntry(line []byte) (types.WALEntry, error) {
	s := strings.TrimSuffix(string(line), "\n")
	parts := strings.SplitN(s, "|", 4)
	if len(parts) != 4 {
		return types.WALEntry{}, fmt.Errorf("malformed wal entry: wanted 4 fields, got %d", len(parts))
	}

	logID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return types.WALEntry{}, fmt.Errorf("parse log id: %w", err)
	}
	version, err := strconv.Atoi(parts[1])
	if err != nil {
		return types.WALEntry{}, fmt.Errorf("parse version: %w", err)
	}

	return types.WALEntry{
		LogID:   logID,
		Version: version,
		Op:      types.WALOp(parts[2]),
		Payload: []byte(parts[3]),
	}, nil
}

// Rotate renames the current WAL file aside (suffixed with
// snapshotLogID) and opens a fresh, empty WAL file in its place. Called
// after a successful snapshot so that replay on the next restart only
// has to walk entries committed after the snapshot. snapshotLogID is
// also persisted to a sidecar marker file so a future Open seeds its log
// id counter past it, even though the fresh segment this call leaves
// behind is empty.
func (w *WAL) Rotate(snapshotLogID uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close wal before rotation: %w", err)
	}

	archivePath := fmt.Sprintf("%s.%d", w.path, snapshotLogID)
	if err := os.Rename(w.path, archivePath); err != nil {
		return fmt.Errorf("archive wal file: %w", err)
	}

	if err := writeSnapshotMarker(w.path, snapshotLogID); err != nil {
		return fmt.Errorf("persist wal snapshot marker: %w", err)
	}

	f, err := os.OpenFile(w.path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("reopen wal file after rotation: %w", err)
	}
	w.file = f
	w.lastSnapshotLogID = snapshotLogID
	metrics.WALSizeBytes.Set(0)
	logger.Info().Str("archived_as", archivePath).Msg("rotated wal after snapshot")
	return nil
}

// LastSnapshotLogID returns the log id of the most recent snapshot, or 0
// if none has been taken yet, for admin/status reporting.
func (w *WAL) LastSnapshotLogID() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSnapshotLogID
}

// snapshotMarkerPath is the sidecar file Rotate writes the snapshot's
// high-water log id to, so Open can seed nextLogID correctly even when
// the segment it opens is the empty one Rotate just created.
func snapshotMarkerPath(path string) string {
	return path + ".snapshot"
}

func readSnapshotMarker(path string) (uint64, error) {
	data, err := os.ReadFile(snapshotMarkerPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read wal snapshot marker: %w", err)
	}
	id, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse wal snapshot marker: %w", err)
	}
	return id, nil
}

func writeSnapshotMarker(path string, logID uint64) error {
	tmp := snapshotMarkerPath(path) + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatUint(logID, 10)), 0o600); err != nil {
		return fmt.Errorf("write wal snapshot marker: %w", err)
	}
	return os.Rename(tmp, snapshotMarkerPath(path))
}

// NextLogID returns the log id that will be assigned to the next Append
// call.
func (w *WAL) NextLogID() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextLogID + 1
}
