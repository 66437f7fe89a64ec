// Write-ahead log.
//
// The WAL is an append-only sibling file (<db>.wal) of redo page images. A
// record is a little-endian u32 page number followed by exactly PageSize
// bytes; the page number 0xFFFFFFFF is a checkpoint sentinel with no payload.
// Replaying records into the database file is idempotent, so recovery can run
// any number of times. Every append fsyncs before returning: a record that
// was acknowledged is a record that survives a crash.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// checkpointSentinel delimits a committed batch in the log.
const checkpointSentinel = 0xFFFFFFFF

// WAL is the redo log paired with one database file.
type WAL struct {
	file *os.File
	path string
}

// OpenWAL opens (or creates) the log at path and replays any pending records
// into db before returning. On a replay error the log is left in place so a
// later open can retry.
func OpenWAL(path string, db *os.File) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	w := &WAL{file: f, path: path}
	if err := w.recover(db); err != nil {
		f.Close()
		return nil, fmt.Errorf("wal recovery: %w", err)
	}
	return w, nil
}

// recover replays data records into the database file, stopping at the first
// checkpoint sentinel or EOF, then truncates the log.
func (w *WAL) recover(db *os.File) error {
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var hdr [4]byte
	var page [PageSize]byte
	replayed := 0
	for {
		if _, err := io.ReadFull(w.file, hdr[:]); err != nil {
			// A clean EOF or a torn record header both end replay; a torn
			// tail belongs to an unacknowledged append and carries nothing
			// durable.
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return err
		}
		pageNum := binary.LittleEndian.Uint32(hdr[:])
		if pageNum == checkpointSentinel {
			break
		}
		if _, err := io.ReadFull(w.file, page[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return err
		}
		if _, err := db.WriteAt(page[:], int64(pageNum)*PageSize); err != nil {
			return err
		}
		replayed++
	}
	if replayed > 0 {
		if err := db.Sync(); err != nil {
			return err
		}
		slog.Debug("wal replay complete", "records", replayed, "wal", w.path)
	}
	return w.Truncate()
}

// AppendPage logs a redo image for the page and fsyncs.
func (w *WAL) AppendPage(pageNum uint32, data *[PageSize]byte) error {
	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], pageNum)
	if _, err := w.file.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.file.Write(data[:]); err != nil {
		return err
	}
	return w.file.Sync()
}

// AppendCheckpoint logs the checkpoint sentinel and fsyncs.
func (w *WAL) AppendCheckpoint() error {
	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], checkpointSentinel)
	if _, err := w.file.Write(hdr[:]); err != nil {
		return err
	}
	return w.file.Sync()
}

// Truncate resets the log to zero length and fsyncs.
func (w *WAL) Truncate() error {
	if err := w.file.Truncate(0); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close closes the log file handle.
func (w *WAL) Close() error { return w.file.Close() }
