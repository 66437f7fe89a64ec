package storage

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func openDBFile(t *testing.T) (*os.File, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wal_test.db")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("open db file: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f, path
}

func pageImage(fill byte) *[PageSize]byte {
	var img [PageSize]byte
	for i := range img {
		img[i] = fill
	}
	return &img
}

func TestWALReplayOnOpen(t *testing.T) {
	db, path := openDBFile(t)

	w, err := OpenWAL(path+".wal", db)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	if err := w.AppendPage(1, pageImage(0xAB)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.AppendPage(3, pageImage(0xCD)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen: pending records replay into the db file and the log resets.
	w2, err := OpenWAL(path+".wal", db)
	if err != nil {
		t.Fatalf("reopen wal: %v", err)
	}
	defer w2.Close()

	var got [PageSize]byte
	if _, err := db.ReadAt(got[:], 1*PageSize); err != nil {
		t.Fatalf("read page 1: %v", err)
	}
	if !bytes.Equal(got[:], pageImage(0xAB)[:]) {
		t.Fatal("page 1 image not replayed")
	}
	if _, err := db.ReadAt(got[:], 3*PageSize); err != nil {
		t.Fatalf("read page 3: %v", err)
	}
	if !bytes.Equal(got[:], pageImage(0xCD)[:]) {
		t.Fatal("page 3 image not replayed")
	}

	st, err := os.Stat(path + ".wal")
	if err != nil {
		t.Fatalf("stat wal: %v", err)
	}
	if st.Size() != 0 {
		t.Fatalf("wal not truncated after recovery, size %d", st.Size())
	}
}

func TestWALReplayStopsAtCheckpoint(t *testing.T) {
	db, path := openDBFile(t)

	w, err := OpenWAL(path+".wal", db)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	if err := w.AppendPage(1, pageImage(0x11)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.AppendCheckpoint(); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if err := w.AppendPage(2, pageImage(0x22)); err != nil {
		t.Fatalf("append: %v", err)
	}
	w.Close()

	w2, err := OpenWAL(path+".wal", db)
	if err != nil {
		t.Fatalf("reopen wal: %v", err)
	}
	defer w2.Close()

	var got [PageSize]byte
	if _, err := db.ReadAt(got[:], 1*PageSize); err != nil {
		t.Fatalf("read page 1: %v", err)
	}
	if !bytes.Equal(got[:], pageImage(0x11)[:]) {
		t.Fatal("pre-checkpoint image not replayed")
	}

	// Records after the first checkpoint are not applied.
	st, err := db.Stat()
	if err != nil {
		t.Fatalf("stat db: %v", err)
	}
	if st.Size() >= 3*PageSize {
		if _, err := db.ReadAt(got[:], 2*PageSize); err == nil && bytes.Equal(got[:], pageImage(0x22)[:]) {
			t.Fatal("post-checkpoint image must not be replayed")
		}
	}
}

func TestWALTornTailIgnored(t *testing.T) {
	db, path := openDBFile(t)

	w, err := OpenWAL(path+".wal", db)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	if err := w.AppendPage(1, pageImage(0x7F)); err != nil {
		t.Fatalf("append: %v", err)
	}
	w.Close()

	// Simulate a crash mid-append: a record header with half a page image.
	f, err := os.OpenFile(path+".wal", os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open wal for append: %v", err)
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], 9)
	f.Write(hdr[:])
	f.Write(make([]byte, PageSize/2))
	f.Close()

	w2, err := OpenWAL(path+".wal", db)
	if err != nil {
		t.Fatalf("recovery over torn tail failed: %v", err)
	}
	defer w2.Close()

	var got [PageSize]byte
	if _, err := db.ReadAt(got[:], 1*PageSize); err != nil {
		t.Fatalf("read page 1: %v", err)
	}
	if !bytes.Equal(got[:], pageImage(0x7F)[:]) {
		t.Fatal("complete record before torn tail must replay")
	}
}
