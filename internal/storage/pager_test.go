package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestPager(t *testing.T) (*Pager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	p, err := OpenPager(path, nil)
	if err != nil {
		t.Fatalf("open pager: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p, path
}

func TestPagerFreshPagesAreZero(t *testing.T) {
	p, _ := newTestPager(t)

	pg, err := p.GetPage(3)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	for i, b := range pg.Data {
		if b != 0 {
			t.Fatalf("fresh page byte %d = %d, want 0", i, b)
		}
	}
	if p.NumPages() != 4 {
		t.Fatalf("NumPages = %d, want 4", p.NumPages())
	}
	if p.FileLengthPages() != 0 {
		t.Fatalf("FileLengthPages = %d, want 0", p.FileLengthPages())
	}
}

func TestPagerFlushAndReopen(t *testing.T) {
	p, path := newTestPager(t)

	pg, err := p.GetPage(2)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	copy(pg.Data[100:], []byte("persisted bytes"))
	if err := p.FlushPage(2); err != nil {
		t.Fatalf("FlushPage: %v", err)
	}
	if p.FileLengthPages() != 3 {
		t.Fatalf("FileLengthPages = %d, want 3", p.FileLengthPages())
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if st.Size()%PageSize != 0 {
		t.Fatalf("file size %d not a multiple of the page size", st.Size())
	}

	p2, err := OpenPager(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p2.Close()
	pg2, err := p2.GetPage(2)
	if err != nil {
		t.Fatalf("GetPage after reopen: %v", err)
	}
	if string(pg2.Data[100:115]) != "persisted bytes" {
		t.Fatalf("modified bytes not visible after reopen: %q", pg2.Data[100:115])
	}
}

func TestPagerAllocateSequence(t *testing.T) {
	p, _ := newTestPager(t)
	for want := uint32(0); want < 4; want++ {
		n, err := p.AllocatePage()
		if err != nil {
			t.Fatalf("AllocatePage: %v", err)
		}
		if n != want {
			t.Fatalf("AllocatePage = %d, want %d", n, want)
		}
	}
	if p.FileLengthPages() != 0 {
		t.Fatalf("allocation must not touch disk, FileLengthPages = %d", p.FileLengthPages())
	}
}

func TestPagerFreelistReuse(t *testing.T) {
	p, _ := newTestPager(t)
	for i := 0; i < 5; i++ {
		if _, err := p.AllocatePage(); err != nil {
			t.Fatalf("AllocatePage: %v", err)
		}
	}
	if err := p.FreePage(3); err != nil {
		t.Fatalf("FreePage: %v", err)
	}
	count, err := p.FreePageCount()
	if err != nil || count != 1 {
		t.Fatalf("FreePageCount = %d, %v, want 1", count, err)
	}
	n, err := p.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected freed page 3 to be reused, got %d", n)
	}
	pg, err := p.GetPage(3)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	for _, b := range pg.Data {
		if b != 0 {
			t.Fatal("reused page must read as zeros")
		}
	}
}
