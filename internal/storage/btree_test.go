package storage

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

// newTestTree roots a fresh tree at page 1, leaving page 0 to the free list
// the way the catalog layout does.
func newTestTree(t *testing.T) (*BTree, *Pager) {
	t.Helper()
	p, _ := newTestPager(t)
	pg, err := p.GetPage(1)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	pg.InitLeaf(true, 0)
	if err := p.FlushPage(1); err != nil {
		t.Fatalf("FlushPage: %v", err)
	}
	return OpenRoot(p, 1), p
}

func payloadFor(k int32) []byte {
	return bytes.Repeat([]byte{byte(k)}, 40)
}

func TestBTreeInsertFind(t *testing.T) {
	tree, _ := newTestTree(t)

	for _, k := range []int32{10, 5, 20} {
		if err := tree.Insert(k, []byte(fmt.Sprintf("v%d", k))); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
	}
	row, err := tree.Find(5)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if row == nil || string(row.Payload) != "v5" {
		t.Fatalf("find(5) = %+v", row)
	}
	missing, err := tree.Find(99)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if missing != nil {
		t.Fatalf("find(99) should be absent, got %+v", missing)
	}
}

func TestBTreeDuplicateKey(t *testing.T) {
	tree, _ := newTestTree(t)
	if err := tree.Insert(1, []byte("a")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tree.Insert(1, []byte("b")); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	row, err := tree.Find(1)
	if err != nil || row == nil || string(row.Payload) != "a" {
		t.Fatalf("original row must survive: %+v, %v", row, err)
	}
}

func TestBTreeSplitManyKeys(t *testing.T) {
	tree, p := newTestTree(t)

	for k := int32(1); k <= 200; k++ {
		if err := tree.Insert(k, payloadFor(k)); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
	}
	if tree.RootPage() == 1 {
		t.Fatal("200 forty-byte rows must split the root")
	}
	for k := int32(1); k <= 200; k++ {
		row, err := tree.Find(k)
		if err != nil {
			t.Fatalf("find %d: %v", k, err)
		}
		if row == nil || !bytes.Equal(row.Payload, payloadFor(k)) {
			t.Fatalf("find(%d) returned wrong payload", k)
		}
	}
	assertScanKeys(t, tree, 1, 200)
	verifyTree(t, p, tree.RootPage())
}

func TestBTreeReverseInsertScanAscending(t *testing.T) {
	tree, p := newTestTree(t)
	for k := int32(200); k >= 1; k-- {
		if err := tree.Insert(k, payloadFor(k)); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
	}
	assertScanKeys(t, tree, 1, 200)
	verifyTree(t, p, tree.RootPage())
}

func TestBTreeDelete(t *testing.T) {
	tree, _ := newTestTree(t)
	for k := int32(1); k <= 50; k++ {
		if err := tree.Insert(k, payloadFor(k)); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
	}
	for k := int32(2); k <= 50; k += 2 {
		if err := tree.Delete(k); err != nil {
			t.Fatalf("delete %d: %v", k, err)
		}
	}
	// Deleting an absent key succeeds.
	if err := tree.Delete(999); err != nil {
		t.Fatalf("delete absent: %v", err)
	}
	for k := int32(1); k <= 50; k++ {
		row, err := tree.Find(k)
		if err != nil {
			t.Fatalf("find %d: %v", k, err)
		}
		if k%2 == 0 && row != nil {
			t.Fatalf("key %d should be gone", k)
		}
		if k%2 == 1 && row == nil {
			t.Fatalf("key %d should remain", k)
		}
	}
}

func TestBTreeDeleteReclaimsEmptyLeaves(t *testing.T) {
	tree, p := newTestTree(t)
	for k := int32(1); k <= 300; k++ {
		if err := tree.Insert(k, payloadFor(k)); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
	}
	for k := int32(1); k <= 250; k++ {
		if err := tree.Delete(k); err != nil {
			t.Fatalf("delete %d: %v", k, err)
		}
	}
	assertScanKeys(t, tree, 251, 300)
	verifyTree(t, p, tree.RootPage())

	count, err := p.FreePageCount()
	if err != nil {
		t.Fatalf("FreePageCount: %v", err)
	}
	if count == 0 {
		t.Fatal("emptied leaves should reach the free list")
	}
}

func TestBTreePayloadTooLarge(t *testing.T) {
	tree, _ := newTestTree(t)
	if err := tree.Insert(1, make([]byte, PageSize)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestBTreePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	p, err := OpenPager(path, nil)
	if err != nil {
		t.Fatalf("open pager: %v", err)
	}
	pg, err := p.GetPage(1)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	pg.InitLeaf(true, 0)
	if err := p.FlushPage(1); err != nil {
		t.Fatalf("FlushPage: %v", err)
	}
	tree := OpenRoot(p, 1)

	if err := p.BeginTransaction(""); err != nil {
		t.Fatalf("begin: %v", err)
	}
	for k := int32(1); k <= 150; k++ {
		if err := tree.Insert(k, payloadFor(k)); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
	}
	if err := p.CommitTransaction(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	root := tree.RootPage()
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	p2, err := OpenPager(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p2.Close()
	tree2 := OpenRoot(p2, root)
	for k := int32(1); k <= 150; k++ {
		row, err := tree2.Find(k)
		if err != nil || row == nil {
			t.Fatalf("find %d after reopen: %+v, %v", k, row, err)
		}
	}
	assertScanKeys(t, tree2, 1, 150)
}

// assertScanKeys checks a full scan yields exactly [lo, hi] ascending.
func assertScanKeys(t *testing.T, tree *BTree, lo, hi int32) {
	t.Helper()
	cur, err := tree.ScanAllRows()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	want := lo
	for {
		row, err := cur.Next()
		if err != nil {
			t.Fatalf("cursor: %v", err)
		}
		if row == nil {
			break
		}
		if row.Key != want {
			t.Fatalf("scan out of order: got %d, want %d", row.Key, want)
		}
		want++
	}
	if want != hi+1 {
		t.Fatalf("scan stopped at %d, want %d", want-1, hi)
	}
}

// verifyTree walks the whole tree checking the structural invariants:
// separators strictly ascending and partitioning, children pointing back at
// their parent, and leaf keys strictly ascending.
func verifyTree(t *testing.T, p *Pager, root uint32) {
	t.Helper()
	var walk func(n uint32, lower, upper *int32)
	walk = func(n uint32, lower, upper *int32) {
		pg, err := p.GetPage(n)
		if err != nil {
			t.Fatalf("GetPage(%d): %v", n, err)
		}
		tree := OpenRoot(p, n)
		if pg.NodeType() == NodeLeaf {
			rows, err := tree.readLeafRows(n)
			if err != nil {
				t.Fatalf("readLeafRows(%d): %v", n, err)
			}
			prev := int32(-1 << 31)
			for _, r := range rows {
				if r.Key <= prev && prev != -1<<31 {
					t.Fatalf("leaf %d keys not strictly ascending", n)
				}
				if lower != nil && r.Key < *lower {
					t.Fatalf("leaf %d key %d below separator bound %d", n, r.Key, *lower)
				}
				if upper != nil && r.Key >= *upper {
					t.Fatalf("leaf %d key %d not below separator bound %d", n, r.Key, *upper)
				}
				prev = r.Key
			}
			return
		}
		keys, children, err := tree.readInternal(n)
		if err != nil {
			t.Fatalf("readInternal(%d): %v", n, err)
		}
		for i := 1; i < len(keys); i++ {
			if keys[i] <= keys[i-1] {
				t.Fatalf("internal %d separators not strictly ascending", n)
			}
		}
		for i, child := range children {
			cpg, err := p.GetPage(child)
			if err != nil {
				t.Fatalf("GetPage(%d): %v", child, err)
			}
			if cpg.Parent() != n {
				t.Fatalf("child %d of %d has parent %d", child, n, cpg.Parent())
			}
			var lo, hi *int32
			if i > 0 {
				lo = &keys[i-1]
			} else {
				lo = lower
			}
			if i < len(keys) {
				hi = &keys[i]
			} else {
				hi = upper
			}
			walk(child, lo, hi)
		}
	}
	walk(root, nil, nil)
}
