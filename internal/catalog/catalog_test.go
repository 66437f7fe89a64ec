package catalog

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/quilldb/quilldb/internal/storage"
)

func openTestCatalog(t *testing.T) (*Catalog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	cat := reopenCatalog(t, path)
	return cat, path
}

func reopenCatalog(t *testing.T, path string) *Catalog {
	t.Helper()
	pager, err := storage.OpenPager(path, nil)
	if err != nil {
		t.Fatalf("open pager: %v", err)
	}
	cat, err := Open(pager)
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { pager.Close() })
	return cat
}

func testColumns() []storage.Column {
	return []storage.Column{
		{Name: "id", Type: storage.ColumnType{Kind: storage.TypeInteger}, NotNull: true},
		{Name: "name", Type: storage.ColumnType{Kind: storage.TypeText}},
	}
}

func TestCatalogCreateTablePersists(t *testing.T) {
	cat, path := openTestCatalog(t)

	if err := cat.CreateTable("users", testColumns(), nil, []string{"id"}); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := cat.CreateTable("users", testColumns(), nil, nil); !errors.Is(err, ErrTableExists) {
		t.Fatalf("duplicate table: %v", err)
	}

	cat2 := reopenCatalog(t, path)
	info, err := cat2.GetTable("users")
	if err != nil {
		t.Fatalf("table lost across reopen: %v", err)
	}
	if len(info.Columns) != 2 || info.Columns[0].Name != "id" || !info.Columns[0].NotNull {
		t.Fatalf("columns not preserved: %+v", info.Columns)
	}
	if len(info.PrimaryKey) != 1 || info.PrimaryKey[0] != "id" {
		t.Fatalf("primary key not preserved: %v", info.PrimaryKey)
	}
	if _, err := cat2.GetTable("missing"); !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("expected ErrTableNotFound, got %v", err)
	}
}

func TestCatalogRootStaysReservedAcrossSplits(t *testing.T) {
	cat, path := openTestCatalog(t)

	// Enough tables with enough columns to split the page-1 B-Tree.
	cols := make([]storage.Column, 6)
	for i := range cols {
		cols[i] = storage.Column{
			Name: fmt.Sprintf("column_number_%d", i),
			Type: storage.ColumnType{Kind: storage.TypeText},
		}
	}
	for i := 0; i < 80; i++ {
		name := fmt.Sprintf("relation_with_a_long_name_%03d", i)
		if err := cat.CreateTable(name, cols, nil, nil); err != nil {
			t.Fatalf("create table %d: %v", i, err)
		}
	}

	cat2 := reopenCatalog(t, path)
	if got := len(cat2.AllTables()); got != 80 {
		t.Fatalf("expected 80 tables after reopen, got %d", got)
	}
	for i := 0; i < 80; i++ {
		name := fmt.Sprintf("relation_with_a_long_name_%03d", i)
		if _, err := cat2.GetTable(name); err != nil {
			t.Fatalf("table %s lost: %v", name, err)
		}
	}
}

func TestCatalogDropTableRecyclesPages(t *testing.T) {
	cat, _ := openTestCatalog(t)

	if err := cat.CreateTable("t", testColumns(), nil, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	info, _ := cat.GetTable("t")
	for k := int32(1); k <= 5; k++ {
		row := storage.RowData{Values: []storage.ColumnValue{
			storage.NewInteger(k), storage.NewText("x"),
		}}
		if err := cat.InsertRow(info, k, row); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	dropped, err := cat.DropTable("t")
	if err != nil || !dropped {
		t.Fatalf("drop: %v, %v", dropped, err)
	}
	if _, err := cat.GetTable("t"); !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("dropped table still resolvable: %v", err)
	}
	count, err := cat.Pager.FreePageCount()
	if err != nil || count == 0 {
		t.Fatalf("dropped data pages should be recycled: count=%d err=%v", count, err)
	}
	if dropped, err := cat.DropTable("t"); err != nil || dropped {
		t.Fatalf("second drop should be a no-op, got %v, %v", dropped, err)
	}
}

func TestSequenceLifecycle(t *testing.T) {
	cat, path := openTestCatalog(t)

	if err := cat.CreateSequence("counter", 100, 5); err != nil {
		t.Fatalf("create sequence: %v", err)
	}
	if err := cat.CreateSequence("counter", 1, 1); !errors.Is(err, ErrSequenceExists) {
		t.Fatalf("duplicate sequence: %v", err)
	}
	for _, want := range []int64{100, 105} {
		got, err := cat.NextSequenceValue("counter")
		if err != nil || got != want {
			t.Fatalf("next = %d, %v, want %d", got, err, want)
		}
	}

	cat2 := reopenCatalog(t, path)
	got, err := cat2.NextSequenceValue("counter")
	if err != nil || got != 110 {
		t.Fatalf("next after reopen = %d, %v, want 110", got, err)
	}

	if err := cat2.UpdateSequenceCurrent("counter", 500); err != nil {
		t.Fatalf("update current: %v", err)
	}
	if got, _ := cat2.NextSequenceValue("counter"); got != 505 {
		t.Fatalf("next after advance = %d, want 505", got)
	}
	// Never regress.
	if err := cat2.UpdateSequenceCurrent("counter", 10); err != nil {
		t.Fatalf("update current: %v", err)
	}
	if got, _ := cat2.NextSequenceValue("counter"); got != 510 {
		t.Fatalf("current must not move backward, next = %d", got)
	}

	if _, err := cat2.NextSequenceValue("nope"); !errors.Is(err, ErrSequenceNotFound) {
		t.Fatalf("unknown sequence: %v", err)
	}
}

func TestIndexMaintenance(t *testing.T) {
	cat, _ := openTestCatalog(t)

	if err := cat.CreateTable("people", testColumns(), nil, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	info, _ := cat.GetTable("people")
	names := []string{"ada", "bob", "ada", "cyn"}
	for i, n := range names {
		row := storage.RowData{Values: []storage.ColumnValue{
			storage.NewInteger(int32(i + 1)), storage.NewText(n),
		}}
		if err := cat.InsertRow(info, int32(i+1), row); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	if err := cat.CreateIndex("people_name", "people", "name"); err != nil {
		t.Fatalf("create index: %v", err)
	}
	idx := cat.FindIndex("people", "name")
	if idx == nil {
		t.Fatal("FindIndex returned nil")
	}
	keys, err := cat.IndexLookup(idx, storage.NewText("ada"))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("duplicate values must share a bucket: keys=%v", keys)
	}

	// New inserts flow into the existing index.
	row := storage.RowData{Values: []storage.ColumnValue{
		storage.NewInteger(5), storage.NewText("ada"),
	}}
	if err := cat.InsertRow(info, 5, row); err != nil {
		t.Fatalf("insert: %v", err)
	}
	keys, _ = cat.IndexLookup(idx, storage.NewText("ada"))
	if len(keys) != 3 {
		t.Fatalf("index not updated on insert: keys=%v", keys)
	}

	// Deletes remove keys and empty buckets.
	tree := storage.OpenRoot(cat.Pager, info.RootPage)
	r, err := tree.Find(2)
	if err != nil || r == nil {
		t.Fatalf("find row 2: %v", err)
	}
	if err := cat.DeleteRow(info, r); err != nil {
		t.Fatalf("delete row: %v", err)
	}
	keys, _ = cat.IndexLookup(idx, storage.NewText("bob"))
	if len(keys) != 0 {
		t.Fatalf("bucket should be empty after delete: %v", keys)
	}

	if err := cat.DropIndex("people_name"); err != nil {
		t.Fatalf("drop index: %v", err)
	}
	if cat.FindIndex("people", "name") != nil {
		t.Fatal("index still resolvable after drop")
	}
	if err := cat.DropIndex("people_name"); !errors.Is(err, ErrIndexNotFound) {
		t.Fatalf("double drop: %v", err)
	}
}

func TestHashValueStability(t *testing.T) {
	if HashValue(storage.NewInteger(42)) != 42 {
		t.Fatal("integers hash to themselves")
	}
	if HashValue(storage.NewBoolean(true)) != 1 || HashValue(storage.NewBoolean(false)) != 0 {
		t.Fatal("boolean hash")
	}
	h1 := HashValue(storage.NewText("quill"))
	h2 := HashValue(storage.NewText("quill"))
	if h1 != h2 {
		t.Fatal("text hash must be deterministic")
	}
	if h1 < 0 {
		t.Fatal("text hash must be non-negative")
	}
}

func TestConstraints(t *testing.T) {
	cat, _ := openTestCatalog(t)

	cols := []storage.Column{
		{Name: "id", Type: storage.ColumnType{Kind: storage.TypeInteger}},
		{Name: "name", Type: storage.ColumnType{Kind: storage.TypeText}, NotNull: true},
	}
	if err := cat.CreateTable("parent", cols, nil, []string{"id"}); err != nil {
		t.Fatalf("create parent: %v", err)
	}
	parent, _ := cat.GetTable("parent")

	// NOT NULL.
	bad := storage.RowData{Values: []storage.ColumnValue{storage.NewInteger(1), storage.Null()}}
	if err := cat.InsertRow(parent, 1, bad); !errors.Is(err, ErrNotNullViolation) {
		t.Fatalf("not-null: %v", err)
	}

	ok := storage.RowData{Values: []storage.ColumnValue{storage.NewInteger(1), storage.NewText("a")}}
	if err := cat.InsertRow(parent, 1, ok); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Primary-key uniqueness surfaces before the B-Tree duplicate.
	dup := storage.RowData{Values: []storage.ColumnValue{storage.NewInteger(1), storage.NewText("b")}}
	if err := cat.InsertRow(parent, 1, dup); !errors.Is(err, ErrPrimaryKeyViolation) {
		t.Fatalf("pk violation: %v", err)
	}

	// Foreign keys: child insert must reference an existing parent key.
	childCols := []storage.Column{
		{Name: "id", Type: storage.ColumnType{Kind: storage.TypeInteger}},
		{Name: "pid", Type: storage.ColumnType{Kind: storage.TypeInteger}},
	}
	fkNoAction := []ForeignKey{{
		Columns: []string{"pid"}, ParentTable: "parent", ParentColumns: []string{"id"},
	}}
	if err := cat.CreateTable("child", childCols, fkNoAction, nil); err != nil {
		t.Fatalf("create child: %v", err)
	}
	child, _ := cat.GetTable("child")

	orphan := storage.RowData{Values: []storage.ColumnValue{storage.NewInteger(1), storage.NewInteger(99)}}
	if err := cat.InsertRow(child, 1, orphan); !errors.Is(err, ErrForeignKeyViolation) {
		t.Fatalf("fk violation: %v", err)
	}
	linked := storage.RowData{Values: []storage.ColumnValue{storage.NewInteger(1), storage.NewInteger(1)}}
	if err := cat.InsertRow(child, 1, linked); err != nil {
		t.Fatalf("fk insert: %v", err)
	}

	// NO ACTION blocks deleting a referenced parent row.
	tree := storage.OpenRoot(cat.Pager, parent.RootPage)
	prow, _ := tree.Find(1)
	if err := cat.DeleteRow(parent, prow); !errors.Is(err, ErrForeignKeyViolation) {
		t.Fatalf("referenced delete must fail: %v", err)
	}
}

func TestCascadeDelete(t *testing.T) {
	cat, _ := openTestCatalog(t)

	pcols := []storage.Column{{Name: "id", Type: storage.ColumnType{Kind: storage.TypeInteger}}}
	if err := cat.CreateTable("p", pcols, nil, nil); err != nil {
		t.Fatalf("create p: %v", err)
	}
	ccols := []storage.Column{
		{Name: "id", Type: storage.ColumnType{Kind: storage.TypeInteger}},
		{Name: "pid", Type: storage.ColumnType{Kind: storage.TypeInteger}},
	}
	fk := []ForeignKey{{
		Columns: []string{"pid"}, ParentTable: "p", ParentColumns: []string{"id"},
		OnDelete: ActionCascade,
	}}
	if err := cat.CreateTable("c", ccols, fk, nil); err != nil {
		t.Fatalf("create c: %v", err)
	}
	p, _ := cat.GetTable("p")
	c, _ := cat.GetTable("c")

	if err := cat.InsertRow(p, 1, storage.RowData{Values: []storage.ColumnValue{storage.NewInteger(1)}}); err != nil {
		t.Fatalf("insert p: %v", err)
	}
	if err := cat.InsertRow(c, 1, storage.RowData{Values: []storage.ColumnValue{
		storage.NewInteger(1), storage.NewInteger(1)}}); err != nil {
		t.Fatalf("insert c: %v", err)
	}

	tree := storage.OpenRoot(cat.Pager, p.RootPage)
	prow, _ := tree.Find(1)
	if err := cat.DeleteRow(p, prow); err != nil {
		t.Fatalf("cascade delete: %v", err)
	}

	ctree := storage.OpenRoot(cat.Pager, c.RootPage)
	crow, err := ctree.Find(1)
	if err != nil {
		t.Fatalf("find child: %v", err)
	}
	if crow != nil {
		t.Fatal("cascade should remove the child row")
	}
}
