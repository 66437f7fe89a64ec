// Package catalog persists and serves schema: it resolves table, index, and
// sequence names to root pages and column descriptors, and runs constraint
// checks before work reaches the B-Tree.
//
// What: Two reserved B-Trees hold the schema: page 1 stores one row per
// table, page 2 one row per sequence. Secondary indexes are B-Trees of hash
// buckets built from table data.
// How: Rows are positional RowData values (see encode.go). The reserved
// roots never move: whenever a catalog B-Tree's root migrates after a split,
// the new root's bytes are copied back over the reserved page.
// Why: Fixed entry points let the catalog bootstrap itself from a cold file
// with nothing but the page size as prior knowledge.
package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/quilldb/quilldb/internal/storage"
)

// Reserved page numbers. Page 0 belongs to the pager's free list.
const (
	tableCatalogRoot    = 1
	sequenceCatalogRoot = 2
)

// Errors surfaced by catalog operations.
var (
	ErrTableNotFound       = errors.New("table not found")
	ErrTableExists         = errors.New("table already exists")
	ErrColumnNotFound      = errors.New("column not found")
	ErrIndexNotFound       = errors.New("index not found")
	ErrIndexExists         = errors.New("index already exists")
	ErrSequenceNotFound    = errors.New("sequence not found")
	ErrSequenceExists      = errors.New("sequence already exists")
	ErrPrimaryKeyViolation = errors.New("primary key violation")
	ErrNotNullViolation    = errors.New("not-null violation")
	ErrForeignKeyViolation = errors.New("foreign key violation")
)

// Action is a referential action on a foreign key.
type Action int32

const (
	ActionNoAction Action = 0
	ActionCascade  Action = 1
)

// ForeignKey declares a relationship from child columns to a parent table.
type ForeignKey struct {
	Columns       []string
	ParentTable   string
	ParentColumns []string
	OnDelete      Action
	OnUpdate      Action
}

// TableInfo is the in-memory form of one catalog row.
type TableInfo struct {
	Name        string
	RootPage    uint32
	Columns     []storage.Column
	ForeignKeys []ForeignKey
	PrimaryKey  []string

	// catalogKey is the B-Tree key of this table's row on page 1.
	catalogKey int32
}

// ColumnIndex returns the position of the named column, or an error.
func (t *TableInfo) ColumnIndex(name string) (int, error) {
	for i, c := range t.Columns {
		if c.Name == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s.%s", ErrColumnNotFound, t.Name, name)
}

// IsPrimaryKey reports whether the named column is part of the primary key.
func (t *TableInfo) IsPrimaryKey(name string) bool {
	for _, c := range t.PrimaryKey {
		if c == name {
			return true
		}
	}
	return false
}

// IndexInfo describes one secondary index. Indexes live in memory for the
// lifetime of the handle; their B-Trees are rebuilt by CREATE INDEX.
type IndexInfo struct {
	Name     string
	Table    string
	Column   string
	RootPage uint32
}

// SequenceInfo is the in-memory form of one sequence row on page 2.
type SequenceInfo struct {
	Name      string
	Current   int64
	Start     int64
	Increment int64

	key int32
}

// Catalog owns the schema maps and the pager underneath them.
type Catalog struct {
	Pager     *storage.Pager
	tables    map[string]*TableInfo
	indexes   map[string]*IndexInfo
	sequences map[string]*SequenceInfo
}

// Open bootstraps the catalog: it formats the reserved pages on a fresh
// file, then loads every table and sequence into memory. Errors here are
// fatal; no handle is returned.
func Open(pager *storage.Pager) (*Catalog, error) {
	c := &Catalog{
		Pager:     pager,
		tables:    make(map[string]*TableInfo),
		indexes:   make(map[string]*IndexInfo),
		sequences: make(map[string]*SequenceInfo),
	}
	for _, root := range []uint32{tableCatalogRoot, sequenceCatalogRoot} {
		if pager.FileLengthPages() <= root {
			pg, err := pager.GetPage(root)
			if err != nil {
				return nil, err
			}
			pg.InitLeaf(true, 0)
			if err := pager.FlushPage(root); err != nil {
				return nil, err
			}
			slog.Debug("catalog page initialized", "page", root)
		}
	}
	if err := c.reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// reload rebuilds the in-memory table and sequence maps from disk state.
func (c *Catalog) reload() error {
	c.tables = make(map[string]*TableInfo)
	tree := storage.OpenRoot(c.Pager, tableCatalogRoot)
	cur, err := tree.ScanAllRows()
	if err != nil {
		return fmt.Errorf("load table catalog: %w", err)
	}
	for {
		row, err := cur.Next()
		if err != nil {
			return fmt.Errorf("load table catalog: %w", err)
		}
		if row == nil {
			break
		}
		info, err := decodeCatalogRow(row)
		if err != nil {
			return err
		}
		c.tables[info.Name] = info
	}

	c.sequences = make(map[string]*SequenceInfo)
	seqTree := storage.OpenRoot(c.Pager, sequenceCatalogRoot)
	cur, err = seqTree.ScanAllRows()
	if err != nil {
		return fmt.Errorf("load sequence catalog: %w", err)
	}
	for {
		row, err := cur.Next()
		if err != nil {
			return fmt.Errorf("load sequence catalog: %w", err)
		}
		if row == nil {
			break
		}
		seq, err := decodeSequenceRow(row)
		if err != nil {
			return err
		}
		c.sequences[seq.Name] = seq
	}
	return nil
}

// copyBackRoot pins a reserved catalog root. A root migration means the
// reserved page itself split: the migrated root is an internal node listing
// the reserved page among its children. The old root's bytes are first
// relocated to a fresh page (so that child pointer stays meaningful), then
// the migrated root's bytes take over the reserved page and the orphan is
// recycled.
func (c *Catalog) copyBackRoot(tree *storage.BTree, reserved uint32) error {
	moved := tree.RootPage()
	if moved == reserved {
		return nil
	}

	// Relocate the reserved page's current content to a clone page.
	reservedPg, err := c.Pager.GetPage(reserved)
	if err != nil {
		return err
	}
	var buf [storage.PageSize]byte
	copy(buf[:], reservedPg.Data[:])

	clone, err := c.Pager.AllocatePage()
	if err != nil {
		return err
	}
	clonePg, err := c.Pager.GetPage(clone)
	if err != nil {
		return err
	}
	copy(clonePg.Data[:], buf[:])
	clonePg.SetIsRoot(false)
	clonePg.SetParent(reserved)
	if err := c.Pager.MarkDirty(clone); err != nil {
		return err
	}
	if clonePg.NodeType() == storage.NodeInternal {
		if err := storage.OpenRoot(c.Pager, clone).ReparentChildren(); err != nil {
			return err
		}
	}

	// Rewrite the reserved page as the migrated root, pointing the child
	// slot that named the reserved page at the clone instead.
	keys, children, err := storage.OpenRoot(c.Pager, moved).KeysAndChildren()
	if err != nil {
		return err
	}
	for i, ch := range children {
		if ch == reserved {
			children[i] = clone
		}
	}
	reservedPg, err = c.Pager.GetPage(reserved)
	if err != nil {
		return err
	}
	reservedPg.InitInternal(true, 0)
	fixed := storage.OpenRoot(c.Pager, reserved)
	if err := fixed.WriteInternalNode(reserved, keys, children); err != nil {
		return err
	}
	if err := fixed.ReparentChildren(); err != nil {
		return err
	}
	if err := c.Pager.WriteThrough(reserved); err != nil {
		return err
	}
	slog.Debug("catalog root copy-back", "reserved", reserved, "from", moved, "clone", clone)
	return c.Pager.FreePage(moved)
}

// BeginTransaction delegates to the pager.
func (c *Catalog) BeginTransaction(name string) error {
	return c.Pager.BeginTransaction(name)
}

// CommitTransaction delegates to the pager.
func (c *Catalog) CommitTransaction() error {
	return c.Pager.CommitTransaction()
}

// TransactionActive reports whether a transaction is open on the pager.
func (c *Catalog) TransactionActive() bool { return c.Pager.TransactionActive() }

// RollbackTransaction rolls back page state and reloads the schema maps
// from disk, since in-memory metadata may describe discarded pages.
func (c *Catalog) RollbackTransaction() error {
	if err := c.Pager.RollbackTransaction(); err != nil {
		return err
	}
	return c.reload()
}

// CreateTable allocates a data root for the new table and records its
// catalog row on page 1.
func (c *Catalog) CreateTable(name string, cols []storage.Column, fks []ForeignKey, pk []string) error {
	if _, ok := c.tables[name]; ok {
		return fmt.Errorf("%w: %s", ErrTableExists, name)
	}
	root, err := c.Pager.AllocatePage()
	if err != nil {
		return err
	}
	pg, err := c.Pager.GetPage(root)
	if err != nil {
		return err
	}
	pg.InitLeaf(true, 0)
	if err := c.Pager.WriteThrough(root); err != nil {
		return err
	}

	info := &TableInfo{
		Name:        name,
		RootPage:    root,
		Columns:     cols,
		ForeignKeys: fks,
		PrimaryKey:  pk,
		catalogKey:  c.nextCatalogKey(),
	}
	tree := storage.OpenRoot(c.Pager, tableCatalogRoot)
	if err := tree.Insert(info.catalogKey, encodeCatalogRow(info).Serialize()); err != nil {
		return err
	}
	if err := c.copyBackRoot(tree, tableCatalogRoot); err != nil {
		return err
	}
	c.tables[name] = info
	slog.Debug("table created", "name", name, "root", root)
	return nil
}

// nextCatalogKey picks a key above every live catalog row.
func (c *Catalog) nextCatalogKey() int32 {
	max := int32(0)
	for _, t := range c.tables {
		if t.catalogKey > max {
			max = t.catalogKey
		}
	}
	return max + 1
}

// DropTable removes the table's catalog row and recycles its data pages and
// the pages of every index built over it. Dropping an unknown table reports
// false without error.
func (c *Catalog) DropTable(name string) (bool, error) {
	info, ok := c.tables[name]
	if !ok {
		return false, nil
	}
	tree := storage.OpenRoot(c.Pager, tableCatalogRoot)
	if err := tree.Delete(info.catalogKey); err != nil {
		return false, err
	}
	if err := c.copyBackRoot(tree, tableCatalogRoot); err != nil {
		return false, err
	}
	if err := c.freeTree(info.RootPage); err != nil {
		return false, err
	}
	for idxName, idx := range c.indexes {
		if idx.Table == name {
			if err := c.freeTree(idx.RootPage); err != nil {
				return false, err
			}
			delete(c.indexes, idxName)
		}
	}
	delete(c.tables, name)
	slog.Debug("table dropped", "name", name)
	return true, nil
}

// freeTree returns every page of the subtree rooted at n to the free list.
// The root page itself is freed too, so callers must not free reserved pages
// through this.
func (c *Catalog) freeTree(n uint32) error {
	pg, err := c.Pager.GetPage(n)
	if err != nil {
		return err
	}
	if pg.NodeType() == storage.NodeInternal {
		tree := storage.OpenRoot(c.Pager, n)
		children, err := tree.Children()
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := c.freeTree(child); err != nil {
				return err
			}
		}
	}
	return c.Pager.FreePage(n)
}

// GetTable resolves a table name. The returned pointer is the catalog's own
// entry; callers may update RootPage through it.
func (c *Catalog) GetTable(name string) (*TableInfo, error) {
	info, ok := c.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return info, nil
}

// AllTables returns every table sorted by name.
func (c *Catalog) AllTables() []*TableInfo {
	out := make([]*TableInfo, 0, len(c.tables))
	for _, t := range c.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// UpdateTableRoot records a migrated data root both in memory and in the
// table's persisted catalog row.
func (c *Catalog) UpdateTableRoot(name string, newRoot uint32) error {
	info, ok := c.tables[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	info.RootPage = newRoot
	tree := storage.OpenRoot(c.Pager, tableCatalogRoot)
	if err := tree.Delete(info.catalogKey); err != nil {
		return err
	}
	if err := tree.Insert(info.catalogKey, encodeCatalogRow(info).Serialize()); err != nil {
		return err
	}
	return c.copyBackRoot(tree, tableCatalogRoot)
}
