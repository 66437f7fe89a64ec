// Secondary indexes.
//
// An index is a B-Tree keyed by a 31-bit hash of the column value. Each
// bucket row holds one or more groups of (value-as-text, row keys), so two
// distinct values whose hashes collide coexist in the same bucket and are
// told apart by exact text comparison at lookup time.
package catalog

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"

	"github.com/zeebo/blake3"

	"github.com/quilldb/quilldb/internal/storage"
)

// HashValue folds a column value into a bucket key. Text and char values
// map to a non-negative 31-bit key; integers hash to themselves so numeric
// buckets stay readable, and the other numeric and temporal kinds use their
// (truncated) numeric value, so those keys can be negative. The text hash is
// BLAKE3: indexes persist across processes, so the hash must be stable
// across them too.
func HashValue(v storage.ColumnValue) int32 {
	switch v.Kind {
	case storage.KindNull:
		return 0
	case storage.KindInteger:
		return v.Int
	case storage.KindBoolean:
		if v.Bool {
			return 1
		}
		return 0
	case storage.KindDouble:
		return int32(v.F64)
	case storage.KindDate, storage.KindTime, storage.KindYear:
		return v.Int
	case storage.KindDateTime, storage.KindTimestamp:
		return int32(v.I64 % math.MaxInt32)
	case storage.KindText, storage.KindChar:
		sum := blake3.Sum256([]byte(v.Str))
		return int32(binary.LittleEndian.Uint32(sum[:4]) & 0x7FFF_FFFF)
	}
	return 0
}

// indexBucket is the decoded form of one index row.
type indexBucket struct {
	groups []bucketGroup
}

type bucketGroup struct {
	text string
	keys []int32
}

func encodeBucket(b indexBucket) storage.RowData {
	vals := []storage.ColumnValue{storage.NewInteger(int32(len(b.groups)))}
	for _, g := range b.groups {
		vals = append(vals, storage.NewText(g.text), storage.NewInteger(int32(len(g.keys))))
		for _, k := range g.keys {
			vals = append(vals, storage.NewInteger(k))
		}
	}
	return storage.RowData{Values: vals}
}

func decodeBucket(payload []byte) (indexBucket, error) {
	data, err := storage.DeserializeRow(payload)
	if err != nil {
		return indexBucket{}, err
	}
	r := &rowReader{vals: data.Values}
	n, err := r.intVal()
	if err != nil {
		return indexBucket{}, err
	}
	var b indexBucket
	for i := int32(0); i < n; i++ {
		var g bucketGroup
		if g.text, err = r.textVal(); err != nil {
			return indexBucket{}, err
		}
		nk, err := r.intVal()
		if err != nil {
			return indexBucket{}, err
		}
		for j := int32(0); j < nk; j++ {
			k, err := r.intVal()
			if err != nil {
				return indexBucket{}, err
			}
			g.keys = append(g.keys, k)
		}
		b.groups = append(b.groups, g)
	}
	return b, nil
}

// CreateIndex allocates an index B-Tree over (table, column) and back-fills
// it from the table's current rows.
func (c *Catalog) CreateIndex(name, table, column string) error {
	if _, ok := c.indexes[name]; ok {
		return fmt.Errorf("%w: %s", ErrIndexExists, name)
	}
	info, err := c.GetTable(table)
	if err != nil {
		return err
	}
	colIdx, err := info.ColumnIndex(column)
	if err != nil {
		return err
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

	idx := &IndexInfo{Name: name, Table: table, Column: column, RootPage: root}

	dataTree := storage.OpenRoot(c.Pager, info.RootPage)
	cur, err := dataTree.ScanAllRows()
	if err != nil {
		return err
	}
	var rows []storage.Row
	for {
		row, err := cur.Next()
		if err != nil {
			return err
		}
		if row == nil {
			break
		}
		rows = append(rows, *row)
	}
	for _, row := range rows {
		data, err := storage.DeserializeRow(row.Payload)
		if err != nil {
			return err
		}
		if colIdx >= len(data.Values) {
			continue
		}
		if err := c.indexInsert(idx, data.Values[colIdx], row.Key); err != nil {
			return err
		}
	}
	c.indexes[name] = idx
	slog.Debug("index created", "name", name, "table", table, "column", column, "rows", len(rows))
	return nil
}

// DropIndex forgets the index and recycles its pages.
func (c *Catalog) DropIndex(name string) error {
	idx, ok := c.indexes[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	if err := c.freeTree(idx.RootPage); err != nil {
		return err
	}
	delete(c.indexes, name)
	return nil
}

// FindIndex locates an index by target table and column.
func (c *Catalog) FindIndex(table, column string) *IndexInfo {
	for _, idx := range c.indexes {
		if idx.Table == table && idx.Column == column {
			return idx
		}
	}
	return nil
}

// indexInsert adds rowKey under the value's bucket, growing the bucket's
// group list on hash collision.
func (c *Catalog) indexInsert(idx *IndexInfo, val storage.ColumnValue, rowKey int32) error {
	if val.IsNull() {
		return nil
	}
	tree := storage.OpenRoot(c.Pager, idx.RootPage)
	hash := HashValue(val)
	text := val.String()

	existing, err := tree.Find(hash)
	var bucket indexBucket
	if err != nil {
		return err
	}
	if existing != nil {
		if bucket, err = decodeBucket(existing.Payload); err != nil {
			return err
		}
		if err := tree.Delete(hash); err != nil {
			return err
		}
	}
	found := false
	for i := range bucket.groups {
		if bucket.groups[i].text == text {
			bucket.groups[i].keys = append(bucket.groups[i].keys, rowKey)
			found = true
			break
		}
	}
	if !found {
		bucket.groups = append(bucket.groups, bucketGroup{text: text, keys: []int32{rowKey}})
	}
	if err := tree.Insert(hash, encodeBucket(bucket).Serialize()); err != nil {
		return err
	}
	idx.RootPage = tree.RootPage()
	return nil
}

// indexRemove drops rowKey from the value's bucket, deleting the bucket row
// once no keys remain.
func (c *Catalog) indexRemove(idx *IndexInfo, val storage.ColumnValue, rowKey int32) error {
	if val.IsNull() {
		return nil
	}
	tree := storage.OpenRoot(c.Pager, idx.RootPage)
	hash := HashValue(val)
	text := val.String()

	existing, err := tree.Find(hash)
	if err != nil || existing == nil {
		return err
	}
	bucket, err := decodeBucket(existing.Payload)
	if err != nil {
		return err
	}
	groups := bucket.groups[:0]
	for _, g := range bucket.groups {
		if g.text == text {
			keep := g.keys[:0]
			for _, k := range g.keys {
				if k != rowKey {
					keep = append(keep, k)
				}
			}
			g.keys = keep
		}
		if len(g.keys) > 0 {
			groups = append(groups, g)
		}
	}
	bucket.groups = groups

	if err := tree.Delete(hash); err != nil {
		return err
	}
	if len(bucket.groups) > 0 {
		if err := tree.Insert(hash, encodeBucket(bucket).Serialize()); err != nil {
			return err
		}
	}
	idx.RootPage = tree.RootPage()
	return nil
}

// InsertIntoIndexes updates every index watching a column of table with the
// freshly inserted row.
func (c *Catalog) InsertIntoIndexes(table string, row storage.RowData, rowKey int32) error {
	info, err := c.GetTable(table)
	if err != nil {
		return err
	}
	for _, idx := range c.indexes {
		if idx.Table != table {
			continue
		}
		pos, err := info.ColumnIndex(idx.Column)
		if err != nil {
			return err
		}
		if pos >= len(row.Values) {
			continue
		}
		if err := c.indexInsert(idx, row.Values[pos], rowKey); err != nil {
			return err
		}
	}
	return nil
}

// RemoveFromIndexes drops a deleted row's key from every index watching a
// column of table.
func (c *Catalog) RemoveFromIndexes(table string, row storage.RowData, rowKey int32) error {
	info, err := c.GetTable(table)
	if err != nil {
		return err
	}
	for _, idx := range c.indexes {
		if idx.Table != table {
			continue
		}
		pos, err := info.ColumnIndex(idx.Column)
		if err != nil {
			return err
		}
		if pos >= len(row.Values) {
			continue
		}
		if err := c.indexRemove(idx, row.Values[pos], rowKey); err != nil {
			return err
		}
	}
	return nil
}

// IndexLookup returns the row keys stored under value in the index, exact on
// the value's stable text form.
func (c *Catalog) IndexLookup(idx *IndexInfo, val storage.ColumnValue) ([]int32, error) {
	tree := storage.OpenRoot(c.Pager, idx.RootPage)
	row, err := tree.Find(HashValue(val))
	if err != nil || row == nil {
		return nil, err
	}
	bucket, err := decodeBucket(row.Payload)
	if err != nil {
		return nil, err
	}
	text := val.String()
	for _, g := range bucket.groups {
		if g.text == text {
			return g.keys, nil
		}
	}
	return nil, nil
}
