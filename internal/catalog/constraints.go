// Constraint checks and row-level mutation helpers.
//
// Validators run in a fixed order before a row reaches the B-Tree: primary
// key (not-null on key columns, then a uniqueness scan), declared NOT NULL
// columns, then foreign keys. Deletes run the reverse check: a row that is
// still referenced either blocks the delete (NO ACTION) or drags its
// children with it (CASCADE).
package catalog

import (
	"errors"
	"fmt"

	"github.com/quilldb/quilldb/internal/storage"
)

// InsertRow validates the row, stores it under key in the table's B-Tree,
// records a migrated root, and updates secondary indexes.
func (c *Catalog) InsertRow(info *TableInfo, key int32, row storage.RowData) error {
	if err := c.CheckInsert(info, row); err != nil {
		return err
	}
	tree := storage.OpenRoot(c.Pager, info.RootPage)
	if err := tree.Insert(key, row.Serialize()); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) && len(info.PrimaryKey) > 0 {
			return fmt.Errorf("%w: %s key %d: %w", ErrPrimaryKeyViolation, info.Name, key, err)
		}
		return err
	}
	if tree.RootPage() != info.RootPage {
		if err := c.UpdateTableRoot(info.Name, tree.RootPage()); err != nil {
			return err
		}
	}
	return c.InsertIntoIndexes(info.Name, row, key)
}

// DeleteRow removes one row after running referential checks, cascading into
// child tables where declared.
func (c *Catalog) DeleteRow(info *TableInfo, row *storage.Row) error {
	data, err := storage.DeserializeRow(row.Payload)
	if err != nil {
		return err
	}
	if err := c.checkDeleteReferences(info, data); err != nil {
		return err
	}
	tree := storage.OpenRoot(c.Pager, info.RootPage)
	if err := tree.Delete(row.Key); err != nil {
		return err
	}
	return c.RemoveFromIndexes(info.Name, data, row.Key)
}

// CheckInsert runs the insert-side validators in order.
func (c *Catalog) CheckInsert(info *TableInfo, row storage.RowData) error {
	if err := c.checkPrimaryKey(info, row); err != nil {
		return err
	}
	if err := checkNotNull(info, row); err != nil {
		return err
	}
	return c.checkForeignKeys(info, row)
}

func (c *Catalog) checkPrimaryKey(info *TableInfo, row storage.RowData) error {
	if len(info.PrimaryKey) == 0 {
		return nil
	}
	positions := make([]int, 0, len(info.PrimaryKey))
	for _, name := range info.PrimaryKey {
		pos, err := info.ColumnIndex(name)
		if err != nil {
			return err
		}
		if pos >= len(row.Values) || row.Values[pos].IsNull() {
			return fmt.Errorf("%w: null value in key column %q of %s", ErrPrimaryKeyViolation, name, info.Name)
		}
		positions = append(positions, pos)
	}

	tree := storage.OpenRoot(c.Pager, info.RootPage)
	cur, err := tree.ScanAllRows()
	if err != nil {
		return err
	}
	for {
		existing, err := cur.Next()
		if err != nil {
			return err
		}
		if existing == nil {
			return nil
		}
		data, err := storage.DeserializeRow(existing.Payload)
		if err != nil {
			return err
		}
		same := true
		for _, pos := range positions {
			if pos >= len(data.Values) || !data.Values[pos].Equal(row.Values[pos]) {
				same = false
				break
			}
		}
		if same {
			return fmt.Errorf("%w: duplicate key in %s", ErrPrimaryKeyViolation, info.Name)
		}
	}
}

func checkNotNull(info *TableInfo, row storage.RowData) error {
	for i, col := range info.Columns {
		if col.NotNull && i < len(row.Values) && row.Values[i].IsNull() {
			return fmt.Errorf("%w: null value in column %q of %s", ErrNotNullViolation, col.Name, info.Name)
		}
	}
	return nil
}

// checkForeignKeys verifies each child value exists as a key in the parent
// table's data B-Tree. NULL child values pass.
func (c *Catalog) checkForeignKeys(info *TableInfo, row storage.RowData) error {
	for _, fk := range info.ForeignKeys {
		if len(fk.Columns) == 0 || len(fk.ParentColumns) == 0 {
			continue
		}
		pos, err := info.ColumnIndex(fk.Columns[0])
		if err != nil {
			return err
		}
		if pos >= len(row.Values) || row.Values[pos].IsNull() {
			continue
		}
		val := row.Values[pos]
		if val.Kind != storage.KindInteger {
			return fmt.Errorf("%w: %s.%s must be an integer key", ErrForeignKeyViolation, info.Name, fk.Columns[0])
		}
		parent, err := c.GetTable(fk.ParentTable)
		if err != nil {
			return err
		}
		parentTree := storage.OpenRoot(c.Pager, parent.RootPage)
		found, err := parentTree.Find(val.Int)
		if err != nil {
			return err
		}
		if found == nil {
			return fmt.Errorf("%w: no %s.%s = %d", ErrForeignKeyViolation, fk.ParentTable, fk.ParentColumns[0], val.Int)
		}
	}
	return nil
}

// checkDeleteReferences blocks or cascades deletes of rows still referenced
// by child tables.
func (c *Catalog) checkDeleteReferences(info *TableInfo, row storage.RowData) error {
	for _, child := range c.AllTables() {
		for _, fk := range child.ForeignKeys {
			if fk.ParentTable != info.Name || len(fk.Columns) == 0 || len(fk.ParentColumns) == 0 {
				continue
			}
			parentPos, err := info.ColumnIndex(fk.ParentColumns[0])
			if err != nil {
				return err
			}
			if parentPos >= len(row.Values) || row.Values[parentPos].Kind != storage.KindInteger {
				continue
			}
			parentVal := row.Values[parentPos].Int

			childPos, err := child.ColumnIndex(fk.Columns[0])
			if err != nil {
				return err
			}
			matches, err := c.scanMatching(child, childPos, parentVal)
			if err != nil {
				return err
			}
			if len(matches) == 0 {
				continue
			}
			if fk.OnDelete != ActionCascade {
				return fmt.Errorf("%w: cannot delete from %s, referenced by %s.%s",
					ErrForeignKeyViolation, info.Name, child.Name, fk.Columns[0])
			}
			for i := range matches {
				if err := c.DeleteRow(child, &matches[i]); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// RowReferenced reports whether any child table still references the row
// through a foreign key, regardless of the declared action.
func (c *Catalog) RowReferenced(info *TableInfo, row storage.RowData) (bool, error) {
	for _, child := range c.AllTables() {
		for _, fk := range child.ForeignKeys {
			if fk.ParentTable != info.Name || len(fk.Columns) == 0 || len(fk.ParentColumns) == 0 {
				continue
			}
			parentPos, err := info.ColumnIndex(fk.ParentColumns[0])
			if err != nil {
				return false, err
			}
			if parentPos >= len(row.Values) || row.Values[parentPos].Kind != storage.KindInteger {
				continue
			}
			childPos, err := child.ColumnIndex(fk.Columns[0])
			if err != nil {
				return false, err
			}
			matches, err := c.scanMatching(child, childPos, row.Values[parentPos].Int)
			if err != nil {
				return false, err
			}
			if len(matches) > 0 {
				return true, nil
			}
		}
	}
	return false, nil
}

// scanMatching collects rows of info whose column at pos equals val.
func (c *Catalog) scanMatching(info *TableInfo, pos int, val int32) ([]storage.Row, error) {
	tree := storage.OpenRoot(c.Pager, info.RootPage)
	cur, err := tree.ScanAllRows()
	if err != nil {
		return nil, err
	}
	var out []storage.Row
	for {
		row, err := cur.Next()
		if err != nil {
			return nil, err
		}
		if row == nil {
			return out, nil
		}
		data, err := storage.DeserializeRow(row.Payload)
		if err != nil {
			return nil, err
		}
		if pos < len(data.Values) && data.Values[pos].Kind == storage.KindInteger && data.Values[pos].Int == val {
			out = append(out, *row)
		}
	}
}
