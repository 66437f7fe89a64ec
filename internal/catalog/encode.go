// Positional catalog row encoding.
//
// A table's catalog row interleaves values and counts:
//   name, root_page, num_columns,
//   per column: name, type_code, type parameters, not_null, has_default,
//               [default_expr], auto_increment,
//   num_fks, per fk: num_cols, col..., parent_table, num_pcols, pcol...,
//                    on_delete, on_update,
//   num_pk_cols, pk_col...
// A sequence row is simply name, current, start, increment. The decoder is a
// cursor over the value list; any shape violation surfaces as a corrupt-row
// error.
package catalog

import (
	"fmt"

	"github.com/quilldb/quilldb/internal/storage"
)

func encodeCatalogRow(t *TableInfo) storage.RowData {
	vals := make([]storage.ColumnValue, 0, 8+6*len(t.Columns))
	vals = append(vals,
		storage.NewText(t.Name),
		storage.NewInteger(int32(t.RootPage)),
		storage.NewInteger(int32(len(t.Columns))),
	)
	for _, col := range t.Columns {
		vals = append(vals, storage.NewText(col.Name), storage.NewInteger(int32(col.Type.Kind)))
		switch col.Type.Kind {
		case storage.TypeChar:
			vals = append(vals, storage.NewInteger(int32(col.Type.Size)))
		case storage.TypeSmallInt, storage.TypeMediumInt:
			vals = append(vals, storage.NewInteger(int32(col.Type.Width)), boolValue(col.Type.Unsigned))
		case storage.TypeDouble:
			vals = append(vals,
				storage.NewInteger(int32(col.Type.Precision)),
				storage.NewInteger(int32(col.Type.Scale)),
				boolValue(col.Type.Unsigned))
		}
		vals = append(vals, boolValue(col.NotNull))
		if col.HasDefault {
			vals = append(vals, storage.NewInteger(1), storage.NewText(col.Default))
		} else {
			vals = append(vals, storage.NewInteger(0))
		}
		vals = append(vals, boolValue(col.AutoIncrement))
	}
	vals = append(vals, storage.NewInteger(int32(len(t.ForeignKeys))))
	for _, fk := range t.ForeignKeys {
		vals = append(vals, storage.NewInteger(int32(len(fk.Columns))))
		for _, col := range fk.Columns {
			vals = append(vals, storage.NewText(col))
		}
		vals = append(vals, storage.NewText(fk.ParentTable))
		vals = append(vals, storage.NewInteger(int32(len(fk.ParentColumns))))
		for _, col := range fk.ParentColumns {
			vals = append(vals, storage.NewText(col))
		}
		vals = append(vals, storage.NewInteger(int32(fk.OnDelete)), storage.NewInteger(int32(fk.OnUpdate)))
	}
	vals = append(vals, storage.NewInteger(int32(len(t.PrimaryKey))))
	for _, col := range t.PrimaryKey {
		vals = append(vals, storage.NewText(col))
	}
	return storage.RowData{Values: vals}
}

func boolValue(b bool) storage.ColumnValue {
	if b {
		return storage.NewInteger(1)
	}
	return storage.NewInteger(0)
}

// rowReader is a cursor over a positional value list.
type rowReader struct {
	vals []storage.ColumnValue
	pos  int
}

func (r *rowReader) intVal() (int32, error) {
	if r.pos >= len(r.vals) || r.vals[r.pos].Kind != storage.KindInteger {
		return 0, fmt.Errorf("%w: expected integer at catalog position %d", storage.ErrCorruptRow, r.pos)
	}
	v := r.vals[r.pos].Int
	r.pos++
	return v, nil
}

func (r *rowReader) textVal() (string, error) {
	if r.pos >= len(r.vals) || r.vals[r.pos].Kind != storage.KindText {
		return "", fmt.Errorf("%w: expected text at catalog position %d", storage.ErrCorruptRow, r.pos)
	}
	v := r.vals[r.pos].Str
	r.pos++
	return v, nil
}

func (r *rowReader) boolVal() (bool, error) {
	v, err := r.intVal()
	return v == 1, err
}

func decodeCatalogRow(row *storage.Row) (*TableInfo, error) {
	data, err := storage.DeserializeRow(row.Payload)
	if err != nil {
		return nil, err
	}
	r := &rowReader{vals: data.Values}
	info := &TableInfo{catalogKey: row.Key}
	if info.Name, err = r.textVal(); err != nil {
		return nil, err
	}
	root, err := r.intVal()
	if err != nil {
		return nil, err
	}
	info.RootPage = uint32(root)

	numCols, err := r.intVal()
	if err != nil {
		return nil, err
	}
	for i := int32(0); i < numCols; i++ {
		var col storage.Column
		if col.Name, err = r.textVal(); err != nil {
			return nil, err
		}
		code, err := r.intVal()
		if err != nil {
			return nil, err
		}
		col.Type.Kind = storage.TypeKind(code)
		switch col.Type.Kind {
		case storage.TypeChar:
			size, err := r.intVal()
			if err != nil {
				return nil, err
			}
			col.Type.Size = int(size)
		case storage.TypeSmallInt, storage.TypeMediumInt:
			width, err := r.intVal()
			if err != nil {
				return nil, err
			}
			col.Type.Width = int(width)
			if col.Type.Unsigned, err = r.boolVal(); err != nil {
				return nil, err
			}
		case storage.TypeDouble:
			prec, err := r.intVal()
			if err != nil {
				return nil, err
			}
			scale, err := r.intVal()
			if err != nil {
				return nil, err
			}
			col.Type.Precision, col.Type.Scale = int(prec), int(scale)
			if col.Type.Unsigned, err = r.boolVal(); err != nil {
				return nil, err
			}
		}
		if col.NotNull, err = r.boolVal(); err != nil {
			return nil, err
		}
		if col.HasDefault, err = r.boolVal(); err != nil {
			return nil, err
		}
		if col.HasDefault {
			if col.Default, err = r.textVal(); err != nil {
				return nil, err
			}
		}
		if col.AutoIncrement, err = r.boolVal(); err != nil {
			return nil, err
		}
		info.Columns = append(info.Columns, col)
	}

	numFKs, err := r.intVal()
	if err != nil {
		return nil, err
	}
	for i := int32(0); i < numFKs; i++ {
		var fk ForeignKey
		numCols, err := r.intVal()
		if err != nil {
			return nil, err
		}
		for j := int32(0); j < numCols; j++ {
			col, err := r.textVal()
			if err != nil {
				return nil, err
			}
			fk.Columns = append(fk.Columns, col)
		}
		if fk.ParentTable, err = r.textVal(); err != nil {
			return nil, err
		}
		numPCols, err := r.intVal()
		if err != nil {
			return nil, err
		}
		for j := int32(0); j < numPCols; j++ {
			col, err := r.textVal()
			if err != nil {
				return nil, err
			}
			fk.ParentColumns = append(fk.ParentColumns, col)
		}
		onDelete, err := r.intVal()
		if err != nil {
			return nil, err
		}
		onUpdate, err := r.intVal()
		if err != nil {
			return nil, err
		}
		fk.OnDelete, fk.OnUpdate = Action(onDelete), Action(onUpdate)
		info.ForeignKeys = append(info.ForeignKeys, fk)
	}

	numPK, err := r.intVal()
	if err != nil {
		return nil, err
	}
	for i := int32(0); i < numPK; i++ {
		col, err := r.textVal()
		if err != nil {
			return nil, err
		}
		info.PrimaryKey = append(info.PrimaryKey, col)
	}
	return info, nil
}

func encodeSequenceRow(s *SequenceInfo) storage.RowData {
	return storage.RowData{Values: []storage.ColumnValue{
		storage.NewText(s.Name),
		storage.NewInteger(int32(s.Current)),
		storage.NewInteger(int32(s.Start)),
		storage.NewInteger(int32(s.Increment)),
	}}
}

func decodeSequenceRow(row *storage.Row) (*SequenceInfo, error) {
	data, err := storage.DeserializeRow(row.Payload)
	if err != nil {
		return nil, err
	}
	r := &rowReader{vals: data.Values}
	s := &SequenceInfo{key: row.Key}
	if s.Name, err = r.textVal(); err != nil {
		return nil, err
	}
	cur, err := r.intVal()
	if err != nil {
		return nil, err
	}
	start, err := r.intVal()
	if err != nil {
		return nil, err
	}
	inc, err := r.intVal()
	if err != nil {
		return nil, err
	}
	s.Current, s.Start, s.Increment = int64(cur), int64(start), int64(inc)
	return s, nil
}
