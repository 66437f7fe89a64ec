package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/quilldb/quilldb/internal/catalog"
	"github.com/quilldb/quilldb/internal/storage"
)

// Result carries a statement's output rows. DDL and DML statements return a
// nil Result.
type Result struct {
	Columns []string
	Rows    [][]storage.ColumnValue
}

// Executor runs parsed statements against the catalog.
type Executor struct {
	cat *catalog.Catalog
}

// NewExecutor binds an executor to a catalog.
func NewExecutor(cat *catalog.Catalog) *Executor { return &Executor{cat: cat} }

// Exec dispatches one non-transaction-control statement.
func (e *Executor) Exec(stmt Statement) (*Result, error) {
	switch s := stmt.(type) {
	case CreateTable:
		return nil, e.execCreateTable(s)
	case DropTable:
		return nil, e.execDropTable(s)
	case CreateIndex:
		return nil, e.cat.CreateIndex(s.Name, s.Table, s.Column)
	case DropIndex:
		return nil, e.cat.DropIndex(s.Name)
	case CreateSequence:
		return nil, e.cat.CreateSequence(s.Name, s.Start, s.Increment)
	case Insert:
		return nil, e.execInsert(s)
	case Select:
		return e.execSelect(s)
	case Update:
		return nil, e.execUpdate(s)
	case Delete:
		return nil, e.execDelete(s)
	case Exit:
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported statement %T", stmt)
}

// keyCapable reports whether the column type can serve as the row key.
func keyCapable(t storage.ColumnType) bool {
	switch t.Kind {
	case storage.TypeInteger, storage.TypeSmallInt, storage.TypeMediumInt:
		return true
	}
	return false
}

func autoSequenceName(table, column string) string {
	return table + "_" + column + "_seq"
}

func rowidSequenceName(table string) string { return table + "__rowid" }

func (e *Executor) execCreateTable(s CreateTable) error {
	if s.IfNotExists {
		if _, err := e.cat.GetTable(s.Name); err == nil {
			return nil
		}
	}
	if len(s.Cols) == 0 {
		return fmt.Errorf("%w: table %s has no columns", storage.ErrInvalidValue, s.Name)
	}
	if err := e.cat.CreateTable(s.Name, s.Cols, s.ForeignKeys, s.PrimaryKey); err != nil {
		return err
	}
	for _, col := range s.Cols {
		if col.AutoIncrement {
			if err := e.cat.CreateSequence(autoSequenceName(s.Name, col.Name), 1, 1); err != nil {
				return err
			}
		}
	}
	if !keyCapable(s.Cols[0].Type) {
		return e.cat.CreateSequence(rowidSequenceName(s.Name), 1, 1)
	}
	return nil
}

func (e *Executor) execDropTable(s DropTable) error {
	dropped, err := e.cat.DropTable(s.Name)
	if err != nil {
		return err
	}
	if !dropped && !s.IfExists {
		return fmt.Errorf("%w: %s", catalog.ErrTableNotFound, s.Name)
	}
	return nil
}

func (e *Executor) execInsert(s Insert) error {
	info, err := e.cat.GetTable(s.Table)
	if err != nil {
		return err
	}
	positions := make([]int, 0, len(info.Columns))
	if len(s.Cols) > 0 {
		for _, name := range s.Cols {
			pos, err := info.ColumnIndex(name)
			if err != nil {
				return err
			}
			positions = append(positions, pos)
		}
	} else {
		for i := range info.Columns {
			positions = append(positions, i)
		}
	}

	for _, tuple := range s.Rows {
		if len(tuple) > len(positions) {
			return fmt.Errorf("%w: %d values for %d columns", storage.ErrInvalidValue, len(tuple), len(positions))
		}
		vals := make([]storage.ColumnValue, len(info.Columns))
		provided := make([]bool, len(info.Columns))
		for i, expr := range tuple {
			if _, ok := expr.(defaultExpr); ok {
				continue
			}
			v, err := e.evalValueExpr(expr)
			if err != nil {
				return err
			}
			vals[positions[i]] = v
			provided[positions[i]] = true
		}

		for i, col := range info.Columns {
			if provided[i] && !vals[i].IsNull() {
				if col.AutoIncrement {
					cv, err := storage.CoerceValue(vals[i], col.Type)
					if err != nil {
						return fmt.Errorf("column %q: %w", col.Name, err)
					}
					n, err := literalKey(cv)
					if err != nil {
						return err
					}
					if err := e.cat.UpdateSequenceCurrent(autoSequenceName(info.Name, col.Name), int64(n)); err != nil {
						return err
					}
				}
				continue
			}
			switch {
			case col.AutoIncrement:
				n, err := e.cat.NextSequenceValue(autoSequenceName(info.Name, col.Name))
				if err != nil {
					return err
				}
				vals[i] = storage.NewInteger(int32(n))
			case col.HasDefault:
				v, err := e.evalDefault(col.Default)
				if err != nil {
					return err
				}
				vals[i] = v
			default:
				vals[i] = storage.Null()
			}
		}

		for i, col := range info.Columns {
			coerced, err := storage.CoerceValue(vals[i], col.Type)
			if err != nil {
				return fmt.Errorf("column %q: %w", col.Name, err)
			}
			vals[i] = coerced
		}

		key, err := e.rowKey(info, vals)
		if err != nil {
			return err
		}
		if err := e.cat.InsertRow(info, key, storage.RowData{Values: vals}); err != nil {
			return err
		}
	}
	return nil
}

// rowKey derives the B-Tree key for a row: the first column when it is an
// integer type, otherwise the table's hidden rowid sequence.
func (e *Executor) rowKey(info *catalog.TableInfo, vals []storage.ColumnValue) (int32, error) {
	if keyCapable(info.Columns[0].Type) {
		if vals[0].IsNull() {
			return 0, fmt.Errorf("%w: null value in key column %q of %s",
				catalog.ErrPrimaryKeyViolation, info.Columns[0].Name, info.Name)
		}
		return literalKey(vals[0])
	}
	name := rowidSequenceName(info.Name)
	if !e.cat.HasSequence(name) {
		if err := e.cat.CreateSequence(name, 1, 1); err != nil {
			return 0, err
		}
	}
	n, err := e.cat.NextSequenceValue(name)
	if err != nil {
		return 0, err
	}
	return int32(n), nil
}

func literalKey(v storage.ColumnValue) (int32, error) {
	if v.Kind != storage.KindInteger {
		return 0, fmt.Errorf("%w: key value %s is not an integer", storage.ErrInvalidValue, v.String())
	}
	return v.Int, nil
}

// evalValueExpr evaluates a row-independent expression: literals, NEXTVAL,
// and the niladic datetime functions.
func (e *Executor) evalValueExpr(expr Expr) (storage.ColumnValue, error) {
	switch v := expr.(type) {
	case Literal:
		return v.Val, nil
	case FuncCall:
		return e.evalFunc(v)
	case VarRef:
		// Bare identifiers in value position mirror the niladic functions.
		return e.evalFunc(FuncCall{Name: strings.ToUpper(v.Name)})
	}
	return storage.Null(), fmt.Errorf("%w: unsupported value expression %T", storage.ErrInvalidValue, expr)
}

func (e *Executor) evalFunc(f FuncCall) (storage.ColumnValue, error) {
	now := time.Now().UTC()
	switch f.Name {
	case "NEXTVAL":
		if len(f.Args) != 1 {
			return storage.Null(), fmt.Errorf("%w: NEXTVAL takes one argument", storage.ErrInvalidValue)
		}
		lit, ok := f.Args[0].(Literal)
		if !ok || (lit.Val.Kind != storage.KindText && lit.Val.Kind != storage.KindChar) {
			return storage.Null(), fmt.Errorf("%w: NEXTVAL argument must be a sequence name", storage.ErrInvalidValue)
		}
		n, err := e.cat.NextSequenceValue(lit.Val.Str)
		if err != nil {
			return storage.Null(), err
		}
		return storage.NewInteger(int32(n)), nil
	case "NOW", "CURRENT_TIMESTAMP":
		return storage.NewTimestamp(now.Unix()), nil
	case "CURRENT_DATE":
		return storage.NewDate(int32(now.Unix() / 86400)), nil
	case "CURRENT_TIME":
		return storage.NewTime(int32(now.Hour()*3600 + now.Minute()*60 + now.Second())), nil
	}
	return storage.Null(), fmt.Errorf("%w: unknown function %s", storage.ErrInvalidValue, f.Name)
}

// evalDefault re-parses a stored default expression and evaluates it.
func (e *Executor) evalDefault(text string) (storage.ColumnValue, error) {
	p := NewParser(text)
	expr, err := p.parseExpr()
	if err != nil {
		return storage.Null(), fmt.Errorf("bad default expression %q: %w", text, err)
	}
	return e.evalValueExpr(expr)
}

// tableRow pairs a key with its decoded values during execution.
type tableRow struct {
	key  int32
	vals []storage.ColumnValue
}

// collectRows loads the table rows matching where, using an index for a
// simple equality predicate on an indexed column and a full scan otherwise.
func (e *Executor) collectRows(info *catalog.TableInfo, where Expr) ([]tableRow, error) {
	if col, lit, ok := equalityPredicate(where); ok {
		if idx := e.cat.FindIndex(info.Name, col); idx != nil {
			pos, err := info.ColumnIndex(col)
			if err != nil {
				return nil, err
			}
			target, err := storage.CoerceValue(lit, info.Columns[pos].Type)
			if err != nil {
				return nil, err
			}
			keys, err := e.cat.IndexLookup(idx, target)
			if err != nil {
				return nil, err
			}
			tree := storage.OpenRoot(e.cat.Pager, info.RootPage)
			var out []tableRow
			for _, key := range keys {
				row, err := tree.Find(key)
				if err != nil {
					return nil, err
				}
				if row == nil {
					continue
				}
				data, err := storage.DeserializeRow(row.Payload)
				if err != nil {
					return nil, err
				}
				out = append(out, tableRow{key: row.Key, vals: data.Values})
			}
			return out, nil
		}
	}

	tree := storage.OpenRoot(e.cat.Pager, info.RootPage)
	cur, err := tree.ScanAllRows()
	if err != nil {
		return nil, err
	}
	var out []tableRow
	for {
		row, err := cur.Next()
		if err != nil {
			return nil, err
		}
		if row == nil {
			break
		}
		data, err := storage.DeserializeRow(row.Payload)
		if err != nil {
			return nil, err
		}
		match, err := e.evalPredicate(where, info, data.Values)
		if err != nil {
			return nil, err
		}
		if match {
			out = append(out, tableRow{key: row.Key, vals: data.Values})
		}
	}
	return out, nil
}

// equalityPredicate recognizes `col = literal` (either operand order).
func equalityPredicate(where Expr) (string, storage.ColumnValue, bool) {
	b, ok := where.(Binary)
	if !ok || b.Op != "=" {
		return "", storage.Null(), false
	}
	if v, ok := b.Left.(VarRef); ok {
		if lit, ok := b.Right.(Literal); ok {
			return v.Name, lit.Val, true
		}
	}
	if v, ok := b.Right.(VarRef); ok {
		if lit, ok := b.Left.(Literal); ok {
			return v.Name, lit.Val, true
		}
	}
	return "", storage.Null(), false
}

func (e *Executor) execSelect(s Select) (*Result, error) {
	if s.Table == "" {
		res := &Result{}
		row := make([]storage.ColumnValue, 0, len(s.Projs))
		for _, proj := range s.Projs {
			if proj.Star {
				return nil, fmt.Errorf("%w: * requires FROM", storage.ErrInvalidValue)
			}
			v, err := e.evalValueExpr(proj.Expr)
			if err != nil {
				return nil, err
			}
			res.Columns = append(res.Columns, projName(proj.Expr))
			row = append(row, v)
		}
		res.Rows = append(res.Rows, row)
		return res, nil
	}

	info, err := e.cat.GetTable(s.Table)
	if err != nil {
		return nil, err
	}
	rows, err := e.collectRows(info, s.Where)
	if err != nil {
		return nil, err
	}

	if s.OrderBy != nil {
		pos, err := info.ColumnIndex(s.OrderBy.Column)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(rows, func(i, j int) bool {
			less := compareValues(rows[i].vals[pos], rows[j].vals[pos]) < 0
			if s.OrderBy.Desc {
				return !less
			}
			return less
		})
	}
	if s.Limit != nil && len(rows) > *s.Limit {
		rows = rows[:*s.Limit]
	}

	res := &Result{}
	type projection struct {
		star bool
		pos  int
		expr Expr
	}
	var projs []projection
	for _, item := range s.Projs {
		if item.Star {
			for i, col := range info.Columns {
				res.Columns = append(res.Columns, col.Name)
				projs = append(projs, projection{pos: i})
			}
			continue
		}
		if v, ok := item.Expr.(VarRef); ok {
			pos, err := info.ColumnIndex(v.Name)
			if err != nil {
				return nil, err
			}
			res.Columns = append(res.Columns, v.Name)
			projs = append(projs, projection{pos: pos})
			continue
		}
		res.Columns = append(res.Columns, projName(item.Expr))
		projs = append(projs, projection{pos: -1, expr: item.Expr})
	}

	for _, row := range rows {
		out := make([]storage.ColumnValue, 0, len(projs))
		for _, proj := range projs {
			if proj.pos >= 0 {
				if proj.pos < len(row.vals) {
					out = append(out, row.vals[proj.pos])
				} else {
					out = append(out, storage.Null())
				}
				continue
			}
			v, err := e.evalValueExpr(proj.expr)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		res.Rows = append(res.Rows, out)
	}
	return res, nil
}

func projName(expr Expr) string {
	switch v := expr.(type) {
	case VarRef:
		return v.Name
	case FuncCall:
		return strings.ToLower(v.Name)
	case Literal:
		return v.Val.String()
	}
	return "expr"
}

func (e *Executor) execUpdate(s Update) error {
	info, err := e.cat.GetTable(s.Table)
	if err != nil {
		return err
	}
	rows, err := e.collectRows(info, s.Where)
	if err != nil {
		return err
	}
	for _, row := range rows {
		newVals := make([]storage.ColumnValue, len(row.vals))
		copy(newVals, row.vals)
		for _, set := range s.Sets {
			pos, err := info.ColumnIndex(set.Column)
			if err != nil {
				return err
			}
			var v storage.ColumnValue
			if _, ok := set.Value.(defaultExpr); ok {
				if info.Columns[pos].HasDefault {
					if v, err = e.evalDefault(info.Columns[pos].Default); err != nil {
						return err
					}
				} else {
					v = storage.Null()
				}
			} else if v, err = e.evalValueExpr(set.Value); err != nil {
				return err
			}
			coerced, err := storage.CoerceValue(v, info.Columns[pos].Type)
			if err != nil {
				return fmt.Errorf("column %q: %w", set.Column, err)
			}
			newVals[pos] = coerced
		}

		newKey := row.key
		if keyCapable(info.Columns[0].Type) {
			if newKey, err = literalKey(newVals[0]); err != nil {
				return err
			}
		}
		if newKey != row.key {
			referenced, err := e.cat.RowReferenced(info, storage.RowData{Values: row.vals})
			if err != nil {
				return err
			}
			if referenced {
				return fmt.Errorf("%w: cannot change key of referenced row in %s",
					catalog.ErrForeignKeyViolation, info.Name)
			}
		}

		oldData := storage.RowData{Values: row.vals}
		tree := storage.OpenRoot(e.cat.Pager, info.RootPage)
		if err := tree.Delete(row.key); err != nil {
			return err
		}
		if err := e.cat.RemoveFromIndexes(info.Name, oldData, row.key); err != nil {
			return err
		}
		if err := e.cat.InsertRow(info, newKey, storage.RowData{Values: newVals}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) execDelete(s Delete) error {
	info, err := e.cat.GetTable(s.Table)
	if err != nil {
		return err
	}
	rows, err := e.collectRows(info, s.Where)
	if err != nil {
		return err
	}
	for _, row := range rows {
		data := storage.RowData{Values: row.vals}
		r := storage.Row{Key: row.key, Payload: data.Serialize()}
		if err := e.cat.DeleteRow(info, &r); err != nil {
			return err
		}
	}
	return nil
}

// evalPredicate evaluates a WHERE expression against one row. A nil
// predicate matches everything.
func (e *Executor) evalPredicate(where Expr, info *catalog.TableInfo, vals []storage.ColumnValue) (bool, error) {
	if where == nil {
		return true, nil
	}
	switch w := where.(type) {
	case Binary:
		switch w.Op {
		case "AND":
			l, err := e.evalPredicate(w.Left, info, vals)
			if err != nil || !l {
				return false, err
			}
			return e.evalPredicate(w.Right, info, vals)
		case "OR":
			l, err := e.evalPredicate(w.Left, info, vals)
			if err != nil {
				return false, err
			}
			if l {
				return true, nil
			}
			return e.evalPredicate(w.Right, info, vals)
		}
		left, err := e.operandValue(w.Left, info, vals)
		if err != nil {
			return false, err
		}
		right, err := e.operandValue(w.Right, info, vals)
		if err != nil {
			return false, err
		}
		if left.IsNull() || right.IsNull() {
			return false, nil
		}
		cmp := compareValues(left, right)
		switch w.Op {
		case "=":
			return cmp == 0, nil
		case "<>":
			return cmp != 0, nil
		case "<":
			return cmp < 0, nil
		case "<=":
			return cmp <= 0, nil
		case ">":
			return cmp > 0, nil
		case ">=":
			return cmp >= 0, nil
		}
		return false, fmt.Errorf("unsupported operator %q", w.Op)
	case IsNull:
		v, err := e.operandValue(w.Expr, info, vals)
		if err != nil {
			return false, err
		}
		if w.Negate {
			return !v.IsNull(), nil
		}
		return v.IsNull(), nil
	case Literal:
		if w.Val.Kind == storage.KindBoolean {
			return w.Val.Bool, nil
		}
	}
	return false, fmt.Errorf("unsupported predicate %T", where)
}

func (e *Executor) operandValue(expr Expr, info *catalog.TableInfo, vals []storage.ColumnValue) (storage.ColumnValue, error) {
	if v, ok := expr.(VarRef); ok {
		pos, err := info.ColumnIndex(v.Name)
		if err != nil {
			return storage.Null(), err
		}
		if pos >= len(vals) {
			return storage.Null(), nil
		}
		return vals[pos], nil
	}
	return e.evalValueExpr(expr)
}

// compareValues orders two non-null values: numerically when both sides are
// numeric (or parse as numbers), by their stable text otherwise.
func compareValues(a, b storage.ColumnValue) int {
	af, aok := numericOf(a)
	bf, bok := numericOf(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a.String(), b.String())
}

func numericOf(v storage.ColumnValue) (float64, bool) {
	switch v.Kind {
	case storage.KindInteger, storage.KindDate, storage.KindTime, storage.KindYear:
		return float64(v.Int), true
	case storage.KindDateTime, storage.KindTimestamp:
		return float64(v.I64), true
	case storage.KindDouble:
		return v.F64, true
	case storage.KindBoolean:
		if v.Bool {
			return 1, true
		}
		return 0, true
	case storage.KindText, storage.KindChar:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		return f, err == nil
	}
	return 0, false
}
