package engine

import (
	"fmt"
	"io"
	"strings"

	"github.com/quilldb/quilldb/internal/catalog"
	"github.com/quilldb/quilldb/internal/storage"
)

// Dump writes the schema and data as SQL statements that rebuild the
// database when replayed in order.
func (e *Engine) Dump(w io.Writer) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tables := e.cat.AllTables()
	for _, info := range tables {
		if _, err := fmt.Fprintf(w, "%s;\n", createTableDDL(info)); err != nil {
			return err
		}
		tree := storage.OpenRoot(e.cat.Pager, info.RootPage)
		cur, err := tree.ScanAllRows()
		if err != nil {
			return err
		}
		for {
			row, err := cur.Next()
			if err != nil {
				return err
			}
			if row == nil {
				break
			}
			data, err := storage.DeserializeRow(row.Payload)
			if err != nil {
				return err
			}
			lits := make([]string, len(data.Values))
			for i, v := range data.Values {
				lits[i] = sqlLiteral(v)
			}
			if _, err := fmt.Fprintf(w, "INSERT INTO %s VALUES (%s);\n", info.Name, strings.Join(lits, ", ")); err != nil {
				return err
			}
		}
	}

	hidden := make(map[string]bool)
	for _, info := range tables {
		hidden[rowidSequenceName(info.Name)] = true
		for _, col := range info.Columns {
			if col.AutoIncrement {
				hidden[autoSequenceName(info.Name, col.Name)] = true
			}
		}
	}
	for _, seq := range e.cat.AllSequences() {
		if hidden[seq.Name] {
			continue
		}
		if _, err := fmt.Fprintf(w, "CREATE SEQUENCE %s START WITH %d INCREMENT BY %d;\n",
			seq.Name, seq.Current+seq.Increment, seq.Increment); err != nil {
			return err
		}
	}
	return nil
}

func createTableDDL(info *catalog.TableInfo) string {
	var parts []string
	for _, col := range info.Columns {
		def := col.Name + " " + col.Type.String()
		if col.NotNull {
			def += " NOT NULL"
		}
		if col.HasDefault {
			def += " DEFAULT " + col.Default
		}
		if col.AutoIncrement {
			def += " AUTO_INCREMENT"
		}
		parts = append(parts, def)
	}
	if len(info.PrimaryKey) > 0 {
		parts = append(parts, "PRIMARY KEY ("+strings.Join(info.PrimaryKey, ", ")+")")
	}
	for _, fk := range info.ForeignKeys {
		clause := fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			strings.Join(fk.Columns, ", "), fk.ParentTable, strings.Join(fk.ParentColumns, ", "))
		if fk.OnDelete == catalog.ActionCascade {
			clause += " ON DELETE CASCADE"
		}
		if fk.OnUpdate == catalog.ActionCascade {
			clause += " ON UPDATE CASCADE"
		}
		parts = append(parts, clause)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", info.Name, strings.Join(parts, ", "))
}

func sqlLiteral(v storage.ColumnValue) string {
	switch v.Kind {
	case storage.KindNull:
		return "NULL"
	case storage.KindInteger, storage.KindDouble, storage.KindYear:
		return v.String()
	case storage.KindBoolean:
		return strings.ToUpper(v.String())
	default:
		return "'" + strings.ReplaceAll(v.String(), "'", "''") + "'"
	}
}
