package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/quilldb/quilldb/internal/catalog"
	"github.com/quilldb/quilldb/internal/storage"
)

// defaultExpr marks the DEFAULT keyword inside a VALUES tuple.
type defaultExpr struct{}

// Parser is a recursive-descent parser with one token of lookahead.
type Parser struct {
	lx   *lexer
	cur  token
	peek token
}

// NewParser prepares a parser over one SQL statement.
func NewParser(sql string) *Parser {
	p := &Parser{lx: newLexer(sql)}
	p.cur = p.lx.nextToken()
	p.peek = p.lx.nextToken()
	return p
}

func (p *Parser) next() { p.cur, p.peek = p.peek, p.lx.nextToken() }

func (p *Parser) errf(format string, a ...any) error {
	return fmt.Errorf("parse error near %q: %s", p.cur.Val, fmt.Sprintf(format, a...))
}

func (p *Parser) isKeyword(kw string) bool {
	return p.cur.Typ == tKeyword && p.cur.Val == kw
}

func (p *Parser) acceptKeyword(kw string) bool {
	if p.isKeyword(kw) {
		p.next()
		return true
	}
	return false
}

func (p *Parser) expectKeyword(kw string) error {
	if !p.acceptKeyword(kw) {
		return p.errf("expected %s", kw)
	}
	return nil
}

func (p *Parser) acceptSymbol(sym string) bool {
	if p.cur.Typ == tSymbol && p.cur.Val == sym {
		p.next()
		return true
	}
	return false
}

func (p *Parser) expectSymbol(sym string) error {
	if !p.acceptSymbol(sym) {
		return p.errf("expected %q", sym)
	}
	return nil
}

// ident accepts an identifier; keywords double as identifiers so common
// column names like KEY or YEAR stay usable.
func (p *Parser) ident() (string, error) {
	if p.cur.Typ == tIdent || p.cur.Typ == tKeyword {
		v := p.cur.Val
		p.next()
		return v, nil
	}
	return "", p.errf("expected identifier")
}

// Parse consumes one statement, tolerating a trailing semicolon.
func (p *Parser) Parse() (Statement, error) {
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	p.acceptSymbol(";")
	if p.cur.Typ != tEOF {
		return nil, p.errf("unexpected trailing input")
	}
	return stmt, nil
}

func (p *Parser) parseStatement() (Statement, error) {
	switch {
	case p.isKeyword("CREATE"):
		return p.parseCreate()
	case p.isKeyword("DROP"):
		return p.parseDrop()
	case p.isKeyword("INSERT"):
		return p.parseInsert()
	case p.isKeyword("SELECT"):
		return p.parseSelect()
	case p.isKeyword("UPDATE"):
		return p.parseUpdate()
	case p.isKeyword("DELETE"):
		return p.parseDelete()
	case p.isKeyword("BEGIN"):
		p.next()
		p.acceptKeyword("TRANSACTION")
		name := ""
		if p.cur.Typ == tIdent {
			name = p.cur.Val
			p.next()
		}
		return Begin{Name: name}, nil
	case p.isKeyword("COMMIT"):
		p.next()
		return Commit{}, nil
	case p.isKeyword("ROLLBACK"):
		p.next()
		return Rollback{}, nil
	case p.isKeyword("EXIT"):
		p.next()
		return Exit{}, nil
	}
	return nil, p.errf("expected a statement")
}

func (p *Parser) parseCreate() (Statement, error) {
	p.next() // CREATE
	switch {
	case p.acceptKeyword("TABLE"):
		return p.parseCreateTable()
	case p.acceptKeyword("INDEX"):
		return p.parseCreateIndex()
	case p.acceptKeyword("SEQUENCE"):
		return p.parseCreateSequence()
	}
	return nil, p.errf("expected TABLE, INDEX, or SEQUENCE")
}

func (p *Parser) parseCreateTable() (Statement, error) {
	stmt := CreateTable{}
	if p.acceptKeyword("IF") {
		if err := p.expectKeyword("NOT"); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("EXISTS"); err != nil {
			return nil, err
		}
		stmt.IfNotExists = true
	}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt.Name = name
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	for {
		switch {
		case p.isKeyword("PRIMARY"):
			p.next()
			if err := p.expectKeyword("KEY"); err != nil {
				return nil, err
			}
			cols, err := p.parseNameList()
			if err != nil {
				return nil, err
			}
			stmt.PrimaryKey = append(stmt.PrimaryKey, cols...)
		case p.isKeyword("FOREIGN"):
			fk, err := p.parseForeignKey()
			if err != nil {
				return nil, err
			}
			stmt.ForeignKeys = append(stmt.ForeignKeys, *fk)
		default:
			col, inlinePK, err := p.parseColumnDef()
			if err != nil {
				return nil, err
			}
			stmt.Cols = append(stmt.Cols, *col)
			if inlinePK {
				stmt.PrimaryKey = append(stmt.PrimaryKey, col.Name)
			}
		}
		if p.acceptSymbol(",") {
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseColumnDef() (*storage.Column, bool, error) {
	name, err := p.ident()
	if err != nil {
		return nil, false, err
	}
	typ, err := p.parseType()
	if err != nil {
		return nil, false, err
	}
	col := &storage.Column{Name: name, Type: typ}
	inlinePK := false
	for {
		switch {
		case p.isKeyword("NOT"):
			p.next()
			if err := p.expectKeyword("NULL"); err != nil {
				return nil, false, err
			}
			col.NotNull = true
		case p.isKeyword("DEFAULT"):
			p.next()
			text, err := p.parseDefaultText()
			if err != nil {
				return nil, false, err
			}
			col.Default = text
			col.HasDefault = true
		case p.isKeyword("AUTO_INCREMENT"):
			p.next()
			col.AutoIncrement = true
		case p.isKeyword("PRIMARY"):
			p.next()
			if err := p.expectKeyword("KEY"); err != nil {
				return nil, false, err
			}
			inlinePK = true
		default:
			return col, inlinePK, nil
		}
	}
}

// parseDefaultText serializes a default expression back to text for the
// catalog row: strings keep their quotes, numbers and niladic functions are
// stored verbatim.
func (p *Parser) parseDefaultText() (string, error) {
	switch {
	case p.cur.Typ == tString:
		v := p.cur.Val
		p.next()
		return "'" + strings.ReplaceAll(v, "'", "''") + "'", nil
	case p.cur.Typ == tNumber:
		v := p.cur.Val
		p.next()
		return v, nil
	case p.isKeyword("NULL"):
		p.next()
		return "NULL", nil
	case p.isKeyword("TRUE"):
		p.next()
		return "TRUE", nil
	case p.isKeyword("FALSE"):
		p.next()
		return "FALSE", nil
	case p.cur.Typ == tIdent:
		name := p.cur.Val
		p.next()
		if p.acceptSymbol("(") {
			if err := p.expectSymbol(")"); err != nil {
				return "", err
			}
			return strings.ToUpper(name) + "()", nil
		}
		return strings.ToUpper(name), nil
	}
	return "", p.errf("unsupported default expression")
}

func (p *Parser) parseType() (storage.ColumnType, error) {
	var t storage.ColumnType
	if p.cur.Typ != tKeyword {
		return t, p.errf("expected a type name")
	}
	kw := p.cur.Val
	p.next()
	switch kw {
	case "INTEGER", "INT":
		t.Kind = storage.TypeInteger
	case "TEXT":
		t.Kind = storage.TypeText
	case "VARCHAR":
		t.Kind = storage.TypeText
		if p.acceptSymbol("(") {
			if _, err := p.parseIntArg(); err != nil {
				return t, err
			}
			if err := p.expectSymbol(")"); err != nil {
				return t, err
			}
		}
	case "BOOLEAN", "BOOL":
		t.Kind = storage.TypeBoolean
	case "CHAR":
		t.Kind = storage.TypeChar
		t.Size = 1
		if p.acceptSymbol("(") {
			n, err := p.parseIntArg()
			if err != nil {
				return t, err
			}
			t.Size = n
			if err := p.expectSymbol(")"); err != nil {
				return t, err
			}
		}
	case "DOUBLE", "FLOAT":
		t.Kind = storage.TypeDouble
		t.Precision, t.Scale = 10, 0
		if p.acceptSymbol("(") {
			n, err := p.parseIntArg()
			if err != nil {
				return t, err
			}
			t.Precision = n
			if p.acceptSymbol(",") {
				s, err := p.parseIntArg()
				if err != nil {
					return t, err
				}
				t.Scale = s
			}
			if err := p.expectSymbol(")"); err != nil {
				return t, err
			}
		}
		t.Unsigned = p.acceptKeyword("UNSIGNED")
	case "DATE":
		t.Kind = storage.TypeDate
	case "DATETIME":
		t.Kind = storage.TypeDateTime
	case "TIMESTAMP":
		t.Kind = storage.TypeTimestamp
	case "TIME":
		t.Kind = storage.TypeTime
	case "YEAR":
		t.Kind = storage.TypeYear
	case "SMALLINT", "MEDIUMINT":
		if kw == "SMALLINT" {
			t.Kind = storage.TypeSmallInt
		} else {
			t.Kind = storage.TypeMediumInt
		}
		if p.acceptSymbol("(") {
			n, err := p.parseIntArg()
			if err != nil {
				return t, err
			}
			t.Width = n
			if err := p.expectSymbol(")"); err != nil {
				return t, err
			}
		}
		t.Unsigned = p.acceptKeyword("UNSIGNED")
	default:
		return t, p.errf("unknown type %s", kw)
	}
	return t, nil
}

func (p *Parser) parseIntArg() (int, error) {
	if p.cur.Typ != tNumber {
		return 0, p.errf("expected a number")
	}
	n, err := strconv.Atoi(p.cur.Val)
	if err != nil {
		return 0, p.errf("bad number %q", p.cur.Val)
	}
	p.next()
	return n, nil
}

func (p *Parser) parseNameList() ([]string, error) {
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	var names []string
	for {
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		names = append(names, name)
		if p.acceptSymbol(",") {
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return names, nil
}

func (p *Parser) parseForeignKey() (*catalog.ForeignKey, error) {
	p.next() // FOREIGN
	if err := p.expectKeyword("KEY"); err != nil {
		return nil, err
	}
	cols, err := p.parseNameList()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("REFERENCES"); err != nil {
		return nil, err
	}
	parent, err := p.ident()
	if err != nil {
		return nil, err
	}
	pcols, err := p.parseNameList()
	if err != nil {
		return nil, err
	}
	fk := &catalog.ForeignKey{Columns: cols, ParentTable: parent, ParentColumns: pcols}
	for p.acceptKeyword("ON") {
		var target *catalog.Action
		switch {
		case p.acceptKeyword("DELETE"):
			target = &fk.OnDelete
		case p.acceptKeyword("UPDATE"):
			target = &fk.OnUpdate
		default:
			return nil, p.errf("expected DELETE or UPDATE after ON")
		}
		switch {
		case p.acceptKeyword("CASCADE"):
			*target = catalog.ActionCascade
		case p.acceptKeyword("NO"):
			if err := p.expectKeyword("ACTION"); err != nil {
				return nil, err
			}
			*target = catalog.ActionNoAction
		default:
			return nil, p.errf("expected CASCADE or NO ACTION")
		}
	}
	return fk, nil
}

func (p *Parser) parseCreateIndex() (Statement, error) {
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	cols, err := p.parseNameList()
	if err != nil {
		return nil, err
	}
	if len(cols) != 1 {
		return nil, p.errf("indexes cover exactly one column")
	}
	return CreateIndex{Name: name, Table: table, Column: cols[0]}, nil
}

func (p *Parser) parseCreateSequence() (Statement, error) {
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt := CreateSequence{Name: name, Start: 1, Increment: 1}
	for {
		switch {
		case p.acceptKeyword("START"):
			if err := p.expectKeyword("WITH"); err != nil {
				return nil, err
			}
			n, err := p.parseInt64()
			if err != nil {
				return nil, err
			}
			stmt.Start = n
		case p.acceptKeyword("INCREMENT"):
			if err := p.expectKeyword("BY"); err != nil {
				return nil, err
			}
			n, err := p.parseInt64()
			if err != nil {
				return nil, err
			}
			stmt.Increment = n
		default:
			return stmt, nil
		}
	}
}

func (p *Parser) parseInt64() (int64, error) {
	if p.cur.Typ != tNumber {
		return 0, p.errf("expected a number")
	}
	n, err := strconv.ParseInt(p.cur.Val, 10, 64)
	if err != nil {
		return 0, p.errf("bad number %q", p.cur.Val)
	}
	p.next()
	return n, nil
}

func (p *Parser) parseDrop() (Statement, error) {
	p.next() // DROP
	switch {
	case p.acceptKeyword("TABLE"):
		stmt := DropTable{}
		if p.acceptKeyword("IF") {
			if err := p.expectKeyword("EXISTS"); err != nil {
				return nil, err
			}
			stmt.IfExists = true
		}
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		stmt.Name = name
		return stmt, nil
	case p.acceptKeyword("INDEX"):
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		return DropIndex{Name: name}, nil
	}
	return nil, p.errf("expected TABLE or INDEX")
}

func (p *Parser) parseInsert() (Statement, error) {
	p.next() // INSERT
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt := Insert{Table: table}
	if p.cur.Typ == tSymbol && p.cur.Val == "(" {
		cols, err := p.parseNameList()
		if err != nil {
			return nil, err
		}
		stmt.Cols = cols
	}
	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	for {
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		var tuple []Expr
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			tuple = append(tuple, e)
			if p.acceptSymbol(",") {
				continue
			}
			break
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		stmt.Rows = append(stmt.Rows, tuple)
		if p.acceptSymbol(",") {
			continue
		}
		break
	}
	return stmt, nil
}

func (p *Parser) parseSelect() (Statement, error) {
	p.next() // SELECT
	stmt := Select{}
	for {
		if p.acceptSymbol("*") {
			stmt.Projs = append(stmt.Projs, SelectItem{Star: true})
		} else {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			stmt.Projs = append(stmt.Projs, SelectItem{Expr: e})
		}
		if p.acceptSymbol(",") {
			continue
		}
		break
	}
	if p.acceptKeyword("FROM") {
		table, err := p.ident()
		if err != nil {
			return nil, err
		}
		stmt.Table = table
	}
	if p.acceptKeyword("WHERE") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = e
	}
	if p.acceptKeyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		col, err := p.ident()
		if err != nil {
			return nil, err
		}
		item := OrderItem{Column: col}
		if p.acceptKeyword("DESC") {
			item.Desc = true
		} else {
			p.acceptKeyword("ASC")
		}
		stmt.OrderBy = &item
	}
	if p.acceptKeyword("LIMIT") {
		n, err := p.parseIntArg()
		if err != nil {
			return nil, err
		}
		stmt.Limit = &n
	}
	return stmt, nil
}

func (p *Parser) parseUpdate() (Statement, error) {
	p.next() // UPDATE
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	stmt := Update{Table: table}
	for {
		col, err := p.ident()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol("="); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Sets = append(stmt.Sets, Assignment{Column: col, Value: val})
		if p.acceptSymbol(",") {
			continue
		}
		break
	}
	if p.acceptKeyword("WHERE") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = e
	}
	return stmt, nil
}

func (p *Parser) parseDelete() (Statement, error) {
	p.next() // DELETE
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt := Delete{Table: table}
	if p.acceptKeyword("WHERE") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = e
	}
	return stmt, nil
}

// ------------------------------ expressions ------------------------------

func (p *Parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("AND") {
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseComparison() (Expr, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.acceptKeyword("IS") {
		negate := p.acceptKeyword("NOT")
		if err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		return IsNull{Expr: left, Negate: negate}, nil
	}
	if p.cur.Typ == tSymbol {
		switch p.cur.Val {
		case "=", "<>", "!=", "<", "<=", ">", ">=":
			op := p.cur.Val
			if op == "!=" {
				op = "<>"
			}
			p.next()
			right, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			return Binary{Op: op, Left: left, Right: right}, nil
		}
	}
	return left, nil
}

func (p *Parser) parsePrimary() (Expr, error) {
	switch {
	case p.acceptSymbol("("):
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return e, nil
	case p.cur.Typ == tString:
		v := p.cur.Val
		p.next()
		return Literal{Val: storage.NewText(v)}, nil
	case p.cur.Typ == tNumber:
		v := p.cur.Val
		p.next()
		if strings.Contains(v, ".") {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, p.errf("bad number %q", v)
			}
			return Literal{Val: storage.NewDouble(f)}, nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, p.errf("bad number %q", v)
		}
		return Literal{Val: storage.NewInteger(int32(n))}, nil
	case p.isKeyword("NULL"):
		p.next()
		return Literal{Val: storage.Null()}, nil
	case p.isKeyword("TRUE"):
		p.next()
		return Literal{Val: storage.NewBoolean(true)}, nil
	case p.isKeyword("FALSE"):
		p.next()
		return Literal{Val: storage.NewBoolean(false)}, nil
	case p.isKeyword("DEFAULT"):
		p.next()
		return defaultExpr{}, nil
	case p.cur.Typ == tIdent:
		name := p.cur.Val
		p.next()
		if p.acceptSymbol("(") {
			call := FuncCall{Name: strings.ToUpper(name)}
			if !p.acceptSymbol(")") {
				for {
					arg, err := p.parseExpr()
					if err != nil {
						return nil, err
					}
					call.Args = append(call.Args, arg)
					if p.acceptSymbol(",") {
						continue
					}
					break
				}
				if err := p.expectSymbol(")"); err != nil {
					return nil, err
				}
			}
			return call, nil
		}
		return VarRef{Name: name}, nil
	}
	return nil, p.errf("expected an expression")
}
