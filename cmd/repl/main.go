// Command repl is the interactive shell over a quilldb database file.
//
// Statements end with ';'. Meta commands: .tables, .schema <table>,
// .dump [path], .quit. Output formats: table, csv, json, yaml.
package main

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/ulikunitz/xz"
	"gopkg.in/yaml.v3"

	"github.com/quilldb/quilldb/internal/config"
	"github.com/quilldb/quilldb/internal/engine"
	"github.com/quilldb/quilldb/internal/storage"
)

var cli struct {
	DB     string `arg:"" optional:"" help:"Database file path." default:"quill.db"`
	Config string `help:"YAML config file." type:"path"`
	Format string `help:"Output format." enum:"table,csv,json,yaml" default:"table"`
	Exec   string `short:"e" help:"Execute the given statements and exit."`
	Echo   bool   `help:"Echo statements before executing them."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("quilldb"),
		kong.Description("Embedded single-file SQL database shell."))

	cfg := config.Default()
	if cli.Config != "" {
		loaded, err := config.Load(cli.Config)
		if err != nil {
			kctx.FatalIfErrorf(err)
		}
		cfg = loaded
	}
	cfg.Path = cli.DB
	if cli.Format != "" {
		cfg.Format = cli.Format
	}

	db, err := engine.OpenConfig(cfg)
	if err != nil {
		kctx.FatalIfErrorf(err)
	}
	defer db.Close()

	if cli.Exec != "" {
		for _, stmt := range splitStatements(cli.Exec) {
			runStatement(db, stmt, cfg.Format)
		}
		return
	}
	runREPL(db, cfg.Format)
}

func runREPL(db *engine.Engine, format string) {
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 1024), 4*1024*1024)

	interactive := false
	if fi, err := os.Stdin.Stat(); err == nil {
		interactive = (fi.Mode() & os.ModeCharDevice) != 0
	}
	if interactive {
		fmt.Println("quilldb shell. End statements with ';', '.help' for help.")
	}

	var buf strings.Builder
	for {
		if interactive {
			if buf.Len() == 0 {
				fmt.Print("sql> ")
			} else {
				fmt.Print(" ... ")
			}
		}
		if !sc.Scan() {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if buf.Len() == 0 && strings.HasPrefix(line, ".") {
			if quit := metaCommand(db, line, format); quit {
				return
			}
			continue
		}
		buf.WriteString(line)
		buf.WriteString(" ")
		if !strings.HasSuffix(line, ";") {
			continue
		}
		stmt := strings.TrimSpace(buf.String())
		buf.Reset()
		if strings.EqualFold(strings.TrimSuffix(stmt, ";"), "EXIT") {
			return
		}
		runStatement(db, stmt, format)
	}
}

func runStatement(db *engine.Engine, stmt, format string) {
	if cli.Echo {
		fmt.Println(stmt)
	}
	res, err := db.Execute(stmt)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERR:", err)
		return
	}
	if res == nil {
		fmt.Println("OK")
		return
	}
	printResult(os.Stdout, res, format)
}

func metaCommand(db *engine.Engine, line, format string) (quit bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case ".quit", ".exit":
		return true
	case ".help":
		fmt.Println("meta commands: .tables  .schema <table>  .dump [path]  .quit")
	case ".tables":
		for _, t := range db.Catalog().AllTables() {
			fmt.Println(t.Name)
		}
	case ".schema":
		if len(fields) < 2 {
			fmt.Fprintln(os.Stderr, "usage: .schema <table>")
			return false
		}
		info, err := db.Catalog().GetTable(fields[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, "ERR:", err)
			return false
		}
		for _, col := range info.Columns {
			fmt.Printf("%s\t%s\n", col.Name, col.Type)
		}
	case ".dump":
		if err := dumpTo(db, fields); err != nil {
			fmt.Fprintln(os.Stderr, "ERR:", err)
		}
	default:
		fmt.Fprintln(os.Stderr, "unknown meta command:", fields[0])
	}
	return false
}

// dumpTo writes an SQL dump to stdout or a file; a .xz suffix selects
// xz compression.
func dumpTo(db *engine.Engine, fields []string) error {
	var out io.Writer = os.Stdout
	if len(fields) > 1 {
		f, err := os.Create(fields[1])
		if err != nil {
			return err
		}
		defer f.Close()
		if strings.HasSuffix(fields[1], ".xz") {
			xw, err := xz.NewWriter(f)
			if err != nil {
				return err
			}
			defer xw.Close()
			out = xw
		} else {
			out = f
		}
	}
	return db.Dump(out)
}

func splitStatements(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		out = append(out, strings.TrimSpace(part)+";")
	}
	return out
}

func printResult(w io.Writer, res *engine.Result, format string) {
	switch format {
	case "csv":
		cw := csv.NewWriter(w)
		cw.Write(res.Columns)
		for _, row := range res.Rows {
			cw.Write(stringRow(row))
		}
		cw.Flush()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.Encode(resultMaps(res))
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.Encode(resultMaps(res))
		enc.Close()
	default:
		printTable(w, res)
	}
}

func stringRow(row []storage.ColumnValue) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = v.String()
	}
	return out
}

func resultMaps(res *engine.Result) []map[string]string {
	out := make([]map[string]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		m := make(map[string]string, len(row))
		for i, v := range row {
			if i < len(res.Columns) {
				m[res.Columns[i]] = v.String()
			}
		}
		out = append(out, m)
	}
	return out
}

func printTable(w io.Writer, res *engine.Result) {
	widths := make([]int, len(res.Columns))
	for i, c := range res.Columns {
		widths[i] = len(c)
	}
	rows := make([][]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		cells := stringRow(row)
		for i, c := range cells {
			if i < len(widths) && len(c) > widths[i] {
				widths[i] = len(c)
			}
		}
		rows = append(rows, cells)
	}
	writeRow := func(cells []string) {
		parts := make([]string, len(cells))
		for i, c := range cells {
			parts[i] = fmt.Sprintf("%-*s", widths[i], c)
		}
		fmt.Fprintln(w, strings.Join(parts, " | "))
	}
	writeRow(res.Columns)
	sep := make([]string, len(res.Columns))
	for i := range sep {
		sep[i] = strings.Repeat("-", widths[i])
	}
	fmt.Fprintln(w, strings.Join(sep, "-+-"))
	for _, row := range rows {
		writeRow(row)
	}
	fmt.Fprintf(w, "(%d rows)\n", len(rows))
}
