package quilldb_test

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quilldb/quilldb"
)

func TestOpenExecuteClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facade.db")
	db, err := quilldb.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := db.Execute("CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := db.Execute("INSERT INTO notes VALUES (1, 'remember the milk')"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	res, err := db.Execute("SELECT body FROM notes WHERE id = 1")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0][0].Str != "remember the milk" {
		t.Fatalf("rows: %+v", res.Rows)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestOpenConfigSyncOff(t *testing.T) {
	cfg := quilldb.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "nosync.db")
	cfg.SyncWrites = false
	db, err := quilldb.OpenConfig(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if _, err := db.Execute("CREATE TABLE t (id INTEGER)"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := db.Execute("INSERT INTO t VALUES (1)"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := db.Checkpoint(); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
}

func TestDump(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.db")
	db, err := quilldb.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	for _, stmt := range []string{
		"CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)",
		"INSERT INTO t VALUES (1, 'it''s here')",
		"CREATE SEQUENCE s START WITH 7",
	} {
		if _, err := db.Execute(stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	var sb strings.Builder
	if err := db.Dump(&sb); err != nil {
		t.Fatalf("dump: %v", err)
	}
	out := sb.String()
	for _, want := range []string{
		"CREATE TABLE t",
		"PRIMARY KEY (id)",
		"INSERT INTO t VALUES (1, 'it''s here');",
		"CREATE SEQUENCE s START WITH 7 INCREMENT BY 1;",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("dump missing %q:\n%s", want, out)
		}
	}
}

func Example() {
	db, _ := quilldb.Open(filepath.Join("/tmp", "example-quilldb.db"))
	defer db.Close()

	db.Execute("CREATE TABLE IF NOT EXISTS greetings (id INTEGER PRIMARY KEY, text TEXT)")
	db.Execute("DELETE FROM greetings")
	db.Execute("INSERT INTO greetings VALUES (1, 'hello')")
	res, _ := db.Execute("SELECT text FROM greetings")
	fmt.Println(res.Rows[0][0].Str)
	// Output: hello
}
