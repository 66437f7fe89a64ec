// Package quilldb is an embedded single-file SQL database engine.
//
// What: SQL-like statements over tables persisted in one regular file, with
// crash-safe transactions via a page-image write-ahead log and storage in
// disk-resident B-Trees.
// How: Open returns a handle whose Execute method parses and runs one
// statement at a time; mutating statements outside an explicit BEGIN run in
// an implicit transaction. The storage stack lives in internal/storage and
// internal/catalog; this package is the import surface.
// Why: A process-local library keeps the deployment story to "one file on
// disk" while still giving atomic, durable multi-page updates.
package quilldb

import (
	"github.com/quilldb/quilldb/internal/config"
	"github.com/quilldb/quilldb/internal/engine"
)

// DB is a database handle. One caller owns it at a time.
type DB = engine.Engine

// Result is the rowset returned by SELECT statements.
type Result = engine.Result

// Config selects the database file and durability behavior.
type Config = config.Config

// Open opens (or creates) the database file at path with defaults.
func Open(path string) (*DB, error) { return engine.Open(path) }

// OpenConfig opens the database described by cfg.
func OpenConfig(cfg *Config) (*DB, error) { return engine.OpenConfig(cfg) }

// DefaultConfig returns the durable zero-configuration setup.
func DefaultConfig() *Config { return config.Default() }

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }
