package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/quilldb/quilldb/internal/catalog"
	"github.com/quilldb/quilldb/internal/config"
	"github.com/quilldb/quilldb/internal/storage"
)

// txMode tracks who opened the current transaction.
type txMode int

const (
	txNone txMode = iota
	txImplicit
	txExplicit
)

// Engine is one database handle: the catalog over a pager plus statement
// dispatch and transaction bracketing. A handle is owned by one caller at a
// time; the mutex only serializes the background checkpointer against
// statement execution.
type Engine struct {
	mu    sync.Mutex
	cat   *catalog.Catalog
	exec  *Executor
	mode  txMode
	sched *storage.CheckpointScheduler
}

// Open opens the database at path with default options.
func Open(path string) (*Engine, error) {
	cfg := config.Default()
	cfg.Path = path
	return OpenConfig(cfg)
}

// OpenConfig opens the database described by cfg.
func OpenConfig(cfg *config.Config) (*Engine, error) {
	pager, err := storage.OpenPager(cfg.Path, &storage.PagerOptions{SyncWrites: cfg.SyncWrites})
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Open(pager)
	if err != nil {
		pager.Close()
		return nil, err
	}
	e := &Engine{cat: cat, exec: NewExecutor(cat)}
	if cfg.CheckpointSpec != "" {
		sched, err := storage.NewCheckpointScheduler(cfg.CheckpointSpec, e.Checkpoint)
		if err != nil {
			pager.Close()
			return nil, fmt.Errorf("checkpoint schedule: %w", err)
		}
		e.sched = sched
		sched.Start()
	}
	slog.Info("database open", "path", cfg.Path)
	return e, nil
}

// Execute parses and runs one statement. Mutating statements outside an
// explicit transaction run in an implicit one that commits on success and
// rolls back on error.
func (e *Engine) Execute(sql string) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stmt, err := NewParser(sql).Parse()
	if err != nil {
		return nil, err
	}

	switch s := stmt.(type) {
	case Begin:
		if e.mode == txImplicit && e.cat.TransactionActive() {
			if err := e.cat.CommitTransaction(); err != nil {
				return nil, err
			}
		}
		if err := e.cat.BeginTransaction(s.Name); err != nil {
			return nil, err
		}
		e.mode = txExplicit
		return nil, nil
	case Commit:
		if err := e.cat.CommitTransaction(); err != nil {
			return nil, err
		}
		e.mode = txNone
		return nil, nil
	case Rollback:
		if err := e.cat.RollbackTransaction(); err != nil {
			return nil, err
		}
		e.mode = txNone
		return nil, nil
	}

	implicit := false
	if isMutating(stmt) && !e.cat.TransactionActive() {
		if err := e.cat.BeginTransaction(""); err != nil {
			return nil, err
		}
		e.mode = txImplicit
		implicit = true
	}

	res, err := e.exec.Exec(stmt)

	if implicit {
		if err == nil {
			if cerr := e.cat.CommitTransaction(); cerr != nil {
				return nil, cerr
			}
		} else {
			if rerr := e.cat.RollbackTransaction(); rerr != nil {
				return nil, fmt.Errorf("%w (rollback failed: %v)", err, rerr)
			}
		}
		e.mode = txNone
	}
	return res, err
}

// isMutating reports whether the statement needs transactional bracketing.
func isMutating(stmt Statement) bool {
	switch stmt.(type) {
	case Insert, Update, Delete, CreateTable, DropTable, CreateIndex, DropIndex, CreateSequence:
		return true
	}
	return false
}

// Catalog exposes the schema for tooling (.tables, .schema, dumps).
func (e *Engine) Catalog() *catalog.Catalog { return e.cat }

// Checkpoint syncs the database file and truncates a stale WAL. Safe to call
// from the background scheduler; it skips while a transaction is open.
func (e *Engine) Checkpoint() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cat.Pager.Checkpoint()
}

// Close stops the checkpointer and releases the file handles. An open
// transaction is rolled back.
func (e *Engine) Close() error {
	if e.sched != nil {
		e.sched.Stop()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cat.Pager.Close()
}
