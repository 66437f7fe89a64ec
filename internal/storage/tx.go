// Transaction manager.
//
// One transaction at a time per pager. Mutations inside the bracket append
// page post-images to the WAL (see MarkDirty); commit flushes the dirty set
// into the database file, appends a checkpoint, and truncates the log;
// rollback forgets the dirty buffers so the next read reloads committed
// state from disk.
package storage

import (
	"log/slog"
	"sort"

	"github.com/google/uuid"
)

// Tx tracks one open transaction.
type Tx struct {
	ID    uuid.UUID
	Name  string
	dirty map[uint32]bool
}

// BeginTransaction opens a transaction. The optional name only shows up in
// logs.
func (p *Pager) BeginTransaction(name string) error {
	if p.tx != nil {
		return ErrTransactionActive
	}
	p.tx = &Tx{ID: uuid.New(), Name: name, dirty: make(map[uint32]bool)}
	slog.Debug("transaction begin", "id", p.tx.ID, "name", name)
	return nil
}

// TransactionActive reports whether a transaction is open.
func (p *Pager) TransactionActive() bool { return p.tx != nil }

// CommitTransaction makes the transaction's page writes durable: dirty pages
// are written to the database file, a checkpoint is appended, and the WAL is
// truncated.
func (p *Pager) CommitTransaction() error {
	if p.tx == nil {
		return ErrNoTransaction
	}
	tx := p.tx
	pages := make([]uint32, 0, len(tx.dirty))
	for n := range tx.dirty {
		pages = append(pages, n)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })
	for _, n := range pages {
		if err := p.FlushPage(n); err != nil {
			return err
		}
	}
	if !p.opts.SyncWrites {
		if err := p.file.Sync(); err != nil {
			return err
		}
	}
	if err := p.wal.AppendCheckpoint(); err != nil {
		return err
	}
	if err := p.wal.Truncate(); err != nil {
		return err
	}
	p.tx = nil
	slog.Debug("transaction commit", "id", tx.ID, "pages", len(pages))
	return nil
}

// RollbackTransaction discards the transaction's cached page images. Pages
// it touched reload from the database file on next access; pages it
// allocated beyond the file end cease to exist.
func (p *Pager) RollbackTransaction() error {
	if p.tx == nil {
		return ErrNoTransaction
	}
	tx := p.tx
	for n := range tx.dirty {
		delete(p.cache, n)
	}
	for n := range p.cache {
		if n >= p.fileLengthPages {
			delete(p.cache, n)
		}
	}
	p.numPages = p.fileLengthPages
	if err := p.wal.AppendCheckpoint(); err != nil {
		return err
	}
	if err := p.wal.Truncate(); err != nil {
		return err
	}
	p.tx = nil
	slog.Debug("transaction rollback", "id", tx.ID)
	return nil
}
