// Pager: page cache over one database file.
//
// What: Translates page numbers into mutable in-memory buffers backed by a
// single regular file, and owns the WAL and free-page list.
// How: Two counters separate address space from disk: fileLengthPages counts
// pages already written to the file, numPages counts every page the pager
// knows about, including ones that so far exist only in the cache. A page
// becomes durable at its first flush.
// Why: Keeping "allocated" and "on disk" distinct lets a transaction allocate
// freely and lets rollback forget the allocations by resetting one counter.
package storage

import (
	"fmt"
	"log/slog"
	"os"
)

// PagerOptions tunes durability behavior.
type PagerOptions struct {
	// SyncWrites fsyncs the database file after every page flush. When
	// false, individual flushes skip the fsync and commit (or a scheduled
	// checkpoint) performs one sync for the batch.
	SyncWrites bool
}

// DefaultPagerOptions returns the durable default configuration.
func DefaultPagerOptions() *PagerOptions { return &PagerOptions{SyncWrites: true} }

// Pager manages reading and writing fixed-size pages of one database file
// and keeps a cache of loaded pages.
type Pager struct {
	file *os.File
	path string
	wal  *WAL
	opts PagerOptions

	// fileLengthPages counts pages on disk; numPages counts all pages the
	// pager has handed out. fileLengthPages <= numPages always holds.
	fileLengthPages uint32
	numPages        uint32

	cache map[uint32]*Page
	tx    *Tx
}

// OpenPager opens or creates the database file at path, replays the sibling
// WAL, and returns a ready pager. A nil opts selects DefaultPagerOptions.
func OpenPager(path string, opts *PagerOptions) (*Pager, error) {
	if opts == nil {
		opts = DefaultPagerOptions()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	wal, err := OpenWAL(path+".wal", f)
	if err != nil {
		f.Close()
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		wal.Close()
		f.Close()
		return nil, err
	}
	p := &Pager{
		file:            f,
		path:            path,
		wal:             wal,
		opts:            *opts,
		fileLengthPages: uint32(st.Size() / PageSize),
		cache:           make(map[uint32]*Page),
	}
	p.numPages = p.fileLengthPages
	slog.Debug("pager open", "path", path, "pages", p.numPages)
	return p, nil
}

// GetPage returns the cached buffer for page n, extending the address space
// and loading from disk as needed. Freshly allocated pages read as zeros.
func (p *Pager) GetPage(n uint32) (*Page, error) {
	if n >= p.numPages {
		p.numPages = n + 1
	}
	if pg, ok := p.cache[n]; ok {
		return pg, nil
	}
	pg := &Page{}
	if n < p.fileLengthPages {
		if _, err := p.file.ReadAt(pg.Data[:], int64(n)*PageSize); err != nil {
			return nil, fmt.Errorf("read page %d: %w", n, err)
		}
	}
	p.cache[n] = pg
	return pg, nil
}

// AllocatePage returns a page number not currently in use, preferring the
// free list over growing the file. The page starts zero-filled in memory and
// is not written to disk until flushed.
func (p *Pager) AllocatePage() (uint32, error) {
	if n, ok, err := p.popFreePage(); err != nil {
		return 0, err
	} else if ok {
		p.cache[n] = &Page{}
		if n >= p.numPages {
			p.numPages = n + 1
		}
		return n, nil
	}
	n := p.numPages
	p.numPages++
	return n, nil
}

// FreePage returns a page to the free list for reuse by AllocatePage.
func (p *Pager) FreePage(n uint32) error {
	delete(p.cache, n)
	if p.tx != nil {
		delete(p.tx.dirty, n)
	}
	return p.pushFreePage(n)
}

// FlushPage writes the cached buffer for page n to disk. Flushing a page at
// or beyond the current file length extends the file.
func (p *Pager) FlushPage(n uint32) error {
	pg, ok := p.cache[n]
	if !ok {
		return nil
	}
	if _, err := p.file.WriteAt(pg.Data[:], int64(n)*PageSize); err != nil {
		return fmt.Errorf("flush page %d: %w", n, err)
	}
	if p.opts.SyncWrites {
		if err := p.file.Sync(); err != nil {
			return err
		}
	}
	if n >= p.fileLengthPages {
		p.fileLengthPages = n + 1
	}
	return nil
}

// MarkDirty records that page n was mutated. Inside a transaction the page's
// post-image is appended to the WAL and the flush is deferred to commit;
// outside one the page is flushed immediately.
func (p *Pager) MarkDirty(n uint32) error {
	if p.tx == nil {
		return p.FlushPage(n)
	}
	pg, ok := p.cache[n]
	if !ok {
		return nil
	}
	if err := p.wal.AppendPage(n, &pg.Data); err != nil {
		return err
	}
	p.tx.dirty[n] = true
	return nil
}

// WriteThrough persists page n right away when no transaction is active and
// otherwise defers to the transaction's dirty set. Catalog bootstrap and
// root copy-back use it so reserved pages reach disk at a well-defined point.
func (p *Pager) WriteThrough(n uint32) error {
	if p.tx != nil {
		return p.MarkDirty(n)
	}
	return p.FlushPage(n)
}

// FileLengthPages reports how many pages are on disk.
func (p *Pager) FileLengthPages() uint32 { return p.fileLengthPages }

// NumPages reports how many pages the pager currently addresses.
func (p *Pager) NumPages() uint32 { return p.numPages }

// Checkpoint syncs the database file and truncates the WAL. It is a no-op
// while a transaction is active.
func (p *Pager) Checkpoint() error {
	if p.tx != nil {
		return nil
	}
	if err := p.file.Sync(); err != nil {
		return err
	}
	return p.wal.Truncate()
}

// Close releases the file handles. An active transaction is rolled back
// first so its effects do not leak to the next open.
func (p *Pager) Close() error {
	if p.tx != nil {
		if err := p.RollbackTransaction(); err != nil {
			return err
		}
	}
	if err := p.wal.Close(); err != nil {
		return err
	}
	return p.file.Close()
}
