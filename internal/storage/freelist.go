// Free-page list.
//
// Page 0 is never used by the catalog, so the pager keeps the list of
// reusable page numbers there: a u16 count at offset 0 and count u32
// entries starting at offset 4.
// Mutations go through the same dirty-page protocol as node pages, so a
// rolled-back transaction also rolls back its allocations.
package storage

import (
	"encoding/binary"
	"log/slog"
)

const (
	freelistPage       = 0
	freelistCountOff   = 0
	freelistEntriesOff = 4
	freelistCap        = (PageSize - freelistEntriesOff) / 4
)

func (p *Pager) popFreePage() (uint32, bool, error) {
	if p.numPages == 0 {
		// Fresh file: page 0 does not exist yet, nothing to pop.
		return 0, false, nil
	}
	pg, err := p.GetPage(freelistPage)
	if err != nil {
		return 0, false, err
	}
	count := binary.LittleEndian.Uint16(pg.Data[freelistCountOff:])
	if count == 0 {
		return 0, false, nil
	}
	count--
	n := binary.LittleEndian.Uint32(pg.Data[freelistEntriesOff+4*int(count):])
	binary.LittleEndian.PutUint32(pg.Data[freelistEntriesOff+4*int(count):], 0)
	binary.LittleEndian.PutUint16(pg.Data[freelistCountOff:], count)
	if err := p.MarkDirty(freelistPage); err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (p *Pager) pushFreePage(n uint32) error {
	pg, err := p.GetPage(freelistPage)
	if err != nil {
		return err
	}
	count := binary.LittleEndian.Uint16(pg.Data[freelistCountOff:])
	if int(count) >= freelistCap {
		// List full: the page is leaked rather than spilling the list to
		// an overflow page.
		slog.Debug("freelist full, leaking page", "page", n)
		return nil
	}
	binary.LittleEndian.PutUint32(pg.Data[freelistEntriesOff+4*int(count):], n)
	binary.LittleEndian.PutUint16(pg.Data[freelistCountOff:], count+1)
	return p.MarkDirty(freelistPage)
}

// FreePageCount reports how many pages are waiting for reuse.
func (p *Pager) FreePageCount() (int, error) {
	if p.numPages == 0 {
		return 0, nil
	}
	pg, err := p.GetPage(freelistPage)
	if err != nil {
		return 0, err
	}
	return int(binary.LittleEndian.Uint16(pg.Data[freelistCountOff:])), nil
}
