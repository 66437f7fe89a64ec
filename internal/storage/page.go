// Package storage implements the paged single-file store underneath quilldb:
// the pager and its free-page list, the write-ahead log, the transaction
// manager, the disk-resident B-Tree, and the row codec shared by all of them.
//
// What: Fixed-size 4 KiB pages addressed by number inside one regular file,
// with crash safety provided by redo-logging whole page images.
// How: Every page starts with an 8-byte header (node type, root flag, parent
// page, cell count). Leaf pages additionally carry a next-leaf pointer right
// after the header, so ordered scans follow the sibling chain instead of
// re-descending from the root.
// Why: A page-image log and a flat page cache keep the recovery story simple:
// replay is idempotent, and a page is either entirely on disk or not at all.
package storage

import "encoding/binary"

// PageSize is the fixed size of every page in the database file and of every
// page image in the WAL.
const PageSize = 4096

// Page header layout. All multi-byte fields are little-endian.
const (
	nodeTypeOffset  = 0 // 1 byte: NodeInternal or NodeLeaf
	isRootOffset    = 1 // 1 byte: 0 or 1
	parentOffset    = 2 // 4 bytes: parent page number, 0 = none
	cellCountOffset = 6 // 2 bytes: number of cells in the node

	// HeaderSize is the size of the common page header.
	HeaderSize = 8

	// nextLeafOffset holds the right-sibling page number on leaf pages.
	// Zero terminates the chain. Internal nodes do not use this slot; their
	// body starts directly after the common header.
	nextLeafOffset = 8

	// LeafBodyOffset is where leaf cells begin.
	LeafBodyOffset = HeaderSize + 4

	// InternalBodyOffset is where the internal-node body begins.
	InternalBodyOffset = HeaderSize
)

// Node type tags stored in the first header byte.
const (
	NodeInternal byte = 0
	NodeLeaf     byte = 1
)

// MaxLeafPayload bounds a single leaf cell's payload: the 4-byte key and
// 4-byte length prefix must fit in the leaf body together with the payload.
const MaxLeafPayload = PageSize - LeafBodyOffset - 8

// Page is a single fixed-size block of the database file, cached in memory.
type Page struct {
	Data [PageSize]byte
}

// NodeType reports whether the page is a leaf or an internal node.
func (p *Page) NodeType() byte { return p.Data[nodeTypeOffset] }

// SetNodeType tags the page as NodeLeaf or NodeInternal.
func (p *Page) SetNodeType(t byte) { p.Data[nodeTypeOffset] = t }

// IsRoot reports the root flag.
func (p *Page) IsRoot() bool { return p.Data[isRootOffset] == 1 }

// SetIsRoot sets or clears the root flag.
func (p *Page) SetIsRoot(root bool) {
	if root {
		p.Data[isRootOffset] = 1
	} else {
		p.Data[isRootOffset] = 0
	}
}

// Parent returns the parent page number, 0 when the page has none.
func (p *Page) Parent() uint32 {
	return binary.LittleEndian.Uint32(p.Data[parentOffset:])
}

// SetParent records the parent page number.
func (p *Page) SetParent(parent uint32) {
	binary.LittleEndian.PutUint32(p.Data[parentOffset:], parent)
}

// CellCount returns the number of cells stored in the node.
func (p *Page) CellCount() uint16 {
	return binary.LittleEndian.Uint16(p.Data[cellCountOffset:])
}

// SetCellCount records the number of cells stored in the node.
func (p *Page) SetCellCount(n uint16) {
	binary.LittleEndian.PutUint16(p.Data[cellCountOffset:], n)
}

// NextLeaf returns the right sibling of a leaf page, 0 at the end of the
// chain. Meaningful only on leaf pages.
func (p *Page) NextLeaf() uint32 {
	return binary.LittleEndian.Uint32(p.Data[nextLeafOffset:])
}

// SetNextLeaf links the leaf to its right sibling.
func (p *Page) SetNextLeaf(next uint32) {
	binary.LittleEndian.PutUint32(p.Data[nextLeafOffset:], next)
}

// InitLeaf formats the page as an empty leaf.
func (p *Page) InitLeaf(root bool, parent uint32) {
	p.SetNodeType(NodeLeaf)
	p.SetIsRoot(root)
	p.SetParent(parent)
	p.SetCellCount(0)
	p.SetNextLeaf(0)
}

// InitInternal formats the page as an internal node with no entries yet.
func (p *Page) InitInternal(root bool, parent uint32) {
	p.SetNodeType(NodeInternal)
	p.SetIsRoot(root)
	p.SetParent(parent)
	p.SetCellCount(0)
}
