// Disk-resident B-Tree.
//
// What: An ordered map from int32 keys to opaque payloads, stored across
// pages of the pager's address space and rooted at a designated page.
// How: Leaves hold sorted (key, payload) cells and are chained through
// next-leaf pointers; internal nodes hold separator keys and child page
// numbers. Inserts split full nodes bottom-up; the root may migrate to a new
// page, observable through RootPage.
// Why: Rewriting whole node bodies on every change keeps the cell layout
// trivially packed and pairs naturally with page-image redo logging.
package storage

import (
	"encoding/binary"
	"fmt"
	"log/slog"
)

// Row is one leaf entry: a key and its opaque payload.
type Row struct {
	Key     int32
	Payload []byte
}

// BTree provides ordered access to the entries below one root page.
type BTree struct {
	pager    *Pager
	rootPage uint32
}

// maxInternalKeys bounds separators per internal node: the body holds the
// leftmost child pointer plus 8 bytes per (separator, child) entry.
const maxInternalKeys = (PageSize - InternalBodyOffset - 4) / 8

// OpenRoot constructs a handle over the tree rooted at rootPage. No I/O
// happens until the first operation.
func OpenRoot(pager *Pager, rootPage uint32) *BTree {
	return &BTree{pager: pager, rootPage: rootPage}
}

// RootPage returns the current root page number, which may differ from the
// one passed to OpenRoot after a split migrated the root. A collapse keeps
// the root page number.
func (t *BTree) RootPage() uint32 { return t.rootPage }

// Find returns the row stored under key, or nil when absent.
func (t *BTree) Find(key int32) (*Row, error) {
	leaf, err := t.descendToLeaf(t.rootPage, key)
	if err != nil {
		return nil, err
	}
	rows, err := t.readLeafRows(leaf)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].Key == key {
			return &rows[i], nil
		}
	}
	return nil, nil
}

// Insert adds (key, payload) to the tree, splitting nodes as needed. It
// fails with ErrDuplicateKey when the key is already present.
func (t *BTree) Insert(key int32, payload []byte) error {
	if len(payload) > MaxLeafPayload {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	leaf, err := t.descendToLeaf(t.rootPage, key)
	if err != nil {
		return err
	}
	rows, err := t.readLeafRows(leaf)
	if err != nil {
		return err
	}
	pos := len(rows)
	for i, r := range rows {
		if r.Key == key {
			return fmt.Errorf("%w: %d", ErrDuplicateKey, key)
		}
		if key < r.Key {
			pos = i
			break
		}
	}
	rows = append(rows, Row{})
	copy(rows[pos+1:], rows[pos:])
	rows[pos] = Row{Key: key, Payload: payload}

	if leafRowsSize(rows) <= PageSize-LeafBodyOffset {
		return t.writeLeafRows(leaf, rows)
	}
	slog.Debug("btree leaf split", "page", leaf, "rows", len(rows))
	return t.splitLeaf(leaf, rows)
}

// Delete removes the entry under key. Deleting an absent key succeeds.
func (t *BTree) Delete(key int32) error {
	leaf, err := t.descendToLeaf(t.rootPage, key)
	if err != nil {
		return err
	}
	rows, err := t.readLeafRows(leaf)
	if err != nil {
		return err
	}
	kept := rows[:0]
	for _, r := range rows {
		if r.Key != key {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(rows) {
		return nil
	}
	if len(kept) == 0 && leaf != t.rootPage {
		return t.removeEmptyLeaf(leaf)
	}
	return t.writeLeafRows(leaf, kept)
}

// descendToLeaf walks from page n to the leaf that owns key.
func (t *BTree) descendToLeaf(n uint32, key int32) (uint32, error) {
	for {
		pg, err := t.pager.GetPage(n)
		if err != nil {
			return 0, err
		}
		switch pg.NodeType() {
		case NodeLeaf:
			return n, nil
		case NodeInternal:
			keys, children, err := t.readInternal(n)
			if err != nil {
				return 0, err
			}
			next := children[len(children)-1]
			for i, k := range keys {
				if key < k {
					next = children[i]
					break
				}
			}
			n = next
		default:
			return 0, fmt.Errorf("%w: page %d has node type %d", ErrCorruptPage, n, pg.NodeType())
		}
	}
}

// leftmostLeaf follows leftmost child pointers down from page n.
func (t *BTree) leftmostLeaf(n uint32) (uint32, error) {
	for {
		pg, err := t.pager.GetPage(n)
		if err != nil {
			return 0, err
		}
		if pg.NodeType() == NodeLeaf {
			return n, nil
		}
		if pg.NodeType() != NodeInternal {
			return 0, fmt.Errorf("%w: page %d has node type %d", ErrCorruptPage, n, pg.NodeType())
		}
		n = binary.LittleEndian.Uint32(pg.Data[InternalBodyOffset:])
	}
}

func leafRowsSize(rows []Row) int {
	size := 0
	for _, r := range rows {
		size += 8 + len(r.Payload)
	}
	return size
}

// readLeafRows parses every cell of a leaf page.
func (t *BTree) readLeafRows(n uint32) ([]Row, error) {
	pg, err := t.pager.GetPage(n)
	if err != nil {
		return nil, err
	}
	count := int(pg.CellCount())
	rows := make([]Row, 0, count)
	off := LeafBodyOffset
	for i := 0; i < count; i++ {
		if off+8 > PageSize {
			return nil, fmt.Errorf("%w: leaf %d cell %d overruns page", ErrCorruptPage, n, i)
		}
		key := int32(binary.LittleEndian.Uint32(pg.Data[off:]))
		plen := int(binary.LittleEndian.Uint32(pg.Data[off+4:]))
		off += 8
		if plen < 0 || off+plen > PageSize {
			return nil, fmt.Errorf("%w: leaf %d cell %d payload length %d", ErrCorruptPage, n, i, plen)
		}
		payload := make([]byte, plen)
		copy(payload, pg.Data[off:off+plen])
		off += plen
		rows = append(rows, Row{Key: key, Payload: payload})
	}
	return rows, nil
}

// writeLeafRows rewrites the leaf body with the given cells, which must fit.
func (t *BTree) writeLeafRows(n uint32, rows []Row) error {
	if leafRowsSize(rows) > PageSize-LeafBodyOffset {
		return errLeafOverflow
	}
	pg, err := t.pager.GetPage(n)
	if err != nil {
		return err
	}
	off := LeafBodyOffset
	for _, r := range rows {
		binary.LittleEndian.PutUint32(pg.Data[off:], uint32(r.Key))
		binary.LittleEndian.PutUint32(pg.Data[off+4:], uint32(len(r.Payload)))
		off += 8
		copy(pg.Data[off:], r.Payload)
		off += len(r.Payload)
	}
	for i := off; i < PageSize; i++ {
		pg.Data[i] = 0
	}
	pg.SetCellCount(uint16(len(rows)))
	return t.pager.MarkDirty(n)
}

// readInternal parses an internal node into its separators and children.
func (t *BTree) readInternal(n uint32) ([]int32, []uint32, error) {
	pg, err := t.pager.GetPage(n)
	if err != nil {
		return nil, nil, err
	}
	count := int(pg.CellCount())
	if InternalBodyOffset+4+count*8 > PageSize {
		return nil, nil, fmt.Errorf("%w: internal %d cell count %d", ErrCorruptPage, n, count)
	}
	keys := make([]int32, 0, count)
	children := make([]uint32, 0, count+1)
	off := InternalBodyOffset
	children = append(children, binary.LittleEndian.Uint32(pg.Data[off:]))
	off += 4
	for i := 0; i < count; i++ {
		keys = append(keys, int32(binary.LittleEndian.Uint32(pg.Data[off:])))
		children = append(children, binary.LittleEndian.Uint32(pg.Data[off+4:]))
		off += 8
	}
	return keys, children, nil
}

// writeInternal rewrites an internal node's body. len(children) must equal
// len(keys)+1.
func (t *BTree) writeInternal(n uint32, keys []int32, children []uint32) error {
	pg, err := t.pager.GetPage(n)
	if err != nil {
		return err
	}
	off := InternalBodyOffset
	binary.LittleEndian.PutUint32(pg.Data[off:], children[0])
	off += 4
	for i, k := range keys {
		binary.LittleEndian.PutUint32(pg.Data[off:], uint32(k))
		binary.LittleEndian.PutUint32(pg.Data[off+4:], children[i+1])
		off += 8
	}
	for i := off; i < PageSize; i++ {
		pg.Data[i] = 0
	}
	pg.SetCellCount(uint16(len(keys)))
	return t.pager.MarkDirty(n)
}

// splitLeaf distributes an overflowing leaf's rows across the old page and a
// fresh one, links the new page into the sibling chain, and pushes the first
// right-half key up to the parent.
func (t *BTree) splitLeaf(leaf uint32, all []Row) error {
	mid := len(all) / 2
	left, right := all[:mid], all[mid:]

	oldPg, err := t.pager.GetPage(leaf)
	if err != nil {
		return err
	}
	parent := oldPg.Parent()
	oldNext := oldPg.NextLeaf()

	newLeaf, err := t.pager.AllocatePage()
	if err != nil {
		return err
	}
	newPg, err := t.pager.GetPage(newLeaf)
	if err != nil {
		return err
	}
	newPg.InitLeaf(false, parent)
	newPg.SetNextLeaf(oldNext)
	if err := t.writeLeafRows(newLeaf, right); err != nil {
		return err
	}

	// Re-fetch: AllocatePage may have touched the cache.
	oldPg, err = t.pager.GetPage(leaf)
	if err != nil {
		return err
	}
	oldPg.SetNextLeaf(newLeaf)
	if err := t.writeLeafRows(leaf, left); err != nil {
		return err
	}

	return t.insertInParent(leaf, right[0].Key, newLeaf)
}

// insertInParent hooks newChild (everything >= sep) in next to oldChild,
// growing a new root when oldChild was the root.
func (t *BTree) insertInParent(oldChild uint32, sep int32, newChild uint32) error {
	oldPg, err := t.pager.GetPage(oldChild)
	if err != nil {
		return err
	}
	if oldChild == t.rootPage {
		newRoot, err := t.pager.AllocatePage()
		if err != nil {
			return err
		}
		rootPg, err := t.pager.GetPage(newRoot)
		if err != nil {
			return err
		}
		rootPg.InitInternal(true, 0)
		if err := t.writeInternal(newRoot, []int32{sep}, []uint32{oldChild, newChild}); err != nil {
			return err
		}
		oldPg, err = t.pager.GetPage(oldChild)
		if err != nil {
			return err
		}
		oldPg.SetIsRoot(false)
		oldPg.SetParent(newRoot)
		if err := t.pager.MarkDirty(oldChild); err != nil {
			return err
		}
		newPg, err := t.pager.GetPage(newChild)
		if err != nil {
			return err
		}
		newPg.SetParent(newRoot)
		if err := t.pager.MarkDirty(newChild); err != nil {
			return err
		}
		t.rootPage = newRoot
		slog.Debug("btree root split", "newRoot", newRoot)
		return nil
	}

	parent := oldPg.Parent()
	keys, children, err := t.readInternal(parent)
	if err != nil {
		return err
	}
	pos := len(keys)
	for i, k := range keys {
		if sep < k {
			pos = i
			break
		}
	}
	keys = append(keys, 0)
	copy(keys[pos+1:], keys[pos:])
	keys[pos] = sep
	children = append(children, 0)
	copy(children[pos+2:], children[pos+1:])
	children[pos+1] = newChild

	newPg, err := t.pager.GetPage(newChild)
	if err != nil {
		return err
	}
	newPg.SetParent(parent)
	if err := t.pager.MarkDirty(newChild); err != nil {
		return err
	}

	if len(keys) <= maxInternalKeys {
		return t.writeInternal(parent, keys, children)
	}
	slog.Debug("btree internal split", "page", parent, "keys", len(keys))
	return t.splitInternal(parent, keys, children)
}

// splitInternal halves an overflowing internal node, pushing keys[mid] up.
func (t *BTree) splitInternal(node uint32, keys []int32, children []uint32) error {
	mid := len(keys) / 2
	pushUp := keys[mid]
	leftKeys, leftChildren := keys[:mid], children[:mid+1]
	rightKeys, rightChildren := keys[mid+1:], children[mid+1:]

	nodePg, err := t.pager.GetPage(node)
	if err != nil {
		return err
	}
	parent := nodePg.Parent()

	newNode, err := t.pager.AllocatePage()
	if err != nil {
		return err
	}
	newPg, err := t.pager.GetPage(newNode)
	if err != nil {
		return err
	}
	newPg.InitInternal(false, parent)
	if err := t.writeInternal(newNode, rightKeys, rightChildren); err != nil {
		return err
	}
	for _, c := range rightChildren {
		childPg, err := t.pager.GetPage(c)
		if err != nil {
			return err
		}
		childPg.SetParent(newNode)
		if err := t.pager.MarkDirty(c); err != nil {
			return err
		}
	}
	if err := t.writeInternal(node, leftKeys, leftChildren); err != nil {
		return err
	}
	return t.insertInParent(node, pushUp, newNode)
}

// removeEmptyLeaf unlinks a leaf that lost its last row: it is taken out of
// the sibling chain, its separator entry is dropped from the parent, and the
// page is recycled. When dropping the entry would leave a non-root internal
// node without separators, the empty leaf stays in place instead; search
// remains correct either way.
func (t *BTree) removeEmptyLeaf(leaf uint32) error {
	pg, err := t.pager.GetPage(leaf)
	if err != nil {
		return err
	}
	parent := pg.Parent()
	next := pg.NextLeaf()
	keys, children, err := t.readInternal(parent)
	if err != nil {
		return err
	}

	idx := -1
	for i, c := range children {
		if c == leaf {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: page %d not a child of its parent %d", ErrCorruptPage, leaf, parent)
	}
	if len(keys) == 0 || (parent != t.rootPage && len(keys) == 1) {
		// Removal would underfill the parent; keep the empty leaf.
		return t.writeLeafRows(leaf, nil)
	}

	if idx == 0 {
		keys = keys[1:]
		children = children[1:]
	} else {
		keys = append(keys[:idx-1], keys[idx:]...)
		children = append(children[:idx], children[idx+1:]...)
	}

	// Unlink from the sibling chain.
	pred, err := t.leafPredecessor(leaf)
	if err != nil {
		return err
	}
	if pred != 0 {
		predPg, err := t.pager.GetPage(pred)
		if err != nil {
			return err
		}
		predPg.SetNextLeaf(next)
		if err := t.pager.MarkDirty(pred); err != nil {
			return err
		}
	}

	if err := t.writeInternal(parent, keys, children); err != nil {
		return err
	}
	if err := t.pager.FreePage(leaf); err != nil {
		return err
	}
	slog.Debug("btree leaf removed", "page", leaf, "parent", parent)

	if parent == t.rootPage && len(keys) == 0 {
		return t.collapseRoot(parent, children[0])
	}
	return nil
}

// collapseRoot copies an only child's bytes over the root page so the root
// page number never changes, then recycles the child.
func (t *BTree) collapseRoot(root, child uint32) error {
	childPg, err := t.pager.GetPage(child)
	if err != nil {
		return err
	}
	var buf [PageSize]byte
	copy(buf[:], childPg.Data[:])

	rootPg, err := t.pager.GetPage(root)
	if err != nil {
		return err
	}
	copy(rootPg.Data[:], buf[:])
	rootPg.SetIsRoot(true)
	rootPg.SetParent(0)
	if err := t.pager.MarkDirty(root); err != nil {
		return err
	}

	if rootPg.NodeType() == NodeInternal {
		_, grandchildren, err := t.readInternal(root)
		if err != nil {
			return err
		}
		for _, c := range grandchildren {
			cp, err := t.pager.GetPage(c)
			if err != nil {
				return err
			}
			cp.SetParent(root)
			if err := t.pager.MarkDirty(c); err != nil {
				return err
			}
		}
	}
	slog.Debug("btree root collapse", "root", root, "absorbed", child)
	return t.pager.FreePage(child)
}

// Children returns the direct children of the root, which must be an
// internal node.
func (t *BTree) Children() ([]uint32, error) {
	_, children, err := t.readInternal(t.rootPage)
	return children, err
}

// KeysAndChildren returns the root's separators and children. The root must
// be an internal node.
func (t *BTree) KeysAndChildren() ([]int32, []uint32, error) {
	return t.readInternal(t.rootPage)
}

// WriteInternalNode rewrites page n as an internal node holding the given
// separators and children. len(children) must be len(keys)+1.
func (t *BTree) WriteInternalNode(n uint32, keys []int32, children []uint32) error {
	return t.writeInternal(n, keys, children)
}

// ReparentChildren points every direct child of the root back at the root
// page. Callers that relocate a root's bytes (catalog copy-back) use this to
// repair the parent pointers afterwards.
func (t *BTree) ReparentChildren() error {
	_, children, err := t.readInternal(t.rootPage)
	if err != nil {
		return err
	}
	for _, c := range children {
		pg, err := t.pager.GetPage(c)
		if err != nil {
			return err
		}
		pg.SetParent(t.rootPage)
		if err := t.pager.MarkDirty(c); err != nil {
			return err
		}
	}
	return nil
}

// leafPredecessor walks the sibling chain and returns the leaf whose next
// pointer is target, or 0 when target is the leftmost leaf.
func (t *BTree) leafPredecessor(target uint32) (uint32, error) {
	n, err := t.leftmostLeaf(t.rootPage)
	if err != nil {
		return 0, err
	}
	for n != 0 && n != target {
		pg, err := t.pager.GetPage(n)
		if err != nil {
			return 0, err
		}
		next := pg.NextLeaf()
		if next == target {
			return n, nil
		}
		n = next
	}
	return 0, nil
}
