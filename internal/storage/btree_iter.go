package storage

// Cursor yields a tree's leaf entries in ascending key order. It is a
// single-pass, forward-only iterator: once exhausted it stays exhausted.
type Cursor struct {
	tree *BTree
	rows []Row
	idx  int
	next uint32
	done bool
}

// ScanAllRows positions a cursor at the leftmost leaf of the tree.
func (t *BTree) ScanAllRows() (*Cursor, error) {
	leaf, err := t.leftmostLeaf(t.rootPage)
	if err != nil {
		return nil, err
	}
	c := &Cursor{tree: t}
	if err := c.loadLeaf(leaf); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cursor) loadLeaf(n uint32) error {
	pg, err := c.tree.pager.GetPage(n)
	if err != nil {
		return err
	}
	rows, err := c.tree.readLeafRows(n)
	if err != nil {
		return err
	}
	c.rows = rows
	c.idx = 0
	c.next = pg.NextLeaf()
	return nil
}

// Next returns the following row, or nil when the scan is exhausted.
func (c *Cursor) Next() (*Row, error) {
	for !c.done {
		if c.idx < len(c.rows) {
			r := &c.rows[c.idx]
			c.idx++
			return r, nil
		}
		if c.next == 0 {
			c.done = true
			break
		}
		if err := c.loadLeaf(c.next); err != nil {
			return nil, err
		}
	}
	return nil, nil
}
