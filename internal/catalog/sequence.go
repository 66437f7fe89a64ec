// Named sequences, persisted in the reserved B-Tree on page 2.
package catalog

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/quilldb/quilldb/internal/storage"
)

// CreateSequence registers a sequence. Current starts one increment below
// start so the first NextSequenceValue returns start itself.
func (c *Catalog) CreateSequence(name string, start, increment int64) error {
	if _, ok := c.sequences[name]; ok {
		return fmt.Errorf("%w: %s", ErrSequenceExists, name)
	}
	if increment == 0 {
		increment = 1
	}
	seq := &SequenceInfo{
		Name:      name,
		Current:   start - increment,
		Start:     start,
		Increment: increment,
		key:       c.nextSequenceKey(),
	}
	tree := storage.OpenRoot(c.Pager, sequenceCatalogRoot)
	if err := tree.Insert(seq.key, encodeSequenceRow(seq).Serialize()); err != nil {
		return err
	}
	if err := c.copyBackRoot(tree, sequenceCatalogRoot); err != nil {
		return err
	}
	c.sequences[name] = seq
	slog.Debug("sequence created", "name", name, "start", start, "increment", increment)
	return nil
}

func (c *Catalog) nextSequenceKey() int32 {
	max := int32(0)
	for _, s := range c.sequences {
		if s.key > max {
			max = s.key
		}
	}
	return max + 1
}

// AllSequences returns every sequence sorted by name.
func (c *Catalog) AllSequences() []*SequenceInfo {
	out := make([]*SequenceInfo, 0, len(c.sequences))
	for _, s := range c.sequences {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetSequence resolves a sequence by name.
func (c *Catalog) GetSequence(name string) (*SequenceInfo, error) {
	seq, ok := c.sequences[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSequenceNotFound, name)
	}
	return seq, nil
}

// HasSequence reports whether a sequence exists.
func (c *Catalog) HasSequence(name string) bool {
	_, ok := c.sequences[name]
	return ok
}

// NextSequenceValue advances the sequence by its increment, persists the new
// state, and returns the value.
func (c *Catalog) NextSequenceValue(name string) (int64, error) {
	seq, ok := c.sequences[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrSequenceNotFound, name)
	}
	seq.Current += seq.Increment
	if err := c.rewriteSequence(seq); err != nil {
		return 0, err
	}
	return seq.Current, nil
}

// UpdateSequenceCurrent advances the sequence to at least v, never backward.
// Explicitly inserted auto-increment values go through this so generated
// values do not collide with them later.
func (c *Catalog) UpdateSequenceCurrent(name string, v int64) error {
	seq, ok := c.sequences[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSequenceNotFound, name)
	}
	if v <= seq.Current {
		return nil
	}
	seq.Current = v
	return c.rewriteSequence(seq)
}

func (c *Catalog) rewriteSequence(seq *SequenceInfo) error {
	tree := storage.OpenRoot(c.Pager, sequenceCatalogRoot)
	if err := tree.Delete(seq.key); err != nil {
		return err
	}
	if err := tree.Insert(seq.key, encodeSequenceRow(seq).Serialize()); err != nil {
		return err
	}
	return c.copyBackRoot(tree, sequenceCatalogRoot)
}
