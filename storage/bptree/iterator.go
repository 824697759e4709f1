package bptree

import (
	"fmt"

	"relstore/storage/page"
	"relstore/types"
)

// Iterator walks the leaf chain in ascending key order, crossing page
// boundaries via NextLeaf exactly as spec.md §5.2 requires. It holds at
// most one leaf page pinned at a time.
type Iterator struct {
	tree *BPlusTree
	pg   *page.Page
	leaf *LeafNode
	idx  int
	done bool
}

// Begin returns an iterator positioned at the smallest key in the tree.
func (t *BPlusTree) Begin() (*Iterator, error) {
	cur := t.root
	for {
		pg, err := t.bp.FetchPage(cur)
		if err != nil {
			return nil, fmt.Errorf("bptree.Begin: %w", err)
		}
		if IsLeafPage(pg) {
			leaf, err := DecodeLeaf(pg, t.keySchema)
			if err != nil {
				t.bp.UnpinPage(cur, false)
				return nil, err
			}
			it := &Iterator{tree: t, pg: pg, leaf: leaf, idx: 0}
			if len(leaf.Entries) == 0 {
				if err := it.advancePage(); err != nil {
					return nil, err
				}
			}
			return it, nil
		}
		node, err := DecodeInternal(pg, t.keySchema)
		if err != nil {
			t.bp.UnpinPage(cur, false)
			return nil, err
		}
		next := node.Entries[0].Child
		if err := t.bp.UnpinPage(cur, false); err != nil {
			return nil, err
		}
		cur = next
	}
}

// BeginAt returns an iterator positioned at the first entry whose key is
// >= from, following the leaf chain forward if from's own leaf runs out.
func (t *BPlusTree) BeginAt(from Key) (*Iterator, error) {
	pg, leaf, err := t.findLeafForRead(from)
	if err != nil {
		return nil, err
	}
	idx := 0
	for idx < len(leaf.Entries) && Compare(leaf.Entries[idx].Key, from) < 0 {
		idx++
	}
	it := &Iterator{tree: t, pg: pg, leaf: leaf, idx: idx}
	if idx >= len(leaf.Entries) {
		if err := it.advancePage(); err != nil {
			return nil, err
		}
	}
	return it, nil
}

func (it *Iterator) advancePage() error {
	next := it.leaf.NextLeaf
	if it.pg != nil {
		it.tree.bp.UnpinPage(it.pg.ID, false)
	}
	if !next.Valid() {
		it.pg = nil
		it.leaf = nil
		it.done = true
		return nil
	}
	pg, err := it.tree.bp.FetchPage(next)
	if err != nil {
		return fmt.Errorf("bptree.Iterator: %w", err)
	}
	leaf, err := DecodeLeaf(pg, it.tree.keySchema)
	if err != nil {
		it.tree.bp.UnpinPage(next, false)
		return err
	}
	it.pg = pg
	it.leaf = leaf
	it.idx = 0
	if len(leaf.Entries) == 0 {
		return it.advancePage()
	}
	return nil
}

// Next returns the current entry and advances. ok is false once the
// iterator is exhausted, at which point it has already unpinned its page.
func (it *Iterator) Next() (key Key, rid types.RowId, ok bool, err error) {
	if it.done {
		return nil, types.RowId{}, false, nil
	}
	e := it.leaf.Entries[it.idx]
	it.idx++
	if it.idx >= len(it.leaf.Entries) {
		if err := it.advancePage(); err != nil {
			return nil, types.RowId{}, false, err
		}
	}
	return e.Key, e.Rid, true, nil
}

// Close releases the iterator's pinned page if it was abandoned before
// running to completion.
func (it *Iterator) Close() error {
	if it.done || it.pg == nil {
		return nil
	}
	err := it.tree.bp.UnpinPage(it.pg.ID, false)
	it.done = true
	it.pg = nil
	return err
}
