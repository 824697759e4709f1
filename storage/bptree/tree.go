package bptree

import (
	"fmt"

	"relstore/storage/bufferpool"
	"relstore/storage/page"
	"relstore/types"
)

// RootChanged is called whenever a tree operation installs a new root page
// id — the catalog wires this to persist the new root into the
// catalog's index-roots page (spec.md §6.2) so the change survives restart.
type RootChanged func(newRoot types.PageId) error

// BPlusTree is one index's on-disk structure. It never owns the buffer
// pool it is handed — the catalog and every other index share the same
// pool and disk file.
type BPlusTree struct {
	bp        *bufferpool.BufferPool
	keySchema *types.Schema
	root      types.PageId
	onRoot    RootChanged
}

// New allocates a fresh, empty tree (a single empty leaf as its root).
func New(bp *bufferpool.BufferPool, keySchema *types.Schema, onRoot RootChanged) (*BPlusTree, error) {
	pg, err := bp.NewPage(types.PageTypeBTreeLeaf)
	if err != nil {
		return nil, fmt.Errorf("bptree.New: %w", err)
	}
	EncodeLeaf(pg, NewLeaf())
	root := pg.ID
	if err := bp.UnpinPage(root, true); err != nil {
		return nil, err
	}
	if onRoot != nil {
		if err := onRoot(root); err != nil {
			return nil, err
		}
	}
	return &BPlusTree{bp: bp, keySchema: keySchema, root: root, onRoot: onRoot}, nil
}

// Open reattaches to a tree whose root page id is already known.
func Open(bp *bufferpool.BufferPool, keySchema *types.Schema, root types.PageId, onRoot RootChanged) *BPlusTree {
	return &BPlusTree{bp: bp, keySchema: keySchema, root: root, onRoot: onRoot}
}

func (t *BPlusTree) RootPageID() types.PageId { return t.root }

func (t *BPlusTree) setRoot(id types.PageId) error {
	t.root = id
	if t.onRoot != nil {
		return t.onRoot(id)
	}
	return nil
}

// GetValue returns the RowId stored under key, or a NOT_FOUND error.
func (t *BPlusTree) GetValue(key Key) (types.RowId, error) {
	leafPg, leaf, err := t.findLeafForRead(key)
	if err != nil {
		return types.RowId{}, err
	}
	defer t.bp.UnpinPage(leafPg.ID, false)

	i, ok := leaf.Find(key)
	if !ok {
		return types.RowId{}, types.NewError("BPlusTree.GetValue", types.KindNotFound, "")
	}
	return leaf.Entries[i].Rid, nil
}

func (t *BPlusTree) findLeafForRead(key Key) (*page.Page, *LeafNode, error) {
	cur := t.root
	for {
		pg, err := t.bp.FetchPage(cur)
		if err != nil {
			return nil, nil, fmt.Errorf("bptree: findLeafForRead: %w", err)
		}
		if IsLeafPage(pg) {
			leaf, err := DecodeLeaf(pg, t.keySchema)
			if err != nil {
				t.bp.UnpinPage(cur, false)
				return nil, nil, err
			}
			return pg, leaf, nil
		}
		node, err := DecodeInternal(pg, t.keySchema)
		if err != nil {
			t.bp.UnpinPage(cur, false)
			return nil, nil, err
		}
		next := node.Entries[node.ChildIndex(key)].Child
		if err := t.bp.UnpinPage(cur, false); err != nil {
			return nil, nil, err
		}
		cur = next
	}
}

type pathEntry struct {
	id   types.PageId
	pg   *page.Page
	node *InternalNode
}

// descendForWrite walks root-to-leaf, pinning every page it visits. The
// caller is responsible for unpinning every path entry and the leaf once
// it is done rebalancing.
func (t *BPlusTree) descendForWrite(key Key) (path []pathEntry, leafPg *page.Page, leaf *LeafNode, err error) {
	cur := t.root
	for {
		pg, ferr := t.bp.FetchPage(cur)
		if ferr != nil {
			return nil, nil, nil, fmt.Errorf("bptree: descendForWrite: %w", ferr)
		}
		if IsLeafPage(pg) {
			ln, derr := DecodeLeaf(pg, t.keySchema)
			if derr != nil {
				return nil, nil, nil, derr
			}
			return path, pg, ln, nil
		}
		node, derr := DecodeInternal(pg, t.keySchema)
		if derr != nil {
			return nil, nil, nil, derr
		}
		path = append(path, pathEntry{id: cur, pg: pg, node: node})
		cur = node.Entries[node.ChildIndex(key)].Child
	}
}

func (t *BPlusTree) unpinPath(path []pathEntry, leafPg *page.Page) {
	if leafPg != nil {
		t.bp.UnpinPage(leafPg.ID, false)
	}
	for i := len(path) - 1; i >= 0; i-- {
		t.bp.UnpinPage(path[i].id, false)
	}
}

// Insert adds (key, rid). It returns a DUPLICATE_KEY error if the key
// already exists — uniqueness is the tree's own invariant here, not
// deferred to a higher layer, since every index spec.md describes is
// unique.
func (t *BPlusTree) Insert(key Key, rid types.RowId) error {
	path, leafPg, leaf, err := t.descendForWrite(key)
	if err != nil {
		return err
	}

	if _, found := leaf.Find(key); found {
		t.unpinPath(path, leafPg)
		return types.NewError("BPlusTree.Insert", types.KindDuplicateKey, "")
	}

	leaf.InsertSorted(key, rid)

	if leaf.size() <= capacity {
		EncodeLeaf(leafPg, leaf)
		t.unpinPath(path, leafPg)
		return nil
	}

	newLeafPg, err := t.bp.NewPage(types.PageTypeBTreeLeaf)
	if err != nil {
		t.unpinPath(path, leafPg)
		return fmt.Errorf("BPlusTree.Insert: split: %w", err)
	}
	newLeaf := NewLeaf()
	leaf.MoveHalfTo(newLeaf)
	newLeaf.NextLeaf = leaf.NextLeaf
	leaf.NextLeaf = newLeafPg.ID
	risenKey := newLeaf.Entries[0].Key

	EncodeLeaf(leafPg, leaf)
	EncodeLeaf(newLeafPg, newLeaf)
	leftID := leafPg.ID
	rightID := newLeafPg.ID
	t.bp.UnpinPage(leafPg.ID, false)
	t.bp.UnpinPage(newLeafPg.ID, false)

	return t.insertIntoParent(path, leftID, risenKey, rightID)
}

// insertIntoParent registers a newly split right sibling with its parent,
// splitting the parent in turn (and recursing) if it no longer fits, or
// creating a brand-new root if leftChild had no parent at all.
func (t *BPlusTree) insertIntoParent(path []pathEntry, leftChild types.PageId, sepKey Key, rightChild types.PageId) error {
	if len(path) == 0 {
		newRootPg, err := t.bp.NewPage(types.PageTypeBTreeInternal)
		if err != nil {
			return fmt.Errorf("BPlusTree.insertIntoParent: new root: %w", err)
		}
		root := NewInternal()
		root.PopulateNewRoot(leftChild, sepKey, rightChild)
		EncodeInternal(newRootPg, root)
		if err := t.bp.UnpinPage(newRootPg.ID, false); err != nil {
			return err
		}
		return t.setRoot(newRootPg.ID)
	}

	last := path[len(path)-1]
	rest := path[:len(path)-1]
	last.node.InsertAfter(leftChild, sepKey, rightChild)

	if last.node.size() <= capacity {
		EncodeInternal(last.pg, last.node)
		t.unpinPath(rest, nil)
		t.bp.UnpinPage(last.id, false)
		return nil
	}

	newInternalPg, err := t.bp.NewPage(types.PageTypeBTreeInternal)
	if err != nil {
		t.unpinPath(rest, nil)
		t.bp.UnpinPage(last.id, false)
		return fmt.Errorf("BPlusTree.insertIntoParent: split: %w", err)
	}
	newInternal := NewInternal()
	risenKey := last.node.MoveHalfTo(newInternal)

	EncodeInternal(last.pg, last.node)
	EncodeInternal(newInternalPg, newInternal)
	leftID := last.id
	rightID := newInternalPg.ID
	t.bp.UnpinPage(last.id, false)
	t.bp.UnpinPage(newInternalPg.ID, false)

	return t.insertIntoParent(rest, leftID, risenKey, rightID)
}

// Remove deletes key. It returns NOT_FOUND if the key is absent.
func (t *BPlusTree) Remove(key Key) error {
	path, leafPg, leaf, err := t.descendForWrite(key)
	if err != nil {
		return err
	}

	i, found := leaf.Find(key)
	if !found {
		t.unpinPath(path, leafPg)
		return types.NewError("BPlusTree.Remove", types.KindNotFound, "")
	}
	leaf.RemoveAt(i)

	if len(path) == 0 {
		// Leaf is the root: it may shrink to empty, that's fine.
		EncodeLeaf(leafPg, leaf)
		t.bp.UnpinPage(leafPg.ID, false)
		return nil
	}

	if !leaf.Underfull() {
		EncodeLeaf(leafPg, leaf)
		t.bp.UnpinPage(leafPg.ID, false)
		t.unpinPath(path, nil)
		return nil
	}

	return t.coalesceOrRedistributeLeaf(path, leafPg, leaf)
}

func (t *BPlusTree) coalesceOrRedistributeLeaf(path []pathEntry, leafPg *page.Page, leaf *LeafNode) error {
	parent := path[len(path)-1]
	rest := path[:len(path)-1]
	idx := indexOfChild(parent.node, leafPg.ID)

	if idx > 0 {
		prevID := parent.node.Entries[idx-1].Child
		prevPg, err := t.bp.FetchPage(prevID)
		if err != nil {
			t.bp.UnpinPage(leafPg.ID, false)
			t.bp.UnpinPage(parent.id, false)
			t.unpinPath(rest, nil)
			return err
		}
		prevLeaf, err := DecodeLeaf(prevPg, t.keySchema)
		if err != nil {
			t.bp.UnpinPage(prevID, false)
			t.bp.UnpinPage(leafPg.ID, false)
			t.bp.UnpinPage(parent.id, false)
			t.unpinPath(rest, nil)
			return err
		}

		// Merging the two leaves only fits within a page's byte budget when
		// their combined size is within capacity — an underfull leaf's
		// sibling can be almost twice minFill, so "sibling is above minFill"
		// alone is not enough to decide. When the merge would overflow,
		// redistribute a single entry instead.
		if prevLeaf.size()+leaf.size() <= capacity {
			leaf.MoveAllTo(prevLeaf)
			prevLeaf.NextLeaf = leaf.NextLeaf
			EncodeLeaf(prevPg, prevLeaf)
			t.bp.UnpinPage(prevID, false)
			deletedID := leafPg.ID
			t.bp.UnpinPage(leafPg.ID, false)
			if err := t.bp.DeletePage(deletedID); err != nil {
				t.bp.UnpinPage(parent.id, false)
				t.unpinPath(rest, nil)
				return fmt.Errorf("BPlusTree.Remove: %w", err)
			}
			parent.node.RemoveChild(deletedID)
			return t.coalesceOrRedistributeInternal(rest, parent)
		}
		prevLeaf.MoveLastToFrontOf(leaf)
		parent.node.Entries[idx] = InternalEntry{Key: leaf.Entries[0].Key, Child: leafPg.ID}
		EncodeLeaf(prevPg, prevLeaf)
		EncodeLeaf(leafPg, leaf)
		EncodeInternal(parent.pg, parent.node)
		t.bp.UnpinPage(prevID, false)
		t.bp.UnpinPage(leafPg.ID, false)
		t.bp.UnpinPage(parent.id, false)
		t.unpinPath(rest, nil)
		return nil
	}

	// No left sibling: try the right sibling instead.
	nextID := parent.node.Entries[idx+1].Child
	nextPg, err := t.bp.FetchPage(nextID)
	if err != nil {
		t.bp.UnpinPage(leafPg.ID, false)
		t.bp.UnpinPage(parent.id, false)
		t.unpinPath(rest, nil)
		return err
	}
	nextLeaf, err := DecodeLeaf(nextPg, t.keySchema)
	if err != nil {
		t.bp.UnpinPage(nextID, false)
		t.bp.UnpinPage(leafPg.ID, false)
		t.bp.UnpinPage(parent.id, false)
		t.unpinPath(rest, nil)
		return err
	}

	if leaf.size()+nextLeaf.size() <= capacity {
		nextLeaf.MoveAllTo(leaf)
		leaf.NextLeaf = nextLeaf.NextLeaf
		EncodeLeaf(leafPg, leaf)
		t.bp.UnpinPage(leafPg.ID, false)
		t.bp.UnpinPage(nextID, false)
		if err := t.bp.DeletePage(nextID); err != nil {
			t.bp.UnpinPage(parent.id, false)
			t.unpinPath(rest, nil)
			return fmt.Errorf("BPlusTree.Remove: %w", err)
		}
		parent.node.RemoveChild(nextID)
		return t.coalesceOrRedistributeInternal(rest, parent)
	}
	nextLeaf.MoveFirstToEndOf(leaf)
	parent.node.Entries[idx+1] = InternalEntry{Key: nextLeaf.Entries[0].Key, Child: nextID}
	EncodeLeaf(leafPg, leaf)
	EncodeLeaf(nextPg, nextLeaf)
	EncodeInternal(parent.pg, parent.node)
	t.bp.UnpinPage(leafPg.ID, false)
	t.bp.UnpinPage(nextID, false)
	t.bp.UnpinPage(parent.id, false)
	t.unpinPath(rest, nil)
	return nil
}

func (t *BPlusTree) coalesceOrRedistributeInternal(rest []pathEntry, node pathEntry) error {
	if len(rest) == 0 {
		return t.adjustRoot(node)
	}
	if !node.node.Underfull() {
		EncodeInternal(node.pg, node.node)
		t.bp.UnpinPage(node.id, false)
		t.unpinPath(rest, nil)
		return nil
	}

	parent := rest[len(rest)-1]
	grandRest := rest[:len(rest)-1]
	idx := indexOfChild(parent.node, node.id)

	if idx > 0 {
		prevID := parent.node.Entries[idx-1].Child
		prevPg, err := t.bp.FetchPage(prevID)
		if err != nil {
			t.bp.UnpinPage(node.id, false)
			t.bp.UnpinPage(parent.id, false)
			t.unpinPath(grandRest, nil)
			return err
		}
		prevNode, err := DecodeInternal(prevPg, t.keySchema)
		if err != nil {
			t.bp.UnpinPage(prevID, false)
			t.bp.UnpinPage(node.id, false)
			t.bp.UnpinPage(parent.id, false)
			t.unpinPath(grandRest, nil)
			return err
		}
		sepKey := parent.node.Entries[idx].Key

		// As in the leaf case, the merge only fits if the combined size
		// (including the separator pulled down from the parent) is within
		// capacity; otherwise borrow one entry from prev instead. prev is
		// the lender: it moves its last child to the front of node.
		if prevNode.size()+node.node.size()+sepKey.encodedSize() <= capacity {
			node.node.MoveAllTo(prevNode, sepKey)
			EncodeInternal(prevPg, prevNode)
			t.bp.UnpinPage(prevID, false)
			deletedID := node.id
			t.bp.UnpinPage(node.id, false)
			if err := t.bp.DeletePage(deletedID); err != nil {
				t.bp.UnpinPage(parent.id, false)
				t.unpinPath(grandRest, nil)
				return fmt.Errorf("BPlusTree.Remove: %w", err)
			}
			parent.node.RemoveChild(deletedID)
			return t.coalesceOrRedistributeInternal(grandRest, parent)
		}
		newSep := prevNode.MoveLastToFrontOf(node.node, sepKey)
		parent.node.Entries[idx] = InternalEntry{Key: newSep, Child: node.id}
		EncodeInternal(prevPg, prevNode)
		EncodeInternal(node.pg, node.node)
		EncodeInternal(parent.pg, parent.node)
		t.bp.UnpinPage(prevID, false)
		t.bp.UnpinPage(node.id, false)
		t.bp.UnpinPage(parent.id, false)
		t.unpinPath(grandRest, nil)
		return nil
	}

	nextID := parent.node.Entries[idx+1].Child
	nextPg, err := t.bp.FetchPage(nextID)
	if err != nil {
		t.bp.UnpinPage(node.id, false)
		t.bp.UnpinPage(parent.id, false)
		t.unpinPath(grandRest, nil)
		return err
	}
	nextNode, err := DecodeInternal(nextPg, t.keySchema)
	if err != nil {
		t.bp.UnpinPage(nextID, false)
		t.bp.UnpinPage(node.id, false)
		t.bp.UnpinPage(parent.id, false)
		t.unpinPath(grandRest, nil)
		return err
	}
	sepKey := parent.node.Entries[idx+1].Key

	// next is the lender here: it moves its first child to the end of node.
	if node.node.size()+nextNode.size()+sepKey.encodedSize() <= capacity {
		nextNode.MoveAllTo(node.node, sepKey)
		EncodeInternal(node.pg, node.node)
		t.bp.UnpinPage(node.id, false)
		t.bp.UnpinPage(nextID, false)
		if err := t.bp.DeletePage(nextID); err != nil {
			t.bp.UnpinPage(parent.id, false)
			t.unpinPath(grandRest, nil)
			return fmt.Errorf("BPlusTree.Remove: %w", err)
		}
		parent.node.RemoveChild(nextID)
		return t.coalesceOrRedistributeInternal(grandRest, parent)
	}
	newSep := nextNode.MoveFirstToEndOf(node.node, sepKey)
	parent.node.Entries[idx+1] = InternalEntry{Key: newSep, Child: nextID}
	EncodeInternal(node.pg, node.node)
	EncodeInternal(nextPg, nextNode)
	EncodeInternal(parent.pg, parent.node)
	t.bp.UnpinPage(node.id, false)
	t.bp.UnpinPage(nextID, false)
	t.bp.UnpinPage(parent.id, false)
	t.unpinPath(grandRest, nil)
	return nil
}

// adjustRoot collapses a root that has shrunk to a single child, and
// leaves a root that still has multiple children (even if byte-underfull —
// the root is exempt from the minFill invariant, per spec.md §5) alone.
func (t *BPlusTree) adjustRoot(node pathEntry) error {
	if len(node.node.Entries) > 1 {
		EncodeInternal(node.pg, node.node)
		t.bp.UnpinPage(node.id, false)
		return nil
	}
	onlyChild := node.node.Entries[0].Child
	t.bp.UnpinPage(node.id, false)
	if err := t.bp.DeletePage(node.id); err != nil {
		return fmt.Errorf("BPlusTree.adjustRoot: %w", err)
	}
	return t.setRoot(onlyChild)
}

func indexOfChild(n *InternalNode, child types.PageId) int {
	for i, e := range n.Entries {
		if e.Child == child {
			return i
		}
	}
	return -1
}
