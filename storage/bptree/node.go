package bptree

import (
	"encoding/binary"
	"fmt"

	"relstore/storage/page"
	"relstore/types"
)

const nodeHeaderSize = 1 + 2 + 4 // IsLeaf, Size, NextLeafPageID
const leafEntryFixedSize = 2 + 8 // keyLen prefix, RowId
const internalEntryFixedSize = 4 + 2 // ChildPageID, keyLen prefix

// capacity is the byte budget available to a node's entry region — the
// generalization of spec.md §5's count-based "max" to the variable-width
// CHAR keys the data model allows: a page's fill factor is judged by bytes
// used against this budget, not by a fixed entry count.
const capacity = types.PagePayloadSize - nodeHeaderSize

// minFill is the coalesce/redistribute threshold, the byte-budget
// counterpart of spec.md §5's ⌈max/2⌉ lower bound on a non-root node.
const minFill = capacity / 2

// LeafEntry pairs one key with the RowId of the row it indexes.
type LeafEntry struct {
	Key Key
	Rid types.RowId
}

// LeafNode is a leaf page's decoded contents plus its sibling link. The
// parent chain is not persisted on the page — every tree operation
// descends from the root and keeps the path on a stack, so no page needs
// to know its own parent. Rebuild via DecodeLeaf, mutate in memory, and
// persist with EncodeLeaf.
type LeafNode struct {
	Entries  []LeafEntry
	NextLeaf types.PageId
}

func NewLeaf() *LeafNode {
	return &LeafNode{NextLeaf: types.InvalidPageID}
}

func (n *LeafNode) size() int {
	size := 0
	for _, e := range n.Entries {
		size += leafEntryFixedSize + e.Key.encodedSize()
	}
	return size
}

// Fits reports whether adding an entry with the given key would still fit
// within the page's byte budget.
func (n *LeafNode) Fits(k Key) bool {
	return n.size()+leafEntryFixedSize+k.encodedSize() <= capacity
}

func (n *LeafNode) Underfull() bool { return n.size() < minFill }

// InsertSorted inserts (k, rid) keeping Entries sorted by key. Duplicate
// keys are rejected by the caller (BPlusTree.Insert enforces uniqueness),
// not here.
func (n *LeafNode) InsertSorted(k Key, rid types.RowId) {
	i := 0
	for i < len(n.Entries) && Compare(n.Entries[i].Key, k) < 0 {
		i++
	}
	n.Entries = append(n.Entries, LeafEntry{})
	copy(n.Entries[i+1:], n.Entries[i:])
	n.Entries[i] = LeafEntry{Key: k, Rid: rid}
}

// Find returns the index of the entry with key k, or (-1, false).
func (n *LeafNode) Find(k Key) (int, bool) {
	for i, e := range n.Entries {
		if Compare(e.Key, k) == 0 {
			return i, true
		}
	}
	return -1, false
}

func (n *LeafNode) RemoveAt(i int) {
	n.Entries = append(n.Entries[:i], n.Entries[i+1:]...)
}

// MoveHalfTo splits the upper half of n's entries onto sibling, used when a
// leaf overflows capacity on insert.
func (n *LeafNode) MoveHalfTo(sibling *LeafNode) {
	mid := len(n.Entries) / 2
	sibling.Entries = append(sibling.Entries, n.Entries[mid:]...)
	n.Entries = n.Entries[:mid]
}

// MoveAllTo appends all of n's entries onto sibling — used when coalescing
// two underfull leaves.
func (n *LeafNode) MoveAllTo(sibling *LeafNode) {
	sibling.Entries = append(sibling.Entries, n.Entries...)
	n.Entries = nil
}

// MoveFirstToEndOf redistributes n's first entry onto the end of prev —
// used when n, the right sibling, lends an entry to an underfull prev.
func (n *LeafNode) MoveFirstToEndOf(prev *LeafNode) {
	prev.Entries = append(prev.Entries, n.Entries[0])
	n.Entries = n.Entries[1:]
}

// MoveLastToFrontOf redistributes n's last entry onto the front of next —
// used when n, the left sibling, lends an entry to an underfull next.
func (n *LeafNode) MoveLastToFrontOf(next *LeafNode) {
	last := n.Entries[len(n.Entries)-1]
	next.Entries = append([]LeafEntry{last}, next.Entries...)
	n.Entries = n.Entries[:len(n.Entries)-1]
}

func EncodeLeaf(pg *page.Page, n *LeafNode) {
	d := pg.Data
	d[0] = 1
	binary.LittleEndian.PutUint16(d[1:3], uint16(len(n.Entries)))
	binary.LittleEndian.PutUint32(d[3:7], uint32(n.NextLeaf))

	off := nodeHeaderSize
	for _, e := range n.Entries {
		kb := e.Key.encodedSize()
		binary.LittleEndian.PutUint16(d[off:off+2], uint16(kb))
		off += 2
		copy(d[off:off+kb], e.Key.encode(nil))
		off += kb
		binary.LittleEndian.PutUint32(d[off:off+4], uint32(e.Rid.Page))
		binary.LittleEndian.PutUint32(d[off+4:off+8], uint32(e.Rid.Slot))
		off += 8
	}
	pg.Type = types.PageTypeBTreeLeaf
	pg.IsDirty = true
}

func DecodeLeaf(pg *page.Page, keySchema *types.Schema) (*LeafNode, error) {
	d := pg.Data
	size := int(binary.LittleEndian.Uint16(d[1:3]))
	next := types.PageId(int32(binary.LittleEndian.Uint32(d[3:7])))

	n := &LeafNode{NextLeaf: next}
	off := nodeHeaderSize
	for i := 0; i < size; i++ {
		kb := int(binary.LittleEndian.Uint16(d[off : off+2]))
		off += 2
		key, consumed, err := decodeKey(keySchema, d[off:off+kb])
		if err != nil {
			return nil, fmt.Errorf("DecodeLeaf: entry %d: %w", i, err)
		}
		_ = consumed
		off += kb
		rid := types.RowId{
			Page: types.PageId(int32(binary.LittleEndian.Uint32(d[off : off+4]))),
			Slot: types.SlotNumber(binary.LittleEndian.Uint32(d[off+4 : off+8])),
		}
		off += 8
		n.Entries = append(n.Entries, LeafEntry{Key: key, Rid: rid})
	}
	return n, nil
}

// InternalEntry pairs a routing key with the child page it precedes.
// Entry 0's Key is a dummy — spec.md §6.2's convention that
// len(Children) == len(Keys) rather than the classic +1 asymmetric layout.
type InternalEntry struct {
	Key   Key
	Child types.PageId
}

type InternalNode struct {
	Entries []InternalEntry
}

func NewInternal() *InternalNode {
	return &InternalNode{}
}

func (n *InternalNode) size() int {
	size := 0
	for i, e := range n.Entries {
		if i == 0 {
			size += internalEntryFixedSize
			continue
		}
		size += internalEntryFixedSize + e.Key.encodedSize()
	}
	return size
}

func (n *InternalNode) Fits(k Key) bool {
	return n.size()+internalEntryFixedSize+k.encodedSize() <= capacity
}

func (n *InternalNode) Underfull() bool { return n.size() < minFill }

// ChildIndex returns the index of the child that would contain key k: the
// last entry whose key is <= k, or 0 if k is less than every real
// (non-dummy) separator.
func (n *InternalNode) ChildIndex(k Key) int {
	idx := 0
	for i := 1; i < len(n.Entries); i++ {
		if Compare(n.Entries[i].Key, k) <= 0 {
			idx = i
		} else {
			break
		}
	}
	return idx
}

// InsertAfter inserts a new (key, child) pair immediately after the entry
// naming childBefore — used when a child splits and needs a routing
// sibling registered next to it.
func (n *InternalNode) InsertAfter(childBefore types.PageId, k Key, child types.PageId) {
	for i, e := range n.Entries {
		if e.Child == childBefore {
			n.Entries = append(n.Entries, InternalEntry{})
			copy(n.Entries[i+2:], n.Entries[i+1:])
			n.Entries[i+1] = InternalEntry{Key: k, Child: child}
			return
		}
	}
}

// PopulateNewRoot builds a brand-new root's two-child entry set for the
// left and right halves of a just-split former root.
func (n *InternalNode) PopulateNewRoot(left types.PageId, sepKey Key, right types.PageId) {
	n.Entries = []InternalEntry{
		{Key: nil, Child: left},
		{Key: sepKey, Child: right},
	}
}

func (n *InternalNode) RemoveChild(child types.PageId) {
	for i, e := range n.Entries {
		if e.Child == child {
			n.Entries = append(n.Entries[:i], n.Entries[i+1:]...)
			return
		}
	}
}

// MoveHalfTo splits n's upper entries onto sibling, keeping the dummy-key₀
// convention intact on both halves (the first moved entry's key becomes
// sibling's new dummy key₀).
func (n *InternalNode) MoveHalfTo(sibling *InternalNode) (risenKey Key) {
	mid := len(n.Entries) / 2
	risenKey = n.Entries[mid].Key
	sibling.Entries = append(sibling.Entries, n.Entries[mid:]...)
	sibling.Entries[0] = InternalEntry{Key: nil, Child: sibling.Entries[0].Child}
	n.Entries = n.Entries[:mid]
	return risenKey
}

// MoveAllTo appends all of n's entries onto sibling when coalescing,
// pulling down the separator key that used to route to n from the parent.
func (n *InternalNode) MoveAllTo(sibling *InternalNode, pulledDownKey Key) {
	if len(n.Entries) > 0 {
		n.Entries[0] = InternalEntry{Key: pulledDownKey, Child: n.Entries[0].Child}
	}
	sibling.Entries = append(sibling.Entries, n.Entries...)
	n.Entries = nil
}

// MoveFirstToEndOf redistributes n's first child onto the end of prev,
// pulling the separator that used to sit between them down from the
// parent and pushing n's new first key up in its place.
func (n *InternalNode) MoveFirstToEndOf(prev *InternalNode, parentSepKey Key) (newSepKey Key) {
	moved := n.Entries[0]
	prev.Entries = append(prev.Entries, InternalEntry{Key: parentSepKey, Child: moved.Child})
	newSepKey = n.Entries[1].Key
	n.Entries = n.Entries[1:]
	n.Entries[0] = InternalEntry{Key: nil, Child: n.Entries[0].Child}
	return newSepKey
}

// MoveLastToFrontOf redistributes n's last child onto the front of next.
func (n *InternalNode) MoveLastToFrontOf(next *InternalNode, parentSepKey Key) (newSepKey Key) {
	last := n.Entries[len(n.Entries)-1]
	newSepKey = last.Key
	n.Entries = n.Entries[:len(n.Entries)-1]
	next.Entries = append([]InternalEntry{{Key: nil, Child: last.Child}}, next.Entries...)
	next.Entries[1] = InternalEntry{Key: parentSepKey, Child: next.Entries[1].Child}
	return newSepKey
}

func EncodeInternal(pg *page.Page, n *InternalNode) {
	d := pg.Data
	d[0] = 0
	binary.LittleEndian.PutUint16(d[1:3], uint16(len(n.Entries)))
	invalidPageID := types.InvalidPageID
	binary.LittleEndian.PutUint32(d[3:7], uint32(invalidPageID))

	off := nodeHeaderSize
	for i, e := range n.Entries {
		binary.LittleEndian.PutUint32(d[off:off+4], uint32(e.Child))
		off += 4
		if i == 0 {
			binary.LittleEndian.PutUint16(d[off:off+2], 0)
			off += 2
			continue
		}
		kb := e.Key.encodedSize()
		binary.LittleEndian.PutUint16(d[off:off+2], uint16(kb))
		off += 2
		copy(d[off:off+kb], e.Key.encode(nil))
		off += kb
	}
	pg.Type = types.PageTypeBTreeInternal
	pg.IsDirty = true
}

func DecodeInternal(pg *page.Page, keySchema *types.Schema) (*InternalNode, error) {
	d := pg.Data
	size := int(binary.LittleEndian.Uint16(d[1:3]))

	n := &InternalNode{}
	off := nodeHeaderSize
	for i := 0; i < size; i++ {
		child := types.PageId(int32(binary.LittleEndian.Uint32(d[off : off+4])))
		off += 4
		kb := int(binary.LittleEndian.Uint16(d[off : off+2]))
		off += 2
		if i == 0 || kb == 0 {
			n.Entries = append(n.Entries, InternalEntry{Key: nil, Child: child})
			off += kb
			continue
		}
		key, _, err := decodeKey(keySchema, d[off:off+kb])
		if err != nil {
			return nil, fmt.Errorf("DecodeInternal: entry %d: %w", i, err)
		}
		off += kb
		n.Entries = append(n.Entries, InternalEntry{Key: key, Child: child})
	}
	return n, nil
}

// IsLeafPage inspects a raw page's leading tag byte without a full decode —
// used while descending (findLeafForRead, descendForWrite, Begin) so the
// caller knows which decoder to call.
func IsLeafPage(pg *page.Page) bool { return pg.Data[0] == 1 }

// RawChildren reads an internal page's child page ids without needing a
// key schema to decode the separator keys — child pointers and key-length
// prefixes are fixed width regardless of key type, so a caller that only
// wants the page graph (freeing a dropped tree) can skip straight past
// each key's bytes.
func RawChildren(pg *page.Page) []types.PageId {
	d := pg.Data
	size := int(binary.LittleEndian.Uint16(d[1:3]))
	out := make([]types.PageId, 0, size)
	off := nodeHeaderSize
	for i := 0; i < size; i++ {
		child := types.PageId(int32(binary.LittleEndian.Uint32(d[off : off+4])))
		off += 4
		kb := int(binary.LittleEndian.Uint16(d[off : off+2]))
		off += 2
		off += kb
		out = append(out, child)
	}
	return out
}
