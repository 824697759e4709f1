// Package heap implements the paged heap file spec.md §4 describes:
// fixed-size pages holding a slot directory that grows forward from the
// header and a tuple region that grows backward from the page's end, plus
// the table-level linked list of such pages (TableHeap, in table_heap.go).
//
// Grounded in the teacher's storage_engine/access/heapfile_manager, with
// the slot/tuple growth direction inverted to match spec.md §4.2 and
// forward-pointer tombstones added for updates that no longer fit in place
// (the teacher silently reassigns the RowPointer instead, which would
// break RowId stability — spec.md §4.4 requires RowId to survive an
// oversized update).
package heap

import (
	"encoding/binary"
	"fmt"

	"relstore/storage/page"
	"relstore/types"
)

const (
	headerSize = 4 + 2 + 2 // NextPageID, NumSlots, TupleStart
	slotSize   = 2 + 2 + 1 // Offset, Length, Flags
)

const (
	slotFlagDeleted  uint8 = 1 << 0
	slotFlagRedirect uint8 = 1 << 1
)

// HeapPage is a thin, stateless view over a buffer-pool frame's bytes. It
// never itself pins or unpins — callers hold the frame pinned for as long
// as they hold a HeapPage wrapping it.
type HeapPage struct {
	pg *page.Page
}

func Wrap(pg *page.Page) *HeapPage { return &HeapPage{pg: pg} }

// Init formats a freshly allocated frame as an empty heap page.
func (h *HeapPage) Init() {
	data := h.pg.Data
	invalidPageID := types.InvalidPageID
	binary.LittleEndian.PutUint32(data[0:4], uint32(invalidPageID))
	binary.LittleEndian.PutUint16(data[4:6], 0)
	binary.LittleEndian.PutUint16(data[6:8], uint16(len(data)))
	h.pg.Type = types.PageTypeHeapData
	h.pg.IsDirty = true
}

func (h *HeapPage) NextPageID() types.PageId {
	return types.PageId(int32(binary.LittleEndian.Uint32(h.pg.Data[0:4])))
}

func (h *HeapPage) SetNextPageID(id types.PageId) {
	binary.LittleEndian.PutUint32(h.pg.Data[0:4], uint32(id))
	h.pg.IsDirty = true
}

func (h *HeapPage) NumSlots() int {
	return int(binary.LittleEndian.Uint16(h.pg.Data[4:6]))
}

func (h *HeapPage) setNumSlots(n int) {
	binary.LittleEndian.PutUint16(h.pg.Data[4:6], uint16(n))
}

func (h *HeapPage) tupleStart() int {
	return int(binary.LittleEndian.Uint16(h.pg.Data[6:8]))
}

func (h *HeapPage) setTupleStart(off int) {
	binary.LittleEndian.PutUint16(h.pg.Data[6:8], uint16(off))
}

func (h *HeapPage) slotOffset(slot types.SlotNumber) int {
	return headerSize + int(slot)*slotSize
}

func (h *HeapPage) readSlot(slot types.SlotNumber) (offset, length int, flags uint8) {
	base := h.slotOffset(slot)
	d := h.pg.Data
	offset = int(binary.LittleEndian.Uint16(d[base : base+2]))
	length = int(binary.LittleEndian.Uint16(d[base+2 : base+4]))
	flags = d[base+4]
	return
}

func (h *HeapPage) writeSlot(slot types.SlotNumber, offset, length int, flags uint8) {
	base := h.slotOffset(slot)
	d := h.pg.Data
	binary.LittleEndian.PutUint16(d[base:base+2], uint16(offset))
	binary.LittleEndian.PutUint16(d[base+2:base+4], uint16(length))
	d[base+4] = flags
}

// FreeSpace is the number of unused bytes currently between the slot
// directory and the tuple region.
func (h *HeapPage) FreeSpace() int {
	used := headerSize + h.NumSlots()*slotSize
	return h.tupleStart() - used
}

// freeSlot returns the index of a slot whose room can be reused (a
// previously deleted-and-compacted slot has length 0 and no live payload),
// or NumSlots() if none is free.
func (h *HeapPage) freeSlot() types.SlotNumber {
	for i := 0; i < h.NumSlots(); i++ {
		_, length, flags := h.readSlot(types.SlotNumber(i))
		if length == 0 && flags == 0 {
			return types.SlotNumber(i)
		}
	}
	return types.SlotNumber(h.NumSlots())
}

// InsertTuple places data into the page, returning the slot it landed at.
// ok is false if there is not enough free space; callers fall back to
// allocating a new page.
func (h *HeapPage) InsertTuple(data []byte) (slot types.SlotNumber, ok bool) {
	slot = h.freeSlot()
	needsNewSlot := int(slot) == h.NumSlots()
	needed := len(data)
	if needsNewSlot {
		needed += slotSize
	}
	if needed > h.FreeSpace() {
		return 0, false
	}

	newStart := h.tupleStart() - len(data)
	copy(h.pg.Data[newStart:newStart+len(data)], data)
	h.setTupleStart(newStart)
	h.writeSlot(slot, newStart, len(data), 0)
	if needsNewSlot {
		h.setNumSlots(h.NumSlots() + 1)
	}
	h.pg.IsDirty = true
	return slot, true
}

// GetTuple returns the raw bytes at slot. redirect is set when the slot is
// a forward-pointer tombstone (its payload is a RowId, not tuple bytes);
// callers must follow it. deleted is set when the slot is logically gone.
func (h *HeapPage) GetTuple(slot types.SlotNumber) (data []byte, redirect *types.RowId, deleted bool, err error) {
	if int(slot) >= h.NumSlots() {
		return nil, nil, false, fmt.Errorf("heap: slot %d out of range (have %d)", slot, h.NumSlots())
	}
	offset, length, flags := h.readSlot(slot)
	if flags&slotFlagDeleted != 0 {
		return nil, nil, true, nil
	}
	if flags&slotFlagRedirect != 0 {
		rid := decodeRowId(h.pg.Data[offset : offset+length])
		return nil, &rid, false, nil
	}
	out := make([]byte, length)
	copy(out, h.pg.Data[offset:offset+length])
	return out, nil, false, nil
}

// MarkDelete tombstones slot without reclaiming its bytes — the standard
// two-phase delete spec.md §4.5 requires so a delete can be rolled back
// before the owning operation commits.
func (h *HeapPage) MarkDelete(slot types.SlotNumber) error {
	if int(slot) >= h.NumSlots() {
		return fmt.Errorf("heap: slot %d out of range", slot)
	}
	offset, length, flags := h.readSlot(slot)
	h.writeSlot(slot, offset, length, flags|slotFlagDeleted)
	h.pg.IsDirty = true
	return nil
}

// RollbackDelete undoes a MarkDelete that has not yet been applied.
func (h *HeapPage) RollbackDelete(slot types.SlotNumber) error {
	if int(slot) >= h.NumSlots() {
		return fmt.Errorf("heap: slot %d out of range", slot)
	}
	offset, length, flags := h.readSlot(slot)
	h.writeSlot(slot, offset, length, flags&^slotFlagDeleted)
	h.pg.IsDirty = true
	return nil
}

// ApplyDelete permanently reclaims a tombstoned slot's tuple bytes and
// clears the slot, which stays in the directory (slot numbers never shift)
// and is handed out again by the next InsertTuple on this page. If the freed tuple sat
// anywhere but the free boundary, the tuple region is compacted so
// FreeSpace stays exact instead of orphaning the freed bytes; a tuple
// already at the boundary is reclaimed by just advancing it.
func (h *HeapPage) ApplyDelete(slot types.SlotNumber) error {
	if int(slot) >= h.NumSlots() {
		return fmt.Errorf("heap: slot %d out of range", slot)
	}
	offset, length, flags := h.readSlot(slot)
	if flags&slotFlagDeleted == 0 {
		return fmt.Errorf("heap: slot %d not marked deleted", slot)
	}
	h.writeSlot(slot, 0, 0, 0)
	switch {
	case offset == h.tupleStart():
		h.setTupleStart(offset + length)
	case length > 0:
		h.Compact()
	}
	h.pg.IsDirty = true
	return nil
}

// SetRedirect turns slot into a forward-pointer tombstone naming target —
// used when UpdateTuple grows a row past what its current page can hold.
func (h *HeapPage) SetRedirect(slot types.SlotNumber, target types.RowId) error {
	payload := encodeRowId(target)
	offset, length, _ := h.readSlot(slot)
	// Reuse the existing tuple bytes' room if it already fits; otherwise
	// carve a fresh slot in the tuple region for the (small, fixed-size)
	// RowId payload.
	if length >= len(payload) {
		copy(h.pg.Data[offset:offset+len(payload)], payload)
		h.writeSlot(slot, offset, len(payload), slotFlagRedirect)
		h.pg.IsDirty = true
		return nil
	}
	if len(payload) > h.FreeSpace() {
		return fmt.Errorf("heap: no room to redirect slot %d", slot)
	}
	newStart := h.tupleStart() - len(payload)
	copy(h.pg.Data[newStart:newStart+len(payload)], payload)
	h.setTupleStart(newStart)
	h.writeSlot(slot, newStart, len(payload), slotFlagRedirect)
	h.pg.IsDirty = true
	return nil
}

// UpdateInPlace overwrites slot's payload with data, which must be no
// larger than the slot's current allocation (the caller has already
// decided in-place update is possible).
func (h *HeapPage) UpdateInPlace(slot types.SlotNumber, data []byte) error {
	offset, length, flags := h.readSlot(slot)
	if flags != 0 {
		return fmt.Errorf("heap: slot %d is not a plain tuple", slot)
	}
	if len(data) > length {
		return fmt.Errorf("heap: slot %d too small for in-place update (%d > %d)", slot, len(data), length)
	}
	copy(h.pg.Data[offset:offset+len(data)], data)
	h.writeSlot(slot, offset, len(data), 0)
	h.pg.IsDirty = true
	return nil
}

// Compact reclaims space left by applied deletes by sliding every live
// tuple toward the end of the page and rewriting slot offsets, without
// changing any slot's index (RowIds stay stable across compaction —
// spec.md's design-notes extension).
func (h *HeapPage) Compact() {
	type live struct {
		slot          types.SlotNumber
		offset, length int
		flags          uint8
	}
	n := h.NumSlots()
	entries := make([]live, 0, n)
	for i := 0; i < n; i++ {
		offset, length, flags := h.readSlot(types.SlotNumber(i))
		if length > 0 {
			entries = append(entries, live{types.SlotNumber(i), offset, length, flags})
		}
	}
	// Slide from the highest current offset down, preserving relative
	// order, so overlapping copies never clobber unread data.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].offset > entries[j-1].offset; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
	cursor := len(h.pg.Data)
	for _, e := range entries {
		cursor -= e.length
		if cursor != e.offset {
			copy(h.pg.Data[cursor:cursor+e.length], h.pg.Data[e.offset:e.offset+e.length])
		}
		h.writeSlot(e.slot, cursor, e.length, e.flags)
	}
	h.setTupleStart(cursor)
	h.pg.IsDirty = true
}

// GetFirstTupleRid returns the slot of the first non-tombstoned tuple, or
// ok=false if the page has none.
func (h *HeapPage) GetFirstTupleRid() (slot types.SlotNumber, ok bool) {
	for i := 0; i < h.NumSlots(); i++ {
		_, length, flags := h.readSlot(types.SlotNumber(i))
		if length > 0 && flags&slotFlagDeleted == 0 && flags&slotFlagRedirect == 0 {
			return types.SlotNumber(i), true
		}
	}
	return 0, false
}

// GetNextTupleRid returns the next live, non-redirect slot strictly after
// cur, or ok=false if cur was the last one on the page.
func (h *HeapPage) GetNextTupleRid(cur types.SlotNumber) (slot types.SlotNumber, ok bool) {
	for i := int(cur) + 1; i < h.NumSlots(); i++ {
		_, length, flags := h.readSlot(types.SlotNumber(i))
		if length > 0 && flags&slotFlagDeleted == 0 && flags&slotFlagRedirect == 0 {
			return types.SlotNumber(i), true
		}
	}
	return 0, false
}

func encodeRowId(r types.RowId) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Page))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.Slot))
	return buf
}

func decodeRowId(buf []byte) types.RowId {
	return types.RowId{
		Page: types.PageId(int32(binary.LittleEndian.Uint32(buf[0:4]))),
		Slot: types.SlotNumber(binary.LittleEndian.Uint32(buf[4:8])),
	}
}
