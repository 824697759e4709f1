package heap

import (
	"fmt"

	"relstore/storage/bufferpool"
	"relstore/types"
)

// TableHeap is a singly linked list of heap pages holding one table's rows,
// grounded in the teacher's HeapfileManager but rewritten around
// buffer-pool pin/unpin discipline instead of the teacher's whole-file
// in-memory slice.
type TableHeap struct {
	bp        *bufferpool.BufferPool
	firstPage types.PageId
}

// New formats a brand-new first page for a table and returns a heap backed
// by it. Callers persist firstPage's id into the table's catalog entry.
func New(bp *bufferpool.BufferPool) (*TableHeap, error) {
	pg, err := bp.NewPage(types.PageTypeHeapData)
	if err != nil {
		return nil, fmt.Errorf("heap.New: %w", err)
	}
	Wrap(pg).Init()
	id := pg.ID
	if err := bp.UnpinPage(id, true); err != nil {
		return nil, err
	}
	return &TableHeap{bp: bp, firstPage: id}, nil
}

// Open reattaches to an existing heap whose first page id is already known
// (read back from the catalog).
func Open(bp *bufferpool.BufferPool, firstPage types.PageId) *TableHeap {
	return &TableHeap{bp: bp, firstPage: firstPage}
}

func (t *TableHeap) FirstPageID() types.PageId { return t.firstPage }

// InsertTuple appends data to the first page with enough room, allocating
// a new page onto the tail of the list if none has space.
func (t *TableHeap) InsertTuple(data []byte) (types.RowId, error) {
	if len(data) > types.PagePayloadSize-headerSize-slotSize {
		return types.RowId{}, types.NewError("TableHeap.InsertTuple", types.KindTupleTooLarge,
			fmt.Sprintf("row of %d bytes exceeds page capacity", len(data)))
	}

	pageID := t.firstPage
	var lastPageID = types.InvalidPageID
	for pageID.Valid() {
		pg, err := t.bp.FetchPage(pageID)
		if err != nil {
			return types.RowId{}, fmt.Errorf("TableHeap.InsertTuple: %w", err)
		}
		hp := Wrap(pg)
		if slot, ok := hp.InsertTuple(data); ok {
			rid := types.RowId{Page: pageID, Slot: slot}
			if err := t.bp.UnpinPage(pageID, true); err != nil {
				return types.RowId{}, err
			}
			return rid, nil
		}
		next := hp.NextPageID()
		if err := t.bp.UnpinPage(pageID, false); err != nil {
			return types.RowId{}, err
		}
		lastPageID = pageID
		pageID = next
	}

	newPg, err := t.bp.NewPage(types.PageTypeHeapData)
	if err != nil {
		return types.RowId{}, fmt.Errorf("TableHeap.InsertTuple: %w", err)
	}
	newHp := Wrap(newPg)
	newHp.Init()
	slot, ok := newHp.InsertTuple(data)
	if !ok {
		t.bp.UnpinPage(newPg.ID, false)
		return types.RowId{}, types.NewError("TableHeap.InsertTuple", types.KindTupleTooLarge,
			"row does not fit even on an empty page")
	}
	rid := types.RowId{Page: newPg.ID, Slot: slot}
	if err := t.bp.UnpinPage(newPg.ID, true); err != nil {
		return types.RowId{}, err
	}

	if lastPageID.Valid() {
		tailPg, err := t.bp.FetchPage(lastPageID)
		if err != nil {
			return types.RowId{}, err
		}
		Wrap(tailPg).SetNextPageID(newPg.ID)
		if err := t.bp.UnpinPage(lastPageID, true); err != nil {
			return types.RowId{}, err
		}
	} else {
		t.firstPage = newPg.ID
	}
	return rid, nil
}

// GetTuple follows redirects transparently and returns the resolved row
// bytes. It returns NOT_FOUND if rid names a deleted or nonexistent slot.
func (t *TableHeap) GetTuple(rid types.RowId) ([]byte, error) {
	seen := map[types.RowId]bool{}
	for {
		if seen[rid] {
			return nil, fmt.Errorf("TableHeap.GetTuple: redirect cycle at %s", rid)
		}
		seen[rid] = true

		pg, err := t.bp.FetchPage(rid.Page)
		if err != nil {
			return nil, fmt.Errorf("TableHeap.GetTuple: %w", err)
		}
		hp := Wrap(pg)
		data, redirect, deleted, err := hp.GetTuple(rid.Slot)
		unpinErr := t.bp.UnpinPage(rid.Page, false)
		if err != nil {
			return nil, err
		}
		if unpinErr != nil {
			return nil, unpinErr
		}
		if deleted {
			return nil, types.NewError("TableHeap.GetTuple", types.KindNotFound, rid.String())
		}
		if redirect != nil {
			rid = *redirect
			continue
		}
		return data, nil
	}
}

// UpdateTuple tries an in-place overwrite first; if the new encoding no
// longer fits in the slot's current allocation, it inserts the row
// elsewhere and turns rid's slot into a forward-pointer tombstone so the
// original RowId keeps resolving (spec.md §4.4).
func (t *TableHeap) UpdateTuple(rid types.RowId, data []byte) error {
	pg, err := t.bp.FetchPage(rid.Page)
	if err != nil {
		return fmt.Errorf("TableHeap.UpdateTuple: %w", err)
	}
	hp := Wrap(pg)
	if err := hp.UpdateInPlace(rid.Slot, data); err == nil {
		return t.bp.UnpinPage(rid.Page, true)
	}
	if uerr := t.bp.UnpinPage(rid.Page, false); uerr != nil {
		return uerr
	}

	newRid, err := t.InsertTuple(data)
	if err != nil {
		return fmt.Errorf("TableHeap.UpdateTuple: %w", err)
	}

	pg, err = t.bp.FetchPage(rid.Page)
	if err != nil {
		return fmt.Errorf("TableHeap.UpdateTuple: %w", err)
	}
	hp = Wrap(pg)
	if err := hp.SetRedirect(rid.Slot, newRid); err != nil {
		t.bp.UnpinPage(rid.Page, false)
		return fmt.Errorf("TableHeap.UpdateTuple: %w", err)
	}
	return t.bp.UnpinPage(rid.Page, true)
}

// MarkDelete tombstones rid without reclaiming space, resolving one level
// of redirect first if rid itself points elsewhere.
func (t *TableHeap) MarkDelete(rid types.RowId) error {
	pg, err := t.bp.FetchPage(rid.Page)
	if err != nil {
		return fmt.Errorf("TableHeap.MarkDelete: %w", err)
	}
	hp := Wrap(pg)
	if err := hp.MarkDelete(rid.Slot); err != nil {
		t.bp.UnpinPage(rid.Page, false)
		return err
	}
	return t.bp.UnpinPage(rid.Page, true)
}

func (t *TableHeap) RollbackDelete(rid types.RowId) error {
	pg, err := t.bp.FetchPage(rid.Page)
	if err != nil {
		return fmt.Errorf("TableHeap.RollbackDelete: %w", err)
	}
	hp := Wrap(pg)
	if err := hp.RollbackDelete(rid.Slot); err != nil {
		t.bp.UnpinPage(rid.Page, false)
		return err
	}
	return t.bp.UnpinPage(rid.Page, true)
}

func (t *TableHeap) ApplyDelete(rid types.RowId) error {
	pg, err := t.bp.FetchPage(rid.Page)
	if err != nil {
		return fmt.Errorf("TableHeap.ApplyDelete: %w", err)
	}
	hp := Wrap(pg)
	if err := hp.ApplyDelete(rid.Slot); err != nil {
		t.bp.UnpinPage(rid.Page, false)
		return err
	}
	return t.bp.UnpinPage(rid.Page, true)
}

// Iterator walks every live tuple across every page of the heap in
// storage order.
type Iterator struct {
	heap    *TableHeap
	pageID  types.PageId
	slot    types.SlotNumber
	started bool
	done    bool
}

func (t *TableHeap) Iterator() *Iterator {
	return &Iterator{heap: t, pageID: t.firstPage}
}

// Next advances the iterator and returns the next live row's id and bytes.
// ok is false once the heap is exhausted.
func (it *Iterator) Next() (rid types.RowId, data []byte, ok bool, err error) {
	if it.done {
		return types.EndRowId, nil, false, nil
	}
	for it.pageID.Valid() {
		pg, ferr := it.heap.bp.FetchPage(it.pageID)
		if ferr != nil {
			return types.RowId{}, nil, false, ferr
		}
		hp := Wrap(pg)

		var slot types.SlotNumber
		var found bool
		if !it.started {
			slot, found = hp.GetFirstTupleRid()
			it.started = true
		} else {
			slot, found = hp.GetNextTupleRid(it.slot)
		}

		if found {
			it.slot = slot
			data, _, deleted, gerr := hp.GetTuple(slot)
			if uerr := it.heap.bp.UnpinPage(it.pageID, false); uerr != nil {
				return types.RowId{}, nil, false, uerr
			}
			if gerr != nil {
				return types.RowId{}, nil, false, gerr
			}
			if deleted {
				continue
			}
			return types.RowId{Page: it.pageID, Slot: slot}, data, true, nil
		}

		next := hp.NextPageID()
		if uerr := it.heap.bp.UnpinPage(it.pageID, false); uerr != nil {
			return types.RowId{}, nil, false, uerr
		}
		it.pageID = next
		it.started = false
	}
	it.done = true
	return types.EndRowId, nil, false, nil
}
