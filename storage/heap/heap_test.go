package heap

import (
	"path/filepath"
	"testing"

	"relstore/storage/bufferpool"
	"relstore/storage/diskmgr"
	"relstore/types"
)

func newTestPool(t *testing.T) *bufferpool.BufferPool {
	t.Helper()
	path := filepath.Join(t.TempDir(), "heap.db")
	dm, err := diskmgr.Open(path)
	if err != nil {
		t.Fatalf("diskmgr.Open: %v", err)
	}
	t.Cleanup(func() { dm.Close() })
	bp, err := bufferpool.New(16, dm)
	if err != nil {
		t.Fatalf("bufferpool.New: %v", err)
	}
	return bp
}

func TestHeapPageInsertAndGet(t *testing.T) {
	bp := newTestPool(t)
	pg, err := bp.NewPage(types.PageTypeHeapData)
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	hp := Wrap(pg)
	hp.Init()

	slot, ok := hp.InsertTuple([]byte("hello"))
	if !ok {
		t.Fatalf("InsertTuple failed")
	}
	data, redirect, deleted, err := hp.GetTuple(slot)
	if err != nil {
		t.Fatalf("GetTuple: %v", err)
	}
	if deleted || redirect != nil {
		t.Fatalf("unexpected tombstone state")
	}
	if string(data) != "hello" {
		t.Fatalf("got %q, want %q", data, "hello")
	}
}

func TestHeapPageDeleteLifecycle(t *testing.T) {
	bp := newTestPool(t)
	pg, _ := bp.NewPage(types.PageTypeHeapData)
	hp := Wrap(pg)
	hp.Init()
	slot, _ := hp.InsertTuple([]byte("row"))

	if err := hp.MarkDelete(slot); err != nil {
		t.Fatalf("MarkDelete: %v", err)
	}
	if _, _, deleted, _ := hp.GetTuple(slot); !deleted {
		t.Fatalf("expected slot to read as deleted")
	}
	if err := hp.RollbackDelete(slot); err != nil {
		t.Fatalf("RollbackDelete: %v", err)
	}
	if _, _, deleted, _ := hp.GetTuple(slot); deleted {
		t.Fatalf("expected rollback to undo delete")
	}
	if err := hp.MarkDelete(slot); err != nil {
		t.Fatalf("MarkDelete: %v", err)
	}
	if err := hp.ApplyDelete(slot); err != nil {
		t.Fatalf("ApplyDelete: %v", err)
	}
}

func TestHeapPageApplyDeleteCompactsNonBoundaryTuple(t *testing.T) {
	bp := newTestPool(t)
	pg, _ := bp.NewPage(types.PageTypeHeapData)
	hp := Wrap(pg)
	hp.Init()

	slotA, _ := hp.InsertTuple([]byte("aaaaa"))
	slotB, _ := hp.InsertTuple([]byte("bbbbb"))
	slotC, _ := hp.InsertTuple([]byte("ccccc"))

	freeBefore := hp.FreeSpace()

	// slotA is the first tuple inserted, so it sits at the far end of the
	// tuple region, not at the free boundary — applying its delete must
	// compact to reclaim the bytes rather than orphan them.
	if err := hp.MarkDelete(slotA); err != nil {
		t.Fatalf("MarkDelete: %v", err)
	}
	if err := hp.ApplyDelete(slotA); err != nil {
		t.Fatalf("ApplyDelete: %v", err)
	}

	if got, want := hp.FreeSpace(), freeBefore+5; got != want {
		t.Fatalf("FreeSpace after ApplyDelete = %d, want %d (bytes not reclaimed)", got, want)
	}

	dataB, _, deletedB, err := hp.GetTuple(slotB)
	if err != nil || deletedB || string(dataB) != "bbbbb" {
		t.Fatalf("slot B corrupted by compaction: data=%q deleted=%v err=%v", dataB, deletedB, err)
	}
	dataC, _, deletedC, err := hp.GetTuple(slotC)
	if err != nil || deletedC || string(dataC) != "ccccc" {
		t.Fatalf("slot C corrupted by compaction: data=%q deleted=%v err=%v", dataC, deletedC, err)
	}

	if slot, ok := hp.InsertTuple([]byte("dddd")); !ok || slot != slotA {
		t.Fatalf("expected reclaimed slot %d to be reused, got slot=%d ok=%v", slotA, slot, ok)
	}
}

func TestTableHeapInsertGetUpdate(t *testing.T) {
	bp := newTestPool(t)
	th, err := New(bp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rid, err := th.InsertTuple([]byte("v1"))
	if err != nil {
		t.Fatalf("InsertTuple: %v", err)
	}
	got, err := th.GetTuple(rid)
	if err != nil {
		t.Fatalf("GetTuple: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("got %q", got)
	}

	if err := th.UpdateTuple(rid, []byte("v2")); err != nil {
		t.Fatalf("UpdateTuple in place: %v", err)
	}
	got, err = th.GetTuple(rid)
	if err != nil || string(got) != "v2" {
		t.Fatalf("got %q, err %v", got, err)
	}

	big := make([]byte, 3000)
	for i := range big {
		big[i] = 'x'
	}
	if err := th.UpdateTuple(rid, big); err != nil {
		t.Fatalf("UpdateTuple oversized: %v", err)
	}
	got, err = th.GetTuple(rid)
	if err != nil {
		t.Fatalf("GetTuple after redirect: %v", err)
	}
	if len(got) != len(big) {
		t.Fatalf("got len %d, want %d", len(got), len(big))
	}

	if err := th.MarkDelete(rid); err != nil {
		t.Fatalf("MarkDelete: %v", err)
	}
	if _, err := th.GetTuple(rid); types.KindOf(err) != types.KindNotFound {
		t.Fatalf("expected NOT_FOUND after delete, got %v", err)
	}
}

func TestTableHeapIteratorSpansPages(t *testing.T) {
	bp := newTestPool(t)
	th, err := New(bp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	row := make([]byte, 500)
	const n = 40
	inserted := map[types.RowId]bool{}
	for i := 0; i < n; i++ {
		rid, err := th.InsertTuple(row)
		if err != nil {
			t.Fatalf("InsertTuple #%d: %v", i, err)
		}
		inserted[rid] = true
	}

	it := th.Iterator()
	count := 0
	for {
		rid, _, ok, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		if !inserted[rid] {
			t.Fatalf("unexpected rid %s from iterator", rid)
		}
		count++
	}
	if count != n {
		t.Fatalf("iterated %d rows, want %d", count, n)
	}
	if bp.PinnedCount() != 0 {
		t.Fatalf("iterator left %d pages pinned", bp.PinnedCount())
	}
}
