package bptree

import (
	"path/filepath"
	"testing"

	"relstore/storage/bufferpool"
	"relstore/storage/diskmgr"
	"relstore/types"
)

func newTestTree(t *testing.T) *BPlusTree {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	dm, err := diskmgr.Open(path)
	if err != nil {
		t.Fatalf("diskmgr.Open: %v", err)
	}
	t.Cleanup(func() { dm.Close() })
	bp, err := bufferpool.New(64, dm)
	if err != nil {
		t.Fatalf("bufferpool.New: %v", err)
	}
	keySchema := types.NewSchema([]types.Column{{Name: "k", Type: types.TypeInt32}})
	tree, err := New(bp, keySchema, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tree
}

func keyOf(v int32) Key { return Key{types.Int32Field(v)} }

func TestBPlusTreeInsertAndGet(t *testing.T) {
	tree := newTestTree(t)
	for i := int32(0); i < 200; i++ {
		if err := tree.Insert(keyOf(i), types.RowId{Page: types.PageId(i), Slot: 0}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	for i := int32(0); i < 200; i++ {
		rid, err := tree.GetValue(keyOf(i))
		if err != nil {
			t.Fatalf("GetValue(%d): %v", i, err)
		}
		if rid.Page != types.PageId(i) {
			t.Fatalf("GetValue(%d) = %v, want page %d", i, rid, i)
		}
	}
}

func TestBPlusTreeDuplicateKeyRejected(t *testing.T) {
	tree := newTestTree(t)
	if err := tree.Insert(keyOf(1), types.RowId{Page: 1}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	err := tree.Insert(keyOf(1), types.RowId{Page: 2})
	if types.KindOf(err) != types.KindDuplicateKey {
		t.Fatalf("got %v, want DUPLICATE_KEY", err)
	}
}

func TestBPlusTreeIteratorAscendingOrder(t *testing.T) {
	tree := newTestTree(t)
	const n = 150
	for i := int32(n - 1); i >= 0; i-- {
		if err := tree.Insert(keyOf(i), types.RowId{Page: types.PageId(i)}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	it, err := tree.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	var prev int32 = -1
	count := 0
	for {
		k, _, ok, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		v := k[0].I32
		if v <= prev {
			t.Fatalf("iterator not ascending: %d after %d", v, prev)
		}
		prev = v
		count++
	}
	if count != n {
		t.Fatalf("iterated %d entries, want %d", count, n)
	}
}

func TestBPlusTreeRemoveAndSplitMerge(t *testing.T) {
	tree := newTestTree(t)
	const n = 300
	for i := int32(0); i < n; i++ {
		if err := tree.Insert(keyOf(i), types.RowId{Page: types.PageId(i)}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	for i := int32(0); i < n; i += 2 {
		if err := tree.Remove(keyOf(i)); err != nil {
			t.Fatalf("Remove(%d): %v", i, err)
		}
	}
	for i := int32(0); i < n; i++ {
		_, err := tree.GetValue(keyOf(i))
		if i%2 == 0 {
			if types.KindOf(err) != types.KindNotFound {
				t.Fatalf("GetValue(%d) after remove: got %v, want NOT_FOUND", i, err)
			}
		} else if err != nil {
			t.Fatalf("GetValue(%d): %v", i, err)
		}
	}
}

func TestBPlusTreeBeginAtRange(t *testing.T) {
	tree := newTestTree(t)
	for i := int32(0); i < 100; i++ {
		if err := tree.Insert(keyOf(i), types.RowId{Page: types.PageId(i)}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	it, err := tree.BeginAt(keyOf(50))
	if err != nil {
		t.Fatalf("BeginAt: %v", err)
	}
	k, _, ok, err := it.Next()
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if k[0].I32 != 50 {
		t.Fatalf("got %d, want 50", k[0].I32)
	}
}
