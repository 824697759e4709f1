package catalog

import (
	"path/filepath"
	"testing"

	"relstore/storage/bufferpool"
	"relstore/storage/diskmgr"
	"relstore/types"
)

func openFresh(t *testing.T, path string) (*Catalog, *bufferpool.BufferPool, func()) {
	t.Helper()
	dm, err := diskmgr.Open(path)
	if err != nil {
		t.Fatalf("diskmgr.Open: %v", err)
	}
	bp, err := bufferpool.New(32, dm)
	if err != nil {
		t.Fatalf("bufferpool.New: %v", err)
	}
	c, err := Open(bp, true)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	return c, bp, func() { dm.Close() }
}

func usersSchema() *types.Schema {
	return types.NewSchema([]types.Column{
		{Name: "id", Type: types.TypeInt32, Ordinal: 0},
		{Name: "name", Type: types.TypeChar, CharLen: 32, Ordinal: 1},
	})
}

func TestCreateTableRejectsDuplicate(t *testing.T) {
	c, _, closeFn := openFresh(t, filepath.Join(t.TempDir(), "db.dat"))
	defer closeFn()

	if _, err := c.CreateTable("users", usersSchema()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	_, err := c.CreateTable("users", usersSchema())
	if types.KindOf(err) != types.KindTableAlreadyExist {
		t.Fatalf("got %v, want TABLE_ALREADY_EXIST", err)
	}
}

func TestInsertAndIndexScan(t *testing.T) {
	c, _, closeFn := openFresh(t, filepath.Join(t.TempDir(), "db.dat"))
	defer closeFn()

	ti, err := c.CreateTable("users", usersSchema())
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	ii, err := c.CreateIndex("users", "by_id", []string{"id"})
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	for i := int32(0); i < 20; i++ {
		row := types.NewRow([]types.Field{types.Int32Field(i), types.CharField("user")})
		rid, err := ti.Heap.InsertTuple(row.Encode())
		if err != nil {
			t.Fatalf("InsertTuple: %v", err)
		}
		if err := ii.Index.InsertEntry(row, rid); err != nil {
			t.Fatalf("InsertEntry: %v", err)
		}
	}

	rid, err := ii.Index.ScanEqual([]types.Field{types.Int32Field(5)})
	if err != nil {
		t.Fatalf("ScanEqual: %v", err)
	}
	data, err := ti.Heap.GetTuple(rid)
	if err != nil {
		t.Fatalf("GetTuple: %v", err)
	}
	row, err := types.DecodeRow(ti.Schema, data)
	if err != nil {
		t.Fatalf("DecodeRow: %v", err)
	}
	if row.Values[0].I32 != 5 {
		t.Fatalf("got id %d, want 5", row.Values[0].I32)
	}
}

func TestDropTableFreesIndexesAndHeap(t *testing.T) {
	c, _, closeFn := openFresh(t, filepath.Join(t.TempDir(), "db.dat"))
	defer closeFn()

	if _, err := c.CreateTable("users", usersSchema()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := c.CreateIndex("users", "by_id", []string{"id"}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if err := c.DropTable("users"); err != nil {
		t.Fatalf("DropTable: %v", err)
	}
	if _, err := c.GetTable("users"); types.KindOf(err) != types.KindTableNotExist {
		t.Fatalf("expected TABLE_NOT_EXIST after drop, got %v", err)
	}
	if _, err := c.GetIndex("users", "by_id"); types.KindOf(err) != types.KindTableNotExist {
		t.Fatalf("expected TABLE_NOT_EXIST for index lookup on dropped table, got %v", err)
	}
}

func TestReopenRebuildsTablesAndIndexRoots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.dat")

	dm1, err := diskmgr.Open(path)
	if err != nil {
		t.Fatalf("diskmgr.Open: %v", err)
	}
	bp1, err := bufferpool.New(32, dm1)
	if err != nil {
		t.Fatalf("bufferpool.New: %v", err)
	}
	c1, err := Open(bp1, true)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	ti, err := c1.CreateTable("users", usersSchema())
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	ii, err := c1.CreateIndex("users", "by_id", []string{"id"})
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	row := types.NewRow([]types.Field{types.Int32Field(7), types.CharField("alice")})
	rid, err := ti.Heap.InsertTuple(row.Encode())
	if err != nil {
		t.Fatalf("InsertTuple: %v", err)
	}
	if err := ii.Index.InsertEntry(row, rid); err != nil {
		t.Fatalf("InsertEntry: %v", err)
	}
	if err := c1.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	dm1.Close()

	dm2, err := diskmgr.Open(path)
	if err != nil {
		t.Fatalf("reopen diskmgr.Open: %v", err)
	}
	defer dm2.Close()
	bp2, err := bufferpool.New(32, dm2)
	if err != nil {
		t.Fatalf("bufferpool.New: %v", err)
	}
	c2, err := Open(bp2, false)
	if err != nil {
		t.Fatalf("reopen catalog.Open: %v", err)
	}

	ti2, err := c2.GetTable("users")
	if err != nil {
		t.Fatalf("GetTable after reopen: %v", err)
	}
	ii2, err := c2.GetIndex("users", "by_id")
	if err != nil {
		t.Fatalf("GetIndex after reopen: %v", err)
	}
	gotRid, err := ii2.Index.ScanEqual([]types.Field{types.Int32Field(7)})
	if err != nil {
		t.Fatalf("ScanEqual after reopen: %v", err)
	}
	data, err := ti2.Heap.GetTuple(gotRid)
	if err != nil {
		t.Fatalf("GetTuple after reopen: %v", err)
	}
	gotRow, err := types.DecodeRow(ti2.Schema, data)
	if err != nil {
		t.Fatalf("DecodeRow after reopen: %v", err)
	}
	if gotRow.Values[0].I32 != 7 {
		t.Fatalf("got id %d, want 7", gotRow.Values[0].I32)
	}
}
