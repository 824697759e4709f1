// Package catalog implements the database-wide directory of tables and
// indexes spec.md §3.8/§4.6 describes: CreateTable, GetTable, GetTables,
// DropTable, CreateIndex, GetIndex, GetTableIndexes, DropIndex, and Flush,
// backed by the reserved CatalogMetaPageID and IndexRootsPageID pages.
//
// Grounded in the teacher's storage_engine/catalog for the shape of these
// operations (name->id maps, per-object meta records), rewritten around a
// binary page format instead of the teacher's JSON file, since spec.md's
// data model is a single page-structured database file.
package catalog

import (
	"encoding/binary"
	"fmt"
	"sync"

	"relstore/internal/logging"
	"relstore/storage/bptree"
	"relstore/storage/bufferpool"
	"relstore/storage/heap"
	"relstore/storage/index"
	"relstore/storage/page"
	"relstore/types"
)

var log = logging.New("catalog")

const catalogMagic uint32 = 0x00ca7a00
const tableMetaMagic uint32 = 0x7461626c  // "tabl"
const indexMetaMagic uint32 = 0x69646378  // "idcx"

// TableInfo is the catalog's owned record for one table. Callers hold
// borrowed references; the catalog is the sole writer.
type TableInfo struct {
	ID           types.TableId
	Name         string
	Schema       *types.Schema
	MetaPageID   types.PageId
	FirstPageID  types.PageId
	Heap         *heap.TableHeap
}

// IndexInfo is the catalog's owned record for one index.
type IndexInfo struct {
	ID          types.IndexId
	Name        string
	TableID     types.TableId
	ColumnOrds  []int
	MetaPageID  types.PageId
	KeySchema   *types.Schema
	Index       *index.Index
}

// Catalog owns every TableInfo and IndexInfo for the database's lifetime.
type Catalog struct {
	mu sync.Mutex

	bp *bufferpool.BufferPool

	nextTableID types.TableId
	nextIndexID types.IndexId

	tablesByName map[string]*TableInfo
	tablesByID   map[types.TableId]*TableInfo
	indexesByID  map[types.IndexId]*IndexInfo
	// indexesByTable[tableID][indexName] -> *IndexInfo
	indexesByTable map[types.TableId]map[string]*IndexInfo
}

// Open bootstraps a Catalog against bp. isNew distinguishes formatting a
// brand-new database file (both reserved pages are written fresh) from
// reopening one (both reserved pages are read and every meta page they
// name is replayed) — the only place that distinction is made, per
// spec.md's design-notes REDESIGN FLAG about init-vs-open lifecycles.
func Open(bp *bufferpool.BufferPool, isNew bool) (*Catalog, error) {
	c := &Catalog{
		bp:             bp,
		tablesByName:   make(map[string]*TableInfo),
		tablesByID:     make(map[types.TableId]*TableInfo),
		indexesByID:    make(map[types.IndexId]*IndexInfo),
		indexesByTable: make(map[types.TableId]map[string]*IndexInfo),
	}
	if isNew {
		if err := c.formatFresh(); err != nil {
			return nil, err
		}
		return c, nil
	}
	if err := c.replay(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) formatFresh() error {
	metaPg, err := c.bp.FetchPage(types.CatalogMetaPageID)
	if err != nil {
		// First-ever access: the page doesn't exist as a frame yet, but
		// diskmgr reads unwritten pages as zero, so FetchPage always
		// succeeds. Nothing else to do here.
		return err
	}
	binary.LittleEndian.PutUint32(metaPg.Data[0:4], catalogMagic)
	binary.LittleEndian.PutUint32(metaPg.Data[4:8], 0)
	binary.LittleEndian.PutUint32(metaPg.Data[8:12], 0)
	metaPg.Type = types.PageTypeCatalogMeta
	if err := c.bp.UnpinPage(types.CatalogMetaPageID, true); err != nil {
		return err
	}

	rootsPg, err := c.bp.FetchPage(types.IndexRootsPageID)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(rootsPg.Data[0:4], 0)
	rootsPg.Type = types.PageTypeIndexRoots
	return c.bp.UnpinPage(types.IndexRootsPageID, true)
}

// replay reads the catalog meta page, then every table/index meta page it
// names, rebuilding every in-memory TableInfo/IndexInfo and reattaching
// each index's B+tree to its persisted root.
func (c *Catalog) replay() error {
	metaPg, err := c.bp.FetchPage(types.CatalogMetaPageID)
	if err != nil {
		return err
	}
	defer c.bp.UnpinPage(types.CatalogMetaPageID, false)

	d := metaPg.Data
	magic := binary.LittleEndian.Uint32(d[0:4])
	if magic != catalogMagic {
		return fmt.Errorf("catalog.replay: bad magic %x, expected fresh database?", magic)
	}
	tableCount := int(binary.LittleEndian.Uint32(d[4:8]))
	indexCount := int(binary.LittleEndian.Uint32(d[8:12]))

	off := 12
	type tableRef struct {
		id     types.TableId
		metaPg types.PageId
	}
	type indexRef struct {
		id     types.IndexId
		metaPg types.PageId
	}
	tableRefs := make([]tableRef, 0, tableCount)
	for i := 0; i < tableCount; i++ {
		id := types.TableId(binary.LittleEndian.Uint32(d[off:]))
		off += 4
		mp := types.PageId(int32(binary.LittleEndian.Uint32(d[off:])))
		off += 4
		tableRefs = append(tableRefs, tableRef{id, mp})
	}
	indexRefs := make([]indexRef, 0, indexCount)
	for i := 0; i < indexCount; i++ {
		id := types.IndexId(binary.LittleEndian.Uint32(d[off:]))
		off += 4
		mp := types.PageId(int32(binary.LittleEndian.Uint32(d[off:])))
		off += 4
		indexRefs = append(indexRefs, indexRef{id, mp})
	}

	for _, ref := range tableRefs {
		ti, err := c.readTableMeta(ref.metaPg)
		if err != nil {
			return fmt.Errorf("catalog.replay: table %d: %w", ref.id, err)
		}
		ti.ID = ref.id
		ti.MetaPageID = ref.metaPg
		ti.Heap = heap.Open(c.bp, ti.FirstPageID)
		c.tablesByName[ti.Name] = ti
		c.tablesByID[ti.ID] = ti
		if ref.id >= c.nextTableID {
			c.nextTableID = ref.id + 1
		}
	}

	rootsByIndex, err := c.readIndexRoots()
	if err != nil {
		return err
	}

	for _, ref := range indexRefs {
		ii, err := c.readIndexMeta(ref.metaPg)
		if err != nil {
			return fmt.Errorf("catalog.replay: index %d: %w", ref.id, err)
		}
		ii.ID = ref.id
		ii.MetaPageID = ref.metaPg
		table, ok := c.tablesByID[ii.TableID]
		if !ok {
			return fmt.Errorf("catalog.replay: index %d references unknown table %d", ref.id, ii.TableID)
		}
		ii.KeySchema, err = table.Schema.Project(columnNames(table.Schema, ii.ColumnOrds))
		if err != nil {
			return err
		}
		root, hasRoot := rootsByIndex[ii.ID]
		if !hasRoot {
			root = types.InvalidPageID
		}
		var tree *bptree.BPlusTree
		if root.Valid() {
			tree = bptree.Open(c.bp, ii.KeySchema, root, c.rootChangedFor(ii.ID))
		} else {
			tree, err = bptree.New(c.bp, ii.KeySchema, c.rootChangedFor(ii.ID))
			if err != nil {
				return err
			}
		}
		ii.Index = index.New(tree, table.Schema, ii.KeySchema)

		c.indexesByID[ii.ID] = ii
		if c.indexesByTable[ii.TableID] == nil {
			c.indexesByTable[ii.TableID] = make(map[string]*IndexInfo)
		}
		c.indexesByTable[ii.TableID][ii.Name] = ii
		if ref.id >= c.nextIndexID {
			c.nextIndexID = ref.id + 1
		}
	}

	return nil
}

func columnNames(schema *types.Schema, ordinals []int) []string {
	names := make([]string, len(ordinals))
	for i, ord := range ordinals {
		names[i] = schema.Columns[ord].Name
	}
	return names
}

// rootChangedFor returns the callback a tree calls whenever its root page
// changes, closing over which IndexId it belongs to.
func (c *Catalog) rootChangedFor(id types.IndexId) bptree.RootChanged {
	return func(newRoot types.PageId) error {
		return c.writeIndexRoot(id, newRoot)
	}
}

// readIndexRoots decodes IndexRootsPageID's bounded array of
// (IndexId, rootPageId) pairs.
func (c *Catalog) readIndexRoots() (map[types.IndexId]types.PageId, error) {
	pg, err := c.bp.FetchPage(types.IndexRootsPageID)
	if err != nil {
		return nil, err
	}
	defer c.bp.UnpinPage(types.IndexRootsPageID, false)

	count := int(binary.LittleEndian.Uint32(pg.Data[0:4]))
	out := make(map[types.IndexId]types.PageId, count)
	off := 4
	for i := 0; i < count; i++ {
		id := types.IndexId(binary.LittleEndian.Uint32(pg.Data[off:]))
		off += 4
		root := types.PageId(int32(binary.LittleEndian.Uint32(pg.Data[off:])))
		off += 4
		out[id] = root
	}
	return out, nil
}

// writeIndexRoot rewrites the whole index-roots page with id's root
// updated (or added). The directory is small and rewritten wholesale on
// every root change — simple, and correct for the bounded array spec.md
// §3.7 describes.
func (c *Catalog) writeIndexRoot(id types.IndexId, root types.PageId) error {
	roots, err := c.readIndexRoots()
	if err != nil {
		return err
	}
	roots[id] = root

	pg, err := c.bp.FetchPage(types.IndexRootsPageID)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(pg.Data[0:4], uint32(len(roots)))
	off := 4
	for indexID, rootID := range roots {
		binary.LittleEndian.PutUint32(pg.Data[off:], uint32(indexID))
		off += 4
		binary.LittleEndian.PutUint32(pg.Data[off:], uint32(rootID))
		off += 4
	}
	return c.bp.UnpinPage(types.IndexRootsPageID, true)
}

func (c *Catalog) removeIndexRoot(id types.IndexId) error {
	roots, err := c.readIndexRoots()
	if err != nil {
		return err
	}
	delete(roots, id)
	pg, err := c.bp.FetchPage(types.IndexRootsPageID)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(pg.Data[0:4], uint32(len(roots)))
	off := 4
	for indexID, rootID := range roots {
		binary.LittleEndian.PutUint32(pg.Data[off:], uint32(indexID))
		off += 4
		binary.LittleEndian.PutUint32(pg.Data[off:], uint32(rootID))
		off += 4
	}
	return c.bp.UnpinPage(types.IndexRootsPageID, true)
}

func (c *Catalog) readTableMeta(metaPageID types.PageId) (*TableInfo, error) {
	pg, err := c.bp.FetchPage(metaPageID)
	if err != nil {
		return nil, err
	}
	defer c.bp.UnpinPage(metaPageID, false)

	d := pg.Data
	if binary.LittleEndian.Uint32(d[0:4]) != tableMetaMagic {
		return nil, fmt.Errorf("readTableMeta: bad magic")
	}
	off := 4
	off += 4 // tableId, filled in by caller from the directory entry
	nameLen := int(binary.LittleEndian.Uint32(d[off:]))
	off += 4
	name := string(d[off : off+nameLen])
	off += nameLen
	firstPage := types.PageId(int32(binary.LittleEndian.Uint32(d[off:])))
	off += 4
	schema, _, err := types.DecodeSchema(d[off:])
	if err != nil {
		return nil, err
	}
	return &TableInfo{Name: name, FirstPageID: firstPage, Schema: schema}, nil
}

func (c *Catalog) writeTableMeta(pg *page.Page, ti *TableInfo) {
	buf := make([]byte, 0, types.PagePayloadSize)
	var tmp [4]byte
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(tmp[:], v)
		buf = append(buf, tmp[:]...)
	}
	putU32(tableMetaMagic)
	putU32(uint32(ti.ID))
	putU32(uint32(len(ti.Name)))
	buf = append(buf, ti.Name...)
	putU32(uint32(ti.FirstPageID))
	buf = ti.Schema.Encode(buf)
	copy(pg.Data, buf)
	pg.Type = types.PageTypeCatalogMeta
	pg.IsDirty = true
}

func (c *Catalog) readIndexMeta(metaPageID types.PageId) (*IndexInfo, error) {
	pg, err := c.bp.FetchPage(metaPageID)
	if err != nil {
		return nil, err
	}
	defer c.bp.UnpinPage(metaPageID, false)

	d := pg.Data
	if binary.LittleEndian.Uint32(d[0:4]) != indexMetaMagic {
		return nil, fmt.Errorf("readIndexMeta: bad magic")
	}
	off := 4
	off += 4 // indexId, filled in by caller
	nameLen := int(binary.LittleEndian.Uint32(d[off:]))
	off += 4
	name := string(d[off : off+nameLen])
	off += nameLen
	tableID := types.TableId(binary.LittleEndian.Uint32(d[off:]))
	off += 4
	keyCount := int(binary.LittleEndian.Uint32(d[off:]))
	off += 4
	ords := make([]int, keyCount)
	for i := 0; i < keyCount; i++ {
		ords[i] = int(binary.LittleEndian.Uint32(d[off:]))
		off += 4
	}
	return &IndexInfo{Name: name, TableID: tableID, ColumnOrds: ords}, nil
}

func (c *Catalog) writeIndexMeta(pg *page.Page, ii *IndexInfo) {
	buf := make([]byte, 0, types.PagePayloadSize)
	var tmp [4]byte
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(tmp[:], v)
		buf = append(buf, tmp[:]...)
	}
	putU32(indexMetaMagic)
	putU32(uint32(ii.ID))
	putU32(uint32(len(ii.Name)))
	buf = append(buf, ii.Name...)
	putU32(uint32(ii.TableID))
	putU32(uint32(len(ii.ColumnOrds)))
	for _, ord := range ii.ColumnOrds {
		putU32(uint32(ord))
	}
	copy(pg.Data, buf)
	pg.Type = types.PageTypeCatalogMeta
	pg.IsDirty = true
}

// writeCatalogMeta rewrites CatalogMetaPageID's directory of every live
// table and index id -> meta page. Called after every structural mutation
// so a crash never leaves the directory pointing at a freed page — the
// eager-flush policy spec.md's open question §9 resolves.
func (c *Catalog) writeCatalogMeta() error {
	pg, err := c.bp.FetchPage(types.CatalogMetaPageID)
	if err != nil {
		return err
	}
	d := pg.Data
	binary.LittleEndian.PutUint32(d[0:4], catalogMagic)
	binary.LittleEndian.PutUint32(d[4:8], uint32(len(c.tablesByID)))
	binary.LittleEndian.PutUint32(d[8:12], uint32(len(c.indexesByID)))
	off := 12
	for id, ti := range c.tablesByID {
		binary.LittleEndian.PutUint32(d[off:], uint32(id))
		off += 4
		binary.LittleEndian.PutUint32(d[off:], uint32(ti.MetaPageID))
		off += 4
	}
	for id, ii := range c.indexesByID {
		binary.LittleEndian.PutUint32(d[off:], uint32(id))
		off += 4
		binary.LittleEndian.PutUint32(d[off:], uint32(ii.MetaPageID))
		off += 4
	}
	if err := c.bp.UnpinPage(types.CatalogMetaPageID, true); err != nil {
		return err
	}
	if _, err := c.bp.FlushPage(types.CatalogMetaPageID); err != nil {
		return err
	}
	_, err = c.bp.FlushPage(types.IndexRootsPageID)
	return err
}

// Flush serializes the catalog-meta directory into its reserved page and
// pushes every dirty page in the pool (including the index-roots page and
// every table/index meta page) out to disk.
func (c *Catalog) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeCatalogMeta(); err != nil {
		return err
	}
	return c.bp.FlushAllPages()
}
