package catalog

import (
	"fmt"

	"relstore/storage/bptree"
	"relstore/storage/heap"
	"relstore/storage/index"
	"relstore/types"
)

// CreateTable allocates a TableId and a meta page, creates the table's
// first heap page, writes the table's meta page and rewrites the catalog
// directory before returning. The meta and heap pages stay dirty in the
// buffer pool until Flush or eviction writes them out.
func (c *Catalog) CreateTable(name string, schema *types.Schema) (*TableInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.tablesByName[name]; exists {
		return nil, types.NewError("Catalog.CreateTable", types.KindTableAlreadyExist, name)
	}

	th, err := heap.New(c.bp)
	if err != nil {
		return nil, fmt.Errorf("Catalog.CreateTable: %w", err)
	}

	metaPg, err := c.bp.NewPage(types.PageTypeCatalogMeta)
	if err != nil {
		return nil, fmt.Errorf("Catalog.CreateTable: %w", err)
	}

	ti := &TableInfo{
		ID:          c.nextTableID,
		Name:        name,
		Schema:      schema,
		MetaPageID:  metaPg.ID,
		FirstPageID: th.FirstPageID(),
		Heap:        th,
	}
	c.nextTableID++

	c.writeTableMeta(metaPg, ti)
	if err := c.bp.UnpinPage(metaPg.ID, true); err != nil {
		return nil, err
	}

	c.tablesByName[name] = ti
	c.tablesByID[ti.ID] = ti

	if err := c.writeCatalogMeta(); err != nil {
		return nil, err
	}
	log.Trace("create-table", "name", name, "id", ti.ID, "columns", len(schema.Columns))
	return ti, nil
}

func (c *Catalog) GetTable(name string) (*TableInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ti, ok := c.tablesByName[name]
	if !ok {
		return nil, types.NewError("Catalog.GetTable", types.KindTableNotExist, name)
	}
	return ti, nil
}

func (c *Catalog) GetTableByID(id types.TableId) (*TableInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ti, ok := c.tablesByID[id]
	if !ok {
		return nil, types.NewError("Catalog.GetTableByID", types.KindTableNotExist, "")
	}
	return ti, nil
}

func (c *Catalog) GetTables() []*TableInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*TableInfo, 0, len(c.tablesByID))
	for _, ti := range c.tablesByID {
		out = append(out, ti)
	}
	return out
}

// DropTable removes name from the catalog, freeing its meta page, every
// page of its heap, and every index built on it. Unlike the teacher's
// DropTable (which forgets the name→id entry but leaks the heap and meta
// pages), this always fully reclaims storage — spec.md §9's open question
// on this is resolved in favor of full cleanup.
func (c *Catalog) DropTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ti, ok := c.tablesByName[name]
	if !ok {
		return types.NewError("Catalog.DropTable", types.KindTableNotExist, name)
	}

	for indexName := range c.indexesByTable[ti.ID] {
		if err := c.dropIndexLocked(ti.ID, indexName); err != nil {
			return err
		}
	}

	pageID := ti.FirstPageID
	for pageID.Valid() {
		pg, err := c.bp.FetchPage(pageID)
		if err != nil {
			return err
		}
		next := heap.Wrap(pg).NextPageID()
		if err := c.bp.UnpinPage(pageID, false); err != nil {
			return err
		}
		if err := c.bp.DeletePage(pageID); err != nil {
			return err
		}
		pageID = next
	}

	if err := c.bp.DeletePage(ti.MetaPageID); err != nil {
		return err
	}

	delete(c.tablesByName, name)
	delete(c.tablesByID, ti.ID)
	delete(c.indexesByTable, ti.ID)

	if err := c.writeCatalogMeta(); err != nil {
		return err
	}
	log.Trace("drop-table", "name", name, "id", ti.ID)
	return nil
}

// CreateIndex builds a brand-new, empty tree over the named columns.
// Population policy: the new index starts empty; the caller re-inserts
// existing rows if it wants the index backfilled (spec.md §4.6, §9 —
// matches the teacher's own behavior of only building indexes at
// table-creation time).
func (c *Catalog) CreateIndex(tableName, indexName string, keyColumns []string) (*IndexInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ti, ok := c.tablesByName[tableName]
	if !ok {
		return nil, types.NewError("Catalog.CreateIndex", types.KindTableNotExist, tableName)
	}
	if _, exists := c.indexesByTable[ti.ID][indexName]; exists {
		return nil, types.NewError("Catalog.CreateIndex", types.KindIndexAlreadyExist, indexName)
	}

	ords := make([]int, 0, len(keyColumns))
	for _, name := range keyColumns {
		ord, ok := ti.Schema.Ordinal(name)
		if !ok {
			return nil, types.NewError("Catalog.CreateIndex", types.KindColumnNotExist, name)
		}
		ords = append(ords, ord)
	}
	keySchema, err := ti.Schema.Project(keyColumns)
	if err != nil {
		return nil, err
	}

	metaPg, err := c.bp.NewPage(types.PageTypeCatalogMeta)
	if err != nil {
		return nil, fmt.Errorf("Catalog.CreateIndex: %w", err)
	}

	ii := &IndexInfo{
		ID:         c.nextIndexID,
		Name:       indexName,
		TableID:    ti.ID,
		ColumnOrds: ords,
		MetaPageID: metaPg.ID,
		KeySchema:  keySchema,
	}
	c.nextIndexID++

	tree, err := bptree.New(c.bp, keySchema, c.rootChangedFor(ii.ID))
	if err != nil {
		c.bp.UnpinPage(metaPg.ID, false)
		return nil, err
	}
	ii.Index = index.New(tree, ti.Schema, keySchema)

	c.writeIndexMeta(metaPg, ii)
	if err := c.bp.UnpinPage(metaPg.ID, true); err != nil {
		return nil, err
	}

	c.indexesByID[ii.ID] = ii
	if c.indexesByTable[ti.ID] == nil {
		c.indexesByTable[ti.ID] = make(map[string]*IndexInfo)
	}
	c.indexesByTable[ti.ID][indexName] = ii

	if err := c.writeCatalogMeta(); err != nil {
		return nil, err
	}
	return ii, nil
}

func (c *Catalog) GetIndex(tableName, indexName string) (*IndexInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ti, ok := c.tablesByName[tableName]
	if !ok {
		return nil, types.NewError("Catalog.GetIndex", types.KindTableNotExist, tableName)
	}
	ii, ok := c.indexesByTable[ti.ID][indexName]
	if !ok {
		return nil, types.NewError("Catalog.GetIndex", types.KindIndexNotFound, indexName)
	}
	return ii, nil
}

func (c *Catalog) GetTableIndexes(tableName string) ([]*IndexInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ti, ok := c.tablesByName[tableName]
	if !ok {
		return nil, types.NewError("Catalog.GetTableIndexes", types.KindTableNotExist, tableName)
	}
	out := make([]*IndexInfo, 0, len(c.indexesByTable[ti.ID]))
	for _, ii := range c.indexesByTable[ti.ID] {
		out = append(out, ii)
	}
	return out, nil
}

func (c *Catalog) DropIndex(tableName, indexName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ti, ok := c.tablesByName[tableName]
	if !ok {
		return types.NewError("Catalog.DropIndex", types.KindTableNotExist, tableName)
	}
	if err := c.dropIndexLocked(ti.ID, indexName); err != nil {
		return err
	}
	return c.writeCatalogMeta()
}

// dropIndexLocked frees every page of an index's tree, its meta page, and
// its index-roots entry. Caller holds c.mu and calls writeCatalogMeta
// afterward.
func (c *Catalog) dropIndexLocked(tableID types.TableId, indexName string) error {
	ii, ok := c.indexesByTable[tableID][indexName]
	if !ok {
		return types.NewError("Catalog.DropIndex", types.KindIndexNotFound, indexName)
	}

	if err := c.freeTreePages(ii.Index.RootPageID()); err != nil {
		return err
	}
	if err := c.bp.DeletePage(ii.MetaPageID); err != nil {
		return err
	}
	if err := c.removeIndexRoot(ii.ID); err != nil {
		return err
	}

	delete(c.indexesByID, ii.ID)
	delete(c.indexesByTable[tableID], indexName)
	return nil
}

// freeTreePages walks a tree's page graph breadth-first and deletes every
// page — used by DropTable/DropIndex, mirroring spec.md §4.6's "destroy
// the tree (freeing all its pages)".
func (c *Catalog) freeTreePages(root types.PageId) error {
	if !root.Valid() {
		return nil
	}
	queue := []types.PageId{root}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		pg, err := c.bp.FetchPage(id)
		if err != nil {
			return err
		}
		var children []types.PageId
		if !bptree.IsLeafPage(pg) {
			children = bptree.RawChildren(pg)
		}
		if err := c.bp.UnpinPage(id, false); err != nil {
			return err
		}
		if err := c.bp.DeletePage(id); err != nil {
			return err
		}
		queue = append(queue, children...)
	}
	return nil
}
