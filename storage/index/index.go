// Package index wraps a bptree.BPlusTree with the typed Row/Schema
// semantics spec.md's data model requires: extracting a key from a row per
// an index's declared key columns and translating tree-level errors into
// the catalog-facing operations (InsertEntry, DeleteEntry, ScanEqual,
// Scan). Grounded in the teacher's storage_engine/index.go, which
// plays the same role between HeapfileManager rows and its bplustree.
package index

import (
	"relstore/storage/bptree"
	"relstore/types"
)

// Index is one secondary or primary-key index over a table.
type Index struct {
	tree       *bptree.BPlusTree
	fullSchema *types.Schema
	keySchema  *types.Schema
}

func New(tree *bptree.BPlusTree, fullSchema, keySchema *types.Schema) *Index {
	return &Index{tree: tree, fullSchema: fullSchema, keySchema: keySchema}
}

func (ix *Index) KeySchema() *types.Schema { return ix.keySchema }
func (ix *Index) RootPageID() types.PageId { return ix.tree.RootPageID() }

// InsertEntry projects row onto the index's key columns and inserts the
// resulting key pointing at rid. Returns DUPLICATE_KEY if the projected
// key already exists.
func (ix *Index) InsertEntry(row *types.Row, rid types.RowId) error {
	key, err := bptree.FromRow(ix.fullSchema, ix.keySchema, row)
	if err != nil {
		return err
	}
	return ix.tree.Insert(key, rid)
}

// DeleteEntry removes the entry for row's projected key.
func (ix *Index) DeleteEntry(row *types.Row) error {
	key, err := bptree.FromRow(ix.fullSchema, ix.keySchema, row)
	if err != nil {
		return err
	}
	return ix.tree.Remove(key)
}

// ScanEqual returns the RowId stored under the given key values, or
// NOT_FOUND if none matches.
func (ix *Index) ScanEqual(values []types.Field) (types.RowId, error) {
	return ix.tree.GetValue(bptree.Key(values))
}

// ScanOp names the comparison a range scan applies against its bound key.
type ScanOp int

const (
	OpEqual ScanOp = iota
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual
	OpNotEqual
)

// ScanIterator walks matching entries in ascending key order.
type ScanIterator struct {
	inner *bptree.Iterator
	op    ScanOp
	bound bptree.Key
	past  bool
}

// Scan returns an iterator over every entry satisfying `key OP bound`. For
// OpLess/OpLessEqual/OpNotEqual the underlying tree still has to be walked
// from the very beginning since a B+tree only lets you seek forward from a
// lower bound.
func (ix *Index) Scan(op ScanOp, bound []types.Field) (*ScanIterator, error) {
	key := bptree.Key(bound)
	var (
		it  *bptree.Iterator
		err error
	)
	switch op {
	case OpGreaterEqual, OpEqual:
		it, err = ix.tree.BeginAt(key)
	case OpGreater:
		it, err = ix.tree.BeginAt(key)
	default:
		it, err = ix.tree.Begin()
	}
	if err != nil {
		return nil, err
	}
	return &ScanIterator{inner: it, op: op, bound: key}, nil
}

// Next returns the RowId of the next matching entry. ok is false once the
// scan has exhausted every candidate entry the chosen op could match.
func (s *ScanIterator) Next() (rid types.RowId, ok bool, err error) {
	if s.past {
		return types.RowId{}, false, nil
	}
	for {
		key, r, present, nerr := s.inner.Next()
		if nerr != nil {
			return types.RowId{}, false, nerr
		}
		if !present {
			s.past = true
			return types.RowId{}, false, nil
		}
		cmp := bptree.Compare(key, s.bound)
		switch s.op {
		case OpEqual:
			if cmp == 0 {
				return r, true, nil
			}
			if cmp > 0 {
				s.past = true
				return types.RowId{}, false, nil
			}
		case OpGreaterEqual:
			return r, true, nil
		case OpGreater:
			if cmp > 0 {
				return r, true, nil
			}
		case OpLessEqual:
			if cmp > 0 {
				s.past = true
				return types.RowId{}, false, nil
			}
			return r, true, nil
		case OpLess:
			if cmp >= 0 {
				s.past = true
				return types.RowId{}, false, nil
			}
			return r, true, nil
		case OpNotEqual:
			if cmp != 0 {
				return r, true, nil
			}
		}
	}
}

// Close releases the scan's pinned page if abandoned early.
func (s *ScanIterator) Close() error { return s.inner.Close() }
