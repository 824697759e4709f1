// Package bptree implements the disk-resident B+tree index spec.md §5
// describes: leaf pages holding sorted (key, RowId) pairs linked into an
// ascending chain, internal pages routing on a dummy key₀ convention, and
// split/coalesce/redistribute rebalancing keyed on a page's fill factor.
//
// Grounded in the teacher's storage_engine/access/indexfile_manager/bplustree,
// generalized from single-int64 keys to the composite Field-keyed index
// spec.md's data model requires, and switched from the teacher's
// children.length == keys.length+1 internal-node convention to spec.md
// §6.2's dummy-key₀ convention (children.length == keys.length).
package bptree

import (
	"relstore/types"
)

// Key is an ordered tuple of field values — the projection of a row onto
// an index's key schema. Multi-column keys compare column by column.
type Key []types.Field

// Compare orders two keys of the same schema. A NULL field sorts before
// every non-NULL value of its column, giving the tree the total order it
// needs even though spec.md's SQL-level Field.Compare leaves NULL
// comparisons "unknown" — an index has no use for an unorderable key.
func Compare(a, b Key) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		fa, fb := a[i], b[i]
		if fa.IsNull && fb.IsNull {
			continue
		}
		if fa.IsNull {
			return -1
		}
		if fb.IsNull {
			return 1
		}
		c, _ := fa.Compare(fb)
		if c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

func (k Key) encodedSize() int {
	size := 0
	for _, f := range k {
		size += f.EncodedSize()
	}
	return size
}

func (k Key) encode(buf []byte) []byte {
	for _, f := range k {
		buf = f.Encode(buf)
	}
	return buf
}

func decodeKey(schema *types.Schema, buf []byte) (Key, int, error) {
	key := make(Key, 0, len(schema.Columns))
	off := 0
	for _, col := range schema.Columns {
		f, n, err := types.DecodeField(col.Type, buf[off:])
		if err != nil {
			return nil, 0, err
		}
		key = append(key, f)
		off += n
	}
	return key, off, nil
}

// FromRow projects a full row down to the key schema's columns, in key
// schema order — the same operation the index layer uses to derive a key
// from a newly inserted row.
func FromRow(fullSchema, keySchema *types.Schema, row *types.Row) (Key, error) {
	r, err := row.Project(fullSchema, keySchema)
	if err != nil {
		return nil, err
	}
	return Key(r.Values), nil
}
