package types

import (
	"encoding/binary"
	"fmt"
)

const schemaMagic uint32 = 0x53434831 // "SCH1"

// Schema is an ordered list of columns plus a memoized name lookup, exactly
// as spec.md §3.3 describes it.
type Schema struct {
	Columns   []Column
	nameIndex map[string]int
}

func NewSchema(columns []Column) *Schema {
	s := &Schema{Columns: columns}
	s.rebuildIndex()
	return s
}

func (s *Schema) rebuildIndex() {
	s.nameIndex = make(map[string]int, len(s.Columns))
	for i, c := range s.Columns {
		s.nameIndex[c.Name] = i
	}
}

// Ordinal returns the column's index in Columns, or (-1, false) if absent.
func (s *Schema) Ordinal(name string) (int, bool) {
	if s.nameIndex == nil {
		s.rebuildIndex()
	}
	i, ok := s.nameIndex[name]
	if !ok {
		return -1, false
	}
	return i, true
}

func (s *Schema) Column(name string) (Column, error) {
	i, ok := s.Ordinal(name)
	if !ok {
		return Column{}, NewError("Schema.Column", KindColumnNotExist, name)
	}
	return s.Columns[i], nil
}

// Project returns a narrower schema containing only the named columns, in
// the order requested — used to build a key schema for an index.
func (s *Schema) Project(names []string) (*Schema, error) {
	cols := make([]Column, 0, len(names))
	for _, n := range names {
		c, err := s.Column(n)
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return NewSchema(cols), nil
}

// EncodedSize returns the exact number of bytes Encode writes for this
// schema (header plus every column, names included) — provided for callers
// pre-sizing a buffer.
func (s *Schema) EncodedSize() int {
	size := 8
	for _, c := range s.Columns {
		size += c.encodedSize()
	}
	return size
}

// Encode writes: magic | columnCount | column*.
func (s *Schema) Encode(buf []byte) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], schemaMagic)
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(s.Columns)))
	buf = append(buf, tmp[:]...)
	for _, c := range s.Columns {
		buf = c.Encode(buf)
	}
	return buf
}

// DecodeSchema reads a schema, returning it and the bytes consumed.
func DecodeSchema(buf []byte) (*Schema, int, error) {
	if len(buf) < 8 {
		return nil, 0, fmt.Errorf("DecodeSchema: truncated header")
	}
	off := 0
	magic := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	if magic != schemaMagic {
		return nil, 0, fmt.Errorf("DecodeSchema: bad magic %x", magic)
	}
	count := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	cols := make([]Column, 0, count)
	for i := 0; i < count; i++ {
		c, n, err := DecodeColumn(buf[off:])
		if err != nil {
			return nil, 0, fmt.Errorf("DecodeSchema: column %d: %w", i, err)
		}
		cols = append(cols, c)
		off += n
	}
	return NewSchema(cols), off, nil
}
