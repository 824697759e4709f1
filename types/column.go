package types

import (
	"encoding/binary"
	"fmt"
)

const columnMagic uint32 = 0x434f4c31 // "COL1"

// Column describes one field of a schema. CharLen is only meaningful when
// Type == TypeChar.
type Column struct {
	Name     string
	Type     FieldType
	Ordinal  int
	Nullable bool
	Unique   bool
	CharLen  int
}

func (c Column) encodedSize() int {
	size := 4 + 4 + len(c.Name) + 4 + 4 + 1 + 1 + 4
	return size
}

// Encode serializes a column per the on-disk layout in spec.md §6.2:
// magic | nameLen | name | typeTag | charLen | nullable | unique | ordinal.
func (c Column) Encode(buf []byte) []byte {
	var tmp [4]byte
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(tmp[:], v)
		buf = append(buf, tmp[:]...)
	}
	putU32(columnMagic)
	putU32(uint32(len(c.Name)))
	buf = append(buf, c.Name...)
	putU32(uint32(c.Type))
	putU32(uint32(c.CharLen))
	if c.Nullable {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	if c.Unique {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	putU32(uint32(c.Ordinal))
	return buf
}

// DecodeColumn reads one column, returning it and bytes consumed.
func DecodeColumn(buf []byte) (Column, int, error) {
	if len(buf) < 12 {
		return Column{}, 0, fmt.Errorf("DecodeColumn: truncated header")
	}
	off := 0
	magic := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	if magic != columnMagic {
		return Column{}, 0, fmt.Errorf("DecodeColumn: bad magic %x", magic)
	}
	nameLen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if len(buf) < off+nameLen+4+4+1+1+4 {
		return Column{}, 0, fmt.Errorf("DecodeColumn: truncated body")
	}
	name := string(buf[off : off+nameLen])
	off += nameLen
	typeTag := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	charLen := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	nullable := buf[off] == 1
	off++
	unique := buf[off] == 1
	off++
	ordinal := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	return Column{
		Name:     name,
		Type:     FieldType(typeTag),
		Ordinal:  int(ordinal),
		Nullable: nullable,
		Unique:   unique,
		CharLen:  int(charLen),
	}, off, nil
}
