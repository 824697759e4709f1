package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// FieldType is one of the four column kinds a schema can declare: NULL,
// INT32, FLOAT32 and CHAR.
type FieldType uint8

const (
	TypeNull FieldType = iota
	TypeInt32
	TypeFloat32
	TypeChar
)

func (t FieldType) String() string {
	switch t {
	case TypeInt32:
		return "INT32"
	case TypeFloat32:
		return "FLOAT32"
	case TypeChar:
		return "CHAR"
	default:
		return "NULL"
	}
}

// Field is a single tagged-union value. IsNull is authoritative regardless of
// Type — a NULL field of a non-null column keeps that column's Type so it can
// still be re-serialized against the schema.
type Field struct {
	Type   FieldType
	IsNull bool
	I32    int32
	F32    float32
	Chars  []byte // TypeChar payload, length <= the owning column's CharLen
}

func NullField(t FieldType) Field { return Field{Type: t, IsNull: true} }
func Int32Field(v int32) Field    { return Field{Type: TypeInt32, I32: v} }
func Float32Field(v float32) Field {
	return Field{Type: TypeFloat32, F32: v}
}
func CharField(s string) Field { return Field{Type: TypeChar, Chars: []byte(s)} }

// EncodedSize returns the number of bytes Encode writes for this field.
func (f Field) EncodedSize() int {
	if f.IsNull {
		return 1
	}
	switch f.Type {
	case TypeInt32:
		return 1 + 4
	case TypeFloat32:
		return 1 + 4
	case TypeChar:
		return 1 + 4 + len(f.Chars)
	default:
		return 1
	}
}

// Encode appends the on-disk form of f to buf: one is-null byte, then the
// width-specific payload (absent when IsNull). CHAR values are prefixed with
// a 4-byte little-endian length.
func (f Field) Encode(buf []byte) []byte {
	if f.IsNull {
		return append(buf, 1)
	}
	buf = append(buf, 0)
	switch f.Type {
	case TypeInt32:
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(f.I32))
		return append(buf, tmp[:]...)
	case TypeFloat32:
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(f.F32))
		return append(buf, tmp[:]...)
	case TypeChar:
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(len(f.Chars)))
		buf = append(buf, tmp[:]...)
		return append(buf, f.Chars...)
	default:
		return buf
	}
}

// DecodeField reads one field of the given type from buf, returning the
// field and the number of bytes consumed.
func DecodeField(t FieldType, buf []byte) (Field, int, error) {
	if len(buf) < 1 {
		return Field{}, 0, fmt.Errorf("DecodeField: empty buffer")
	}
	if buf[0] == 1 {
		return NullField(t), 1, nil
	}
	switch t {
	case TypeInt32:
		if len(buf) < 5 {
			return Field{}, 0, fmt.Errorf("DecodeField: truncated int32")
		}
		return Int32Field(int32(binary.LittleEndian.Uint32(buf[1:5]))), 5, nil
	case TypeFloat32:
		if len(buf) < 5 {
			return Field{}, 0, fmt.Errorf("DecodeField: truncated float32")
		}
		return Float32Field(math.Float32frombits(binary.LittleEndian.Uint32(buf[1:5]))), 5, nil
	case TypeChar:
		if len(buf) < 5 {
			return Field{}, 0, fmt.Errorf("DecodeField: truncated char length")
		}
		n := int(binary.LittleEndian.Uint32(buf[1:5]))
		if len(buf) < 5+n {
			return Field{}, 0, fmt.Errorf("DecodeField: truncated char payload")
		}
		out := make([]byte, n)
		copy(out, buf[5:5+n])
		return Field{Type: TypeChar, Chars: out}, 5 + n, nil
	default:
		return Field{}, 0, fmt.Errorf("DecodeField: unknown type tag %d", t)
	}
}

// Compare orders two fields of the same type. ok is false whenever either
// side is NULL — NULL compares unknown, per spec.
func (f Field) Compare(other Field) (cmp int, ok bool) {
	if f.IsNull || other.IsNull {
		return 0, false
	}
	switch f.Type {
	case TypeInt32:
		switch {
		case f.I32 < other.I32:
			return -1, true
		case f.I32 > other.I32:
			return 1, true
		default:
			return 0, true
		}
	case TypeFloat32:
		switch {
		case f.F32 < other.F32:
			return -1, true
		case f.F32 > other.F32:
			return 1, true
		default:
			return 0, true
		}
	case TypeChar:
		return bytes.Compare(f.Chars, other.Chars), true
	default:
		return 0, false
	}
}
