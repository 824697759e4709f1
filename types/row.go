package types

import "fmt"

// Row is a tuple of field values in schema order, plus the RowId it lives at
// (zero value until the row has actually been inserted into a table heap).
type Row struct {
	Values []Field
	Id     RowId
}

func NewRow(values []Field) *Row {
	return &Row{Values: values}
}

// EncodedSize returns the serialized length of the row's field values —
// callers compare this against the page budget before attempting an insert
// (spec.md §3.3's TUPLE_TOO_LARGE invariant).
func (r *Row) EncodedSize() int {
	size := 0
	for _, f := range r.Values {
		size += f.EncodedSize()
	}
	return size
}

// Encode serializes the row's fields in order. The schema is not embedded —
// callers must know it out of band (the table heap's owning schema) to
// decode, exactly as spec.md §6.2 implies for row bytes on a heap page.
func (r *Row) Encode() []byte {
	buf := make([]byte, 0, r.EncodedSize())
	for _, f := range r.Values {
		buf = f.Encode(buf)
	}
	return buf
}

// DecodeRow reads len(schema.Columns) fields from buf in schema order.
func DecodeRow(schema *Schema, buf []byte) (*Row, error) {
	values := make([]Field, 0, len(schema.Columns))
	off := 0
	for i, col := range schema.Columns {
		f, n, err := DecodeField(col.Type, buf[off:])
		if err != nil {
			return nil, fmt.Errorf("DecodeRow: column %d (%s): %w", i, col.Name, err)
		}
		values = append(values, f)
		off += n
	}
	return &Row{Values: values}, nil
}

// Project extracts the fields named by keySchema (in keySchema's order) from
// a row known to have been built against fullSchema. Used to turn an
// inserted row into an index key.
func (r *Row) Project(fullSchema, keySchema *Schema) (*Row, error) {
	values := make([]Field, 0, len(keySchema.Columns))
	for _, kc := range keySchema.Columns {
		ord, ok := fullSchema.Ordinal(kc.Name)
		if !ok {
			return nil, NewError("Row.Project", KindColumnNotExist, kc.Name)
		}
		if ord >= len(r.Values) {
			return nil, fmt.Errorf("Row.Project: row has %d values, need ordinal %d", len(r.Values), ord)
		}
		values = append(values, r.Values[ord])
	}
	return &Row{Values: values}, nil
}
