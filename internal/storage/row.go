// Row codec and value model.
//
// A row is a u16 column count followed by tagged values; every multi-byte
// integer is little-endian. The same encoding carries user rows, catalog
// rows, and index buckets, so the decoder is strict: unknown tags and
// lengths that overrun the buffer surface as ErrCorruptRow.
package storage

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"
)

// ValueKind discriminates the variants of ColumnValue. The constant values
// double as the on-disk tag bytes.
type ValueKind byte

const (
	KindNull      ValueKind = 0x00
	KindInteger   ValueKind = 0x01
	KindText      ValueKind = 0x02
	KindBoolean   ValueKind = 0x03
	KindChar      ValueKind = 0x04
	KindDouble    ValueKind = 0x05
	KindDate      ValueKind = 0x06 // days since 1970-01-01
	KindDateTime  ValueKind = 0x07 // seconds since epoch
	KindTimestamp ValueKind = 0x08 // seconds since epoch
	KindTime      ValueKind = 0x09 // seconds since midnight
	KindYear      ValueKind = 0x0A
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInteger:
		return "integer"
	case KindText:
		return "text"
	case KindBoolean:
		return "boolean"
	case KindChar:
		return "char"
	case KindDouble:
		return "double"
	case KindDate:
		return "date"
	case KindDateTime:
		return "datetime"
	case KindTimestamp:
		return "timestamp"
	case KindTime:
		return "time"
	case KindYear:
		return "year"
	default:
		return fmt.Sprintf("ValueKind(%d)", byte(k))
	}
}

// ColumnValue is one scalar cell of a row. Kind selects which payload field
// is meaningful.
type ColumnValue struct {
	Kind ValueKind
	Int  int32   // integer, date, time, year
	I64  int64   // datetime, timestamp
	F64  float64 // double
	Str  string  // text, char
	Bool bool
}

// Null returns the SQL NULL value.
func Null() ColumnValue { return ColumnValue{Kind: KindNull} }

// NewInteger wraps a 32-bit integer value.
func NewInteger(v int32) ColumnValue { return ColumnValue{Kind: KindInteger, Int: v} }

// NewText wraps a text value. The string is NFC-normalized so equality and
// index hashing do not depend on the Unicode representation the client sent.
func NewText(s string) ColumnValue {
	return ColumnValue{Kind: KindText, Str: norm.NFC.String(s)}
}

// NewBoolean wraps a boolean value.
func NewBoolean(b bool) ColumnValue { return ColumnValue{Kind: KindBoolean, Bool: b} }

// NewChar wraps a fixed-length character value, NFC-normalized like text.
func NewChar(s string) ColumnValue {
	return ColumnValue{Kind: KindChar, Str: norm.NFC.String(s)}
}

// NewDouble wraps a double-precision float.
func NewDouble(f float64) ColumnValue { return ColumnValue{Kind: KindDouble, F64: f} }

// NewDate wraps a date given as days since 1970-01-01.
func NewDate(days int32) ColumnValue { return ColumnValue{Kind: KindDate, Int: days} }

// NewDateTime wraps a wall-clock datetime given as Unix seconds.
func NewDateTime(sec int64) ColumnValue { return ColumnValue{Kind: KindDateTime, I64: sec} }

// NewTimestamp wraps a timestamp given as Unix seconds.
func NewTimestamp(sec int64) ColumnValue { return ColumnValue{Kind: KindTimestamp, I64: sec} }

// NewTime wraps a time-of-day given as seconds since midnight.
func NewTime(sec int32) ColumnValue { return ColumnValue{Kind: KindTime, Int: sec} }

// NewYear wraps a four-digit year.
func NewYear(y int32) ColumnValue { return ColumnValue{Kind: KindYear, Int: y} }

// IsNull reports whether the value is SQL NULL.
func (v ColumnValue) IsNull() bool { return v.Kind == KindNull }

// Equal reports deep equality of two values including their kind.
func (v ColumnValue) Equal(o ColumnValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindInteger, KindDate, KindTime, KindYear:
		return v.Int == o.Int
	case KindDateTime, KindTimestamp:
		return v.I64 == o.I64
	case KindDouble:
		return v.F64 == o.F64
	case KindText, KindChar:
		return v.Str == o.Str
	case KindBoolean:
		return v.Bool == o.Bool
	}
	return false
}

// String renders the value in its stable, locale-independent form: base-10
// integers, true/false booleans, ISO dates and times in UTC. Index storage
// and display both rely on this rendering.
func (v ColumnValue) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindInteger:
		return strconv.FormatInt(int64(v.Int), 10)
	case KindText, KindChar:
		return v.Str
	case KindBoolean:
		return strconv.FormatBool(v.Bool)
	case KindDouble:
		return strconv.FormatFloat(v.F64, 'g', -1, 64)
	case KindDate:
		return time.Unix(int64(v.Int)*86400, 0).UTC().Format(time.DateOnly)
	case KindDateTime, KindTimestamp:
		return time.Unix(v.I64, 0).UTC().Format(time.DateTime)
	case KindTime:
		s := v.Int
		return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s/60)%60, s%60)
	case KindYear:
		return strconv.FormatInt(int64(v.Int), 10)
	}
	return "NULL"
}

// RowData is an ordered sequence of column values, the unit the B-Tree
// stores as an opaque payload.
type RowData struct {
	Values []ColumnValue
}

// Serialize encodes the row into its wire form.
func (r RowData) Serialize() []byte {
	buf := make([]byte, 2, 2+len(r.Values)*8)
	binary.LittleEndian.PutUint16(buf, uint16(len(r.Values)))
	for _, v := range r.Values {
		buf = append(buf, byte(v.Kind))
		switch v.Kind {
		case KindNull:
		case KindInteger, KindDate, KindTime, KindYear:
			buf = binary.LittleEndian.AppendUint32(buf, uint32(v.Int))
		case KindDateTime, KindTimestamp:
			buf = binary.LittleEndian.AppendUint64(buf, uint64(v.I64))
		case KindDouble:
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.F64))
		case KindText, KindChar:
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Str)))
			buf = append(buf, v.Str...)
		case KindBoolean:
			if v.Bool {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		}
	}
	return buf
}

// DeserializeRow decodes a row from its wire form.
func DeserializeRow(b []byte) (RowData, error) {
	if len(b) < 2 {
		return RowData{}, fmt.Errorf("%w: short row (%d bytes)", ErrCorruptRow, len(b))
	}
	n := int(binary.LittleEndian.Uint16(b))
	off := 2
	vals := make([]ColumnValue, 0, n)
	need := func(c int) error {
		if off+c > len(b) {
			return fmt.Errorf("%w: truncated at offset %d", ErrCorruptRow, off)
		}
		return nil
	}
	for i := 0; i < n; i++ {
		if err := need(1); err != nil {
			return RowData{}, err
		}
		kind := ValueKind(b[off])
		off++
		switch kind {
		case KindNull:
			vals = append(vals, Null())
		case KindInteger, KindDate, KindTime, KindYear:
			if err := need(4); err != nil {
				return RowData{}, err
			}
			vals = append(vals, ColumnValue{Kind: kind, Int: int32(binary.LittleEndian.Uint32(b[off:]))})
			off += 4
		case KindDateTime, KindTimestamp:
			if err := need(8); err != nil {
				return RowData{}, err
			}
			vals = append(vals, ColumnValue{Kind: kind, I64: int64(binary.LittleEndian.Uint64(b[off:]))})
			off += 8
		case KindDouble:
			if err := need(8); err != nil {
				return RowData{}, err
			}
			vals = append(vals, ColumnValue{Kind: kind, F64: math.Float64frombits(binary.LittleEndian.Uint64(b[off:]))})
			off += 8
		case KindText, KindChar:
			if err := need(4); err != nil {
				return RowData{}, err
			}
			l := int(binary.LittleEndian.Uint32(b[off:]))
			off += 4
			if err := need(l); err != nil {
				return RowData{}, err
			}
			vals = append(vals, ColumnValue{Kind: kind, Str: string(b[off : off+l])})
			off += l
		case KindBoolean:
			if err := need(1); err != nil {
				return RowData{}, err
			}
			vals = append(vals, ColumnValue{Kind: kind, Bool: b[off] != 0})
			off++
		default:
			return RowData{}, fmt.Errorf("%w: unknown value tag 0x%02x", ErrCorruptRow, byte(kind))
		}
	}
	return RowData{Values: vals}, nil
}
