package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TypeKind enumerates the declared column types. The constant values are the
// type codes persisted in catalog rows.
type TypeKind int32

const (
	TypeInteger   TypeKind = 1
	TypeText      TypeKind = 2
	TypeBoolean   TypeKind = 3
	TypeChar      TypeKind = 4 // carries Size
	TypeDouble    TypeKind = 5 // carries Precision, Scale, Unsigned
	TypeDate      TypeKind = 6
	TypeDateTime  TypeKind = 7
	TypeTimestamp TypeKind = 8
	TypeTime      TypeKind = 9
	TypeYear      TypeKind = 10
	TypeSmallInt  TypeKind = 11 // carries Width, Unsigned
	TypeMediumInt TypeKind = 12 // carries Width, Unsigned
)

// ColumnType is a declared type together with its parameters. Parameters are
// only meaningful for the kinds that declare them.
type ColumnType struct {
	Kind      TypeKind
	Size      int  // char
	Width     int  // smallint, mediumint display width
	Precision int  // double
	Scale     int  // double
	Unsigned  bool // smallint, mediumint, double
}

// String renders the type the way it is written in DDL.
func (t ColumnType) String() string {
	switch t.Kind {
	case TypeInteger:
		return "INTEGER"
	case TypeText:
		return "TEXT"
	case TypeBoolean:
		return "BOOLEAN"
	case TypeChar:
		return fmt.Sprintf("CHAR(%d)", t.Size)
	case TypeDouble:
		s := fmt.Sprintf("DOUBLE(%d,%d)", t.Precision, t.Scale)
		if t.Unsigned {
			s += " UNSIGNED"
		}
		return s
	case TypeDate:
		return "DATE"
	case TypeDateTime:
		return "DATETIME"
	case TypeTimestamp:
		return "TIMESTAMP"
	case TypeTime:
		return "TIME"
	case TypeYear:
		return "YEAR"
	case TypeSmallInt:
		s := "SMALLINT"
		if t.Unsigned {
			s += " UNSIGNED"
		}
		return s
	case TypeMediumInt:
		s := "MEDIUMINT"
		if t.Unsigned {
			s += " UNSIGNED"
		}
		return s
	}
	return fmt.Sprintf("TypeKind(%d)", int32(t.Kind))
}

// Column describes one table column as held by the catalog.
type Column struct {
	Name          string
	Type          ColumnType
	NotNull       bool
	Default       string // serialized default expression, "" = none
	HasDefault    bool
	AutoIncrement bool
}

// CoerceValue converts a raw literal into a ColumnValue of the column's
// type, applying range checks. NULL passes through untouched.
func CoerceValue(lit ColumnValue, t ColumnType) (ColumnValue, error) {
	if lit.IsNull() {
		return lit, nil
	}
	switch t.Kind {
	case TypeInteger:
		n, err := literalInt(lit)
		if err != nil {
			return lit, err
		}
		if n < -1<<31 || n > 1<<31-1 {
			return lit, fmt.Errorf("%w: %d for INTEGER", ErrValueOutOfRange, n)
		}
		return NewInteger(int32(n)), nil
	case TypeSmallInt:
		n, err := literalInt(lit)
		if err != nil {
			return lit, err
		}
		lo, hi := int64(-1<<15), int64(1<<15-1)
		if t.Unsigned {
			lo, hi = 0, 1<<16-1
		}
		if n < lo || n > hi {
			return lit, fmt.Errorf("%w: %d for %s", ErrValueOutOfRange, n, t)
		}
		return NewInteger(int32(n)), nil
	case TypeMediumInt:
		n, err := literalInt(lit)
		if err != nil {
			return lit, err
		}
		lo, hi := int64(-1<<23), int64(1<<23-1)
		if t.Unsigned {
			lo, hi = 0, 1<<24-1
		}
		if n < lo || n > hi {
			return lit, fmt.Errorf("%w: %d for %s", ErrValueOutOfRange, n, t)
		}
		return NewInteger(int32(n)), nil
	case TypeText:
		return NewText(literalText(lit)), nil
	case TypeChar:
		s := literalText(lit)
		if t.Size > 0 && len([]rune(s)) > t.Size {
			return lit, fmt.Errorf("%w: %q longer than CHAR(%d)", ErrValueOutOfRange, s, t.Size)
		}
		return NewChar(s), nil
	case TypeBoolean:
		switch lit.Kind {
		case KindBoolean:
			return lit, nil
		case KindInteger:
			return NewBoolean(lit.Int != 0), nil
		case KindText, KindChar:
			switch strings.ToLower(lit.Str) {
			case "true", "t", "1":
				return NewBoolean(true), nil
			case "false", "f", "0":
				return NewBoolean(false), nil
			}
		}
		return lit, fmt.Errorf("%w: %q is not a boolean", ErrInvalidValue, lit.String())
	case TypeDouble:
		switch lit.Kind {
		case KindDouble:
			if t.Unsigned && lit.F64 < 0 {
				return lit, fmt.Errorf("%w: negative value for %s", ErrValueOutOfRange, t)
			}
			return lit, nil
		case KindInteger:
			return NewDouble(float64(lit.Int)), nil
		case KindText, KindChar:
			f, err := strconv.ParseFloat(lit.Str, 64)
			if err != nil {
				return lit, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, lit.Str)
			}
			if t.Unsigned && f < 0 {
				return lit, fmt.Errorf("%w: negative value for %s", ErrValueOutOfRange, t)
			}
			return NewDouble(f), nil
		}
		return lit, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, lit.String())
	case TypeDate:
		if lit.Kind == KindDate {
			return lit, nil
		}
		tm, err := time.ParseInLocation(time.DateOnly, literalText(lit), time.UTC)
		if err != nil {
			return lit, fmt.Errorf("%w: %q is not a DATE", ErrInvalidValue, lit.String())
		}
		return NewDate(int32(tm.Unix() / 86400)), nil
	case TypeDateTime, TypeTimestamp:
		if lit.Kind == KindDateTime || lit.Kind == KindTimestamp {
			v := lit
			if t.Kind == TypeDateTime {
				v.Kind = KindDateTime
			} else {
				v.Kind = KindTimestamp
			}
			return v, nil
		}
		tm, err := time.ParseInLocation(time.DateTime, literalText(lit), time.UTC)
		if err != nil {
			return lit, fmt.Errorf("%w: %q is not a %s", ErrInvalidValue, lit.String(), t)
		}
		if t.Kind == TypeDateTime {
			return NewDateTime(tm.Unix()), nil
		}
		return NewTimestamp(tm.Unix()), nil
	case TypeTime:
		if lit.Kind == KindTime {
			return lit, nil
		}
		tm, err := time.Parse(time.TimeOnly, literalText(lit))
		if err != nil {
			return lit, fmt.Errorf("%w: %q is not a TIME", ErrInvalidValue, lit.String())
		}
		return NewTime(int32(tm.Hour()*3600 + tm.Minute()*60 + tm.Second())), nil
	case TypeYear:
		n, err := literalInt(lit)
		if err != nil {
			return lit, err
		}
		if n < 1901 || n > 2155 {
			return lit, fmt.Errorf("%w: %d for YEAR", ErrValueOutOfRange, n)
		}
		return NewYear(int32(n)), nil
	}
	return lit, fmt.Errorf("%w: unsupported column type %v", ErrInvalidValue, t.Kind)
}

func literalInt(v ColumnValue) (int64, error) {
	switch v.Kind {
	case KindInteger, KindYear:
		return int64(v.Int), nil
	case KindDouble:
		return int64(v.F64), nil
	case KindBoolean:
		if v.Bool {
			return 1, nil
		}
		return 0, nil
	case KindText, KindChar:
		n, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidValue, v.Str)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: %s is not an integer", ErrInvalidValue, v.Kind)
}

func literalText(v ColumnValue) string {
	if v.Kind == KindText || v.Kind == KindChar {
		return v.Str
	}
	return v.String()
}
