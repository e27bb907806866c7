package ffi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

var unitFormat = map[arrow.TimeUnit]string{
	arrow.Second:      "s",
	arrow.Millisecond: "m",
	arrow.Microsecond: "u",
	arrow.Nanosecond:  "n",
}

var formatUnit = map[byte]arrow.TimeUnit{
	's': arrow.Second,
	'm': arrow.Millisecond,
	'u': arrow.Microsecond,
	'n': arrow.Nanosecond,
}

var primitiveFormats = map[arrow.Type]string{
	arrow.NULL:                    "n",
	arrow.BOOL:                    "b",
	arrow.INT8:                    "c",
	arrow.UINT8:                   "C",
	arrow.INT16:                   "s",
	arrow.UINT16:                  "S",
	arrow.INT32:                   "i",
	arrow.UINT32:                  "I",
	arrow.INT64:                   "l",
	arrow.UINT64:                  "L",
	arrow.FLOAT16:                 "e",
	arrow.FLOAT32:                 "f",
	arrow.FLOAT64:                 "g",
	arrow.BINARY:                  "z",
	arrow.LARGE_BINARY:            "Z",
	arrow.STRING:                  "u",
	arrow.LARGE_STRING:            "U",
	arrow.BINARY_VIEW:             "vz",
	arrow.STRING_VIEW:             "vu",
	arrow.DATE32:                  "tdD",
	arrow.DATE64:                  "tdm",
	arrow.INTERVAL_MONTHS:         "tiM",
	arrow.INTERVAL_DAY_TIME:       "tiD",
	arrow.INTERVAL_MONTH_DAY_NANO: "tin",
	arrow.LIST:                    "+l",
	arrow.LARGE_LIST:              "+L",
	arrow.LIST_VIEW:               "+vl",
	arrow.LARGE_LIST_VIEW:         "+vL",
	arrow.STRUCT:                  "+s",
	arrow.MAP:                     "+m",
	arrow.RUN_END_ENCODED:         "+r",
}

var primitiveTypes = map[string]arrow.DataType{
	"n":   arrow.Null,
	"b":   arrow.FixedWidthTypes.Boolean,
	"c":   arrow.PrimitiveTypes.Int8,
	"C":   arrow.PrimitiveTypes.Uint8,
	"s":   arrow.PrimitiveTypes.Int16,
	"S":   arrow.PrimitiveTypes.Uint16,
	"i":   arrow.PrimitiveTypes.Int32,
	"I":   arrow.PrimitiveTypes.Uint32,
	"l":   arrow.PrimitiveTypes.Int64,
	"L":   arrow.PrimitiveTypes.Uint64,
	"e":   arrow.FixedWidthTypes.Float16,
	"f":   arrow.PrimitiveTypes.Float32,
	"g":   arrow.PrimitiveTypes.Float64,
	"z":   arrow.BinaryTypes.Binary,
	"Z":   arrow.BinaryTypes.LargeBinary,
	"u":   arrow.BinaryTypes.String,
	"U":   arrow.BinaryTypes.LargeString,
	"tdD": arrow.FixedWidthTypes.Date32,
	"tdm": arrow.FixedWidthTypes.Date64,
	"tiM": arrow.FixedWidthTypes.MonthInterval,
	"tiD": arrow.FixedWidthTypes.DayTimeInterval,
	"tin": arrow.FixedWidthTypes.MonthDayNanoInterval,
}

// Format returns the C Data Interface format string of dt. Dictionary types
// are described by their index type; extension types by their storage.
func Format(dt arrow.DataType) (string, error) {
	switch dt := dt.(type) {
	case arrow.ExtensionType:
		return Format(dt.StorageType())
	case *arrow.DictionaryType:
		if !arrow.IsInteger(dt.IndexType.ID()) {
			return "", fmt.Errorf("%w: dictionary index %s", ErrUnsupportedType, dt.IndexType)
		}
		return Format(dt.IndexType)
	case *arrow.FixedSizeBinaryType:
		return "w:" + strconv.Itoa(dt.ByteWidth), nil
	case *arrow.Decimal128Type:
		return fmt.Sprintf("d:%d,%d", dt.Precision, dt.Scale), nil
	case *arrow.Decimal256Type:
		return fmt.Sprintf("d:%d,%d,256", dt.Precision, dt.Scale), nil
	case *arrow.Time32Type:
		return "tt" + unitFormat[dt.Unit], nil
	case *arrow.Time64Type:
		return "tt" + unitFormat[dt.Unit], nil
	case *arrow.TimestampType:
		return "ts" + unitFormat[dt.Unit] + ":" + dt.TimeZone, nil
	case *arrow.DurationType:
		return "tD" + unitFormat[dt.Unit], nil
	case *arrow.FixedSizeListType:
		return "+w:" + strconv.Itoa(int(dt.Len())), nil
	case *arrow.SparseUnionType:
		return "+us:" + typeCodes(dt.TypeCodes()), nil
	case *arrow.DenseUnionType:
		return "+ud:" + typeCodes(dt.TypeCodes()), nil
	}

	if f, ok := primitiveFormats[dt.ID()]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedType, dt)
}

func typeCodes(codes []arrow.UnionTypeCode) string {
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = strconv.Itoa(int(c))
	}
	return strings.Join(parts, ",")
}

// ParseFormat is the inverse of Format for the types the importer can
// rebuild. children are the already imported child fields.
func ParseFormat(format string, children []arrow.Field, flags int64) (arrow.DataType, error) {
	if dt, ok := primitiveTypes[format]; ok {
		return dt, nil
	}

	bad := func() (arrow.DataType, error) {
		return nil, fmt.Errorf("%w: format %q", ErrUnsupportedType, format)
	}
	child := func(n int) error {
		if len(children) != n {
			return fmt.Errorf("%w: format %q expects %d children, got %d",
				ErrMalformed, format, n, len(children))
		}
		return nil
	}

	switch {
	case strings.HasPrefix(format, "w:"):
		n, err := strconv.Atoi(format[2:])
		if err != nil || n < 0 {
			return bad()
		}
		return &arrow.FixedSizeBinaryType{ByteWidth: n}, nil

	case strings.HasPrefix(format, "d:"):
		parts := strings.Split(format[2:], ",")
		if len(parts) < 2 || len(parts) > 3 {
			return bad()
		}
		precision, err1 := strconv.Atoi(parts[0])
		scale, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			return bad()
		}
		bits := "128"
		if len(parts) == 3 {
			bits = parts[2]
		}
		switch bits {
		case "128":
			return &arrow.Decimal128Type{Precision: int32(precision), Scale: int32(scale)}, nil
		case "256":
			return &arrow.Decimal256Type{Precision: int32(precision), Scale: int32(scale)}, nil
		}
		return bad()

	case len(format) == 3 && strings.HasPrefix(format, "tt"):
		unit, ok := formatUnit[format[2]]
		if !ok {
			return bad()
		}
		if unit == arrow.Second || unit == arrow.Millisecond {
			return &arrow.Time32Type{Unit: unit}, nil
		}
		return &arrow.Time64Type{Unit: unit}, nil

	case len(format) >= 4 && strings.HasPrefix(format, "ts") && format[3] == ':':
		unit, ok := formatUnit[format[2]]
		if !ok {
			return bad()
		}
		return &arrow.TimestampType{Unit: unit, TimeZone: format[4:]}, nil

	case len(format) == 3 && strings.HasPrefix(format, "tD"):
		unit, ok := formatUnit[format[2]]
		if !ok {
			return bad()
		}
		return &arrow.DurationType{Unit: unit}, nil

	case format == "+l":
		if err := child(1); err != nil {
			return nil, err
		}
		return arrow.ListOfField(children[0]), nil

	case format == "+L":
		if err := child(1); err != nil {
			return nil, err
		}
		return arrow.LargeListOfField(children[0]), nil

	case strings.HasPrefix(format, "+w:"):
		n, err := strconv.Atoi(format[3:])
		if err != nil || n < 0 {
			return bad()
		}
		if err := child(1); err != nil {
			return nil, err
		}
		return arrow.FixedSizeListOfField(int32(n), children[0]), nil

	case format == "+s":
		return arrow.StructOf(children...), nil

	case format == "+m":
		if err := child(1); err != nil {
			return nil, err
		}
		entries, ok := children[0].Type.(*arrow.StructType)
		if !ok || entries.NumFields() != 2 {
			return nil, fmt.Errorf("%w: map entries must be a two-field struct", ErrMalformed)
		}
		key, item := entries.Field(0), entries.Field(1)
		mt := arrow.MapOf(key.Type, item.Type)
		mt.KeysSorted = flags&FlagMapKeysSorted != 0
		if !item.Nullable {
			mt.SetItemNullable(false)
		}
		return mt, nil
	}

	return bad()
}
