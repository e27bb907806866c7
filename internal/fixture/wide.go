package fixture

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// WideSchema returns a schema with one column per commonly used Arrow type.
func WideSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "flag", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
		{Name: "i8", Type: arrow.PrimitiveTypes.Int8},
		{Name: "u16", Type: arrow.PrimitiveTypes.Uint16},
		{Name: "i32", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
		{Name: "u64", Type: arrow.PrimitiveTypes.Uint64},
		{Name: "f32", Type: arrow.PrimitiveTypes.Float32},
		{Name: "f64", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "large_name", Type: arrow.BinaryTypes.LargeString},
		{Name: "blob", Type: arrow.BinaryTypes.Binary, Nullable: true},
		{Name: "tag", Type: &arrow.FixedSizeBinaryType{ByteWidth: 4}},
		{Name: "day", Type: arrow.FixedWidthTypes.Date32},
		{Name: "ts", Type: &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: "UTC"}},
		{Name: "tod", Type: arrow.FixedWidthTypes.Time64us},
		{Name: "elapsed", Type: arrow.FixedWidthTypes.Duration_s},
		{Name: "price", Type: &arrow.Decimal128Type{Precision: 10, Scale: 2}},
		{Name: "ids", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32), Nullable: true},
		{Name: "big_ids", Type: arrow.LargeListOf(arrow.PrimitiveTypes.Int64)},
		{Name: "point", Type: arrow.FixedSizeListOf(2, arrow.PrimitiveTypes.Float32)},
		{Name: "pair", Type: arrow.StructOf(
			arrow.Field{Name: "a", Type: arrow.PrimitiveTypes.Int32},
			arrow.Field{Name: "b", Type: arrow.BinaryTypes.String, Nullable: true},
		)},
		{Name: "color", Type: &arrow.DictionaryType{
			IndexType: arrow.PrimitiveTypes.Int16,
			ValueType: arrow.BinaryTypes.String,
		}},
		{Name: "attrs", Type: arrow.MapOf(arrow.BinaryTypes.String, arrow.PrimitiveTypes.Int64), Nullable: true},
		{Name: "nothing", Type: arrow.Null, Nullable: true},
	}, nil)
}

// WideRecord builds a record of WideSchema with the given number of rows.
// Nullable columns hold a null in every third row.
func WideRecord(mem memory.Allocator, rows int) arrow.Record {
	b := array.NewRecordBuilder(mem, WideSchema())
	defer b.Release()

	colors := []string{"red", "green", "blue"}
	for i := 0; i < rows; i++ {
		null := i%3 == 2

		appendOrNull(b.Field(0), null, func() { b.Field(0).(*array.BooleanBuilder).Append(i%2 == 0) })
		b.Field(1).(*array.Int8Builder).Append(int8(i - 64))
		b.Field(2).(*array.Uint16Builder).Append(uint16(i * 300))
		appendOrNull(b.Field(3), null, func() { b.Field(3).(*array.Int32Builder).Append(int32(-i)) })
		b.Field(4).(*array.Uint64Builder).Append(uint64(i) << 40)
		b.Field(5).(*array.Float32Builder).Append(float32(i) / 4)
		appendOrNull(b.Field(6), null, func() { b.Field(6).(*array.Float64Builder).Append(float64(i) * 1.5) })
		appendOrNull(b.Field(7), null, func() { b.Field(7).(*array.StringBuilder).Append(fmt.Sprintf("name-%d", i)) })
		b.Field(8).(*array.LargeStringBuilder).Append(fmt.Sprintf("large-%d", i))
		appendOrNull(b.Field(9), null, func() { b.Field(9).(*array.BinaryBuilder).Append([]byte{byte(i), byte(i >> 8)}) })
		b.Field(10).(*array.FixedSizeBinaryBuilder).Append([]byte{'t', 'a', 'g', byte('0' + i%10)})
		b.Field(11).(*array.Date32Builder).Append(arrow.Date32(19723 + i))
		b.Field(12).(*array.TimestampBuilder).Append(arrow.Timestamp(1704067200000 + int64(i)*1000))
		b.Field(13).(*array.Time64Builder).Append(arrow.Time64(int64(i) * 1_000_000))
		b.Field(14).(*array.DurationBuilder).Append(arrow.Duration(i * 60))
		b.Field(15).(*array.Decimal128Builder).Append(decimal128.FromI64(int64(i)*100 + 99))

		ids := b.Field(16).(*array.ListBuilder)
		if null {
			ids.AppendNull()
		} else {
			ids.Append(true)
			for j := 0; j < i%4; j++ {
				ids.ValueBuilder().(*array.Int32Builder).Append(int32(i*10 + j))
			}
		}

		bigIDs := b.Field(17).(*array.LargeListBuilder)
		bigIDs.Append(true)
		bigIDs.ValueBuilder().(*array.Int64Builder).Append(int64(i) << 33)

		point := b.Field(18).(*array.FixedSizeListBuilder)
		point.Append(true)
		point.ValueBuilder().(*array.Float32Builder).AppendValues([]float32{float32(i), float32(-i)}, nil)

		pair := b.Field(19).(*array.StructBuilder)
		pair.Append(true)
		pair.FieldBuilder(0).(*array.Int32Builder).Append(int32(i))
		if null {
			pair.FieldBuilder(1).(*array.StringBuilder).AppendNull()
		} else {
			pair.FieldBuilder(1).(*array.StringBuilder).Append(colors[i%len(colors)])
		}

		if err := b.Field(20).(*array.BinaryDictionaryBuilder).AppendString(colors[i%len(colors)]); err != nil {
			panic(err)
		}

		attrs := b.Field(21).(*array.MapBuilder)
		if null {
			attrs.AppendNull()
		} else {
			attrs.Append(true)
			attrs.KeyBuilder().(*array.StringBuilder).Append("row")
			attrs.ItemBuilder().(*array.Int64Builder).Append(int64(i))
		}

		b.Field(22).(*array.NullBuilder).AppendNull()
	}

	return b.NewRecord()
}

func appendOrNull(b array.Builder, null bool, value func()) {
	if null {
		b.AppendNull()
		return
	}
	value()
}
