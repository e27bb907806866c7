package ffi

import (
	"encoding/binary"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// Exporter converts arrow-go values into C Data Interface structures.
// Every structure it writes belongs to the group behind mem.
type Exporter struct {
	mem Memory
}

// NewExporter creates an Exporter allocating through mem.
func NewExporter(mem Memory) *Exporter {
	return &Exporter{mem: mem}
}

// Schema exports schema as a struct-typed ArrowSchema with one child per
// field, in field order.
func (e *Exporter) Schema(schema *arrow.Schema) (uint32, error) {
	children, err := e.fields(schema.Fields())
	if err != nil {
		return 0, err
	}
	md := schema.Metadata()
	return e.writeSchema("+s", "", &md, 0, children, 0), nil
}

// Field exports a single field and its nested children.
func (e *Exporter) Field(f arrow.Field) (uint32, error) {
	dt := f.Type
	md := f.Metadata
	if ext, ok := dt.(arrow.ExtensionType); ok {
		md = withExtension(md, ext)
		dt = ext.StorageType()
	}

	format, err := Format(dt)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", f.Name, err)
	}

	var flags int64
	if f.Nullable {
		flags |= FlagNullable
	}

	var (
		children []uint32
		dict     uint32
	)
	switch dt := dt.(type) {
	case *arrow.DictionaryType:
		if dt.Ordered {
			flags |= FlagDictionaryOrdered
		}
		dict, err = e.Field(arrow.Field{Type: dt.ValueType, Nullable: true})
		if err != nil {
			return 0, fmt.Errorf("field %q dictionary: %w", f.Name, err)
		}
	case *arrow.MapType:
		if dt.KeysSorted {
			flags |= FlagMapKeysSorted
		}
		children, err = e.fields(dt.Fields())
	case arrow.NestedType:
		children, err = e.fields(dt.Fields())
	}
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", f.Name, err)
	}

	return e.writeSchema(format, f.Name, &md, flags, children, dict), nil
}

func (e *Exporter) fields(fields []arrow.Field) ([]uint32, error) {
	addrs := make([]uint32, len(fields))
	for i, f := range fields {
		addr, err := e.Field(f)
		if err != nil {
			return nil, err
		}
		addrs[i] = addr
	}
	return addrs, nil
}

func (e *Exporter) writeSchema(format, name string, md *arrow.Metadata, flags int64, children []uint32, dict uint32) uint32 {
	addr, buf := e.mem.Alloc(SchemaSize)

	le := binary.LittleEndian
	le.PutUint32(buf[schemaFormat:], e.cstring(format))
	le.PutUint32(buf[schemaName:], e.cstring(name))
	le.PutUint32(buf[schemaMetadata:], e.bytes(EncodeMetadata(*md)))
	le.PutUint64(buf[schemaFlags:], uint64(flags))
	le.PutUint64(buf[schemaNChildren:], uint64(len(children)))
	le.PutUint32(buf[schemaChildren:], e.pointers(children))
	le.PutUint32(buf[schemaDictionary:], dict)
	le.PutUint32(buf[schemaRelease:], ReleaseMarker)
	le.PutUint32(buf[schemaPrivate:], e.mem.Handle())
	return addr
}

// Record exports rec as a struct-typed ArrowArray: one absent validity
// buffer and one child per column. Column buffers are shared, not copied.
func (e *Exporter) Record(rec arrow.Record) (uint32, error) {
	children := make([]uint32, rec.NumCols())
	for i, col := range rec.Columns() {
		addr, err := e.Array(col.Data())
		if err != nil {
			return 0, fmt.Errorf("column %q: %w", rec.ColumnName(i), err)
		}
		children[i] = addr
	}
	return e.writeArray(rec.NumRows(), 0, 0, []uint32{0}, children, 0), nil
}

// Array exports one array and, recursively, its children and dictionary.
func (e *Exporter) Array(data arrow.ArrayData) (uint32, error) {
	storage := data.DataType()
	if ext, ok := storage.(arrow.ExtensionType); ok {
		storage = ext.StorageType()
	}
	if _, err := Format(storage); err != nil {
		return 0, err
	}

	buffers := e.buffers(storage.ID(), data)

	children := make([]uint32, len(data.Children()))
	for i, child := range data.Children() {
		addr, err := e.Array(child)
		if err != nil {
			return 0, err
		}
		children[i] = addr
	}

	// Dictionary() returns a typed nil for non-dictionary data.
	var dict uint32
	if storage.ID() == arrow.DICTIONARY {
		addr, err := e.Array(data.Dictionary())
		if err != nil {
			return 0, err
		}
		dict = addr
	}

	return e.writeArray(int64(data.Len()), int64(data.NullN()), int64(data.Offset()), buffers, children, dict), nil
}

// buffers shares the buffers the C Data Interface expects for a type id.
// Null, union and run-end encoded layouts carry no validity bitmap, and
// view layouts gain a trailing buffer of variadic data sizes.
func (e *Exporter) buffers(id arrow.Type, data arrow.ArrayData) []uint32 {
	bufs := data.Buffers()
	switch id {
	case arrow.NULL, arrow.RUN_END_ENCODED:
		return nil
	case arrow.SPARSE_UNION, arrow.DENSE_UNION:
		if len(bufs) > 0 {
			bufs = bufs[1:]
		}
	}

	addrs := make([]uint32, 0, len(bufs)+1)
	for _, b := range bufs {
		if b == nil {
			addrs = append(addrs, 0)
			continue
		}
		addrs = append(addrs, e.mem.Share(b.Bytes()))
	}

	if id == arrow.BINARY_VIEW || id == arrow.STRING_VIEW {
		variadic := bufs[min(2, len(bufs)):]
		addr, sizes := e.mem.Alloc(uint32(8 * len(variadic)))
		for i, b := range variadic {
			if b != nil {
				binary.LittleEndian.PutUint64(sizes[8*i:], uint64(b.Len()))
			}
		}
		addrs = append(addrs, addr)
	}
	return addrs
}

func (e *Exporter) writeArray(length, nullCount, offset int64, buffers, children []uint32, dict uint32) uint32 {
	addr, buf := e.mem.Alloc(ArraySize)

	le := binary.LittleEndian
	le.PutUint64(buf[arrayLength:], uint64(length))
	le.PutUint64(buf[arrayNullCount:], uint64(nullCount))
	le.PutUint64(buf[arrayOffset:], uint64(offset))
	le.PutUint64(buf[arrayNBuffers:], uint64(len(buffers)))
	le.PutUint64(buf[arrayNChildren:], uint64(len(children)))
	le.PutUint32(buf[arrayBuffers:], e.pointers(buffers))
	le.PutUint32(buf[arrayChildren:], e.pointers(children))
	le.PutUint32(buf[arrayDictionary:], dict)
	le.PutUint32(buf[arrayRelease:], ReleaseMarker)
	le.PutUint32(buf[arrayPrivate:], e.mem.Handle())
	return addr
}

// RecordBatch exports rec and binds it to an already exported schema.
func (e *Exporter) RecordBatch(schema uint32, rec arrow.Record) (uint32, error) {
	array, err := e.Record(rec)
	if err != nil {
		return 0, err
	}
	addr, buf := e.mem.Alloc(RecordBatchSize)
	binary.LittleEndian.PutUint32(buf[batchSchema:], schema)
	binary.LittleEndian.PutUint32(buf[batchArray:], array)
	return addr, nil
}

// Table exports chunks in order under one shared schema. An empty chunk
// list yields a table with a null chunk array.
func (e *Exporter) Table(schema uint32, chunks []arrow.Record) (uint32, error) {
	arrays := make([]uint32, len(chunks))
	for i, rec := range chunks {
		addr, err := e.Record(rec)
		if err != nil {
			return 0, fmt.Errorf("chunk %d: %w", i, err)
		}
		arrays[i] = addr
	}

	addr, buf := e.mem.Alloc(TableSize)
	binary.LittleEndian.PutUint32(buf[tableSchema:], schema)
	binary.LittleEndian.PutUint32(buf[tableNChunks:], uint32(len(arrays)))
	binary.LittleEndian.PutUint32(buf[tableChunks:], e.pointers(arrays))
	return addr, nil
}

// cstring copies s with a trailing NUL.
func (e *Exporter) cstring(s string) uint32 {
	addr, buf := e.mem.Alloc(uint32(len(s) + 1))
	copy(buf, s)
	return addr
}

func (e *Exporter) bytes(b []byte) uint32 {
	if len(b) == 0 {
		return 0
	}
	addr, buf := e.mem.Alloc(uint32(len(b)))
	copy(buf, b)
	return addr
}

// pointers writes an array of 32-bit addresses; an empty list is null.
func (e *Exporter) pointers(addrs []uint32) uint32 {
	if len(addrs) == 0 {
		return 0
	}
	addr, buf := e.mem.Alloc(uint32(4 * len(addrs)))
	for i, a := range addrs {
		binary.LittleEndian.PutUint32(buf[4*i:], a)
	}
	return addr
}
