package ffi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// maxCString bounds the scan for a NUL terminator.
const maxCString = 1 << 20

// cstringWindow is the number of bytes read per step of that scan.
const cstringWindow = 64

// Importer rebuilds arrow-go values from structures in a Reader. Buffers are
// copied into memory from the importer's allocator, so the structures can be
// released as soon as an import returns.
type Importer struct {
	r   Reader
	mem memory.Allocator
}

// NewImporter creates an Importer reading through r. A nil allocator
// selects memory.DefaultAllocator.
func NewImporter(r Reader, mem memory.Allocator) *Importer {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &Importer{r: r, mem: mem}
}

// Table is an ordered list of record batches sharing one schema.
type Table struct {
	Schema  *arrow.Schema
	Batches []arrow.Record
}

// NumRows returns the total row count across batches.
func (t *Table) NumRows() int64 {
	var n int64
	for _, b := range t.Batches {
		n += b.NumRows()
	}
	return n
}

// Release releases every batch.
func (t *Table) Release() {
	for _, b := range t.Batches {
		b.Release()
	}
	t.Batches = nil
}

type rawSchema struct {
	format     string
	name       string
	metadata   uint32
	flags      int64
	children   []uint32
	dictionary uint32
}

type rawArray struct {
	length     int64
	nullCount  int64
	offset     int64
	buffers    []uint32
	children   []uint32
	dictionary uint32
}

// Result reads a Result header.
func (im *Importer) Result(addr uint32) (Result, error) {
	b, err := im.read(addr, ResultSize)
	if err != nil {
		return Result{}, err
	}
	le := binary.LittleEndian
	return Result{
		Status:     le.Uint32(b[resultStatus:]),
		Value:      le.Uint32(b[resultValue:]),
		Message:    le.Uint32(b[resultMessage:]),
		MessageLen: le.Uint32(b[resultMessageLen:]),
	}, nil
}

// Message returns the error text of a failed Result.
func (im *Importer) Message(res Result) (string, error) {
	if res.MessageLen == 0 {
		return "", nil
	}
	b, err := im.read(res.Message, res.MessageLen)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Schema imports a struct-typed ArrowSchema as a schema.
func (im *Importer) Schema(addr uint32) (*arrow.Schema, error) {
	raw, err := im.readSchema(addr)
	if err != nil {
		return nil, err
	}
	if raw.format != "+s" {
		return nil, fmt.Errorf("%w: schema root format %q, want \"+s\"", ErrMalformed, raw.format)
	}
	md, err := im.metadata(raw.metadata)
	if err != nil {
		return nil, err
	}
	fields, err := im.fields(raw.children)
	if err != nil {
		return nil, err
	}
	return arrow.NewSchema(fields, &md), nil
}

// Field imports one ArrowSchema as a field.
func (im *Importer) Field(addr uint32) (arrow.Field, error) {
	raw, err := im.readSchema(addr)
	if err != nil {
		return arrow.Field{}, err
	}
	md, err := im.metadata(raw.metadata)
	if err != nil {
		return arrow.Field{}, err
	}
	children, err := im.fields(raw.children)
	if err != nil {
		return arrow.Field{}, err
	}

	var dt arrow.DataType
	if raw.dictionary != 0 {
		index, err := ParseFormat(raw.format, nil, raw.flags)
		if err != nil {
			return arrow.Field{}, err
		}
		if !arrow.IsInteger(index.ID()) {
			return arrow.Field{}, fmt.Errorf("%w: dictionary index %s", ErrMalformed, index)
		}
		value, err := im.Field(raw.dictionary)
		if err != nil {
			return arrow.Field{}, err
		}
		dt = &arrow.DictionaryType{
			IndexType: index,
			ValueType: value.Type,
			Ordered:   raw.flags&FlagDictionaryOrdered != 0,
		}
	} else {
		dt, err = ParseFormat(raw.format, children, raw.flags)
		if err != nil {
			return arrow.Field{}, fmt.Errorf("field %q: %w", raw.name, err)
		}
	}

	dt, md, err = withoutExtension(dt, md)
	if err != nil {
		return arrow.Field{}, err
	}

	return arrow.Field{
		Name:     raw.name,
		Type:     dt,
		Nullable: raw.flags&FlagNullable != 0,
		Metadata: md,
	}, nil
}

func (im *Importer) fields(addrs []uint32) ([]arrow.Field, error) {
	fields := make([]arrow.Field, len(addrs))
	for i, addr := range addrs {
		f, err := im.Field(addr)
		if err != nil {
			return nil, err
		}
		fields[i] = f
	}
	return fields, nil
}

// RecordBatch imports a RecordBatch header.
func (im *Importer) RecordBatch(addr uint32) (arrow.Record, error) {
	b, err := im.read(addr, RecordBatchSize)
	if err != nil {
		return nil, err
	}
	schema, err := im.Schema(binary.LittleEndian.Uint32(b[batchSchema:]))
	if err != nil {
		return nil, err
	}
	return im.Record(schema, binary.LittleEndian.Uint32(b[batchArray:]))
}

// Table imports a Table header.
func (im *Importer) Table(addr uint32) (*Table, error) {
	b, err := im.read(addr, TableSize)
	if err != nil {
		return nil, err
	}
	le := binary.LittleEndian
	schema, err := im.Schema(le.Uint32(b[tableSchema:]))
	if err != nil {
		return nil, err
	}
	chunks, err := im.pointers(le.Uint32(b[tableChunks:]), int64(le.Uint32(b[tableNChunks:])))
	if err != nil {
		return nil, err
	}

	t := &Table{Schema: schema, Batches: make([]arrow.Record, 0, len(chunks))}
	for i, chunk := range chunks {
		rec, err := im.Record(schema, chunk)
		if err != nil {
			t.Release()
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		t.Batches = append(t.Batches, rec)
	}
	return t, nil
}

// Record imports a struct-typed ArrowArray as a record of schema.
func (im *Importer) Record(schema *arrow.Schema, addr uint32) (arrow.Record, error) {
	raw, err := im.readArray(addr)
	if err != nil {
		return nil, err
	}
	if len(raw.children) != schema.NumFields() {
		return nil, fmt.Errorf("%w: record has %d columns, schema has %d",
			ErrMalformed, len(raw.children), schema.NumFields())
	}

	cols := make([]arrow.Array, 0, len(raw.children))
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	for i, child := range raw.children {
		data, err := im.array(child, schema.Field(i).Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", schema.Field(i).Name, err)
		}
		col := array.MakeFromData(data)
		data.Release()
		if raw.offset != 0 {
			sliced := array.NewSlice(col, raw.offset, raw.offset+raw.length)
			col.Release()
			col = sliced
		}
		cols = append(cols, col)
	}
	return array.NewRecord(schema, cols, raw.length), nil
}

// Array imports one ArrowArray of type dt.
func (im *Importer) Array(addr uint32, dt arrow.DataType) (arrow.Array, error) {
	data, err := im.array(addr, dt)
	if err != nil {
		return nil, err
	}
	defer data.Release()
	return array.MakeFromData(data), nil
}

func (im *Importer) array(addr uint32, dt arrow.DataType) (arrow.ArrayData, error) {
	raw, err := im.readArray(addr)
	if err != nil {
		return nil, err
	}

	storage := dt
	if ext, ok := dt.(arrow.ExtensionType); ok {
		storage = ext.StorageType()
	}

	buffers, err := im.buffers(storage, raw)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, b := range buffers {
			if b != nil {
				b.Release()
			}
		}
	}()

	var childTypes []arrow.DataType
	if nested, ok := storage.(arrow.NestedType); ok {
		for _, f := range nested.Fields() {
			childTypes = append(childTypes, f.Type)
		}
	}
	if len(childTypes) != len(raw.children) {
		return nil, fmt.Errorf("%w: %s has %d children, want %d",
			ErrMalformed, dt, len(raw.children), len(childTypes))
	}

	children := make([]arrow.ArrayData, 0, len(raw.children))
	defer func() {
		for _, c := range children {
			c.Release()
		}
	}()
	for i, child := range raw.children {
		data, err := im.array(child, childTypes[i])
		if err != nil {
			return nil, err
		}
		children = append(children, data)
	}

	if dict, ok := storage.(*arrow.DictionaryType); ok {
		if raw.dictionary == 0 {
			return nil, fmt.Errorf("%w: dictionary array without dictionary", ErrMalformed)
		}
		values, err := im.array(raw.dictionary, dict.ValueType)
		if err != nil {
			return nil, err
		}
		defer values.Release()
		return array.NewDataWithDictionary(dt, int(raw.length), buffers, int(raw.nullCount), int(raw.offset), values.(*array.Data)), nil
	}

	return array.NewData(dt, int(raw.length), buffers, children, int(raw.nullCount), int(raw.offset)), nil
}

// buffers copies the buffers of one array. Sizes follow from the layout of
// storage and the array's length and offset.
func (im *Importer) buffers(storage arrow.DataType, raw rawArray) ([]*memory.Buffer, error) {
	if raw.length < 0 || raw.offset < 0 {
		return nil, fmt.Errorf("%w: negative length or offset", ErrMalformed)
	}
	end := raw.offset + raw.length
	bitmap := (end + 7) / 8

	var sizes []func() (int64, error)
	fixed := func(n int64) func() (int64, error) {
		return func() (int64, error) { return n, nil }
	}

	layoutType := storage
	if dict, ok := storage.(*arrow.DictionaryType); ok {
		layoutType = dict.IndexType
	}

	switch layoutType.ID() {
	case arrow.SPARSE_UNION, arrow.DENSE_UNION, arrow.RUN_END_ENCODED,
		arrow.BINARY_VIEW, arrow.STRING_VIEW, arrow.LIST_VIEW, arrow.LARGE_LIST_VIEW:
		return nil, fmt.Errorf("%w: cannot import %s", ErrUnsupportedType, storage)
	}

	switch dt := layoutType.(type) {
	case *arrow.NullType:
		if len(raw.buffers) != 0 {
			return nil, fmt.Errorf("%w: null array with buffers", ErrMalformed)
		}
		return []*memory.Buffer{nil}, nil
	case arrow.FixedWidthDataType:
		sizes = append(sizes, fixed(bitmap), fixed((end*int64(dt.BitWidth())+7)/8))
	case *arrow.BinaryType, *arrow.StringType, *arrow.ListType, *arrow.MapType:
		sizes = append(sizes, fixed(bitmap), fixed(4*(end+1)))
	case *arrow.LargeBinaryType, *arrow.LargeStringType, *arrow.LargeListType:
		sizes = append(sizes, fixed(bitmap), fixed(8*(end+1)))
	case *arrow.StructType, *arrow.FixedSizeListType:
		sizes = append(sizes, fixed(bitmap))
	default:
		return nil, fmt.Errorf("%w: cannot import %s", ErrUnsupportedType, storage)
	}

	switch layoutType.ID() {
	case arrow.BINARY, arrow.STRING:
		sizes = append(sizes, im.dataSize(raw, 4, end))
	case arrow.LARGE_BINARY, arrow.LARGE_STRING:
		sizes = append(sizes, im.dataSize(raw, 8, end))
	}

	if len(raw.buffers) != len(sizes) {
		return nil, fmt.Errorf("%w: %s has %d buffers, want %d",
			ErrMalformed, storage, len(raw.buffers), len(sizes))
	}

	buffers := make([]*memory.Buffer, len(sizes))
	for i, addr := range raw.buffers {
		if addr == 0 {
			continue
		}
		size, err := sizes[i]()
		if err != nil {
			releaseBuffers(buffers)
			return nil, err
		}
		if raw.length == 0 && i > 0 && size > 0 {
			// Offsets of an empty array may be shorter than one entry.
			if _, ok := im.r.Read(addr, uint32(size)); !ok {
				continue
			}
		}
		b, err := im.copyBuffer(addr, size)
		if err != nil {
			releaseBuffers(buffers)
			return nil, err
		}
		buffers[i] = b
	}
	return buffers, nil
}

// dataSize reads the last offset to size the value data buffer.
func (im *Importer) dataSize(raw rawArray, width uint32, end int64) func() (int64, error) {
	return func() (int64, error) {
		if raw.buffers[1] == 0 {
			return 0, nil
		}
		pos := raw.buffers[1] + uint32(end)*width
		if width == 4 {
			v, ok := im.r.ReadUint32Le(pos)
			if !ok {
				if raw.length == 0 {
					return 0, nil
				}
				return 0, fmt.Errorf("%w: offset at %d", ErrOutOfBounds, pos)
			}
			return int64(int32(v)), nil
		}
		v, ok := im.r.ReadUint64Le(pos)
		if !ok {
			if raw.length == 0 {
				return 0, nil
			}
			return 0, fmt.Errorf("%w: offset at %d", ErrOutOfBounds, pos)
		}
		return int64(v), nil
	}
}

func (im *Importer) copyBuffer(addr uint32, size int64) (*memory.Buffer, error) {
	if size < 0 || size > 1<<32-1 {
		return nil, fmt.Errorf("%w: buffer size %d", ErrMalformed, size)
	}
	src, err := im.read(addr, uint32(size))
	if err != nil {
		return nil, err
	}
	buf := memory.NewResizableBuffer(im.mem)
	buf.Resize(int(size))
	copy(buf.Bytes(), src)
	return buf, nil
}

func releaseBuffers(buffers []*memory.Buffer) {
	for _, b := range buffers {
		if b != nil {
			b.Release()
		}
	}
}

func (im *Importer) readSchema(addr uint32) (rawSchema, error) {
	b, err := im.read(addr, SchemaSize)
	if err != nil {
		return rawSchema{}, err
	}
	le := binary.LittleEndian
	if le.Uint32(b[schemaRelease:]) == 0 {
		return rawSchema{}, fmt.Errorf("%w: schema at %d", ErrReleased, addr)
	}

	format, err := im.cstring(le.Uint32(b[schemaFormat:]))
	if err != nil {
		return rawSchema{}, err
	}
	var name string
	if p := le.Uint32(b[schemaName:]); p != 0 {
		if name, err = im.cstring(p); err != nil {
			return rawSchema{}, err
		}
	}
	children, err := im.pointers(le.Uint32(b[schemaChildren:]), int64(le.Uint64(b[schemaNChildren:])))
	if err != nil {
		return rawSchema{}, err
	}

	return rawSchema{
		format:     format,
		name:       name,
		metadata:   le.Uint32(b[schemaMetadata:]),
		flags:      int64(le.Uint64(b[schemaFlags:])),
		children:   children,
		dictionary: le.Uint32(b[schemaDictionary:]),
	}, nil
}

func (im *Importer) readArray(addr uint32) (rawArray, error) {
	b, err := im.read(addr, ArraySize)
	if err != nil {
		return rawArray{}, err
	}
	le := binary.LittleEndian
	if le.Uint32(b[arrayRelease:]) == 0 {
		return rawArray{}, fmt.Errorf("%w: array at %d", ErrReleased, addr)
	}

	buffers, err := im.pointers(le.Uint32(b[arrayBuffers:]), int64(le.Uint64(b[arrayNBuffers:])))
	if err != nil {
		return rawArray{}, err
	}
	children, err := im.pointers(le.Uint32(b[arrayChildren:]), int64(le.Uint64(b[arrayNChildren:])))
	if err != nil {
		return rawArray{}, err
	}

	return rawArray{
		length:     int64(le.Uint64(b[arrayLength:])),
		nullCount:  int64(le.Uint64(b[arrayNullCount:])),
		offset:     int64(le.Uint64(b[arrayOffset:])),
		buffers:    buffers,
		children:   children,
		dictionary: le.Uint32(b[arrayDictionary:]),
	}, nil
}

// metadata reads a metadata blob. The total size is not stored, so the blob
// is walked field by field.
func (im *Importer) metadata(addr uint32) (arrow.Metadata, error) {
	if addr == 0 {
		return arrow.Metadata{}, nil
	}
	count, ok := im.r.ReadUint32Le(addr)
	if !ok {
		return arrow.Metadata{}, fmt.Errorf("%w: metadata at %d", ErrOutOfBounds, addr)
	}
	if int32(count) < 0 {
		return arrow.Metadata{}, fmt.Errorf("%w: negative metadata count", ErrMalformed)
	}

	pos := addr + 4
	for i := 0; i < 2*int(count); i++ {
		n, ok := im.r.ReadUint32Le(pos)
		if !ok || int32(n) < 0 {
			return arrow.Metadata{}, fmt.Errorf("%w: metadata entry at %d", ErrOutOfBounds, pos)
		}
		pos += 4 + n
	}

	blob, err := im.read(addr, pos-addr)
	if err != nil {
		return arrow.Metadata{}, err
	}
	return DecodeMetadata(blob)
}

func (im *Importer) pointers(addr uint32, n int64) ([]uint32, error) {
	if n < 0 || n > 1<<28 {
		return nil, fmt.Errorf("%w: pointer count %d", ErrMalformed, n)
	}
	if n == 0 {
		return nil, nil
	}
	b, err := im.read(addr, uint32(4*n))
	if err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[4*i:])
	}
	return out, nil
}

func (im *Importer) cstring(addr uint32) (string, error) {
	var s []byte
	for len(s) < maxCString {
		at := uint64(addr) + uint64(len(s))
		if at > math.MaxUint32 {
			break
		}
		chunk, ok := im.window(uint32(at), min(cstringWindow, maxCString-len(s)))
		if !ok {
			return "", fmt.Errorf("%w: string at %d", ErrOutOfBounds, addr)
		}
		if i := bytes.IndexByte(chunk, 0); i >= 0 {
			return string(append(s, chunk[:i]...)), nil
		}
		s = append(s, chunk...)
	}
	return "", fmt.Errorf("%w: unterminated string at %d", ErrMalformed, addr)
}

// window reads up to n bytes at addr, halving the request when it runs past
// the end of the region.
func (im *Importer) window(addr uint32, n int) ([]byte, bool) {
	for ; n > 0; n /= 2 {
		if b, ok := im.r.Read(addr, uint32(n)); ok {
			return b, true
		}
	}
	return nil, false
}

func (im *Importer) read(addr, size uint32) ([]byte, error) {
	if addr == 0 {
		return nil, fmt.Errorf("%w: null address", ErrOutOfBounds)
	}
	b, ok := im.r.Read(addr, size)
	if !ok {
		return nil, fmt.Errorf("%w: %d bytes at %d", ErrOutOfBounds, size, addr)
	}
	return b, nil
}
