package bridge

import (
	"errors"

	"github.com/VanDung-dev/arrow-wasm-ffi/arrow"
	"github.com/VanDung-dev/arrow-wasm-ffi/ffi"
	arrowlib "github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Guest export names.
const (
	ExportMalloc            = "malloc"
	ExportFree              = "free"
	ExportDecodeTable       = "decode_table"
	ExportDecodeRecordBatch = "decode_record_batch"
	ExportRelease           = "release"
)

// Option configures a decode call.
type Option func(*options)

type options struct {
	index int
}

// WithChunkIndex selects the zero-based chunk DecodeRecordBatch returns.
func WithChunkIndex(index int) Option {
	return func(o *options) {
		o.index = index
	}
}

// decodeAllocator backs decoded buffers. Exported buffers are shared with
// the host after the records are released, so they must come from the Go
// heap where release never recycles memory.
var decodeAllocator = memory.NewGoAllocator()

// DecodeTable decodes every chunk of data and exports them as an FFI table.
// Chunks are materialized before anything is written to mem, so a decode
// failure leaves mem untouched.
func DecodeTable(mem ffi.Memory, data []byte) (uint32, error) {
	md, err := arrow.ParseMetadata(data, arrow.WithAllocator(decodeAllocator))
	if err != nil {
		return 0, DecodeError(err)
	}
	defer md.Release()

	var chunks []arrowlib.Record
	defer func() {
		for _, rec := range chunks {
			rec.Release()
		}
	}()
	for rec, err := range md.Chunks() {
		if err != nil {
			return 0, classify(err)
		}
		rec.Retain()
		chunks = append(chunks, rec)
	}

	exp := ffi.NewExporter(mem)
	schema, err := exp.Schema(md.Schema)
	if err != nil {
		return 0, InternalError("%v", err)
	}
	table, err := exp.Table(schema, chunks)
	if err != nil {
		return 0, InternalError("%v", err)
	}
	return table, nil
}

// DecodeRecordBatch decodes chunks up to the selected index, discarding the
// earlier ones, and exports the selected chunk bound to the full schema.
// The default index is zero.
func DecodeRecordBatch(mem ffi.Memory, data []byte, opts ...Option) (uint32, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.index < 0 {
		return 0, ErrIndexOutOfRange
	}

	md, err := arrow.ParseMetadata(data, arrow.WithAllocator(decodeAllocator))
	if err != nil {
		return 0, DecodeError(err)
	}
	defer md.Release()

	i := 0
	for rec, err := range md.Chunks() {
		if err != nil {
			return 0, classify(err)
		}
		if i < o.index {
			i++
			continue
		}

		exp := ffi.NewExporter(mem)
		schema, err := exp.Schema(md.Schema)
		if err != nil {
			return 0, InternalError("%v", err)
		}
		batch, err := exp.RecordBatch(schema, rec)
		if err != nil {
			return 0, InternalError("%v", err)
		}
		return batch, nil
	}
	return 0, ErrIndexOutOfRange
}

func classify(err error) error {
	if errors.Is(err, arrow.ErrChunksConsumed) {
		return InternalError("%v", err)
	}
	return DecodeError(err)
}
