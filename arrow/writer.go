package arrow

import (
	"bytes"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Compression selects the body codec of written batches.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionLZ4
	CompressionZstd
)

// IPCWriter writes Arrow records to IPC bytes.
type IPCWriter struct {
	allocator   memory.Allocator
	format      Format
	compression Compression
}

// NewIPCWriter creates an IPCWriter producing the streaming format.
func NewIPCWriter() *IPCWriter {
	return &IPCWriter{
		allocator: memory.DefaultAllocator,
		format:    FormatStream,
	}
}

// NewIPCFileWriter creates an IPCWriter producing the file format.
func NewIPCFileWriter() *IPCWriter {
	return &IPCWriter{
		allocator: memory.DefaultAllocator,
		format:    FormatFile,
	}
}

// WithCompression returns a copy of w that compresses batch bodies.
func (w *IPCWriter) WithCompression(c Compression) *IPCWriter {
	cp := *w
	cp.compression = c
	return &cp
}

// SerializeToIPC serializes a single record.
func (w *IPCWriter) SerializeToIPC(record arrow.Record) ([]byte, error) {
	return w.SerializeMultipleToIPC(record.Schema(), []arrow.Record{record})
}

// SerializeMultipleToIPC serializes records sharing schema. An empty records
// slice yields a valid zero-batch stream.
func (w *IPCWriter) SerializeMultipleToIPC(schema *arrow.Schema, records []arrow.Record) ([]byte, error) {
	var buf bytes.Buffer

	writer, err := w.open(&buf, schema)
	if err != nil {
		return nil, err
	}

	for i, record := range records {
		if err := writer.Write(record); err != nil {
			_ = writer.Close()
			return nil, fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	return buf.Bytes(), nil
}

type recordWriter interface {
	Write(arrow.Record) error
	Close() error
}

func (w *IPCWriter) open(out io.Writer, schema *arrow.Schema) (recordWriter, error) {
	opts := []ipc.Option{ipc.WithSchema(schema), ipc.WithAllocator(w.allocator)}
	switch w.compression {
	case CompressionLZ4:
		opts = append(opts, ipc.WithLZ4())
	case CompressionZstd:
		opts = append(opts, ipc.WithZstd())
	}

	if w.format == FormatFile {
		writer, err := ipc.NewFileWriter(out, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create file writer: %w", err)
		}
		return writer, nil
	}
	return ipc.NewWriter(out, opts...), nil
}
