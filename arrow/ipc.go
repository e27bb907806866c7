package arrow

import (
	"bytes"
	"errors"
	"fmt"
	"iter"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Format identifies the IPC framing of a byte stream.
type Format int

const (
	// FormatStream is the Arrow streaming format: schema message, then batches.
	FormatStream Format = iota + 1
	// FormatFile is the random-access file format with a trailing footer.
	FormatFile
)

func (f Format) String() string {
	switch f {
	case FormatStream:
		return "stream"
	case FormatFile:
		return "file"
	default:
		return "unknown"
	}
}

// fileMagic opens every IPC file; streams start with a message instead.
var fileMagic = []byte("ARROW1")

// UnknownChunks is the chunk count of a stream whose batches are not indexed.
const UnknownChunks = -1

var (
	// ErrEmptyStream is returned for a zero-length byte buffer.
	ErrEmptyStream = errors.New("empty IPC stream")
	// ErrChunksConsumed is yielded when a chunk sequence is iterated twice.
	ErrChunksConsumed = errors.New("chunk sequence already consumed")
)

// Option configures the decode pipeline.
type Option func(*options)

type options struct {
	mem memory.Allocator
}

// WithAllocator sets the allocator used for decoded buffers.
func WithAllocator(mem memory.Allocator) Option {
	return func(o *options) {
		o.mem = mem
	}
}

// StreamMetadata is the schema and chunk layout of one IPC byte stream.
type StreamMetadata struct {
	Schema *arrow.Schema
	Format Format
	// NumChunks is the number of record batches, or UnknownChunks for the
	// streaming format, which carries no index.
	NumChunks int

	stream   *ipc.Reader
	file     *ipc.FileReader
	consumed bool
}

// ParseMetadata reads just enough of data to recover the schema and the
// chunk index. Batch bodies are not decoded.
func ParseMetadata(data []byte, opts ...Option) (*StreamMetadata, error) {
	o := options{mem: memory.NewGoAllocator()}
	for _, opt := range opts {
		opt(&o)
	}

	if len(data) == 0 {
		return nil, ErrEmptyStream
	}

	if bytes.HasPrefix(data, fileMagic) {
		reader, err := ipc.NewFileReader(bytes.NewReader(data), ipc.WithAllocator(o.mem))
		if err != nil {
			return nil, fmt.Errorf("failed to read file footer: %w", err)
		}
		return &StreamMetadata{
			Schema:    reader.Schema(),
			Format:    FormatFile,
			NumChunks: reader.NumRecords(),
			file:      reader,
		}, nil
	}

	reader, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(o.mem))
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	return &StreamMetadata{
		Schema:    reader.Schema(),
		Format:    FormatStream,
		NumChunks: UnknownChunks,
		stream:    reader,
	}, nil
}

// Chunks returns the decoded record batches in stream order. Each record is
// valid until the loop body returns; Retain it to keep it longer. A failing
// batch ends the sequence with its error. The sequence cannot be restarted:
// decoding again requires a new ParseMetadata call.
func (m *StreamMetadata) Chunks() iter.Seq2[arrow.Record, error] {
	return func(yield func(arrow.Record, error) bool) {
		if m.consumed {
			yield(nil, ErrChunksConsumed)
			return
		}
		m.consumed = true

		if m.file != nil {
			for i := 0; i < m.file.NumRecords(); i++ {
				rec, err := m.file.RecordAt(i)
				if err != nil {
					yield(nil, fmt.Errorf("failed to read record %d: %w", i, err))
					return
				}
				more := yield(rec, nil)
				rec.Release()
				if !more {
					return
				}
			}
			return
		}

		for m.stream.Next() {
			if !yield(m.stream.Record(), nil) {
				return
			}
		}
		if err := m.stream.Err(); err != nil {
			yield(nil, fmt.Errorf("failed to read record: %w", err))
		}
	}
}

// Release frees the underlying reader.
func (m *StreamMetadata) Release() {
	if m.stream != nil {
		m.stream.Release()
		m.stream = nil
	}
	if m.file != nil {
		_ = m.file.Close()
		m.file = nil
	}
}
