package arrow

import (
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

func testSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "id", Type: arrow.PrimitiveTypes.Int64},
			{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		},
		nil,
	)
}

func testRecords(t *testing.T, n int) []arrow.Record {
	t.Helper()

	mem := memory.NewGoAllocator()
	b := array.NewRecordBuilder(mem, testSchema())
	defer b.Release()

	records := make([]arrow.Record, 0, n)
	for i := 0; i < n; i++ {
		rows := i + 1
		for r := 0; r < rows; r++ {
			b.Field(0).(*array.Int64Builder).Append(int64(i*100 + r))
			if r%2 == 0 {
				b.Field(1).(*array.StringBuilder).Append("row")
			} else {
				b.Field(1).(*array.StringBuilder).AppendNull()
			}
		}
		records = append(records, b.NewRecord())
	}
	t.Cleanup(func() {
		for _, r := range records {
			r.Release()
		}
	})
	return records
}

func TestParseMetadataStream(t *testing.T) {
	data, err := NewIPCWriter().SerializeMultipleToIPC(testSchema(), testRecords(t, 3))
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}

	meta, err := ParseMetadata(data)
	if err != nil {
		t.Fatalf("ParseMetadata failed: %v", err)
	}
	defer meta.Release()

	if meta.Format != FormatStream {
		t.Errorf("Expected stream format, got %s", meta.Format)
	}
	if meta.NumChunks != UnknownChunks {
		t.Errorf("Expected unknown chunk count for a stream, got %d", meta.NumChunks)
	}
	if !meta.Schema.Equal(testSchema()) {
		t.Errorf("Schema mismatch: %s", meta.Schema)
	}
}

func TestParseMetadataFile(t *testing.T) {
	data, err := NewIPCFileWriter().SerializeMultipleToIPC(testSchema(), testRecords(t, 4))
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}

	meta, err := ParseMetadata(data)
	if err != nil {
		t.Fatalf("ParseMetadata failed: %v", err)
	}
	defer meta.Release()

	if meta.Format != FormatFile {
		t.Errorf("Expected file format, got %s", meta.Format)
	}
	if meta.NumChunks != 4 {
		t.Errorf("Expected 4 chunks, got %d", meta.NumChunks)
	}
}

func TestChunksPreserveOrder(t *testing.T) {
	for _, writer := range []*IPCWriter{NewIPCWriter(), NewIPCFileWriter()} {
		t.Run(writer.format.String(), func(t *testing.T) {
			data, err := writer.SerializeMultipleToIPC(testSchema(), testRecords(t, 3))
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			meta, err := ParseMetadata(data)
			if err != nil {
				t.Fatalf("ParseMetadata failed: %v", err)
			}
			defer meta.Release()

			var rows []int64
			for rec, err := range meta.Chunks() {
				if err != nil {
					t.Fatalf("Chunk failed: %v", err)
				}
				rows = append(rows, rec.NumRows())
				if first := rec.Column(0).(*array.Int64).Value(0); first != int64(len(rows)-1)*100 {
					t.Errorf("Chunk %d starts with %d", len(rows)-1, first)
				}
			}

			if len(rows) != 3 || rows[0] != 1 || rows[1] != 2 || rows[2] != 3 {
				t.Errorf("Unexpected row counts: %v", rows)
			}
		})
	}
}

func TestChunksNotRestartable(t *testing.T) {
	data, err := NewIPCWriter().SerializeMultipleToIPC(testSchema(), testRecords(t, 2))
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}

	meta, err := ParseMetadata(data)
	if err != nil {
		t.Fatalf("ParseMetadata failed: %v", err)
	}
	defer meta.Release()

	for range meta.Chunks() {
		break
	}

	var got error
	for _, err := range meta.Chunks() {
		got = err
	}
	if !errors.Is(got, ErrChunksConsumed) {
		t.Errorf("Expected ErrChunksConsumed, got %v", got)
	}
}

func TestZeroChunkStream(t *testing.T) {
	data, err := NewIPCWriter().SerializeMultipleToIPC(testSchema(), nil)
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}

	meta, err := ParseMetadata(data)
	if err != nil {
		t.Fatalf("ParseMetadata failed: %v", err)
	}
	defer meta.Release()

	count := 0
	for _, err := range meta.Chunks() {
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		count++
	}
	if count != 0 {
		t.Errorf("Expected no chunks, got %d", count)
	}
}

func TestParseMetadataMalformed(t *testing.T) {
	data, err := NewIPCWriter().SerializeMultipleToIPC(testSchema(), testRecords(t, 1))
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}
	file, err := NewIPCFileWriter().SerializeMultipleToIPC(testSchema(), testRecords(t, 1))
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}

	cases := map[string][]byte{
		"empty":           nil,
		"garbage":         []byte("definitely not arrow"),
		"truncated":       data[:10],
		"truncated file":  file[:10],
		"footer stripped": file[:len(file)-12],
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			meta, err := ParseMetadata(input)
			if err == nil {
				meta.Release()
				t.Fatal("Expected an error")
			}
		})
	}
}

func TestChunksTruncatedBody(t *testing.T) {
	data, err := NewIPCWriter().SerializeMultipleToIPC(testSchema(), testRecords(t, 3))
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}

	// Cut into the last batch, keeping the schema message intact.
	meta, err := ParseMetadata(data[:len(data)-40])
	if err != nil {
		t.Fatalf("ParseMetadata failed: %v", err)
	}
	defer meta.Release()

	var failed bool
	for _, err := range meta.Chunks() {
		if err != nil {
			failed = true
		}
	}
	if !failed {
		t.Error("Expected a chunk decode failure")
	}
}

func TestCompressedRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionLZ4, CompressionZstd} {
		data, err := NewIPCWriter().WithCompression(c).SerializeMultipleToIPC(testSchema(), testRecords(t, 2))
		if err != nil {
			t.Fatalf("Failed to serialize: %v", err)
		}

		meta, err := ParseMetadata(data)
		if err != nil {
			t.Fatalf("ParseMetadata failed: %v", err)
		}

		var rows int64
		for rec, err := range meta.Chunks() {
			if err != nil {
				t.Fatalf("Chunk failed: %v", err)
			}
			rows += rec.NumRows()
		}
		meta.Release()

		if rows != 3 {
			t.Errorf("Compression %d: expected 3 rows, got %d", c, rows)
		}
	}
}
