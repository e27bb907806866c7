package server

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, []byte("payload")); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	if buf.Len() != 4+7 {
		t.Fatalf("Expected 11 bytes on the wire, got %d", buf.Len())
	}

	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("Expected 'payload', got '%s'", got)
	}
}

func TestReadMessageRejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(MaxMessageSize+1))

	_, err := ReadMessage(&buf)
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("Expected ErrMessageTooLarge, got %v", err)
	}
}

func TestWriteMessageRejectsOversized(t *testing.T) {
	err := WriteMessage(&bytes.Buffer{}, make([]byte, MaxMessageSize+1))
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("Expected ErrMessageTooLarge, got %v", err)
	}
}

func TestReadMessageTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(10))
	buf.WriteString("short")

	if _, err := ReadMessage(&buf); err == nil {
		t.Fatal("Expected error for truncated body")
	}
}

func TestRequestRoundTrip(t *testing.T) {
	req := Request{Op: OpRecordBatch, Index: 0x01020304, Data: []byte("ipc")}
	body := req.Bytes()
	if !bytes.Equal(body[:5], []byte{2, 1, 2, 3, 4}) {
		t.Fatalf("Unexpected header % x", body[:5])
	}

	got, err := ParseRequest(body)
	if err != nil {
		t.Fatalf("ParseRequest failed: %v", err)
	}
	if got.Op != OpRecordBatch || got.Index != req.Index || string(got.Data) != "ipc" {
		t.Errorf("Got %+v, want %+v", got, req)
	}
}

func TestParseRequestErrors(t *testing.T) {
	if _, err := ParseRequest([]byte{1, 0, 0}); !errors.Is(err, ErrShortRequest) {
		t.Errorf("Expected ErrShortRequest, got %v", err)
	}
	if _, err := ParseRequest([]byte{9, 0, 0, 0, 0}); !errors.Is(err, ErrUnknownOp) {
		t.Errorf("Expected ErrUnknownOp, got %v", err)
	}
}

func TestOpString(t *testing.T) {
	if OpTable.String() != "table" || OpRecordBatch.String() != "record_batch" {
		t.Errorf("Unexpected op names %s, %s", OpTable, OpRecordBatch)
	}
	if Op(7).String() != "op(7)" {
		t.Errorf("Unexpected unknown op name %s", Op(7))
	}
}
