package server

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// MaxMessageSize is the maximum allowed message size (50MB).
// This prevents DoS attacks via oversized messages.
const MaxMessageSize = 50 * 1024 * 1024 // 50MB

// Op selects the decode operation of a request.
type Op byte

const (
	// OpTable decodes every chunk.
	OpTable Op = 1
	// OpRecordBatch decodes the chunk at the request's index.
	OpRecordBatch Op = 2
)

func (op Op) String() string {
	switch op {
	case OpTable:
		return "table"
	case OpRecordBatch:
		return "record_batch"
	default:
		return fmt.Sprintf("op(%d)", byte(op))
	}
}

// requestHeaderSize is the op byte plus the big-endian chunk index.
const requestHeaderSize = 5

var (
	// ErrMessageTooLarge is returned when a message exceeds MaxMessageSize.
	ErrMessageTooLarge = errors.New("message size exceeds maximum allowed size")
	// ErrShortRequest is returned when a request body lacks its header.
	ErrShortRequest = errors.New("request shorter than header")
	// ErrUnknownOp is returned for an op byte other than OpTable or OpRecordBatch.
	ErrUnknownOp = errors.New("unknown op")
)

// Request is one decode request.
type Request struct {
	Op    Op
	Index uint32
	Data  []byte
}

// ParseRequest splits a request body into its header and IPC payload.
// Data aliases body.
func ParseRequest(body []byte) (Request, error) {
	if len(body) < requestHeaderSize {
		return Request{}, fmt.Errorf("%w: %d bytes", ErrShortRequest, len(body))
	}
	req := Request{
		Op:    Op(body[0]),
		Index: binary.BigEndian.Uint32(body[1:requestHeaderSize]),
		Data:  body[requestHeaderSize:],
	}
	if req.Op != OpTable && req.Op != OpRecordBatch {
		return Request{}, fmt.Errorf("%w: %d", ErrUnknownOp, byte(req.Op))
	}
	return req, nil
}

// Bytes encodes the request body.
func (r Request) Bytes() []byte {
	body := make([]byte, requestHeaderSize+len(r.Data))
	body[0] = byte(r.Op)
	binary.BigEndian.PutUint32(body[1:requestHeaderSize], r.Index)
	copy(body[requestHeaderSize:], r.Data)
	return body
}

// ReadMessage reads a length-prefixed message from the reader.
// Format: [4 bytes length (BigEndian)] [N bytes payload]
func ReadMessage(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}

	// Prevent DoS by limiting message size
	if length > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes (max: %d)", ErrMessageTooLarge, length, MaxMessageSize)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}

	return buf, nil
}

// WriteMessage writes a length-prefixed message to the writer.
// Format: [4 bytes length (BigEndian)] [N bytes payload]
func WriteMessage(w io.Writer, data []byte) error {
	if len(data) > math.MaxUint32 {
		return fmt.Errorf("%w: data length %d exceeds uint32 max", ErrMessageTooLarge, len(data))
	}

	if len(data) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes (max: %d)", ErrMessageTooLarge, len(data), MaxMessageSize)
	}

	length := uint32(len(data)) // #nosec G115 - bounds checked above
	if err := binary.Write(w, binary.BigEndian, length); err != nil {
		return fmt.Errorf("failed to write message length: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write message body: %w", err)
	}

	return nil
}
