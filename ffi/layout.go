package ffi

import (
	"encoding/binary"
	"errors"
)

// Structure sizes in bytes.
const (
	SchemaSize      = 48
	ArraySize       = 64
	RecordBatchSize = 8
	TableSize       = 16
	ResultSize      = 16
)

// ArrowSchema field offsets.
const (
	schemaFormat     = 0
	schemaName       = 4
	schemaMetadata   = 8
	schemaFlags      = 16
	schemaNChildren  = 24
	schemaChildren   = 32
	schemaDictionary = 36
	schemaRelease    = 40
	schemaPrivate    = 44
)

// ArrowArray field offsets.
const (
	arrayLength     = 0
	arrayNullCount  = 8
	arrayOffset     = 16
	arrayNBuffers   = 24
	arrayNChildren  = 32
	arrayBuffers    = 40
	arrayChildren   = 44
	arrayDictionary = 48
	arrayRelease    = 52
	arrayPrivate    = 56
)

// Header field offsets.
const (
	batchSchema = 0
	batchArray  = 4

	tableSchema  = 0
	tableNChunks = 4
	tableChunks  = 8

	resultStatus     = 0
	resultValue      = 4
	resultMessage    = 8
	resultMessageLen = 12
)

// ArrowSchema flags.
const (
	FlagDictionaryOrdered int64 = 1
	FlagNullable          int64 = 2
	FlagMapKeysSorted     int64 = 4
)

// ReleaseMarker is stored in the release slot of every live structure. The
// host releases a whole group through the guest's release export, so the
// slot never holds a callable function index.
const ReleaseMarker uint32 = 1

// Result status codes.
const (
	StatusOK    uint32 = 0
	StatusError uint32 = 1
)

var (
	// ErrUnsupportedType is returned for data types the C Data Interface
	// layout cannot carry in this direction.
	ErrUnsupportedType = errors.New("unsupported data type")
	// ErrOutOfBounds is returned when a structure points outside memory.
	ErrOutOfBounds = errors.New("address out of bounds")
	// ErrReleased is returned when a structure's release slot is empty.
	ErrReleased = errors.New("structure already released")
	// ErrMalformed is returned for structures with inconsistent fields.
	ErrMalformed = errors.New("malformed structure")
)

// Result is the outcome header every decode export returns. Its address is
// the release handle of everything the call allocated.
type Result struct {
	Status     uint32
	Value      uint32
	Message    uint32
	MessageLen uint32
}

// OK reports whether the call succeeded.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// PutResult encodes r into buf, which must hold ResultSize bytes.
func PutResult(buf []byte, r Result) {
	le := binary.LittleEndian
	le.PutUint32(buf[resultStatus:], r.Status)
	le.PutUint32(buf[resultValue:], r.Value)
	le.PutUint32(buf[resultMessage:], r.Message)
	le.PutUint32(buf[resultMessageLen:], r.MessageLen)
}
