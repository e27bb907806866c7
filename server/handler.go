package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"go.uber.org/zap"

	"github.com/VanDung-dev/arrow-wasm-ffi/host"
)

// DefaultRequestTimeout bounds a single decode.
const DefaultRequestTimeout = 30 * time.Second

// FieldInfo describes one schema field.
type FieldInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// ChunkInfo describes one decoded chunk.
type ChunkInfo struct {
	Rows    int64 `json:"rows"`
	Columns int64 `json:"columns"`
}

// Response is the JSON body answering a request.
type Response struct {
	OK     bool        `json:"ok"`
	Error  string      `json:"error,omitempty"`
	Schema []FieldInfo `json:"schema,omitempty"`
	Chunks []ChunkInfo `json:"chunks,omitempty"`
}

// Handler decodes request bodies with a host decoder.
type Handler struct {
	decoder host.Decoder
	timeout time.Duration
}

// NewHandler creates a Handler. A timeout of 0 uses DefaultRequestTimeout.
func NewHandler(decoder host.Decoder, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Handler{
		decoder: decoder,
		timeout: timeout,
	}
}

// Handle decodes one request body. Failures are reported in the response.
func (h *Handler) Handle(ctx context.Context, body []byte) *Response {
	req, err := ParseRequest(body)
	if err != nil {
		return errorResponse(err)
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	switch req.Op {
	case OpTable:
		table, err := h.decoder.DecodeTable(ctx, req.Data)
		if err != nil {
			return h.failed(req, err)
		}
		defer table.Release()
		return Summarize(table.Schema, table.Batches)
	default:
		rec, err := h.decoder.DecodeRecordBatch(ctx, req.Data, host.WithChunkIndex(req.Index))
		if err != nil {
			return h.failed(req, err)
		}
		defer rec.Release()
		return Summarize(rec.Schema(), []arrow.Record{rec})
	}
}

// Process decodes one request body and returns the encoded response.
func (h *Handler) Process(ctx context.Context, body []byte) ([]byte, error) {
	resp := h.Handle(ctx, body)
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return data, nil
}

func (h *Handler) failed(req Request, err error) *Response {
	Logger().Debug("decode failed",
		zap.Stringer("op", req.Op),
		zap.Uint32("index", req.Index),
		zap.Int("bytes", len(req.Data)),
		zap.Error(err),
	)
	return errorResponse(err)
}

func errorResponse(err error) *Response {
	msg := err.Error()
	var gerr *host.Error
	if errors.As(err, &gerr) {
		msg = gerr.Message
	}
	return &Response{Error: msg}
}

// Summarize describes schema and records as a successful response.
func Summarize(schema *arrow.Schema, records []arrow.Record) *Response {
	resp := &Response{
		OK:     true,
		Schema: make([]FieldInfo, 0, schema.NumFields()),
		Chunks: make([]ChunkInfo, 0, len(records)),
	}
	for _, f := range schema.Fields() {
		resp.Schema = append(resp.Schema, FieldInfo{
			Name:     f.Name,
			Type:     f.Type.String(),
			Nullable: f.Nullable,
		})
	}
	for _, rec := range records {
		resp.Chunks = append(resp.Chunks, ChunkInfo{
			Rows:    rec.NumRows(),
			Columns: rec.NumCols(),
		})
	}
	return resp
}

// DecodeResponse parses a response body.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &resp, nil
}
