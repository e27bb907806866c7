package host

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"

	"github.com/VanDung-dev/arrow-wasm-ffi/bridge"
	"github.com/VanDung-dev/arrow-wasm-ffi/ffi"
)

// Decoder decodes Arrow IPC bytes through the guest exports.
type Decoder interface {
	// DecodeTable returns every chunk of data. The caller releases the table.
	DecodeTable(ctx context.Context, data []byte) (*ffi.Table, error)
	// DecodeRecordBatch returns one chunk bound to the full schema. The
	// caller releases the record.
	DecodeRecordBatch(ctx context.Context, data []byte, opts ...BatchOption) (arrow.Record, error)
	// Close releases the decoder's resources.
	Close(ctx context.Context) error
}

// BatchOption configures DecodeRecordBatch.
type BatchOption func(*batchOptions)

type batchOptions struct {
	index uint32
}

// WithChunkIndex selects the zero-based chunk to decode. The default is 0.
func WithChunkIndex(index uint32) BatchOption {
	return func(o *batchOptions) {
		o.index = index
	}
}

// guestABI is the export surface of one decoder module instance.
type guestABI interface {
	malloc(ctx context.Context, size uint32) (uint32, error)
	write(ptr uint32, data []byte) bool
	free(ctx context.Context, ptr uint32) error
	decodeTable(ctx context.Context, ptr, size uint32) (uint32, error)
	decodeRecordBatch(ctx context.Context, ptr, size, index uint32) (uint32, error)
	release(ctx context.Context, handle uint32) error
	reader() ffi.Reader
}

// caller runs the staged-call protocol shared by every decoder:
// malloc, write, call, read Result, import, release, free.
type caller struct {
	mem     memory.Allocator
	metrics *Metrics
}

func (c *caller) table(ctx context.Context, abi guestABI, data []byte) (*ffi.Table, error) {
	var table *ffi.Table
	err := c.call(ctx, abi, bridge.ExportDecodeTable, data,
		func(ptr, size uint32) (uint32, error) {
			return abi.decodeTable(ctx, ptr, size)
		},
		func(im *ffi.Importer, value uint32) (int64, error) {
			t, err := im.Table(value)
			if err != nil {
				return 0, err
			}
			table = t
			return t.NumRows(), nil
		})
	return table, err
}

func (c *caller) batch(ctx context.Context, abi guestABI, data []byte, index uint32) (arrow.Record, error) {
	var rec arrow.Record
	err := c.call(ctx, abi, bridge.ExportDecodeRecordBatch, data,
		func(ptr, size uint32) (uint32, error) {
			return abi.decodeRecordBatch(ctx, ptr, size, index)
		},
		func(im *ffi.Importer, value uint32) (int64, error) {
			r, err := im.RecordBatch(value)
			if err != nil {
				return 0, err
			}
			rec = r
			return r.NumRows(), nil
		})
	return rec, err
}

func (c *caller) call(
	ctx context.Context,
	abi guestABI,
	op string,
	data []byte,
	invoke func(ptr, size uint32) (uint32, error),
	importValue func(im *ffi.Importer, value uint32) (int64, error),
) (err error) {
	start := time.Now()
	var rows int64
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordCall(op, err, len(data), rows, time.Since(start))
		}
	}()

	if len(data) > MaxInputSize {
		return ErrInputTooLarge
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	size := uint32(len(data))
	ptr, err := abi.malloc(ctx, size)
	if err != nil {
		return fmt.Errorf("failed to stage input: %w", err)
	}
	defer func() {
		if ferr := abi.free(ctx, ptr); ferr != nil {
			Logger().Warn("failed to free input", zap.Uint32("ptr", ptr), zap.Error(ferr))
		}
	}()
	if !abi.write(ptr, data) {
		return fmt.Errorf("failed to stage input: %d bytes at %d out of range", size, ptr)
	}

	handle, err := invoke(ptr, size)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", op, err)
	}
	defer func() {
		if rerr := abi.release(ctx, handle); rerr != nil {
			Logger().Warn("failed to release result", zap.Uint32("handle", handle), zap.Error(rerr))
		}
	}()

	im := ffi.NewImporter(abi.reader(), c.mem)
	res, err := im.Result(handle)
	if err != nil {
		return fmt.Errorf("failed to read result: %w", err)
	}
	if !res.OK() {
		msg, err := im.Message(res)
		if err != nil {
			return fmt.Errorf("failed to read error message: %w", err)
		}
		Logger().Debug("guest reported error", zap.String("op", op), zap.String("message", msg))
		return &Error{Op: op, Message: msg}
	}

	rows, err = importValue(im, res.Value)
	if err != nil {
		return fmt.Errorf("failed to import %s result: %w", op, err)
	}
	return nil
}
