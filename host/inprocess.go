package host

import (
	"context"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/VanDung-dev/arrow-wasm-ffi/ffi"
	"github.com/VanDung-dev/arrow-wasm-ffi/guest"
)

// InProcess runs the guest exports natively. Results travel through the
// same FFI structures as with a wasm module, addressed in a synthetic
// address space.
type InProcess struct {
	module *guest.Module
	caller caller
	closed atomic.Bool
}

// NewInProcess creates an in-process decoder. Only WithMetrics and
// WithAllocator apply.
func NewInProcess(opts ...Option) *InProcess {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &InProcess{
		module: guest.New(),
		caller: caller{mem: o.mem, metrics: o.metrics},
	}
}

// Module returns the underlying guest module.
func (p *InProcess) Module() *guest.Module {
	return p.module
}

// DecodeTable implements Decoder.
func (p *InProcess) DecodeTable(ctx context.Context, data []byte) (*ffi.Table, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	return p.caller.table(ctx, nativeABI{p.module}, data)
}

// DecodeRecordBatch implements Decoder.
func (p *InProcess) DecodeRecordBatch(ctx context.Context, data []byte, opts ...BatchOption) (arrow.Record, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	o := batchOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	return p.caller.batch(ctx, nativeABI{p.module}, data, o.index)
}

// Write runs fn with a Writer over the in-process guest memory and frees
// everything written afterwards.
func (p *InProcess) Write(ctx context.Context, fn func(*Writer) error) error {
	if p.closed.Load() {
		return ErrClosed
	}
	return write(ctx, nativeABI{p.module}, p.caller.mem, fn)
}

// Close implements Decoder.
func (p *InProcess) Close(context.Context) error {
	p.closed.Store(true)
	return nil
}

type nativeABI struct {
	m *guest.Module
}

func (n nativeABI) malloc(_ context.Context, size uint32) (uint32, error) {
	return n.m.Malloc(size), nil
}

func (n nativeABI) write(ptr uint32, data []byte) bool {
	return n.m.Write(ptr, data)
}

func (n nativeABI) free(_ context.Context, ptr uint32) error {
	n.m.Free(ptr)
	return nil
}

func (n nativeABI) decodeTable(_ context.Context, ptr, size uint32) (uint32, error) {
	return n.m.DecodeTable(ptr, size), nil
}

func (n nativeABI) decodeRecordBatch(_ context.Context, ptr, size, index uint32) (uint32, error) {
	return n.m.DecodeRecordBatch(ptr, size, index), nil
}

func (n nativeABI) release(_ context.Context, handle uint32) error {
	n.m.Release(handle)
	return nil
}

func (n nativeABI) reader() ffi.Reader {
	return n.m.Arena()
}

var (
	_ Decoder = (*Bridge)(nil)
	_ Decoder = (*InProcess)(nil)
)
