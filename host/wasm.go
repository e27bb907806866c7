package host

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/VanDung-dev/arrow-wasm-ffi/bridge"
	"github.com/VanDung-dev/arrow-wasm-ffi/ffi"
)

var _ ffi.Reader = api.Memory(nil)

var requiredExports = []string{
	bridge.ExportMalloc,
	bridge.ExportFree,
	bridge.ExportDecodeTable,
	bridge.ExportDecodeRecordBatch,
	bridge.ExportRelease,
}

// Bridge decodes through a pool of decoder module instances running in
// wazero.
type Bridge struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	pool     *Pool[*wasmInstance]
	caller   caller
	opts     options

	closeOnce sync.Once
	closeErr  error
}

// Load reads a compiled decoder module from path and creates a Bridge.
func Load(ctx context.Context, path string, opts ...Option) (*Bridge, error) {
	wasm, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read module: %w", err)
	}
	return New(ctx, wasm, opts...)
}

// New compiles wasm once and starts the instance pool.
func New(ctx context.Context, wasm []byte, opts ...Option) (*Bridge, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	cfg := wazero.NewRuntimeConfig()
	if o.memoryLimitPages > 0 {
		cfg = cfg.WithMemoryLimitPages(o.memoryLimitPages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, cfg)

	b, err := newBridge(ctx, r, wasm, o)
	if err != nil {
		_ = r.Close(ctx)
		return nil, err
	}
	return b, nil
}

func newBridge(ctx context.Context, r wazero.Runtime, wasm []byte, o options) (*Bridge, error) {
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	compiled, err := r.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("failed to compile module: %w", err)
	}
	exports := compiled.ExportedFunctions()
	for _, name := range requiredExports {
		if _, ok := exports[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingExport, name)
		}
	}

	b := &Bridge{
		runtime:  r,
		compiled: compiled,
		caller:   caller{mem: o.mem, metrics: o.metrics},
		opts:     o,
	}

	instances := make([]*wasmInstance, 0, o.instances)
	for i := 0; i < o.instances; i++ {
		in := &wasmInstance{}
		if err := b.instantiate(ctx, in); err != nil {
			return nil, err
		}
		instances = append(instances, in)
	}
	b.pool = NewPool("guest", instances, nil)

	Logger().Info("decoder module loaded",
		zap.Int("instances", o.instances),
		zap.Int("wasm_bytes", len(wasm)),
		zap.Uint32("memory_limit_pages", o.memoryLimitPages),
	)
	return b, nil
}

// instantiate starts a fresh module instance into in.
func (b *Bridge) instantiate(ctx context.Context, in *wasmInstance) error {
	cfg := wazero.NewModuleConfig().
		WithName(""). // anonymous for parallel instantiation
		WithStartFunctions("_initialize").
		WithStderr(b.opts.stderr)
	for k, v := range b.opts.env {
		cfg = cfg.WithEnv(k, v)
	}

	mod, err := b.runtime.InstantiateModule(ctx, b.compiled, cfg)
	if err != nil {
		return fmt.Errorf("failed to instantiate module: %w", err)
	}
	if mod.Memory() == nil {
		_ = mod.Close(ctx)
		return fmt.Errorf("module exports no memory")
	}

	in.mod = mod
	in.mallocFn = mod.ExportedFunction(bridge.ExportMalloc)
	in.freeFn = mod.ExportedFunction(bridge.ExportFree)
	in.decodeTableFn = mod.ExportedFunction(bridge.ExportDecodeTable)
	in.decodeBatchFn = mod.ExportedFunction(bridge.ExportDecodeRecordBatch)
	in.releaseFn = mod.ExportedFunction(bridge.ExportRelease)
	return nil
}

// run executes fn on a pooled instance, replacing the instance if the call
// left it closed, e.g. after a guest trap.
func (b *Bridge) run(ctx context.Context, fn func(*wasmInstance) error) error {
	err := b.pool.Execute(ctx, func(in *wasmInstance) error {
		err := fn(in)
		if err != nil && in.mod.IsClosed() {
			Logger().Warn("module instance closed, restarting", zap.Error(err))
			if rerr := b.instantiate(context.WithoutCancel(ctx), in); rerr != nil {
				Logger().Error("failed to restart module instance", zap.Error(rerr))
			}
		}
		return err
	})
	if b.opts.metrics != nil {
		b.opts.metrics.UpdatePool(b.pool.Stats())
	}
	return err
}

// DecodeTable implements Decoder.
func (b *Bridge) DecodeTable(ctx context.Context, data []byte) (*ffi.Table, error) {
	var table *ffi.Table
	err := b.run(ctx, func(in *wasmInstance) error {
		var err error
		table, err = b.caller.table(ctx, in, data)
		return err
	})
	return table, err
}

// DecodeRecordBatch implements Decoder.
func (b *Bridge) DecodeRecordBatch(ctx context.Context, data []byte, opts ...BatchOption) (arrow.Record, error) {
	o := batchOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	var rec arrow.Record
	err := b.run(ctx, func(in *wasmInstance) error {
		var err error
		rec, err = b.caller.batch(ctx, in, data, o.index)
		return err
	})
	return rec, err
}

// Write runs fn with a Writer over the memory of one pooled instance. The
// instance stays checked out until fn returns and everything written is
// freed afterwards.
func (b *Bridge) Write(ctx context.Context, fn func(*Writer) error) error {
	return b.run(ctx, func(in *wasmInstance) error {
		return write(ctx, in, b.opts.mem, fn)
	})
}

// Stats returns the instance pool statistics.
func (b *Bridge) Stats() PoolStats {
	return b.pool.Stats()
}

// Close waits for running calls and closes every instance.
func (b *Bridge) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		b.pool.Shutdown()
		b.closeErr = b.runtime.Close(ctx)
	})
	return b.closeErr
}

// wasmInstance is one instantiated decoder module. It is not safe for
// concurrent use; the pool serializes calls.
type wasmInstance struct {
	mod           api.Module
	mallocFn      api.Function
	freeFn        api.Function
	decodeTableFn api.Function
	decodeBatchFn api.Function
	releaseFn     api.Function
}

func call32(ctx context.Context, fn api.Function, params ...uint64) (uint32, error) {
	results, err := fn.Call(ctx, params...)
	if err != nil {
		return 0, err
	}
	if len(results) != 1 {
		return 0, fmt.Errorf("%s returned %d results", fn.Definition().Name(), len(results))
	}
	return uint32(results[0]), nil
}

func (in *wasmInstance) malloc(ctx context.Context, size uint32) (uint32, error) {
	return call32(ctx, in.mallocFn, uint64(size))
}

func (in *wasmInstance) write(ptr uint32, data []byte) bool {
	return in.mod.Memory().Write(ptr, data)
}

func (in *wasmInstance) free(ctx context.Context, ptr uint32) error {
	_, err := in.freeFn.Call(ctx, uint64(ptr))
	return err
}

func (in *wasmInstance) decodeTable(ctx context.Context, ptr, size uint32) (uint32, error) {
	return call32(ctx, in.decodeTableFn, uint64(ptr), uint64(size))
}

func (in *wasmInstance) decodeRecordBatch(ctx context.Context, ptr, size, index uint32) (uint32, error) {
	return call32(ctx, in.decodeBatchFn, uint64(ptr), uint64(size), uint64(index))
}

func (in *wasmInstance) release(ctx context.Context, handle uint32) error {
	_, err := in.releaseFn.Call(ctx, uint64(handle))
	return err
}

func (in *wasmInstance) reader() ffi.Reader {
	return in.mod.Memory()
}
