// Package guest implements the exports of the decoder module on top of an
// allocation arena. The wasm entry points in cmd/arrowffi-guest are thin
// wrappers around a Module, and the host's in-process decoder drives a
// Module directly.
package guest

import (
	"go.uber.org/zap"

	"github.com/VanDung-dev/arrow-wasm-ffi/alloc"
	"github.com/VanDung-dev/arrow-wasm-ffi/bridge"
	"github.com/VanDung-dev/arrow-wasm-ffi/ffi"
)

// Module holds the allocation registry shared by every export.
type Module struct {
	arena *alloc.Arena
}

// New creates a Module with an empty arena.
func New() *Module {
	return &Module{arena: alloc.NewArena()}
}

// Arena returns the module's arena. Hosts without a linear memory read
// results through it.
func (m *Module) Arena() *alloc.Arena {
	return m.arena
}

// Malloc reserves size bytes for the host to stage input in.
func (m *Module) Malloc(size uint32) uint32 {
	ptr := m.arena.Malloc(size)
	Logger().Debug("malloc", zap.Uint32("size", size), zap.Uint32("ptr", ptr))
	return ptr
}

// Free returns a region obtained from Malloc. Unknown addresses are ignored.
func (m *Module) Free(ptr uint32) {
	if !m.arena.Free(ptr) {
		Logger().Debug("free of unknown region", zap.Uint32("ptr", ptr))
	}
}

// Write copies data into guest memory at ptr.
func (m *Module) Write(ptr uint32, data []byte) bool {
	return m.arena.Write(ptr, data)
}

// DecodeTable decodes the IPC bytes at [ptr, ptr+size) into an FFI table
// and returns the address of the call's Result.
func (m *Module) DecodeTable(ptr, size uint32) uint32 {
	return m.respond(bridge.ExportDecodeTable, ptr, size, func(mem ffi.Memory, data []byte) (uint32, error) {
		return bridge.DecodeTable(mem, data)
	})
}

// DecodeRecordBatch decodes the chunk at index into an FFI record batch and
// returns the address of the call's Result.
func (m *Module) DecodeRecordBatch(ptr, size, index uint32) uint32 {
	return m.respond(bridge.ExportDecodeRecordBatch, ptr, size, func(mem ffi.Memory, data []byte) (uint32, error) {
		return bridge.DecodeRecordBatch(mem, data, bridge.WithChunkIndex(int(index)))
	})
}

// Release drops every region allocated by the call that returned handle.
func (m *Module) Release(handle uint32) {
	if !m.arena.Release(handle) {
		Logger().Debug("release of unknown handle", zap.Uint32("handle", handle))
	}
}

type decodeFunc func(mem ffi.Memory, data []byte) (uint32, error)

// respond runs decode in a fresh group. The Result is allocated first so its
// address is the group's release handle. On failure the group is dropped
// and a new one carries only the error Result and its message.
func (m *Module) respond(op string, ptr, size uint32, decode decodeFunc) uint32 {
	data, ok := m.input(ptr, size)
	if !ok {
		return m.fail(op, bridge.InternalError("input [%d, %d) is not a staged region", ptr, uint64(ptr)+uint64(size)))
	}

	group := m.arena.NewGroup()
	addr, res := group.Alloc(ffi.ResultSize)

	value, err := call(decode, group, data)
	if err != nil {
		group.Discard()
		return m.fail(op, err)
	}

	ffi.PutResult(res, ffi.Result{Status: ffi.StatusOK, Value: value})
	Logger().Debug("decoded",
		zap.String("op", op),
		zap.Uint32("size", size),
		zap.Uint32("handle", addr),
	)
	return addr
}

func (m *Module) fail(op string, err error) uint32 {
	msg := bridge.Message(err)

	group := m.arena.NewGroup()
	addr, res := group.Alloc(ffi.ResultSize)
	msgAddr, buf := group.Alloc(uint32(len(msg)))
	copy(buf, msg)

	ffi.PutResult(res, ffi.Result{
		Status:     ffi.StatusError,
		Message:    msgAddr,
		MessageLen: uint32(len(msg)),
	})
	Logger().Debug("decode failed", zap.String("op", op), zap.Error(err))
	return addr
}

func (m *Module) input(ptr, size uint32) ([]byte, bool) {
	if size == 0 {
		return nil, true
	}
	return m.arena.Read(ptr, size)
}

// call converts a panic inside the decoder into an internal error.
func call(decode decodeFunc, mem ffi.Memory, data []byte) (value uint32, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = bridge.InternalError("%v", r)
		}
	}()
	return decode(mem, data)
}
