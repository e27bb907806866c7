//go:build wasm

package alloc

import "unsafe"

func (a *Arena) addressOf(r *region) (uint32, bool) {
	return uint32(uintptr(unsafe.Pointer(unsafe.SliceData(r.data)))), true
}
