//go:build wasip1

// Command arrowffi-guest is the decoder module loaded by the host. Build it
// as a reactor:
//
//	GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o arrowffi.wasm ./cmd/arrowffi-guest
package main

import (
	"os"

	"go.uber.org/zap"

	"github.com/VanDung-dev/arrow-wasm-ffi/guest"
)

var module = guest.New()

func init() {
	if level := os.Getenv("ARROWFFI_GUEST_LOG"); level != "" {
		cfg := zap.NewDevelopmentConfig()
		if err := cfg.Level.UnmarshalText([]byte(level)); err == nil {
			if l, err := cfg.Build(); err == nil {
				guest.SetLogger(l)
			}
		}
	}
}

//go:wasmexport malloc
func malloc(size uint32) uint32 {
	return module.Malloc(size)
}

//go:wasmexport free
func free(ptr uint32) {
	module.Free(ptr)
}

//go:wasmexport decode_table
func decodeTable(ptr, size uint32) uint32 {
	return module.DecodeTable(ptr, size)
}

//go:wasmexport decode_record_batch
func decodeRecordBatch(ptr, size, index uint32) uint32 {
	return module.DecodeRecordBatch(ptr, size, index)
}

//go:wasmexport release
func release(handle uint32) {
	module.Release(handle)
}

func main() {}
