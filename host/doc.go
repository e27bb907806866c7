// Package host runs the decoder module and turns its FFI results back into
// arrow-go values.
//
// This package contains:
//   - A wazero-backed Bridge with a pool of module instances (wasm.go, pool.go)
//   - An in-process decoder that drives the guest exports natively (inprocess.go)
//   - Prometheus metrics for decode calls and the pool (metrics.go)
//
// The compiled module is built from cmd/arrowffi-guest:
//
//	GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o arrowffi.wasm ./cmd/arrowffi-guest
package host
