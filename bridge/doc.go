// Package bridge decodes Arrow IPC bytes and exports the result as C Data
// Interface structures.
//
// This package contains:
//   - The error taxonomy that crosses the guest boundary (errors.go)
//   - Table and record batch decoding into an ffi.Memory (decode.go)
//
// Callers own the memory group: on error they discard it, on success they
// hand its handle to the host, which releases it when done.
package bridge
