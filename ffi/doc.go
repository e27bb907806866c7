// Package ffi writes Arrow schemas and record batches into linear memory
// using the wasm32 layout of the Arrow C Data Interface, and reads them
// back.
//
// The exporter runs inside the guest. It allocates every structure through
// a Memory, shares array buffers without copying and stamps each structure
// with the release handle of its group. The importer runs on the host. It
// walks the same structures through a Reader, which wazero's api.Memory
// satisfies, and copies buffers into arrow-go memory so the guest group can
// be released right after.
//
// In addition to ArrowSchema and ArrowArray three small headers are used:
//
//	RecordBatch  schema u32, array u32
//	Table        schema u32, n_chunks u32, chunks u32, reserved u32
//	Result       status u32, value u32, message u32, message_len u32
package ffi
