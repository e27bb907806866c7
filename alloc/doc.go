// Package alloc hands out regions of the guest's linear memory that the host
// can write into and read from.
//
// Regions are allocated in 8-byte units and pinned: the garbage collector
// never moves or reclaims them until the host frees them (malloc'd regions)
// or releases the group a decode call produced them in.
//
// On wasm builds addresses are real linear-memory offsets. Elsewhere the
// arena hands out synthetic addresses so the same boundary can be driven
// in-process.
package alloc
