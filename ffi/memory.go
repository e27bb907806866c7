package ffi

// Memory is the allocation surface the exporter writes through. alloc.Group
// implements it inside the guest and the host's Writer implements it over
// the guest's malloc export.
type Memory interface {
	// Alloc reserves a zeroed, 8-byte aligned region and returns its address
	// and a writable view of exactly size bytes.
	Alloc(size uint32) (uint32, []byte)
	// Share exposes buf at a stable address without copying. Empty buffers
	// map to address zero.
	Share(buf []byte) uint32
	// Handle is the release handle recorded in private_data.
	Handle() uint32
}

// Reader is the read surface the importer walks. wazero's api.Memory and
// alloc.Arena both implement it.
type Reader interface {
	Read(offset, byteCount uint32) ([]byte, bool)
	ReadUint32Le(offset uint32) (uint32, bool)
	ReadUint64Le(offset uint32) (uint64, bool)
}
