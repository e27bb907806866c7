package alloc

import (
	"encoding/binary"
	"errors"
	"runtime"
	"slices"
	"sort"
	"sync"
	"unsafe"
)

// WordSize is the allocation unit and alignment of every region.
const WordSize = 8

// ErrExhausted is the panic value raised when no address range is left for a
// new region.
var ErrExhausted = errors.New("alloc: address space exhausted")

type regionKind uint8

const (
	kindMalloc regionKind = iota + 1
	kindGroup
)

type region struct {
	addr   uint32
	span   uint64 // reserved address range, at least len(data)
	data   []byte
	kind   regionKind
	pinner runtime.Pinner
}

func (r *region) contains(offset, count uint32) bool {
	return offset >= r.addr && uint64(offset)+uint64(count) <= uint64(r.addr)+uint64(len(r.data))
}

// Arena is the registry of every region handed across the boundary.
type Arena struct {
	mu      sync.Mutex
	regions []*region // sorted by addr
	groups  map[uint32]*Group
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{
		groups: make(map[uint32]*Group),
	}
}

// Words returns the number of 8-byte units backing a request of size bytes.
// A zero-length request still occupies one unit so its address is non-null
// and unique.
func Words(size uint32) int {
	n := (uint64(size) + WordSize - 1) / WordSize
	if n == 0 {
		n = 1
	}
	return int(n)
}

// Malloc reserves at least size bytes and returns the region's address. The
// region stays pinned until Free is called with the same address.
func (a *Arena) Malloc(size uint32) uint32 {
	return a.allocate(size, kindMalloc).addr
}

// Free unpins a region returned by Malloc. It reports whether addr named
// such a region.
func (a *Arena) Free(addr uint32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, r := range a.at(addr) {
		if r.kind == kindMalloc {
			a.drop(r)
			return true
		}
	}
	return false
}

// NewGroup starts a release group. The group's handle is the address of the
// first region allocated through it.
func (a *Arena) NewGroup() *Group {
	return &Group{arena: a}
}

// Release drops every region of the group identified by handle.
func (a *Arena) Release(handle uint32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	g, ok := a.groups[handle]
	if !ok {
		return false
	}
	delete(a.groups, handle)
	for _, r := range g.regions {
		a.drop(r)
	}
	g.regions = nil
	return true
}

// Len returns the number of live regions.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.regions)
}

// Groups returns the number of unreleased groups.
func (a *Arena) Groups() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groups)
}

// Read returns a view of count bytes at offset. The view aliases the region.
func (a *Arena) Read(offset, count uint32) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r := a.find(offset, count)
	if r == nil {
		return nil, false
	}
	start := offset - r.addr
	return r.data[start : start+count : start+count], true
}

// Write copies data into the region containing [offset, offset+len(data)).
func (a *Arena) Write(offset uint32, data []byte) bool {
	if uint64(len(data)) > 1<<32-1 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	r := a.find(offset, uint32(len(data)))
	if r == nil {
		return false
	}
	copy(r.data[offset-r.addr:], data)
	return true
}

// ReadUint32Le reads a little-endian uint32 at offset.
func (a *Arena) ReadUint32Le(offset uint32) (uint32, bool) {
	b, ok := a.Read(offset, 4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

// ReadUint64Le reads a little-endian uint64 at offset.
func (a *Arena) ReadUint64Le(offset uint32) (uint64, bool) {
	b, ok := a.Read(offset, 8)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b), true
}

func (a *Arena) allocate(size uint32, kind regionKind) *region {
	words := make([]uint64, Words(size))
	r := &region{
		data: unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*WordSize),
		kind: kind,
	}
	r.pinner.Pin(&words[0])
	a.place(r)
	return r
}

func (a *Arena) share(buf []byte) *region {
	r := &region{data: buf, kind: kindGroup}
	r.pinner.Pin(unsafe.SliceData(buf))
	a.place(r)
	return r
}

// place assigns r an address and registers it. It panics with ErrExhausted,
// after unpinning r, when no address is left.
func (a *Arena) place(r *region) {
	r.span = span(len(r.data))

	a.mu.Lock()
	addr, ok := a.addressOf(r)
	if ok {
		r.addr = addr
		a.insert(r)
	}
	a.mu.Unlock()

	if !ok {
		r.pinner.Unpin()
		panic(ErrExhausted)
	}
}

// span is the address range reserved for n bytes.
func span(n int) uint64 {
	words := (uint64(n) + WordSize - 1) / WordSize
	if words == 0 {
		words = 1
	}
	return words * WordSize
}

func (a *Arena) insert(r *region) {
	i := sort.Search(len(a.regions), func(i int) bool { return a.regions[i].addr > r.addr })
	a.regions = slices.Insert(a.regions, i, r)
}

// at returns the regions starting exactly at addr.
func (a *Arena) at(addr uint32) []*region {
	i := sort.Search(len(a.regions), func(i int) bool { return a.regions[i].addr >= addr })
	j := i
	for j < len(a.regions) && a.regions[j].addr == addr {
		j++
	}
	return a.regions[i:j]
}

func (a *Arena) drop(r *region) {
	i := sort.Search(len(a.regions), func(i int) bool { return a.regions[i].addr >= r.addr })
	for ; i < len(a.regions) && a.regions[i].addr == r.addr; i++ {
		if a.regions[i] == r {
			a.regions = slices.Delete(a.regions, i, i+1)
			break
		}
	}
	r.pinner.Unpin()
	r.data = nil
}

// find returns a region covering [offset, offset+count). Shared buffers may
// overlap on wasm builds, so every candidate below offset is checked.
func (a *Arena) find(offset, count uint32) *region {
	i := sort.Search(len(a.regions), func(i int) bool { return a.regions[i].addr > offset })
	for j := i - 1; j >= 0; j-- {
		if a.regions[j].contains(offset, count) {
			return a.regions[j]
		}
	}
	return nil
}

// Group collects the regions produced by one decode call so the host can
// release them with a single handle.
type Group struct {
	arena   *Arena
	handle  uint32
	regions []*region
}

// Handle returns the group's release handle, zero before the first Alloc.
func (g *Group) Handle() uint32 {
	return g.handle
}

// Alloc reserves a zeroed, 8-byte aligned region owned by the group.
func (g *Group) Alloc(size uint32) (uint32, []byte) {
	r := g.arena.allocate(size, kindGroup)
	g.track(r)
	return r.addr, r.data[:size:size]
}

// Share exposes buf to the host without copying. Empty buffers map to the
// null address.
func (g *Group) Share(buf []byte) uint32 {
	if len(buf) == 0 {
		return 0
	}
	r := g.arena.share(buf)
	g.track(r)
	return r.addr
}

// Discard releases everything allocated so far and resets the group.
func (g *Group) Discard() {
	if g.handle != 0 {
		g.arena.Release(g.handle)
	}
	g.handle = 0
	g.regions = nil
}

func (g *Group) track(r *region) {
	a := g.arena
	a.mu.Lock()
	defer a.mu.Unlock()

	if g.handle == 0 {
		g.handle = r.addr
		a.groups[g.handle] = g
	}
	g.regions = append(g.regions, r)
}
