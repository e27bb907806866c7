package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWords(t *testing.T) {
	cases := map[uint32]int{
		0:  1,
		1:  1,
		8:  1,
		9:  2,
		16: 2,
		17: 3,
	}
	for size, want := range cases {
		assert.Equal(t, want, Words(size), "size %d", size)
	}
	assert.Equal(t, 1<<29, Words(1<<32-1))
}

func TestMallocZeroIsUsable(t *testing.T) {
	a := NewArena()

	ptr := a.Malloc(0)
	require.NotZero(t, ptr)
	assert.Zero(t, ptr%WordSize)

	// A zero-length request still owns one word.
	assert.True(t, a.Write(ptr, []byte{1, 2, 3, 4, 5, 6, 7, 8}))
	b, ok := a.Read(ptr, 8)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, b)

	other := a.Malloc(0)
	assert.NotEqual(t, ptr, other)
}

func TestMallocAlignmentAndBounds(t *testing.T) {
	a := NewArena()

	for _, size := range []uint32{1, 3, 8, 13, 64, 1000} {
		ptr := a.Malloc(size)
		assert.Zero(t, ptr%WordSize, "size %d", size)

		rounded := uint32(Words(size) * WordSize)
		_, ok := a.Read(ptr, rounded)
		assert.True(t, ok, "size %d", size)
	}
}

func TestFree(t *testing.T) {
	a := NewArena()

	ptr := a.Malloc(32)
	require.True(t, a.Write(ptr, []byte("arrow")))
	require.Equal(t, 1, a.Len())

	assert.True(t, a.Free(ptr))
	assert.Equal(t, 0, a.Len())
	assert.False(t, a.Free(ptr), "double free must be ignored")

	_, ok := a.Read(ptr, 1)
	assert.False(t, ok)
}

func TestReadOutOfBounds(t *testing.T) {
	a := NewArena()

	ptr := a.Malloc(16)
	_, ok := a.Read(ptr, 17)
	assert.False(t, ok)
	_, ok = a.Read(ptr+8, 9)
	assert.False(t, ok)
	_, ok = a.Read(0, 1)
	assert.False(t, ok)
	assert.False(t, a.Write(ptr+12, []byte("overflow")))
}

func TestLittleEndianReads(t *testing.T) {
	a := NewArena()

	ptr := a.Malloc(12)
	require.True(t, a.Write(ptr, []byte{
		0x01, 0x02, 0x03, 0x04,
		0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c,
	}))

	v32, ok := a.ReadUint32Le(ptr)
	require.True(t, ok)
	assert.Equal(t, uint32(0x04030201), v32)

	v64, ok := a.ReadUint64Le(ptr + 4)
	require.True(t, ok)
	assert.Equal(t, uint64(0x0c0b0a0908070605), v64)
}

func TestGroupRelease(t *testing.T) {
	a := NewArena()
	staged := a.Malloc(8)

	g := a.NewGroup()
	assert.Zero(t, g.Handle())

	first, buf := g.Alloc(48)
	require.Len(t, buf, 48)
	assert.Equal(t, first, g.Handle())

	shared := g.Share([]byte("zero-copy"))
	require.NotZero(t, shared)
	view, ok := a.Read(shared, 9)
	require.True(t, ok)
	assert.Equal(t, "zero-copy", string(view))

	assert.Zero(t, g.Share(nil))
	assert.Equal(t, 3, a.Len())
	assert.Equal(t, 1, a.Groups())

	assert.True(t, a.Release(g.Handle()))
	assert.Equal(t, 1, a.Len(), "staged input survives a release")
	assert.Equal(t, 0, a.Groups())
	assert.False(t, a.Release(first))

	_, ok = a.Read(staged, 8)
	assert.True(t, ok)
}

func TestGroupHandleIsNotFreeable(t *testing.T) {
	a := NewArena()
	g := a.NewGroup()
	handle, _ := g.Alloc(16)

	assert.False(t, a.Free(handle))
	assert.Equal(t, 1, a.Len())
}

func TestGroupDiscard(t *testing.T) {
	a := NewArena()
	g := a.NewGroup()
	g.Alloc(8)
	g.Alloc(8)

	g.Discard()
	assert.Zero(t, g.Handle())
	assert.Equal(t, 0, a.Len())

	// The group can be reused after a discard.
	addr, _ := g.Alloc(8)
	assert.Equal(t, addr, g.Handle())
	assert.Equal(t, 1, a.Groups())
}
