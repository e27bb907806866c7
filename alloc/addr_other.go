//go:build !wasm

package alloc

// syntheticBase keeps the first synthetic address clear of the null page.
const syntheticBase = 1 << 16

// addressLimit is one past the last address a 32-bit guest can name.
const addressLimit = 1 << 32

// addressOf returns the lowest gap between live regions that can hold r, so
// the ranges of freed and released regions are reused. Synthetic regions
// never overlap. The caller holds a.mu.
func (a *Arena) addressOf(r *region) (uint32, bool) {
	next := uint64(syntheticBase)
	for _, live := range a.regions {
		start := uint64(live.addr)
		if start >= next+r.span {
			break
		}
		if end := start + live.span; end > next {
			next = end
		}
	}
	if next+r.span > addressLimit {
		return 0, false
	}
	return uint32(next), true
}
