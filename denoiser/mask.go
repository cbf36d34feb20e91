package denoiser

import (
	"math/bits"
	"sync/atomic"
)

const wordBits = 64

// patchMask flags which search-window pixels are similar to the window
// center. Bit i corresponds to the i-th window pixel in raster order, the
// same ordering Tile.Index produces for the window bounds.
type patchMask struct {
	words []uint64
	size  int
}

func newPatchMask(capacity int) patchMask {
	return patchMask{
		words: make([]uint64, (capacity+wordBits-1)/wordBits),
		size:  capacity,
	}
}

func (m *patchMask) reset() {
	for i := range m.words {
		m.words[i] = 0
	}
}

func (m *patchMask) set(index int) {
	if index < 0 || index >= m.size {
		panic("denoiser: similarity mask index exceeds capacity")
	}
	m.words[index/wordBits] |= 1 << (uint(index) % wordBits)
}

func (m *patchMask) test(index int) bool {
	return m.words[index/wordBits]&(1<<(uint(index)%wordBits)) != 0
}

// count returns the number of similar pixels.
func (m *patchMask) count() int {
	n := 0
	for _, w := range m.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// pixelMarker records which pixels already received their final estimate
// during the current scale iteration, packed one bit per pixel. Marks from
// chunks of the same dispatch tile land on disjoint pixels but can share a
// word, so the word updates are atomic.
type pixelMarker struct {
	words []uint64
}

func newPixelMarker(numPixels int) *pixelMarker {
	return &pixelMarker{words: make([]uint64, (numPixels+wordBits-1)/wordBits)}
}

func (pm *pixelMarker) clear() {
	for i := range pm.words {
		atomic.StoreUint64(&pm.words[i], 0)
	}
}

func (pm *pixelMarker) marked(index int) bool {
	word := atomic.LoadUint64(&pm.words[index/wordBits])
	return word&(1<<(uint(index)%wordBits)) != 0
}

func (pm *pixelMarker) mark(index int) {
	addr := &pm.words[index/wordBits]
	mask := uint64(1) << (uint(index) % wordBits)
	for {
		old := atomic.LoadUint64(addr)
		if old&mask != 0 || atomic.CompareAndSwapUint64(addr, old, old|mask) {
			return
		}
	}
}
