package sab

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/nmxmxh/gilbert_v1/kernel/threads/foundation"
)

// Region is one formatted block of shared memory. It carries no lock:
// every shared word is read and written with 32-bit atomics, so a reader
// racing a writer sees each pixel either before or after a move, never torn.
type Region struct {
	provider  MemoryProvider
	layout    Layout
	validator *SABValidator
	data      []byte

	released   atomic.Bool
	releaseMu  sync.Mutex
	generation *foundation.EnhancedEpoch
}

func newRegion(p MemoryProvider, layout Layout, validator *SABValidator) *Region {
	data := p.Bytes()
	return &Region{
		provider:   p,
		layout:     layout,
		validator:  validator,
		data:       data,
		generation: foundation.NewEnhancedEpoch(data[OFFSET_HEADER:OFFSET_HEADER+SIZE_HEADER], IDX_GENERATION),
	}
}

// Layout returns the region's section offsets.
func (r *Region) Layout() Layout {
	return r.layout
}

// Provider returns the backing memory provider.
func (r *Region) Provider() MemoryProvider {
	return r.provider
}

// Validator returns the bounds checker for this region.
func (r *Region) Validator() *SABValidator {
	return r.validator
}

// Bytes returns the raw backing memory. Two views of the same region
// return slices sharing the same first element.
func (r *Region) Bytes() []byte {
	return r.data
}

// Generation returns the shared pixel-plane change counter.
func (r *Region) Generation() *foundation.EnhancedEpoch {
	return r.generation
}

// Released reports whether Release has run.
func (r *Region) Released() bool {
	return r.released.Load()
}

// Release frees the backing memory. Later accesses through a View
// report ErrReleased. Release is idempotent.
func (r *Region) Release() error {
	r.releaseMu.Lock()
	defer r.releaseMu.Unlock()
	if r.released.Swap(true) {
		return nil
	}
	return r.provider.Close()
}

// View returns an owner-scoped handle over the region.
func (r *Region) View(owner RegionOwner) *View {
	return &View{region: r, owner: owner}
}

func (r *Region) word(offset uint32) *atomic.Uint32 {
	return (*atomic.Uint32)(unsafe.Pointer(&r.data[offset]))
}

// Header reads header word idx.
func (r *Region) Header(idx uint32) uint32 {
	return r.word(OFFSET_HEADER + idx*4).Load()
}

// SetHeader stores header word idx.
func (r *Region) SetHeader(idx uint32, v uint32) {
	r.word(OFFSET_HEADER + idx*4).Store(v)
}

// AddHeader adds delta to header word idx and returns the new value.
func (r *Region) AddHeader(idx uint32, delta uint32) uint32 {
	return r.word(OFFSET_HEADER + idx*4).Add(delta)
}

// CurveAt returns the pixel-plane byte offset of the i-th curve position.
// The table is immutable after Format.
func (r *Region) CurveAt(i int) uint32 {
	return *(*uint32)(unsafe.Pointer(&r.data[r.layout.CurveOffset+uint32(i)*4]))
}

// LoadPixelAt reads the pixel at a pixel-plane byte offset.
func (r *Region) LoadPixelAt(off uint32) uint32 {
	return r.word(r.layout.PixelOffset + off).Load()
}

// StorePixelAt writes the pixel at a pixel-plane byte offset.
func (r *Region) StorePixelAt(off uint32, v uint32) {
	r.word(r.layout.PixelOffset + off).Store(v)
}

// LoadScratch reads scratch word i.
func (r *Region) LoadScratch(i int) uint32 {
	return r.word(r.layout.ScratchOffset + uint32(i)*4).Load()
}

// StoreScratch writes scratch word i.
func (r *Region) StoreScratch(i int, v uint32) {
	r.word(r.layout.ScratchOffset + uint32(i)*4).Store(v)
}
