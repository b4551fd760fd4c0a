package compute

import (
	"encoding/binary"
	"fmt"

	"github.com/nmxmxh/gilbert_v1/kernel/threads/sab"
)

// Plane implements the backend-independent half of a Binding: seeding,
// sampling and header bookkeeping. Backends embed it and supply the rotation.
type Plane struct {
	view   *sab.View
	region *sab.Region
	layout sab.Layout
}

// NewPlane wraps a view.
func NewPlane(view *sab.View) *Plane {
	return &Plane{
		view:   view,
		region: view.Region(),
		layout: view.Region().Layout(),
	}
}

// View returns the owner-scoped view this plane operates through.
func (p *Plane) View() *sab.View {
	return p.view
}

func (p *Plane) Dimensions() (int, int) {
	return int(p.layout.Width), int(p.layout.Height)
}

// Sample copies the pixel plane into dst.
func (p *Plane) Sample(dst []byte) []byte {
	if err := p.view.CheckRead(sab.RegionPixels); err != nil {
		return dst[:0]
	}
	if err := p.region.Validator().ValidateRead(p.layout.PixelOffset, uint32(p.layout.PixelBytes()), "Pixels"); err != nil {
		return dst[:0]
	}
	size := p.layout.PixelBytes()
	if cap(dst) < size {
		dst = make([]byte, size)
	}
	dst = dst[:size]
	for i := 0; i < p.layout.Pixels(); i++ {
		binary.LittleEndian.PutUint32(dst[i*4:], p.region.LoadPixelAt(uint32(i*4)))
	}
	return dst
}

// Seed overwrites the pixel plane with row-major RGBA pixels. Progress is
// left alone; the worker resets it when it handles loadImage.
func (p *Plane) Seed(pixels []byte, width, height int) error {
	if err := p.view.CheckWrite(sab.RegionPixels); err != nil {
		return err
	}
	if width != int(p.layout.Width) || height != int(p.layout.Height) || len(pixels) != p.layout.PixelBytes() {
		return fmt.Errorf("%w: got %dx%d (%d bytes), region is %dx%d",
			ErrDimensionMismatch, width, height, len(pixels), p.layout.Width, p.layout.Height)
	}
	if err := p.region.Validator().ValidateWrite(p.layout.PixelOffset, uint32(len(pixels)), "Pixels"); err != nil {
		return err
	}
	for i := 0; i < p.layout.Pixels(); i++ {
		p.region.StorePixelAt(uint32(i*4), binary.LittleEndian.Uint32(pixels[i*4:]))
	}
	p.region.Generation().Increment()
	return nil
}

// Rebase marks the current pixels as the new origin of the transform.
func (p *Plane) Rebase() error {
	if err := p.view.CheckWrite(sab.RegionHeader); err != nil {
		return err
	}
	p.region.SetHeader(sab.IDX_PROGRESS, 0)
	p.region.AddHeader(sab.IDX_SEED_GENERATION, 1)
	p.region.Generation().Increment()
	return nil
}

// PrepareStep validates a step request and returns the shift to apply.
// shift is the requested value; effective is shift modulo the pixel count.
func (p *Plane) PrepareStep(stepPercentage float64) (shift, effective int, err error) {
	if err := p.view.CheckWrite(sab.RegionScratch); err != nil {
		return 0, 0, err
	}
	if err := p.view.CheckWrite(sab.RegionPixels); err != nil {
		return 0, 0, err
	}
	shift = StepShift(stepPercentage)
	return shift, shift % p.layout.Pixels(), nil
}

// CommitStep records a finished step in the header and bumps the generation.
func (p *Plane) CommitStep(shift int) {
	n := uint32(p.layout.Pixels())
	progress := p.region.Header(sab.IDX_PROGRESS)
	p.region.SetHeader(sab.IDX_PROGRESS, uint32((uint64(progress)+uint64(shift))%uint64(n)))
	p.region.SetHeader(sab.IDX_LAST_SHIFT, uint32(shift))
	p.region.AddHeader(sab.IDX_TICKS, 1)
	p.region.Generation().Increment()
}

// Stats reads the shared header counters.
func (p *Plane) Stats() Stats {
	s := Stats{Width: int(p.layout.Width), Height: int(p.layout.Height)}
	if p.region.Released() {
		return s
	}
	s.Generation = p.region.Header(sab.IDX_GENERATION)
	s.Progress = p.region.Header(sab.IDX_PROGRESS)
	s.SeedGeneration = p.region.Header(sab.IDX_SEED_GENERATION)
	s.Ticks = p.region.Header(sab.IDX_TICKS)
	s.LastShift = p.region.Header(sab.IDX_LAST_SHIFT)
	return s
}

// Rotate moves every pixel k positions back along the curve, wrapping the
// first k around to the end, using the region's scratch section.
// k must be in [0, MAX_SHIFT] and below the pixel count.
func Rotate(r *sab.Region, k int) {
	n := r.Layout().Pixels()
	if k <= 0 || k >= n {
		return
	}
	for j := 0; j < k; j++ {
		r.StoreScratch(j, r.LoadPixelAt(r.CurveAt(j)))
	}
	lim := n - k
	for i := 0; i < lim; i++ {
		r.StorePixelAt(r.CurveAt(i), r.LoadPixelAt(r.CurveAt(i+k)))
	}
	for j := 0; j < k; j++ {
		r.StorePixelAt(r.CurveAt(lim+j), r.LoadScratch(j))
	}
}
