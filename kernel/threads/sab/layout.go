package sab

import "fmt"

// Region Memory Layout Constants
//
// One region is shared by the controller and the worker:
//
//	[header 64B][curve table n x u32][pixel plane n x u32][scratch MAX_SHIFT x u32]
//
// Every section is 4-byte aligned and every shared word is accessed atomically.
const (
	REGION_MAGIC   = 0x424C4947 // "GILB" little-endian
	REGION_VERSION = 1

	// ========== HEADER (0x000 - 0x040) ==========
	OFFSET_HEADER = 0x000000
	SIZE_HEADER   = 0x000040 // 64 bytes - 16 x u32

	// Header word indices
	IDX_MAGIC           = 0
	IDX_VERSION         = 1
	IDX_WIDTH           = 2
	IDX_HEIGHT          = 3
	IDX_GENERATION      = 4 // bumped after every change to the pixel plane
	IDX_PROGRESS        = 5 // accumulated shift modulo pixel count since the last seed
	IDX_SEED_GENERATION = 6 // bumped on every seed/rebase
	IDX_TICKS           = 7 // steps applied since format
	IDX_LAST_SHIFT      = 8
	HEADER_WORDS        = SIZE_HEADER / 4

	// ========== CURVE TABLE (0x040 - ) ==========
	// Entry i holds the byte offset, relative to the pixel plane, of the
	// i-th pixel along the Gilbert curve.
	OFFSET_CURVE = SIZE_HEADER

	BYTES_PER_PIXEL = 4

	// ========== SCRATCH ==========
	// Holds the pixels that wrap around the end of the curve during a step.
	MAX_SHIFT    = 4096
	SIZE_SCRATCH = MAX_SHIFT * 4

	MAX_DIMENSION  = 4096
	DEFAULT_WIDTH  = 512
	DEFAULT_HEIGHT = 512

	WASM_PAGE_SIZE = 0x10000 // 64KB
)

// MemoryRegion names one section of the region.
type MemoryRegion struct {
	Name    string
	Offset  uint32
	Size    uint32
	Purpose string
}

// Layout holds the derived offsets for a width x height region.
type Layout struct {
	Width         uint32
	Height        uint32
	CurveOffset   uint32
	PixelOffset   uint32
	ScratchOffset uint32
	Size          uint32
}

// LayoutFor computes the region layout for the given image dimensions.
func LayoutFor(width, height int) (Layout, error) {
	if width <= 0 || height <= 0 {
		return Layout{}, &LayoutError{
			Code:    "INVALID_DIMENSIONS",
			Message: fmt.Sprintf("dimensions %dx%d must be positive", width, height),
		}
	}
	if width > MAX_DIMENSION || height > MAX_DIMENSION {
		return Layout{}, &LayoutError{
			Code:    "REGION_TOO_LARGE",
			Message: fmt.Sprintf("dimensions %dx%d exceed %d", width, height, MAX_DIMENSION),
		}
	}

	n := uint32(width) * uint32(height)
	curve := uint32(OFFSET_CURVE)
	pixels := AlignOffset(curve+n*4, 4)
	scratch := AlignOffset(pixels+n*BYTES_PER_PIXEL, 4)

	return Layout{
		Width:         uint32(width),
		Height:        uint32(height),
		CurveOffset:   curve,
		PixelOffset:   pixels,
		ScratchOffset: scratch,
		Size:          scratch + SIZE_SCRATCH,
	}, nil
}

// Pixels returns the pixel count.
func (l Layout) Pixels() int {
	return int(l.Width) * int(l.Height)
}

// PixelBytes returns the size of the pixel plane in bytes.
func (l Layout) PixelBytes() int {
	return l.Pixels() * BYTES_PER_PIXEL
}

// WasmPages returns the number of 64KB pages needed to hold the region.
func (l Layout) WasmPages() uint32 {
	return (l.Size + WASM_PAGE_SIZE - 1) / WASM_PAGE_SIZE
}

// Regions returns every section of the layout in address order.
func (l Layout) Regions() []MemoryRegion {
	n := uint32(l.Pixels())
	return []MemoryRegion{
		{Name: "Header", Offset: OFFSET_HEADER, Size: SIZE_HEADER, Purpose: "Magic, dimensions and progress counters"},
		{Name: "Curve", Offset: l.CurveOffset, Size: n * 4, Purpose: "Gilbert curve traversal order"},
		{Name: "Pixels", Offset: l.PixelOffset, Size: n * BYTES_PER_PIXEL, Purpose: "RGBA pixel plane"},
		{Name: "Scratch", Offset: l.ScratchOffset, Size: SIZE_SCRATCH, Purpose: "Wrap-around buffer for one step"},
	}
}

// LayoutError represents a memory layout error
type LayoutError struct {
	Code    string
	Message string
}

func (e *LayoutError) Error() string {
	return e.Code + ": " + e.Message
}

// AlignOffset aligns an offset to the specified alignment
func AlignOffset(offset, alignment uint32) uint32 {
	return (offset + alignment - 1) & ^(alignment - 1)
}
