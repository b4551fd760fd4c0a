package sab

import (
	"fmt"
)

// Format lays out a fresh region over p for a width x height image.
// order lists pixel indices in traversal order and must be a permutation
// of [0, width*height). The pixel plane starts zeroed (transparent black).
func Format(p MemoryProvider, width, height int, order []uint32) (*Region, error) {
	layout, err := LayoutFor(width, height)
	if err != nil {
		return nil, err
	}
	if p.Size() < layout.Size {
		return nil, &LayoutError{
			Code:    "REGION_TOO_SMALL",
			Message: fmt.Sprintf("provider holds %d bytes, layout needs %d", p.Size(), layout.Size),
		}
	}
	if len(order) != layout.Pixels() {
		return nil, fmt.Errorf("curve has %d entries, want %d", len(order), layout.Pixels())
	}

	validator := NewSABValidator(layout)
	if err := validator.ValidateLayout(); err != nil {
		return nil, fmt.Errorf("invalid layout: %w", err)
	}

	data := p.Bytes()
	clear(data[:layout.Size])

	if err := writeCurve(p, layout, order); err != nil {
		return nil, fmt.Errorf("failed to write curve table: %w", err)
	}

	header := []struct {
		idx uint32
		val uint32
	}{
		{IDX_VERSION, REGION_VERSION},
		{IDX_WIDTH, layout.Width},
		{IDX_HEIGHT, layout.Height},
	}
	for _, h := range header {
		if err := p.AtomicStore32(OFFSET_HEADER+h.idx*4, h.val); err != nil {
			return nil, fmt.Errorf("failed to initialize header: %w", err)
		}
	}
	// Magic last: shm observers treat the region as valid only once it is set.
	if err := p.AtomicStore32(OFFSET_HEADER+IDX_MAGIC*4, REGION_MAGIC); err != nil {
		return nil, fmt.Errorf("failed to initialize header: %w", err)
	}

	return newRegion(p, layout, validator), nil
}

func writeCurve(p MemoryProvider, layout Layout, order []uint32) error {
	n := uint32(layout.Pixels())
	seen := make([]bool, n)
	for i, idx := range order {
		if idx >= n || seen[idx] {
			return fmt.Errorf("entry %d (%d) is not part of a permutation", i, idx)
		}
		seen[idx] = true
		if err := p.AtomicStore32(layout.CurveOffset+uint32(i)*4, idx*BYTES_PER_PIXEL); err != nil {
			return err
		}
	}
	return nil
}
