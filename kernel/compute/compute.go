// Package compute defines the transform module contract shared by the
// controller and the worker, and the plane logic every backend reuses.
package compute

import (
	"context"
	"errors"
	"math"

	"github.com/nmxmxh/gilbert_v1/kernel/threads/sab"
	"github.com/nmxmxh/gilbert_v1/kernel/utils"
)

var (
	ErrDimensionMismatch = errors.New("pixel data does not match region dimensions")
	ErrForeignHandle     = errors.New("handle was produced by a different backend")
	ErrClosed            = errors.New("binding is closed")
)

// Handle is what the controller hands the worker during the handshake:
// a reference to the compiled transform code plus the shared region.
// The worker never copies either.
type Handle struct {
	Backend string
	Module  any
	Region  *sab.Region
}

// Backend produces Bindings.
//
// Instantiate(ctx, nil) compiles the transform and allocates a new region
// (controller side). Instantiate(ctx, h) attaches to the code and region
// carried by h without allocating (worker side).
type Backend interface {
	Name() string
	Instantiate(ctx context.Context, h *Handle) (Binding, error)
}

// Binding is one side's live instance of the transform over the shared region.
type Binding interface {
	// Step advances every pixel along the curve by the shift derived from
	// stepPercentage and returns the shift applied.
	Step(stepPercentage float64) (int, error)
	// Sample copies the current pixel plane (RGBA, row-major) into dst,
	// growing it if needed. It returns an empty slice after release.
	Sample(dst []byte) []byte
	// Seed overwrites the pixel plane.
	Seed(pixels []byte, width, height int) error
	// Rebase resets progress without touching pixels.
	Rebase() error
	Dimensions() (width, height int)
	Stats() Stats
	Handle() *Handle
	Close() error
}

// Stats is a snapshot of the shared header counters.
type Stats struct {
	Width          int
	Height         int
	Generation     uint32
	Progress       uint32
	SeedGeneration uint32
	Ticks          uint32
	LastShift      uint32
}

// stepAnchors are the per-tick shifts at 0, 25, 50, 75 and 100 percent.
var stepAnchors = []float64{1, 16, 256, 1024, sab.MAX_SHIFT}

// StepShift maps a step percentage to the number of curve positions a
// single tick moves every pixel. The result is in [1, MAX_SHIFT].
func StepShift(stepPercentage float64) int {
	shift := int(math.Round(utils.Lerp(stepAnchors, stepPercentage)))
	switch {
	case shift < 1:
		return 1
	case shift > sab.MAX_SHIFT:
		return sab.MAX_SHIFT
	}
	return shift
}
