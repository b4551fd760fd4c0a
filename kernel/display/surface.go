// Package display holds the paint loop's concrete surfaces: in-memory
// capture, PNG snapshots, a websocket viewer, fan-out and a circuit
// breaker guard.
package display

import (
	"errors"
	"image"
	"sync"

	"github.com/nmxmxh/gilbert_v1/kernel/threads"
)

// Surface receives painted frames. Present must not retain pixels.
type Surface = threads.Surface

// SurfaceFunc adapts a function to Surface.
type SurfaceFunc func(pixels []byte, width, height int) error

func (f SurfaceFunc) Present(pixels []byte, width, height int) error {
	return f(pixels, width, height)
}

// Multi presents to every surface in order and joins their errors.
type Multi []Surface

func (m Multi) Present(pixels []byte, width, height int) error {
	var errs []error
	for _, s := range m {
		if err := s.Present(pixels, width, height); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Capture keeps a copy of the most recent frame.
type Capture struct {
	mu     sync.Mutex
	pixels []byte
	width  int
	height int
	frames uint64
}

func (c *Capture) Present(pixels []byte, width, height int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pixels = append(c.pixels[:0], pixels...)
	c.width, c.height = width, height
	c.frames++
	return nil
}

// Frames counts presents so far.
func (c *Capture) Frames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// Last returns a copy of the latest frame, or nil before the first.
func (c *Capture) Last() (pixels []byte, width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frames == 0 {
		return nil, 0, 0
	}
	return append([]byte(nil), c.pixels...), c.width, c.height
}

// Image returns the latest frame as an image, or nil before the first.
func (c *Capture) Image() *image.NRGBA {
	pixels, width, height := c.Last()
	if pixels == nil {
		return nil
	}
	return &image.NRGBA{Pix: pixels, Stride: width * 4, Rect: image.Rect(0, 0, width, height)}
}
