// Package testutil builds pixel fixtures and fake surfaces for tests.
package testutil

import (
	"bytes"
	"image"
	"image/png"
	"sync"
)

// PixelBuilder helps create RGBA test images with known content.
type PixelBuilder struct {
	width  int
	height int
	pix    []byte
}

// NewPixelBuilder creates a transparent width x height image.
func NewPixelBuilder(width, height int) *PixelBuilder {
	return &PixelBuilder{
		width:  width,
		height: height,
		pix:    make([]byte, width*height*4),
	}
}

// Fill paints every pixel c.
func (b *PixelBuilder) Fill(c [4]byte) *PixelBuilder {
	for i := 0; i < len(b.pix); i += 4 {
		copy(b.pix[i:i+4], c[:])
	}
	return b
}

// Set paints one pixel.
func (b *PixelBuilder) Set(x, y int, c [4]byte) *PixelBuilder {
	i := (y*b.width + x) * 4
	copy(b.pix[i:i+4], c[:])
	return b
}

// Unique gives every pixel a distinct opaque colour derived from its index.
func (b *PixelBuilder) Unique() *PixelBuilder {
	for i := 0; i < b.width*b.height; i++ {
		b.pix[i*4] = byte(i)
		b.pix[i*4+1] = byte(i >> 8)
		b.pix[i*4+2] = byte(i >> 16)
		b.pix[i*4+3] = 0xFF
	}
	return b
}

// Checker paints size x size squares alternating between c1 and c2.
func (b *PixelBuilder) Checker(size int, c1, c2 [4]byte) *PixelBuilder {
	for y := 0; y < b.height; y++ {
		for x := 0; x < b.width; x++ {
			c := c1
			if (x/size+y/size)%2 == 1 {
				c = c2
			}
			b.Set(x, y, c)
		}
	}
	return b
}

// Bytes returns a copy of the row-major RGBA pixels.
func (b *PixelBuilder) Bytes() []byte {
	return append([]byte(nil), b.pix...)
}

// Image returns the pixels as a non-premultiplied image.
func (b *PixelBuilder) Image() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, b.width, b.height))
	copy(img.Pix, b.pix)
	return img
}

// PNG encodes the image.
func (b *PixelBuilder) PNG() []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, b.Image()); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// RecordingSurface keeps a copy of every presented frame.
type RecordingSurface struct {
	mu     sync.Mutex
	frames [][]byte
	width  int
	height int
	Err    error
}

func (s *RecordingSurface) Present(pixels []byte, width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, append([]byte(nil), pixels...))
	s.width, s.height = width, height
	return s.Err
}

// Count returns the number of frames presented.
func (s *RecordingSurface) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// Last returns the most recent frame and its size.
func (s *RecordingSurface) Last() ([]byte, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil, 0, 0
	}
	return s.frames[len(s.frames)-1], s.width, s.height
}
