// Package ingest turns user image bytes into a seed for the shared pixel
// plane: decode, scale to the fixed raster, convert to RGBA, upload.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// I/O errors.
var (
	ErrEmptyData         = errors.New("ingest: empty image data")
	ErrUnsupportedFormat = errors.New("ingest: unsupported image format")
)

// Target receives the seed. The controller implements it; SeedImage must
// write the whole plane before the worker sees loadImage.
type Target interface {
	Dimensions() (width, height int)
	SeedImage(ctx context.Context, pixels []byte) error
}

// Result describes an ingested image.
type Result struct {
	Format string
	Source image.Point
	Width  int
	Height int
}

// Decode decodes PNG, JPEG, GIF, BMP, TIFF or WebP.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if errors.Is(err, image.ErrFormat) {
		return nil, "", ErrUnsupportedFormat
	}
	if err != nil {
		return nil, "", fmt.Errorf("ingest: decode: %w", err)
	}
	return img, format, nil
}

// Raster scales img to width x height with Catmull-Rom resampling and
// returns row-major non-premultiplied RGBA bytes.
func Raster(img image.Image, width, height int) []byte {
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	if img.Bounds().Dx() == width && img.Bounds().Dy() == height {
		xdraw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, xdraw.Src)
	} else {
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	}
	return dst.Pix
}

// Load decodes r, fits it to the target raster and seeds the target.
// Nothing is written when decoding fails.
func Load(ctx context.Context, t Target, r io.Reader) (Result, error) {
	img, format, err := Decode(r)
	if err != nil {
		return Result{}, err
	}
	width, height := t.Dimensions()
	pixels := Raster(img, width, height)

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := t.SeedImage(ctx, pixels); err != nil {
		return Result{}, fmt.Errorf("ingest: seed: %w", err)
	}
	return Result{
		Format: format,
		Source: img.Bounds().Size(),
		Width:  width,
		Height: height,
	}, nil
}

// LoadBytes is Load over an in-memory image.
func LoadBytes(ctx context.Context, t Target, data []byte) (Result, error) {
	if len(data) == 0 {
		return Result{}, ErrEmptyData
	}
	return Load(ctx, t, bytes.NewReader(data))
}

// LoadFile is Load over a file.
func LoadFile(ctx context.Context, t Target, path string) (Result, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return Result{}, fmt.Errorf("ingest: open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Load(ctx, t, f)
}
