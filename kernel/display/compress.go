package display

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/nmxmxh/gilbert_v1/kernel/threads/protocol"
)

// Compress packs pixels with brotli at a speed-oriented level.
func Compress(pixels []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.BestSpeed)
	if _, err := w.Write(pixels); err != nil {
		return nil, fmt.Errorf("brotli: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("brotli: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("brotli: %w", err)
	}
	return out, nil
}

// ReadFrame decodes a viewer message into a frame with raw pixels.
func ReadFrame(msg []byte) (protocol.Frame, error) {
	f, err := protocol.DecodeFrame(msg)
	if err != nil {
		return protocol.Frame{}, err
	}
	if f.Encoding == protocol.FrameBrotli {
		pixels, err := Decompress(f.Pixels)
		if err != nil {
			return protocol.Frame{}, err
		}
		f.Pixels = pixels
		f.Encoding = protocol.FrameRaw
	}
	if len(f.Pixels) != f.Width*f.Height*4 {
		return protocol.Frame{}, fmt.Errorf("%w: %d pixel bytes for %dx%d",
			protocol.ErrMalformed, len(f.Pixels), f.Width, f.Height)
	}
	return f, nil
}
