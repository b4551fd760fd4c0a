package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// FrameEncoding says how Frame.Pixels is packed.
type FrameEncoding uint64

const (
	FrameRaw FrameEncoding = iota
	FrameBrotli
)

func (e FrameEncoding) String() string {
	switch e {
	case FrameRaw:
		return "raw"
	case FrameBrotli:
		return "brotli"
	}
	return fmt.Sprintf("encoding(%d)", uint64(e))
}

// Frame is one painted image sent to remote viewers.
//
//	1: sequence   (varint)
//	2: width      (varint)
//	3: height     (varint)
//	4: generation (varint)
//	5: encoding   (varint)
//	6: pixels     (bytes, RGBA row-major after decoding)
type Frame struct {
	Sequence   uint64
	Width      int
	Height     int
	Generation uint32
	Encoding   FrameEncoding
	Pixels     []byte
}

const (
	frameSequence   protowire.Number = 1
	frameWidth      protowire.Number = 2
	frameHeight     protowire.Number = 3
	frameGeneration protowire.Number = 4
	frameEncoding   protowire.Number = 5
	framePixels     protowire.Number = 6
)

// AppendFrame appends the binary form of f to b.
func AppendFrame(b []byte, f Frame) []byte {
	b = protowire.AppendTag(b, frameSequence, protowire.VarintType)
	b = protowire.AppendVarint(b, f.Sequence)
	b = protowire.AppendTag(b, frameWidth, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Width))
	b = protowire.AppendTag(b, frameHeight, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Height))
	b = protowire.AppendTag(b, frameGeneration, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Generation))
	if f.Encoding != FrameRaw {
		b = protowire.AppendTag(b, frameEncoding, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.Encoding))
	}
	b = protowire.AppendTag(b, framePixels, protowire.BytesType)
	return protowire.AppendBytes(b, f.Pixels)
}

// DecodeFrame parses a frame. Pixels aliases b.
func DecodeFrame(b []byte) (Frame, error) {
	var f Frame
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		if num == framePixels && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Frame{}, fmt.Errorf("%w: pixels: %v", ErrMalformed, protowire.ParseError(n))
			}
			f.Pixels = v
			b = b[n:]
			continue
		}
		if typ != protowire.VarintType {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Frame{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return Frame{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case frameSequence:
			f.Sequence = v
		case frameWidth:
			f.Width = int(v)
		case frameHeight:
			f.Height = int(v)
		case frameGeneration:
			f.Generation = uint32(v)
		case frameEncoding:
			f.Encoding = FrameEncoding(v)
		}
	}

	if f.Width <= 0 || f.Height <= 0 {
		return Frame{}, fmt.Errorf("%w: frame is %dx%d", ErrMalformed, f.Width, f.Height)
	}
	if f.Encoding == FrameRaw && len(f.Pixels) != f.Width*f.Height*4 {
		return Frame{}, fmt.Errorf("%w: %d pixel bytes for %dx%d", ErrMalformed, len(f.Pixels), f.Width, f.Height)
	}
	return f, nil
}
