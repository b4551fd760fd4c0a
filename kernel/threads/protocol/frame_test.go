package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameEnvelope(t *testing.T) {
	pixels := make([]byte, 2*3*4)
	for i := range pixels {
		pixels[i] = byte(i)
	}
	in := Frame{Sequence: 9, Width: 2, Height: 3, Generation: 41, Pixels: pixels}

	out, err := DecodeFrame(AppendFrame(nil, in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestFrameEnvelopeCompressedLengthIsFree(t *testing.T) {
	in := Frame{Sequence: 1, Width: 64, Height: 64, Encoding: FrameBrotli, Pixels: []byte{1, 2, 3}}

	out, err := DecodeFrame(AppendFrame(nil, in))
	require.NoError(t, err)
	assert.Equal(t, FrameBrotli, out.Encoding)
	assert.Equal(t, "brotli", out.Encoding.String())
}

func TestFrameEnvelopeRejectsShortPixels(t *testing.T) {
	_, err := DecodeFrame(AppendFrame(nil, Frame{Width: 4, Height: 4, Pixels: make([]byte, 10)}))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeFrame([]byte{0xFF})
	assert.ErrorIs(t, err, ErrMalformed)
}
