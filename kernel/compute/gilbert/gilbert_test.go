package gilbert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderIsPermutation(t *testing.T) {
	for _, dims := range [][2]int{{1, 1}, {1, 9}, {9, 1}, {2, 2}, {7, 5}, {10, 6}, {6, 10}, {33, 17}, {64, 64}} {
		w, h := dims[0], dims[1]
		order := Order(w, h)
		require.Len(t, order, w*h)

		seen := make([]bool, w*h)
		for i, idx := range order {
			require.Less(t, int(idx), w*h, "dims %v pos %d", dims, i)
			require.False(t, seen[idx], "dims %v: pixel %d visited twice", dims, idx)
			seen[idx] = true
		}
	}
}

func TestPowerOfTwoCurveIsContinuous(t *testing.T) {
	const w, h = 16, 16
	px, py := D2XY(0, w, h)
	assert.Equal(t, 0, px)
	assert.Equal(t, 0, py)

	for i := 1; i < w*h; i++ {
		x, y := D2XY(i, w, h)
		dist := abs(x-px) + abs(y-py)
		require.Equal(t, 1, dist, "step %d jumps from (%d,%d) to (%d,%d)", i, px, py, x, y)
		px, py = x, y
	}
}

func TestDegenerateRows(t *testing.T) {
	for i := 0; i < 5; i++ {
		x, y := D2XY(i, 5, 1)
		assert.Equal(t, i, x)
		assert.Equal(t, 0, y)

		x, y = D2XY(i, 1, 5)
		assert.Equal(t, 0, x)
		assert.Equal(t, i, y)
	}
}
