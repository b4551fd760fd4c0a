package threads

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickIntervalAnchors(t *testing.T) {
	assert.Equal(t, time.Second, TickInterval(0))
	assert.Equal(t, 120*time.Millisecond, TickInterval(50))
	assert.Equal(t, 4*time.Millisecond, TickInterval(100))
}

func TestTickIntervalIsMonotonic(t *testing.T) {
	prev := time.Duration(math.MaxInt64)
	for p := 0.0; p <= 100; p += 0.25 {
		d := TickInterval(p)
		require.LessOrEqual(t, d, prev, "p=%v", p)
		require.GreaterOrEqual(t, d, MinTickInterval)
		prev = d
	}
}

func TestTickIntervalClampsInput(t *testing.T) {
	assert.Equal(t, TickInterval(0), TickInterval(-5))
	assert.Equal(t, TickInterval(0), TickInterval(math.NaN()))
	assert.Equal(t, TickInterval(100), TickInterval(1e9))
}
