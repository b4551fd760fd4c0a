package utils

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLerp(t *testing.T) {
	anchors := []float64{1000, 400, 120, 33, 4}

	tests := []struct {
		pct  float64
		want float64
	}{
		{0, 1000},
		{25, 400},
		{50, 120},
		{75, 33},
		{100, 4},
		{12.5, 700},
		{-10, 1000},
		{250, 4},
		{math.NaN(), 1000},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Lerp(anchors, tt.pct), 1e-9, "pct %v", tt.pct)
	}

	assert.Zero(t, Lerp(nil, 50))
	assert.Equal(t, 7.0, Lerp([]float64{7}, 80))
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{
		"debug": DEBUG, "INFO": INFO, "": INFO, " warning ": WARN, "error": ERROR,
	} {
		got, err := ParseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLogLevel("loud")
	assert.Error(t, err)
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{Level: WARN, Component: "test", Output: &buf})

	logger.Info("hidden")
	logger.Named("painter").Warn("Frame dropped", Int("frame", 3))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "Frame dropped")
	assert.Contains(t, out, "test.painter")
	assert.Contains(t, out, `"frame": 3`)
}

func TestTimeoutErrors(t *testing.T) {
	err := WrapError(TimeoutError("waiting for ready"), "boot")
	assert.True(t, IsTimeout(err))
	assert.False(t, IsTimeout(errors.New("other")))
	assert.EqualError(t, WrapError(nil, "noop"), "noop")
}

func TestGracefulShutdownRunsInReverse(t *testing.T) {
	g := NewGracefulShutdown(time.Second, NopLogger())
	var order []string
	for _, name := range []string{"controller", "viewer", "control"} {
		name := name
		g.Register(name, func(context.Context) error {
			order = append(order, name)
			if name == "viewer" {
				return errors.New("still writing")
			}
			return nil
		})
	}

	err := g.Shutdown(context.Background())
	assert.Equal(t, []string{"control", "viewer", "controller"}, order)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "viewer")

	// Steps run once.
	assert.NoError(t, g.Shutdown(context.Background()))
	assert.Len(t, order, 3)
}

func TestGracefulShutdownTimeout(t *testing.T) {
	g := NewGracefulShutdown(20*time.Millisecond, NopLogger())
	ran := false
	g.Register("first", func(context.Context) error { ran = true; return nil })
	g.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	err := g.Shutdown(context.Background())
	assert.True(t, IsTimeout(err))
	assert.False(t, ran)
}

func TestShortID(t *testing.T) {
	id := GenerateID()
	assert.Len(t, id, 36)
	assert.Equal(t, id[:8], ShortID(id))
	assert.Equal(t, "abc", ShortID("abc"))
	assert.NotEqual(t, id, GenerateID())
}
