package threads

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/gilbert_v1/kernel/compute"
	"github.com/nmxmxh/gilbert_v1/kernel/compute/native"
	"github.com/nmxmxh/gilbert_v1/kernel/threads/testutil"
)

func paintFixture(t *testing.T) (*FrameScheduler, *Painter, compute.Binding, compute.Binding) {
	t.Helper()
	backend := native.New(native.Options{Width: 4, Height: 4})
	controller, err := backend.Instantiate(context.Background(), nil)
	require.NoError(t, err)
	worker, err := backend.Instantiate(context.Background(), controller.Handle())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = worker.Close()
		_ = controller.Close()
	})

	frames := NewFrameScheduler(clock.NewMock(), 60, nil)
	return frames, NewPainter(frames, controller, nil), controller, worker
}

func TestPainterRequiresSurface(t *testing.T) {
	_, painter, _, _ := paintFixture(t)
	assert.ErrorIs(t, painter.Start(), ErrNoSurface)
}

func TestPainterPresentsCurrentPixels(t *testing.T) {
	frames, painter, controller, worker := paintFixture(t)
	surface := &testutil.RecordingSurface{}
	painter.Bind(surface)

	seed := testutil.NewPixelBuilder(4, 4).Unique().Bytes()
	require.NoError(t, controller.Seed(seed, 4, 4))
	require.NoError(t, painter.Start())
	require.NoError(t, painter.Start())

	frames.runFrame(time.Now())
	require.Equal(t, 1, surface.Count())
	last, w, h := surface.Last()
	assert.Equal(t, seed, last)
	assert.Equal(t, 4, w)
	assert.Equal(t, 4, h)

	frames.runFrame(time.Now())
	assert.Equal(t, uint64(1), painter.Stats().Repeated)

	_, err := worker.Step(0)
	require.NoError(t, err)
	frames.runFrame(time.Now())
	last, _, _ = surface.Last()
	assert.Equal(t, controller.Sample(nil), last)
	assert.NotEqual(t, seed, last)

	stats := painter.Stats()
	assert.True(t, stats.Running)
	assert.Equal(t, uint64(3), stats.Frames)
	assert.Equal(t, uint64(1), stats.Repeated)
}

func TestPainterStopPreventsPresent(t *testing.T) {
	frames, painter, _, _ := paintFixture(t)
	surface := &testutil.RecordingSurface{}
	painter.Bind(surface)

	require.NoError(t, painter.Start())
	frames.runFrame(time.Now())
	painter.Stop()
	painter.Stop()
	frames.runFrame(time.Now())
	frames.runFrame(time.Now())

	assert.Equal(t, 1, surface.Count())
	assert.False(t, painter.Running())
}

func TestPainterCountsPresentErrors(t *testing.T) {
	frames, painter, _, _ := paintFixture(t)
	painter.Bind(&testutil.RecordingSurface{Err: errors.New("gone")})

	require.NoError(t, painter.Start())
	frames.runFrame(time.Now())
	frames.runFrame(time.Now())

	assert.Equal(t, uint64(2), painter.Stats().PresentErrors)
	assert.True(t, painter.Running())
}

func TestPainterSkipsReleasedRegion(t *testing.T) {
	frames, painter, controller, _ := paintFixture(t)
	surface := &testutil.RecordingSurface{}
	painter.Bind(surface)
	require.NoError(t, painter.Start())

	require.NoError(t, controller.Close())
	frames.runFrame(time.Now())
	assert.Zero(t, surface.Count())
}

func TestFrameSchedulerOrderAndCancel(t *testing.T) {
	frames := NewFrameScheduler(clock.NewMock(), 60, nil)

	var got []int
	frames.RequestFrame(func(time.Time) { got = append(got, 1) })
	h := frames.RequestFrame(func(time.Time) { got = append(got, 2) })
	frames.RequestFrame(func(time.Time) {
		got = append(got, 3)
		frames.RequestFrame(func(time.Time) { got = append(got, 4) })
	})
	frames.CancelFrame(h)

	frames.runFrame(time.Now())
	assert.Equal(t, []int{1, 3}, got)

	frames.runFrame(time.Now())
	assert.Equal(t, []int{1, 3, 4}, got)
}

func TestFrameSchedulerRecoversPanics(t *testing.T) {
	frames := NewFrameScheduler(clock.NewMock(), 60, nil)
	ran := false
	frames.RequestFrame(func(time.Time) { panic("boom") })
	frames.RequestFrame(func(time.Time) { ran = true })

	assert.NotPanics(t, func() { frames.runFrame(time.Now()) })
	assert.True(t, ran)
}

func TestFrameSchedulerTicksOnClock(t *testing.T) {
	mock := clock.NewMock()
	frames := NewFrameScheduler(mock, 50, nil)
	assert.Equal(t, 20*time.Millisecond, frames.Interval())

	frames.Start()
	defer frames.Stop()

	require.Eventually(t, func() bool {
		mock.Add(frames.Interval())
		return frames.Frames() >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFrameSchedulerStopWithoutStart(t *testing.T) {
	frames := NewFrameScheduler(nil, 0, nil)
	assert.NotPanics(t, frames.Stop)
}
