package threads

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/gilbert_v1/kernel/compute"
	"github.com/nmxmxh/gilbert_v1/kernel/compute/native"
	"github.com/nmxmxh/gilbert_v1/kernel/threads/protocol"
	"github.com/nmxmxh/gilbert_v1/kernel/threads/sab"
)

type harness struct {
	t          *testing.T
	ctx        context.Context
	mock       *clock.Mock
	mailbox    *Mailbox
	signals    chan protocol.Signal
	worker     *Worker
	backend    *native.Backend
	controller compute.Binding
}

func newHarness(t *testing.T, depth int) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	h := &harness{
		t:       t,
		ctx:     ctx,
		mock:    clock.NewMock(),
		mailbox: NewMailbox(depth),
		signals: make(chan protocol.Signal, 8),
		backend: native.New(native.Options{Width: 16, Height: 16}),
	}
	h.worker = NewWorker(WorkerConfig{
		Backend: h.backend,
		Mailbox: h.mailbox,
		Signals: h.signals,
		Clock:   h.mock,
		Params:  DefaultParameters(),
	})
	go func() { _ = h.worker.Run(ctx) }()
	h.expectSignal(protocol.SignalLoaded)

	controller, err := h.backend.Instantiate(ctx, nil)
	require.NoError(t, err)
	h.controller = controller

	t.Cleanup(func() {
		_ = h.mailbox.Post(context.Background(), Envelope{Kind: KindTerminate})
		select {
		case <-h.worker.Done():
		case <-time.After(2 * time.Second):
			t.Error("worker did not exit")
		}
		cancel()
		_ = controller.Close()
	})
	return h
}

// ready completes the handshake.
func ready(t *testing.T) *harness {
	h := newHarness(t, 16)
	h.post(Envelope{Kind: KindHandshake, Handle: h.controller.Handle()})
	h.expectSignal(protocol.SignalReady)
	return h
}

func (h *harness) post(env Envelope) {
	h.t.Helper()
	require.NoError(h.t, h.mailbox.Post(h.ctx, env))
}

func (h *harness) send(cmds ...protocol.Command) {
	h.t.Helper()
	for _, cmd := range cmds {
		h.post(Envelope{Kind: KindCommand, Command: cmd})
	}
}

func (h *harness) flush() {
	h.t.Helper()
	done := make(chan struct{})
	h.post(Envelope{Kind: KindFlush, Done: done})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		h.t.Fatal("flush timed out")
	}
}

// advance moves the clock one tick interval at a time.
func (h *harness) advance(ticks int) {
	h.t.Helper()
	for i := 0; i < ticks; i++ {
		h.mock.Add(h.worker.Stats().Interval)
		h.flush()
	}
}

func (h *harness) expectSignal(kind protocol.SignalKind) protocol.Signal {
	h.t.Helper()
	select {
	case sig := <-h.signals:
		require.Equal(h.t, kind, sig.Kind, "unexpected signal (err=%v)", sig.Err)
		return sig
	case <-time.After(2 * time.Second):
		h.t.Fatalf("no %s signal", kind)
	}
	return protocol.Signal{}
}

func TestWorkerHandshake(t *testing.T) {
	h := ready(t)

	stats := h.worker.Stats()
	assert.True(t, stats.Ready)
	assert.Equal(t, WorkerIdle, stats.State)
	assert.Equal(t, float64(50), stats.Speed)
}

func TestWorkerTicksWhileRunning(t *testing.T) {
	h := ready(t)

	h.send(protocol.Start())
	h.flush()
	h.advance(3)

	stats := h.worker.Stats()
	assert.Equal(t, WorkerRunning, stats.State)
	assert.Equal(t, uint64(3), stats.AutonomousTicks)
	assert.Equal(t, uint32(3), h.controller.Stats().Ticks)
}

func TestWorkerStartIsIdempotent(t *testing.T) {
	h := ready(t)

	h.send(protocol.Start(), protocol.Start(), protocol.Start())
	h.flush()
	h.advance(2)

	assert.Equal(t, uint64(2), h.worker.Stats().AutonomousTicks)
}

func TestWorkerStopHaltsTicks(t *testing.T) {
	h := ready(t)

	h.send(protocol.Start())
	h.flush()
	h.advance(2)

	h.send(protocol.Stop())
	h.flush()
	h.mock.Add(10 * time.Second)
	h.flush()

	stats := h.worker.Stats()
	assert.Equal(t, WorkerStopped, stats.State)
	assert.Equal(t, uint64(2), stats.AutonomousTicks)

	h.send(protocol.Start())
	h.flush()
	h.advance(1)
	assert.Equal(t, uint64(3), h.worker.Stats().AutonomousTicks)
}

func TestWorkerStopWhileIdleStaysIdle(t *testing.T) {
	h := ready(t)
	h.send(protocol.Stop())
	h.flush()
	assert.Equal(t, WorkerIdle, h.worker.Stats().State)
}

func TestWorkerManualStep(t *testing.T) {
	h := ready(t)

	h.send(protocol.Step(), protocol.Step())
	h.flush()

	stats := h.worker.Stats()
	assert.Equal(t, WorkerIdle, stats.State)
	assert.Equal(t, uint64(2), stats.ManualSteps)
	assert.Equal(t, uint64(0), stats.AutonomousTicks)
	assert.Equal(t, compute.StepShift(10), stats.LastShift)
}

func TestWorkerStepAfterStop(t *testing.T) {
	h := ready(t)

	h.send(protocol.Start())
	h.flush()
	h.advance(3)
	h.send(protocol.Stop())
	h.flush()

	h.send(protocol.Step(), protocol.Step(), protocol.Step(), protocol.Step())
	h.flush()
	h.mock.Add(10 * time.Second)
	h.flush()

	stats := h.worker.Stats()
	assert.Equal(t, WorkerStopped, stats.State)
	assert.Equal(t, uint64(3), stats.AutonomousTicks)
	assert.Equal(t, uint64(4), stats.ManualSteps)
	assert.Equal(t, uint64(7), stats.Ticks)
	assert.Equal(t, uint32(7), h.controller.Stats().Ticks)
}

func TestWorkerStepWhileRunning(t *testing.T) {
	h := ready(t)

	h.send(protocol.Start())
	h.flush()
	h.advance(2)

	h.send(protocol.Step(), protocol.Step())
	h.flush()
	h.advance(1)

	stats := h.worker.Stats()
	assert.Equal(t, WorkerRunning, stats.State)
	assert.Equal(t, uint64(3), stats.AutonomousTicks)
	assert.Equal(t, uint64(2), stats.ManualSteps)
	assert.Equal(t, uint64(5), stats.Ticks)
	assert.Equal(t, uint32(5), h.controller.Stats().Ticks)
}

func TestWorkerChangeSpeedReschedules(t *testing.T) {
	h := ready(t)

	h.send(protocol.Start())
	h.flush()
	slow := h.worker.Stats().Interval

	h.send(protocol.ChangeSpeed(100))
	h.flush()
	fast := h.worker.Stats().Interval
	require.Less(t, fast, slow)

	h.mock.Add(fast)
	h.flush()
	assert.Equal(t, uint64(1), h.worker.Stats().AutonomousTicks)
}

func TestWorkerChangeStepClamps(t *testing.T) {
	h := ready(t)

	h.send(protocol.ChangeStep(250), protocol.Step())
	h.flush()

	stats := h.worker.Stats()
	assert.Equal(t, float64(100), stats.Step)
	assert.Equal(t, sab.MAX_SHIFT, stats.LastShift)
}

func TestWorkerIgnoresUnknownCommands(t *testing.T) {
	h := ready(t)

	h.send(protocol.Command{Action: "rewind"}, protocol.CanvasInit(nil))
	h.flush()

	stats := h.worker.Stats()
	assert.Equal(t, uint64(2), stats.Ignored)
	assert.Equal(t, uint64(0), stats.Ticks)
}

func TestWorkerDropsCommandsBeforeHandshake(t *testing.T) {
	h := newHarness(t, 16)

	h.send(protocol.Start(), protocol.Step())
	h.flush()
	assert.Equal(t, uint64(2), h.worker.Stats().Ignored)

	h.post(Envelope{Kind: KindHandshake, Handle: h.controller.Handle()})
	h.expectSignal(protocol.SignalReady)
	assert.Equal(t, WorkerIdle, h.worker.Stats().State)
}

func TestWorkerHandshakeFailure(t *testing.T) {
	h := newHarness(t, 16)

	h.post(Envelope{Kind: KindHandshake, Handle: &compute.Handle{Backend: "wasm"}})
	sig := h.expectSignal(protocol.SignalFailed)
	assert.ErrorIs(t, sig.Err, compute.ErrForeignHandle)

	h.send(protocol.Start())
	h.flush()
	assert.False(t, h.worker.Stats().Ready)

	lease := NewLease()
	h.post(Envelope{Kind: KindLease, Lease: lease})
	<-lease.Granted()
	assert.ErrorIs(t, lease.Err(), ErrNotReady)
}

func TestWorkerDuplicateHandshakeIgnored(t *testing.T) {
	h := ready(t)
	h.post(Envelope{Kind: KindHandshake, Handle: h.controller.Handle()})
	h.flush()
	assert.Equal(t, uint64(1), h.worker.Stats().Ignored)
}

func TestWorkerLeaseParksTicks(t *testing.T) {
	h := ready(t)

	h.send(protocol.Start())
	h.flush()

	lease := NewLease()
	h.post(Envelope{Kind: KindLease, Lease: lease})
	<-lease.Granted()
	require.NoError(t, lease.Err())

	// The tick falls due while the lease is held but cannot run.
	h.mock.Add(h.worker.Stats().Interval)
	require.NoError(t, h.controller.Seed(make([]byte, 16*16*4), 16, 16))
	assert.Equal(t, uint32(0), h.controller.Stats().Ticks)

	lease.Release(true)
	h.flush()

	stats := h.worker.Stats()
	assert.Equal(t, uint64(1), stats.Rebases)
	assert.Equal(t, uint64(1), stats.AutonomousTicks)
	assert.Equal(t, uint32(1), h.controller.Stats().SeedGeneration)
}

func TestWorkerLoadImageResetsProgress(t *testing.T) {
	h := ready(t)

	h.send(protocol.Step(), protocol.Step())
	h.flush()
	require.NotZero(t, h.controller.Stats().Progress)

	h.send(protocol.LoadImage())
	h.flush()
	assert.Zero(t, h.controller.Stats().Progress)
}

func TestWorkerTerminate(t *testing.T) {
	h := ready(t)

	h.post(Envelope{Kind: KindTerminate})
	<-h.worker.Done()
	h.expectSignal(protocol.SignalTerminated)

	// Posting after exit is dropped, never blocks.
	require.NoError(t, h.mailbox.Post(context.Background(), Envelope{Kind: KindCommand, Command: protocol.Start()}))
	assert.GreaterOrEqual(t, h.mailbox.Dropped(), uint64(1))
}

func TestMailboxBackpressure(t *testing.T) {
	h := newHarness(t, 1)
	h.post(Envelope{Kind: KindHandshake, Handle: h.controller.Handle()})
	h.expectSignal(protocol.SignalReady)

	lease := NewLease()
	h.post(Envelope{Kind: KindLease, Lease: lease})
	<-lease.Granted()

	// Worker is parked: one slot fills, the next post blocks until ctx ends.
	h.send(protocol.Step())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.mailbox.Post(ctx, Envelope{Kind: KindCommand, Command: protocol.Step()})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	lease.Release(false)
	h.flush()
	assert.Equal(t, uint64(1), h.worker.Stats().ManualSteps)
}
