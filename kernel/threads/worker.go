package threads

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nmxmxh/gilbert_v1/kernel/compute"
	"github.com/nmxmxh/gilbert_v1/kernel/threads/protocol"
	"github.com/nmxmxh/gilbert_v1/kernel/threads/sab"
	"github.com/nmxmxh/gilbert_v1/kernel/utils"
)

// WorkerState is the tick loop's run state.
type WorkerState int32

const (
	WorkerIdle WorkerState = iota
	WorkerRunning
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerRunning:
		return "running"
	case WorkerStopped:
		return "stopped"
	}
	return "unknown"
}

type phase int

const (
	phaseAwaitingModule phase = iota
	phaseOperational
	phaseFailed
)

// WorkerConfig wires a worker to its controller.
type WorkerConfig struct {
	Backend compute.Backend
	Mailbox *Mailbox
	// Signals must be buffered; the worker never blocks on it.
	Signals chan<- protocol.Signal
	Clock   clock.Clock
	Params  ControlParameters
	Logger  *utils.Logger
}

// WorkerStats is a point-in-time snapshot.
type WorkerStats struct {
	State           WorkerState
	Ready           bool
	Ticks           uint64
	AutonomousTicks uint64
	ManualSteps     uint64
	Failures        uint64
	Ignored         uint64
	Rebases         uint64
	LastShift       int
	Speed           float64
	Step            float64
	Interval        time.Duration
}

// Worker owns the tick loop. Everything it does happens on the goroutine
// running Run, so a tick never overlaps another tick or a pixel upload.
type Worker struct {
	backend compute.Backend
	mailbox *Mailbox
	signals chan<- protocol.Signal
	clock   clock.Clock
	logger  *utils.Logger

	// Loop-owned.
	phase    phase
	handlers map[phase]func(ctx context.Context, env Envelope)
	binding  compute.Binding
	params   ControlParameters
	timer    *clock.Timer
	timerC   <-chan time.Time

	// Published for Stats.
	state      atomic.Int32
	ready      atomic.Bool
	speedBits  atomic.Uint64
	stepBits   atomic.Uint64
	ticks      atomic.Uint64
	autonomous atomic.Uint64
	manual     atomic.Uint64
	failures   atomic.Uint64
	ignored    atomic.Uint64
	rebases    atomic.Uint64
	lastShift  atomic.Int64

	done chan struct{}
}

// NewWorker creates a worker. Call Run on its own goroutine.
func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = utils.NopLogger()
	}

	w := &Worker{
		backend: cfg.Backend,
		mailbox: cfg.Mailbox,
		signals: cfg.Signals,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		done:    make(chan struct{}),
	}
	w.handlers = map[phase]func(context.Context, Envelope){
		phaseAwaitingModule: w.handleAwaitingModule,
		phaseOperational:    w.handleOperational,
		phaseFailed:         w.handleFailed,
	}
	w.setParams(cfg.Params.clamped())
	w.state.Store(int32(WorkerIdle))
	return w
}

// Done closes when Run has returned and the binding is closed.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Run is the worker loop. It announces SignalLoaded, waits for the
// handshake, then serves commands and ticks until terminated or ctx ends.
func (w *Worker) Run(ctx context.Context) (err error) {
	defer close(w.done)
	defer w.teardown()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
			w.logger.Error("Worker panic recovered",
				utils.Any("panic", r),
				utils.String("stack", string(debug.Stack())),
			)
		}
	}()

	w.emit(protocol.Signal{Kind: protocol.SignalLoaded})
	w.logger.Debug("Worker loaded, awaiting module")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-w.mailbox.Receive():
			if env.Kind == KindTerminate {
				return nil
			}
			w.handlers[w.phase](ctx, env)
		case <-w.timerC:
			w.onTimer()
		}
	}
}

// Stats returns a snapshot safe to call from any goroutine.
func (w *Worker) Stats() WorkerStats {
	speed := math.Float64frombits(w.speedBits.Load())
	return WorkerStats{
		State:           WorkerState(w.state.Load()),
		Ready:           w.ready.Load(),
		Ticks:           w.ticks.Load(),
		AutonomousTicks: w.autonomous.Load(),
		ManualSteps:     w.manual.Load(),
		Failures:        w.failures.Load(),
		Ignored:         w.ignored.Load(),
		Rebases:         w.rebases.Load(),
		LastShift:       int(w.lastShift.Load()),
		Speed:           speed,
		Step:            math.Float64frombits(w.stepBits.Load()),
		Interval:        TickInterval(speed),
	}
}

func (w *Worker) handleAwaitingModule(ctx context.Context, env Envelope) {
	switch env.Kind {
	case KindHandshake:
		w.attach(ctx, env.Handle)
	case KindFlush:
		close(env.Done)
	case KindLease:
		env.Lease.grant(ErrNotReady)
	default:
		w.ignored.Add(1)
		w.logger.Warn("Dropped command received before the module", utils.String("command", env.Command.String()))
	}
}

func (w *Worker) handleOperational(ctx context.Context, env Envelope) {
	switch env.Kind {
	case KindCommand:
		w.dispatch(env.Command)
	case KindLease:
		w.holdLease(ctx, env.Lease)
	case KindFlush:
		w.drainTimer()
		close(env.Done)
	case KindHandshake:
		w.ignored.Add(1)
		w.logger.Warn("Duplicate handshake ignored")
	}
}

func (w *Worker) handleFailed(_ context.Context, env Envelope) {
	switch env.Kind {
	case KindFlush:
		close(env.Done)
	case KindLease:
		env.Lease.grant(ErrNotReady)
	default:
		w.ignored.Add(1)
	}
}

func (w *Worker) attach(ctx context.Context, h *compute.Handle) {
	if h == nil {
		w.fail(errors.New("handshake carried no handle"))
		return
	}
	binding, err := w.backend.Instantiate(ctx, h)
	if err != nil {
		w.fail(err)
		return
	}

	w.binding = binding
	w.phase = phaseOperational
	w.ready.Store(true)
	width, height := binding.Dimensions()
	w.logger.Info("Worker ready",
		utils.String("backend", h.Backend),
		utils.Int("width", width),
		utils.Int("height", height),
	)
	w.emit(protocol.Signal{Kind: protocol.SignalReady})
}

func (w *Worker) fail(err error) {
	w.phase = phaseFailed
	w.logger.Error("Worker failed to attach module", utils.Err(err))
	w.emit(protocol.Signal{Kind: protocol.SignalFailed, Err: err})
}

func (w *Worker) dispatch(cmd protocol.Command) {
	switch cmd.Action {
	case protocol.ActionStart:
		w.start()
	case protocol.ActionStop:
		w.stop()
	case protocol.ActionStep:
		shift, err := w.binding.Step(w.params.Step)
		w.record(shift, err, false)
	case protocol.ActionChangeSpeed:
		w.params.Speed = utils.ClampPercentage(cmd.Speed)
		w.setParams(w.params)
		if w.runState() == WorkerRunning {
			w.cancelTimer()
			w.schedule()
		}
	case protocol.ActionChangeStep:
		w.params.Step = utils.ClampPercentage(cmd.Step)
		w.setParams(w.params)
	case protocol.ActionLoadImage:
		w.rebase()
	default:
		w.ignored.Add(1)
		w.logger.Debug("Unknown command ignored", utils.String("action", string(cmd.Action)))
	}
}

func (w *Worker) start() {
	if w.runState() == WorkerRunning {
		return
	}
	w.state.Store(int32(WorkerRunning))
	w.schedule()
	w.logger.Debug("Tick loop started", utils.Duration("interval", TickInterval(w.params.Speed)))
}

func (w *Worker) stop() {
	if w.runState() != WorkerRunning {
		return
	}
	w.state.Store(int32(WorkerStopped))
	w.cancelTimer()
	w.logger.Debug("Tick loop stopped")
}

func (w *Worker) rebase() {
	if err := w.binding.Rebase(); err != nil {
		w.failures.Add(1)
		w.logger.Warn("Rebase failed", utils.Err(err))
		return
	}
	w.rebases.Add(1)
}

// holdLease parks the loop until the controller releases the lease.
func (w *Worker) holdLease(ctx context.Context, lease *Lease) {
	lease.grant(nil)
	select {
	case loadImage := <-lease.release:
		if loadImage {
			w.rebase()
		}
	case <-ctx.Done():
	}
}

func (w *Worker) onTimer() {
	w.timer = nil
	w.timerC = nil
	if w.runState() != WorkerRunning {
		return
	}
	shift, err := w.binding.Step(w.params.Step)
	w.schedule()
	w.record(shift, err, true)
}

// drainTimer handles a timer that fired but was not yet received, so a
// flush observes every tick that was due when it was posted.
func (w *Worker) drainTimer() {
	if w.timerC == nil {
		return
	}
	select {
	case <-w.timerC:
		w.onTimer()
	default:
	}
}

func (w *Worker) record(shift int, err error, autonomous bool) {
	if err != nil {
		w.failures.Add(1)
		w.logger.Warn("Tick failed", utils.Err(err), utils.Bool("autonomous", autonomous))
		if errors.Is(err, sab.ErrReleased) || errors.Is(err, compute.ErrClosed) {
			w.state.Store(int32(WorkerStopped))
			w.cancelTimer()
		}
		return
	}
	w.ticks.Add(1)
	if autonomous {
		w.autonomous.Add(1)
	} else {
		w.manual.Add(1)
	}
	w.lastShift.Store(int64(shift))
}

func (w *Worker) schedule() {
	w.timer = w.clock.Timer(TickInterval(w.params.Speed))
	w.timerC = w.timer.C
}

func (w *Worker) cancelTimer() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.timerC = nil
}

func (w *Worker) runState() WorkerState {
	return WorkerState(w.state.Load())
}

func (w *Worker) setParams(p ControlParameters) {
	w.params = p
	w.speedBits.Store(math.Float64bits(p.Speed))
	w.stepBits.Store(math.Float64bits(p.Step))
}

func (w *Worker) emit(sig protocol.Signal) {
	select {
	case w.signals <- sig:
	default:
		w.logger.Warn("Signal dropped", utils.String("signal", sig.Kind.String()))
	}
}

func (w *Worker) teardown() {
	w.cancelTimer()
	w.mailbox.Close()
	if w.binding != nil {
		if err := w.binding.Close(); err != nil {
			w.logger.Warn("Failed to close worker binding", utils.Err(err))
		}
	}
	w.ready.Store(false)
	if w.runState() == WorkerRunning {
		w.state.Store(int32(WorkerStopped))
	}
	w.emit(protocol.Signal{Kind: protocol.SignalTerminated})
	w.logger.Debug("Worker terminated")
}
