// Package kernel is the controller side of the shifter: it runs the
// module handshake with the worker, forwards commands, owns the paint loop
// and performs the paired teardown.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/nmxmxh/gilbert_v1/kernel/compute"
	"github.com/nmxmxh/gilbert_v1/kernel/threads"
	"github.com/nmxmxh/gilbert_v1/kernel/threads/protocol"
	"github.com/nmxmxh/gilbert_v1/kernel/utils"
)

// ControllerState represents the lifecycle state of the controller
type ControllerState int32

const (
	StateUninitialized ControllerState = iota
	StateBooting
	StateWaitingForModule
	StateReady
	StateStopping
	StateStopped
	StateFailed
)

var stateNames = map[ControllerState]string{
	StateUninitialized:    "UNINITIALIZED",
	StateBooting:          "BOOTING",
	StateWaitingForModule: "WAITING_FOR_MODULE",
	StateReady:            "READY",
	StateStopping:         "STOPPING",
	StateStopped:          "STOPPED",
	StateFailed:           "FAILED",
}

func (s ControllerState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATE(%d)", int32(s))
}

var (
	ErrHandshakeFailed = errors.New("module handshake failed")
	// ErrNotReady rejects commands issued before the worker announced ready.
	ErrNotReady     = threads.ErrNotReady
	ErrInvalidState = errors.New("invalid controller state")
	ErrNoSurface    = threads.ErrNoSurface
	ErrBadSurface   = errors.New("canvasInit payload is not a surface")
	ErrPanic        = errors.New("controller panic")
)

// Option customises a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock driving ticks and frames.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithBackend replaces the backend chosen by Config.Backend.
func WithBackend(b compute.Backend) Option {
	return func(c *Controller) { c.backend = b }
}

func WithLogger(l *utils.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithEventHandler receives lifecycle events.
func WithEventHandler(h EventHandler) Option {
	return func(c *Controller) { c.events = h }
}

// Controller owns the allocating module binding, the worker goroutine and
// the paint loop.
type Controller struct {
	state  atomic.Int32
	config Config
	logger *utils.Logger
	clock  clock.Clock
	events EventHandler
	id     string

	backend compute.Backend
	binding compute.Binding
	mailbox *threads.Mailbox
	signals chan protocol.Signal
	worker  *threads.Worker
	frames  *threads.FrameScheduler
	painter *threads.Painter

	// painting is set between Start and Halt; a surface bound later starts
	// the painter immediately.
	painting atomic.Bool

	// Lifecycle
	startTime    time.Time
	ctx          context.Context
	cancel       context.CancelFunc
	teardownOnce sync.Once
	teardownErr  error
	shutdownOnce sync.Once
}

// NewController validates cfg and prepares an unbooted controller.
func NewController(cfg Config, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		config:  cfg,
		clock:   clock.New(),
		id:      utils.GenerateID(),
		mailbox: threads.NewMailbox(cfg.MailboxDepth),
		signals: make(chan protocol.Signal, 8),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = cfg.Logger("controller")
	}
	c.logger = c.logger.With(utils.String("session", utils.ShortID(c.id)))

	if c.backend == nil {
		b, err := newBackend(cfg, c.logger)
		if err != nil {
			return nil, err
		}
		c.backend = b
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.setState(StateUninitialized)
	return c, nil
}

// Boot runs the handshake: it starts the worker, instantiates the
// controller's own binding while waiting for the worker's loaded signal,
// hands the worker the module and waits for ready. A failed handshake is
// terminal.
func (c *Controller) Boot(ctx context.Context) (err error) {
	defer c.recoverPanic(&err)

	if !c.transitionState(StateUninitialized, StateBooting) {
		return fmt.Errorf("%w: boot from %s", ErrInvalidState, c.StateName())
	}
	c.startTime = c.clock.Now()

	c.logger.Info("Controller boot sequence",
		utils.String("backend", c.backend.Name()),
		utils.Int("width", c.config.Width),
		utils.Int("height", c.config.Height))

	hctx, cancel := context.WithTimeout(ctx, c.config.HandshakeTimeout)
	defer cancel()

	c.worker = threads.NewWorker(threads.WorkerConfig{
		Backend: c.backend,
		Mailbox: c.mailbox,
		Signals: c.signals,
		Clock:   c.clock,
		Params:  threads.ControlParameters{Speed: c.config.Speed, Step: c.config.Step},
		Logger:  c.logger.Named("worker"),
	})
	go c.runWorker()

	c.setState(StateWaitingForModule)
	c.notifyHost(EventWaitingForModule, map[string]any{"backend": c.backend.Name()})

	g, gctx := errgroup.WithContext(hctx)
	g.Go(func() error {
		return c.awaitSignal(gctx, protocol.SignalLoaded)
	})
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("instantiate controller module: panic: %v", r)
			}
		}()
		b, err := c.backend.Instantiate(gctx, nil)
		if err != nil {
			return utils.WrapError(err, "instantiate controller module")
		}
		c.binding = b
		return nil
	})
	if err := g.Wait(); err != nil {
		return c.fail(err)
	}

	if err := c.mailbox.Post(hctx, threads.Envelope{Kind: threads.KindHandshake, Handle: c.binding.Handle()}); err != nil {
		return c.fail(utils.WrapError(err, "send module handle"))
	}
	if err := c.awaitSignal(hctx, protocol.SignalReady); err != nil {
		return c.fail(err)
	}

	c.frames = threads.NewFrameScheduler(c.clock, c.config.RefreshHz, c.logger.Named("frames"))
	c.painter = threads.NewPainter(c.frames, c.binding, c.logger.Named("painter"))
	c.frames.Start()

	if !c.transitionState(StateWaitingForModule, StateReady) {
		return fmt.Errorf("%w: ready from %s", ErrInvalidState, c.StateName())
	}
	go c.watchWorker()

	c.logger.Info("Controller ready",
		utils.Duration("handshake", c.clock.Since(c.startTime)))
	c.notifyHost(EventReady, map[string]any{
		"backend": c.backend.Name(),
		"width":   c.config.Width,
		"height":  c.config.Height,
	})
	return nil
}

func (c *Controller) runWorker() {
	if err := c.worker.Run(c.ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("Worker exited with error", utils.Err(err))
	}
}

// awaitSignal blocks until the worker emits want. A failed or terminated
// worker ends the wait with an error.
func (c *Controller) awaitSignal(ctx context.Context, want protocol.SignalKind) error {
	for {
		select {
		case sig := <-c.signals:
			switch sig.Kind {
			case want:
				return nil
			case protocol.SignalFailed:
				return utils.WrapError(sig.Err, "worker instantiation")
			case protocol.SignalTerminated:
				return errors.New("worker exited during handshake")
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return utils.TimeoutError("waiting for " + want.String())
			}
			return ctx.Err()
		}
	}
}

// watchWorker reports a worker that exits while the controller is ready.
func (c *Controller) watchWorker() {
	select {
	case <-c.worker.Done():
		if c.State() == StateReady {
			c.logger.Error("Worker exited unexpectedly")
			c.notifyHost(EventWorkerExited, nil)
		}
	case <-c.ctx.Done():
	}
}

func (c *Controller) fail(cause error) error {
	c.setState(StateFailed)
	c.logger.Error("Module handshake failed", utils.Err(cause))

	ctx, cancel := context.WithTimeout(context.Background(), c.config.HandshakeTimeout)
	defer cancel()
	if err := c.teardown(ctx); err != nil {
		c.logger.Warn("Teardown after failed handshake", utils.Err(err))
	}

	c.notifyHost(EventFailed, map[string]any{"error": cause.Error()})
	return fmt.Errorf("%w: %w", ErrHandshakeFailed, cause)
}

// Send forwards cmd to the worker. canvasInit is applied here and never
// forwarded. Before ready it returns ErrNotReady; once the controller is
// shut down commands are dropped silently.
func (c *Controller) Send(ctx context.Context, cmd protocol.Command) error {
	switch c.State() {
	case StateReady:
	case StateStopping, StateStopped:
		c.logger.Debug("Command dropped after shutdown", utils.String("command", cmd.String()))
		return nil
	default:
		return fmt.Errorf("%w: %s in %s", ErrNotReady, cmd, c.StateName())
	}

	if cmd.Action == protocol.ActionCanvasInit {
		return c.bindSurface(cmd.Surface)
	}
	return c.mailbox.Post(ctx, threads.Envelope{Kind: threads.KindCommand, Command: cmd})
}

// Dispatch is Send for host input. A start also begins painting and a
// stop also ends it, so one call gives a full start or halt.
func (c *Controller) Dispatch(ctx context.Context, cmd protocol.Command) error {
	if err := c.Send(ctx, cmd); err != nil {
		return err
	}
	if c.State() != StateReady {
		return nil
	}
	switch cmd.Action {
	case protocol.ActionStart:
		return c.setPainting(true)
	case protocol.ActionStop:
		return c.setPainting(false)
	}
	return nil
}

// setPainting records whether frames are wanted. Without a bound surface
// painting begins on canvasInit.
func (c *Controller) setPainting(on bool) error {
	c.painting.Store(on)
	if !on {
		c.painter.Stop()
		return nil
	}
	if err := c.painter.Start(); err != nil && !errors.Is(err, threads.ErrNoSurface) {
		return err
	}
	return nil
}

// Dispatcher adapts Dispatch to the Send method remote surfaces call.
type Dispatcher struct {
	c *Controller
}

// Dispatcher returns the sink viewers and control links should feed.
func (c *Controller) Dispatcher() Dispatcher {
	return Dispatcher{c: c}
}

func (d Dispatcher) Send(ctx context.Context, cmd protocol.Command) error {
	return d.c.Dispatch(ctx, cmd)
}

func (c *Controller) bindSurface(v any) error {
	surface, ok := v.(threads.Surface)
	if !ok || surface == nil {
		return fmt.Errorf("%w: %T", ErrBadSurface, v)
	}
	c.painter.Bind(surface)
	if c.painting.Load() {
		return c.painter.Start()
	}
	return nil
}

// Flush returns once the worker has handled every command sent before it.
func (c *Controller) Flush(ctx context.Context) error {
	if c.worker == nil {
		return nil
	}
	done := make(chan struct{})
	if err := c.mailbox.Post(ctx, threads.Envelope{Kind: threads.KindFlush, Done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-c.mailbox.Closed():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start sends start and begins painting.
func (c *Controller) Start(ctx context.Context) error {
	return c.Dispatch(ctx, protocol.Start())
}

// Halt sends stop and stops painting.
func (c *Controller) Halt(ctx context.Context) error {
	return c.Dispatch(ctx, protocol.Stop())
}

// SeedImage writes RGBA pixels into the shared plane while the worker is
// parked on a writer lease, then has it treat them as the new seed. The
// worker never observes a partial seed.
func (c *Controller) SeedImage(ctx context.Context, pixels []byte) error {
	if c.State() != StateReady {
		return fmt.Errorf("%w: seed in %s", ErrNotReady, c.StateName())
	}

	lease := threads.NewLease()
	if err := c.mailbox.Post(ctx, threads.Envelope{Kind: threads.KindLease, Lease: lease}); err != nil {
		return err
	}

	select {
	case <-lease.Granted():
	case <-c.mailbox.Closed():
		return ErrNotReady
	case <-ctx.Done():
		// The worker may still grant; make it unpark straight away.
		lease.Release(false)
		return ctx.Err()
	}
	if err := lease.Err(); err != nil {
		return err
	}

	width, height := c.Dimensions()
	err := c.binding.Seed(pixels, width, height)
	lease.Release(err == nil)
	if err != nil {
		return utils.WrapError(err, "seed image")
	}
	c.logger.Debug("Image seeded", utils.Int("bytes", len(pixels)))
	return nil
}

// Dimensions is the fixed raster size.
func (c *Controller) Dimensions() (width, height int) {
	return c.config.Width, c.config.Height
}

// Binding is the controller's own module binding, nil before Boot.
func (c *Controller) Binding() compute.Binding {
	return c.binding
}

// Config returns the configuration the controller was built with.
func (c *Controller) Config() Config {
	return c.config
}

// ID identifies this controller session.
func (c *Controller) ID() string {
	return c.id
}

func (c *Controller) WorkerStats() threads.WorkerStats {
	if c.worker == nil {
		return threads.WorkerStats{}
	}
	return c.worker.Stats()
}

func (c *Controller) PainterStats() threads.PainterStats {
	if c.painter == nil {
		return threads.PainterStats{}
	}
	return c.painter.Stats()
}

// RegionStats reads the shared header counters.
func (c *Controller) RegionStats() compute.Stats {
	if c.binding == nil {
		return compute.Stats{}
	}
	return c.binding.Stats()
}

// Shutdown is the paired teardown: it stops painting, terminates the
// worker (which closes its binding), then closes the controller binding,
// releasing the region.
func (c *Controller) Shutdown(ctx context.Context) error {
	var err error
	c.shutdownOnce.Do(func() {
		if c.State() == StateFailed {
			// Failed stays failed; anything a panic left running is released.
			err = c.teardown(ctx)
			return
		}
		c.setState(StateStopping)
		c.logger.Info("Controller shutting down")

		err = c.teardown(ctx)

		c.setState(StateStopped)
		c.logger.Info("Controller stopped")
		c.notifyHost(EventShutdown, nil)
	})
	return err
}

func (c *Controller) teardown(ctx context.Context) error {
	c.teardownOnce.Do(func() {
		if c.painter != nil {
			c.painter.Stop()
		}
		if c.frames != nil {
			c.frames.Stop()
		}

		var errs []error
		if c.worker != nil {
			if err := c.mailbox.Post(ctx, threads.Envelope{Kind: threads.KindTerminate}); err != nil {
				c.cancel()
			}
			select {
			case <-c.worker.Done():
			case <-ctx.Done():
				c.cancel()
				<-c.worker.Done()
				errs = append(errs, utils.TimeoutError("worker terminate"))
			}
		}
		c.cancel()

		if c.binding != nil {
			if err := c.binding.Close(); err != nil {
				errs = append(errs, utils.WrapError(err, "close controller binding"))
			}
		}
		c.teardownErr = errors.Join(errs...)
	})
	return c.teardownErr
}

// State Management
func (c *Controller) State() ControllerState {
	return ControllerState(c.state.Load())
}

func (c *Controller) setState(s ControllerState) {
	c.state.Store(int32(s))
}

func (c *Controller) transitionState(from, to ControllerState) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

func (c *Controller) StateName() string {
	return c.State().String()
}
