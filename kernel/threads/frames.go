package threads

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nmxmxh/gilbert_v1/kernel/utils"
)

// FrameHandle identifies a pending frame request.
type FrameHandle uint64

// FrameScheduler delivers one-shot callbacks on each display refresh,
// like a browser's animation-frame queue. Callbacks requested during a
// frame run on the next one.
type FrameScheduler struct {
	clock    clock.Clock
	interval time.Duration
	logger   *utils.Logger

	mu      sync.Mutex
	next    FrameHandle
	pending map[FrameHandle]func(time.Time)
	order   []FrameHandle
	frames  uint64

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewFrameScheduler creates a scheduler refreshing refreshHz times a second.
func NewFrameScheduler(clk clock.Clock, refreshHz float64, logger *utils.Logger) *FrameScheduler {
	if clk == nil {
		clk = clock.New()
	}
	if refreshHz <= 0 {
		refreshHz = 60
	}
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &FrameScheduler{
		clock:    clk,
		interval: time.Duration(float64(time.Second) / refreshHz),
		logger:   logger,
		pending:  make(map[FrameHandle]func(time.Time)),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Interval returns the refresh period.
func (f *FrameScheduler) Interval() time.Duration {
	return f.interval
}

// Start begins the refresh loop. Later calls are no-ops.
func (f *FrameScheduler) Start() {
	f.startOnce.Do(func() {
		go f.loop()
	})
}

// Stop ends the refresh loop and drops pending requests.
func (f *FrameScheduler) Stop() {
	f.stopOnce.Do(func() {
		close(f.stop)
	})
	f.startOnce.Do(func() { close(f.done) })
	<-f.done

	f.mu.Lock()
	f.pending = make(map[FrameHandle]func(time.Time))
	f.order = nil
	f.mu.Unlock()
}

// RequestFrame schedules cb for the next refresh.
func (f *FrameScheduler) RequestFrame(cb func(now time.Time)) FrameHandle {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.next++
	h := f.next
	f.pending[h] = cb
	f.order = append(f.order, h)
	return h
}

// CancelFrame withdraws a request that has not run yet.
func (f *FrameScheduler) CancelFrame(h FrameHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, h)
}

// Frames returns the number of refreshes so far.
func (f *FrameScheduler) Frames() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames
}

func (f *FrameScheduler) loop() {
	defer close(f.done)

	ticker := f.clock.Ticker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stop:
			return
		case now := <-ticker.C:
			f.runFrame(now)
		}
	}
}

// runFrame runs every callback pending at the start of the refresh.
func (f *FrameScheduler) runFrame(now time.Time) {
	f.mu.Lock()
	f.frames++
	order := f.order
	f.order = nil
	callbacks := make([]func(time.Time), 0, len(order))
	for _, h := range order {
		if cb, ok := f.pending[h]; ok {
			callbacks = append(callbacks, cb)
			delete(f.pending, h)
		}
	}
	f.mu.Unlock()

	for _, cb := range callbacks {
		f.invoke(cb, now)
	}
}

func (f *FrameScheduler) invoke(cb func(time.Time), now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("Frame callback panicked", utils.Any("panic", r))
		}
	}()
	cb(now)
}
