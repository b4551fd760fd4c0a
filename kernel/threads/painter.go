package threads

import (
	"errors"
	"sync"
	"time"

	"github.com/nmxmxh/gilbert_v1/kernel/compute"
	"github.com/nmxmxh/gilbert_v1/kernel/threads/foundation"
	"github.com/nmxmxh/gilbert_v1/kernel/utils"
)

var ErrNoSurface = errors.New("no surface bound")

// Surface receives frames. Present must not retain pixels after returning.
type Surface interface {
	Present(pixels []byte, width, height int) error
}

// PainterStats is a point-in-time snapshot.
type PainterStats struct {
	Running       bool
	Frames        uint64
	Repeated      uint64
	PresentErrors uint64
	Generation    uint32
}

// Painter samples the shared pixel plane once per display refresh and
// presents it. It only reads; it never waits for the worker.
type Painter struct {
	frames  *FrameScheduler
	binding compute.Binding
	logger  *utils.Logger

	mu       sync.Mutex
	surface  Surface
	running  bool
	handle   FrameHandle
	scratch  []byte
	epoch    *foundation.EnhancedEpoch
	stats    PainterStats
	lastWarn time.Time
}

// NewPainter creates a stopped painter.
func NewPainter(frames *FrameScheduler, binding compute.Binding, logger *utils.Logger) *Painter {
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &Painter{
		frames:  frames,
		binding: binding,
		logger:  logger,
		epoch:   binding.Handle().Region.Generation().Reader(),
	}
}

// Bind sets the surface. A running painter switches on the next frame.
func (p *Painter) Bind(s Surface) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.surface = s
}

// Start requests the first frame. Starting a running painter is a no-op.
func (p *Painter) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.surface == nil {
		return ErrNoSurface
	}
	if p.running {
		return nil
	}
	p.running = true
	p.handle = p.frames.RequestFrame(p.paint)
	return nil
}

// Stop cancels the pending frame. No present happens after Stop returns.
func (p *Painter) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.running = false
	p.frames.CancelFrame(p.handle)
	p.handle = 0
}

// Running reports whether frames are being requested.
func (p *Painter) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stats returns a snapshot.
func (p *Painter) Stats() PainterStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Running = p.running
	return s
}

func (p *Painter) paint(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	// Re-request first so a slow present never skips a refresh slot.
	p.handle = p.frames.RequestFrame(p.paint)

	// Sample first: an empty result means the region is gone.
	p.scratch = p.binding.Sample(p.scratch)
	if len(p.scratch) == 0 {
		return
	}
	width, height := p.binding.Dimensions()

	generation, changed := p.epoch.Observe()
	if !changed && p.stats.Frames > 0 {
		p.stats.Repeated++
	}

	p.stats.Frames++
	p.stats.Generation = generation
	if err := p.surface.Present(p.scratch, width, height); err != nil {
		p.stats.PresentErrors++
		if now.Sub(p.lastWarn) > time.Second {
			p.lastWarn = now
			p.logger.Warn("Present failed", utils.Err(err))
		}
	}
}
