// Package native runs the pixel-shift transform as plain Go over the
// shared region.
package native

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/nmxmxh/gilbert_v1/kernel/compute"
	"github.com/nmxmxh/gilbert_v1/kernel/compute/gilbert"
	"github.com/nmxmxh/gilbert_v1/kernel/threads/sab"
	"github.com/nmxmxh/gilbert_v1/kernel/utils"
)

const Name = "native"

// Memory kinds for the controller-allocated region.
const (
	MemoryHeap = "heap"
	MemoryShm  = "shm"
)

// Program identifies the compiled code carried in a native Handle.
type Program struct {
	Name    string
	Version int
}

var shiftProgram = &Program{Name: "gilbert-shift", Version: 1}

// Options configures the backend.
type Options struct {
	Width   int
	Height  int
	Memory  string
	ShmPath string
	Logger  *utils.Logger
}

// Backend instantiates native bindings.
type Backend struct {
	opts   Options
	logger *utils.Logger
}

// New creates a native backend.
func New(opts Options) *Backend {
	if opts.Memory == "" {
		opts.Memory = MemoryHeap
	}
	if opts.Logger == nil {
		opts.Logger = utils.NopLogger()
	}
	return &Backend{opts: opts, logger: opts.Logger.Named("native")}
}

func (b *Backend) Name() string {
	return Name
}

// Instantiate allocates a region when h is nil and attaches to h otherwise.
func (b *Backend) Instantiate(ctx context.Context, h *compute.Handle) (compute.Binding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h == nil {
		return b.allocate()
	}
	if h.Backend != Name {
		return nil, fmt.Errorf("%w: %q", compute.ErrForeignHandle, h.Backend)
	}
	if _, ok := h.Module.(*Program); !ok {
		return nil, fmt.Errorf("%w: module is %T", compute.ErrForeignHandle, h.Module)
	}
	if h.Region == nil || h.Region.Released() {
		return nil, sab.ErrReleased
	}
	b.logger.Debug("Attached to shared region", utils.Uint32("size", h.Region.Layout().Size))
	return newBinding(h, sab.RegionOwnerWorker), nil
}

func (b *Backend) allocate() (compute.Binding, error) {
	layout, err := sab.LayoutFor(b.opts.Width, b.opts.Height)
	if err != nil {
		return nil, err
	}

	provider, err := b.provider(layout.Size)
	if err != nil {
		return nil, err
	}

	region, err := sab.Format(provider, b.opts.Width, b.opts.Height, gilbert.Order(b.opts.Width, b.opts.Height))
	if err != nil {
		_ = provider.Close()
		return nil, utils.WrapError(err, "format region")
	}

	b.logger.Info("Region allocated",
		utils.String("memory", b.opts.Memory),
		utils.Int("width", b.opts.Width),
		utils.Int("height", b.opts.Height),
		utils.Uint32("bytes", layout.Size),
	)
	b.logger.Debug("Region memory map\n" + region.Validator().MemoryMap())

	handle := &compute.Handle{Backend: Name, Module: shiftProgram, Region: region}
	return newBinding(handle, sab.RegionOwnerController), nil
}

func (b *Backend) provider(size uint32) (sab.MemoryProvider, error) {
	switch b.opts.Memory {
	case MemoryHeap:
		return sab.NewInMemoryProvider(size), nil
	case MemoryShm:
		return openShared(b.opts.ShmPath, size)
	}
	return nil, fmt.Errorf("unknown memory kind %q", b.opts.Memory)
}

type binding struct {
	*compute.Plane
	handle *compute.Handle
	closed atomic.Bool
}

func newBinding(h *compute.Handle, owner sab.RegionOwner) *binding {
	return &binding{
		Plane:  compute.NewPlane(h.Region.View(owner)),
		handle: h,
	}
}

func (b *binding) Step(stepPercentage float64) (int, error) {
	if b.closed.Load() {
		return 0, compute.ErrClosed
	}
	shift, k, err := b.PrepareStep(stepPercentage)
	if err != nil {
		return 0, err
	}
	compute.Rotate(b.handle.Region, k)
	b.CommitStep(shift)
	return shift, nil
}

func (b *binding) Handle() *compute.Handle {
	return b.handle
}

// Close detaches the binding. The controller's binding also releases the
// region, so it must only be closed after the worker's binding.
func (b *binding) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	if b.View().Owner() == sab.RegionOwnerController {
		return b.handle.Region.Release()
	}
	return nil
}
