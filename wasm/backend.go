package wasm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/nmxmxh/gilbert_v1/kernel/compute"
	"github.com/nmxmxh/gilbert_v1/kernel/compute/gilbert"
	"github.com/nmxmxh/gilbert_v1/kernel/threads/sab"
	"github.com/nmxmxh/gilbert_v1/kernel/utils"
)

const Name = "wasm"

// Options configures the backend.
type Options struct {
	Width  int
	Height int
	Logger *utils.Logger
}

// Backend instantiates wasm bindings.
type Backend struct {
	opts   Options
	logger *utils.Logger
}

// New creates a wasm backend.
func New(opts Options) *Backend {
	if opts.Logger == nil {
		opts.Logger = utils.NopLogger()
	}
	return &Backend{opts: opts, logger: opts.Logger.Named("wasm")}
}

func (b *Backend) Name() string {
	return Name
}

// Instantiate compiles the module and allocates its memory when h is nil,
// and otherwise creates a second instance over h's module and memory.
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
	prog, ok := h.Module.(*Program)
	if !ok {
		return nil, fmt.Errorf("%w: module is %T", compute.ErrForeignHandle, h.Module)
	}
	if h.Region == nil || h.Region.Released() {
		return nil, sab.ErrReleased
	}
	return newBinding(h, prog, sab.RegionOwnerWorker)
}

func (b *Backend) allocate() (compute.Binding, error) {
	layout, err := sab.LayoutFor(b.opts.Width, b.opts.Height)
	if err != nil {
		return nil, err
	}

	prog, err := Compile(layout.WasmPages())
	if err != nil {
		return nil, err
	}

	region, err := sab.Format(sab.NewExternalProvider(prog.Memory(), nil),
		b.opts.Width, b.opts.Height, gilbert.Order(b.opts.Width, b.opts.Height))
	if err != nil {
		return nil, utils.WrapError(err, "format region")
	}

	b.logger.Info("Module compiled",
		utils.Uint32("pages", layout.WasmPages()),
		utils.Int("width", b.opts.Width),
		utils.Int("height", b.opts.Height),
	)
	b.logger.Debug("Region memory map\n" + region.Validator().MemoryMap())

	handle := &compute.Handle{Backend: Name, Module: prog, Region: region}
	return newBinding(handle, prog, sab.RegionOwnerController)
}

type binding struct {
	*compute.Plane
	handle   *compute.Handle
	prog     *Program
	instance *wasmer.Instance

	mu     sync.Mutex
	step   wasmer.NativeFunction
	closed atomic.Bool
}

func newBinding(h *compute.Handle, prog *Program, owner sab.RegionOwner) (*binding, error) {
	instance, step, err := prog.Instantiate()
	if err != nil {
		return nil, err
	}
	return &binding{
		Plane:    compute.NewPlane(h.Region.View(owner)),
		handle:   h,
		prog:     prog,
		instance: instance,
		step:     step,
	}, nil
}

func (b *binding) Step(stepPercentage float64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.Load() {
		return 0, compute.ErrClosed
	}
	shift, k, err := b.PrepareStep(stepPercentage)
	if err != nil {
		return 0, err
	}

	if k > 0 {
		layout := b.handle.Region.Layout()
		_, err := b.step(
			int32(k),
			int32(layout.Pixels()),
			int32(layout.CurveOffset),
			int32(layout.PixelOffset),
			int32(layout.ScratchOffset),
		)
		if err != nil {
			return 0, fmt.Errorf("transform trapped: %w", err)
		}
	}

	b.CommitStep(shift)
	return shift, nil
}

func (b *binding) Handle() *compute.Handle {
	return b.handle
}

// Close drops the instance. The controller's binding also releases the region.
func (b *binding) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.Swap(true) {
		return nil
	}
	b.step = nil
	b.instance = nil
	if b.View().Owner() == sab.RegionOwnerController {
		return b.handle.Region.Release()
	}
	return nil
}
