package kernel

import (
	"fmt"

	"github.com/nmxmxh/gilbert_v1/kernel/compute"
	"github.com/nmxmxh/gilbert_v1/kernel/compute/native"
	"github.com/nmxmxh/gilbert_v1/kernel/utils"
	"github.com/nmxmxh/gilbert_v1/wasm"
)

// newBackend picks the compute backend named by cfg.Backend.
func newBackend(cfg Config, logger *utils.Logger) (compute.Backend, error) {
	switch cfg.Backend {
	case native.Name:
		return native.New(native.Options{
			Width:   cfg.Width,
			Height:  cfg.Height,
			Memory:  cfg.Memory,
			ShmPath: cfg.ShmPath,
			Logger:  logger,
		}), nil
	case wasm.Name:
		return wasm.New(wasm.Options{
			Width:  cfg.Width,
			Height: cfg.Height,
			Logger: logger,
		}), nil
	}
	return nil, fmt.Errorf("%w: backend %q", ErrInvalidConfig, cfg.Backend)
}
