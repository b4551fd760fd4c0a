package utils

import (
	"context"
	"errors"
	"sync"
	"time"
)

// GracefulShutdown runs registered teardown steps in reverse registration order.
// Steps run one at a time: later components (viewers, control links) depend on
// earlier ones (the controller) and must be gone before those are torn down.
type GracefulShutdown struct {
	mu      sync.Mutex
	steps   []shutdownStep
	timeout time.Duration
	logger  *Logger
}

type shutdownStep struct {
	name string
	fn   func(ctx context.Context) error
}

// NewGracefulShutdown creates a new graceful shutdown manager
func NewGracefulShutdown(timeout time.Duration, logger *Logger) *GracefulShutdown {
	if logger == nil {
		logger = DefaultLogger("shutdown")
	}

	return &GracefulShutdown{
		timeout: timeout,
		logger:  logger,
	}
}

// Register adds a named teardown step.
func (g *GracefulShutdown) Register(name string, fn func(ctx context.Context) error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.steps = append(g.steps, shutdownStep{name: name, fn: fn})
}

// Shutdown executes all registered steps LIFO under a shared deadline.
// Every step runs even if an earlier one failed; failures are joined.
func (g *GracefulShutdown) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	steps := g.steps
	g.steps = nil
	g.mu.Unlock()

	g.logger.Info("Starting graceful shutdown", Int("components", len(steps)))

	shutdownCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		if shutdownCtx.Err() != nil {
			g.logger.Warn("Graceful shutdown timed out", String("pending", step.name))
			errs = append(errs, TimeoutError("shutdown "+step.name))
			continue
		}
		if err := step.fn(shutdownCtx); err != nil {
			g.logger.Error("Shutdown step failed", String("step", step.name), Err(err))
			errs = append(errs, WrapError(err, step.name))
		}
	}

	if len(errs) == 0 {
		g.logger.Info("Graceful shutdown complete")
	}
	return errors.Join(errs...)
}
