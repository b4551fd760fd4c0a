package display

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/nmxmxh/gilbert_v1/kernel/utils"
)

// Guarded wraps a surface in a circuit breaker so a failing sink (full
// disk, dead viewer host) is skipped instead of retried every frame.
type Guarded struct {
	inner   Surface
	cb      *gobreaker.CircuitBreaker
	skipped atomic.Uint64
}

// GuardOptions tunes the breaker.
type GuardOptions struct {
	Name string
	// Failures is the consecutive failure count that opens the breaker.
	Failures uint32
	// Cooldown is how long the breaker stays open before a trial present.
	Cooldown time.Duration
	Logger   *utils.Logger
}

// Guard wraps s.
func Guard(s Surface, opts GuardOptions) *Guarded {
	if opts.Failures == 0 {
		opts.Failures = 5
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = utils.NopLogger()
	}
	logger := opts.Logger

	return &Guarded{
		inner: s,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        opts.Name,
			MaxRequests: 1,
			Timeout:     opts.Cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= opts.Failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("Surface breaker changed state",
					utils.String("surface", name),
					utils.String("from", from.String()),
					utils.String("to", to.String()))
			},
		}),
	}
}

func (g *Guarded) Present(pixels []byte, width, height int) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.inner.Present(pixels, width, height)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		g.skipped.Add(1)
	}
	return err
}

// State is "closed", "half-open" or "open".
func (g *Guarded) State() string {
	return g.cb.State().String()
}

// Skipped counts presents refused while the breaker was open.
func (g *Guarded) Skipped() uint64 {
	return g.skipped.Load()
}
