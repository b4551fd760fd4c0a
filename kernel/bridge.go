package kernel

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/nmxmxh/gilbert_v1/kernel/utils"
)

// Lifecycle events reported to the host.
const (
	EventWaitingForModule = "controller:waiting_for_module"
	EventReady            = "controller:ready"
	EventFailed           = "controller:failed"
	EventWorkerExited     = "controller:worker_exited"
	EventShutdown         = "controller:shutdown"
	EventPanic            = "controller:panic"
)

// Event is one lifecycle notification.
type Event struct {
	Name      string
	Session   string
	Timestamp time.Time
	Data      map[string]any
}

// EventHandler receives lifecycle events. It runs on the goroutine that
// caused the transition and must not block.
type EventHandler func(Event)

// notifyHost sends events to the embedding host
func (c *Controller) notifyHost(event string, data map[string]any) {
	c.logger.Debug("Lifecycle event", utils.String("event", event))
	if c.events == nil {
		return
	}
	c.events(Event{
		Name:      event,
		Session:   c.id,
		Timestamp: c.clock.Now(),
		Data:      data,
	})
}

// recoverPanic turns a panic in a host-facing call into StateFailed and an
// error. Whatever the call had started is torn down before the host hears
// about it.
func (c *Controller) recoverPanic(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	c.setState(StateFailed)
	stack := string(debug.Stack())

	ctx, cancel := context.WithTimeout(context.Background(), c.config.HandshakeTimeout)
	defer cancel()
	if err := c.teardown(ctx); err != nil {
		c.logger.Warn("Teardown after panic", utils.Err(err))
	}

	c.logger.Error("CONTROLLER PANIC",
		utils.Any("reason", r),
		utils.String("stack", stack))
	if errp != nil {
		*errp = fmt.Errorf("%w: %v", ErrPanic, r)
	}
	c.notifyHost(EventPanic, map[string]any{
		"reason": fmt.Sprintf("%v", r),
		"stack":  stack,
	})
}
