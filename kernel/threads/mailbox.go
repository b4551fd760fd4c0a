package threads

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/nmxmxh/gilbert_v1/kernel/compute"
	"github.com/nmxmxh/gilbert_v1/kernel/threads/protocol"
)

var ErrNotReady = errors.New("worker not ready")

// Kind tags a mailbox envelope.
type Kind int

const (
	// KindHandshake carries the compute handle. Sent exactly once.
	KindHandshake Kind = iota
	KindCommand
	// KindLease parks the worker loop while the controller writes pixels.
	KindLease
	// KindFlush is a barrier: Done closes once every earlier envelope is handled.
	KindFlush
	KindTerminate
)

// Envelope is one mailbox entry.
type Envelope struct {
	Kind    Kind
	Handle  *compute.Handle
	Command protocol.Command
	Lease   *Lease
	Done    chan struct{}
}

// Mailbox is the ordered controller-to-worker channel. Post blocks while
// the mailbox is full and drops silently once the worker has exited.
type Mailbox struct {
	ch        chan Envelope
	closed    chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// NewMailbox creates a mailbox holding up to depth pending envelopes.
func NewMailbox(depth int) *Mailbox {
	if depth < 1 {
		depth = 1
	}
	return &Mailbox{
		ch:     make(chan Envelope, depth),
		closed: make(chan struct{}),
	}
}

// Post enqueues env. It returns ctx.Err() if ctx ends while the mailbox is full.
func (m *Mailbox) Post(ctx context.Context, env Envelope) error {
	select {
	case <-m.closed:
		m.dropped.Add(1)
		return nil
	default:
	}

	select {
	case m.ch <- env:
		return nil
	case <-m.closed:
		m.dropped.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive is the worker's end of the mailbox.
func (m *Mailbox) Receive() <-chan Envelope {
	return m.ch
}

// Close marks the receiver gone. Later posts are dropped.
func (m *Mailbox) Close() {
	m.closeOnce.Do(func() { close(m.closed) })
}

// Closed is closed once the receiver is gone.
func (m *Mailbox) Closed() <-chan struct{} {
	return m.closed
}

// Dropped counts envelopes discarded after Close.
func (m *Mailbox) Dropped() uint64 {
	return m.dropped.Load()
}

// Pending returns the number of queued envelopes.
func (m *Mailbox) Pending() int {
	return len(m.ch)
}

// Lease grants the controller exclusive write access to the pixel plane.
// The worker loop stays parked from grant until Release.
type Lease struct {
	granted chan struct{}
	release chan bool
	err     error
	once    sync.Once
}

// NewLease creates an ungranted lease.
func NewLease() *Lease {
	return &Lease{
		granted: make(chan struct{}),
		release: make(chan bool, 1),
	}
}

// Granted closes when the worker has parked or refused.
func (l *Lease) Granted() <-chan struct{} {
	return l.granted
}

// Err reports why the lease was refused. Valid once Granted is closed.
func (l *Lease) Err() error {
	return l.err
}

// Release unparks the worker. With loadImage set the worker handles a
// loadImage command before anything else. Safe to call more than once.
func (l *Lease) Release(loadImage bool) {
	l.once.Do(func() { l.release <- loadImage })
}

func (l *Lease) grant(err error) {
	l.err = err
	close(l.granted)
}
