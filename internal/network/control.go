// Package network carries controller commands between peers over libp2p.
//
// A client opens a stream on ProtocolID, writes a batch of length-prefixed
// command envelopes, closes its write side and reads back one Ack.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	libp2p_host "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	peer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"

	"github.com/nmxmxh/gilbert_v1/kernel/threads/protocol"
	"github.com/nmxmxh/gilbert_v1/kernel/utils"
)

const ProtocolID = "/gilbert/control/1.0.0"

// maxBatch bounds one stream's request body.
const maxBatch = 64 * 1024

const streamTimeout = 10 * time.Second

// CommandSink applies commands. The controller implements it.
type CommandSink interface {
	Send(ctx context.Context, cmd protocol.Command) error
}

// NodeOptions configures a ControlNode.
type NodeOptions struct {
	Sink CommandSink
	// Rate is commands per second accepted from each peer; zero disables limiting.
	Rate  int
	Burst int
	// Listen and IdentityPath are used by NewControlNode only.
	Listen       []string
	IdentityPath string
	Logger       *utils.Logger
}

// NodeStats is a point-in-time snapshot.
type NodeStats struct {
	Streams   uint64
	Accepted  uint64
	Rejected  uint64
	Malformed uint64
}

// ControlNode serves the control protocol on a libp2p host.
type ControlNode struct {
	host    libp2p_host.Host
	owned   bool
	sink    CommandSink
	limiter *limiter.TokenBucket
	logger  *utils.Logger

	mu      sync.Mutex
	lastSeq map[peer.ID]uint64

	streams   atomic.Uint64
	accepted  atomic.Uint64
	rejected  atomic.Uint64
	malformed atomic.Uint64
}

// NewControlNode starts a libp2p host with the configured identity and
// listen addresses and serves the control protocol on it.
func NewControlNode(opts NodeOptions) (*ControlNode, error) {
	priv, _, err := LoadOrCreateIdentity(opts.IdentityPath)
	if err != nil {
		return nil, utils.WrapError(err, "control identity")
	}

	host, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(opts.Listen...),
	)
	if err != nil {
		return nil, utils.WrapError(err, "start libp2p host")
	}

	n, err := AttachControl(host, opts)
	if err != nil {
		_ = host.Close()
		return nil, err
	}
	n.owned = true
	return n, nil
}

// AttachControl serves the control protocol on an existing host.
func AttachControl(host libp2p_host.Host, opts NodeOptions) (*ControlNode, error) {
	if opts.Sink == nil {
		return nil, errors.New("control node needs a command sink")
	}
	if opts.Logger == nil {
		opts.Logger = utils.NopLogger()
	}

	n := &ControlNode{
		host:    host,
		sink:    opts.Sink,
		logger:  opts.Logger.With(utils.String("peer", host.ID().String())),
		lastSeq: make(map[peer.ID]uint64),
	}

	if opts.Rate > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = opts.Rate
		}
		tb, err := limiter.NewTokenBucket(
			limiter.Config{
				Rate:     int64(opts.Rate),
				Duration: time.Second,
				Burst:    int64(burst),
			},
			store.NewMemoryStore(time.Minute),
		)
		if err != nil {
			return nil, utils.WrapError(err, "control rate limiter")
		}
		n.limiter = tb
	}

	host.SetStreamHandler(ProtocolID, n.handleStream)
	n.logger.Info("Control link listening", utils.Any("addrs", n.Addrs()))
	return n, nil
}

// Host is the underlying libp2p host.
func (n *ControlNode) Host() libp2p_host.Host {
	return n.host
}

// Addrs returns dialable multiaddresses including the peer ID.
func (n *ControlNode) Addrs() []string {
	addrs := make([]string, 0, len(n.host.Addrs()))
	for _, a := range n.host.Addrs() {
		addrs = append(addrs, fmt.Sprintf("%s/p2p/%s", a, n.host.ID()))
	}
	return addrs
}

func (n *ControlNode) Stats() NodeStats {
	return NodeStats{
		Streams:   n.streams.Load(),
		Accepted:  n.accepted.Load(),
		Rejected:  n.rejected.Load(),
		Malformed: n.malformed.Load(),
	}
}

// Close stops serving. A host created by NewControlNode is closed too.
func (n *ControlNode) Close() error {
	n.host.RemoveStreamHandler(ProtocolID)
	if n.owned {
		return n.host.Close()
	}
	return nil
}

func (n *ControlNode) handleStream(s network.Stream) {
	defer s.Close()
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("Control stream panic", utils.Any("panic", r))
			_ = s.Reset()
		}
	}()
	n.streams.Add(1)

	remote := s.Conn().RemotePeer()
	_ = s.SetDeadline(time.Now().Add(streamTimeout))

	data, err := io.ReadAll(io.LimitReader(s, maxBatch+1))
	if err != nil {
		n.logger.Debug("Control stream read failed", utils.Err(err))
		_ = s.Reset()
		return
	}

	ack := n.apply(remote, data)
	if _, err := s.Write(AppendAck(nil, ack)); err != nil {
		n.logger.Debug("Control ack failed", utils.Err(err))
	}
}

// apply runs one batch. Batches from the same peer are applied one at a
// time so their order is kept.
func (n *ControlNode) apply(remote peer.ID, data []byte) Ack {
	var ack Ack
	if len(data) > maxBatch {
		n.malformed.Add(1)
		ack.Error = "batch too large"
		return ack
	}

	envs, err := DecodeBatch(data)
	if err != nil {
		n.malformed.Add(1)
		ack.Error = err.Error()
		n.logger.Debug("Malformed control batch", utils.String("from", remote.String()), utils.Err(err))
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), streamTimeout)
	defer cancel()

	for _, env := range envs {
		if reason := n.admit(remote, env); reason != "" {
			ack.Rejected++
			n.rejected.Add(1)
			n.logger.Debug("Control command rejected",
				utils.String("from", remote.String()),
				utils.String("command", env.Command.String()),
				utils.String("reason", reason))
			continue
		}
		if err := n.sink.Send(ctx, env.Command); err != nil {
			ack.Rejected++
			n.rejected.Add(1)
			n.logger.Warn("Control command failed", utils.String("command", env.Command.String()), utils.Err(err))
			continue
		}
		n.lastSeq[remote] = env.Sequence
		ack.LastSequence = env.Sequence
		ack.Accepted++
		n.accepted.Add(1)
	}
	return ack
}

// admit returns why env must not be applied, or "".
func (n *ControlNode) admit(remote peer.ID, env protocol.Envelope) string {
	if !env.Command.Action.Remote() {
		return "action not accepted remotely"
	}
	if env.Sequence == 0 {
		return "missing sequence"
	}
	if env.Sequence <= n.lastSeq[remote] {
		return "replayed sequence"
	}
	if n.limiter != nil && !n.limiter.Allow(remote.String()) {
		return "rate limited"
	}
	return ""
}
