package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	libp2p_host "github.com/libp2p/go-libp2p/core/host"
	peer "github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/nmxmxh/gilbert_v1/kernel/threads/protocol"
)

// ErrRemote reports a batch the server could not parse.
var ErrRemote = errors.New("remote rejected batch")

// Client sends command batches to control nodes.
type Client struct {
	host     libp2p_host.Host
	sequence atomic.Uint64
}

// NewClient wraps host. Sequence numbers start from the wall clock so a
// restarted client is not mistaken for a replay.
func NewClient(host libp2p_host.Host) *Client {
	c := &Client{host: host}
	c.sequence.Store(uint64(time.Now().UnixNano()))
	return c
}

// Send delivers cmds in order to target on one stream.
func (c *Client) Send(ctx context.Context, target peer.ID, cmds ...protocol.Command) (Ack, error) {
	envs := make([]protocol.Envelope, len(cmds))
	for i, cmd := range cmds {
		envs[i] = protocol.Envelope{Sequence: c.sequence.Add(1), Command: cmd}
	}
	return c.SendEnvelopes(ctx, target, envs...)
}

// SendEnvelopes delivers pre-numbered envelopes.
func (c *Client) SendEnvelopes(ctx context.Context, target peer.ID, envs ...protocol.Envelope) (Ack, error) {
	return c.sendRaw(ctx, target, AppendBatch(nil, envs...))
}

func (c *Client) sendRaw(ctx context.Context, target peer.ID, body []byte) (Ack, error) {
	stream, err := c.host.NewStream(ctx, target, ProtocolID)
	if err != nil {
		return Ack{}, err
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(deadline)
	}
	if _, err := stream.Write(body); err != nil {
		return Ack{}, err
	}
	if err := stream.CloseWrite(); err != nil {
		return Ack{}, err
	}

	response, err := io.ReadAll(stream)
	if err != nil {
		return Ack{}, err
	}
	ack, err := DecodeAck(response)
	if err != nil {
		return Ack{}, err
	}
	if ack.Error != "" {
		return ack, fmt.Errorf("%w: %s", ErrRemote, ack.Error)
	}
	return ack, nil
}

// SendTo connects to a full peer multiaddress (.../p2p/<id>) and sends cmds.
func (c *Client) SendTo(ctx context.Context, peerAddr string, cmds ...protocol.Command) (Ack, error) {
	maddr, err := ma.NewMultiaddr(peerAddr)
	if err != nil {
		return Ack{}, err
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return Ack{}, err
	}
	if err := c.host.Connect(ctx, *info); err != nil {
		return Ack{}, err
	}
	return c.Send(ctx, info.ID, cmds...)
}
