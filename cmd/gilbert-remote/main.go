// Command gilbert-remote sends commands to a gilbert-node control link.
//
//	gilbert-remote -peer /ip4/127.0.0.1/tcp/4001/p2p/12D3... speed:80 start
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	libp2p "github.com/libp2p/go-libp2p"

	"github.com/nmxmxh/gilbert_v1/internal/network"
	"github.com/nmxmxh/gilbert_v1/kernel/threads/protocol"
	"github.com/nmxmxh/gilbert_v1/kernel/utils"
)

var errUsage = errors.New("usage: gilbert-remote -peer <multiaddr> start|stop|step|speed:N|stepsize:N ...")

// parseCommands turns command words into commands, in order.
func parseCommands(args []string) ([]protocol.Command, error) {
	if len(args) == 0 {
		return nil, errUsage
	}
	cmds := make([]protocol.Command, 0, len(args))
	for _, arg := range args {
		name, value, hasValue := strings.Cut(strings.ToLower(arg), ":")

		var pct float64
		if hasValue {
			v, err := strconv.ParseFloat(value, 64)
			if err != nil || v < 0 || v > 100 {
				return nil, fmt.Errorf("%q: percentage must be in [0, 100]", arg)
			}
			pct = v
		}

		switch {
		case name == "start" && !hasValue:
			cmds = append(cmds, protocol.Start())
		case name == "stop" && !hasValue:
			cmds = append(cmds, protocol.Stop())
		case name == "step" && !hasValue:
			cmds = append(cmds, protocol.Step())
		case name == "speed" && hasValue:
			cmds = append(cmds, protocol.ChangeSpeed(pct))
		case name == "stepsize" && hasValue:
			cmds = append(cmds, protocol.ChangeStep(pct))
		default:
			return nil, fmt.Errorf("%q: %w", arg, errUsage)
		}
	}
	return cmds, nil
}

func main() {
	fs := flag.NewFlagSet("gilbert-remote", flag.ExitOnError)
	peerAddr := fs.String("peer", "", "control multiaddress including /p2p/<id>")
	timeout := fs.Duration("timeout", 10*time.Second, "request timeout")
	level := fs.String("log-level", "info", "debug|info|warn|error")
	_ = fs.Parse(os.Args[1:])

	lvl, err := utils.ParseLogLevel(*level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := utils.NewLogger(utils.LoggerConfig{Level: lvl, Component: "remote", Colorize: true})
	defer func() { _ = logger.Sync() }()

	cmds, err := parseCommands(fs.Args())
	if err == nil && *peerAddr == "" {
		err = errUsage
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := send(*peerAddr, *timeout, cmds, logger); err != nil {
		logger.Error("Send failed", utils.Err(err))
		os.Exit(1)
	}
}

func send(peerAddr string, timeout time.Duration, cmds []protocol.Command, logger *utils.Logger) error {
	host, err := libp2p.New(libp2p.NoListenAddrs)
	if err != nil {
		return utils.WrapError(err, "start libp2p host")
	}
	defer host.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ack, err := network.NewClient(host).SendTo(ctx, peerAddr, cmds...)
	if err != nil {
		return err
	}
	logger.Info("Batch acknowledged",
		utils.Uint64("accepted", ack.Accepted),
		utils.Uint64("rejected", ack.Rejected),
		utils.Uint64("last_sequence", ack.LastSequence))
	if ack.Rejected > 0 {
		return fmt.Errorf("%d of %d commands rejected", ack.Rejected, len(cmds))
	}
	return nil
}
