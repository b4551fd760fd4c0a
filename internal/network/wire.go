package network

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/nmxmxh/gilbert_v1/kernel/threads/protocol"
)

// AppendBatch appends each envelope as a length-prefixed message.
func AppendBatch(b []byte, envs ...protocol.Envelope) []byte {
	for _, env := range envs {
		b = protowire.AppendBytes(b, protocol.AppendWire(nil, env))
	}
	return b
}

// DecodeBatch parses length-prefixed envelopes. On error it returns the
// envelopes decoded before the bad one.
func DecodeBatch(b []byte) ([]protocol.Envelope, error) {
	var envs []protocol.Envelope
	for len(b) > 0 {
		msg, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return envs, fmt.Errorf("%w: frame %d: %v", protocol.ErrMalformed, len(envs), protowire.ParseError(n))
		}
		b = b[n:]
		env, err := protocol.DecodeWire(msg)
		if err != nil {
			return envs, fmt.Errorf("envelope %d: %w", len(envs), err)
		}
		envs = append(envs, env)
	}
	return envs, nil
}

// Ack is the server's reply to one batch.
//
//	1: accepted      (varint)
//	2: rejected      (varint)
//	3: last sequence (varint)
//	4: error         (string)
type Ack struct {
	Accepted     uint64
	Rejected     uint64
	LastSequence uint64
	Error        string
}

// AppendAck appends the binary form of a.
func AppendAck(b []byte, a Ack) []byte {
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, a.Accepted)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, a.Rejected)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, a.LastSequence)
	if a.Error != "" {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendString(b, a.Error)
	}
	return b
}

// DecodeAck parses an Ack. Unknown fields are skipped.
func DecodeAck(b []byte) (Ack, error) {
	var a Ack
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Ack{}, fmt.Errorf("%w: ack: %v", protocol.ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == 4 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Ack{}, fmt.Errorf("%w: ack error: %v", protocol.ErrMalformed, protowire.ParseError(n))
			}
			a.Error = v
			b = b[n:]
		case num >= 1 && num <= 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Ack{}, fmt.Errorf("%w: ack field %d: %v", protocol.ErrMalformed, num, protowire.ParseError(n))
			}
			switch num {
			case 1:
				a.Accepted = v
			case 2:
				a.Rejected = v
			case 3:
				a.LastSequence = v
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Ack{}, fmt.Errorf("%w: ack field %d: %v", protocol.ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return a, nil
}
