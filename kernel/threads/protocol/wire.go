package protocol

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Binary command envelope used on the peer-to-peer control link.
// Fields follow protobuf wire format so any protobuf reader can decode them:
//
//	1: action   (bytes)
//	2: speed    (fixed64, float64 bits)
//	3: step     (fixed64, float64 bits)
//	4: sequence (varint)
const (
	fieldAction   protowire.Number = 1
	fieldSpeed    protowire.Number = 2
	fieldStep     protowire.Number = 3
	fieldSequence protowire.Number = 4
)

var ErrMalformed = errors.New("malformed command envelope")

// Envelope pairs a command with the sender's sequence number.
type Envelope struct {
	Sequence uint64
	Command  Command
}

// AppendWire appends the binary form of env to b.
func AppendWire(b []byte, env Envelope) []byte {
	b = protowire.AppendTag(b, fieldAction, protowire.BytesType)
	b = protowire.AppendString(b, string(env.Command.Action))
	switch env.Command.Action {
	case ActionChangeSpeed:
		b = protowire.AppendTag(b, fieldSpeed, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(env.Command.Speed))
	case ActionChangeStep:
		b = protowire.AppendTag(b, fieldStep, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(env.Command.Step))
	}
	if env.Sequence != 0 {
		b = protowire.AppendTag(b, fieldSequence, protowire.VarintType)
		b = protowire.AppendVarint(b, env.Sequence)
	}
	return b
}

// DecodeWire parses one envelope. Unknown fields are skipped.
func DecodeWire(b []byte) (Envelope, error) {
	var env Envelope
	var haveSpeed, haveStep bool

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldAction && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Envelope{}, fmt.Errorf("%w: action: %v", ErrMalformed, protowire.ParseError(n))
			}
			env.Command.Action = Action(v)
			b = b[n:]
		case num == fieldSpeed && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return Envelope{}, fmt.Errorf("%w: speed: %v", ErrMalformed, protowire.ParseError(n))
			}
			env.Command.Speed = math.Float64frombits(v)
			haveSpeed = true
			b = b[n:]
		case num == fieldStep && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return Envelope{}, fmt.Errorf("%w: step: %v", ErrMalformed, protowire.ParseError(n))
			}
			env.Command.Step = math.Float64frombits(v)
			haveStep = true
			b = b[n:]
		case num == fieldSequence && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Envelope{}, fmt.Errorf("%w: sequence: %v", ErrMalformed, protowire.ParseError(n))
			}
			env.Sequence = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Envelope{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if env.Command.Action == "" {
		return Envelope{}, fmt.Errorf("%w: no action", ErrMalformed)
	}
	if env.Command.Action == ActionChangeSpeed && !haveSpeed {
		return Envelope{}, fmt.Errorf("%w: %s", ErrMissingPayload, env.Command.Action)
	}
	if env.Command.Action == ActionChangeStep && !haveStep {
		return Envelope{}, fmt.Errorf("%w: %s", ErrMissingPayload, env.Command.Action)
	}
	return env, nil
}
