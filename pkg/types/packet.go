package types

import (
	"encoding"
	"encoding/binary"
	"fmt"

	"github.com/Wa4h1h/tftp-engine/pkg/utils"
)

// Packet is one of *Request, *Data, *Ack or *Error.
type Packet interface {
	encoding.BinaryMarshaler
	OpCode() OpCode
}

// DecodeError reports why a datagram is not a valid TFTP packet.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %s", utils.ErrMalformedPacket.Error(), e.Reason)
}

func (e *DecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{utils.ErrMalformedPacket, e.Err}
	}

	return []error{utils.ErrMalformedPacket}
}

// EncodeError reports a packet that has no valid wire representation.
type EncodeError struct {
	Reason string
	Err    error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("%s: %s", utils.ErrPacketMarshall.Error(), e.Reason)
}

func (e *EncodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{utils.ErrPacketMarshall, e.Err}
	}

	return []error{utils.ErrPacketMarshall}
}

func Encode(p Packet) ([]byte, error) {
	return p.MarshalBinary()
}

// Decode parses a datagram. It never panics; any invalid input yields a
// *DecodeError. Padding after an ACK block number or after the NUL ending an
// ERROR message is ignored, so such datagrams do not encode back to the same
// bytes.
func Decode(b []byte) (Packet, error) {
	if len(b) < 2 {
		return nil, &DecodeError{Reason: "truncated opcode"}
	}

	var p interface {
		Packet
		encoding.BinaryUnmarshaler
	}

	switch op := OpCode(binary.BigEndian.Uint16(b)); op {
	case OpCodeRRQ, OpCodeWRQ:
		p = &Request{}
	case OpCodeDATA:
		p = &Data{}
	case OpCodeACK:
		p = &Ack{}
	case OpCodeError:
		p = &Error{}
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown opcode %d", uint16(op)), Err: utils.ErrWrongOpCode}
	}

	if err := p.UnmarshalBinary(b); err != nil {
		return nil, err
	}

	return p, nil
}

func readOpCode(data []byte, want ...OpCode) (OpCode, error) {
	if len(data) < 2 {
		return 0, &DecodeError{Reason: "truncated opcode"}
	}

	op := OpCode(binary.BigEndian.Uint16(data))
	for _, w := range want {
		if op == w {
			return op, nil
		}
	}

	return op, &DecodeError{Reason: fmt.Sprintf("unexpected opcode %s", op), Err: utils.ErrWrongOpCode}
}
