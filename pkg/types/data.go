package types

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Wa4h1h/tftp-engine/pkg/utils"
)

type Data struct {
	Payload  []byte
	BlockNum uint16
}

func (d *Data) OpCode() OpCode {
	return OpCodeDATA
}

// Final reports whether this is the short block that ends a transfer.
func (d *Data) Final() bool {
	return len(d.Payload) < MaxPayloadSize
}

func (d *Data) MarshalBinary() ([]byte, error) {
	if len(d.Payload) > MaxPayloadSize {
		return nil, &EncodeError{Reason: fmt.Sprintf("payload of %d bytes", len(d.Payload)), Err: utils.ErrDataPayloadTooBig}
	}

	b := new(bytes.Buffer)
	b.Grow(4 + len(d.Payload))

	if err := binary.Write(b, binary.BigEndian, OpCodeDATA); err != nil {
		return nil, fmt.Errorf("error while writing opcode: %w", err)
	}

	if err := binary.Write(b, binary.BigEndian, d.BlockNum); err != nil {
		return nil, fmt.Errorf("error while writing block#: %w", err)
	}

	b.Write(d.Payload)

	return b.Bytes(), nil
}

// UnmarshalBinary copies the payload, data may be reused by the caller.
func (d *Data) UnmarshalBinary(data []byte) error {
	if _, err := readOpCode(data, OpCodeDATA); err != nil {
		return err
	}

	if len(data) < 4 {
		return &DecodeError{Reason: "truncated block number"}
	}

	if len(data)-4 > MaxPayloadSize {
		return &DecodeError{Reason: fmt.Sprintf("payload of %d bytes", len(data)-4), Err: utils.ErrDataPayloadTooBig}
	}

	d.BlockNum = binary.BigEndian.Uint16(data[2:4])
	d.Payload = bytes.Clone(data[4:])

	if d.Payload == nil {
		d.Payload = []byte{}
	}

	return nil
}

func (d *Data) String() string {
	return fmt.Sprintf("DATA block#=%d len=%d", d.BlockNum, len(d.Payload))
}
