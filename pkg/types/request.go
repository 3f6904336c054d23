package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// Option is a request option (RFC 2347). Options are kept in wire order.
type Option struct {
	Name  string
	Value string
}

type Request struct {
	Filename string
	Mode     string
	Options  []Option
	Opcode   OpCode
}

func (r *Request) OpCode() OpCode {
	return r.Opcode
}

func (r *Request) MarshalBinary() ([]byte, error) {
	if r.Opcode != OpCodeRRQ && r.Opcode != OpCodeWRQ {
		return nil, &EncodeError{Reason: fmt.Sprintf("request with opcode %s", r.Opcode)}
	}

	fields := []string{r.Filename, r.Mode}
	for _, o := range r.Options {
		fields = append(fields, o.Name, o.Value)
	}

	rqLen := 2

	for _, f := range fields {
		if strings.IndexByte(f, 0) >= 0 {
			return nil, &EncodeError{Reason: fmt.Sprintf("field %q contains a null byte", f)}
		}

		rqLen += len(f) + 1
	}

	b := new(bytes.Buffer)
	b.Grow(rqLen)

	if err := binary.Write(b, binary.BigEndian, r.Opcode); err != nil {
		return nil, fmt.Errorf("error while writing Opcode: %w", err)
	}

	for _, f := range fields {
		b.WriteString(f)
		b.WriteByte(0)
	}

	return b.Bytes(), nil
}

func (r *Request) UnmarshalBinary(data []byte) error {
	var err error

	if r.Opcode, err = readOpCode(data, OpCodeRRQ, OpCodeWRQ); err != nil {
		return err
	}

	rd := bytes.NewBuffer(data[2:])

	if r.Filename, err = readString(rd, "filename"); err != nil {
		return err
	}

	if r.Mode, err = readString(rd, "mode"); err != nil {
		return err
	}

	r.Options = nil

	for rd.Len() > 0 {
		var o Option

		if o.Name, err = readString(rd, "option name"); err != nil {
			return err
		}

		if o.Value, err = readString(rd, "option value"); err != nil {
			return err
		}

		r.Options = append(r.Options, o)
	}

	return nil
}

func (r *Request) String() string {
	return fmt.Sprintf("%s %q mode=%s", r.Opcode, r.Filename, r.Mode)
}

func readString(rd *bytes.Buffer, field string) (string, error) {
	s, err := rd.ReadString(0)
	if err != nil {
		return "", &DecodeError{Reason: fmt.Sprintf("%s is not null terminated", field)}
	}

	return strings.TrimSuffix(s, "\x00"), nil
}
