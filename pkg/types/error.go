package types

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/Wa4h1h/tftp-engine/pkg/utils"
)

type Error struct {
	ErrMsg    string
	ErrorCode ErrCode
}

func (e *Error) OpCode() OpCode {
	return OpCodeError
}

func (e *Error) MarshalBinary() ([]byte, error) {
	if strings.IndexByte(e.ErrMsg, 0) >= 0 {
		return nil, &EncodeError{Reason: "error message contains a null byte"}
	}

	b := new(bytes.Buffer)
	b.Grow(2 + 2 + len(e.ErrMsg) + 1)

	if err := binary.Write(b, binary.BigEndian, OpCodeError); err != nil {
		return nil, fmt.Errorf("error while writing opcode: %w", err)
	}

	if err := binary.Write(b, binary.BigEndian, e.ErrorCode); err != nil {
		return nil, fmt.Errorf("error while writing error code: %w", err)
	}

	b.WriteString(e.ErrMsg)
	b.WriteByte(0)

	return b.Bytes(), nil
}

func (e *Error) UnmarshalBinary(data []byte) error {
	var err error

	if _, err = readOpCode(data, OpCodeError); err != nil {
		return err
	}

	if len(data) < 4 {
		return &DecodeError{Reason: "truncated error code"}
	}

	e.ErrorCode = ErrCode(binary.BigEndian.Uint16(data[2:4]))

	if e.ErrMsg, err = readString(bytes.NewBuffer(data[4:]), "error message"); err != nil {
		return err
	}

	return nil
}

func (e *Error) String() string {
	return fmt.Sprintf("ERROR code=%d msg=%q", e.ErrorCode, e.ErrMsg)
}

// Err converts a received error packet into a Go error.
func (e *Error) Err() error {
	return &PeerError{Code: e.ErrorCode, Message: e.ErrMsg}
}

// PeerError is a failure reported by the remote side. It matches
// utils.ErrPeerReported and the sentinel of its code.
type PeerError struct {
	Message string
	Code    ErrCode
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("%s: %s (code %d): %s", utils.ErrPeerReported.Error(), e.Code, uint16(e.Code), e.Message)
}

func (e *PeerError) Unwrap() []error {
	if err := e.Code.Err(); err != nil {
		return []error{utils.ErrPeerReported, err}
	}

	return []error{utils.ErrPeerReported}
}

func NewError(code ErrCode, msg string) *Error {
	return &Error{ErrorCode: code, ErrMsg: msg}
}

// ErrorFor builds the error packet sent to a peer for a local failure.
func ErrorFor(err error) *Error {
	var peerErr *PeerError

	switch {
	case errors.As(err, &peerErr):
		return NewError(peerErr.Code, peerErr.Message)
	case errors.Is(err, utils.ErrFileNotFound):
		return NewError(ErrFileNotFound, ErrFileNotFound.String())
	case errors.Is(err, utils.ErrAccessViolation):
		return NewError(ErrAccessViolation, ErrAccessViolation.String())
	case errors.Is(err, utils.ErrDiskFull):
		return NewError(ErrDiskFull, ErrDiskFull.String())
	case errors.Is(err, utils.ErrIllegalOperation):
		return NewError(ErrIllegalTftpOp, ErrIllegalTftpOp.String())
	case errors.Is(err, utils.ErrUnknownTransfer):
		return NewError(ErrUnknownTransferId, ErrUnknownTransferId.String())
	case errors.Is(err, utils.ErrFileExists):
		return NewError(ErrFileAlreadyExists, ErrFileAlreadyExists.String())
	case errors.Is(err, utils.ErrNoSuchUser):
		return NewError(ErrNoSuchUser, ErrNoSuchUser.String())
	case errors.Is(err, utils.ErrTimeout):
		return NewError(ErrNotDefined, "transfer timed out")
	case errors.Is(err, utils.ErrAborted):
		return NewError(ErrNotDefined, "transfer aborted")
	case errors.Is(err, utils.ErrTooManySessions):
		return NewError(ErrNotDefined, "server busy")
	default:
		return NewError(ErrNotDefined, ErrNotDefined.String())
	}
}
