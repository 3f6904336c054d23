package types

import (
	"fmt"
	"time"

	"github.com/Wa4h1h/tftp-engine/pkg/utils"
)

type OpCode uint16

const (
	OpCodeRRQ OpCode = iota + 1
	OpCodeWRQ
	OpCodeDATA
	OpCodeACK
	OpCodeError
)

func (o OpCode) String() string {
	switch o {
	case OpCodeRRQ:
		return "RRQ"
	case OpCodeWRQ:
		return "WRQ"
	case OpCodeDATA:
		return "DATA"
	case OpCodeACK:
		return "ACK"
	case OpCodeError:
		return "ERROR"
	default:
		return fmt.Sprintf("OpCode(%d)", uint16(o))
	}
}

type ErrCode uint16

const (
	ErrNotDefined ErrCode = iota
	ErrFileNotFound
	ErrAccessViolation
	ErrDiskFull
	ErrIllegalTftpOp
	ErrUnknownTransferId
	ErrFileAlreadyExists
	ErrNoSuchUser
)

func (c ErrCode) String() string {
	switch c {
	case ErrNotDefined:
		return "Not defined"
	case ErrFileNotFound:
		return "File not found"
	case ErrAccessViolation:
		return "Access violation"
	case ErrDiskFull:
		return "Disk full or allocation exceeded"
	case ErrIllegalTftpOp:
		return "Illegal TFTP operation"
	case ErrUnknownTransferId:
		return "Unknown transfer ID"
	case ErrFileAlreadyExists:
		return "File already exists"
	case ErrNoSuchUser:
		return "No such user"
	default:
		return fmt.Sprintf("ErrCode(%d)", uint16(c))
	}
}

// Err returns the failure sentinel matching the code, or nil for codes that
// carry no meaning beyond their message.
func (c ErrCode) Err() error {
	switch c {
	case ErrFileNotFound:
		return utils.ErrFileNotFound
	case ErrAccessViolation:
		return utils.ErrAccessViolation
	case ErrDiskFull:
		return utils.ErrDiskFull
	case ErrIllegalTftpOp:
		return utils.ErrIllegalOperation
	case ErrUnknownTransferId:
		return utils.ErrUnknownTransfer
	case ErrFileAlreadyExists:
		return utils.ErrFileExists
	case ErrNoSuchUser:
		return utils.ErrNoSuchUser
	default:
		return nil
	}
}

const (
	MaxPayloadSize = 512
	DatagramSize   = 516
	// ReadBufferSize leaves room for requests carrying options and lets
	// oversized DATA packets be detected instead of truncated.
	ReadBufferSize = 2048
)

const (
	DefaultPort     = "69"
	DefaultTimeout  = time.Second
	DefaultNumTries = 5
)
