package utils

import "errors"

var (
	ErrStartingServer    = errors.New("error: starting the udp server")
	ErrServerClosed      = errors.New("error: server closed")
	ErrWrongOpCode       = errors.New("error: invalid operation code")
	ErrDataPayloadTooBig = errors.New("error: payload exceeds 512 bytes")
	ErrPacketMarshall    = errors.New("error: can not marshall packet")
	ErrTooManySessions   = errors.New("error: too many sessions")
	ErrSessionExists     = errors.New("error: session already exists for peer")
	ErrNotConnected      = errors.New("error: client is not connected")
)

// Transfer failures. Every terminal session error wraps one of these.
var (
	ErrMalformedPacket  = errors.New("error: malformed packet")
	ErrUnknownTransfer  = errors.New("error: unknown transfer id")
	ErrFileNotFound     = errors.New("error: file not found")
	ErrAccessViolation  = errors.New("error: access violation")
	ErrDiskFull         = errors.New("error: disk full or allocation exceeded")
	ErrIllegalOperation = errors.New("error: illegal tftp operation")
	ErrFileExists       = errors.New("error: file already exists")
	ErrNoSuchUser       = errors.New("error: no such user")
	ErrPeerReported     = errors.New("error: peer reported error")
	ErrTimeout          = errors.New("error: transfer timed out")
	ErrAborted          = errors.New("error: transfer aborted")
)
