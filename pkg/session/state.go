package session

import (
	"fmt"
	"time"

	"github.com/Wa4h1h/tftp-engine/pkg/types"
)

// Direction is seen from the engine: Upload sends file data to the peer,
// Download receives it.
type Direction uint8

const (
	Download Direction = iota
	Upload
)

func (d Direction) String() string {
	if d == Upload {
		return "upload"
	}

	return "download"
}

type State uint32

const (
	StateAwaitingFirstAck State = iota
	StateSending
	StateReceiving
	StateCompleted
	StateFailed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateAwaitingFirstAck:
		return "awaiting first ack"
	case StateSending:
		return "sending"
	case StateReceiving:
		return "receiving"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateAborted
}

type Config struct {
	// Timeout is the fixed retransmission timeout.
	Timeout time.Duration
	// NumTries is the number of consecutive timeouts after which the
	// session fails.
	NumTries int
	// Dally is how long a completed download keeps answering a
	// retransmitted final block. Negative disables it, zero means Timeout.
	Dally time.Duration
	// Trace logs every block at debug level.
	Trace bool
}

func DefaultConfig() Config {
	return Config{
		Timeout:  types.DefaultTimeout,
		NumTries: types.DefaultNumTries,
	}
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = types.DefaultTimeout
	}

	if c.NumTries <= 0 {
		c.NumTries = types.DefaultNumTries
	}

	if c.Dally == 0 {
		c.Dally = c.Timeout
	}

	return c
}
