package server

import (
	"io"
	"net"
	"time"

	"github.com/Wa4h1h/tftp-engine/pkg/events"
	"github.com/Wa4h1h/tftp-engine/pkg/session"
	"github.com/Wa4h1h/tftp-engine/pkg/transport"
	"github.com/Wa4h1h/tftp-engine/pkg/types"
)

// OpenFunc serves a read request for a file missing from Root, e.g. content
// generated per peer. Returning an error wrapping utils.ErrFileNotFound keeps
// the "File not found" answer.
type OpenFunc func(name string, peer net.Addr) (io.ReadCloser, error)

// CreateFunc receives the content of a write request in place of Root.
type CreateFunc func(name string, peer net.Addr) (io.WriteCloser, error)

type Config struct {
	// Events receives the progress of every session. Nil discards them.
	Events events.Emitter
	// Network opens the listener and the per-transfer sockets. Nil means
	// UDP with ReusePort and TOS applied.
	Network transport.Network
	Address string
	Port    string
	// Root is the only directory the server reads from and writes to.
	Root     string
	Timeout  time.Duration
	Dally    time.Duration
	NumTries int
	// MaxSessions caps concurrent transfers, zero means no limit.
	MaxSessions int
	TOS         int
	// AllowOverwrite lets a WRQ replace an existing file. When false the
	// request is answered with "File already exists".
	AllowOverwrite bool
	ReadOnly       bool
	ReusePort      bool
	Trace          bool
	// Open and Create hook file access. Names reaching them are already
	// resolved against Root and netascii translation still applies.
	Open   OpenFunc
	Create CreateFunc
}

func DefaultConfig() Config {
	return Config{
		Port:           types.DefaultPort,
		Root:           ".",
		Timeout:        types.DefaultTimeout,
		NumTries:       types.DefaultNumTries,
		AllowOverwrite: true,
		ReusePort:      true,
	}
}

func (c Config) session() session.Config {
	return session.Config{
		Timeout:  c.Timeout,
		NumTries: c.NumTries,
		Dally:    c.Dally,
		Trace:    c.Trace,
	}
}
