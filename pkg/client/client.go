// Package client drives single TFTP transfers against a remote server.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Wa4h1h/tftp-engine/pkg/events"
	"github.com/Wa4h1h/tftp-engine/pkg/netascii"
	"github.com/Wa4h1h/tftp-engine/pkg/session"
	"github.com/Wa4h1h/tftp-engine/pkg/storage"
	"github.com/Wa4h1h/tftp-engine/pkg/transport"
	"github.com/Wa4h1h/tftp-engine/pkg/types"
	"github.com/Wa4h1h/tftp-engine/pkg/utils"
)

type Connector interface {
	Connect(addr string) error
	Get(ctx context.Context, remote, local string) (*Result, error)
	Put(ctx context.Context, local, remote string) (*Result, error)
	SetTimeout(timeout time.Duration)
	SetNumTries(numTries int)
	SetMode(mode types.Mode) error
	SetTrace() bool
	Close() error
}

// Progress is called after every transferred block with the bytes moved
// so far.
type Progress func(block uint16, bytes int64)

type Result struct {
	SessionID string
	events.Stats
}

type Option func(*Client)

func WithEvents(e events.Emitter) Option {
	return func(c *Client) { c.events = e }
}

func WithProgress(p Progress) Option {
	return func(c *Client) { c.progress = p }
}

func WithNetwork(n transport.Network) Option {
	return func(c *Client) { c.network = n }
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.cfg.Timeout = timeout }
}

func WithNumTries(numTries int) Option {
	return func(c *Client) { c.cfg.NumTries = numTries }
}

func WithMode(mode types.Mode) Option {
	return func(c *Client) { c.mode = mode }
}

// WithDally keeps a finished download answering a repeated final block for
// d. A transfer started while the previous one dallies is refused.
func WithDally(d time.Duration) Option {
	return func(c *Client) { c.cfg.Dally = d }
}

func WithTrace() Option {
	return func(c *Client) { c.cfg.Trace = true }
}

type Client struct {
	l        *zap.SugaredLogger
	events   events.Emitter
	network  transport.Network
	server   net.Addr
	sessions *session.Manager
	progress Progress
	mode     types.Mode
	cfg      session.Config
	mu       sync.Mutex
}

func NewClient(l *zap.SugaredLogger, opts ...Option) *Client {
	if l == nil {
		l = zap.NewNop().Sugar()
	}

	c := &Client{
		l:       l,
		network: transport.UDP{},
		mode:    types.ModeOctet,
		cfg:     session.DefaultConfig(),
	}

	c.cfg.Dally = -1

	for _, opt := range opts {
		opt(c)
	}

	c.sessions = session.NewManager(l, 0, nil, nil)

	return c
}

// Connect sets the server address. A missing port means 69.
func (c *Client) Connect(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, types.DefaultPort)
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("error while resolving %s: %w", addr, err)
	}

	c.mu.Lock()
	c.server = udpAddr
	c.mu.Unlock()

	return nil
}

func (c *Client) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg.Timeout = timeout
}

func (c *Client) SetNumTries(numTries int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg.NumTries = numTries
}

func (c *Client) SetMode(mode types.Mode) error {
	if !mode.Supported() {
		return fmt.Errorf("%w: %s mode is not supported", utils.ErrIllegalOperation, mode)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.mode = mode

	return nil
}

// SetTrace toggles per-block logging and returns the new setting.
func (c *Client) SetTrace() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg.Trace = !c.cfg.Trace

	return c.cfg.Trace
}

// Get downloads remote into local, which defaults to the base name of
// remote. The local file is only created once the first block arrives.
func (c *Client) Get(ctx context.Context, remote, local string) (*Result, error) {
	if local == "" {
		local = filepath.Base(remote)
	}

	sink := &lazyFile{path: local}

	return c.transfer(ctx, types.OpCodeRRQ, remote, local, func(opts *session.Options) {
		sink.mode = opts.Mode
		opts.Direction = session.Download
		opts.Create = func() (io.WriteCloser, error) {
			return sink, nil
		}
	})
}

// Put uploads local as remote, which defaults to the base name of local.
func (c *Client) Put(ctx context.Context, local, remote string) (*Result, error) {
	if remote == "" {
		remote = filepath.Base(local)
	}

	return c.transfer(ctx, types.OpCodeWRQ, remote, local, func(opts *session.Options) {
		mode := opts.Mode
		opts.Direction = session.Upload
		opts.Open = func() (io.ReadCloser, error) {
			return openLocal(local, mode)
		}
	})
}

func (c *Client) transfer(ctx context.Context, op types.OpCode, remote, local string,
	setup func(opts *session.Options),
) (*Result, error) {
	c.mu.Lock()
	server, sessions, mode, cfg := c.server, c.sessions, c.mode, c.cfg
	c.mu.Unlock()

	if server == nil {
		return nil, utils.ErrNotConnected
	}

	if sessions.Len() > 0 {
		return nil, utils.ErrTooManySessions
	}

	conn, err := c.network.ListenPacket(ctx, ":0")
	if err != nil {
		return nil, err
	}

	opts := session.Options{
		Conn:     conn,
		Peer:     server,
		Request:  &types.Request{Opcode: op, Filename: remote, Mode: string(mode)},
		Logger:   c.l,
		Events:   c.emitter(),
		Filename: local,
		Mode:     mode,
		Config:   cfg,
	}

	setup(&opts)

	s, err := session.New(opts)
	if err != nil {
		conn.Close()

		return nil, err
	}

	if err := sessions.Start(ctx, s); err != nil {
		conn.Close()

		switch {
		case errors.Is(err, utils.ErrServerClosed):
			return nil, utils.ErrNotConnected
		case errors.Is(err, utils.ErrSessionExists):
			return nil, utils.ErrTooManySessions
		}

		return nil, err
	}

	<-s.Done()

	if err := s.Err(); err != nil {
		return nil, err
	}

	return &Result{SessionID: s.ID(), Stats: s.Stats()}, nil
}

func (c *Client) emitter() events.Emitter {
	var emitters []events.Emitter

	if c.events != nil {
		emitters = append(emitters, c.events)
	}

	if c.progress != nil {
		progress := c.progress
		emitters = append(emitters, events.Func(func(e events.Event) {
			if e.Kind == events.BlockTransferred {
				progress(e.Block, e.Bytes)
			}
		}))
	}

	return events.Multi(emitters...)
}

// Close aborts a running transfer and forgets the server.
func (c *Client) Close() error {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = session.NewManager(c.l, 0, nil, nil)
	c.server = nil
	c.mu.Unlock()

	sessions.Abort()

	return sessions.Wait(context.Background())
}

// Download fetches remote from server into local.
func Download(ctx context.Context, l *zap.SugaredLogger, server, remote, local string, opts ...Option) (*Result, error) {
	c := NewClient(l, opts...)
	defer c.Close()

	if err := c.Connect(server); err != nil {
		return nil, err
	}

	return c.Get(ctx, remote, local)
}

// Upload sends local to server as remote.
func Upload(ctx context.Context, l *zap.SugaredLogger, server, local, remote string, opts ...Option) (*Result, error) {
	c := NewClient(l, opts...)
	defer c.Close()

	if err := c.Connect(server); err != nil {
		return nil, err
	}

	return c.Put(ctx, local, remote)
}

// lazyFile creates its file on the first write, so a transfer refused by
// the server leaves nothing behind.
type lazyFile struct {
	w    io.WriteCloser
	path string
	mode types.Mode
}

func (f *lazyFile) Write(p []byte) (int, error) {
	if f.w == nil {
		file, err := os.Create(f.path)
		if err != nil {
			return 0, storage.MapError(err)
		}

		f.w = file

		if f.mode == types.ModeNetASCII {
			f.w = netascii.NewDecoder(file)
		}
	}

	return f.w.Write(p)
}

func (f *lazyFile) Close() error {
	if f.w == nil {
		return nil
	}

	return f.w.Close()
}

func openLocal(path string, mode types.Mode) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, storage.MapError(err)
	}

	if mode != types.ModeNetASCII {
		return f, nil
	}

	return struct {
		io.Reader
		io.Closer
	}{netascii.NewEncoder(f), f}, nil
}
