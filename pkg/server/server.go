// Package server answers TFTP read and write requests for the files of one
// root directory.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Wa4h1h/tftp-engine/pkg/session"
	"github.com/Wa4h1h/tftp-engine/pkg/storage"
	"github.com/Wa4h1h/tftp-engine/pkg/transport"
	"github.com/Wa4h1h/tftp-engine/pkg/types"
	"github.com/Wa4h1h/tftp-engine/pkg/utils"
)

type Server struct {
	logger    *zap.SugaredLogger
	network   transport.Network
	transfers transport.Network
	conn      net.PacketConn
	root      *storage.Root
	sessions  *session.Manager
	closeFS   func() error
	serving   sync.WaitGroup
	cfg       Config
	mu        sync.Mutex
	closed    bool
}

func NewServer(l *zap.SugaredLogger, cfg Config) (*Server, error) {
	if l == nil {
		l = zap.NewNop().Sugar()
	}

	root, err := storage.NewRoot(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrStartingServer, err)
	}

	if cfg.Port == "" {
		cfg.Port = types.DefaultPort
	}

	s := &Server{
		logger:  l,
		root:    root,
		cfg:     cfg,
		network: cfg.Network,
	}

	// Transfer sockets never get SO_REUSEPORT, two transfers must not share
	// an ephemeral port.
	if s.network == nil {
		s.network = transport.UDP{ReusePort: cfg.ReusePort, TOS: cfg.TOS}
		s.transfers = transport.UDP{TOS: cfg.TOS}
	} else {
		s.transfers = s.network
	}

	s.closeFS = sync.OnceValue(root.Close)
	s.sessions = session.NewManager(l, cfg.MaxSessions, s.accept, s.reply)

	return s, nil
}

// Listen binds the server socket without serving it.
func (s *Server) Listen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return utils.ErrServerClosed
	}

	if s.conn != nil {
		return nil
	}

	conn, err := s.network.ListenPacket(ctx, net.JoinHostPort(s.cfg.Address, s.cfg.Port))
	if err != nil {
		s.logger.Error(err.Error())

		return fmt.Errorf("%w: %w", utils.ErrStartingServer, err)
	}

	s.conn = conn
	s.logger.Infof("serving %s on %s", s.root.Dir(), conn.LocalAddr())

	return nil
}

// Serve reads requests until the server is closed. It always returns a
// non-nil error, utils.ErrServerClosed after Shutdown or Close.
func (s *Server) Serve() error {
	s.mu.Lock()
	conn, closed := s.conn, s.closed

	if conn != nil && !closed {
		s.serving.Add(1)
	}
	s.mu.Unlock()

	switch {
	case closed:
		return utils.ErrServerClosed
	case conn == nil:
		return errors.New("error: server is not listening")
	}

	defer s.serving.Done()

	datagram := make([]byte, types.ReadBufferSize)

	for {
		n, addr, err := conn.ReadFrom(datagram)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return utils.ErrServerClosed
			}

			return fmt.Errorf("error while reading request: %w", err)
		}

		pkt, err := types.Decode(datagram[:n])
		if err != nil {
			s.logger.Debugf("dropping packet from %s: %s", addr, err.Error())

			continue
		}

		if _, ok := pkt.(*types.Request); !ok {
			if _, live := s.sessions.Lookup(addr.String()); live {
				s.strayTransferPacket(addr, pkt)

				continue
			}
		}

		s.sessions.Route(addr, pkt)
	}
}

// strayTransferPacket answers a transfer packet that reached the listening
// port instead of the port of its transfer.
func (s *Server) strayTransferPacket(addr net.Addr, pkt types.Packet) {
	if _, isErr := pkt.(*types.Error); isErr {
		s.logger.Debugf("ignoring error packet from %s on the listening port", addr)

		return
	}

	s.logger.Debugf("%s from %s sent to the listening port", pkt.OpCode(), addr)
	s.reply(addr, types.ErrorFor(utils.ErrUnknownTransfer))
}

func (s *Server) ListenAndServe() error {
	if err := s.Listen(context.Background()); err != nil {
		return err
	}

	return s.Serve()
}

// Start binds the server and serves it in the background.
func (s *Server) Start() error {
	if err := s.Listen(context.Background()); err != nil {
		return err
	}

	s.mu.Lock()
	s.serving.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.serving.Done()

		if err := s.Serve(); err != nil && !errors.Is(err, utils.ErrServerClosed) {
			s.logger.Errorf("error while serving: %s", err.Error())
		}
	}()

	return nil
}

// Addr is the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}

	return s.conn.LocalAddr()
}

// Shutdown stops accepting requests and waits for the running transfers.
// Transfers still running when ctx is done are aborted.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.stopListening()

	if errWait := s.sessions.Wait(ctx); errWait != nil {
		s.sessions.Abort()
		err = multierr.Append(err, errWait)
		_ = s.sessions.Wait(context.Background())
	}

	s.sessions.Abort()

	return multierr.Append(err, s.closeFS())
}

// Close aborts every running transfer. Partially written files are kept.
func (s *Server) Close() error {
	err := s.stopListening()

	s.sessions.Abort()
	_ = s.sessions.Wait(context.Background())

	return multierr.Append(err, s.closeFS())
}

func (s *Server) stopListening() error {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()

		return nil
	}

	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	var err error

	if conn != nil {
		if errClose := conn.Close(); errClose != nil && !errors.Is(errClose, net.ErrClosed) {
			err = fmt.Errorf("error while closing connection: %w", errClose)
		}
	}

	s.serving.Wait()

	return err
}

func (s *Server) accept(peer net.Addr, req *types.Request) (*session.Session, error) {
	mode, err := types.ParseMode(req.Mode)
	if err != nil {
		return nil, err
	}

	if !mode.Supported() {
		return nil, fmt.Errorf("%w: %s mode is not supported", utils.ErrIllegalOperation, mode)
	}

	name, err := s.root.Resolve(req.Filename)
	if err != nil {
		return nil, err
	}

	if req.Opcode == types.OpCodeWRQ && s.cfg.ReadOnly {
		return nil, fmt.Errorf("%w: server is read only", utils.ErrAccessViolation)
	}

	if len(req.Options) > 0 {
		s.logger.Debugf("ignoring %d options of %s from %s", len(req.Options), req.Opcode, peer)
	}

	conn, err := s.transfers.ListenPacket(context.Background(), transport.EphemeralAddress(s.Addr()))
	if err != nil {
		return nil, err
	}

	opts := session.Options{
		Conn:     conn,
		Peer:     peer,
		Logger:   s.logger,
		Events:   s.cfg.Events,
		Filename: name,
		Mode:     mode,
		Config:   s.cfg.session(),
	}

	if req.Opcode == types.OpCodeRRQ {
		opts.Direction = session.Upload
		opts.Open = func() (io.ReadCloser, error) {
			return openSource(s.root, name, mode, peer, s.cfg.Open)
		}
	} else {
		opts.Direction = session.Download
		opts.Create = func() (io.WriteCloser, error) {
			return createSink(s.root, name, mode, s.cfg.AllowOverwrite, peer, s.cfg.Create)
		}
	}

	sess, err := session.New(opts)
	if err != nil {
		conn.Close()

		return nil, err
	}

	s.logger.Debugf("%s %q from %s", req.Opcode, name, peer)

	return sess, nil
}

func (s *Server) reply(peer net.Addr, e *types.Error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return
	}

	if err := sendErrorPacket(conn, peer, e); err != nil {
		s.logger.Errorf("error while responding to %s: %s", peer, err.Error())
	}
}
