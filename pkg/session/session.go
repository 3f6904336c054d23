// Package session implements one TFTP transfer as a state machine driven by
// the packets addressed to it and by its retransmission timer, plus the
// table that routes packets to live sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Wa4h1h/tftp-engine/pkg/events"
	"github.com/Wa4h1h/tftp-engine/pkg/transport"
	"github.com/Wa4h1h/tftp-engine/pkg/types"
	"github.com/Wa4h1h/tftp-engine/pkg/utils"
)

const inboxSize = 16

type Options struct {
	Conn net.PacketConn
	Peer net.Addr
	// Request is sent first when the engine initiates the transfer. The
	// peer's TID is then taken from the first reply coming from Peer's host.
	Request   *types.Request
	Open      func() (io.ReadCloser, error)
	Create    func() (io.WriteCloser, error)
	Logger    *zap.SugaredLogger
	Events    events.Emitter
	Filename  string
	Mode      types.Mode
	Config    Config
	Direction Direction
}

// ContentTyper is implemented by sources that know what they contain.
type ContentTyper interface {
	ContentType() string
}

type inbound struct {
	from net.Addr
	pkt  types.Packet
}

type Session struct {
	started    time.Time
	conn       net.PacketConn
	peer       net.Addr
	err        error
	src        io.ReadCloser
	dst        io.WriteCloser
	request    *types.Request
	open       func() (io.ReadCloser, error)
	create     func() (io.WriteCloser, error)
	onTerminal func(*Session)
	l          *zap.SugaredLogger
	events     events.Emitter
	inbox      chan inbound
	done       chan struct{}
	quit       chan struct{}
	id         string
	key        string
	filename   string
	mode       types.Mode
	last       []byte
	buf        []byte
	stats      events.Stats
	cfg        Config
	retries    int
	lastLen    int
	state      atomic.Uint32
	block      uint16
	dir        Direction
	peerKnown  bool
	final      bool
	acked      bool
}

func New(opts Options) (*Session, error) {
	if opts.Conn == nil || opts.Peer == nil {
		return nil, errors.New("error: session needs a connection and a peer")
	}

	if opts.Direction == Upload && opts.Open == nil {
		return nil, errors.New("error: upload session needs a file to read")
	}

	if opts.Direction == Download && opts.Create == nil {
		return nil, errors.New("error: download session needs a file to write")
	}

	s := &Session{
		id:        uuid.New().String(),
		conn:      opts.Conn,
		peer:      opts.Peer,
		peerKnown: opts.Request == nil,
		request:   opts.Request,
		filename:  opts.Filename,
		mode:      opts.Mode,
		dir:       opts.Direction,
		open:      opts.Open,
		create:    opts.Create,
		cfg:       opts.Config.withDefaults(),
		events:    opts.Events,
		inbox:     make(chan inbound, inboxSize),
		done:      make(chan struct{}),
		quit:      make(chan struct{}),
		buf:       make([]byte, types.MaxPayloadSize),
	}

	if s.events == nil {
		s.events = events.Discard
	}

	l := opts.Logger
	if l == nil {
		l = zap.NewNop().Sugar()
	}

	s.l = l.With("session", s.id, "peer", opts.Peer.String(), "file", opts.Filename)

	switch {
	case s.dir == Download:
		s.setState(StateReceiving)
	case s.request != nil:
		s.setState(StateAwaitingFirstAck)
	default:
		s.setState(StateSending)
	}

	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Filename() string {
	return s.filename
}

func (s *Session) Direction() Direction {
	return s.dir
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(uint32(st))
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err is the terminal error, nil for a completed transfer. Only valid after
// Done is closed.
func (s *Session) Err() error {
	return s.err
}

// Stats is only valid after Done is closed.
func (s *Session) Stats() events.Stats {
	return s.stats
}

// Deliver hands a packet received elsewhere to the session without
// blocking. It is dropped if the inbox is full, the peer will retransmit.
func (s *Session) Deliver(from net.Addr, pkt types.Packet) {
	select {
	case s.inbox <- inbound{from: from, pkt: pkt}:
	default:
		s.l.Debugf("inbox full, dropping %s", pkt.OpCode())
	}
}

// Run drives the transfer until it reaches a terminal state or ctx is
// cancelled, then releases the connection.
func (s *Session) Run(ctx context.Context) error {
	defer s.release()

	s.started = time.Now()

	go s.readLoop()

	if err := s.begin(); err != nil {
		s.terminate(StateFailed, err, true)

		return s.err
	}

	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()

	for !s.State().Terminal() {
		select {
		case <-ctx.Done():
			s.terminate(StateAborted, fmt.Errorf("%w: %w", utils.ErrAborted, context.Cause(ctx)), true)
		case in := <-s.inbox:
			if s.handle(in) {
				timer.Reset(s.cfg.Timeout)
			}
		case <-timer.C:
			s.timeout()
			timer.Reset(s.cfg.Timeout)
		}
	}

	s.dally(ctx)

	return s.err
}

func (s *Session) begin() error {
	if s.dir == Upload {
		return s.beginUpload()
	}

	return s.beginDownload()
}

func (s *Session) readLoop() {
	datagram := make([]byte, types.ReadBufferSize)

	for {
		n, addr, err := s.conn.ReadFrom(datagram)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.l.Errorf("error while reading from connection: %s", err.Error())
			}

			return
		}

		pkt, err := types.Decode(datagram[:n])
		if err != nil {
			s.l.Debugf("dropping packet from %s: %s", addr, err.Error())

			continue
		}

		select {
		case s.inbox <- inbound{from: addr, pkt: pkt}:
		case <-s.quit:
			return
		}
	}
}

// handle applies one packet and reports whether the transfer progressed.
func (s *Session) handle(in inbound) bool {
	if !s.fromPeer(in.from) {
		s.l.Debugf("%s from unknown transfer id %s", in.pkt.OpCode(), in.from)

		if _, isErr := in.pkt.(*types.Error); !isErr {
			s.sendTo(types.ErrorFor(utils.ErrUnknownTransfer), in.from)
		}

		return false
	}

	switch p := in.pkt.(type) {
	case *types.Error:
		s.terminate(StateFailed, p.Err(), false)

		return true
	case *types.Data:
		if s.dir == Download {
			return s.onData(p)
		}
	case *types.Ack:
		if s.dir == Upload {
			return s.onAck(p)
		}
	}

	s.terminate(StateFailed, fmt.Errorf("%w: unexpected %s during %s", utils.ErrIllegalOperation, in.pkt.OpCode(), s.dir), true)

	return true
}

func (s *Session) fromPeer(addr net.Addr) bool {
	if s.peerKnown {
		return addr.String() == s.peer.String()
	}

	if !transport.SameHost(addr, s.peer) {
		return false
	}

	s.l.Debugf("peer transfer id is %s", addr)
	s.peer = addr
	s.peerKnown = true

	return true
}

func (s *Session) timeout() {
	s.retries++

	if s.retries >= s.cfg.NumTries {
		s.terminate(StateFailed, fmt.Errorf("%w after %d tries", utils.ErrTimeout, s.retries), true)

		return
	}

	s.l.Debugf("timeout #%d, resending last packet", s.retries)
	s.stats.Retransmits++
	s.resend()
}

// transmit sends p to the peer and keeps it for retransmission.
func (s *Session) transmit(p types.Packet) error {
	b, err := types.Encode(p)
	if err != nil {
		return fmt.Errorf("error while marshalling %s: %w", p.OpCode(), err)
	}

	s.last = b
	s.resend()

	return nil
}

func (s *Session) resend() {
	if s.last == nil {
		return
	}

	if _, err := s.conn.WriteTo(s.last, s.peer); err != nil {
		s.l.Errorf("error while writing packet: %s", err.Error())
	}
}

func (s *Session) sendTo(p types.Packet, addr net.Addr) {
	b, err := types.Encode(p)
	if err != nil {
		s.l.Errorf("error while marshalling %s: %s", p.OpCode(), err.Error())

		return
	}

	if _, err := s.conn.WriteTo(b, addr); err != nil {
		s.l.Errorf("error while writing %s to %s: %s", p.OpCode(), addr, err.Error())
	}
}

// terminate ends the session, telling the peer why when notify is set and
// the peer is known.
func (s *Session) terminate(state State, err error, notify bool) {
	if notify && s.peerKnown {
		s.sendTo(types.ErrorFor(err), s.peer)
	}

	s.finish(state, err)
}

func (s *Session) finish(state State, err error) {
	s.stats.Duration = time.Since(s.started)

	if errClose := s.closeFile(); errClose != nil {
		s.l.Errorf("error while closing file: %s", errClose.Error())

		if state == StateCompleted {
			state, err = StateFailed, errClose
		}
	}

	s.err = err
	s.setState(state)

	if s.onTerminal != nil {
		s.onTerminal(s)
	}

	if state == StateCompleted {
		stats := s.stats
		s.l.Debugf("%s completed: %s", s.dir, stats)
		s.emit(events.Event{Kind: events.SessionCompleted, Stats: &stats})
	} else {
		s.l.Debugf("%s %s: %s", s.dir, state, err)
		s.emit(events.Event{Kind: events.SessionFailed, Err: err})
	}

	close(s.done)
}

func (s *Session) closeFile() error {
	var err error

	if s.src != nil {
		err = multierr.Append(err, s.src.Close())
		s.src = nil
	}

	if s.dst != nil {
		err = multierr.Append(err, s.dst.Close())
		s.dst = nil
	}

	return err
}

// release closes the connection. It also covers sessions that never ran.
func (s *Session) release() {
	select {
	case <-s.quit:
		return
	default:
		close(s.quit)
	}

	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.l.Errorf("error while closing connection: %s", err.Error())
	}
}

func (s *Session) emit(e events.Event) {
	e.Time = time.Now()
	e.SessionID = s.id
	e.Peer = s.peer.String()
	e.Filename = s.filename
	e.Direction = s.dir.String()

	s.events.Emit(e)
}
