package session

import (
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Wa4h1h/tftp-engine/pkg/types"
	"github.com/Wa4h1h/tftp-engine/pkg/utils"
)

// Acceptor builds the session answering a request. It must not block on
// file I/O, files are opened once the session runs.
type Acceptor func(peer net.Addr, req *types.Request) (*Session, error)

// Replier answers a peer that has no session.
type Replier func(peer net.Addr, e *types.Error)

// Manager is the routing table of live sessions keyed by peer address.
type Manager struct {
	ctx      context.Context
	l        *zap.SugaredLogger
	sessions map[string]*Session
	accept   Acceptor
	reply    Replier
	cancel   context.CancelFunc
	group    errgroup.Group
	limit    int
	mu       sync.Mutex
}

// NewManager returns an empty table. A limit above zero caps the number of
// live sessions. A session stops counting once it is terminal, even while it
// still dallies.
func NewManager(l *zap.SugaredLogger, limit int, accept Acceptor, reply Replier) *Manager {
	if l == nil {
		l = zap.NewNop().Sugar()
	}

	if reply == nil {
		reply = func(net.Addr, *types.Error) {}
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		ctx:      ctx,
		cancel:   cancel,
		l:        l,
		sessions: make(map[string]*Session),
		accept:   accept,
		reply:    reply,
		limit:    limit,
	}

	return m
}

// Route dispatches one decoded packet received on the shared socket.
func (m *Manager) Route(peer net.Addr, pkt types.Packet) {
	if req, ok := pkt.(*types.Request); ok {
		m.open(peer, req)

		return
	}

	if s, ok := m.Lookup(peer.String()); ok {
		s.Deliver(peer, pkt)

		return
	}

	if _, isErr := pkt.(*types.Error); isErr {
		m.l.Debugf("ignoring error packet from unknown peer %s", peer)

		return
	}

	m.l.Debugf("%s from unknown peer %s", pkt.OpCode(), peer)
	m.reply(peer, types.ErrorFor(utils.ErrUnknownTransfer))
}

func (m *Manager) open(peer net.Addr, req *types.Request) {
	if _, ok := m.Lookup(peer.String()); ok {
		m.l.Debugf("ignoring repeated %s from %s", req.Opcode, peer)

		return
	}

	if m.accept == nil {
		m.reply(peer, types.ErrorFor(utils.ErrIllegalOperation))

		return
	}

	s, err := m.accept(peer, req)
	if err != nil {
		m.l.Debugf("rejecting %s %q from %s: %s", req.Opcode, req.Filename, peer, err.Error())
		m.reply(peer, types.ErrorFor(err))

		return
	}

	if err := m.Start(m.ctx, s); err != nil {
		m.l.Errorf("error while starting session for %s: %s", peer, err.Error())
		s.release()
		m.reply(peer, types.ErrorFor(err))
	}
}

// Start inserts s and runs it on its own goroutine until it is terminal,
// ctx is done or the manager is aborted.
func (m *Manager) Start(ctx context.Context, s *Session) error {
	key := s.peer.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil {
		return utils.ErrServerClosed
	}

	if _, ok := m.sessions[key]; ok {
		return utils.ErrSessionExists
	}

	if m.limit > 0 && len(m.sessions) >= m.limit {
		return utils.ErrTooManySessions
	}

	s.key = key
	s.onTerminal = m.remove

	run := func() error {
		sctx, cancel := context.WithCancel(m.ctx)
		defer cancel()

		stop := context.AfterFunc(ctx, cancel)
		defer stop()

		if err := s.Run(sctx); err != nil && !errors.Is(err, utils.ErrAborted) {
			m.l.Debugf("session %s ended: %s", s.id, err.Error())
		}

		return nil
	}

	m.sessions[key] = s
	m.group.Go(run)

	return nil
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.sessions[s.key]; ok && cur == s {
		delete(m.sessions, s.key)
	}
}

func (m *Manager) Lookup(key string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]

	return s, ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions)
}

// Abort cancels every live session. The manager accepts no new session
// afterwards.
func (m *Manager) Abort() {
	m.cancel()
}

// Wait blocks until every session goroutine has returned or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		_ = m.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
