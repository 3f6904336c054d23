package session

import (
	"bytes"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Wa4h1h/tftp-engine/pkg/types"
)

type datagram struct {
	addr net.Addr
	b    []byte
}

// fakeConn is an in-memory net.PacketConn. Tests inject datagrams with
// push and read what the session wrote with next.
type fakeConn struct {
	in     chan datagram
	out    chan datagram
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan datagram, 64),
		out:    make(chan datagram, 1024),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case d := <-c.in:
		return copy(p, d.b), d.addr, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}

	c.out <- datagram{addr: addr, b: bytes.Clone(p)}

	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })

	return nil
}

func (c *fakeConn) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6900}
}

func (c *fakeConn) SetDeadline(time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) push(t *testing.T, from net.Addr, p types.Packet) {
	t.Helper()

	b, err := types.Encode(p)
	require.NoError(t, err)

	c.in <- datagram{addr: from, b: b}
}

func (c *fakeConn) next(t *testing.T) (types.Packet, net.Addr) {
	t.Helper()

	select {
	case d := <-c.out:
		p, err := types.Decode(d.b)
		require.NoError(t, err)

		return p, d.addr
	case <-time.After(2 * time.Second):
		t.Fatal("no packet written")

		return nil, nil
	}
}

func (c *fakeConn) raw(t *testing.T) []byte {
	t.Helper()

	select {
	case d := <-c.out:
		return d.b
	case <-time.After(2 * time.Second):
		t.Fatal("no packet written")

		return nil
	}
}

func (c *fakeConn) silent(t *testing.T, d time.Duration) {
	t.Helper()

	select {
	case got := <-c.out:
		p, _ := types.Decode(got.b)
		t.Fatalf("unexpected packet %v", p)
	case <-time.After(d):
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func udpAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session still %s", s.State())
	}
}
