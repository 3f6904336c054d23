// Package transport opens the datagram sockets the engine talks through.
package transport

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
)

// Network opens packet sockets. The listener and every transfer get their
// own socket, which gives each transfer its own TID.
type Network interface {
	ListenPacket(ctx context.Context, address string) (net.PacketConn, error)
}

// UDP is the production Network.
type UDP struct {
	// ReusePort sets SO_REUSEPORT where the platform supports it.
	ReusePort bool
	// TOS is written to the IPv4 TOS byte of every socket when non zero.
	TOS int
}

func (u UDP) ListenPacket(ctx context.Context, address string) (net.PacketConn, error) {
	l := net.ListenConfig{}

	if u.ReusePort {
		l.Control = reusePort()
	}

	conn, err := l.ListenPacket(ctx, "udp", address)
	if err != nil {
		return nil, fmt.Errorf("error while listening on %s: %w", address, err)
	}

	if u.TOS != 0 {
		if err := ipv4.NewPacketConn(conn).SetTOS(u.TOS); err != nil {
			conn.Close()

			return nil, fmt.Errorf("error while setting tos %d on %s: %w", u.TOS, address, err)
		}
	}

	return conn, nil
}

// EphemeralAddress returns host:0 for the host part of addr, so a transfer
// socket binds the same interface as the listener on a fresh port.
func EphemeralAddress(addr net.Addr) string {
	if udpAddr, ok := addr.(*net.UDPAddr); ok && udpAddr.IP != nil && !udpAddr.IP.IsUnspecified() {
		return net.JoinHostPort(udpAddr.IP.String(), "0")
	}

	host, _, err := net.SplitHostPort(addr.String())
	if err != nil || host == "" || host == "::" || host == "0.0.0.0" {
		return ":0"
	}

	return net.JoinHostPort(host, "0")
}

// SameHost reports whether two addresses share an IP, ignoring the port.
func SameHost(a, b net.Addr) bool {
	ua, okA := a.(*net.UDPAddr)
	ub, okB := b.(*net.UDPAddr)

	if okA && okB {
		return ua.IP.Equal(ub.IP)
	}

	ha, _, errA := net.SplitHostPort(a.String())
	hb, _, errB := net.SplitHostPort(b.String())

	return errA == nil && errB == nil && ha == hb
}
