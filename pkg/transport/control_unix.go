//go:build unix

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

type control func(network, address string, c syscall.RawConn) error

func reusePort() control {
	return func(network, address string, c syscall.RawConn) error {
		var opErr error

		err := c.Control(func(fd uintptr) {
			opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		})
		if err != nil {
			return err
		}

		return opErr
	}
}
