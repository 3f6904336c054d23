//go:build !unix

package transport

import "syscall"

type control func(network, address string, c syscall.RawConn) error

// SO_REUSEPORT has no equivalent here, the listener binds exclusively.
func reusePort() control {
	return nil
}
