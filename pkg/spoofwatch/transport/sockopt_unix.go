//go:build unix

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// socketControl sets SO_BROADCAST, and SO_REUSEADDR when reuse is set,
// before the socket is bound.
func socketControl(reuse bool) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var opErr error
		err := c.Control(func(fd uintptr) {
			if reuse {
				if opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); opErr != nil {
					return
				}
			}
			opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
		})
		if err != nil {
			return err
		}
		return opErr
	}
}
