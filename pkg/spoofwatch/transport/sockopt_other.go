//go:build !unix

package transport

import "syscall"

// socketControl is a no-op where x/sys/unix is unavailable. The net package
// already enables broadcast on datagram sockets there.
func socketControl(reuse bool) func(network, address string, c syscall.RawConn) error {
	return nil
}
