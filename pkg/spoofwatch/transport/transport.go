// Package transport moves whole name-service messages over a socket.
//
// A Conn is implemented once per socket kind: Datagram wraps a UDP socket
// with multicast and broadcast options applied at bind time, Stream wraps a
// TCP connection using the two-byte length framing of DNS over TCP. The
// Detector only sees Conn, so tests can drive it with an in-memory fake.
package transport

import (
	"errors"
	"net/netip"
)

// MaxMessageSize bounds a single received message.
const MaxMessageSize = 65535

// ErrClosed is returned by Send and Receive once the Conn has been closed.
// Close unblocks a pending Receive, which then returns ErrClosed.
var ErrClosed = errors.New("transport: connection closed")

// Conn sends and receives whole messages.
type Conn interface {
	// Send transmits data to dst.
	Send(data []byte, dst netip.AddrPort) error
	// Receive blocks until a message arrives and returns it with its source.
	Receive() ([]byte, netip.AddrPort, error)
	// LocalAddr returns the bound local endpoint.
	LocalAddr() netip.AddrPort
	// Close releases the socket. It is safe to call more than once.
	Close() error
}

// DebugLogger is a callback for debug logging.
// Set this to receive debug messages from socket setup and I/O.
var DebugLogger func(format string, args ...interface{})

func debugLog(format string, args ...interface{}) {
	if DebugLogger != nil {
		DebugLogger(format, args...)
	}
}
