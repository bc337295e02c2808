package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"
)

// Stream is a Conn over a connected stream socket. Each message is preceded
// by its length as a big-endian uint16.
type Stream struct {
	conn      net.Conn
	wmu       sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// DialStream connects to dst over TCP.
func DialStream(ctx context.Context, dst netip.AddrPort, timeout time.Duration) (*Stream, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", dst.String())
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", dst, err)
	}
	debugLog("stream connected %s -> %s", conn.LocalAddr(), conn.RemoteAddr())
	return NewStream(conn), nil
}

// NewStream wraps an established connection.
func NewStream(conn net.Conn) *Stream {
	return &Stream{conn: conn}
}

// Send writes one framed message. dst is ignored: a stream has a single peer.
func (s *Stream) Send(data []byte, dst netip.AddrPort) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("send: message of %d bytes exceeds %d", len(data), MaxMessageSize)
	}
	frame := make([]byte, 2+len(data))
	binary.BigEndian.PutUint16(frame, uint16(len(data)))
	copy(frame[2:], data)

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.conn.Write(frame); err != nil {
		return s.mapErr("send", err)
	}
	debugLog("sent %d framed bytes to %s", len(data), s.conn.RemoteAddr())
	return nil
}

// Receive reads one framed message from the peer.
func (s *Stream) Receive() ([]byte, netip.AddrPort, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(s.conn, hdr[:]); err != nil {
		return nil, netip.AddrPort{}, s.mapErr("receive", err)
	}
	data := make([]byte, binary.BigEndian.Uint16(hdr[:]))
	if _, err := io.ReadFull(s.conn, data); err != nil {
		return nil, netip.AddrPort{}, s.mapErr("receive", err)
	}
	return data, addrPortOf(s.conn.RemoteAddr()), nil
}

// LocalAddr returns the local endpoint of the connection.
func (s *Stream) LocalAddr() netip.AddrPort {
	return addrPortOf(s.conn.LocalAddr())
}

// Close closes the connection once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *Stream) mapErr(op string, err error) error {
	switch {
	case s.closed.Load(), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return ErrClosed
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: peer closed: %w", ErrClosed, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// addrPortOf returns the endpoint of a TCP or UDP address, or the zero value
// for other address kinds.
func addrPortOf(a net.Addr) netip.AddrPort {
	var ap netip.AddrPort
	switch v := a.(type) {
	case *net.TCPAddr:
		ap = v.AddrPort()
	case *net.UDPAddr:
		ap = v.AddrPort()
	default:
		return netip.AddrPort{}
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
