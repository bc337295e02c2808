package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"golang.org/x/net/ipv4"
)

// DatagramConfig describes a UDP socket to bind.
type DatagramConfig struct {
	// Addr is the local address to bind. The zero value binds all IPv4 addresses.
	Addr netip.Addr
	// Port is the local port. Zero picks an ephemeral port.
	Port int
	// Groups are IPv4 multicast groups joined after binding.
	Groups []netip.Addr
	// Interface selects the interface for group membership. Nil lets the
	// system choose.
	Interface *net.Interface
	// ReuseAddr allows the port to be shared with another listener, as is
	// usual for 5353 on hosts running an mDNS responder.
	ReuseAddr bool
}

// Datagram is a Conn over a UDP socket with broadcast enabled and multicast
// loopback disabled.
type Datagram struct {
	conn      *net.UDPConn
	buf       []byte
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// ListenDatagram binds a UDP socket as described by cfg.
func ListenDatagram(ctx context.Context, cfg DatagramConfig) (*Datagram, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("transport: invalid port %d", cfg.Port)
	}
	bind := cfg.Addr
	if !bind.IsValid() {
		bind = netip.IPv4Unspecified()
	}
	laddr := netip.AddrPortFrom(bind.Unmap(), uint16(cfg.Port))

	lc := net.ListenConfig{Control: socketControl(cfg.ReuseAddr)}
	pconn, err := lc.ListenPacket(ctx, "udp4", laddr.String())
	if err != nil {
		return nil, fmt.Errorf("bind udp %s: %w", laddr, err)
	}
	conn := pconn.(*net.UDPConn)

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastLoopback(false); err != nil {
		debugLog("disable multicast loopback on %s: %v", conn.LocalAddr(), err)
	}
	for _, g := range cfg.Groups {
		if err := pc.JoinGroup(cfg.Interface, &net.UDPAddr{IP: g.AsSlice()}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("join multicast group %s: %w", g, err)
		}
		debugLog("joined multicast group %s on %s", g, conn.LocalAddr())
	}

	debugLog("datagram socket bound on %s", conn.LocalAddr())
	return &Datagram{
		conn: conn,
		buf:  make([]byte, MaxMessageSize),
	}, nil
}

// Send writes data to dst.
func (d *Datagram) Send(data []byte, dst netip.AddrPort) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if _, err := d.conn.WriteToUDPAddrPort(data, dst); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("send to %s: %w", dst, err)
	}
	debugLog("sent %d bytes to %s", len(data), dst)
	return nil
}

// Receive blocks for the next datagram. The returned slice is a copy owned
// by the caller. Receive must not be called concurrently with itself.
func (d *Datagram) Receive() ([]byte, netip.AddrPort, error) {
	n, src, err := d.conn.ReadFromUDPAddrPort(d.buf)
	if err != nil {
		if d.closed.Load() || errors.Is(err, net.ErrClosed) {
			return nil, netip.AddrPort{}, ErrClosed
		}
		return nil, netip.AddrPort{}, fmt.Errorf("receive: %w", err)
	}
	data := make([]byte, n)
	copy(data, d.buf[:n])
	src = netip.AddrPortFrom(src.Addr().Unmap(), src.Port())
	debugLog("received %d bytes from %s", n, src)
	return data, src, nil
}

// LocalAddr returns the bound endpoint.
func (d *Datagram) LocalAddr() netip.AddrPort {
	if a, ok := d.conn.LocalAddr().(*net.UDPAddr); ok {
		ap := a.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	}
	return netip.AddrPort{}
}

// Close closes the socket once. A blocked Receive returns ErrClosed.
func (d *Datagram) Close() error {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		d.closeErr = d.conn.Close()
	})
	return d.closeErr
}
