// Package smb checks whether a host that answered a name query accepts
// connections on the SMB ports, as a credential-capturing responder does.
package smb

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"time"

	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch/detection"
)

const (
	// NetBIOSSessionPort is SMB over the NetBIOS session service.
	NetBIOSSessionPort = 139
	// DirectPort is SMB over TCP.
	DirectPort = 445
)

// DefaultPorts are tried in order.
var DefaultPorts = []int{NetBIOSSessionPort, DirectPort}

// DebugLogger is a callback for debug logging.
// Set this to receive debug messages from SMB probes.
var DebugLogger func(format string, args ...interface{})

func debugLog(format string, args ...interface{}) {
	if DebugLogger != nil {
		DebugLogger(format, args...)
	}
}

// Prober opens a TCP connection to each SMB port until one accepts.
type Prober struct {
	// Ports are tried in order. Empty uses DefaultPorts.
	Ports []int
	// Source is the local address connections are made from, on an
	// ephemeral port. The zero Addr lets the system choose.
	Source netip.Addr
	// Timeout bounds each connection attempt. Zero leaves it to the system.
	Timeout time.Duration
}

// NewProber returns a Prober for the default ports from source.
func NewProber(source netip.Addr) *Prober {
	return &Prober{Ports: DefaultPorts, Source: source}
}

// Probe connects to target. The first port that accepts yields a Medium
// detection on that port; when every port fails the result is a
// FalsePositive rejection on port 445 carrying the last error.
func (p *Prober) Probe(ctx context.Context, target netip.Addr) detection.Result {
	ports := p.Ports
	if len(ports) == 0 {
		ports = DefaultPorts
	}
	target = target.Unmap()

	d := net.Dialer{Timeout: p.Timeout}
	if p.Source.IsValid() {
		d.LocalAddr = &net.TCPAddr{IP: p.Source.Unmap().AsSlice()}
	}

	lastErr := errors.New("no ports to probe")
	for _, port := range ports {
		ep := netip.AddrPortFrom(target, uint16(port))
		conn, err := d.DialContext(ctx, "tcp", ep.String())
		if err != nil {
			debugLog("SMB connect %s failed: %v", ep, err)
			lastErr = err
			continue
		}
		debugLog("SMB connect %s from %s succeeded", ep, conn.LocalAddr())
		conn.Close()
		return detection.Detection(detection.ProtocolSMB, ep, "Open", detection.Medium)
	}
	return detection.Rejection(detection.ProtocolSMB, netip.AddrPortFrom(target, DirectPort),
		lastErr.Error(), detection.FalsePositive)
}
