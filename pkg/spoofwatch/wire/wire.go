// Package wire builds and parses the minimal LLMNR, NBNS and mDNS messages
// needed to provoke and recognise a spoofed name-resolution answer.
//
// Queries are standard single-question A (LLMNR, mDNS) or NB (NBNS) requests.
// Replies are parsed with explicit bounds checks: Decode accepts any byte
// slice and always yields a Result instead of an error or a panic.
package wire

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"

	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch/detection"
)

const (
	// LLMNRPort is the LLMNR destination port.
	LLMNRPort = 5355
	// NBNSPort is the NetBIOS Name Service destination port.
	NBNSPort = 137
	// MDNSPort is the mDNS destination port.
	MDNSPort = 5353

	// LLMNRMulticastAddr is the LLMNR IPv4 multicast group.
	LLMNRMulticastAddr = "224.0.0.252"
	// MDNSMulticastAddr is the mDNS IPv4 multicast group.
	MDNSMulticastAddr = "224.0.0.251"
)

var (
	// LLMNRGroup is LLMNRMulticastAddr parsed.
	LLMNRGroup = netip.MustParseAddr(LLMNRMulticastAddr)
	// MDNSGroup is MDNSMulticastAddr parsed.
	MDNSGroup = netip.MustParseAddr(MDNSMulticastAddr)
)

// ErrUnknownProtocol is returned for protocols without a name-service wire format.
var ErrUnknownProtocol = errors.New("wire: unknown name-service protocol")

// DebugLogger is a callback for debug logging.
// Set this to receive debug messages from encode and decode operations.
var DebugLogger func(format string, args ...interface{})

func debugLog(format string, args ...interface{}) {
	if DebugLogger != nil {
		DebugLogger(format, args...)
	}
}

// Destination returns where a query for p is sent. broadcast is the local
// subnet broadcast address and is only consulted for NBNS.
func Destination(p detection.Protocol, broadcast netip.Addr) (netip.AddrPort, error) {
	switch p {
	case detection.ProtocolLLMNR:
		return netip.AddrPortFrom(LLMNRGroup, LLMNRPort), nil
	case detection.ProtocolNBNS:
		if !broadcast.Is4() {
			return netip.AddrPort{}, fmt.Errorf("wire: NBNS needs an IPv4 broadcast address, got %q", broadcast)
		}
		return netip.AddrPortFrom(broadcast, NBNSPort), nil
	case detection.ProtocolMDNS:
		return netip.AddrPortFrom(MDNSGroup, MDNSPort), nil
	default:
		return netip.AddrPort{}, fmt.Errorf("%w: %s", ErrUnknownProtocol, p)
	}
}

// hexPreview returns a short hex dump useful for debugging.
func hexPreview(b []byte, limit int) string {
	if len(b) == 0 {
		return "(empty)"
	}
	if len(b) > limit {
		return fmt.Sprintf("%s... (%d bytes total)", hex.EncodeToString(b[:limit]), len(b))
	}
	return hex.EncodeToString(b)
}
