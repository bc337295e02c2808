// Package detection holds the values shared by every stage of the spoofing
// pipeline: the protocol a reply arrived on, the confidence that spoofing is
// happening, and the per-packet Result.
package detection

import (
	"fmt"
	"net/netip"
)

// Protocol identifies the wire format and detection channel of a result.
type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolLLMNR
	ProtocolNBNS
	ProtocolMDNS
	ProtocolWPAD
	ProtocolSMB
)

// NameServices lists the protocols that are actively queried, in send order.
var NameServices = []Protocol{ProtocolLLMNR, ProtocolNBNS, ProtocolMDNS}

func (p Protocol) String() string {
	switch p {
	case ProtocolLLMNR:
		return "LLMNR"
	case ProtocolNBNS:
		return "NBNS"
	case ProtocolMDNS:
		return "mDNS"
	case ProtocolWPAD:
		return "WPAD"
	case ProtocolSMB:
		return "SMB"
	default:
		return "Unknown"
	}
}

// IsNameService reports whether p is one of the broadcast name-resolution protocols.
func (p Protocol) IsNameService() bool {
	return p == ProtocolLLMNR || p == ProtocolNBNS || p == ProtocolMDNS
}

// Confidence is an ordered estimate that spoofing is taking place.
// Larger values are more certain.
type Confidence int

const (
	FalsePositive Confidence = iota
	Low
	Medium
	High
	Certain
)

func (c Confidence) String() string {
	switch c {
	case FalsePositive:
		return "FalsePositive"
	case Low:
		return "Low"
	case Medium:
		return "Medium"
	case High:
		return "High"
	case Certain:
		return "Certain"
	default:
		return fmt.Sprintf("Confidence(%d)", int(c))
	}
}

// Result is the outcome of decoding one reply or running one probe.
//
// A Result is either a detection (Detected is true and Response holds the
// claimed answer) or a rejection (Detected is false and Error explains why).
// Use Detection and Rejection to build one.
type Result struct {
	Protocol   Protocol
	Endpoint   netip.AddrPort
	Detected   bool
	Response   string
	Error      string
	Confidence Confidence
}

// Detection returns a positive Result.
func Detection(p Protocol, endpoint netip.AddrPort, response string, c Confidence) Result {
	return Result{
		Protocol:   p,
		Endpoint:   endpoint,
		Detected:   true,
		Response:   response,
		Confidence: c,
	}
}

// Rejection returns a negative Result carrying msg.
func Rejection(p Protocol, endpoint netip.AddrPort, msg string, c Confidence) Result {
	return Result{
		Protocol:   p,
		Endpoint:   endpoint,
		Error:      msg,
		Confidence: c,
	}
}

// Valid reports whether r has exactly one of the two permitted shapes.
func (r Result) Valid() bool {
	if r.Detected {
		return r.Response != "" && r.Error == ""
	}
	return r.Response == "" && r.Error != ""
}

func (r Result) String() string {
	if r.Detected {
		return fmt.Sprintf("%s detected from %s: %s (%s)", r.Protocol, r.Endpoint, r.Response, r.Confidence)
	}
	return fmt.Sprintf("%s rejected from %s: %s (%s)", r.Protocol, r.Endpoint, r.Error, r.Confidence)
}
