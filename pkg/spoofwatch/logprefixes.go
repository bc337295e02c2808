// Package spoofwatch: Log prefix constants for consistent log tagging.
// These constants are exported so consumers can use them for consistent logging,
// but they are not required - consumers can use their own prefixes via SetDebugLogger.
package spoofwatch

import "github.com/marcuoli/go-spoofwatch/pkg/spoofwatch/detection"

// Log prefix constants for detector components.
// Format follows [Component] or [Component:Subcomponent] pattern.
const (
	// Main detector prefix
	LogPrefixDetector = "[Spoofwatch]"

	// Protocol-specific prefixes
	LogPrefixLLMNR = "[Spoofwatch:LLMNR]"
	LogPrefixNBNS  = "[Spoofwatch:NBNS]"
	LogPrefixMDNS  = "[Spoofwatch:mDNS]"
	LogPrefixWPAD  = "[Spoofwatch:WPAD]"
	LogPrefixSMB   = "[Spoofwatch:SMB]"

	// Shared layers
	LogPrefixWire      = "[Spoofwatch:Wire]"
	LogPrefixTransport = "[Spoofwatch:Transport]"

	// Debug prefix - use as "[DEBUG][Spoofwatch:*]" format
	LogPrefixDebug = "[DEBUG]"
)

// ProtocolToPrefix returns the log prefix for a given protocol.
func ProtocolToPrefix(p detection.Protocol) string {
	switch p {
	case detection.ProtocolLLMNR:
		return LogPrefixLLMNR
	case detection.ProtocolNBNS:
		return LogPrefixNBNS
	case detection.ProtocolMDNS:
		return LogPrefixMDNS
	case detection.ProtocolWPAD:
		return LogPrefixWPAD
	case detection.ProtocolSMB:
		return LogPrefixSMB
	default:
		return LogPrefixDetector
	}
}
