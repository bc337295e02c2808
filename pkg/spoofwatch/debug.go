// Package spoofwatch: Debug logging support.
package spoofwatch

import (
	"sync"

	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch/smb"
	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch/transport"
	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch/wire"
	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch/wpad"
)

// DebugLevel represents the verbosity level for debug logging.
type DebugLevel int

const (
	// DebugOff disables all debug logging.
	DebugOff DebugLevel = iota
	// DebugBasic logs detector operations (sockets, rounds, probes).
	DebugBasic
	// DebugVerbose additionally logs packet-level detail from the wire,
	// transport and prober packages.
	DebugVerbose
)

// DebugLogger is a callback function for debug logging.
// The prefix parameter is one of the LogPrefix constants and names the
// component that generated the message.
type DebugLogger func(prefix string, format string, args ...interface{})

var (
	debugLogger DebugLogger
	debugLevel  DebugLevel
	debugMu     sync.RWMutex
)

// SetDebugLogger sets a custom debug logger callback and routes the
// package-level hooks of wire, transport, wpad and smb through it at
// DebugVerbose. Pass nil to disable debug logging.
func SetDebugLogger(logger DebugLogger) {
	debugMu.Lock()
	debugLogger = logger
	debugMu.Unlock()

	if logger == nil {
		wire.DebugLogger = nil
		transport.DebugLogger = nil
		wpad.DebugLogger = nil
		smb.DebugLogger = nil
		return
	}
	wire.DebugLogger = hook(LogPrefixWire)
	transport.DebugLogger = hook(LogPrefixTransport)
	wpad.DebugLogger = hook(LogPrefixWPAD)
	smb.DebugLogger = hook(LogPrefixSMB)
}

func hook(prefix string) func(format string, args ...interface{}) {
	return func(format string, args ...interface{}) {
		debugLogVerbose(prefix, format, args...)
	}
}

// SetDebugLevel sets the debug verbosity level.
func SetDebugLevel(level DebugLevel) {
	debugMu.Lock()
	defer debugMu.Unlock()
	debugLevel = level
}

// GetDebugLevel returns the current debug level.
func GetDebugLevel() DebugLevel {
	debugMu.RLock()
	defer debugMu.RUnlock()
	return debugLevel
}

// debugLog logs a message if debug logging is enabled.
func debugLog(prefix string, format string, args ...interface{}) {
	debugMu.RLock()
	logger := debugLogger
	level := debugLevel
	debugMu.RUnlock()

	if logger != nil && level >= DebugBasic {
		logger(prefix, format, args...)
	}
}

// debugLogVerbose logs a verbose message if verbose debug logging is enabled.
func debugLogVerbose(prefix string, format string, args ...interface{}) {
	debugMu.RLock()
	logger := debugLogger
	level := debugLevel
	debugMu.RUnlock()

	if logger != nil && level >= DebugVerbose {
		logger(prefix, format, args...)
	}
}
