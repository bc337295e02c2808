package spoofwatch

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch/detection"
	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch/wire"
)

// Default settings values.
const (
	DefaultLLMNRLookup = "ProxySvc"
	DefaultNBNSLookup  = "wpad-proxy"
	DefaultMDNSLookup  = "apple-tv"

	DefaultLLMNRPort = 49500
	DefaultNBNSPort  = 49501
	DefaultMDNSPort  = wire.MDNSPort

	DefaultWPADPort  = 80
	DefaultUsername  = "Guest"
	DefaultFrequency = 10 * time.Second

	// MinFrequency is the shortest permitted interval between send rounds.
	MinFrequency = 100 * time.Millisecond

	// PasswordLength is the length of generated passwords.
	PasswordLength = 40
)

var (
	// ErrInvalidSettings is wrapped by every Validate failure.
	ErrInvalidSettings = errors.New("invalid settings")
	// ErrNoProtocols is returned by Start when no protocol socket could be opened.
	ErrNoProtocols = errors.New("no network services could be created")
)

// Settings configures a Detector.
type Settings struct {
	EnableLLMNR bool
	EnableNBNS  bool
	EnableMDNS  bool

	// Names queried on each protocol. A spoofing responder answers any name.
	LLMNRLookup string
	NBNSLookup  string
	MDNSLookup  string

	// Local UDP ports the protocol sockets bind.
	LLMNRPort int
	NBNSPort  int
	MDNSPort  int

	// PreferredAddress selects the interface used for the NBNS broadcast
	// address and the SMB probe source. The zero Addr picks the first
	// eligible interface.
	PreferredAddress netip.Addr

	EnableWPAD bool
	EnableSMB  bool
	WPADPort   int

	// Credentials offered to a WPAD server that asks for them.
	Username string
	Password string
	Domain   string

	// Frequency is the interval between send rounds.
	Frequency time.Duration

	// Verbose enables informational loading and send-round messages.
	Verbose bool
}

// DefaultSettings returns settings with every protocol and probe enabled.
func DefaultSettings() Settings {
	return Settings{
		EnableLLMNR: true,
		EnableNBNS:  true,
		EnableMDNS:  true,
		LLMNRLookup: DefaultLLMNRLookup,
		NBNSLookup:  DefaultNBNSLookup,
		MDNSLookup:  DefaultMDNSLookup,
		LLMNRPort:   DefaultLLMNRPort,
		NBNSPort:    DefaultNBNSPort,
		MDNSPort:    DefaultMDNSPort,
		EnableWPAD:  true,
		EnableSMB:   true,
		WPADPort:    DefaultWPADPort,
		Username:    DefaultUsername,
		Frequency:   DefaultFrequency,
	}
}

// Enabled reports whether queries are sent for p.
func (s Settings) Enabled(p detection.Protocol) bool {
	switch p {
	case detection.ProtocolLLMNR:
		return s.EnableLLMNR
	case detection.ProtocolNBNS:
		return s.EnableNBNS
	case detection.ProtocolMDNS:
		return s.EnableMDNS
	case detection.ProtocolWPAD:
		return s.EnableWPAD
	case detection.ProtocolSMB:
		return s.EnableSMB
	default:
		return false
	}
}

// Lookup returns the name queried over p.
func (s Settings) Lookup(p detection.Protocol) string {
	switch p {
	case detection.ProtocolLLMNR:
		return s.LLMNRLookup
	case detection.ProtocolNBNS:
		return s.NBNSLookup
	case detection.ProtocolMDNS:
		return s.MDNSLookup
	default:
		return ""
	}
}

// LocalPort returns the local UDP port bound for p.
func (s Settings) LocalPort(p detection.Protocol) int {
	switch p {
	case detection.ProtocolLLMNR:
		return s.LLMNRPort
	case detection.ProtocolNBNS:
		return s.NBNSPort
	case detection.ProtocolMDNS:
		return s.MDNSPort
	default:
		return 0
	}
}

func (s *Settings) disable(p detection.Protocol) {
	switch p {
	case detection.ProtocolLLMNR:
		s.EnableLLMNR = false
	case detection.ProtocolNBNS:
		s.EnableNBNS = false
	case detection.ProtocolMDNS:
		s.EnableMDNS = false
	}
}

// Validate reports every problem with s at once. Each error wraps
// ErrInvalidSettings.
func (s Settings) Validate() error {
	var errs []error
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidSettings}, args...)...))
	}

	if !s.EnableLLMNR && !s.EnableNBNS && !s.EnableMDNS {
		fail("no name-service protocol enabled")
	}
	for _, p := range detection.NameServices {
		if !s.Enabled(p) {
			continue
		}
		name := s.Lookup(p)
		switch {
		case name == "":
			fail("%s lookup name is empty", p)
		case p == detection.ProtocolNBNS:
			if len(name) > wire.NetBIOSNameLength {
				fail("NBNS lookup name %q is longer than %d characters", name, wire.NetBIOSNameLength)
			}
		default:
			if !isSingleLabel(name) {
				fail("%s lookup name %q is not a single DNS label", p, name)
			}
		}
		if port := s.LocalPort(p); !validPort(port) {
			fail("%s port %d out of range 1-65535", p, port)
		}
	}
	if s.EnableWPAD && !validPort(s.WPADPort) {
		fail("WPAD port %d out of range 1-65535", s.WPADPort)
	}
	if s.Frequency < MinFrequency {
		fail("frequency %s is below %s", s.Frequency, MinFrequency)
	}
	if s.PreferredAddress.IsValid() && !s.PreferredAddress.Unmap().Is4() {
		fail("preferred address %s is not IPv4", s.PreferredAddress)
	}
	return errors.Join(errs...)
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}

func isSingleLabel(name string) bool {
	if strings.Contains(name, ".") {
		return false
	}
	labels, ok := dns.IsDomainName(name)
	return ok && labels == 1
}

// EnsurePassword fills Password with a generated one when a username is set
// without a password. It reports whether a password was generated.
func (s *Settings) EnsurePassword() bool {
	if s.Username == "" || s.Password != "" {
		return false
	}
	s.Password = GeneratePassword(PasswordLength)
	return true
}

const passwordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GeneratePassword returns n characters drawn from [A-Za-z0-9]. The
// generator is seeded from crypto/rand; the result only fills a credential
// field offered to a suspected attacker.
func GeneratePassword(n int) string {
	var seed [16]byte
	if _, err := crand.Read(seed[:]); err != nil {
		seed = [16]byte{}
		binary.LittleEndian.PutUint64(seed[:], uint64(time.Now().UnixNano()))
	}
	rng := rand.New(rand.NewPCG(binary.LittleEndian.Uint64(seed[:8]), binary.LittleEndian.Uint64(seed[8:])))

	b := make([]byte, n)
	for i := range b {
		b[i] = passwordAlphabet[rng.IntN(len(passwordAlphabet))]
	}
	return string(b)
}
