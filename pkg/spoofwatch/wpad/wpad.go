// Package wpad checks whether an address that answered a name query also
// serves a WPAD proxy configuration file, as a spoofing responder does.
package wpad

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/go-ntlmssp"

	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch/detection"
)

const (
	// DefaultPort is the HTTP port the WPAD file is requested from.
	DefaultPort = 80
	// DefaultTimeout bounds a whole probe.
	DefaultTimeout = 5 * time.Second
	// Path is the requested resource.
	Path = "/wpad.dat"
	// DefaultUserAgent imitates a desktop browser fetching proxy settings.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/42.0.2311.135 Safari/537.36 Edge/12.10136"

	// ResponderMarker appears in the WPAD file served by Responder.
	ResponderMarker = "RespProxySrv"
	// ProxyMarker appears in any PAC file that routes through a proxy.
	ProxyMarker = "PROXY"

	maxBody = 1 << 20
)

// Credentials are offered when the server asks for authentication. NTLM is
// negotiated when challenged for it, Basic otherwise.
type Credentials struct {
	Username string
	Password string
	Domain   string
}

// user returns the user name in DOMAIN\user form when a domain is set.
func (c Credentials) user() string {
	if c.Domain == "" {
		return c.Username
	}
	return c.Domain + `\` + c.Username
}

// Prober requests /wpad.dat from a candidate address.
type Prober struct {
	Port        int
	Timeout     time.Duration
	UserAgent   string
	Credentials Credentials

	// Client overrides the HTTP client. Nil builds one per probe with
	// keep-alives off, no proxy and NTLM negotiation.
	Client *http.Client
}

// DebugLogger is a callback for debug logging.
// Set this to receive debug messages from WPAD probes.
var DebugLogger func(format string, args ...interface{})

func debugLog(format string, args ...interface{}) {
	if DebugLogger != nil {
		DebugLogger(format, args...)
	}
}

// NewProber returns a Prober with default port, timeout and user agent.
func NewProber() *Prober {
	return &Prober{
		Port:      DefaultPort,
		Timeout:   DefaultTimeout,
		UserAgent: DefaultUserAgent,
	}
}

func (p *Prober) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	timeout := p.timeout()
	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
		DisableKeepAlives:     true,
		ResponseHeaderTimeout: timeout,
	}
	return &http.Client{
		Transport: ntlmssp.Negotiator{RoundTripper: transport},
		Timeout:   timeout,
	}
}

func (p *Prober) timeout() time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return DefaultTimeout
}

func (p *Prober) port() int {
	if p.Port > 0 {
		return p.Port
	}
	return DefaultPort
}

// Probe fetches the WPAD file from target and grades the answer.
//
// A 200 response is a detection: Certain when the body carries the
// Responder marker, High when it routes through a proxy, Medium otherwise.
// 401, 403 and 407 are Medium detections. Any other status is a Low
// rejection, and a failed request is a FalsePositive rejection.
func (p *Prober) Probe(ctx context.Context, target netip.Addr) detection.Result {
	endpoint := netip.AddrPortFrom(target.Unmap(), uint16(p.port()))
	url := "http://" + endpoint.String() + Path

	ctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return unreachable(endpoint, err)
	}
	ua := p.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	if p.Credentials.Username != "" {
		req.SetBasicAuth(p.Credentials.user(), p.Credentials.Password)
	}

	debugLog("GET %s", url)
	resp, err := p.client().Do(req)
	if err != nil {
		debugLog("GET %s failed: %v", url, err)
		return unreachable(endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		debugLog("reading body from %s: %v", url, err)
	}
	debugLog("GET %s -> %d (%d bytes)", url, resp.StatusCode, len(body))
	return grade(endpoint, resp.StatusCode, string(body))
}

func grade(endpoint netip.AddrPort, status int, body string) detection.Result {
	switch status {
	case http.StatusOK:
		switch {
		case strings.Contains(body, ResponderMarker):
			return detection.Detection(detection.ProtocolWPAD, endpoint, "Responder WPAD response", detection.Certain)
		case strings.Contains(body, ProxyMarker):
			return detection.Detection(detection.ProtocolWPAD, endpoint, "WPAD file", detection.High)
		default:
			return detection.Detection(detection.ProtocolWPAD, endpoint, "HTTP Code "+StatusName(status), detection.Medium)
		}
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusProxyAuthRequired:
		return detection.Detection(detection.ProtocolWPAD, endpoint, "HTTP Code "+StatusName(status), detection.Medium)
	default:
		return detection.Rejection(detection.ProtocolWPAD, endpoint, "Unexpected HTTP code "+StatusName(status), detection.Low)
	}
}

func unreachable(endpoint netip.AddrPort, err error) detection.Result {
	return detection.Rejection(detection.ProtocolWPAD, endpoint,
		fmt.Sprintf("Unable to contact WPAD server (%v)", err), detection.FalsePositive)
}

// StatusName returns the status text of code without spaces or hyphens,
// such as "ProxyAuthenticationRequired", or the number when it has no text.
func StatusName(code int) string {
	text := http.StatusText(code)
	if text == "" {
		return strconv.Itoa(code)
	}
	return strings.NewReplacer(" ", "", "-", "").Replace(text)
}
