// Package spoofwatch detects spoofing of LLMNR, NBNS and mDNS name
// resolution on the local network.
//
// A Detector periodically queries each enabled protocol for a name that
// should not exist. Any answer is suspicious; the answering host is then
// probed for a WPAD proxy file and open SMB ports, and every finding raises
// a process-wide confidence level that never decreases.
package spoofwatch

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch/detection"
	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch/network"
	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch/smb"
	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch/transport"
	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch/wire"
	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch/wpad"
)

// receiveRetryDelay paces a receiver after a non-fatal socket error.
const receiveRetryDelay = 100 * time.Millisecond

// Prober checks a suspected responder address.
type Prober interface {
	Probe(ctx context.Context, target netip.Addr) detection.Result
}

// Listener opens the socket for protocol p on local port port.
type Listener func(ctx context.Context, p detection.Protocol, port int) (transport.Conn, error)

// AddressResolver finds the local address and subnet broadcast address
// for a preferred local address.
type AddressResolver interface {
	BroadcastAddress(preferred netip.Addr) (netip.Addr, bool)
	LocalAddress(preferred netip.Addr) (netip.Addr, bool)
}

// Option customises a Detector.
type Option func(*Detector)

// WithLogger sets the receiver of operational messages.
func WithLogger(l Logger) Option {
	return func(d *Detector) { d.log = l }
}

// WithMetrics sets the receiver of pipeline measurements.
func WithMetrics(r Recorder) Option {
	return func(d *Detector) { d.metrics = r }
}

// WithListener replaces the UDP socket factory.
func WithListener(l Listener) Option {
	return func(d *Detector) { d.listen = l }
}

// WithAddressResolver replaces the interface-based address lookup.
func WithAddressResolver(r AddressResolver) Option {
	return func(d *Detector) { d.resolver = r }
}

// WithWPADProber replaces the HTTP WPAD prober.
func WithWPADProber(p Prober) Option {
	return func(d *Detector) { d.wpad = p }
}

// WithSMBProber replaces the TCP SMB prober.
func WithSMBProber(p Prober) Option {
	return func(d *Detector) { d.smb = p }
}

// WithConfidenceChange registers fn to be called each time the confidence
// level rises.
func WithConfidenceChange(fn func(detection.Confidence)) Option {
	return func(d *Detector) { d.onChange = fn }
}

// WithMessagesSent registers fn to be called after every send round.
func WithMessagesSent(fn func()) Option {
	return func(d *Detector) { d.onSent = fn }
}

// Detector sends bait queries and grades the replies.
type Detector struct {
	settings Settings
	log      Logger
	metrics  Recorder
	listen   Listener
	resolver AddressResolver
	wpad     Prober
	smb      Prober
	onChange func(detection.Confidence)
	onSent   func()

	// smbSource is the default SMB prober, whose source address Start
	// resolves. Nil when WithSMBProber replaced it.
	smbSource *smb.Prober

	tracker *detection.Tracker

	mu        sync.Mutex
	started   bool
	broadcast netip.Addr
	conns     map[detection.Protocol]transport.Conn
	enabled   []detection.Protocol
	group     *errgroup.Group
	cancel    context.CancelFunc

	stopped   atomic.Bool
	closeOnce sync.Once
}

// New validates s and returns a Detector. A password is generated when a
// username is set without one.
func New(s Settings, opts ...Option) (*Detector, error) {
	s.EnsurePassword()
	if err := s.Validate(); err != nil {
		return nil, err
	}

	d := &Detector{
		settings: s,
		log:      nopLogger{},
		metrics:  nopRecorder{},
		listen:   listenUDP,
		resolver: network.Resolver{},
		conns:    make(map[detection.Protocol]transport.Conn),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.wpad == nil {
		p := wpad.NewProber()
		p.Port = s.WPADPort
		p.Credentials = wpad.Credentials{Username: s.Username, Password: s.Password, Domain: s.Domain}
		d.wpad = p
	}
	if d.smb == nil {
		d.smbSource = smb.NewProber(s.PreferredAddress)
		d.smb = d.smbSource
	}
	d.tracker = detection.NewTracker(d.confidenceChanged)
	return d, nil
}

// listenUDP binds the datagram socket for p. The mDNS socket joins the mDNS
// group and shares its port with any local responder.
func listenUDP(ctx context.Context, p detection.Protocol, port int) (transport.Conn, error) {
	cfg := transport.DatagramConfig{Port: port}
	if p == detection.ProtocolMDNS {
		cfg.Groups = []netip.Addr{wire.MDNSGroup}
		cfg.ReuseAddr = true
	}
	return transport.ListenDatagram(ctx, cfg)
}

// Settings returns the effective settings, including a generated password
// and any protocol disabled during Start.
func (d *Detector) Settings() Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings
}

// Start opens a socket per enabled protocol and launches the sender and
// receiver loops. A protocol whose socket cannot be opened is disabled;
// Start fails with ErrNoProtocols only when none remain. The loops run
// until ctx is done or Stop is called.
func (d *Detector) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return errors.New("spoofwatch: detector already started")
	}
	if d.stopped.Load() {
		return errors.New("spoofwatch: detector stopped")
	}
	d.started = true

	if d.settings.EnableNBNS {
		if b, ok := d.resolver.BroadcastAddress(d.settings.PreferredAddress); ok {
			d.broadcast = b
			d.info(EventSetBroadcastAddress, CategoryLoadingInfo, "NBNS client will broadcast to address %s", b)
		} else {
			d.log.Log(SeverityWarning, EventNoBroadcastAdapterFound, CategoryNonFatalError,
				"Unable to find broadcast address for NBNS")
			d.settings.disable(detection.ProtocolNBNS)
		}
	}

	if d.settings.EnableSMB && d.smbSource != nil {
		if src, ok := d.resolver.LocalAddress(d.settings.PreferredAddress); ok {
			d.smbSource.Source = src
			debugLog(LogPrefixDetector, "SMB probes connect from %s", src)
		}
	}

	for _, p := range detection.NameServices {
		if !d.settings.Enabled(p) {
			continue
		}
		port := d.settings.LocalPort(p)
		conn, err := d.listen(ctx, p, port)
		if err != nil {
			d.log.Log(SeverityWarning, EventUnableToLoadUDPClient, CategoryNonFatalError,
				fmt.Sprintf("Unable to load %s service (%v). Disabling. UDP Port %d in use or insufficient privileges?", p, err, port))
			d.settings.disable(p)
			continue
		}
		d.conns[p] = conn
		d.enabled = append(d.enabled, p)
		d.info(EventLoadedUDPClient, CategoryLoadingInfo, "Loaded %s service on UDP port %d", p, port)
	}

	if len(d.enabled) == 0 {
		d.log.Log(SeverityError, EventNoValidServices, CategoryFatalError, "No network services could be created")
		return ErrNoProtocols
	}

	ctx, d.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	d.group = g

	enabled := append([]detection.Protocol(nil), d.enabled...)
	g.Go(func() error { return d.sendLoop(gctx, enabled) })
	for _, p := range enabled {
		conn := d.conns[p]
		g.Go(func() error { return d.receiveLoop(gctx, p, conn) })
	}
	go func() {
		<-gctx.Done()
		d.closeConns()
	}()
	debugLog(LogPrefixDetector, "started %v", enabled)
	return nil
}

// Stop sets the stop flag and closes every socket, unblocking the
// receivers. It does not wait for the loops; use Wait for that.
func (d *Detector) Stop() {
	d.stopped.Store(true)
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.closeConns()
}

// Wait blocks until every loop has returned.
func (d *Detector) Wait() error {
	d.mu.Lock()
	g := d.group
	d.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Ready reports whether at least one protocol is running with valid settings.
func (d *Detector) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.enabled) > 0 && !d.stopped.Load() && d.settings.Validate() == nil
}

// Level returns the highest confidence observed so far.
func (d *Detector) Level() detection.Confidence {
	return d.tracker.Level()
}

// Enabled returns the protocols that have a running socket.
func (d *Detector) Enabled() []detection.Protocol {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]detection.Protocol(nil), d.enabled...)
}

func (d *Detector) closeConns() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		conns := make([]transport.Conn, 0, len(d.conns))
		for _, c := range d.conns {
			conns = append(conns, c)
		}
		d.mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
}

func (d *Detector) sendLoop(ctx context.Context, protocols []detection.Protocol) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		if d.stopped.Load() {
			return nil
		}
		d.sendRound(protocols)
		timer.Reset(d.settings.Frequency)
	}
}

func (d *Detector) sendRound(protocols []detection.Protocol) {
	d.info(EventMessagesSent, CategoryLoadingInfo, "Sending round of broadcasts")
	for _, p := range protocols {
		data, id, err := wire.Encode(p, d.settings.Lookup(p))
		if err != nil {
			debugLog(ProtocolToPrefix(p), "encode: %v", err)
			continue
		}
		dst, err := wire.Destination(p, d.broadcast)
		if err != nil {
			debugLog(ProtocolToPrefix(p), "destination: %v", err)
			continue
		}
		if err := d.conns[p].Send(data, dst); err != nil {
			debugLog(ProtocolToPrefix(p), "send to %s: %v", dst, err)
			continue
		}
		d.metrics.RequestSent(p)
		debugLog(ProtocolToPrefix(p), "sent query 0x%04x for %q to %s", id, d.settings.Lookup(p), dst)
	}
	if d.onSent != nil {
		d.onSent()
	}
}

func (d *Detector) receiveLoop(ctx context.Context, p detection.Protocol, conn transport.Conn) error {
	dec := wire.Decoder{LocalPort: d.settings.LocalPort(p)}
	for {
		if d.stopped.Load() || ctx.Err() != nil {
			return nil
		}
		data, src, err := conn.Receive()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}
			debugLog(ProtocolToPrefix(p), "receive: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(receiveRetryDelay):
			}
			continue
		}
		d.handle(ctx, p, dec, data, src)
	}
}

// described renders a datagram with wire.Describe when it is formatted.
type described []byte

func (b described) String() string { return wire.Describe(b) }

// handle runs one reply through decode, confidence tracking and probes.
func (d *Detector) handle(ctx context.Context, p detection.Protocol, dec wire.Decoder, data []byte, src netip.AddrPort) {
	res, ok := dec.Decode(data, src, p)
	if !ok {
		return
	}
	debugLogVerbose(ProtocolToPrefix(p), "reply from %s: %s", src, described(data))
	d.metrics.Reply(p, res)

	if !res.Detected || res.Protocol != p {
		d.log.Log(SeverityInfo, EventUnexpectedProtocolResponse, CategoryDetectedUnexpectedCondition,
			fmt.Sprintf("Received response from %s with error %s (Expected %s)", res.Endpoint, res.Error, p))
		d.tracker.Observe(res.Confidence)
		return
	}

	d.log.Log(SeverityWarning, EventSpoofDetected, CategorySpoofNotice,
		fmt.Sprintf("Received %s response from %s claiming %s", p, res.Endpoint, res.Response))
	d.tracker.Observe(res.Confidence)

	if d.settings.EnableWPAD {
		if target, err := netip.ParseAddr(res.Response); err == nil {
			d.probed(d.wpad.Probe(ctx, target))
		}
	}
	if d.settings.EnableSMB {
		d.probed(d.smb.Probe(ctx, src.Addr()))
	}
}

func (d *Detector) probed(r detection.Result) {
	d.metrics.Probe(r)
	switch {
	case r.Protocol == detection.ProtocolWPAD && r.Detected:
		d.log.Log(SeverityWarning, EventWPADProxyFound, CategorySpoofNotice,
			fmt.Sprintf("Detected active WPAD service at %s claiming %s", r.Endpoint, r.Response))
	case r.Protocol == detection.ProtocolWPAD:
		d.log.Log(SeverityInfo, EventWPADProxyError, CategoryDetectedUnexpectedCondition,
			fmt.Sprintf("Received HTTP response from WPAD service %s with error %s", r.Endpoint, r.Error))
	case r.Detected:
		d.log.Log(SeverityWarning, EventSMBTestSucceeded, CategorySpoofNotice,
			fmt.Sprintf("Detected service on SMB TCP port at %s", r.Endpoint))
	default:
		d.log.Log(SeverityInfo, EventSMBTestFailed, CategoryDetectedUnexpectedCondition,
			fmt.Sprintf("Failed to connect to SMB TCP port at %s with error %s", r.Endpoint, r.Error))
	}
	d.tracker.Observe(r.Confidence)
}

func (d *Detector) confidenceChanged(c detection.Confidence) {
	d.log.Log(SeverityWarning, EventConfidenceLevelIncreased, CategorySpoofNotice,
		fmt.Sprintf("Spoofing confidence level adjusted to %s", c))
	d.metrics.Confidence(c)
	if d.onChange != nil {
		d.onChange(c)
	}
}

// info logs an informational loading message when Verbose is set.
func (d *Detector) info(event EventID, category Category, format string, args ...interface{}) {
	if d.settings.Verbose {
		d.log.Log(SeverityInfo, event, category, fmt.Sprintf(format, args...))
	}
}
