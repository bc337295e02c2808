package spoofwatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch/detection"
	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch/transport"
)

type packet struct {
	data []byte
	addr netip.AddrPort
}

// mockConn is an in-memory transport.Conn driven by channels.
type mockConn struct {
	in   chan packet
	out  chan packet
	done chan struct{}
	once sync.Once
}

func newMockConn() *mockConn {
	return &mockConn{
		in:   make(chan packet, 16),
		out:  make(chan packet, 256),
		done: make(chan struct{}),
	}
}

func (m *mockConn) Send(data []byte, dst netip.AddrPort) error {
	select {
	case <-m.done:
		return transport.ErrClosed
	default:
	}
	select {
	case m.out <- packet{append([]byte(nil), data...), dst}:
	default:
	}
	return nil
}

func (m *mockConn) Receive() ([]byte, netip.AddrPort, error) {
	select {
	case p := <-m.in:
		return p.data, p.addr, nil
	case <-m.done:
		return nil, netip.AddrPort{}, transport.ErrClosed
	}
}

func (m *mockConn) LocalAddr() netip.AddrPort { return netip.AddrPort{} }

func (m *mockConn) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

func (m *mockConn) isClosed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

type logEntry struct {
	sev   Severity
	event EventID
	cat   Category
	msg   string
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) Log(sev Severity, event EventID, cat Category, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{sev, event, cat, msg})
}

func (l *recordingLogger) find(event EventID) []logEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []logEntry
	for _, e := range l.entries {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type countingRecorder struct {
	mu      sync.Mutex
	sent    map[detection.Protocol]int
	replies int
	probes  int
	levels  []detection.Confidence
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{sent: make(map[detection.Protocol]int)}
}

func (r *countingRecorder) RequestSent(p detection.Protocol) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[p]++
}

func (r *countingRecorder) Reply(detection.Protocol, detection.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies++
}

func (r *countingRecorder) Probe(detection.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes++
}

func (r *countingRecorder) Confidence(c detection.Confidence) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levels = append(r.levels, c)
}

func (r *countingRecorder) replyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replies
}

type fakeProber struct {
	result  func(target netip.Addr) detection.Result
	targets chan netip.Addr
}

func newFakeProber(result func(netip.Addr) detection.Result) *fakeProber {
	return &fakeProber{result: result, targets: make(chan netip.Addr, 16)}
}

func (f *fakeProber) Probe(ctx context.Context, target netip.Addr) detection.Result {
	f.targets <- target
	return f.result(target)
}

type staticResolver struct {
	addr  netip.Addr
	ok    bool
	local netip.Addr
}

func (r staticResolver) BroadcastAddress(netip.Addr) (netip.Addr, bool) {
	return r.addr, r.ok
}

func (r staticResolver) LocalAddress(netip.Addr) (netip.Addr, bool) {
	return r.local, r.local.IsValid()
}

type harness struct {
	d       *Detector
	conns   map[detection.Protocol]*mockConn
	log     *recordingLogger
	metrics *countingRecorder
	wpad    *fakeProber
	smb     *fakeProber

	mu       sync.Mutex
	listened []detection.Protocol
	changes  []detection.Confidence
}

var (
	responder = netip.MustParseAddrPort("192.168.1.24:5355")
	claimed   = netip.MustParseAddr("192.168.1.50")
)

func testSettings() Settings {
	s := DefaultSettings()
	s.Frequency = MinFrequency
	return s
}

func newHarness(t *testing.T, s Settings, resolver AddressResolver, failing ...detection.Protocol) *harness {
	t.Helper()
	h := &harness{
		conns:   make(map[detection.Protocol]*mockConn),
		log:     &recordingLogger{},
		metrics: newCountingRecorder(),
		wpad: newFakeProber(func(netip.Addr) detection.Result {
			return detection.Detection(detection.ProtocolWPAD, netip.MustParseAddrPort("192.168.1.50:80"), "Responder WPAD response", detection.Certain)
		}),
		smb: newFakeProber(func(a netip.Addr) detection.Result {
			return detection.Detection(detection.ProtocolSMB, netip.AddrPortFrom(a, 445), "Open", detection.Medium)
		}),
	}
	for _, p := range detection.NameServices {
		h.conns[p] = newMockConn()
	}
	listen := func(ctx context.Context, p detection.Protocol, port int) (transport.Conn, error) {
		h.mu.Lock()
		h.listened = append(h.listened, p)
		h.mu.Unlock()
		for _, f := range failing {
			if f == p {
				return nil, errors.New("address in use")
			}
		}
		return h.conns[p], nil
	}
	if resolver == nil {
		resolver = staticResolver{addr: netip.MustParseAddr("192.168.1.255"), ok: true}
	}

	d, err := New(s,
		WithLogger(h.log),
		WithMetrics(h.metrics),
		WithListener(listen),
		WithAddressResolver(resolver),
		WithWPADProber(h.wpad),
		WithSMBProber(h.smb),
		WithConfidenceChange(func(c detection.Confidence) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.changes = append(h.changes, c)
		}),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	h.d = d
	t.Cleanup(func() {
		d.Stop()
		d.Wait()
	})
	return h
}

func (h *harness) confidenceChanges() []detection.Confidence {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]detection.Confidence(nil), h.changes...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

// llmnrReply builds an LLMNR A reply for "ProxySvc" with the given flags and
// resource data.
func llmnrReply(flags uint16, rdata []byte) []byte {
	var b bytes.Buffer
	b.Write([]byte{0x12, 0x34, byte(flags >> 8), byte(flags), 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00})
	name := append([]byte{8}, "ProxySvc"...)
	b.Write(name)
	b.Write([]byte{0x00, 0x00, 0x01, 0x00, 0x01})
	b.Write(name)
	b.Write([]byte{0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x00, 0x1e, 0x00, byte(len(rdata))})
	b.Write(rdata)
	return b.Bytes()
}

func TestNew_InvalidSettings(t *testing.T) {
	s := testSettings()
	s.EnableLLMNR, s.EnableNBNS, s.EnableMDNS = false, false, false
	if _, err := New(s); !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("Expected ErrInvalidSettings, got %v", err)
	}
}

func TestNew_GeneratesPassword(t *testing.T) {
	d, err := New(testSettings())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := d.Settings().Password; len(got) != PasswordLength {
		t.Errorf("Expected a %d-character password, got %q", PasswordLength, got)
	}
}

func TestStart_SendsQueries(t *testing.T) {
	h := newHarness(t, testSettings(), nil)
	rounds := make(chan struct{}, 16)
	h.d.onSent = func() { rounds <- struct{}{} }

	if err := h.d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !h.d.Ready() {
		t.Error("Expected detector to be ready")
	}

	want := map[detection.Protocol]string{
		detection.ProtocolLLMNR: "224.0.0.252:5355",
		detection.ProtocolNBNS:  "192.168.1.255:137",
		detection.ProtocolMDNS:  "224.0.0.251:5353",
	}
	for p, dst := range want {
		select {
		case pkt := <-h.conns[p].out:
			if pkt.addr.String() != dst {
				t.Errorf("%s: expected destination %s, got %s", p, dst, pkt.addr)
			}
			if p == detection.ProtocolMDNS && (pkt.data[0] != 0 || pkt.data[1] != 0) {
				t.Errorf("mDNS query must use transaction id 0, got % x", pkt.data[:2])
			}
			if p == detection.ProtocolNBNS && len(pkt.data) != 50 {
				t.Errorf("Expected 50-byte NBNS query, got %d", len(pkt.data))
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s: no query sent", p)
		}
	}

	for i := 0; i < 2; i++ {
		select {
		case <-rounds:
		case <-time.After(2 * time.Second):
			t.Fatalf("Expected send round %d", i+1)
		}
	}

	h.metrics.mu.Lock()
	sent := h.metrics.sent[detection.ProtocolLLMNR]
	h.metrics.mu.Unlock()
	if sent < 1 {
		t.Errorf("Expected LLMNR requests to be counted, got %d", sent)
	}
}

func TestStart_BindFailureDisablesProtocol(t *testing.T) {
	h := newHarness(t, testSettings(), nil, detection.ProtocolNBNS)
	if err := h.d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	got := h.d.Enabled()
	if len(got) != 2 || got[0] != detection.ProtocolLLMNR || got[1] != detection.ProtocolMDNS {
		t.Errorf("Expected [LLMNR mDNS], got %v", got)
	}
	if h.d.Settings().EnableNBNS {
		t.Error("Expected NBNS to be disabled in settings")
	}

	entries := h.log.find(EventUnableToLoadUDPClient)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 bind failure entry, got %d", len(entries))
	}
	want := "Unable to load NBNS service (address in use). Disabling. UDP Port 49501 in use or insufficient privileges?"
	if entries[0].msg != want {
		t.Errorf("Expected %q, got %q", want, entries[0].msg)
	}
	if entries[0].cat != CategoryNonFatalError {
		t.Errorf("Expected NonFatalError, got %s", entries[0].cat)
	}
}

func TestStart_NoProtocols(t *testing.T) {
	h := newHarness(t, testSettings(), nil, detection.NameServices...)
	err := h.d.Start(context.Background())
	if !errors.Is(err, ErrNoProtocols) {
		t.Fatalf("Expected ErrNoProtocols, got %v", err)
	}
	if h.d.Ready() {
		t.Error("Expected detector not to be ready")
	}
	entries := h.log.find(EventNoValidServices)
	if len(entries) != 1 || entries[0].sev != SeverityError || entries[0].msg != "No network services could be created" {
		t.Errorf("Unexpected fatal log entries %+v", entries)
	}
}

func TestStart_NoBroadcastDisablesNBNS(t *testing.T) {
	h := newHarness(t, testSettings(), staticResolver{})
	if err := h.d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	h.mu.Lock()
	listened := append([]detection.Protocol(nil), h.listened...)
	h.mu.Unlock()
	for _, p := range listened {
		if p == detection.ProtocolNBNS {
			t.Error("NBNS socket should not be opened without a broadcast address")
		}
	}
	if len(h.log.find(EventNoBroadcastAdapterFound)) != 1 {
		t.Error("Expected a missing broadcast address warning")
	}
	for _, p := range h.d.Enabled() {
		if p == detection.ProtocolNBNS {
			t.Error("NBNS should not be enabled")
		}
	}
}

func TestStart_ResolvesSMBSource(t *testing.T) {
	preferred := netip.MustParseAddr("10.0.0.9")
	tests := []struct {
		name     string
		local    netip.Addr
		smb      bool
		expected netip.Addr
	}{
		{"interface address", netip.MustParseAddr("10.0.0.5"), true, netip.MustParseAddr("10.0.0.5")},
		{"no interface keeps preferred", netip.Addr{}, true, preferred},
		{"SMB disabled", netip.MustParseAddr("10.0.0.5"), false, preferred},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSettings()
			s.PreferredAddress = preferred
			s.EnableSMB = tt.smb
			listen := func(context.Context, detection.Protocol, int) (transport.Conn, error) {
				return newMockConn(), nil
			}
			d, err := New(s,
				WithListener(listen),
				WithAddressResolver(staticResolver{
					addr:  netip.MustParseAddr("10.0.0.255"),
					ok:    true,
					local: tt.local,
				}),
				WithWPADProber(newFakeProber(func(netip.Addr) detection.Result { return detection.Result{} })),
			)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			defer func() {
				d.Stop()
				d.Wait()
			}()
			if d.smbSource == nil {
				t.Fatal("Expected the built-in SMB check")
			}
			if err := d.Start(context.Background()); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			if d.smbSource.Source != tt.expected {
				t.Errorf("Expected SMB source %s, got %s", tt.expected, d.smbSource.Source)
			}
		})
	}
}

func TestNew_CustomSMBCheckKeepsNoSource(t *testing.T) {
	h := newHarness(t, testSettings(), staticResolver{addr: netip.MustParseAddr("192.168.1.255"), ok: true, local: netip.MustParseAddr("192.168.1.7")})
	if h.d.smbSource != nil {
		t.Error("Expected no built-in SMB check when one is supplied")
	}
	if err := h.d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
}

func TestStart_VerboseLoadingMessages(t *testing.T) {
	s := testSettings()
	s.Verbose = true
	h := newHarness(t, s, nil)
	if err := h.d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	loaded := h.log.find(EventLoadedUDPClient)
	if len(loaded) != 3 || loaded[0].msg != "Loaded LLMNR service on UDP port 49500" {
		t.Errorf("Unexpected loading messages %+v", loaded)
	}
	bcast := h.log.find(EventSetBroadcastAddress)
	if len(bcast) != 1 || bcast[0].msg != "NBNS client will broadcast to address 192.168.1.255" {
		t.Errorf("Unexpected broadcast messages %+v", bcast)
	}
	waitFor(t, "send round message", func() bool { return len(h.log.find(EventMessagesSent)) > 0 })
}

func TestStart_QuietByDefault(t *testing.T) {
	h := newHarness(t, testSettings(), nil)
	if err := h.d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if n := len(h.log.find(EventLoadedUDPClient)); n != 0 {
		t.Errorf("Expected no loading messages without Verbose, got %d", n)
	}
}

func TestDetector_DetectionTriggersProbes(t *testing.T) {
	h := newHarness(t, testSettings(), nil)
	if err := h.d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	h.conns[detection.ProtocolLLMNR].in <- packet{llmnrReply(0x8000, claimed.AsSlice()), responder}

	waitFor(t, "SMB probe log", func() bool { return len(h.log.find(EventSMBTestSucceeded)) == 1 })

	if got := <-h.wpad.targets; got != claimed {
		t.Errorf("Expected WPAD probe of %s, got %s", claimed, got)
	}
	if got := <-h.smb.targets; got != responder.Addr() {
		t.Errorf("Expected SMB probe of %s, got %s", responder.Addr(), got)
	}
	if h.d.Level() != detection.Certain {
		t.Errorf("Expected Certain, got %s", h.d.Level())
	}

	changes := h.confidenceChanges()
	if len(changes) != 2 || changes[0] != detection.Low || changes[1] != detection.Certain {
		t.Errorf("Expected changes [Low Certain], got %v", changes)
	}

	spoof := h.log.find(EventSpoofDetected)
	want := fmt.Sprintf("Received LLMNR response from %s claiming %s", responder, claimed)
	if len(spoof) != 1 || spoof[0].msg != want || spoof[0].sev != SeverityWarning {
		t.Errorf("Unexpected spoof entries %+v", spoof)
	}
	wpadFound := h.log.find(EventWPADProxyFound)
	if len(wpadFound) != 1 || wpadFound[0].msg != "Detected active WPAD service at 192.168.1.50:80 claiming Responder WPAD response" {
		t.Errorf("Unexpected WPAD entries %+v", wpadFound)
	}
	raised := h.log.find(EventConfidenceLevelIncreased)
	if len(raised) != 2 || raised[1].msg != "Spoofing confidence level adjusted to Certain" {
		t.Errorf("Unexpected confidence entries %+v", raised)
	}

	h.metrics.mu.Lock()
	defer h.metrics.mu.Unlock()
	if h.metrics.probes != 2 {
		t.Errorf("Expected 2 probes recorded, got %d", h.metrics.probes)
	}
	if len(h.metrics.levels) != 2 {
		t.Errorf("Expected 2 confidence levels recorded, got %v", h.metrics.levels)
	}
}

func TestDetector_ProbeFailures(t *testing.T) {
	h := newHarness(t, testSettings(), nil)
	h.wpad.result = func(a netip.Addr) detection.Result {
		return detection.Rejection(detection.ProtocolWPAD, netip.AddrPortFrom(a, 80), "Unable to contact WPAD server (refused)", detection.FalsePositive)
	}
	h.smb.result = func(a netip.Addr) detection.Result {
		return detection.Rejection(detection.ProtocolSMB, netip.AddrPortFrom(a, 445), "connection refused", detection.FalsePositive)
	}
	if err := h.d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	h.conns[detection.ProtocolMDNS].in <- packet{mdnsReply(), netip.MustParseAddrPort("192.168.1.24:5353")}

	waitFor(t, "SMB failure log", func() bool { return len(h.log.find(EventSMBTestFailed)) == 1 })
	if h.d.Level() != detection.Low {
		t.Errorf("Expected Low, got %s", h.d.Level())
	}
	failed := h.log.find(EventWPADProxyError)
	if len(failed) != 1 || !strings.Contains(failed[0].msg, "with error Unable to contact WPAD server (refused)") {
		t.Errorf("Unexpected WPAD failure entries %+v", failed)
	}
	smbFailed := h.log.find(EventSMBTestFailed)
	if smbFailed[0].msg != "Failed to connect to SMB TCP port at 192.168.1.24:445 with error connection refused" {
		t.Errorf("Unexpected SMB failure message %q", smbFailed[0].msg)
	}
}

func mdnsReply() []byte {
	var b bytes.Buffer
	b.Write([]byte{0x00, 0x00, 0x84, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00})
	b.Write(append([]byte{8}, "apple-tv"...))
	b.Write(append([]byte{5}, "local"...))
	b.Write([]byte{0x00, 0x00, 0x01, 0x80, 0x01, 0x00, 0x00, 0x00, 0x78, 0x00, 0x04})
	b.Write(claimed.AsSlice())
	return b.Bytes()
}

func TestDetector_ProbesDisabled(t *testing.T) {
	s := testSettings()
	s.EnableWPAD = false
	s.EnableSMB = false
	h := newHarness(t, s, nil)
	if err := h.d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	h.conns[detection.ProtocolLLMNR].in <- packet{llmnrReply(0x8000, claimed.AsSlice()), responder}
	waitFor(t, "Low confidence", func() bool { return h.d.Level() == detection.Low })

	if len(h.wpad.targets) != 0 || len(h.smb.targets) != 0 {
		t.Error("Expected no probes when disabled")
	}
}

func TestDetector_RejectionObserved(t *testing.T) {
	h := newHarness(t, testSettings(), nil)
	if err := h.d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	llmnr := h.conns[detection.ProtocolLLMNR]
	llmnr.in <- packet{llmnrReply(0x0000, claimed.AsSlice()), responder}
	waitFor(t, "rejection log", func() bool { return len(h.log.find(EventUnexpectedProtocolResponse)) == 1 })

	entry := h.log.find(EventUnexpectedProtocolResponse)[0]
	want := "Received response from 192.168.1.24:5355 with error Did not expect LLMNR flags other than 0x8000 (Expected LLMNR)"
	if entry.msg != want {
		t.Errorf("Expected %q, got %q", want, entry.msg)
	}
	if h.d.Level() != detection.FalsePositive {
		t.Errorf("Expected FalsePositive, got %s", h.d.Level())
	}

	// A wrong data length is a rejection that still raises confidence.
	llmnr.in <- packet{llmnrReply(0x8000, []byte{1, 2, 3, 4, 5, 6}), responder}
	waitFor(t, "Low confidence", func() bool { return h.d.Level() == detection.Low })

	if len(h.wpad.targets) != 0 || len(h.smb.targets) != 0 {
		t.Error("Rejections must not trigger probes")
	}
}

func TestDetector_EmptyDatagramIgnored(t *testing.T) {
	h := newHarness(t, testSettings(), nil)
	if err := h.d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	nbns := h.conns[detection.ProtocolNBNS]
	nbns.in <- packet{nil, netip.MustParseAddrPort("192.168.1.24:137")}
	nbns.in <- packet{[]byte{0xff}, netip.MustParseAddrPort("192.168.1.24:137")}
	waitFor(t, "unparseable rejection", func() bool { return len(h.log.find(EventUnexpectedProtocolResponse)) == 1 })

	if n := h.metrics.replyCount(); n != 1 {
		t.Errorf("Expected 1 reply recorded, got %d", n)
	}
	entry := h.log.find(EventUnexpectedProtocolResponse)[0]
	if !strings.Contains(entry.msg, "Unable to parse packet sent to port 49501") {
		t.Errorf("Unexpected message %q", entry.msg)
	}
}

func TestDetector_StopUnblocks(t *testing.T) {
	h := newHarness(t, testSettings(), nil)
	if err := h.d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	h.d.Stop()
	h.d.Stop()

	done := make(chan error, 1)
	go func() { done <- h.d.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Loops did not stop")
	}

	for p, c := range h.conns {
		if !c.isClosed() {
			t.Errorf("%s socket not closed", p)
		}
	}
	if h.d.Ready() {
		t.Error("Stopped detector should not be ready")
	}
	if err := h.d.Start(context.Background()); err == nil {
		t.Error("Expected error restarting a detector")
	}
}

func TestDetector_ContextCancelStops(t *testing.T) {
	h := newHarness(t, testSettings(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := h.d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	done := make(chan error, 1)
	go func() { done <- h.d.Wait() }()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Loops did not stop after cancel")
	}
	waitFor(t, "sockets closed", func() bool { return h.conns[detection.ProtocolLLMNR].isClosed() })
}

func TestDetector_StopBeforeStart(t *testing.T) {
	d, err := New(testSettings(), WithListener(func(context.Context, detection.Protocol, int) (transport.Conn, error) {
		return newMockConn(), nil
	}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	d.Stop()
	if err := d.Wait(); err != nil {
		t.Errorf("Wait before Start returned %v", err)
	}
	if err := d.Start(context.Background()); err == nil {
		t.Error("Expected Start after Stop to fail")
	}
}
