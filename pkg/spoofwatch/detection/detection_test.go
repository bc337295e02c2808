// Package detection tests for results and confidence tracking.
package detection

import (
	"net/netip"
	"sync"
	"testing"
)

func TestProtocol_String(t *testing.T) {
	tests := []struct {
		p    Protocol
		want string
	}{
		{ProtocolLLMNR, "LLMNR"},
		{ProtocolNBNS, "NBNS"},
		{ProtocolMDNS, "mDNS"},
		{ProtocolWPAD, "WPAD"},
		{ProtocolSMB, "SMB"},
		{ProtocolUnknown, "Unknown"},
		{Protocol(42), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.p.String(); got != tt.want {
			t.Errorf("Protocol(%d).String() = %q, want %q", int(tt.p), got, tt.want)
		}
	}
}

func TestProtocol_IsNameService(t *testing.T) {
	for _, p := range NameServices {
		if !p.IsNameService() {
			t.Errorf("%s should be a name service", p)
		}
	}
	for _, p := range []Protocol{ProtocolWPAD, ProtocolSMB, ProtocolUnknown} {
		if p.IsNameService() {
			t.Errorf("%s should not be a name service", p)
		}
	}
}

func TestConfidence_Ordering(t *testing.T) {
	order := []Confidence{FalsePositive, Low, Medium, High, Certain}
	for i := 1; i < len(order); i++ {
		if order[i-1] >= order[i] {
			t.Errorf("Expected %s < %s", order[i-1], order[i])
		}
	}
	if Certain.String() != "Certain" {
		t.Errorf("Expected Certain, got %s", Certain.String())
	}
}

func TestResult_Shapes(t *testing.T) {
	ep := netip.MustParseAddrPort("192.168.1.24:5355")

	d := Detection(ProtocolLLMNR, ep, "192.168.1.24", Low)
	if !d.Valid() || !d.Detected || d.Error != "" {
		t.Errorf("Detection has wrong shape: %+v", d)
	}

	r := Rejection(ProtocolUnknown, ep, "bad flags", FalsePositive)
	if !r.Valid() || r.Detected || r.Response != "" {
		t.Errorf("Rejection has wrong shape: %+v", r)
	}

	bad := Result{Detected: true}
	if bad.Valid() {
		t.Error("Detection without response should be invalid")
	}
	bad = Result{Detected: false}
	if bad.Valid() {
		t.Error("Rejection without error should be invalid")
	}
}

func TestTracker_StartsAtFalsePositive(t *testing.T) {
	tr := NewTracker(nil)
	if tr.Level() != FalsePositive {
		t.Errorf("Expected FalsePositive, got %s", tr.Level())
	}
}

func TestTracker_EscalationOrdering(t *testing.T) {
	tr := NewTracker(nil)
	seq := []Confidence{Low, Medium, FalsePositive, High}
	want := []Confidence{Low, Medium, Medium, High}

	prev := tr.Level()
	for i, c := range seq {
		tr.Observe(c)
		got := tr.Level()
		if got != want[i] {
			t.Errorf("After observation %d (%s): level = %s, want %s", i+1, c, got, want[i])
		}
		if got < prev {
			t.Errorf("Level decreased from %s to %s", prev, got)
		}
		prev = got
	}
}

func TestTracker_NotifiesOnlyOnIncrease(t *testing.T) {
	var changes []Confidence
	tr := NewTracker(func(c Confidence) { changes = append(changes, c) })

	for _, c := range []Confidence{Low, Low, FalsePositive, High, Medium, High, Certain} {
		tr.Observe(c)
	}

	want := []Confidence{Low, High, Certain}
	if len(changes) != len(want) {
		t.Fatalf("Expected %d notifications, got %d (%v)", len(want), len(changes), changes)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("Notification %d = %s, want %s", i, changes[i], want[i])
		}
	}
}

func TestTracker_ObserveReportsChange(t *testing.T) {
	tr := NewTracker(nil)
	if !tr.Observe(Medium) {
		t.Error("Expected Observe(Medium) to report a change")
	}
	if tr.Observe(Low) {
		t.Error("Expected Observe(Low) after Medium to report no change")
	}
	if tr.Observe(FalsePositive) {
		t.Error("Observing FalsePositive on a fresh level must never change it")
	}
}

func TestTracker_ConcurrentMax(t *testing.T) {
	var notified []Confidence
	tr := NewTracker(func(c Confidence) { notified = append(notified, c) })

	levels := []Confidence{FalsePositive, Low, Medium, High, Certain}
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tr.Observe(levels[n%len(levels)])
		}(i)
	}
	wg.Wait()

	if tr.Level() != Certain {
		t.Errorf("Expected Certain after concurrent observations, got %s", tr.Level())
	}
	for i := 1; i < len(notified); i++ {
		if notified[i] <= notified[i-1] {
			t.Errorf("Notifications out of order: %v", notified)
		}
	}
}
