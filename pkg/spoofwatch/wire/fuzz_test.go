package wire

import (
	"math/rand/v2"
	"net/netip"
	"testing"

	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch/detection"
)

func checkDecode(t testing.TB, data []byte, p detection.Protocol) {
	t.Helper()
	res, ok := Decoder{LocalPort: 49500}.Decode(data, responder, p)
	if len(data) == 0 {
		if ok {
			t.Fatalf("Expected no decision for empty input")
		}
		return
	}
	if !ok {
		t.Fatalf("Expected a decision for %d-byte input", len(data))
	}
	if !res.Valid() {
		t.Fatalf("Invalid result shape for % x: %+v", data, res)
	}
	if res.Detected && res.Protocol != p {
		t.Fatalf("Detection carries protocol %s, want %s", res.Protocol, p)
	}
	if !res.Detected && res.Protocol != detection.ProtocolUnknown {
		t.Fatalf("Rejection carries protocol %s, want Unknown", res.Protocol)
	}
}

// TestDecode_RandomInput feeds seeded random datagrams, including ones with
// valid-looking headers, through every name-service decoder.
func TestDecode_RandomInput(t *testing.T) {
	rng := rand.New(rand.NewPCG(0x5eed, 0xdec0de))
	headers := [][]byte{
		{0x00, 0x01, 0x80, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00},
		{0x00, 0x01, 0x85, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00},
		{0x00, 0x00, 0x84, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00},
	}

	iterations := 10000
	if testing.Short() {
		iterations = 1000
	}
	for i := 0; i < iterations; i++ {
		n := rng.IntN(512)
		data := make([]byte, n)
		for j := range data {
			data[j] = byte(rng.UintN(256))
		}
		if n > 12 && i%2 == 0 {
			copy(data, headers[rng.IntN(len(headers))])
		}
		for _, p := range detection.NameServices {
			checkDecode(t, data, p)
		}
	}
}

func FuzzDecode(f *testing.F) {
	f.Add(llmnrReply(1, 0x8000, "ProxySvc", claimed), uint8(detection.ProtocolLLMNR))
	f.Add(nbnsReply(0x8500, 1, "wpad-proxy", []byte{0, 0, 10, 0, 0, 1}), uint8(detection.ProtocolNBNS))
	f.Add(mdnsReply(0x8400, "apple-tv", claimed), uint8(detection.ProtocolMDNS))
	f.Add([]byte{0x00, 0x01, 0x80, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0xff}, uint8(detection.ProtocolLLMNR))

	f.Fuzz(func(t *testing.T, data []byte, proto uint8) {
		p := detection.NameServices[int(proto)%len(detection.NameServices)]
		checkDecode(t, data, p)
	})
}

func TestDecode_SenderPreserved(t *testing.T) {
	sender := netip.MustParseAddrPort("[fe80::1]:5353")
	res, ok := Decode([]byte{0xff}, sender, detection.ProtocolMDNS)
	if !ok {
		t.Fatal("Expected a decision")
	}
	if res.Endpoint != sender {
		t.Errorf("Expected endpoint %s, got %s", sender, res.Endpoint)
	}
}
