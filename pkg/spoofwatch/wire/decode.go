package wire

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch/detection"
)

const headerLen = 12

// Rejection messages produced by Decode.
const (
	MsgLLMNRFlags       = "Did not expect LLMNR flags other than 0x8000"
	MsgNBNSQuery        = "Received NBNS query but expected response"
	MsgNBNSNotInNetwork = "NBNS target not in network"
	MsgNBNSFlags        = "Did not expect first 4 bits of NBNS flag to be anything other than 0x1000"
	MsgMDNSQuery        = "Received mDNS query but expected response"
	MsgMDNSFlags        = "Did not expect first 4 bits of mDNS flag to be anything other than 0x1000"
	MsgNoAnswers        = "Received reply with no answers"
	MsgRanPastAnswers   = "Execution error, ran past parsing responses"
)

// Decoder parses name-service replies received on a local port.
type Decoder struct {
	// LocalPort is the port the reply was received on. It only appears in
	// the message of replies too short for their own structure.
	LocalPort int
}

// Decode parses a reply with a zero Decoder.
func Decode(data []byte, sender netip.AddrPort, p detection.Protocol) (detection.Result, bool) {
	return Decoder{}.Decode(data, sender, p)
}

// Decode parses data received from sender as a reply for protocol p.
//
// The second return is false when there is nothing to decide: the datagram
// is empty or has no sender. Otherwise the Result is either a rejection
// (Detected false, Error set) or a detection of the first answer's IPv4
// address at Low confidence. Decode never panics on any input.
//
// Transaction ids are not matched against outstanding queries.
func (d Decoder) Decode(data []byte, sender netip.AddrPort, p detection.Protocol) (detection.Result, bool) {
	if len(data) == 0 || !sender.IsValid() {
		return detection.Result{}, false
	}

	res, err := d.decode(data, sender, p)
	if err != nil {
		debugLog("%s reply from %s unparseable (%v): %s", p, sender, err, hexPreview(data, 64))
		return detection.Rejection(detection.ProtocolUnknown, sender, d.unparseable(), detection.FalsePositive), true
	}
	debugLog("%s reply from %s: %s", p, sender, res)
	return res, true
}

func (d Decoder) unparseable() string {
	if d.LocalPort > 0 {
		return fmt.Sprintf("Unable to parse packet sent to port %d", d.LocalPort)
	}
	return "Unable to parse packet"
}

func (d Decoder) decode(data []byte, sender netip.AddrPort, p detection.Protocol) (detection.Result, error) {
	// Flags are whatever of bytes 2-3 arrived. A short LLMNR reply fails
	// the exact flags comparison; NBNS and mDNS need each byte they test.
	var flags []byte
	if len(data) > 2 {
		flags = data[2:min(len(data), 4)]
	}
	flag := func(i int) (byte, error) {
		if i >= len(flags) {
			return 0, fmt.Errorf("flags byte %d missing from %d-byte reply", i, len(data))
		}
		return flags[i], nil
	}

	reject := func(msg string, c detection.Confidence) detection.Result {
		return detection.Rejection(detection.ProtocolUnknown, sender, msg, c)
	}

	switch p {
	case detection.ProtocolLLMNR:
		if len(flags) != 2 || flags[0] != 0x80 || flags[1] != 0x00 {
			return reject(MsgLLMNRFlags, detection.FalsePositive), nil
		}
	case detection.ProtocolNBNS:
		hi, err := flag(0)
		if err != nil {
			return detection.Result{}, err
		}
		if hi == 0x00 {
			return reject(MsgNBNSQuery, detection.FalsePositive), nil
		}
		lo, err := flag(1)
		if err != nil {
			return detection.Result{}, err
		}
		if lo == 0x03 {
			return reject(MsgNBNSNotInNetwork, detection.FalsePositive), nil
		}
		if hi>>4 != 0x08 {
			return reject(MsgNBNSFlags, detection.FalsePositive), nil
		}
	case detection.ProtocolMDNS:
		hi, err := flag(0)
		if err != nil {
			return detection.Result{}, err
		}
		if hi == 0x00 {
			return reject(MsgMDNSQuery, detection.FalsePositive), nil
		}
		if hi>>4 != 0x08 {
			return reject(MsgMDNSFlags, detection.FalsePositive), nil
		}
	default:
		return detection.Result{}, fmt.Errorf("%w: %s", ErrUnknownProtocol, p)
	}

	r := reader{buf: data}
	r.skip(4) // transaction id, flags
	questions := r.u16()
	answers := r.u16()
	_ = r.u16() // authority
	_ = r.u16() // additional
	if r.err != nil {
		return detection.Result{}, r.err
	}
	if answers == 0 {
		return reject(MsgNoAnswers, detection.FalsePositive), nil
	}

	// Skip one question: length byte, single label, terminator, type, class.
	if questions > 0 && r.remaining() > 0 {
		nameLen := int(r.u8())
		r.skipClamped(nameLen + 5)
	}
	if r.remaining() == 0 {
		return reject(MsgRanPastAnswers, detection.FalsePositive), nil
	}

	// First answer: length byte, name, terminator, type, class, TTL, rdlength.
	nameLen := int(r.u8())
	name := r.bytes(nameLen)
	if p == detection.ProtocolNBNS && r.err == nil {
		debugLog("NBNS answer name %q", decodeNetBIOSName(string(name)))
	}
	if p == detection.ProtocolMDNS {
		// Answer names are assumed to be "<name>.local"; skip the
		// 6-byte "\x05local" label.
		r.skip(6)
	}
	r.skip(1) // terminator
	r.skip(2) // type
	r.skip(2) // class
	r.skip(4) // TTL
	dataLen := int(r.u16())
	if r.err != nil {
		return detection.Result{}, r.err
	}

	switch p {
	case detection.ProtocolLLMNR, detection.ProtocolMDNS:
		if dataLen != 4 {
			return reject(fmt.Sprintf("Expected data length 4, instead received %d", dataLen), detection.Low), nil
		}
	case detection.ProtocolNBNS:
		if dataLen != 6 {
			return reject(fmt.Sprintf("Expected data length 6, instead received %d", dataLen), detection.Low), nil
		}
		r.skip(2) // NB flags
	}

	raw := r.bytes(4)
	if r.err != nil {
		return detection.Result{}, r.err
	}
	addr := netip.AddrFrom4([4]byte(raw))
	return detection.Detection(p, sender, addr.String(), detection.Low), nil
}

// reader is a bounds-checked big-endian cursor. After the first overrun
// every read returns zero values and err stays set.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.remaining() < n {
		r.err = fmt.Errorf("need %d bytes at offset %d, have %d", n, r.off, r.remaining())
		return false
	}
	return true
}

func (r *reader) u8() byte {
	if !r.need(1) {
		return 0
	}
	b := r.buf[r.off]
	r.off++
	return b
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) skip(n int) {
	if r.need(n) {
		r.off += n
	}
}

// skipClamped advances by n or to the end of the buffer, whichever is first.
func (r *reader) skipClamped(n int) {
	if r.err != nil {
		return
	}
	if n > r.remaining() {
		n = r.remaining()
	}
	r.off += n
}
