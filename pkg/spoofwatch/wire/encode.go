package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/miekg/dns"

	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch/detection"
)

const (
	// NetBIOSNameLength is the number of name bytes before the suffix byte.
	NetBIOSNameLength = 15
	// NetBIOSEncodedLength is the length of an encoded NetBIOS name label.
	NetBIOSEncodedLength = 32
	// SuffixFileServer is the NetBIOS service suffix for the file server service.
	SuffixFileServer byte = 0x20

	nbnsFlagsQuery uint16 = 0x0110 // recursion desired, broadcast
	nbnsTypeNB     uint16 = 0x0020
	classIN        uint16 = 0x0001
)

// Encode builds a query for name over p and returns it with its transaction
// id. The id is random except for mDNS, which always uses zero.
func Encode(p detection.Protocol, name string) ([]byte, uint16, error) {
	return EncodeWithID(p, name, uint16(rand.Uint32()))
}

// EncodeWithID is Encode with a caller-chosen transaction id. mDNS ignores id.
func EncodeWithID(p detection.Protocol, name string, id uint16) ([]byte, uint16, error) {
	var (
		data []byte
		err  error
	)
	switch p {
	case detection.ProtocolLLMNR:
		data, err = buildAQuery(name, id)
	case detection.ProtocolNBNS:
		data = buildNBNSQuery(name, id)
	case detection.ProtocolMDNS:
		id = 0
		data, err = buildAQuery(name+".local", id)
	default:
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownProtocol, p)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("pack %s query for %q: %w", p, name, err)
	}
	debugLog("%s query id=0x%04x name=%q: %s", p, id, name, hexPreview(data, 64))
	return data, id, nil
}

// buildAQuery packs a single-question, non-recursive A/IN query. With no
// flags set and compression off, miekg/dns emits exactly the LLMNR and mDNS
// query layout: id, zero flags, counts 1/0/0/0, labels, type, class.
func buildAQuery(name string, id uint16) ([]byte, error) {
	msg := new(dns.Msg)
	msg.Id = id
	msg.RecursionDesired = false
	msg.Question = []dns.Question{{
		Name:   dns.Fqdn(name),
		Qtype:  dns.TypeA,
		Qclass: dns.ClassINET,
	}}
	return msg.Pack()
}

// buildNBNSQuery constructs a broadcast NB name query for name with the file
// server suffix.
func buildNBNSQuery(name string, id uint16) []byte {
	var buf bytes.Buffer
	// Transaction ID
	_ = binary.Write(&buf, binary.BigEndian, id)
	// Flags
	_ = binary.Write(&buf, binary.BigEndian, nbnsFlagsQuery)
	// QDCOUNT=1
	_ = binary.Write(&buf, binary.BigEndian, uint16(1))
	// ANCOUNT, NSCOUNT, ARCOUNT = 0
	_ = binary.Write(&buf, binary.BigEndian, uint16(0))
	_ = binary.Write(&buf, binary.BigEndian, uint16(0))
	_ = binary.Write(&buf, binary.BigEndian, uint16(0))

	buf.WriteByte(NetBIOSEncodedLength)
	buf.Write(EncodeNetBIOSName(name, SuffixFileServer))
	buf.WriteByte(0) // null terminator

	_ = binary.Write(&buf, binary.BigEndian, nbnsTypeNB)
	_ = binary.Write(&buf, binary.BigEndian, classIN)
	return buf.Bytes()
}

// EncodeNetBIOSName applies the RFC 1001 first-level encoding to name. The
// name is upper-cased, cut or space-padded to 15 bytes and followed by
// suffix; every byte becomes two letters 'A'+high nibble, 'A'+low nibble.
// The result is always NetBIOSEncodedLength bytes.
func EncodeNetBIOSName(name string, suffix byte) []byte {
	raw := []byte(strings.ToUpper(name))
	if len(raw) > NetBIOSNameLength {
		raw = raw[:NetBIOSNameLength]
	}

	out := make([]byte, 0, NetBIOSEncodedLength)
	for _, b := range raw {
		out = appendNetBIOSByte(out, b)
	}
	for i := len(raw); i < NetBIOSNameLength; i++ {
		out = appendNetBIOSByte(out, ' ')
	}
	return appendNetBIOSByte(out, suffix)
}

func appendNetBIOSByte(dst []byte, b byte) []byte {
	return append(dst, 'A'+(b>>4), 'A'+(b&0x0F))
}

// decodeNetBIOSName returns the name unchanged. Detection relies on the
// answered address only, so the half-byte encoding is not reversed.
func decodeNetBIOSName(encoded string) string {
	return encoded
}
