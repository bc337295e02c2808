package wire

import (
	"fmt"
	"strings"

	"github.com/miekg/dns"
)

// Describe renders a one-line summary of a DNS-shaped datagram for verbose
// logs. It is independent of Decode: it uses a full DNS parser and falls back
// to a hex preview when the datagram does not unpack.
func Describe(data []byte) string {
	msg := new(dns.Msg)
	if err := msg.Unpack(data); err != nil {
		return fmt.Sprintf("undecodable (%v): %s", err, hexPreview(data, 32))
	}

	var b strings.Builder
	kind := "query"
	if msg.Response {
		kind = "response"
	}
	fmt.Fprintf(&b, "id=0x%04x %s rcode=%s qd=%d an=%d ns=%d ar=%d",
		msg.Id, kind, dns.RcodeToString[msg.Rcode],
		len(msg.Question), len(msg.Answer), len(msg.Ns), len(msg.Extra))
	for _, q := range msg.Question {
		fmt.Fprintf(&b, " q=%s/%s", strings.TrimSuffix(q.Name, "."), dns.Type(q.Qtype))
	}
	for _, rr := range msg.Answer {
		switch v := rr.(type) {
		case *dns.A:
			fmt.Fprintf(&b, " a=%s->%s", strings.TrimSuffix(v.Hdr.Name, "."), v.A)
		default:
			fmt.Fprintf(&b, " rr=%s/%s", strings.TrimSuffix(rr.Header().Name, "."), dns.Type(rr.Header().Rrtype))
		}
	}
	return b.String()
}
