package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch"
	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch/detection"
	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch/network"
	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch/transport"
	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch/wire"
)

type queryFlags struct {
	protocol string
	name     string
	port     int
	tcp      bool
	timeout  time.Duration
	addr     string
}

// queryRequest is a single lookup sent to dst.
type queryRequest struct {
	protocol detection.Protocol
	name     string
	dst      netip.AddrPort
}

func newQueryCmd() *cobra.Command {
	var f queryFlags
	cmd := &cobra.Command{
		Use:   "query [target]",
		Short: "Send one lookup and print every reply received before the timeout",
		Long: "Send one lookup to target, or to the protocol's multicast group or broadcast\n" +
			"address when target is omitted, and print how each reply would be judged.",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request(args)
			if err != nil {
				return &exitError{code: exitBadArguments, err: err}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
			defer cancel()

			var conn transport.Conn
			if f.tcp {
				conn, err = transport.DialStream(ctx, req.dst, f.timeout)
			} else {
				conn, err = transport.ListenDatagram(ctx, transport.DatagramConfig{})
			}
			if err != nil {
				return err
			}
			n, err := exchange(ctx, conn, req, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d reply(s)\n", n)
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&f.protocol, "protocol", "P", "llmnr", "Protocol: llmnr, nbns or mdns")
	fs.StringVar(&f.name, "name", "", "Name to look up (defaults to the detector's lookup name)")
	fs.IntVar(&f.port, "port", 0, "Destination port (defaults to the protocol port)")
	fs.BoolVar(&f.tcp, "tcp", false, "Send over TCP with a two-byte length prefix (target required)")
	fs.DurationVar(&f.timeout, "timeout", 3*time.Second, "How long to wait for replies")
	fs.StringVarP(&f.addr, "addr", "a", "", "Preferred local IPv4 address for the NBNS broadcast")
	return cmd
}

func parseProtocol(s string) (detection.Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "llmnr":
		return detection.ProtocolLLMNR, nil
	case "nbns", "netbios", "nbt-ns":
		return detection.ProtocolNBNS, nil
	case "mdns":
		return detection.ProtocolMDNS, nil
	}
	return detection.ProtocolUnknown, fmt.Errorf("unknown protocol %q", s)
}

func (f *queryFlags) request(args []string) (queryRequest, error) {
	p, err := parseProtocol(f.protocol)
	if err != nil {
		return queryRequest{}, err
	}
	if f.timeout <= 0 {
		return queryRequest{}, fmt.Errorf("timeout must be positive, got %s", f.timeout)
	}
	if f.port < 0 || f.port > 65535 {
		return queryRequest{}, fmt.Errorf("port %d out of range", f.port)
	}

	req := queryRequest{protocol: p, name: f.name}
	if req.name == "" {
		req.name = spoofwatch.DefaultSettings().Lookup(p)
	}

	if len(args) == 1 {
		target, err := netip.ParseAddr(args[0])
		if err != nil {
			return queryRequest{}, fmt.Errorf("target: %w", err)
		}
		port := f.port
		if port == 0 {
			port = defaultPort(p)
		}
		req.dst = netip.AddrPortFrom(target, uint16(port))
		return req, nil
	}

	if f.tcp {
		return queryRequest{}, errors.New("--tcp needs a target")
	}
	var broadcast netip.Addr
	if p == detection.ProtocolNBNS {
		var preferred netip.Addr
		if f.addr != "" {
			if preferred, err = netip.ParseAddr(f.addr); err != nil {
				return queryRequest{}, fmt.Errorf("addr: %w", err)
			}
		}
		b, ok := network.Resolver{}.BroadcastAddress(preferred)
		if !ok {
			return queryRequest{}, errors.New("no broadcast address found for NBNS")
		}
		broadcast = b
	}
	if req.dst, err = wire.Destination(p, broadcast); err != nil {
		return queryRequest{}, err
	}
	if f.port != 0 {
		req.dst = netip.AddrPortFrom(req.dst.Addr(), uint16(f.port))
	}
	return req, nil
}

func defaultPort(p detection.Protocol) int {
	switch p {
	case detection.ProtocolNBNS:
		return wire.NBNSPort
	case detection.ProtocolMDNS:
		return wire.MDNSPort
	default:
		return wire.LLMNRPort
	}
}

// exchange sends req over conn and prints a line per reply until ctx is done
// or the peer closes. conn is closed on return.
func exchange(ctx context.Context, conn transport.Conn, req queryRequest, out io.Writer) (int, error) {
	defer conn.Close()

	data, id, err := wire.Encode(req.protocol, req.name)
	if err != nil {
		return 0, err
	}
	if err := conn.Send(data, req.dst); err != nil {
		return 0, err
	}
	fmt.Fprintf(out, "sent %s query 0x%04x for %q to %s\n", req.protocol, id, req.name, req.dst)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	dec := wire.Decoder{LocalPort: int(conn.LocalAddr().Port())}
	n := 0
	for {
		reply, src, err := conn.Receive()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return n, nil
			}
			return n, err
		}
		res, ok := dec.Decode(reply, src, req.protocol)
		if !ok {
			continue
		}
		n++
		fmt.Fprintf(out, "%s\n  %s\n", res, wire.Describe(reply))
	}
}
