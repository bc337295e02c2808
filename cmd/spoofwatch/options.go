package main

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/spf13/pflag"

	"github.com/marcuoli/go-spoofwatch/internal/config"
	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch"
)

// watchFlags holds the detector flags. A flag only overrides the config
// file when it was set on the command line.
type watchFlags struct {
	configPath string

	llmnr bool
	nbns  bool
	mdns  bool
	wpad  bool
	smb   bool

	llmnrPort int
	nbnsPort  int
	mdnsPort  int
	wpadPort  int

	llmnrLookup string
	nbnsLookup  string
	mdnsLookup  string

	user   string
	pass   string
	domain string
	addr   string

	frequencyMS int
	verbose     bool
	debug       bool
	jsonLogs    bool
	metricsAddr string
}

func (f *watchFlags) register(fs *pflag.FlagSet) {
	d := spoofwatch.DefaultSettings()

	fs.StringVarP(&f.configPath, "config", "c", "", "TOML config file; flags set on the command line override it")

	fs.BoolVarP(&f.llmnr, "llmnr", "l", d.EnableLLMNR, "Send LLMNR requests")
	fs.IntVar(&f.llmnrPort, "llmnr-port", d.LLMNRPort, "Local LLMNR UDP port")
	fs.StringVar(&f.llmnrLookup, "llmnr-lookup", d.LLMNRLookup, "LLMNR lookup name")

	fs.BoolVarP(&f.nbns, "nbns", "n", d.EnableNBNS, "Send NetBIOS-NS requests")
	fs.IntVar(&f.nbnsPort, "nbns-port", d.NBNSPort, "Local NBNS UDP port")
	fs.StringVar(&f.nbnsLookup, "nbns-lookup", d.NBNSLookup, "NBNS lookup name")

	fs.BoolVarP(&f.mdns, "mdns", "m", d.EnableMDNS, "Send mDNS requests")
	fs.IntVar(&f.mdnsPort, "mdns-port", d.MDNSPort, "Local mDNS UDP port")
	fs.StringVar(&f.mdnsLookup, "mdns-lookup", d.MDNSLookup, "mDNS lookup name (.local is appended)")

	fs.BoolVarP(&f.wpad, "wpad", "w", d.EnableWPAD, "Probe spoofing hosts for a WPAD server")
	fs.IntVar(&f.wpadPort, "wpad-port", d.WPADPort, "WPAD HTTP port")
	fs.BoolVarP(&f.smb, "smb", "s", d.EnableSMB, "Probe spoofing hosts for open SMB ports")

	fs.StringVarP(&f.user, "user", "u", d.Username, "Username offered to WPAD servers; empty disables authentication")
	fs.StringVarP(&f.pass, "pass", "p", "", "Password offered to WPAD servers; generated when empty")
	fs.StringVarP(&f.domain, "domain", "d", "", "Domain offered to WPAD servers")
	fs.StringVarP(&f.addr, "addr", "a", "", "Preferred local IPv4 address for the NBNS broadcast and SMB probes")

	fs.IntVarP(&f.frequencyMS, "frequency", "f", int(d.Frequency/time.Millisecond), "Interval between request rounds in milliseconds")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "Log informational loading and send-round messages")
	fs.BoolVar(&f.debug, "debug", false, "Log packet-level debug output")
	fs.BoolVar(&f.jsonLogs, "json", false, "Write JSON log lines")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9110)")
}

// resolve builds the effective config: defaults, then the config file, then
// every flag changed on the command line.
func (f *watchFlags) resolve(fs *pflag.FlagSet) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return config.Config{}, err
		}
	}

	s := &cfg.Settings
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("llmnr", func() { s.EnableLLMNR = f.llmnr })
	set("nbns", func() { s.EnableNBNS = f.nbns })
	set("mdns", func() { s.EnableMDNS = f.mdns })
	set("wpad", func() { s.EnableWPAD = f.wpad })
	set("smb", func() { s.EnableSMB = f.smb })
	set("llmnr-port", func() { s.LLMNRPort = f.llmnrPort })
	set("nbns-port", func() { s.NBNSPort = f.nbnsPort })
	set("mdns-port", func() { s.MDNSPort = f.mdnsPort })
	set("wpad-port", func() { s.WPADPort = f.wpadPort })
	set("llmnr-lookup", func() { s.LLMNRLookup = f.llmnrLookup })
	set("nbns-lookup", func() { s.NBNSLookup = f.nbnsLookup })
	set("mdns-lookup", func() { s.MDNSLookup = f.mdnsLookup })
	set("user", func() { s.Username = f.user })
	set("pass", func() { s.Password = f.pass })
	set("domain", func() { s.Domain = f.domain })
	set("frequency", func() { s.Frequency = time.Duration(f.frequencyMS) * time.Millisecond })
	set("verbose", func() { s.Verbose = f.verbose })
	set("metrics-addr", func() { cfg.MetricsAddr = f.metricsAddr })

	if fs.Changed("addr") {
		s.PreferredAddress = netip.Addr{}
		if f.addr != "" {
			a, err := netip.ParseAddr(f.addr)
			if err != nil {
				return config.Config{}, fmt.Errorf("%w: preferred address %q: %w", spoofwatch.ErrInvalidSettings, f.addr, err)
			}
			s.PreferredAddress = a
		}
	}
	return cfg, nil
}
