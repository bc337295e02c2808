// Package config loads detector settings from a TOML file.
package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch"
)

// Config is everything the CLI needs to run a detector.
type Config struct {
	Settings spoofwatch.Settings
	// MetricsAddr is the listen address of the /metrics endpoint. Empty
	// disables it.
	MetricsAddr string
}

// Default returns the default settings with metrics disabled.
func Default() Config {
	return Config{Settings: spoofwatch.DefaultSettings()}
}

type fileConfig struct {
	LLMNR       bool   `toml:"llmnr"`
	NBNS        bool   `toml:"nbns"`
	MDNS        bool   `toml:"mdns"`
	LLMNRLookup string `toml:"llmnr_lookup"`
	NBNSLookup  string `toml:"nbns_lookup"`
	MDNSLookup  string `toml:"mdns_lookup"`
	LLMNRPort   int    `toml:"llmnr_port"`
	NBNSPort    int    `toml:"nbns_port"`
	MDNSPort    int    `toml:"mdns_port"`

	PreferredAddress string `toml:"preferred_address"`

	WPAD     bool   `toml:"wpad"`
	SMB      bool   `toml:"smb"`
	WPADPort int    `toml:"wpad_port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Domain   string `toml:"domain"`

	Frequency   string `toml:"frequency"`
	FrequencyMS int64  `toml:"frequency_ms"`
	Verbose     bool   `toml:"verbose"`

	MetricsAddr string `toml:"metrics_addr"`
}

// Load reads path over the defaults. Only keys present in the file change
// a value; unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := cfg.Overlay(path); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Overlay applies the keys defined in the TOML file at path to c.
func (c *Config) Overlay(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("load config: unknown keys %s", strings.Join(keys, ", "))
	}

	s := &c.Settings
	if meta.IsDefined("llmnr") {
		s.EnableLLMNR = raw.LLMNR
	}
	if meta.IsDefined("nbns") {
		s.EnableNBNS = raw.NBNS
	}
	if meta.IsDefined("mdns") {
		s.EnableMDNS = raw.MDNS
	}
	if meta.IsDefined("llmnr_lookup") {
		s.LLMNRLookup = strings.TrimSpace(raw.LLMNRLookup)
	}
	if meta.IsDefined("nbns_lookup") {
		s.NBNSLookup = strings.TrimSpace(raw.NBNSLookup)
	}
	if meta.IsDefined("mdns_lookup") {
		s.MDNSLookup = strings.TrimSpace(raw.MDNSLookup)
	}
	if meta.IsDefined("llmnr_port") {
		s.LLMNRPort = raw.LLMNRPort
	}
	if meta.IsDefined("nbns_port") {
		s.NBNSPort = raw.NBNSPort
	}
	if meta.IsDefined("mdns_port") {
		s.MDNSPort = raw.MDNSPort
	}

	if meta.IsDefined("preferred_address") {
		v := strings.TrimSpace(raw.PreferredAddress)
		if v == "" {
			s.PreferredAddress = netip.Addr{}
		} else {
			addr, err := netip.ParseAddr(v)
			if err != nil {
				return fmt.Errorf("parse preferred_address: %w", err)
			}
			s.PreferredAddress = addr
		}
	}

	if meta.IsDefined("wpad") {
		s.EnableWPAD = raw.WPAD
	}
	if meta.IsDefined("smb") {
		s.EnableSMB = raw.SMB
	}
	if meta.IsDefined("wpad_port") {
		s.WPADPort = raw.WPADPort
	}
	if meta.IsDefined("username") {
		s.Username = raw.Username
	}
	if meta.IsDefined("password") {
		s.Password = raw.Password
	}
	if meta.IsDefined("domain") {
		s.Domain = raw.Domain
	}

	if meta.IsDefined("frequency") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Frequency))
		if err != nil {
			return fmt.Errorf("parse frequency: %w", err)
		}
		s.Frequency = d
	}
	if meta.IsDefined("frequency_ms") {
		s.Frequency = time.Duration(raw.FrequencyMS) * time.Millisecond
	}
	if meta.IsDefined("verbose") {
		s.Verbose = raw.Verbose
	}

	if meta.IsDefined("metrics_addr") {
		c.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	return nil
}
