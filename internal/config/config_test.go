package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spoofwatch.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadOverridesDefinedKeysOnly(t *testing.T) {
	path := writeConfig(t, `
nbns = false
llmnr_lookup = "  CorpProxy "
mdns_port = 15353
preferred_address = "192.168.1.24"
wpad_port = 8080
domain = "CORP"
frequency = "2s"
verbose = true
metrics_addr = "127.0.0.1:9155"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	s := cfg.Settings
	if s.EnableNBNS {
		t.Fatalf("expected nbns disabled")
	}
	if !s.EnableLLMNR || !s.EnableMDNS {
		t.Fatalf("expected untouched protocols to stay enabled")
	}
	if s.LLMNRLookup != "CorpProxy" {
		t.Fatalf("unexpected llmnr lookup: %q", s.LLMNRLookup)
	}
	if s.NBNSLookup != spoofwatch.DefaultNBNSLookup {
		t.Fatalf("unexpected nbns lookup: %q", s.NBNSLookup)
	}
	if s.MDNSPort != 15353 || s.LLMNRPort != spoofwatch.DefaultLLMNRPort {
		t.Fatalf("unexpected ports: llmnr=%d mdns=%d", s.LLMNRPort, s.MDNSPort)
	}
	if s.PreferredAddress.String() != "192.168.1.24" {
		t.Fatalf("unexpected preferred address: %s", s.PreferredAddress)
	}
	if s.WPADPort != 8080 {
		t.Fatalf("unexpected wpad port: %d", s.WPADPort)
	}
	if s.Username != spoofwatch.DefaultUsername || s.Domain != "CORP" {
		t.Fatalf("unexpected credentials: %q %q", s.Username, s.Domain)
	}
	if s.Frequency != 2*time.Second {
		t.Fatalf("unexpected frequency: %v", s.Frequency)
	}
	if !s.Verbose {
		t.Fatalf("expected verbose")
	}
	if cfg.MetricsAddr != "127.0.0.1:9155" {
		t.Fatalf("unexpected metrics addr: %q", cfg.MetricsAddr)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("loaded settings should validate: %v", err)
	}
}

func TestLoadFrequencyMS(t *testing.T) {
	cfg, err := Load(writeConfig(t, "frequency = \"1m\"\nfrequency_ms = 250\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Settings.Frequency != 250*time.Millisecond {
		t.Fatalf("frequency_ms should win, got %v", cfg.Settings.Frequency)
	}
}

func TestLoadEmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	want := Default()
	if cfg.Settings != want.Settings || cfg.MetricsAddr != "" {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadClearsPreferredAddress(t *testing.T) {
	cfg := Default()
	cfg.Settings.PreferredAddress = netip.MustParseAddr("10.0.0.5")
	if err := cfg.Overlay(writeConfig(t, `preferred_address = ""`)); err != nil {
		t.Fatalf("overlay: %v", err)
	}
	if cfg.Settings.PreferredAddress.IsValid() {
		t.Fatalf("expected preferred address cleared, got %s", cfg.Settings.PreferredAddress)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad address", `preferred_address = "not-an-ip"`, "preferred_address"},
		{"bad frequency", `frequency = "often"`, "frequency"},
		{"unknown key", `llmnr_name = "x"`, "unknown keys llmnr_name"},
		{"bad syntax", `llmnr = `, "load config"},
		{"wrong type", `llmnr_port = "49500"`, "load config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
