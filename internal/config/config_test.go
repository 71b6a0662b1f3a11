package config

import "testing"

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.RCManager != "auto" {
		t.Errorf("expected default rc-manager auto, got %q", cfg.RCManager)
	}
	if cfg.ResolvConfPath != "/etc/resolv.conf" {
		t.Errorf("unexpected default resolv-conf path: %q", cfg.ResolvConfPath)
	}
	if cfg.DnsmasqPort != 53 {
		t.Errorf("expected default dnsmasq port 53, got %d", cfg.DnsmasqPort)
	}
}

func TestParse_RejectsUnknownDNSMode(t *testing.T) {
	_, err := Parse([]string{"-dns-mode=bogus"})
	if err == nil {
		t.Fatal("expected an error for an unrecognized -dns-mode value")
	}
}

func TestParse_OverridesRCManager(t *testing.T) {
	cfg, err := Parse([]string{"-rc-manager=immutable", "-dns-mode=dnsmasq"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.RCManager != "immutable" {
		t.Errorf("expected rc-manager override to take effect, got %q", cfg.RCManager)
	}
	if cfg.Mode != "dnsmasq" {
		t.Errorf("expected dns-mode override to take effect, got %q", cfg.Mode)
	}
}
