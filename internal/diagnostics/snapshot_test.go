package diagnostics

import (
	"net"
	"testing"

	"dplaned/internal/dnsbackend"
	"dplaned/internal/dnsmanager"
	"dplaned/internal/dnsstore"
	"dplaned/internal/ipconfig"
	"dplaned/internal/resolvermode"
)

type stubGlobal struct{ cfg *dnsbackend.GlobalDNSConfig }

func (s stubGlobal) GlobalDNSConfig() *dnsbackend.GlobalDNSConfig { return s.cfg }

func TestBuildSnapshot_IncludesConfiguredEntriesOnly(t *testing.T) {
	registry := dnsbackend.NewRegistry(0, nil)
	mgr := dnsmanager.New(registry, nil)

	mgr.SetIPConfig(ipconfig.FamilyV4, "eth0", &ipconfig.Snapshot{
		Ifindex:     2,
		Family:      ipconfig.FamilyV4,
		Priority:    10,
		Nameservers: []net.IP{net.ParseIP("9.9.9.9")},
		IfaceName:   "eth0",
	}, dnsstore.TypeDefault, false)

	snap := BuildSnapshot(mgr, resolvermode.ModeSymlink, resolvermode.DNSModeDefault, nil)

	if snap.Mode != string(resolvermode.DNSModeDefault) {
		t.Fatalf("expected mode %q, got %q", resolvermode.DNSModeDefault, snap.Mode)
	}
	if snap.RCManager != string(resolvermode.ModeSymlink) {
		t.Fatalf("expected rc-manager %q, got %q", resolvermode.ModeSymlink, snap.RCManager)
	}
	if len(snap.Configuration) != 1 {
		t.Fatalf("expected exactly one configuration row, got %d", len(snap.Configuration))
	}
	if snap.Configuration[0].Nameservers[0] != "9.9.9.9" {
		t.Fatalf("expected nameserver 9.9.9.9, got %v", snap.Configuration[0].Nameservers)
	}
	if snap.Configuration[0].Interface != "eth0" {
		t.Fatalf("expected interface eth0, got %q", snap.Configuration[0].Interface)
	}
}

func TestBuildSnapshot_SynthesizesGlobalWildcardRow(t *testing.T) {
	registry := dnsbackend.NewRegistry(0, nil)
	mgr := dnsmanager.New(registry, nil)

	global := stubGlobal{cfg: &dnsbackend.GlobalDNSConfig{
		WildcardServers: []string{"1.1.1.1"},
		Searches:        []string{"example.com"},
	}}

	snap := BuildSnapshot(mgr, resolvermode.ModeUnmanaged, resolvermode.DNSModeNone, global)

	if len(snap.Configuration) != 1 {
		t.Fatalf("expected one synthesized global row, got %d", len(snap.Configuration))
	}
	if snap.Configuration[0].Priority != globalConfigPriority {
		t.Fatalf("expected the global row to carry the fixed out-of-band priority, got %d", snap.Configuration[0].Priority)
	}
}

func TestBuildSnapshot_NoConfigurationWithEmptyStore(t *testing.T) {
	registry := dnsbackend.NewRegistry(0, nil)
	mgr := dnsmanager.New(registry, nil)

	snap := BuildSnapshot(mgr, resolvermode.ModeUnmanaged, resolvermode.DNSModeNone, nil)
	if len(snap.Configuration) != 0 {
		t.Fatalf("expected no configuration rows, got %d", len(snap.Configuration))
	}
	if snap.UpdatePending {
		t.Fatal("expected update-pending false with no back-ends registered")
	}
}
