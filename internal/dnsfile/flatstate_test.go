package dnsfile

import (
	"net"
	"strings"
	"testing"

	"dplaned/internal/dnsbackend"
	"dplaned/internal/dnsmerge"
	"dplaned/internal/dnsstore"
	"dplaned/internal/ipconfig"
)

func entryWithNS(priority int32, ifindex int, ns ...string) *dnsstore.Entry {
	var ips []net.IP
	for _, s := range ns {
		ips = append(ips, net.ParseIP(s))
	}
	store := dnsstore.New(nil)
	store.BeginUpdates("test")
	store.SetIPConfig(ipconfig.FamilyV4, "test", &ipconfig.Snapshot{
		Ifindex:     ifindex,
		Family:      ipconfig.FamilyV4,
		Nameservers: ips,
		Priority:    priority,
	}, dnsstore.TypeDefault, false)
	store.EndUpdates("test")
	for _, e := range store.Sorted() {
		if e.Priority() == priority {
			return e
		}
	}
	return nil
}

func TestContributingEntries_NegativePriorityExcludesOthers(t *testing.T) {
	e1 := entryWithNS(-100, 2, "10.0.0.1")
	e2 := entryWithNS(200, 3, "10.0.0.2")
	got := contributingEntries([]*dnsstore.Entry{e1, e2})
	if len(got) != 1 || got[0] != e1 {
		t.Fatalf("expected only the first, negative-priority entry to contribute, got %d entries", len(got))
	}
}

func TestContributingEntries_SamePriorityAllContribute(t *testing.T) {
	e1 := entryWithNS(-100, 2, "10.0.0.1")
	e2 := entryWithNS(-100, 3, "10.0.0.2")
	got := contributingEntries([]*dnsstore.Entry{e1, e2})
	if len(got) != 2 {
		t.Fatalf("expected both same-priority entries to contribute, got %d", len(got))
	}
}

func TestContributingEntries_NonNegativeAllContribute(t *testing.T) {
	e1 := entryWithNS(1, 2, "10.0.0.1")
	e2 := entryWithNS(50, 3, "10.0.0.2")
	got := contributingEntries([]*dnsstore.Entry{e1, e2})
	if len(got) != 2 {
		t.Fatalf("expected non-negative priorities to all contribute, got %d", len(got))
	}
}

func TestAssemble_TwoProvidersOrderedByPriority(t *testing.T) {
	e1 := &dnsstore.Entry{
		Snapshot: &ipconfig.Snapshot{
			Ifindex:     2,
			Family:      ipconfig.FamilyV4,
			Priority:    100,
			Nameservers: []net.IP{net.ParseIP("1.1.1.1")},
			Searches:    []string{"corp.example"},
		},
		Type: dnsstore.TypeDefault,
	}
	e2 := &dnsstore.Entry{
		Snapshot: &ipconfig.Snapshot{
			Ifindex:     3,
			Family:      ipconfig.FamilyV4,
			Priority:    50,
			Nameservers: []net.IP{net.ParseIP("8.8.8.8")},
			Searches:    []string{"home.example"},
		},
		Type: dnsstore.TypeDefault,
	}
	sorted := []*dnsstore.Entry{e2, e1} // precedence order: lower priority first
	dnsmerge.Run(sorted)
	defer dnsmerge.Clear(sorted)

	fs := Assemble(sorted, "", nil)
	if len(fs.Nameservers) != 2 || fs.Nameservers[0] != "8.8.8.8" || fs.Nameservers[1] != "1.1.1.1" {
		t.Fatalf("expected nameservers in precedence order [8.8.8.8 1.1.1.1], got %v", fs.Nameservers)
	}
	if len(fs.Searches) != 2 || fs.Searches[0] != "home.example" || fs.Searches[1] != "corp.example" {
		t.Fatalf("expected searches [home.example corp.example], got %v", fs.Searches)
	}
}

func TestAssemble_GlobalWildcardBypassesEntries(t *testing.T) {
	e := &dnsstore.Entry{
		Snapshot: &ipconfig.Snapshot{
			Ifindex:     2,
			Family:      ipconfig.FamilyV4,
			Priority:    10,
			Nameservers: []net.IP{net.ParseIP("10.0.0.1")},
		},
		Type: dnsstore.TypeDefault,
	}
	global := &dnsbackend.GlobalDNSConfig{
		WildcardServers: []string{"9.9.9.9"},
		Searches:        []string{"example.com"},
	}
	fs := Assemble([]*dnsstore.Entry{e}, "ignored.example", global)
	if len(fs.Nameservers) != 1 || fs.Nameservers[0] != "9.9.9.9" {
		t.Fatalf("expected only the global wildcard servers, got %v", fs.Nameservers)
	}
	if len(fs.Searches) != 1 || fs.Searches[0] != "example.com" {
		t.Fatalf("expected only the global searches, got %v", fs.Searches)
	}
}

func TestFoldSearchLines_SplitsLongLists(t *testing.T) {
	var domains []string
	for i := 0; i < 40; i++ {
		domains = append(domains, "example-domain-number.example.com")
	}
	lines := foldSearchLines(domains)
	if len(lines) < 2 {
		t.Fatalf("expected folding to produce multiple lines, got %d", len(lines))
	}
	for _, l := range lines {
		if len("search "+l) > searchLineLimit {
			t.Errorf("line exceeds limit: %d chars", len("search "+l))
		}
	}
}

func TestSubstituteLoopback_InjectsOptionsUnlessSuppressed(t *testing.T) {
	fs := FlatState{Nameservers: []string{"10.0.0.1"}, Options: nil}
	out := fs.SubstituteLoopback(true)
	if out.Nameservers[0] != "127.0.0.53" {
		t.Fatalf("expected resolved loopback, got %v", out.Nameservers)
	}
	if !contains(out.Options, "edns0") || !contains(out.Options, "trust-ad") {
		t.Fatalf("expected edns0/trust-ad injected, got %v", out.Options)
	}

	fs2 := FlatState{Nameservers: []string{"10.0.0.1"}, Options: []string{"_no-edns0"}}
	out2 := fs2.SubstituteLoopback(false)
	if out2.Nameservers[0] != "127.0.0.1" {
		t.Fatalf("expected stub loopback, got %v", out2.Nameservers)
	}
	if contains(out2.Options, "edns0") {
		t.Fatalf("expected edns0 suppressed by _no-edns0 sentinel")
	}
}

func TestRender_CommentsNameserversPastThree(t *testing.T) {
	fs := FlatState{Nameservers: []string{"1.1.1.1", "2.2.2.2", "3.3.3.3", "4.4.4.4"}}
	out := Render(fs)
	if strings.Count(out, "\nnameserver ") != 3 {
		t.Errorf("expected exactly 3 active nameserver lines, got:\n%s", out)
	}
	if !strings.Contains(out, "# nameserver 4.4.4.4") {
		t.Errorf("expected fourth nameserver to be commented out, got:\n%s", out)
	}
}

func TestRender_HidesSentinelOptions(t *testing.T) {
	fs := FlatState{Options: []string{"edns0", "_no-trust-ad"}}
	out := Render(fs)
	if !strings.Contains(out, "options edns0") {
		t.Errorf("expected edns0 option visible, got:\n%s", out)
	}
	if strings.Contains(out, "_no-trust-ad") {
		t.Errorf("expected sentinel option hidden, got:\n%s", out)
	}
}
