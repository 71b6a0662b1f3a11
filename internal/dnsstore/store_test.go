package dnsstore

import (
	"net"
	"testing"

	"dplaned/internal/ipconfig"
)

type countingScheduler struct{ runs int }

func (c *countingScheduler) ScheduleUpdateCycle() { c.runs++ }

func snap(ifindex int, priority int32, family ipconfig.Family) *ipconfig.Snapshot {
	return &ipconfig.Snapshot{
		Ifindex:     ifindex,
		Family:      family,
		Priority:    priority,
		Nameservers: []net.IP{net.ParseIP("10.0.0.1")},
	}
}

func TestStore_SortedOrdersByPriorityThenTypeDescending(t *testing.T) {
	s := New(nil)

	s.SetIPConfig(ipconfig.FamilyV4, "eth0", snap(2, 20, ipconfig.FamilyV4), TypeDefault, false)
	s.SetIPConfig(ipconfig.FamilyV4, "vpn0", snap(3, 20, ipconfig.FamilyV4), TypeVPN, false)
	s.SetIPConfig(ipconfig.FamilyV4, "eth1", snap(4, 10, ipconfig.FamilyV4), TypeDefault, false)

	sorted := s.Sorted()
	if len(sorted) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(sorted))
	}
	// Lowest priority first; among equal priority, higher rank (VPN) first.
	if sorted[0].Ifindex() != 4 {
		t.Fatalf("expected priority-10 entry first, got ifindex %d", sorted[0].Ifindex())
	}
	if sorted[1].Type != TypeVPN || sorted[2].Type != TypeDefault {
		t.Fatalf("expected VPN to precede default at equal priority, got %v then %v", sorted[1].Type, sorted[2].Type)
	}
}

func TestStore_BestDeviceIsUniquePerFamily(t *testing.T) {
	s := New(nil)

	s.SetIPConfig(ipconfig.FamilyV4, "eth0", snap(2, 10, ipconfig.FamilyV4), TypeBestDevice, false)
	s.SetIPConfig(ipconfig.FamilyV4, "eth1", snap(3, 5, ipconfig.FamilyV4), TypeBestDevice, false)

	var bestCount int
	for _, e := range s.Sorted() {
		if e.Type == TypeBestDevice {
			bestCount++
		}
	}
	if bestCount != 1 {
		t.Fatalf("expected exactly one best-device entry per family, found %d", bestCount)
	}
}

func TestStore_BeginEndUpdatesCoalescesIntoOneCycle(t *testing.T) {
	sched := &countingScheduler{}
	s := New(sched)

	s.BeginUpdates("batch")
	s.SetIPConfig(ipconfig.FamilyV4, "eth0", snap(2, 10, ipconfig.FamilyV4), TypeDefault, false)
	s.SetIPConfig(ipconfig.FamilyV4, "eth1", snap(3, 20, ipconfig.FamilyV4), TypeDefault, false)
	if sched.runs != 0 {
		t.Fatalf("expected no cycle to run while a batch is open, got %d", sched.runs)
	}
	s.EndUpdates("batch")

	if sched.runs != 1 {
		t.Fatalf("expected exactly one cycle after EndUpdates, got %d", sched.runs)
	}
}

func TestStore_EndUpdatesWithoutBeginPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on unbalanced EndUpdates")
		}
	}()
	New(nil).EndUpdates("oops")
}

func TestStore_SetHostnameDerivesHostDomain(t *testing.T) {
	s := New(nil)
	s.SetHostname("myhost.example.com", true)
	if got := s.HostDomain(); got != "example.com" {
		t.Fatalf("expected host domain %q, got %q", "example.com", got)
	}
}
