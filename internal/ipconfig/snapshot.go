// Package ipconfig defines the immutable IP configuration snapshot that
// device producers (DHCP, static config, VPN) hand to the DNS manager.
//
// A Snapshot is sealed at construction: nothing in this package ever
// mutates a Snapshot's fields after New returns it. Producers are free to
// share one Snapshot across many consumers; the DNS manager only ever
// holds a reference to it (see dnsstore.Entry), never a copy of its
// slices.
package ipconfig

import "net"

// Family is an address family the DNS manager tracks domains for.
type Family int

const (
	// FamilyUnspec is only valid as an argument to store operations that
	// apply to both families; a Snapshot itself always has a concrete
	// family.
	FamilyUnspec Family = iota
	FamilyV4
	FamilyV6
)

func (f Family) String() string {
	switch f {
	case FamilyV4:
		return "v4"
	case FamilyV6:
		return "v6"
	default:
		return "unspec"
	}
}

// RoutePrefix is a destination prefix attached to a Snapshot, used by the
// domain-merge engine to derive reverse-DNS zone names and compared by
// SemanticEqual.
type RoutePrefix struct {
	Dest      net.IPNet
	IsDefault bool
}

// Snapshot is the sealed IP configuration contributed
// by one device producer for one interface and address family.
//
// Every field is read-only after New returns. Consumers (dnsstore,
// dnsmerge) retain a *Snapshot for the lifetime of the dnsstore.Entry that
// references it; they never copy or mutate its slices.
type Snapshot struct {
	Ifindex int
	Family  Family

	Nameservers []net.IP
	Searches    []string
	Domains     []string
	WINSServers []net.IP // IPv4 only; empty for FamilyV6

	// Options are resolver options the producer wants on this
	// contribution (e.g. "ndots:2", "rotate"). Options beginning with "_"
	// are internal sentinels that never reach the written file.
	Options []string

	// NeverDefault is a ternary hint from the producer: nil means "no
	// opinion", true means "never use this device as the default route
	// for DNS", false means "this device may be used as the default
	// route".
	NeverDefault *bool

	// BestDefaultRoute makes this Snapshot a candidate for the wildcard
	// "~" search domain (Pass 1 of the domain-merge engine), independent of
	// the VPN/never-default rule; the candidate still passes through the
	// engine's shadowing check.
	BestDefaultRoute bool

	// Priority is the producer-assigned DNS priority. Zero means the
	// producer declined to participate in ordering: dnsstore rejects
	// entries with a zero priority (spec invariant 2).
	Priority int32

	// AddressPrefixes are the interface's own addresses, as host prefixes
	// (/32 for v4, /128 for v6).
	AddressPrefixes []net.IPNet

	// RoutePrefixes are the routes the producer installed. Together with
	// AddressPrefixes these feed the domain-merge engine's reverse-DNS
	// domain list; a RoutePrefix with IsDefault true is never converted to
	// a reverse domain.
	RoutePrefixes []RoutePrefix

	// IfaceName is the kernel name for Ifindex at capture time, used for
	// the "%ifname" link-local IPv6 scope suffix in the file/helper
	// back-end. It is a snapshot, not a live lookup — if the interface is
	// later renamed, this Snapshot's view is stale until the producer
	// contributes a fresh one.
	IfaceName string

	// TrustAD is the producer's opinion on whether the trust-ad resolver
	// option should be set for this contribution (used for the unanimity
	// rule in the file/helper back-end).
	TrustAD bool

	// NISDomain and NISServers are IPv4-only, consumed by the file/helper
	// back-end's flat-state assembly (first contributor wins).
	NISDomain  string
	NISServers []net.IP
}

// New seals a Snapshot. Ifindex must be positive; callers that don't yet
// have a real interface index (e.g. unit tests) should use a placeholder
// index of 1 rather than 0.
func New(s Snapshot) *Snapshot {
	cp := s
	cp.Nameservers = append([]net.IP(nil), s.Nameservers...)
	cp.Searches = append([]string(nil), s.Searches...)
	cp.Domains = append([]string(nil), s.Domains...)
	cp.WINSServers = append([]net.IP(nil), s.WINSServers...)
	cp.Options = append([]string(nil), s.Options...)
	cp.AddressPrefixes = append([]net.IPNet(nil), s.AddressPrefixes...)
	cp.RoutePrefixes = append([]RoutePrefix(nil), s.RoutePrefixes...)
	cp.NISServers = append([]net.IP(nil), s.NISServers...)
	return &cp
}

// HasNeverDefault reports whether the producer expressed an opinion and,
// if so, what it was.
func (s *Snapshot) HasNeverDefault() (value bool, explicit bool) {
	if s.NeverDefault == nil {
		return false, false
	}
	return *s.NeverDefault, true
}

// SemanticEqual reports whether two snapshots are equal in the
// DNS-relevant fields dnsstore.SetIPConfig uses to decide whether an
// incoming snapshot is a genuine change versus a same-pointer refresh.
// It compares Ifindex, Family, Priority, Nameservers, Searches, Domains,
// Options and RoutePrefixes; no other field (WINS, NIS, address
// prefixes, the default-route hints, TrustAD, IfaceName) is compared.
func (s *Snapshot) SemanticEqual(o *Snapshot) bool {
	if s == o {
		return true
	}
	if s == nil || o == nil {
		return false
	}
	if s.Ifindex != o.Ifindex || s.Family != o.Family || s.Priority != o.Priority {
		return false
	}
	if !sameIPs(s.Nameservers, o.Nameservers) {
		return false
	}
	if !sameStrings(s.Searches, o.Searches) || !sameStrings(s.Domains, o.Domains) {
		return false
	}
	if !sameStrings(s.Options, o.Options) {
		return false
	}
	if len(s.RoutePrefixes) != len(o.RoutePrefixes) {
		return false
	}
	for i := range s.RoutePrefixes {
		if s.RoutePrefixes[i].Dest.String() != o.RoutePrefixes[i].Dest.String() ||
			s.RoutePrefixes[i].IsDefault != o.RoutePrefixes[i].IsDefault {
			return false
		}
	}
	return true
}

func sameIPs(a, b []net.IP) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
