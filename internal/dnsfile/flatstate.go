// Package dnsfile implements component F: it merges every contributing
// entry into one flat resolver state and writes it out through one of
// four strategies (direct file, symlink, resolvconf, netconfig), plus an
// always-on private copy under the runtime directory (spec §4.6).
package dnsfile

import (
	"net"
	"strings"

	"dplaned/internal/dnsbackend"
	"dplaned/internal/dnsstore"
)

// FlatState is the merged, back-end-agnostic view of the resolver
// configuration (spec §4.6 "Flat-state assembly").
type FlatState struct {
	Nameservers []string
	Searches    []string
	Options     []string
	NISDomain   string
	NISServers  []string
}

// loopbackResolved and loopbackStub are the substituted nameserver
// addresses used when the local-cache back-end reports caching success
// (spec §4.6 "Caching substitution").
const (
	loopbackResolved = "127.0.0.53"
	loopbackStub     = "127.0.0.1"
)

// Assemble builds the flat state for one update cycle from the sorted
// precedence list, the host domain, and the optional global DNS
// configuration (spec §4.6). entries must already carry MergedDomains
// from a completed dnsmerge.Run pass.
func Assemble(entries []*dnsstore.Entry, hostDomain string, global *dnsbackend.GlobalDNSConfig) FlatState {
	if global != nil && len(global.WildcardServers) > 0 {
		// Global override: entirely bypasses per-entry nameservers
		// (SPEC_FULL §4 supplemented feature 4 — all-or-nothing).
		fs := FlatState{
			Nameservers: append([]string(nil), global.WildcardServers...),
			Searches:    append([]string(nil), global.Searches...),
			Options:     append([]string(nil), global.Options...),
		}
		return fs
	}

	contributing := contributingEntries(entries)

	var fs FlatState
	seenNS := map[string]bool{}
	seenSearch := map[string]bool{}
	seenOpt := map[string]bool{}

	trustADUnanimous := len(contributing) > 0
	nisSet := false

	for _, e := range contributing {
		for _, ns := range e.Snapshot.Nameservers {
			s := formatNameserver(ns, e.Snapshot.IfaceName)
			if s == "" || seenNS[s] {
				continue
			}
			seenNS[s] = true
			fs.Nameservers = append(fs.Nameservers, s)
		}
		for _, d := range e.MergedDomains.Search {
			if seenSearch[d] {
				continue
			}
			seenSearch[d] = true
			fs.Searches = append(fs.Searches, d)
		}
		for _, o := range e.Snapshot.Options {
			if seenOpt[o] {
				continue
			}
			seenOpt[o] = true
			fs.Options = append(fs.Options, o)
		}
		if !e.Snapshot.TrustAD {
			trustADUnanimous = false
		}
		if !nisSet && e.Snapshot.NISDomain != "" {
			fs.NISDomain = e.Snapshot.NISDomain
			fs.NISServers = ipsToStrings(e.Snapshot.NISServers)
			nisSet = true
		}
	}

	if hostDomain != "" && !seenSearch[hostDomain] {
		fs.Searches = append(fs.Searches, hostDomain)
	}
	if trustADUnanimous && !seenOpt["trust-ad"] {
		seenOpt["trust-ad"] = true
		fs.Options = append(fs.Options, "trust-ad")
	}
	if global != nil {
		for _, s := range global.Searches {
			if !seenSearch[s] {
				seenSearch[s] = true
				fs.Searches = append(fs.Searches, s)
			}
		}
		for _, o := range global.Options {
			if !seenOpt[o] {
				seenOpt[o] = true
				fs.Options = append(fs.Options, o)
			}
		}
	}

	return fs
}

// contributingEntries applies spec §4.6's "first-priority-negative" rule:
// let p0 be the priority of the first entry (in precedence order) that
// contributes nameservers; if p0 < 0, every subsequent entry with a
// different priority is skipped entirely.
func contributingEntries(entries []*dnsstore.Entry) []*dnsstore.Entry {
	var out []*dnsstore.Entry
	havePriority := false
	var p0 int32
	for _, e := range entries {
		if len(e.Snapshot.Nameservers) == 0 {
			continue
		}
		if !havePriority {
			p0 = e.Priority()
			havePriority = true
			out = append(out, e)
			continue
		}
		if p0 < 0 && e.Priority() != p0 {
			continue
		}
		out = append(out, e)
	}
	return out
}

// formatNameserver renders one nameserver literal per spec §4.6:
// IPv4-mapped IPv6 addresses are re-emitted as v4, link-local IPv6 gets
// the "%ifname" scope suffix, everything else is printed as-is.
func formatNameserver(ip net.IP, ifaceName string) string {
	if ip4 := ip.To4(); ip4 != nil {
		return ip4.String()
	}
	if ip.IsLinkLocalUnicast() && ifaceName != "" {
		return ip.String() + "%" + ifaceName
	}
	return ip.String()
}

func ipsToStrings(ips []net.IP) []string {
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		out = append(out, ip.String())
	}
	return out
}

// SubstituteLoopback replaces the server list with a single loopback
// nameserver once the local-cache back-end has reported success for this
// cycle (spec §4.6 "Caching substitution"), and ensures edns0/trust-ad
// are present unless the snapshot carrying them set an explicit no-*
// sentinel option ("_no-edns0", "_no-trust-ad").
func (fs FlatState) SubstituteLoopback(usingResolved bool) FlatState {
	out := fs
	if usingResolved {
		out.Nameservers = []string{loopbackResolved}
	} else {
		out.Nameservers = []string{loopbackStub}
	}

	noEdns0, noTrustAD := false, false
	for _, o := range fs.Options {
		switch o {
		case "_no-edns0":
			noEdns0 = true
		case "_no-trust-ad":
			noTrustAD = true
		}
	}
	opts := append([]string(nil), fs.Options...)
	if !noEdns0 && !contains(opts, "edns0") {
		opts = append(opts, "edns0")
	}
	if !noTrustAD && !contains(opts, "trust-ad") {
		opts = append(opts, "trust-ad")
	}
	out.Options = opts
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// visibleOptions strips reserved internal sentinels (leading "_") from
// the options line written to disk (spec §4.6 formatting rules).
func visibleOptions(opts []string) []string {
	out := make([]string, 0, len(opts))
	for _, o := range opts {
		if strings.HasPrefix(o, "_") {
			continue
		}
		out = append(out, o)
	}
	return out
}
