// Package dnsmerge implements the domain-merge engine (component B): it
// runs once per update cycle against the sorted precedence list and fills
// in each entry's MergedDomains (search domains, reverse-DNS domains, and
// default-route disposition), following spec §4.2 exactly.
package dnsmerge

import (
	"strings"

	"github.com/miekg/dns"

	"dplaned/internal/dnsstore"
)

// Run executes one domain-merge pass over entries, which must already be
// in precedence order (dnsstore.Store.Sorted()). Every entry with at least
// one nameserver has its MergedDomains overwritten in place; entries
// without nameservers are left as they are. Callers must call Clear once the
// update cycle's back-ends are done reading MergedDomains, since the
// Search slices borrow strings owned by the entries' snapshots (spec
// invariant 4, design note on borrowed domain pointers).
func Run(entries []*dnsstore.Entry) {
	wildcardCandidate, anyExplicit := wildcardCandidates(entries)

	tracking := map[string]int32{}

	for _, e := range entries {
		if len(e.Snapshot.Nameservers) == 0 {
			continue
		}
		e.MergedDomains = dnsstore.MergedDomains{}
		mergeOne(e, wildcardCandidate[e], anyExplicit, tracking)
	}
}

// Clear wipes every entry's MergedDomains, releasing the borrowed string
// slices so they cannot outlive this update cycle (spec §4.2 "Clear
// step").
func Clear(entries []*dnsstore.Entry) {
	for _, e := range entries {
		e.MergedDomains = dnsstore.MergedDomains{}
	}
}

// wildcardCandidates implements Pass 1. When no entry qualifies under the
// explicit rules, the fallback is "any non-VPN entry with nameservers is a
// wildcard candidate" — anyExplicit being false signals callers to apply
// that fallback per-entry rather than trusting an empty map.
func wildcardCandidates(entries []*dnsstore.Entry) (map[*dnsstore.Entry]bool, bool) {
	out := map[*dnsstore.Entry]bool{}
	for _, e := range entries {
		if len(e.Snapshot.Nameservers) == 0 {
			continue
		}
		if e.Snapshot.BestDefaultRoute {
			out[e] = true
			continue
		}
		if e.Type == dnsstore.TypeVPN {
			never, explicit := e.Snapshot.HasNeverDefault()
			if explicit && !never && len(e.Snapshot.Searches) == 0 && len(e.Snapshot.Domains) == 0 {
				out[e] = true
			}
		}
	}
	return out, len(out) > 0
}

func mergeOne(e *dnsstore.Entry, isWildcardCandidate bool, anyExplicitWildcard bool, tracking map[string]int32) {
	if !anyExplicitWildcard {
		isWildcardCandidate = e.Type != dnsstore.TypeVPN
	}

	priority := e.Snapshot.Priority
	sourceDomains := e.Snapshot.Searches
	if len(sourceDomains) == 0 {
		sourceDomains = e.Snapshot.Domains
	}

	md := &e.MergedDomains
	explicitWildcardAdmitted := false
	wildcardAlreadyPresent := false

	for _, raw := range sourceDomains {
		canon, isWildcard := normalize(raw)
		if isWildcard {
			wildcardAlreadyPresent = true
		}
		if admit(tracking, canon, priority) {
			md.Search = append(md.Search, raw)
			if isWildcard {
				md.HasDefaultRouteExplicit = true
				explicitWildcardAdmitted = true
			}
		}
	}

	syntheticAdmitted := false
	if isWildcardCandidate && !wildcardAlreadyPresent {
		if admit(tracking, "", priority) {
			syntheticAdmitted = true
		}
	}

	wildcardAdmitted := explicitWildcardAdmitted || syntheticAdmitted
	md.HasDefaultRouteExclusive = md.HasDefaultRouteExplicit || (priority < 0 && wildcardAdmitted)
	md.HasDefaultRoute = md.HasDefaultRouteExclusive || wildcardAdmitted
	md.Reverse = reverseDomains(e)
}

// normalize parses a raw search/domain candidate into its canonical form:
// leading "~" stripped, whitespace trimmed, lower-cased, trailing dot
// removed. An empty canonical form is the wildcard domain.
func normalize(raw string) (canonical string, isWildcard bool) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "~")
	trimmed = strings.TrimSpace(trimmed)
	if trimmed == "" {
		return "", true
	}
	fq := dns.Fqdn(strings.ToLower(trimmed))
	canonical = strings.TrimSuffix(fq, ".")
	return canonical, canonical == ""
}

// admit applies the shadowing rule of spec §4.2 step 2-3.
func admit(tracking map[string]int32, candidate string, priority int32) bool {
	if old, ok := tracking[candidate]; ok && old < priority {
		return false
	}
	for _, parent := range parentDomains(candidate) {
		if p, ok := tracking[parent]; ok && p < 0 && p < priority {
			return false
		}
	}
	tracking[candidate] = priority
	return true
}

// parentDomains returns every dot-suffix of candidate (excluding itself)
// plus the wildcard "" domain, in narrowest-to-widest order. The wildcard
// domain itself has no parents.
func parentDomains(candidate string) []string {
	if candidate == "" {
		return nil
	}
	labels := strings.Split(candidate, ".")
	out := make([]string, 0, len(labels))
	for i := 1; i < len(labels); i++ {
		out = append(out, strings.Join(labels[i:], "."))
	}
	out = append(out, "")
	return out
}
