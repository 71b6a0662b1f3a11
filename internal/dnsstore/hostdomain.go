package dnsstore

import (
	"net"
	"strings"
)

// publicTLDs is the conservative, fixed table the original implementation
// uses in place of a full public-suffix list: assume_any_tld_is_public is
// false, so only these well-known suffixes count as "public". Anything
// else — including single-label hosts, .local, .lan, .internal, and
// unrecognized TLDs — is rejected (spec §4.1, SPEC_FULL §4 supplemented feature 5).
var publicTLDs = map[string]bool{
	"com": true, "net": true, "org": true, "info": true, "biz": true,
	"edu": true, "gov": true, "mil": true, "int": true,
	"io": true, "co": true, "dev": true, "app": true, "me": true,
	"us": true, "uk": true, "de": true, "fr": true, "nl": true,
	"ca": true, "au": true, "jp": true, "cn": true, "ru": true,
	"br": true, "in": true, "it": true, "es": true, "se": true,
	"ch": true, "pl": true, "eu": true, "xyz": true, "tv": true,
	"name": true, "pro": true, "co.uk": true, "org.uk": true,
	"com.au": true, "co.jp": true,
}

// placeholderHosts are never "specific" — they never contribute a host
// domain regardless of how they're spelled.
var placeholderHosts = map[string]bool{
	"localhost":             true,
	"localhost.localdomain": true,
	"(none)":                true,
}

// ExtractHostDomain implements spec §4.1's host-domain extraction:
//
//  1. Reject placeholder hostnames (localhost and friends).
//  2. Reject hostnames ending in .in-addr.arpa or .ip6.arpa.
//  3. Reject textual IP literals.
//  4. Require at least one dot.
//  5. Prefer the suffix after the first dot if it is itself a public
//     domain (per the fixed TLD table); otherwise fall back to the whole
//     hostname if *that* is public; otherwise return "".
func ExtractHostDomain(hostname string) string {
	h := strings.ToLower(strings.TrimSpace(hostname))
	if h == "" || placeholderHosts[h] {
		return ""
	}
	if strings.HasSuffix(h, ".in-addr.arpa") || strings.HasSuffix(h, ".ip6.arpa") {
		return ""
	}
	if net.ParseIP(h) != nil {
		return ""
	}
	dot := strings.IndexByte(h, '.')
	if dot < 0 {
		return ""
	}
	suffix := h[dot+1:]
	if suffix != "" && isPublicDomain(suffix) {
		return suffix
	}
	if isPublicDomain(h) {
		return h
	}
	return ""
}

// isPublicDomain reports whether domain's registrable TLD (the last one
// or two labels) appears in the fixed public-TLD table.
func isPublicDomain(domain string) bool {
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return false
	}
	if len(labels) >= 3 {
		twoLabel := strings.Join(labels[len(labels)-2:], ".")
		if publicTLDs[twoLabel] {
			return true
		}
	}
	return publicTLDs[labels[len(labels)-1]]
}
