package dnsmerge

import (
	"fmt"
	"math/big"
	"net"
	"strings"

	"github.com/miekg/dns"

	"dplaned/internal/dnsstore"
)

// reverseDomains builds the reverse-DNS domain list (spec §4.2) from an
// entry's address prefixes and non-default route prefixes.
func reverseDomains(e *dnsstore.Entry) []string {
	var out []string
	for _, p := range e.Snapshot.AddressPrefixes {
		if name, ok := reverseZone(p); ok {
			out = append(out, name)
		}
	}
	for _, rp := range e.Snapshot.RoutePrefixes {
		if rp.IsDefault {
			continue
		}
		if name, ok := reverseZone(rp.Dest); ok {
			out = append(out, name)
		}
	}
	return out
}

// reverseZone converts a prefix to its reverse-DNS zone name. Host-length
// prefixes (/32, /128) use miekg/dns's ReverseAddr directly; shorter
// prefixes are truncated to the nearest octet (IPv4) or nibble (IPv6)
// boundary, matching how resolvers delegate reverse zones for CIDR blocks
// narrower than a single address.
func reverseZone(p net.IPNet) (string, bool) {
	ones, bits := p.Mask.Size()
	if bits == 0 {
		return "", false
	}
	if ones == bits {
		name, err := dns.ReverseAddr(p.IP.String())
		if err != nil {
			return "", false
		}
		return strings.TrimSuffix(name, "."), true
	}

	if bits == 32 {
		octets := ones / 8
		if octets == 0 {
			return "", false
		}
		ip4 := p.IP.To4()
		if ip4 == nil {
			return "", false
		}
		parts := make([]string, 0, octets)
		for i := octets - 1; i >= 0; i-- {
			parts = append(parts, fmt.Sprintf("%d", ip4[i]))
		}
		return strings.Join(parts, ".") + ".in-addr.arpa", true
	}

	// IPv6: truncate to the nearest nibble (4-bit) boundary.
	nibbles := ones / 4
	if nibbles == 0 {
		return "", false
	}
	ip16 := p.IP.To16()
	if ip16 == nil {
		return "", false
	}
	hex := fmt.Sprintf("%032x", new(big.Int).SetBytes(ip16))
	parts := make([]string, 0, nibbles)
	for i := nibbles - 1; i >= 0; i-- {
		parts = append(parts, string(hex[i]))
	}
	return strings.Join(parts, ".") + ".ip6.arpa", true
}
