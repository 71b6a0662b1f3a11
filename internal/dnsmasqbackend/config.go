package dnsmasqbackend

import (
	"fmt"
	"strings"

	"dplaned/internal/dnsfile"
)

// renderConfig builds dnsmasq's config file content from the flat
// resolver state. Only the invocation-level contract spec.md §1 allows
// this daemon to depend on is exercised here: upstream servers, the
// local domain, and the fixed listen/no-resolv/no-poll options that keep
// dnsmasq from also reading /etc/resolv.conf on its own.
func renderConfig(cfg Config, fs dnsfile.FlatState) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# generated by dplaned, do not edit\n")
	fmt.Fprintf(&b, "listen-address=%s\n", cfg.ListenAddr)
	fmt.Fprintf(&b, "port=%d\n", cfg.Port)
	b.WriteString("no-resolv\n")
	b.WriteString("no-poll\n")
	b.WriteString("bind-interfaces\n")

	for _, ns := range fs.Nameservers {
		fmt.Fprintf(&b, "server=%s\n", ns)
	}
	// dnsmasq takes a single local domain; additional search domains are
	// the libc resolver's business and live in the resolver file, not
	// here.
	if len(fs.Searches) > 0 {
		fmt.Fprintf(&b, "domain=%s\n", fs.Searches[0])
	}
	return []byte(b.String())
}
