package dnsstore

import "testing"

func TestExtractHostDomain(t *testing.T) {
	cases := []struct {
		hostname string
		want     string
	}{
		{"dcbw.example.com", "example.com"},
		{"example.com", "example.com"},
		{"localhost", ""},
		{"localhost.localdomain", ""},
		{"192.0.2.1", ""},
		{"2001:db8::1", ""},
		{"host.local", ""},
		{"singlelabel", ""},
		{"1.2.3.4.in-addr.arpa", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := ExtractHostDomain(c.hostname); got != c.want {
			t.Errorf("ExtractHostDomain(%q) = %q, want %q", c.hostname, got, c.want)
		}
	}
}
