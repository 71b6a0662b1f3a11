package dnsfingerprint

import (
	"testing"
	"time"
)

func TestRestartLimiter_AllowsUpToMaxWithinWindow(t *testing.T) {
	l := NewRestartLimiter(2, time.Minute, 10*time.Minute)
	now := time.Unix(0, 0)

	if !l.Allow("dnsmasq", now) {
		t.Fatal("expected first restart to be allowed")
	}
	if !l.Allow("dnsmasq", now.Add(time.Second)) {
		t.Fatal("expected second restart to be allowed")
	}
	if l.Allow("dnsmasq", now.Add(2*time.Second)) {
		t.Fatal("expected third restart within the window to be denied")
	}
}

func TestRestartLimiter_CooldownExpires(t *testing.T) {
	l := NewRestartLimiter(1, time.Minute, 5*time.Minute)
	now := time.Unix(0, 0)

	if !l.Allow("dnsmasq", now) {
		t.Fatal("expected first restart to be allowed")
	}
	if l.Allow("dnsmasq", now.Add(time.Second)) {
		t.Fatal("expected second restart to trip the cooldown")
	}
	if !l.Allow("dnsmasq", now.Add(6*time.Minute)) {
		t.Fatal("expected a restart after the cooldown elapses to be allowed")
	}
}

func TestRestartLimiter_IndependentPerBackendName(t *testing.T) {
	l := NewRestartLimiter(1, time.Minute, 5*time.Minute)
	now := time.Unix(0, 0)

	if !l.Allow("dnsmasq", now) {
		t.Fatal("expected dnsmasq's first restart to be allowed")
	}
	if !l.Allow("systemd-resolved", now) {
		t.Fatal("expected a different back-end name to have its own independent limit")
	}
}
