package dnsbackend

import (
	"sync/atomic"
	"testing"
	"time"

	"dplaned/internal/dnsstore"
)

type stubBackend struct {
	name    string
	kind    Kind
	pending atomic.Bool
}

func (s *stubBackend) Name() string        { return s.name }
func (s *stubBackend) Kind() Kind          { return s.kind }
func (s *stubBackend) IsCaching() bool     { return false }
func (s *stubBackend) UpdatePending() bool { return s.pending.Load() }
func (s *stubBackend) Fingerprint(e *dnsstore.Entry, sink FingerprintSink) {
	sink.Write([]byte(s.name))
}
func (s *stubBackend) Update(data UpdateData) error { return nil }
func (s *stubBackend) Stop()                        {}

func TestRegistry_UpdatePendingFollowsBackend(t *testing.T) {
	reg := NewRegistry(time.Hour, nil)
	b := &stubBackend{name: "stub", kind: KindFileHelper}
	reg.Register(b)

	if reg.UpdatePending() {
		t.Fatal("expected update-pending false before the back-end reports in-flight work")
	}

	b.pending.Store(true)
	reg.PollWatchdogs()
	if !reg.UpdatePending() {
		t.Fatal("expected update-pending true while the back-end reports in-flight work")
	}

	b.pending.Store(false)
	reg.PollWatchdogs()
	if reg.UpdatePending() {
		t.Fatal("expected update-pending false once the back-end clears in-flight work")
	}
}

func TestRegistry_WatchdogLatchesStuckPendingFalse(t *testing.T) {
	latched := make(chan string, 1)
	reg := NewRegistry(20*time.Millisecond, func(name string) {
		latched <- name
	})
	b := &stubBackend{name: "stuck", kind: KindSystemdResolved}
	reg.Register(b)

	b.pending.Store(true)
	reg.PollWatchdogs()
	if !reg.UpdatePending() {
		t.Fatal("expected update-pending true immediately after the back-end reports pending")
	}

	// The back-end never clears pending; the watchdog must bound the
	// exposure and latch the external property false.
	select {
	case name := <-latched:
		if name != "stuck" {
			t.Fatalf("expected the latch callback to name the stuck back-end, got %q", name)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the watchdog to fire for a back-end that never clears pending")
	}
	if reg.UpdatePending() {
		t.Fatal("expected update-pending latched false after the watchdog expired, even though the back-end still reports pending")
	}
}

func TestRegistry_WatchdogRearmsAfterRecovery(t *testing.T) {
	reg := NewRegistry(20*time.Millisecond, nil)
	b := &stubBackend{name: "flappy", kind: KindDnsmasq}
	reg.Register(b)

	b.pending.Store(true)
	reg.PollWatchdogs()
	time.Sleep(60 * time.Millisecond) // let the first watchdog latch

	b.pending.Store(false)
	reg.PollWatchdogs()

	// A fresh pending episode must be reported again: the latch belongs
	// to the expired episode, not to the back-end forever.
	b.pending.Store(true)
	reg.PollWatchdogs()
	if !reg.UpdatePending() {
		t.Fatal("expected a new pending episode after recovery to read update-pending true again")
	}
}

func TestRegistry_SetFingerprintSeedingLeavesUpdateToDoClear(t *testing.T) {
	reg := NewRegistry(time.Hour, nil)
	b := &stubBackend{name: "stub", kind: KindFileHelper}
	reg.Register(b)

	sink, digest := NewFingerprintSink()
	sink.Write([]byte("state"))
	fp := digest()

	changed, _, hadPrevious := reg.SetFingerprint(b, fp, false)
	if !changed || hadPrevious {
		t.Fatalf("expected the first fingerprint to register as changed with no previous, got changed=%v hadPrevious=%v", changed, hadPrevious)
	}
	if reg.UpdateToDo(b) {
		t.Fatal("expected seeding (setUpdateFlags=false) to leave update_to_do clear")
	}

	changed, _, _ = reg.SetFingerprint(b, fp, true)
	if changed {
		t.Fatal("expected an identical fingerprint to report no change")
	}
	if reg.UpdateToDo(b) {
		t.Fatal("expected an unchanged fingerprint to leave update_to_do clear")
	}
}
