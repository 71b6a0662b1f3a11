// Package dnsbackend defines the polymorphic back-end contract
// (component D) shared by the three resolver back-ends — systemd-resolved,
// dnsmasq, and the file/helper back-end — plus the registry and watchdog
// that dispatch updates to them in the fixed order spec §5 requires:
// local-cache first, then file/helper.
package dnsbackend

import (
	"crypto/sha1"
	"hash"
	"sync"
	"time"

	"dplaned/internal/dnsstore"
)

// Kind names a back-end realization for logs, fingerprints, and the
// observer property bag.
type Kind string

const (
	KindSystemdResolved Kind = "systemd-resolved"
	KindDnsmasq         Kind = "dnsmasq"
	KindFileHelper      Kind = "file-helper"
)

// FingerprintSink is the rolling hash a Backend contributes bytes to.
type FingerprintSink interface {
	Write(p []byte)
}

type sha1Sink struct{ h hash.Hash }

func (s *sha1Sink) Write(p []byte) { s.h.Write(p) }

// NewFingerprintSink creates a sink and a function to read the final
// 160-bit digest once every entry has contributed.
func NewFingerprintSink() (FingerprintSink, func() [sha1.Size]byte) {
	h := sha1.New()
	sink := &sha1Sink{h: h}
	return sink, func() [sha1.Size]byte {
		var out [sha1.Size]byte
		copy(out[:], h.Sum(nil))
		return out
	}
}

// UpdateData carries everything a Backend.Update call needs (spec §4.4).
type UpdateData struct {
	Entries    []*dnsstore.Entry
	HostDomain string

	// CachingSuccessful is true once the local-cache back-end (E) has
	// reported ok for this cycle; the file/helper back-end (F) uses it to
	// decide whether to substitute a loopback nameserver.
	CachingSuccessful bool

	// ResolvedInUse is true when a systemd-resolved back-end is registered,
	// independent of whether this specific update succeeded.
	ResolvedInUse bool

	// ResolverDependsOnDaemon is true when the file/helper back-end should
	// restore real upstream servers on Stop (spec §4.6 Shutdown).
	ResolverDependsOnDaemon bool

	Global *GlobalDNSConfig
}

// GlobalDNSConfig mirrors spec §3's optional global configuration.
type GlobalDNSConfig struct {
	Searches []string
	Options  []string
	// WildcardServers are the nameservers for the "*" global domain, if
	// any; when set they override all per-interface nameservers for the
	// file/helper back-end (spec §4.6 "Global override").
	WildcardServers []string
	Serialization   []byte
}

// Backend is the contract every back-end kind implements (spec §4.4).
type Backend interface {
	Name() string
	Kind() Kind

	// IsCaching is true iff this back-end runs a local caching resolver
	// bound to loopback.
	IsCaching() bool

	// Fingerprint contributes this entry's back-end-relevant bytes to
	// sink; each Backend kind picks its own fields (spec §4.3).
	Fingerprint(e *dnsstore.Entry, sink FingerprintSink)

	Update(data UpdateData) error
	Stop()

	// UpdatePending is true while an asynchronous exchange with this
	// back-end is in flight.
	UpdatePending() bool
}

// Registry holds the back-end records (spec §3 "Back-end record") and
// runs the watchdog that bounds how long UpdatePending may stay true
// before the update-pending property latches false.
type Registry struct {
	mu sync.Mutex

	// order is fixed: local-cache first, then file/helper (spec §5).
	order []*record

	watchdogTimeout time.Duration
	onPendingLatch  func(name string)
}

type record struct {
	backend         Backend
	lastFingerprint [sha1.Size]byte
	hasFingerprint  bool
	updateToDo      bool

	watchdogArmed bool
	watchdogTimer *time.Timer
	latched       bool
}

// NewRegistry creates an empty registry. onPendingLatch is called (if
// non-nil) when a back-end's watchdog expires while still pending; the
// daemon's entry point supplies it to log the warning spec §4.4 describes.
func NewRegistry(watchdogTimeout time.Duration, onPendingLatch func(name string)) *Registry {
	return &Registry{watchdogTimeout: watchdogTimeout, onPendingLatch: onPendingLatch}
}

// Register adds a back-end in dispatch order. Callers must register the
// local-cache back-end before the file/helper back-end.
func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, &record{backend: b})
}

// Backends returns the registered back-ends in fixed dispatch order.
func (r *Registry) Backends() []Backend {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Backend, len(r.order))
	for i, rec := range r.order {
		out[i] = rec.backend
	}
	return out
}

// ByKind returns the registered back-end of the given kind, or nil.
func (r *Registry) ByKind(k Kind) Backend {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.order {
		if rec.backend.Kind() == k {
			return rec.backend
		}
	}
	return nil
}

// Stop releases every registered back-end, in registration order,
// cancelling any armed watchdog timers.
func (r *Registry) Stop() {
	r.mu.Lock()
	recs := append([]*record(nil), r.order...)
	r.mu.Unlock()
	for _, rec := range recs {
		if rec.watchdogTimer != nil {
			rec.watchdogTimer.Stop()
		}
		rec.backend.Stop()
	}
}

// UpdatePending reports whether the external update-pending property
// should read true: at least one back-end reports in-flight work AND its
// watchdog is still armed (spec invariant 7).
func (r *Registry) UpdatePending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.order {
		if rec.latched || !rec.watchdogArmed {
			continue
		}
		if rec.backend.UpdatePending() {
			return true
		}
	}
	return false
}

// PollWatchdogs arms or disarms each back-end's watchdog timer based on
// its current UpdatePending transition. dnscycle.Orchestrator.Run calls
// it once after each cycle's dispatch; a transition that happens between
// two calls is only observed at the next call.
func (r *Registry) PollWatchdogs() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.order {
		pending := rec.backend.UpdatePending()
		switch {
		case pending && !rec.watchdogArmed:
			rec.watchdogArmed = true
			rec.latched = false
			name := rec.backend.Name()
			var timer *time.Timer
			timer = time.AfterFunc(r.watchdogTimeout, func() {
				r.mu.Lock()
				if !rec.watchdogArmed || rec.watchdogTimer != timer {
					// Disarmed or re-armed since this timer was started.
					r.mu.Unlock()
					return
				}
				rec.latched = true
				r.mu.Unlock()
				if r.onPendingLatch != nil {
					r.onPendingLatch(name)
				}
			})
			rec.watchdogTimer = timer
		case !pending && rec.watchdogArmed:
			rec.watchdogArmed = false
			rec.latched = false
			if rec.watchdogTimer != nil {
				rec.watchdogTimer.Stop()
			}
		}
	}
}

// SetFingerprint stores the new fingerprint for rec's backend and returns
// whether it differs from the previous one, plus the fingerprint that was
// in effect immediately before the call (and whether one existed), so a
// caller can restore it with KeepFingerprintOnFailure if the subsequent
// Update call fails. When setUpdateFlags is false (startup seeding), the
// fingerprint is recorded but the backend's update_to_do flag is left
// clear (spec §4.3).
func (r *Registry) SetFingerprint(b Backend, fp [sha1.Size]byte, setUpdateFlags bool) (changed bool, previous [sha1.Size]byte, hadPrevious bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.order {
		if rec.backend != b {
			continue
		}
		previous = rec.lastFingerprint
		hadPrevious = rec.hasFingerprint
		changed = !rec.hasFingerprint || rec.lastFingerprint != fp
		rec.lastFingerprint = fp
		rec.hasFingerprint = true
		if changed && setUpdateFlags {
			rec.updateToDo = true
		}
		return changed, previous, hadPrevious
	}
	return false, previous, false
}

// UpdateToDo reports whether b's update_to_do flag is set; the flag is
// cleared separately via ClearUpdateToDo once a dispatch succeeds.
func (r *Registry) UpdateToDo(b Backend) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.order {
		if rec.backend == b {
			v := rec.updateToDo
			return v
		}
	}
	return false
}

// ClearUpdateToDo clears the flag after a successful dispatch.
func (r *Registry) ClearUpdateToDo(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.order {
		if rec.backend == b {
			rec.updateToDo = false
			return
		}
	}
}

// KeepFingerprintOnFailure restores the previous fingerprint after a
// BackendFailed error so that the next unrelated change still triggers a
// retry (spec §7 BackendFailed policy). Pass the fingerprint that was
// active before the failed SetFingerprint call.
func (r *Registry) KeepFingerprintOnFailure(b Backend, previous [sha1.Size]byte, hadPrevious bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.order {
		if rec.backend == b {
			rec.lastFingerprint = previous
			rec.hasFingerprint = hadPrevious
			rec.updateToDo = true
			return
		}
	}
}
