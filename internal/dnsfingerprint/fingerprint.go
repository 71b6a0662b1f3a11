// Package dnsfingerprint implements component C: it computes a
// back-end-specific 160-bit fingerprint of the aggregate DNS state each
// update cycle, decides which back-ends actually need a push, and
// rate-limits back-end restart loops (spec §4.3).
package dnsfingerprint

import (
	"crypto/sha1"
	"fmt"
	"sync"
	"time"

	"dplaned/internal/dnsbackend"
	"dplaned/internal/dnsstore"
)

// Compute feeds, in order, the global config seed and then every entry's
// backend-specific checksum into a fresh sink, and returns the resulting
// digest (spec §4.3 step 1-2).
func Compute(b dnsbackend.Backend, entries []*dnsstore.Entry, global *dnsbackend.GlobalDNSConfig) [sha1.Size]byte {
	sink, digest := dnsbackend.NewFingerprintSink()
	if global != nil {
		sink.Write(global.Serialization)
	}
	for _, e := range entries {
		b.Fingerprint(e, sink)
	}
	return digest()
}

// Result carries the before/after fingerprint state for one back-end
// so the cycle orchestrator can restore the previous fingerprint if the
// subsequent Update call fails (spec §7 BackendFailed policy).
type Result struct {
	Backend     dnsbackend.Backend
	Previous    [sha1.Size]byte
	HadPrevious bool
}

// Refresh recomputes and stores the fingerprint for every registered
// back-end, returning the ones that need an update this cycle along with
// their pre-refresh fingerprint state. When setUpdateFlags is false
// (used once, at startup), fingerprints are seeded but no back-end is
// marked update-to-do, so the very first cycle after process start emits
// no work (spec §4.3).
func Refresh(reg *dnsbackend.Registry, entries []*dnsstore.Entry, global *dnsbackend.GlobalDNSConfig, setUpdateFlags bool) []Result {
	var needsUpdate []Result
	for _, b := range reg.Backends() {
		fp := Compute(b, entries, global)
		changed, previous, hadPrevious := reg.SetFingerprint(b, fp, setUpdateFlags)
		if changed && setUpdateFlags {
			needsUpdate = append(needsUpdate, Result{Backend: b, Previous: previous, HadPrevious: hadPrevious})
		}
	}
	return needsUpdate
}

// DefaultRestartWindow and DefaultMaxRestarts implement spec §4.3's
// "N_RESTARTS_MAX within a moving window" rate limit; NewDefaultRestartLimiter's
// defaults match the donor daemon's ha package cooldown style (count
// within a sliding window, then hold off).
const (
	DefaultMaxRestarts   = 5
	DefaultRestartWindow = 5 * time.Minute
	DefaultCooldown      = 10 * time.Minute
)

// RestartLimiter tracks unsolicited back-end restarts and suspends
// further restarts once the moving-window threshold is exceeded.
type RestartLimiter struct {
	mu sync.Mutex

	maxRestarts int
	window      time.Duration
	cooldown    time.Duration

	restarts      map[string][]time.Time
	cooldownUntil map[string]time.Time
}

// NewRestartLimiter creates a limiter with the given thresholds.
func NewRestartLimiter(maxRestarts int, window, cooldown time.Duration) *RestartLimiter {
	return &RestartLimiter{
		maxRestarts:   maxRestarts,
		window:        window,
		cooldown:      cooldown,
		restarts:      make(map[string][]time.Time),
		cooldownUntil: make(map[string]time.Time),
	}
}

// NewDefaultRestartLimiter uses the package defaults.
func NewDefaultRestartLimiter() *RestartLimiter {
	return NewRestartLimiter(DefaultMaxRestarts, DefaultRestartWindow, DefaultCooldown)
}

// Allow records a restart attempt for name and reports whether it should
// proceed. When the moving window's restart count exceeds maxRestarts, a
// cooldown is started (if not already active) and Allow returns false
// until the cooldown elapses.
func (l *RestartLimiter) Allow(name string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.cooldownUntil[name]; ok {
		if now.Before(until) {
			return false
		}
		delete(l.cooldownUntil, name)
		l.restarts[name] = nil
	}

	cutoff := now.Add(-l.window)
	kept := l.restarts[name][:0]
	for _, t := range l.restarts[name] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	l.restarts[name] = kept

	if len(kept) > l.maxRestarts {
		l.cooldownUntil[name] = now.Add(l.cooldown)
		return false
	}
	return true
}

// CooldownReason formats a single log line for the "holding off restarts"
// warning spec §7 requires be logged once per cooldown episode.
func CooldownReason(name string, maxRestarts int, window time.Duration) string {
	return fmt.Sprintf("back-end %q restarted more than %d times within %s; suspending restarts", name, maxRestarts, window)
}
