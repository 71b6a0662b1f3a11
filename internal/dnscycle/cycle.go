// Package dnscycle orchestrates one DNS update cycle: it runs the
// domain-merge engine over the store's precedence list, refreshes every
// back-end's fingerprint, and dispatches Update calls in the fixed order
// spec §5 requires (local-cache first, then file/helper), applying the
// BackendFailed/BackendTransient recovery policy of spec §7.
package dnscycle

import (
	"log"
	"sync"

	"dplaned/internal/dnsbackend"
	"dplaned/internal/dnsfingerprint"
	"dplaned/internal/dnsmerge"
	"dplaned/internal/dnsstore"
)

// ErrKind classifies a Backend.Update failure per spec §7.
type ErrKind int

const (
	// KindFailed means the back-end's state after the call is unknown;
	// its previous fingerprint is kept so the next differing cycle
	// retries it.
	KindFailed ErrKind = iota
	// KindTransient means the back-end is known to still hold its prior
	// state; the new fingerprint is accepted (no forced retry), since a
	// future unrelated change will naturally re-trigger it.
	KindTransient
)

// UpdateError is the error type back-ends should wrap their failures in
// so the cycle orchestrator can apply the right recovery policy. A
// plain error (not an UpdateError) is treated as KindFailed.
type UpdateError struct {
	Kind ErrKind
	Err  error
}

func (e *UpdateError) Error() string { return e.Err.Error() }
func (e *UpdateError) Unwrap() error { return e.Err }

// GlobalConfigProvider supplies the optional global DNS configuration
// (spec §3) current at the time a cycle runs; it returns nil when no
// global override is configured.
type GlobalConfigProvider interface {
	GlobalDNSConfig() *dnsbackend.GlobalDNSConfig
}

// Orchestrator drives update cycles for a single dnsstore.Store /
// dnsbackend.Registry pair and implements dnsstore.Scheduler so the
// store can request a cycle whenever it changes.
type Orchestrator struct {
	mu sync.Mutex

	store    *dnsstore.Store
	registry *dnsbackend.Registry
	global   GlobalConfigProvider

	seeded bool

	onCycle func()
}

// New creates an orchestrator. Call Seed once at startup before the
// store begins accepting SetIPConfig calls, so the first real change
// triggers updates rather than the startup state itself (spec §4.3).
func New(store *dnsstore.Store, registry *dnsbackend.Registry, global GlobalConfigProvider) *Orchestrator {
	return &Orchestrator{store: store, registry: registry, global: global}
}

// OnCycle installs a callback invoked after every completed cycle
// (successful or not); the diagnostics surface uses this to push a
// state snapshot to connected observers.
func (o *Orchestrator) OnCycle(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onCycle = fn
}

// Seed primes every back-end's fingerprint against the store's current
// (possibly empty) state without marking anything update-to-do.
func (o *Orchestrator) Seed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.seeded {
		return
	}
	o.seeded = true
	entries := o.store.Sorted()
	dnsmerge.Run(entries)
	dnsfingerprint.Refresh(o.registry, entries, o.globalLocked(), false)
	dnsmerge.Clear(entries)
}

// ScheduleUpdateCycle implements dnsstore.Scheduler; it runs the cycle
// synchronously on the calling goroutine, matching the store's own
// single-writer-lock discipline (the caller already holds no store lock
// by the time this runs — Store releases its lock before invoking the
// scheduler).
func (o *Orchestrator) ScheduleUpdateCycle() {
	o.Run()
}

// Run executes one full cycle: merge, fingerprint, dispatch.
func (o *Orchestrator) Run() {
	o.mu.Lock()
	defer o.mu.Unlock()

	entries := o.store.Sorted()
	dnsmerge.Run(entries)
	defer dnsmerge.Clear(entries)

	global := o.globalLocked()
	results := dnsfingerprint.Refresh(o.registry, entries, global, true)
	previous := make(map[dnsbackend.Backend]dnsfingerprint.Result, len(results))
	for _, r := range results {
		previous[r.Backend] = r
	}

	caching := false
	resolvedInUse := o.registry.ByKind(dnsbackend.KindSystemdResolved) != nil

	for _, b := range o.registry.Backends() {
		if !o.registry.UpdateToDo(b) {
			continue
		}
		data := dnsbackend.UpdateData{
			Entries:           entries,
			HostDomain:        o.store.HostDomain(),
			CachingSuccessful: caching,
			ResolvedInUse:     resolvedInUse,
			// The file/helper back-end restores real upstream servers on
			// Stop exactly when the local-cache back-end already made the
			// system file loopback-only this cycle — not when the back-end
			// currently being dispatched happens to be the caching one.
			ResolverDependsOnDaemon: caching,
			Global:                  global,
		}
		err := b.Update(data)
		if err != nil {
			var ue *UpdateError
			kind := KindFailed
			if asUpdateError(err, &ue) {
				kind = ue.Kind
			}
			log.Printf("dnscycle: back-end %q update failed: %v", b.Name(), err)
			if kind == KindTransient {
				// The back-end still holds its prior state and will catch
				// up on its own; the new fingerprint stands and no retry is
				// forced.
				o.registry.ClearUpdateToDo(b)
			} else if r, ok := previous[b]; ok {
				o.registry.KeepFingerprintOnFailure(b, r.Previous, r.HadPrevious)
			}
			continue
		}
		o.registry.ClearUpdateToDo(b)
		if b.IsCaching() {
			caching = true
		}
	}

	o.registry.PollWatchdogs()

	if o.onCycle != nil {
		o.onCycle()
	}
}

func (o *Orchestrator) globalLocked() *dnsbackend.GlobalDNSConfig {
	if o.global == nil {
		return nil
	}
	return o.global.GlobalDNSConfig()
}

func asUpdateError(err error, target **UpdateError) bool {
	for err != nil {
		if ue, ok := err.(*UpdateError); ok {
			*target = ue
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
