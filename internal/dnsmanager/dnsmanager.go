// Package dnsmanager composes the IP-config store, the back-end
// registry, and the update-cycle orchestrator into the single facade
// spec §4.1 describes as "the DNS manager": the object every producer
// (device config, VPN, hostname source) calls into, and the object the
// diagnostics surface reads from.
//
// It exists as a separate package, rather than methods hung directly off
// dnsstore.Store, purely to avoid an import cycle: dnsstore must not
// import dnscycle (dnscycle already depends on dnsstore), but spec
// §4.1's get_systemd_resolved()/get_update_pending() operations need both
// the store and the registry/orchestrator in scope at once.
package dnsmanager

import (
	"dplaned/internal/dnsbackend"
	"dplaned/internal/dnscycle"
	"dplaned/internal/dnsstore"
	"dplaned/internal/ipconfig"
)

// Manager is the top-level facade bundling components A, C, D and their
// orchestration together.
type Manager struct {
	Store        *dnsstore.Store
	Registry     *dnsbackend.Registry
	Orchestrator *dnscycle.Orchestrator
}

// New wires a Manager. The caller is responsible for registering every
// back-end on registry (in local-cache-first order) before calling Seed.
func New(registry *dnsbackend.Registry, global dnscycle.GlobalConfigProvider) *Manager {
	store := dnsstore.New(nil)
	orch := dnscycle.New(store, registry, global)
	store.SetScheduler(orch)
	return &Manager{Store: store, Registry: registry, Orchestrator: orch}
}

// Seed primes every back-end's fingerprint from the store's startup state
// without triggering an update (spec §4.3); call once before producers
// start calling SetIPConfig.
func (m *Manager) Seed() {
	m.Orchestrator.Seed()
}

// SetIPConfig is the producer-facing entry point for spec §4.1's "set"
// operation.
func (m *Manager) SetIPConfig(addrFamily ipconfig.Family, sourceTag any, snap *ipconfig.Snapshot, typ dnsstore.IPConfigType, replaceAll bool) bool {
	return m.Store.SetIPConfig(addrFamily, sourceTag, snap, typ, replaceAll)
}

// SetHostname forwards to the store's hostname extraction.
func (m *Manager) SetHostname(hostname string, skipUpdate bool) {
	m.Store.SetHostname(hostname, skipUpdate)
}

// BeginUpdates/EndUpdates bracket a batch of SetIPConfig/SetHostname
// calls that should trigger at most one update cycle (spec §4.1, §6).
func (m *Manager) BeginUpdates(label string) { m.Store.BeginUpdates(label) }
func (m *Manager) EndUpdates(label string)   { m.Store.EndUpdates(label) }

// GetSystemdResolved implements spec §4.1's get_systemd_resolved():
// whether systemd-resolved is the registered local-cache back-end for
// this run, independent of whether it is currently healthy.
func (m *Manager) GetSystemdResolved() bool {
	return m.Registry.ByKind(dnsbackend.KindSystemdResolved) != nil
}

// GetUpdatePending implements spec §4.1's get_update_pending(): the
// watchdog-gated union of every back-end's in-flight status (spec
// invariant 7).
func (m *Manager) GetUpdatePending() bool {
	return m.Registry.UpdatePending()
}

// Stop releases every registered back-end in order.
func (m *Manager) Stop() {
	m.Registry.Stop()
}
