// Package diagnostics builds and serves the read-only observer property
// bag spec §6 defines (mode, rc-manager, configuration, update-pending)
// over a local HTTP/WebSocket surface, for operator troubleshooting when
// the real D-Bus object/property layer spec.md §1 excludes is unavailable.
//
// This is explicitly not that D-Bus layer: it has no external callers,
// is loopback-only, read-only, and carries no authentication of its own —
// the same "local debug surface, not a control plane" role the donor
// daemon's internal/websocket.MonitorHub played for its own state.
package diagnostics

import (
	"dplaned/internal/dnsbackend"
	"dplaned/internal/dnsmanager"
	"dplaned/internal/dnsstore"
	"dplaned/internal/resolvermode"
)

// ConfigEntry is one row of spec §6's "configuration" array: one per
// store entry that carries at least one nameserver.
type ConfigEntry struct {
	Nameservers []string `json:"nameservers"`
	Domains     []string `json:"domains"`
	Interface   string   `json:"interface,omitempty"`
	Priority    int32    `json:"priority"`
	VPN         bool     `json:"vpn"`
}

// globalConfigPriority is the fixed constant spec §6 assigns to the
// configuration rows synthesized from the global DNS configuration,
// which otherwise carries no priority of its own.
const globalConfigPriority = -1 << 31

// Snapshot is one read-only view of the manager's state, regenerated
// lazily on every access and invalidated by nothing — there is no stale
// copy to invalidate, since BuildSnapshot always reads the live store.
type Snapshot struct {
	Mode          string        `json:"mode"`
	RCManager     string        `json:"rc-manager"`
	Configuration []ConfigEntry `json:"configuration"`
	UpdatePending bool          `json:"update-pending"`
}

// GlobalConfigProvider supplies the optional global DNS configuration,
// the same contract dnscycle.GlobalConfigProvider uses.
type GlobalConfigProvider interface {
	GlobalDNSConfig() *dnsbackend.GlobalDNSConfig
}

// BuildSnapshot projects the manager's current store/registry state into
// the observer property bag. Unlike the domain-merge engine's
// MergedDomains (only populated during an update cycle, spec invariant
// 4), the "domains" field here is "search ∪ plain" taken directly from
// each entry's contributed snapshot, since this view must be readable at
// any time, not just mid-cycle.
func BuildSnapshot(mgr *dnsmanager.Manager, mode resolvermode.Mode, dnsMode resolvermode.DNSMode, global GlobalConfigProvider) Snapshot {
	snap := Snapshot{
		Mode:          string(dnsMode),
		RCManager:     string(mode),
		UpdatePending: mgr.GetUpdatePending(),
	}

	if global != nil {
		if g := global.GlobalDNSConfig(); g != nil && len(g.WildcardServers) > 0 {
			snap.Configuration = append(snap.Configuration, ConfigEntry{
				Nameservers: g.WildcardServers,
				Domains:     append([]string(nil), g.Searches...),
				Priority:    globalConfigPriority,
			})
		}
	}

	for _, e := range mgr.Store.Sorted() {
		if len(e.Snapshot.Nameservers) == 0 {
			continue
		}
		snap.Configuration = append(snap.Configuration, entryRow(e))
	}

	return snap
}

func entryRow(e *dnsstore.Entry) ConfigEntry {
	domains := append([]string(nil), e.Snapshot.Searches...)
	domains = append(domains, e.Snapshot.Domains...)

	nameservers := make([]string, 0, len(e.Snapshot.Nameservers))
	for _, ns := range e.Snapshot.Nameservers {
		nameservers = append(nameservers, ns.String())
	}

	return ConfigEntry{
		Nameservers: nameservers,
		Domains:     domains,
		Interface:   e.Snapshot.IfaceName,
		Priority:    e.Priority(),
		VPN:         e.Type == dnsstore.TypeVPN,
	}
}
