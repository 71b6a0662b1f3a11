// Package dnsstore implements the IP-config entry store (component A):
// it owns the immutable IP-configuration snapshots producers contribute,
// keyed by (interface index, address family, source tag), and maintains
// the sorted precedence list those snapshots form.
//
// Ownership and sorting follow the donor daemon's reconciler package in
// spirit (load everything, act on the delta, never fail hard) but the
// data structure here is a sort-on-demand slice rather than an intrusive
// linked list — the lazy-dirty-bit idea from the original C implementation
// is kept (the dirty flag Sorted consults), the doubly-linked list is not, per the
// design notes on sort-on-demand replacing intrusive lists.
package dnsstore

import (
	"fmt"
	"sort"
	"sync"

	"dplaned/internal/ipconfig"
)

// IPConfigType classifies why an Entry exists.
type IPConfigType int

const (
	TypeDefault IPConfigType = iota
	TypeBestDevice
	TypeVPN
	TypeRemoved
)

func (t IPConfigType) String() string {
	switch t {
	case TypeBestDevice:
		return "best-device"
	case TypeVPN:
		return "vpn"
	case TypeRemoved:
		return "removed"
	default:
		return "default"
	}
}

// rank orders IPConfigType for the "descending ip_config_type" tie-break:
// VPN > best-device > default. TypeRemoved entries never reach the
// precedence list.
func (t IPConfigType) rank() int {
	switch t {
	case TypeVPN:
		return 2
	case TypeBestDevice:
		return 1
	default:
		return 0
	}
}

// MergedDomains is filled in by the domain-merge engine (dnsmerge) once
// per update cycle and cleared before the cycle ends (spec invariant 4).
// It is exported so dnsmerge, in a separate package, can populate it
// in place without a dependency cycle.
type MergedDomains struct {
	Search                   []string
	Reverse                  []string
	HasDefaultRoute          bool
	HasDefaultRouteExclusive bool
	HasDefaultRouteExplicit  bool
}

// Entry is one per-(interface, family, producer) contribution.
type Entry struct {
	Snapshot      *ipconfig.Snapshot
	SourceTag     any
	AddrFamily    ipconfig.Family
	Type          IPConfigType
	MergedDomains MergedDomains

	ifindex int
	seq     uint64
}

// Priority returns the entry's signed DNS priority.
func (e *Entry) Priority() int32 { return e.Snapshot.Priority }

// Ifindex returns the interface index this entry belongs to.
func (e *Entry) Ifindex() int { return e.ifindex }

type bucket struct {
	ifindex int
	entries []*Entry
}

// Scheduler is the hook dnsstore uses to kick off an update cycle outside
// a batch. It is implemented by dnscycle.Orchestrator; dnsstore only
// depends on this narrow interface to avoid a package cycle.
type Scheduler interface {
	ScheduleUpdateCycle()
}

// Store owns all live Entries, the interface buckets they belong to, and
// the lazily-sorted precedence list (spec §3, §4.1).
type Store struct {
	mu sync.Mutex

	scheduler Scheduler

	buckets map[int]*bucket

	// bestSlot[family] holds the Entry currently classified best-device
	// for that family, or nil. Spec invariant 3.
	bestSlot [3]*Entry // indexed by ipconfig.Family

	sorted  []*Entry
	dirty   bool
	nextSeq uint64

	hostDomain string

	batchDepth   int
	batchChanged bool
}

// New creates an empty Store. scheduler may be nil in tests that only
// exercise the data model and never need an update cycle to actually run,
// or when the scheduler itself needs a reference to the store to be
// constructed first — see SetScheduler.
func New(scheduler Scheduler) *Store {
	return &Store{
		scheduler: scheduler,
		buckets:   make(map[int]*bucket),
	}
}

// SetScheduler installs (or replaces) the store's scheduler. dnsmanager
// uses this to break the construction cycle between Store and
// dnscycle.Orchestrator, which itself takes a *Store.
func (s *Store) SetScheduler(scheduler Scheduler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduler = scheduler
}

// BeginUpdates opens a batch. Mutations performed while any batch is open
// do not individually trigger an update cycle; label is not stored, and
// nesting is allowed (spec §4.1, §6).
func (s *Store) BeginUpdates(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchDepth++
}

// EndUpdates balances a BeginUpdates call. On the outermost EndUpdates, if
// any mutation occurred during the batch, exactly one update cycle runs.
func (s *Store) EndUpdates(label string) {
	s.mu.Lock()
	if s.batchDepth == 0 {
		s.mu.Unlock()
		panic(fmt.Sprintf("dnsstore: end_updates(%q) without matching begin_updates", label))
	}
	s.batchDepth--
	runCycle := s.batchDepth == 0 && s.batchChanged
	if s.batchDepth == 0 {
		s.batchChanged = false
	}
	s.mu.Unlock()

	if runCycle && s.scheduler != nil {
		s.scheduler.ScheduleUpdateCycle()
	}
}

// SetIPConfig implements the set operation of spec §4.1/§6. addrFamily
// FamilyUnspec is expanded into two calls, one per concrete family,
// returning the OR of their change bits.
func (s *Store) SetIPConfig(addrFamily ipconfig.Family, sourceTag any, snap *ipconfig.Snapshot, typ IPConfigType, replaceAll bool) bool {
	if sourceTag == nil {
		panic("dnsstore: SetIPConfig: source_tag must not be nil")
	}
	if typ != TypeRemoved && snap == nil {
		panic("dnsstore: SetIPConfig: snapshot must not be nil unless type is removed")
	}
	if snap != nil && snap.Ifindex <= 0 {
		panic("dnsstore: SetIPConfig: snapshot.Ifindex must be positive")
	}

	if addrFamily == ipconfig.FamilyUnspec {
		c1 := s.SetIPConfig(ipconfig.FamilyV4, sourceTag, snap, typ, replaceAll)
		c2 := s.SetIPConfig(ipconfig.FamilyV6, sourceTag, snap, typ, replaceAll)
		return c1 || c2
	}

	s.mu.Lock()
	changed := s.setIPConfigLocked(addrFamily, sourceTag, snap, typ, replaceAll)
	if changed {
		s.dirty = true
		if s.batchDepth > 0 {
			s.batchChanged = true
		}
	}
	inBatch := s.batchDepth > 0
	s.mu.Unlock()

	if changed && !inBatch && s.scheduler != nil {
		s.scheduler.ScheduleUpdateCycle()
	}
	return changed
}

func (s *Store) setIPConfigLocked(family ipconfig.Family, sourceTag any, snap *ipconfig.Snapshot, typ IPConfigType, replaceAll bool) bool {
	removing := typ == TypeRemoved || snap == nil

	var ifindex int
	var candidates []*bucket
	if !removing {
		ifindex = snap.Ifindex
		if b, ok := s.buckets[ifindex]; ok {
			candidates = []*bucket{b}
		}
	} else {
		// Removal without a snapshot scans every bucket for a matching
		// (source_tag, family) entry — the producer may not know which
		// interface it previously contributed to once it's gone.
		for _, b := range s.buckets {
			candidates = append(candidates, b)
		}
	}

	changed := false
	var kept *Entry
	for _, b := range candidates {
		remaining := b.entries[:0]
		for _, e := range b.entries {
			if e.SourceTag != sourceTag || e.AddrFamily != family {
				remaining = append(remaining, e)
				continue
			}
			switch {
			case !removing && e.Snapshot == snap:
				// Identical snapshot pointer: refresh type, keep entry.
				if e.Type != typ {
					s.setTypeLocked(e, typ)
					changed = true
				}
				kept = e
				remaining = append(remaining, e)
			case !removing && !replaceAll && e.Snapshot.SemanticEqual(snap):
				// Semantically-equivalent snapshot from the same
				// producer: treat as the same contribution, just refresh
				// type/snapshot pointer for borrowed-string freshness.
				if e.Type != typ || e.Snapshot != snap {
					e.Snapshot = snap
					s.setTypeLocked(e, typ)
					changed = true
				}
				kept = e
				remaining = append(remaining, e)
			default:
				// Torn down: different snapshot, replace_all, or removal.
				s.clearBestSlotIfHolder(e)
				changed = true
			}
		}
		b.entries = remaining
		if len(b.entries) == 0 {
			delete(s.buckets, b.ifindex)
		}
	}

	if kept != nil || removing {
		if changed {
			s.dirty = true
		}
		return changed
	}

	// No entry survived and this isn't a pure removal: create a new one,
	// provided the snapshot actually wants to participate in ordering.
	if snap.Priority == 0 {
		return changed
	}

	b, ok := s.buckets[ifindex]
	if !ok {
		b = &bucket{ifindex: ifindex}
		s.buckets[ifindex] = b
	}
	s.nextSeq++
	e := &Entry{
		Snapshot:   snap,
		SourceTag:  sourceTag,
		AddrFamily: family,
		Type:       typ,
		ifindex:    ifindex,
		seq:        s.nextSeq,
	}
	b.entries = append(b.entries, e)
	s.applyTypeSideEffectsLocked(e, typ)
	s.dirty = true
	return true
}

// setTypeLocked updates an entry's type, maintaining the best-device slot
// invariant (spec invariant 3): setting a new best-device demotes any
// previous holder for that family to default.
func (s *Store) setTypeLocked(e *Entry, typ IPConfigType) {
	if e.Type == TypeBestDevice && typ != TypeBestDevice && s.bestSlot[e.AddrFamily] == e {
		s.bestSlot[e.AddrFamily] = nil
	}
	e.Type = typ
	s.applyTypeSideEffectsLocked(e, typ)
}

func (s *Store) applyTypeSideEffectsLocked(e *Entry, typ IPConfigType) {
	if typ != TypeBestDevice {
		return
	}
	if prev := s.bestSlot[e.AddrFamily]; prev != nil && prev != e {
		prev.Type = TypeDefault
	}
	s.bestSlot[e.AddrFamily] = e
	e.Type = TypeBestDevice
}

func (s *Store) clearBestSlotIfHolder(e *Entry) {
	if s.bestSlot[e.AddrFamily] == e {
		s.bestSlot[e.AddrFamily] = nil
	}
}

// Sorted returns the precedence list, re-sorting it first if any mutation
// has happened since the last call (spec §4.1 "lazy" sort). The returned
// slice must not be retained across a subsequent mutation — callers that
// need a stable view across an update cycle should finish using it before
// returning control to the store.
func (s *Store) Sorted() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirty {
		var all []*Entry
		for _, b := range s.buckets {
			all = append(all, b.entries...)
		}
		sort.SliceStable(all, func(i, j int) bool {
			pi, pj := all[i].Priority(), all[j].Priority()
			if pi != pj {
				return pi < pj
			}
			if ri, rj := all[i].Type.rank(), all[j].Type.rank(); ri != rj {
				return ri > rj
			}
			// Buckets come out of a map, so pin remaining ties to
			// insertion order rather than map iteration order.
			return all[i].seq < all[j].seq
		})
		s.sorted = all
		s.dirty = false
	}
	return s.sorted
}

// SetHostname implements spec §4.1's hostname extraction. See
// hostdomain.go for ExtractHostDomain.
func (s *Store) SetHostname(hostname string, skipUpdate bool) {
	domain := ExtractHostDomain(hostname)

	s.mu.Lock()
	changed := domain != s.hostDomain
	if changed {
		s.hostDomain = domain
	}
	inBatch := s.batchDepth > 0
	if changed && inBatch {
		s.batchChanged = true
	}
	s.mu.Unlock()

	if changed && !skipUpdate && !inBatch && s.scheduler != nil {
		s.scheduler.ScheduleUpdateCycle()
	}
}

// HostDomain returns the currently stored host domain, or "" if none.
func (s *Store) HostDomain() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostDomain
}
