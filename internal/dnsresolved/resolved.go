// Package dnsresolved implements the systemd-resolved realization of the
// local-cache back-end (component E) over its D-Bus manager interface.
package dnsresolved

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"

	"dplaned/internal/dnsbackend"
	"dplaned/internal/dnscycle"
	"dplaned/internal/dnsstore"
)

const (
	busName    = "org.freedesktop.resolve1"
	objectPath = dbus.ObjectPath("/org/freedesktop/resolve1")

	// callTimeout bounds every D-Bus call so a wedged resolved cannot hang
	// an update cycle indefinitely.
	callTimeout = time.Second
)

type linkNameserver struct {
	Family  int32
	Address []byte
}

type linkDomain struct {
	Domain      string
	RoutingOnly bool
}

// Backend talks to systemd-resolved's org.freedesktop.resolve1.Manager
// over the system bus. New returns no Backend when the dial fails; a
// Backend whose conn is nil fails every Update call fast.
type Backend struct {
	conn *dbus.Conn

	pending atomic.Bool

	mu         sync.Mutex
	knownLinks map[int]bool
}

// New dials the system bus and returns a resolved back-end. The dial
// itself is not retried here; callers typically treat a dial failure as
// "resolved unavailable" and fall back to another back-end kind.
func New() (*Backend, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("dnsresolved: connecting to system bus: %w", err)
	}
	return &Backend{conn: conn, knownLinks: make(map[int]bool)}, nil
}

func (b *Backend) Name() string          { return "systemd-resolved" }
func (b *Backend) Kind() dnsbackend.Kind { return dnsbackend.KindSystemdResolved }
func (b *Backend) IsCaching() bool       { return true }
func (b *Backend) UpdatePending() bool   { return b.pending.Load() }

// Fingerprint contributes the fields that matter to resolved's per-link
// configuration: address family, interface index, nameservers and the
// merged search/routing domains. It deliberately ignores fields resolved
// never consumes (e.g. NIS settings), so a change that only affects the
// file/helper back-end doesn't force an unrelated resolved push.
func (b *Backend) Fingerprint(e *dnsstore.Entry, sink dnsbackend.FingerprintSink) {
	fmt.Fprintf(sinkWriter{sink}, "%d|%d|", e.Ifindex(), e.AddrFamily)
	for _, ns := range e.Snapshot.Nameservers {
		fmt.Fprintf(sinkWriter{sink}, "%s,", ns.String())
	}
	sink.Write([]byte{'|'})
	for _, d := range e.MergedDomains.Search {
		fmt.Fprintf(sinkWriter{sink}, "%s,", d)
	}
	sink.Write([]byte{'|'})
	for _, d := range e.MergedDomains.Reverse {
		fmt.Fprintf(sinkWriter{sink}, "%s,", d)
	}
}

type sinkWriter struct{ s dnsbackend.FingerprintSink }

func (w sinkWriter) Write(p []byte) (int, error) {
	w.s.Write(p)
	return len(p), nil
}

// Update pushes every entry's link-scoped DNS configuration to resolved
// via SetLinkDNS/SetLinkDomains/SetLinkDefaultRoute, in precedence order.
// A per-link failure is reported as a dnscycle.UpdateError of kind
// KindFailed, since resolved's actual link state after a partial failure
// is not known without a further round-trip.
func (b *Backend) Update(data dnsbackend.UpdateData) error {
	if b.conn == nil {
		return &dnscycle.UpdateError{Kind: dnscycle.KindFailed, Err: fmt.Errorf("dnsresolved: no bus connection")}
	}
	b.pending.Store(true)
	defer b.pending.Store(false)

	byIfindex := map[int][]*dnsstore.Entry{}
	var ifindexOrder []int
	for _, e := range data.Entries {
		if len(e.Snapshot.Nameservers) == 0 {
			continue
		}
		if _, seen := byIfindex[e.Ifindex()]; !seen {
			ifindexOrder = append(ifindexOrder, e.Ifindex())
		}
		byIfindex[e.Ifindex()] = append(byIfindex[e.Ifindex()], e)
	}

	obj := b.conn.Object(busName, objectPath)

	for _, ifindex := range ifindexOrder {
		entries := byIfindex[ifindex]
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		err := b.updateLink(ctx, obj, ifindex, entries)
		cancel()
		if err != nil {
			return &dnscycle.UpdateError{Kind: dnscycle.KindFailed, Err: err}
		}
		b.mu.Lock()
		b.knownLinks[ifindex] = true
		b.mu.Unlock()
	}
	return nil
}

func (b *Backend) updateLink(ctx context.Context, obj dbus.BusObject, ifindex int, entries []*dnsstore.Entry) error {
	var nameservers []linkNameserver
	var domains []linkDomain
	defaultRoute := false

	for _, e := range entries {
		for _, ns := range e.Snapshot.Nameservers {
			if ip4 := ns.To4(); ip4 != nil {
				nameservers = append(nameservers, linkNameserver{Family: 2, Address: []byte(ip4)})
			} else {
				nameservers = append(nameservers, linkNameserver{Family: 10, Address: []byte(ns.To16())})
			}
		}
		for _, d := range e.MergedDomains.Search {
			domains = append(domains, linkDomain{Domain: d, RoutingOnly: !e.MergedDomains.HasDefaultRoute})
		}
		for _, d := range e.MergedDomains.Reverse {
			domains = append(domains, linkDomain{Domain: d, RoutingOnly: true})
		}
		if e.MergedDomains.HasDefaultRoute {
			defaultRoute = true
		}
	}

	if err := obj.CallWithContext(ctx, "org.freedesktop.resolve1.Manager.SetLinkDNS", 0, int32(ifindex), nameservers).Store(); err != nil {
		return fmt.Errorf("SetLinkDNS(%d): %w", ifindex, err)
	}
	if err := obj.CallWithContext(ctx, "org.freedesktop.resolve1.Manager.SetLinkDomains", 0, int32(ifindex), domains).Store(); err != nil {
		return fmt.Errorf("SetLinkDomains(%d): %w", ifindex, err)
	}
	if err := obj.CallWithContext(ctx, "org.freedesktop.resolve1.Manager.SetLinkDefaultRoute", 0, int32(ifindex), defaultRoute).Store(); err != nil {
		return fmt.Errorf("SetLinkDefaultRoute(%d): %w", ifindex, err)
	}
	return nil
}

// Stop reverts every link this back-end configured, flushes resolved's
// caches, and closes the bus connection. Errors are swallowed: Stop runs
// during shutdown, when there is no one left to report to and nothing
// useful to retry.
func (b *Backend) Stop() {
	if b.conn == nil {
		return
	}
	b.mu.Lock()
	links := make([]int, 0, len(b.knownLinks))
	for ifindex := range b.knownLinks {
		links = append(links, ifindex)
	}
	b.knownLinks = make(map[int]bool)
	b.mu.Unlock()

	obj := b.conn.Object(busName, objectPath)
	for _, ifindex := range links {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		_ = obj.CallWithContext(ctx, "org.freedesktop.resolve1.Manager.RevertLink", 0, int32(ifindex)).Store()
		cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	_ = obj.CallWithContext(ctx, "org.freedesktop.resolve1.Manager.FlushCaches", 0).Store()
	b.conn.Close()
}
