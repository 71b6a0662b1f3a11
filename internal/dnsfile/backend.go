package dnsfile

import (
	"fmt"
	"sync"
	"sync/atomic"

	"dplaned/internal/dnsbackend"
	"dplaned/internal/dnscycle"
	"dplaned/internal/dnsstore"
)

// Backend is the file/helper realization of component F: it assembles the
// flat resolver state and writes it through whatever strategy
// internal/resolvermode picked for this host.
type Backend struct {
	writer *Writer

	pending atomic.Bool

	mu                      sync.Mutex
	lastReal                FlatState
	resolverDependsOnDaemon bool
}

// New wraps w as a dnsbackend.Backend.
func New(w *Writer) *Backend {
	return &Backend{writer: w}
}

func (b *Backend) Name() string          { return "file-helper" }
func (b *Backend) Kind() dnsbackend.Kind { return dnsbackend.KindFileHelper }
func (b *Backend) IsCaching() bool       { return false }
func (b *Backend) UpdatePending() bool   { return b.pending.Load() }

// Fingerprint contributes every field the flat-state assembly consumes:
// nameservers, WINS servers, merged search/reverse domains, NIS settings,
// resolver options, the contributing entry's IP-config type and priority. Unlike the
// local-cache back-ends, this one does care about NIS and priority since
// they change what gets written to disk.
func (b *Backend) Fingerprint(e *dnsstore.Entry, sink dnsbackend.FingerprintSink) {
	w := sinkWriter{sink}
	fmt.Fprintf(w, "%d|%d|%d|%d|", e.Ifindex(), e.AddrFamily, e.Type, e.Priority())
	for _, ns := range e.Snapshot.Nameservers {
		fmt.Fprintf(w, "%s,", ns.String())
	}
	sink.Write([]byte{'|'})
	for _, d := range e.MergedDomains.Search {
		fmt.Fprintf(w, "%s,", d)
	}
	sink.Write([]byte{'|'})
	for _, d := range e.MergedDomains.Reverse {
		fmt.Fprintf(w, "%s,", d)
	}
	sink.Write([]byte{'|'})
	for _, ns := range e.Snapshot.WINSServers {
		fmt.Fprintf(w, "%s,", ns.String())
	}
	fmt.Fprintf(w, "|%s|", e.Snapshot.NISDomain)
	for _, ns := range e.Snapshot.NISServers {
		fmt.Fprintf(w, "%s,", ns.String())
	}
	sink.Write([]byte{'|'})
	for _, o := range e.Snapshot.Options {
		fmt.Fprintf(w, "%s,", o)
	}
}

type sinkWriter struct{ s dnsbackend.FingerprintSink }

func (w sinkWriter) Write(p []byte) (int, error) {
	w.s.Write(p)
	return len(p), nil
}

// Update assembles the flat state, substitutes a loopback nameserver when
// the local-cache back-end reports success this cycle, and writes both
// the system resolver file and its always-current private copies (spec
// §4.6). Failures are reported as KindFailed: the on-disk state after a
// partial write is not trustworthy without rereading it.
func (b *Backend) Update(data dnsbackend.UpdateData) error {
	b.pending.Store(true)
	defer b.pending.Store(false)

	real := Assemble(data.Entries, data.HostDomain, data.Global)

	b.mu.Lock()
	b.lastReal = real
	b.resolverDependsOnDaemon = data.ResolverDependsOnDaemon
	b.mu.Unlock()

	out := real
	if data.CachingSuccessful {
		out = real.SubstituteLoopback(data.ResolvedInUse)
	}

	if err := b.writer.Write(out, real); err != nil {
		return &dnscycle.UpdateError{Kind: dnscycle.KindFailed, Err: err}
	}
	return nil
}

// Stop hands the last known real (non-loopback) upstream state to
// Writer.Teardown, if this host's configuration depends on dplaned for
// name resolution. In file and symlink modes that rewrites the system
// resolver file and both private copies; in resolvconf and netconfig
// modes it removes dplaned's helper entry.
func (b *Backend) Stop() {
	b.mu.Lock()
	real := b.lastReal
	depends := b.resolverDependsOnDaemon
	b.mu.Unlock()

	if !depends {
		return
	}
	_ = b.writer.Teardown(real)
}
