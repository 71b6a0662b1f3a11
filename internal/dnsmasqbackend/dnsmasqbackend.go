// Package dnsmasqbackend implements the dnsmasq realization of the
// local-cache back-end (component E): a managed dnsmasq child process,
// reconfigured and reloaded every update cycle, listening on loopback so
// the file/helper back-end can point the system resolver file at it
// (spec §4.4).
package dnsmasqbackend

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"dplaned/internal/dnsbackend"
	"dplaned/internal/dnscycle"
	"dplaned/internal/dnsfile"
	"dplaned/internal/dnsfingerprint"
	"dplaned/internal/dnsstore"
)

// Config carries the operator-facing knobs for the managed child.
type Config struct {
	Binary     string // defaults to "dnsmasq"
	ConfigPath string // where the generated config is written
	PidFile    string
	ListenAddr string // defaults to 127.0.0.1
	Port       int    // defaults to 53
}

// Backend supervises one dnsmasq child process.
type Backend struct {
	cfg Config

	pending atomic.Bool

	mu      sync.Mutex
	cmd     *exec.Cmd
	stopped bool

	limiter *dnsfingerprint.RestartLimiter

	supervisorDone chan struct{}
}

// New creates a dnsmasq back-end. The child is not started until the
// first Update call needs it.
func New(cfg Config) *Backend {
	if cfg.Binary == "" {
		cfg.Binary = "dnsmasq"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 53
	}
	return &Backend{
		cfg:     cfg,
		limiter: dnsfingerprint.NewDefaultRestartLimiter(),
	}
}

func (b *Backend) Name() string          { return "dnsmasq" }
func (b *Backend) Kind() dnsbackend.Kind { return dnsbackend.KindDnsmasq }
func (b *Backend) IsCaching() bool       { return true }
func (b *Backend) UpdatePending() bool   { return b.pending.Load() }

// Fingerprint contributes the fields dnsmasq's config actually encodes:
// nameservers and merged search domains. NIS and per-link addressing
// details never reach the dnsmasq config, so they are deliberately left
// out, the same narrowing internal/dnsresolved applies for its own
// irrelevant fields (spec §4.3 "per-back-end, not global").
func (b *Backend) Fingerprint(e *dnsstore.Entry, sink dnsbackend.FingerprintSink) {
	w := sinkWriter{sink}
	for _, ns := range e.Snapshot.Nameservers {
		fmt.Fprintf(w, "%s,", ns.String())
	}
	sink.Write([]byte{'|'})
	for _, d := range e.MergedDomains.Search {
		fmt.Fprintf(w, "%s,", d)
	}
}

type sinkWriter struct{ s dnsbackend.FingerprintSink }

func (w sinkWriter) Write(p []byte) (int, error) {
	w.s.Write(p)
	return len(p), nil
}

// Update regenerates dnsmasq's config from the same flat state
// internal/dnsfile assembles (SPEC_FULL §4 supplemented feature 3) and
// reloads or (re)starts the child as needed.
func (b *Backend) Update(data dnsbackend.UpdateData) error {
	b.pending.Store(true)
	defer b.pending.Store(false)

	real := dnsfile.Assemble(data.Entries, data.HostDomain, data.Global)
	content := renderConfig(b.cfg, real)

	if err := writeFile(b.cfg.ConfigPath, content); err != nil {
		return &dnscycle.UpdateError{Kind: dnscycle.KindFailed, Err: fmt.Errorf("dnsmasqbackend: write config: %w", err)}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cmd == nil || b.cmd.Process == nil {
		if err := b.startLocked(); err != nil {
			return &dnscycle.UpdateError{Kind: dnscycle.KindFailed, Err: err}
		}
		return nil
	}

	if err := b.cmd.Process.Signal(syscall.SIGHUP); err != nil {
		return &dnscycle.UpdateError{Kind: dnscycle.KindTransient, Err: fmt.Errorf("dnsmasqbackend: reload signal: %w", err)}
	}
	return nil
}

// startLocked spawns the dnsmasq child and arms a supervisor goroutine
// that watches for an unexpected exit. Callers must hold b.mu.
func (b *Backend) startLocked() error {
	args := []string{
		"--keep-in-foreground",
		"--no-daemon",
		"--conf-file=" + b.cfg.ConfigPath,
		fmt.Sprintf("--listen-address=%s", b.cfg.ListenAddr),
		fmt.Sprintf("--port=%d", b.cfg.Port),
	}
	if b.cfg.PidFile != "" {
		args = append(args, "--pid-file="+b.cfg.PidFile)
	}

	cmd := exec.Command(b.cfg.Binary, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("dnsmasqbackend: start %s: %w", b.cfg.Binary, err)
	}
	b.cmd = cmd
	b.supervisorDone = make(chan struct{})
	go b.supervise(cmd, b.supervisorDone)
	return nil
}

// supervise waits for the child to exit. An exit that wasn't requested by
// Stop is treated as a crash: respawn is attempted, gated by this
// back-end's own moving-window restart limiter (spec §4.3).
func (b *Backend) supervise(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	close(done)

	b.mu.Lock()
	stopped := b.stopped
	if cmd == b.cmd {
		b.cmd = nil
	}
	b.mu.Unlock()

	if stopped {
		return
	}
	log.Printf("dnsmasqbackend: child exited unexpectedly: %v", err)

	if !b.limiter.Allow("dnsmasq", time.Now()) {
		log.Printf("dnsmasqbackend: %s", dnsfingerprint.CooldownReason("dnsmasq", dnsfingerprint.DefaultMaxRestarts, dnsfingerprint.DefaultRestartWindow))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	if err := b.startLocked(); err != nil {
		log.Printf("dnsmasqbackend: respawn failed: %v", err)
	}
}

// Stop terminates the managed child, if running, and waits for the
// supervisor goroutine to notice so Stop never returns while the process
// is still exiting.
func (b *Backend) Stop() {
	b.mu.Lock()
	b.stopped = true
	cmd := b.cmd
	done := b.supervisorDone
	b.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	if done != nil {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			_ = cmd.Process.Kill()
		}
	}
}

// writeFile writes content to path via a temp file in the same directory
// followed by a rename, the same atomic-publish pattern
// internal/dnsfile.atomicWrite uses for the resolver file.
func writeFile(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".dnsmasq-conf-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
