// Command dplaned is the DNS resolution-plane manager: it owns the
// system's authoritative view of per-interface DNS configuration, merges
// it per the domain-merge rules of spec §4.2, and pushes the result to
// whichever local-cache back-end (systemd-resolved or dnsmasq) and
// resolver-file strategy the host is configured for.
//
// Grounded on the donor daemon's cmd/dplaned/main.go: flag parsing,
// signal-driven graceful shutdown, and systemd readiness notification are
// kept in the same shape, trimmed down from the donor's NAS/storage
// control surface to just this daemon's DNS responsibilities.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"dplaned/internal/audit"
	"dplaned/internal/config"
	"dplaned/internal/diagnostics"
	"dplaned/internal/dnsbackend"
	"dplaned/internal/dnsfile"
	"dplaned/internal/dnsmanager"
	"dplaned/internal/dnsmasqbackend"
	"dplaned/internal/dnsresolved"
	"dplaned/internal/resolvermode"
)

// globalConfig adapts a static *dnsbackend.GlobalDNSConfig (spec §3's
// optional operator override, currently fixed at start-up rather than
// reloadable) to the GlobalConfigProvider contract dnscycle and
// diagnostics both depend on.
type globalConfig struct {
	cfg *dnsbackend.GlobalDNSConfig
}

func (g globalConfig) GlobalDNSConfig() *dnsbackend.GlobalDNSConfig { return g.cfg }

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		log.Fatalf("dplaned: %v", err)
	}

	auditKey, err := audit.LoadOrCreateAuditKey(cfg.AuditKeyPath)
	if err != nil {
		log.Fatalf("dplaned: audit key: %v", err)
	}
	sink, err := audit.NewLogger(cfg.AuditLogPath)
	if err != nil {
		log.Fatalf("dplaned: audit log: %v", err)
	}
	auditLog := audit.NewBufferedLogger(sink, 100, 5*time.Second, auditKey)
	auditLog.Start()
	defer func() {
		auditLog.Stop()
		sink.Close()
	}()

	if err := auditLog.Log(audit.Event{CorrelationID: uuid.NewString(), Action: "daemon_start", Success: true}); err != nil {
		log.Printf("dplaned: audit daemon_start: %v", err)
	}

	global := globalConfig{} // no operator-supplied global override at start-up

	registry := dnsbackend.NewRegistry(cfg.WatchdogTimeout, func(name string) {
		log.Printf("dplaned: back-end %q latched update-pending past the watchdog timeout", name)
		if err := auditLog.Log(audit.Event{CorrelationID: uuid.NewString(), Action: "backend_failed", Detail: name, Success: false}); err != nil {
			log.Printf("dplaned: audit backend_failed: %v", err)
		}
	})

	if err := registerLocalCache(registry, cfg); err != nil {
		log.Fatalf("dplaned: registering local-cache back-end: %v", err)
	}

	mode := resolvermode.Resolve(cfg.ResolverModeConfig())
	log.Printf("dplaned: resolver-file mode resolved to %q", mode)

	if err := os.MkdirAll(cfg.RuntimeDir, 0755); err != nil {
		log.Fatalf("dplaned: runtime dir: %v", err)
	}
	writer := &dnsfile.Writer{
		Mode:           mode,
		ResolvConfPath: cfg.ResolvConfPath,
		RuntimeDir:     cfg.RuntimeDir,
	}
	registry.Register(dnsfile.New(writer))

	mgr := dnsmanager.New(registry, global)

	diag := diagnostics.New(cfg.ListenAddr, mgr, mode, cfg.Mode, global)
	mgr.Orchestrator.OnCycle(diag.PushCurrent)

	mgr.Seed()

	go func() {
		if err := diag.Serve(); err != nil && err != http.ErrServerClosed {
			log.Printf("dplaned: diagnostics server: %v", err)
		}
	}()

	watcher, err := watchResolverFile(cfg.ResolvConfPath)
	if err != nil {
		log.Printf("dplaned: fsnotify watch on %s: %v", cfg.ResolvConfPath, err)
	} else {
		defer watcher.Close()
	}

	if supported, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Printf("dplaned: sd_notify ready: %v", err)
	} else if !supported {
		log.Printf("dplaned: not running under systemd, skipping sd_notify")
	}

	stopWatchdog := startSystemdWatchdog()
	defer stopWatchdog()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	reresolve := func() {
		newMode := resolvermode.Resolve(cfg.ResolverModeConfig())
		if newMode == mode {
			return
		}
		log.Printf("dplaned: resolver-file mode changed %q -> %q", mode, newMode)
		mode = newMode
		writer.Mode = mode
		diag.SetMode(mode)
		mgr.Orchestrator.Run()
	}

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				reresolve()
				continue
			}
			log.Printf("dplaned: received %s, shutting down", sig)
			shutdown(mgr, diag, auditLog)
			return
		case ev, ok := <-watcherEvents(watcher):
			if !ok {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			reresolve()
		}
	}
}

// registerLocalCache registers the local-cache back-end (component E)
// first, per spec §5's fixed dispatch order (local-cache before
// file/helper), choosing systemd-resolved or dnsmasq per cfg.Mode.
func registerLocalCache(registry *dnsbackend.Registry, cfg *config.Config) error {
	switch cfg.Mode {
	case resolvermode.DNSModeDnsmasq:
		registry.Register(dnsmasqbackend.New(dnsmasqbackend.Config{
			Binary:     cfg.DnsmasqBinary,
			ConfigPath: cfg.DnsmasqConfigPath,
			PidFile:    cfg.DnsmasqPidFile,
			ListenAddr: cfg.DnsmasqListenAddr,
			Port:       cfg.DnsmasqPort,
		}))
		return nil
	case resolvermode.DNSModeSystemdResolved, resolvermode.DNSModeDefault:
		// In default mode, only adopt resolved when the resolver file's
		// link target / realpath / inode identity says resolved already
		// owns it; a reachable D-Bus service alone is not enough.
		if cfg.Mode == resolvermode.DNSModeDefault && !resolvermode.OwnedByResolved(cfg.ResolvConfPath) {
			return nil
		}
		backend, err := dnsresolved.New()
		if err != nil {
			if cfg.Mode == resolvermode.DNSModeSystemdResolved {
				return err
			}
			log.Printf("dplaned: systemd-resolved unavailable, running file/helper only: %v", err)
			return nil
		}
		registry.Register(backend)
		return nil
	default:
		// dnsconfd and none: no local-cache back-end, file/helper only.
		return nil
	}
}

// watchResolverFile watches the resolver file's parent directory (not
// the file itself, which mode switches may replace with a symlink or a
// fresh inode) for changes an external actor makes, so component G can
// re-resolve its mode without waiting for this daemon's own cycle.
func watchResolverFile(path string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := parentDir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			if i == 0 {
				return "/"
			}
			return path[:i]
		}
	}
	return "."
}

// watcherEvents returns w's event channel, or a nil channel (which
// blocks forever in a select) when watching could not be set up.
func watcherEvents(w *fsnotify.Watcher) chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}

// startSystemdWatchdog pings WATCHDOG=1 at half the interval systemd
// configured via WATCHDOG_USEC, if any; returns a stop func that is a
// no-op when no watchdog interval is configured.
func startSystemdWatchdog() func() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return func() {}
	}
	ticker := time.NewTicker(interval / 2)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
					log.Printf("dplaned: sd_notify watchdog: %v", err)
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}

func shutdown(mgr *dnsmanager.Manager, diag *diagnostics.Server, auditLog *audit.BufferedLogger) {
	daemon.SdNotify(false, daemon.SdNotifyStopping)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := diag.Shutdown(ctx); err != nil {
		log.Printf("dplaned: diagnostics shutdown: %v", err)
	}

	mgr.Stop()

	if err := auditLog.Log(audit.Event{CorrelationID: uuid.NewString(), Action: "daemon_stop", Success: true}); err != nil {
		log.Printf("dplaned: audit daemon_stop: %v", err)
	}
}
