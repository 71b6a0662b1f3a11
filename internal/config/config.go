// Package config defines dplaned's flag-driven configuration, in the
// same flat flag.String style the donor's main.go uses for its own
// daemon-wide settings.
package config

import (
	"flag"
	"fmt"
	"time"

	"dplaned/internal/resolvermode"
)

// Config holds every operator-facing knob this daemon reads at start-up.
// It never changes after Parse returns; main's SIGHUP reload re-resolves
// the resolver-file mode from this same Config and does not re-parse it.
type Config struct {
	// Mode is spec §6's "mode" property: which resolution service, if
	// any, owns name resolution on this host.
	Mode resolvermode.DNSMode

	// RCManager is the operator's resolver-file management override
	// ("auto" lets internal/resolvermode decide).
	RCManager string

	ResolvConfPath string
	RuntimeDir     string

	AllowResolvconf bool
	AllowNetconfig  bool

	DnsmasqBinary     string
	DnsmasqConfigPath string
	DnsmasqPidFile    string
	DnsmasqListenAddr string
	DnsmasqPort       int

	AuditLogPath string
	AuditKeyPath string

	ListenAddr string // diagnostics HTTP/WS listen address

	WatchdogTimeout time.Duration
}

// Parse builds a Config from args (normally os.Args[1:]), applying the
// same defaults spec §3/§6 describes for an unconfigured host.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("dplaned", flag.ContinueOnError)

	mode := fs.String("dns-mode", "default", "name resolution mode: default|systemd-resolved|dnsmasq|dnsconfd|none")
	rcManager := fs.String("rc-manager", "auto", "resolver-file management strategy: auto|unmanaged|immutable|symlink|file|resolvconf|netconfig")
	resolvConfPath := fs.String("resolv-conf", "/etc/resolv.conf", "path to the system resolver file")
	runtimeDir := fs.String("runtime-dir", "/run/dplaned", "directory for dplaned's private resolver-file copies")
	allowResolvconf := fs.Bool("allow-resolvconf", true, "allow auto-resolution to pick the resolvconf helper")
	allowNetconfig := fs.Bool("allow-netconfig", true, "allow auto-resolution to pick the netconfig helper")

	dnsmasqBinary := fs.String("dnsmasq-binary", "dnsmasq", "path to the dnsmasq binary, when dns-mode=dnsmasq")
	dnsmasqConfigPath := fs.String("dnsmasq-config", "/run/dplaned/dnsmasq.conf", "path to write the generated dnsmasq config")
	dnsmasqPidFile := fs.String("dnsmasq-pid-file", "/run/dplaned/dnsmasq.pid", "dnsmasq pid file")
	dnsmasqListenAddr := fs.String("dnsmasq-listen", "127.0.0.1", "address dnsmasq listens on")
	dnsmasqPort := fs.Int("dnsmasq-port", 53, "port dnsmasq listens on")

	auditLogPath := fs.String("audit-log", "/var/log/dplaned/audit.jsonl", "path to the hash-chained audit log")
	auditKeyPath := fs.String("audit-key", "/var/lib/dplaned/audit.key", "path to the audit log's HMAC key file")

	listenAddr := fs.String("listen", "127.0.0.1:9953", "diagnostics HTTP/WS listen address")

	watchdogTimeout := fs.Duration("watchdog-timeout", 5*time.Second, "maximum time a back-end may report update-pending before the watchdog latches it false")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	dnsMode := resolvermode.DNSMode(*mode)
	switch dnsMode {
	case resolvermode.DNSModeDefault, resolvermode.DNSModeSystemdResolved, resolvermode.DNSModeDnsmasq, resolvermode.DNSModeDnsconfd, resolvermode.DNSModeNone:
	default:
		return nil, fmt.Errorf("config: unrecognized -dns-mode %q", *mode)
	}

	return &Config{
		Mode:              dnsMode,
		RCManager:         *rcManager,
		ResolvConfPath:    *resolvConfPath,
		RuntimeDir:        *runtimeDir,
		AllowResolvconf:   *allowResolvconf,
		AllowNetconfig:    *allowNetconfig,
		DnsmasqBinary:     *dnsmasqBinary,
		DnsmasqConfigPath: *dnsmasqConfigPath,
		DnsmasqPidFile:    *dnsmasqPidFile,
		DnsmasqListenAddr: *dnsmasqListenAddr,
		DnsmasqPort:       *dnsmasqPort,
		AuditLogPath:      *auditLogPath,
		AuditKeyPath:      *auditKeyPath,
		ListenAddr:        *listenAddr,
		WatchdogTimeout:   *watchdogTimeout,
	}, nil
}

// ResolverModeConfig projects the fields internal/resolvermode.Resolve
// needs out of Config.
func (c *Config) ResolverModeConfig() resolvermode.Config {
	return resolvermode.Config{
		ConfiguredMode:  string(c.Mode),
		RCManager:       c.RCManager,
		DNSMode:         c.Mode,
		ResolvConfPath:  c.ResolvConfPath,
		AllowResolvconf: c.AllowResolvconf,
		AllowNetconfig:  c.AllowNetconfig,
	}
}
