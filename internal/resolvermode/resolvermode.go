// Package resolvermode implements component G: deciding, at init and on
// every reload, which strategy the file/helper back-end should use to
// manage the system resolver file (spec §4.7).
package resolvermode

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"unsafe"
)

// Mode is the resolver-file management strategy (spec §3 "Resolver-file
// mode").
type Mode string

const (
	ModeUnmanaged  Mode = "unmanaged"
	ModeImmutable  Mode = "immutable"
	ModeSymlink    Mode = "symlink"
	ModeFile       Mode = "file"
	ModeResolvconf Mode = "resolvconf"
	ModeNetconfig  Mode = "netconfig"
	ModeAuto       Mode = "auto"
	ModeUnknown    Mode = "unknown"
)

// DNSMode mirrors spec §6's "mode" property: which daemon, if any, owns
// name resolution.
type DNSMode string

const (
	DNSModeDefault         DNSMode = "default"
	DNSModeSystemdResolved DNSMode = "systemd-resolved"
	DNSModeDnsmasq         DNSMode = "dnsmasq"
	DNSModeDnsconfd        DNSMode = "dnsconfd"
	DNSModeNone            DNSMode = "none"
)

// wellKnownResolvedTargets are the closed list of paths spec §4.7 says to
// compare a symlink's target/realpath against when detecting that
// systemd-resolved already owns the system resolver file.
var wellKnownResolvedTargets = []string{
	"../run/systemd/resolve/stub-resolv.conf",
	"../run/systemd/resolve/resolv.conf",
	"/run/systemd/resolve/stub-resolv.conf",
	"/run/systemd/resolve/resolv.conf",
	"/usr/lib/systemd/resolv.conf",
	"/lib/systemd/resolv.conf",
}

// Config carries the operator-facing knobs that feed mode resolution
// (spec §4.7 steps 1-2), populated from internal/config.
type Config struct {
	// ConfiguredMode is the operator's "mode" flag: "" or "default" means
	// no override; "none" forces ModeUnmanaged.
	ConfiguredMode string

	// RCManager is the operator's "rc-manager" flag: auto, unmanaged,
	// immutable, symlink, file, resolvconf, netconfig, or "" for auto.
	RCManager string

	// DNSMode is the daemon's overall resolution-service mode, used by
	// the auto-resolution fallthrough (step 4).
	DNSMode DNSMode

	// ResolvConfPath is the system resolver file path (commonly
	// /etc/resolv.conf).
	ResolvConfPath string

	// AllowResolvconf and AllowNetconfig gate whether the auto-resolution
	// fallthrough may pick those helpers even if /sbin/resolvconf or
	// /sbin/netconfig is executable — some
	// builds disable them deliberately (spec §4.7 step 4).
	AllowResolvconf bool
	AllowNetconfig  bool
}

// Resolve computes the effective Mode per spec §4.7. It is safe to call
// repeatedly (e.g. on every reload triggered by an fsnotify event on the
// resolver file's parent directory).
func Resolve(cfg Config) Mode {
	if cfg.ConfiguredMode == "none" {
		return ModeUnmanaged
	}

	switch Mode(strings.ToLower(cfg.RCManager)) {
	case ModeUnmanaged, ModeImmutable, ModeSymlink, ModeFile, ModeResolvconf, ModeNetconfig:
		if m := overrideForImmutable(cfg.ResolvConfPath, Mode(strings.ToLower(cfg.RCManager))); m != "" {
			return m
		}
		return Mode(strings.ToLower(cfg.RCManager))
	case "", ModeAuto:
		// fall through to auto-resolution below
	default:
		// ConfigMalformed (spec §7): an unrecognized rc-manager value
		// falls back to auto; no warning is logged for it.
	}

	if m := overrideForImmutable(cfg.ResolvConfPath, ModeAuto); m != "" {
		return m
	}

	switch cfg.DNSMode {
	case DNSModeSystemdResolved, DNSModeDnsconfd:
		return ModeUnmanaged
	}

	// Even without an explicit DNS mode, a resolver file that already
	// points into systemd-resolved's tree belongs to that service, not to
	// us.
	if OwnedByResolved(cfg.ResolvConfPath) {
		return ModeUnmanaged
	}

	if cfg.AllowResolvconf && isExecutable("/sbin/resolvconf") {
		return ModeResolvconf
	}
	if cfg.AllowNetconfig && isExecutable("/sbin/netconfig") {
		return ModeNetconfig
	}
	return ModeSymlink
}

// overrideForImmutable implements spec §4.7 step 3: a regular file with
// the immutable attribute set always forces ModeImmutable, regardless of
// what the operator or auto-resolution otherwise picked.
func overrideForImmutable(path string, fallback Mode) Mode {
	if path == "" {
		return ""
	}
	fi, err := os.Lstat(path)
	if err != nil || fi.Mode()&os.ModeSymlink != 0 || !fi.Mode().IsRegular() {
		return ""
	}
	if isImmutable(path) {
		return ModeImmutable
	}
	return ""
}

// isImmutable queries the file's extended attributes via FS_IOC_GETFLAGS
// for the immutable bit (FS_IMMUTABLE_FL). Any error (unsupported
// filesystem, permission denied) is treated as "not immutable" — the
// normal write path will surface the real FileSystem error if one exists.
func isImmutable(path string) bool {
	const (
		fsIOCGetFlags = 0x80086601
		fsImmutableFl = 0x00000010
	)
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	var flags int32
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, f.Fd(), uintptr(fsIOCGetFlags), uintptr(unsafe.Pointer(&flags)))
	if errno != 0 {
		return false
	}
	return flags&fsImmutableFl != 0
}

// OwnedByResolved detects whether path is already managed by
// systemd-resolved by comparing its symlink target, realpath, and
// st_dev/st_ino identity against the closed list of well-known paths
// (spec §4.7 "Detection that the system file is already owned by
// systemd-resolved").
func OwnedByResolved(path string) bool {
	target, err := os.Readlink(path)
	if err == nil {
		for _, known := range wellKnownResolvedTargets {
			if target == known || filepath.Clean(target) == filepath.Clean(known) {
				return true
			}
		}
	}

	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return false
	}
	var pathStat, realStat syscall.Stat_t
	if err := syscall.Stat(real, &realStat); err != nil {
		return false
	}
	for _, known := range wellKnownResolvedTargets {
		if err := syscall.Stat(known, &pathStat); err != nil {
			continue
		}
		if pathStat.Dev == realStat.Dev && pathStat.Ino == realStat.Ino {
			return true
		}
	}
	return false
}

func isExecutable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return false
	}
	return fi.Mode()&0111 != 0
}
