package dnsfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dplaned/internal/cmdutil"
	"dplaned/internal/resolvermode"
)

const (
	header = "# Generated by dplaned. Do not edit.\n" +
		"# Your changes will be overwritten.\n\n"

	searchLineLimit = 256
)

// Render formats a FlatState as the contents of a resolv.conf-style file
// (spec §4.6 "Resolver-file formatting rules"):
//   - a header comment warning that the file is managed
//   - one "nameserver" line per server, commented out past the third
//   - one "search" line, folded so no physical line exceeds 256 chars
//   - one "options" line, with internal "_"-prefixed sentinels hidden
func Render(fs FlatState) string {
	var b strings.Builder
	b.WriteString(header)

	for i, ns := range fs.Nameservers {
		if i < 3 {
			fmt.Fprintf(&b, "nameserver %s\n", ns)
		} else {
			fmt.Fprintf(&b, "# nameserver %s (ignored: resolver accepts at most 3)\n", ns)
		}
	}

	if len(fs.Searches) > 0 {
		for _, line := range foldSearchLines(fs.Searches) {
			fmt.Fprintf(&b, "search %s\n", line)
		}
	}

	if opts := visibleOptions(fs.Options); len(opts) > 0 {
		fmt.Fprintf(&b, "options %s\n", strings.Join(opts, " "))
	}

	return b.String()
}

// foldSearchLines splits the domain list across as many "search" lines as
// needed to keep each physical line at or under searchLineLimit characters
// (prefix "search " included), never splitting a single domain.
func foldSearchLines(domains []string) []string {
	var lines []string
	var cur []string
	curLen := len("search ")
	for _, d := range domains {
		add := len(d) + 1
		if len(cur) > 0 && curLen+add > searchLineLimit {
			lines = append(lines, strings.Join(cur, " "))
			cur = nil
			curLen = len("search ")
		}
		cur = append(cur, d)
		curLen += add
	}
	if len(cur) > 0 {
		lines = append(lines, strings.Join(cur, " "))
	}
	return lines
}

// Writer owns the system resolver file and its always-on private copies
// (spec §4.6). It is the realization of component F.
type Writer struct {
	Mode            resolvermode.Mode
	ResolvConfPath  string
	RuntimeDir      string
	RCManagerBinary string // override for tests; defaults to /sbin/<mode>
}

// privateCopyPaths returns the two private copies dplaned always keeps up
// to date under its runtime directory, independent of the active resolver
// mode, so diagnostics and other local tools can see what it computed
// even when the real file is immutable or owned by another manager.
func (w *Writer) privateCopyPaths() (resolvConf, noStub string) {
	return filepath.Join(w.RuntimeDir, "resolv.conf"),
		filepath.Join(w.RuntimeDir, "no-stub-resolv.conf")
}

// Write applies fs through the writer's configured strategy, and always
// refreshes the private copies first so they never lag behind a failed or
// skipped system-file write.
func (w *Writer) Write(fs, noStubFs FlatState) error {
	resolvConf, noStub := w.privateCopyPaths()
	if err := atomicWrite(resolvConf, Render(fs)); err != nil {
		return fmt.Errorf("dnsfile: write private copy: %w", err)
	}
	if err := atomicWrite(noStub, Render(noStubFs)); err != nil {
		return fmt.Errorf("dnsfile: write private no-stub copy: %w", err)
	}

	switch w.Mode {
	case resolvermode.ModeUnmanaged, resolvermode.ModeImmutable:
		return nil
	case resolvermode.ModeSymlink:
		return w.writeSymlink(fs)
	case resolvermode.ModeFile:
		return atomicWrite(w.systemFileTarget(), Render(fs))
	case resolvermode.ModeResolvconf:
		return w.writeResolvconf(fs)
	case resolvermode.ModeNetconfig:
		return w.writeNetconfig(fs)
	default:
		return atomicWrite(w.ResolvConfPath, Render(fs))
	}
}

// systemFileTarget resolves the path the direct-file strategy should
// write through: the realpath of the system resolver file, or — when the
// file is a dangling symlink realpath cannot resolve — the link's own
// target, so the write lands where the administrator pointed the link.
func (w *Writer) systemFileTarget() string {
	real, err := filepath.EvalSymlinks(w.ResolvConfPath)
	if err == nil {
		return real
	}
	target, lerr := os.Readlink(w.ResolvConfPath)
	if lerr != nil {
		return w.ResolvConfPath
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(w.ResolvConfPath), target)
	}
	return target
}

// writeSymlink manages the system resolver file in symlink mode: a
// missing file or regular file receives the rendered content directly;
// a symlink owned by someone else is never touched; a symlink already
// pointing at the private copy is re-pointed via symlink+rename so
// inotify watchers on the system file observe a change event even though
// the link target is unchanged.
func (w *Writer) writeSymlink(fs FlatState) error {
	resolvConf, _ := w.privateCopyPaths()

	fi, err := os.Lstat(w.ResolvConfPath)
	if err != nil || fi.Mode()&os.ModeSymlink == 0 {
		return atomicWrite(w.ResolvConfPath, Render(fs))
	}

	target, err := os.Readlink(w.ResolvConfPath)
	if err != nil || target != resolvConf {
		// Someone else's symlink; not ours to re-point.
		return nil
	}

	dir := filepath.Dir(w.ResolvConfPath)
	tmp, err := os.CreateTemp(dir, ".dplaned-symlink-*")
	if err != nil {
		return fmt.Errorf("dnsfile: create symlink tmp: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	os.Remove(tmpPath)

	if err := os.Symlink(resolvConf, tmpPath); err != nil {
		return fmt.Errorf("dnsfile: symlink: %w", err)
	}
	if err := os.Rename(tmpPath, w.ResolvConfPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("dnsfile: rename symlink into place: %w", err)
	}
	return nil
}

// writeResolvconf feeds the rendered body to "resolvconf -a dplaned" over
// stdin, the Debian/Ubuntu resolvconf helper's interface contract, and
// tears the entry down with "resolvconf -d" when the state carries no
// nameservers and no search domains.
func (w *Writer) writeResolvconf(fs FlatState) error {
	bin := w.RCManagerBinary
	if bin == "" {
		bin = "/sbin/resolvconf"
	}
	if len(fs.Nameservers) == 0 && len(fs.Searches) == 0 {
		_, err := cmdutil.RunFast(bin, "-d", "dplaned")
		return err
	}
	_, err := cmdutil.RunWithStdin(cmdutil.TimeoutHelper, Render(fs), bin, "-a", "dplaned")
	if err != nil {
		return fmt.Errorf("dnsfile: resolvconf -a: %w", err)
	}
	return nil
}

// writeNetconfig feeds a keyed stdin payload to "netconfig modify", the
// SUSE/openSUSE netconfig helper's interface contract. Unlike resolvconf,
// netconfig does not take a resolv.conf body; it takes its own
// KEY='value' assignments.
func (w *Writer) writeNetconfig(fs FlatState) error {
	bin := w.RCManagerBinary
	if bin == "" {
		bin = "/sbin/netconfig"
	}
	_, err := cmdutil.RunWithStdin(cmdutil.TimeoutHelper, netconfigPayload(fs), bin, "modify", "--service", "dplaned")
	if err != nil {
		return fmt.Errorf("dnsfile: netconfig modify: %w", err)
	}
	return nil
}

// netconfigPayload renders the keyed assignments netconfig reads from
// stdin. Keys with no content are omitted entirely rather than sent
// empty, matching the helper's own treatment of unset variables.
func netconfigPayload(fs FlatState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INTERFACE='dplaned'\n")
	if len(fs.Searches) > 0 {
		fmt.Fprintf(&b, "DNSSEARCH='%s'\n", strings.Join(fs.Searches, " "))
	}
	if len(fs.Nameservers) > 0 {
		fmt.Fprintf(&b, "DNSSERVERS='%s'\n", strings.Join(fs.Nameservers, " "))
	}
	if fs.NISDomain != "" {
		fmt.Fprintf(&b, "NISDOMAIN='%s'\n", fs.NISDomain)
	}
	if len(fs.NISServers) > 0 {
		fmt.Fprintf(&b, "NISSERVERS='%s'\n", strings.Join(fs.NISServers, " "))
	}
	return b.String()
}

// Teardown removes dplaned's contribution from the system resolver file on
// shutdown. For resolvconf/netconfig this calls the helper's own removal
// verb; for file/symlink modes it restores upstreamFallback (the last
// known-good set of real, non-loopback nameservers) so clients are not
// left pointing at a cache that is about to stop listening (spec §4.6
// "Shutdown").
func (w *Writer) Teardown(upstreamFallback FlatState) error {
	switch w.Mode {
	case resolvermode.ModeResolvconf:
		bin := w.RCManagerBinary
		if bin == "" {
			bin = "/sbin/resolvconf"
		}
		_, err := cmdutil.RunFast(bin, "-d", "dplaned")
		return err
	case resolvermode.ModeNetconfig:
		bin := w.RCManagerBinary
		if bin == "" {
			bin = "/sbin/netconfig"
		}
		_, err := cmdutil.RunFast(bin, "remove", "--service", "dplaned")
		return err
	case resolvermode.ModeFile, resolvermode.ModeSymlink:
		return w.Write(upstreamFallback, upstreamFallback)
	default:
		return nil
	}
}

// atomicWrite writes content to path via a temp file in the same
// directory followed by a rename, so readers never observe a partial
// resolver file.
func atomicWrite(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".dplaned-resolv-*.tmp")
	if err != nil {
		return fmt.Errorf("create tmp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write tmp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close tmp: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod tmp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
