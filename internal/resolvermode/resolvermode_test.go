package resolvermode

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolve_ExplicitNoneForcesUnmanaged(t *testing.T) {
	got := Resolve(Config{ConfiguredMode: "none", RCManager: "symlink"})
	if got != ModeUnmanaged {
		t.Fatalf("expected ModeUnmanaged, got %q", got)
	}
}

func TestResolve_ExplicitRCManagerIsHonored(t *testing.T) {
	got := Resolve(Config{RCManager: "file", ResolvConfPath: "/nonexistent/resolv.conf"})
	if got != ModeFile {
		t.Fatalf("expected ModeFile, got %q", got)
	}
}

func TestResolve_SystemdResolvedDNSModeForcesUnmanaged(t *testing.T) {
	got := Resolve(Config{DNSMode: DNSModeSystemdResolved})
	if got != ModeUnmanaged {
		t.Fatalf("expected ModeUnmanaged when systemd-resolved owns resolution, got %q", got)
	}
}

func TestResolve_AutoFallsBackToSymlinkWithNoHelpers(t *testing.T) {
	got := Resolve(Config{RCManager: "auto", AllowResolvconf: false, AllowNetconfig: false})
	if got != ModeSymlink {
		t.Fatalf("expected ModeSymlink fallback, got %q", got)
	}
}

func TestResolve_UnrecognizedRCManagerFallsBackToAuto(t *testing.T) {
	got := Resolve(Config{RCManager: "bogus-value", AllowResolvconf: false, AllowNetconfig: false})
	if got != ModeSymlink {
		t.Fatalf("expected an unrecognized rc-manager to fall back to auto-resolution, got %q", got)
	}
}

func TestOwnedByResolved_NonexistentPathIsFalse(t *testing.T) {
	if OwnedByResolved("/nonexistent/path/resolv.conf") {
		t.Fatal("expected a nonexistent path not to be reported as owned by resolved")
	}
}

func TestOwnedByResolved_SymlinkIntoResolvedTree(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resolv.conf")
	// The relative stub target a stock resolved installation leaves behind;
	// the link-target comparison must recognize it even though the target
	// does not exist here.
	if err := os.Symlink("../run/systemd/resolve/stub-resolv.conf", path); err != nil {
		t.Fatal(err)
	}
	if !OwnedByResolved(path) {
		t.Fatal("expected a symlink into systemd-resolved's tree to be reported as owned by resolved")
	}
}

func TestOwnedByResolved_ForeignSymlinkIsFalse(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "other.conf")
	if err := os.WriteFile(target, []byte("nameserver 1.1.1.1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "resolv.conf")
	if err := os.Symlink(target, path); err != nil {
		t.Fatal(err)
	}
	if OwnedByResolved(path) {
		t.Fatal("expected a symlink to an unrelated file not to be reported as owned by resolved")
	}
}

func TestResolve_AutoDetectsResolvedOwnedResolvConf(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resolv.conf")
	if err := os.Symlink("/run/systemd/resolve/stub-resolv.conf", path); err != nil {
		t.Fatal(err)
	}
	got := Resolve(Config{
		RCManager:       "auto",
		ResolvConfPath:  path,
		AllowResolvconf: false,
		AllowNetconfig:  false,
	})
	if got != ModeUnmanaged {
		t.Fatalf("expected auto-resolution to leave a resolved-owned file unmanaged, got %q", got)
	}
}
